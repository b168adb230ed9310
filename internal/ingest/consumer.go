package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/rabbitmq/amqp091-go"
	"github.com/seabreeze-yc/clubinbox/internal/models"
	"github.com/seabreeze-yc/clubinbox/internal/services"
)

const (
	handleTimeout       = 10 * time.Second
	initialBackoff      = time.Second
	maxBackoff          = time.Minute
	defaultRequeueDelay = 2 * time.Second
)

type notificationCreator interface {
	Create(ctx context.Context, input models.CreateNotificationInput) (*models.Notification, error)
}

type Options struct {
	URL        string
	Exchange   string
	Queue      string
	BindingKey string
	Prefetch   int

	// RequeueDelay is the wait before a delivery that failed to store goes
	// back to the queue. It doubles while failures continue.
	RequeueDelay time.Duration
}

// Consumer reads business events from a durable queue bound to a topic
// exchange. Deliveries are acked only after every notification for the event
// is stored; redelivery is safe because the event id is a dedup key.
type Consumer struct {
	opts    Options
	creator notificationCreator
	logger  *log.Logger

	// consecutive store failures; handle runs on one goroutine
	failures int
}

func NewConsumer(opts Options, creator notificationCreator, logger *log.Logger) *Consumer {
	if opts.Prefetch <= 0 {
		opts.Prefetch = 16
	}
	if opts.BindingKey == "" {
		opts.BindingKey = "#"
	}
	if opts.RequeueDelay <= 0 {
		opts.RequeueDelay = defaultRequeueDelay
	}
	return &Consumer{
		opts:    opts,
		creator: creator,
		logger:  logger,
	}
}

// Run consumes until ctx is done, reconnecting with exponential backoff
// whenever the broker goes away.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := initialBackoff
	for {
		err := c.consume(ctx, func() { backoff = initialBackoff })
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.logger.Warn("event ingest disconnected", "err", err, "retry_in", backoff)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *Consumer) consume(ctx context.Context, connected func()) error {
	conn, err := amqp091.Dial(c.opts.URL)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(c.opts.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if err := ch.Qos(c.opts.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	queue, err := ch.QueueDeclare(c.opts.Queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(queue.Name, c.opts.BindingKey, c.opts.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	deliveries, err := ch.Consume(queue.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	closed := conn.NotifyClose(make(chan *amqp091.Error, 1))

	connected()
	c.logger.Info("event ingest started", "queue", queue.Name, "exchange", c.opts.Exchange, "binding", c.opts.BindingKey)

	for {
		select {
		case <-ctx.Done():
			return nil
		case amqpErr := <-closed:
			if amqpErr == nil {
				return errors.New("connection closed")
			}
			return amqpErr
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.handle(ctx, delivery)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, delivery amqp091.Delivery) {
	envelope, err := Decode(delivery.Body)
	if err != nil {
		c.logger.Warn("dropping poison event", "routing_key", delivery.RoutingKey, "err", err)
		_ = delivery.Ack(false)
		return
	}
	if envelope.Meta.Type == "" {
		envelope.Meta.Type = delivery.RoutingKey
	}

	inputs, err := Translate(envelope)
	if err != nil {
		if errors.Is(err, ErrUnsupportedEvent) {
			c.logger.Debug("ignoring event", "event_id", envelope.Meta.ID, "type", envelope.Meta.Type)
		} else {
			c.logger.Warn("dropping poison event", "event_id", envelope.Meta.ID, "err", err)
		}
		_ = delivery.Ack(false)
		return
	}

	for _, input := range inputs {
		createCtx, cancel := context.WithTimeout(ctx, handleTimeout)
		_, err := c.creator.Create(createCtx, input)
		cancel()

		if errors.Is(err, services.ErrInvalidInput) {
			c.logger.Warn("dropping invalid notification", "event_id", envelope.Meta.ID, "scope", input.RecipientScope)
			continue
		}
		if err != nil {
			c.failures++
			delay := c.requeueDelay()
			c.logger.Error("store notification", "event_id", envelope.Meta.ID, "failures", c.failures, "requeue_in", delay, "err", err)
			c.waitBeforeRequeue(ctx, delay)
			_ = delivery.Nack(false, true)
			return
		}
	}

	c.failures = 0
	c.logger.Debug("event ingested", "event_id", envelope.Meta.ID, "type", envelope.Meta.Type, "notifications", len(inputs))
	_ = delivery.Ack(false)
}

// requeueDelay grows with consecutive failures so a dead database does not
// turn the queue into a hot redelivery loop.
func (c *Consumer) requeueDelay() time.Duration {
	delay := c.opts.RequeueDelay
	for i := 1; i < c.failures && delay < maxBackoff; i++ {
		delay *= 2
	}
	if delay > maxBackoff {
		delay = maxBackoff
	}
	return delay
}

func (c *Consumer) waitBeforeRequeue(ctx context.Context, delay time.Duration) {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
