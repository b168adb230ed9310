package events

import (
	"context"
	"testing"
)

type recordingHub struct {
	delivered []Envelope
}

func (h *recordingHub) Deliver(envelope Envelope) {
	h.delivered = append(h.delivered, envelope)
}

func TestLocalPublisherDeliversToHub(t *testing.T) {
	hub := &recordingHub{}
	publisher := NewLocalPublisher(hub)

	err := publisher.Publish(context.Background(), Envelope{
		Audience: Audience{Staff: true},
		Event:    Event{Type: NotificationCreated, Scope: "staff"},
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(hub.delivered) != 1 || hub.delivered[0].Event.Type != NotificationCreated {
		t.Fatalf("unexpected deliveries: %+v", hub.delivered)
	}
}

func TestNewRedisClientAcceptsURLAndAddress(t *testing.T) {
	for _, addr := range []string{"redis://localhost:6379/2", "cache:6379"} {
		rdb := NewRedisClient(addr)
		if rdb.Options().Addr == "" {
			t.Fatalf("NewRedisClient(%q) produced no address", addr)
		}
		_ = rdb.Close()
	}
}
