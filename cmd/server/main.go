package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/seabreeze-yc/clubinbox/internal/config"
	"github.com/seabreeze-yc/clubinbox/internal/database"
	"github.com/seabreeze-yc/clubinbox/internal/events"
	"github.com/seabreeze-yc/clubinbox/internal/ingest"
	"github.com/seabreeze-yc/clubinbox/internal/jobs"
	"github.com/seabreeze-yc/clubinbox/internal/logging"
	"github.com/seabreeze-yc/clubinbox/internal/routes"
	chatws "github.com/seabreeze-yc/clubinbox/internal/websocket"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// 1. Load Config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config", "err", err)
	}
	logger := logging.New(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to Database
	if cfg.DBUrl == "" {
		logger.Fatal("DB_URL is required")
	}
	poolSettings := database.DefaultPoolSettings()
	poolSettings.MaxConns = cfg.DBMaxConns
	poolSettings.MinConns = cfg.DBMinConns
	if err := database.ConnectDB(ctx, cfg.DBUrl, poolSettings, logger.WithPrefix("db")); err != nil {
		logger.Fatal("Failed to connect to database", "err", err)
	}
	defer database.CloseDB()

	// 3. Push fan-out
	group, groupCtx := errgroup.WithContext(ctx)

	hub := chatws.NewHub(logger.WithPrefix("hub"))
	go hub.Run(ctx)

	var publisher events.Publisher = events.NewLocalPublisher(hub)
	if cfg.FanOutEnabled() {
		broker := events.NewRedisBroker(events.NewRedisClient(cfg.RedisURL), cfg.RedisChannel, hub, logger.WithPrefix("redis"))
		publisher = broker
		group.Go(func() error {
			return broker.Run(groupCtx)
		})
	}

	svc := routes.NewServices(database.DB, publisher, logger)

	// 4. Background workers
	if cfg.IngestEnabled() {
		consumer := ingest.NewConsumer(ingest.Options{
			URL:        cfg.AMQPURL,
			Exchange:   cfg.AMQPExchange,
			Queue:      cfg.AMQPQueue,
			BindingKey: cfg.AMQPBindingKey,
			Prefetch:   cfg.AMQPPrefetch,
		}, svc.Notifications, logger.WithPrefix("ingest"))
		group.Go(func() error {
			return consumer.Run(groupCtx)
		})
	}

	scheduler := jobs.NewScheduler(logger.WithPrefix("jobs"))
	if err := scheduler.AddIdleResolver(cfg.IdleResolveSchedule, svc.Chat, cfg.IdleResolveAfter); err != nil {
		logger.Fatal("Failed to schedule idle resolver", "err", err)
	}
	scheduler.Start()

	// 5. Setup Fiber
	app := fiber.New(fiber.Config{DisableStartupMessage: !cfg.IsDevelopment()})
	app.Use(cors.New())
	app.Use(fiberlogger.New())
	app.Use(recover.New())

	if err := routes.RegisterRoutes(app, cfg, svc, hub); err != nil {
		logger.Fatal("Failed to register routes", "err", err)
	}

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		scheduler.Stop(shutdownCtx)
		return app.ShutdownWithContext(shutdownCtx)
	})

	// 6. Start Server
	logger.Info("Server starting", "port", cfg.Port, "fan_out", cfg.FanOutEnabled(), "ingest", cfg.IngestEnabled())
	if err := app.Listen(":" + cfg.Port); err != nil {
		logger.Error("Server stopped", "err", err)
		stop()
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Background worker failed", "err", err)
		os.Exit(1)
	}
}
