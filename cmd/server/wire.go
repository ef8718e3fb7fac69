package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"innkeep/cmd/server/config"
	httpapi "innkeep/internal/adapters/http"
	hoteldb "innkeep/internal/db/hotel"
	"innkeep/internal/delivery"
	"innkeep/internal/escalation"
	"innkeep/internal/events"
	"innkeep/internal/gateway"
	"innkeep/internal/mail"
	"innkeep/internal/memstore"
	"innkeep/internal/notification"
	"innkeep/internal/observability"
	"innkeep/internal/realtime"
	"innkeep/internal/refund"
	"innkeep/internal/stafflog"
)

// application is the fully wired refund and notification stack.
type application struct {
	initiator  *refund.Initiator
	dispatcher *notification.Dispatcher
	history    httpapi.RefundHistory
	queue      *escalation.BoltQueue
	hub        *realtime.Hub
}

type refundStore interface {
	refund.RecordStore
	httpapi.RefundHistory
}

type storage struct {
	bookings      refund.BookingStore
	users         notification.UserDirectory
	refunds       refundStore
	notifications notification.Store
	staffLog      stafflog.Store
	gateway       refund.Gateway
}

// buildApp wires every collaborator from cfg. The returned cleanup releases them in
// reverse order and is safe to call once.
func buildApp(ctx context.Context, cfg config.Config, logger zerolog.Logger, metrics *observability.Metrics) (*application, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	fail := func(err error) (*application, func(), error) {
		cleanup()
		return nil, nil, err
	}

	store, closeStore, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		return fail(err)
	}
	cleanups = append(cleanups, closeStore)

	sinks := []escalation.Sink{
		escalation.NewLogSink(logger),
		escalation.SinkFunc(func(_ context.Context, c escalation.Case) error {
			metrics.AddEscalation(string(c.Kind))
			return nil
		}),
	}
	if cfg.Redis.Enabled() {
		client, err := buildRedisClient(ctx, cfg.Redis)
		if err != nil {
			return fail(fmt.Errorf("redis: %w", err))
		}
		cleanups = append(cleanups, func() {
			if err := client.Close(); err != nil {
				logger.Warn().Err(err).Msg("close redis")
			}
		})
		sinks = append(sinks, escalation.NewRedisStreamSink(client, cfg.Redis.Stream, cfg.Redis.StreamMaxLen))
	}

	app := &application{history: store.refunds}
	if cfg.EscalationPath != "" {
		queue, err := escalation.OpenBoltQueue(cfg.EscalationPath)
		if err != nil {
			return fail(fmt.Errorf("escalation queue: %w", err))
		}
		cleanups = append(cleanups, func() {
			if err := queue.Close(); err != nil {
				logger.Warn().Err(err).Msg("close escalation queue")
			}
		})
		app.queue = queue
		sinks = append(sinks, queue)
	}
	escalations := escalation.NewMultiSink(sinks...)

	var publisher events.Publisher = events.Nop{}
	if cfg.Kafka.Enabled() {
		producer, err := events.NewSyncProducer(cfg.Kafka)
		if err != nil {
			return fail(fmt.Errorf("kafka: %w", err))
		}
		kafka := events.NewKafkaPublisher(producer, cfg.Kafka.Topic)
		cleanups = append(cleanups, func() {
			if err := kafka.Close(); err != nil {
				logger.Warn().Err(err).Msg("close kafka producer")
			}
		})
		publisher = kafka
	}

	var transport notification.Transport
	if cfg.Mail.Host != "" {
		smtp, err := mail.NewSMTPTransport(cfg.Mail)
		if err != nil {
			return fail(fmt.Errorf("smtp: %w", err))
		}
		transport = smtp
	} else {
		logger.Warn().Msg("SMTP_HOST not set; notification emails are only logged")
		transport = mail.NewLogTransport(logger)
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	app.hub = realtime.NewHub()
	go app.hub.Run(hubCtx)
	cleanups = append(cleanups, stopHub)

	limiter := delivery.NewRateLimiter(cfg.Gateway.RateLimitInterval, cfg.Gateway.RateLimitBurst, metrics.AddRateLimitWait)
	breaker := delivery.NewCircuitBreaker(delivery.CircuitBreakerConfig{
		MaxFailures:   cfg.Gateway.BreakerFailures,
		ResetTimeout:  cfg.Gateway.BreakerCooldown,
		OnStateChange: gatewayBreakerReporter(logger, metrics),
	})
	executor := delivery.NewExecutor(cfg.Delivery, delivery.WithTracker(metrics.TrackAttempt))

	templates, err := notification.NewTemplates()
	if err != nil {
		return fail(err)
	}
	app.dispatcher, err = notification.NewDispatcher(notification.Deps{
		Store:       store.notifications,
		Users:       store.users,
		StaffLog:    store.staffLog,
		Mail:        transport,
		InApp:       app.hub,
		Escalations: escalations,
		Executor:    executor,
		Templates:   templates,
		Events:      publisher,
		Logger:      logger.With().Str("component", "notifications").Logger(),
	})
	if err != nil {
		return fail(err)
	}

	app.initiator, err = refund.NewInitiator(refund.Deps{
		Bookings:    store.bookings,
		Refunds:     store.refunds,
		StaffLog:    store.staffLog,
		Gateway:     gateway.NewReliableGateway(store.gateway, limiter, breaker),
		Managers:    gateway.NewFrontDesk(app.hub, gateway.DeskChannel, logger),
		Notifier:    app.dispatcher,
		Escalations: escalations,
		Executor:    executor,
		Events:      publisher,
		Logger:      logger.With().Str("component", "refunds").Logger(),
	}, refund.Options{SupportContact: cfg.SupportContact})
	if err != nil {
		return fail(err)
	}

	return app, cleanup, nil
}

// buildStorage selects Postgres when DATABASE_URL is set and in-memory stores otherwise.
// gatewayBreakerReporter logs payment gateway breaker transitions and counts them
// in metrics. Opening is a warning because refunds start failing fast.
func gatewayBreakerReporter(logger zerolog.Logger, metrics *observability.Metrics) func(from, to delivery.BreakerState) {
	return func(from, to delivery.BreakerState) {
		metrics.AddBreakerTransition(string(to))
		ev := logger.Info()
		if to == delivery.BreakerOpen {
			ev = logger.Warn()
		}
		ev.Str("from", string(from)).Str("to", string(to)).Msg("payment gateway breaker transition")
	}
}

func buildStorage(ctx context.Context, cfg config.Config, logger zerolog.Logger) (storage, func(), error) {
	if cfg.DatabaseURL == "" {
		if cfg.AppEnv == "production" {
			return storage{}, nil, errors.New("DATABASE_URL is required in production")
		}
		logger.Warn().Msg("DATABASE_URL not set; using in-memory stores and the mock gateway")
		bookings := memstore.NewBookings()
		return storage{
			bookings:      bookings,
			users:         bookings,
			refunds:       memstore.NewRefunds(),
			notifications: memstore.NewNotifications(),
			staffLog:      memstore.NewStaffLog(),
			gateway:       gateway.NewMockGateway(),
		}, func() {}, nil
	}

	db, err := hoteldb.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return storage{}, nil, fmt.Errorf("postgres: %w", err)
	}
	stores := hoteldb.NewStores(db)
	if err := stores.InitSchema(ctx); err != nil {
		_ = db.Close()
		return storage{}, nil, fmt.Errorf("init schema: %w", err)
	}
	closeDB := func() {
		if err := db.Close(); err != nil {
			logger.Warn().Err(err).Msg("close postgres")
		}
	}
	return storage{
		bookings:      stores.Bookings,
		users:         stores.Bookings,
		refunds:       stores.Refunds,
		notifications: stores.Notifications,
		staffLog:      stores.StaffLog,
		gateway:       stores.Reversals,
	}, closeDB, nil
}

func (a *application) httpDeps() httpapi.Deps {
	deps := httpapi.Deps{
		Refunds:       a.initiator,
		History:       a.history,
		Notifications: a.dispatcher,
		Sockets:       a.hub,
	}
	if a.queue != nil {
		deps.Escalations = a.queue
	}
	return deps
}
