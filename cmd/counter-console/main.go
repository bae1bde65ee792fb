package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qms/counter-console/internal/config"
	"qms/counter-console/internal/dispatch"
	"qms/counter-console/internal/httpapi"
	"qms/counter-console/internal/hub"
	"qms/counter-console/internal/journal"
	"qms/counter-console/internal/journal/postgres"
	"qms/counter-console/internal/logging"
	"qms/counter-console/internal/queueapi"
	"qms/counter-console/internal/reconcile"
	"qms/counter-console/internal/servicetimer"
	"qms/counter-console/internal/state"
	"qms/counter-console/internal/telemetry"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

const serviceName = "counter-console"

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg := config.Load()
	logging.Init(serviceName, cfg.Env)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	shutdownTelemetry := telemetry.Setup(telemetry.Options{
		ServiceName: serviceName,
		Version:     version,
		Environment: cfg.Env,
		SessionID:   cfg.SessionID,
		CounterID:   cfg.CounterID,
	})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api, err := queueapi.NewClient(queueapi.Options{
		BaseURL:           cfg.QueueAPIBaseURL,
		Timeout:           cfg.HTTPTimeout,
		SessionCookieName: cfg.SessionCookieName,
		SessionCookie:     cfg.SessionCookie,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("queue api client")
	}

	var recorder journal.Recorder = journal.Nop{}
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("db connect")
		}
		defer pool.Close()
		pgJournal := postgres.NewJournal(pool)
		if err := pgJournal.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("journal schema")
		}
		recorder = pgJournal
	}

	store := state.NewStore()
	loop := reconcile.New(api, store, reconcile.Options{
		SessionID:    cfg.SessionID,
		CounterID:    cfg.CounterID,
		Interval:     cfg.PollInterval,
		TickTimeout:  cfg.TickTimeout,
		WaitingLimit: cfg.WaitingLimit,
	})
	dispatcher := dispatch.New(api, store, dispatch.Options{
		SessionID: cfg.SessionID,
		CounterID: cfg.CounterID,
		Journal:   recorder,
	})

	h := hub.New()
	unsubscribe := store.Subscribe(func(snap state.Snapshot) {
		if h.Len() == 0 {
			return
		}
		if err := h.Publish(hub.TopicSnapshot, httpapi.NewStateView(snap, time.Now())); err != nil {
			log.Warn().Err(err).Msg("publish snapshot")
		}
	})
	defer unsubscribe()

	handler := httpapi.NewHandler(dispatcher, store, httpapi.Options{
		Refresher: loop,
		Journal:   recorder,
		Hub:       h,
		CounterID: cfg.CounterID,
	})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		PerMinute: cfg.RateLimitPerMinute,
		Burst:     cfg.RateLimitBurst,
	})

	otelHandler := otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(handler.Routes())), serviceName)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		loop.Run(gctx)
		return nil
	})
	g.Go(func() error {
		ticker := servicetimer.NewTicker(store, servicetimer.SystemClock)
		ticker.Run(gctx, func(countdown servicetimer.Countdown, reading servicetimer.Reading) {
			if err := h.Publish(hub.TopicTimer, httpapi.NewTimerView(countdown, reading)); err != nil {
				log.Warn().Err(err).Msg("publish timer")
			}
		})
		return nil
	})
	g.Go(func() error {
		log.Info().
			Str("addr", server.Addr).
			Str("session_id", cfg.SessionID).
			Str("counter_id", cfg.CounterID).
			Msg("counter-console listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("counter-console stopped")
		os.Exit(1)
	}
	log.Info().Msg("counter-console stopped")
}
