// Package server wires the delivery pipeline into one process: HTTP surface,
// scheduler loop, signal bus, and delivery worker.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/listmill/listmill/internal/config"
	"github.com/listmill/listmill/internal/content"
	"github.com/listmill/listmill/internal/db"
	"github.com/listmill/listmill/internal/delivery"
	"github.com/listmill/listmill/internal/dkim"
	"github.com/listmill/listmill/internal/mailer"
	"github.com/listmill/listmill/internal/metrics"
	"github.com/listmill/listmill/internal/repository"
	"github.com/listmill/listmill/internal/scheduler"
	"github.com/listmill/listmill/internal/signal"
	"github.com/listmill/listmill/internal/tracking"
)

type Server struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *db.DB
	bus       signal.Bus
	scheduler *scheduler.Scheduler
	http      *http.Server
}

func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := database.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	campaigns := repository.NewCampaignRepository(database.DB)
	subscribers := repository.NewSubscriberRepository(database.DB)
	recipients := repository.NewRecipientRepository(database.DB)

	m := metrics.New()
	processor := content.NewProcessor(cfg.Tracking.BaseURL)

	var signer *dkim.Signer
	if cfg.DKIM.Enabled {
		signer, err = dkim.NewSignerFromFile(cfg.DKIM.KeyFile, cfg.DKIM.Domain, cfg.DKIM.Selector)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize DKIM signer: %w", err)
		}
		logger.Info("DKIM signing enabled", "domain", cfg.DKIM.Domain, "selector", cfg.DKIM.Selector)
	}
	transport := mailer.NewSMTPTransport(cfg.SMTP, signer, logger)

	var bus signal.Bus
	if cfg.AMQP.URL != "" {
		bus, err = signal.NewAMQPBus(cfg.AMQP.URL, cfg.AMQP.Exchange, cfg.AMQP.Queue, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect signal bus: %w", err)
		}
		logger.Info("signal bus connected", "exchange", cfg.AMQP.Exchange, "queue", cfg.AMQP.Queue)
	} else {
		bus = signal.NewMemoryBus(logger)
		logger.Info("running with in-memory signal bus")
	}

	worker := delivery.New(delivery.Config{
		Campaigns:   campaigns,
		Subscribers: subscribers,
		Recipients:  recipients,
		Processor:   processor,
		Transport:   transport,
		Bus:         bus,
		Metrics:     m,
		Logger:      logger,
		FromEmail:   cfg.Sender.FromEmail,
		FromName:    cfg.Sender.FromName,
		BatchSize:   cfg.Delivery.BatchSize,
		BatchDelay:  cfg.Delivery.BatchDelay,
		ClaimTTL:    cfg.Delivery.ClaimTTL,
	})
	worker.Subscribe()

	sched := scheduler.New(scheduler.Config{
		Campaigns:    campaigns,
		Subscribers:  subscribers,
		Recipients:   recipients,
		Bus:          bus,
		Metrics:      m,
		Logger:       logger,
		PollInterval: cfg.Scheduler.PollInterval,
	})

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		db:        database,
		bus:       bus,
		scheduler: sched,
	}

	trackingHandler := tracking.NewHandler(campaigns, recipients, m, logger)

	s.http = &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      s.setupRoutes(trackingHandler, m),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

func (s *Server) setupRoutes(trackingHandler *tracking.Handler, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", m.Handler())
	trackingHandler.RegisterRoutes(r)

	return r
}

// Run starts all components and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.scheduler.Start()

	busErr := make(chan error, 1)
	go func() {
		busErr <- s.bus.Run(ctx)
	}()

	httpErr := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", s.cfg.Server.ListenAddr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			httpErr <- err
			return
		}
		httpErr <- nil
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-httpErr:
	case runErr = <-busErr:
	}

	s.shutdown()
	return runErr
}

func (s *Server) shutdown() {
	s.logger.Info("shutting down")

	s.scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP shutdown failed", "error", err)
	}

	if err := s.bus.Close(); err != nil {
		s.logger.Error("signal bus close failed", "error", err)
	}
	if err := s.db.Close(); err != nil {
		s.logger.Error("database close failed", "error", err)
	}
}
