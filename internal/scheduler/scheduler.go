// Package scheduler promotes due campaigns into delivery.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/listmill/listmill/internal/metrics"
	"github.com/listmill/listmill/internal/models"
	"github.com/listmill/listmill/internal/repository"
	"github.com/listmill/listmill/internal/signal"
)

// Scheduler runs a single periodic loop. Ticks are serialized: the next tick
// only starts after the previous one finished.
type Scheduler struct {
	campaigns   *repository.CampaignRepository
	subscribers *repository.SubscriberRepository
	recipients  *repository.RecipientRepository
	bus         signal.Bus
	metrics     *metrics.Metrics
	logger      *slog.Logger

	pollInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Config struct {
	Campaigns   *repository.CampaignRepository
	Subscribers *repository.SubscriberRepository
	Recipients  *repository.RecipientRepository
	Bus         signal.Bus
	Metrics     *metrics.Metrics
	Logger      *slog.Logger

	PollInterval time.Duration
}

func New(cfg Config) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		campaigns:    cfg.Campaigns,
		subscribers:  cfg.Subscribers,
		recipients:   cfg.Recipients,
		bus:          cfg.Bus,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger.With("component", "scheduler"),
		pollInterval: cfg.PollInterval,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start starts the scheduler loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
	s.logger.Info("scheduler started", "poll_interval", s.pollInterval)
}

// Stop stops the scheduler and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Tick(s.ctx)
		}
	}
}

// Tick promotes every due campaign. A failure in one campaign is logged and
// skipped; the campaign stays scheduled and is retried on the next tick.
func (s *Scheduler) Tick(ctx context.Context) {
	due, err := s.campaigns.ListDue(time.Now())
	if err != nil {
		s.logger.Error("failed to list due campaigns", "error", err)
		return
	}

	for i := range due {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.promote(ctx, &due[i]); err != nil {
			s.metrics.SchedulerErrorsTotal.Inc()
			s.logger.Error("failed to promote campaign", "campaign_id", due[i].ID, "error", err)
		}
	}
}

// promote fans out one campaign and emits its SendRequested signal. Writes
// are ordered so the status flip is last: a failure before MarkSending leaves
// the campaign untouched apart from idempotent recipient inserts.
func (s *Scheduler) promote(ctx context.Context, c *models.Campaign) error {
	audience, err := s.subscribers.ListActive(c.TargetTag)
	if err != nil {
		return fmt.Errorf("failed to resolve audience: %w", err)
	}

	if err := s.recipients.Enqueue(c.ID, audience); err != nil {
		return fmt.Errorf("failed to fan out recipients: %w", err)
	}

	if err := s.campaigns.MarkSending(c.ID, len(audience)); err != nil {
		return fmt.Errorf("failed to mark sending: %w", err)
	}

	sig := signal.SendRequested{
		CampaignID:      c.ID,
		Subject:         c.Subject,
		TotalRecipients: len(audience),
		OccurredAt:      time.Now(),
	}
	if err := s.bus.PublishSendRequested(ctx, sig); err != nil {
		// The campaign is already sending and no longer due, so the tick
		// loop will not pick it up again. Delivery needs the signal
		// re-published (broker redelivery or an operator re-trigger).
		s.logger.Warn("campaign is sending but its signal was not published; delivery needs a re-trigger",
			"campaign_id", c.ID)
		return fmt.Errorf("failed to publish send request: %w", err)
	}

	s.metrics.CampaignsPromotedTotal.Inc()
	s.metrics.FanoutRecipientsTotal.Add(float64(len(audience)))
	s.logger.Info("campaign promoted",
		"campaign_id", c.ID,
		"subject", c.Subject,
		"recipients", len(audience),
		"target_tag", c.TargetTag,
	)
	return nil
}
