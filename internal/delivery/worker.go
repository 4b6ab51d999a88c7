// Package delivery drains queued recipients for campaigns in sending state.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/listmill/listmill/internal/content"
	"github.com/listmill/listmill/internal/mailer"
	"github.com/listmill/listmill/internal/metrics"
	"github.com/listmill/listmill/internal/models"
	"github.com/listmill/listmill/internal/repository"
	"github.com/listmill/listmill/internal/signal"
)

// Worker handles SendRequested signals. It is safe to invoke concurrently
// and more than once for the same campaign: the status guard skips campaigns
// that are not sending, and the claim lease keeps concurrent invocations off
// each other's rows.
type Worker struct {
	campaigns   *repository.CampaignRepository
	subscribers *repository.SubscriberRepository
	recipients  *repository.RecipientRepository
	processor   *content.Processor
	transport   mailer.Transport
	bus         signal.Bus
	metrics     *metrics.Metrics
	logger      *slog.Logger

	fromEmail  string
	fromName   string
	batchSize  int
	batchDelay time.Duration
	claimTTL   time.Duration
}

type Config struct {
	Campaigns   *repository.CampaignRepository
	Subscribers *repository.SubscriberRepository
	Recipients  *repository.RecipientRepository
	Processor   *content.Processor
	Transport   mailer.Transport
	Bus         signal.Bus
	Metrics     *metrics.Metrics
	Logger      *slog.Logger

	FromEmail  string
	FromName   string
	BatchSize  int
	BatchDelay time.Duration
	ClaimTTL   time.Duration
}

func New(cfg Config) *Worker {
	return &Worker{
		campaigns:   cfg.Campaigns,
		subscribers: cfg.Subscribers,
		recipients:  cfg.Recipients,
		processor:   cfg.Processor,
		transport:   cfg.Transport,
		bus:         cfg.Bus,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger.With("component", "delivery"),
		fromEmail:   cfg.FromEmail,
		fromName:    cfg.FromName,
		batchSize:   cfg.BatchSize,
		batchDelay:  cfg.BatchDelay,
		claimTTL:    cfg.ClaimTTL,
	}
}

// Subscribe registers the worker on the bus.
func (w *Worker) Subscribe() {
	w.bus.SubscribeSendRequested(func(ctx context.Context, sig signal.SendRequested) error {
		return w.Deliver(ctx, sig.CampaignID)
	})
}

// Deliver drains a campaign's queued recipients in batches and finalizes the
// campaign. Invocations for campaigns that are not sending are no-ops, which
// covers cancelled campaigns and duplicate signals for finished ones.
func (w *Worker) Deliver(ctx context.Context, campaignID string) error {
	campaign, err := w.campaigns.GetByID(campaignID)
	if err != nil {
		return fmt.Errorf("failed to load campaign: %w", err)
	}
	if campaign == nil {
		w.logger.Warn("signal for unknown campaign", "campaign_id", campaignID)
		return nil
	}
	if campaign.Status != models.CampaignStatusSending {
		w.logger.Info("skipping campaign not in sending state",
			"campaign_id", campaignID, "status", campaign.Status)
		return nil
	}

	for {
		batch, err := w.recipients.ClaimBatch(campaignID, w.batchSize, w.claimTTL)
		if err != nil {
			return fmt.Errorf("failed to claim batch: %w", err)
		}
		if len(batch) == 0 {
			break
		}

		start := time.Now()
		sent, bounced := w.processBatch(ctx, campaign, batch)
		w.metrics.BatchSeconds.Observe(time.Since(start).Seconds())

		// Checkpoint: counters move only after every recipient in the
		// batch is terminal, so a resumed run reclaims exactly the rows
		// still queued.
		if err := w.campaigns.AddSendResults(campaignID, sent, bounced); err != nil {
			return fmt.Errorf("failed to checkpoint campaign counters: %w", err)
		}

		w.logger.Info("batch delivered",
			"campaign_id", campaignID, "size", len(batch), "sent", sent, "failed", bounced)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.batchDelay):
		}
	}

	return w.finalize(ctx, campaignID)
}

// processBatch renders and submits one claimed batch and persists the
// terminal status of every recipient in it.
func (w *Worker) processBatch(ctx context.Context, campaign *models.Campaign, batch []models.Recipient) (sent, bounced int) {
	msgs := make([]*mailer.Message, len(batch))
	buildErrs := make([]string, len(batch))

	for i := range batch {
		msg, err := w.buildMessage(campaign, &batch[i])
		if err != nil {
			buildErrs[i] = err.Error()
			continue
		}
		msgs[i] = msg
	}

	// Submit only the messages that rendered; keep result order aligned
	// with the batch.
	toSend := make([]*mailer.Message, 0, len(msgs))
	indexes := make([]int, 0, len(msgs))
	for i, msg := range msgs {
		if msg != nil {
			toSend = append(toSend, msg)
			indexes = append(indexes, i)
		}
	}

	results := make([]mailer.Result, len(batch))
	for i, e := range buildErrs {
		if e != "" {
			results[i] = mailer.Result{Error: e}
		}
	}
	if len(toSend) > 0 {
		for j, res := range w.transport.SendBatch(ctx, toSend) {
			results[indexes[j]] = res
		}
	}

	// Count only rows this invocation actually transitioned. A row that is
	// already terminal was recorded by another invocation after our lease
	// expired; counting it again would push the campaign totals past
	// total_recipients.
	now := time.Now()
	for i := range batch {
		rec := &batch[i]
		if results[i].Success {
			moved, err := w.recipients.MarkSent(rec.ID, now)
			if err != nil {
				w.logger.Error("failed to mark recipient sent", "recipient_id", rec.ID, "error", err)
				continue
			}
			if !moved {
				w.logger.Warn("recipient already terminal, not counting", "recipient_id", rec.ID)
				continue
			}
			w.metrics.MessagesSentTotal.Inc()
			sent++
		} else {
			moved, err := w.recipients.MarkFailed(rec.ID, results[i].Error)
			if err != nil {
				w.logger.Error("failed to mark recipient failed", "recipient_id", rec.ID, "error", err)
				continue
			}
			if !moved {
				w.logger.Warn("recipient already terminal, not counting", "recipient_id", rec.ID)
				continue
			}
			w.metrics.MessagesFailedTotal.Inc()
			bounced++
		}
	}
	return sent, bounced
}

// buildMessage renders the personalized message for one recipient.
func (w *Worker) buildMessage(campaign *models.Campaign, rec *models.Recipient) (*mailer.Message, error) {
	sub, err := w.subscribers.GetByID(rec.SubscriberID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subscriber: %w", err)
	}
	if sub == nil {
		return nil, fmt.Errorf("subscriber %s no longer exists", rec.SubscriberID)
	}

	html := w.processor.Process(campaign.HTMLBody, campaign.ID, sub.ID, sub.UnsubscribeToken)

	return &mailer.Message{
		To:            rec.Email,
		Subject:       campaign.Subject,
		HTMLBody:      html,
		PlainTextBody: campaign.PlainTextBody,
		FromName:      w.fromName,
		FromEmail:     w.fromEmail,
		Headers: map[string]string{
			"List-Unsubscribe":      "<" + w.processor.UnsubscribeURL(sub.UnsubscribeToken) + ">",
			"List-Unsubscribe-Post": "List-Unsubscribe=One-Click",
		},
	}, nil
}

// finalize marks the campaign sent and emits CampaignCompleted with the final
// totals.
func (w *Worker) finalize(ctx context.Context, campaignID string) error {
	// An empty claim with queued rows left means another invocation holds
	// live leases on them; it will finalize when it drains.
	stats, err := w.recipients.GetStats(campaignID)
	if err != nil {
		return fmt.Errorf("failed to read recipient stats: %w", err)
	}
	if stats.Queued > 0 {
		w.logger.Info("leaving finalization to the lease holder",
			"campaign_id", campaignID, "queued", stats.Queued)
		return nil
	}

	now := time.Now()
	if err := w.campaigns.MarkSent(campaignID, now); err != nil {
		// A concurrent invocation may have finalized first; that is not
		// a failure under at-least-once signal delivery.
		if c, getErr := w.campaigns.GetByID(campaignID); getErr == nil && c != nil && c.Status == models.CampaignStatusSent {
			w.logger.Info("campaign already finalized", "campaign_id", campaignID)
			return nil
		}
		return fmt.Errorf("failed to finalize campaign: %w", err)
	}

	campaign, err := w.campaigns.GetByID(campaignID)
	if err != nil {
		return fmt.Errorf("failed to reload campaign: %w", err)
	}

	sig := signal.CampaignCompleted{
		CampaignID:   campaignID,
		TotalSent:    campaign.TotalSent,
		TotalBounced: campaign.TotalBounced,
		OccurredAt:   now,
	}
	if err := w.bus.PublishCampaignCompleted(ctx, sig); err != nil {
		return fmt.Errorf("failed to publish completion: %w", err)
	}

	w.logger.Info("campaign completed",
		"campaign_id", campaignID, "sent", campaign.TotalSent, "bounced", campaign.TotalBounced)
	return nil
}
