// Package signal carries the asynchronous hand-off between the scheduler,
// the delivery worker, and external collaborators. Delivery is at-least-once:
// consumers must tolerate duplicate signals for the same campaign.
package signal

import (
	"context"
	"time"
)

// Routing keys, also used as topic names by the in-memory bus.
const (
	KeySendRequested     = "campaign.send_requested"
	KeyCampaignCompleted = "campaign.completed"
)

// SendRequested announces that a campaign has been promoted to sending and
// its recipient set is fully fanned out.
type SendRequested struct {
	CampaignID      string    `json:"campaign_id"`
	Subject         string    `json:"subject"`
	TotalRecipients int       `json:"total_recipients"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// CampaignCompleted announces that a campaign's queue has fully drained.
type CampaignCompleted struct {
	CampaignID   string    `json:"campaign_id"`
	TotalSent    int       `json:"total_sent"`
	TotalBounced int       `json:"total_bounced"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// SendRequestedHandler processes one SendRequested signal. Returning an error
// requests redelivery.
type SendRequestedHandler func(ctx context.Context, sig SendRequested) error

// CampaignCompletedHandler processes one CampaignCompleted signal.
type CampaignCompletedHandler func(ctx context.Context, sig CampaignCompleted) error

// Bus is the signal substrate. Subscriptions must be registered before Run is
// called; Run blocks until the context is cancelled.
type Bus interface {
	PublishSendRequested(ctx context.Context, sig SendRequested) error
	PublishCampaignCompleted(ctx context.Context, sig CampaignCompleted) error
	SubscribeSendRequested(h SendRequestedHandler)
	SubscribeCampaignCompleted(h CampaignCompletedHandler)
	Run(ctx context.Context) error
	Close() error
}
