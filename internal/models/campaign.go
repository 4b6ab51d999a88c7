package models

import "time"

// Campaign statuses. Transitions: draft -> scheduled -> sending -> sent,
// with draft/scheduled -> cancelled set by the admin side.
const (
	CampaignStatusDraft     = "draft"
	CampaignStatusScheduled = "scheduled"
	CampaignStatusSending   = "sending"
	CampaignStatusSent      = "sent"
	CampaignStatusCancelled = "cancelled"
)

// Campaign represents a single newsletter send with its lifecycle and
// aggregate delivery counters.
type Campaign struct {
	ID                string     `json:"id"`
	Subject           string     `json:"subject"`
	HTMLBody          string     `json:"html_body"`
	PlainTextBody     string     `json:"plain_text_body,omitempty"`
	Status            string     `json:"status"`
	TargetTag         string     `json:"target_tag,omitempty"`
	ScheduledAt       *time.Time `json:"scheduled_at,omitempty"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	TotalRecipients   int        `json:"total_recipients"`
	TotalSent         int        `json:"total_sent"`
	TotalOpened       int        `json:"total_opened"`
	TotalClicked      int        `json:"total_clicked"`
	TotalBounced      int        `json:"total_bounced"`
	TotalUnsubscribed int        `json:"total_unsubscribed"`
	CreatedBy         string     `json:"created_by"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}
