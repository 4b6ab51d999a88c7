package models

import "time"

// Recipient statuses. queued -> sent | failed, both terminal.
const (
	RecipientStatusQueued = "queued"
	RecipientStatusSent   = "sent"
	RecipientStatusFailed = "failed"
)

// Recipient is the per-subscriber delivery record for one campaign. The email
// address is snapshotted at fan-out time so later subscriber edits do not
// rewrite delivery history. Unique on (campaign_id, subscriber_id).
type Recipient struct {
	ID           string     `json:"id"`
	CampaignID   string     `json:"campaign_id"`
	SubscriberID string     `json:"subscriber_id"`
	Email        string     `json:"email"`
	Status       string     `json:"status"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	OpenedAt     *time.Time `json:"opened_at,omitempty"`
	ClickedAt    *time.Time `json:"clicked_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// RecipientStats holds per-campaign recipient counts by status.
type RecipientStats struct {
	Total  int `json:"total"`
	Queued int `json:"queued"`
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}
