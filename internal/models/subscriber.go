package models

import "time"

// Subscriber statuses.
const (
	SubscriberStatusPending      = "pending"
	SubscriberStatusActive       = "active"
	SubscriberStatusUnsubscribed = "unsubscribed"
)

// Subscriber is owned by the signup/confirmation side of the platform. The
// delivery pipeline only reads it: the scheduler to resolve the audience, the
// worker to build unsubscribe links.
type Subscriber struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	Status           string    `json:"status"`
	Tags             string    `json:"tags"` // JSON array
	UnsubscribeToken string    `json:"unsubscribe_token"`
	CreatedAt        time.Time `json:"created_at"`
}
