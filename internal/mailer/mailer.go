// Package mailer defines the outbound email transport contract. The delivery
// pipeline treats the transport as an external collaborator: it submits
// batches and records the per-message results, nothing more.
package mailer

import "context"

// Message is one outbound email.
type Message struct {
	To            string
	Subject       string
	HTMLBody      string
	PlainTextBody string
	FromName      string
	FromEmail     string
	Headers       map[string]string
}

// Result is the transport outcome for one message.
type Result struct {
	Success    bool
	ExternalID string
	Error      string
}

// Transport sends messages. SendBatch returns exactly one result per input
// message, in input order.
type Transport interface {
	Send(ctx context.Context, msg *Message) Result
	SendBatch(ctx context.Context, msgs []*Message) []Result
}
