// Package delivery enforces at-most-once delivery per (chainID,
// proposalID, subscriberID) and dispatches accepted Advice to a Notifier.
package delivery

import "context"

// Outcome classifies how a Notifier handled one Send call.
type Outcome int

const (
	// Accepted means the notifier took ownership of delivering the
	// message; a DeliveryMark should be persisted.
	Accepted Outcome = iota
	// TransientOutcome means the send may succeed if retried.
	TransientOutcome
	// PermanentOutcome means the send will never succeed as given and
	// must not be retried.
	PermanentOutcome
)

// SendResult is what a Notifier reports back for one Send call.
type SendResult struct {
	Outcome   Outcome
	MessageID string // set only when Outcome == Accepted
	Err       error
}

// Notifier delivers one rendered message to one subscriber's opaque
// delivery address.
type Notifier interface {
	Send(ctx context.Context, address, subject, body string) SendResult
}
