package billing

import (
	"context"
	"time"
)

// StatusChange records one bill moved by the sweep.
type StatusChange struct {
	BillID    BillID    `json:"billId"`
	AccountID AccountID `json:"accountId"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Trigger   Trigger   `json:"trigger"`
	At        time.Time `json:"at"`
}

// EventPublisher delivers status changes after they are committed.
// Delivery is best effort: errors are logged, never rolled back.
type EventPublisher interface {
	PublishStatusChanges(ctx context.Context, changes []StatusChange) error
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) PublishStatusChanges(context.Context, []StatusChange) error { return nil }
