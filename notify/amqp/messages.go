package amqp

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/warp/billing-engine/billing"
)

// MessageVersion is bumped on incompatible payload changes.
const MessageVersion = 1

// BillStatusChangedMessage is published once per bill moved by the sweep.
type BillStatusChangedMessage struct {
	Version    int       `json:"version"`
	BillID     string    `json:"billId"`
	AccountID  string    `json:"accountId"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Trigger    string    `json:"trigger"`
	OccurredAt time.Time `json:"occurredAt"`
}

// NewBillStatusChangedMessage builds the message for change.
func NewBillStatusChangedMessage(change billing.StatusChange) *BillStatusChangedMessage {
	return &BillStatusChangedMessage{
		Version:    MessageVersion,
		BillID:     string(change.BillID),
		AccountID:  string(change.AccountID),
		From:       string(change.From),
		To:         string(change.To),
		Trigger:    string(change.Trigger),
		OccurredAt: change.At,
	}
}

// RoutingKey is bill.status.<to>, e.g. bill.status.overdue.
func (m *BillStatusChangedMessage) RoutingKey() string {
	return "bill.status." + strings.ToLower(m.To)
}

// ToJSON converts the message to JSON bytes
func (m *BillStatusChangedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// BillStatusChangedMessageFromJSON decodes a message.
func BillStatusChangedMessageFromJSON(data []byte) (*BillStatusChangedMessage, error) {
	var msg BillStatusChangedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
