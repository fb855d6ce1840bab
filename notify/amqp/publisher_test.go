package amqp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/billing-engine/billing"
)

type published struct {
	exchange string
	key      string
	msg      amqp091.Publishing
}

type fakeChannel struct {
	mu     sync.Mutex
	sent   []published
	err    error // returned by every publish when set
	closed bool
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp091.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func newTestPublisher(ch *fakeChannel) *Publisher {
	return &Publisher{
		exchange: DefaultExchange,
		logger:   nopLogger(),
		channel:  ch,
	}
}

func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var changeAt = time.Date(2024, time.March, 20, 3, 0, 0, 0, time.UTC)

func change(id string, from, to billing.Status) billing.StatusChange {
	return billing.StatusChange{
		BillID:    billing.BillID(id),
		AccountID: "card",
		From:      from,
		To:        to,
		Trigger:   billing.TriggerSchedule,
		At:        changeAt,
	}
}

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestBillStatusChangedMessage(t *testing.T) {
	msg := NewBillStatusChangedMessage(change("bill-1", billing.StatusClosed, billing.StatusOverdue))

	assert.Equal(t, "bill.status.overdue", msg.RoutingKey())

	data, err := msg.ToJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"version": 1,
		"billId": "bill-1",
		"accountId": "card",
		"from": "CLOSED",
		"to": "OVERDUE",
		"trigger": "schedule",
		"occurredAt": "2024-03-20T03:00:00Z"
	}`, string(data))

	decoded, err := BillStatusChangedMessageFromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, msg, decoded)

	_, err = BillStatusChangedMessageFromJSON([]byte("{"))
	assert.Error(t, err)
}

// =============================================================================
// PUBLISHER TESTS
// =============================================================================

func TestPublisher_PublishesOneMessagePerChange(t *testing.T) {
	ch := &fakeChannel{}
	p := newTestPublisher(ch)

	err := p.PublishStatusChanges(context.Background(), []billing.StatusChange{
		change("bill-1", billing.StatusOpen, billing.StatusClosed),
		change("bill-2", billing.StatusClosed, billing.StatusOverdue),
	})
	require.NoError(t, err)

	require.Len(t, ch.sent, 2)
	assert.Equal(t, DefaultExchange, ch.sent[0].exchange)
	assert.Equal(t, "bill.status.closed", ch.sent[0].key)
	assert.Equal(t, "bill.status.overdue", ch.sent[1].key)

	first := ch.sent[0].msg
	assert.Equal(t, "application/json", first.ContentType)
	assert.Equal(t, amqp091.Persistent, first.DeliveryMode)
	assert.Equal(t, "bill-1:CLOSED", first.MessageId)
	assert.Equal(t, changeAt, first.Timestamp)
}

func TestPublisher_ReconnectsOnClosedChannel(t *testing.T) {
	// GIVEN: A channel that reports ErrClosed
	// WHEN: Publishing a change
	// THEN: The publisher dials a new channel once and publishes on it

	broken := &fakeChannel{err: amqp091.ErrClosed}
	fresh := &fakeChannel{}
	p := newTestPublisher(broken)
	dials := 0
	p.dial = func() (*amqp091.Connection, channel, error) {
		dials++
		return nil, fresh, nil
	}

	err := p.PublishStatusChanges(context.Background(), []billing.StatusChange{
		change("bill-1", billing.StatusOpen, billing.StatusClosed),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, dials)
	assert.True(t, broken.closed)
	assert.Len(t, fresh.sent, 1)
}

func TestPublisher_ReconnectFailureStops(t *testing.T) {
	p := newTestPublisher(&fakeChannel{err: amqp091.ErrClosed})
	p.dial = func() (*amqp091.Connection, channel, error) {
		return nil, nil, errors.New("connection refused")
	}

	err := p.PublishStatusChanges(context.Background(), []billing.StatusChange{
		change("bill-1", billing.StatusOpen, billing.StatusClosed),
		change("bill-2", billing.StatusOpen, billing.StatusClosed),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reconnect: connection refused")
	assert.NotContains(t, err.Error(), "bill-2")
}

func TestPublisher_JoinsPublishErrors(t *testing.T) {
	boom := errors.New("boom")
	p := newTestPublisher(&fakeChannel{err: boom})

	err := p.PublishStatusChanges(context.Background(), []billing.StatusChange{
		change("bill-1", billing.StatusOpen, billing.StatusClosed),
		change("bill-2", billing.StatusOpen, billing.StatusClosed),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "bill bill-1")
	assert.Contains(t, err.Error(), "bill bill-2")
}

func TestPublisher_CloseIsSafe(t *testing.T) {
	ch := &fakeChannel{}
	p := newTestPublisher(ch)

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
	require.NoError(t, p.Close())

	// A closed publisher without a dialer reports the closed channel
	err := p.PublishStatusChanges(context.Background(), []billing.StatusChange{
		change("bill-1", billing.StatusOpen, billing.StatusClosed),
	})
	assert.ErrorIs(t, err, amqp091.ErrClosed)
}
