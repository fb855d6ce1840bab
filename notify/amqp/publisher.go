// Package amqp publishes billing events to RabbitMQ.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/warp/billing-engine/billing"
)

// DefaultExchange receives bill status events.
const DefaultExchange = "billing.events"

const publishTimeout = 5 * time.Second

// channel is the part of *amqp091.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// Publisher implements billing.EventPublisher on a topic exchange.
type Publisher struct {
	exchange string
	logger   *slog.Logger

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel channel
	// dial reopens the channel after a connection failure.
	dial func() (*amqp091.Connection, channel, error)
}

var _ billing.EventPublisher = (*Publisher)(nil)

// NewPublisher dials url and declares exchange as a durable topic exchange.
func NewPublisher(url, exchange string, logger *slog.Logger) (*Publisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Publisher{
		exchange: exchange,
		logger:   logger.With("component", "notify.amqp"),
	}
	p.dial = func() (*amqp091.Connection, channel, error) {
		return dialExchange(url, exchange)
	}

	conn, ch, err := p.dial()
	if err != nil {
		return nil, err
	}
	p.conn, p.channel = conn, ch
	return p, nil
}

func dialExchange(url, exchange string) (*amqp091.Connection, channel, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial AMQP: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("declare exchange: %w", err)
	}
	return conn, ch, nil
}

// PublishStatusChanges publishes one persistent message per change. The
// channel is reopened once if it was closed underneath.
func (p *Publisher) PublishStatusChanges(ctx context.Context, changes []billing.StatusChange) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for _, change := range changes {
		msg := NewBillStatusChangedMessage(change)
		err := p.publish(ctx, msg)
		if errors.Is(err, amqp091.ErrClosed) && p.dial != nil {
			if rerr := p.reconnect(); rerr != nil {
				errs = append(errs, rerr)
				break
			}
			err = p.publish(ctx, msg)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("bill %s: %w", change.BillID, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	p.logger.InfoContext(ctx, "published bill status changes",
		"count", len(changes),
		"exchange", p.exchange)
	return nil
}

func (p *Publisher) publish(ctx context.Context, msg *BillStatusChangedMessage) error {
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	if p.channel == nil {
		return amqp091.ErrClosed
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,       // exchange
		msg.RoutingKey(), // routing key
		false,            // mandatory
		false,            // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    msg.OccurredAt,
			MessageId:    msg.BillID + ":" + msg.To,
			Type:         "bill.status_changed",
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

func (p *Publisher) reconnect() error {
	p.closeLocked()
	conn, ch, err := p.dial()
	if err != nil {
		return fmt.Errorf("reconnect: %w", err)
	}
	p.conn, p.channel = conn, ch
	p.logger.Warn("AMQP channel reopened", "exchange", p.exchange)
	return nil
}

// Close closes the channel and connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeLocked()
}

func (p *Publisher) closeLocked() error {
	if p.channel != nil {
		p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		err := p.conn.Close()
		p.conn = nil
		return err
	}
	return nil
}
