// Package events publishes committed ledger mutations to AMQP.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/warp/finance-ledger/ledger"
)

const publishTimeout = 5 * time.Second

// channel is the part of *amqp091.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// Publisher implements ledger.Notifier on a durable direct exchange.
type Publisher struct {
	mu         sync.Mutex
	conn       *amqp091.Connection
	ch         channel
	exchange   string
	routingKey string
	log        zerolog.Logger
}

var _ ledger.Notifier = (*Publisher)(nil)

// NewPublisher dials url and declares the exchange.
func NewPublisher(url, exchange, routingKey string, log zerolog.Logger) (*Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		exchange, // name
		"direct", // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	p := newPublisher(ch, exchange, routingKey, log)
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, exchange, routingKey string, log zerolog.Logger) *Publisher {
	return &Publisher{
		ch:         ch,
		exchange:   exchange,
		routingKey: routingKey,
		log:        log.With().Str("component", "events").Str("exchange", exchange).Logger(),
	}
}

// Notify publishes ev as a persistent JSON message.
func (p *Publisher) Notify(ctx context.Context, ev ledger.Event) error {
	body, err := NewTransactionMessage(ev).ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(
		ctx,
		p.exchange,   // exchange
		p.routingKey, // routing key
		false,        // mandatory
		false,        // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Type:         string(ev.Type),
			Timestamp:    ev.At,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}

	p.log.Debug().Str("type", string(ev.Type)).Str("transaction_id", string(ev.Transaction.ID)).Msg("event published")
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
