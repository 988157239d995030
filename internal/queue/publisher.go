// Package queue bridges schedule notices onto RabbitMQ so downstream
// services (billing, CRM sync, notifications) can react to timeline
// mutations. Publish errors are logged and swallowed; the timeline
// never blocks on the broker.
package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"fleetgrid/internal/events"
)

// Queue names declared on demand. Durable so messages survive broker
// restarts; routing key equals queue name on the default exchange.
const (
	QueueIntentResolved = "schedule.intent.resolved"
	QueueIntentFailed   = "schedule.intent.failed"
	QueueOverdueReturn  = "schedule.overdue.return"
	QueueLateArrival    = "schedule.late.arrival"
)

// Publisher publishes JSON notices to RabbitMQ.
type Publisher struct {
	url    string
	logger zerolog.Logger

	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	declared map[string]bool
}

func NewPublisher(url string, logger zerolog.Logger) *Publisher {
	return &Publisher{
		url:      url,
		logger:   logger,
		declared: make(map[string]bool),
	}
}

// Attach subscribes the publisher to a bus so that resolved and failed
// intents plus overdue alerts flow out to the broker.
func (p *Publisher) Attach(bus *events.Bus) {
	forward := func(queueName string) events.Handler {
		return func(n events.Notice) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := p.Publish(ctx, queueName, n); err != nil {
				p.logger.Warn().Err(err).Str("queue", queueName).Msg("notice publish failed")
			}
		}
	}
	bus.Subscribe(events.TopicIntentResolved, forward(QueueIntentResolved))
	bus.Subscribe(events.TopicIntentFailed, forward(QueueIntentFailed))
	bus.Subscribe(events.TopicOverdueReturn, forward(QueueOverdueReturn))
	bus.Subscribe(events.TopicLateArrival, forward(QueueLateArrival))
}

// Publish marshals payload and publishes it as a persistent message.
// The connection is established lazily and re-dialed after failures.
func (p *Publisher) Publish(ctx context.Context, queueName string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.ensureChannel(queueName)
	if err != nil {
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	if err := ch.PublishWithContext(ctx, "", queueName, false, false, pub); err != nil {
		// Drop the dead channel; next publish re-dials.
		p.reset()
		return err
	}
	return nil
}

func (p *Publisher) ensureChannel(queueName string) (*amqp.Channel, error) {
	if p.channel == nil {
		conn, err := amqp.Dial(p.url)
		if err != nil {
			return nil, err
		}
		ch, err := conn.Channel()
		if err != nil {
			conn.Close()
			return nil, err
		}
		p.conn = conn
		p.channel = ch
		p.declared = make(map[string]bool)
	}

	if !p.declared[queueName] {
		if _, err := p.channel.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
			p.reset()
			return nil, err
		}
		p.declared[queueName] = true
	}
	return p.channel, nil
}

func (p *Publisher) reset() {
	if p.channel != nil {
		_ = p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// Close shuts down the broker connection.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
}
