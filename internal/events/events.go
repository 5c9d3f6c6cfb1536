// Package events carries run triggers and run summaries over RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-sourcing/internal/model"
)

// Routing keys on the leads exchange.
const (
	RequestedKey = "leads.segment_pull.requested"
	CompletedKey = "leads.segment_pull.completed"
)

// RunRequest is the body of an on-demand trigger event.
type RunRequest struct {
	RequestedBy string    `json:"requested_by,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// Channel is the subset of *amqp.Channel used here.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

// Conn is an open connection with one channel.
type Conn struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// Dial connects to url and opens a channel.
func Dial(url string) (*Conn, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, eris.Wrap(err, "events: dial")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, eris.Wrap(err, "events: open channel")
	}
	return &Conn{conn: conn, ch: ch}, nil
}

// Channel returns the connection's channel.
func (c *Conn) Channel() Channel {
	return c.ch
}

// Close closes the channel and the connection.
func (c *Conn) Close() error {
	_ = c.ch.Close()
	return eris.Wrap(c.conn.Close(), "events: close")
}

// DeclareTopology declares the durable topic exchange and, when queue is
// set, the durable trigger queue bound to RequestedKey.
func DeclareTopology(ch Channel, exchange, queue string) error {
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return eris.Wrapf(err, "events: declare exchange %s", exchange)
	}
	if queue == "" {
		return nil
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return eris.Wrapf(err, "events: declare queue %s", queue)
	}
	if err := ch.QueueBind(queue, RequestedKey, exchange, false, nil); err != nil {
		return eris.Wrapf(err, "events: bind queue %s", queue)
	}
	return nil
}

// Publisher emits JSON events on the exchange.
type Publisher struct {
	ch       Channel
	exchange string
}

// NewPublisher creates a Publisher.
func NewPublisher(ch Channel, exchange string) *Publisher {
	return &Publisher{ch: ch, exchange: exchange}
}

// PublishRequested emits an on-demand run trigger.
func (p *Publisher) PublishRequested(ctx context.Context, req RunRequest) error {
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}
	return p.publish(ctx, RequestedKey, req)
}

// PublishCompleted emits a finished run's summary.
func (p *Publisher) PublishCompleted(ctx context.Context, summary *model.RunSummary) error {
	return p.publish(ctx, CompletedKey, summary)
}

func (p *Publisher) publish(ctx context.Context, key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return eris.Wrapf(err, "events: marshal %s", key)
	}
	err = p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	return eris.Wrapf(err, "events: publish %s", key)
}
