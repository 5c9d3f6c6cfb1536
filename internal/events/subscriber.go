package events

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-sourcing/internal/resilience"
)

// Handler processes one trigger. Transient errors requeue the message; any
// other error drops it.
type Handler func(ctx context.Context, req RunRequest) error

// Subscriber consumes trigger events with manual acknowledgement.
type Subscriber struct {
	ch      Channel
	queue   string
	handler Handler
	log     *zap.Logger
}

// NewSubscriber creates a Subscriber for queue.
func NewSubscriber(ch Channel, queue string, handler Handler) *Subscriber {
	return &Subscriber{
		ch:      ch,
		queue:   queue,
		handler: handler,
		log:     zap.L().With(zap.String("component", "events.subscriber"), zap.String("queue", queue)),
	}
}

// Run consumes until ctx is cancelled or the delivery channel closes.
// Deliveries are handled one at a time.
func (s *Subscriber) Run(ctx context.Context) error {
	if err := s.ch.Qos(1, 0, false); err != nil {
		return eris.Wrap(err, "events: set qos")
	}
	msgs, err := s.ch.Consume(s.queue, "", false, false, false, false, nil)
	if err != nil {
		return eris.Wrapf(err, "events: consume %s", s.queue)
	}

	s.log.Info("waiting for trigger events")
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return eris.New("events: delivery channel closed")
			}
			s.handle(ctx, d)
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, d amqp.Delivery) {
	var req RunRequest
	if len(d.Body) > 0 {
		if err := json.Unmarshal(d.Body, &req); err != nil {
			s.log.Warn("malformed trigger event, dropping", zap.Error(err))
			_ = d.Nack(false, false)
			return
		}
	}

	if err := s.handler(ctx, req); err != nil {
		requeue := resilience.IsTransient(err)
		s.log.Error("trigger handling failed",
			zap.String("requested_by", req.RequestedBy),
			zap.Bool("requeue", requeue),
			zap.Error(err),
		)
		_ = d.Nack(false, requeue)
		return
	}
	_ = d.Ack(false)
}
