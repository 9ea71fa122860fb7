package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrPublisherBusy is returned when the outgoing buffer is full.
var ErrPublisherBusy = errors.New("queue: publisher buffer full")

const (
	publishBuffer = 256
	sendAttempts  = 3
)

// session is an open channel to the broker with the booking queue declared.
type session interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type amqpSession struct {
	conn *amqp.Connection
	*amqp.Channel
}

func (s amqpSession) Close() error {
	_ = s.Channel.Close()
	return s.conn.Close()
}

// Publisher sends booking events to RabbitMQ.  Publish only enqueues;
// Run drains the buffer in the background over one long-lived
// connection, so a slow or unreachable broker never delays a request.
type Publisher struct {
	queue   string
	logger  *zap.Logger
	pending chan BookingEvent
	dial    func(ctx context.Context) (session, error)

	sendTimeout  time.Duration
	retryDelay   time.Duration
	drainTimeout time.Duration

	// owned by Run
	sess session
}

// NewPublisher returns a Publisher for the broker at url.
func NewPublisher(url string, logger *zap.Logger) *Publisher {
	p := &Publisher{
		queue:        BookingQueueName,
		logger:       logger,
		pending:      make(chan BookingEvent, publishBuffer),
		sendTimeout:  10 * time.Second,
		retryDelay:   time.Second,
		drainTimeout: 3 * time.Second,
	}
	p.dial = func(ctx context.Context) (session, error) { return dialSession(ctx, url, p.queue) }
	return p
}

func dialSession(ctx context.Context, url, queue string) (session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn, err := amqp.DialConfig(url, amqp.Config{Dial: amqp.DefaultDial(5 * time.Second)})
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("channel open: %w", err)
	}
	// Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("queue declare: %w", err)
	}
	return amqpSession{conn: conn, Channel: ch}, nil
}

// Publish enqueues ev for delivery.
func (p *Publisher) Publish(_ context.Context, ev BookingEvent) error {
	select {
	case p.pending <- ev:
		return nil
	default:
		return ErrPublisherBusy
	}
}

// Run delivers queued events until ctx is cancelled, then flushes what
// is still buffered within drainTimeout.  A failed send reconnects and
// retries with a doubling delay; an event that still fails is logged
// and dropped.
func (p *Publisher) Run(ctx context.Context) {
	defer p.closeSession()
	for {
		select {
		case <-ctx.Done():
			p.drain()
			return
		case ev := <-p.pending:
			if err := p.deliver(ctx, ev); err != nil {
				if ctx.Err() != nil {
					p.drain(ev)
					return
				}
				p.logger.Warn("booking event dropped",
					zap.String("event", string(ev.Type)),
					zap.Uint64("booking_id", ev.BookingID),
					zap.Error(err))
			}
		}
	}
}

func (p *Publisher) deliver(ctx context.Context, ev BookingEvent) error {
	delay := p.retryDelay
	var err error
	for attempt := 1; attempt <= sendAttempts; attempt++ {
		if err = p.send(ctx, ev); err == nil {
			return nil
		}
		if attempt == sendAttempts || !sleep(ctx, delay) {
			break
		}
		delay *= 2
	}
	return err
}

// drain sends carry and everything still buffered, giving up at the
// first failure or when drainTimeout passes.
func (p *Publisher) drain(carry ...BookingEvent) {
	events := carry
	for n := len(p.pending); n > 0; n-- {
		events = append(events, <-p.pending)
	}
	if len(events) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.drainTimeout)
	defer cancel()
	for i, ev := range events {
		if err := p.send(ctx, ev); err != nil {
			p.logger.Warn("booking events dropped on shutdown",
				zap.Int("count", len(events)-i),
				zap.Error(err))
			return
		}
	}
	p.logger.Debug("booking events flushed", zap.Int("count", len(events)))
}

func (p *Publisher) send(ctx context.Context, ev BookingEvent) error {
	if p.sess == nil {
		s, err := p.dial(ctx)
		if err != nil {
			return fmt.Errorf("dial: %w", err)
		}
		p.sess = s
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	sendCtx, cancel := context.WithTimeout(ctx, p.sendTimeout)
	defer cancel()
	err = p.sess.PublishWithContext(sendCtx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         string(ev.Type),
		Body:         body,
	})
	if err != nil {
		// the channel may be dead; reconnect on the next send
		p.closeSession()
	}
	return err
}

func (p *Publisher) closeSession() {
	if p.sess != nil {
		_ = p.sess.Close()
		p.sess = nil
	}
}
