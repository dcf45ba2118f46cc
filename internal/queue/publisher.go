package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrNotConfirmed is returned when the broker nacks a publish or does not
// confirm it before the context ends.
var ErrNotConfirmed = errors.New("publish not confirmed by broker")

// ErrBrokerUnavailable is returned when the broker could not be reached, and
// without dialling while a recent dial failure is still backing off.
var ErrBrokerUnavailable = errors.New("broker unavailable")

const (
	defaultDialTimeout = 3 * time.Second
	defaultRetryAfter  = 10 * time.Second
)

// Publisher publishes JSON messages to durable queues with publisher
// confirms.  The connection is dialled lazily, outside the lock, and
// re-dialled after the broker closes it.  After a failed dial publishes fail
// fast with ErrBrokerUnavailable until the retry delay passes, so an outage
// costs at most one dial timeout per delay.
type Publisher struct {
	url         string
	log         *zap.Logger
	dialTimeout time.Duration
	retryAfter  time.Duration
	now         func() time.Time

	mu        sync.Mutex
	conn      *amqp.Connection
	declared  map[string]bool
	dialing   chan struct{} // closed when the in-flight dial returns
	downUntil time.Time
	lastErr   error
}

// PublisherOption tunes a Publisher.
type PublisherOption func(*Publisher)

// WithDialTimeout bounds the TCP connect and the AMQP handshake.
func WithDialTimeout(d time.Duration) PublisherOption {
	return func(p *Publisher) {
		if d > 0 {
			p.dialTimeout = d
		}
	}
}

// WithRetryAfter sets how long a failed dial short-circuits later publishes.
func WithRetryAfter(d time.Duration) PublisherOption {
	return func(p *Publisher) {
		if d > 0 {
			p.retryAfter = d
		}
	}
}

// NewPublisher returns a Publisher for the broker at url.
func NewPublisher(url string, log *zap.Logger, opts ...PublisherOption) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Publisher{
		url:         url,
		log:         log,
		dialTimeout: defaultDialTimeout,
		retryAfter:  defaultRetryAfter,
		now:         time.Now,
		declared:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Publisher) connection(ctx context.Context) (*amqp.Connection, error) {
	for {
		p.mu.Lock()
		if p.conn != nil && !p.conn.IsClosed() {
			conn := p.conn
			p.mu.Unlock()
			return conn, nil
		}
		if p.now().Before(p.downUntil) {
			err := p.lastErr
			p.mu.Unlock()
			return nil, errors.Join(ErrBrokerUnavailable, err)
		}
		if wait := p.dialing; wait != nil {
			p.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		wait := make(chan struct{})
		p.dialing = wait
		p.mu.Unlock()

		conn, err := p.dial(ctx)

		p.mu.Lock()
		p.dialing = nil
		close(wait)
		if err != nil {
			err = fmt.Errorf("dial broker: %w", err)
			if ctx.Err() == nil {
				p.downUntil = p.now().Add(p.retryAfter)
				p.lastErr = err
			}
			p.mu.Unlock()
			return nil, errors.Join(ErrBrokerUnavailable, err)
		}
		p.conn = conn
		p.declared = make(map[string]bool)
		p.downUntil = time.Time{}
		p.lastErr = nil
		p.mu.Unlock()
		return conn, nil
	}
}

// dial connects with a timeout that also covers the handshake, and gives up
// when ctx ends.
func (p *Publisher) dial(ctx context.Context) (*amqp.Connection, error) {
	return amqp.DialConfig(p.url, amqp.Config{
		Locale: "en_US",
		Dial: func(network, addr string) (net.Conn, error) {
			d := net.Dialer{Timeout: p.dialTimeout}
			conn, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			// amqp091 clears the deadline once the connection is open.
			deadline := time.Now().Add(p.dialTimeout)
			if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
				deadline = dl
			}
			if err := conn.SetDeadline(deadline); err != nil {
				_ = conn.Close()
				return nil, err
			}
			return conn, nil
		},
	})
}

// Publish marshals v and publishes it as a persistent message to queueName,
// waiting for the broker confirm.
func (p *Publisher) Publish(ctx context.Context, queueName string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", queueName, err)
	}
	conn, err := p.connection(ctx)
	if err != nil {
		p.log.Warn("rabbitmq unavailable", zap.String("queue", queueName), zap.Error(err))
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := p.declare(ch, queueName); err != nil {
		return err
	}
	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("confirm mode: %w", err)
	}

	dc, err := ch.PublishWithDeferredConfirmWithContext(ctx,
		"",        // default exchange
		queueName, // routing key = queue name
		false,     // mandatory
		false,     // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("publish %s: %w", queueName, err)
	}
	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return errors.Join(ErrNotConfirmed, err)
	}
	if !acked {
		return ErrNotConfirmed
	}
	return nil
}

// declare makes sure the durable queue exists once per connection.
func (p *Publisher) declare(ch *amqp.Channel, queueName string) error {
	p.mu.Lock()
	done := p.declared[queueName]
	p.mu.Unlock()
	if done {
		return nil
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare %s: %w", queueName, err)
	}
	p.mu.Lock()
	p.declared[queueName] = true
	p.mu.Unlock()
	return nil
}

// PublishVisitModerated publishes to the visit.moderated queue.
func (p *Publisher) PublishVisitModerated(ctx context.Context, ev VisitModeratedEvent) error {
	return p.Publish(ctx, VisitModeratedQueue, ev)
}

// PublishAutomation publishes to the automation.notifications queue.
func (p *Publisher) PublishAutomation(ctx context.Context, msg AutomationMessage) error {
	return p.Publish(ctx, AutomationQueue, msg)
}

// Close closes the broker connection if one is open.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil || p.conn.IsClosed() {
		return nil
	}
	return p.conn.Close()
}
