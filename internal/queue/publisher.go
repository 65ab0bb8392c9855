package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher sends RegistrationCreatedEvent messages to RabbitMQ. The
// connection is opened on first use and dropped after any failure, so a
// broker outage costs one failed publish per request instead of wedging
// the process. Errors are logged and returned; callers may ignore them.
type Publisher struct {
	url         string
	logger      *slog.Logger
	dialTimeout time.Duration

	// sem serialises access to conn and ch. It is a channel rather than
	// a mutex so waiting callers give up when their context ends.
	sem  chan struct{}
	conn *amqp.Connection
	ch   *amqp.Channel
}

const defaultDialTimeout = 3 * time.Second

// NewPublisher creates a Publisher for the broker at url.
func NewPublisher(url string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		url:         url,
		logger:      logger.With(slog.String("component", "queue-publisher")),
		dialTimeout: defaultDialTimeout,
		sem:         make(chan struct{}, 1),
	}
}

func (p *Publisher) lock(ctx context.Context) error {
	select {
	case p.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Publisher) unlock() { <-p.sem }

// channel returns the open channel, dialing and declaring the queue
// when there is none. The dial and handshake end at the earlier of
// p.dialTimeout and the deadline of ctx. Callers hold the lock.
func (p *Publisher) channel(ctx context.Context) (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.reset()

	timeout := p.dialTimeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("dial: %w", context.DeadlineExceeded)
	}
	conn, err := amqp.DialConfig(p.url, amqp.Config{
		Dial:      amqp.DefaultDial(timeout),
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
	})
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("channel open: %w", err)
	}
	// Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(RegistrationCreatedQueue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("queue declare: %w", err)
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn, p.ch = nil, nil
}

// PublishRegistrationCreated publishes ev as a persistent JSON message.
func (p *Publisher) PublishRegistrationCreated(ctx context.Context, ev RegistrationCreatedEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := p.lock(ctx); err != nil {
		p.logger.WarnContext(ctx, "rabbitmq publisher busy", slog.Any("error", err))
		return fmt.Errorf("wait for publisher: %w", err)
	}
	defer p.unlock()

	ch, err := p.channel(ctx)
	if err != nil {
		p.logger.WarnContext(ctx, "rabbitmq unavailable", slog.Any("error", err))
		return err
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", RegistrationCreatedQueue, false, false, pub); err != nil {
		p.logger.WarnContext(ctx, "rabbitmq publish failed", slog.Any("error", err))
		p.reset()
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Close releases the broker connection.
func (p *Publisher) Close() error {
	p.sem <- struct{}{}
	defer p.unlock()
	p.reset()
	return nil
}
