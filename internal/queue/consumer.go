package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/club-event-registration/internal/metrics"
)

// AuditFile is the file, inside the consumer's log directory, that
// receives one line per registration.
const AuditFile = "registrations.log"

// Consumer drains the registration.created queue into an append-only
// audit log.
type Consumer struct {
	url     string
	dir     string
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu sync.Mutex // serialises writes to the audit file
}

func NewConsumer(url, dir string, logger *slog.Logger, m *metrics.Metrics) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	if dir == "" {
		dir = "logs"
	}
	return &Consumer{url: url, dir: dir, logger: logger.With(slog.String("component", "registration-consumer")), metrics: m}
}

// Run connects to RabbitMQ, declares the queue and consumes until ctx is
// cancelled. Broker failures trigger a reconnect with exponential
// backoff capped at 30s; Run only returns ctx.Err().
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.logger.WarnContext(ctx, "failed to dial broker", slog.Any("error", err), slog.Duration("retry_in", backoff))
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.WarnContext(ctx, "consume loop ended; reconnecting", slog.Any("error", err))
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.logger.WarnContext(ctx, "set QoS failed", slog.Any("error", err))
	}
	if _, err := ch.QueueDeclare(RegistrationCreatedQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.ConsumeWithContext(ctx, RegistrationCreatedQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	c.logger.InfoContext(ctx, "consuming", slog.String("queue", RegistrationCreatedQueue))

	for d := range msgs {
		if err := c.handleMessage(d.Body); err != nil {
			c.logger.ErrorContext(ctx, "handle message failed", slog.Any("error", err))
			c.metrics.Queue("in", metrics.OutcomeError)
			_ = d.Nack(false, false) // reject without requeue to avoid tight loops
			continue
		}
		c.metrics.Queue("in", metrics.OutcomeSuccess)
		_ = d.Ack(false)
	}
	return errors.New("deliveries channel closed")
}

func (c *Consumer) handleMessage(body []byte) error {
	var ev RegistrationCreatedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.ListingID == "" || ev.StudentID == 0 {
		return errors.New("event is missing listing_id or student_id")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", c.dir, err)
	}
	f, err := os.OpenFile(filepath.Join(c.dir, AuditFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	line := fmt.Sprintf("[%s] Registration created | kind=%s | listing_id=%s | listing=%q | student_id=%d | email=%s | status=%s\n",
		ev.RegisteredAt, ev.Kind, ev.ListingID, ev.ListingName, ev.StudentID, ev.StudentEmail, ev.Status)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}
