package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/toolforge/toolforge-be/shared/rabbitmq"
)

// JobMessageBody is the payload carried by every queue message
type JobMessageBody struct {
	ToolJobID string `json:"tool_job_id"`
}

// ExpiredJob is what expire handlers receive when the broker dead-letters a
// message whose TTL elapsed before any worker consumed it.
type ExpiredJob struct {
	ID   string
	Data JobMessageBody
}

// ExpireHandler reacts to a queue-side job expiration
type ExpireHandler func(ctx context.Context, job ExpiredJob) error

// Adapter wraps the RabbitMQ client for job traffic: enqueueing jobs with a
// TTL, recording terminal outcomes, and consuming the expiry dead-letter
// queue. It is constructed once at process start and injected wherever queue
// access is needed; there is no lazily-initialized global.
type Adapter struct {
	client   *rabbitmq.Client
	outcomes *OutcomeStore
	logger   *slog.Logger
	ttl      time.Duration

	mu       sync.Mutex
	handlers []ExpireHandler
	started  bool

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// Config holds queue adapter configuration
type Config struct {
	Client   *rabbitmq.Client
	Outcomes *OutcomeStore
	Logger   *slog.Logger
	// MessageTTL is the per-message expiration window; messages not consumed
	// within it are dead-lettered to the expiry queue
	MessageTTL time.Duration
}

// NewAdapter creates a new queue Adapter
func NewAdapter(cfg *Config) *Adapter {
	return &Adapter{
		client:   cfg.Client,
		outcomes: cfg.Outcomes,
		logger:   cfg.Logger,
		ttl:      cfg.MessageTTL,
		stopChan: make(chan struct{}),
	}
}

// Enqueue publishes a job message referencing the tool job row. Priority maps
// onto AMQP message priority; the configured TTL bounds how long the message
// may sit unconsumed before the broker expires it.
func (a *Adapter) Enqueue(ctx context.Context, toolJobID string, priority int) error {
	body, err := json.Marshal(JobMessageBody{ToolJobID: toolJobID})
	if err != nil {
		return fmt.Errorf("failed to marshal job message: %w", err)
	}

	p := priority
	if p < 0 {
		p = 0
	}
	if p > 255 {
		p = 255
	}

	opts := rabbitmq.PublishOptions{
		Expiration: a.ttl,
		Priority:   uint8(p),
	}
	if err := a.client.PublishWithRetry(ctx, body, "application/json", opts); err != nil {
		return fmt.Errorf("failed to enqueue tool job %s: %w", toolJobID, err)
	}

	a.logger.Info("Tool job enqueued",
		slog.String("tool_job_id", toolJobID),
		slog.Int("priority", p),
		slog.Duration("ttl", a.ttl),
	)

	return nil
}

// RecordOutcome persists a terminal queue outcome for a job
func (a *Adapter) RecordOutcome(ctx context.Context, toolJobID string, state State) error {
	return a.outcomes.RecordOutcome(ctx, toolJobID, state)
}

// OnExpire registers a handler invoked for every expired job. Handlers must
// be registered before Start.
func (a *Adapter) OnExpire(handler ExpireHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers = append(a.handlers, handler)
}

// Start begins consuming the expiry dead-letter queue
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return fmt.Errorf("queue adapter already started")
	}

	deliveries, err := a.client.Consume(a.client.ExpiredQueueName(), "expiry-watcher")
	if err != nil {
		return fmt.Errorf("failed to consume expired queue: %w", err)
	}

	a.started = true
	a.wg.Add(1)
	go a.expiryLoop(ctx, deliveries)

	a.logger.Info("Queue adapter started",
		slog.String("expired_queue", a.client.ExpiredQueueName()),
	)

	return nil
}

// Stop drains the expiry consumer and closes the connection. The wait is
// bounded by the context deadline; anything still in flight at the deadline
// is abandoned on purpose - reconciliation and stuck-job recovery pick those
// jobs up on the next maintenance cycle.
func (a *Adapter) Stop(ctx context.Context) error {
	a.logger.Info("Stopping queue adapter")

	close(a.stopChan)

	if err := a.client.CancelConsumer("expiry-watcher"); err != nil {
		a.logger.Warn("Failed to cancel expiry consumer",
			slog.Any("error", err),
		)
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		a.logger.Info("Queue adapter drained")
	case <-ctx.Done():
		a.logger.Warn("Queue adapter stop timeout exceeded, abandoning in-flight work")
	}

	return a.client.Close()
}

// expiryLoop consumes dead-lettered messages and runs the expire handlers
func (a *Adapter) expiryLoop(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer a.wg.Done()

	for {
		select {
		case <-a.stopChan:
			a.logger.Info("Expiry consumer stopping - adapter stopped")
			return

		case <-ctx.Done():
			a.logger.Info("Expiry consumer stopping - context canceled")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				a.logger.Warn("Expired queue delivery channel closed")
				return
			}

			a.handleExpiredDelivery(ctx, delivery)
		}
	}
}

func (a *Adapter) handleExpiredDelivery(ctx context.Context, delivery amqp.Delivery) {
	var data JobMessageBody
	if err := json.Unmarshal(delivery.Body, &data); err != nil {
		a.logger.Error("Failed to parse expired message",
			slog.String("error", err.Error()),
			slog.String("body", string(delivery.Body)),
		)
		if nackErr := delivery.Nack(false, false); nackErr != nil {
			a.logger.Error("Failed to NACK malformed expired message",
				slog.String("error", nackErr.Error()),
			)
		}
		return
	}

	job := ExpiredJob{
		ID:   delivery.MessageId,
		Data: data,
	}
	if job.ID == "" {
		job.ID = data.ToolJobID
	}

	a.logger.Info("Job message expired in queue",
		slog.String("tool_job_id", data.ToolJobID),
	)

	if err := a.outcomes.RecordOutcome(ctx, data.ToolJobID, StateExpired); err != nil {
		a.logger.Error("Failed to record expired outcome",
			slog.String("tool_job_id", data.ToolJobID),
			slog.String("error", err.Error()),
		)
	}

	a.mu.Lock()
	handlers := a.handlers
	a.mu.Unlock()

	for _, handler := range handlers {
		if err := handler(ctx, job); err != nil {
			// Handler failure is not fatal: the stuck-job backstop resolves
			// any job the expire path could not
			a.logger.Error("Expire handler failed",
				slog.String("tool_job_id", data.ToolJobID),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := delivery.Ack(false); err != nil {
		a.logger.Error("Failed to ACK expired message",
			slog.String("tool_job_id", data.ToolJobID),
			slog.String("error", err.Error()),
		)
	}
}
