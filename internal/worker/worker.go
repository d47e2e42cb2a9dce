package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	creditdomain "github.com/toolforge/toolforge-be/internal/credit/domain"
	"github.com/toolforge/toolforge-be/internal/queue"
	"github.com/toolforge/toolforge-be/internal/tooljob/domain"
	"github.com/toolforge/toolforge-be/shared/rabbitmq"
)

// JobStore is the slice of the tool job store the worker needs
type JobStore interface {
	GetJobByID(ctx context.Context, jobID string) (*domain.ToolJob, error)
	ClaimJob(ctx context.Context, jobID string) (*domain.ToolJob, error)
	ReleaseJob(ctx context.Context, jobID string) (bool, error)
	CompleteJob(ctx context.Context, jobID string, output []byte) (bool, error)
	FailJob(ctx context.Context, jobID, errorMessage string) (bool, error)
}

// Ledger is the credit deduction entry point the worker needs
type Ledger interface {
	Deduct(ctx context.Context, organizationID string, amount int64, toolSlug string, jobID *string, description string) (*creditdomain.CreditTransaction, error)
}

// OutcomeRecorder persists the queue's terminal outcome for a job
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, toolJobID string, state queue.State) error
}

// CostTable resolves per-tool credit costs
type CostTable struct {
	Default int64
	PerTool map[string]int64
}

// CostFor returns the credit cost of one execution of the given tool
func (t CostTable) CostFor(toolSlug string) int64 {
	if cost, ok := t.PerTool[toolSlug]; ok {
		return cost
	}
	return t.Default
}

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	Jobs          JobStore
	Ledger        Ledger
	Outcomes      OutcomeRecorder
	RabbitClient  *rabbitmq.Client
	Registry      *Registry
	Costs         CostTable
	Concurrency   int
	PrefetchCount int
	JobTimeout    time.Duration
}

// Worker consumes tool job messages, runs the registered processor, and
// settles each job through the deduct-then-complete path: credits are
// deducted before the job is marked COMPLETED, so a crash between the two
// leaves a charged job that reconciliation can still complete without
// billing twice.
type Worker struct {
	logger       *slog.Logger
	jobs         JobStore
	ledger       Ledger
	outcomes     OutcomeRecorder
	rabbitClient *rabbitmq.Client
	registry     *Registry
	costs        CostTable

	workerID      string
	concurrency   int
	prefetchCount int
	jobTimeout    time.Duration

	jobsChan chan *domain.JobMessage
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	return &Worker{
		logger:        cfg.Logger,
		jobs:          cfg.Jobs,
		ledger:        cfg.Ledger,
		outcomes:      cfg.Outcomes,
		rabbitClient:  cfg.RabbitClient,
		registry:      cfg.Registry,
		costs:         cfg.Costs,
		workerID:      fmt.Sprintf("worker-%s", uuid.New().String()[:8]),
		concurrency:   cfg.Concurrency,
		prefetchCount: cfg.PrefetchCount,
		jobTimeout:    cfg.JobTimeout,
		jobsChan:      make(chan *domain.JobMessage),
		stopChan:      make(chan struct{}),
	}
}

// Start begins consuming and processing jobs; it blocks until the context is
// canceled or the delivery channel closes.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
		slog.Any("tools", w.registry.Slugs()),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return fmt.Errorf("failed to set up consumer: %w", err)
	}

	w.spawnWorkerPool(ctx)
	w.startMessageDispatcher(ctx, deliveries)

	return nil
}

// Stop gracefully stops the worker pool. Messages in flight at shutdown are
// redelivered by the broker and settled by a later claim or by maintenance.
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
