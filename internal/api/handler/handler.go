package handler

import (
	"context"
	"log/slog"
	"time"

	creditdomain "github.com/toolforge/toolforge-be/internal/credit/domain"
	"github.com/toolforge/toolforge-be/internal/maintenance"
	"github.com/toolforge/toolforge-be/internal/tooljob/domain"
	"github.com/toolforge/toolforge-be/internal/tooljob/storage"
)

// JobStore is the slice of job persistence the HTTP layer needs
type JobStore interface {
	CreateJob(ctx context.Context, job *domain.ToolJob) error
	GetJobByID(ctx context.Context, jobID string) (*domain.ToolJob, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]domain.ToolJob, error)
	CancelJob(ctx context.Context, jobID string) (bool, error)
	FailJob(ctx context.Context, jobID, errorMessage string) (bool, error)
}

// Enqueuer hands accepted jobs to the message queue
type Enqueuer interface {
	Enqueue(ctx context.Context, toolJobID string, priority int) error
}

// Ledger is the slice of the credit ledger exposed over HTTP
type Ledger interface {
	GetBalance(ctx context.Context, organizationID string) (*creditdomain.CreditBalance, error)
	ListTransactions(ctx context.Context, organizationID string, limit int) ([]creditdomain.CreditTransaction, error)
	Grant(ctx context.Context, organizationID string, included int64, periodStart, periodEnd time.Time) (*creditdomain.CreditBalance, error)
	Reset(ctx context.Context, organizationID string, periodStart, periodEnd time.Time) (*creditdomain.CreditBalance, error)
}

// MaintenanceRunner triggers one maintenance cycle on demand
type MaintenanceRunner interface {
	RunCycle(ctx context.Context) (maintenance.CycleSummary, error)
}

// HealthChecker verifies a backing dependency is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	Jobs        JobStore
	Queue       Enqueuer
	Credits     Ledger
	Maintenance MaintenanceRunner
	DB          HealthChecker
}

// JobHandler handles tool-job HTTP requests
type JobHandler struct {
	logger *slog.Logger
	jobs   JobStore
	queue  Enqueuer
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		jobs:   deps.Jobs,
		queue:  deps.Queue,
	}
}

// CreditHandler handles credit ledger HTTP requests
type CreditHandler struct {
	logger  *slog.Logger
	credits Ledger
}

// NewCreditHandler creates a new CreditHandler instance
func NewCreditHandler(deps *Dependencies) *CreditHandler {
	return &CreditHandler{
		logger:  deps.Logger,
		credits: deps.Credits,
	}
}

// MaintenanceHandler exposes the manual maintenance trigger
type MaintenanceHandler struct {
	logger      *slog.Logger
	maintenance MaintenanceRunner
}

// NewMaintenanceHandler creates a new MaintenanceHandler instance
func NewMaintenanceHandler(deps *Dependencies) *MaintenanceHandler {
	return &MaintenanceHandler{
		logger:      deps.Logger,
		maintenance: deps.Maintenance,
	}
}

// HealthHandler reports service liveness and dependency health
type HealthHandler struct {
	db HealthChecker
}

// NewHealthHandler creates a new HealthHandler instance
func NewHealthHandler(deps *Dependencies) *HealthHandler {
	return &HealthHandler{db: deps.DB}
}
