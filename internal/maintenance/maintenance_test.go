package maintenance

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/toolforge/toolforge-be/internal/queue"
	"github.com/toolforge/toolforge-be/internal/tooljob/domain"
)

type fakeJobStore struct {
	processing []domain.ToolJob
	listErr    error

	completedIDs []string
	completeErr  error
	// staleIDs simulates jobs whose guarded update affects zero rows
	staleIDs map[string]bool

	failedIDs    []string
	failMessages map[string]string
	failErr      error

	stuckCutoff  time.Time
	stuckMessage string
	stuckCount   int64
	stuckErr     error

	completedBefore time.Time
	failedBefore    time.Time
	deletedCount    int64
	deleteErr       error
}

func (f *fakeJobStore) ListProcessing(_ context.Context, _ int) ([]domain.ToolJob, error) {
	return f.processing, f.listErr
}

func (f *fakeJobStore) CompleteJob(_ context.Context, jobID string, _ []byte) (bool, error) {
	if f.completeErr != nil {
		return false, f.completeErr
	}
	f.completedIDs = append(f.completedIDs, jobID)
	return !f.staleIDs[jobID], nil
}

func (f *fakeJobStore) FailJob(_ context.Context, jobID, errorMessage string) (bool, error) {
	if f.failErr != nil {
		return false, f.failErr
	}
	f.failedIDs = append(f.failedIDs, jobID)
	if f.failMessages == nil {
		f.failMessages = map[string]string{}
	}
	f.failMessages[jobID] = errorMessage
	return !f.staleIDs[jobID], nil
}

func (f *fakeJobStore) MarkStuckFailed(_ context.Context, cutoff time.Time, errorMessage string) (int64, error) {
	f.stuckCutoff = cutoff
	f.stuckMessage = errorMessage
	return f.stuckCount, f.stuckErr
}

func (f *fakeJobStore) DeleteTerminalBefore(_ context.Context, completedBefore, failedBefore time.Time) (int64, error) {
	f.completedBefore = completedBefore
	f.failedBefore = failedBefore
	return f.deletedCount, f.deleteErr
}

type fakeQueueState struct {
	states map[string]queue.State
	err    error
}

func (f *fakeQueueState) Lookup(_ context.Context, toolJobID string) (queue.State, error) {
	if f.err != nil {
		return queue.StateNotFound, f.err
	}
	state, ok := f.states[toolJobID]
	if !ok {
		return queue.StateNotFound, nil
	}
	return state, nil
}

func processingJob(id string) domain.ToolJob {
	started := time.Now().Add(-time.Minute)
	return domain.ToolJob{
		ID:        id,
		ToolSlug:  "document-analysis",
		Status:    domain.JobStatusProcessing,
		StartedAt: &started,
	}
}

func TestReconciler_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("maps queue outcomes onto processing rows", func(t *testing.T) {
		jobs := &fakeJobStore{
			processing: []domain.ToolJob{
				processingJob("done"),
				processingJob("broken"),
				processingJob("timed-out"),
				processingJob("unresolved"),
			},
		}
		queueState := &fakeQueueState{states: map[string]queue.State{
			"done":      queue.StateCompleted,
			"broken":    queue.StateFailed,
			"timed-out": queue.StateExpired,
		}}

		result := NewReconciler(jobs, queueState, slog.Default()).Run(ctx)

		assert.True(t, result.Success)
		assert.Empty(t, result.Error)
		assert.Equal(t, 3, result.Synced)
		assert.Equal(t, 1, result.Completed)
		assert.Equal(t, 1, result.Failed)
		assert.Equal(t, 1, result.Expired)

		assert.Equal(t, []string{"done"}, jobs.completedIDs)
		assert.ElementsMatch(t, []string{"broken", "timed-out"}, jobs.failedIDs)
		// Unresolved jobs are left for the stuck-job backstop
		assert.NotContains(t, jobs.failedIDs, "unresolved")
	})

	t.Run("already-terminal row is an idempotent no-op", func(t *testing.T) {
		jobs := &fakeJobStore{
			processing: []domain.ToolJob{processingJob("raced")},
			staleIDs:   map[string]bool{"raced": true},
		}
		queueState := &fakeQueueState{states: map[string]queue.State{
			"raced": queue.StateCompleted,
		}}

		result := NewReconciler(jobs, queueState, slog.Default()).Run(ctx)

		assert.True(t, result.Success)
		assert.Equal(t, 1, result.Synced)
		assert.Equal(t, 0, result.Completed)
	})

	t.Run("queue unreachable reports a soft failure", func(t *testing.T) {
		jobs := &fakeJobStore{
			processing: []domain.ToolJob{processingJob("a"), processingJob("b")},
		}
		queueState := &fakeQueueState{err: queue.ErrQueueUnavailable}

		result := NewReconciler(jobs, queueState, slog.Default()).Run(ctx)

		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "queue unavailable")
		assert.Empty(t, jobs.completedIDs)
		assert.Empty(t, jobs.failedIDs)
	})

	t.Run("listing failure reports a soft failure", func(t *testing.T) {
		jobs := &fakeJobStore{listErr: errors.New("connection refused")}

		result := NewReconciler(jobs, &fakeQueueState{}, slog.Default()).Run(ctx)

		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "connection refused")
	})

	t.Run("expired outcome reuses the expiration error", func(t *testing.T) {
		jobs := &fakeJobStore{
			processing: []domain.ToolJob{processingJob("timed-out")},
		}
		queueState := &fakeQueueState{states: map[string]queue.State{
			"timed-out": queue.StateExpired,
		}}

		NewReconciler(jobs, queueState, slog.Default()).Run(ctx)

		assert.Contains(t, jobs.failMessages["timed-out"], "expired")
	})
}

func TestStuckRecovery_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("cutoff is now minus threshold", func(t *testing.T) {
		jobs := &fakeJobStore{stuckCount: 1}
		recovery := NewStuckRecovery(jobs, 30*time.Minute, slog.Default())

		before := time.Now().Add(-30 * time.Minute)
		result, err := recovery.Run(ctx)
		after := time.Now().Add(-30 * time.Minute)

		require.NoError(t, err)
		assert.Equal(t, int64(1), result.Count)
		assert.False(t, jobs.stuckCutoff.Before(before))
		assert.False(t, jobs.stuckCutoff.After(after))
		assert.Contains(t, jobs.stuckMessage, "stuck")
	})

	t.Run("non-positive threshold uses the default", func(t *testing.T) {
		jobs := &fakeJobStore{}
		recovery := NewStuckRecovery(jobs, 0, slog.Default())

		_, err := recovery.Run(ctx)
		require.NoError(t, err)

		wantCutoff := time.Now().Add(-DefaultStuckThreshold)
		assert.WithinDuration(t, wantCutoff, jobs.stuckCutoff, time.Minute)
	})

	t.Run("store errors propagate", func(t *testing.T) {
		jobs := &fakeJobStore{stuckErr: errors.New("connection refused")}
		recovery := NewStuckRecovery(jobs, time.Minute, slog.Default())

		_, err := recovery.Run(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "stuck job recovery")
	})
}

func TestRetentionCleanup_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("applies separate retention windows", func(t *testing.T) {
		jobs := &fakeJobStore{deletedCount: 4}
		cleanup := NewRetentionCleanup(jobs, 7*24*time.Hour, 14*24*time.Hour, slog.Default())

		result, err := cleanup.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(4), result.Deleted)

		assert.WithinDuration(t, time.Now().Add(-7*24*time.Hour), jobs.completedBefore, time.Minute)
		assert.WithinDuration(t, time.Now().Add(-14*24*time.Hour), jobs.failedBefore, time.Minute)
	})

	t.Run("store errors propagate", func(t *testing.T) {
		jobs := &fakeJobStore{deleteErr: errors.New("connection refused")}
		cleanup := NewRetentionCleanup(jobs, 0, 0, slog.Default())

		_, err := cleanup.Run(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "retention cleanup")
	})
}

func newOrchestrator(jobs *fakeJobStore, queueState *fakeQueueState) *Orchestrator {
	logger := slog.Default()
	return NewOrchestrator(
		NewReconciler(jobs, queueState, logger),
		NewStuckRecovery(jobs, 30*time.Minute, logger),
		NewRetentionCleanup(jobs, 0, 0, logger),
		logger,
	)
}

func TestOrchestrator_RunCycle(t *testing.T) {
	ctx := context.Background()

	t.Run("aggregates all three steps", func(t *testing.T) {
		jobs := &fakeJobStore{
			processing:   []domain.ToolJob{processingJob("done")},
			stuckCount:   2,
			deletedCount: 5,
		}
		queueState := &fakeQueueState{states: map[string]queue.State{
			"done": queue.StateCompleted,
		}}

		summary, err := newOrchestrator(jobs, queueState).RunCycle(ctx)
		require.NoError(t, err)

		assert.True(t, summary.Reconciled.Success)
		assert.Equal(t, 1, summary.Reconciled.Completed)
		assert.Equal(t, int64(2), summary.StuckJobsMarkedFailed)
		assert.Equal(t, int64(5), summary.ExpiredJobsDeleted)
	})

	t.Run("reconciliation soft-failure does not block the other steps", func(t *testing.T) {
		jobs := &fakeJobStore{
			processing:   []domain.ToolJob{processingJob("a")},
			stuckCount:   1,
			deletedCount: 3,
		}
		queueState := &fakeQueueState{err: queue.ErrQueueUnavailable}

		summary, err := newOrchestrator(jobs, queueState).RunCycle(ctx)
		require.NoError(t, err)

		assert.False(t, summary.Reconciled.Success)
		assert.NotEmpty(t, summary.Reconciled.Error)
		assert.Equal(t, int64(1), summary.StuckJobsMarkedFailed)
		assert.Equal(t, int64(3), summary.ExpiredJobsDeleted)
	})

	t.Run("stuck step failure still runs cleanup", func(t *testing.T) {
		jobs := &fakeJobStore{
			stuckErr:     errors.New("connection refused"),
			deletedCount: 2,
		}

		summary, err := newOrchestrator(jobs, &fakeQueueState{}).RunCycle(ctx)
		require.Error(t, err)

		assert.Equal(t, int64(0), summary.StuckJobsMarkedFailed)
		assert.Equal(t, int64(2), summary.ExpiredJobsDeleted)
	})
}
