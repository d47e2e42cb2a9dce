package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolforge/toolforge-be/internal/api/dto"
	creditdomain "github.com/toolforge/toolforge-be/internal/credit/domain"
	"github.com/toolforge/toolforge-be/internal/maintenance"
	"github.com/toolforge/toolforge-be/internal/tooljob/domain"
	"github.com/toolforge/toolforge-be/internal/tooljob/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeJobStore struct {
	jobs map[string]*domain.ToolJob

	createErr   error
	cancelOK    bool
	failedCalls []string
	listResult  []domain.ToolJob
	listErr     error
	lastFilter  storage.JobFilter
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: map[string]*domain.ToolJob{}}
}

func (f *fakeJobStore) CreateJob(_ context.Context, job *domain.ToolJob) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.jobs[job.ID] = job
	return nil
}

func (f *fakeJobStore) GetJobByID(_ context.Context, jobID string) (*domain.ToolJob, error) {
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return job, nil
}

func (f *fakeJobStore) ListJobs(_ context.Context, filter storage.JobFilter) ([]domain.ToolJob, error) {
	f.lastFilter = filter
	return f.listResult, f.listErr
}

func (f *fakeJobStore) CancelJob(_ context.Context, jobID string) (bool, error) {
	return f.cancelOK, nil
}

func (f *fakeJobStore) FailJob(_ context.Context, jobID, errorMessage string) (bool, error) {
	f.failedCalls = append(f.failedCalls, jobID)
	if job, ok := f.jobs[jobID]; ok {
		job.Status = domain.JobStatusFailed
		job.Error = &errorMessage
	}
	return true, nil
}

type fakeEnqueuer struct {
	err    error
	lastID string
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, toolJobID string, priority int) error {
	f.lastID = toolJobID
	return f.err
}

func newTestDeps(jobs *fakeJobStore, queue *fakeEnqueuer) *Dependencies {
	return &Dependencies{
		Logger: slog.Default(),
		Jobs:   jobs,
		Queue:  queue,
	}
}

func performRequest(h gin.HandlerFunc, method, target string, params gin.Params, body any) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	var reqBody *bytes.Buffer
	if body != nil {
		raw, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(raw)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	c.Request = httptest.NewRequest(method, target, reqBody)
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = params

	h(c)
	return w
}

func TestJobHandler_CreateToolJob(t *testing.T) {
	validBody := dto.CreateToolJobRequest{
		ToolSlug: "echo",
		Input:    json.RawMessage(`{"text":"hello"}`),
		UserID:   "user-1",
		Priority: 3,
	}

	t.Run("creates and enqueues job", func(t *testing.T) {
		jobs := newFakeJobStore()
		queue := &fakeEnqueuer{}
		h := NewJobHandler(newTestDeps(jobs, queue))

		w := performRequest(h.CreateToolJob, http.MethodPost, "/api/v1/tool-jobs", nil, validBody)

		require.Equal(t, http.StatusCreated, w.Code)

		var resp dto.ToolJobDTO
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "echo", resp.ToolSlug)
		assert.Equal(t, domain.JobStatusPending, resp.Status)
		assert.Equal(t, 3, resp.Priority)
		assert.Equal(t, 3, resp.MaxAttempts)
		assert.NotEmpty(t, resp.ID)
		assert.Equal(t, resp.ID, queue.lastID)
	})

	t.Run("rejects missing tool_slug", func(t *testing.T) {
		jobs := newFakeJobStore()
		h := NewJobHandler(newTestDeps(jobs, &fakeEnqueuer{}))

		body := validBody
		body.ToolSlug = ""
		w := performRequest(h.CreateToolJob, http.MethodPost, "/api/v1/tool-jobs", nil, body)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Empty(t, jobs.jobs)
	})

	t.Run("rejects negative priority", func(t *testing.T) {
		h := NewJobHandler(newTestDeps(newFakeJobStore(), &fakeEnqueuer{}))

		body := validBody
		body.Priority = -1
		w := performRequest(h.CreateToolJob, http.MethodPost, "/api/v1/tool-jobs", nil, body)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("marks job failed when enqueue fails", func(t *testing.T) {
		jobs := newFakeJobStore()
		queue := &fakeEnqueuer{err: fmt.Errorf("broker down")}
		h := NewJobHandler(newTestDeps(jobs, queue))

		w := performRequest(h.CreateToolJob, http.MethodPost, "/api/v1/tool-jobs", nil, validBody)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		require.Len(t, jobs.failedCalls, 1)
		assert.Equal(t, domain.JobStatusFailed, jobs.jobs[jobs.failedCalls[0]].Status)
	})

	t.Run("storage failure returns 500", func(t *testing.T) {
		jobs := newFakeJobStore()
		jobs.createErr = fmt.Errorf("connection refused")
		h := NewJobHandler(newTestDeps(jobs, &fakeEnqueuer{}))

		w := performRequest(h.CreateToolJob, http.MethodPost, "/api/v1/tool-jobs", nil, validBody)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestJobHandler_GetToolJob(t *testing.T) {
	jobID := uuid.New().String()

	jobs := newFakeJobStore()
	jobs.jobs[jobID] = &domain.ToolJob{
		ID:       jobID,
		ToolSlug: "echo",
		Status:   domain.JobStatusCompleted,
		UserID:   "user-1",
	}
	h := NewJobHandler(newTestDeps(jobs, &fakeEnqueuer{}))

	t.Run("returns job", func(t *testing.T) {
		w := performRequest(h.GetToolJob, http.MethodGet, "/api/v1/tool-jobs/"+jobID,
			gin.Params{{Key: "job_id", Value: jobID}}, nil)

		require.Equal(t, http.StatusOK, w.Code)

		var resp dto.ToolJobDTO
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, jobID, resp.ID)
		assert.Equal(t, domain.JobStatusCompleted, resp.Status)
	})

	t.Run("unknown id returns 404", func(t *testing.T) {
		other := uuid.New().String()
		w := performRequest(h.GetToolJob, http.MethodGet, "/api/v1/tool-jobs/"+other,
			gin.Params{{Key: "job_id", Value: other}}, nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("malformed id returns 400", func(t *testing.T) {
		w := performRequest(h.GetToolJob, http.MethodGet, "/api/v1/tool-jobs/not-a-uuid",
			gin.Params{{Key: "job_id", Value: "not-a-uuid"}}, nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestJobHandler_ListToolJobs(t *testing.T) {
	makeJobs := func(n int) []domain.ToolJob {
		jobs := make([]domain.ToolJob, n)
		base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		for i := range jobs {
			jobs[i] = domain.ToolJob{
				ID:        uuid.New().String(),
				ToolSlug:  "echo",
				Status:    domain.JobStatusPending,
				UserID:    "user-1",
				CreatedAt: base.Add(-time.Duration(i) * time.Minute),
			}
		}
		return jobs
	}

	t.Run("returns next cursor when more results exist", func(t *testing.T) {
		jobs := newFakeJobStore()
		jobs.listResult = makeJobs(3)
		h := NewJobHandler(newTestDeps(jobs, &fakeEnqueuer{}))

		w := performRequest(h.ListToolJobs, http.MethodGet, "/api/v1/tool-jobs?page_size=2", nil, nil)

		require.Equal(t, http.StatusOK, w.Code)

		var resp dto.ListToolJobsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Len(t, resp.Jobs, 2)
		require.NotEmpty(t, resp.NextCursor)

		cursor, err := DecodeJobCursor(resp.NextCursor)
		require.NoError(t, err)
		assert.Equal(t, resp.Jobs[1].ID, cursor.JobID)
	})

	t.Run("no cursor on final page", func(t *testing.T) {
		jobs := newFakeJobStore()
		jobs.listResult = makeJobs(2)
		h := NewJobHandler(newTestDeps(jobs, &fakeEnqueuer{}))

		w := performRequest(h.ListToolJobs, http.MethodGet, "/api/v1/tool-jobs?page_size=5", nil, nil)

		require.Equal(t, http.StatusOK, w.Code)

		var resp dto.ListToolJobsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Len(t, resp.Jobs, 2)
		assert.Empty(t, resp.NextCursor)
	})

	t.Run("clamps page size and passes filters", func(t *testing.T) {
		jobs := newFakeJobStore()
		h := NewJobHandler(newTestDeps(jobs, &fakeEnqueuer{}))

		w := performRequest(h.ListToolJobs, http.MethodGet,
			"/api/v1/tool-jobs?page_size=500&status=PENDING&tool_slug=echo", nil, nil)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 100, jobs.lastFilter.PageSize)
		assert.Equal(t, domain.JobStatusPending, jobs.lastFilter.Status)
		assert.Equal(t, "echo", jobs.lastFilter.ToolSlug)
	})

	t.Run("rejects malformed cursor", func(t *testing.T) {
		h := NewJobHandler(newTestDeps(newFakeJobStore(), &fakeEnqueuer{}))

		w := performRequest(h.ListToolJobs, http.MethodGet, "/api/v1/tool-jobs?cursor=%25%25", nil, nil)

		// %% is not valid base64 after unescaping
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestJobHandler_CancelToolJob(t *testing.T) {
	jobID := uuid.New().String()

	t.Run("cancels pending job", func(t *testing.T) {
		jobs := newFakeJobStore()
		jobs.cancelOK = true
		h := NewJobHandler(newTestDeps(jobs, &fakeEnqueuer{}))

		w := performRequest(h.CancelToolJob, http.MethodPost, "/api/v1/tool-jobs/"+jobID+"/cancel",
			gin.Params{{Key: "job_id", Value: jobID}}, nil)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), domain.JobStatusCancelled)
	})

	t.Run("conflict when job already claimed", func(t *testing.T) {
		jobs := newFakeJobStore()
		jobs.cancelOK = false
		jobs.jobs[jobID] = &domain.ToolJob{ID: jobID, Status: domain.JobStatusProcessing}
		h := NewJobHandler(newTestDeps(jobs, &fakeEnqueuer{}))

		w := performRequest(h.CancelToolJob, http.MethodPost, "/api/v1/tool-jobs/"+jobID+"/cancel",
			gin.Params{{Key: "job_id", Value: jobID}}, nil)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Contains(t, w.Body.String(), domain.JobStatusProcessing)
	})

	t.Run("unknown job returns 404", func(t *testing.T) {
		jobs := newFakeJobStore()
		jobs.cancelOK = false
		h := NewJobHandler(newTestDeps(jobs, &fakeEnqueuer{}))

		w := performRequest(h.CancelToolJob, http.MethodPost, "/api/v1/tool-jobs/"+jobID+"/cancel",
			gin.Params{{Key: "job_id", Value: jobID}}, nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

type fakeLedger struct {
	balance      *creditdomain.CreditBalance
	transactions []creditdomain.CreditTransaction
	err          error
}

func (f *fakeLedger) GetBalance(_ context.Context, organizationID string) (*creditdomain.CreditBalance, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.balance, nil
}

func (f *fakeLedger) ListTransactions(_ context.Context, organizationID string, limit int) ([]creditdomain.CreditTransaction, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.transactions) {
		return f.transactions[:limit], nil
	}
	return f.transactions, nil
}

func (f *fakeLedger) Grant(_ context.Context, organizationID string, included int64, periodStart, periodEnd time.Time) (*creditdomain.CreditBalance, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.balance = &creditdomain.CreditBalance{
		ID:             uuid.New().String(),
		OrganizationID: organizationID,
		Included:       included,
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
	}
	return f.balance, nil
}

func (f *fakeLedger) Reset(_ context.Context, organizationID string, periodStart, periodEnd time.Time) (*creditdomain.CreditBalance, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.balance.Used = 0
	f.balance.Overage = 0
	f.balance.PeriodStart = periodStart
	f.balance.PeriodEnd = periodEnd
	return f.balance, nil
}

func TestCreditHandler_GetCreditBalance(t *testing.T) {
	t.Run("returns balance with remaining", func(t *testing.T) {
		ledger := &fakeLedger{balance: &creditdomain.CreditBalance{
			OrganizationID: "org-1",
			Included:       100,
			Used:           30,
		}}
		h := NewCreditHandler(&Dependencies{Logger: slog.Default(), Credits: ledger})

		w := performRequest(h.GetCreditBalance, http.MethodGet, "/api/v1/organizations/org-1/credits",
			gin.Params{{Key: "org_id", Value: "org-1"}}, nil)

		require.Equal(t, http.StatusOK, w.Code)

		var resp dto.CreditBalanceResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, int64(100), resp.IncludedCredits)
		assert.Equal(t, int64(30), resp.UsedCredits)
		assert.Equal(t, int64(70), resp.Remaining)
	})

	t.Run("unknown organization returns 404", func(t *testing.T) {
		ledger := &fakeLedger{err: creditdomain.ErrBalanceNotFound}
		h := NewCreditHandler(&Dependencies{Logger: slog.Default(), Credits: ledger})

		w := performRequest(h.GetCreditBalance, http.MethodGet, "/api/v1/organizations/org-x/credits",
			gin.Params{{Key: "org_id", Value: "org-x"}}, nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestCreditHandler_GrantCredits(t *testing.T) {
	ledger := &fakeLedger{}
	h := NewCreditHandler(&Dependencies{Logger: slog.Default(), Credits: ledger})

	body := dto.GrantCreditsRequest{
		OrganizationID:  "org-1",
		IncludedCredits: 500,
		PeriodStart:     time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:       time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC),
	}

	w := performRequest(h.GrantCredits, http.MethodPost, "/internal/credits/grant", nil, body)

	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.CreditBalanceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(500), resp.IncludedCredits)
	assert.Equal(t, int64(500), resp.Remaining)
}

type fakeMaintenanceRunner struct {
	summary maintenance.CycleSummary
	err     error
}

func (f *fakeMaintenanceRunner) RunCycle(_ context.Context) (maintenance.CycleSummary, error) {
	return f.summary, f.err
}

func TestMaintenanceHandler_RunMaintenance(t *testing.T) {
	t.Run("returns cycle summary", func(t *testing.T) {
		runner := &fakeMaintenanceRunner{summary: maintenance.CycleSummary{
			Reconciled:            maintenance.ReconcileResult{Synced: 4, Completed: 3, Failed: 1, Success: true},
			StuckJobsMarkedFailed: 2,
			ExpiredJobsDeleted:    10,
		}}
		h := NewMaintenanceHandler(&Dependencies{Logger: slog.Default(), Maintenance: runner})

		w := performRequest(h.RunMaintenance, http.MethodPost, "/internal/maintenance/run", nil, nil)

		require.Equal(t, http.StatusOK, w.Code)

		var resp maintenance.CycleSummary
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, 4, resp.Reconciled.Synced)
		assert.Equal(t, int64(2), resp.StuckJobsMarkedFailed)
		assert.Equal(t, int64(10), resp.ExpiredJobsDeleted)
	})

	t.Run("soft reconcile failure is still 200", func(t *testing.T) {
		runner := &fakeMaintenanceRunner{summary: maintenance.CycleSummary{
			Reconciled: maintenance.ReconcileResult{Success: false, Error: "queue unavailable"},
		}}
		h := NewMaintenanceHandler(&Dependencies{Logger: slog.Default(), Maintenance: runner})

		w := performRequest(h.RunMaintenance, http.MethodPost, "/internal/maintenance/run", nil, nil)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "queue unavailable")
	})

	t.Run("hard step failure returns 500", func(t *testing.T) {
		runner := &fakeMaintenanceRunner{err: fmt.Errorf("database gone")}
		h := NewMaintenanceHandler(&Dependencies{Logger: slog.Default(), Maintenance: runner})

		w := performRequest(h.RunMaintenance, http.MethodPost, "/internal/maintenance/run", nil, nil)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}
