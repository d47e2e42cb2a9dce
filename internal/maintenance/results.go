package maintenance

// ReconcileResult summarizes one reconciliation pass. Success=false with a
// populated Error means the pass soft-failed (queue unreachable); the
// counters then cover whatever was processed before the failure.
type ReconcileResult struct {
	Synced    int    `json:"synced"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Expired   int    `json:"expired"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// StuckResult summarizes one stuck-job recovery pass
type StuckResult struct {
	Count int64 `json:"count"`
}

// CleanupResult summarizes one retention cleanup pass
type CleanupResult struct {
	Deleted int64 `json:"deleted"`
}

// CycleSummary aggregates the three maintenance steps of one cycle
type CycleSummary struct {
	Reconciled            ReconcileResult `json:"reconciled"`
	StuckJobsMarkedFailed int64           `json:"stuck_jobs_marked_failed"`
	ExpiredJobsDeleted    int64           `json:"expired_jobs_deleted"`
}
