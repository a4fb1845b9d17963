package models

import "time"

const (
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Run is one entry of the pipeline_runs log.
type Run struct {
	RunID        string    `json:"runId"`
	StartedAt    time.Time `json:"startedAt"`
	FinishedAt   time.Time `json:"finishedAt"`
	Status       string    `json:"status"`
	Fetched      int       `json:"fetched"`
	Valid        int       `json:"valid"`
	Invalid      int       `json:"invalid"`
	Written      int       `json:"written"`
	StoreSkipped bool      `json:"storeSkipped"`
	Error        string    `json:"error,omitempty"`
}

// CycleReport summarises one end-to-end pipeline run.
type CycleReport struct {
	RunID        string             `json:"runId"`
	StartedAt    time.Time          `json:"startedAt"`
	FinishedAt   time.Time          `json:"finishedAt"`
	Fetched      int                `json:"fetched"`
	Valid        int                `json:"valid"`
	Invalid      int                `json:"invalid"`
	Written      int                `json:"written"`
	StoreSkipped bool               `json:"storeSkipped"`
	Rejected     []*ValidationError `json:"rejected,omitempty"`
	ArchivePath  string             `json:"archivePath,omitempty"`
	Err          error              `json:"-"`
}

func (r *CycleReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

func (r *CycleReport) Failed() bool { return r.Err != nil }

// Run converts the report into its pipeline_runs entry.
func (r *CycleReport) Run() Run {
	run := Run{
		RunID:        r.RunID,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
		Status:       RunSucceeded,
		Fetched:      r.Fetched,
		Valid:        r.Valid,
		Invalid:      r.Invalid,
		Written:      r.Written,
		StoreSkipped: r.StoreSkipped,
	}
	if r.Err != nil {
		run.Status = RunFailed
		run.Error = r.Err.Error()
	}
	return run
}
