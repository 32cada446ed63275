package deployer

import (
	"time"

	"github.com/samber/lo"

	"github.com/unbasical/webship/pkg/cdn"
)

// RunState is the state of one deployment run.
type RunState string

const (
	StatePlanning     RunState = "planning"
	StateApplying     RunState = "applying"
	StateInvalidating RunState = "invalidating"
	StateVerifying    RunState = "verifying"
	StateSucceeded    RunState = "succeeded"
	// StatePartiallyFailed means the content is live at the origin but the
	// deployment could not be fully confirmed, e.g. CDN propagation is
	// unconfirmed or the run was cancelled mid-apply.
	StatePartiallyFailed RunState = "partially_failed"
	StateFailed          RunState = "failed"
)

// IsTerminal reports whether the run has finished.
func (s RunState) IsTerminal() bool {
	switch s {
	case StateSucceeded, StatePartiallyFailed, StateFailed:
		return true
	default:
		return false
	}
}

// PathOutcome is the final result of one planned action.
type PathOutcome string

const (
	OutcomeUploaded PathOutcome = "uploaded"
	OutcomeDeleted  PathOutcome = "deleted"
	OutcomeSkipped  PathOutcome = "skipped"
	OutcomeFailed   PathOutcome = "failed"
)

// PathResult is the outcome of one planned action, including how many
// attempts the operation took.
type PathResult struct {
	Path     string      `json:"path"`
	Action   Action      `json:"action"`
	Outcome  PathOutcome `json:"outcome"`
	Attempts int         `json:"attempts,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// InvalidationReport describes the invalidation stage of a run.
type InvalidationReport struct {
	// Submitted is true once the CDN accepted the batch.
	Submitted bool `json:"submitted"`
	// ID identifies the invalidation at the CDN.
	ID string `json:"id,omitempty"`
	// Paths contains the published paths of the batch.
	Paths []string `json:"paths,omitempty"`
	// Status is the last observed invalidation status.
	Status cdn.Status `json:"status,omitempty"`
	// Confirmed is true once the CDN reported the invalidation as done.
	Confirmed bool   `json:"confirmed"`
	Error     string `json:"error,omitempty"`
}

// Report enumerates every path of a deployment run and its outcome.
// Partial success is always visible and never upgraded to success.
type Report struct {
	Environment   string             `json:"environment"`
	State         RunState           `json:"state"`
	StartedAt     time.Time          `json:"started_at"`
	FinishedAt    time.Time          `json:"finished_at"`
	Results       []PathResult       `json:"results"`
	Uploaded      int                `json:"uploaded"`
	Deleted       int                `json:"deleted"`
	Skipped       int                `json:"skipped"`
	Failed        int                `json:"failed"`
	BytesUploaded int64              `json:"bytes_uploaded"`
	Invalidation  InvalidationReport `json:"invalidation"`
	Notes         []string           `json:"notes,omitempty"`
}

// countOutcomes fills the per-outcome counters from the results.
func (r *Report) countOutcomes() {
	counts := lo.CountValuesBy(r.Results, func(res PathResult) PathOutcome {
		return res.Outcome
	})
	r.Uploaded = counts[OutcomeUploaded]
	r.Deleted = counts[OutcomeDeleted]
	r.Skipped = counts[OutcomeSkipped]
	r.Failed = counts[OutcomeFailed]
}

// failedUploads reports whether any upload action failed.
func (r *Report) failedUploads() bool {
	return lo.SomeBy(r.Results, func(res PathResult) bool {
		return res.Action == ActionUpload && res.Outcome == OutcomeFailed
	})
}

// failedDeletes reports whether any delete action failed.
func (r *Report) failedDeletes() bool {
	return lo.SomeBy(r.Results, func(res PathResult) bool {
		return res.Action == ActionDelete && res.Outcome == OutcomeFailed
	})
}

// changedPaths returns the paths whose objects were successfully uploaded or deleted.
func (r *Report) changedPaths() []string {
	results := lo.Filter(r.Results, func(res PathResult, _ int) bool {
		return res.Outcome == OutcomeUploaded || res.Outcome == OutcomeDeleted
	})
	return lo.Map(results, func(res PathResult, _ int) string {
		return res.Path
	})
}

func (r *Report) note(msg string) {
	r.Notes = append(r.Notes, msg)
}
