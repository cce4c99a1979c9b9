package recon

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stats counts the outcomes of one reconciliation run.
type Stats struct {
	Processed int `json:"processed"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Disabled  int `json:"disabled"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// EntityError records a per-entity failure that did not stop the run.
type EntityError struct {
	EntityID string `json:"entityId"`
	Message  string `json:"message"`
	Audit    bool   `json:"audit"`
}

// Result describes one reconciliation run end to end.
type Result struct {
	RunID     string        `json:"runId"`
	Direction string        `json:"direction"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Stats     Stats         `json:"stats"`
	Errors    []EntityError `json:"errors,omitempty"`
	Repaired  int           `json:"repairedMappings,omitempty"`
}

// newResult starts a run record for one direction.
func newResult(direction string) *Result {
	return &Result{
		RunID:     uuid.NewString(),
		Direction: direction,
		StartedAt: time.Now().UTC(),
	}
}

// finalize stamps the run duration.
func (r *Result) finalize() *Result {
	r.Duration = time.Since(r.StartedAt)
	return r
}

// addError records one per-entity failure.
func (r *Result) addError(entityID string, err error, audit bool) {
	r.Stats.Failed++
	r.Errors = append(r.Errors, EntityError{EntityID: entityID, Message: err.Error(), Audit: audit})
}

// Summary renders a one-line human summary of the run.
func (r *Result) Summary() string {
	return fmt.Sprintf("%s: processed=%d created=%d updated=%d disabled=%d skipped=%d failed=%d in %s",
		r.Direction, r.Stats.Processed, r.Stats.Created, r.Stats.Updated,
		r.Stats.Disabled, r.Stats.Skipped, r.Stats.Failed, r.Duration.Round(time.Millisecond))
}
