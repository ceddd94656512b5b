// Package pipeline orchestrates one end-to-end execution per entity
// type: extract, standardize, validate, load, with a single-writer run
// record tracking status, counts and per-phase durations.
package pipeline

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"mdetl/internal/extract"
	"mdetl/internal/load"
)

// Status is the run lifecycle enum. A run starts running and moves to
// exactly one terminal status.
type Status string

const (
	StatusRunning        Status = "running"
	StatusSuccess        Status = "success"
	StatusPartialSuccess Status = "partial_success"
	StatusFailed         Status = "failed"
	StatusCancelled      Status = "cancelled"
)

// Phase names the four sequential stages of a run.
type Phase string

const (
	PhaseExtract     Phase = "extract"
	PhaseStandardize Phase = "standardize"
	PhaseValidate    Phase = "validate"
	PhaseLoad        Phase = "load"
)

// Counts aggregates record accounting for one run. Invariants:
// Extracted == Accepted + Rejected after validation, and
// Loaded + Failed == Accepted after loading.
type Counts struct {
	Extracted    int `json:"extracted"`
	Standardized int `json:"standardized"`
	Accepted     int `json:"accepted"`
	Rejected     int `json:"rejected"`
	Loaded       int `json:"loaded"`
	Failed       int `json:"failed"`
	Warnings     int `json:"warnings"`
}

// Run is the metadata record for one execution. Only the owning runner
// mutates it; readers get copies via Snapshot.
type Run struct {
	mu sync.RWMutex

	id        string
	name      string
	entity    extract.EntityType
	status    Status
	startedAt time.Time
	endedAt   time.Time
	counts    Counts
	durations map[Phase]time.Duration
	params    extract.Params
	errMsg    string
}

// NewRun creates a running Run for one entity pipeline.
func NewRun(name string, entity extract.EntityType, params extract.Params) *Run {
	return &Run{
		id:        uuid.New().String(),
		name:      name,
		entity:    entity,
		status:    StatusRunning,
		startedAt: time.Now().UTC(),
		durations: make(map[Phase]time.Duration),
		params:    params,
	}
}

func (r *Run) ID() string { return r.id }

func (r *Run) Entity() extract.EntityType { return r.entity }

func (r *Run) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Finalized reports whether the run reached a terminal status.
func (r *Run) Finalized() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.endedAt.IsZero()
}

// Counts returns a copy of the current accounting.
func (r *Run) Counts() Counts {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.counts
}

func (r *Run) setCounts(mutate func(*Counts)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mutate(&r.counts)
}

// recordPhase stores one phase's wall-clock duration.
func (r *Run) recordPhase(phase Phase, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.durations[phase] = d
}

// Finalize moves the run to a terminal status. It fails once the run is
// already terminal; the first finalization wins.
func (r *Run) Finalize(status Status, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.endedAt.IsZero() {
		return fmt.Errorf("run %s already finalized as %s", r.id, r.status)
	}
	switch status {
	case StatusSuccess, StatusPartialSuccess, StatusFailed, StatusCancelled:
	default:
		return fmt.Errorf("invalid terminal status %q", status)
	}
	r.status = status
	r.errMsg = errMsg
	r.endedAt = time.Now().UTC()
	return nil
}

// Duration returns total wall-clock time, up to now for a live run.
func (r *Run) Duration() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.endedAt.IsZero() {
		return time.Since(r.startedAt)
	}
	return r.endedAt.Sub(r.startedAt)
}

// Snapshot is the read-only view served by the ops endpoint.
type Snapshot struct {
	RunID     string                  `json:"run_id"`
	Name      string                  `json:"pipeline_name"`
	Entity    extract.EntityType      `json:"entity"`
	Status    Status                  `json:"status"`
	StartedAt time.Time               `json:"started_at"`
	EndedAt   *time.Time              `json:"ended_at,omitempty"`
	Counts    Counts                  `json:"counts"`
	Durations map[Phase]time.Duration `json:"phase_durations"`
	Error     string                  `json:"error_message,omitempty"`
}

func (r *Run) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	durations := make(map[Phase]time.Duration, len(r.durations))
	for k, v := range r.durations {
		durations[k] = v
	}
	snap := Snapshot{
		RunID:     r.id,
		Name:      r.name,
		Entity:    r.entity,
		Status:    r.status,
		StartedAt: r.startedAt,
		Counts:    r.counts,
		Durations: durations,
		Error:     r.errMsg,
	}
	if !r.endedAt.IsZero() {
		ended := r.endedAt
		snap.EndedAt = &ended
	}
	return snap
}

// Row converts the run into its pipeline_metadata shape.
func (r *Run) Row() load.RunRow {
	r.mu.RLock()
	defer r.mu.RUnlock()

	durations := make(map[Phase]string, len(r.durations))
	for phase, d := range r.durations {
		durations[phase] = d.String()
	}
	durationsJSON, _ := json.Marshal(durations)
	paramsJSON, _ := json.Marshal(runParams{
		Symbols:   r.params.Symbols,
		Pairs:     r.params.Pairs,
		SeriesIDs: r.params.SeriesIDs,
		Start:     r.params.Start,
		End:       r.params.End,
		Interval:  r.params.Interval,
	})

	row := load.RunRow{
		RunID:        r.id,
		PipelineName: r.name,
		Status:       string(r.status),
		StartedAt:    r.startedAt,
		Extracted:    r.counts.Extracted,
		Standardized: r.counts.Standardized,
		Accepted:     r.counts.Accepted,
		Rejected:     r.counts.Rejected,
		Loaded:       r.counts.Loaded,
		Failed:       r.counts.Failed,
		Warnings:     r.counts.Warnings,
		Durations:    durationsJSON,
		Params:       paramsJSON,
	}
	if !r.endedAt.IsZero() {
		row.EndedAt = sql.NullTime{Time: r.endedAt, Valid: true}
	}
	if r.errMsg != "" {
		row.ErrorMessage = sql.NullString{String: r.errMsg, Valid: true}
	}
	return row
}

// runParams is the JSON shape persisted into pipeline_metadata.params.
type runParams struct {
	Symbols   []string  `json:"symbols,omitempty"`
	Pairs     []string  `json:"pairs,omitempty"`
	SeriesIDs []string  `json:"series_ids,omitempty"`
	Start     time.Time `json:"start,omitempty"`
	End       time.Time `json:"end,omitempty"`
	Interval  string    `json:"interval,omitempty"`
}
