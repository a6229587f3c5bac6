package pipeline

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"
)

// State is the position of a request in the pipeline state machine.
type State string

const (
	StateReceived  State = "received"
	StateExtracted State = "extracted"
	StateMapped    State = "mapped"
	StateResolved  State = "resolved"
	StateFilled    State = "filled"
	StateDelivered State = "delivered"
	StateFailed    State = "failed"
)

// Stage names a pipeline stage for failure reporting.
type Stage string

const (
	StageExtract Stage = "extract"
	StageMap     Stage = "map"
	StageResolve Stage = "resolve"
	StageFill    Stage = "fill"
	StageDeliver Stage = "deliver"
)

// StageError tags an underlying failure with the stage it occurred in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Run tracks one request's progress through the pipeline. It records where
// a failed request stopped and what a delivered one produced; it never
// holds partial pipeline output.
type Run struct {
	mu sync.Mutex

	ID    string
	State State

	// FailedStage and Error are set only in StateFailed.
	FailedStage Stage
	Error       string

	SlipCount       int
	LineCount       int
	FieldCount      int
	TemplateVersion string
	OutputBytes     int
	OutputURL       string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewRun creates a run in the Received state. The id is derived from the
// upload content and arrival time.
func NewRun(doc []byte) *Run {
	now := time.Now()
	h := sha256.New()
	h.Write(doc)
	fmt.Fprintf(h, "-%d", now.UnixNano())
	sum := h.Sum(nil)
	return &Run{
		ID:        fmt.Sprintf("%x", sum[:10]),
		State:     StateReceived,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (r *Run) setState(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.State = s
	r.UpdatedAt = time.Now()
}

func (r *Run) fail(stage Stage, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.State = StateFailed
	r.FailedStage = stage
	r.Error = err.Error()
	r.UpdatedAt = time.Now()
}

// Snapshot is a read-only, JSON-safe copy of run state.
type Snapshot struct {
	ID              string `json:"run_id"`
	State           State  `json:"state"`
	FailedStage     Stage  `json:"failed_stage,omitempty"`
	Error           string `json:"error,omitempty"`
	SlipCount       int    `json:"slips"`
	LineCount       int    `json:"lines"`
	FieldCount      int    `json:"fields"`
	TemplateVersion string `json:"template_version,omitempty"`
	OutputBytes     int    `json:"output_bytes,omitempty"`
	OutputURL       string `json:"output_url,omitempty"`
}

// Snapshot returns a JSON-safe copy of the run state.
func (r *Run) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		ID:              r.ID,
		State:           r.State,
		FailedStage:     r.FailedStage,
		Error:           r.Error,
		SlipCount:       r.SlipCount,
		LineCount:       r.LineCount,
		FieldCount:      r.FieldCount,
		TemplateVersion: r.TemplateVersion,
		OutputBytes:     r.OutputBytes,
		OutputURL:       r.OutputURL,
	}
}

// RunStore is a thread-safe in-memory run registry with TTL eviction, kept
// for operational inspection of recent requests.
type RunStore struct {
	mu   sync.Mutex
	runs map[string]*Run
	ttl  time.Duration
}

func NewRunStore(ttl time.Duration) *RunStore {
	return &RunStore{
		runs: make(map[string]*Run),
		ttl:  ttl,
	}
}

func (s *RunStore) Put(run *Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
}

func (s *RunStore) Get(id string) *Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[id]
}

// Cleanup removes expired runs.
func (s *RunStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, run := range s.runs {
		run.mu.Lock()
		updated := run.UpdatedAt
		run.mu.Unlock()
		if now.Sub(updated) > s.ttl {
			delete(s.runs, id)
		}
	}
}
