// Package pipeline sequences extraction, mapping, resolution, and filling
// for one request, validating each stage's output before starting the next.
// The first failure aborts the run; nothing partial is ever delivered.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/taxcodex/t1fill/internal/filler"
	"github.com/taxcodex/t1fill/internal/mapping"
	"github.com/taxcodex/t1fill/internal/resolver"
	"github.com/taxcodex/t1fill/internal/slip"
	"github.com/taxcodex/t1fill/internal/template"
)

// Inter-stage validation failures. These are distinct from stage errors:
// the stage returned, but its output is unusable.
var (
	ErrNoSlips          = errors.New("no slips in request")
	ErrEmptyMapping     = errors.New("mapping produced no line values")
	ErrEmptyResolution  = errors.New("resolution produced no field values")
	ErrEmptyFillRequest = errors.New("no field values to fill")
)

// Extractor turns an uploaded document into normalized slips.
type Extractor interface {
	Extract(ctx context.Context, doc []byte) ([]slip.Slip, error)
}

// Mapper turns slips into canonical line values plus the filer's identity.
type Mapper interface {
	MapSlips(slips []slip.Slip) (slip.Identity, mapping.LineValues, error)
}

// Resolver binds line values to the current template's field identifiers.
type Resolver interface {
	Current(ctx context.Context) (*template.Snapshot, error)
	Resolve(id slip.Identity, lines mapping.LineValues, snap *template.Snapshot) (resolver.FieldValues, error)
}

// Filler writes resolved values into a copy of the template.
type Filler interface {
	Fill(ctx context.Context, snap *template.Snapshot, values resolver.FieldValues) (*filler.Result, error)
}

// Orchestrator runs the pipeline per request and records runs for
// inspection.
type Orchestrator struct {
	extractor Extractor
	mapper    Mapper
	resolver  Resolver
	filler    Filler
	runs      *RunStore
	log       *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewOrchestrator(ex Extractor, m Mapper, res Resolver, fi Filler, runTTL time.Duration, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		extractor: ex,
		mapper:    m,
		resolver:  res,
		filler:    fi,
		runs:      NewRunStore(runTTL),
		log:       log,
	}
}

// Start launches the run-store cleanup loop.
func (o *Orchestrator) Start(ctx context.Context) {
	cleanupCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-cleanupCtx.Done():
				return
			case <-ticker.C:
				o.runs.Cleanup()
			}
		}
	}()
}

// Stop shuts down background work.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
}

// GetRun returns a recorded run by ID.
func (o *Orchestrator) GetRun(id string) *Run {
	return o.runs.Get(id)
}

// Process runs the full pipeline over one uploaded document. The returned
// run reflects the terminal state; on error the result is always nil.
func (o *Orchestrator) Process(ctx context.Context, doc []byte) (*filler.Result, *Run, error) {
	run := NewRun(doc)
	o.runs.Put(run)
	log := o.log.With("run_id", run.ID)

	slips, err := o.extractor.Extract(ctx, doc)
	if err != nil {
		return nil, run, o.failRun(run, log, StageExtract, err)
	}
	if len(slips) == 0 {
		return nil, run, o.failRun(run, log, StageExtract, ErrNoSlips)
	}
	run.mu.Lock()
	run.SlipCount = len(slips)
	run.mu.Unlock()
	run.setState(StateExtracted)

	identity, lines, err := o.mapper.MapSlips(slips)
	if err != nil {
		return nil, run, o.failRun(run, log, StageMap, err)
	}
	if len(lines) == 0 {
		return nil, run, o.failRun(run, log, StageMap, ErrEmptyMapping)
	}
	run.mu.Lock()
	run.LineCount = len(lines)
	run.mu.Unlock()
	run.setState(StateMapped)

	snap, err := o.resolver.Current(ctx)
	if err != nil {
		return nil, run, o.failRun(run, log, StageResolve, err)
	}
	fields, err := o.resolver.Resolve(identity, lines, snap)
	if err != nil {
		return nil, run, o.failRun(run, log, StageResolve, err)
	}
	if len(fields) == 0 {
		return nil, run, o.failRun(run, log, StageResolve, ErrEmptyResolution)
	}
	run.mu.Lock()
	run.FieldCount = len(fields)
	run.TemplateVersion = snap.Version
	run.mu.Unlock()
	run.setState(StateResolved)

	result, err := o.filler.Fill(ctx, snap, fields)
	if err != nil {
		return nil, run, o.failRun(run, log, StageFill, err)
	}
	run.setState(StateFilled)

	run.mu.Lock()
	run.OutputBytes = len(result.PDF)
	run.OutputURL = result.URL
	run.mu.Unlock()
	run.setState(StateDelivered)

	log.Info("pipeline delivered",
		"slips", len(slips),
		"lines", len(lines),
		"fields", len(fields),
		"template_version", snap.Version,
	)
	return result, run, nil
}

// ExtractSlips runs only the extract stage over one uploaded document.
func (o *Orchestrator) ExtractSlips(ctx context.Context, doc []byte) ([]slip.Slip, error) {
	slips, err := o.extractor.Extract(ctx, doc)
	if err != nil {
		return nil, &StageError{Stage: StageExtract, Err: err}
	}
	if len(slips) == 0 {
		return nil, &StageError{Stage: StageExtract, Err: ErrNoSlips}
	}
	return slips, nil
}

// MapResult is the output of the map stage plus its resolution against the
// current catalog.
type MapResult struct {
	Identity        slip.Identity
	ByLine          mapping.LineValues
	ByField         resolver.FieldValues
	TemplateVersion string
}

// MapAndResolve maps already-normalized slips and resolves the result
// against the current catalog, with the same validation the full pipeline
// applies.
func (o *Orchestrator) MapAndResolve(ctx context.Context, slips []slip.Slip) (*MapResult, error) {
	if len(slips) == 0 {
		return nil, &StageError{Stage: StageMap, Err: ErrNoSlips}
	}
	identity, lines, err := o.mapper.MapSlips(slips)
	if err != nil {
		return nil, &StageError{Stage: StageMap, Err: err}
	}
	if len(lines) == 0 {
		return nil, &StageError{Stage: StageMap, Err: ErrEmptyMapping}
	}
	snap, err := o.resolver.Current(ctx)
	if err != nil {
		return nil, &StageError{Stage: StageResolve, Err: err}
	}
	fields, err := o.resolver.Resolve(identity, lines, snap)
	if err != nil {
		return nil, &StageError{Stage: StageResolve, Err: err}
	}
	if len(fields) == 0 {
		return nil, &StageError{Stage: StageResolve, Err: ErrEmptyResolution}
	}
	return &MapResult{
		Identity:        identity,
		ByLine:          lines,
		ByField:         fields,
		TemplateVersion: snap.Version,
	}, nil
}

// FillFields fills the current template with caller-supplied field values.
// Used by the fill endpoint, where mapping already happened elsewhere.
func (o *Orchestrator) FillFields(ctx context.Context, fields resolver.FieldValues) (*filler.Result, error) {
	if len(fields) == 0 {
		return nil, &StageError{Stage: StageFill, Err: ErrEmptyFillRequest}
	}
	snap, err := o.resolver.Current(ctx)
	if err != nil {
		return nil, &StageError{Stage: StageResolve, Err: err}
	}
	result, err := o.filler.Fill(ctx, snap, fields)
	if err != nil {
		return nil, &StageError{Stage: StageFill, Err: err}
	}
	return result, nil
}

// CurrentTemplate exposes the live snapshot for diagnostics.
func (o *Orchestrator) CurrentTemplate(ctx context.Context) (*template.Snapshot, error) {
	return o.resolver.Current(ctx)
}

func (o *Orchestrator) failRun(run *Run, log *slog.Logger, stage Stage, err error) error {
	run.fail(stage, err)
	log.Error("pipeline stage failed", "stage", string(stage), "error", err)
	return &StageError{Stage: stage, Err: err}
}
