package etl

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/awesome-inc/warehouse-etl/pkg/models"
)

// State is the orchestrator's position in a run.
type State string

const (
	StateIdle         State = "IDLE"
	StateExtracting   State = "EXTRACTING"
	StateTransforming State = "TRANSFORMING"
	StateValidating   State = "VALIDATING"
	StateLoading      State = "LOADING"
	StateLogging      State = "LOGGING"
	StateFailed       State = "FAILED"
)

// RunLock is the process-wide in-flight-run guard, keyed on pipeline
// name. A second trigger while a run holds the lock is rejected, not
// queued.
type RunLock struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewRunLock returns an empty lock table.
func NewRunLock() *RunLock {
	return &RunLock{held: make(map[string]bool)}
}

// Acquire takes the lock for a pipeline, reporting whether it was free.
func (l *RunLock) Acquire(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] {
		return false
	}
	l.held[name] = true
	return true
}

// Release frees the lock for a pipeline.
func (l *RunLock) Release(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, name)
}

// PipelineParams wires a Pipeline.
type PipelineParams struct {
	Name              string
	Source            ChangeSource
	Loader            Loader
	Store             WatermarkStore
	Warehouse         *sql.DB
	SkipRateThreshold float64
	RunTimeout        time.Duration
	Lock              *RunLock
	Logger            *slog.Logger
}

// Pipeline coordinates one run: watermark read, extract, transform,
// validate, load, log. The watermark advances only when LOGGING is
// reached through a successful LOADING; there is no partial success.
type Pipeline struct {
	name          string
	source        ChangeSource
	loader        Loader
	store         WatermarkStore
	warehouse     *sql.DB
	skipThreshold float64
	timeout       time.Duration
	lock          *RunLock
	logger        *slog.Logger

	mu    sync.Mutex
	state State
}

// NewPipeline builds a pipeline from params.
func NewPipeline(p PipelineParams) *Pipeline {
	if p.Logger == nil {
		p.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if p.Lock == nil {
		p.Lock = NewRunLock()
	}
	return &Pipeline{
		name:          p.Name,
		source:        p.Source,
		loader:        p.Loader,
		store:         p.Store,
		warehouse:     p.Warehouse,
		skipThreshold: p.SkipRateThreshold,
		timeout:       p.RunTimeout,
		lock:          p.Lock,
		logger:        p.Logger,
		state:         StateIdle,
	}
}

// State reports where the orchestrator currently is.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
	p.logger.Debug("state transition", slog.String("state", string(s)))
}

// Run executes one pipeline invocation. The returned outcome is what
// was recorded in the run log; err carries the error class on failure.
func (p *Pipeline) Run(ctx context.Context) (models.RunOutcome, error) {
	if !p.lock.Acquire(p.name) {
		return models.RunOutcome{}, &RunError{
			Class: ErrLockContention,
			Err:   fmt.Errorf("pipeline %q already has a run in progress", p.name),
		}
	}
	defer p.lock.Release(p.name)

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	started := time.Now().UTC()
	p.logger.Info("run started", slog.String("pipeline", p.name), slog.Time("started_at", started))

	outcome, runErr := p.execute(ctx, started)

	// LOGGING runs for every outcome, on a context that survives the
	// run deadline: a failed run must still be recorded before the
	// orchestrator returns to IDLE.
	p.setState(StateLogging)
	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := p.store.RecordRun(logCtx, outcome); err != nil {
		p.logger.Error("failed to record run outcome", slog.Any("error", err))
		if runErr == nil {
			runErr = err
		}
	}
	p.setState(StateIdle)

	if runErr != nil {
		p.logger.Error("run failed",
			slog.String("error_class", string(ClassOf(runErr))),
			slog.Any("error", runErr))
	} else {
		p.logger.Info("run succeeded",
			slog.Int("rows_processed", outcome.RowsProcessed),
			slog.Duration("took", outcome.FinishedAt.Sub(outcome.StartedAt)))
	}
	return outcome, runErr
}

func (p *Pipeline) execute(ctx context.Context, started time.Time) (models.RunOutcome, error) {
	fail := func(err error) (models.RunOutcome, error) {
		p.setState(StateFailed)
		return models.RunOutcome{
			StartedAt:  started,
			FinishedAt: time.Now().UTC(),
			Status:     models.RunFailure,
			ErrorClass: string(ClassOf(err)),
		}, err
	}

	watermark, err := p.store.LastSuccessfulRun(ctx)
	if err != nil {
		return fail(classifyCtx(ctx, err, ErrExtractFailed))
	}
	p.logger.Info("watermark read", slog.Time("watermark", watermark))

	p.setState(StateExtracting)
	snap, err := p.source.Extract(ctx, watermark)
	if err != nil {
		return fail(classifyCtx(ctx, err, ErrExtractFailed))
	}
	if err := p.checkpoint(ctx); err != nil {
		return fail(err)
	}

	p.setState(StateTransforming)
	resolver := NewKeyResolver(p.logger)
	if err := resolver.Prime(ctx, p.warehouse); err != nil {
		return fail(classifyCtx(ctx, err, ErrTransformFailed))
	}
	batch, err := NewTransformer(resolver, p.skipThreshold, p.logger).Transform(snap)
	if err != nil {
		return fail(classifyCtx(ctx, err, ErrTransformFailed))
	}
	if err := p.checkpoint(ctx); err != nil {
		return fail(err)
	}

	p.setState(StateValidating)
	report := NewValidator(resolver, p.logger).Validate(batch)
	if !report.Passed() {
		return fail(failf(ErrValidationFailed,
			"%d orphaned fact rows remain after dimension creation", report.OrphanedFacts))
	}
	if err := p.checkpoint(ctx); err != nil {
		return fail(err)
	}

	p.setState(StateLoading)
	result, err := p.loader.Load(ctx, batch)
	if err != nil {
		return fail(classifyCtx(ctx, err, ErrLoadFailed))
	}
	p.logger.Debug("rows written", slog.Int("total", result.Total()))

	return models.RunOutcome{
		StartedAt:     started,
		FinishedAt:    time.Now().UTC(),
		Status:        models.RunSuccess,
		RowsProcessed: batch.FactRows(),
	}, nil
}

// checkpoint is the between-phase cancellation check; a run is never
// interrupted mid-write.
func (p *Pipeline) checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &RunError{Class: ErrTimeoutFailed, Err: err}
	}
	return nil
}
