package transfersaga

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

// Orchestrator starts, recovers, and controls transfer runs. Runs are fully
// independent: no mutable state is shared between two transfer IDs.
type Orchestrator struct {
	acts     Activities
	store    Store
	policies *PolicyTable
	log      *zap.Logger
	sleep    SleepFunc
	now      func() time.Time

	runs *xsync.MapOf[string, *Run]
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// WithStore sets the write-ahead log store. Defaults to an in-memory store.
func WithStore(store Store) Option {
	return func(o *Orchestrator) { o.store = store }
}

// WithPolicyTable replaces the default retry policy table.
func WithPolicyTable(table *PolicyTable) Option {
	return func(o *Orchestrator) { o.policies = table }
}

// WithSleep replaces the backoff sleep function, letting tests observe retry
// windows without wall-clock waits.
func WithSleep(sleep SleepFunc) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an Orchestrator over the given activity collaborators.
func New(acts Activities, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		acts:     acts,
		store:    NewMemoryStore(),
		policies: DefaultPolicyTable(),
		log:      zap.NewNop(),
		now:      time.Now,
		runs:     xsync.NewMapOf[string, *Run](),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start validates the request and launches a new run. The run identifier is
// generated here, once, so nothing non-deterministic happens mid-run. The
// returned Run is already executing.
func (o *Orchestrator) Start(ctx context.Context, req TransferRequest) (*Run, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transfer request: %w", err)
	}

	runID := uuid.New().String()
	transferID := req.TransferID
	if transferID == "" {
		transferID = runID
	}

	run := o.newRun(runID, newTransferRecord(req, transferID, o.now()))
	if _, loaded := o.runs.LoadOrStore(runID, run); loaded {
		return nil, fmt.Errorf("run %s already exists", runID)
	}

	o.log.Info("transfer started",
		zap.String("run_id", runID),
		zap.String("transfer_id", transferID),
		zap.String("source", req.SourceAccount),
		zap.String("destination", req.DestinationAccount),
		zap.String("amount", req.Amount.String()),
		zap.String("currency", req.Currency))

	o.launch(ctx, run)
	return run, nil
}

// Recover reloads a run from its last durable checkpoint and continues it: a
// forward run resumes at the step after the checkpointed cursor, a run that
// crashed mid-unwind finishes its compensation. Terminal runs are not
// restarted.
func (o *Orchestrator) Recover(ctx context.Context, runID string) (*Run, error) {
	if live, ok := o.runs.Load(runID); ok {
		return live, nil
	}

	state, err := o.store.Load(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("recover run %s: %w", runID, err)
	}
	if state.Record.Status.Terminal() {
		return nil, fmt.Errorf("run %s already terminal (%s)", runID, state.Record.Status)
	}

	run := o.newRun(runID, state.Record)
	run.cursor = state.StepCursor
	run.stack = restoreCompensationStack(state.Compensations)
	run.unwinding = state.Unwinding
	run.createdAt = state.CreatedAt
	run.resumed = true
	run.ctrl.restore(state.Control)

	if _, loaded := o.runs.LoadOrStore(runID, run); loaded {
		run.ctrl.Stop()
		return nil, fmt.Errorf("run %s recovered concurrently", runID)
	}

	o.log.Info("transfer recovered",
		zap.String("run_id", runID),
		zap.String("status", string(state.Record.Status)),
		zap.Int("step_cursor", state.StepCursor),
		zap.Bool("unwinding", state.Unwinding))

	o.launch(ctx, run)
	return run, nil
}

// launch drives the run and evicts it from the live-run map once it is
// terminal, so the map does not grow with completed runs and signals to a
// halted run report it as unknown. Its record stays queryable through the
// store.
func (o *Orchestrator) launch(ctx context.Context, run *Run) {
	go func() {
		run.execute(ctx)
		o.runs.Delete(run.id)
	}()
}

func (o *Orchestrator) newRun(runID string, record TransferRecord) *Run {
	log := o.log.With(zap.String("run_id", runID))
	return &Run{
		id:        runID,
		plan:      newTransferPlan(),
		gateway:   newActivityGateway(o.acts, o.policies, o.sleep, log),
		ctrl:      newControlLoop(o.now),
		stack:     NewCompensationStack(),
		store:     o.store,
		log:       log,
		now:       o.now,
		record:    record,
		createdAt: o.now(),
		done:      make(chan struct{}),
	}
}

// GetRun returns a live run by ID.
func (o *Orchestrator) GetRun(runID string) (*Run, bool) {
	return o.runs.Load(runID)
}

// GetStatus returns the status projection for a run: the live record if the
// run is in memory, otherwise the persisted checkpoint.
func (o *Orchestrator) GetStatus(ctx context.Context, runID string) (TransferRecord, error) {
	if run, ok := o.runs.Load(runID); ok {
		return run.Record(), nil
	}
	state, err := o.store.Load(ctx, runID)
	if err != nil {
		return TransferRecord{}, err
	}
	return state.Record, nil
}

// Pause suspends a run at its next checkpoint. Idempotent; a no-op once the
// run is cancelled or terminal.
func (o *Orchestrator) Pause(ctx context.Context, runID, reason string) (ControlStatus, error) {
	return o.signal(ctx, runID, ControlPause, reason)
}

// Resume lifts a pause. A no-op if the run is not paused or was cancelled.
func (o *Orchestrator) Resume(ctx context.Context, runID string) (ControlStatus, error) {
	return o.signal(ctx, runID, ControlResume, "")
}

// Cancel requests cooperative cancellation. The run stops at its next
// checkpoint; an activity already in flight is never interrupted.
// Cancellation is monotonic: later pause/resume signals are no-ops.
func (o *Orchestrator) Cancel(ctx context.Context, runID, reason string) (ControlStatus, error) {
	return o.signal(ctx, runID, ControlCancel, reason)
}

func (o *Orchestrator) signal(ctx context.Context, runID string, action ControlAction, reason string) (ControlStatus, error) {
	run, ok := o.runs.Load(runID)
	if !ok {
		return ControlStatus{}, fmt.Errorf("no live run %s", runID)
	}

	status, err := run.ctrl.Signal(ctx, action, reason)
	if err != nil {
		return ControlStatus{}, err
	}
	o.log.Info("control signal applied",
		zap.String("run_id", runID),
		zap.String("action", string(action)),
		zap.String("reason", reason))

	status.Status = run.Record().Status
	return status, nil
}

// IsPaused reports whether a live run is paused.
func (o *Orchestrator) IsPaused(runID string) (bool, error) {
	run, ok := o.runs.Load(runID)
	if !ok {
		return false, fmt.Errorf("no live run %s", runID)
	}
	return run.ctrl.Snapshot().Paused, nil
}

// ControlStatus returns the control snapshot for a live run, annotated with
// the current transfer status.
func (o *Orchestrator) ControlStatus(runID string) (ControlStatus, error) {
	run, ok := o.runs.Load(runID)
	if !ok {
		return ControlStatus{}, fmt.Errorf("no live run %s", runID)
	}
	status := run.ctrl.Snapshot()
	status.Status = run.Record().Status
	return status, nil
}
