package transfersaga

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Run is a single transfer state machine instance. It advances strictly
// sequentially: no two forward steps execute concurrently for the same run.
// Control signals interleave through the run's control loop and are observed
// at checkpoints only; an activity already in flight is never interrupted.
type Run struct {
	id      string
	plan    *stepPlan
	gateway *activityGateway
	ctrl    *controlLoop
	stack   *CompensationStack
	store   Store
	log     *zap.Logger
	now     func() time.Time

	mu        sync.RWMutex
	record    TransferRecord
	cursor    int
	unwinding bool
	createdAt time.Time

	// resumed is set when the run was reconstructed from the store and
	// must not repeat the initiation step.
	resumed bool

	done chan struct{}
	err  error
}

// ID returns the run identifier. It is generated once, before the first
// step, and never changes.
func (r *Run) ID() string { return r.id }

// TransferID returns the transfer identifier carried by the record.
func (r *Run) TransferID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.record.TransferID
}

// Record returns a snapshot of the status projection consistent with the
// latest completed transition.
func (r *Run) Record() TransferRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.record
}

// Done is closed when the run reaches a terminal status.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run is terminal and returns the final record. The
// error is the triggering failure for FAILED and COMPENSATED outcomes, a
// CancelledError for CANCELLED, and nil for COMPLETED.
func (r *Run) Wait(ctx context.Context) (TransferRecord, error) {
	select {
	case <-r.done:
		return r.Record(), r.err
	case <-ctx.Done():
		return r.Record(), ctx.Err()
	}
}

// execute drives the run to a terminal status. It is the run's single
// logical thread of control.
func (r *Run) execute(ctx context.Context) {
	r.err = r.drive(ctx)
	r.ctrl.Stop()
	close(r.done)
}

func (r *Run) drive(ctx context.Context) error {
	if r.unwinding {
		// Crashed mid-unwind: finish the unwind, skip the forward path.
		return r.resumeUnwind(ctx)
	}

	if !r.resumed {
		if err := r.initiate(ctx); err != nil {
			return r.fail(ctx, err)
		}
	}

	order, err := r.plan.Order()
	if err != nil {
		return r.fail(ctx, err)
	}

	for r.cursor < len(order) {
		if gateErr := r.checkpointGate(ctx); gateErr != nil {
			if IsCancelled(gateErr) {
				return r.cancelled(ctx, gateErr)
			}
			return r.fail(ctx, gateErr)
		}

		step := order[r.cursor]
		if stepErr := r.forward(ctx, step); stepErr != nil {
			if step == StepCredit && r.stack.Len() > 0 {
				return r.compensate(ctx, stepErr)
			}
			return r.fail(ctx, stepErr)
		}

		r.cursor++
		r.checkpointState(ctx)
	}

	if err := r.transition(ctx, StatusCompleted, ""); err != nil {
		return r.fail(ctx, err)
	}
	r.notifyCompleted(ctx)
	r.log.Info("transfer completed", zap.String("run_id", r.id))
	return nil
}

// initiate records the INITIATED status and announces the transfer.
func (r *Run) initiate(ctx context.Context) error {
	r.checkpointState(ctx)
	if err := r.persistStatus(ctx, StatusInitiated, ""); err != nil {
		return err
	}
	r.notifyInitiated(ctx)
	return nil
}

// checkpointGate consults the control state between steps. It blocks this
// run while paused, waking on every applied signal so a cancel delivered
// during a pause is honoured promptly.
func (r *Run) checkpointGate(ctx context.Context) error {
	for {
		wake := r.ctrl.wakeCh()
		status := r.ctrl.Snapshot()
		if status.Cancelled {
			return &CancelledError{Reason: status.CancelReason}
		}
		if !status.Paused {
			return nil
		}

		r.log.Info("run paused, waiting for resume or cancel",
			zap.String("run_id", r.id))
		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// forward executes one step of the plan and pushes its compensation on
// success.
func (r *Run) forward(ctx context.Context, step StepName) error {
	rec := r.Record()

	switch step {
	case StepValidate:
		if err := r.transition(ctx, StatusValidating, ""); err != nil {
			return err
		}
		req := TransferRequest{
			SourceAccount:      rec.SourceAccount,
			DestinationAccount: rec.DestinationAccount,
			Amount:             rec.Amount,
			Currency:           rec.Currency,
			TransferID:         rec.TransferID,
		}
		if err := r.gateway.invoke(ctx, CategoryValidation, "validate", func(ctx context.Context) error {
			return r.gateway.acts.Validate(ctx, req)
		}); err != nil {
			return err
		}
		return r.transition(ctx, StatusValidated, "")

	case StepLockAccounts:
		if err := r.transition(ctx, StatusProcessing, ""); err != nil {
			return err
		}
		if err := r.gateway.invoke(ctx, CategoryAccountMutation, "lockAccounts", func(ctx context.Context) error {
			return r.gateway.acts.LockAccounts(ctx, rec.SourceAccount, rec.DestinationAccount)
		}); err != nil {
			return err
		}
		r.stack.Push(CompensationEntry{
			Op:             OpUnlockAccounts,
			Account:        rec.SourceAccount,
			CounterAccount: rec.DestinationAccount,
		})
		return nil

	case StepDebit:
		if err := r.gateway.invoke(ctx, CategoryAccountMutation, "debit", func(ctx context.Context) error {
			return r.gateway.acts.Debit(ctx, rec.SourceAccount, rec.Amount)
		}); err != nil {
			return err
		}
		r.stack.Push(CompensationEntry{
			Op:      OpCreditBack,
			Account: rec.SourceAccount,
			Amount:  rec.Amount,
		})
		return nil

	case StepCredit:
		if err := r.gateway.invoke(ctx, CategoryAccountMutation, "credit", func(ctx context.Context) error {
			return r.gateway.acts.Credit(ctx, rec.DestinationAccount, rec.Amount)
		}); err != nil {
			return err
		}
		// Kept for symmetry and audit; never invoked on the success path.
		r.stack.Push(CompensationEntry{
			Op:      OpDebitBack,
			Account: rec.DestinationAccount,
			Amount:  rec.Amount,
		})
		return nil

	default:
		return fmt.Errorf("unknown step %q", step)
	}
}

// compensate unwinds the stack after a credit failure and ends the run at
// COMPENSATED.
func (r *Run) compensate(ctx context.Context, cause error) error {
	reason := TruncateReason(cause.Error())
	r.log.Warn("credit failed, starting compensation",
		zap.String("run_id", r.id),
		zap.Error(cause))

	if err := r.transition(ctx, StatusCompensating, reason); err != nil {
		r.log.Warn("failed to record compensating status", zap.Error(err))
	}
	r.setUnwinding(true)
	r.checkpointState(ctx)

	r.unwindStack(ctx)

	r.setUnwinding(false)
	if err := r.transition(ctx, StatusCompensated, reason); err != nil {
		r.log.Warn("failed to record compensated status", zap.Error(err))
	}
	r.notifyFailed(ctx, reason)
	r.log.Info("compensation completed", zap.String("run_id", r.id))
	return cause
}

// resumeUnwind finishes an unwind interrupted by a crash. The restored
// control snapshot decides the outcome: a cancelled run ends at CANCELLED
// with no failure notification, anything else was a compensating failure.
func (r *Run) resumeUnwind(ctx context.Context) error {
	if ctrl := r.ctrl.Snapshot(); ctrl.Cancelled {
		r.log.Info("resuming unwind interrupted during cancellation",
			zap.String("run_id", r.id),
			zap.Int("remaining", r.stack.Len()))

		r.unwindStack(ctx)

		r.setUnwinding(false)
		if err := r.transition(ctx, StatusCancelled, TruncateReason(ctrl.CancelReason)); err != nil {
			r.log.Warn("failed to record cancelled status", zap.Error(err))
		}
		return &CancelledError{Reason: ctrl.CancelReason}
	}

	reason := r.Record().FailureReason
	r.log.Info("resuming interrupted compensation",
		zap.String("run_id", r.id),
		zap.Int("remaining", r.stack.Len()))

	r.unwindStack(ctx)

	r.setUnwinding(false)
	if err := r.transition(ctx, StatusCompensated, reason); err != nil {
		r.log.Warn("failed to record compensated status", zap.Error(err))
	}
	r.notifyFailed(ctx, reason)
	return fmt.Errorf("transfer compensated: %s", reason)
}

func (r *Run) unwindStack(ctx context.Context) {
	r.stack.Unwind(ctx, r.applyCompensation, func() {
		r.checkpointState(ctx)
	}, r.log)
}

// applyCompensation executes one stack entry through the gateway so each
// compensating call gets the account-mutation retry policy.
func (r *Run) applyCompensation(ctx context.Context, entry CompensationEntry) error {
	switch entry.Op {
	case OpUnlockAccounts:
		return r.gateway.invoke(ctx, CategoryAccountMutation, "unlockAccounts", func(ctx context.Context) error {
			return r.gateway.acts.UnlockAccounts(ctx, entry.Account, entry.CounterAccount)
		})
	case OpCreditBack:
		return r.gateway.invoke(ctx, CategoryAccountMutation, "compensateDebit", func(ctx context.Context) error {
			return r.gateway.acts.CompensateDebit(ctx, entry.Account, entry.Amount)
		})
	case OpDebitBack:
		return r.gateway.invoke(ctx, CategoryAccountMutation, "compensateCredit", func(ctx context.Context) error {
			return r.gateway.acts.CompensateCredit(ctx, entry.Account, entry.Amount)
		})
	default:
		return fmt.Errorf("unknown compensation op %q", entry.Op)
	}
}

// fail ends the run at FAILED unless a stronger terminal status was already
// recorded.
func (r *Run) fail(ctx context.Context, cause error) error {
	status := r.Record().Status
	if status == StatusFailed || status == StatusCompensated {
		return cause
	}

	reason := TruncateReason(cause.Error())
	r.log.Warn("transfer failed",
		zap.String("run_id", r.id),
		zap.String("from_status", string(status)),
		zap.Error(cause))
	if err := r.transition(ctx, StatusFailed, reason); err != nil {
		r.log.Warn("failed to record failed status", zap.Error(err))
	}
	r.notifyFailed(ctx, reason)
	return cause
}

// cancelled ends the run at CANCELLED. Compensations already pushed are
// unwound so no account is left locked or debited; steps never taken get no
// compensation. Cancellation is a distinct outcome, not a business failure.
func (r *Run) cancelled(ctx context.Context, cause error) error {
	reason := ""
	if ce, ok := cause.(*CancelledError); ok {
		reason = ce.Reason
	}
	r.log.Info("transfer cancelled at checkpoint",
		zap.String("run_id", r.id),
		zap.String("reason", reason))

	if r.stack.Len() > 0 {
		// Durable marker before the unwind starts: a crash from here on
		// must recover into the unwind, and COMPENSATING is the only
		// status the compensated and cancelled terminals are both legal
		// from.
		if err := r.transition(ctx, StatusCompensating, ""); err != nil {
			r.log.Warn("failed to record compensating status", zap.Error(err))
		}
		r.setUnwinding(true)
		r.checkpointState(ctx)
		r.unwindStack(ctx)
		r.setUnwinding(false)
	}

	if err := r.transition(ctx, StatusCancelled, TruncateReason(reason)); err != nil {
		r.log.Warn("failed to record cancelled status", zap.Error(err))
	}
	return cause
}

// transition moves the record to a new status, checkpoints the state, and
// pushes the transition to the persistence collaborator.
func (r *Run) transition(ctx context.Context, to TransferStatus, reason string) error {
	r.mu.Lock()
	from := r.record.Status
	// Re-entering the current status is legal: a recovered run repeats the
	// step it crashed in.
	if from != to && !canTransition(from, to) {
		r.mu.Unlock()
		return fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	r.record.Status = to
	if reason != "" {
		r.record.FailureReason = reason
	}
	r.record.UpdatedAt = r.now()
	r.mu.Unlock()

	r.checkpointState(ctx)
	return r.persistStatus(ctx, to, reason)
}

// persistStatus pushes a status transition to the external persistence
// collaborator under the status-persistence retry policy.
func (r *Run) persistStatus(ctx context.Context, status TransferStatus, reason string) error {
	rec := r.Record()
	return r.gateway.invoke(ctx, CategoryPersistence, "persistStatus", func(ctx context.Context) error {
		return r.gateway.acts.PersistStatus(ctx, rec.TransferID, status, reason)
	})
}

// checkpointState writes the run state to the write-ahead log. A store
// failure is logged and the run continues; the next checkpoint retries.
func (r *Run) checkpointState(ctx context.Context) {
	if err := r.store.Save(ctx, r.id, r.snapshotState()); err != nil {
		r.log.Warn("failed to checkpoint run state",
			zap.String("run_id", r.id),
			zap.Error(err))
	}
}

func (r *Run) snapshotState() RunState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return RunState{
		RunID:         r.id,
		Record:        r.record,
		StepCursor:    r.cursor,
		Compensations: r.stack.Entries(),
		Unwinding:     r.unwinding,
		Control:       r.ctrl.Snapshot(),
		CreatedAt:     r.createdAt,
		UpdatedAt:     r.now(),
	}
}

func (r *Run) setUnwinding(v bool) {
	r.mu.Lock()
	r.unwinding = v
	r.mu.Unlock()
}

// Notifications are best-effort: a delivery failure after the status is
// durable must not change the outcome of the transfer.

func (r *Run) notifyInitiated(ctx context.Context) {
	rec := r.Record()
	err := r.gateway.invoke(ctx, CategoryNotification, "notifyInitiated", func(ctx context.Context) error {
		return r.gateway.acts.NotifyInitiated(ctx, rec.TransferID)
	})
	if err != nil {
		r.log.Warn("initiated notification failed", zap.Error(err))
	}
}

func (r *Run) notifyCompleted(ctx context.Context) {
	rec := r.Record()
	err := r.gateway.invoke(ctx, CategoryNotification, "notifyCompleted", func(ctx context.Context) error {
		return r.gateway.acts.NotifyCompleted(ctx, rec.TransferID)
	})
	if err != nil {
		r.log.Warn("completed notification failed", zap.Error(err))
	}
}

func (r *Run) notifyFailed(ctx context.Context, reason string) {
	rec := r.Record()
	err := r.gateway.invoke(ctx, CategoryNotification, "notifyFailed", func(ctx context.Context) error {
		return r.gateway.acts.NotifyFailed(ctx, rec.TransferID, reason)
	})
	if err != nil {
		r.log.Warn("failure notification failed", zap.Error(err))
	}
}
