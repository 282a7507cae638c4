package transfersaga

import (
	"context"

	"github.com/shopspring/decimal"
)

// Activities is the remote-operation contract consumed by the orchestrator.
// Each method is a single activity invocation against a collaborator service
// and must be safe to call again after a failed attempt: the gateway retries
// transient failures, so account mutations have to be idempotent on the
// remote side.
type Activities interface {
	// Validate checks the transfer against business rules. A business
	// failure (wrapped with BusinessFailure or matching a known business
	// signature) is not retried.
	Validate(ctx context.Context, req TransferRequest) error

	// LockAccounts acquires mutual exclusion on both accounts for the
	// duration of the transfer.
	LockAccounts(ctx context.Context, source, destination string) error

	// Debit withdraws amount from the account.
	Debit(ctx context.Context, account string, amount decimal.Decimal) error

	// Credit deposits amount into the account.
	Credit(ctx context.Context, account string, amount decimal.Decimal) error

	// UnlockAccounts releases the locks. Best-effort: a failure is logged
	// by the caller and never escalated.
	UnlockAccounts(ctx context.Context, source, destination string) error

	// CompensateDebit reverses a completed debit.
	CompensateDebit(ctx context.Context, account string, amount decimal.Decimal) error

	// CompensateCredit reverses a completed credit.
	CompensateCredit(ctx context.Context, account string, amount decimal.Decimal) error

	// NotifyInitiated announces that a transfer has started.
	NotifyInitiated(ctx context.Context, transferID string) error

	// NotifyCompleted announces a successful transfer.
	NotifyCompleted(ctx context.Context, transferID string) error

	// NotifyFailed announces a failed or compensated transfer.
	NotifyFailed(ctx context.Context, transferID, reason string) error

	// PersistStatus pushes a status transition to the persistence
	// collaborator. reason may be empty.
	PersistStatus(ctx context.Context, transferID string, status TransferStatus, reason string) error
}
