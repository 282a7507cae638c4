package transfersaga

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CompensationOp identifies a compensating action. Entries are data rather
// than bound closures so the stack can be persisted and an unwind can resume
// after a restart.
type CompensationOp string

const (
	// OpUnlockAccounts releases the account locks. Best-effort.
	OpUnlockAccounts CompensationOp = "unlock-accounts"

	// OpCreditBack returns a debited amount to the source account.
	OpCreditBack CompensationOp = "credit-back"

	// OpDebitBack withdraws a credited amount from the destination
	// account. Pushed for symmetry after a successful credit; never
	// invoked on the success path.
	OpDebitBack CompensationOp = "debit-back"
)

// CompensationEntry is one pushed compensating action with bound arguments.
type CompensationEntry struct {
	Op      CompensationOp `json:"op"`
	Account string         `json:"account"`
	// CounterAccount is set for unlock, which operates on both accounts.
	CounterAccount string          `json:"counter_account,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
}

func (e CompensationEntry) String() string {
	if e.CounterAccount != "" {
		return fmt.Sprintf("%s(%s,%s)", e.Op, e.Account, e.CounterAccount)
	}
	return fmt.Sprintf("%s(%s,%s)", e.Op, e.Account, e.Amount)
}

// CompensationStack is the ordered list of compensating actions pushed as
// forward steps succeed. It is only unwound during failure handling.
type CompensationStack struct {
	entries []CompensationEntry
}

// NewCompensationStack creates an empty stack.
func NewCompensationStack() *CompensationStack {
	return &CompensationStack{entries: make([]CompensationEntry, 0, 3)}
}

// restoreCompensationStack rebuilds a stack from persisted entries.
func restoreCompensationStack(entries []CompensationEntry) *CompensationStack {
	return &CompensationStack{entries: append([]CompensationEntry(nil), entries...)}
}

// Push appends a compensating action for a step that just succeeded.
func (s *CompensationStack) Push(entry CompensationEntry) {
	s.entries = append(s.entries, entry)
}

// Len returns the number of pending entries.
func (s *CompensationStack) Len() int {
	return len(s.entries)
}

// Entries returns a copy of the pending entries in push order.
func (s *CompensationStack) Entries() []CompensationEntry {
	return append([]CompensationEntry(nil), s.entries...)
}

// Unwind executes the pending entries in strict reverse-of-push order,
// sequentially; later compensations may depend on earlier ones still holding
// a lock, so no parallel mode is offered. Entry failures are logged and the
// unwind continues so as much state as possible is restored. Executed
// entries are popped even on failure; onProgress is called after every pop
// so the caller can checkpoint a partial unwind.
func (s *CompensationStack) Unwind(ctx context.Context, exec func(context.Context, CompensationEntry) error, onProgress func(), log *zap.Logger) {
	for len(s.entries) > 0 {
		last := len(s.entries) - 1
		entry := s.entries[last]
		s.entries = s.entries[:last]

		if err := exec(ctx, entry); err != nil {
			// Best-effort: never escalate, never re-enter the
			// forward path.
			log.Warn("compensation step failed",
				zap.String("entry", entry.String()),
				zap.Error(err))
		} else {
			log.Info("compensation step applied", zap.String("entry", entry.String()))
		}

		if onProgress != nil {
			onProgress()
		}
	}
}
