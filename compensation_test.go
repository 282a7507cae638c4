package transfersaga

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testEntries() []CompensationEntry {
	amount := decimal.RequireFromString("100.00")
	return []CompensationEntry{
		{Op: OpUnlockAccounts, Account: "A", CounterAccount: "B"},
		{Op: OpCreditBack, Account: "A", Amount: amount},
		{Op: OpDebitBack, Account: "B", Amount: amount},
	}
}

func TestCompensationStackUnwindReverseOrder(t *testing.T) {
	stack := NewCompensationStack()
	for _, e := range testEntries() {
		stack.Push(e)
	}
	require.Equal(t, 3, stack.Len())

	var executed []CompensationOp
	stack.Unwind(context.Background(), func(_ context.Context, e CompensationEntry) error {
		executed = append(executed, e.Op)
		return nil
	}, nil, zap.NewNop())

	assert.Equal(t, []CompensationOp{OpDebitBack, OpCreditBack, OpUnlockAccounts}, executed)
	assert.Equal(t, 0, stack.Len())
}

func TestCompensationStackUnwindContinuesPastFailure(t *testing.T) {
	stack := NewCompensationStack()
	for _, e := range testEntries() {
		stack.Push(e)
	}

	var executed []CompensationOp
	stack.Unwind(context.Background(), func(_ context.Context, e CompensationEntry) error {
		executed = append(executed, e.Op)
		if e.Op == OpCreditBack {
			return errors.New("account service unavailable")
		}
		return nil
	}, nil, zap.NewNop())

	// A failed entry is logged and skipped; the rest of the stack still
	// unwinds.
	assert.Equal(t, []CompensationOp{OpDebitBack, OpCreditBack, OpUnlockAccounts}, executed)
	assert.Equal(t, 0, stack.Len())
}

func TestCompensationStackUnwindReportsProgress(t *testing.T) {
	stack := NewCompensationStack()
	for _, e := range testEntries() {
		stack.Push(e)
	}

	var remaining []int
	stack.Unwind(context.Background(), func(_ context.Context, _ CompensationEntry) error {
		return nil
	}, func() {
		remaining = append(remaining, stack.Len())
	}, zap.NewNop())

	assert.Equal(t, []int{2, 1, 0}, remaining)
}

func TestRestoreCompensationStack(t *testing.T) {
	entries := testEntries()
	stack := restoreCompensationStack(entries)
	assert.Equal(t, 3, stack.Len())
	assert.Equal(t, entries, stack.Entries())

	// Restored stacks are independent of the input slice.
	entries[0].Account = "mutated"
	assert.Equal(t, "A", stack.Entries()[0].Account)
}

func TestCompensationEntryString(t *testing.T) {
	amount := decimal.RequireFromString("42.50")
	assert.Equal(t, "unlock-accounts(A,B)",
		CompensationEntry{Op: OpUnlockAccounts, Account: "A", CounterAccount: "B"}.String())
	assert.Equal(t, "credit-back(A,42.5)",
		CompensationEntry{Op: OpCreditBack, Account: "A", Amount: amount}.String())
}
