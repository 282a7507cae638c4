package transfersaga

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// fakeActivities records every activity invocation in order and lets tests
// script per-activity failures and blocking points.
type fakeActivities struct {
	mu      sync.Mutex
	calls   []string
	errs    map[string][]error
	started map[string]chan struct{}
	blocks  map[string]chan struct{}
}

func newFakeActivities() *fakeActivities {
	return &fakeActivities{
		errs:    make(map[string][]error),
		started: make(map[string]chan struct{}),
		blocks:  make(map[string]chan struct{}),
	}
}

// failWith queues errors for an activity; each call pops one until the queue
// is empty, after which calls succeed.
func (f *fakeActivities) failWith(name string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[name] = append(f.errs[name], errs...)
}

// blockOn makes an activity block until the returned release function is
// called. The returned channel receives once per call as it begins.
func (f *fakeActivities) blockOn(name string) (<-chan struct{}, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	started := make(chan struct{}, 16)
	block := make(chan struct{})
	f.started[name] = started
	f.blocks[name] = block
	var once sync.Once
	return started, func() { once.Do(func() { close(block) }) }
}

func (f *fakeActivities) do(name, detail string) error {
	f.mu.Lock()
	f.calls = append(f.calls, detail)
	var err error
	if q := f.errs[name]; len(q) > 0 {
		err = q[0]
		f.errs[name] = q[1:]
	}
	started := f.started[name]
	block := f.blocks[name]
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		<-block
	}
	return err
}

// allCalls returns every recorded invocation in order.
func (f *fakeActivities) allCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// businessCalls filters out notification and persistence invocations,
// leaving the account-facing sequence.
func (f *fakeActivities) businessCalls() []string {
	var out []string
	for _, c := range f.allCalls() {
		if strings.HasPrefix(c, "notify") || strings.HasPrefix(c, "persistStatus") {
			continue
		}
		out = append(out, c)
	}
	return out
}

// persistedStatuses returns the sequence of statuses pushed to the
// persistence collaborator.
func (f *fakeActivities) persistedStatuses() []string {
	var out []string
	for _, c := range f.allCalls() {
		if strings.HasPrefix(c, "persistStatus(") {
			out = append(out, strings.TrimSuffix(strings.TrimPrefix(c, "persistStatus("), ")"))
		}
	}
	return out
}

func (f *fakeActivities) callIndex(detail string) int {
	for i, c := range f.allCalls() {
		if strings.HasPrefix(c, detail) {
			return i
		}
	}
	return -1
}

func (f *fakeActivities) Validate(ctx context.Context, req TransferRequest) error {
	return f.do("validate", "validate")
}

func (f *fakeActivities) LockAccounts(ctx context.Context, source, destination string) error {
	return f.do("lockAccounts", fmt.Sprintf("lockAccounts(%s,%s)", source, destination))
}

func (f *fakeActivities) Debit(ctx context.Context, account string, amount decimal.Decimal) error {
	return f.do("debit", fmt.Sprintf("debit(%s,%s)", account, amount))
}

func (f *fakeActivities) Credit(ctx context.Context, account string, amount decimal.Decimal) error {
	return f.do("credit", fmt.Sprintf("credit(%s,%s)", account, amount))
}

func (f *fakeActivities) UnlockAccounts(ctx context.Context, source, destination string) error {
	return f.do("unlockAccounts", fmt.Sprintf("unlockAccounts(%s,%s)", source, destination))
}

func (f *fakeActivities) CompensateDebit(ctx context.Context, account string, amount decimal.Decimal) error {
	return f.do("compensateDebit", fmt.Sprintf("compensateDebit(%s,%s)", account, amount))
}

func (f *fakeActivities) CompensateCredit(ctx context.Context, account string, amount decimal.Decimal) error {
	return f.do("compensateCredit", fmt.Sprintf("compensateCredit(%s,%s)", account, amount))
}

func (f *fakeActivities) NotifyInitiated(ctx context.Context, transferID string) error {
	return f.do("notifyInitiated", "notifyInitiated")
}

func (f *fakeActivities) NotifyCompleted(ctx context.Context, transferID string) error {
	return f.do("notifyCompleted", "notifyCompleted")
}

func (f *fakeActivities) NotifyFailed(ctx context.Context, transferID, reason string) error {
	return f.do("notifyFailed", fmt.Sprintf("notifyFailed(%s)", reason))
}

func (f *fakeActivities) PersistStatus(ctx context.Context, transferID string, status TransferStatus, reason string) error {
	return f.do("persistStatus", fmt.Sprintf("persistStatus(%s)", status))
}

// sleepRecorder is a SleepFunc that returns immediately and records the
// requested backoff delays.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

func (s *sleepRecorder) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}
