package transfersaga

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Store is the write-ahead log for run state. The run saves a RunState after
// every transition so a crashed run can resume from its last durable
// checkpoint instead of relying on replay.
type Store interface {
	// Save persists the current run state.
	Save(ctx context.Context, runID string, state RunState) error

	// Load retrieves a run state by ID.
	Load(ctx context.Context, runID string) (*RunState, error)

	// Delete removes a run state.
	Delete(ctx context.Context, runID string) error
}

// RunState contains everything needed to resume a run: the status
// projection, the cursor into the step plan, the pending compensation stack,
// and the last control snapshot.
type RunState struct {
	RunID         string              `json:"run_id"`
	Record        TransferRecord      `json:"record"`
	StepCursor    int                 `json:"step_cursor"`
	Compensations []CompensationEntry `json:"compensations,omitempty"`

	// Unwinding is set while the compensation stack is being executed so
	// a run that crashed mid-unwind resumes the unwind, not the forward
	// path.
	Unwinding bool `json:"unwinding"`

	Control   ControlStatus `json:"control"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// MemoryStore provides an in-memory implementation of Store for testing or
// scenarios where durability is not required.
type MemoryStore struct {
	states map[string]*RunState
	mu     sync.RWMutex
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*RunState)}
}

// Save stores the run state in memory.
func (m *MemoryStore) Save(ctx context.Context, runID string, state RunState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stateCopy := state
	stateCopy.UpdatedAt = time.Now()
	m.states[runID] = &stateCopy
	return nil
}

// Load retrieves the run state from memory.
func (m *MemoryStore) Load(ctx context.Context, runID string) (*RunState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, exists := m.states[runID]
	if !exists {
		return nil, fmt.Errorf("run %s not found", runID)
	}

	stateCopy := *state
	return &stateCopy, nil
}

// Delete removes the run state from memory.
func (m *MemoryStore) Delete(ctx context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.states, runID)
	return nil
}
