package transfersaga

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStore provides a file-based implementation of Store that persists run
// state as JSON files on disk.
type FileStore struct {
	basePath string
	mu       sync.Mutex // Protects file operations
}

// NewFileStore creates a new file-based store that saves run state to the
// specified directory.
func NewFileStore(basePath string) (*FileStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FileStore{basePath: basePath}, nil
}

// Save persists the run state to a JSON file.
func (f *FileStore) Save(ctx context.Context, runID string, state RunState) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	state.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run state: %w", err)
	}

	if err := os.WriteFile(f.filename(runID), data, 0644); err != nil {
		return fmt.Errorf("failed to write run state file: %w", err)
	}

	return nil
}

// Load retrieves the run state from a JSON file.
func (f *FileStore) Load(ctx context.Context, runID string) (*RunState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.filename(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("run %s not found", runID)
		}
		return nil, fmt.Errorf("failed to read run state file: %w", err)
	}

	var state RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run state: %w", err)
	}

	return &state, nil
}

// Delete removes the run state file.
func (f *FileStore) Delete(ctx context.Context, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.filename(runID)); err != nil {
		if os.IsNotExist(err) {
			// Already deleted, not an error
			return nil
		}
		return fmt.Errorf("failed to delete run state file: %w", err)
	}

	return nil
}

// filename returns the full path for a run's state file.
func (f *FileStore) filename(runID string) string {
	return filepath.Join(f.basePath, runID+".json")
}
