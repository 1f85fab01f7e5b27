// Package store persists job state. The runner is the single writer per
// job; external observers read snapshot copies. Two implementations:
// an in-process map for tests and single-node deployments, and a
// Postgres-backed store for durable setups.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/bc-dunia/casgen/internal/types"
)

// ErrNotFound is returned when a job id is unknown.
var ErrNotFound = errors.New("job not found")

// Store is the persistent job-state repository.
type Store interface {
	Create(ctx context.Context, state *types.JobState) error
	Update(ctx context.Context, state *types.JobState) error
	GetByID(ctx context.Context, jobID string) (*types.JobState, error)
	List(ctx context.Context) ([]*types.JobState, error)
}

// MemoryStore keeps job state in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*types.JobState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*types.JobState)}
}

func (m *MemoryStore) Create(ctx context.Context, state *types.JobState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[state.JobID]; exists {
		return fmt.Errorf("job %s already exists", state.JobID)
	}
	clone := state.Clone()
	clone.NormalizeFiles()
	m.jobs[state.JobID] = clone
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, state *types.JobState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[state.JobID]; !exists {
		return ErrNotFound
	}
	clone := state.Clone()
	clone.NormalizeFiles()
	m.jobs[state.JobID] = clone
	return nil
}

func (m *MemoryStore) GetByID(ctx context.Context, jobID string) (*types.JobState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := state.Clone()
	clone.NormalizeFiles()
	return clone, nil
}

func (m *MemoryStore) List(ctx context.Context) ([]*types.JobState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.JobState, 0, len(m.jobs))
	for _, state := range m.jobs {
		clone := state.Clone()
		clone.NormalizeFiles()
		out = append(out, clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
