// Package jobrunner executes generation jobs asynchronously: a bounded
// pool of workers drains admitted jobs through the schedule/generate/
// finalize pipeline, persisting state after every chunk. The runner
// goroutine is the single writer of a job's state; everyone else reads
// snapshots through the store.
package jobrunner

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/bc-dunia/casgen/internal/demographics"
	"github.com/bc-dunia/casgen/internal/events"
	"github.com/bc-dunia/casgen/internal/flow"
	"github.com/bc-dunia/casgen/internal/injury"
	"github.com/bc-dunia/casgen/internal/metrics"
	"github.com/bc-dunia/casgen/internal/otel"
	"github.com/bc-dunia/casgen/internal/refdata"
	"github.com/bc-dunia/casgen/internal/schedule"
	"github.com/bc-dunia/casgen/internal/store"
	"github.com/bc-dunia/casgen/internal/types"
)

// Config bounds job execution.
type Config struct {
	OutputDir         string
	ChunkSize         int
	FlushInterval     int
	MaxConcurrentJobs int
	Limits            Limits
}

// Manager admits, tracks and cancels jobs. Safe for concurrent use.
type Manager struct {
	cfg      Config
	store    store.Store
	ref      *refdata.Provider
	builder  *schedule.Builder
	demo     *demographics.Generator
	assigner *injury.Assigner
	sim      *flow.Simulator
	prom     *metrics.Collector
	otelM    *otel.Metrics

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	mu      sync.RWMutex
	cancels map[string]context.CancelFunc
	active  int

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

// NewManager wires the generation pipeline. The prom and otelM
// collectors may not be nil; pass no-op instances when disabled.
func NewManager(cfg Config, st store.Store, ref *refdata.Provider, builder *schedule.Builder, prom *metrics.Collector, otelM *otel.Metrics) *Manager {
	if cfg.MaxConcurrentJobs < 1 {
		cfg.MaxConcurrentJobs = 1
	}
	if cfg.ChunkSize < 1 {
		cfg.ChunkSize = 1000
	}
	rootCtx, rootCancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:        cfg,
		store:      st,
		ref:        ref,
		builder:    builder,
		demo:       demographics.NewGenerator(ref),
		assigner:   injury.NewAssigner(ref),
		sim:        flow.NewSimulator(ref),
		prom:       prom,
		otelM:      otelM,
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrentJobs)),
		cancels:    make(map[string]context.CancelFunc),
		rootCtx:    rootCtx,
		rootCancel: rootCancel,
	}
}

// Submit admits a validated request and starts its goroutine. The
// returned snapshot is in pending status; execution begins when a worker
// slot frees up.
func (m *Manager) Submit(ctx context.Context, req *types.JobRequest) (*types.JobState, error) {
	jobID := uuid.NewString()
	now := time.Now().UTC()
	state := &types.JobState{
		JobID:     jobID,
		Status:    types.StatusPending,
		CreatedAt: now,
		Details: types.ProgressDetails{
			Phase:       "queued",
			Total:       req.TotalPatients,
			Description: "waiting for a worker slot",
		},
	}
	if err := m.store.Create(ctx, state); err != nil {
		return nil, NewInternalError(jobID, err)
	}

	jobCtx, cancel := context.WithCancel(m.rootCtx)
	m.mu.Lock()
	m.cancels[jobID] = cancel
	m.mu.Unlock()

	formats := make([]string, 0, len(req.Output.Formats))
	for _, f := range req.Output.Formats {
		formats = append(formats, string(f))
	}
	events.GetGlobalEventLogger().LogJobCreated(jobID, req.TotalPatients, req.DaysOfFighting, formats)

	m.wg.Add(1)
	go m.execute(jobCtx, jobID, req, state.Clone())

	return state.Clone(), nil
}

func (m *Manager) execute(ctx context.Context, jobID string, req *types.JobRequest, state *types.JobState) {
	defer m.wg.Done()
	defer m.forget(jobID)

	if err := m.sem.Acquire(ctx, 1); err != nil {
		// Cancelled while queued.
		m.finalize(state, types.StatusCancelled, NewCancelledError(jobID), time.Now())
		return
	}
	defer m.sem.Release(1)

	m.setActive(+1)
	defer m.setActive(-1)

	started := time.Now()
	if err := m.transition(ctx, state, types.StatusRunning); err != nil {
		m.finalize(state, types.StatusFailed, err, started)
		return
	}
	events.GetGlobalEventLogger().LogJobStarted(jobID)

	runCtx := ctx
	var cancelWall context.CancelFunc
	if m.cfg.Limits.MaxWallSeconds > 0 {
		runCtx, cancelWall = context.WithTimeout(ctx, time.Duration(m.cfg.Limits.MaxWallSeconds)*time.Second)
		defer cancelWall()
	}

	seed := req.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	r := &runner{
		m:     m,
		jobID: jobID,
		req:   req,
		state: state,
		rng:   rand.New(rand.NewSource(seed)),
	}

	err := r.run(runCtx)
	switch {
	case err == nil:
		state.Progress = 1.0
		m.finalize(state, types.StatusCompleted, nil, started)
	case IsCancelled(err) && runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil:
		// Wall-clock deadline, not a user cancel.
		m.finalize(state, types.StatusFailed,
			NewResourceLimitError(jobID, "wall_seconds", time.Since(started).Seconds(), float64(m.cfg.Limits.MaxWallSeconds)), started)
	case IsCancelled(err):
		m.finalize(state, types.StatusCancelled, err, started)
	default:
		m.finalize(state, types.StatusFailed, err, started)
	}
}

// finalize moves the job to a terminal status and persists it.
func (m *Manager) finalize(state *types.JobState, status types.JobStatus, jobErr error, started time.Time) {
	now := time.Now().UTC()
	state.Status = status
	state.CompletedAt = &now
	if jobErr != nil && status != types.StatusCancelled {
		state.Error = jobErr.Error()
	}
	if status == types.StatusCompleted {
		state.Details.Phase = "done"
		state.Details.Description = "generation complete"
	}
	state.NormalizeFiles()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = m.store.Update(ctx, state)

	duration := now.Sub(started)
	errMsg := ""
	if jobErr != nil {
		errMsg = jobErr.Error()
	}
	events.GetGlobalEventLogger().LogJobTerminal(state.JobID, string(status), state.Details.Processed, duration.Milliseconds(), errMsg)
	m.prom.RecordJobTerminal(string(status), duration.Seconds())
	m.otelM.RecordJobTerminal(ctx, string(status))
}

// transition validates and persists a status change.
func (m *Manager) transition(ctx context.Context, state *types.JobState, to types.JobStatus) error {
	if !CanTransition(state.Status, to) {
		return NewInvalidTransitionError(state.JobID, state.Status, to)
	}
	state.Status = to
	if err := m.store.Update(ctx, state); err != nil {
		return NewInternalError(state.JobID, err)
	}
	return nil
}

func (m *Manager) forget(jobID string) {
	m.mu.Lock()
	delete(m.cancels, jobID)
	m.mu.Unlock()
}

func (m *Manager) setActive(delta int) {
	m.mu.Lock()
	m.active += delta
	n := m.active
	m.mu.Unlock()
	m.prom.SetActiveJobs(n)
	m.otelM.SetActiveJobs(n)
}

// ActiveCount returns the number of jobs currently holding a worker slot.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// Get returns a snapshot of the job's state.
func (m *Manager) Get(ctx context.Context, jobID string) (*types.JobState, error) {
	state, err := m.store.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, NewNotFoundError(jobID)
		}
		return nil, NewInternalError(jobID, err)
	}
	return state, nil
}

// List returns snapshots of all known jobs, oldest first.
func (m *Manager) List(ctx context.Context) ([]*types.JobState, error) {
	states, err := m.store.List(ctx)
	if err != nil {
		return nil, NewInternalError("", err)
	}
	return states, nil
}

// Cancel requests cancellation. Cancelling a terminal job is a no-op
// and returns the current state.
func (m *Manager) Cancel(ctx context.Context, jobID string) (*types.JobState, error) {
	state, err := m.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if state.Status.IsTerminal() {
		return state, nil
	}

	m.mu.RLock()
	cancel, ok := m.cancels[jobID]
	m.mu.RUnlock()
	if ok {
		cancel()
	}
	return state, nil
}

// OutputPath resolves a download request to a file path, checking that
// the job completed and actually produced the named file.
func (m *Manager) OutputPath(ctx context.Context, jobID, filename string) (string, error) {
	state, err := m.Get(ctx, jobID)
	if err != nil {
		return "", err
	}
	if state.Status != types.StatusCompleted {
		return "", NewNotReadyError(jobID, state.Status)
	}
	for _, file := range state.OutputFiles {
		if file.Filename == filename {
			path := filepath.Join(m.cfg.OutputDir, jobID, filepath.Base(filename))
			if _, err := os.Stat(path); err != nil {
				return "", NewInternalError(jobID, fmt.Errorf("output file missing: %w", err))
			}
			return path, nil
		}
	}
	return "", NewNotFoundError(jobID + "/" + filename)
}

// Shutdown cancels all jobs and waits for their goroutines, bounded by
// the context.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.rootCancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
