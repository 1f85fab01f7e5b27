// Package e2e drives the full service stack end to end: real reference
// data, scheduler, generation pipeline, output writers and REST surface,
// backed by the in-memory store.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/bc-dunia/casgen/internal/api"
	"github.com/bc-dunia/casgen/internal/jobrunner"
	"github.com/bc-dunia/casgen/internal/metrics"
	"github.com/bc-dunia/casgen/internal/otel"
	"github.com/bc-dunia/casgen/internal/refdata"
	"github.com/bc-dunia/casgen/internal/schedule"
	"github.com/bc-dunia/casgen/internal/store"
	"github.com/bc-dunia/casgen/internal/types"
	"github.com/bc-dunia/casgen/internal/validation"
)

// stack is one fully wired service instance listening on a loopback port.
type stack struct {
	Server    *api.Server
	Manager   *jobrunner.Manager
	OutputDir string
	BaseURL   string
}

func startStack(t *testing.T, cfg jobrunner.Config) *stack {
	t.Helper()
	ref, err := refdata.Load()
	if err != nil {
		t.Fatalf("refdata.Load: %v", err)
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = t.TempDir()
	}
	if cfg.MaxConcurrentJobs == 0 {
		cfg.MaxConcurrentJobs = 2
	}

	manager := jobrunner.NewManager(cfg, store.NewMemoryStore(), ref,
		schedule.NewBuilder(ref, nil), metrics.NewCollector(), otel.NoopMetrics())
	server, cleanup, err := api.StartTestServer(manager, validation.New(ref))
	if err != nil {
		t.Fatalf("StartTestServer: %v", err)
	}
	t.Cleanup(func() {
		cleanup()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		manager.Shutdown(ctx)
	})

	return &stack{
		Server:    server,
		Manager:   manager,
		OutputDir: cfg.OutputDir,
		BaseURL:   server.URL(),
	}
}

func (s *stack) submit(t *testing.T, req *types.JobRequest) *types.JobState {
	t.Helper()
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(s.BaseURL+"/v1/jobs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /v1/jobs: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit status %d: %s", resp.StatusCode, raw)
	}
	var state types.JobState
	if err := json.Unmarshal(raw, &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	return &state
}

func (s *stack) getState(t *testing.T, jobID string) *types.JobState {
	t.Helper()
	resp, err := http.Get(fmt.Sprintf("%s/v1/jobs/%s", s.BaseURL, jobID))
	if err != nil {
		t.Fatalf("GET job: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET job status %d: %s", resp.StatusCode, raw)
	}
	var state types.JobState
	if err := json.Unmarshal(raw, &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	return &state
}

// awaitCompletion polls until the job is terminal, asserting progress is
// non-decreasing across observations.
func (s *stack) awaitCompletion(t *testing.T, jobID string) *types.JobState {
	t.Helper()
	deadline := time.Now().Add(120 * time.Second)
	lastProgress := -1.0
	for time.Now().Before(deadline) {
		state := s.getState(t, jobID)
		if state.Progress < lastProgress {
			t.Fatalf("progress went backwards: %f after %f", state.Progress, lastProgress)
		}
		if state.Progress < 0 || state.Progress > 1 {
			t.Fatalf("progress %f outside [0, 1]", state.Progress)
		}
		lastProgress = state.Progress
		if state.Status.IsTerminal() {
			return state
		}
		time.Sleep(15 * time.Millisecond)
	}
	t.Fatalf("job %s never finished", jobID)
	return nil
}

func (s *stack) download(t *testing.T, jobID, filename string) []byte {
	t.Helper()
	resp, err := http.Get(fmt.Sprintf("%s/v1/jobs/%s/output/%s", s.BaseURL, jobID, filename))
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("download status %d: %s", resp.StatusCode, raw)
	}
	return raw
}

// runJob submits a request, waits for completion and returns the final
// state with the decoded JSON artifact.
func (s *stack) runJob(t *testing.T, req *types.JobRequest) (*types.JobState, []types.Patient) {
	t.Helper()
	admitted := s.submit(t, req)
	final := s.awaitCompletion(t, admitted.JobID)
	if final.Status != types.StatusCompleted {
		t.Fatalf("job %s finished %s: %s", final.JobID, final.Status, final.Error)
	}
	if final.Progress != 1.0 {
		t.Fatalf("completed job progress %f, want 1.0", final.Progress)
	}

	data := s.download(t, final.JobID, "patients.json")
	var patients []types.Patient
	if err := json.Unmarshal(data, &patients); err != nil {
		t.Fatalf("decode artifact: %v", err)
	}
	return final, patients
}
