package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bc-dunia/casgen/internal/jobrunner"
	"github.com/bc-dunia/casgen/internal/metrics"
	"github.com/bc-dunia/casgen/internal/otel"
	"github.com/bc-dunia/casgen/internal/refdata"
	"github.com/bc-dunia/casgen/internal/schedule"
	"github.com/bc-dunia/casgen/internal/store"
	"github.com/bc-dunia/casgen/internal/types"
	"github.com/bc-dunia/casgen/internal/validation"
)

func newTestAPI(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	ref, err := refdata.Load()
	if err != nil {
		t.Fatalf("refdata.Load: %v", err)
	}
	manager := jobrunner.NewManager(
		jobrunner.Config{OutputDir: t.TempDir(), MaxConcurrentJobs: 2},
		store.NewMemoryStore(), ref, schedule.NewBuilder(ref, nil),
		metrics.NewCollector(), otel.NoopMetrics(),
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		manager.Shutdown(ctx)
	})
	srv := NewServer("127.0.0.1:0", manager, validation.New(ref), metrics.NewCollector())
	return srv, srv.Router()
}

func doJSON(h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeState(t *testing.T, rec *httptest.ResponseRecorder) *types.JobState {
	t.Helper()
	var state types.JobState
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode state: %v (body %s)", err, rec.Body.String())
	}
	return &state
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) *ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error: %v (body %s)", err, rec.Body.String())
	}
	return &resp
}

func submitRequestBody() *types.JobRequest {
	return &types.JobRequest{
		TotalPatients:  40,
		DaysOfFighting: 1,
		BaseDate:       "2026-03-01",
		Output:         types.OutputOptions{Formats: []types.OutputFormat{types.FormatJSON}},
		ChunkSize:      20,
		Seed:           17,
	}
}

func awaitStatus(t *testing.T, h http.Handler, jobID string, want types.JobStatus) *types.JobState {
	t.Helper()
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		rec := doJSON(h, http.MethodGet, "/v1/jobs/"+jobID, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("GET job: status %d body %s", rec.Code, rec.Body.String())
		}
		state := decodeState(t, rec)
		if state.Status == want {
			return state
		}
		if state.Status.IsTerminal() {
			t.Fatalf("job reached %s (error %q), want %s", state.Status, state.Error, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s", jobID, want)
	return nil
}

func TestSubmitRejectsMalformedJSON(t *testing.T) {
	_, h := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
	resp := decodeError(t, rec)
	if resp.ErrorType != ErrorTypeInvalidArgument {
		t.Fatalf("error type %q", resp.ErrorType)
	}
}

func TestSubmitRejectsInvalidRequest(t *testing.T) {
	_, h := newTestAPI(t)

	body := submitRequestBody()
	body.TotalPatients = 0
	rec := doJSON(h, http.MethodPost, "/v1/jobs", body)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
	resp := decodeError(t, rec)
	if resp.ErrorCode != "VALIDATION_FAILED" {
		t.Fatalf("error code %q", resp.ErrorCode)
	}
	if resp.Details == nil {
		t.Fatal("validation response carries no issue details")
	}
}

func TestSubmitAndDownloadLifecycle(t *testing.T) {
	_, h := newTestAPI(t)

	rec := doJSON(h, http.MethodPost, "/v1/jobs", submitRequestBody())
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	state := decodeState(t, rec)
	if state.JobID == "" || state.Status != types.StatusPending {
		t.Fatalf("unexpected admission state %+v", state)
	}
	if loc := rec.Header().Get("Location"); loc != "/v1/jobs/"+state.JobID {
		t.Fatalf("Location header %q", loc)
	}

	final := awaitStatus(t, h, state.JobID, types.StatusCompleted)
	if len(final.OutputFiles) != 1 {
		t.Fatalf("output files %+v", final.OutputFiles)
	}

	listRec := doJSON(h, http.MethodGet, "/v1/jobs", nil)
	if listRec.Code != http.StatusOK {
		t.Fatalf("list status %d", listRec.Code)
	}
	var listing struct {
		Jobs []*types.JobState `json:"jobs"`
	}
	if err := json.Unmarshal(listRec.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if len(listing.Jobs) != 1 || listing.Jobs[0].JobID != state.JobID {
		t.Fatalf("unexpected listing %+v", listing.Jobs)
	}

	dlRec := doJSON(h, http.MethodGet, fmt.Sprintf("/v1/jobs/%s/output/patients.json", state.JobID), nil)
	if dlRec.Code != http.StatusOK {
		t.Fatalf("download status %d body %s", dlRec.Code, dlRec.Body.String())
	}
	if cd := dlRec.Header().Get("Content-Disposition"); !strings.Contains(cd, "patients.json") {
		t.Fatalf("Content-Disposition %q", cd)
	}
	var patients []types.Patient
	if err := json.Unmarshal(dlRec.Body.Bytes(), &patients); err != nil {
		t.Fatalf("downloaded artifact is not a patient array: %v", err)
	}
	if len(patients) != 40 {
		t.Fatalf("downloaded %d patients, want 40", len(patients))
	}
}

func TestGetUnknownJob(t *testing.T) {
	_, h := newTestAPI(t)

	rec := doJSON(h, http.MethodGet, "/v1/jobs/no-such-job", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404", rec.Code)
	}
	resp := decodeError(t, rec)
	if resp.ErrorCode != "JOB_NOT_FOUND" {
		t.Fatalf("error code %q", resp.ErrorCode)
	}
}

func TestDownloadBeforeCompletionConflicts(t *testing.T) {
	_, h := newTestAPI(t)

	body := submitRequestBody()
	body.TotalPatients = 200000
	body.ChunkSize = 100
	rec := doJSON(h, http.MethodPost, "/v1/jobs", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status %d", rec.Code)
	}
	state := decodeState(t, rec)

	dlRec := doJSON(h, http.MethodGet, fmt.Sprintf("/v1/jobs/%s/output/patients.json", state.JobID), nil)
	if dlRec.Code != http.StatusConflict {
		t.Fatalf("download status %d, want 409", dlRec.Code)
	}
	resp := decodeError(t, dlRec)
	if resp.ErrorCode != "OUTPUT_NOT_READY" || !resp.Retryable {
		t.Fatalf("unexpected error response %+v", resp)
	}

	cancelRec := doJSON(h, http.MethodDelete, "/v1/jobs/"+state.JobID, nil)
	if cancelRec.Code != http.StatusOK {
		t.Fatalf("cancel status %d", cancelRec.Code)
	}
	awaitStatus(t, h, state.JobID, types.StatusCancelled)

	// Cancelling again is a no-op returning the terminal state.
	againRec := doJSON(h, http.MethodDelete, "/v1/jobs/"+state.JobID, nil)
	if againRec.Code != http.StatusOK {
		t.Fatalf("repeat cancel status %d", againRec.Code)
	}
	if again := decodeState(t, againRec); again.Status != types.StatusCancelled {
		t.Fatalf("repeat cancel status %s", again.Status)
	}
}

func TestRateLimitExceeded(t *testing.T) {
	srv, _ := newTestAPI(t)
	srv.SetRateLimiterConfig(&RateLimiterConfig{
		RequestsPerSecond: 0.001,
		BurstSize:         2,
		Enabled:           true,
	})
	h := srv.Router()

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
		req.Header.Set("X-API-Key", "client-a")
		last = httptest.NewRecorder()
		h.ServeHTTP(last, req)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("third request status %d, want 429", last.Code)
	}
	if last.Header().Get("Retry-After") == "" || last.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("rate limit headers missing: %v", last.Header())
	}
	resp := decodeError(t, last)
	if resp.ErrorCode != "RATE_LIMIT_EXCEEDED" || !resp.Retryable {
		t.Fatalf("unexpected response %+v", resp)
	}

	// A different client key has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
	req.Header.Set("X-API-Key", "client-b")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("fresh client status %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	_, h := newTestAPI(t)

	rec := doJSON(h, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var health map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health["status"] != "ok" {
		t.Fatalf("health %v", health)
	}
	if _, ok := health["active_jobs"]; !ok {
		t.Fatal("active_jobs missing")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, h := newTestAPI(t)

	// Generate at least one observation first.
	doJSON(h, http.MethodGet, "/healthz", nil)

	rec := doJSON(h, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "casgen_jobs_active") {
		t.Fatalf("metrics exposition missing casgen series:\n%.500s", body)
	}
}
