package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jobrunner/seriesview/internal/config"
	"github.com/jobrunner/seriesview/internal/domain"
	"github.com/jobrunner/seriesview/internal/ports/input"
)

// mockSeriesService implements input.SeriesService for testing.
type mockSeriesService struct {
	mu          sync.Mutex
	invocations map[string]domain.Invocation
	submitted   []domain.DownloadRequest
	submitErr   error
	listErr     error
	lastLimit   int
}

func newMockSeriesService() *mockSeriesService {
	return &mockSeriesService{invocations: make(map[string]domain.Invocation)}
}

func (m *mockSeriesService) add(inv domain.Invocation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invocations[inv.ID] = inv
}

func (m *mockSeriesService) Submit(_ context.Context, req domain.DownloadRequest) (domain.Invocation, error) {
	if m.submitErr != nil {
		return domain.Invocation{}, m.submitErr
	}
	if err := req.Validate(); err != nil {
		return domain.Invocation{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted = append(m.submitted, req)
	inv := domain.NewInvocation(fmt.Sprintf("inv-%d", len(m.submitted)), req, time.Now())
	m.invocations[inv.ID] = *inv
	return *inv, nil
}

func (m *mockSeriesService) Open(_ context.Context, _ domain.DownloadRequest) domain.Outcome {
	return domain.Outcome{State: domain.StateSucceeded}
}

func (m *mockSeriesService) Get(_ context.Context, id string) (domain.Invocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invocations[id]
	if !ok {
		return domain.Invocation{}, domain.ErrInvocationNotFound
	}
	return inv, nil
}

func (m *mockSeriesService) Wait(ctx context.Context, id string) (domain.Outcome, error) {
	inv, err := m.Get(ctx, id)
	if err != nil {
		return domain.Outcome{}, err
	}
	if !inv.Done() {
		<-ctx.Done()
		return domain.Outcome{}, ctx.Err()
	}
	return *inv.Outcome, nil
}

func (m *mockSeriesService) List(_ context.Context, limit int) ([]domain.Invocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLimit = limit
	if m.listErr != nil {
		return nil, m.listErr
	}
	list := make([]domain.Invocation, 0, len(m.invocations))
	for _, inv := range m.invocations {
		list = append(list, inv)
	}
	return list, nil
}

// mockHealthService implements input.HealthChecker for testing.
type mockHealthService struct {
	healthy bool
	ready   bool
	active  int
}

func (m *mockHealthService) IsHealthy(_ context.Context) bool {
	return m.healthy
}

func (m *mockHealthService) IsReady(_ context.Context) bool {
	return m.ready
}

func (m *mockHealthService) GetHealthDetails(_ context.Context) input.HealthDetails {
	return input.HealthDetails{
		Healthy:           m.healthy,
		Ready:             m.ready,
		ActiveInvocations: m.active,
		Components:        map[string]string{"viewer": "ok", "staging": "ok"},
	}
}

func newTestServer(series *mockSeriesService, health *mockHealthService) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if health == nil {
		health = &mockHealthService{healthy: true, ready: true}
	}

	return NewServer(
		config.ServerConfig{
			Host:         "127.0.0.1",
			Port:         8765,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		series,
		health,
		nil,
		"",
		logger,
	)
}

func serve(srv *Server, method, target string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	rr := httptest.NewRecorder()
	srv.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response %q: %v", rr.Body.String(), err)
	}
	return resp
}

func finishedInvocation(id string, outcome domain.Outcome) domain.Invocation {
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	inv := domain.NewInvocation(id, domain.DownloadRequest{
		Locators: []string{"/media/a.dcm", "/media/b.dcm"},
		Format:   domain.FormatDICOM,
	}, started)
	inv.State = domain.StateLaunchingViewer
	if outcome.State == domain.StateDownloadFailed {
		inv.State = domain.StateDownloading
	}
	inv.StagingDir = outcome.StagingDir
	_ = inv.Finish(outcome, started.Add(1500*time.Millisecond))
	return *inv
}

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name       string
		health     *mockHealthService
		wantStatus int
		wantText   string
	}{
		{name: "healthy", health: &mockHealthService{healthy: true, ready: true, active: 2}, wantStatus: http.StatusOK, wantText: "ok"},
		{name: "unhealthy", health: &mockHealthService{}, wantStatus: http.StatusServiceUnavailable, wantText: "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(newTestServer(newMockSeriesService(), tt.health), http.MethodGet, "/health", nil)

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			resp := decodeBody(t, rr)
			if resp["status"] != tt.wantText {
				t.Errorf("status = %v, want %q", resp["status"], tt.wantText)
			}
			if resp["active_invocations"] != float64(tt.health.active) {
				t.Errorf("active_invocations = %v, want %d", resp["active_invocations"], tt.health.active)
			}
		})
	}
}

func TestHandleLivenessAndReadiness(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		health     *mockHealthService
		wantStatus int
	}{
		{name: "live", path: "/health/live", health: &mockHealthService{healthy: true}, wantStatus: http.StatusOK},
		{name: "not live", path: "/health/live", health: &mockHealthService{}, wantStatus: http.StatusServiceUnavailable},
		{name: "ready", path: "/health/ready", health: &mockHealthService{ready: true}, wantStatus: http.StatusOK},
		{name: "not ready", path: "/health/ready", health: &mockHealthService{healthy: true}, wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(newTestServer(newMockSeriesService(), tt.health), http.MethodGet, tt.path, nil)
			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
		})
	}
}

func TestHandleOpenSeries(t *testing.T) {
	series := newMockSeriesService()
	srv := newTestServer(series, nil)

	body := `{"locators":["/media/dicoms/1.dcm","/media/dicoms/2.dcm"],"format":"nifti"}`
	rr := serve(srv, http.MethodPost, "/api/v1/series/open", strings.NewReader(body))

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d (%s)", rr.Code, http.StatusAccepted, rr.Body.String())
	}
	resp := decodeBody(t, rr)
	if resp["id"] != "inv-1" {
		t.Errorf("id = %v, want inv-1", resp["id"])
	}
	if resp["state"] != string(domain.StateIdle) {
		t.Errorf("state = %v, want idle", resp["state"])
	}
	if loc := rr.Header().Get("Location"); loc != "/api/v1/invocations/inv-1" {
		t.Errorf("Location = %q", loc)
	}

	if len(series.submitted) != 1 {
		t.Fatalf("submitted %d requests, want 1", len(series.submitted))
	}
	got := series.submitted[0]
	if got.Format != domain.FormatNIfTI || len(got.Locators) != 2 || got.Locators[0] != "/media/dicoms/1.dcm" {
		t.Errorf("submitted request = %+v", got)
	}
}

func TestHandleOpenSeriesErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		submitErr  error
		wantStatus int
	}{
		{name: "malformed json", body: `{"locators":`, wantStatus: http.StatusBadRequest},
		{name: "unknown field", body: `{"urls":["a"]}`, wantStatus: http.StatusBadRequest},
		{name: "unsupported format", body: `{"locators":["a"],"format":"png"}`, wantStatus: http.StatusBadRequest},
		{name: "blank locator", body: `{"locators":["a"," "]}`, wantStatus: http.StatusBadRequest},
		{name: "shutting down", body: `{"locators":["a"]}`, submitErr: domain.ErrUnavailable, wantStatus: http.StatusServiceUnavailable},
		{name: "internal", body: `{"locators":["a"]}`, submitErr: errors.New("boom"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			series := newMockSeriesService()
			series.submitErr = tt.submitErr

			rr := serve(newTestServer(series, nil), http.MethodPost, "/api/v1/series/open", strings.NewReader(tt.body))

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (%s)", rr.Code, tt.wantStatus, rr.Body.String())
			}
			resp := decodeBody(t, rr)
			if resp["message"] == "" {
				t.Error("error response should carry a message")
			}
		})
	}
}

func TestHandleOpenSeriesBodyLimit(t *testing.T) {
	big := `{"locators":["` + strings.Repeat("a", maxRequestBody) + `"]}`
	rr := serve(newTestServer(newMockSeriesService(), nil), http.MethodPost, "/api/v1/series/open", bytes.NewBufferString(big))

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestHandleGetInvocation(t *testing.T) {
	series := newMockSeriesService()
	series.add(finishedInvocation("done-1", domain.Outcome{
		State:      domain.StateSucceeded,
		StagingDir: "/tmp/series-abc",
	}))
	series.add(finishedInvocation("failed-1", domain.OutcomeFromError(domain.ErrDownloadIncomplete, "/tmp/series-def")))
	srv := newTestServer(series, nil)

	rr := serve(srv, http.MethodGet, "/api/v1/invocations/done-1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	resp := decodeBody(t, rr)
	checks := map[string]interface{}{
		"id":          "done-1",
		"state":       "succeeded",
		"format":      "dicom",
		"files":       float64(2),
		"staging_dir": "/tmp/series-abc",
		"duration_ms": float64(1500),
		"done":        true,
	}
	for key, want := range checks {
		if resp[key] != want {
			t.Errorf("%s = %v, want %v", key, resp[key], want)
		}
	}
	outcome, ok := resp["outcome"].(map[string]interface{})
	if !ok || outcome["ok"] != true || outcome["reason"] != "" {
		t.Errorf("outcome = %v", resp["outcome"])
	}

	rr = serve(srv, http.MethodGet, "/api/v1/invocations/failed-1", nil)
	resp = decodeBody(t, rr)
	outcome, _ = resp["outcome"].(map[string]interface{})
	if outcome["ok"] != false || outcome["reason"] != domain.ReasonDownloadIncomplete {
		t.Errorf("outcome = %v", resp["outcome"])
	}

	rr = serve(srv, http.MethodGet, "/api/v1/invocations/missing", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestHandleWaitInvocation(t *testing.T) {
	series := newMockSeriesService()
	series.add(finishedInvocation("done-1", domain.Outcome{State: domain.StateSucceeded, StagingDir: "/tmp/series-abc"}))
	series.add(*domain.NewInvocation("running-1", domain.DownloadRequest{Locators: []string{"a"}}, time.Now()))
	srv := newTestServer(series, nil)

	tests := []struct {
		name       string
		target     string
		wantStatus int
		wantDone   interface{}
	}{
		{name: "finished", target: "/api/v1/invocations/done-1/wait", wantStatus: http.StatusOK, wantDone: true},
		{name: "still running", target: "/api/v1/invocations/running-1/wait?timeout=20ms", wantStatus: http.StatusOK, wantDone: false},
		{name: "bad timeout", target: "/api/v1/invocations/done-1/wait?timeout=soon", wantStatus: http.StatusBadRequest},
		{name: "negative timeout", target: "/api/v1/invocations/done-1/wait?timeout=-1s", wantStatus: http.StatusBadRequest},
		{name: "unknown", target: "/api/v1/invocations/missing/wait?timeout=20ms", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(srv, http.MethodGet, tt.target, nil)
			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%s)", rr.Code, tt.wantStatus, rr.Body.String())
			}
			if tt.wantDone == nil {
				return
			}
			if resp := decodeBody(t, rr); resp["done"] != tt.wantDone {
				t.Errorf("done = %v, want %v", resp["done"], tt.wantDone)
			}
		})
	}
}

func TestHandleListInvocations(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		listErr    error
		wantStatus int
		wantLimit  int
	}{
		{name: "default limit", wantStatus: http.StatusOK, wantLimit: defaultListLimit},
		{name: "explicit limit", query: "?limit=5", wantStatus: http.StatusOK, wantLimit: 5},
		{name: "limit too large", query: "?limit=501", wantStatus: http.StatusBadRequest},
		{name: "limit not a number", query: "?limit=all", wantStatus: http.StatusBadRequest},
		{name: "limit zero", query: "?limit=0", wantStatus: http.StatusBadRequest},
		{name: "history failure", listErr: errors.New("disk I/O error"), wantStatus: http.StatusInternalServerError, wantLimit: defaultListLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			series := newMockSeriesService()
			series.listErr = tt.listErr
			series.add(finishedInvocation("done-1", domain.Outcome{State: domain.StateSucceeded}))

			rr := serve(newTestServer(series, nil), http.MethodGet, "/api/v1/invocations"+tt.query, nil)

			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if series.lastLimit != tt.wantLimit {
				t.Errorf("limit passed to service = %d, want %d", series.lastLimit, tt.wantLimit)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			resp := decodeBody(t, rr)
			if resp["count"] != float64(1) {
				t.Errorf("count = %v, want 1", resp["count"])
			}
		})
	}
}

func TestHandleOpenAPI(t *testing.T) {
	rr := serve(newTestServer(newMockSeriesService(), nil), http.MethodGet, "/openapi.json", nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}
	resp := decodeBody(t, rr)
	paths, ok := resp["paths"].(map[string]interface{})
	if !ok {
		t.Fatal("openapi document has no paths")
	}
	if _, ok := paths["/api/v1/series/open"]; !ok {
		t.Error("openapi document should describe /api/v1/series/open")
	}
}

func TestHandleSwaggerUI(t *testing.T) {
	rr := serve(newTestServer(newMockSeriesService(), nil), http.MethodGet, "/docs", nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}
	if !strings.Contains(rr.Body.String(), "/openapi.json") {
		t.Error("docs page should load /openapi.json")
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	srv := newTestServer(newMockSeriesService(), nil)
	handler := srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusInternalServerError)
	}
}

func TestBoolToStatus(t *testing.T) {
	if got := boolToStatus(true); got != "ok" {
		t.Errorf("boolToStatus(true) = %q, want %q", got, "ok")
	}
	if got := boolToStatus(false); got != "unhealthy" {
		t.Errorf("boolToStatus(false) = %q, want %q", got, "unhealthy")
	}
}

func TestHandleWaitInvocationOutlastsWriteTimeout(t *testing.T) {
	series := newMockSeriesService()
	inv := domain.NewInvocation("running", domain.DownloadRequest{Locators: []string{"a"}}, time.Now())
	inv.State = domain.StateDownloading
	series.add(*inv)

	srv := newTestServer(series, nil)
	ts := httptest.NewUnstartedServer(srv.router)
	ts.Config.WriteTimeout = time.Second
	ts.Start()
	defer ts.Close()

	start := time.Now()
	resp, err := http.Get(ts.URL + "/api/v1/invocations/running/wait?timeout=2s")
	if err != nil {
		t.Fatalf("wait request failed after %s: %v", time.Since(start), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if body["done"] != false {
		t.Errorf("done = %v, want false", body["done"])
	}
	if elapsed := time.Since(start); elapsed < 2*time.Second {
		t.Errorf("wait returned after %s, want at least the requested 2s", elapsed)
	}
}

func TestExtendWriteDeadlineFallback(t *testing.T) {
	srv := newTestServer(newMockSeriesService(), nil)
	srv.config.WriteTimeout = 30 * time.Second

	// A recorder cannot move deadlines, so the wait must fit the timeout.
	got := srv.extendWriteDeadline(httptest.NewRecorder(), time.Minute)
	if got != 30*time.Second-waitWriteSlack {
		t.Errorf("extendWriteDeadline() = %s, want %s", got, 30*time.Second-waitWriteSlack)
	}
	if got := srv.extendWriteDeadline(httptest.NewRecorder(), time.Second); got != time.Second {
		t.Errorf("short wait changed to %s", got)
	}
}
