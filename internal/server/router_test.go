package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bjpl/deploycheck/internal/check"
)

type fakeRunner struct{}

func (f fakeRunner) CreateAdminRun(request RunRequest, principal Principal, source string) (RunMeta, error) {
	return RunMeta{
		RunID:      "run_fake_admin",
		Status:     "queued",
		CreatorSub: principal.Subject,
		Request:    request,
		CreatedAt:  nowRFC3339(),
	}, nil
}

func (f fakeRunner) CreateQuickCheck(request QuickCheckRequest, ipHash, uaHash string) (RunMeta, error) {
	return RunMeta{
		RunID:     "run_fake_user",
		Status:    "queued",
		Request:   RunRequest{BaseURL: request.TargetURL},
		CreatedAt: nowRFC3339(),
	}, nil
}

func newTestAPI(t *testing.T) (*API, *MemoryFileStore, *httptest.Server) {
	t.Helper()
	store, err := NewMemoryFileStore("")
	if err != nil {
		t.Fatalf("NewMemoryFileStore: %v", err)
	}
	auth := NewAuth(nil, store, ServerConfig{
		Security: SecurityConfig{AdminToken: "secret-token"},
	})
	api := NewAPI(auth, store, fakeRunner{}, nil)
	server := httptest.NewServer(api.Handler())
	t.Cleanup(server.Close)
	return api, store, server
}

func TestRouterHealthz(t *testing.T) {
	_, _, server := newTestAPI(t)
	response, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", response.StatusCode)
	}
}

func TestRouterAdminAuthAndRun(t *testing.T) {
	_, _, server := newTestAPI(t)

	body := map[string]any{
		"base_url": "https://example.test",
		"suites":   []string{"post-deployment", "security"},
	}
	rawBody, _ := json.Marshal(body)

	req, _ := http.NewRequest(http.MethodPost, server.URL+"/api/v1/admin/runs", bytes.NewReader(rawBody))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("admin create without auth failed: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	req2, _ := http.NewRequest(http.MethodPost, server.URL+"/api/v1/admin/runs", bytes.NewReader(rawBody))
	req2.Header.Set("Content-Type", "application/json")
	req2.Header.Set("X-Admin-Token", "secret-token")
	resp2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatalf("admin create with token failed: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp2.StatusCode)
	}
	var out map[string]any
	if err := json.NewDecoder(resp2.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out["run_id"] != "run_fake_admin" {
		t.Fatalf("unexpected run_id: %v", out["run_id"])
	}
}

func TestRouterAdminGetRun(t *testing.T) {
	_, store, server := newTestAPI(t)
	meta := RunMeta{
		RunID:       "run_view",
		Status:      "ready",
		CreatorType: "admin",
		CreatedAt:   nowRFC3339(),
		Verdict:     VerdictSnapshot{OverallScore: 91, Grade: "A", Success: true},
	}
	if err := store.CreateRun(meta); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	req, _ := http.NewRequest(http.MethodGet, server.URL+"/api/v1/admin/runs/run_view", nil)
	req.Header.Set("X-Admin-Token", "secret-token")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET run failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var got RunMeta
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	if got.Verdict.Grade != "A" {
		t.Fatalf("unexpected verdict: %+v", got.Verdict)
	}

	req404, _ := http.NewRequest(http.MethodGet, server.URL+"/api/v1/admin/runs/run_missing", nil)
	req404.Header.Set("X-Admin-Token", "secret-token")
	resp404, err := http.DefaultClient.Do(req404)
	if err != nil {
		t.Fatalf("GET missing run failed: %v", err)
	}
	resp404.Body.Close()
	if resp404.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp404.StatusCode)
	}
}

func TestRouterQuickCheck(t *testing.T) {
	_, _, server := newTestAPI(t)

	body := map[string]any{
		"scenario_id": "post-deploy-smoke",
		"target_url":  "https://example.test",
	}
	rawBody, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, server.URL+"/api/v1/user/quick-check", bytes.NewReader(rawBody))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("quick check request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
}

func TestRouterUserQuickCheckView(t *testing.T) {
	_, store, server := newTestAPI(t)
	meta := RunMeta{
		RunID:       "run_user_view",
		Status:      "blocked",
		CreatorType: "user",
		Request:     RunRequest{BaseURL: "https://example.test"},
		CreatedAt:   nowRFC3339(),
		Verdict:     VerdictSnapshot{OverallScore: 45, Grade: "F", Success: false, CriticalCount: 1},
		Report: &check.Report{
			TestOrder: []string{check.SuiteSecurity},
			Results: map[string]check.SuiteResult{
				check.SuiteSecurity: {Suite: check.SuiteSecurity, Success: false, Message: "security validation failed"},
			},
			Summary: check.Summary{
				FailedTests:     1,
				OverallScore:    45,
				Grade:           "F",
				Recommendations: []string{"Add a Content-Security-Policy"},
			},
		},
	}
	if err := store.CreateRun(meta); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	resp, err := http.Get(server.URL + "/api/v1/user/quick-check/run_user_view")
	if err != nil {
		t.Fatalf("GET quick check failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var view map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	summary, ok := view["summary"].(map[string]any)
	if !ok {
		t.Fatalf("missing summary in view: %v", view)
	}
	if summary["grade"] != "F" {
		t.Fatalf("unexpected grade: %v", summary["grade"])
	}
	highlights, ok := summary["highlights"].([]any)
	if !ok || len(highlights) != 1 {
		t.Fatalf("expected 1 highlight, got %v", summary["highlights"])
	}
	highlight, ok := highlights[0].(map[string]any)
	if !ok {
		t.Fatalf("unexpected highlight shape: %v", highlights[0])
	}
	if highlight["title"] != "Security Validation" {
		t.Fatalf("expected suite title in highlight, got %v", highlight["title"])
	}
}

func TestRouterLoginUnavailableWithoutDatabase(t *testing.T) {
	_, _, server := newTestAPI(t)
	body := bytes.NewReader([]byte(`{"username":"ops","password":"hunter2"}`))
	resp, err := http.Post(server.URL+"/api/v1/auth/login", "application/json", body)
	if err != nil {
		t.Fatalf("POST login failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestRouterLogoutRecordsAudit(t *testing.T) {
	_, store, server := newTestAPI(t)
	resp, err := http.Post(server.URL+"/api/v1/auth/logout", "application/json", nil)
	if err != nil {
		t.Fatalf("POST logout failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	events, err := store.ListAudit(10)
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	var found bool
	for _, event := range events {
		if event.Action == "auth.logout" && event.Result == "ok" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected auth.logout audit event, got %+v", events)
	}
}

func TestRouterCORSPreflight(t *testing.T) {
	_, _, server := newTestAPI(t)
	req, _ := http.NewRequest(http.MethodOptions, server.URL+"/api/v1/user/quick-check", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("expected CORS headers on preflight")
	}
}
