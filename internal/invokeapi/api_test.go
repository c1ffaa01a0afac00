package invokeapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/warden/internal/authmw"
	"github.com/linnemanlabs/warden/internal/event"
	"github.com/linnemanlabs/warden/internal/triage"
)

type fakeService struct {
	mu       sync.Mutex
	requests []*triage.Request
	events   []*event.Event
	hours    []int
	sum      *triage.Summary
}

func (f *fakeService) summary(workflow string) *triage.Summary {
	if f.sum != nil {
		return f.sum
	}
	return &triage.Summary{Status: triage.StatusSuccess, Workflow: workflow, InvocationID: "01TEST"}
}

func (f *fakeService) Invoke(_ context.Context, req *triage.Request) *triage.Summary {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.summary(req.Action)
}

func (f *fakeService) Analyze(_ context.Context, ev *event.Event) *triage.Summary {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.summary(triage.WorkflowAnalyze)
}

func (f *fakeService) Monitor(_ context.Context, hours int) *triage.Summary {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hours = append(f.hours, hours)
	return f.summary(triage.WorkflowMonitor)
}

func newTestRouter(t *testing.T, svc TriageService, opts ...Option) chi.Router {
	t.Helper()
	r := chi.NewRouter()
	New(nil, svc, opts...).RegisterRoutes(r)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeSummary(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var got map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return got
}

//  New / constructor

func TestNew_NilLogger(t *testing.T) {
	t.Parallel()

	api := New(nil, &fakeService{})
	if api.logger == nil {
		t.Fatal("New(nil, svc) left logger nil; expected Nop logger")
	}
	if api := New(log.Nop(), &fakeService{}); api.logger == nil {
		t.Fatal("New(logger, svc) left logger nil")
	}
}

func TestNew_NilService_Panics(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("New(nil, nil) did not panic; expected panic for nil service")
		}
	}()
	New(nil, nil)
}

// Routing

func TestRegisterRoutes_Methods(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, &fakeService{})

	tests := []struct {
		method     string
		path       string
		wantStatus int
	}{
		{http.MethodGet, "/api/v1/invoke", http.StatusMethodNotAllowed},
		{http.MethodPut, "/api/v1/events/analyze", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/v1/monitor", http.StatusMethodNotAllowed},
		{http.MethodPost, "/api/v1/unknown", http.StatusNotFound},
		{http.MethodPost, "/api/v2/invoke", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			t.Parallel()
			if rec := do(r, tt.method, tt.path, ""); rec.Code != tt.wantStatus {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.wantStatus)
			}
		})
	}
}

// Invoke

func TestInvoke_Statuses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		sum        *triage.Summary
		wantStatus int
		wantKind   string
	}{
		{"success", `{"action":"monitor","hours":12}`, nil, http.StatusOK, ""},
		{"error summary", `{"action":"frobnicate"}`, &triage.Summary{Status: triage.StatusError, ErrorKind: "UnsupportedAction"}, http.StatusUnprocessableEntity, "UnsupportedAction"},
		{"invalid json", `{bad`, nil, http.StatusBadRequest, "InvalidRequest"},
		{"array body", `[1,2]`, nil, http.StatusBadRequest, "InvalidRequest"},
		{"empty body", ``, nil, http.StatusBadRequest, "InvalidRequest"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := newTestRouter(t, &fakeService{sum: tt.sum})
			rec := do(r, http.MethodPost, "/api/v1/invoke", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("content-type = %q", ct)
			}
			got := decodeSummary(t, rec)
			if tt.wantKind != "" && got["error_kind"] != tt.wantKind {
				t.Errorf("error_kind = %v, want %s", got["error_kind"], tt.wantKind)
			}
		})
	}
}

func TestInvoke_UnwrapsPrompt(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	r := newTestRouter(t, svc)

	body := `{"prompt":"{\"action\":\"monitor\",\"hours\":48}"}`
	if rec := do(r, http.MethodPost, "/api/v1/invoke", body); rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	if len(svc.requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(svc.requests))
	}
	req := svc.requests[0]
	if req.Action != triage.WorkflowMonitor || req.Hours == nil || *req.Hours != 48 {
		t.Errorf("request = %+v", req)
	}
}

// Convenience routes

func TestAnalyze_PassesEvent(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	r := newTestRouter(t, svc)

	rec := do(r, http.MethodPost, "/api/v1/events/analyze", `{"id":123,"source_ip":"192.168.1.100","waf_score":7}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(svc.events) != 1 {
		t.Fatalf("events = %d, want 1", len(svc.events))
	}
	ev := svc.events[0]
	if ev.ID != "123" || ev.SourceIP != "192.168.1.100" || string(ev.Extra["waf_score"]) != "7" {
		t.Errorf("event = %+v", ev)
	}
}

func TestAnalyze_InvalidBody(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	r := newTestRouter(t, svc)

	if rec := do(r, http.MethodPost, "/api/v1/events/analyze", `not json`); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if len(svc.events) != 0 {
		t.Error("service should not be called for an invalid body")
	}
}

func TestMonitor_Hours(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	r := newTestRouter(t, svc)

	for _, path := range []string{"/api/v1/monitor", "/api/v1/monitor?hours=72"} {
		if rec := do(r, http.MethodPost, path, ""); rec.Code != http.StatusOK {
			t.Errorf("POST %s = %d, want 200", path, rec.Code)
		}
	}
	if rec := do(r, http.MethodPost, "/api/v1/monitor?hours=soon", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid hours = %d, want 400", rec.Code)
	}

	if len(svc.hours) != 2 || svc.hours[0] != 0 || svc.hours[1] != 72 {
		t.Errorf("hours = %v, want [0 72]", svc.hours)
	}
}

// Auth

func TestAuth_RequiresToken(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	r := newTestRouter(t, svc, WithAuth(authmw.BearerToken("s3cret")))

	if rec := do(r, http.MethodPost, "/api/v1/monitor", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/monitor", http.NoBody)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("valid token = %d, want 200", rec.Code)
	}
	if len(svc.hours) != 1 {
		t.Errorf("service calls = %d, want 1", len(svc.hours))
	}
}
