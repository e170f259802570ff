package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"monetrix/internal/adapter/journal"
	"monetrix/internal/domain"
	"monetrix/internal/usecase/scheduling"
)

type stubTasks struct{}

func (stubTasks) Status() []scheduling.TaskStatus {
	return []scheduling.TaskStatus{{Name: "reap-idle-sessions", Schedule: "5m", Action: "sessions.reap", Runs: 3}}
}

func apiTestDeps(t *testing.T) HandlerDeps {
	t.Helper()
	deps := newHandlerDeps(t)
	deps.Journal = &stubJournal{counts: journal.Counts{Total: 5, OK: 3, Errors: 1, Skipped: 1, ByTool: map[string]int64{"getNews": 5}}}
	deps.Scheduler = stubTasks{}
	deps.Breaker = stubBreaker{}
	deps.Version = "1.2.3"

	// Pre-create some sessions.
	for i := 0; i < 2; i++ {
		if _, err := deps.Sessions.Open(context.Background(), ""); err != nil {
			t.Fatal(err)
		}
	}
	return deps
}

func TestStatusHandler_Success(t *testing.T) {
	deps := apiTestDeps(t)
	metrics := &Metrics{}
	metrics.ToolCallsTotal.Store(42)
	metrics.ToolErrorsTotal.Store(3)
	metrics.ToolSkippedTotal.Store(7)
	metrics.SessionsTotal.Store(9)

	handler := statusHandler(deps, time.Now().Add(-60*time.Second), metrics)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	w := httptest.NewRecorder()
	handler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp StatusResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if resp.Service.Name != "monetrix" || resp.Service.Version != "1.2.3" {
		t.Errorf("Service = %+v", resp.Service)
	}
	if resp.Service.UptimeSeconds < 59 {
		t.Errorf("UptimeSeconds = %d, want >= 59", resp.Service.UptimeSeconds)
	}
	if resp.Sessions.Active != 2 || resp.Sessions.Total != 9 {
		t.Errorf("Sessions = %+v", resp.Sessions)
	}
	if resp.Tools.Registered != 2 || resp.Tools.CallsTotal != 42 || resp.Tools.ErrorsTotal != 3 || resp.Tools.SkippedTotal != 7 {
		t.Errorf("Tools = %+v", resp.Tools)
	}
	if resp.Journal == nil || resp.Journal.Total != 5 || resp.Journal.ByTool["getNews"] != 5 {
		t.Errorf("Journal = %+v", resp.Journal)
	}
	if len(resp.Scheduler) != 1 || resp.Scheduler[0].Runs != 3 {
		t.Errorf("Scheduler = %+v", resp.Scheduler)
	}
}

type stubBreaker struct{}

func (stubBreaker) BreakerState() string { return "half-open" }
func (stubBreaker) BreakerCounts() gobreaker.Counts {
	return gobreaker.Counts{Requests: 4, TotalFailures: 3, ConsecutiveFailures: 2}
}

func TestStatusHandler_Upstream(t *testing.T) {
	deps := apiTestDeps(t)
	w := httptest.NewRecorder()
	statusHandler(deps, time.Now(), &Metrics{})(w, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	var resp StatusResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Upstream == nil {
		t.Fatal("upstream section missing")
	}
	want := UpstreamStatus{Breaker: "half-open", Requests: 4, TotalFailures: 3, ConsecutiveFailures: 2}
	if *resp.Upstream != want {
		t.Errorf("upstream = %+v, want %+v", *resp.Upstream, want)
	}
}

func TestStatusHandler_OptionalSections(t *testing.T) {
	deps := newHandlerDeps(t)
	deps.Journal = nil

	w := httptest.NewRecorder()
	statusHandler(deps, time.Now(), &Metrics{})(w, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	var raw map[string]any
	if err := json.NewDecoder(w.Body).Decode(&raw); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := raw["journal"]; ok {
		t.Error("journal section should be omitted when disabled")
	}
	if _, ok := raw["scheduler"]; ok {
		t.Error("scheduler section should be omitted when disabled")
	}
	if _, ok := raw["upstream"]; ok {
		t.Error("upstream section should be omitted without a breaker reporter")
	}
	if raw["service"].(map[string]any)["version"] != "dev" {
		t.Errorf("version = %v", raw["service"])
	}
}

func TestStatusHandler_MethodNotAllowed(t *testing.T) {
	deps := apiTestDeps(t)
	handler := statusHandler(deps, time.Now(), &Metrics{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/status", nil)
	w := httptest.NewRecorder()
	handler(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

func TestMetricsHandler_Success(t *testing.T) {
	deps := apiTestDeps(t)
	metrics := &Metrics{}
	metrics.ToolCallsTotal.Store(100)
	metrics.ToolErrorsTotal.Store(5)
	metrics.CacheClearsTotal.Store(2)

	handler := metricsHandler(deps, time.Now().Add(-120*time.Second), metrics)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	handler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}

	body := w.Body.String()
	for _, want := range []string{
		"monetrix_sessions_active 2",
		"monetrix_tools_registered 2",
		"monetrix_tool_calls_total 100",
		"monetrix_tool_errors_total 5",
		"monetrix_cache_clears_total 2",
		"# TYPE monetrix_tool_calls_total counter",
		"go_goroutines",
		"monetrix_uptime_seconds 120",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics body missing %q", want)
		}
	}
}

func TestRESTRequiresToken(t *testing.T) {
	deps := apiTestDeps(t)
	srv := NewServer(deps.Bus, newTestAuth(), "127.0.0.1:0", quietLogger())
	RegisterRESTHandlers(srv, deps)

	var status http.HandlerFunc
	for _, r := range srv.httpRoutes {
		if r.pattern == "/api/v1/status" {
			status = r.handler
		}
	}
	if status == nil {
		t.Fatal("status route not registered")
	}

	w := httptest.NewRecorder()
	status(w, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("Authorization", "Bearer test-token")
	w = httptest.NewRecorder()
	status(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("bearer token: status = %d, want 200", w.Code)
	}
}

func TestRESTMetricsCountEvents(t *testing.T) {
	deps := newHandlerDeps(t)
	bus := &countingBus{handlers: map[domain.EventType][]domain.EventHandler{}}
	deps.Bus = bus
	srv := NewServer(bus, newTestAuth(), "127.0.0.1:0", quietLogger())
	metrics := RegisterRESTHandlers(srv, deps)

	ctx := context.Background()
	bus.Publish(ctx, domain.NewEvent(domain.EventToolCallCompleted, "s", nil))
	bus.Publish(ctx, domain.NewEvent(domain.EventToolCallFailed, "s", nil))
	bus.Publish(ctx, domain.NewEvent(domain.EventToolCallSkipped, "s", nil))
	bus.Publish(ctx, domain.NewEvent(domain.EventSessionCreated, "s", nil))

	if got := metrics.ToolCallsTotal.Load(); got != 2 {
		t.Errorf("ToolCallsTotal = %d, want 2", got)
	}
	if got := metrics.ToolErrorsTotal.Load(); got != 1 {
		t.Errorf("ToolErrorsTotal = %d, want 1", got)
	}
	if got := metrics.ToolSkippedTotal.Load(); got != 1 {
		t.Errorf("ToolSkippedTotal = %d, want 1", got)
	}
	if got := metrics.SessionsTotal.Load(); got != 1 {
		t.Errorf("SessionsTotal = %d, want 1", got)
	}
}

// countingBus dispatches synchronously by type.
type countingBus struct {
	testBus
	handlers map[domain.EventType][]domain.EventHandler
}

func (b *countingBus) Subscribe(typ domain.EventType, h domain.EventHandler) func() {
	b.handlers[typ] = append(b.handlers[typ], h)
	return func() {}
}

func (b *countingBus) Publish(ctx context.Context, e domain.Event) {
	for _, h := range b.handlers[e.Type] {
		h(ctx, e)
	}
}
