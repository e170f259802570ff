package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"monetrix/internal/domain"
	"monetrix/internal/usecase/datastream"
	"monetrix/internal/usecase/toolcache"
)

// stubRunner records the key it was built with and the calls it received.
type stubRunner struct {
	apiKey string
	cache  *toolcache.Cache

	mu    sync.Mutex
	ctxs  []context.Context
	calls []domain.ToolCall
}

func (r *stubRunner) Execute(ctx context.Context, call domain.ToolCall) *domain.ToolResult {
	r.mu.Lock()
	r.ctxs = append(r.ctxs, ctx)
	r.calls = append(r.calls, call)
	r.mu.Unlock()
	return &domain.ToolResult{ToolCallID: call.ID, Tool: domain.ToolName(call.Name)}
}
func (r *stubRunner) Schemas() []domain.ToolSchema   { return nil }
func (r *stubRunner) ClearCache()                    { r.cache.Clear() }
func (r *stubRunner) CacheStats() domain.CacheStats { return r.cache.Stats() }

func stubFactory(built *[]*stubRunner) ToolsetFactory {
	var mu sync.Mutex
	return func(apiKey string, cache *toolcache.Cache, _ *datastream.Emitter) domain.ToolRunner {
		r := &stubRunner{apiKey: apiKey, cache: cache}
		mu.Lock()
		*built = append(*built, r)
		mu.Unlock()
		return r
	}
}

type mapKeys struct {
	keys map[string]string
	err  error
}

func (m mapKeys) APIKey(_ context.Context, userID string, provider domain.KeyProvider) (string, error) {
	if provider != domain.KeyProviderFinancialDatasets {
		return "", nil
	}
	return m.keys[userID], m.err
}

type recordingBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *recordingBus) Publish(_ context.Context, e domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}
func (b *recordingBus) Subscribe(domain.EventType, domain.EventHandler) func() { return func() {} }
func (b *recordingBus) SubscribeAll(domain.EventHandler) func()                { return func() {} }
func (b *recordingBus) Close()                                                 {}

func TestSessionOpenResolvesKey(t *testing.T) {
	tests := []struct {
		name       string
		keys       domain.APIKeyProvider
		userID     string
		defaultKey string
		wantKey    string
		wantSource string
	}{
		{"user key wins", mapKeys{keys: map[string]string{"u1": "user-key"}}, "u1", "default-key", "user-key", KeySourceUser},
		{"no stored key", mapKeys{keys: map[string]string{}}, "u1", "default-key", "default-key", KeySourceDefault},
		{"provider error falls back", mapKeys{err: errors.New("db down")}, "u1", "default-key", "default-key", KeySourceDefault},
		{"anonymous user", mapKeys{keys: map[string]string{"": "nope"}}, "", "default-key", "default-key", KeySourceDefault},
		{"nil provider", nil, "u1", "default-key", "default-key", KeySourceDefault},
		{"nothing configured", nil, "u1", "", "", KeySourceNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var built []*stubRunner
			sm := NewSessionManager(SessionManagerConfig{DefaultAPIKey: tt.defaultKey}, stubFactory(&built), tt.keys, nil, nil)
			defer sm.CloseAll(context.Background())

			s, err := sm.Open(context.Background(), tt.userID)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if len(built) != 1 {
				t.Fatalf("factory called %d times, want 1", len(built))
			}
			if built[0].apiKey != tt.wantKey {
				t.Errorf("api key = %q, want %q", built[0].apiKey, tt.wantKey)
			}
			if s.KeySource != tt.wantSource {
				t.Errorf("KeySource = %q, want %q", s.KeySource, tt.wantSource)
			}
		})
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	var built []*stubRunner
	sm := NewSessionManager(SessionManagerConfig{}, stubFactory(&built), nil, nil, nil)
	defer sm.CloseAll(context.Background())

	a, _ := sm.Open(context.Background(), "")
	b, _ := sm.Open(context.Background(), "")

	if a.ID == b.ID {
		t.Fatal("session IDs must differ")
	}
	if len(a.ID) != 26 {
		t.Errorf("ID should be a 26-char ULID, got %q", a.ID)
	}
	if a.Cache == b.Cache || a.Stream == b.Stream {
		t.Fatal("sessions must not share cache or stream")
	}

	a.Cache.ShouldExecute(domain.ToolGetNews, map[string]any{"ticker": "TSLA"})
	if !b.Cache.ShouldExecute(domain.ToolGetNews, map[string]any{"ticker": "TSLA"}) {
		t.Error("dedup must not cross sessions")
	}
}

func TestSessionExecuteCarriesIDs(t *testing.T) {
	var built []*stubRunner
	sm := NewSessionManager(SessionManagerConfig{}, stubFactory(&built), nil, nil, nil)
	defer sm.CloseAll(context.Background())

	s, _ := sm.Open(context.Background(), "user-7")
	before := s.LastActive()
	time.Sleep(2 * time.Millisecond)

	s.Execute(context.Background(), domain.ToolCall{ID: "c1", Name: "getNews"})

	ctx := built[0].ctxs[0]
	if got := domain.SessionIDFromContext(ctx); got != s.ID {
		t.Errorf("session id on ctx = %q, want %q", got, s.ID)
	}
	if got := domain.UserIDFromContext(ctx); got != "user-7" {
		t.Errorf("user id on ctx = %q, want user-7", got)
	}
	if !s.LastActive().After(before) {
		t.Error("Execute should touch the session")
	}
}

func TestSessionGetAndClose(t *testing.T) {
	var built []*stubRunner
	bus := &recordingBus{}
	sm := NewSessionManager(SessionManagerConfig{}, stubFactory(&built), nil, bus, nil)
	ctx := context.Background()

	s, _ := sm.Open(ctx, "u")
	got, err := sm.Get(s.ID)
	if err != nil || got != s {
		t.Fatalf("Get = %v, %v", got, err)
	}

	if err := sm.Close(ctx, s.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := sm.Get(s.ID); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("Get after close: err = %v, want ErrSessionNotFound", err)
	}
	if err := sm.Close(ctx, s.ID); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("double close: err = %v, want ErrSessionNotFound", err)
	}
	if s.Stream.Write(domain.StreamDelta{Type: domain.DeltaFinish}) {
		t.Error("closed session stream should refuse writes")
	}

	if len(bus.events) != 2 {
		t.Fatalf("got %d events, want 2", len(bus.events))
	}
	if bus.events[0].Type != domain.EventSessionCreated || bus.events[1].Type != domain.EventSessionDeleted {
		t.Errorf("event types = %s, %s", bus.events[0].Type, bus.events[1].Type)
	}
	if bus.events[1].SessionID != s.ID {
		t.Errorf("event session = %q, want %q", bus.events[1].SessionID, s.ID)
	}
}

func TestSessionListOrdered(t *testing.T) {
	var built []*stubRunner
	sm := NewSessionManager(SessionManagerConfig{}, stubFactory(&built), nil, nil, nil)
	defer sm.CloseAll(context.Background())

	first, _ := sm.Open(context.Background(), "a")
	time.Sleep(2 * time.Millisecond)
	second, _ := sm.Open(context.Background(), "b")

	list := sm.List()
	if len(list) != 2 {
		t.Fatalf("List len = %d, want 2", len(list))
	}
	if list[0].ID != first.ID || list[1].ID != second.ID {
		t.Errorf("List order = %s, %s", list[0].ID, list[1].ID)
	}
	if sm.Len() != 2 {
		t.Errorf("Len = %d, want 2", sm.Len())
	}
}

func TestSessionReap(t *testing.T) {
	var built []*stubRunner
	sm := NewSessionManager(SessionManagerConfig{IdleTimeout: time.Minute}, stubFactory(&built), nil, nil, nil)
	defer sm.CloseAll(context.Background())

	stale, _ := sm.Open(context.Background(), "")
	fresh, _ := sm.Open(context.Background(), "")
	stale.mu.Lock()
	stale.lastActive = time.Now().Add(-2 * time.Minute)
	stale.mu.Unlock()

	if n := sm.Reap(context.Background()); n != 1 {
		t.Fatalf("Reap = %d, want 1", n)
	}
	if _, err := sm.Get(stale.ID); err == nil {
		t.Error("stale session should be gone")
	}
	if _, err := sm.Get(fresh.ID); err != nil {
		t.Errorf("fresh session reaped: %v", err)
	}
}

func TestSessionReapDisabled(t *testing.T) {
	var built []*stubRunner
	sm := NewSessionManager(SessionManagerConfig{}, stubFactory(&built), nil, nil, nil)
	defer sm.CloseAll(context.Background())

	s, _ := sm.Open(context.Background(), "")
	s.mu.Lock()
	s.lastActive = time.Now().Add(-24 * time.Hour)
	s.mu.Unlock()

	if n := sm.Reap(context.Background()); n != 0 {
		t.Errorf("Reap with zero timeout = %d, want 0", n)
	}
}

func TestSessionCloseAllStopsEmitters(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var built []*stubRunner
	sm := NewSessionManager(SessionManagerConfig{}, stubFactory(&built), nil, nil, nil)
	for i := 0; i < 5; i++ {
		if _, err := sm.Open(context.Background(), ""); err != nil {
			t.Fatal(err)
		}
	}
	sm.CloseAll(context.Background())
	if sm.Len() != 0 {
		t.Errorf("Len after CloseAll = %d, want 0", sm.Len())
	}
}

func TestSessionInfo(t *testing.T) {
	var built []*stubRunner
	sm := NewSessionManager(SessionManagerConfig{CacheMaxSize: 10, DefaultAPIKey: "k"}, stubFactory(&built), nil, nil, nil)
	defer sm.CloseAll(context.Background())

	s, _ := sm.Open(context.Background(), "u")
	s.Cache.ShouldExecute(domain.ToolGetNews, map[string]any{"ticker": "X"})

	info := s.Info()
	if info.Cache.Size != 1 || info.Cache.MaxSize != 10 {
		t.Errorf("cache stats = %+v", info.Cache)
	}
	if info.KeySource != KeySourceDefault {
		t.Errorf("KeySource = %q", info.KeySource)
	}
	if info.Stream.Attached {
		t.Error("new session stream should be detached")
	}
}
