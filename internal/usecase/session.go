package usecase

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"monetrix/internal/domain"
	"monetrix/internal/usecase/datastream"
	"monetrix/internal/usecase/toolcache"
)

// Reasons recorded on session.deleted events.
const (
	CloseReasonClient   = "closed"
	CloseReasonIdle     = "idle"
	CloseReasonShutdown = "shutdown"
)

// Where a session's API key came from.
const (
	KeySourceUser    = "user"
	KeySourceDefault = "default"
	KeySourceNone    = "none"
)

// ToolsetFactory builds the tool runner of one session from its resolved key
// and its own cache and emitter.
type ToolsetFactory func(apiKey string, cache *toolcache.Cache, emitter *datastream.Emitter) domain.ToolRunner

// Session is one conversation: its dedup cache, its UI stream and the tools
// bound to its API key. Nothing in a session is shared with another.
type Session struct {
	ID        string
	UserID    string
	KeySource string
	CreatedAt time.Time

	Tools  domain.ToolRunner
	Cache  *toolcache.Cache
	Stream *datastream.Emitter

	mu         sync.Mutex
	lastActive time.Time
}

// Touch marks the session as active now.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// LastActive returns the time of the last call or stream write.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Execute runs a tool call with the session ID on the context.
func (s *Session) Execute(ctx context.Context, call domain.ToolCall) *domain.ToolResult {
	s.Touch()
	ctx = domain.ContextWithSessionID(ctx, s.ID)
	if s.UserID != "" {
		ctx = domain.ContextWithUserID(ctx, s.UserID)
	}
	return s.Tools.Execute(ctx, call)
}

// Info returns a serialisable summary of the session.
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ID:         s.ID,
		UserID:     s.UserID,
		KeySource:  s.KeySource,
		CreatedAt:  s.CreatedAt,
		LastActive: s.LastActive(),
		Cache:      s.Tools.CacheStats(),
		Stream:     s.Stream.Stats(),
	}
}

// SessionInfo is the listing form of a session.
type SessionInfo struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id,omitempty"`
	KeySource  string            `json:"key_source"`
	CreatedAt  time.Time         `json:"created_at"`
	LastActive time.Time         `json:"last_active"`
	Cache      domain.CacheStats `json:"cache"`
	Stream     datastream.Stats  `json:"stream"`
}

// SessionManagerConfig tunes per-session resources.
type SessionManagerConfig struct {
	CacheMaxSize  int
	CacheTTL      time.Duration
	StreamBuffer  int
	IdleTimeout   time.Duration
	DefaultAPIKey string
}

// SessionManager owns every live session. Sessions are created explicitly and
// end on Close, on idle reaping, or on shutdown.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	cfg     SessionManagerConfig
	factory ToolsetFactory
	keys    domain.APIKeyProvider
	bus     domain.EventBus
	logger  *slog.Logger
}

// NewSessionManager creates a manager. keys and bus may be nil.
func NewSessionManager(cfg SessionManagerConfig, factory ToolsetFactory, keys domain.APIKeyProvider, bus domain.EventBus, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		factory:  factory,
		keys:     keys,
		bus:      bus,
		logger:   logger,
	}
}

// Open creates a session for userID. The user's stored key wins over the
// configured default; a provider failure falls back to the default.
func (sm *SessionManager) Open(ctx context.Context, userID string) (*Session, error) {
	now := time.Now()
	id := ulid.Make().String()

	apiKey, source := sm.resolveKey(ctx, userID)
	cache := toolcache.New(toolcache.Config{MaxSize: sm.cfg.CacheMaxSize, TTL: sm.cfg.CacheTTL}, sm.logger)
	stream := datastream.New(datastream.Config{BufferSize: sm.cfg.StreamBuffer, SessionID: id}, sm.logger)

	s := &Session{
		ID:         id,
		UserID:     userID,
		KeySource:  source,
		CreatedAt:  now,
		Cache:      cache,
		Stream:     stream,
		lastActive: now,
	}
	s.Tools = sm.factory(apiKey, cache, stream)

	sm.mu.Lock()
	sm.sessions[id] = s
	sm.mu.Unlock()

	sm.logger.Info("session opened", "session_id", id, "user_id", userID, "key_source", source)
	sm.publish(ctx, domain.EventSessionCreated, domain.SessionEventPayload{SessionID: id, UserID: userID})
	return s, nil
}

func (sm *SessionManager) resolveKey(ctx context.Context, userID string) (string, string) {
	if sm.keys != nil && userID != "" {
		key, err := sm.keys.APIKey(ctx, userID, domain.KeyProviderFinancialDatasets)
		switch {
		case err != nil:
			sm.logger.Warn("api key lookup failed, using default", "user_id", userID, "error", err)
		case key != "":
			return key, KeySourceUser
		}
	}
	if sm.cfg.DefaultAPIKey != "" {
		return sm.cfg.DefaultAPIKey, KeySourceDefault
	}
	return "", KeySourceNone
}

// Get returns a live session or ErrSessionNotFound.
func (sm *SessionManager) Get(id string) (*Session, error) {
	sm.mu.RLock()
	s, ok := sm.sessions[id]
	sm.mu.RUnlock()
	if !ok {
		return nil, domain.NewSubSystemError("session", "SessionManager.Get", domain.ErrSessionNotFound, id)
	}
	return s, nil
}

// Close ends a session and closes its stream.
func (sm *SessionManager) Close(ctx context.Context, id string) error {
	return sm.closeWithReason(ctx, id, CloseReasonClient)
}

func (sm *SessionManager) closeWithReason(ctx context.Context, id, reason string) error {
	sm.mu.Lock()
	s, ok := sm.sessions[id]
	delete(sm.sessions, id)
	sm.mu.Unlock()
	if !ok {
		return domain.NewSubSystemError("session", "SessionManager.Close", domain.ErrSessionNotFound, id)
	}

	s.Stream.Close()
	sm.logger.Info("session closed", "session_id", id, "reason", reason)
	sm.publish(ctx, domain.EventSessionDeleted, domain.SessionEventPayload{SessionID: id, UserID: s.UserID, Reason: reason})
	return nil
}

// List returns every live session, oldest first.
func (sm *SessionManager) List() []SessionInfo {
	sm.mu.RLock()
	sessions := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		sessions = append(sessions, s)
	}
	sm.mu.RUnlock()

	infos := make([]SessionInfo, len(sessions))
	for i, s := range sessions {
		infos[i] = s.Info()
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// Len returns the number of live sessions.
func (sm *SessionManager) Len() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// Reap closes sessions idle longer than the configured timeout and returns
// how many were closed. A zero timeout disables reaping.
func (sm *SessionManager) Reap(ctx context.Context) int {
	if sm.cfg.IdleTimeout <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-sm.cfg.IdleTimeout)

	// Collect under the read lock, close outside it.
	sm.mu.RLock()
	var stale []string
	for id, s := range sm.sessions {
		if s.LastActive().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	sm.mu.RUnlock()

	n := 0
	for _, id := range stale {
		if err := sm.closeWithReason(ctx, id, CloseReasonIdle); err == nil {
			n++
		}
	}
	if n > 0 {
		sm.logger.Info("reaped idle sessions", "count", n)
	}
	return n
}

// CloseAll ends every session; used on shutdown.
func (sm *SessionManager) CloseAll(ctx context.Context) {
	sm.mu.RLock()
	ids := make([]string, 0, len(sm.sessions))
	for id := range sm.sessions {
		ids = append(ids, id)
	}
	sm.mu.RUnlock()

	for _, id := range ids {
		_ = sm.closeWithReason(ctx, id, CloseReasonShutdown)
	}
}

func (sm *SessionManager) publish(ctx context.Context, typ domain.EventType, payload domain.SessionEventPayload) {
	if sm.bus == nil {
		return
	}
	sm.bus.Publish(ctx, domain.NewEvent(typ, payload.SessionID, payload))
}
