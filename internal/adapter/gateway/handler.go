package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"monetrix/internal/adapter/journal"
	"monetrix/internal/domain"
	"monetrix/internal/usecase"
	"monetrix/internal/usecase/scheduling"
)

// ToolCatalog lists the tool schemas independent of any session.
type ToolCatalog interface {
	Schemas() []domain.ToolSchema
}

// JournalReader serves the tool-call journal.
type JournalReader interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
	Counts(ctx context.Context) (journal.Counts, error)
}

// TaskReporter reports scheduled task state.
type TaskReporter interface {
	Status() []scheduling.TaskStatus
}

// BreakerReporter reports the financial API circuit breaker.
type BreakerReporter interface {
	BreakerState() string
	BreakerCounts() gobreaker.Counts
}

// HandlerDeps holds dependencies needed by RPC handlers.
type HandlerDeps struct {
	Sessions  *usecase.SessionManager
	Catalog   ToolCatalog
	Journal   JournalReader   // can be nil (journal disabled)
	Scheduler TaskReporter    // can be nil (scheduler disabled)
	Breaker   BreakerReporter // can be nil
	Bus       domain.EventBus
	Logger    *slog.Logger
	Version   string
}

// maxJournalPage bounds journal.recent.
const maxJournalPage = 500

// RegisterRESTHandlers registers HTTP REST endpoints on the gateway server.
func RegisterRESTHandlers(s *Server, deps HandlerDeps) *Metrics {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	startTime := time.Now()
	metrics := &Metrics{}

	// Subscribe to events for metric counters.
	if deps.Bus != nil {
		deps.Bus.Subscribe(domain.EventToolCallCompleted, func(_ context.Context, e domain.Event) {
			metrics.ToolCallsTotal.Add(1)
		})
		deps.Bus.Subscribe(domain.EventToolCallFailed, func(_ context.Context, e domain.Event) {
			metrics.ToolCallsTotal.Add(1)
			metrics.ToolErrorsTotal.Add(1)
		})
		deps.Bus.Subscribe(domain.EventToolCallSkipped, func(_ context.Context, e domain.Event) {
			metrics.ToolSkippedTotal.Add(1)
		})
		deps.Bus.Subscribe(domain.EventSessionCreated, func(_ context.Context, e domain.Event) {
			metrics.SessionsTotal.Add(1)
		})
		deps.Bus.Subscribe(domain.EventCacheCleared, func(_ context.Context, e domain.Event) {
			metrics.CacheClearsTotal.Add(1)
		})
	}

	// Auth middleware for REST endpoints.
	authMiddleware := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			token := r.URL.Query().Get("token")
			if token == "" {
				token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			}
			if _, err := s.auth.Authenticate(token); err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}

	s.RegisterHTTPRoute("/api/v1/status", authMiddleware(statusHandler(deps, startTime, metrics)))
	s.RegisterHTTPRoute("/metrics", authMiddleware(metricsHandler(deps, startTime, metrics)))

	return metrics
}

// RegisterDefaultHandlers registers all built-in RPC handlers on the server.
func RegisterDefaultHandlers(s *Server, deps HandlerDeps) error {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s.RegisterHandler("tool.list", toolListHandler(deps))
	s.RegisterHandler("tool.execute", toolExecuteHandler(deps))
	s.RegisterHandler("session.open", sessionOpenHandler(s, deps))
	s.RegisterHandler("session.subscribe", sessionSubscribeHandler(s, deps))
	s.RegisterHandler("session.close", sessionCloseHandler(s, deps))
	s.RegisterHandler("session.list", sessionListHandler(deps))
	s.RegisterHandler("cache.stats", cacheStatsHandler(deps))
	s.RegisterHandler("cache.clear", cacheClearHandler(deps))
	s.RegisterHandler("stream.write", streamWriteHandler(deps))

	if err := registerAnalysisHandlers(s, deps); err != nil {
		return err
	}

	if deps.Journal != nil {
		s.RegisterHandler("journal.recent", journalRecentHandler(deps))
	}
	return nil
}

func invalidPayload(detail string) error {
	return domain.NewSubSystemError("gateway", "RPC", domain.ErrRPCInvalidPayload, detail)
}

// sessionRequest is the payload of every method scoped to one session.
type sessionRequest struct {
	SessionID string `json:"session_id"`
}

func decodeSession(deps HandlerDeps, payload json.RawMessage) (*usecase.Session, error) {
	var req sessionRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, invalidPayload(err.Error())
	}
	if req.SessionID == "" {
		return nil, invalidPayload("session_id is required")
	}
	return deps.Sessions.Get(req.SessionID)
}

// --- tools ---

func toolListHandler(deps HandlerDeps) RPCHandler {
	return func(_ context.Context, _ *ClientInfo, _ json.RawMessage) (json.RawMessage, error) {
		return json.Marshal(deps.Catalog.Schemas())
	}
}

type toolExecuteRequest struct {
	SessionID string          `json:"session_id"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type toolExecuteResponse struct {
	*domain.ToolResult
	Prompt usecase.Prompt `json:"prompt,omitempty"`
}

func toolExecuteHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var req toolExecuteRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, invalidPayload(err.Error())
		}
		if req.SessionID == "" || req.Name == "" {
			return nil, invalidPayload("session_id and name are required")
		}
		sess, err := deps.Sessions.Get(req.SessionID)
		if err != nil {
			return nil, err
		}

		result := sess.Execute(ctx, domain.ToolCall{ID: req.ID, Name: req.Name, Arguments: req.Arguments})
		resp := toolExecuteResponse{ToolResult: result}
		if result.IsError() {
			resp.Prompt = usecase.PromptFor(*result.Error)
		}
		return json.Marshal(resp)
	}
}

// --- sessions ---

type sessionOpenRequest struct {
	UserID string `json:"user_id,omitempty"`
}

func sessionOpenHandler(s *Server, deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, client *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var req sessionOpenRequest
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, invalidPayload(err.Error())
			}
		}
		sess, err := deps.Sessions.Open(ctx, req.UserID)
		if err != nil {
			return nil, err
		}
		if client.ConnID != 0 {
			s.streams.subscribe(sess.ID, sess.Stream, client.ConnID)
		}
		return json.Marshal(sess.Info())
	}
}

func sessionSubscribeHandler(s *Server, deps HandlerDeps) RPCHandler {
	return func(_ context.Context, client *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		sess, err := decodeSession(deps, payload)
		if err != nil {
			return nil, err
		}
		if client.ConnID == 0 {
			return nil, invalidPayload("streaming requires a websocket connection")
		}
		s.streams.subscribe(sess.ID, sess.Stream, client.ConnID)
		return json.Marshal(map[string]int{"subscribers": s.streams.subscribers(sess.ID)})
	}
}

func sessionCloseHandler(s *Server, deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var req sessionRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, invalidPayload(err.Error())
		}
		if req.SessionID == "" {
			return nil, invalidPayload("session_id is required")
		}
		if err := deps.Sessions.Close(ctx, req.SessionID); err != nil {
			return nil, err
		}
		s.streams.forget(req.SessionID)
		return json.Marshal(map[string]bool{"ok": true})
	}
}

func sessionListHandler(deps HandlerDeps) RPCHandler {
	return func(_ context.Context, _ *ClientInfo, _ json.RawMessage) (json.RawMessage, error) {
		return json.Marshal(deps.Sessions.List())
	}
}

// --- cache ---

func cacheStatsHandler(deps HandlerDeps) RPCHandler {
	return func(_ context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		sess, err := decodeSession(deps, payload)
		if err != nil {
			return nil, err
		}
		return json.Marshal(sess.Tools.CacheStats())
	}
}

func cacheClearHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		sess, err := decodeSession(deps, payload)
		if err != nil {
			return nil, err
		}
		sess.Tools.ClearCache()
		if deps.Bus != nil {
			deps.Bus.Publish(ctx, domain.NewEvent(domain.EventCacheCleared, sess.ID, nil))
		}
		return json.Marshal(map[string]bool{"ok": true})
	}
}

// --- stream ---

type streamWriteRequest struct {
	SessionID string                 `json:"session_id"`
	Type      domain.StreamDeltaType `json:"type"`
	Content   json.RawMessage        `json:"content,omitempty"`
}

func streamWriteHandler(deps HandlerDeps) RPCHandler {
	return func(_ context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var req streamWriteRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, invalidPayload(err.Error())
		}
		if req.SessionID == "" {
			return nil, invalidPayload("session_id is required")
		}
		if !req.Type.IsValid() {
			return nil, invalidPayload("unknown delta type " + string(req.Type))
		}
		sess, err := deps.Sessions.Get(req.SessionID)
		if err != nil {
			return nil, err
		}

		var content any
		if len(req.Content) > 0 {
			content = req.Content
		}
		sess.Touch()
		accepted := sess.Stream.Write(domain.StreamDelta{Type: req.Type, Content: content})
		return json.Marshal(map[string]bool{"accepted": accepted})
	}
}

// --- journal ---

type journalRecentRequest struct {
	Limit int `json:"limit,omitempty"`
}

func journalRecentHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var req journalRecentRequest
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, invalidPayload(err.Error())
			}
		}
		if req.Limit < 0 || req.Limit > maxJournalPage {
			return nil, invalidPayload("limit must be between 0 and 500")
		}
		entries, err := deps.Journal.Recent(ctx, req.Limit)
		if err != nil {
			return nil, err
		}
		return json.Marshal(entries)
	}
}
