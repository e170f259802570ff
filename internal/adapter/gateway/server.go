package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"monetrix/internal/domain"
)

// sendQueueSize is the outbound frame buffer of one connection.
const sendQueueSize = 64

// RPCHandler handles a single RPC method call.
type RPCHandler func(ctx context.Context, client *ClientInfo, payload json.RawMessage) (json.RawMessage, error)

// clientConn tracks a single WebSocket connection.
type clientConn struct {
	id        uint64
	info      *ClientInfo
	ws        *websocket.Conn
	sendCh    chan Frame // buffered outbound queue
	done      chan struct{}
	closeOnce sync.Once
}

// trySend queues a frame without blocking.
func (cc *clientConn) trySend(f Frame) bool {
	select {
	case <-cc.done:
		return false
	default:
	}
	select {
	case cc.sendCh <- f:
		return true
	default:
		return false
	}
}

// Server is the WebSocket gateway that exposes RPC methods, forwards bus
// events and routes session stream deltas to subscribed clients.
type Server struct {
	bus        domain.EventBus
	clients    sync.Map // connID (uint64) -> *clientConn
	auth       Authenticator
	handlersMu sync.RWMutex
	handlers   map[string]RPCHandler
	streams    *streamHub
	logger     *slog.Logger
	addr       string
	boundMu    sync.RWMutex
	boundAddr  string
	nextID     atomic.Uint64
	httpRoutes []httpRoute // additional HTTP routes
	middleware []func(http.Handler) http.Handler

	// lifeMu guards httpSrv, unsubAll and stopped between Start and Stop.
	lifeMu   sync.Mutex
	httpSrv  *http.Server
	unsubAll func()
	stopped  bool
	stopOnce sync.Once
	stopErr  error
}

type httpRoute struct {
	pattern string
	handler http.HandlerFunc
}

// NewServer creates a gateway server.
func NewServer(bus domain.EventBus, auth Authenticator, addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		bus:      bus,
		auth:     auth,
		handlers: make(map[string]RPCHandler),
		logger:   logger,
		addr:     addr,
	}
	s.streams = newStreamHub(s.lookupConn, logger)
	return s
}

// RegisterHandler adds an RPC handler for the given method name.
// Safe to call concurrently with active connections.
func (s *Server) RegisterHandler(method string, handler RPCHandler) {
	s.handlersMu.Lock()
	s.handlers[method] = handler
	s.handlersMu.Unlock()
}

// Methods returns the registered RPC method names.
func (s *Server) Methods() []string {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	out := make([]string, 0, len(s.handlers))
	for m := range s.handlers {
		out = append(out, m)
	}
	return out
}

// RegisterHTTPRoute adds an HTTP handler to the gateway's mux.
// Must be called before Start().
func (s *Server) RegisterHTTPRoute(pattern string, handler http.HandlerFunc) {
	s.httpRoutes = append(s.httpRoutes, httpRoute{pattern: pattern, handler: handler})
}

// Use wraps every HTTP route, the WebSocket upgrade included. The first
// middleware added is the outermost. Must be called before Start().
func (s *Server) Use(mw func(http.Handler) http.Handler) {
	s.middleware = append(s.middleware, mw)
}

// Start begins accepting WebSocket connections. Blocks until context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	for _, route := range s.httpRoutes {
		mux.HandleFunc(route.pattern, route.handler)
	}
	var handler http.Handler = mux
	for i := len(s.middleware) - 1; i >= 0; i-- {
		handler = s.middleware[i](handler)
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}

	s.lifeMu.Lock()
	if s.stopped {
		s.lifeMu.Unlock()
		listener.Close()
		return nil
	}
	httpSrv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	s.httpSrv = httpSrv
	// Forward bus events. Events of a session go to its subscribers only.
	if s.bus != nil {
		s.unsubAll = s.bus.SubscribeAll(s.forwardEvent)
	}
	s.lifeMu.Unlock()

	s.boundMu.Lock()
	s.boundAddr = listener.Addr().String()
	s.boundMu.Unlock()

	s.logger.Info("gateway started", "addr", s.BoundAddr())

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.Stop(context.Background())
		case <-done:
		}
	}()

	if err := httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

func (s *Server) forwardEvent(_ context.Context, event domain.Event) {
	// Deltas are delivered in order by the stream hub, not through the bus.
	if event.Type == domain.EventStreamDelta {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	frame := Frame{Type: FrameTypeEvent, Payload: payload}

	if event.SessionID != "" {
		s.streams.broadcast(event.SessionID, frame)
		// Reaped or closed elsewhere: stop routing to it.
		if event.Type == domain.EventSessionDeleted {
			s.streams.forget(event.SessionID)
		}
		return
	}
	s.clients.Range(func(_, value any) bool {
		cc := value.(*clientConn)
		if !cc.trySend(frame) {
			s.logger.Warn("gateway: dropped event for slow client", "conn_id", cc.id, "type", string(event.Type))
		}
		return true
	})
}

// Stop gracefully shuts down the gateway server. It is safe to call more than
// once and before Start; later calls wait for the first and return its error.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.lifeMu.Lock()
		s.stopped = true
		httpSrv, unsubAll := s.httpSrv, s.unsubAll
		s.lifeMu.Unlock()

		if unsubAll != nil {
			unsubAll()
		}

		// Close all client connections.
		s.clients.Range(func(key, value any) bool {
			cc := value.(*clientConn)
			s.streams.unsubscribeConn(cc.id)
			cc.closeOnce.Do(func() { close(cc.done) })
			cc.ws.Close(websocket.StatusGoingAway, "server shutting down")
			s.clients.Delete(key)
			return true
		})

		if httpSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			s.stopErr = httpSrv.Shutdown(shutdownCtx)
		}
	})
	return s.stopErr
}

// BoundAddr returns the actual address the server bound to. Only valid after Start.
func (s *Server) BoundAddr() string {
	s.boundMu.RLock()
	defer s.boundMu.RUnlock()
	return s.boundAddr
}

func (s *Server) lookupConn(id uint64) (*clientConn, bool) {
	v, ok := s.clients.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*clientConn), true
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	// Authenticate via query param.
	token := r.URL.Query().Get("token")
	clientInfo, err := s.auth.Authenticate(token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Secure origin checking: allow localhost for dev, same-origin, or explicit allowed origins
		OriginPatterns: []string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
			"[::1]",
			"[::1]:*",
		},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}

	connID := s.nextID.Add(1)
	clientInfo.ConnID = connID
	cc := &clientConn{
		id:     connID,
		info:   clientInfo,
		ws:     ws,
		sendCh: make(chan Frame, sendQueueSize),
		done:   make(chan struct{}),
	}
	s.clients.Store(connID, cc)

	s.logger.Info("gateway client connected", "conn_id", connID, "client", clientInfo.Name)

	// Start write loop.
	go s.writeLoop(cc)

	// Read loop (blocking).
	s.readLoop(r.Context(), cc)

	// Cleanup. Streams whose last subscriber this was are detached.
	s.streams.unsubscribeConn(connID)
	cc.closeOnce.Do(func() { close(cc.done) })
	s.clients.Delete(connID)
	ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("gateway client disconnected", "conn_id", connID)
}

func (s *Server) readLoop(ctx context.Context, cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		default:
		}

		var frame Frame
		err := wsjson.Read(ctx, cc.ws, &frame)
		if err != nil {
			return // connection closed or error
		}

		if frame.Type != FrameTypeRequest {
			continue
		}

		go s.dispatchRPC(ctx, cc, frame)
	}
}

func (s *Server) writeLoop(cc *clientConn) {
	for {
		select {
		case <-cc.done:
			return
		case frame := <-cc.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := wsjson.Write(ctx, cc.ws, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) dispatchRPC(ctx context.Context, cc *clientConn, req Frame) {
	s.handlersMu.RLock()
	handler, ok := s.handlers[req.Method]
	s.handlersMu.RUnlock()
	if !ok {
		s.sendResponse(cc, req.ID, nil, domain.ErrRPCMethodNotFound)
		return
	}

	result, err := s.invoke(ctx, handler, cc.info, req)
	s.sendResponse(cc, req.ID, result, err)
}

// invoke runs a handler, turning a panic into an error response.
func (s *Server) invoke(ctx context.Context, h RPCHandler, info *ClientInfo, req Frame) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("gateway: rpc handler panic", "method", req.Method, "panic", r)
			err = domain.NewSubSystemError("gateway", "Server.Dispatch", domain.ErrToolFailure, "internal error")
		}
	}()
	return h(ctx, info, req.Payload)
}

func (s *Server) sendResponse(cc *clientConn, id uint64, result json.RawMessage, err error) {
	resp := Frame{
		Type:    FrameTypeResponse,
		ID:      id,
		Payload: result,
	}
	if err != nil {
		resp.Error = err.Error()
		resp.Code = string(domain.ErrorCodeOf(err))
	}
	if !cc.trySend(resp) {
		s.logger.Warn("gateway: dropped RPC response for slow client", "frame_id", id)
	}
}
