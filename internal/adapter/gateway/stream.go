package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"monetrix/internal/domain"
)

// attachable is the part of a session emitter the hub drives.
type attachable interface {
	Attach(sink domain.StreamSink)
	Detach()
}

type streamRoute struct {
	emitter attachable
	conns   map[uint64]struct{}
}

// streamHub routes each session's deltas to the connections subscribed to
// it. The emitter is attached when the first connection subscribes and
// detached when the last one leaves.
type streamHub struct {
	mu     sync.Mutex
	routes map[string]*streamRoute
	lookup func(id uint64) (*clientConn, bool)
	logger *slog.Logger
}

func newStreamHub(lookup func(uint64) (*clientConn, bool), logger *slog.Logger) *streamHub {
	return &streamHub{
		routes: make(map[string]*streamRoute),
		lookup: lookup,
		logger: logger,
	}
}

func (h *streamHub) subscribe(sessionID string, emitter attachable, connID uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.routes[sessionID]
	if !ok {
		r = &streamRoute{emitter: emitter, conns: make(map[uint64]struct{})}
		h.routes[sessionID] = r
		emitter.Attach(h.sink(sessionID))
		h.logger.Debug("stream attached", "session_id", sessionID, "conn_id", connID)
	}
	r.conns[connID] = struct{}{}
}

func (h *streamHub) unsubscribe(sessionID string, connID uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sessionID, connID)
}

// unsubscribeConn removes a connection from every session it follows.
func (h *streamHub) unsubscribeConn(connID uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sessionID := range h.routes {
		h.removeLocked(sessionID, connID)
	}
}

func (h *streamHub) removeLocked(sessionID string, connID uint64) {
	r, ok := h.routes[sessionID]
	if !ok {
		return
	}
	delete(r.conns, connID)
	if len(r.conns) == 0 {
		r.emitter.Detach()
		delete(h.routes, sessionID)
		h.logger.Debug("stream detached", "session_id", sessionID)
	}
}

// forget drops a closed session's route without touching its emitter.
func (h *streamHub) forget(sessionID string) {
	h.mu.Lock()
	delete(h.routes, sessionID)
	h.mu.Unlock()
}

func (h *streamHub) subscribers(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.routes[sessionID]; ok {
		return len(r.conns)
	}
	return 0
}

// broadcast queues frame on every subscriber of sessionID and returns how
// many accepted it.
func (h *streamHub) broadcast(sessionID string, frame Frame) int {
	h.mu.Lock()
	r, ok := h.routes[sessionID]
	var ids []uint64
	if ok {
		ids = make([]uint64, 0, len(r.conns))
		for id := range r.conns {
			ids = append(ids, id)
		}
	}
	h.mu.Unlock()

	sent := 0
	for _, id := range ids {
		cc, ok := h.lookup(id)
		if !ok {
			continue
		}
		if cc.trySend(frame) {
			sent++
		} else {
			h.logger.Warn("gateway: dropped stream frame for slow client", "conn_id", id, "session_id", sessionID)
		}
	}
	return sent
}

// sink wraps each delta in a stream.delta event frame for sessionID.
func (h *streamHub) sink(sessionID string) domain.StreamSink {
	return domain.StreamSinkFunc(func(_ context.Context, delta domain.StreamDelta) error {
		data, err := json.Marshal(domain.StreamDeltaPayload{Delta: delta})
		if err != nil {
			return err
		}
		event, err := json.Marshal(domain.Event{
			Type:      domain.EventStreamDelta,
			Timestamp: time.Now(),
			SessionID: sessionID,
			Payload:   data,
		})
		if err != nil {
			return err
		}
		if h.broadcast(sessionID, Frame{Type: FrameTypeEvent, Payload: event}) == 0 {
			return domain.NewSubSystemError("gateway", "streamHub.sink", domain.ErrStreamClosed, "no subscriber accepted the delta")
		}
		return nil
	})
}
