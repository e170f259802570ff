// Package datastream publishes loading-state and content deltas to the UI.
//
// An Emitter is a bounded queue drained by one goroutine into whichever sink is
// attached. Writes never block: with no sink attached, or with the queue full,
// the delta is dropped and counted.
package datastream

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"monetrix/internal/domain"
)

// DefaultBufferSize is the queue length used when Config.BufferSize is not positive.
const DefaultBufferSize = 256

// Config tunes an Emitter.
type Config struct {
	BufferSize int
	// SessionID tags log lines.
	SessionID string
}

// Stats is a snapshot of emitter counters.
type Stats struct {
	Written  uint64 `json:"written"`
	Dropped  uint64 `json:"dropped"`
	Failed   uint64 `json:"failed"`
	Queued   int    `json:"queued"`
	Attached bool   `json:"attached"`
}

// Emitter is safe for concurrent use. Deltas from one goroutine reach the
// sink in the order they were written; deltas from concurrent writers may
// interleave.
type Emitter struct {
	sessionID string
	logger    *slog.Logger
	queue     chan domain.StreamDelta
	done      chan struct{}

	mu     sync.RWMutex // guards sink and closed; held for read while enqueueing
	sink   domain.StreamSink
	closed bool

	loadMu sync.Mutex // orders counter updates with their deltas
	active map[domain.ToolName]int

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// New starts an emitter with no sink attached.
func New(cfg Config, logger *slog.Logger) *Emitter {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Emitter{
		sessionID: cfg.SessionID,
		logger:    logger,
		queue:     make(chan domain.StreamDelta, cfg.BufferSize),
		done:      make(chan struct{}),
		active:    make(map[domain.ToolName]int),
	}
	go e.drain()
	return e
}

// Attach sets the consumer, replacing any previous one.
func (e *Emitter) Attach(sink domain.StreamSink) {
	e.mu.Lock()
	e.sink = sink
	e.mu.Unlock()
}

// Detach removes the consumer. Deltas written afterwards are dropped.
func (e *Emitter) Detach() {
	e.mu.Lock()
	e.sink = nil
	e.mu.Unlock()
}

// Attached reports whether a consumer is attached.
func (e *Emitter) Attached() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sink != nil && !e.closed
}

// Write enqueues a delta and reports whether it was accepted.
func (e *Emitter) Write(delta domain.StreamDelta) bool {
	if !delta.Type.IsValid() {
		e.drop(delta, "unknown delta type")
		return false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	switch {
	case e.closed:
		e.drop(delta, "emitter closed")
		return false
	case e.sink == nil:
		e.drop(delta, "no stream consumer attached")
		return false
	}

	select {
	case e.queue <- delta:
		return true
	default:
		e.drop(delta, "stream queue full")
		return false
	}
}

func (e *Emitter) drop(delta domain.StreamDelta, reason string) {
	n := e.dropped.Add(1)
	e.logger.Warn("stream delta dropped",
		"reason", reason,
		"type", string(delta.Type),
		"session_id", e.sessionID,
		"dropped_total", n,
	)
}

func (e *Emitter) drain() {
	defer close(e.done)
	ctx := context.Background()
	for delta := range e.queue {
		e.mu.RLock()
		sink := e.sink
		e.mu.RUnlock()

		if sink == nil {
			e.drop(delta, "stream consumer detached")
			continue
		}
		if err := e.deliver(ctx, sink, delta); err != nil {
			e.failed.Add(1)
			e.logger.Warn("stream sink write failed",
				"type", string(delta.Type),
				"session_id", e.sessionID,
				"error", err,
			)
			continue
		}
		e.written.Add(1)
	}
}

// deliver shields the drain goroutine from a panicking sink.
func (e *Emitter) deliver(ctx context.Context, sink domain.StreamSink, delta domain.StreamDelta) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = domain.NewSubSystemError("stream", "Emitter.deliver", domain.ErrStreamClosed, "sink panicked")
		}
	}()
	return sink.WriteDelta(ctx, delta)
}

// Close stops accepting deltas and waits for queued ones to reach the sink.
// It is idempotent.
func (e *Emitter) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		<-e.done
		return
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()
	<-e.done
}

// Stats returns a snapshot of the emitter counters.
func (e *Emitter) Stats() Stats {
	return Stats{
		Written:  e.written.Load(),
		Dropped:  e.dropped.Load(),
		Failed:   e.failed.Load(),
		Queued:   len(e.queue),
		Attached: e.Attached(),
	}
}

// SetToolLoading announces a loading transition for one invocation of tool.
// Active in the emitted content is the number of invocations of tool still
// loading after this transition; the UI shows a spinner while it is positive.
func (e *Emitter) SetToolLoading(tool domain.ToolName, callID string, isLoading bool, message string) {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	n := e.active[tool]
	if isLoading {
		n++
	} else if n > 0 {
		n--
	}
	if n == 0 {
		delete(e.active, tool)
	} else {
		e.active[tool] = n
	}

	e.Write(domain.StreamDelta{
		Type: domain.DeltaToolLoading,
		Content: domain.ToolLoadingContent{
			Tool:      tool,
			IsLoading: isLoading,
			Message:   message,
			CallID:    callID,
			Active:    n,
		},
	})
}

// ActiveLoading returns the number of invocations of tool currently loading.
func (e *Emitter) ActiveLoading(tool domain.ToolName) int {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()
	return e.active[tool]
}

// SetQueryLoading announces the overall query state.
func (e *Emitter) SetQueryLoading(isLoading bool, taskNames []string, message string) {
	if taskNames == nil {
		taskNames = []string{}
	}
	e.Write(domain.StreamDelta{
		Type:    domain.DeltaQueryLoading,
		Content: domain.QueryLoadingContent{IsLoading: isLoading, TaskNames: taskNames, Message: message},
	})
}

func (e *Emitter) SendTextDelta(content string) {
	e.Write(domain.StreamDelta{Type: domain.DeltaTextDelta, Content: content})
}

func (e *Emitter) SendCodeDelta(content string) {
	e.Write(domain.StreamDelta{Type: domain.DeltaCodeDelta, Content: content})
}

func (e *Emitter) SendTitle(title string) {
	e.Write(domain.StreamDelta{Type: domain.DeltaTitle, Content: title})
}

func (e *Emitter) SendUserMessageID(id string) {
	e.Write(domain.StreamDelta{Type: domain.DeltaUserMessageID, Content: id})
}

// SendBlockID announces the ID of the document block being streamed.
func (e *Emitter) SendBlockID(id string) {
	e.Write(domain.StreamDelta{Type: domain.DeltaID, Content: id})
}

func (e *Emitter) SendKind(kind string) {
	e.Write(domain.StreamDelta{Type: domain.DeltaKind, Content: kind})
}

func (e *Emitter) SendSuggestion(suggestion any) {
	e.Write(domain.StreamDelta{Type: domain.DeltaSuggestion, Content: suggestion})
}

// Clear tells the UI to reset the streamed block.
func (e *Emitter) Clear() {
	e.Write(domain.StreamDelta{Type: domain.DeltaClear, Content: ""})
}

// Finish marks the end of the stream.
func (e *Emitter) Finish() {
	e.Write(domain.StreamDelta{Type: domain.DeltaFinish, Content: ""})
}
