package domain

import "context"

// StreamDeltaType tags each envelope written to the UI stream.
type StreamDeltaType string

const (
	DeltaToolLoading   StreamDeltaType = "tool-loading"
	DeltaQueryLoading  StreamDeltaType = "query-loading"
	DeltaTextDelta     StreamDeltaType = "text-delta"
	DeltaCodeDelta     StreamDeltaType = "code-delta"
	DeltaTitle         StreamDeltaType = "title"
	DeltaUserMessageID StreamDeltaType = "user-message-id"
	DeltaID            StreamDeltaType = "id"
	DeltaKind          StreamDeltaType = "kind"
	DeltaSuggestion    StreamDeltaType = "suggestion"
	DeltaClear         StreamDeltaType = "clear"
	DeltaFinish        StreamDeltaType = "finish"
)

// IsValid reports whether t is a known delta type.
func (t StreamDeltaType) IsValid() bool {
	switch t {
	case DeltaToolLoading, DeltaQueryLoading, DeltaTextDelta, DeltaCodeDelta,
		DeltaTitle, DeltaUserMessageID, DeltaID, DeltaKind, DeltaSuggestion,
		DeltaClear, DeltaFinish:
		return true
	}
	return false
}

// StreamDelta is the {type, content} envelope consumed by the UI.
type StreamDelta struct {
	Type    StreamDeltaType `json:"type"`
	Content any             `json:"content"`
}

// ToolLoadingContent is the content of a tool-loading delta.
// Active counts executions of Tool still loading after this event.
type ToolLoadingContent struct {
	Tool      ToolName `json:"tool"`
	IsLoading bool     `json:"isLoading"`
	Message   string   `json:"message,omitempty"`
	CallID    string   `json:"callId"`
	Active    int      `json:"active"`
}

// QueryLoadingContent is the content of a query-loading delta.
type QueryLoadingContent struct {
	IsLoading bool     `json:"isLoading"`
	TaskNames []string `json:"taskNames"`
	Message   string   `json:"message,omitempty"`
}

// StreamSink receives deltas from an emitter. Implementations must not block
// for long; the emitter drains into a single sink goroutine.
type StreamSink interface {
	WriteDelta(ctx context.Context, delta StreamDelta) error
}

// StreamSinkFunc adapts a function to StreamSink.
type StreamSinkFunc func(ctx context.Context, delta StreamDelta) error

// WriteDelta calls f.
func (f StreamSinkFunc) WriteDelta(ctx context.Context, delta StreamDelta) error {
	return f(ctx, delta)
}

// StreamDeltaPayload is the payload for EventStreamDelta events.
type StreamDeltaPayload struct {
	Delta StreamDelta `json:"delta"`
}
