package tool

import (
	"context"
	"time"

	"monetrix/internal/domain"
)

// publishToolEvent publishes a tool.call.* event for one invocation.
// If the bus is nil, this is a no-op. The session ID is taken from the context.
func publishToolEvent(ctx context.Context, bus domain.EventBus, eventType domain.EventType, payload domain.ToolCallEventPayload) {
	if bus == nil {
		return
	}
	bus.Publish(ctx, domain.NewEvent(eventType, domain.SessionIDFromContext(ctx), payload))
}

// callPayload builds the event payload for a finished invocation.
func callPayload(result *domain.ToolResult, started time.Time) domain.ToolCallEventPayload {
	p := domain.ToolCallEventPayload{
		Tool:       result.Tool,
		CallID:     result.ToolCallID,
		DurationMs: time.Since(started).Milliseconds(),
	}
	if result.Error != nil {
		p.Status = result.Error.Status
		p.Category = result.Error.Category
	}
	return p
}
