// Package tool holds the fixed financial tool catalog and the orchestrator
// that runs every tool call through the same pipeline.
package tool

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"monetrix/internal/domain"
	"monetrix/internal/infra/tracer"
	"monetrix/internal/usecase"
)

var nullPayload = json.RawMessage("null")

// DedupCache suppresses repeated identical calls.
type DedupCache interface {
	ShouldExecute(tool domain.ToolName, params any) bool
	Clear()
	Stats() domain.CacheStats
}

// LoadingReporter receives loading transitions for each invocation.
type LoadingReporter interface {
	SetToolLoading(tool domain.ToolName, callID string, isLoading bool, message string)
}

// ManagerOption customises a Manager.
type ManagerOption func(*Manager)

// WithEventBus publishes tool.call.* events on bus.
func WithEventBus(bus domain.EventBus) ManagerOption {
	return func(m *Manager) { m.bus = bus }
}

// WithLoadingReporter announces loading transitions to r.
func WithLoadingReporter(r LoadingReporter) ManagerOption {
	return func(m *Manager) { m.loading = r }
}

// WithClock overrides the clock used for date defaults.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// Manager executes catalog tools for one session. Every call goes through
// validate, dedup, announce, fetch, clear and classify, in that order, and
// no error escapes Execute.
type Manager struct {
	registry   *Registry
	client     DataClient
	cache      DedupCache
	classifier *usecase.ErrorClassifier
	loading    LoadingReporter
	bus        domain.EventBus
	logger     *slog.Logger
	now        func() time.Time
}

var _ domain.ToolRunner = (*Manager)(nil)

// NewManager wires a Manager. cache and client are required.
func NewManager(registry *Registry, client DataClient, cache DedupCache, classifier *usecase.ErrorClassifier, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if classifier == nil {
		classifier = usecase.NewErrorClassifier(logger)
	}
	m := &Manager{
		registry:   registry,
		client:     client,
		cache:      cache,
		classifier: classifier,
		loading:    noopLoading{},
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Execute runs one tool call and always returns a result.
func (m *Manager) Execute(ctx context.Context, call domain.ToolCall) *domain.ToolResult {
	started := time.Now()
	callID := call.ID
	if callID == "" {
		callID = ulid.Make().String()
	}
	result := &domain.ToolResult{ToolCallID: callID, Tool: domain.ToolName(call.Name)}

	name, err := domain.ParseToolName(call.Name)
	if err != nil {
		m.reject(ctx, result, invalidArgs("unknown tool %q", call.Name), started)
		return result
	}
	desc, err := m.registry.Get(name)
	if err != nil {
		m.reject(ctx, result, invalidArgs("unknown tool %q", call.Name), started)
		return result
	}

	inv, err := desc.bindArgs(call.Arguments, m.now())
	if err != nil {
		m.reject(ctx, result, err, started)
		return result
	}

	if !m.cache.ShouldExecute(name, inv.params) {
		m.logger.Debug("duplicate tool call skipped", "tool", string(name), "call_id", callID)
		result.Skipped = true
		result.Payload = nullPayload
		publishToolEvent(ctx, m.bus, domain.EventToolCallSkipped, callPayload(result, started))
		return result
	}

	m.run(ctx, name, inv, result, started)
	return result
}

// run performs the announced, traced network call. Loading is cleared by
// defer so errors, panics and cancellation all end the spinner.
func (m *Manager) run(ctx context.Context, name domain.ToolName, inv invocation, result *domain.ToolResult, started time.Time) {
	ctx, span := tracer.StartSpan(ctx, "tool."+string(name))
	defer span.End()
	span.SetAttributes(
		tracer.StringAttr("tool.name", string(name)),
		tracer.StringAttr("tool.call_id", result.ToolCallID),
	)

	m.loading.SetToolLoading(name, result.ToolCallID, true, "")
	defer m.loading.SetToolLoading(name, result.ToolCallID, false, "")

	publishToolEvent(ctx, m.bus, domain.EventToolCallStarted, domain.ToolCallEventPayload{
		Tool:   name,
		CallID: result.ToolCallID,
	})

	payload, err := safeRun(ctx, inv, m.client)
	if err != nil {
		classified := m.classifier.Classify(err, name)
		result.Error = &classified.Result
		tracer.RecordError(span, err)
		span.SetAttributes(
			tracer.StringAttr("tool.outcome", "error"),
			tracer.StringAttr("tool.error_category", string(classified.Result.Category)),
			tracer.IntAttr("tool.status", classified.Result.Status),
			tracer.BoolAttr("tool.retryable", classified.Retryable),
		)
		publishToolEvent(ctx, m.bus, domain.EventToolCallFailed, callPayload(result, started))
		return
	}

	result.Payload = payload
	if name == domain.ToolGetStockPrices {
		result.Shape = priceShape(payload)
	}
	span.SetAttributes(tracer.StringAttr("tool.outcome", "ok"))
	tracer.SetOK(span)
	m.logger.Debug("tool call completed",
		"tool", string(name),
		"call_id", result.ToolCallID,
		"bytes", len(payload),
		"duration", time.Since(started),
	)
	publishToolEvent(ctx, m.bus, domain.EventToolCallCompleted, callPayload(result, started))
}

// reject records a call refused before any network activity.
func (m *Manager) reject(ctx context.Context, result *domain.ToolResult, err error, started time.Time) {
	vr := m.classifier.ValidationFailure(err, result.Tool)
	result.Error = &vr
	publishToolEvent(ctx, m.bus, domain.EventToolCallFailed, callPayload(result, started))
}

// Schemas returns the catalog schemas for function-calling.
func (m *Manager) Schemas() []domain.ToolSchema { return m.registry.Schemas() }

// ClearCache forgets every recorded call so identical calls run again.
func (m *Manager) ClearCache() { m.cache.Clear() }

// CacheStats reports dedup cache counters.
func (m *Manager) CacheStats() domain.CacheStats { return m.cache.Stats() }

// priceShape classifies a getStockPrices payload. Undecodable payloads are
// reported as empty; renderers handle that case.
func priceShape(payload json.RawMessage) string {
	d, err := domain.DecodePriceData(payload)
	if err != nil {
		return domain.ShapeEmpty
	}
	return d.Shape()
}

type noopLoading struct{}

func (noopLoading) SetToolLoading(domain.ToolName, string, bool, string) {}
