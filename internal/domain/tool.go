package domain

import (
	"context"
	"encoding/json"
)

// ToolName identifies one of the fixed financial tools. The set is closed:
// ParseToolName rejects anything outside it.
type ToolName string

const (
	ToolGetStockPrices        ToolName = "getStockPrices"
	ToolGetIncomeStatements   ToolName = "getIncomeStatements"
	ToolGetBalanceSheets      ToolName = "getBalanceSheets"
	ToolGetCashFlowStatements ToolName = "getCashFlowStatements"
	ToolGetFinancialMetrics   ToolName = "getFinancialMetrics"
	ToolSearchStocksByFilters ToolName = "searchStocksByFilters"
	ToolGetNews               ToolName = "getNews"
)

var toolNames = []ToolName{
	ToolGetStockPrices,
	ToolGetIncomeStatements,
	ToolGetBalanceSheets,
	ToolGetCashFlowStatements,
	ToolGetFinancialMetrics,
	ToolSearchStocksByFilters,
	ToolGetNews,
}

// AllToolNames returns the catalog in its canonical order.
func AllToolNames() []ToolName {
	out := make([]ToolName, len(toolNames))
	copy(out, toolNames)
	return out
}

// IsValid reports whether n is one of the catalog tools.
func (n ToolName) IsValid() bool {
	switch n {
	case ToolGetStockPrices, ToolGetIncomeStatements, ToolGetBalanceSheets,
		ToolGetCashFlowStatements, ToolGetFinancialMetrics,
		ToolSearchStocksByFilters, ToolGetNews:
		return true
	}
	return false
}

func (n ToolName) String() string { return string(n) }

// ParseToolName converts a raw name into a ToolName.
func ParseToolName(s string) (ToolName, error) {
	n := ToolName(s)
	if !n.IsValid() {
		return "", NewDomainError("ParseToolName", ErrToolNotFound, s)
	}
	return n, nil
}

// ToolSchema describes a tool for the LLM function-calling protocol.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall represents an LLM's request to invoke a tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Result shapes for getStockPrices.
const (
	ShapeSnapshot   = "snapshot"
	ShapeHistorical = "historical"
	ShapeEmpty      = "empty"
)

// ToolResult is the outcome of executing a tool. Exactly one of Payload or
// Error is set, unless Skipped is true, in which case Payload is JSON null.
type ToolResult struct {
	ToolCallID string          `json:"tool_call_id"`
	Tool       ToolName        `json:"tool"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Error      *ErrorResult    `json:"error,omitempty"`
	Skipped    bool            `json:"skipped,omitempty"`
	Shape      string          `json:"shape,omitempty"`
}

// IsError reports whether the result carries a classified error.
func (r *ToolResult) IsError() bool { return r != nil && r.Error != nil }

// Content renders the result as the text handed back to the LLM runtime.
func (r *ToolResult) Content() string {
	switch {
	case r == nil:
		return "null"
	case r.Error != nil:
		data, err := json.Marshal(r.Error)
		if err != nil {
			return r.Error.Message
		}
		return string(data)
	case len(r.Payload) == 0:
		return "null"
	default:
		return string(r.Payload)
	}
}

// ToolRunner executes catalog tools on behalf of one conversation.
type ToolRunner interface {
	Execute(ctx context.Context, call ToolCall) *ToolResult
	Schemas() []ToolSchema
	ClearCache()
	CacheStats() CacheStats
}

// CacheStats is a snapshot of a dedup cache.
type CacheStats struct {
	Size      int    `json:"size"`
	MaxSize   int    `json:"max_size"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}
