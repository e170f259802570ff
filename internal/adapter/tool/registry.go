package tool

import (
	"encoding/json"
	"fmt"
	"time"

	"monetrix/internal/domain"
)

// Tool descriptions shown to the LLM.
const (
	descStockPrices     = "Get stock prices for a company. You can get current snapshot prices or historical prices over a date range."
	descIncome          = "Get the income statements of a company"
	descBalance         = "Get the balance sheets of a company"
	descCashFlow        = "Get the cash flow statements of a company"
	descMetrics         = "Get the financial metrics of a company. These financial metrics are derived metrics like P/E ratio, operating income, etc. that cannot be found in the income statement, balance sheet, or cash flow statement."
	descSearchByFilters = "Search for stocks based on financial criteria filters. You can filter stocks by various financial metrics like revenue, net income, market cap, etc."
	descNews            = "Use this tool to get news and latest events for a company. This tool will return a list of news articles and events for a company. When using this tool, include dates in your output."
)

// Descriptor is one catalog entry: a name, a description, a compiled
// argument schema and the typed binding to the data client.
type Descriptor struct {
	Name        domain.ToolName
	Description string

	schema *paramSchema
	bind   func(raw json.RawMessage, now time.Time) (invocation, error)
}

// Schema returns the descriptor in function-calling form.
func (d *Descriptor) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        string(d.Name),
		Description: d.Description,
		Parameters:  d.schema.raw,
	}
}

// bindArgs validates raw arguments against the schema, applies defaults and
// returns a ready invocation. Every failure wraps domain.ErrInvalidInput.
func (d *Descriptor) bindArgs(raw json.RawMessage, now time.Time) (invocation, error) {
	if err := d.schema.validate(raw); err != nil {
		return invocation{}, err
	}
	return d.bind(raw, now)
}

func describe[P any](name domain.ToolName, description string, prepare prepareFunc[P], call callFunc[P]) (*Descriptor, error) {
	schema, err := generateSchema[P](name)
	if err != nil {
		return nil, err
	}
	return &Descriptor{
		Name:        name,
		Description: description,
		schema:      schema,
		bind:        binder(prepare, call),
	}, nil
}

// newDescriptor builds the handler for one catalog tool. The switch covers
// the closed ToolName set; anything else is an error, never a default.
func newDescriptor(name domain.ToolName) (*Descriptor, error) {
	switch name {
	case domain.ToolGetStockPrices:
		return describe(name, descStockPrices, preparePrices, DataClient.GetStockPrices)
	case domain.ToolGetIncomeStatements:
		return describe(name, descIncome, withoutClock(prepareStatement), DataClient.GetIncomeStatements)
	case domain.ToolGetBalanceSheets:
		return describe(name, descBalance, withoutClock(prepareStatement), DataClient.GetBalanceSheets)
	case domain.ToolGetCashFlowStatements:
		return describe(name, descCashFlow, withoutClock(prepareStatement), DataClient.GetCashFlowStatements)
	case domain.ToolGetFinancialMetrics:
		return describe(name, descMetrics, withoutClock(prepareStatement), DataClient.GetFinancialMetrics)
	case domain.ToolSearchStocksByFilters:
		return describe(name, descSearchByFilters, withoutClock(prepareSearch), DataClient.SearchStocks)
	case domain.ToolGetNews:
		return describe(name, descNews, withoutClock(prepareNews), DataClient.GetNews)
	}
	return nil, domain.NewDomainError("tool.newDescriptor", domain.ErrToolNotFound, string(name))
}

// Registry is the fixed catalog of financial tools. It is immutable after
// construction and safe to share between sessions.
type Registry struct {
	tools map[domain.ToolName]*Descriptor
	order []domain.ToolName
}

// NewRegistry generates and compiles the schema of every catalog tool.
func NewRegistry() (*Registry, error) {
	names := domain.AllToolNames()
	r := &Registry{
		tools: make(map[domain.ToolName]*Descriptor, len(names)),
		order: names,
	}
	for _, name := range names {
		d, err := newDescriptor(name)
		if err != nil {
			return nil, fmt.Errorf("register %s: %w", name, err)
		}
		r.tools[name] = d
	}
	return r, nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name domain.ToolName) (*Descriptor, error) {
	d, ok := r.tools[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrToolNotFound, string(name))
	}
	return d, nil
}

// Names returns the catalog in canonical order.
func (r *Registry) Names() []domain.ToolName {
	out := make([]domain.ToolName, len(r.order))
	copy(out, r.order)
	return out
}

// Schemas returns all tool schemas for LLM function-calling, in catalog order.
func (r *Registry) Schemas() []domain.ToolSchema {
	schemas := make([]domain.ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		schemas = append(schemas, r.tools[name].Schema())
	}
	return schemas
}
