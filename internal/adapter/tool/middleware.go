package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"monetrix/internal/domain"
)

// DataClient is the subset of the financial API client the tools call.
type DataClient interface {
	GetStockPrices(ctx context.Context, p domain.StockPriceParams) (json.RawMessage, error)
	GetIncomeStatements(ctx context.Context, p domain.StatementParams) (json.RawMessage, error)
	GetBalanceSheets(ctx context.Context, p domain.StatementParams) (json.RawMessage, error)
	GetCashFlowStatements(ctx context.Context, p domain.StatementParams) (json.RawMessage, error)
	GetFinancialMetrics(ctx context.Context, p domain.StatementParams) (json.RawMessage, error)
	GetNews(ctx context.Context, p domain.NewsParams) (json.RawMessage, error)
	SearchStocks(ctx context.Context, p domain.StockSearchParams) (json.RawMessage, error)
}

// invocation is a validated call with defaults applied. params feeds the
// dedup key; run performs the network call.
type invocation struct {
	params any
	run    func(ctx context.Context, c DataClient) (json.RawMessage, error)
}

type prepareFunc[P any] func(p P, now time.Time) (P, error)

type callFunc[P any] func(c DataClient, ctx context.Context, p P) (json.RawMessage, error)

// binder returns the parse -> defaults -> bind pipeline for one parameter type.
func binder[P any](prepare prepareFunc[P], call callFunc[P]) func(json.RawMessage, time.Time) (invocation, error) {
	return func(raw json.RawMessage, now time.Time) (invocation, error) {
		var p P
		if len(bytes.TrimSpace(raw)) > 0 {
			if err := json.Unmarshal(raw, &p); err != nil {
				return invocation{}, invalidArgs("invalid params: %v", err)
			}
		}
		p, err := prepare(p, now)
		if err != nil {
			return invocation{}, err
		}
		return invocation{
			params: p,
			run: func(ctx context.Context, c DataClient) (json.RawMessage, error) {
				return call(c, ctx, p)
			},
		}, nil
	}
}

// withoutClock adapts a prepare step that does not depend on the date.
func withoutClock[P any](f func(P) (P, error)) prepareFunc[P] {
	return func(p P, _ time.Time) (P, error) { return f(p) }
}

// safeRun executes inv and turns a panic into an error so the caller can
// classify it like any other failure.
func safeRun(ctx context.Context, inv invocation, c DataClient) (payload json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panic: %v\n%s", r, debug.Stack())
		}
	}()
	return inv.run(ctx, c)
}
