package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Period is the reporting period of a financial statement.
type Period string

const (
	PeriodQuarterly Period = "quarterly"
	PeriodAnnual    Period = "annual"
	PeriodTTM       Period = "ttm"
)

// PriceInterval is the spacing between historical price points.
type PriceInterval string

const (
	IntervalSecond PriceInterval = "second"
	IntervalMinute PriceInterval = "minute"
	IntervalDay    PriceInterval = "day"
	IntervalWeek   PriceInterval = "week"
	IntervalMonth  PriceInterval = "month"
	IntervalYear   PriceInterval = "year"
)

// StockPriceParams selects a snapshot (no dates, no interval) or a historical series.
type StockPriceParams struct {
	Ticker             string        `json:"ticker" jsonschema:"minLength=1,maxLength=10" jsonschema_description:"The ticker of the company to get stock prices for"`
	StartDate          string        `json:"start_date,omitempty" jsonschema:"pattern=^[0-9]{4}-[0-9]{2}-[0-9]{2}$" jsonschema_description:"The start date for historical prices (YYYY-MM-DD)"`
	EndDate            string        `json:"end_date,omitempty" jsonschema:"pattern=^[0-9]{4}-[0-9]{2}-[0-9]{2}$" jsonschema_description:"The end date for historical prices (YYYY-MM-DD)"`
	Interval           PriceInterval `json:"interval,omitempty" jsonschema:"enum=second,enum=minute,enum=day,enum=week,enum=month,enum=year" jsonschema_description:"The interval between price points"`
	IntervalMultiplier int           `json:"interval_multiplier,omitempty" jsonschema:"minimum=1" jsonschema_description:"The multiplier for the interval"`
}

// IsSnapshot reports whether the request asks for a point-in-time quote.
func (p StockPriceParams) IsSnapshot() bool {
	return p.StartDate == "" && p.EndDate == "" && p.Interval == ""
}

// StatementParams is shared by the income, balance sheet, cash flow and metrics tools.
type StatementParams struct {
	Ticker          string `json:"ticker" jsonschema:"minLength=1,maxLength=10" jsonschema_description:"The ticker of the company"`
	Period          Period `json:"period,omitempty" jsonschema:"enum=quarterly,enum=annual,enum=ttm,default=ttm" jsonschema_description:"The reporting period"`
	Limit           int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=100,default=1" jsonschema_description:"The number of reports to return"`
	ReportPeriodLTE string `json:"report_period_lte,omitempty" jsonschema:"pattern=^[0-9]{4}-[0-9]{2}-[0-9]{2}$" jsonschema_description:"The less than or equal to date of the reports to return. This lets us bound the data by date."`
	ReportPeriodGTE string `json:"report_period_gte,omitempty" jsonschema:"pattern=^[0-9]{4}-[0-9]{2}-[0-9]{2}$" jsonschema_description:"The greater than or equal to date of the reports to return. This lets us bound the data by date."`
}

// NewsParams requests recent news for a ticker.
type NewsParams struct {
	Ticker string `json:"ticker" jsonschema:"minLength=1,maxLength=10" jsonschema_description:"The ticker of the company to get news for"`
	Limit  int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=100,default=5" jsonschema_description:"The number of news articles to return"`
}

// FilterOperator compares a screener field against a value.
type FilterOperator string

const (
	OpGT  FilterOperator = "gt"
	OpGTE FilterOperator = "gte"
	OpLT  FilterOperator = "lt"
	OpLTE FilterOperator = "lte"
	OpEQ  FilterOperator = "eq"
)

// SearchFilter is one screener criterion.
type SearchFilter struct {
	Field    string         `json:"field" jsonschema:"minLength=1" jsonschema_description:"The financial field to filter on"`
	Operator FilterOperator `json:"operator" jsonschema:"enum=gt,enum=gte,enum=lt,enum=lte,enum=eq"`
	Value    float64        `json:"value"`
}

// StockSearchParams is the body of the stock screener request.
type StockSearchParams struct {
	Filters []SearchFilter `json:"filters" jsonschema:"minItems=1" jsonschema_description:"The filters to search for"`
	Period  Period         `json:"period,omitempty" jsonschema:"enum=quarterly,enum=annual,enum=ttm" jsonschema_description:"The period of the financial metrics to return"`
	Limit   int            `json:"limit,omitempty" jsonschema:"minimum=1,maximum=100,default=5" jsonschema_description:"The number of stocks to return"`
	OrderBy string         `json:"order_by,omitempty" jsonschema:"enum=-report_period,enum=report_period,default=-report_period" jsonschema_description:"The order of the stocks to return"`
}

// StockPrice is one OHLCV bar or snapshot quote.
type StockPrice struct {
	Ticker    string   `json:"ticker,omitempty"`
	Time      string   `json:"time,omitempty"`
	Open      float64  `json:"open"`
	High      float64  `json:"high"`
	Low       float64  `json:"low"`
	Close     float64  `json:"close"`
	Volume    float64  `json:"volume"`
	VWAP      *float64 `json:"vwap,omitempty"`
	Price     float64  `json:"price,omitempty"`
	DayChange float64  `json:"day_change,omitempty"`
}

// IncomeStatement mirrors the upstream income statement record.
type IncomeStatement struct {
	Ticker                  string  `json:"ticker"`
	ReportPeriod            string  `json:"report_period"`
	Revenue                 float64 `json:"revenue"`
	CostOfRevenue           float64 `json:"cost_of_revenue"`
	GrossProfit             float64 `json:"gross_profit"`
	OperatingExpense        float64 `json:"operating_expense"`
	OperatingIncome         float64 `json:"operating_income"`
	NetIncome               float64 `json:"net_income"`
	EarningsPerShare        float64 `json:"earnings_per_share"`
	EarningsPerShareDiluted float64 `json:"earnings_per_share_diluted"`
	WeightedAverageShares   float64 `json:"weighted_average_shares"`
}

// BalanceSheet mirrors the upstream balance sheet record.
type BalanceSheet struct {
	Ticker             string  `json:"ticker"`
	ReportPeriod       string  `json:"report_period"`
	TotalAssets        float64 `json:"total_assets"`
	TotalLiabilities   float64 `json:"total_liabilities"`
	ShareholdersEquity float64 `json:"shareholders_equity"`
	CurrentAssets      float64 `json:"current_assets"`
	CurrentLiabilities float64 `json:"current_liabilities"`
	CashAndEquivalents float64 `json:"cash_and_equivalents"`
	Inventory          float64 `json:"inventory"`
	TotalDebt          float64 `json:"total_debt"`
}

// CashFlowStatement mirrors the upstream cash flow record.
type CashFlowStatement struct {
	Ticker                      string  `json:"ticker"`
	ReportPeriod                string  `json:"report_period"`
	NetCashFlowFromOperations   float64 `json:"net_cash_flow_from_operations"`
	NetCashFlowFromInvesting    float64 `json:"net_cash_flow_from_investing"`
	NetCashFlowFromFinancing    float64 `json:"net_cash_flow_from_financing"`
	ChangeInCashAndEquivalents  float64 `json:"change_in_cash_and_equivalents"`
	CapitalExpenditure          float64 `json:"capital_expenditure"`
	DepreciationAndAmortization float64 `json:"depreciation_and_amortization"`
}

// FinancialMetrics mirrors the upstream derived-metrics record.
type FinancialMetrics struct {
	Ticker               string  `json:"ticker"`
	ReportPeriod         string  `json:"report_period"`
	MarketCap            float64 `json:"market_cap"`
	EnterpriseValue      float64 `json:"enterprise_value"`
	PriceToEarningsRatio float64 `json:"price_to_earnings_ratio"`
	PriceToBookRatio     float64 `json:"price_to_book_ratio"`
	PriceToSalesRatio    float64 `json:"price_to_sales_ratio"`
	DebtToEquityRatio    float64 `json:"debt_to_equity_ratio"`
	ReturnOnEquity       float64 `json:"return_on_equity"`
	ReturnOnAssets       float64 `json:"return_on_assets"`
}

// NewsItem is one article returned by the news endpoint.
type NewsItem struct {
	Ticker    string `json:"ticker,omitempty"`
	Title     string `json:"title"`
	Author    string `json:"author,omitempty"`
	Source    string `json:"source"`
	Date      string `json:"date,omitempty"`
	URL       string `json:"url"`
	Sentiment string `json:"sentiment,omitempty"`
}

// ScreenerResult is one match from the stock screener.
type ScreenerResult struct {
	Ticker       string  `json:"ticker"`
	ReportPeriod string  `json:"report_period,omitempty"`
	Period       string  `json:"period,omitempty"`
	Currency     string  `json:"currency,omitempty"`
	MarketCap    float64 `json:"market_cap,omitempty"`
}

// PriceData is a decoded getStockPrices payload. Either field may be absent.
type PriceData struct {
	Snapshot *StockPrice  `json:"snapshot,omitempty"`
	Prices   []StockPrice `json:"prices,omitempty"`
}

// Shape classifies the payload for renderers.
func (d PriceData) Shape() string {
	switch {
	case len(d.Prices) > 0:
		return ShapeHistorical
	case d.Snapshot != nil:
		return ShapeSnapshot
	default:
		return ShapeEmpty
	}
}

// DecodePriceData parses a price payload. A payload carrying neither a
// snapshot nor a series decodes to an empty PriceData without error.
func DecodePriceData(raw json.RawMessage) (PriceData, error) {
	var d PriceData
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return d, nil
	}
	if trimmed[0] != '{' {
		return d, nil
	}
	if err := json.Unmarshal(trimmed, &d); err != nil {
		return PriceData{}, fmt.Errorf("decode price data: %w", err)
	}
	return d, nil
}
