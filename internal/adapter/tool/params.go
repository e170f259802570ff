package tool

import (
	"strings"
	"time"

	"monetrix/internal/domain"
)

const dateLayout = "2006-01-02"

// Argument defaults applied after schema validation.
const (
	defaultStatementLimit = 1
	defaultNewsLimit      = 5
	defaultSearchLimit    = 5
	defaultSearchOrder    = "-report_period"
	defaultMultiplier     = 1
)

// ScreenerFields lists the metrics the stock screener accepts in a filter.
var ScreenerFields = []string{
	// income statement
	"revenue",
	"cost_of_revenue",
	"gross_profit",
	"operating_expense",
	"operating_income",
	"interest_expense",
	"ebit",
	"net_income",
	"earnings_per_share",
	"earnings_per_share_diluted",
	"dividends_per_common_share",
	"weighted_average_shares",
	// balance sheet
	"total_assets",
	"current_assets",
	"cash_and_equivalents",
	"inventory",
	"total_liabilities",
	"current_liabilities",
	"total_debt",
	"shareholders_equity",
	"outstanding_shares",
	// cash flow
	"net_cash_flow_from_operations",
	"net_cash_flow_from_investing",
	"net_cash_flow_from_financing",
	"change_in_cash_and_equivalents",
	"capital_expenditure",
	"depreciation_and_amortization",
	"free_cash_flow",
	// derived
	"market_cap",
	"enterprise_value",
	"price_to_earnings_ratio",
	"price_to_book_ratio",
	"price_to_sales_ratio",
	"gross_margin",
	"operating_margin",
	"net_margin",
	"return_on_equity",
	"return_on_assets",
	"debt_to_equity",
	"current_ratio",
	"revenue_growth",
	"earnings_growth",
}

var screenerFieldSet = func() map[string]bool {
	m := make(map[string]bool, len(ScreenerFields))
	for _, f := range ScreenerFields {
		m[f] = true
	}
	return m
}()

// preparePrices fills history defaults. A request with no dates and no
// interval stays a snapshot request.
func preparePrices(p domain.StockPriceParams, now time.Time) (domain.StockPriceParams, error) {
	if err := checkTicker(p.Ticker); err != nil {
		return p, err
	}
	if p.IsSnapshot() {
		return p, nil
	}
	if p.EndDate == "" {
		p.EndDate = now.UTC().Format(dateLayout)
	}
	end, err := parseDate("end_date", p.EndDate)
	if err != nil {
		return p, err
	}
	if p.StartDate == "" {
		p.StartDate = end.AddDate(0, -1, 0).Format(dateLayout)
	}
	if _, err := parseDate("start_date", p.StartDate); err != nil {
		return p, err
	}
	if p.Interval == "" {
		p.Interval = domain.IntervalDay
	}
	if p.IntervalMultiplier == 0 {
		p.IntervalMultiplier = defaultMultiplier
	}
	return p, nil
}

// prepareStatement is shared by the three statement tools and the metrics tool.
func prepareStatement(p domain.StatementParams) (domain.StatementParams, error) {
	if err := checkTicker(p.Ticker); err != nil {
		return p, err
	}
	if p.Period == "" {
		p.Period = domain.PeriodTTM
	}
	if p.Limit == 0 {
		p.Limit = defaultStatementLimit
	}
	if p.ReportPeriodLTE != "" {
		if _, err := parseDate("report_period_lte", p.ReportPeriodLTE); err != nil {
			return p, err
		}
	}
	if p.ReportPeriodGTE != "" {
		if _, err := parseDate("report_period_gte", p.ReportPeriodGTE); err != nil {
			return p, err
		}
	}
	return p, nil
}

func prepareNews(p domain.NewsParams) (domain.NewsParams, error) {
	if err := checkTicker(p.Ticker); err != nil {
		return p, err
	}
	if p.Limit == 0 {
		p.Limit = defaultNewsLimit
	}
	return p, nil
}

func prepareSearch(p domain.StockSearchParams) (domain.StockSearchParams, error) {
	for i, f := range p.Filters {
		if !screenerFieldSet[f.Field] {
			return p, invalidArgs("filters.%d.field: unknown screener field %q", i, f.Field)
		}
	}
	if p.Period == "" {
		p.Period = domain.PeriodTTM
	}
	if p.Limit == 0 {
		p.Limit = defaultSearchLimit
	}
	if p.OrderBy == "" {
		p.OrderBy = defaultSearchOrder
	}
	return p, nil
}

// checkTicker rejects tickers that pass the length bounds but are blank.
func checkTicker(ticker string) error {
	if strings.TrimSpace(ticker) == "" {
		return invalidArgs("ticker: must not be blank")
	}
	return nil
}

// parseDate accepts only real calendar dates; the schema pattern alone
// lets 2024-02-30 through.
func parseDate(field, value string) (time.Time, error) {
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return time.Time{}, invalidArgs("%s: %q is not a valid YYYY-MM-DD date", field, value)
	}
	return t, nil
}
