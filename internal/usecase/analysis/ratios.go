// Package analysis derives ratios, a health score and pairwise comparisons
// from statement snapshots. Every function is pure.
package analysis

import (
	"math"

	"monetrix/internal/domain"
)

// Ratios are computed from one income statement and one balance sheet.
// Margins and returns are percentages; the rest are plain ratios.
type Ratios struct {
	Ticker            string  `json:"ticker"`
	ReportPeriod      string  `json:"report_period"`
	GrossProfitMargin float64 `json:"grossProfitMargin"`
	OperatingMargin   float64 `json:"operatingMargin"`
	NetProfitMargin   float64 `json:"netProfitMargin"`
	CurrentRatio      float64 `json:"currentRatio"`
	QuickRatio        float64 `json:"quickRatio"`
	DebtToEquity      float64 `json:"debtToEquity"`
	DebtToAssets      float64 `json:"debtToAssets"`
	AssetTurnover     float64 `json:"assetTurnover"`
	ReturnOnAssets    float64 `json:"returnOnAssets"`
	ReturnOnEquity    float64 `json:"returnOnEquity"`
}

// SafeDivide returns n/d, or 0 when d is zero or the result is not finite.
func SafeDivide(n, d float64) float64 {
	if d == 0 || math.IsNaN(d) {
		return 0
	}
	q := n / d
	if math.IsNaN(q) || math.IsInf(q, 0) {
		return 0
	}
	return q
}

func percent(n, d float64) float64 { return SafeDivide(n, d) * 100 }

// CalculateRatios computes profitability, liquidity, leverage and efficiency ratios.
func CalculateRatios(income domain.IncomeStatement, balance domain.BalanceSheet) Ratios {
	return Ratios{
		Ticker:       income.Ticker,
		ReportPeriod: income.ReportPeriod,

		GrossProfitMargin: percent(income.GrossProfit, income.Revenue),
		OperatingMargin:   percent(income.OperatingIncome, income.Revenue),
		NetProfitMargin:   percent(income.NetIncome, income.Revenue),

		CurrentRatio: SafeDivide(balance.CurrentAssets, balance.CurrentLiabilities),
		QuickRatio:   SafeDivide(balance.CurrentAssets-balance.Inventory, balance.CurrentLiabilities),

		DebtToEquity: SafeDivide(balance.TotalDebt, balance.ShareholdersEquity),
		DebtToAssets: SafeDivide(balance.TotalDebt, balance.TotalAssets),

		AssetTurnover:  SafeDivide(income.Revenue, balance.TotalAssets),
		ReturnOnAssets: percent(income.NetIncome, balance.TotalAssets),
		ReturnOnEquity: percent(income.NetIncome, balance.ShareholdersEquity),
	}
}
