package analysis

import (
	"fmt"
	"math"

	"monetrix/internal/domain"
)

// Winner tags the better side of a metric comparison.
type Winner string

const (
	WinnerCompany1 Winner = "company1"
	WinnerCompany2 Winner = "company2"
	WinnerTie      Winner = "tie"
)

// tieEpsilon is the absolute difference below which two values tie.
const tieEpsilon = 0.01

// recommendationMargin is how far one composite score must lead the other.
const recommendationMargin = 1.1

// MetricComparison compares one metric across two companies.
type MetricComparison struct {
	Company1Value        float64 `json:"company1Value"`
	Company2Value        float64 `json:"company2Value"`
	Difference           float64 `json:"difference"`
	PercentageDifference float64 `json:"percentageDifference"`
	Winner               Winner  `json:"winner"`
}

// CompanyFinancials is one company's statement set for a period.
type CompanyFinancials struct {
	IncomeStatement   domain.IncomeStatement   `json:"incomeStatement"`
	BalanceSheet      domain.BalanceSheet      `json:"balanceSheet"`
	CashFlowStatement domain.CashFlowStatement `json:"cashFlowStatement"`
	Metrics           domain.FinancialMetrics  `json:"metrics"`
}

type ProfitabilityComparison struct {
	GrossProfitMargin MetricComparison `json:"grossProfitMargin"`
	OperatingMargin   MetricComparison `json:"operatingMargin"`
	NetProfitMargin   MetricComparison `json:"netProfitMargin"`
}

type LiquidityComparison struct {
	CurrentRatio MetricComparison `json:"currentRatio"`
	QuickRatio   MetricComparison `json:"quickRatio"`
}

type LeverageComparison struct {
	DebtToEquity MetricComparison `json:"debtToEquity"`
	DebtToAssets MetricComparison `json:"debtToAssets"`
}

// CompanyComparison is the result of CompareCompanies.
type CompanyComparison struct {
	Company1       string                  `json:"company1"`
	Company2       string                  `json:"company2"`
	Profitability  ProfitabilityComparison `json:"profitabilityComparison"`
	Liquidity      LiquidityComparison     `json:"liquidityComparison"`
	Leverage       LeverageComparison      `json:"leverageComparison"`
	Recommendation string                  `json:"recommendation"`
}

// CompareMetric compares a against b. With lowerIsBetter the smaller value wins.
func CompareMetric(a, b float64, lowerIsBetter bool) MetricComparison {
	diff := a - b
	out := MetricComparison{
		Company1Value:        a,
		Company2Value:        b,
		Difference:           diff,
		PercentageDifference: SafeDivide(diff, b) * 100,
	}
	switch {
	case math.Abs(diff) < tieEpsilon || math.IsNaN(diff):
		out.Winner = WinnerTie
	case lowerIsBetter == (a < b):
		out.Winner = WinnerCompany1
	default:
		out.Winner = WinnerCompany2
	}
	return out
}

// CompareCompanies compares profitability, liquidity and leverage ratios.
func CompareCompanies(c1, c2 CompanyFinancials) CompanyComparison {
	r1 := CalculateRatios(c1.IncomeStatement, c1.BalanceSheet)
	r2 := CalculateRatios(c2.IncomeStatement, c2.BalanceSheet)

	return CompanyComparison{
		Company1: c1.IncomeStatement.Ticker,
		Company2: c2.IncomeStatement.Ticker,
		Profitability: ProfitabilityComparison{
			GrossProfitMargin: CompareMetric(r1.GrossProfitMargin, r2.GrossProfitMargin, false),
			OperatingMargin:   CompareMetric(r1.OperatingMargin, r2.OperatingMargin, false),
			NetProfitMargin:   CompareMetric(r1.NetProfitMargin, r2.NetProfitMargin, false),
		},
		Liquidity: LiquidityComparison{
			CurrentRatio: CompareMetric(r1.CurrentRatio, r2.CurrentRatio, false),
			QuickRatio:   CompareMetric(r1.QuickRatio, r2.QuickRatio, false),
		},
		Leverage: LeverageComparison{
			DebtToEquity: CompareMetric(r1.DebtToEquity, r2.DebtToEquity, true),
			DebtToAssets: CompareMetric(r1.DebtToAssets, r2.DebtToAssets, true),
		},
		Recommendation: comparisonRecommendation(r1, r2),
	}
}

func comparisonRecommendation(r1, r2 Ratios) string {
	s1 := (r1.GrossProfitMargin + r1.NetProfitMargin + r1.ReturnOnEquity) / 3
	s2 := (r2.GrossProfitMargin + r2.NetProfitMargin + r2.ReturnOnEquity) / 3
	switch {
	case s1 > s2*recommendationMargin:
		return fmt.Sprintf("%s shows stronger overall financial performance", r1.Ticker)
	case s2 > s1*recommendationMargin:
		return fmt.Sprintf("%s shows stronger overall financial performance", r2.Ticker)
	default:
		return "Both companies show comparable financial performance"
	}
}
