package analysis

import (
	"math"

	"monetrix/internal/domain"
)

// RiskLevel buckets the additive risk score.
type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

// Risk flag weights. A score of riskHighAt or more is High, riskMediumAt or more Medium.
const (
	weightLowCurrentRatio   = 2
	weightHighLeverage      = 3
	weightNegativeMargin    = 3
	weightNegativeOperating = 2

	riskHighAt   = 5
	riskMediumAt = 2
)

// HealthAnalysis is the composite view of one reporting period.
type HealthAnalysis struct {
	Ticker             string    `json:"ticker"`
	ReportPeriod       string    `json:"report_period"`
	OverallScore       int       `json:"overallScore"`
	ProfitabilityScore int       `json:"profitabilityScore"`
	LiquidityScore     int       `json:"liquidityScore"`
	LeverageScore      int       `json:"leverageScore"`
	EfficiencyScore    int       `json:"efficiencyScore"`
	CashFlowScore      int       `json:"cashFlowScore"`
	Strengths          []string  `json:"strengths"`
	Weaknesses         []string  `json:"weaknesses"`
	Recommendations    []string  `json:"recommendations"`
	RiskScore          int       `json:"riskScore"`
	RiskLevel          RiskLevel `json:"riskLevel"`
}

// AnalyzeHealth scores one period. metrics is accepted for parity with the
// statement set the tools return; no current rule reads it.
func AnalyzeHealth(income domain.IncomeStatement, balance domain.BalanceSheet, cash domain.CashFlowStatement, _ domain.FinancialMetrics) HealthAnalysis {
	r := CalculateRatios(income, balance)
	return AnalyzeRatios(r, cash)
}

// AnalyzeRatios scores precomputed ratios against one cash flow statement.
func AnalyzeRatios(r Ratios, cash domain.CashFlowStatement) HealthAnalysis {
	h := HealthAnalysis{
		Ticker:             r.Ticker,
		ReportPeriod:       r.ReportPeriod,
		ProfitabilityScore: ProfitabilityScore(r),
		LiquidityScore:     LiquidityScore(r),
		LeverageScore:      LeverageScore(r),
		EfficiencyScore:    EfficiencyScore(r),
		CashFlowScore:      CashFlowScore(cash),
		Strengths:          strengths(r, cash),
		Weaknesses:         weaknesses(r, cash),
		Recommendations:    recommendations(r, cash),
	}
	sum := h.ProfitabilityScore + h.LiquidityScore + h.LeverageScore + h.EfficiencyScore + h.CashFlowScore
	h.OverallScore = clamp(int(math.Round(float64(sum) / 5)))
	h.RiskScore = RiskScore(r, cash)
	h.RiskLevel = AssessRisk(h.RiskScore)
	return h
}

// tier returns the award for the first threshold v exceeds (or meets, when inclusive).
func tier(v float64, inclusive bool, thresholds [3]float64, awards [3]int) int {
	for i, th := range thresholds {
		if v > th || (inclusive && v == th) {
			return awards[i]
		}
	}
	return 0
}

var (
	smallTiers = [3]int{25, 15, 5}
	largeTiers = [3]int{50, 35, 20}
	deductions = [3]int{40, 20, 10}
)

func ProfitabilityScore(r Ratios) int {
	score := tier(r.GrossProfitMargin, false, [3]float64{40, 20, 0}, smallTiers) +
		tier(r.OperatingMargin, false, [3]float64{20, 10, 0}, smallTiers) +
		tier(r.NetProfitMargin, false, [3]float64{15, 5, 0}, smallTiers) +
		tier(r.ReturnOnEquity, false, [3]float64{15, 10, 0}, smallTiers)
	return clamp(score)
}

func LiquidityScore(r Ratios) int {
	score := tier(r.CurrentRatio, true, [3]float64{2, 1.5, 1}, largeTiers) +
		tier(r.QuickRatio, true, [3]float64{1.5, 1, 0.5}, largeTiers)
	return clamp(score)
}

// LeverageScore starts at 100 and deducts for debt; lower leverage scores higher.
func LeverageScore(r Ratios) int {
	score := 100 -
		tier(r.DebtToEquity, false, [3]float64{2, 1, 0.5}, deductions) -
		tier(r.DebtToAssets, false, [3]float64{0.6, 0.4, 0.2}, deductions)
	return clamp(score)
}

func EfficiencyScore(r Ratios) int {
	score := tier(r.AssetTurnover, false, [3]float64{1.5, 1, 0.5}, largeTiers) +
		tier(r.ReturnOnAssets, false, [3]float64{10, 5, 0}, largeTiers)
	return clamp(score)
}

func CashFlowScore(c domain.CashFlowStatement) int {
	score := 0
	if c.NetCashFlowFromOperations > 0 {
		score += 40
	}
	if c.ChangeInCashAndEquivalents > 0 {
		score += 30
	}
	if c.CapitalExpenditure < 0 && math.Abs(c.CapitalExpenditure) < c.NetCashFlowFromOperations {
		score += 30
	}
	return clamp(score)
}

// RiskScore adds the weight of every risk flag that is set.
func RiskScore(r Ratios, c domain.CashFlowStatement) int {
	score := 0
	if r.CurrentRatio < 1 {
		score += weightLowCurrentRatio
	}
	if r.DebtToEquity > 2 {
		score += weightHighLeverage
	}
	if r.NetProfitMargin < 0 {
		score += weightNegativeMargin
	}
	if c.NetCashFlowFromOperations < 0 {
		score += weightNegativeOperating
	}
	return score
}

// AssessRisk maps a risk score to its level.
func AssessRisk(score int) RiskLevel {
	switch {
	case score >= riskHighAt:
		return RiskHigh
	case score >= riskMediumAt:
		return RiskMedium
	default:
		return RiskLow
	}
}

func strengths(r Ratios, c domain.CashFlowStatement) []string {
	out := []string{}
	if r.GrossProfitMargin > 40 {
		out = append(out, "High gross profit margin indicates strong pricing power")
	}
	if r.NetProfitMargin > 15 {
		out = append(out, "Excellent net profit margin shows efficient operations")
	}
	if r.CurrentRatio >= 2 {
		out = append(out, "Strong liquidity position with high current ratio")
	}
	if r.DebtToEquity < 0.5 {
		out = append(out, "Conservative debt levels reduce financial risk")
	}
	if c.NetCashFlowFromOperations > 0 {
		out = append(out, "Positive operating cash flow indicates healthy operations")
	}
	if r.ReturnOnEquity > 15 {
		out = append(out, "High return on equity shows effective use of shareholder funds")
	}
	return out
}

func weaknesses(r Ratios, c domain.CashFlowStatement) []string {
	out := []string{}
	if r.GrossProfitMargin < 20 {
		out = append(out, "Low gross profit margin may indicate pricing pressure")
	}
	if r.NetProfitMargin < 5 {
		out = append(out, "Low net profit margin suggests operational inefficiencies")
	}
	if r.CurrentRatio < 1 {
		out = append(out, "Current ratio below 1 indicates potential liquidity issues")
	}
	if r.DebtToEquity > 2 {
		out = append(out, "High debt-to-equity ratio increases financial risk")
	}
	if c.NetCashFlowFromOperations < 0 {
		out = append(out, "Negative operating cash flow is concerning")
	}
	if r.ReturnOnEquity < 5 {
		out = append(out, "Low return on equity indicates poor shareholder value creation")
	}
	return out
}

func recommendations(r Ratios, c domain.CashFlowStatement) []string {
	out := []string{}
	if r.GrossProfitMargin < 30 {
		out = append(out, "Focus on improving pricing strategy or reducing cost of goods sold")
	}
	if r.CurrentRatio < 1.5 {
		out = append(out, "Consider improving working capital management")
	}
	if r.DebtToEquity > 1.5 {
		out = append(out, "Consider reducing debt levels to improve financial stability")
	}
	if c.NetCashFlowFromOperations < r.NetProfitMargin*0.8 {
		out = append(out, "Focus on converting earnings to cash flow more efficiently")
	}
	return out
}

func clamp(score int) int {
	return min(max(score, 0), 100)
}
