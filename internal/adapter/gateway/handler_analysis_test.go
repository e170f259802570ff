package gateway

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"monetrix/internal/domain"
	"monetrix/internal/usecase/analysis"
)

const (
	testIncome   = `{"ticker":"AAPL","report_period":"2024-06-30","revenue":1000,"gross_profit":450,"operating_income":200,"net_income":150}`
	testBalance  = `{"total_assets":2000,"total_liabilities":800,"total_debt":300,"shareholders_equity":1200,"current_assets":600,"current_liabilities":300,"inventory":100}`
	testCashFlow = `{"net_cash_flow_from_operations":180,"change_in_cash_and_equivalents":20,"capital_expenditure":-50}`
)

func analysisServer(t *testing.T) *Server {
	t.Helper()
	srv := NewServer(&testBus{}, newTestAuth(), "127.0.0.1:0", quietLogger())
	require.NoError(t, registerAnalysisHandlers(srv, HandlerDeps{}))
	return srv
}

func analysisHandler(t *testing.T, srv *Server, method string) RPCHandler {
	t.Helper()
	srv.handlersMu.RLock()
	defer srv.handlersMu.RUnlock()
	h, ok := srv.handlers[method]
	require.True(t, ok, "%s not registered", method)
	return h
}

func TestAnalysisRatios(t *testing.T) {
	h := analysisHandler(t, analysisServer(t), "analysis.ratios")

	result, err := callHandler(t, h, `{"income_statement":`+testIncome+`,"balance_sheet":`+testBalance+`}`)
	require.NoError(t, err)

	var r analysis.Ratios
	require.NoError(t, json.Unmarshal(result, &r))
	assert.InDelta(t, 45.0, r.GrossProfitMargin, 1e-9)
	assert.InDelta(t, 15.0, r.NetProfitMargin, 1e-9)
	assert.InDelta(t, 2.0, r.CurrentRatio, 1e-9)
	assert.InDelta(t, 0.25, r.DebtToEquity, 1e-9)
	assert.InDelta(t, 0.15, r.DebtToAssets, 1e-9)
}

func TestAnalysisHealth(t *testing.T) {
	h := analysisHandler(t, analysisServer(t), "analysis.health")

	result, err := callHandler(t, h, `{"income_statement":`+testIncome+`,"balance_sheet":`+testBalance+`,"cash_flow_statement":`+testCashFlow+`}`)
	require.NoError(t, err)

	var health analysis.HealthAnalysis
	require.NoError(t, json.Unmarshal(result, &health))
	assert.GreaterOrEqual(t, health.OverallScore, 0)
	assert.LessOrEqual(t, health.OverallScore, 100)
	assert.Equal(t, 100, health.CashFlowScore)
	assert.Contains(t, health.Strengths, "Positive operating cash flow indicates healthy operations")
}

func TestAnalysisCompare(t *testing.T) {
	h := analysisHandler(t, analysisServer(t), "analysis.compare")

	weakIncome := `{"ticker":"XYZ","revenue":1000,"gross_profit":100,"operating_income":20,"net_income":10}`
	company := func(income string) string {
		return `{"incomeStatement":` + income + `,"balanceSheet":` + testBalance + `,"cashFlowStatement":` + testCashFlow + `}`
	}
	result, err := callHandler(t, h, `{"company1":`+company(testIncome)+`,"company2":`+company(weakIncome)+`}`)
	require.NoError(t, err)

	var cmp analysis.CompanyComparison
	require.NoError(t, json.Unmarshal(result, &cmp))
	assert.Equal(t, analysis.WinnerCompany1, cmp.Profitability.GrossProfitMargin.Winner)
	assert.Equal(t, "AAPL shows stronger overall financial performance", cmp.Recommendation)
}

func TestAnalysisRejectsInvalidPayloads(t *testing.T) {
	srv := analysisServer(t)

	tests := []struct {
		name    string
		method  string
		payload string
	}{
		{"empty", "analysis.ratios", ``},
		{"not json", "analysis.ratios", `{`},
		{"missing balance sheet", "analysis.ratios", `{"income_statement":` + testIncome + `}`},
		{"string revenue", "analysis.ratios", `{"income_statement":{"revenue":"lots","gross_profit":1,"operating_income":1,"net_income":1},"balance_sheet":` + testBalance + `}`},
		{"missing cash flow", "analysis.health", `{"income_statement":` + testIncome + `,"balance_sheet":` + testBalance + `}`},
		{"missing company2", "analysis.compare", `{"company1":{}}`},
		{"balance sheet without total_debt", "analysis.health", `{"income_statement":` + testIncome + `,"balance_sheet":{"total_assets":2000,"total_liabilities":800,"shareholders_equity":1200,"current_assets":600,"current_liabilities":300},"cash_flow_statement":` + testCashFlow + `}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := callHandler(t, analysisHandler(t, srv, tt.method), tt.payload)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrRPCInvalidPayload)
		})
	}
}
