package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonschema"

	"monetrix/internal/domain"
	"monetrix/internal/usecase/analysis"
)

// Payload schemas. Statement objects need the fields the formulas read;
// unknown fields pass through.
const (
	incomeSchema = `{
		"type": "object",
		"required": ["revenue", "gross_profit", "operating_income", "net_income"],
		"properties": {
			"ticker": {"type": "string"},
			"report_period": {"type": "string"},
			"revenue": {"type": "number"},
			"gross_profit": {"type": "number"},
			"operating_income": {"type": "number"},
			"net_income": {"type": "number"}
		}
	}`
	balanceSchema = `{
		"type": "object",
		"required": ["total_assets", "total_debt", "shareholders_equity", "current_assets", "current_liabilities"],
		"properties": {
			"total_assets": {"type": "number"},
			"total_liabilities": {"type": "number"},
			"total_debt": {"type": "number"},
			"shareholders_equity": {"type": "number"},
			"current_assets": {"type": "number"},
			"current_liabilities": {"type": "number"},
			"inventory": {"type": "number"}
		}
	}`
	cashFlowSchema = `{
		"type": "object",
		"required": ["net_cash_flow_from_operations"],
		"properties": {
			"net_cash_flow_from_operations": {"type": "number"},
			"change_in_cash_and_equivalents": {"type": "number"},
			"capital_expenditure": {"type": "number"}
		}
	}`
)

var (
	ratiosRequestSchema = fmt.Sprintf(`{
		"type": "object",
		"required": ["income_statement", "balance_sheet"],
		"properties": {
			"income_statement": %s,
			"balance_sheet": %s
		}
	}`, incomeSchema, balanceSchema)

	healthRequestSchema = fmt.Sprintf(`{
		"type": "object",
		"required": ["income_statement", "balance_sheet", "cash_flow_statement"],
		"properties": {
			"income_statement": %s,
			"balance_sheet": %s,
			"cash_flow_statement": %s,
			"metrics": {"type": "object"}
		}
	}`, incomeSchema, balanceSchema, cashFlowSchema)

	companySchema = fmt.Sprintf(`{
		"type": "object",
		"required": ["incomeStatement", "balanceSheet", "cashFlowStatement"],
		"properties": {
			"incomeStatement": %s,
			"balanceSheet": %s,
			"cashFlowStatement": %s,
			"metrics": {"type": "object"}
		}
	}`, incomeSchema, balanceSchema, cashFlowSchema)

	compareRequestSchema = fmt.Sprintf(`{
		"type": "object",
		"required": ["company1", "company2"],
		"properties": {
			"company1": %s,
			"company2": %s
		}
	}`, companySchema, companySchema)
)

type ratiosRequest struct {
	IncomeStatement domain.IncomeStatement `json:"income_statement"`
	BalanceSheet    domain.BalanceSheet    `json:"balance_sheet"`
}

type healthRequest struct {
	IncomeStatement   domain.IncomeStatement   `json:"income_statement"`
	BalanceSheet      domain.BalanceSheet      `json:"balance_sheet"`
	CashFlowStatement domain.CashFlowStatement `json:"cash_flow_statement"`
	Metrics           domain.FinancialMetrics  `json:"metrics"`
}

type compareRequest struct {
	Company1 analysis.CompanyFinancials `json:"company1"`
	Company2 analysis.CompanyFinancials `json:"company2"`
}

// payloadValidator checks an RPC payload against a compiled JSON Schema.
type payloadValidator struct {
	schema *jsonschema.Schema
}

func newPayloadValidator(schema string) (*payloadValidator, error) {
	compiler := jsonschema.NewCompiler()
	compiled, err := compiler.Compile([]byte(schema))
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return &payloadValidator{schema: compiled}, nil
}

// decode validates payload and then unmarshals it into dst.
func (v *payloadValidator) decode(payload json.RawMessage, dst any) error {
	if len(payload) == 0 {
		return invalidPayload("payload is required")
	}
	var data any
	if err := json.Unmarshal(payload, &data); err != nil {
		return invalidPayload(err.Error())
	}
	result := v.schema.Validate(data)
	if !result.IsValid() {
		return invalidPayload(result.Error())
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return invalidPayload(err.Error())
	}
	return nil
}

func registerAnalysisHandlers(s *Server, _ HandlerDeps) error {
	ratios, err := newPayloadValidator(ratiosRequestSchema)
	if err != nil {
		return fmt.Errorf("analysis.ratios: %w", err)
	}
	health, err := newPayloadValidator(healthRequestSchema)
	if err != nil {
		return fmt.Errorf("analysis.health: %w", err)
	}
	compare, err := newPayloadValidator(compareRequestSchema)
	if err != nil {
		return fmt.Errorf("analysis.compare: %w", err)
	}

	s.RegisterHandler("analysis.ratios", func(_ context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var req ratiosRequest
		if err := ratios.decode(payload, &req); err != nil {
			return nil, err
		}
		return json.Marshal(analysis.CalculateRatios(req.IncomeStatement, req.BalanceSheet))
	})

	s.RegisterHandler("analysis.health", func(_ context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var req healthRequest
		if err := health.decode(payload, &req); err != nil {
			return nil, err
		}
		return json.Marshal(analysis.AnalyzeHealth(req.IncomeStatement, req.BalanceSheet, req.CashFlowStatement, req.Metrics))
	})

	s.RegisterHandler("analysis.compare", func(_ context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var req compareRequest
		if err := compare.decode(payload, &req); err != nil {
			return nil, err
		}
		return json.Marshal(analysis.CompareCompanies(req.Company1, req.Company2))
	})
	return nil
}
