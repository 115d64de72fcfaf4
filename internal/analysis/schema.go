package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaSet holds one compiled output schema per stage. Schemas are compiled
// once at orchestrator construction; Validate is safe for concurrent use.
type SchemaSet struct {
	schemas map[Stage]*jsonschema.Schema
}

// NewSchemaSet compiles the per-stage output schemas.
func NewSchemaSet() (*SchemaSet, error) {
	maps := map[Stage]map[string]any{
		StageFinancialExtraction: buildExtractionSchema(),
		StageCashFlowForecast:    buildCashFlowSchema(),
		StageRiskDetection:       buildRiskSchema(),
		StageComplianceCheck:     buildComplianceSchema(),
		StageExplainability:      buildExplainabilitySchema(),
	}

	compiled := make(map[Stage]*jsonschema.Schema, len(maps))
	for stage, m := range maps {
		b, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("marshal %s schema: %w", stage, err)
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
			return nil, fmt.Errorf("add %s schema: %w", stage, err)
		}
		s, err := compiler.Compile("schema.json")
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", stage, err)
		}
		compiled[stage] = s
	}
	return &SchemaSet{schemas: compiled}, nil
}

// Validate checks data against the named stage's output schema.
// Returns a ValidationError on malformed JSON or a schema mismatch.
func (s *SchemaSet) Validate(stage Stage, data []byte) error {
	schema, ok := s.schemas[stage]
	if !ok {
		return fmt.Errorf("no schema registered for stage %q", stage)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return NewValidationError(stage, fmt.Sprintf("output is not valid JSON: %v", err))
	}
	if err := schema.Validate(v); err != nil {
		return NewValidationError(stage, err.Error())
	}
	return nil
}

// Schemas below are a deliberate subset of the documented output contracts:
// they pin the keys downstream stages and the report assembler actually read,
// and leave the rest open so prompt evolution does not break validation.

func numberProp() map[string]any {
	return map[string]any{"type": []string{"number", "null"}}
}

func breakdownProp(labelKey string) map[string]any {
	return map[string]any{
		"type": "array",
		"items": map[string]any{
			"type": "object",
			"properties": map[string]any{
				labelKey: map[string]any{"type": "string"},
				"amount": numberProp(),
			},
		},
	}
}

func buildExtractionSchema() map[string]any {
	sumWithBreakdown := func(labelKey string) map[string]any {
		return map[string]any{
			"type": "object",
			"properties": map[string]any{
				"total":     numberProp(),
				"breakdown": breakdownProp(labelKey),
			},
			"required": []string{"total"},
		}
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"revenue":     sumWithBreakdown("category"),
			"expenses":    sumWithBreakdown("category"),
			"liabilities": sumWithBreakdown("type"),
			"loan_emis": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"lender":    map[string]any{"type": "string"},
						"amount":    numberProp(),
						"frequency": map[string]any{"type": "string"},
					},
				},
			},
			"metrics": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"gross_margin":      numberProp(),
					"net_profit_margin": numberProp(),
					"expense_ratio":     numberProp(),
				},
			},
		},
		"required": []string{"revenue", "expenses", "metrics"},
	}
}

func buildCashFlowSchema() map[string]any {
	forecastProp := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"date":              map[string]any{"type": "string"},
			"projected_balance": numberProp(),
			"confidence":        map[string]any{"type": "string", "enum": []string{"high", "medium", "low"}},
		},
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"current_cash_position": numberProp(),
			"monthly_burn_rate":     numberProp(),
			"runway_months":         numberProp(),
			"forecasts": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"3_month": forecastProp,
					"6_month": forecastProp,
				},
			},
			"trends": map[string]any{"type": "object"},
			"risk_alerts": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "object"},
			},
		},
		"required": []string{"current_cash_position", "monthly_burn_rate", "runway_months"},
	}
}

func buildRiskSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"risk_score": map[string]any{"type": "integer", "minimum": 0, "maximum": 100},
			"risk_level": map[string]any{"type": "string", "enum": []string{"low", "medium", "high", "critical"}},
			"risk_factors": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"category":    map[string]any{"type": "string"},
						"severity":    map[string]any{"type": "string"},
						"description": map[string]any{"type": "string"},
					},
					"required": []string{"category", "description"},
				},
			},
			"anomalies": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "object"},
			},
			"metrics": map[string]any{"type": "object"},
		},
		"required": []string{"risk_score", "risk_level", "risk_factors"},
	}
}

func buildComplianceSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"upcoming_deadlines": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"type":     map[string]any{"type": "string"},
						"due_date": map[string]any{"type": "string"},
					},
				},
			},
			"compliance_issues": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "object"},
			},
			"automation_suggestions": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "object"},
			},
			"draft_emails": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "object"},
			},
		},
		"required": []string{"upcoming_deadlines", "compliance_issues", "automation_suggestions"},
	}
}

func buildExplainabilitySchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"executive_summary":    map[string]any{"type": "string", "minLength": 1},
			"loan_readiness_score": map[string]any{"type": "integer", "minimum": 0, "maximum": 100},
			"loan_analysis": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"approval_likelihood": map[string]any{"type": "string", "enum": []string{"high", "medium", "low"}},
					"strengths":           map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"weaknesses":          map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
			},
			"recommended_actions": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"priority": map[string]any{"type": "integer"},
						"action":   map[string]any{"type": "string"},
					},
					"required": []string{"action"},
				},
			},
			"key_insights": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
		"required": []string{"executive_summary", "loan_readiness_score", "recommended_actions"},
	}
}
