package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// ReportSection holds one stage's contribution to the final report: either the
// stage payload or an error marker, never both.
type ReportSection struct {
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Errored reports whether the section carries an error marker instead of a payload.
func (s ReportSection) Errored() bool {
	return s.Error != ""
}

// Report is the fixed-shape final report: one section per analysis stage plus
// two aggregates derived from the stages that succeeded. Produced once at job
// completion and read-only afterward.
type Report struct {
	FinancialHealth    ReportSection `json:"financial_health"`
	CashFlowForecast   ReportSection `json:"cash_flow_forecast"`
	RiskAssessment     ReportSection `json:"risk_assessment"`
	Compliance         ReportSection `json:"compliance"`
	Explainability     ReportSection `json:"explainability"`
	LoanReadinessScore int           `json:"loan_readiness_score"`
	ExecutiveSummary   string        `json:"executive_summary"`
	GeneratedAt        time.Time     `json:"generated_at"`
}

// Value implements the driver.Valuer interface for database serialization.
func (r Report) Value() (driver.Value, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (r *Report) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan Report")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, r)
}
