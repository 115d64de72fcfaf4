package analysis

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jchen/finsight/internal/domain"
)

// AssembleReport builds the final fixed-shape report from the terminal stage
// outcomes of a completed job. Pure: no I/O, deterministic apart from the
// generation timestamp.
//
// Every section is always present. A failed stage contributes an error marker
// instead of a payload. The two aggregates come from the explainability
// payload when available; otherwise a deterministic fallback is derived from
// whatever succeeded.
func AssembleReport(outcomes map[Stage]domain.StageOutcome) *domain.Report {
	r := &domain.Report{
		FinancialHealth:  section(outcomes, StageFinancialExtraction),
		CashFlowForecast: section(outcomes, StageCashFlowForecast),
		RiskAssessment:   section(outcomes, StageRiskDetection),
		Compliance:       section(outcomes, StageComplianceCheck),
		Explainability:   section(outcomes, StageExplainability),
		GeneratedAt:      time.Now().UTC(),
	}

	r.LoanReadinessScore, r.ExecutiveSummary = aggregates(outcomes)
	return r
}

// section maps one stage outcome to its report section.
func section(outcomes map[Stage]domain.StageOutcome, stage Stage) domain.ReportSection {
	out, ok := outcomes[stage]
	if !ok {
		return domain.ReportSection{Error: "stage did not run"}
	}
	if out.State == domain.StageStateFailed {
		return domain.ReportSection{Error: out.Error}
	}
	return domain.ReportSection{Payload: out.Payload}
}

// aggregates derives the loan readiness score and executive summary.
// Preference order:
//  1. the explainability payload, which computes both directly;
//  2. a score derived from the risk stage (100 minus risk score) plus a
//     generated summary;
//  3. score 0 plus a summary explaining what is missing.
func aggregates(outcomes map[Stage]domain.StageOutcome) (int, string) {
	if out, ok := outcomes[StageExplainability]; ok && out.State == domain.StageStateSuccess {
		var p struct {
			ExecutiveSummary   string `json:"executive_summary"`
			LoanReadinessScore int    `json:"loan_readiness_score"`
		}
		if err := json.Unmarshal(out.Payload, &p); err == nil && p.ExecutiveSummary != "" {
			return clampScore(p.LoanReadinessScore), p.ExecutiveSummary
		}
	}

	score := 0
	if out, ok := outcomes[StageRiskDetection]; ok && out.State == domain.StageStateSuccess {
		var p struct {
			RiskScore int `json:"risk_score"`
		}
		if err := json.Unmarshal(out.Payload, &p); err == nil {
			score = clampScore(100 - p.RiskScore)
		}
	}

	return score, fallbackSummary(outcomes, score)
}

// fallbackSummary produces a factual summary when the explainability stage
// could not provide one.
func fallbackSummary(outcomes map[Stage]domain.StageOutcome, score int) string {
	var succeeded, failed []string
	for _, spec := range stageSpecs {
		out, ok := outcomes[spec.Name]
		switch {
		case ok && out.State == domain.StageStateSuccess:
			succeeded = append(succeeded, string(spec.Name))
		default:
			failed = append(failed, string(spec.Name))
		}
	}
	sort.Strings(succeeded)
	sort.Strings(failed)

	var sb strings.Builder
	sb.WriteString("Automated executive summary is unavailable because the explainability analysis did not complete. ")
	if len(succeeded) > 0 {
		fmt.Fprintf(&sb, "Completed analyses: %s. ", strings.Join(succeeded, ", "))
	}
	if len(failed) > 0 {
		fmt.Fprintf(&sb, "Unavailable analyses: %s. ", strings.Join(failed, ", "))
	}
	if score > 0 {
		fmt.Fprintf(&sb, "The loan readiness score of %d is derived from the risk assessment alone.", score)
	} else {
		sb.WriteString("No loan readiness score could be derived from the available results.")
	}
	return sb.String()
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
