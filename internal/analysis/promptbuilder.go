package analysis

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jchen/finsight/internal/domain"
)

// DefaultMaxDocumentChars caps the document content section of a prompt.
const DefaultMaxDocumentChars = 15000

// StageInput is everything a stage execution reads: the job's documents,
// the deterministic metrics computed from them, and the outcomes of the
// stage's dependencies.
type StageInput struct {
	JobID     string
	Documents []*domain.Document
	Metrics   *DerivedMetrics
	Upstream  map[Stage]domain.StageOutcome
}

// PromptBuilder assembles deterministic prompts: same input, same prompt.
// No timestamps, no randomness, stable section order.
type PromptBuilder struct {
	maxDocumentChars int
}

// NewPromptBuilder returns a builder with the default document cap.
func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{maxDocumentChars: DefaultMaxDocumentChars}
}

// InformationNeed returns the retrieval query for a stage: what the stage
// needs from the indexed documents, scoped to the job's filenames.
func (b *PromptBuilder) InformationNeed(spec StageSpec, docs []*domain.Document) string {
	var names []string
	for _, d := range docs {
		names = append(names, d.Filename)
	}
	scope := strings.Join(names, ", ")

	switch spec.Name {
	case StageFinancialExtraction:
		return "revenue expenses liabilities loan EMI tax payments in " + scope
	case StageCashFlowForecast:
		return "cash balance recurring payments income expense trends in " + scope
	case StageRiskDetection:
		return "large transactions debt obligations overdrafts anomalies in " + scope
	case StageComplianceCheck:
		return "tax filings GST TDS deadlines penalties compliance in " + scope
	default:
		return "financial summary of " + scope
	}
}

// Build composes the invocation request for one stage run.
// Parameters:
//   - spec: the stage being built for.
//   - input: documents, metrics, and upstream outcomes.
//   - segments: retrieved context; may be empty.
// Returns:
//   - *InvokeRequest: prompts plus the stage's sampling parameters.
func (b *PromptBuilder) Build(spec StageSpec, input *StageInput, segments []Segment) (*InvokeRequest, error) {
	var sb strings.Builder

	sb.WriteString("## Financial Documents\n\n")
	sb.WriteString(b.documentSection(input.Documents))

	metricsJSON, err := json.MarshalIndent(input.Metrics, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal derived metrics: %w", err)
	}
	sb.WriteString("\n## Derived Metrics\n\n")
	sb.WriteString("Computed deterministically from the extracted records:\n")
	sb.WriteString(string(metricsJSON))
	sb.WriteString("\n")

	for _, dep := range spec.DependsOn {
		sb.WriteString("\n## Upstream: ")
		sb.WriteString(string(dep))
		sb.WriteString("\n\n")
		out, ok := input.Upstream[dep]
		if ok && out.State == domain.StageStateSuccess {
			sb.Write(out.Payload)
			sb.WriteString("\n")
		} else if ok {
			sb.WriteString("unavailable: ")
			sb.WriteString(out.Error)
			sb.WriteString("\n")
		} else {
			sb.WriteString("unavailable: stage did not run\n")
		}
	}

	if len(segments) > 0 {
		sb.WriteString("\n## Retrieved Context\n\n")
		for i, seg := range segments {
			fmt.Fprintf(&sb, "[%d] (%s)\n%s\n\n", i+1, seg.Filename, seg.Text)
		}
	}

	sb.WriteString("\n## Task\n\n")
	sb.WriteString(spec.TaskPrompt)

	return &InvokeRequest{
		SystemPrompt: spec.SystemPrompt,
		UserPrompt:   sb.String(),
		Temperature:  spec.Temperature,
		MaxTokens:    spec.MaxTokens,
	}, nil
}

// documentSection renders each document's records and raw text, truncated to
// the builder's cap so oversized uploads cannot blow up the prompt.
func (b *PromptBuilder) documentSection(docs []*domain.Document) string {
	var sb strings.Builder
	for _, doc := range docs {
		fmt.Fprintf(&sb, "### %s (%s)\n", doc.Filename, doc.DocumentType)
		if len(doc.Records) > 0 {
			sb.WriteString("Records:\n")
			for _, rec := range doc.Records {
				fmt.Fprintf(&sb, "- %s | %s | %s | %.2f %s\n",
					rec.Date, rec.Type, rec.Description, rec.Amount, rec.Currency)
			}
		}
		if len(doc.RawText) > 0 {
			sb.WriteString("Text:\n")
			sb.WriteString(strings.Join(doc.RawText, "\n"))
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	s := sb.String()
	if len(s) > b.maxDocumentChars {
		cut := b.maxDocumentChars
		// Back up to a rune boundary so the cut never splits a character.
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "\n[content truncated]\n"
	}
	return s
}
