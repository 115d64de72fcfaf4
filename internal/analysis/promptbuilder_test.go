package analysis

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/jchen/finsight/internal/domain"
)

func sampleInput() *StageInput {
	docs := []*domain.Document{
		{
			ID:           "doc-1",
			Filename:     "statement-jan.pdf",
			DocumentType: "bank_statement",
			Records: domain.RecordArray{
				{Type: domain.RecordTypeTransaction, Date: "2024-01-05", Description: "Invoice payment received", Amount: 60000, Currency: "INR"},
				{Type: domain.RecordTypeTransaction, Date: "2024-01-10", Description: "Office rent", Amount: -20000, Currency: "INR"},
			},
			RawText: domain.StringArray{"Opening balance 100000", "Closing balance 140000"},
		},
	}
	return &StageInput{
		JobID:     "job-1",
		Documents: docs,
		Metrics:   ComputeMetrics(docs),
		Upstream:  map[Stage]domain.StageOutcome{},
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	b := NewPromptBuilder()
	spec, _ := SpecFor(StageFinancialExtraction)
	input := sampleInput()

	first, err := b.Build(spec, input, nil)
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}
	second, err := b.Build(spec, input, nil)
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}

	if first.UserPrompt != second.UserPrompt {
		t.Error("same input must produce identical user prompts")
	}
	if first.SystemPrompt != second.SystemPrompt {
		t.Error("same input must produce identical system prompts")
	}
	if first.Temperature != spec.Temperature || first.MaxTokens != spec.MaxTokens {
		t.Errorf("sampling parameters not carried: temp=%v tokens=%d", first.Temperature, first.MaxTokens)
	}
}

func TestBuildIncludesDocumentContent(t *testing.T) {
	b := NewPromptBuilder()
	spec, _ := SpecFor(StageFinancialExtraction)

	req, err := b.Build(spec, sampleInput(), nil)
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}

	for _, want := range []string{"statement-jan.pdf", "Office rent", "Opening balance 100000", "Derived Metrics"} {
		if !strings.Contains(req.UserPrompt, want) {
			t.Errorf("user prompt missing %q", want)
		}
	}
	if !strings.Contains(req.SystemPrompt, "Financial Data Extraction Agent") {
		t.Error("system prompt must carry the stage role")
	}
}

func TestBuildUpstreamSections(t *testing.T) {
	b := NewPromptBuilder()
	spec, _ := SpecFor(StageExplainability)
	input := sampleInput()

	extractionPayload := json.RawMessage(`{"revenue":{"total":60000}}`)
	input.Upstream = map[Stage]domain.StageOutcome{
		StageFinancialExtraction: {
			StageName: string(StageFinancialExtraction),
			State:     domain.StageStateSuccess,
			Payload:   extractionPayload,
		},
		StageRiskDetection: {
			StageName: string(StageRiskDetection),
			State:     domain.StageStateFailed,
			Error:     "model endpoint returned status 500",
		},
	}

	req, err := b.Build(spec, input, nil)
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}

	if !strings.Contains(req.UserPrompt, `{"revenue":{"total":60000}}`) {
		t.Error("successful upstream payload must be embedded verbatim")
	}
	if !strings.Contains(req.UserPrompt, "unavailable: model endpoint returned status 500") {
		t.Error("failed upstream must be marked unavailable with its error")
	}
	if !strings.Contains(req.UserPrompt, "unavailable: stage did not run") {
		t.Error("missing upstream must be marked as not run")
	}
}

func TestBuildIncludesRetrievedContext(t *testing.T) {
	b := NewPromptBuilder()
	spec, _ := SpecFor(StageRiskDetection)

	segments := []Segment{
		{DocumentID: "doc-1", Filename: "statement-jan.pdf", Text: "Large cash withdrawal of 50000", Score: 0.91},
	}
	req, err := b.Build(spec, sampleInput(), segments)
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}

	if !strings.Contains(req.UserPrompt, "Retrieved Context") {
		t.Error("context section missing")
	}
	if !strings.Contains(req.UserPrompt, "Large cash withdrawal of 50000") {
		t.Error("segment text missing")
	}

	// No segments, no section.
	req, err = b.Build(spec, sampleInput(), nil)
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}
	if strings.Contains(req.UserPrompt, "Retrieved Context") {
		t.Error("context section must be omitted when retrieval is empty")
	}
}

func TestBuildTruncatesOversizedDocuments(t *testing.T) {
	b := &PromptBuilder{maxDocumentChars: 500}
	spec, _ := SpecFor(StageFinancialExtraction)

	input := sampleInput()
	input.Documents[0].RawText = domain.StringArray{strings.Repeat("very long statement line ", 200)}

	req, err := b.Build(spec, input, nil)
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}
	if !strings.Contains(req.UserPrompt, "[content truncated]") {
		t.Error("oversized document content must be truncated with a marker")
	}
}

func TestBuildTruncationKeepsValidUTF8(t *testing.T) {
	spec, _ := SpecFor(StageFinancialExtraction)

	input := sampleInput()
	input.Documents[0].RawText = domain.StringArray{strings.Repeat("₹1,00,000 → ", 100)}

	// Sweep the cap across several byte offsets so some cut lands inside a
	// multi-byte rune.
	for limit := 200; limit < 210; limit++ {
		b := &PromptBuilder{maxDocumentChars: limit}
		req, err := b.Build(spec, input, nil)
		if err != nil {
			t.Fatalf("Build() failed at cap %d: %v", limit, err)
		}
		if !utf8.ValidString(req.UserPrompt) {
			t.Errorf("cap %d: truncation produced invalid UTF-8", limit)
		}
		if !strings.Contains(req.UserPrompt, "[content truncated]") {
			t.Errorf("cap %d: truncation marker missing", limit)
		}
	}
}

func TestInformationNeedVariesByStage(t *testing.T) {
	b := NewPromptBuilder()
	docs := sampleInput().Documents

	seen := map[string]Stage{}
	for _, stage := range []Stage{StageFinancialExtraction, StageCashFlowForecast, StageRiskDetection, StageComplianceCheck} {
		spec, _ := SpecFor(stage)
		q := b.InformationNeed(spec, docs)
		if q == "" {
			t.Errorf("%s: empty query", stage)
		}
		if !strings.Contains(q, "statement-jan.pdf") {
			t.Errorf("%s: query must scope to the job's documents", stage)
		}
		if prev, dup := seen[q]; dup {
			t.Errorf("stages %s and %s share the same query", prev, stage)
		}
		seen[q] = stage
	}
}
