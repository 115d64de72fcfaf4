package analysis

import (
	"fmt"

	"github.com/jchen/finsight/internal/prompts"
)

// Stage identifies one analysis stage in the pipeline.
type Stage string

const (
	StageFinancialExtraction Stage = "financial_extraction"
	StageCashFlowForecast    Stage = "cash_flow_forecast"
	StageRiskDetection       Stage = "risk_detection"
	StageComplianceCheck     Stage = "compliance_check"
	StageExplainability      Stage = "explainability"
)

// StageSpec describes one stage: its position in the dependency graph, whether
// its failure fails the whole job, and the model parameters it is invoked with.
type StageSpec struct {
	Name         Stage
	DependsOn    []Stage
	Mandatory    bool
	TopK         int // retrieved context segments; 0 disables retrieval
	Temperature  float32
	MaxTokens    int
	SystemPrompt string
	TaskPrompt   string
}

// stageSpecs is the fixed pipeline definition. Extraction is the mandatory
// root; the three analysis stages fan out from it; explainability joins all
// four. Order matters only for deterministic iteration.
var stageSpecs = []StageSpec{
	{
		Name:         StageFinancialExtraction,
		DependsOn:    nil,
		Mandatory:    true,
		TopK:         5,
		Temperature:  0.1,
		MaxTokens:    2000,
		SystemPrompt: prompts.ExtractionSystemPrompt,
		TaskPrompt:   prompts.ExtractionTaskPrompt,
	},
	{
		Name:         StageCashFlowForecast,
		DependsOn:    []Stage{StageFinancialExtraction},
		Mandatory:    false,
		TopK:         5,
		Temperature:  0.3,
		MaxTokens:    800,
		SystemPrompt: prompts.CashFlowSystemPrompt,
		TaskPrompt:   prompts.CashFlowTaskPrompt,
	},
	{
		Name:         StageRiskDetection,
		DependsOn:    []Stage{StageFinancialExtraction},
		Mandatory:    false,
		TopK:         5,
		Temperature:  0.2,
		MaxTokens:    2000,
		SystemPrompt: prompts.RiskSystemPrompt,
		TaskPrompt:   prompts.RiskTaskPrompt,
	},
	{
		Name:         StageComplianceCheck,
		DependsOn:    []Stage{StageFinancialExtraction},
		Mandatory:    false,
		TopK:         5,
		Temperature:  0.4,
		MaxTokens:    800,
		SystemPrompt: prompts.ComplianceSystemPrompt,
		TaskPrompt:   prompts.ComplianceTaskPrompt,
	},
	{
		Name: StageExplainability,
		DependsOn: []Stage{
			StageFinancialExtraction,
			StageCashFlowForecast,
			StageRiskDetection,
			StageComplianceCheck,
		},
		Mandatory:    false,
		TopK:         0, // synthesizes upstream output; no fresh retrieval
		Temperature:  0.5,
		MaxTokens:    3000,
		SystemPrompt: prompts.ExplainabilitySystemPrompt,
		TaskPrompt:   prompts.ExplainabilityTaskPrompt,
	},
}

// Specs returns a copy of the pipeline definition.
func Specs() []StageSpec {
	out := make([]StageSpec, len(stageSpecs))
	copy(out, stageSpecs)
	return out
}

// SpecFor returns the spec for the named stage.
func SpecFor(name Stage) (StageSpec, bool) {
	for _, s := range stageSpecs {
		if s.Name == name {
			return s, true
		}
	}
	return StageSpec{}, false
}

// ValidateSpecs checks that the stage graph is well formed: unique names,
// known dependencies, and no cycles. Called once at orchestrator construction
// so a bad pipeline definition fails fast instead of wedging jobs.
func ValidateSpecs(specs []StageSpec) error {
	byName := make(map[Stage]StageSpec, len(specs))
	for _, s := range specs {
		if _, dup := byName[s.Name]; dup {
			return fmt.Errorf("duplicate stage %q", s.Name)
		}
		byName[s.Name] = s
	}

	for _, s := range specs {
		for _, dep := range s.DependsOn {
			if _, ok := byName[dep]; !ok {
				return fmt.Errorf("stage %q depends on unknown stage %q", s.Name, dep)
			}
			if dep == s.Name {
				return fmt.Errorf("stage %q depends on itself", s.Name)
			}
		}
	}

	// Kahn's algorithm: if a full topological order exists there is no cycle.
	indegree := make(map[Stage]int, len(specs))
	dependents := make(map[Stage][]Stage, len(specs))
	for _, s := range specs {
		indegree[s.Name] = len(s.DependsOn)
		for _, dep := range s.DependsOn {
			dependents[dep] = append(dependents[dep], s.Name)
		}
	}

	var queue []Stage
	for name, deg := range indegree {
		if deg == 0 {
			queue = append(queue, name)
		}
	}

	visited := 0
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range dependents[name] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if visited != len(specs) {
		return fmt.Errorf("stage graph contains a cycle")
	}
	return nil
}
