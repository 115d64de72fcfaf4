// Package analysis implements the multi-stage financial analysis pipeline:
// a fixed dependency graph of model-backed stages, the executor that runs one
// stage, and the orchestrator that schedules stages, aggregates partial
// failures, and assembles the final report.
package analysis

import (
	"context"

	"github.com/jchen/finsight/internal/domain"
)

// Segment is one retrieved context snippet from the vector index.
type Segment struct {
	DocumentID string  `json:"document_id"`
	Filename   string  `json:"filename"`
	Text       string  `json:"text"`
	Score      float32 `json:"score"`
}

// InvokeRequest is one model invocation: composed prompts plus per-stage
// sampling parameters.
type InvokeRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
}

// Invoker calls the model endpoint. Implementations own timeout and retry
// handling; a returned error is final for the stage.
type Invoker interface {
	Invoke(ctx context.Context, req *InvokeRequest) (string, error)
}

// Retriever searches the vector index for context segments. Errors are
// absorbed by the executor: retrieval problems degrade prompts, they never
// fail stages.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]Segment, error)
}

// DocumentStore loads registered documents and their extracted content.
type DocumentStore interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
}

// JobStore persists analysis jobs. The orchestrator is the only writer.
type JobStore interface {
	Create(ctx context.Context, job *domain.AnalysisJob) error
	GetByID(ctx context.Context, id string) (*domain.AnalysisJob, error)
	List(ctx context.Context, limit int) ([]*domain.AnalysisJob, error)
	// UpdateStatus transitions a job's status. Implementations must not
	// overwrite a terminal status.
	UpdateStatus(ctx context.Context, id string, status domain.JobStatus, errorMessage string) error
	// SaveStageResult records one stage outcome under its stage name.
	SaveStageResult(ctx context.Context, id string, outcome domain.StageOutcome) error
	// SaveReport attaches the assembled report to a job.
	SaveReport(ctx context.Context, id string, report *domain.Report) error
}
