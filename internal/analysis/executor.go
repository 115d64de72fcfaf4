package analysis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jchen/finsight/internal/domain"
	"github.com/jchen/finsight/internal/logger"
)

// Executor runs a single stage end to end: retrieve context, build the
// prompt, invoke the model, sanitize and validate the output. It never
// returns an error; every run produces a terminal StageOutcome.
type Executor struct {
	spec      StageSpec
	invoker   Invoker
	retriever Retriever
	builder   *PromptBuilder
	schemas   *SchemaSet
}

// NewExecutor builds an executor for one stage.
func NewExecutor(spec StageSpec, invoker Invoker, retriever Retriever, schemas *SchemaSet) *Executor {
	return &Executor{
		spec:      spec,
		invoker:   invoker,
		retriever: retriever,
		builder:   NewPromptBuilder(),
		schemas:   schemas,
	}
}

// Execute runs the stage once against the given input.
func (e *Executor) Execute(ctx context.Context, input *StageInput) domain.StageOutcome {
	start := time.Now()
	log := logger.FromContext(ctx)

	segments := e.retrieve(ctx, input)

	req, err := e.builder.Build(e.spec, input, segments)
	if err != nil {
		return e.failure(start, err)
	}

	raw, err := e.invoker.Invoke(ctx, req)
	if err != nil {
		log.WithError(err).Errorf("Model invocation failed")
		return e.failure(start, err)
	}

	payload := []byte(SanitizeModelJSON(raw))
	if err := e.schemas.Validate(e.spec.Name, payload); err != nil {
		log.WithError(err).Errorf("Stage output failed validation")
		return e.failure(start, err)
	}

	logger.With(logger.Fields{
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
		logger.FieldStatus:     string(domain.StageStateSuccess),
	}).Info(ctx, "Stage completed")

	return domain.StageOutcome{
		StageName:   string(e.spec.Name),
		State:       domain.StageStateSuccess,
		Payload:     json.RawMessage(payload),
		DurationMs:  time.Since(start).Milliseconds(),
		CompletedAt: time.Now().UTC(),
	}
}

// retrieve fetches context segments when the stage uses retrieval. A nil
// retriever, a backend error, or an empty index all degrade to no context,
// never to a stage failure.
func (e *Executor) retrieve(ctx context.Context, input *StageInput) []Segment {
	if e.spec.TopK <= 0 || e.retriever == nil {
		return nil
	}
	query := e.builder.InformationNeed(e.spec, input.Documents)
	segments, err := e.retriever.Retrieve(ctx, query, e.spec.TopK)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Warnf("Context retrieval failed, continuing without context")
		return nil
	}
	return segments
}

func (e *Executor) failure(start time.Time, err error) domain.StageOutcome {
	return domain.StageOutcome{
		StageName:   string(e.spec.Name),
		State:       domain.StageStateFailed,
		Error:       err.Error(),
		DurationMs:  time.Since(start).Milliseconds(),
		CompletedAt: time.Now().UTC(),
	}
}
