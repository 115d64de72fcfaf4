package analysis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jchen/finsight/internal/domain"
	"github.com/jchen/finsight/internal/logger"
)

// Options tune orchestrator concurrency and the stall watchdog.
type Options struct {
	// StageParallelism bounds concurrently running stages within one job.
	StageParallelism int
	// GlobalConcurrency bounds concurrently running stages across all jobs.
	GlobalConcurrency int
	// WatchdogTimeout fails a job when no stage completes within the window.
	WatchdogTimeout time.Duration
	// RetrievalTopK overrides each retrieving stage's segment count when
	// positive. Stages with retrieval disabled stay disabled.
	RetrievalTopK int
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		StageParallelism:  4,
		GlobalConcurrency: 8,
		WatchdogTimeout:   5 * time.Minute,
	}
}

func (o *Options) normalize() {
	d := DefaultOptions()
	if o.StageParallelism <= 0 {
		o.StageParallelism = d.StageParallelism
	}
	if o.GlobalConcurrency <= 0 {
		o.GlobalConcurrency = d.GlobalConcurrency
	}
	if o.WatchdogTimeout <= 0 {
		o.WatchdogTimeout = d.WatchdogTimeout
	}
}

// Orchestrator owns the job lifecycle: it accepts submissions, schedules
// stages as their dependencies resolve, persists every state change, and
// assembles the final report. All job mutation happens on the per-job
// scheduler goroutine; executors only report outcomes over a channel.
type Orchestrator struct {
	jobs      JobStore
	documents DocumentStore
	executors map[Stage]*Executor
	specs     []StageSpec
	opts      Options

	globalSem chan struct{}

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewOrchestrator wires the pipeline together.
// Parameters:
//   - jobs: job persistence; sole writer is the orchestrator.
//   - documents: document lookup for input validation and stage input.
//   - invoker: model endpoint client shared by all stages.
//   - retriever: vector index client; may be nil to disable retrieval.
//   - opts: concurrency and watchdog settings; zero values use defaults.
// Returns:
//   - *Orchestrator: ready to accept submissions.
//   - error: non-nil if the stage graph or schemas are invalid.
func NewOrchestrator(jobs JobStore, documents DocumentStore, invoker Invoker, retriever Retriever, opts Options) (*Orchestrator, error) {
	specs := Specs()
	if err := ValidateSpecs(specs); err != nil {
		return nil, fmt.Errorf("invalid stage graph: %w", err)
	}
	schemas, err := NewSchemaSet()
	if err != nil {
		return nil, fmt.Errorf("compile stage schemas: %w", err)
	}
	opts.normalize()

	executors := make(map[Stage]*Executor, len(specs))
	for i := range specs {
		if opts.RetrievalTopK > 0 && specs[i].TopK > 0 {
			specs[i].TopK = opts.RetrievalTopK
		}
		executors[specs[i].Name] = NewExecutor(specs[i], invoker, retriever, schemas)
	}

	return &Orchestrator{
		jobs:      jobs,
		documents: documents,
		executors: executors,
		specs:     specs,
		opts:      opts,
		globalSem: make(chan struct{}, opts.GlobalConcurrency),
	}, nil
}

// Submit validates the document set, persists a pending job, and starts its
// scheduler goroutine. Returns immediately with the job ID.
func (o *Orchestrator) Submit(ctx context.Context, documentIDs []string) (string, error) {
	if len(documentIDs) == 0 {
		return "", fmt.Errorf("%w: no documents provided", ErrInvalidInput)
	}

	seen := make(map[string]struct{}, len(documentIDs))
	for _, id := range documentIDs {
		if _, dup := seen[id]; dup {
			return "", fmt.Errorf("%w: duplicate document %s", ErrInvalidInput, id)
		}
		seen[id] = struct{}{}

		doc, err := o.documents.GetByID(ctx, id)
		if err != nil {
			return "", fmt.Errorf("%w: document %s not found", ErrInvalidInput, id)
		}
		if len(doc.Records) == 0 && len(doc.RawText) == 0 {
			return "", fmt.Errorf("%w: document %s has no extracted content", ErrInvalidInput, id)
		}
	}

	job := &domain.AnalysisJob{
		ID:           uuid.New().String(),
		DocumentIDs:  domain.StringArray(documentIDs),
		Status:       domain.JobStatusPending,
		StageResults: domain.StageResultMap{},
		CreatedAt:    time.Now().UTC(),
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return "", ErrShuttingDown
	}
	if err := o.jobs.Create(ctx, job); err != nil {
		o.mu.Unlock()
		return "", fmt.Errorf("persist job: %w", err)
	}
	o.wg.Add(1)
	o.mu.Unlock()

	go o.run(job.ID, documentIDs)

	logger.CtxInfo(logger.SetJobID(ctx, job.ID), "Analysis job submitted with %d documents", len(documentIDs))
	return job.ID, nil
}

// GetJob returns the current persisted view of a job.
func (o *Orchestrator) GetJob(ctx context.Context, id string) (*domain.AnalysisJob, error) {
	return o.jobs.GetByID(ctx, id)
}

// ListJobs returns recent jobs, newest first.
func (o *Orchestrator) ListJobs(ctx context.Context, limit int) ([]*domain.AnalysisJob, error) {
	return o.jobs.List(ctx, limit)
}

// Close stops accepting submissions and waits for running jobs to finish.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.wg.Wait()
}

// Wait blocks until all currently running jobs reach a terminal state.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// run is the per-job scheduler goroutine. It is the only writer of the job's
// status and stage results.
func (o *Orchestrator) run(jobID string, documentIDs []string) {
	defer o.wg.Done()

	ctx := logger.SetJobID(context.Background(), jobID)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logger.CtxError(ctx, "Scheduler panic recovered: %v", r)
			o.failJob(ctx, jobID, fmt.Sprintf("internal scheduling error: %v", r))
		}
	}()

	input, err := o.loadInput(ctx, jobID, documentIDs)
	if err != nil {
		o.failJob(ctx, jobID, err.Error())
		return
	}

	if err := o.jobs.UpdateStatus(ctx, jobID, domain.JobStatusRunning, ""); err != nil {
		logger.CtxError(ctx, "Failed to mark job running: %v", err)
		o.failJob(ctx, jobID, "internal scheduling error: cannot persist running status")
		return
	}
	logger.CtxInfo(ctx, "Analysis job started")

	outcomes := o.schedule(ctx, cancel, jobID, input)
	if outcomes == nil {
		return // schedule already failed the job
	}

	report := AssembleReport(outcomes)
	if err := o.jobs.SaveReport(ctx, jobID, report); err != nil {
		logger.CtxError(ctx, "Failed to persist report: %v", err)
		o.failJob(ctx, jobID, "internal scheduling error: cannot persist report")
		return
	}
	if err := o.jobs.UpdateStatus(ctx, jobID, domain.JobStatusCompleted, ""); err != nil {
		logger.CtxError(ctx, "Failed to mark job completed: %v", err)
		return
	}

	logger.With(logger.Fields{
		logger.FieldStatus: string(domain.JobStatusCompleted),
		logger.FieldCount:  len(outcomes),
	}).Info(ctx, "Analysis job completed")
}

// schedule dispatches stages as their dependencies resolve and collects
// outcomes until the pipeline drains. Returns nil after failing the job
// (mandatory stage failure or watchdog expiry).
func (o *Orchestrator) schedule(ctx context.Context, cancel context.CancelFunc, jobID string, input *StageInput) map[Stage]domain.StageOutcome {
	outcomes := make(map[Stage]domain.StageOutcome, len(o.specs))
	started := make(map[Stage]bool, len(o.specs))
	results := make(chan domain.StageOutcome, len(o.specs))
	jobSem := make(chan struct{}, o.opts.StageParallelism)

	inFlight := 0
	dispatch := func() {
		for _, spec := range o.specs {
			if started[spec.Name] || !o.ready(spec, outcomes) {
				continue
			}
			started[spec.Name] = true
			inFlight++
			o.runStage(ctx, spec, input, outcomes, jobSem, results)
		}
	}

	watchdog := time.NewTimer(o.opts.WatchdogTimeout)
	defer watchdog.Stop()

	dispatch()
	for inFlight > 0 {
		select {
		case out := <-results:
			inFlight--
			stage := Stage(out.StageName)
			outcomes[stage] = out

			if err := o.jobs.SaveStageResult(ctx, jobID, out); err != nil {
				logger.CtxError(ctx, "Failed to persist stage result for %s: %v", stage, err)
			}

			spec, _ := SpecFor(stage)
			if out.State == domain.StageStateFailed && spec.Mandatory {
				// In-flight stages are abandoned: their results land in the
				// buffered channel and are never read or persisted.
				cancel()
				o.failJob(ctx, jobID, fmt.Sprintf("mandatory stage %s failed: %s", stage, out.Error))
				return nil
			}

			resetWatchdog(watchdog, o.opts.WatchdogTimeout)
			dispatch()

		case <-watchdog.C:
			cancel()
			o.failJob(ctx, jobID, fmt.Sprintf("watchdog expired: no stage progress within %s", o.opts.WatchdogTimeout))
			return nil
		}
	}
	return outcomes
}

// runStage copies the stage's upstream outcomes on the scheduler goroutine,
// then launches the executor under both semaphores. The copy keeps the worker
// goroutine off the scheduler's outcome map.
func (o *Orchestrator) runStage(ctx context.Context, spec StageSpec, input *StageInput, outcomes map[Stage]domain.StageOutcome, jobSem chan struct{}, results chan<- domain.StageOutcome) {
	upstream := make(map[Stage]domain.StageOutcome, len(spec.DependsOn))
	for _, dep := range spec.DependsOn {
		if out, ok := outcomes[dep]; ok {
			upstream[dep] = out
		}
	}
	stageInput := &StageInput{
		JobID:     input.JobID,
		Documents: input.Documents,
		Metrics:   input.Metrics,
		Upstream:  upstream,
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				results <- domain.StageOutcome{
					StageName:   string(spec.Name),
					State:       domain.StageStateFailed,
					Error:       fmt.Sprintf("stage panic: %v", r),
					CompletedAt: time.Now().UTC(),
				}
			}
		}()

		jobSem <- struct{}{}
		defer func() { <-jobSem }()
		o.globalSem <- struct{}{}
		defer func() { <-o.globalSem }()

		sctx := logger.SetStage(ctx, string(spec.Name))
		logger.CtxDebug(sctx, "Stage dispatched")
		results <- o.executors[spec.Name].Execute(sctx, stageInput)
	}()
}

// ready reports whether all of a stage's dependencies have terminal outcomes.
// A failed non-mandatory dependency still counts as terminal; the dependent
// stage runs with that input marked unavailable.
func (o *Orchestrator) ready(spec StageSpec, outcomes map[Stage]domain.StageOutcome) bool {
	for _, dep := range spec.DependsOn {
		if _, ok := outcomes[dep]; !ok {
			return false
		}
	}
	return true
}

// loadInput fetches the job's documents and computes derived metrics.
func (o *Orchestrator) loadInput(ctx context.Context, jobID string, documentIDs []string) (*StageInput, error) {
	docs := make([]*domain.Document, 0, len(documentIDs))
	for _, id := range documentIDs {
		doc, err := o.documents.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load document %s: %w", id, err)
		}
		docs = append(docs, doc)
	}
	return &StageInput{
		JobID:     jobID,
		Documents: docs,
		Metrics:   ComputeMetrics(docs),
	}, nil
}

// failJob transitions a job to failed with the given reason. Safe to call
// with a canceled context: persistence must not depend on the job context.
func (o *Orchestrator) failJob(ctx context.Context, jobID, reason string) {
	pctx := context.WithoutCancel(ctx)
	if err := o.jobs.UpdateStatus(pctx, jobID, domain.JobStatusFailed, reason); err != nil {
		logger.CtxError(ctx, "Failed to mark job failed: %v", err)
		return
	}
	logger.With(logger.Fields{
		logger.FieldStatus: string(domain.JobStatusFailed),
	}).Warn(ctx, "Analysis job failed: %s", reason)
}

// resetWatchdog restarts the stall timer, draining a concurrent expiry.
func resetWatchdog(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
