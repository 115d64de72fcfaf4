package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jchen/finsight/internal/domain"
)

// memJobStore is an in-memory JobStore for scheduler tests.
type memJobStore struct {
	mu   sync.Mutex
	jobs map[string]*domain.AnalysisJob
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: map[string]*domain.AnalysisJob{}}
}

func (s *memJobStore) Create(_ context.Context, job *domain.AnalysisJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *job
	s.jobs[job.ID] = &copied
	return nil
}

func (s *memJobStore) GetByID(_ context.Context, id string) (*domain.AnalysisJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	copied := *job
	copied.StageResults = domain.StageResultMap{}
	for k, v := range job.StageResults {
		copied.StageResults[k] = v
	}
	return &copied, nil
}

func (s *memJobStore) List(_ context.Context, limit int) ([]*domain.AnalysisJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.AnalysisJob
	for _, job := range s.jobs {
		copied := *job
		out = append(out, &copied)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *memJobStore) UpdateStatus(_ context.Context, id string, status domain.JobStatus, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status.Terminal() {
		return nil
	}
	job.Status = status
	job.ErrorMessage = errorMessage
	now := time.Now().UTC()
	switch status {
	case domain.JobStatusRunning:
		job.StartedAt = &now
	case domain.JobStatusCompleted, domain.JobStatusFailed:
		job.CompletedAt = &now
	}
	return nil
}

func (s *memJobStore) SaveStageResult(_ context.Context, id string, outcome domain.StageOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if job.StageResults == nil {
		job.StageResults = domain.StageResultMap{}
	}
	job.StageResults[outcome.StageName] = outcome
	return nil
}

func (s *memJobStore) SaveReport(_ context.Context, id string, report *domain.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	job.Report = report
	return nil
}

// memDocStore is an in-memory DocumentStore.
type memDocStore struct {
	docs map[string]*domain.Document
}

func (s *memDocStore) GetByID(_ context.Context, id string) (*domain.Document, error) {
	doc, ok := s.docs[id]
	if !ok {
		return nil, errors.New("record not found")
	}
	return doc, nil
}

func testDocStore() *memDocStore {
	return &memDocStore{docs: map[string]*domain.Document{
		"doc-1": {
			ID:       "doc-1",
			Filename: "statement-jan.pdf",
			Records: domain.RecordArray{
				{Type: domain.RecordTypeTransaction, Date: "2024-01-05", Description: "Invoice payment received", Amount: 60000},
				{Type: domain.RecordTypeTransaction, Date: "2024-01-10", Description: "Office rent", Amount: -20000},
			},
		},
		"doc-empty": {
			ID:       "doc-empty",
			Filename: "empty.pdf",
		},
	}}
}

func newTestOrchestrator(t *testing.T, jobs JobStore, invoker Invoker, opts Options) *Orchestrator {
	t.Helper()
	orch, err := NewOrchestrator(jobs, testDocStore(), invoker, nil, opts)
	if err != nil {
		t.Fatalf("NewOrchestrator() failed: %v", err)
	}
	return orch
}

func runJob(t *testing.T, orch *Orchestrator, jobs *memJobStore, docIDs []string) *domain.AnalysisJob {
	t.Helper()
	jobID, err := orch.Submit(context.Background(), docIDs)
	if err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}
	orch.Wait()

	job, err := jobs.GetByID(context.Background(), jobID)
	if err != nil {
		t.Fatalf("GetByID() failed: %v", err)
	}
	return job
}

func TestOrchestratorHappyPath(t *testing.T) {
	jobs := newMemJobStore()
	invoker := newFakeInvoker()
	orch := newTestOrchestrator(t, jobs, invoker, Options{})

	job := runJob(t, orch, jobs, []string{"doc-1"})

	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("Status = %s, want completed (error: %s)", job.Status, job.ErrorMessage)
	}
	if len(job.StageResults) != 5 {
		t.Errorf("StageResults count = %d, want 5", len(job.StageResults))
	}
	for name, out := range job.StageResults {
		if out.State != domain.StageStateSuccess {
			t.Errorf("stage %s = %s, want success (%s)", name, out.State, out.Error)
		}
	}
	if job.Report == nil {
		t.Fatal("completed job must carry a report")
	}
	if job.Report.LoanReadinessScore != 68 {
		t.Errorf("LoanReadinessScore = %d, want 68", job.Report.LoanReadinessScore)
	}
	if job.StartedAt == nil || job.CompletedAt == nil {
		t.Error("StartedAt/CompletedAt must be set")
	}

	// Extraction runs first; explainability joins last.
	calls := invoker.callOrder()
	if len(calls) != 5 {
		t.Fatalf("invocations = %d, want 5", len(calls))
	}
	if calls[0] != StageFinancialExtraction {
		t.Errorf("first invocation = %s, want extraction", calls[0])
	}
	if calls[4] != StageExplainability {
		t.Errorf("last invocation = %s, want explainability", calls[4])
	}
}

func TestSubmitRejectsInvalidInput(t *testing.T) {
	jobs := newMemJobStore()
	orch := newTestOrchestrator(t, jobs, newFakeInvoker(), Options{})

	testCases := []struct {
		name   string
		docIDs []string
	}{
		{"empty set", nil},
		{"unknown document", []string{"ghost"}},
		{"duplicate document", []string{"doc-1", "doc-1"}},
		{"document without content", []string{"doc-empty"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := orch.Submit(context.Background(), tc.docIDs)
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("Submit() error = %v, want ErrInvalidInput", err)
			}
		})
	}

	if n := len(jobs.jobs); n != 0 {
		t.Errorf("rejected submissions must not persist jobs, found %d", n)
	}
}

func TestMandatoryStageFailureFailsJob(t *testing.T) {
	jobs := newMemJobStore()
	invoker := newFakeInvoker()
	invoker.errors[StageFinancialExtraction] = NewTransientError("inference", errors.New("endpoint down"))
	orch := newTestOrchestrator(t, jobs, invoker, Options{})

	job := runJob(t, orch, jobs, []string{"doc-1"})

	if job.Status != domain.JobStatusFailed {
		t.Fatalf("Status = %s, want failed", job.Status)
	}
	if !strings.Contains(job.ErrorMessage, "mandatory stage financial_extraction failed") {
		t.Errorf("ErrorMessage = %q", job.ErrorMessage)
	}
	if job.Report != nil {
		t.Error("failed job must not carry a report")
	}
	if len(invoker.callOrder()) != 1 {
		t.Errorf("dependent stages must not be dispatched, got %d invocations", len(invoker.callOrder()))
	}
	if len(job.StageResults) != 1 {
		t.Errorf("StageResults count = %d, want 1", len(job.StageResults))
	}
}

func TestNonMandatoryFailureStillCompletes(t *testing.T) {
	jobs := newMemJobStore()
	invoker := newFakeInvoker()
	invoker.errors[StageRiskDetection] = NewTransientError("inference", errors.New("throttled"))
	orch := newTestOrchestrator(t, jobs, invoker, Options{})

	job := runJob(t, orch, jobs, []string{"doc-1"})

	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("Status = %s, want completed (error: %s)", job.Status, job.ErrorMessage)
	}
	if len(job.StageResults) != 5 {
		t.Fatalf("StageResults count = %d, want 5", len(job.StageResults))
	}
	if job.StageResults[string(StageRiskDetection)].State != domain.StageStateFailed {
		t.Error("risk stage must be recorded as failed")
	}
	if job.Report == nil {
		t.Fatal("job must still carry a report")
	}
	if !job.Report.RiskAssessment.Errored() {
		t.Error("risk section must carry the error marker")
	}
	if job.Report.Explainability.Errored() {
		t.Error("explainability must still run on partial upstream")
	}

	// All five stages were attempted, including the one that failed.
	if n := len(invoker.callOrder()); n != 5 {
		t.Errorf("invocations = %d, want 5", n)
	}
}

func TestAllDependentStagesFailStillCompletes(t *testing.T) {
	jobs := newMemJobStore()
	invoker := newFakeInvoker()
	for _, stage := range []Stage{StageCashFlowForecast, StageRiskDetection, StageComplianceCheck, StageExplainability} {
		invoker.errors[stage] = NewTransientError("inference", errors.New("endpoint down"))
	}
	orch := newTestOrchestrator(t, jobs, invoker, Options{})

	job := runJob(t, orch, jobs, []string{"doc-1"})

	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("Status = %s, want completed (error: %s)", job.Status, job.ErrorMessage)
	}
	if len(job.StageResults) != 5 {
		t.Fatalf("StageResults count = %d, want 5", len(job.StageResults))
	}
	if job.Report == nil {
		t.Fatal("job must still carry a report")
	}
	if job.Report.FinancialHealth.Errored() {
		t.Error("extraction section must be populated")
	}
	for name, section := range map[string]domain.ReportSection{
		"cash_flow_forecast": job.Report.CashFlowForecast,
		"risk_assessment":    job.Report.RiskAssessment,
		"compliance":         job.Report.Compliance,
		"explainability":     job.Report.Explainability,
	} {
		if !section.Errored() {
			t.Errorf("section %s must carry the error marker", name)
		}
	}
	// No explainability payload and no risk score to fall back on.
	if job.Report.LoanReadinessScore != 0 {
		t.Errorf("LoanReadinessScore = %d, want 0", job.Report.LoanReadinessScore)
	}
	if job.Report.ExecutiveSummary == "" {
		t.Error("fallback summary must be present")
	}
}

func TestRetrievalDepthOverride(t *testing.T) {
	jobs := newMemJobStore()
	retriever := &fakeRetriever{}
	orch, err := NewOrchestrator(jobs, testDocStore(), newFakeInvoker(), retriever, Options{RetrievalTopK: 2})
	if err != nil {
		t.Fatalf("NewOrchestrator() failed: %v", err)
	}

	job := runJob(t, orch, jobs, []string{"doc-1"})

	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("Status = %s, want completed (error: %s)", job.Status, job.ErrorMessage)
	}
	// Explainability keeps retrieval disabled; the other four use the override.
	topKs := retriever.requestedTopKs()
	if len(topKs) != 4 {
		t.Fatalf("retriever calls = %d, want 4", len(topKs))
	}
	for i, k := range topKs {
		if k != 2 {
			t.Errorf("request %d topK = %d, want 2", i, k)
		}
	}
}

func TestGetJobTerminalReadsAreIdentical(t *testing.T) {
	jobs := newMemJobStore()
	orch := newTestOrchestrator(t, jobs, newFakeInvoker(), Options{})

	job := runJob(t, orch, jobs, []string{"doc-1"})
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("Status = %s, want completed", job.Status)
	}

	first, err := orch.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob() failed: %v", err)
	}
	second, err := orch.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob() failed: %v", err)
	}

	a, err := json.Marshal(first)
	if err != nil {
		t.Fatalf("marshal first read: %v", err)
	}
	b, err := json.Marshal(second)
	if err != nil {
		t.Fatalf("marshal second read: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Errorf("terminal job reads differ:\n%s\n%s", a, b)
	}
}

func TestInvalidExplainabilityFallsBackToRiskScore(t *testing.T) {
	jobs := newMemJobStore()
	invoker := newFakeInvoker()
	invoker.responses[StageExplainability] = "this is not json"
	orch := newTestOrchestrator(t, jobs, invoker, Options{})

	job := runJob(t, orch, jobs, []string{"doc-1"})

	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("Status = %s, want completed", job.Status)
	}
	if !job.Report.Explainability.Errored() {
		t.Error("explainability section must carry the validation error")
	}
	// Default risk payload carries risk_score 30.
	if job.Report.LoanReadinessScore != 70 {
		t.Errorf("LoanReadinessScore = %d, want 70", job.Report.LoanReadinessScore)
	}
	if job.Report.ExecutiveSummary == "" {
		t.Error("fallback summary must be present")
	}
}

func TestWatchdogFailsStalledJob(t *testing.T) {
	jobs := newMemJobStore()
	invoker := newFakeInvoker()
	invoker.delay = 2 * time.Second
	orch := newTestOrchestrator(t, jobs, invoker, Options{WatchdogTimeout: 50 * time.Millisecond})

	job := runJob(t, orch, jobs, []string{"doc-1"})

	if job.Status != domain.JobStatusFailed {
		t.Fatalf("Status = %s, want failed", job.Status)
	}
	if !strings.Contains(job.ErrorMessage, "watchdog expired") {
		t.Errorf("ErrorMessage = %q", job.ErrorMessage)
	}
}

func TestStageParallelismBound(t *testing.T) {
	jobs := newMemJobStore()
	invoker := newFakeInvoker()
	invoker.delay = 10 * time.Millisecond
	orch := newTestOrchestrator(t, jobs, invoker, Options{StageParallelism: 1})

	job := runJob(t, orch, jobs, []string{"doc-1"})

	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("Status = %s, want completed (error: %s)", job.Status, job.ErrorMessage)
	}
	invoker.mu.Lock()
	max := invoker.maxFlight
	invoker.mu.Unlock()
	if max > 1 {
		t.Errorf("max concurrent invocations = %d, want 1", max)
	}
}

func TestGlobalConcurrencyBound(t *testing.T) {
	jobs := newMemJobStore()
	invoker := newFakeInvoker()
	invoker.delay = 10 * time.Millisecond
	orch := newTestOrchestrator(t, jobs, invoker, Options{StageParallelism: 4, GlobalConcurrency: 1})

	for i := 0; i < 3; i++ {
		if _, err := orch.Submit(context.Background(), []string{"doc-1"}); err != nil {
			t.Fatalf("Submit() failed: %v", err)
		}
	}
	orch.Wait()

	invoker.mu.Lock()
	max := invoker.maxFlight
	invoker.mu.Unlock()
	if max > 1 {
		t.Errorf("max concurrent invocations across jobs = %d, want 1", max)
	}
}

func TestGetJobUnknownID(t *testing.T) {
	jobs := newMemJobStore()
	orch := newTestOrchestrator(t, jobs, newFakeInvoker(), Options{})

	_, err := orch.GetJob(context.Background(), "missing")
	if !errors.Is(err, ErrJobNotFound) {
		t.Errorf("GetJob() error = %v, want ErrJobNotFound", err)
	}
}

func TestCloseRejectsNewSubmissions(t *testing.T) {
	jobs := newMemJobStore()
	orch := newTestOrchestrator(t, jobs, newFakeInvoker(), Options{})
	orch.Close()

	_, err := orch.Submit(context.Background(), []string{"doc-1"})
	if !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Submit() after Close error = %v, want ErrShuttingDown", err)
	}
}
