package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jchen/finsight/internal/analysis"
	"github.com/jchen/finsight/internal/config"
	"github.com/jchen/finsight/internal/domain"
	"github.com/jchen/finsight/internal/logger"
	"github.com/jchen/finsight/internal/repository"
	"github.com/jchen/finsight/internal/service"
)

func main() {
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "text",
		ServiceName: "finsight-analyze",
	})
	logger.SetDefaultLogger(appLogger)

	configPath := flag.String("config", "", "Path to config file")
	documents := flag.String("documents", "", "Comma-separated document IDs to analyze")
	pollInterval := flag.Duration("poll", 2*time.Second, "Status poll interval")
	flag.Parse()

	docIDs := splitIDs(*documents)
	if len(docIDs) == 0 {
		appLogger.Fatal("Usage: analyze -documents <id>[,<id>...]")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	jobRepo := repository.NewJobRepository(db)
	documentRepo := repository.NewDocumentRepository(db)

	qdrantRepo, err := repository.NewQdrantRepository(&repository.QdrantConnectionConfig{
		Host:            cfg.Qdrant.Host,
		Port:            cfg.Qdrant.Port,
		Collection:      cfg.Qdrant.Collection,
		APIKey:          cfg.Qdrant.APIKey,
		UseTLS:          cfg.Qdrant.UseTLS,
		VectorDimension: cfg.Qdrant.Dimensions,
	})
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize Qdrant repository")
	}
	defer qdrantRepo.Close()

	embeddingService := service.NewEmbeddingService(&cfg.Embedding)
	retriever := service.NewContextRetriever(embeddingService, qdrantRepo, cfg.Retrieval.ScoreThreshold)
	invoker := service.NewInferenceService(&cfg.Inference)

	orchestrator, err := analysis.NewOrchestrator(jobRepo, documentRepo, invoker, retriever, analysis.Options{
		StageParallelism:  cfg.Analysis.StageParallelism,
		GlobalConcurrency: cfg.Analysis.GlobalConcurrency,
		WatchdogTimeout:   cfg.Analysis.WatchdogTimeout,
		RetrievalTopK:     cfg.Retrieval.TopK,
	})
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize orchestrator")
	}

	ctx := context.Background()
	jobID, err := orchestrator.Submit(ctx, docIDs)
	if err != nil {
		if errors.Is(err, analysis.ErrInvalidInput) {
			appLogger.WithError(err).Fatal("Submission rejected")
		}
		appLogger.WithError(err).Fatal("Failed to submit analysis job")
	}
	appLogger.Info("Submitted analysis job " + jobID)

	job := poll(ctx, orchestrator, jobID, *pollInterval)
	printResult(job)

	logger.Sync()
	if job.Status != domain.JobStatusCompleted {
		os.Exit(1)
	}
}

// poll watches the job until it reaches a terminal status.
func poll(ctx context.Context, orch *analysis.Orchestrator, jobID string, interval time.Duration) *domain.AnalysisJob {
	for {
		job, err := orch.GetJob(ctx, jobID)
		if err != nil {
			logger.Error("Failed to fetch job %s: %v", jobID, err)
			time.Sleep(interval)
			continue
		}
		if job.Status.Terminal() {
			return job
		}
		logger.Info("Job %s is %s (%d stages finished)", jobID, job.Status, len(job.StageResults))
		time.Sleep(interval)
	}
}

func printResult(job *domain.AnalysisJob) {
	fmt.Printf("\nJob %s: %s\n", job.ID, job.Status)
	if job.ErrorMessage != "" {
		fmt.Printf("Error: %s\n", job.ErrorMessage)
	}

	for name, outcome := range job.StageResults {
		fmt.Printf("  stage %-22s %-8s %6dms", name, outcome.State, outcome.DurationMs)
		if outcome.Error != "" {
			fmt.Printf("  (%s)", outcome.Error)
		}
		fmt.Println()
	}

	if job.Report != nil {
		out, err := json.MarshalIndent(job.Report, "", "  ")
		if err == nil {
			fmt.Printf("\n%s\n", out)
		}
	}
}

func splitIDs(s string) []string {
	var ids []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	return ids
}
