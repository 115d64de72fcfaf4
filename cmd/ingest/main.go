package main

import (
	"context"
	"flag"
	"os"

	"github.com/jchen/finsight/internal/config"
	"github.com/jchen/finsight/internal/logger"
	"github.com/jchen/finsight/internal/repository"
	"github.com/jchen/finsight/internal/service"
	"github.com/jchen/finsight/internal/storage"
)

func main() {
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "finsight-ingest",
	})
	logger.SetDefaultLogger(appLogger)

	configPath := flag.String("config", "", "Path to config file")
	original := flag.String("original", "", "Optional original document to archive alongside")
	flag.Parse()

	files := flag.Args()
	if len(files) == 0 {
		appLogger.Fatal("Usage: ingest [flags] <extracted-content.json> [more files...]")
	}
	if *original != "" && len(files) > 1 {
		appLogger.Fatal("-original can only be used with a single input file")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := qdrantRepo.EnsureCollection(ctx); err != nil {
		appLogger.WithError(err).Fatal("Failed to ensure Qdrant collection")
	}

	objectStorage, err := storage.NewS3Storage(&cfg.Storage)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize storage")
	}
	if err := objectStorage.EnsureBucket(ctx); err != nil {
		appLogger.WithError(err).Fatal("Failed to ensure storage bucket")
	}

	embeddingService := service.NewEmbeddingService(&cfg.Embedding)
	indexer := service.NewIndexerService(embeddingService, qdrantRepo)
	ingest := service.NewIngestService(documentRepo, objectStorage, indexer)

	failed := 0
	for _, path := range files {
		doc, err := ingest.IngestFile(ctx, path, *original)
		if err != nil {
			appLogger.WithError(err).Error("Ingestion failed for " + path)
			failed++
			continue
		}
		appLogger.WithFields(logger.Fields{
			logger.FieldDocumentID: doc.ID,
			logger.FieldCount:      len(doc.Records),
		}).Info("Ingested " + doc.Filename)
	}

	logger.Sync()
	if failed > 0 {
		os.Exit(1)
	}
}
