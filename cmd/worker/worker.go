// Standalone ingestion worker: consumes PDF jobs without serving HTTP.
// Useful for scaling ingestion separately from the upload surface.
package main

import (
	"context"
	"log"

	"github.com/hibiken/asynq"

	"pdf-rag-server/internal/ai"
	"pdf-rag-server/internal/config"
	"pdf-rag-server/internal/logger"
	"pdf-rag-server/internal/queue"
	"pdf-rag-server/internal/vectorstore"
	"pdf-rag-server/services"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

	ctx := context.Background()

	embedder, err := ai.NewEmbedder(ctx, cfg.GeminiAPIKey, cfg.EmbeddingsModel)
	if err != nil {
		log.Fatal("Failed to initialize embedder:", err)
	}
	defer embedder.Close()

	store := vectorstore.NewStore(vectorstore.Config{
		URL:        cfg.QdrantURL,
		APIKey:     cfg.QdrantAPIKey,
		Collection: cfg.QdrantCollection,
		Dimension:  cfg.VectorDimensions,
	}, embedder)
	if err := store.EnsureCollection(ctx); err != nil {
		log.Fatal("Failed to ensure vector collection:", err)
	}

	server := asynq.NewServer(
		config.AsynqRedisOpt(cfg),
		asynq.Config{
			Concurrency: cfg.WorkerConcurrency,
			Queues:      map[string]int{"default": 1},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("Task failed", "type", task.Type(), "error", err.Error())
			}),
		},
	)

	processor := queue.NewTaskProcessor(services.NewPDFExtractor(cfg.MaxFileSize), store)

	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskIngestPDF, processor.HandleIngestPDF)

	logger.Info("Starting ingestion worker",
		"concurrency", cfg.WorkerConcurrency,
		"redis", cfg.RedisURL)

	// Run blocks until a termination signal, then drains in-flight jobs
	if err := server.Run(mux); err != nil {
		log.Fatal("Failed to start worker:", err)
	}
}
