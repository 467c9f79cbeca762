package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"pdf-rag-server/internal/ai"
	"pdf-rag-server/internal/config"
	"pdf-rag-server/internal/logger"
	"pdf-rag-server/internal/queue"
	"pdf-rag-server/internal/telemetry"
	"pdf-rag-server/internal/vectorstore"
	"pdf-rag-server/middleware"
	"pdf-rag-server/routes"
	"pdf-rag-server/services"
)

// App owns the process lifecycle: it wires the HTTP surface, the in-process
// ingestion worker, and the upload janitor, and shuts them down in a
// deterministic order.
type App struct {
	cfg *config.Config

	httpServer  *http.Server
	asynqServer *asynq.Server
	asynqMux    *asynq.ServeMux

	queueClient *queue.Client
	embedder    *ai.Embedder
	generator   *ai.ResponseGenerator
	store       *vectorstore.Store
	janitor     *services.Janitor
	redisClient *redis.Client

	tracerShutdown func()
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg}

	if cfg.TracingEnabled {
		shutdown, err := telemetry.InitTracer("pdf-rag-server", cfg.OTLPEndpoint)
		if err != nil {
			return nil, fmt.Errorf("init tracer: %w", err)
		}
		a.tracerShutdown = shutdown
	}

	// Fail fast on a misconfigured broker
	rdb, err := config.NewRedisClient(cfg)
	if err != nil {
		return nil, err
	}
	a.redisClient = rdb
	logger.Info("Connected to Redis", "addr", cfg.RedisURL)

	embedder, err := ai.NewEmbedder(ctx, cfg.GeminiAPIKey, cfg.EmbeddingsModel)
	if err != nil {
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	a.embedder = embedder

	generator, err := ai.NewResponseGenerator(ctx, cfg.GeminiAPIKey, cfg.ChatModel)
	if err != nil {
		return nil, fmt.Errorf("init response generator: %w", err)
	}
	a.generator = generator

	a.store = vectorstore.NewStore(vectorstore.Config{
		URL:        cfg.QdrantURL,
		APIKey:     cfg.QdrantAPIKey,
		Collection: cfg.QdrantCollection,
		Dimension:  cfg.VectorDimensions,
	}, embedder)
	if err := a.store.EnsureCollection(ctx); err != nil {
		return nil, fmt.Errorf("ensure vector collection: %w", err)
	}
	logger.Info("Vector store ready", "url", cfg.QdrantURL, "collection", cfg.QdrantCollection)

	redisOpt := config.AsynqRedisOpt(cfg)
	a.queueClient = queue.NewClient(redisOpt)

	a.asynqServer = asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		Queues:      map[string]int{"default": 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			// Job-level failures are reported here; the worker process
			// itself keeps running.
			logger.Error("Task failed", "type", task.Type(), "error", err.Error())
		}),
	})
	processor := queue.NewTaskProcessor(services.NewPDFExtractor(cfg.MaxFileSize), a.store)
	a.asynqMux = asynq.NewServeMux()
	a.asynqMux.HandleFunc(queue.TaskIngestPDF, processor.HandleIngestPDF)

	if cfg.JanitorEnabled {
		a.janitor = services.NewJanitor(
			cfg.UploadDir,
			time.Duration(cfg.JanitorInterval)*time.Minute,
			time.Duration(cfg.JanitorMaxAge)*time.Minute,
		)
	}

	a.httpServer = &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: a.buildRouter(),
	}

	return a, nil
}

func (a *App) buildRouter() *gin.Engine {
	if a.cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.RateLimitMiddleware(a.redisClient, a.cfg))

	corsConfig := cors.DefaultConfig()
	if len(a.cfg.CORSOrigins) == 1 && a.cfg.CORSOrigins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = a.cfg.CORSOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "X-Requested-With"}
	router.Use(cors.New(corsConfig))

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message":   "PDF RAG Server is running",
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	routes.SetupUploadRoutes(router, a.cfg, a.queueClient, a.store)
	routes.SetupChatRoutes(router, a.cfg, a.store, a.generator)

	return router
}

// Start launches the HTTP server, the in-process ingestion worker, and the
// janitor. It returns once everything is running; server errors after startup
// arrive on the returned channel.
func (a *App) Start() (<-chan error, error) {
	if err := a.asynqServer.Start(a.asynqMux); err != nil {
		return nil, fmt.Errorf("start ingestion worker: %w", err)
	}
	logger.Info("Ingestion worker started", "concurrency", a.cfg.WorkerConcurrency)

	if a.janitor != nil {
		if err := a.janitor.Start(); err != nil {
			logger.Warn("Failed to start upload janitor", "error", err.Error())
		}
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "port", a.cfg.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	return errCh, nil
}

// Stop shuts everything down in order: stop accepting new HTTP connections,
// drain in-flight jobs, then release clients. Shutdown errors are logged,
// not returned.
func (a *App) Stop(ctx context.Context) {
	logger.Info("Shutting down application...")

	if err := a.httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err.Error())
	} else {
		logger.Info("Server stopped")
	}

	a.asynqServer.Shutdown()
	logger.Info("Ingestion worker stopped")

	if a.janitor != nil {
		a.janitor.Stop()
	}

	if err := a.queueClient.Close(); err != nil {
		logger.Error("Queue client close error", "error", err.Error())
	}
	if err := a.embedder.Close(); err != nil {
		logger.Error("Embedder close error", "error", err.Error())
	}
	if err := a.generator.Close(); err != nil {
		logger.Error("Response generator close error", "error", err.Error())
	}
	if err := a.redisClient.Close(); err != nil {
		logger.Error("Redis close error", "error", err.Error())
	}
	if a.tracerShutdown != nil {
		a.tracerShutdown()
	}

	logger.Info("Application shutdown complete")
}
