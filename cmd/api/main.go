package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/manual-qa/backend/internal/api/handlers"
	"github.com/manual-qa/backend/internal/cache/redis"
	"github.com/manual-qa/backend/internal/embedding"
	"github.com/manual-qa/backend/internal/eval"
	"github.com/manual-qa/backend/internal/ingestion"
	"github.com/manual-qa/backend/internal/metrics"
	"github.com/manual-qa/backend/internal/middleware/ratelimit"
	"github.com/manual-qa/backend/internal/middleware/security"
	"github.com/manual-qa/backend/internal/middleware/validation"
	"github.com/manual-qa/backend/internal/storage/sqlite"
	"github.com/manual-qa/backend/internal/vector/milvus"
	"github.com/manual-qa/backend/pkg/config"
	appLogger "github.com/manual-qa/backend/pkg/logger"
)

// vectorSearcher adapts the Milvus client to the orchestrator's searcher
// contract.
type vectorSearcher struct {
	client *milvus.Client
}

func (v *vectorSearcher) Search(ctx context.Context, embedding []float32, topK int, documentIDs []string, authorityLevel string) ([]eval.Neighbor, error) {
	hits, err := v.client.Search(ctx, embedding, topK, documentIDs, authorityLevel)
	if err != nil {
		return nil, err
	}

	neighbors := make([]eval.Neighbor, len(hits))
	for i, hit := range hits {
		neighbors[i] = eval.Neighbor{
			ParagraphID: hit.ParagraphID,
			Similarity:  hit.Similarity,
		}
	}
	return neighbors, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting manual QA retrieval evaluation server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	if err := sqliteClient.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	var cacheClient *redis.Client
	if cfg.Redis.Enabled {
		cacheClient, err = redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, continuing without cache", zap.Error(err))
			cacheClient = nil
		} else {
			defer cacheClient.Close()
		}
	}

	var embedder *embedding.Client
	if cfg.Embedding.APIKey != "" {
		var cache embedding.Cache
		if cacheClient != nil {
			cache = cacheClient
		}
		embedder = embedding.NewClient(cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.TimeoutSec, cache)
	} else {
		appLogger.Warn("Embedding API key not configured; vector retrieval disabled")
	}

	var milvusClient *milvus.Client
	if cfg.Milvus.Endpoint != "" && embedder != nil {
		milvusClient, err = milvus.NewClient(cfg.Milvus.Endpoint, cfg.Milvus.CollectionName, cfg.Milvus.VectorDim)
		if err != nil {
			appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
		}
		defer milvusClient.Close()

		if err := milvusClient.CreateCollection(context.Background()); err != nil {
			appLogger.Fatal("Failed to create collection", zap.Error(err))
		}
	}

	var searcher eval.VectorSearcher
	var orchestratorEmbedder eval.Embedder
	if milvusClient != nil {
		searcher = &vectorSearcher{client: milvusClient}
		orchestratorEmbedder = embedder
	}

	orchestrator := eval.NewOrchestrator(sqliteClient, orchestratorEmbedder, searcher, cfg.Eval)
	processor := ingestion.NewProcessor(sqliteClient, milvusClient, embedder)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		IsDevelopment: cfg.Logging.Level == "debug",
	}))

	limiter := ratelimit.NewRateLimiter(ratelimit.Config{
		MaxRequestsPerMinute: 120,
		Logger:               appLogger.GetLogger(),
	})

	suiteHandler := handlers.NewSuiteHandler(sqliteClient)
	runHandler := handlers.NewRunHandler(sqliteClient, orchestrator)
	documentHandler := handlers.NewDocumentHandler(sqliteClient, processor, cacheClient)
	wsHandler := handlers.NewWebSocketHandler(sqliteClient)

	api := app.Group("/api/v1")

	api.Post("/suites", limiter.Middleware(), suiteHandler.ImportSuite)
	api.Get("/suites", suiteHandler.ListSuites)
	api.Get("/suites/:id", suiteHandler.GetSuite)

	api.Post("/suites/:id/runs", limiter.Middleware(), validation.RunSpecMiddleware(), runHandler.StartRun)
	api.Get("/runs", runHandler.ListRuns)
	api.Get("/runs/:id", runHandler.GetRun)
	api.Get("/runs/:id/summary", runHandler.GetRunSummary)
	api.Get("/runs/:id/questions", runHandler.GetRunQuestions)
	api.Get("/runs/:id/questions/:qid/rows", runHandler.GetQuestionRows)

	api.Post("/documents", limiter.Middleware(), documentHandler.UploadDocument)
	api.Get("/documents", documentHandler.ListDocuments)
	api.Delete("/documents/:id", limiter.Middleware(), documentHandler.DeleteDocument)

	app.Get("/metrics", metrics.MetricsHandler())

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/runs", websocket.New(wsHandler.HandleConnection))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}
