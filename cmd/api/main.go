package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/lexpredict/backend/internal/artifacts"
	rediscache "github.com/lexpredict/backend/internal/cache/redis"
	"github.com/lexpredict/backend/internal/embedding"
	"github.com/lexpredict/backend/internal/llm"
	"github.com/lexpredict/backend/internal/metrics"
	"github.com/lexpredict/backend/internal/ragindex"
	"github.com/lexpredict/backend/internal/storage/sqlite"
	"github.com/lexpredict/backend/pkg/config"
	appLogger "github.com/lexpredict/backend/pkg/logger"
)

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

	appLogger.Info("Starting LexPredict API Server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	var cache *rediscache.Client
	if cfg.Redis.Enabled {
		cache, err = rediscache.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, embedding cache disabled", zap.Error(err))
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	encoder := embedding.NewService(cfg.LLM, cache)

	var generator llm.Generator
	if cfg.LLM.APIKey != "" {
		generator = llm.NewClient(
			cfg.LLM.APIKey,
			cfg.LLM.Model,
			cfg.LLM.Temperature,
			cfg.LLM.MaxTokens,
			cfg.LLM.TimeoutSec,
		)
	} else {
		appLogger.Warn("No LLM API key configured, generative features use deterministic fallbacks")
	}

	store := artifacts.NewStore(cfg.Artifacts, sqliteClient)
	if err := store.EnsureLoaded(); err != nil {
		appLogger.Fatal("Failed to load model artifacts", zap.Error(err))
	}
	corpus, _ := store.Corpus()
	metrics.CorpusSize.Set(float64(len(corpus)))

	docIndex := ragindex.NewIndex(cfg.RAG, encoder, generator)

	buildCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	if err := docIndex.EnsureBuilt(buildCtx); err != nil {
		appLogger.Warn("Documentation index not built at startup, will retry on first use", zap.Error(err))
	}
	cancel()

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	app.Get("/ready", func(c *fiber.Ctx) error {
		if err := store.EnsureLoaded(); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "not ready",
				"error":  err.Error(),
			})
		}
		return c.JSON(fiber.Map{
			"status":       "ready",
			"corpus_cases": len(corpus),
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

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
