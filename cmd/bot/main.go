package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/xaenox/sentiment-bot/internal/api"
	"github.com/xaenox/sentiment-bot/internal/bot"
	"github.com/xaenox/sentiment-bot/internal/classifier"
	"github.com/xaenox/sentiment-bot/internal/dedup"
	"github.com/xaenox/sentiment-bot/internal/ingest"
	"github.com/xaenox/sentiment-bot/internal/storage"
	"github.com/xaenox/sentiment-bot/pkg/config"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the optional config file")
	flag.Parse()

	// A missing .env is fine; the environment may already be populated
	_ = godotenv.Load()

	bootLogger, _ := zap.NewProduction()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		bootLogger.Fatal("Failed to load config", zap.Error(err), zap.String("path", *configPath))
	}

	logger := bootLogger
	if cfg.Log.Development {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	var store storage.Storage
	if cfg.Database.UseInMemory {
		logger.Info("Using in-memory storage")
		store = storage.NewMemoryStorage()
	} else {
		logger.Info("Using PostgreSQL storage")
		store, err = storage.NewPostgresStorage(ctx, storage.DatabaseConfig{
			URL:             cfg.Database.URL,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to initialize storage", zap.Error(err))
		}
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		logger.Fatal("Failed to ensure database schema", zap.Error(err))
	}

	// Initialize dedup guard
	var guard dedup.Guard
	switch cfg.Dedup.Backend {
	case "redis":
		redisGuard, err := dedup.NewRedis(cfg.Dedup.RedisAddr, cfg.Dedup.KeyPrefix, cfg.Dedup.TTL)
		if err != nil {
			logger.Fatal("Failed to initialize redis dedup", zap.Error(err))
		}
		defer redisGuard.Close()
		guard = redisGuard
	default:
		guard = dedup.NewMemory()
	}

	clf, err := classifier.NewCompletionClient(
		cfg.Classifier.APIKey,
		cfg.Classifier.Endpoint,
		logger,
		classifier.WithParams(classifier.Params{
			Model:            cfg.Classifier.Model,
			MaxTokens:        cfg.Classifier.MaxTokens,
			Temperature:      float32(cfg.Classifier.Temperature),
			TopP:             float32(cfg.Classifier.TopP),
			FrequencyPenalty: float32(cfg.Classifier.FrequencyPenalty),
			PresencePenalty:  float32(cfg.Classifier.PresencePenalty),
		}),
		classifier.WithMaxAttempts(cfg.Classifier.MaxAttempts),
		classifier.WithBaseBackoff(cfg.Classifier.BaseBackoff),
		classifier.WithAttemptTimeout(cfg.Classifier.RequestTimeout),
	)
	if err != nil {
		logger.Fatal("Failed to create classifier", zap.Error(err))
	}

	ingestor := ingest.New(guard, clf, store, logger)

	if cfg.API.Enabled {
		server := api.NewServer(store, logger)
		go func() {
			if err := server.Start(cfg.API.Addr); err != nil {
				logger.Error("API server error", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error("API server shutdown error", zap.Error(err))
			}
		}()
	}

	b, err := bot.New(cfg.Telegram.Token, ingestor, store, cfg.Telegram.PollTimeout, logger)
	if err != nil {
		logger.Fatal("Failed to create bot", zap.Error(err))
	}

	if err := b.Start(ctx); err != nil {
		logger.Error("Bot error", zap.Error(err))
	}
	logger.Info("Shutting down")
}
