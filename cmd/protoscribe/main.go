package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"protoscribe/internal/cache"
	"protoscribe/internal/handlers"
	"protoscribe/internal/httpserver"
	"protoscribe/internal/llm"
	"protoscribe/internal/metrics"
	"protoscribe/internal/pipeline"
	"protoscribe/internal/session"
	"protoscribe/internal/transcribe"
	"protoscribe/pkg/logging"
)

type Config struct {
	Port string `env:"PORT" envDefault:"8080"`

	CacheDir            string        `env:"CACHE_DIR" envDefault:"/tmp/protoscribe-cache"`
	CacheMemoryBudgetMB int64         `env:"CACHE_MEMORY_BUDGET_MB" envDefault:"512"`
	CacheDiskThreshold  int64         `env:"CACHE_DISK_THRESHOLD_BYTES" envDefault:"1048576"`
	CacheSweepInterval  time.Duration `env:"CACHE_SWEEP_INTERVAL" envDefault:"30m"`

	SessionBackend string `env:"SESSION_BACKEND" envDefault:"memory"`
	RedisAddr      string `env:"REDIS_ADDR" envDefault:"127.0.0.1:6379"`

	LLMBaseURL string `env:"LLM_BASE_URL" envDefault:"https://api.openai.com"`
	LLMAPIKey  string `env:"LLM_API_KEY"`
	LLMModel   string `env:"LLM_MODEL" envDefault:"gpt-4o"`

	TranscribeBaseURL string `env:"TRANSCRIBE_BASE_URL"`
	TranscribeAPIKey  string `env:"TRANSCRIBE_API_KEY"`
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("protoscribe exited with error: %v", err)
	}
}

func run() error {
	// ----- Logger -----
	logger := logging.DefaultLogger()
	defer logger.Sync()

	// ----- Metrics -----
	metrics.Register()

	// ----- Config -----
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	logger.Info("loaded config",
		zap.String("port", cfg.Port),
		zap.String("cache_dir", cfg.CacheDir),
		zap.Int64("cache_memory_budget_mb", cfg.CacheMemoryBudgetMB),
		zap.String("session_backend", cfg.SessionBackend),
		zap.String("llm_base_url", cfg.LLMBaseURL),
	)

	// ----- Redis client (only if needed) -----
	var redisClient *redis.Client
	if cfg.SessionBackend == "redis" {
		redisClient = redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})

		// Fail fast if Redis is misconfigured
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Error("redis connection failed", zap.Error(err))
			return err
		}
		logger.Info("redis connection established",
			zap.String("addr", cfg.RedisAddr),
		)
	}

	// ----- Result cache (memory + disk tiers) -----
	tiered, err := cache.NewTieredStore(cache.TieredConfig{
		Dir:           cfg.CacheDir,
		MemoryBudget:  cfg.CacheMemoryBudgetMB << 20,
		DiskThreshold: cfg.CacheDiskThreshold,
		SweepInterval: cfg.CacheSweepInterval,
	}, logger)
	if err != nil {
		return err
	}
	defer tiered.Close()
	tiered.StartSweeper(cfg.CacheSweepInterval)

	var store cache.Store = cache.NewLoggingStore(tiered)

	// ----- Session store -----
	sessions := session.NewStore(session.Config{
		Backend: cfg.SessionBackend,
		TTL:     session.DefaultTTL,
		Prefix:  "protoscribe",
	}, redisClient)
	if closer, ok := sessions.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	// ----- LLM client -----
	if cfg.LLMAPIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required")
	}

	llmClient, err := llm.NewClient(llm.Config{
		BaseURL: cfg.LLMBaseURL,
		APIKey:  cfg.LLMAPIKey,
	}, logger)
	if err != nil {
		return err
	}
	if closer, ok := llmClient.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	// ----- Transcription client -----
	if cfg.TranscribeBaseURL == "" {
		return fmt.Errorf("TRANSCRIBE_BASE_URL is required")
	}
	transcriber, err := transcribe.NewClient(transcribe.Config{
		BaseURL: cfg.TranscribeBaseURL,
		APIKey:  cfg.TranscribeAPIKey,
	}, logger)
	if err != nil {
		return err
	}

	// ----- Pipeline -----
	generator := pipeline.NewLLMGenerator(llmClient, cfg.LLMModel, logger)
	processor := pipeline.NewProcessor(
		store,
		transcriber,
		transcriber,
		generator,
		pipeline.NewTemplateLibrary(),
		logger,
	)

	// ----- Handlers -----
	protocolHandler := handlers.NewProtocolHandler(processor, sessions)
	cacheAdmin := handlers.NewCacheAdminHandler(store)
	mappings := handlers.NewMappingHandler(sessions)

	// ----- Router + middleware -----
	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, protocolHandler, cacheAdmin, mappings)

	// ----- HTTP server -----
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting protoscribe",
		zap.String("addr", srv.Addr),
		zap.String("session_backend", cfg.SessionBackend),
	)

	// Start server in background
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	// ----- Graceful shutdown -----
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}
