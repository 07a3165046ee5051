package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"scout.app/research/common/id"
	"scout.app/research/common/llm"
	"scout.app/research/common/logger"
	"scout.app/research/common/otel"
	"scout.app/research/core/config"
	"scout.app/research/core/db"
	"scout.app/research/internal/firecrawl"
	"scout.app/research/internal/http/handler"
	"scout.app/research/internal/http/middleware"
	httprouter "scout.app/research/internal/http/router"
	"scout.app/research/internal/queue"
	"scout.app/research/internal/research"
	"scout.app/research/internal/store"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		// Can't use slog yet — OTel failed before logger setup
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "scout starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	redisOpts, err := redis.ParseURL(cfg.Pipeline.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Pipeline.RedisStream)

	jobProducer := queue.NewRedisProducer(redisClient, cfg.Pipeline.RedisStream, nil)
	defer jobProducer.Close()

	engine, err := buildEngine(cfg, "")
	if err != nil {
		slog.ErrorContext(ctx, "failed to build research engine", "error", err)
		os.Exit(1)
	}
	engineFor := func(model string) (*research.Engine, error) {
		return buildEngine(cfg, model)
	}

	reports := store.NewReportStore(database)
	researchHandler := handler.NewResearchHandler(engine, engineFor, jobProducer, reports, cfg.Research, cfg.Reasoning.Model)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, researchHandler)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// The SSE stream stays open for the length of a research run.
		WriteTimeout: 6 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

// buildEngine constructs an engine for the given reasoning model; an empty
// model selects the configured default.
func buildEngine(cfg config.Config, model string) (*research.Engine, error) {
	if model == "" {
		model = cfg.Reasoning.Model
	}

	reasoningClient, err := llm.New(llm.Config{
		Provider:             cfg.Reasoning.Provider,
		APIKey:               cfg.Reasoning.APIKey,
		BaseURL:              cfg.Reasoning.BaseURL,
		Model:                model,
		BypassJSONValidation: cfg.Reasoning.BypassJSONValidation,
	})
	if err != nil {
		return nil, fmt.Errorf("creating reasoning client: %w", err)
	}

	crawler := firecrawl.New(firecrawl.Config{
		APIKey:  cfg.Firecrawl.APIKey,
		BaseURL: cfg.Firecrawl.BaseURL,
	})

	return research.NewEngine(research.Clients{
		Search:      crawler,
		Extract:     crawler,
		Planner:     research.NewPlanner(reasoningClient),
		Synthesizer: research.NewSynthesizer(reasoningClient, cfg.Reasoning.MaxTokens),
	}, research.Options{
		MaxFailedAttempts: cfg.Research.MaxFailedAttempts,
	}), nil
}

func setupRouter(cfg config.Config, researchHandler *handler.ResearchHandler) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httprouter.SetupRoutes(router, researchHandler)

	return router
}

const banner = `
███████╗ ██████╗ ██████╗ ██╗   ██╗████████╗
██╔════╝██╔════╝██╔═══██╗██║   ██║╚══██╔══╝
███████╗██║     ██║   ██║██║   ██║   ██║
╚════██║██║     ██║   ██║██║   ██║   ██║
███████║╚██████╗╚██████╔╝╚██████╔╝   ██║
╚══════╝ ╚═════╝ ╚═════╝  ╚═════╝    ╚═╝
`
