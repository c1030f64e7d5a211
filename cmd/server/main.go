package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/p-n-ai/pai-mcq/internal/ai"
	"github.com/p-n-ai/pai-mcq/internal/generation"
	"github.com/p-n-ai/pai-mcq/internal/httpapi"
	"github.com/p-n-ai/pai-mcq/internal/jobs"
	"github.com/p-n-ai/pai-mcq/internal/persist"
	"github.com/p-n-ai/pai-mcq/internal/platform/cache"
	"github.com/p-n-ai/pai-mcq/internal/platform/config"
	"github.com/p-n-ai/pai-mcq/internal/platform/database"
	"github.com/p-n-ai/pai-mcq/internal/retry"
	"github.com/p-n-ai/pai-mcq/internal/rubric"
	"github.com/p-n-ai/pai-mcq/internal/validation"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(os.Stdout, cfg.Log))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	db, err := database.New(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			slog.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
	}

	checks := []httpapi.Check{{Name: "database", Fn: db.HealthCheck}}
	var regOpts []jobs.RegistryOption
	if cfg.Cache.Enabled() {
		c, err := cache.New(ctx, cfg.Cache.URL)
		if err != nil {
			slog.Error("failed to connect to cache", "error", err)
			os.Exit(1)
		}
		defer c.Close()
		regOpts = append(regOpts, jobs.WithMirror(jobs.NewRedisMirror(c, cfg.Cache.TTL)))
		checks = append(checks, httpapi.Check{Name: "cache", Fn: c.HealthCheck})
	}

	r, err := rubric.Load(cfg.RubricPath)
	if err != nil {
		slog.Error("failed to load rubric", "error", err)
		os.Exit(1)
	}

	client := &http.Client{Timeout: cfg.AI.Timeout}
	openai := ai.NewOpenAIProvider(cfg.AI.OpenAI.APIKey,
		ai.WithBaseURL(cfg.AI.OpenAI.BaseURL),
		ai.WithModel(cfg.AI.OpenAI.Model),
		ai.WithHTTPClient(client),
	)
	anthropic, err := ai.NewAnthropicProvider(cfg.AI.Anthropic.APIKey,
		ai.WithAnthropicBaseURL(cfg.AI.Anthropic.BaseURL),
		ai.WithAnthropicModel(cfg.AI.Anthropic.Model),
		ai.WithAnthropicHTTPClient(client),
	)
	if err != nil {
		slog.Error("failed to create anthropic provider", "error", err)
		os.Exit(1)
	}

	checkProviders(ctx, 10*time.Second,
		namedProvider{"openai", openai},
		namedProvider{"anthropic", anthropic},
	)

	orch, executor := newPipeline(cfg, openai, anthropic, r, persist.NewWriter(db.Pool), regOpts...)
	srv := newServer(cfg.Server, httpapi.New(orch, orch, checks...).Routes())

	go func() {
		slog.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	if err := executor.Shutdown(shutdownCtx); err != nil {
		slog.Error("jobs did not stop in time", "error", err)
	}
}

// newPipeline builds the job orchestrator. OpenAI generates and Anthropic
// reviews.
func newPipeline(cfg *config.Config, generator, reviewer ai.Provider, r rubric.Rubric, p jobs.Persister, regOpts ...jobs.RegistryOption) (*jobs.Orchestrator, *jobs.Executor) {
	gen := generation.New(generator, r,
		generation.WithModel(cfg.AI.OpenAI.Model),
		generation.WithPolicy(retry.Policy{
			MaxAttempts:  cfg.Jobs.GenerationMaxAttempts,
			InitialDelay: cfg.Jobs.GenerationInitialDelay,
			Name:         "generation",
		}),
	)
	val := validation.New(reviewer,
		validation.WithModel(cfg.AI.Anthropic.Model),
		validation.WithMaxAttempts(cfg.Jobs.ValidationMaxAttempts),
		validation.WithPolicy(retry.Policy{
			MaxAttempts:  cfg.Jobs.ValidationCallMaxAttempts,
			InitialDelay: cfg.Jobs.ValidationCallInitialDelay,
			Name:         "validation",
		}),
	)

	executor := jobs.NewExecutor(cfg.Jobs.MaxConcurrent)
	orch := jobs.NewOrchestrator(jobs.NewRegistry(regOpts...), executor, gen, val, p)
	return orch, executor
}

type namedProvider struct {
	name     string
	provider ai.Provider
}

// checkProviders pings each provider once and returns how many failed.
// Failures are logged and do not stop startup.
func checkProviders(ctx context.Context, timeout time.Duration, providers ...namedProvider) int {
	failed := 0
	for _, np := range providers {
		checkCtx, cancel := context.WithTimeout(ctx, timeout)
		err := np.provider.HealthCheck(checkCtx)
		cancel()
		if err != nil {
			failed++
			slog.Warn("ai provider unreachable", "provider", np.name, "error", err)
			continue
		}
		slog.Info("ai provider reachable", "provider", np.name)
	}
	return failed
}

// newServer has no write timeout so job streams can stay open.
func newServer(cfg config.ServerConfig, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.Level))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
