// Package main provides the CLI entry point for the square-brain
// conversational orchestrator.
//
// Start the server:
//
//	brain serve --config brain.yaml
//
// Configuration can also be provided via environment variables:
//
//   - BRAIN_CONFIG: path to the configuration file (default: brain.yaml)
//   - BRAIN_OPENAI_API_KEY / OPENAI_API_KEY: OpenAI API key
//   - BRAIN_MODEL: model override
//   - BRAIN_ADDR: listen address override
//   - BRAIN_DB_PATH: knowledge store path override
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/adamj-ops/square-brain-sub000/internal/agent"
	"github.com/adamj-ops/square-brain-sub000/internal/audit"
	"github.com/adamj-ops/square-brain-sub000/internal/config"
	"github.com/adamj-ops/square-brain-sub000/internal/observability"
	openaiprovider "github.com/adamj-ops/square-brain-sub000/internal/providers/openai"
	"github.com/adamj-ops/square-brain-sub000/internal/server"
	"github.com/adamj-ops/square-brain-sub000/internal/storage"
	"github.com/adamj-ops/square-brain-sub000/internal/tools"
	"github.com/adamj-ops/square-brain-sub000/internal/tools/brain"
)

// version is populated by ldflags during build.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "brain",
		Short:   "square-brain conversational orchestrator",
		Version: version,
	}
	root.AddCommand(newServeCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestrator HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = os.Getenv("BRAIN_CONFIG")
			}
			if configPath == "" {
				configPath = "brain.yaml"
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to configuration file")
	return cmd
}

func serve(cfg *config.Config) error {
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	store, err := storage.NewSQLiteItemStore(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open item store: %w", err)
	}
	defer store.Close()

	var sink audit.Sink = audit.NopSink{}
	if cfg.Audit.Enabled {
		sqliteSink, err := audit.NewSQLiteSink(cfg.Audit)
		if err != nil {
			return fmt.Errorf("failed to open audit sink: %w", err)
		}
		defer sqliteSink.Close()
		sink = sqliteSink
	}

	defs, err := brain.Definitions(store)
	if err != nil {
		return fmt.Errorf("failed to build tool definitions: %w", err)
	}
	registry, err := tools.BuildRegistry(defs)
	if err != nil {
		return fmt.Errorf("failed to build tool registry: %w", err)
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	executor := tools.NewExecutor(registry, sink, tools.ExecutorConfig{
		Sanitizer: tools.NewSanitizer(cfg.Limits),
	}, logger, metrics)

	provider, err := openaiprovider.New(openaiprovider.Config{
		APIKey:       cfg.LLM.APIKey,
		BaseURL:      cfg.LLM.BaseURL,
		DefaultModel: cfg.LLM.Model,
	})
	if err != nil {
		return err
	}

	orchestrator := agent.NewOrchestrator(provider, executor, &agent.Config{
		AgentName:     cfg.Agent.Name,
		Model:         cfg.LLM.Model,
		System:        cfg.Agent.System,
		MaxTokens:     cfg.Agent.MaxTokens,
		MaxIterations: cfg.Agent.MaxIterations,
		MaxToolCalls:  cfg.Agent.MaxToolCalls,
		Logger:        logger,
		Metrics:       metrics,
	})

	srv := server.New(server.Config{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, orchestrator, executor, logger, prometheus.DefaultGatherer)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
