// Command personalpipeline is the process entrypoint: a small Cobra CLI
// exposing start/healthcheck/version over the orchestrator, grounded on
// the teacher's cmd/configvalidator Cobra root-command structure and
// cmd/server's construct-wire-run/signal-driven shutdown ordering.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/personalpipeline/personal-pipeline/internal/config"
	"github.com/personalpipeline/personal-pipeline/internal/feedbackstore"
	"github.com/personalpipeline/personal-pipeline/internal/orchestrator"
)

// Exit codes per the process's external-interface contract: 0 success,
// 1 configuration error, 2 runtime error, 3 unhealthy after deadline.
const (
	exitSuccess       = 0
	exitConfigError   = 1
	exitRuntimeError  = 2
	exitUnhealthy     = 3
)

var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"

	configPath      string
	healthcheckWait time.Duration
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitRuntimeError)
	}
}

var rootCmd = &cobra.Command{
	Use:   "personalpipeline",
	Short: "Operational knowledge retrieval middleware for incident response automation",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml")
	rootCmd.AddCommand(startCmd, healthcheckCmd, versionCmd)

	healthcheckCmd.Flags().DurationVar(&healthcheckWait, "wait", 5*time.Second, "how long to wait for a healthy status")
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the retrieval service until terminated",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStart(cmd.Context())
	},
}

var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Build the service in-process and report health once, then exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHealthcheck(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("personalpipeline %s (commit %s, built %s)\n", version, gitCommit, buildDate)
		return nil
	},
}

func runStart(ctx context.Context) error {
	cfg, logger, err := loadConfigAndLogger()
	if err != nil {
		os.Exit(exitConfigError)
	}

	feedback, err := openFeedbackStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open feedback store", "error", err)
		os.Exit(exitRuntimeError)
	}

	orch, err := orchestrator.New(ctx, cfg, logger, feedback)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(exitRuntimeError)
	}
	defer func() {
		if err := feedback.Close(); err != nil {
			logger.Warn("error closing feedback store", "error", err)
		}
	}()

	logger.Info("personal pipeline started", "host", cfg.Server.Host, "port", cfg.Server.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received, draining in-flight work")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), orchestrator.ShutdownGracePeriod+5*time.Second)
	defer cancel()
	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Error("error during shutdown", "error", err)
		os.Exit(exitRuntimeError)
	}
	logger.Info("shutdown complete")
	return nil
}

func runHealthcheck(ctx context.Context) error {
	cfg, logger, err := loadConfigAndLogger()
	if err != nil {
		os.Exit(exitConfigError)
	}

	feedback, err := openFeedbackStore(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "runtime error:", err)
		os.Exit(exitRuntimeError)
	}

	orch, err := orchestrator.New(ctx, cfg, logger, feedback)
	if err != nil {
		fmt.Fprintln(os.Stderr, "runtime error:", err)
		os.Exit(exitRuntimeError)
	}
	defer func() {
		_ = orch.Shutdown(context.Background())
		_ = feedback.Close()
	}()

	if err := orch.WaitHealthy(ctx, healthcheckWait); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUnhealthy)
	}
	fmt.Println("healthy")
	return nil
}

func openFeedbackStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*feedbackstore.Store, error) {
	dialect := feedbackstore.DialectSQLite
	if cfg.Feedback.Dialect == "postgres" {
		dialect = feedbackstore.DialectPostgres
	}
	return feedbackstore.Open(ctx, dialect, cfg.Feedback.DSN, logger)
}

func loadConfigAndLogger() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
		logger.Error("invalid configuration", "error", err)
		return nil, nil, err
	}

	level := slog.LevelInfo
	switch cfg.Server.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}
