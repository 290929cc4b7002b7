// Package cmd implements the quarry command-line interface.
//
// Following the pattern used by kubectl, hugo, and other standard Go CLI
// tools, all application logic is contained in the cmd package, leaving
// main.go as a minimal entry point.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/quarrydev/quarry/internal/app"
	"github.com/quarrydev/quarry/internal/config"
	"github.com/quarrydev/quarry/internal/log"
)

var (
	flagJSON  bool
	flagDebug bool
)

var rootCmd = &cobra.Command{
	Use:   "quarry",
	Short: "Quarry is a retrieval-augmented knowledge engine",
	Long: `Quarry ingests documents into a local vector store, answers questions
grounded in that content, and can blend in answers from a remote corpus.

Common workflows:
  quarry ingest docs/guide.md        Index a document
  quarry query "how do I install?"   Ask a grounded question
  quarry docs list                   Show indexed documents
  quarry corpus upload kb notes.md   Upload to a remote corpus
  quarry hybrid "..." --corpus kb    Combine local and remote answers`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "log in JSON format")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
}

// Execute runs the root command. It is the entry point called from main.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return rootCmd.ExecuteContext(ctx)
}

// initLogger builds the process logger from the global flags.
// Logs go to stderr; stdout is reserved for command output.
func initLogger() *slog.Logger {
	level := slog.LevelInfo
	if flagDebug {
		level = slog.LevelDebug
	}
	logger := log.New(log.Config{Level: level, JSON: flagJSON})
	slog.SetDefault(logger)
	return logger
}

// loadConfig loads .env (if present) and the application configuration.
func loadConfig() (*config.Config, error) {
	// A missing .env file is fine; real deployments use the environment.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	return cfg, nil
}

// setupApp initializes the full application stack. The caller owns the
// returned App and must Close it.
func setupApp(ctx context.Context) (*app.App, error) {
	logger := initLogger()

	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing application: %w", err)
	}
	return a, nil
}
