package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	"github.com/harrison/ergon/internal/config"
	"github.com/harrison/ergon/internal/executor"
	"github.com/harrison/ergon/internal/store"
)

// loadConfig reads the config named by --config, or .ergon/config.yaml under
// the project root, and resolves its relative paths against that root.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	root := config.FindProjectRoot(cwd)

	var cfg *config.Config
	configPath, _ := cmd.Flags().GetString("config")
	if configPath != "" {
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
	} else {
		cfg, err = config.LoadConfigFromDir(root)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	cfg.ResolvePaths(root)
	return cfg, nil
}

// newChatModel builds the configured chat model. It returns nil without an
// error when no API key is available, which disables LLM planning and
// LLM-backed agents.
func newChatModel(cfg config.LLMConfig) (llms.Model, error) {
	token := strings.TrimSpace(os.Getenv(cfg.APIKeyEnv))
	if token == "" {
		return nil, nil
	}

	switch cfg.Provider {
	case "", "openai":
		opts := []openai.Option{
			openai.WithToken(token),
			openai.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s client: %w", "openai", err)
		}
		return llm, nil
	default:
		return nil, fmt.Errorf("llm provider %q not supported", cfg.Provider)
	}
}

// newLimiter spaces model requests evenly; 0 requests per minute disables throttling.
func newLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1)
}

// openSinks opens the report store and archive named by cfg. A store that
// cannot be opened is reported and skipped so the flow still runs.
// The returned cleanup function is always non-nil.
func openSinks(cfg config.StoreConfig, log executor.Logger) (store.MultiSink, func()) {
	var sinks store.MultiSink
	cleanup := func() {}

	if !cfg.Enabled {
		return sinks, cleanup
	}

	if cfg.DBPath != "" {
		db, err := store.Open(cfg.DBPath)
		if err != nil {
			executor.GracefulWarn(log, "report store disabled: %v", err)
		} else {
			sinks = append(sinks, db)
			cleanup = func() { db.Close() }
		}
	}
	if cfg.ArchiveDir != "" {
		sinks = append(sinks, store.NewArchive(cfg.ArchiveDir))
	}
	return sinks, cleanup
}
