package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/paperbase/paperbase/internal/config"
	"github.com/paperbase/paperbase/internal/embed"
	"github.com/paperbase/paperbase/internal/source"
)

var version = "dev"

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:     "paperbase",
	Short:   "Ingest academic papers into topic-scoped vector collections",
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "path to the config file")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")
	rootCmd.AddCommand(downloadCmd, processCmd, searchCmd, statusCmd)
}

func defaultConfigPath() string {
	if v := os.Getenv("PAPERBASE_CONFIG"); v != "" {
		return v
	}
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.config/paperbase/config.yaml"
	}
	return "config.yaml"
}

func main() {
	// Local development convenience; a missing .env is not an error.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	return config.Load(configPath)
}

// buildHandlers constructs the source handlers an instance is configured
// with. An instance without explicit sources defaults to the arXiv feed for
// its categories.
func buildHandlers(cfg config.Config, ic config.InstanceConfig) []source.Handler {
	timeout := time.Duration(cfg.Embedding.TimeoutSecs) * time.Second

	if len(ic.Sources) == 0 {
		return []source.Handler{source.NewArxivHandler(ic.Categories, timeout)}
	}

	handlers := make([]source.Handler, 0, len(ic.Sources))
	for _, sc := range ic.Sources {
		switch sc.Type {
		case "arxiv":
			handlers = append(handlers, source.NewArxivHandler(ic.Categories, timeout))
		case "journal":
			handlers = append(handlers, source.NewJournalHandler(sc.Name, sc.ListingURL, timeout))
		}
	}
	return handlers
}

func buildEmbedder(cfg config.Config) embed.Provider {
	return embed.NewClient(
		cfg.Embedding.BaseURL,
		cfg.Embedding.Model,
		time.Duration(cfg.Embedding.TimeoutSecs)*time.Second,
	)
}
