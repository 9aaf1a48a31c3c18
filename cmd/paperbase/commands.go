package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/paperbase/paperbase/internal/download"
	"github.com/paperbase/paperbase/internal/extract"
	"github.com/paperbase/paperbase/internal/instance"
	"github.com/paperbase/paperbase/internal/paperstore"
	"github.com/paperbase/paperbase/internal/process"
	"github.com/paperbase/paperbase/internal/vectorstore"
)

// --- download ---

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download recent papers for an instance",
	Long: `Download recent papers for an instance.

Lists recent items from each configured source, filters them through the
instance's category filters, skips already-ingested papers, and persists
the rest.

Examples:
  paperbase download --instance quant --days 7
  paperbase download --all --days 3`,
	RunE: func(cmd *cobra.Command, args []string) error {
		instanceName, _ := cmd.Flags().GetString("instance")
		days, _ := cmd.Flags().GetInt("days")
		all, _ := cmd.Flags().GetBool("all")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		names, err := resolveInstances(cfg.Profiles(), instanceName, all)
		if err != nil {
			return err
		}

		for _, name := range names {
			ic, err := cfg.Instance(name)
			if err != nil {
				return err
			}
			profile, err := cfg.Profile(name)
			if err != nil {
				return err
			}
			store, err := paperstore.New(profile)
			if err != nil {
				return err
			}

			d := download.New(profile, buildHandlers(cfg, ic), store, slog.Default())
			stats, err := d.DownloadRecent(cmd.Context(), days)
			if err != nil {
				return fmt.Errorf("instance %s: %w", name, err)
			}
			fmt.Printf("%s: downloaded %d, duplicates skipped %d, errors %d\n",
				name, stats.Downloaded, stats.DuplicatesSkipped, stats.Errors)
		}
		return nil
	},
}

// --- process ---

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Chunk, embed, and index pending papers",
	Long: `Chunk, embed, and index pending papers for an instance.

Examples:
  paperbase process --instance quant
  paperbase process --instance quant --papers arxiv_2401_12345 --reprocess
  paperbase process --instance quant --status-only`,
	RunE: func(cmd *cobra.Command, args []string) error {
		instanceName, _ := cmd.Flags().GetString("instance")
		all, _ := cmd.Flags().GetBool("all")
		papers, _ := cmd.Flags().GetStringSlice("papers")
		sources, _ := cmd.Flags().GetStringSlice("sources")
		reprocess, _ := cmd.Flags().GetBool("reprocess")
		statusOnly, _ := cmd.Flags().GetBool("status-only")
		batchSize, _ := cmd.Flags().GetInt("batch-size")
		maxConcurrent, _ := cmd.Flags().GetInt("max-concurrent")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		names, err := resolveInstances(cfg.Profiles(), instanceName, all)
		if err != nil {
			return err
		}

		sqlite, err := vectorstore.Open(cfg.VectorDir())
		if err != nil {
			return err
		}
		defer sqlite.Close()

		vectors, err := vectorstore.NewService(sqlite, cfg.Profiles(), slog.Default())
		if err != nil {
			return err
		}

		embedder := buildEmbedder(cfg)
		registry := extract.NewRegistry()

		for _, name := range names {
			profile, err := cfg.Profile(name)
			if err != nil {
				return err
			}
			store, err := paperstore.New(profile)
			if err != nil {
				return err
			}

			p := process.New(profile, store, registry, embedder, vectors, slog.Default())
			stats, err := p.ProcessPending(cmd.Context(), process.Options{
				PaperIDs:      papers,
				Sources:       sources,
				Reprocess:     reprocess,
				StatusOnly:    statusOnly,
				BatchSize:     batchSize,
				MaxConcurrent: maxConcurrent,
			})
			if err != nil {
				return fmt.Errorf("instance %s: %w", name, err)
			}

			fmt.Printf("%s: processed %d, failed %d, skipped %d, chunks %d, embeddings %d\n",
				name, stats.Processed, stats.Failed, stats.Skipped,
				stats.ChunksCreated, stats.EmbeddingsGenerated)
			for src, s := range stats.BySource {
				fmt.Printf("  %s: processed %d, failed %d\n", src, s.Processed, s.Failed)
			}
		}
		return nil
	},
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantic search over indexed papers",
	Long: `Semantic search over indexed papers.

Examples:
  paperbase search --instance quant "volatility forecasting"
  paperbase search --all-instances "gravitational lensing" --limit 5`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		instanceName, _ := cmd.Flags().GetString("instance")
		allInstances, _ := cmd.Flags().GetBool("all-instances")
		limit, _ := cmd.Flags().GetInt("limit")

		if instanceName == "" && !allInstances {
			return fmt.Errorf("one of --instance or --all-instances is required")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		sqlite, err := vectorstore.Open(cfg.VectorDir())
		if err != nil {
			return err
		}
		defer sqlite.Close()

		vectors, err := vectorstore.NewService(sqlite, cfg.Profiles(), slog.Default())
		if err != nil {
			return err
		}

		query := strings.Join(args, " ")
		vec, err := buildEmbedder(cfg).Embed(cmd.Context(), query)
		if err != nil {
			return fmt.Errorf("embedding query: %w", err)
		}

		var results []vectorstore.ScoredDocument
		if allInstances {
			results, err = vectors.SearchAllInstances(vec, limit)
		} else {
			results, err = vectors.Search(instanceName, vec, limit)
		}
		if err != nil {
			return err
		}

		if len(results) == 0 {
			fmt.Println("no results")
			return nil
		}
		for i, r := range results {
			fmt.Printf("%2d. [%.3f] %s (%s, %s)\n    %s\n",
				i+1, r.Score, r.Metadata.Title, r.Metadata.InstanceName,
				r.Metadata.PaperID, snippet(r.Text, 160))
		}
		return nil
	},
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report per-instance paper and index counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		sqlite, err := vectorstore.Open(cfg.VectorDir())
		if err != nil {
			return err
		}
		defer sqlite.Close()

		vectors, err := vectorstore.NewService(sqlite, cfg.Profiles(), slog.Default())
		if err != nil {
			return err
		}
		indexCounts, err := vectors.CollectionCounts()
		if err != nil {
			return err
		}

		for _, profile := range cfg.Profiles() {
			store, err := paperstore.New(profile)
			if err != nil {
				return err
			}
			counts, err := store.StatusCounts()
			if err != nil {
				return err
			}
			fmt.Printf("%s: new %d, processed %d, failed %d, indexed chunks %d\n",
				profile.Name,
				counts[paperstore.StatusNew],
				counts[paperstore.StatusProcessed],
				counts[paperstore.StatusFailed],
				indexCounts[profile.Name])
		}
		return nil
	},
}

func init() {
	downloadCmd.Flags().String("instance", "", "instance to download for")
	downloadCmd.Flags().Bool("all", false, "download for every configured instance")
	downloadCmd.Flags().Int("days", 7, "how many days back to list")

	processCmd.Flags().String("instance", "", "instance to process")
	processCmd.Flags().Bool("all", false, "process every configured instance")
	processCmd.Flags().StringSlice("papers", nil, "restrict to explicit paper ids")
	processCmd.Flags().StringSlice("sources", nil, "restrict to source types")
	processCmd.Flags().Bool("reprocess", false, "treat processed/failed papers as pending again")
	processCmd.Flags().Bool("status-only", false, "report counts without performing work")
	processCmd.Flags().Int("batch-size", 0, "override the profile batch size")
	processCmd.Flags().Int("max-concurrent", 0, "override the profile concurrency limit")

	searchCmd.Flags().String("instance", "", "instance to search")
	searchCmd.Flags().Bool("all-instances", false, "merged search across every instance")
	searchCmd.Flags().Int("limit", 10, "number of results")
}

func resolveInstances(profiles []instance.Profile, name string, all bool) ([]string, error) {
	if all {
		names := make([]string, 0, len(profiles))
		for _, p := range profiles {
			names = append(names, p.Name)
		}
		return names, nil
	}
	if name == "" {
		return nil, fmt.Errorf("one of --instance or --all is required")
	}
	return []string{name}, nil
}

func snippet(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "…"
}
