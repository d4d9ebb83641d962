package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spigell/assessment-recommender/internal/catalog"
	"github.com/spigell/assessment-recommender/internal/vectorindex"
	"go.uber.org/zap"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the vector index of the catalog",
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Embed the catalog and replace the indexed collection",
	Run: func(_ *cobra.Command, _ []string) {
		rebuildIndex()
	},
}

var precomputeCmd = &cobra.Command{
	Use:   "precompute",
	Short: "Embed the catalog into a snapshot file reused by later rebuilds",
	Run: func(cmd *cobra.Command, _ []string) {
		precompute(cmd)
	},
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(rebuildCmd, precomputeCmd)

	precomputeCmd.Flags().StringP("output", "o", "", "snapshot path (default is index.snapshot from config)")
}

func rebuildIndex() {
	config, log := setup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := withIndexing(ctx, config, log, func(index *vectorindex.Index, docs []catalog.Document) error {
		start := time.Now()
		count, err := index.Rebuild(ctx, docs)
		if err != nil {
			return fmt.Errorf("rebuilding the vector index: %w", err)
		}
		log.Info("vector index rebuilt", zap.Int("documents", count), zap.Duration("took", time.Since(start)))
		return nil
	})
	if err != nil {
		stop()
		log.Fatal("index rebuild failed", zap.Error(err))
	}
}

func precompute(cmd *cobra.Command) {
	config, log := setup()

	output, _ := cmd.Flags().GetString("output")
	if output == "" {
		output = config.Index.SnapshotPath
	}
	if output == "" {
		log.Fatal("snapshot path is required", zap.String("hint", "pass --output or set index.snapshot"))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Precompute never writes to the store, an in-memory one is enough.
	config.Index.Backend = backendMemory
	err := withIndexing(ctx, config, log, func(index *vectorindex.Index, docs []catalog.Document) error {
		snapshot, err := index.Precompute(ctx, docs)
		if err != nil {
			return fmt.Errorf("computing embeddings: %w", err)
		}
		if err := vectorindex.WriteSnapshot(output, snapshot); err != nil {
			return fmt.Errorf("writing the snapshot: %w", err)
		}
		log.Info("embeddings snapshot written", zap.String("path", output), zap.Int("documents", len(snapshot.IDs)))
		return nil
	})
	if err != nil {
		stop()
		log.Fatal("precompute failed", zap.Error(err))
	}
}

// withIndexing loads the catalog, opens the index and runs fn. The store is
// closed before withIndexing returns, whatever fn did.
func withIndexing(ctx context.Context, config *Config, log *zap.Logger, fn func(*vectorindex.Index, []catalog.Document) error) error {
	records, err := catalog.Load(config.Catalog)
	if err != nil {
		return fmt.Errorf("loading the catalog: %w", err)
	}
	log.Info("catalog loaded", zap.Int("records", len(records)))

	client, err := newGeminiClient(ctx, config)
	if err != nil {
		return fmt.Errorf("creating the gemini client: %w", err)
	}

	index, store, err := openIndex(client, config, log)
	if err != nil {
		return fmt.Errorf("opening the vector index: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("closing vector store", zap.Error(err))
		}
	}()

	return fn(index, catalog.Documents(records))
}
