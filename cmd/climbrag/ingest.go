package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dshills/climbrag/internal/dataset"
	"github.com/dshills/climbrag/internal/embedcache"
	"github.com/dshills/climbrag/internal/indexer"
	"github.com/dshills/climbrag/internal/pipeline"
)

var (
	ingestRecreate bool
	ingestDataset  string
)

// ingestCmd loads the dataset into the route index
var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load the route dataset, embed descriptions and build the index",
	Long: `Fetch the dataset (downloaded once into the data directory), embed route
descriptions through the persistent embedding cache, and write routes and
vectors to the index. Interrupting a run keeps every embedding already
checkpointed to the cache file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		recreate := cfg.Index.ShouldRecreate()
		if cmd.Flags().Changed("recreate") {
			recreate = ingestRecreate
		}
		return runIngest(recreate)
	},
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestRecreate, "recreate", true, "clear the index before loading")
	ingestCmd.Flags().StringVar(&ingestDataset, "dataset", "", "dataset file (.jsonl or .zip), overrides data.dataset_file")
}

func runIngest(recreate bool) error {
	ctx, cancel := signalContext()
	defer cancel()

	dest := cfg.DatasetPath()
	if ingestDataset != "" {
		dest = ingestDataset
	}
	path, err := dataset.NewFetcher(nil, logger).Fetch(ctx, cfg.Data.DatasetURL, dest)
	if err != nil {
		return err
	}

	records, err := dataset.Load(path)
	if err != nil {
		return err
	}
	routes := dataset.Transform(records, logger)
	logger.Info("dataset loaded", "path", path, "records", len(records), "routes", len(routes))

	counter, provider, err := newProvider()
	if err != nil {
		return err
	}
	defer func() { _ = provider.Close() }()

	cache, err := embedcache.Open(cfg.CachePath())
	if err != nil {
		return err
	}
	logger.Info("embedding cache loaded", "path", cache.Path(), "entries", cache.Len(), "dimension", cache.Dimension())

	pipe, err := pipeline.New(counter, provider, cache,
		pipeline.WithConfig(cfg.PipelineConfig()),
		pipeline.WithLogger(logger))
	if err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	stats, err := indexer.New(store, pipe, logger).Ingest(ctx, routes, &indexer.Config{
		BatchSize: cfg.Index.BatchSize,
		Recreate:  recreate,
	})
	if stats != nil {
		printIngestSummary(stats)
	}
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}
	return nil
}

func printIngestSummary(stats *indexer.Statistics) {
	if e := stats.Embedding; e != nil {
		fmt.Printf("Embedding: %s routes, %s embedded (%s from cache), %s skipped, %s truncated, %s failed\n",
			humanize.Comma(int64(e.Total)),
			humanize.Comma(int64(e.Embedded)),
			humanize.Comma(int64(e.CacheHits)),
			humanize.Comma(int64(e.Skipped)),
			humanize.Comma(int64(e.Truncated)),
			humanize.Comma(int64(e.Failed)))
		fmt.Printf("Batches:   %d sent, %d failed, %d provider calls\n", e.Batches, e.FailedBatches, e.ProviderCalls)
	}
	fmt.Printf("Index:     %s routes, %s vectors, %d failed\n",
		humanize.Comma(int64(stats.Indexed)),
		humanize.Comma(int64(stats.Vectors)),
		stats.IndexFailed)
	for i, msg := range stats.ErrorMessages {
		if i == 5 {
			fmt.Printf("           ... and %d more\n", len(stats.ErrorMessages)-5)
			break
		}
		fmt.Printf("           %s\n", msg)
	}
	fmt.Printf("Duration:  %s\n", stats.Duration.Round(time.Millisecond))
}
