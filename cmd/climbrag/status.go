package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// statusCmd prints index statistics
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show route index statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		store, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		exists, err := store.Exists(ctx)
		if err != nil {
			return err
		}
		if !exists {
			fmt.Printf("Index %s not built. Run `climbrag ingest` to load the dataset.\n", cfg.DBPath())
			return nil
		}

		status, err := store.GetStatus(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Index:        %s (%.2f MB)\n", cfg.DBPath(), status.IndexSizeMB)
		fmt.Printf("Routes:       %s\n", humanize.Comma(int64(status.RoutesCount)))
		fmt.Printf("Embeddings:   %s\n", humanize.Comma(int64(status.EmbeddingsCount)))
		fmt.Printf("Model:        %s (%d dims)\n", status.Model, status.Dimension)
		fmt.Printf("Last indexed: %s (%s)\n", status.LastIndexedAt.Local().Format("2006-01-02 15:04:05"), humanize.Time(status.LastIndexedAt))
		fmt.Printf("Health:       database=%v embeddings=%v fts=%v\n",
			status.Health.DatabaseAccessible,
			status.Health.EmbeddingsAvailable,
			status.Health.FTSIndexBuilt)
		return nil
	},
}
