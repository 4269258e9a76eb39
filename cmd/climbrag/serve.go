package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/climbrag/internal/embedder"
	"github.com/dshills/climbrag/internal/mcp"
	"github.com/dshills/climbrag/internal/searcher"
	"github.com/dshills/climbrag/internal/storage"
)

// serveCmd runs the MCP server on stdio
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve search_climbs and get_status over MCP stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		store, err := openStore()
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		var emb embedder.Embedder
		_, provider, err := newProvider()
		if err != nil {
			logger.Warn("query embedder unavailable, description search is keyword only", "error", err)
		} else {
			defer func() { _ = provider.Close() }()
			emb = provider
		}

		srch := searcher.NewSearcher(store, emb,
			searcher.WithDefaults(cfg.Search.DefaultLimit, cfg.Search.DefaultRadiusMiles),
			searcher.WithLogger(logger))

		logger.Info("climbrag starting", "version", version,
			"build_mode", storage.BuildMode,
			"driver", storage.DriverName,
			"db", cfg.DBPath())
		err = mcp.NewServer(store, srch, logger).Serve(ctx, os.Stdin, os.Stdout)
		logger.Info("server stopped")
		return err
	},
}
