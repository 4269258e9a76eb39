// Package indexer runs an ingest: embed routes through the batch pipeline,
// then load them into the route index.
//
//	idx := indexer.New(store, pipe, logger)
//	stats, err := idx.Ingest(ctx, routes, &indexer.Config{Recreate: true})
//
// Routes are committed in transactions of Config.BatchSize. A route the index
// rejects is counted in Statistics.IndexFailed and the run continues. When
// every batch is committed the dimension, model and time of the run are
// written to the index metadata, which is what marks the index as existing
// for search.
//
// Only one Ingest runs at a time per Indexer; a concurrent call returns
// ErrIngestInProgress.
package indexer
