// Package pipeline assigns description embeddings to routes.
//
// Routes are planned in input order. Empty descriptions are skipped,
// descriptions at or above the provider token ceiling are halved until they
// fit, and descriptions already in the embedding cache are served from it.
// The rest are packed into batches that flush once the running token total
// would reach a fraction (half by default) of the ceiling. After every
// successful batch the cache is saved, so an interrupted run only loses the
// batch in flight.
//
//	p, err := pipeline.New(counter, provider, cache, pipeline.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	stats, err := p.AddEmbeddings(ctx, routes)
//
// A failed provider call is logged and its routes keep a nil vector; the run
// continues. A failed cache save stops the run with ErrCacheSave.
package pipeline
