// Package embedcache persists description embeddings across pipeline runs.
//
// Keys are the exact description text that was embedded (after any
// truncation), values are the vectors. The whole mapping is stored as one JSON
// object and rewritten after every committed batch:
//
//	cache, err := embedcache.Open(embedcache.DefaultPath(dataDir))
//	if err != nil {
//	    return err // file exists but is corrupt
//	}
//	if vec, ok := cache.Get(text); ok {
//	    route.DescriptionVector = vec
//	}
//	_ = cache.Put(text, vec)
//	if err := cache.Save(); err != nil {
//	    return err
//	}
//
// Losing the file only costs recomputation. Writes go through a temp file and
// rename, so a crash mid-save never leaves a truncated cache behind.
package embedcache
