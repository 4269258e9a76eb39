// Package embedder turns route descriptions and search queries into vectors.
//
// Two providers are available. OpenAI calls the embeddings API and accepts
// pre-tokenized input, so the batch pipeline can hand it exactly the token ids
// it counted. Local hashes token ids into a fixed-size vector and needs no
// network, which makes it the default for development and tests.
//
// # Provider Selection
//
//  1. If CLIMBRAG_EMBEDDING_PROVIDER is set, use that provider
//  2. Else if OPENAI_API_KEY is set, use OpenAI
//  3. Else fall back to the local provider
//
// # Interfaces
//
// Embedder covers query-time text embedding with an in-memory LRU cache keyed
// by content hash. TokenEmbedder covers batch embedding of token id arrays.
// Provider is both.
//
//	p, err := embedder.NewFromEnv(counter)
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//
//	vectors, err := p.EmbedTokens(ctx, [][]int{counter.Encode(text)})
//
// # Error Handling
//
// Transient failures (HTTP 429, 5xx, transport errors) are retried with
// exponential backoff. Every other failure is wrapped in ErrProviderFailed:
//
//	if errors.Is(err, embedder.ErrProviderFailed) {
//	    // API unavailable or rejected the request
//	}
package embedder
