// Package tokenizer measures the token cost of text.
//
// The embedding pipeline needs exact token counts to stay under the provider's
// per-request ceiling, so the production Counter is Tiktoken using cl100k_base,
// the encoding of the OpenAI embedding models:
//
//	counter, err := tokenizer.NewTiktoken(tokenizer.DefaultEncoding)
//	if err != nil {
//	    return err // configuration error, nothing can be measured
//	}
//	n := counter.Count("Climb the large flake...")
//	ids := counter.Encode("Climb the large flake...")
//
// Estimator is a length-based fallback used with the local provider.
package tokenizer
