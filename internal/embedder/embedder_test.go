package embedder

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/climbrag/internal/tokenizer"
)

func TestComputeHash(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "empty string",
			text: "",
			want: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
		{
			name: "simple text",
			text: "hello world",
			want: "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeHash(tt.text))
		})
	}

	t.Run("consistent", func(t *testing.T) {
		assert.Equal(t, ComputeHash("Classic crack"), ComputeHash("Classic crack"))
		assert.NotEqual(t, ComputeHash("Classic crack"), ComputeHash("classic crack"))
	})
}

func TestValidateRequest(t *testing.T) {
	assert.NoError(t, ValidateRequest(EmbeddingRequest{Text: "finger crack"}))
	assert.ErrorIs(t, ValidateRequest(EmbeddingRequest{}), ErrEmptyText)
	assert.ErrorIs(t, ValidateRequest(EmbeddingRequest{Text: " \n\t"}), ErrEmptyText)
}

func TestValidateBatchRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     BatchEmbeddingRequest
		wantErr bool
	}{
		{name: "valid batch", req: BatchEmbeddingRequest{Texts: []string{"a", "b", "c"}}},
		{name: "empty batch", req: BatchEmbeddingRequest{Texts: []string{}}, wantErr: true},
		{name: "contains empty text", req: BatchEmbeddingRequest{Texts: []string{"a", "", "c"}}, wantErr: true},
		{name: "contains blank text", req: BatchEmbeddingRequest{Texts: []string{"a", "  "}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBatchRequest(tt.req)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateTokenInputs(t *testing.T) {
	tests := []struct {
		name    string
		inputs  [][]int
		wantErr error
	}{
		{name: "valid", inputs: [][]int{{1, 2}, {3}}},
		{name: "empty batch", inputs: nil, wantErr: ErrInvalidInput},
		{name: "empty input", inputs: [][]int{{1}, {}}, wantErr: ErrInvalidInput},
		{name: "too many inputs", inputs: make([][]int, MaxBatchSize+1), wantErr: ErrBatchTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTokenInputs(tt.inputs)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCache(t *testing.T) {
	t.Run("basic operations", func(t *testing.T) {
		cache := NewCache(3)

		_, ok := cache.Get("nonexistent")
		assert.False(t, ok)

		cache.Add("hash1", &Embedding{
			Vector:    []float32{1.0, 2.0, 3.0},
			Dimension: 3,
			Provider:  ProviderLocal,
			Model:     "test",
			Hash:      "hash1",
		})

		got, ok := cache.Get("hash1")
		require.True(t, ok)
		assert.Equal(t, "hash1", got.Hash)
		assert.Equal(t, 1, cache.Len())
	})

	t.Run("get returns a copy", func(t *testing.T) {
		cache := NewCache(3)
		cache.Add("h", &Embedding{Vector: []float32{1, 2}})

		got, _ := cache.Get("h")
		got.Vector[0] = 99

		again, _ := cache.Get("h")
		assert.Equal(t, float32(1), again.Vector[0])
	})

	t.Run("lru eviction", func(t *testing.T) {
		cache := NewCache(2)
		cache.Add("hash1", &Embedding{Hash: "hash1"})
		cache.Add("hash2", &Embedding{Hash: "hash2"})
		cache.Get("hash1")
		cache.Add("hash3", &Embedding{Hash: "hash3"})

		assert.Equal(t, 2, cache.Len())
		_, ok := cache.Get("hash2")
		assert.False(t, ok, "least recently used entry should be evicted")
		_, ok = cache.Get("hash1")
		assert.True(t, ok)
	})

	t.Run("add stores a copy", func(t *testing.T) {
		cache := NewCache(3)
		emb := &Embedding{Vector: []float32{1, 2}}
		cache.Add("h", emb)
		emb.Vector[0] = 99

		got, _ := cache.Get("h")
		assert.Equal(t, float32(1), got.Vector[0])
	})

	t.Run("purge", func(t *testing.T) {
		cache := NewCache(10)
		cache.Add("hash1", &Embedding{Hash: "hash1"})
		cache.Purge()

		assert.Equal(t, 0, cache.Len())
	})

	t.Run("concurrent access", func(t *testing.T) {
		cache := NewCache(100)

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					hash := ComputeHash(string(rune(id*100 + j)))
					cache.Add(hash, &Embedding{Vector: []float32{float32(id), float32(j)}, Hash: hash})
					cache.Get(hash)
				}
			}(i)
		}
		wg.Wait()

		assert.Greater(t, cache.Len(), 0)
	})
}

func TestLocalProvider(t *testing.T) {
	provider := mustNewLocalProvider(t)
	ctx := context.Background()

	t.Run("provider metadata", func(t *testing.T) {
		assert.Equal(t, ProviderLocal, provider.Provider())
		assert.Equal(t, LocalDimension, provider.Dimension())
		assert.Equal(t, DefaultLocalModel, provider.Model())
	})

	t.Run("single embedding is unit length", func(t *testing.T) {
		emb, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "Steep jugs to a slabby finish"})
		require.NoError(t, err)
		require.Len(t, emb.Vector, LocalDimension)
		assert.Equal(t, ProviderLocal, emb.Provider)
		assert.InDelta(t, 1.0, norm(emb.Vector), 1e-5)
	})

	t.Run("batch embedding", func(t *testing.T) {
		resp, err := provider.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{"one", "two", "three"}})
		require.NoError(t, err)
		assert.Len(t, resp.Embeddings, 3)
	})

	t.Run("text and token inputs agree", func(t *testing.T) {
		text := "Hand crack through a roof"
		emb, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: text})
		require.NoError(t, err)

		vectors, err := provider.EmbedTokens(ctx, [][]int{tokenizer.Estimator{}.Encode(text)})
		require.NoError(t, err)
		require.Len(t, vectors, 1)
		assert.Equal(t, emb.Vector, vectors[0])
	})

	t.Run("deterministic", func(t *testing.T) {
		a, err := provider.EmbedTokens(ctx, [][]int{{1, 2, 3}})
		require.NoError(t, err)
		b, err := provider.EmbedTokens(ctx, [][]int{{1, 2, 3}})
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("similar token sets score higher", func(t *testing.T) {
		vectors, err := provider.EmbedTokens(ctx, [][]int{{1, 2, 3, 4}, {1, 2, 3, 5}, {90, 91, 92, 93}})
		require.NoError(t, err)
		assert.Greater(t, dot(vectors[0], vectors[1]), dot(vectors[0], vectors[2]))
	})

	t.Run("validation errors", func(t *testing.T) {
		_, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: ""})
		assert.Error(t, err)

		_, err = provider.EmbedTokens(ctx, [][]int{})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("context cancellation", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := provider.EmbedTokens(cancelled, [][]int{{1}})
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("custom dimension", func(t *testing.T) {
		p, err := NewLocalProvider(nil, 16, nil)
		require.NoError(t, err)
		vectors, err := p.EmbedTokens(ctx, [][]int{{7}})
		require.NoError(t, err)
		assert.Len(t, vectors[0], 16)
	})
}

func TestNormalizeVector(t *testing.T) {
	tests := []struct {
		name     string
		input    []float32
		wantNorm float64
	}{
		{name: "unit vector", input: []float32{1.0, 0.0, 0.0}, wantNorm: 1.0},
		{name: "needs normalization", input: []float32{3.0, 4.0}, wantNorm: 1.0},
		{name: "zero vector", input: []float32{0.0, 0.0, 0.0}, wantNorm: 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.wantNorm, norm(NormalizeVector(tt.input)), 1e-5)
		})
	}
}

func mustNewLocalProvider(t *testing.T) *LocalProvider {
	t.Helper()
	provider, err := NewLocalProvider(tokenizer.Estimator{}, LocalDimension, NewCache(10))
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Close() })
	return provider
}

func norm(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
