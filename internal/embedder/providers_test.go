package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// embeddingServer answers /v1/embeddings with one vector per input. Each vector
// is [index, dim] so tests can check ordering.
func embeddingServer(t *testing.T, dim int, reverse bool, captured *openAIRequestCapture) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req struct {
			Input json.RawMessage `json:"input"`
			Model string          `json:"model"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		var inputs []json.RawMessage
		if !assert.NoError(t, json.Unmarshal(req.Input, &inputs)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if captured != nil {
			captured.model = req.Model
			captured.raw = string(req.Input)
		}

		data := make([]map[string]interface{}, len(inputs))
		for i := range inputs {
			vec := make([]float32, dim)
			vec[0] = float32(i)
			data[i] = map[string]interface{}{"index": i, "embedding": vec}
		}
		if reverse {
			for i, j := 0, len(data)-1; i < j; i, j = i+1, j-1 {
				data[i], data[j] = data[j], data[i]
			}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"model": req.Model, "data": data})
	}))
}

type openAIRequestCapture struct {
	model string
	raw   string
}

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxRetries: attempts,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Multiplier: 2.0,
	}
}

func TestOpenAIProvider(t *testing.T) {
	t.Setenv(EnvOpenAIBaseURL, "")

	t.Run("provider metadata", func(t *testing.T) {
		provider, err := NewOpenAIProvider("test-key", NewCache(10))
		require.NoError(t, err)
		defer provider.Close()

		assert.Equal(t, ProviderOpenAI, provider.Provider())
		assert.Equal(t, OpenAIDimension, provider.Dimension())
		assert.Equal(t, DefaultOpenAIModel, provider.Model())
	})

	t.Run("missing api key", func(t *testing.T) {
		t.Setenv(EnvOpenAIAPIKey, "")

		_, err := NewOpenAIProvider("", nil)
		assert.ErrorIs(t, err, ErrNoProviderEnabled)
	})

	t.Run("embed tokens sends id arrays", func(t *testing.T) {
		capture := &openAIRequestCapture{}
		server := embeddingServer(t, 4, false, capture)
		defer server.Close()

		provider, err := NewOpenAIProvider("test-key", nil, WithBaseURL(server.URL), WithModel("m", 4))
		require.NoError(t, err)

		vectors, err := provider.EmbedTokens(context.Background(), [][]int{{1, 2}, {3}})
		require.NoError(t, err)
		require.Len(t, vectors, 2)
		assert.Equal(t, "[[1,2],[3]]", capture.raw)
		assert.Equal(t, "m", capture.model)
		assert.Equal(t, 4, provider.Dimension())
	})

	t.Run("results are reordered by index", func(t *testing.T) {
		server := embeddingServer(t, 2, true, nil)
		defer server.Close()

		provider, err := NewOpenAIProvider("test-key", nil, WithBaseURL(server.URL))
		require.NoError(t, err)

		vectors, err := provider.EmbedTokens(context.Background(), [][]int{{1}, {2}, {3}})
		require.NoError(t, err)
		for i, vec := range vectors {
			assert.Equal(t, float32(i), vec[0])
		}
	})

	t.Run("text batch is cached", func(t *testing.T) {
		var calls atomic.Int32
		inner := embeddingServer(t, 3, false, nil)
		defer inner.Close()
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			inner.Config.Handler.ServeHTTP(w, r)
		}))
		defer server.Close()

		provider, err := NewOpenAIProvider("test-key", NewCache(10), WithBaseURL(server.URL))
		require.NoError(t, err)

		ctx := context.Background()
		first, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "offwidth"})
		require.NoError(t, err)
		second, err := provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: "offwidth"})
		require.NoError(t, err)

		assert.Equal(t, first.Vector, second.Vector)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("count mismatch fails without retry", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			_, _ = fmt.Fprint(w, `{"data":[{"index":0,"embedding":[1]}]}`)
		}))
		defer server.Close()

		provider, err := NewOpenAIProvider("test-key", nil, WithBaseURL(server.URL), WithRetry(fastRetry(3)))
		require.NoError(t, err)

		_, err = provider.EmbedTokens(context.Background(), [][]int{{1}, {2}})
		assert.ErrorIs(t, err, ErrProviderFailed)
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("server errors are retried", func(t *testing.T) {
		var calls atomic.Int32
		inner := embeddingServer(t, 2, false, nil)
		defer inner.Close()
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			inner.Config.Handler.ServeHTTP(w, r)
		}))
		defer server.Close()

		provider, err := NewOpenAIProvider("test-key", nil, WithBaseURL(server.URL), WithRetry(fastRetry(3)))
		require.NoError(t, err)

		_, err = provider.EmbedTokens(context.Background(), [][]int{{1}})
		require.NoError(t, err)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadRequest)
			_, _ = fmt.Fprint(w, `{"error":"too many tokens"}`)
		}))
		defer server.Close()

		provider, err := NewOpenAIProvider("test-key", nil, WithBaseURL(server.URL), WithRetry(fastRetry(3)))
		require.NoError(t, err)

		_, err = provider.EmbedTokens(context.Background(), [][]int{{1}})
		require.ErrorIs(t, err, ErrProviderFailed)
		assert.Contains(t, err.Error(), "status 400")
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("validation errors", func(t *testing.T) {
		provider, err := NewOpenAIProvider("test-key", NewCache(10))
		require.NoError(t, err)
		ctx := context.Background()

		_, err = provider.GenerateEmbedding(ctx, EmbeddingRequest{Text: ""})
		assert.Error(t, err)

		_, err = provider.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{}})
		assert.Error(t, err)

		largeTexts := make([]string, MaxBatchSize+1)
		for i := range largeTexts {
			largeTexts[i] = "text"
		}
		_, err = provider.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: largeTexts})
		assert.ErrorIs(t, err, ErrBatchTooLarge)
	})
}

func TestRetryWithBackoff(t *testing.T) {
	t.Run("retries then succeeds", func(t *testing.T) {
		callCount := 0
		result, err := retryWithBackoff(context.Background(), fastRetry(3), func() (string, error) {
			callCount++
			if callCount < 2 {
				return "", fmt.Errorf("transient error")
			}
			return "success", nil
		})
		assert.NoError(t, err)
		assert.Equal(t, "success", result)
		assert.Equal(t, 2, callCount)
	})

	t.Run("exponential backoff timing", func(t *testing.T) {
		config := RetryConfig{
			MaxRetries: 3,
			BaseDelay:  10 * time.Millisecond,
			MaxDelay:   100 * time.Millisecond,
			Multiplier: 2.0,
		}

		callCount := 0
		start := time.Now()
		_, err := retryWithBackoff(context.Background(), config, func() (int, error) {
			callCount++
			return 0, fmt.Errorf("always fails")
		})

		assert.Error(t, err)
		assert.Equal(t, 3, callCount)
		// 10ms + 20ms
		assert.GreaterOrEqual(t, time.Since(start).Milliseconds(), int64(30))
	})

	t.Run("returns last error", func(t *testing.T) {
		callCount := 0
		_, err := retryWithBackoff(context.Background(), fastRetry(5), func() (bool, error) {
			callCount++
			return false, fmt.Errorf("error %d", callCount)
		})
		assert.Equal(t, 5, callCount)
		assert.EqualError(t, err, "error 5")
	})

	t.Run("single attempt disables retry", func(t *testing.T) {
		callCount := 0
		_, err := retryWithBackoff(context.Background(), fastRetry(1), func() (int, error) {
			callCount++
			return 0, errors.New("boom")
		})
		assert.Error(t, err)
		assert.Equal(t, 1, callCount)
	})

	t.Run("permanent errors stop immediately", func(t *testing.T) {
		callCount := 0
		_, err := retryWithBackoff(context.Background(), fastRetry(5), func() (int, error) {
			callCount++
			return 0, &APIError{StatusCode: http.StatusUnauthorized}
		})
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, 1, callCount)
	})

	t.Run("context cancellation during retry", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		config := RetryConfig{
			MaxRetries: 10,
			BaseDelay:  50 * time.Millisecond,
			MaxDelay:   100 * time.Millisecond,
			Multiplier: 2.0,
		}

		callCount := 0
		_, err := retryWithBackoff(ctx, config, func() (string, error) {
			callCount++
			if callCount == 2 {
				cancel()
			}
			return "", fmt.Errorf("error")
		})
		assert.Equal(t, context.Canceled, err)
		assert.LessOrEqual(t, callCount, 3)
	})
}

func TestAPIErrorRetryable(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusNotFound, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := &APIError{StatusCode: tt.status}
			assert.Equal(t, tt.want, err.Retryable())
			assert.Equal(t, tt.want, isRetryable(fmt.Errorf("wrapped: %w", err)))
		})
	}
}
