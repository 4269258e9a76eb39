package embedder

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dshills/climbrag/internal/tokenizer"
)

// Provider configuration
const (
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"

	// Default models
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultLocalModel  = "local-hashing"

	// DefaultOpenAIBaseURL is the OpenAI API root
	DefaultOpenAIBaseURL = "https://api.openai.com"

	// Dimensions
	OpenAIDimension = 1536
	LocalDimension  = 384

	// MaxBatchSize is the provider limit on inputs per request
	MaxBatchSize = 2048

	// DefaultTimeout bounds a single HTTP call
	DefaultTimeout = 60 * time.Second

	// Retry configuration
	MaxRetries        = 3
	InitialBackoffMs  = 500
	MaxBackoffMs      = 10000
	BackoffMultiplier = 2.0
)

// Environment variables read by providers
const (
	EnvProvider      = "CLIMBRAG_EMBEDDING_PROVIDER"
	EnvOpenAIAPIKey  = "OPENAI_API_KEY"
	EnvOpenAIBaseURL = "OPENAI_BASE_URL"
)

// OpenAIProvider implements Provider using the OpenAI embeddings API
type OpenAIProvider struct {
	apiKey     string
	model      string
	baseURL    string
	dimension  int
	httpClient *http.Client
	cache      *Cache
	retry      RetryConfig
}

// OpenAIOption customizes an OpenAIProvider
type OpenAIOption func(*OpenAIProvider)

// WithBaseURL points the provider at a different API root (proxies, tests)
func WithBaseURL(baseURL string) OpenAIOption {
	return func(o *OpenAIProvider) {
		if baseURL != "" {
			o.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithModel overrides the embedding model
func WithModel(model string, dimension int) OpenAIOption {
	return func(o *OpenAIProvider) {
		if model != "" {
			o.model = model
		}
		if dimension > 0 {
			o.dimension = dimension
		}
	}
}

// WithTimeout sets the per-call HTTP timeout
func WithTimeout(timeout time.Duration) OpenAIOption {
	return func(o *OpenAIProvider) {
		if timeout > 0 {
			o.httpClient.Timeout = timeout
		}
	}
}

// WithRetry replaces the retry policy. MaxRetries of 1 disables retries.
func WithRetry(config RetryConfig) OpenAIOption {
	return func(o *OpenAIProvider) {
		if config.MaxRetries > 0 {
			o.retry = config
		}
	}
}

// NewOpenAIProvider creates a new OpenAI embedder
func NewOpenAIProvider(apiKey string, cache *Cache, opts ...OpenAIOption) (*OpenAIProvider, error) {
	if apiKey == "" {
		apiKey = os.Getenv(EnvOpenAIAPIKey)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvOpenAIAPIKey)
	}

	o := &OpenAIProvider{
		apiKey:    apiKey,
		model:     DefaultOpenAIModel,
		baseURL:   DefaultOpenAIBaseURL,
		dimension: OpenAIDimension,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		cache: cache,
		retry: DefaultRetryConfig(),
	}
	if env := os.Getenv(EnvOpenAIBaseURL); env != "" {
		o.baseURL = strings.TrimRight(env, "/")
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

func (o *OpenAIProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	// Check cache
	hash := ComputeHash(req.Text)
	if o.cache != nil {
		if emb, ok := o.cache.Get(hash); ok {
			return emb, nil
		}
	}

	resp, err := o.GenerateBatch(ctx, BatchEmbeddingRequest{
		Texts: []string{req.Text},
		Model: req.Model,
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("%w: no embeddings returned", ErrProviderFailed)
	}

	return resp.Embeddings[0], nil
}

func (o *OpenAIProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	if len(req.Texts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: max %d texts allowed", ErrBatchTooLarge, MaxBatchSize)
	}

	model := req.Model
	if model == "" {
		model = o.model
	}

	vectors, err := o.embed(ctx, req.Texts, len(req.Texts), model)
	if err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(vectors))
	for i, vec := range vectors {
		hash := ComputeHash(req.Texts[i])
		embeddings[i] = &Embedding{
			Vector:    vec,
			Dimension: len(vec),
			Provider:  ProviderOpenAI,
			Model:     model,
			Hash:      hash,
		}
		if o.cache != nil {
			o.cache.Add(hash, embeddings[i])
		}
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderOpenAI,
		Model:      model,
	}, nil
}

// EmbedTokens sends token id arrays directly, so the provider measures exactly
// what the caller counted.
func (o *OpenAIProvider) EmbedTokens(ctx context.Context, inputs [][]int) ([][]float32, error) {
	if err := ValidateTokenInputs(inputs); err != nil {
		return nil, err
	}
	return o.embed(ctx, inputs, len(inputs), o.model)
}

// embed calls the API with retry. input is []string or [][]int.
func (o *OpenAIProvider) embed(ctx context.Context, input any, count int, model string) ([][]float32, error) {
	vectors, err := retryWithBackoff(ctx, o.retry, func() ([][]float32, error) {
		return o.callAPI(ctx, input, count, model)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderFailed, err)
	}
	return vectors, nil
}

type openAIRequest struct {
	Input          any    `json:"input"`
	Model          string `json:"model"`
	EncodingFormat string `json:"encoding_format,omitempty"`
}

type openAIResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

func (o *OpenAIProvider) callAPI(ctx context.Context, input any, count int, model string) ([][]float32, error) {
	body, err := json.Marshal(openAIRequest{
		Input:          input,
		Model:          model,
		EncodingFormat: "float",
	})
	if err != nil {
		return nil, permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, permanent(fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	var apiResp openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if len(apiResp.Data) != count {
		return nil, permanent(fmt.Errorf("expected %d embeddings, got %d", count, len(apiResp.Data)))
	}

	// The API documents order by index, not by position in data
	vectors := make([][]float32, count)
	for _, data := range apiResp.Data {
		if data.Index < 0 || data.Index >= count || vectors[data.Index] != nil {
			return nil, permanent(fmt.Errorf("invalid embedding index %d", data.Index))
		}
		vectors[data.Index] = data.Embedding
	}

	return vectors, nil
}

func (o *OpenAIProvider) Dimension() int {
	return o.dimension
}

func (o *OpenAIProvider) Provider() string {
	return ProviderOpenAI
}

func (o *OpenAIProvider) Model() string {
	return o.model
}

func (o *OpenAIProvider) Close() error {
	o.httpClient.CloseIdleConnections()
	return nil
}

// LocalProvider embeds offline with feature hashing over token ids. Vectors
// are deterministic, unit length, and texts sharing tokens land close together,
// which is enough for development runs and tests.
type LocalProvider struct {
	model     string
	dimension int
	counter   tokenizer.Counter
	cache     *Cache
}

// NewLocalProvider creates a new local embedder. counter tokenizes text
// requests so that text and token inputs embed identically.
func NewLocalProvider(counter tokenizer.Counter, dimension int, cache *Cache) (*LocalProvider, error) {
	if counter == nil {
		counter = tokenizer.Estimator{}
	}
	if dimension <= 0 {
		dimension = LocalDimension
	}
	return &LocalProvider{
		model:     DefaultLocalModel,
		dimension: dimension,
		counter:   counter,
		cache:     cache,
	}, nil
}

func (l *LocalProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	// Check cache
	hash := ComputeHash(req.Text)
	if l.cache != nil {
		if emb, ok := l.cache.Get(hash); ok {
			return emb, nil
		}
	}

	emb := &Embedding{
		Vector:    l.hashTokens(l.counter.Encode(req.Text)),
		Dimension: l.dimension,
		Provider:  ProviderLocal,
		Model:     l.model,
		Hash:      hash,
	}

	if l.cache != nil {
		l.cache.Add(hash, emb)
	}

	return emb, nil
}

func (l *LocalProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(req.Texts))
	for i, text := range req.Texts {
		emb, err := l.GenerateEmbedding(ctx, EmbeddingRequest{Text: text, Model: req.Model})
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		embeddings[i] = emb
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderLocal,
		Model:      l.model,
	}, nil
}

func (l *LocalProvider) EmbedTokens(ctx context.Context, inputs [][]int) ([][]float32, error) {
	if err := ValidateTokenInputs(inputs); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(inputs))
	for i, ids := range inputs {
		vectors[i] = l.hashTokens(ids)
	}
	return vectors, nil
}

// hashTokens maps each token id to a signed bucket and normalizes the sum
func (l *LocalProvider) hashTokens(ids []int) []float32 {
	vector := make([]float32, l.dimension)
	var buf [8]byte
	for _, id := range ids {
		binary.LittleEndian.PutUint64(buf[:], uint64(id))
		sum := sha256.Sum256(buf[:])
		bucket := binary.LittleEndian.Uint32(sum[:4]) % uint32(l.dimension)
		if sum[4]&1 == 0 {
			vector[bucket]++
		} else {
			vector[bucket]--
		}
	}
	return NormalizeVector(vector)
}

func (l *LocalProvider) Dimension() int {
	return l.dimension
}

func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

func (l *LocalProvider) Model() string {
	return l.model
}

func (l *LocalProvider) Close() error {
	return nil
}

// NormalizeVector normalizes a vector to unit length (for cosine similarity)
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val * val)
	}

	if sum == 0 {
		return v
	}

	norm := float32(math.Sqrt(sum))
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}

	return result
}
