package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Common errors
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrProviderFailed    = errors.New("embedding provider failed")
	ErrUnsupportedModel  = errors.New("unsupported model")
	ErrEmptyText         = errors.New("text cannot be empty")
	ErrBatchTooLarge     = errors.New("batch size exceeds limit")
	ErrNoProviderEnabled = errors.New("no embedding provider configured")
)

// Embedding represents a vector embedding with metadata
type Embedding struct {
	Vector    []float32
	Dimension int
	Provider  string
	Model     string
	Hash      string // Content hash for caching
}

// EmbeddingRequest represents a request to generate embeddings
type EmbeddingRequest struct {
	Text  string
	Model string // Optional: override default model
}

// BatchEmbeddingRequest represents a batch request
type BatchEmbeddingRequest struct {
	Texts []string
	Model string // Optional: override default model
}

// BatchEmbeddingResponse represents a batch response
type BatchEmbeddingResponse struct {
	Embeddings []*Embedding
	Provider   string
	Model      string
}

// Embedder interface defines methods for generating embeddings from text
type Embedder interface {
	// GenerateEmbedding generates a single embedding for the given text
	GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error)

	// GenerateBatch generates embeddings for multiple texts efficiently
	GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error)

	// Dimension returns the embedding dimension for this provider
	Dimension() int

	// Provider returns the provider name
	Provider() string

	// Model returns the model name
	Model() string

	// Close releases any resources held by the embedder
	Close() error
}

// TokenEmbedder embeds pre-tokenized inputs. It is the boundary the batch
// pipeline calls: one vector per input in input order, or an error for the
// whole batch.
type TokenEmbedder interface {
	EmbedTokens(ctx context.Context, inputs [][]int) ([][]float32, error)
	Dimension() int
	Model() string
}

// Provider is implemented by every concrete provider in this package
type Provider interface {
	Embedder
	TokenEmbedder
}

// Cache is an in-memory LRU of query embeddings keyed by ComputeHash. Vectors
// are copied in and out so callers never share a slice with the cache.
type Cache struct {
	lru *lru.Cache[string, *Embedding]
}

// NewCache creates a cache holding up to maxLen embeddings,
// DefaultCacheSize when maxLen <= 0
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = DefaultCacheSize
	}
	l, err := lru.New[string, *Embedding](maxLen)
	if err != nil {
		// Only returned for non-positive sizes
		panic(fmt.Sprintf("failed to create LRU cache: %v", err))
	}
	return &Cache{lru: l}
}

// Get returns a copy of the embedding stored under hash
func (c *Cache) Get(hash string) (*Embedding, bool) {
	emb, ok := c.lru.Get(hash)
	if !ok {
		return nil, false
	}
	return cloneEmbedding(emb), true
}

// Add stores a copy of emb, evicting the least recently used entry when full
func (c *Cache) Add(hash string, emb *Embedding) {
	c.lru.Add(hash, cloneEmbedding(emb))
}

// Len returns the number of cached embeddings
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Purge empties the cache
func (c *Cache) Purge() {
	c.lru.Purge()
}

func cloneEmbedding(emb *Embedding) *Embedding {
	out := *emb
	out.Vector = append([]float32(nil), emb.Vector...)
	return &out
}

// ComputeHash computes SHA-256 hash of text for caching
func ComputeHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// ValidateRequest rejects empty and whitespace-only text
func ValidateRequest(req EmbeddingRequest) error {
	if strings.TrimSpace(req.Text) == "" {
		return ErrEmptyText
	}
	return nil
}

// ValidateBatchRequest validates a text batch against the provider input cap
func ValidateBatchRequest(req BatchEmbeddingRequest) error {
	if len(req.Texts) == 0 {
		return fmt.Errorf("%w: no texts provided", ErrInvalidInput)
	}
	if len(req.Texts) > MaxBatchSize {
		return fmt.Errorf("%w: %d texts, max %d", ErrBatchTooLarge, len(req.Texts), MaxBatchSize)
	}

	for i, text := range req.Texts {
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("%w: text at index %d is empty", ErrInvalidInput, i)
		}
	}

	return nil
}

// ValidateTokenInputs validates a pre-tokenized batch
func ValidateTokenInputs(inputs [][]int) error {
	if len(inputs) == 0 {
		return fmt.Errorf("%w: no inputs provided", ErrInvalidInput)
	}
	if len(inputs) > MaxBatchSize {
		return fmt.Errorf("%w: %d inputs, max %d", ErrBatchTooLarge, len(inputs), MaxBatchSize)
	}

	for i, ids := range inputs {
		if len(ids) == 0 {
			return fmt.Errorf("%w: input at index %d is empty", ErrInvalidInput, i)
		}
	}

	return nil
}
