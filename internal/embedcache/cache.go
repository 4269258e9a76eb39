package embedcache

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// FileName is the cache file name inside the data directory
const FileName = "embedding_cache.json"

var (
	// ErrCorrupt is returned when a cache file exists but cannot be decoded
	ErrCorrupt = errors.New("embedding cache is corrupt")
	// ErrDimensionMismatch is returned when a vector doesn't match the cache dimension
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrEmptyVector is returned when storing a zero-length vector
	ErrEmptyVector = errors.New("embedding vector is empty")
)

// Cache maps exact description text to its embedding vector and persists the
// whole mapping to a single JSON file. It is append-only and not safe for
// concurrent use.
type Cache struct {
	path      string
	entries   map[string][]float32
	dimension int
}

// New creates an empty cache backed by the file at path. Call Load to read
// previously saved state.
func New(path string) *Cache {
	return &Cache{
		path:    path,
		entries: make(map[string][]float32),
	}
}

// DefaultPath returns the cache file location inside dataDir
func DefaultPath(dataDir string) string {
	return filepath.Join(dataDir, FileName)
}

// Open creates a cache for path and loads it
func Open(path string) (*Cache, error) {
	c := New(path)
	if err := c.Load(); err != nil {
		return nil, err
	}
	return c, nil
}

// Path returns the backing file path
func (c *Cache) Path() string {
	return c.path
}

// Load replaces the in-memory mapping with the persisted one. A missing file
// yields an empty cache. A file that exists but can't be read or decoded, or
// that mixes vector dimensions, returns ErrCorrupt.
func (c *Cache) Load() error {
	f, err := os.Open(c.path)
	if errors.Is(err, os.ErrNotExist) {
		c.entries = make(map[string][]float32)
		c.dimension = 0
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrCorrupt, c.path, err)
	}
	defer func() { _ = f.Close() }()

	dec := json.NewDecoder(bufio.NewReader(f))
	var entries map[string][]float32
	if err := dec.Decode(&entries); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrCorrupt, c.path, err)
	}
	if entries == nil {
		return fmt.Errorf("%w: %s does not hold an object", ErrCorrupt, c.path)
	}
	if err := dec.Decode(&json.RawMessage{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data in %s", ErrCorrupt, c.path)
	}

	dimension := 0
	for text, vec := range entries {
		if len(vec) == 0 {
			return fmt.Errorf("%w: empty vector for %q", ErrCorrupt, truncateKey(text))
		}
		if dimension == 0 {
			dimension = len(vec)
			continue
		}
		if len(vec) != dimension {
			return fmt.Errorf("%w: mixed dimensions %d and %d", ErrCorrupt, dimension, len(vec))
		}
	}

	c.entries = entries
	c.dimension = dimension
	return nil
}

// Save atomically rewrites the backing file with the full mapping. The new
// content goes to a temp file in the same directory which then replaces the
// target, so a failed save leaves the previous file untouched.
func (c *Cache) Save() error {
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	pending, err := renameio.NewPendingFile(c.path, renameio.WithPermissions(0644))
	if err != nil {
		return fmt.Errorf("create pending cache file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	w := bufio.NewWriter(pending)
	if err := json.NewEncoder(w).Encode(c.entries); err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace cache file: %w", err)
	}
	return nil
}

// Get returns a copy of the cached vector for text
func (c *Cache) Get(text string) ([]float32, bool) {
	vec, ok := c.entries[text]
	if !ok {
		return nil, false
	}
	out := make([]float32, len(vec))
	copy(out, vec)
	return out, true
}

// Put stores a copy of vec under text. The first vector fixes the cache
// dimension; later vectors must match it. Put does not persist.
func (c *Cache) Put(text string, vec []float32) error {
	if len(vec) == 0 {
		return ErrEmptyVector
	}
	if c.dimension != 0 && len(vec) != c.dimension {
		return fmt.Errorf("%w: got %d, cache holds %d", ErrDimensionMismatch, len(vec), c.dimension)
	}
	stored := make([]float32, len(vec))
	copy(stored, vec)
	c.entries[text] = stored
	if c.dimension == 0 {
		c.dimension = len(vec)
	}
	return nil
}

// Len returns the number of cached texts
func (c *Cache) Len() int {
	return len(c.entries)
}

// Dimension returns the vector dimension held by the cache, 0 when empty
func (c *Cache) Dimension() int {
	return c.dimension
}

func truncateKey(text string) string {
	runes := []rune(text)
	if len(runes) <= 40 {
		return text
	}
	return string(runes[:40]) + "..."
}
