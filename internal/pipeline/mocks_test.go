package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// wordCounter counts one token per whitespace-separated word
type wordCounter struct{}

func (wordCounter) Count(text string) int {
	return len(strings.Fields(text))
}

func (wordCounter) Encode(text string) []int {
	words := strings.Fields(text)
	ids := make([]int, len(words))
	for i, w := range words {
		for _, r := range w {
			ids[i] = ids[i]*31 + int(r)
		}
	}
	return ids
}

// mockProvider records every call. respond builds the vectors for a call;
// the default returns [len(ids), ids[0]] per input.
type mockProvider struct {
	mu        sync.Mutex
	calls     [][][]int
	dimension int
	respond   func(call int, inputs [][]int) ([][]float32, error)
}

func newMockProvider() *mockProvider {
	return &mockProvider{dimension: 2}
}

func (m *mockProvider) EmbedTokens(ctx context.Context, inputs [][]int) ([][]float32, error) {
	m.mu.Lock()
	call := len(m.calls)
	copied := make([][]int, len(inputs))
	for i, ids := range inputs {
		copied[i] = append([]int(nil), ids...)
	}
	m.calls = append(m.calls, copied)
	m.mu.Unlock()

	if m.respond != nil {
		return m.respond(call, inputs)
	}
	vectors := make([][]float32, len(inputs))
	for i, ids := range inputs {
		vectors[i] = []float32{float32(len(ids)), float32(ids[0])}
	}
	return vectors, nil
}

func (m *mockProvider) Dimension() int { return m.dimension }
func (m *mockProvider) Model() string  { return "mock" }

func (m *mockProvider) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// memCache is an in-memory Cache that counts saves
type memCache struct {
	entries   map[string][]float32
	dimension int
	saves     int
	saveErr   error
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string][]float32)}
}

func (c *memCache) Get(text string) ([]float32, bool) {
	vec, ok := c.entries[text]
	if !ok {
		return nil, false
	}
	return append([]float32(nil), vec...), true
}

func (c *memCache) Put(text string, vec []float32) error {
	if c.dimension == 0 {
		c.dimension = len(vec)
	}
	if len(vec) != c.dimension {
		return errors.New("dimension mismatch")
	}
	c.entries[text] = append([]float32(nil), vec...)
	return nil
}

func (c *memCache) Save() error {
	if c.saveErr != nil {
		return c.saveErr
	}
	c.saves++
	return nil
}

func (c *memCache) Dimension() int { return c.dimension }

// fakeClock advances only when told to
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func bufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

func words(n int) string {
	return strings.TrimSpace(strings.Repeat("ab ", n))
}
