package pipeline

import (
	"math"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/climbrag/internal/tokenizer"
	"github.com/dshills/climbrag/pkg/types"
)

func testConfig() Config {
	return Config{TokenCeiling: 20, FlushRatio: 0.5}
}

// byteCounter makes every byte cost a large number of tokens
type byteCounter struct{ perByte int }

func (c byteCounter) Count(text string) int { return len(text) * c.perByte }
func (c byteCounter) Encode(text string) []int {
	ids := make([]int, c.Count(text))
	return ids
}

func route(id int64, description string) *types.Route {
	return &types.Route{RouteID: id, RouteName: "r", Grade: "5.9", Description: description}
}

func TestPlanner_SkipsEmptyDescriptions(t *testing.T) {
	p := NewPlanner(wordCounter{}, newMemCache(), testConfig(), nil)

	assert.Nil(t, p.Add(route(1, "")))
	assert.Nil(t, p.Finish())
	assert.Equal(t, 1, p.Counts().Skipped)
}

func TestPlanner_FlushesAtHalfCeiling(t *testing.T) {
	tests := []struct {
		name        string
		sizes       []int
		wantBatches [][]int64
	}{
		{
			name:        "packs below threshold",
			sizes:       []int{3, 3, 3, 3},
			wantBatches: [][]int64{{1, 2, 3}, {4}},
		},
		{
			name:        "reaching threshold exactly flushes",
			sizes:       []int{5, 5},
			wantBatches: [][]int64{{1}, {2}},
		},
		{
			name:        "large single entry rides alone",
			sizes:       []int{15, 1},
			wantBatches: [][]int64{{1}, {2}},
		},
		{
			name:        "everything fits",
			sizes:       []int{1, 2, 3},
			wantBatches: [][]int64{{1, 2, 3}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPlanner(wordCounter{}, newMemCache(), testConfig(), nil)

			var got [][]int64
			for i, n := range tt.sizes {
				// distinct last word so nothing dedupes
				text := strings.TrimSpace(words(n-1) + " x" + strings.Repeat("y", i))
				if b := p.Add(route(int64(i+1), text)); b != nil {
					got = append(got, b.RouteIDs())
				}
			}
			if b := p.Finish(); b != nil {
				got = append(got, b.RouteIDs())
			}

			assert.Equal(t, tt.wantBatches, got)
		})
	}
}

func TestPlanner_BatchTokensStayBelowCeiling(t *testing.T) {
	cfg := Config{TokenCeiling: 50, FlushRatio: 0.5}
	p := NewPlanner(wordCounter{}, newMemCache(), cfg, nil)

	var batches []*Batch
	for i := 0; i < 200; i++ {
		n := (i*7)%45 + 1
		if b := p.Add(route(int64(i), words(n)+" id"+strings.Repeat("z", i))); b != nil {
			batches = append(batches, b)
		}
	}
	if b := p.Finish(); b != nil {
		batches = append(batches, b)
	}

	require.NotEmpty(t, batches)
	for i, b := range batches {
		sum := 0
		for _, e := range b.Entries {
			sum += wordCounter{}.Count(e.Text)
		}
		assert.Equal(t, b.Tokens, sum)
		assert.Less(t, sum, cfg.TokenCeiling, "batch %d", i)
		if b.Len() > 1 {
			assert.Less(t, sum, cfg.FlushThreshold(), "multi-entry batch %d", i)
		}
	}
}

func TestPlanner_DeduplicatesPendingText(t *testing.T) {
	p := NewPlanner(wordCounter{}, newMemCache(), testConfig(), nil)

	r1, r2 := route(1, "short text"), route(2, "short text")
	assert.Nil(t, p.Add(r1))
	assert.Nil(t, p.Add(r2))

	b := p.Finish()
	require.NotNil(t, b)
	require.Equal(t, 1, b.Len())
	assert.Equal(t, 2, b.Tokens)
	assert.Equal(t, []*types.Route{r1, r2}, b.Entries[0].Routes)
	assert.Equal(t, 2, b.RouteCount())
}

func TestPlanner_CacheHitBypassesBatch(t *testing.T) {
	cache := newMemCache()
	require.NoError(t, cache.Put("cached words", []float32{0.5, 0.5}))
	p := NewPlanner(wordCounter{}, cache, testConfig(), nil)

	hit := route(1, "cached words")
	assert.Nil(t, p.Add(hit))
	assert.Nil(t, p.Finish())
	assert.Equal(t, []float32{0.5, 0.5}, hit.DescriptionVector)
	assert.Equal(t, 1, p.Counts().CacheHits)
}

func TestPlanner_TruncatesOversized(t *testing.T) {
	logger, buf := bufferLogger()
	p := NewPlanner(wordCounter{}, newMemCache(), testConfig(), logger)

	r := route(42, words(25))
	assert.Nil(t, p.Add(r))

	b := p.Finish()
	require.NotNil(t, b)
	assert.Less(t, b.Tokens, 20)
	assert.Equal(t, r.Description, b.Entries[0].Text)
	assert.Less(t, utf8.RuneCountInString(r.Description), utf8.RuneCountInString(words(25)))
	assert.Equal(t, 1, p.Counts().Truncated)
	assert.Contains(t, buf.String(), `"route_id":42`)
	assert.Contains(t, buf.String(), `"original_tokens":25`)
}

func TestPlanner_TruncationToEmptySkips(t *testing.T) {
	p := NewPlanner(byteCounter{perByte: 100}, newMemCache(), Config{TokenCeiling: 1, FlushRatio: 1}, nil)

	r := route(1, "abc")
	assert.Nil(t, p.Add(r))
	assert.Nil(t, p.Finish())
	assert.Equal(t, "", r.Description)
	assert.Nil(t, r.DescriptionVector)
	assert.Equal(t, PlanCounts{Skipped: 1, Truncated: 1}, p.Counts())
}

func TestPlanner_MaxBatchInputs(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBatchInputs = 2
	p := NewPlanner(wordCounter{}, newMemCache(), cfg, nil)

	assert.Nil(t, p.Add(route(1, "a")))
	assert.Nil(t, p.Add(route(2, "b")))
	b := p.Add(route(3, "c"))
	require.NotNil(t, b)
	assert.Equal(t, []int64{1, 2}, b.RouteIDs())
	assert.Equal(t, []int64{3}, p.Finish().RouteIDs())
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name    string
		counter tokenizer.Counter
		text    string
		ceiling int
	}{
		{name: "already short", counter: wordCounter{}, text: "two words", ceiling: 10},
		{name: "word count", counter: wordCounter{}, text: words(9000), ceiling: 8191},
		{name: "far over", counter: wordCounter{}, text: words(100000), ceiling: 100},
		{name: "estimator", counter: tokenizer.Estimator{}, text: strings.Repeat("crimp ", 10000), ceiling: 512},
		{name: "multibyte", counter: tokenizer.Estimator{}, text: strings.Repeat("überhängend ", 3000), ceiling: 256},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, tokens, halvings := Truncate(tt.counter, tt.text, tt.ceiling)

			assert.Less(t, tokens, tt.ceiling)
			assert.Equal(t, tt.counter.Count(got), tokens)
			assert.True(t, strings.HasPrefix(tt.text, got), "keeps the leading span")
			assert.True(t, utf8.ValidString(got))

			n := utf8.RuneCountInString(tt.text)
			bound := int(math.Ceil(math.Log2(float64(n))))
			assert.LessOrEqual(t, halvings, bound)
			if tt.counter.Count(tt.text) < tt.ceiling {
				assert.Equal(t, 0, halvings)
				assert.Equal(t, tt.text, got)
			}
		})
	}
}
