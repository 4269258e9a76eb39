package pipeline

import (
	"log/slog"

	"github.com/dshills/climbrag/internal/tokenizer"
	"github.com/dshills/climbrag/pkg/types"
)

// Lookup is the read side of the embedding cache
type Lookup interface {
	Get(text string) ([]float32, bool)
}

// Entry is one unique description waiting in a batch together with every
// route that carries that exact text.
type Entry struct {
	Text   string
	Tokens int
	Routes []*types.Route
}

// Batch is an ordered set of entries dispatched in one provider call
type Batch struct {
	Entries []*Entry
	Tokens  int
}

// Len returns the number of provider inputs in the batch
func (b *Batch) Len() int {
	return len(b.Entries)
}

// RouteIDs returns the ids of every route waiting on the batch, in order
func (b *Batch) RouteIDs() []int64 {
	ids := make([]int64, 0, len(b.Entries))
	for _, e := range b.Entries {
		for _, r := range e.Routes {
			ids = append(ids, r.RouteID)
		}
	}
	return ids
}

// RouteCount returns the number of routes waiting on the batch
func (b *Batch) RouteCount() int {
	n := 0
	for _, e := range b.Entries {
		n += len(e.Routes)
	}
	return n
}

// PlanCounts tracks what the planner did with routes that never reach a batch
type PlanCounts struct {
	Skipped   int
	Truncated int
	CacheHits int
}

// Planner packs routes into token-budgeted batches in a single pass.
//
// Add must be called in input order. When it returns a non-nil batch the
// caller dispatches it (and updates the cache) before the next Add, so later
// routes with the same text resolve as cache hits.
type Planner struct {
	counter   tokenizer.Counter
	cache     Lookup
	ceiling   int
	threshold int
	maxInputs int
	logger    *slog.Logger

	pending *Batch
	byText  map[string]*Entry
	counts  PlanCounts
}

// NewPlanner creates a planner for the given config. cfg must be valid.
func NewPlanner(counter tokenizer.Counter, cache Lookup, cfg Config, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{
		counter:   counter,
		cache:     cache,
		ceiling:   cfg.TokenCeiling,
		threshold: cfg.FlushThreshold(),
		maxInputs: cfg.MaxBatchInputs,
		logger:    logger,
		pending:   &Batch{},
		byText:    make(map[string]*Entry),
	}
}

// Add plans one route. It returns the batch that had to be flushed to make
// room for the route, or nil.
func (p *Planner) Add(route *types.Route) *Batch {
	if route.Description == "" {
		p.counts.Skipped++
		return nil
	}

	text, tokens, halvings := Truncate(p.counter, route.Description, p.ceiling)
	if halvings > 0 {
		p.logger.Warn("truncated oversized description",
			"route_id", route.RouteID,
			"original_tokens", p.counter.Count(route.Description),
			"final_tokens", tokens,
			"halvings", halvings)
		route.Description = text
		p.counts.Truncated++
		if text == "" {
			p.counts.Skipped++
			return nil
		}
	}

	if vec, ok := p.cache.Get(text); ok {
		route.DescriptionVector = vec
		p.counts.CacheHits++
		return nil
	}

	if e, ok := p.byText[text]; ok {
		e.Routes = append(e.Routes, route)
		return nil
	}

	var flushed *Batch
	if p.pending.Len() > 0 &&
		(p.pending.Tokens+tokens >= p.threshold || (p.maxInputs > 0 && p.pending.Len() >= p.maxInputs)) {
		flushed = p.take()
	}

	e := &Entry{Text: text, Tokens: tokens, Routes: []*types.Route{route}}
	p.pending.Entries = append(p.pending.Entries, e)
	p.pending.Tokens += tokens
	p.byText[text] = e

	return flushed
}

// Finish returns the remaining pending batch, or nil if it is empty
func (p *Planner) Finish() *Batch {
	if p.pending.Len() == 0 {
		return nil
	}
	return p.take()
}

// Counts returns the running skip, truncation and cache-hit totals
func (p *Planner) Counts() PlanCounts {
	return p.counts
}

func (p *Planner) take() *Batch {
	b := p.pending
	p.pending = &Batch{}
	p.byText = make(map[string]*Entry)
	return b
}

// Truncate halves text, keeping the leading runes, until it measures below
// ceiling. It returns the final text, its token count and the number of
// halvings applied. ceiling must be positive.
func Truncate(counter tokenizer.Counter, text string, ceiling int) (string, int, int) {
	tokens := counter.Count(text)
	halvings := 0
	for tokens >= ceiling {
		runes := []rune(text)
		text = string(runes[:len(runes)/2])
		tokens = counter.Count(text)
		halvings++
	}
	return text, tokens, halvings
}
