package pipeline

import (
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
)

// Progress emits throughput log lines at most once per interval
type Progress struct {
	start    time.Time
	last     time.Time
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewProgress starts the throughput clock
func NewProgress(interval time.Duration, now func() time.Time, logger *slog.Logger) *Progress {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Progress{
		start:    now(),
		interval: interval,
		now:      now,
		logger:   logger,
	}
}

// Report logs progress when no line has been emitted yet or the interval has
// elapsed since the last one. It returns whether a line was emitted.
func (p *Progress) Report(processed, total int) bool {
	t := p.now()
	if !p.last.IsZero() && t.Sub(p.last) < p.interval {
		return false
	}
	p.last = t

	var percent, rate, remaining float64
	if total > 0 {
		percent = float64(processed) / float64(total) * 100
	}
	if elapsed := t.Sub(p.start).Seconds(); elapsed > 0 {
		rate = float64(processed) / elapsed
	}
	if rate > 0 {
		remaining = float64(total-processed) / rate / 60
	}

	p.logger.Info("embedding progress",
		"processed", humanize.Comma(int64(processed)),
		"total", humanize.Comma(int64(total)),
		"percent", humanize.FtoaWithDigits(percent, 1),
		"routes_per_sec", humanize.FtoaWithDigits(rate, 1),
		"eta_minutes", humanize.FtoaWithDigits(remaining, 1))
	return true
}
