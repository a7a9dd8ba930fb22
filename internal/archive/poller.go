package archive

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ChangeHandler is called with the new revision when the archive changes.
type ChangeHandler func(ctx context.Context, rev Revision) error

// Poller checks the archive revision on an interval and calls a handler
// whenever it differs from the last one handled.
type Poller struct {
	source   Source
	interval time.Duration
	mu       sync.Mutex
	last     Revision
	logger   *slog.Logger
}

// NewPoller starts from last, typically the revision recorded in the store.
// A zero last revision makes the first poll fire.
func NewPoller(source Source, interval time.Duration, last Revision) *Poller {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Poller{
		source:   source,
		interval: interval,
		last:     last,
		logger:   slog.Default().With("component", "archive-poller"),
	}
}

// Run polls immediately and then every interval until ctx is done. A failed
// handler leaves the last revision unchanged so the next poll retries.
func (p *Poller) Run(ctx context.Context, fn ChangeHandler) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	p.logger.Info("archive poller started", "interval", p.interval, "last_revision", p.Last().ID)
	for {
		p.Poll(ctx, fn)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Poll runs a single check and reports whether fn ran successfully.
func (p *Poller) Poll(ctx context.Context, fn ChangeHandler) bool {
	rev, err := p.source.Revision(ctx)
	if err != nil {
		p.logger.Error("reading archive revision failed", "error", err)
		return false
	}
	last := p.Last()
	if !last.IsZero() && rev.ID == last.ID {
		p.logger.Debug("archive unchanged", "revision", rev.ID)
		return false
	}
	p.logger.Info("archive changed", "from", last.ID, "to", rev.ID)
	if err := fn(ctx, rev); err != nil {
		p.logger.Error("handling archive change failed", "revision", rev.ID, "error", err)
		return false
	}
	p.mu.Lock()
	p.last = rev
	p.mu.Unlock()
	return true
}

// Last returns the last revision handled.
func (p *Poller) Last() Revision {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}
