package credits

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Source fetches the remaining balance from the upstream API.
type Source interface {
	Credits(ctx context.Context) (float64, error)
}

// Balance is the most recent poll result.
type Balance struct {
	Credits   float64   `json:"credits"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Poller refreshes the credit balance on a fixed interval and caches the
// latest value. A failed poll keeps the previous balance; polling errors are
// logged, never surfaced as failures.
type Poller struct {
	source   Source
	interval time.Duration
	logger   zerolog.Logger

	mu     sync.Mutex
	latest *Balance
}

func NewPoller(source Source, interval time.Duration, logger zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{source: source, interval: interval, logger: logger}
}

// Run polls until the context is cancelled. The first poll happens
// immediately.
func (p *Poller) Run(ctx context.Context) {
	p.poll(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.poll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	credits, err := p.source.Credits(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("credits: poll failed")
		return
	}
	p.mu.Lock()
	p.latest = &Balance{Credits: credits, FetchedAt: time.Now()}
	p.mu.Unlock()
}

// Latest returns the cached balance, or false when no poll has succeeded yet.
func (p *Poller) Latest() (Balance, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.latest == nil {
		return Balance{}, false
	}
	return *p.latest, true
}
