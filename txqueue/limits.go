package txqueue

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/chaoschain/gateway/chain"
)

// LimitConfig defines the sustained submission rate for one signer.
type LimitConfig struct {
	// Signer the limit applies to. The zero address sets the default
	// applied to every signer without its own entry.
	Signer chain.Address

	// Rate is the maximum sustained transactions per second. Zero
	// disables limiting.
	Rate float64

	// Burst is the token bucket size. Defaults to 1 when Rate is set.
	Burst int
}

// Limits holds one token bucket per signer. It is safe for concurrent use.
type Limits struct {
	mu       sync.Mutex
	defaults LimitConfig
	configs  map[chain.Address]LimitConfig
	limiters map[chain.Address]*rate.Limiter
}

// NewLimits creates Limits from the given configurations.
func NewLimits(configs ...LimitConfig) *Limits {
	l := &Limits{
		configs:  make(map[chain.Address]LimitConfig, len(configs)),
		limiters: make(map[chain.Address]*rate.Limiter),
	}
	for _, cfg := range configs {
		if cfg.Signer == (chain.Address{}) {
			l.defaults = cfg
			continue
		}
		l.configs[cfg.Signer] = cfg
	}
	return l
}

func newLimiter(cfg LimitConfig) *rate.Limiter {
	if cfg.Rate <= 0 {
		return nil
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.Rate), burst)
}

func (l *Limits) limiter(signer chain.Address) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[signer]; ok {
		return lim
	}
	cfg, ok := l.configs[signer]
	if !ok {
		cfg = l.defaults
	}
	lim := newLimiter(cfg)
	l.limiters[signer] = lim
	return lim
}

// Wait blocks until signer may submit or ctx is done.
func (l *Limits) Wait(ctx context.Context, signer chain.Address) error {
	lim := l.limiter(signer)
	if lim == nil {
		return nil
	}
	return lim.Wait(ctx)
}

// SetLimit dynamically replaces (or creates) the limit for cfg.Signer.
func (l *Limits) SetLimit(cfg LimitConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cfg.Signer == (chain.Address{}) {
		l.defaults = cfg
		l.limiters = make(map[chain.Address]*rate.Limiter)
		return
	}
	l.configs[cfg.Signer] = cfg
	delete(l.limiters, cfg.Signer)
}
