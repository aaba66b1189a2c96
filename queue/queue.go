package queue

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config limits how fast and how many workflows of one type the pool runs.
type Config struct {
	// Type is the workflow type, e.g. "WorkSubmission".
	Type string

	// MaxConcurrency caps simultaneous runs. Zero leaves only the
	// pool-wide cap.
	MaxConcurrency int

	// RateLimit is sustained starts per second; zero disables it.
	RateLimit float64

	// RateBurst is the bucket size, at least 1 when RateLimit is set.
	RateBurst int
}

// gate is one concurrency cap plus an optional token bucket.
type gate struct {
	limiter *rate.Limiter
	max     int
	active  int
}

func newGate(maxConcurrency int, r float64, burst int) *gate {
	g := &gate{max: maxConcurrency}
	if r > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(r), max(burst, 1))
	}
	return g
}

func (g *gate) full() bool {
	return g != nil && g.max > 0 && g.active >= g.max
}

// reserve takes a token only when one is available right now.
func (g *gate) reserve(now time.Time) (*rate.Reservation, bool) {
	if g == nil || g.limiter == nil {
		return nil, true
	}
	r := g.limiter.ReserveN(now, 1)
	if !r.OK() || r.DelayFrom(now) > 0 {
		r.CancelAt(now)
		return nil, false
	}
	return r, true
}

func (g *gate) take() {
	if g != nil {
		g.active++
	}
}

func (g *gate) put() {
	if g != nil && g.active > 0 {
		g.active--
	}
}

func (g *gate) count() int {
	if g == nil {
		return 0
	}
	return g.active
}

// Manager admits workflows against per-type and per-studio gates. It is
// safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	types   map[string]*gate
	studios map[string]*gate
}

// NewManager creates a Manager. Types without a Config are not limited.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		types:   make(map[string]*gate, len(configs)),
		studios: make(map[string]*gate),
	}
	for _, cfg := range configs {
		m.types[cfg.Type] = newGate(cfg.MaxConcurrency, cfg.RateLimit, cfg.RateBurst)
	}
	return m
}

// Acquire reports whether a workflow of wfType aimed at studio may start
// now. On true the caller must Release with the same arguments when the
// run ends. studio may be empty. A refusal spends no rate tokens.
func (m *Manager) Acquire(wfType, studio string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	tg := m.types[wfType]
	var sg *gate
	if studio != "" {
		sg = m.studios[studioKey(wfType, studio)]
	}
	if tg.full() || sg.full() {
		return false
	}

	now := time.Now()
	tr, ok := tg.reserve(now)
	if !ok {
		return false
	}
	if _, ok := sg.reserve(now); !ok {
		if tr != nil {
			tr.CancelAt(now)
		}
		return false
	}
	tg.take()
	sg.take()
	return true
}

// Release frees the slot taken by a successful Acquire.
func (m *Manager) Release(wfType, studio string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.types[wfType].put()
	if studio != "" {
		m.studios[studioKey(wfType, studio)].put()
	}
}

// SetTypeConfig replaces the limits for cfg.Type, carrying over the
// running count.
func (m *Manager) SetTypeConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := newGate(cfg.MaxConcurrency, cfg.RateLimit, cfg.RateBurst)
	g.active = m.types[cfg.Type].count()
	m.types[cfg.Type] = g
}

// ActiveCount returns how many workflows of a configured wfType hold a
// slot. Unconfigured types are not counted.
func (m *Manager) ActiveCount(wfType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.types[wfType].count()
}
