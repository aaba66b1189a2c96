package queue

import "strings"

// StudioConfig limits workflows of one type aimed at one studio contract,
// so a busy studio cannot starve the others.
type StudioConfig struct {
	Type   string
	Studio string

	RateLimit      float64
	RateBurst      int
	MaxConcurrency int
}

// Studio addresses compare case-insensitively.
func studioKey(wfType, studio string) string {
	return wfType + ":" + strings.ToLower(studio)
}

// SetStudioConfig replaces the limits for (cfg.Type, cfg.Studio), carrying
// over the running count.
func (m *Manager) SetStudioConfig(cfg StudioConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := studioKey(cfg.Type, cfg.Studio)
	g := newGate(cfg.MaxConcurrency, cfg.RateLimit, cfg.RateBurst)
	g.active = m.studios[key].count()
	m.studios[key] = g
}

// StudioActiveCount returns how many workflows of wfType aimed at a
// configured studio hold a slot.
func (m *Manager) StudioActiveCount(wfType, studio string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.studios[studioKey(wfType, studio)].count()
}
