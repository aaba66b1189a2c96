package queue_test

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chaoschain/gateway/queue"
)

const (
	work  = "WorkSubmission"
	score = "ScoreSubmission"
	epoch = "CloseEpoch"

	studioA = "0xA11CE00000000000000000000000000000000001"
	studioB = "0xb0b0000000000000000000000000000000000002"
)

// step is one Acquire (want is the expected answer) or, with release set,
// one Release.
type step struct {
	typ, studio string
	release     bool
	want        bool
}

func acquire(typ, studio string, want bool) step { return step{typ: typ, studio: studio, want: want} }
func release(typ, studio string) step            { return step{typ: typ, studio: studio, release: true} }

func run(t *testing.T, m *queue.Manager, steps ...step) {
	t.Helper()
	for i, s := range steps {
		if s.release {
			m.Release(s.typ, s.studio)
			continue
		}
		if got := m.Acquire(s.typ, s.studio); got != s.want {
			t.Fatalf("step %d: Acquire(%s, %q) = %v, want %v", i, s.typ, s.studio, got, s.want)
		}
	}
}

func TestManager_Scenarios(t *testing.T) {
	tests := []struct {
		name    string
		configs []queue.Config
		studios []queue.StudioConfig
		steps   []step
	}{
		{
			name:  "unconfigured type is unlimited",
			steps: []step{acquire(work, "", true), acquire(work, "", true), acquire(work, studioA, true)},
		},
		{
			name:    "type concurrency cap",
			configs: []queue.Config{{Type: score, MaxConcurrency: 2}},
			steps: []step{
				acquire(score, "", true), acquire(score, "", true), acquire(score, "", false),
				release(score, ""), acquire(score, "", true),
				acquire(work, "", true),
			},
		},
		{
			name:    "studio cap leaves other studios alone",
			configs: []queue.Config{{Type: work, MaxConcurrency: 100}},
			studios: []queue.StudioConfig{{Type: work, Studio: studioA, MaxConcurrency: 1}},
			steps: []step{
				acquire(work, studioA, true), acquire(work, studioA, false),
				acquire(work, studioB, true), acquire(work, studioB, true),
				acquire(score, studioA, true),
			},
		},
		{
			name:    "studio address case is ignored",
			studios: []queue.StudioConfig{{Type: epoch, Studio: studioA, MaxConcurrency: 1}},
			steps: []step{
				acquire(epoch, strings.ToLower(studioA), true),
				acquire(epoch, strings.ToUpper(studioA), false),
				release(epoch, studioA),
				acquire(epoch, studioA, true),
			},
		},
		{
			name:    "burst then throttle",
			configs: []queue.Config{{Type: work, RateLimit: 0.001, RateBurst: 3}},
			steps: []step{
				acquire(work, "", true), release(work, ""),
				acquire(work, "", true), release(work, ""),
				acquire(work, "", true), release(work, ""),
				acquire(work, "", false),
			},
		},
		{
			name:    "concurrency refusal spends no token",
			configs: []queue.Config{{Type: epoch, MaxConcurrency: 1, RateLimit: 0.001, RateBurst: 2}},
			steps: []step{
				acquire(epoch, "", true), acquire(epoch, "", false), acquire(epoch, "", false),
				release(epoch, ""), acquire(epoch, "", true),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := queue.NewManager(tt.configs...)
			for _, sc := range tt.studios {
				m.SetStudioConfig(sc)
			}
			run(t, m, tt.steps...)
		})
	}
}

func TestManager_TypeTokenKeptOnStudioRefusal(t *testing.T) {
	m := queue.NewManager(queue.Config{Type: work, RateLimit: 0.001, RateBurst: 1})
	m.SetStudioConfig(queue.StudioConfig{Type: work, Studio: studioA, MaxConcurrency: 5, RateLimit: 0.001, RateBurst: 1})

	// Drain studio A's bucket without touching the type bucket.
	m.SetTypeConfig(queue.Config{Type: work})
	run(t, m, acquire(work, studioA, true), release(work, studioA))
	m.SetTypeConfig(queue.Config{Type: work, RateLimit: 0.001, RateBurst: 1})

	run(t, m, acquire(work, studioA, false), acquire(work, studioB, true))
}

func TestManager_RateRefills(t *testing.T) {
	m := queue.NewManager(queue.Config{Type: epoch, RateLimit: 20, RateBurst: 1})
	run(t, m, acquire(epoch, "", true), release(epoch, ""), acquire(epoch, "", false))
	time.Sleep(80 * time.Millisecond)
	run(t, m, acquire(epoch, "", true))
}

func TestManager_Counts(t *testing.T) {
	m := queue.NewManager(queue.Config{Type: epoch, MaxConcurrency: 10})
	m.SetStudioConfig(queue.StudioConfig{Type: epoch, Studio: studioA, MaxConcurrency: 5})

	run(t, m, acquire(epoch, studioA, true), acquire(epoch, studioA, true), acquire(epoch, "", true))
	if got := m.ActiveCount(epoch); got != 3 {
		t.Errorf("ActiveCount = %d, want 3", got)
	}
	if got := m.StudioActiveCount(epoch, studioA); got != 2 {
		t.Errorf("StudioActiveCount = %d, want 2", got)
	}

	run(t, m, release(epoch, studioA), release(epoch, studioA), release(epoch, ""), release(epoch, ""))
	if m.ActiveCount(epoch) != 0 || m.StudioActiveCount(epoch, studioA) != 0 {
		t.Errorf("counts went negative or stuck: %d, %d", m.ActiveCount(epoch), m.StudioActiveCount(epoch, studioA))
	}
	if got := m.ActiveCount(work); got != 0 {
		t.Errorf("unconfigured ActiveCount = %d", got)
	}
}

func TestManager_SetTypeConfigKeepsActive(t *testing.T) {
	m := queue.NewManager(queue.Config{Type: score, MaxConcurrency: 1})
	run(t, m, acquire(score, "", true), acquire(score, "", false))

	m.SetTypeConfig(queue.Config{Type: score, MaxConcurrency: 2})
	run(t, m, acquire(score, "", true), acquire(score, "", false))
	if got := m.ActiveCount(score); got != 2 {
		t.Errorf("ActiveCount = %d, want 2", got)
	}
}

func TestManager_Concurrent(t *testing.T) {
	m := queue.NewManager(queue.Config{Type: work, MaxConcurrency: 8})

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		peak int
	)
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !m.Acquire(work, "") {
				return
			}
			mu.Lock()
			peak = max(peak, m.ActiveCount(work))
			mu.Unlock()
			time.Sleep(time.Millisecond)
			m.Release(work, "")
		}()
	}
	wg.Wait()

	if peak == 0 || peak > 8 {
		t.Errorf("peak active = %d, want 1..8", peak)
	}
	if got := m.ActiveCount(work); got != 0 {
		t.Errorf("ActiveCount after drain = %d", got)
	}
}
