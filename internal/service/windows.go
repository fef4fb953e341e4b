package service

import (
	"sort"
	"sync"
	"time"

	"github.com/kenyaclaw/africa-payments-mcp-sub000/internal/anomaly"
)

type windowKey struct {
	provider string
	country  string
}

// window accumulates outcomes for one (provider, country) pair between flushes.
type window struct {
	provider   string
	country    string
	total      int64
	failures   int64
	latencySum float64
}

func (w window) point(bucket time.Time) anomaly.Point {
	if w.total == 0 {
		return anomaly.Point{Timestamp: bucket}
	}
	return anomaly.Point{
		Timestamp:          bucket,
		FailureRatePercent: float64(w.failures) / float64(w.total) * 100,
		LatencyMs:          w.latencySum / float64(w.total),
		Volume:             w.total,
	}
}

type windows struct {
	mu   sync.Mutex
	open map[windowKey]*window
}

func newWindows() *windows {
	return &windows{open: make(map[windowKey]*window)}
}

func (ws *windows) observe(provider, country string, success bool, latencyMs float64) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	key := windowKey{provider, country}
	w, ok := ws.open[key]
	if !ok {
		w = &window{provider: provider, country: country}
		ws.open[key] = w
	}
	w.total++
	if !success {
		w.failures++
	}
	w.latencySum += latencyMs
}

// drain returns the open windows sorted by provider then country, and starts fresh ones.
func (ws *windows) drain() []window {
	ws.mu.Lock()
	open := ws.open
	ws.open = make(map[windowKey]*window, len(open))
	ws.mu.Unlock()

	out := make([]window, 0, len(open))
	for _, w := range open {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].provider != out[j].provider {
			return out[i].provider < out[j].provider
		}
		return out[i].country < out[j].country
	})
	return out
}
