package anomaly

import (
	"sort"
	"sync"
	"time"
)

// Category classifies what crossed a threshold.
type Category string

const (
	CategoryFailurePattern Category = "failure_pattern"
	CategoryAnomaly        Category = "anomaly"
	CategoryCapacity       Category = "capacity"
)

// Severity is the alert tier.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Signal names the detector that raised an alert.
type Signal string

const (
	SignalFailureRate  Signal = "failure_rate"
	SignalLatency      Signal = "latency"
	SignalVolume       Signal = "volume"
	SignalDailyPattern Signal = "daily_pattern"
)

// Alert is immutable once created; it leaves the active set by dismissal or expiry.
type Alert struct {
	ID                 string    `json:"id"`
	Category           Category  `json:"category"`
	Severity           Severity  `json:"severity"`
	Signal             Signal    `json:"signal"`
	Message            string    `json:"message"`
	Confidence         float64   `json:"confidence"`
	RecommendedActions []string  `json:"recommendedActions"`
	AffectedProviders  []string  `json:"affectedProviders"`
	Country            string    `json:"country"`
	CreatedAt          time.Time `json:"createdAt"`
	ExpiresAt          time.Time `json:"expiresAt"`
}

// Affects reports whether provider is listed in AffectedProviders.
func (a Alert) Affects(provider string) bool {
	for _, p := range a.AffectedProviders {
		if p == provider {
			return true
		}
	}
	return false
}

// AlertFilter narrows GetActiveAlerts. Zero fields match everything.
type AlertFilter struct {
	Severity Severity
	Category Category
	Provider string
}

func (f AlertFilter) match(a Alert) bool {
	if f.Severity != "" && a.Severity != f.Severity {
		return false
	}
	if f.Category != "" && a.Category != f.Category {
		return false
	}
	if f.Provider != "" && !a.Affects(f.Provider) {
		return false
	}
	return true
}

type dedupeKey struct {
	signal   Signal
	severity Severity
	provider string
	country  string
}

// alertSet holds the active alerts. Expired entries are dropped whenever the set is touched.
type alertSet struct {
	mu     sync.Mutex
	limit  int
	byID   map[string]Alert
	byKey  map[dedupeKey]string
	keyFor map[string]dedupeKey
}

func newAlertSet(limit int) *alertSet {
	return &alertSet{
		limit:  limit,
		byID:   make(map[string]Alert),
		byKey:  make(map[dedupeKey]string),
		keyFor: make(map[string]dedupeKey),
	}
}

// add stores a unless an active alert with the same key exists. It reports whether a was stored.
func (s *alertSet) add(key dedupeKey, a Alert, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expire(now)

	if _, dup := s.byKey[key]; dup {
		return false
	}
	for len(s.byID) >= s.limit {
		s.removeLocked(s.oldestLocked())
	}
	s.byID[a.ID] = a
	s.byKey[key] = a.ID
	s.keyFor[a.ID] = key
	return true
}

func (s *alertSet) remove(id string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expire(now)
	if _, ok := s.byID[id]; !ok {
		return false
	}
	s.removeLocked(id)
	return true
}

func (s *alertSet) active(f AlertFilter, now time.Time) []Alert {
	s.mu.Lock()
	s.expire(now)
	out := make([]Alert, 0, len(s.byID))
	for _, a := range s.byID {
		if f.match(a) {
			out = append(out, a)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *alertSet) count(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expire(now)
	return len(s.byID)
}

func (s *alertSet) expire(now time.Time) {
	for id, a := range s.byID {
		if now.After(a.ExpiresAt) {
			s.removeLocked(id)
		}
	}
}

func (s *alertSet) oldestLocked() string {
	var (
		oldest string
		at     time.Time
	)
	for id, a := range s.byID {
		if oldest == "" || a.CreatedAt.Before(at) {
			oldest, at = id, a.CreatedAt
		}
	}
	return oldest
}

func (s *alertSet) removeLocked(id string) {
	if key, ok := s.keyFor[id]; ok {
		delete(s.byKey, key)
		delete(s.keyFor, id)
	}
	delete(s.byID, id)
}
