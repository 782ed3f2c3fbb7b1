// Package dashboard aggregates a read-only operational snapshot: cache
// stats, a bounded recent-queries table, and per-engine success/failure
// counters. Adapted from the teacher's dashboard Service, but with the
// CRUD/sharing surface dropped — there is exactly one dashboard, it has
// no owner, and nothing about it is persisted.
package dashboard

import (
	"sync"
	"time"

	"github.com/querymesh/router/internal/querycache"
)

// RecentQuery is one row of the bounded recent-queries table.
type RecentQuery struct {
	SQL       string    `json:"sql"`
	EngineID  string    `json:"engine_id"`
	WallTimeS float64   `json:"wall_time_s"`
	FromCache bool      `json:"from_cache"`
	Success   bool      `json:"success"`
	At        time.Time `json:"at"`
}

// EngineCounters tallies one engine's execution outcomes.
type EngineCounters struct {
	Successes int64 `json:"successes"`
	Failures  int64 `json:"failures"`
}

// Snapshot is the dashboard's full read model.
type Snapshot struct {
	CacheStats      querycache.Stats          `json:"cache_stats"`
	RecentQueries   []RecentQuery             `json:"recent_queries"`
	EngineCounters  map[string]EngineCounters `json:"engine_counters"`
	ConnectedEvents int                       `json:"connected_events"`
}

const maxRecentQueries = 50

// Service accumulates execution outcomes in memory and renders them
// alongside a live cache-stats read.
type Service struct {
	mu       sync.Mutex
	cache    *querycache.Cache
	recent   []RecentQuery
	counters map[string]EngineCounters
	connected func() int
}

// NewService wires a Service to cache (for live stats) and an optional
// connectedFn reporting the event feed's current subscriber count.
func NewService(cache *querycache.Cache, connectedFn func() int) *Service {
	if connectedFn == nil {
		connectedFn = func() int { return 0 }
	}
	return &Service{
		cache:     cache,
		counters:  make(map[string]EngineCounters),
		connected: connectedFn,
	}
}

// RecordExecution appends q to the recent-queries ring and updates its
// engine's success/failure tally.
func (s *Service) RecordExecution(q RecentQuery) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recent = append(s.recent, q)
	if len(s.recent) > maxRecentQueries {
		s.recent = s.recent[len(s.recent)-maxRecentQueries:]
	}

	c := s.counters[q.EngineID]
	if q.Success {
		c.Successes++
	} else {
		c.Failures++
	}
	s.counters[q.EngineID] = c
}

// Snapshot returns the current aggregated read model.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	recentCopy := make([]RecentQuery, len(s.recent))
	copy(recentCopy, s.recent)
	countersCopy := make(map[string]EngineCounters, len(s.counters))
	for k, v := range s.counters {
		countersCopy[k] = v
	}

	var stats querycache.Stats
	if s.cache != nil {
		stats = s.cache.Stats()
	}

	return Snapshot{
		CacheStats:      stats,
		RecentQueries:   recentCopy,
		EngineCounters:  countersCopy,
		ConnectedEvents: s.connected(),
	}
}
