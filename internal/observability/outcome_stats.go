// Package observability tracks StructuredCDC merge outcomes so operators can
// see the split between retries-exhausted (diverted to violations) and
// logged-only MergeFailure/SchemaDrift outcomes, per spec §9's decision to
// leave the latter two undiverted but surfaced as a metric. Grounded on
// internal/observability/query_stats.go's frequency-counter shape
// (per-key counts, thread-safe, windowed pruning), narrowed from per-column
// query-shape counters to per-(source,table) merge-outcome counters.
package observability

import (
	"sync"
	"time"
)

// Outcome is the category a StructuredCDC merge attempt resolved to.
type Outcome string

const (
	OutcomeRetriesExhausted Outcome = "retries_exhausted"
	OutcomeMergeFailure     Outcome = "merge_failure"
	OutcomeSchemaDrift      Outcome = "schema_drift"
	OutcomeSuccess          Outcome = "success"
)

// tableCounts holds per-outcome counters for one (source, table) pair.
type tableCounts struct {
	counts   map[Outcome]int64
	lastSeen time.Time
}

// OutcomeStats tracks merge-outcome frequency per (source, table), pruned on
// a rolling window like query_stats.go's predicate counters.
type OutcomeStats struct {
	mu     sync.RWMutex
	tables map[string]*tableCounts
	window time.Duration
}

// NewOutcomeStats creates a tracker that prunes entries idle longer than window.
func NewOutcomeStats(window time.Duration) *OutcomeStats {
	return &OutcomeStats{
		tables: make(map[string]*tableCounts),
		window: window,
	}
}

func key(source, table string) string { return source + "/" + table }

// Record increments the counter for (source, table)'s outcome.
func (s *OutcomeStats) Record(source, table string, outcome Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(source, table)
	tc, ok := s.tables[k]
	if !ok {
		tc = &tableCounts{counts: make(map[Outcome]int64)}
		s.tables[k] = tc
	}
	tc.counts[outcome]++
	tc.lastSeen = time.Now()
}

// Snapshot is a single (source, table) row of outcome counts, returned by Report.
type Snapshot struct {
	Source string
	Table  string
	Counts map[Outcome]int64
}

// Report returns a copy of every tracked table's outcome counts.
func (s *OutcomeStats) Report() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Snapshot, 0, len(s.tables))
	for k, tc := range s.tables {
		source, table := splitKey(k)
		counts := make(map[Outcome]int64, len(tc.counts))
		for o, n := range tc.counts {
			counts[o] = n
		}
		out = append(out, Snapshot{Source: source, Table: table, Counts: counts})
	}
	return out
}

func splitKey(k string) (string, string) {
	for i := 0; i < len(k); i++ {
		if k[i] == '/' {
			return k[:i], k[i+1:]
		}
	}
	return k, ""
}

// Prune removes tables idle longer than window.
func (s *OutcomeStats) Prune() {
	s.mu.Lock()
	defer s.mu.Unlock()

	threshold := time.Now().Add(-s.window)
	for k, tc := range s.tables {
		if tc.lastSeen.Before(threshold) {
			delete(s.tables, k)
		}
	}
}
