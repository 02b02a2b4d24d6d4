// Package profiler records per-statement execution metrics in a bounded
// in-memory ring and derives crude index suggestions from the recorded load.
// It is a diagnostics surface only and takes no part in security decisions.
package profiler

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultCapacity bounds the ring when no capacity is configured.
const DefaultCapacity = 1000

// minColumnReferences is how often a column must appear in WHERE or ORDER BY
// clauses before it earns an index suggestion.
const minColumnReferences = 3

// QueryMetrics is one recorded execution.
type QueryMetrics struct {
	Query         string
	ExecutionTime time.Duration
	RowCount      int64
	TenantID      string
	RequestID     string
	Timestamp     time.Time
}

// IndexSuggestion is a recommendation derived from recorded query shapes.
type IndexSuggestion struct {
	Table      string `json:"table"`
	Column     string `json:"column"`
	References int    `json:"references"`
	Statement  string `json:"statement"`
}

// Profiler keeps the most recent executions in a fixed-capacity ring. Once
// the ring is full the oldest entry is evicted, so memory never grows past
// the configured capacity.
type Profiler struct {
	mu      sync.Mutex
	entries []QueryMetrics
	next    int
	size    int
}

// New creates a profiler holding at most capacity entries. A non-positive
// capacity falls back to DefaultCapacity.
func New(capacity int) *Profiler {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Profiler{entries: make([]QueryMetrics, capacity)}
}

// Record stores one execution. A zero timestamp is filled with the current
// time.
func (p *Profiler) Record(m QueryMetrics) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.entries[p.next] = m
	p.next = (p.next + 1) % len(p.entries)
	if p.size < len(p.entries) {
		p.size++
	}
}

// Recent returns up to n recorded executions, newest first. A non-positive n
// returns everything currently held.
func (p *Profiler) Recent(n int) []QueryMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n <= 0 || n > p.size {
		n = p.size
	}
	out := make([]QueryMetrics, 0, n)
	for i := 1; i <= n; i++ {
		idx := (p.next - i + len(p.entries)) % len(p.entries)
		out = append(out, p.entries[idx])
	}
	return out
}

// SlowQueries returns recorded executions that took at least threshold,
// slowest first.
func (p *Profiler) SlowQueries(threshold time.Duration) []QueryMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]QueryMetrics, 0)
	for i := 1; i <= p.size; i++ {
		idx := (p.next - i + len(p.entries)) % len(p.entries)
		if p.entries[idx].ExecutionTime >= threshold {
			out = append(out, p.entries[idx])
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].ExecutionTime > out[b].ExecutionTime
	})
	return out
}

var (
	suggestTablePattern  = regexp.MustCompile(`\b(?:from|update|into)\s+([a-z_][a-z0-9_]*)`)
	suggestColumnPattern = regexp.MustCompile(`\b(?:where|and|or)\s+\(*\s*([a-z_][a-z0-9_]*(?:\.[a-z_][a-z0-9_]*)?)\s*(?:=|!=|<>|<=|>=|<|>|\s(?:like|ilike|in|is|between)\b)`)
	suggestOrderPattern  = regexp.MustCompile(`\border\s+by\s+([a-z0-9_.\s,]+)`)
)

// SuggestIndexes counts column references in WHERE and ORDER BY clauses
// across the recorded statements and proposes an index for every column
// referenced at least three times. The extraction is textual: columns are
// attributed to the first table named in the statement, and statements
// without a recognizable table are skipped. Suggestions come back ordered
// by reference count, then by table and column name.
func (p *Profiler) SuggestIndexes() []IndexSuggestion {
	type key struct{ table, column string }
	counts := map[key]int{}

	for _, m := range p.Recent(0) {
		lower := strings.ToLower(m.Query)

		tm := suggestTablePattern.FindStringSubmatch(lower)
		if tm == nil {
			continue
		}
		table := tm[1]

		for _, cm := range suggestColumnPattern.FindAllStringSubmatch(lower, -1) {
			counts[key{table, columnName(cm[1])}]++
		}
		if om := suggestOrderPattern.FindStringSubmatch(lower); om != nil {
			for _, col := range strings.Split(om[1], ",") {
				col = strings.TrimSpace(col)
				// Drop a trailing ASC/DESC and anything after it.
				if i := strings.IndexByte(col, ' '); i >= 0 {
					col = col[:i]
				}
				if col == "" {
					continue
				}
				counts[key{table, columnName(col)}]++
			}
		}
	}

	out := make([]IndexSuggestion, 0, len(counts))
	for k, n := range counts {
		if n < minColumnReferences {
			continue
		}
		out = append(out, IndexSuggestion{
			Table:      k.table,
			Column:     k.column,
			References: n,
			Statement:  fmt.Sprintf("CREATE INDEX idx_%s_%s ON %s (%s);", k.table, k.column, k.table, k.column),
		})
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].References != out[b].References {
			return out[a].References > out[b].References
		}
		if out[a].Table != out[b].Table {
			return out[a].Table < out[b].Table
		}
		return out[a].Column < out[b].Column
	})
	return out
}

// columnName strips an alias qualifier from a column reference.
func columnName(ref string) string {
	if i := strings.LastIndexByte(ref, '.'); i >= 0 {
		return ref[i+1:]
	}
	return ref
}
