package observability

import (
	"math"
	"slices"
	"sync"
	"time"
)

// latencyBudgetsMS is the p95 each façade operation should stay under for a
// voice turn to feel immediate. Operations without an entry have no budget.
var latencyBudgetsMS = map[string]float64{
	"get_context":    20,
	"get_stats":      20,
	"add_message":    50,
	"set_preference": 50,
	"clear_memory":   50,
}

// OperationLatency summarizes the recent calls of one operation.
type OperationLatency struct {
	Operation string  `json:"operation"`
	Samples   int     `json:"samples"`
	Calls     int     `json:"calls"`
	Failures  int     `json:"failures"`
	LastMS    float64 `json:"last_ms"`
	MeanMS    float64 `json:"mean_ms"`
	P50MS     float64 `json:"p50_ms"`
	P95MS     float64 `json:"p95_ms"`
	P99MS     float64 `json:"p99_ms"`
	BudgetMS  float64 `json:"budget_p95_ms,omitempty"`
	// OverBudget is set when the recent p95 exceeds BudgetMS.
	OverBudget bool `json:"over_budget"`
}

type LatencySnapshot struct {
	GeneratedAt time.Time          `json:"generated_at"`
	WindowSize  int                `json:"window_size"`
	Operations  []OperationLatency `json:"operations"`
}

// opLatency holds the most recent durations of one operation, oldest first,
// and lifetime call and failure counts.
type opLatency struct {
	recent   []float64
	calls    int
	failures int
}

type latencyTracker struct {
	mu    sync.Mutex
	limit int
	ops   map[string]*opLatency
}

func newLatencyTracker(limit int) *latencyTracker {
	if limit <= 0 {
		limit = 256
	}
	return &latencyTracker{limit: limit, ops: make(map[string]*opLatency)}
}

func (t *latencyTracker) record(op string, ms float64, failed bool) {
	if op == "" || ms < 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	o := t.ops[op]
	if o == nil {
		o = &opLatency{recent: make([]float64, 0, t.limit)}
		t.ops[op] = o
	}
	if len(o.recent) == t.limit {
		o.recent = append(o.recent[:0], o.recent[1:]...)
	}
	o.recent = append(o.recent, ms)
	o.calls++
	if failed {
		o.failures++
	}
}

func (t *latencyTracker) snapshot() LatencySnapshot {
	t.mu.Lock()
	out := make([]OperationLatency, 0, len(t.ops))
	for name, o := range t.ops {
		out = append(out, summarize(name, o))
	}
	t.mu.Unlock()

	slices.SortFunc(out, func(a, b OperationLatency) int {
		switch {
		case a.Operation < b.Operation:
			return -1
		case a.Operation > b.Operation:
			return 1
		}
		return 0
	})
	return LatencySnapshot{GeneratedAt: time.Now().UTC(), WindowSize: t.limit, Operations: out}
}

func summarize(name string, o *opLatency) OperationLatency {
	sorted := slices.Clone(o.recent)
	slices.Sort(sorted)

	var total float64
	for _, v := range sorted {
		total += v
	}
	s := OperationLatency{
		Operation: name,
		Samples:   len(sorted),
		Calls:     o.calls,
		Failures:  o.failures,
		BudgetMS:  latencyBudgetsMS[name],
	}
	if len(sorted) > 0 {
		s.LastMS = roundMS(o.recent[len(o.recent)-1])
		s.MeanMS = roundMS(total / float64(len(sorted)))
		s.P50MS = roundMS(percentile(sorted, 50))
		s.P95MS = roundMS(percentile(sorted, 95))
		s.P99MS = roundMS(percentile(sorted, 99))
	}
	s.OverBudget = s.BudgetMS > 0 && s.P95MS > s.BudgetMS
	return s
}

// percentile uses the nearest-rank method on an ascending slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	rank = max(1, min(rank, len(sorted)))
	return sorted[rank-1]
}

func roundMS(v float64) float64 {
	return math.Round(v*100) / 100
}
