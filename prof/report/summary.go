package report

import (
	"sort"

	"github.com/inference-sim/kprof/prof"
)

// OpSummary aggregates the records attributed to one operation.
type OpSummary struct {
	Op         string
	Kernels    int
	DurationNs int64
	// FLOPs and Bytes sum the records whose metric is known; they turn
	// unknown only on overflow.
	FLOPs   prof.Count
	Bytes   prof.Count
	Unknown int // records whose FLOPs are unknown
}

// Summary aggregates statistics over a report.
type Summary struct {
	TotalKernels    int
	TotalDurationNs int64
	Ops             []OpSummary // by total duration, longest first
	Unattributed    int         // records with no operation annotation
	UnknownMetrics  int         // records whose FLOPs or bytes are unknown
	Uncorrelated    int         // backward records with no forward match
	OpaqueMarkers   int         // distinct payloads that did not match the grammar
}

// Summarize computes aggregate statistics from a report.
// Safe for nil or empty input (returns zero-value fields).
func Summarize(records []Record) *Summary {
	summary := &Summary{}
	byOp := make(map[string]*OpSummary)
	opaque := make(map[string]struct{})

	for i := range records {
		r := &records[i]
		summary.TotalKernels++
		summary.TotalDurationNs += r.DurationNs

		if r.Op == prof.Unknown {
			summary.Unattributed++
		}
		if !r.FLOPs.Known || !r.Bytes.Known {
			summary.UnknownMetrics++
		}
		if r.Correlation.Status == prof.Uncorrelated {
			summary.Uncorrelated++
		}
		for _, raw := range r.opaque {
			opaque[raw] = struct{}{}
		}

		s, ok := byOp[r.Op]
		if !ok {
			s = &OpSummary{Op: r.Op, FLOPs: prof.KnownCount(0), Bytes: prof.KnownCount(0)}
			byOp[r.Op] = s
		}
		s.Kernels++
		s.DurationNs += r.DurationNs
		if r.FLOPs.Known {
			s.FLOPs = addCount(s.FLOPs, r.FLOPs.Value)
		} else {
			s.Unknown++
		}
		if r.Bytes.Known {
			s.Bytes = addCount(s.Bytes, r.Bytes.Value)
		}
	}
	summary.OpaqueMarkers = len(opaque)

	summary.Ops = make([]OpSummary, 0, len(byOp))
	for _, s := range byOp {
		summary.Ops = append(summary.Ops, *s)
	}
	sort.Slice(summary.Ops, func(i, j int) bool {
		a, b := summary.Ops[i], summary.Ops[j]
		if a.DurationNs != b.DurationNs {
			return a.DurationNs > b.DurationNs
		}
		return a.Op < b.Op
	})
	return summary
}

func addCount(c prof.Count, v int64) prof.Count {
	if !c.Known {
		return c
	}
	sum, ok := prof.AddInt64(c.Value, v)
	if !ok {
		return prof.Count{}
	}
	return prof.KnownCount(sum)
}
