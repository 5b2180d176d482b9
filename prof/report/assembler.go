// Package report joins trace records, correlation links and operation metrics
// into the final per-kernel report, and aggregates it per operation.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/inference-sim/kprof/prof"
)

// Bound classifications.
const (
	BoundCompute = "compute"
	BoundMemory  = "memory"
)

// Rate is a derived floating-point throughput that may be unknown.
type Rate struct {
	Value float64
	Known bool
}

// MarshalJSON writes the shortest exact decimal form, or "unknown".
func (r Rate) MarshalJSON() ([]byte, error) {
	if !r.Known {
		return json.Marshal(prof.Unknown)
	}
	return []byte(strconv.FormatFloat(r.Value, 'g', -1, 64)), nil
}

func (r Rate) String() string {
	if !r.Known {
		return prof.Unknown
	}
	return strconv.FormatFloat(r.Value, 'g', -1, 64)
}

// Record is one line of the report. Every field is always present; values
// that could not be derived serialize as "unknown". Field order is the
// serialization order.
type Record struct {
	Index            int                  `json:"index"`
	KernelID         int64                `json:"kernel_id"`
	Kernel           string               `json:"kernel"`
	StartNs          int64                `json:"start_ns"`
	EndNs            int64                `json:"end_ns"`
	DurationNs       int64                `json:"duration_ns"`
	OffsetNs         int64                `json:"offset_ns"`
	Device           uint32               `json:"device"`
	Stream           uint32               `json:"stream"`
	Thread           uint64               `json:"thread"`
	Process          uint32               `json:"process"`
	CorrelationID    uint32               `json:"correlation_id"`
	Grid             prof.Dim3            `json:"grid"`
	Block            prof.Dim3            `json:"block"`
	StaticSharedMem  int64                `json:"static_shared_mem"`
	DynamicSharedMem int64                `json:"dynamic_shared_mem"`
	LaunchStartNs    int64                `json:"launch_start_ns"`
	LaunchEndNs      int64                `json:"launch_end_ns"`
	BytesTransferred int64                `json:"bytes_transferred"`
	Op               string               `json:"op"`
	Direction        prof.Direction       `json:"direction"`
	Seq              prof.Count           `json:"seq"`
	Layers           []string             `json:"layers"`
	Stack            []string             `json:"stack"`
	Correlation      prof.CorrelationLink `json:"correlation"`
	FLOPs            prof.Count           `json:"flops"`
	Bytes            prof.Count           `json:"bytes"`
	TensorCore       prof.Flag            `json:"tensor_core"`
	AchievedTFLOPs   Rate                 `json:"achieved_tflops"`
	AchievedGBps     Rate                 `json:"achieved_gbps"`
	Bound            string               `json:"bound"`

	opaque []string
}

// Assemble produces one Record per trace record, in input order. links must
// be aligned with records, as returned by prof.Correlate; a missing link is
// reported as not applicable. hw may be nil, in which case bound is unknown.
func Assemble(records []prof.TraceRecord, links []prof.CorrelationLink, reg *prof.Registry, env prof.CostEnv, hw *prof.HardwareCalib) []Record {
	out := make([]Record, len(records))
	for i := range records {
		link := prof.CorrelationLink{Status: prof.NotApplicable, Forward: []int{}}
		if i < len(links) {
			link = links[i]
			if link.Forward == nil {
				link.Forward = []int{}
			}
		}
		out[i] = assembleOne(&records[i], link, reg, env, hw)
	}
	return out
}

func assembleOne(r *prof.TraceRecord, link prof.CorrelationLink, reg *prof.Registry, env prof.CostEnv, hw *prof.HardwareCalib) Record {
	rec := Record{
		Index:            r.Index,
		KernelID:         r.KernelID,
		Kernel:           r.Name,
		StartNs:          r.Start,
		EndNs:            r.End,
		DurationNs:       r.Duration,
		OffsetNs:         r.Offset,
		Device:           r.Device,
		Stream:           r.Stream,
		Thread:           r.Thread,
		Process:          r.Process,
		CorrelationID:    r.CorrelationID,
		Grid:             r.Grid,
		Block:            r.Block,
		StaticSharedMem:  r.StaticSharedMem,
		DynamicSharedMem: r.DynamicSharedMem,
		LaunchStartNs:    r.LaunchStart,
		LaunchEndNs:      r.LaunchEnd,
		BytesTransferred: r.Bytes,
		Op:               prof.Unknown,
		Direction:        r.Direction,
		Layers:           append([]string{}, r.Layers...),
		Stack:            make([]string, len(r.Stack)),
		Correlation:      link,
		Bound:            prof.Unknown,
	}
	for j, a := range r.Stack {
		rec.Stack[j] = a.String()
		if _, ok := a.(*prof.OpaqueMarker); ok {
			rec.opaque = append(rec.opaque, a.String())
		}
	}
	if seq, ok := r.Seq(); ok {
		rec.Seq = prof.KnownCount(seq)
	}

	op := r.Op()
	if op != nil {
		rec.Op = op.Op
	}
	var m prof.OpMetrics
	if reg != nil {
		m, _ = reg.Compute(op, env)
	}
	rec.FLOPs, rec.Bytes, rec.TensorCore = m.FLOPs, m.Bytes, m.TensorCore

	if r.Duration > 0 {
		d := float64(r.Duration)
		if m.FLOPs.Known {
			rec.AchievedTFLOPs = Rate{Value: float64(m.FLOPs.Value) / d / 1e3, Known: true}
		}
		if m.Bytes.Known {
			rec.AchievedGBps = Rate{Value: float64(m.Bytes.Value) / d, Known: true}
		}
	}
	rec.Bound = classify(m, hw)
	return rec
}

// classify compares arithmetic intensity with the hardware ridge point.
func classify(m prof.OpMetrics, hw *prof.HardwareCalib) string {
	if hw == nil || !m.FLOPs.Known || !m.Bytes.Known || m.Bytes.Value == 0 {
		return prof.Unknown
	}
	ridge := hw.RidgePoint()
	if ridge <= 0 {
		return prof.Unknown
	}
	if float64(m.FLOPs.Value)/float64(m.Bytes.Value) >= ridge {
		return BoundCompute
	}
	return BoundMemory
}

// WriteJSONL writes one JSON object per record, each on its own line.
func WriteJSONL(w io.Writer, records []Record) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for i := range records {
		if err := enc.Encode(&records[i]); err != nil {
			return fmt.Errorf("encode record %d: %w", records[i].Index, err)
		}
	}
	return nil
}
