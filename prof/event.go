package prof

import "math"

// EventKind identifies which trace table a RawEvent came from.
type EventKind int

const (
	MarkerStart EventKind = iota
	MarkerEnd
	KernelLaunch
	RuntimeCall
	Memcpy
)

// String returns the lowercase name of the kind.
func (k EventKind) String() string {
	switch k {
	case MarkerStart:
		return "marker_start"
	case MarkerEnd:
		return "marker_end"
	case KernelLaunch:
		return "kernel"
	case RuntimeCall:
		return "runtime"
	case Memcpy:
		return "memcpy"
	default:
		return "unknown"
	}
}

// Dim3 is a CUDA grid or block dimension.
type Dim3 [3]uint32

// RawEvent is a single row from the trace store. Timestamps are nanoseconds.
// RawEvents are passed by value and never modified after they are read.
type RawEvent struct {
	Kind EventKind
	ID   int64 // row id; for markers, the id shared by the start and end rows

	// Marker rows carry a single timestamp in Start; End equals Start.
	Start int64
	End   int64

	// Payload is the marker text for markers and the symbol name for kernels.
	Payload string

	Device  uint32
	Stream  uint32
	Process uint32
	Thread  uint64

	CorrelationID uint32

	Grid  Dim3
	Block Dim3

	// Bytes is the transfer size for memcpy events, 0 otherwise.
	Bytes int64

	StaticSharedMem  int64
	DynamicSharedMem int64

	// LaunchStart and LaunchEnd span the CPU-side runtime (or driver) call that
	// enqueued a kernel. Both are 0 when no launching call was recorded.
	LaunchStart int64
	LaunchEnd   int64
}

// LaunchTime is the timestamp used to place a kernel inside marker ranges.
// Markers are emitted on the CPU, so the launching call is the right clock;
// the GPU start is the fallback when the call is missing.
func (e RawEvent) LaunchTime() int64 {
	if e.LaunchStart != 0 {
		return e.LaunchStart
	}
	return e.Start
}

// MarkerInterval is the [Start, End) range between a MarkerStart and its MarkerEnd.
type MarkerInterval struct {
	ID      int64
	Thread  uint64
	Start   int64
	End     int64
	Payload string
	// Open is set for markers still on the stack when the trace ends.
	Open bool
}

// Contains reports whether t falls inside [Start, End).
func (m *MarkerInterval) Contains(t int64) bool {
	return m.Start <= t && t < m.End
}

func newOpenInterval(e RawEvent) *MarkerInterval {
	return &MarkerInterval{
		ID:      e.ID,
		Thread:  e.Thread,
		Start:   e.Start,
		End:     math.MaxInt64,
		Payload: e.Payload,
		Open:    true,
	}
}
