package prof

// TraceRecord is the Builder's output for one kernel launch. Records are not
// modified after Build; correlation links and metrics live in side tables.
type TraceRecord struct {
	Index    int // position in trace order
	KernelID int64
	Name     string
	Kind     EventKind // KernelLaunch or Memcpy

	Start    int64
	End      int64
	Duration int64
	// Offset is Start relative to the first event of the profile.
	Offset int64

	Device        uint32
	Stream        uint32
	Process       uint32
	Thread        uint64
	CorrelationID uint32
	Grid          Dim3
	Block         Dim3
	Bytes         int64

	StaticSharedMem  int64
	DynamicSharedMem int64
	// LaunchStart and LaunchEnd span the launching CPU call, 0 when none was recorded.
	LaunchStart int64
	LaunchEnd   int64

	// Stack holds the enclosing annotations, outermost first.
	Stack     []Annotation
	Direction Direction
	// Layers holds layer tags found on the stack, outermost first.
	Layers []string
}

// Op returns the innermost OpAnnotation on the stack, nil if there is none.
func (r *TraceRecord) Op() *OpAnnotation {
	for i := len(r.Stack) - 1; i >= 0; i-- {
		if op, ok := r.Stack[i].(*OpAnnotation); ok {
			return op
		}
	}
	return nil
}

// Seq returns the sequence id of the innermost annotation that carries one.
func (r *TraceRecord) Seq() (int64, bool) {
	for i := len(r.Stack) - 1; i >= 0; i-- {
		if op, ok := r.Stack[i].(*OpAnnotation); ok && op.HasSeq() {
			return *op.Seq, true
		}
	}
	return 0, false
}

// CorrelationStatus classifies a record's CorrelationLink.
type CorrelationStatus string

const (
	Correlated    CorrelationStatus = "correlated"
	Uncorrelated  CorrelationStatus = "uncorrelated"
	NotApplicable CorrelationStatus = "not_applicable"
)

// CorrelationLink relates a backward record to the forward records that share
// its sequence id. Forward holds record indices in ascending order.
type CorrelationLink struct {
	Status  CorrelationStatus `json:"status"`
	Forward []int             `json:"forward"`
}
