package prof

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
)

// Unknown is the serialized form of a value that could not be computed.
const Unknown = "unknown"

// Count is a non-negative integer that may be unknown.
type Count struct {
	Value int64
	Known bool
}

// KnownCount wraps a computed value.
func KnownCount(v int64) Count { return Count{Value: v, Known: true} }

func (c Count) String() string {
	if !c.Known {
		return Unknown
	}
	return strconv.FormatInt(c.Value, 10)
}

// MarshalJSON writes the number, or "unknown".
func (c Count) MarshalJSON() ([]byte, error) {
	if !c.Known {
		return json.Marshal(Unknown)
	}
	return []byte(strconv.FormatInt(c.Value, 10)), nil
}

// Scale multiplies a known count, turning it unknown on overflow.
func (c Count) Scale(f int64) Count {
	if !c.Known {
		return c
	}
	v, ok := MulInt64(c.Value, f)
	if !ok {
		return Count{}
	}
	return KnownCount(v)
}

// Flag is a boolean that may be unknown.
type Flag struct {
	Value bool
	Known bool
}

// KnownFlag wraps a computed boolean.
func KnownFlag(v bool) Flag { return Flag{Value: v, Known: true} }

func (f Flag) String() string {
	if !f.Known {
		return Unknown
	}
	return strconv.FormatBool(f.Value)
}

// MarshalJSON writes true/false, or "unknown".
func (f Flag) MarshalJSON() ([]byte, error) {
	if !f.Known {
		return json.Marshal(Unknown)
	}
	return json.Marshal(f.Value)
}

// OpMetrics is the computed cost of one operation.
type OpMetrics struct {
	FLOPs      Count `json:"flops"`
	Bytes      Count `json:"bytes"`
	TensorCore Flag  `json:"tensor_core"`
}

// UnknownMetrics has every field unknown.
func UnknownMetrics() OpMetrics { return OpMetrics{} }

// CostEnv carries run-wide settings that calculators may consult.
type CostEnv struct {
	// AccumDType is the designated accumulation dtype that may accompany
	// reduced-precision operands without disqualifying tensor-core use.
	AccumDType string
}

// DefaultCostEnv accumulates in fp32.
func DefaultCostEnv() CostEnv { return CostEnv{AccumDType: DTypeFP32} }

// Calculator computes OpMetrics from an operation's arguments. Calculators are
// pure. An error means the arguments do not fit the formula; the registry then
// reports unknown metrics for that operation.
type Calculator func(args []ArgDesc, env CostEnv) (OpMetrics, error)

// Registry maps canonical operation names to calculators.
type Registry struct {
	mu    sync.RWMutex
	calcs map[string]Calculator
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{calcs: make(map[string]Calculator)}
}

// DefaultRegistry is populated by prof/opcost at init time.
var DefaultRegistry = NewRegistry()

// Register adds or replaces the calculator for name.
func (r *Registry) Register(name string, calc Calculator) {
	if name == "" || calc == nil {
		panic(fmt.Sprintf("prof: invalid registration for %q", name))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calcs[name] = calc
}

// Lookup returns the calculator registered for name.
func (r *Registry) Lookup(name string) (Calculator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.calcs[name]
	return c, ok
}

// Names returns the registered operation names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.calcs))
	for n := range r.calcs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Compute evaluates the calculator for op. The boolean is false when the
// operation is not registered or its arguments did not fit the formula; the
// metrics are then all unknown.
func (r *Registry) Compute(op *OpAnnotation, env CostEnv) (OpMetrics, bool) {
	if op == nil {
		return UnknownMetrics(), false
	}
	calc, ok := r.Lookup(op.Op)
	if !ok {
		return UnknownMetrics(), false
	}
	m, err := calc(op.Args, env)
	if err != nil {
		return UnknownMetrics(), false
	}
	return m, true
}

// MulInt64 multiplies non-negative values, reporting overflow.
func MulInt64(a, b int64) (int64, bool) {
	if a < 0 || b < 0 {
		return 0, false
	}
	if a == 0 || b == 0 {
		return 0, true
	}
	if a > math.MaxInt64/b {
		return 0, false
	}
	return a * b, true
}

// AddInt64 adds non-negative values, reporting overflow.
func AddInt64(a, b int64) (int64, bool) {
	if a < 0 || b < 0 || a > math.MaxInt64-b {
		return 0, false
	}
	return a + b, true
}
