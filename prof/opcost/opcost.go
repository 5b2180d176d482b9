// Package opcost provides the FLOPs and memory-traffic formulas for the
// operations kprof recognizes. Importing the package registers every formula
// into prof.DefaultRegistry (see register.go).
//
// Conventions shared by all formulas:
//   - a multiply-add counts as 2 FLOPs
//   - an argument with an empty shape is a scalar and counts as one element
//   - bytes are operands read plus results written, each element at its dtype width
//   - arithmetic is overflow checked; an overflow makes the affected value unknown
package opcost

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/inference-sim/kprof/prof"
)

var (
	errArity     = errors.New("wrong number of tensor arguments")
	errShape     = errors.New("incompatible shapes")
	errOverflow  = errors.New("count overflows int64")
	errBadScalar = errors.New("invalid scalar argument")
)

// tensors returns the arguments that have at least one dimension.
func tensors(args []prof.ArgDesc) []prof.ArgDesc {
	out := make([]prof.ArgDesc, 0, len(args))
	for _, a := range args {
		if !a.IsScalar() {
			out = append(out, a)
		}
	}
	return out
}

// scalarValues returns the embedded values of scalar arguments, in order.
func scalarValues(args []prof.ArgDesc) []string {
	var out []string
	for _, a := range args {
		if a.IsScalar() && a.Value != nil {
			out = append(out, *a.Value)
		}
	}
	return out
}

// product multiplies dims, reporting overflow.
func product(dims []int64) (int64, bool) {
	n := int64(1)
	for _, d := range dims {
		var ok bool
		if n, ok = prof.MulInt64(n, d); !ok {
			return 0, false
		}
	}
	return n, true
}

// mul chains MulInt64 over all factors.
func mul(factors ...int64) (int64, bool) {
	return product(factors)
}

// flopCount wraps a FLOP total computed with mul/product.
func flopCount(v int64, ok bool) prof.Count {
	if !ok {
		return prof.Count{}
	}
	return prof.KnownCount(v)
}

// byteTally accumulates element counts at dtype widths. Any unknown dtype or
// overflow turns the whole tally unknown.
type byteTally struct {
	total int64
	bad   bool
}

func (t *byteTally) addElems(elems int64, dtype string) {
	if t.bad {
		return
	}
	w, ok := prof.DTypeWidth(dtype)
	if !ok {
		t.bad = true
		return
	}
	b, ok := prof.MulInt64(elems, w)
	if !ok {
		t.bad = true
		return
	}
	if t.total, ok = prof.AddInt64(t.total, b); !ok {
		t.bad = true
	}
}

func (t *byteTally) addArg(a prof.ArgDesc) {
	n, ok := a.Elements()
	if !ok {
		t.bad = true
		return
	}
	t.addElems(n, a.DType)
}

func (t *byteTally) count() prof.Count {
	if t.bad {
		return prof.Count{}
	}
	return prof.KnownCount(t.total)
}

// parseIntList reads a scalar value such as "2", "(2, 2)" or "[1,-1]".
func parseIntList(v string) ([]int64, error) {
	v = strings.TrimSpace(v)
	v = strings.Trim(v, "()[]")
	if strings.TrimSpace(v) == "" {
		return nil, nil
	}
	var out []int64
	for _, f := range strings.Split(v, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		n, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", errBadScalar, v)
		}
		out = append(out, n)
	}
	return out, nil
}

// broadcast returns the broadcast shape of a and b.
func broadcast(a, b []int64) ([]int64, error) {
	n := max(len(a), len(b))
	out := make([]int64, n)
	for i := 0; i < n; i++ {
		da, db := int64(1), int64(1)
		if j := len(a) - n + i; j >= 0 {
			da = a[j]
		}
		if j := len(b) - n + i; j >= 0 {
			db = b[j]
		}
		switch {
		case da == db, db == 1:
			out[i] = da
		case da == 1:
			out[i] = db
		default:
			return nil, fmt.Errorf("%w: %v and %v", errShape, a, b)
		}
	}
	return out, nil
}

// outputDType is the dtype of the first tensor argument, or of the first
// argument when every argument is a scalar.
func outputDType(args []prof.ArgDesc) string {
	for _, a := range args {
		if !a.IsScalar() {
			return a.DType
		}
	}
	if len(args) > 0 {
		return args[0].DType
	}
	return ""
}
