package opcost

import (
	"fmt"

	"github.com/inference-sim/kprof/prof"
)

const (
	// softmaxFlopsPerElem counts max, subtract, exp, sum and divide.
	softmaxFlopsPerElem = 5
	// normFlopsPerElem counts mean, variance, normalize, scale and shift.
	normFlopsPerElem = 5
)

// softmax reads and writes its input once.
func softmax(args []prof.ArgDesc, _ prof.CostEnv) (prof.OpMetrics, error) {
	ts := tensors(args)
	if len(ts) == 0 {
		return prof.OpMetrics{}, errArity
	}
	x := ts[0]
	n, ok := x.Elements()
	if !ok {
		return prof.OpMetrics{}, errOverflow
	}
	var bytes byteTally
	bytes.addElems(n, x.DType)
	bytes.addElems(n, x.DType)
	return prof.OpMetrics{
		FLOPs:      flopCount(mul(n, softmaxFlopsPerElem)),
		Bytes:      bytes.count(),
		TensorCore: prof.KnownFlag(false),
	}, nil
}

// normalization covers layer_norm and batch_norm: the input is read and
// written once and every auxiliary tensor (weight, bias, running stats) is
// read once.
func normalization(args []prof.ArgDesc, _ prof.CostEnv) (prof.OpMetrics, error) {
	ts := tensors(args)
	if len(ts) == 0 {
		return prof.OpMetrics{}, errArity
	}
	x := ts[0]
	n, ok := x.Elements()
	if !ok {
		return prof.OpMetrics{}, errOverflow
	}
	var bytes byteTally
	bytes.addElems(n, x.DType)
	bytes.addElems(n, x.DType)
	for _, aux := range ts[1:] {
		bytes.addArg(aux)
	}
	return prof.OpMetrics{
		FLOPs:      flopCount(mul(n, normFlopsPerElem)),
		Bytes:      bytes.count(),
		TensorCore: prof.KnownFlag(false),
	}, nil
}

// reduction covers sum and mean: one FLOP per input element. The first
// scalar value, when present, lists the reduced dimensions; without it the
// whole tensor reduces to one element.
func reduction(args []prof.ArgDesc, _ prof.CostEnv) (prof.OpMetrics, error) {
	ts := tensors(args)
	if len(ts) == 0 {
		return prof.OpMetrics{}, errArity
	}
	x := ts[0]
	n, ok := x.Elements()
	if !ok {
		return prof.OpMetrics{}, errOverflow
	}
	out := int64(1)
	if vals := scalarValues(args); len(vals) > 0 {
		dims, err := parseIntList(vals[0])
		if err != nil {
			return prof.OpMetrics{}, err
		}
		if len(dims) > 0 {
			reduced := make(map[int]bool, len(dims))
			rank := len(x.Shape)
			for _, d := range dims {
				i := int(d)
				if i < 0 {
					i += rank
				}
				if i < 0 || i >= rank {
					return prof.OpMetrics{}, fmt.Errorf("%w: dim %d for shape %v", errShape, d, x.Shape)
				}
				reduced[i] = true
			}
			for i, d := range x.Shape {
				if !reduced[i] {
					if out, ok = prof.MulInt64(out, d); !ok {
						return prof.OpMetrics{}, errOverflow
					}
				}
			}
		}
	}
	var bytes byteTally
	bytes.addElems(n, x.DType)
	bytes.addElems(out, x.DType)
	return prof.OpMetrics{
		FLOPs:      prof.KnownCount(n),
		Bytes:      bytes.count(),
		TensorCore: prof.KnownFlag(false),
	}, nil
}

// embedding gathers rows of weight [V, D] for each index: no arithmetic,
// indices read, and each selected row read and written.
func embedding(args []prof.ArgDesc, _ prof.CostEnv) (prof.OpMetrics, error) {
	ts := tensors(args)
	if len(ts) < 2 {
		return prof.OpMetrics{}, errArity
	}
	idx, w := ts[0], ts[1]
	if len(w.Shape) != 2 {
		return prof.OpMetrics{}, fmt.Errorf("%w: embedding weight %v", errShape, w.Shape)
	}
	n, ok := idx.Elements()
	if !ok {
		return prof.OpMetrics{}, errOverflow
	}
	rows, ok := mul(n, w.Shape[1])
	if !ok {
		return prof.OpMetrics{}, errOverflow
	}
	var bytes byteTally
	bytes.addArg(idx)
	bytes.addElems(rows, w.DType)
	bytes.addElems(rows, w.DType)
	return prof.OpMetrics{
		FLOPs:      prof.KnownCount(0),
		Bytes:      bytes.count(),
		TensorCore: prof.KnownFlag(false),
	}, nil
}
