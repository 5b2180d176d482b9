package opcost

import (
	"github.com/inference-sim/kprof/prof"
)

// unaryFlopsPerElem is the FLOP cost per element of elementwise unary ops.
// Transcendentals are counted as a handful of FLOPs, matching how vector
// units expand them.
var unaryFlopsPerElem = map[string]int64{
	"relu":    1,
	"neg":     1,
	"abs":     1,
	"exp":     1,
	"log":     1,
	"sqrt":    1,
	"sigmoid": 4,
	"tanh":    4,
	"silu":    5,
	"gelu":    8,
	"dropout": 2,
}

// unaryCalculator charges flopsPerElem per element of the first argument and
// one read plus one write of it. dropout also writes a one-byte mask.
func unaryCalculator(name string, flopsPerElem int64) prof.Calculator {
	return func(args []prof.ArgDesc, _ prof.CostEnv) (prof.OpMetrics, error) {
		if len(args) == 0 {
			return prof.OpMetrics{}, errArity
		}
		x := args[0]
		if ts := tensors(args); len(ts) > 0 {
			x = ts[0]
		}
		n, ok := x.Elements()
		if !ok {
			return prof.OpMetrics{}, errOverflow
		}
		var bytes byteTally
		bytes.addElems(n, x.DType)
		bytes.addElems(n, x.DType)
		if name == "dropout" {
			bytes.addElems(n, prof.DTypeBool)
		}
		return prof.OpMetrics{
			FLOPs:      flopCount(mul(n, flopsPerElem)),
			Bytes:      bytes.count(),
			TensorCore: prof.KnownFlag(false),
		}, nil
	}
}

// binary covers add, sub, mul, div and pow with broadcasting: one FLOP per
// output element; both inputs read once and the output written once.
func binary(args []prof.ArgDesc, _ prof.CostEnv) (prof.OpMetrics, error) {
	if len(args) < 2 {
		return prof.OpMetrics{}, errArity
	}
	a, b := args[0], args[1]
	outShape, err := broadcast(a.Shape, b.Shape)
	if err != nil {
		return prof.OpMetrics{}, err
	}
	out, ok := product(outShape)
	if !ok {
		return prof.OpMetrics{}, errOverflow
	}
	var bytes byteTally
	bytes.addArg(a)
	bytes.addArg(b)
	bytes.addElems(out, outputDType(args[:2]))
	return prof.OpMetrics{
		FLOPs:      prof.KnownCount(out),
		Bytes:      bytes.count(),
		TensorCore: prof.KnownFlag(false),
	}, nil
}

// copyInPlace is copy_(dst, src): no arithmetic, src read and dst written.
func copyInPlace(args []prof.ArgDesc, _ prof.CostEnv) (prof.OpMetrics, error) {
	if len(args) < 2 {
		return prof.OpMetrics{}, errArity
	}
	var bytes byteTally
	bytes.addArg(args[0])
	bytes.addArg(args[1])
	return prof.OpMetrics{
		FLOPs:      prof.KnownCount(0),
		Bytes:      bytes.count(),
		TensorCore: prof.KnownFlag(false),
	}, nil
}

// clone reads its input and writes a copy of it.
func clone(args []prof.ArgDesc, _ prof.CostEnv) (prof.OpMetrics, error) {
	if len(args) == 0 {
		return prof.OpMetrics{}, errArity
	}
	var bytes byteTally
	bytes.addArg(args[0])
	bytes.addArg(args[0])
	return prof.OpMetrics{
		FLOPs:      prof.KnownCount(0),
		Bytes:      bytes.count(),
		TensorCore: prof.KnownFlag(false),
	}, nil
}
