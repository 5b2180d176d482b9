// register.go wires the opcost formulas into prof.DefaultRegistry. The init()
// runs when any package imports prof/opcost; prof itself stays free of the
// formulas so new operations are added here by registering, never by editing
// the dispatch.
package opcost

import "github.com/inference-sim/kprof/prof"

// backwardFactor scales forward FLOPs and bytes for <op>_backward: the
// backward pass computes the gradients of both multiply operands.
const backwardFactor = 2

func init() {
	Register(prof.DefaultRegistry)
}

// Register adds every formula in this package to r.
func Register(r *prof.Registry) {
	gemmLike := map[string]prof.Calculator{
		"linear": linear,
		"matmul": matmul,
		"mm":     mm,
		"bmm":    bmm,
		"addmm":  addmm,
		"conv1d": convCalculator(1),
		"conv2d": convCalculator(2),
		"conv3d": convCalculator(3),
	}
	for name, calc := range gemmLike {
		r.Register(name, calc)
		r.Register(name+"_backward", backward(calc))
	}

	for name, f := range unaryFlopsPerElem {
		r.Register(name, unaryCalculator(name, f))
	}
	for _, name := range []string{"add", "sub", "mul", "div", "pow"} {
		r.Register(name, binary)
	}
	r.Register("copy_", copyInPlace)
	r.Register("clone", clone)
	r.Register("contiguous", clone)
	r.Register("softmax", softmax)
	r.Register("log_softmax", softmax)
	r.Register("layer_norm", normalization)
	r.Register("batch_norm", normalization)
	r.Register("sum", reduction)
	r.Register("mean", reduction)
	r.Register("embedding", embedding)
}

// backward derives a <op>_backward formula from the forward one.
func backward(fwd prof.Calculator) prof.Calculator {
	return func(args []prof.ArgDesc, env prof.CostEnv) (prof.OpMetrics, error) {
		m, err := fwd(args, env)
		if err != nil {
			return prof.OpMetrics{}, err
		}
		m.FLOPs = m.FLOPs.Scale(backwardFactor)
		m.Bytes = m.Bytes.Scale(backwardFactor)
		return m, nil
	}
}
