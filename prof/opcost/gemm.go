package opcost

import (
	"fmt"

	"github.com/inference-sim/kprof/prof"
)

// gemmShape is a (possibly batched) matrix multiply [batch] x (m,k) x (k,n).
type gemmShape struct {
	batch, m, k, n int64
}

func (g gemmShape) flops() prof.Count {
	return flopCount(mul(2, g.batch, g.m, g.k, g.n))
}

func (g gemmShape) outElems() (int64, bool) {
	return mul(g.batch, g.m, g.n)
}

// tensorCoreEligible reports whether both multiply operands are reduced
// precision and every other tensor is reduced precision or the accumulation
// dtype. The flag is unknown if any dtype is unrecognized.
func tensorCoreEligible(a, b prof.ArgDesc, others []prof.ArgDesc, env prof.CostEnv) prof.Flag {
	for _, arg := range append([]prof.ArgDesc{a, b}, others...) {
		if _, ok := prof.CanonicalDType(arg.DType); !ok {
			return prof.Flag{}
		}
	}
	if !prof.IsReducedPrecision(a.DType) || !prof.IsReducedPrecision(b.DType) {
		return prof.KnownFlag(false)
	}
	for _, o := range others {
		if !prof.IsReducedPrecision(o.DType) && !prof.SameDType(o.DType, env.AccumDType) {
			return prof.KnownFlag(false)
		}
	}
	return prof.KnownFlag(true)
}

func gemmMetrics(g gemmShape, a, b prof.ArgDesc, extra []prof.ArgDesc, env prof.CostEnv) prof.OpMetrics {
	var bytes byteTally
	bytes.addArg(a)
	bytes.addArg(b)
	for _, e := range extra {
		bytes.addArg(e)
	}
	if out, ok := g.outElems(); ok {
		bytes.addElems(out, a.DType)
	} else {
		bytes.bad = true
	}
	return prof.OpMetrics{
		FLOPs:      g.flops(),
		Bytes:      bytes.count(),
		TensorCore: tensorCoreEligible(a, b, extra, env),
	}
}

// linear computes y = x W^T (+ b) with x [..., k] and W [n, k].
func linear(args []prof.ArgDesc, env prof.CostEnv) (prof.OpMetrics, error) {
	ts := tensors(args)
	if len(ts) < 2 || len(ts) > 3 {
		return prof.OpMetrics{}, errArity
	}
	x, w := ts[0], ts[1]
	if len(w.Shape) != 2 {
		return prof.OpMetrics{}, fmt.Errorf("%w: weight %v", errShape, w.Shape)
	}
	k := x.Shape[len(x.Shape)-1]
	if w.Shape[1] != k {
		return prof.OpMetrics{}, fmt.Errorf("%w: input %v, weight %v", errShape, x.Shape, w.Shape)
	}
	m, ok := product(x.Shape[:len(x.Shape)-1])
	if !ok {
		return prof.OpMetrics{}, errOverflow
	}
	g := gemmShape{batch: 1, m: m, k: k, n: w.Shape[0]}
	return gemmMetrics(g, x, w, ts[2:], env), nil
}

// matmul follows torch.matmul: 1-D operands are promoted to a row or column
// vector and leading dimensions broadcast as a batch.
func matmul(args []prof.ArgDesc, env prof.CostEnv) (prof.OpMetrics, error) {
	ts := tensors(args)
	if len(ts) != 2 {
		return prof.OpMetrics{}, errArity
	}
	a, b := ts[0], ts[1]
	as, bs := a.Shape, b.Shape
	if len(as) == 1 {
		as = []int64{1, as[0]}
	}
	if len(bs) == 1 {
		bs = []int64{bs[0], 1}
	}
	m, k := as[len(as)-2], as[len(as)-1]
	if bs[len(bs)-2] != k {
		return prof.OpMetrics{}, fmt.Errorf("%w: %v x %v", errShape, a.Shape, b.Shape)
	}
	batchShape, err := broadcast(as[:len(as)-2], bs[:len(bs)-2])
	if err != nil {
		return prof.OpMetrics{}, err
	}
	batch, ok := product(batchShape)
	if !ok {
		return prof.OpMetrics{}, errOverflow
	}
	g := gemmShape{batch: batch, m: m, k: k, n: bs[len(bs)-1]}
	return gemmMetrics(g, a, b, nil, env), nil
}

// mm multiplies two 2-D matrices.
func mm(args []prof.ArgDesc, env prof.CostEnv) (prof.OpMetrics, error) {
	ts := tensors(args)
	if len(ts) != 2 {
		return prof.OpMetrics{}, errArity
	}
	a, b := ts[0], ts[1]
	if len(a.Shape) != 2 || len(b.Shape) != 2 || a.Shape[1] != b.Shape[0] {
		return prof.OpMetrics{}, fmt.Errorf("%w: %v x %v", errShape, a.Shape, b.Shape)
	}
	g := gemmShape{batch: 1, m: a.Shape[0], k: a.Shape[1], n: b.Shape[1]}
	return gemmMetrics(g, a, b, nil, env), nil
}

// bmm multiplies two 3-D batches of matrices with equal batch size.
func bmm(args []prof.ArgDesc, env prof.CostEnv) (prof.OpMetrics, error) {
	ts := tensors(args)
	if len(ts) != 2 {
		return prof.OpMetrics{}, errArity
	}
	a, b := ts[0], ts[1]
	if len(a.Shape) != 3 || len(b.Shape) != 3 || a.Shape[0] != b.Shape[0] || a.Shape[2] != b.Shape[1] {
		return prof.OpMetrics{}, fmt.Errorf("%w: %v x %v", errShape, a.Shape, b.Shape)
	}
	g := gemmShape{batch: a.Shape[0], m: a.Shape[1], k: a.Shape[2], n: b.Shape[2]}
	return gemmMetrics(g, a, b, nil, env), nil
}

// addmm computes beta*c + alpha*(a x b). Only the product is counted, so the
// FLOPs match mm on the same operands.
func addmm(args []prof.ArgDesc, env prof.CostEnv) (prof.OpMetrics, error) {
	ts := tensors(args)
	if len(ts) != 3 {
		return prof.OpMetrics{}, errArity
	}
	c, a, b := ts[0], ts[1], ts[2]
	if len(a.Shape) != 2 || len(b.Shape) != 2 || a.Shape[1] != b.Shape[0] {
		return prof.OpMetrics{}, fmt.Errorf("%w: %v x %v", errShape, a.Shape, b.Shape)
	}
	g := gemmShape{batch: 1, m: a.Shape[0], k: a.Shape[1], n: b.Shape[1]}
	return gemmMetrics(g, a, b, []prof.ArgDesc{c}, env), nil
}
