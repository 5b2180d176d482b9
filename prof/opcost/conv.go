package opcost

import (
	"fmt"
	"strings"

	"github.com/inference-sim/kprof/prof"
)

// convParams holds the trailing scalar arguments of convNd, each expanded to
// one value per spatial dimension.
type convParams struct {
	stride, padding, dilation []int64
	samePad                   bool
	groups                    int64
}

// parseConvParams reads stride, padding, dilation and groups from the scalar
// arguments in that order. Missing values take the PyTorch defaults.
func parseConvParams(values []string, dims int) (convParams, error) {
	p := convParams{
		stride:   fill(1, dims),
		padding:  fill(0, dims),
		dilation: fill(1, dims),
		groups:   1,
	}
	expand := func(v string) ([]int64, error) {
		l, err := parseIntList(v)
		if err != nil {
			return nil, err
		}
		switch len(l) {
		case 1:
			return fill(l[0], dims), nil
		case dims:
			return l, nil
		default:
			return nil, fmt.Errorf("%w: %q for %d spatial dims", errBadScalar, v, dims)
		}
	}
	var err error
	for i, v := range values {
		switch i {
		case 0:
			p.stride, err = expand(v)
		case 1:
			switch strings.Trim(strings.TrimSpace(v), `'"`) {
			case "valid":
			case "same":
				p.samePad = true
			default:
				p.padding, err = expand(v)
			}
		case 2:
			p.dilation, err = expand(v)
		case 3:
			var g []int64
			if g, err = parseIntList(v); err == nil {
				if len(g) != 1 || g[0] < 1 {
					err = fmt.Errorf("%w: groups %q", errBadScalar, v)
				} else {
					p.groups = g[0]
				}
			}
		}
		if err != nil {
			return convParams{}, err
		}
	}
	for i := 0; i < dims; i++ {
		if p.stride[i] < 1 || p.dilation[i] < 1 || p.padding[i] < 0 {
			return convParams{}, fmt.Errorf("%w: stride %v padding %v dilation %v", errBadScalar, p.stride, p.padding, p.dilation)
		}
	}
	return p, nil
}

func fill(v int64, n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// convCalculator returns the formula for an N-dimensional convolution with
// input [N, C, *spatial] (or unbatched [C, *spatial]) and weight
// [K, C/groups, *kernel]:
//
//	FLOPs = 2 * N * K * (C/groups) * prod(kernel) * prod(out)
func convCalculator(dims int) prof.Calculator {
	return func(args []prof.ArgDesc, env prof.CostEnv) (prof.OpMetrics, error) {
		ts := tensors(args)
		if len(ts) < 2 || len(ts) > 3 {
			return prof.OpMetrics{}, errArity
		}
		in, w := ts[0], ts[1]
		inShape := in.Shape
		if len(inShape) == dims+1 {
			inShape = append([]int64{1}, inShape...)
		}
		if len(inShape) != dims+2 || len(w.Shape) != dims+2 {
			return prof.OpMetrics{}, fmt.Errorf("%w: input %v, weight %v", errShape, in.Shape, w.Shape)
		}
		p, err := parseConvParams(scalarValues(args), dims)
		if err != nil {
			return prof.OpMetrics{}, err
		}
		batch, channels := inShape[0], inShape[1]
		outChannels, groupChannels := w.Shape[0], w.Shape[1]
		if groupChannels*p.groups != channels {
			return prof.OpMetrics{}, fmt.Errorf("%w: %d input channels, weight expects %d x %d groups",
				errShape, channels, groupChannels, p.groups)
		}

		outSpatial := make([]int64, dims)
		for i := 0; i < dims; i++ {
			size, kernel := inShape[2+i], w.Shape[2+i]
			if p.samePad {
				outSpatial[i] = size
				continue
			}
			span := p.dilation[i]*(kernel-1) + 1
			o := (size+2*p.padding[i]-span)/p.stride[i] + 1
			if size+2*p.padding[i] < span || o <= 0 {
				return prof.OpMetrics{}, fmt.Errorf("%w: kernel %v larger than padded input %v", errShape, w.Shape, in.Shape)
			}
			outSpatial[i] = o
		}

		kernelElems, ok1 := product(w.Shape[2:])
		outElems, ok2 := product(outSpatial)
		if !ok1 || !ok2 {
			return prof.OpMetrics{}, errOverflow
		}
		flops := flopCount(mul(2, batch, outChannels, groupChannels, kernelElems, outElems))

		var bytes byteTally
		for _, t := range ts {
			bytes.addArg(t)
		}
		if out, ok := mul(batch, outChannels, outElems); ok {
			bytes.addElems(out, in.DType)
		} else {
			bytes.bad = true
		}
		return prof.OpMetrics{
			FLOPs:      flops,
			Bytes:      bytes.count(),
			TensorCore: tensorCoreEligible(in, w, ts[2:], env),
		}, nil
	}
}
