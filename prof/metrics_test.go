package prof

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpMetrics_JSON_UnknownSerialized(t *testing.T) {
	// GIVEN fully unknown and fully known metrics
	unknown := UnknownMetrics()
	known := OpMetrics{FLOPs: KnownCount(524288), Bytes: KnownCount(28672), TensorCore: KnownFlag(true)}

	// WHEN serialized
	u, err := json.Marshal(unknown)
	require.NoError(t, err)
	k, err := json.Marshal(known)
	require.NoError(t, err)

	// THEN unknown fields read "unknown" and known fields keep their types
	assert.JSONEq(t, `{"flops":"unknown","bytes":"unknown","tensor_core":"unknown"}`, string(u))
	assert.JSONEq(t, `{"flops":524288,"bytes":28672,"tensor_core":true}`, string(k))
}

func TestCount_Scale(t *testing.T) {
	assert.Equal(t, KnownCount(20), KnownCount(10).Scale(2))
	assert.False(t, Count{}.Scale(2).Known)
	assert.False(t, KnownCount(math.MaxInt64).Scale(2).Known, "overflow turns the count unknown")
}

func TestMulAddInt64_Overflow(t *testing.T) {
	_, ok := MulInt64(math.MaxInt64/2+1, 2)
	assert.False(t, ok)
	_, ok = MulInt64(-1, 2)
	assert.False(t, ok)
	v, ok := MulInt64(0, math.MaxInt64)
	assert.True(t, ok)
	assert.Zero(t, v)

	_, ok = AddInt64(math.MaxInt64, 1)
	assert.False(t, ok)
	v, ok = AddInt64(40, 2)
	assert.True(t, ok)
	assert.Equal(t, int64(42), v)
}

func TestRegistry_Compute(t *testing.T) {
	// GIVEN a registry with one working and one failing calculator
	r := NewRegistry()
	r.Register("scale", func(args []ArgDesc, env CostEnv) (OpMetrics, error) {
		n, _ := args[0].Elements()
		return OpMetrics{FLOPs: KnownCount(n), Bytes: KnownCount(0), TensorCore: KnownFlag(false)}, nil
	})
	r.Register("broken", func([]ArgDesc, CostEnv) (OpMetrics, error) {
		return OpMetrics{FLOPs: KnownCount(1)}, errors.New("bad shapes")
	})

	tests := []struct {
		name   string
		op     *OpAnnotation
		wantOK bool
	}{
		{"registered", &OpAnnotation{Op: "scale", Args: []ArgDesc{{Shape: []int64{3, 4}, DType: "fp32"}}}, true},
		{"calculator error", &OpAnnotation{Op: "broken"}, false},
		{"unregistered", &OpAnnotation{Op: "fancy_new_op"}, false},
		{"no annotation", nil, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			// WHEN computed
			m, ok := r.Compute(tc.op, DefaultCostEnv())

			// THEN failures yield all-unknown metrics, never an error
			assert.Equal(t, tc.wantOK, ok)
			if tc.wantOK {
				assert.Equal(t, KnownCount(12), m.FLOPs)
			} else {
				assert.Equal(t, UnknownMetrics(), m)
			}
		})
	}
}

func TestRegistry_NamesSortedAndRegisterValidates(t *testing.T) {
	r := NewRegistry()
	calc := func([]ArgDesc, CostEnv) (OpMetrics, error) { return UnknownMetrics(), nil }
	r.Register("mm", calc)
	r.Register("add", calc)
	assert.Equal(t, []string{"add", "mm"}, r.Names())

	assert.Panics(t, func() { r.Register("", calc) })
	assert.Panics(t, func() { r.Register("x", nil) })
}
