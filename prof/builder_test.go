package prof

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func interval(id int64, payload string) *MarkerInterval {
	return &MarkerInterval{ID: id, Thread: 1, Start: id, End: 1000, Payload: payload}
}

func TestBuild_RecordFieldsAndAttribution(t *testing.T) {
	// GIVEN a kernel under a layer marker, an opaque marker and a backward op
	layer := interval(1, "block([]:fp32)|layer:decoder.3")
	opaque := interval(2, "nccl all-reduce")
	op := interval(3, "linear_backward([32,128]:fp16;[64,128]:fp16)|seq:7|dir:bwd|layer:proj")
	k := RawEvent{
		Kind: KernelLaunch, ID: 11, Start: 500, End: 620, Payload: "sm90_gemm",
		Device: 0, Stream: 7, Thread: 1, Process: 42, CorrelationID: 99,
		Grid: Dim3{4, 2, 1}, Block: Dim3{128, 1, 1}, LaunchStart: 480,
	}

	// WHEN built with a profile start of 100
	b := NewBuilder(nil)
	records, err := b.Build(context.Background(), []RawEvent{k}, [][]*MarkerInterval{{layer, opaque, op}}, 100)

	// THEN the kernel's fields are carried over
	require.NoError(t, err)
	require.Len(t, records, 1)
	r := records[0]
	assert.Equal(t, 0, r.Index)
	assert.Equal(t, int64(11), r.KernelID)
	assert.Equal(t, "sm90_gemm", r.Name)
	assert.Equal(t, int64(120), r.Duration)
	assert.Equal(t, int64(400), r.Offset)
	assert.Equal(t, uint32(99), r.CorrelationID)
	assert.Equal(t, Dim3{4, 2, 1}, r.Grid)

	// AND the stack is decoded outermost first with the opaque branch kept
	require.Len(t, r.Stack, 3)
	_, isOpaque := r.Stack[1].(*OpaqueMarker)
	assert.True(t, isOpaque)
	assert.Equal(t, "linear_backward", r.Op().Op)
	assert.Equal(t, DirBackward, r.Direction)
	seq, ok := r.Seq()
	assert.True(t, ok)
	assert.Equal(t, int64(7), seq)
	assert.Equal(t, []string{"decoder.3", "proj"}, r.Layers)
	assert.Equal(t, 1, b.OpaqueCount())
}

func TestBuild_EmptyStack_Unspecified(t *testing.T) {
	// GIVEN a kernel launched outside every marker
	k := RawEvent{Kind: KernelLaunch, ID: 1, Start: 10, End: 20}

	// WHEN built
	records, err := NewBuilder(nil).Build(context.Background(), []RawEvent{k}, [][]*MarkerInterval{nil}, 0)

	// THEN the record has no annotations and no direction
	require.NoError(t, err)
	assert.Empty(t, records[0].Stack)
	assert.Equal(t, DirUnspecified, records[0].Direction)
	assert.Nil(t, records[0].Op())
	_, ok := records[0].Seq()
	assert.False(t, ok)
}

func TestBuild_SharedMarkerParsedOnce(t *testing.T) {
	// GIVEN two kernels under the same opaque marker
	m := interval(1, "free-form range")
	kernels := []RawEvent{{ID: 1, Start: 1, End: 2}, {ID: 2, Start: 3, End: 4}}

	// WHEN built
	b := NewBuilder(nil)
	records, err := b.Build(context.Background(), kernels, [][]*MarkerInterval{{m}, {m}}, 0)

	// THEN both records share the decoded annotation and it is counted once
	require.NoError(t, err)
	assert.Same(t, records[0].Stack[0], records[1].Stack[0])
	assert.Equal(t, 1, b.OpaqueCount())
}

func TestTraceRecord_SeqFromInnermostCarrier(t *testing.T) {
	// GIVEN an outer op with a seq and an inner op without one
	outerSeq := int64(3)
	r := TraceRecord{Stack: []Annotation{
		&OpAnnotation{Op: "outer", Seq: &outerSeq},
		&OpAnnotation{Op: "inner"},
	}}

	// THEN metrics attribute to the innermost op while seq comes from the outer one
	assert.Equal(t, "inner", r.Op().Op)
	seq, ok := r.Seq()
	assert.True(t, ok)
	assert.Equal(t, int64(3), seq)
}
