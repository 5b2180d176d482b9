package prof

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func markerStart(id, t int64, thread uint64, payload string) RawEvent {
	return RawEvent{Kind: MarkerStart, ID: id, Start: t, End: t, Thread: thread, Payload: payload}
}

func markerEnd(id, t int64, thread uint64) RawEvent {
	return RawEvent{Kind: MarkerEnd, ID: id, Start: t, End: t, Thread: thread}
}

func kernelAt(id, launch int64, thread uint64) RawEvent {
	return RawEvent{Kind: KernelLaunch, ID: id, Start: launch + 5, End: launch + 15, LaunchStart: launch, Thread: thread}
}

func stackIDs(stack []*MarkerInterval) []int64 {
	ids := make([]int64, len(stack))
	for i, m := range stack {
		ids[i] = m.ID
	}
	return ids
}

func TestReconstruct_NestedMarkers_OutermostFirst(t *testing.T) {
	// GIVEN marker 1 over [0,100) enclosing marker 2 over [10,50)
	markers := []RawEvent{
		markerStart(1, 0, 7, "outer"),
		markerStart(2, 10, 7, "inner"),
		markerEnd(2, 50, 7),
		markerEnd(1, 100, 7),
	}
	kernels := []RawEvent{kernelAt(1, 20, 7), kernelAt(2, 60, 7), kernelAt(3, 150, 7)}

	// WHEN reconstructed
	res, err := Reconstruct(context.Background(), markers, kernels, ReconstructOptions{})

	// THEN each kernel sees the markers open at its launch, outermost first
	require.NoError(t, err)
	require.Len(t, res.Stacks, 3)
	assert.Equal(t, []int64{1, 2}, stackIDs(res.Stacks[0]))
	assert.Equal(t, []int64{1}, stackIDs(res.Stacks[1]))
	assert.Empty(t, res.Stacks[2])
	assert.Empty(t, res.Malformed)

	// AND closed intervals carry their end time
	assert.Equal(t, int64(50), res.Stacks[0][1].End)
	assert.False(t, res.Stacks[0][1].Open)
}

func TestReconstruct_TieBreaks(t *testing.T) {
	tests := []struct {
		name    string
		markers []RawEvent
		want    []int64
	}{
		{
			name:    "marker ending at launch does not contain it",
			markers: []RawEvent{markerStart(1, 0, 1, "a"), markerEnd(1, 50, 1)},
			want:    nil,
		},
		{
			name:    "marker starting at launch contains it",
			markers: []RawEvent{markerStart(1, 50, 1, "a"), markerEnd(1, 80, 1)},
			want:    []int64{1},
		},
		{
			name: "nested markers closing together close innermost first",
			markers: []RawEvent{
				markerStart(1, 0, 1, "a"), markerStart(2, 10, 1, "b"),
				markerEnd(1, 40, 1), markerEnd(2, 40, 1),
				markerStart(3, 45, 1, "c"), markerEnd(3, 90, 1),
			},
			want: []int64{3},
		},
		{
			name:    "zero-length marker at launch contains nothing",
			markers: []RawEvent{markerStart(1, 50, 1, "a"), markerEnd(1, 50, 1)},
			want:    nil,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			// WHEN a kernel launches at t=50
			res, err := Reconstruct(context.Background(), tc.markers, []RawEvent{kernelAt(1, 50, 1)}, ReconstructOptions{})

			// THEN containment follows the tie-break order and nothing is malformed
			require.NoError(t, err)
			assert.Empty(t, res.Malformed)
			if tc.want == nil {
				assert.Empty(t, res.Stacks[0])
			} else {
				assert.Equal(t, tc.want, stackIDs(res.Stacks[0]))
			}
		})
	}
}

func TestReconstruct_MismatchedEnd_DiscardsThreadStack(t *testing.T) {
	// GIVEN thread 1 ends its outer marker while the inner one is open,
	// and thread 2 nests correctly
	markers := []RawEvent{
		markerStart(1, 0, 1, "outer"),
		markerStart(2, 10, 1, "inner"),
		markerEnd(1, 30, 1),
		markerEnd(2, 40, 1),
		markerStart(3, 0, 2, "other"),
		markerEnd(3, 100, 2),
	}
	kernels := []RawEvent{kernelAt(1, 20, 1), kernelAt(2, 35, 1), kernelAt(3, 35, 2)}

	// WHEN reconstructed
	res, err := Reconstruct(context.Background(), markers, kernels, ReconstructOptions{})

	// THEN one MalformedMarkerError is reported, naming the innermost open marker
	require.NoError(t, err)
	require.Len(t, res.Malformed, 1)
	assert.Equal(t, uint64(1), res.Malformed[0].Thread)
	assert.Equal(t, int64(1), res.Malformed[0].MarkerID)
	assert.Equal(t, int64(2), res.Malformed[0].Expected)

	// AND earlier launches keep their stacks, later launches on the thread see none
	assert.Equal(t, []int64{1, 2}, stackIDs(res.Stacks[0]))
	assert.Empty(t, res.Stacks[1])

	// AND other threads are unaffected
	assert.Equal(t, []int64{3}, stackIDs(res.Stacks[2]))
}

func TestReconstruct_ZeroLengthMarker_LeavesEnclosingStack(t *testing.T) {
	// GIVEN marker 1 over [0,100) enclosing an empty marker 2 at t=10
	markers := []RawEvent{
		markerStart(1, 0, 1, "outer"),
		markerStart(2, 10, 1, "empty"),
		markerEnd(2, 10, 1),
		markerEnd(1, 100, 1),
	}
	kernels := []RawEvent{kernelAt(1, 50, 1), kernelAt(2, 500, 1)}

	// WHEN reconstructed
	res, err := Reconstruct(context.Background(), markers, kernels, ReconstructOptions{})

	// THEN the empty marker is never on a stack and nothing is malformed
	require.NoError(t, err)
	assert.Empty(t, res.Malformed)
	assert.Equal(t, []int64{1}, stackIDs(res.Stacks[0]))
	assert.Empty(t, res.Stacks[1])
}

func TestReconstruct_RangeEndedOnAnotherThread(t *testing.T) {
	// GIVEN a range opened on thread 1 around a nested marker and closed from thread 2
	markers := []RawEvent{
		markerStart(1, 0, 1, "range"),
		markerStart(2, 10, 1, "inner"),
		markerEnd(1, 40, 2),
		markerEnd(2, 60, 1),
	}
	kernels := []RawEvent{kernelAt(1, 20, 1), kernelAt(2, 50, 1), kernelAt(3, 500, 1), kernelAt(4, 30, 2)}

	// WHEN reconstructed
	res, err := Reconstruct(context.Background(), markers, kernels, ReconstructOptions{})

	// THEN the range closes on the thread that opened it without a report
	require.NoError(t, err)
	assert.Empty(t, res.Malformed)
	assert.Equal(t, []int64{1, 2}, stackIDs(res.Stacks[0]))
	assert.Equal(t, int64(40), res.Stacks[0][0].End)
	assert.False(t, res.Stacks[0][0].Open)

	// AND the inner marker still closes normally afterwards
	assert.Equal(t, []int64{2}, stackIDs(res.Stacks[1]))
	assert.Empty(t, res.Stacks[2])

	// AND the ending thread never sees the range
	assert.Empty(t, res.Stacks[3])
}

func TestReconstruct_EndWithoutStart_Reported(t *testing.T) {
	res, err := Reconstruct(context.Background(), []RawEvent{markerEnd(9, 5, 3)}, nil, ReconstructOptions{})
	require.NoError(t, err)
	require.Len(t, res.Malformed, 1)
	assert.Equal(t, int64(-1), res.Malformed[0].Expected)
	assert.Contains(t, res.Malformed[0].Error(), "no open marker")
}

func TestReconstruct_UnclosedMarker_StaysOpen(t *testing.T) {
	res, err := Reconstruct(context.Background(),
		[]RawEvent{markerStart(1, 0, 1, "a")},
		[]RawEvent{kernelAt(1, 1000, 1)}, ReconstructOptions{})
	require.NoError(t, err)
	require.Len(t, res.Stacks[0], 1)
	assert.True(t, res.Stacks[0][0].Open)
	assert.True(t, res.Stacks[0][0].Contains(1000))
}

func TestReconstruct_IgnoredMarkers_Skipped(t *testing.T) {
	// GIVEN a checkpoint wrapper around a real annotation
	markers := []RawEvent{
		markerStart(1, 0, 1, "CheckpointFunctionBackward"),
		markerStart(2, 10, 1, "relu([4]:fp32)"),
		markerEnd(2, 40, 1),
		markerEnd(1, 50, 1),
	}

	// WHEN reconstructed with the wrapper ignored
	res, err := Reconstruct(context.Background(), markers, []RawEvent{kernelAt(1, 20, 1)},
		ReconstructOptions{IgnoreMarkers: []string{"CheckpointFunction"}})

	// THEN only the real annotation is on the stack and nothing is malformed
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, stackIDs(res.Stacks[0]))
	assert.Empty(t, res.Malformed)
}

func TestReconstruct_KernelWithoutLaunchCall_UsesGPUStart(t *testing.T) {
	k := RawEvent{Kind: KernelLaunch, ID: 1, Start: 20, End: 30, Thread: 1}
	res, err := Reconstruct(context.Background(),
		[]RawEvent{markerStart(1, 10, 1, "a"), markerEnd(1, 25, 1)}, []RawEvent{k}, ReconstructOptions{})
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, stackIDs(res.Stacks[0]))
}

func TestReconstruct_InputOrderIndependent(t *testing.T) {
	// GIVEN the same events in store order and shuffled
	markers, kernels := randomNestedTrace(rand.New(rand.NewSource(42)), 200)
	shuffled := append([]RawEvent(nil), markers...)
	rand.New(rand.NewSource(7)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	// WHEN both are reconstructed
	a, err := Reconstruct(context.Background(), markers, kernels, ReconstructOptions{})
	require.NoError(t, err)
	b, err := Reconstruct(context.Background(), shuffled, kernels, ReconstructOptions{})
	require.NoError(t, err)

	// THEN the stacks are identical
	for i := range kernels {
		assert.Equal(t, stackIDs(a.Stacks[i]), stackIDs(b.Stacks[i]), "kernel %d", i)
	}
}

func TestReconstruct_InnermostHasLatestStart(t *testing.T) {
	// GIVEN randomly generated, well-nested traces
	for seed := int64(0); seed < 20; seed++ {
		markers, kernels := randomNestedTrace(rand.New(rand.NewSource(seed)), 300)

		// WHEN reconstructed
		res, err := Reconstruct(context.Background(), markers, kernels, ReconstructOptions{})
		require.NoError(t, err)
		require.Empty(t, res.Malformed)

		intervals := closedIntervals(markers)
		for i, k := range kernels {
			stack := res.Stacks[i]
			// THEN the stack is exactly the set of intervals containing the launch,
			// ordered by start, so the innermost one started last
			var containing []int64
			for _, iv := range intervals {
				if iv.Contains(k.LaunchTime()) {
					containing = append(containing, iv.ID)
				}
			}
			assert.ElementsMatch(t, containing, stackIDs(stack), "seed %d kernel %d", seed, i)
			for j := 1; j < len(stack); j++ {
				assert.LessOrEqual(t, stack[j-1].Start, stack[j].Start)
			}
		}
	}
}

func TestReconstruct_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Reconstruct(ctx, []RawEvent{markerStart(1, 0, 1, "a")}, nil, ReconstructOptions{})
	assert.True(t, errors.Is(err, context.Canceled))
}

// randomNestedTrace builds a single-thread push/pop walk with distinct
// timestamps and kernels launched between marker events.
func randomNestedTrace(rng *rand.Rand, steps int) (markers, kernels []RawEvent) {
	var (
		open   []int64
		nextID int64 = 1
		t      int64
	)
	for i := 0; i < steps; i++ {
		t += int64(rng.Intn(5) + 1)
		switch r := rng.Intn(3); {
		case r == 0 || len(open) == 0:
			markers = append(markers, markerStart(nextID, t, 1, "m"))
			open = append(open, nextID)
			nextID++
		case r == 1:
			markers = append(markers, markerEnd(open[len(open)-1], t, 1))
			open = open[:len(open)-1]
		default:
			kernels = append(kernels, kernelAt(int64(len(kernels)+1), t, 1))
		}
	}
	for len(open) > 0 {
		t++
		markers = append(markers, markerEnd(open[len(open)-1], t, 1))
		open = open[:len(open)-1]
	}
	return markers, kernels
}

func closedIntervals(markers []RawEvent) []*MarkerInterval {
	byID := make(map[int64]*MarkerInterval)
	var out []*MarkerInterval
	for _, m := range markers {
		switch m.Kind {
		case MarkerStart:
			iv := &MarkerInterval{ID: m.ID, Start: m.Start}
			byID[m.ID] = iv
			out = append(out, iv)
		case MarkerEnd:
			byID[m.ID].End = m.Start
		}
	}
	return out
}
