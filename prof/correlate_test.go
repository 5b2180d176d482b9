package prof

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func annotated(op string, dir Direction, seq int64) TraceRecord {
	s := seq
	return TraceRecord{Direction: dir, Stack: []Annotation{&OpAnnotation{Op: op, Direction: dir, Seq: &s}}}
}

func TestCorrelate_ForwardBackwardPair(t *testing.T) {
	// GIVEN a forward linear with seq 7 and its backward
	records := []TraceRecord{
		annotated("linear", DirForward, 7),
		annotated("linear_backward", DirBackward, 7),
	}

	// WHEN correlated
	links := Correlate(records)

	// THEN the backward record links exactly the forward one
	require.Len(t, links, 2)
	assert.Equal(t, CorrelationLink{Status: NotApplicable, Forward: []int{}}, links[0])
	assert.Equal(t, CorrelationLink{Status: Correlated, Forward: []int{0}}, links[1])
}

func TestCorrelate_Statuses(t *testing.T) {
	records := []TraceRecord{
		annotated("mm", DirForward, 1),
		// seq collision: both reported
		annotated("mm", DirForward, 1),
		annotated("mm_backward", DirBackward, 1),
		// no forward with seq 2
		annotated("mm_backward", DirBackward, 2),
		// no seq
		{Direction: DirBackward, Stack: []Annotation{&OpAnnotation{Op: "x", Direction: DirBackward}}},
		{},
		// later forward never matches an earlier backward
		annotated("mm", DirForward, 2),
	}

	links := Correlate(records)

	assert.Equal(t, []int{0, 1}, links[2].Forward)
	assert.Equal(t, Correlated, links[2].Status)
	assert.Equal(t, Uncorrelated, links[3].Status)
	assert.Equal(t, Uncorrelated, links[4].Status)
	assert.Equal(t, NotApplicable, links[5].Status)
	for i, l := range links {
		assert.NotNil(t, l.Forward, "record %d", i)
	}
}

func TestCorrelate_NoMissedNoFalseMatches(t *testing.T) {
	// GIVEN a random interleaving of forward and backward records over a few seqs
	rng := rand.New(rand.NewSource(1))
	records := make([]TraceRecord, 500)
	for i := range records {
		dir := DirForward
		if rng.Intn(2) == 0 {
			dir = DirBackward
		}
		records[i] = annotated("op", dir, int64(rng.Intn(10)))
	}

	// WHEN correlated
	links := Correlate(records)

	// THEN each backward record links precisely the earlier forwards with its seq
	for i, r := range records {
		if r.Direction != DirBackward {
			continue
		}
		seq, _ := r.Seq()
		want := []int{}
		for j := 0; j < i; j++ {
			if s, _ := records[j].Seq(); records[j].Direction == DirForward && s == seq {
				want = append(want, j)
			}
		}
		assert.Equal(t, want, links[i].Forward, "record %d", i)
	}
}
