package prof

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"
)

// Sweep ranks for events that share a timestamp. A marker that ends exactly
// when a kernel launches does not contain it; a marker that starts then does.
const (
	rankEnd = iota
	rankStart
	rankLaunch
)

// cancelCheckInterval is how many sweep events pass between context checks.
const cancelCheckInterval = 4096

// ReconstructOptions tunes marker stack reconstruction.
type ReconstructOptions struct {
	// IgnoreMarkers drops every marker whose payload contains one of these
	// substrings, e.g. gradient checkpointing wrappers.
	IgnoreMarkers []string
	Logger        logrus.FieldLogger
}

// ReconstructResult holds one marker stack per kernel, outermost first, in the
// same order as the kernels passed to Reconstruct.
type ReconstructResult struct {
	Stacks    [][]*MarkerInterval
	Malformed []*MalformedMarkerError
}

type sweepEvent struct {
	t    int64
	rank int
	id   int64
	idx  int // index into the markers or kernels slice
}

type markerKey struct {
	thread uint64
	id     int64
}

// Reconstruct recovers, for every kernel, the markers open on its launching
// thread at launch time. Events are merged into a single sweep sorted by
// (timestamp, rank, id), so the input order does not matter. markers may mix
// MarkerStart and MarkerEnd events; other kinds are ignored.
//
// An end is matched to its start by id. An end recorded on another thread
// closes the range on the thread that opened it. An end on the opening thread
// that does not close its innermost open marker discards that thread's whole
// stack and is reported in Malformed; it never fails the call. Zero-length
// markers are dropped. Only context cancellation returns an error.
func Reconstruct(ctx context.Context, markers, kernels []RawEvent, opts ReconstructOptions) (*ReconstructResult, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	// A start and end at the same timestamp span [t,t), which contains nothing.
	startAt := make(map[int64]int64)
	for _, m := range markers {
		if m.Kind == MarkerStart {
			startAt[m.ID] = m.Start
		}
	}
	empty := make(map[int64]struct{})
	for _, m := range markers {
		if t, ok := startAt[m.ID]; ok && m.Kind == MarkerEnd && t == m.Start {
			empty[m.ID] = struct{}{}
		}
	}

	events := make([]sweepEvent, 0, len(markers)+len(kernels))
	for i, m := range markers {
		if _, ok := empty[m.ID]; ok {
			continue
		}
		switch m.Kind {
		case MarkerStart:
			events = append(events, sweepEvent{t: m.Start, rank: rankStart, id: m.ID, idx: i})
		case MarkerEnd:
			events = append(events, sweepEvent{t: m.Start, rank: rankEnd, id: m.ID, idx: i})
		}
	}
	for i, k := range kernels {
		events = append(events, sweepEvent{t: k.LaunchTime(), rank: rankLaunch, id: k.ID, idx: i})
	}
	slices.SortFunc(events, compareSweep)

	res := &ReconstructResult{Stacks: make([][]*MarkerInterval, len(kernels))}
	open := make(map[uint64][]*MarkerInterval)
	ignored := make(map[markerKey]struct{})
	// startedOn maps a marker id to the thread that opened it. Process-wide
	// ranges may end on another thread and are closed where they opened.
	startedOn := make(map[int64]uint64)

	for n, ev := range events {
		if n%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		switch ev.rank {
		case rankStart:
			m := markers[ev.idx]
			startedOn[m.ID] = m.Thread
			if matchesAny(m.Payload, opts.IgnoreMarkers) {
				ignored[markerKey{m.Thread, m.ID}] = struct{}{}
				continue
			}
			open[m.Thread] = append(open[m.Thread], newOpenInterval(m))

		case rankEnd:
			m := markers[ev.idx]
			thread, ok := startedOn[m.ID]
			if !ok {
				thread = m.Thread
			}
			delete(startedOn, m.ID)
			key := markerKey{thread, m.ID}
			if _, ok := ignored[key]; ok {
				delete(ignored, key)
				continue
			}
			stack := open[thread]
			if thread != m.Thread {
				if i := slices.IndexFunc(stack, func(s *MarkerInterval) bool { return s.ID == m.ID }); i >= 0 {
					closeInterval(stack[i], m.Start)
					open[thread] = slices.Delete(stack, i, i+1)
					continue
				}
			}
			if len(stack) == 0 || stack[len(stack)-1].ID != m.ID {
				expected := int64(-1)
				if len(stack) > 0 {
					expected = stack[len(stack)-1].ID
				}
				merr := &MalformedMarkerError{Thread: thread, MarkerID: m.ID, Expected: expected, At: m.Start}
				res.Malformed = append(res.Malformed, merr)
				log.WithFields(logrus.Fields{"thread": thread, "marker": m.ID}).
					Warnf("discarding %d open markers: %v", len(stack), merr)
				// The discarded markers' own ends are consumed without a report.
				for _, s := range stack {
					if s.ID != m.ID {
						ignored[markerKey{s.Thread, s.ID}] = struct{}{}
					}
				}
				delete(open, thread)
				continue
			}
			closeInterval(stack[len(stack)-1], m.Start)
			open[thread] = stack[:len(stack)-1]

		case rankLaunch:
			k := kernels[ev.idx]
			if stack := open[k.Thread]; len(stack) > 0 {
				res.Stacks[ev.idx] = slices.Clone(stack)
			}
		}
	}

	log.WithFields(logrus.Fields{
		"markers":   len(markers),
		"kernels":   len(kernels),
		"malformed": len(res.Malformed),
	}).Debug("marker stacks reconstructed")
	return res, nil
}

func closeInterval(m *MarkerInterval, end int64) {
	m.End = end
	m.Open = false
}

func compareSweep(a, b sweepEvent) int {
	if c := cmp.Compare(a.t, b.t); c != 0 {
		return c
	}
	if c := cmp.Compare(a.rank, b.rank); c != 0 {
		return c
	}
	// Nested markers closing together close innermost (newest id) first.
	if a.rank == rankEnd {
		if c := cmp.Compare(b.id, a.id); c != 0 {
			return c
		}
	} else if c := cmp.Compare(a.id, b.id); c != 0 {
		return c
	}
	return cmp.Compare(a.idx, b.idx)
}

func matchesAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
