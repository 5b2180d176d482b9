package prof

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Builder turns kernel launches and their marker stacks into TraceRecords.
// Each marker payload is parsed once and shared by every record whose stack
// contains the marker.
type Builder struct {
	log    logrus.FieldLogger
	parsed map[*MarkerInterval]Annotation
	opaque int
}

// NewBuilder returns a Builder logging to log, or to the standard logger when
// log is nil.
func NewBuilder(log logrus.FieldLogger) *Builder {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Builder{log: log, parsed: make(map[*MarkerInterval]Annotation)}
}

// OpaqueCount returns how many distinct markers did not match the grammar.
func (b *Builder) OpaqueCount() int { return b.opaque }

// Build emits one record per kernel, in the order of kernels. stacks must be
// aligned with kernels, as returned by Reconstruct. profileStart is subtracted
// from kernel start times to fill Offset.
func (b *Builder) Build(ctx context.Context, kernels []RawEvent, stacks [][]*MarkerInterval, profileStart int64) ([]TraceRecord, error) {
	records := make([]TraceRecord, len(kernels))
	for i, k := range kernels {
		if i%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		var stack []*MarkerInterval
		if i < len(stacks) {
			stack = stacks[i]
		}
		records[i] = b.record(i, k, stack, profileStart)
	}
	b.log.WithFields(logrus.Fields{
		"records": len(records),
		"opaque":  b.opaque,
	}).Debug("trace records built")
	return records, nil
}

func (b *Builder) record(i int, k RawEvent, stack []*MarkerInterval, profileStart int64) TraceRecord {
	r := TraceRecord{
		Index:         i,
		KernelID:      k.ID,
		Name:          k.Payload,
		Kind:          k.Kind,
		Start:         k.Start,
		End:           k.End,
		Duration:      k.End - k.Start,
		Offset:        k.Start - profileStart,
		Device:        k.Device,
		Stream:        k.Stream,
		Process:       k.Process,
		Thread:        k.Thread,
		CorrelationID: k.CorrelationID,
		Grid:          k.Grid,
		Block:         k.Block,
		Bytes:         k.Bytes,
		Direction:     DirUnspecified,

		StaticSharedMem:  k.StaticSharedMem,
		DynamicSharedMem: k.DynamicSharedMem,
		LaunchStart:      k.LaunchStart,
		LaunchEnd:        k.LaunchEnd,
	}
	if len(stack) == 0 {
		return r
	}
	r.Stack = make([]Annotation, len(stack))
	for j, m := range stack {
		r.Stack[j] = b.annotation(m)
	}
	for j := len(r.Stack) - 1; j >= 0; j-- {
		if op, ok := r.Stack[j].(*OpAnnotation); ok && op.Direction != DirUnspecified {
			r.Direction = op.Direction
			break
		}
	}
	for _, a := range r.Stack {
		if op, ok := a.(*OpAnnotation); ok && op.Layer != "" {
			r.Layers = append(r.Layers, op.Layer)
		}
	}
	return r
}

func (b *Builder) annotation(m *MarkerInterval) Annotation {
	if a, ok := b.parsed[m]; ok {
		return a
	}
	a := ParseAnnotation(m.Payload)
	if _, ok := a.(*OpaqueMarker); ok {
		b.opaque++
		b.log.WithField("marker", m.ID).Tracef("opaque marker payload %q", m.Payload)
	}
	b.parsed[m] = a
	return a
}
