// Package pipeline runs the analysis end to end: it reads a trace store,
// reconstructs marker stacks, builds and correlates trace records, and
// assembles the report.
package pipeline

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/kprof/prof"
	_ "github.com/inference-sim/kprof/prof/opcost" // registers the cost formulas
	"github.com/inference-sim/kprof/prof/report"
	"github.com/inference-sim/kprof/prof/store"
)

// Options configures one run.
type Options struct {
	DBPath string
	// IncludeMemcpy reports memory copies alongside kernels.
	IncludeMemcpy bool
	// IgnoreMarkers drops markers whose payload contains any of these substrings.
	IgnoreMarkers []string
	Env           prof.CostEnv
	// Hardware enables the compute/memory bound classification.
	Hardware *prof.HardwareCalib
	// Registry defaults to prof.DefaultRegistry.
	Registry *prof.Registry
	Logger   logrus.FieldLogger
}

// Result is the output of one run.
type Result struct {
	Records []report.Record
	// Malformed counts the marker sequence violations recovered from.
	Malformed int
	// Opaque counts distinct markers whose payload did not match the grammar.
	Opaque int
}

type events struct {
	markers      []prof.RawEvent
	kernels      []prof.RawEvent
	profileStart int64
}

// Run analyzes the trace at opts.DBPath. Only trace format errors, I/O errors
// and context cancellation are returned; malformed markers and unknown
// operations are absorbed into the report.
func Run(ctx context.Context, opts Options) (*Result, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("run", uuid.NewString())
	reg := opts.Registry
	if reg == nil {
		reg = prof.DefaultRegistry
	}
	env := opts.Env
	if env.AccumDType == "" {
		env = prof.DefaultCostEnv()
	}

	ev, err := read(ctx, opts, log)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"markers": len(ev.markers),
		"kernels": len(ev.kernels),
	}).Info("trace read")

	rec, err := prof.Reconstruct(ctx, ev.markers, ev.kernels, prof.ReconstructOptions{
		IgnoreMarkers: opts.IgnoreMarkers,
		Logger:        log,
	})
	if err != nil {
		return nil, err
	}
	if n := len(rec.Malformed); n > 0 {
		log.WithField("malformed", n).Warn("marker stacks recovered from malformed sequences")
	}

	b := prof.NewBuilder(log)
	records, err := b.Build(ctx, ev.kernels, rec.Stacks, ev.profileStart)
	if err != nil {
		return nil, err
	}
	links := prof.Correlate(records)
	out := report.Assemble(records, links, reg, env, opts.Hardware)

	log.WithFields(logrus.Fields{
		"records": len(out),
		"opaque":  b.OpaqueCount(),
	}).Info("report assembled")
	return &Result{Records: out, Malformed: len(rec.Malformed), Opaque: b.OpaqueCount()}, nil
}

// read loads everything the later stages need and releases the store.
func read(ctx context.Context, opts Options, log logrus.FieldLogger) (*events, error) {
	st, err := store.Open(ctx, opts.DBPath, log)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	var ev events
	if ev.markers, err = store.Collect(st.Markers(ctx)); err != nil {
		return nil, fmt.Errorf("read markers: %w", err)
	}
	if ev.kernels, err = store.Collect(st.Kernels(ctx)); err != nil {
		return nil, fmt.Errorf("read kernels: %w", err)
	}
	switch {
	case opts.IncludeMemcpy && !st.HasMemcpy():
		log.Warn("memory copies requested but the trace recorded none")
	case opts.IncludeMemcpy:
		copies, err := store.Collect(st.Memcpys(ctx))
		if err != nil {
			return nil, fmt.Errorf("read memcpys: %w", err)
		}
		ev.kernels = append(ev.kernels, copies...)
		slices.SortStableFunc(ev.kernels, func(a, b prof.RawEvent) int {
			return cmp.Or(cmp.Compare(a.Start, b.Start), cmp.Compare(a.ID, b.ID))
		})
	}
	if ev.profileStart, err = st.ProfileStart(ctx); err != nil {
		return nil, err
	}
	return &ev, nil
}
