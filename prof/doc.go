// Package prof attributes GPU kernel launches in a profiler trace to the
// high-level operations that issued them.
//
// # Reading Guide
//
// Start with these files to understand the analysis core:
//   - event.go: RawEvent rows read from the trace store and derived MarkerIntervals
//   - markers.go: the sweep line that recovers the marker stack enclosing each launch
//   - annotation.go: the marker payload grammar and the Annotation tagged variant
//   - builder.go: one TraceRecord per kernel launch
//   - correlate.go: backward-to-forward matching by sequence id
//   - metrics.go: OpMetrics and the Registry of per-operation cost calculators
//
// # Architecture
//
// The prof package defines the data model and the pure stages; I/O and
// orchestration live in sub-packages:
//   - prof/store/: read-only access to the SQLite trace database
//   - prof/opcost/: cost formulas for recognized operations
//   - prof/report/: assembly of output records and per-operation summaries
//   - prof/pipeline/: the end-to-end run Reader -> Reconstruct -> Build -> Correlate/Metrics -> Assemble
//
// prof/opcost registers its calculators into DefaultRegistry from an init()
// function, so importing it for side effects is enough to populate the registry.
//
// # Error Taxonomy
//
// Only TraceFormatError aborts a run. MalformedMarkerError and
// UnparseableAnnotation are absorbed by the stage that detects them and show up
// as empty stacks or opaque markers in the output. An operation missing from the
// registry is not an error at all; its metrics are reported as unknown.
package prof
