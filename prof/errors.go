package prof

import "fmt"

// TraceFormatError reports a trace database that does not match the expected
// schema. It is fatal: no report is produced.
type TraceFormatError struct {
	Table  string
	Column string // empty when the whole table is missing
	Reason string
}

func (e *TraceFormatError) Error() string {
	switch {
	case e.Column != "":
		return fmt.Sprintf("trace format: table %s: column %s: %s", e.Table, e.Column, e.Reason)
	case e.Table != "":
		return fmt.Sprintf("trace format: table %s: %s", e.Table, e.Reason)
	default:
		return "trace format: " + e.Reason
	}
}

// MalformedMarkerError reports a marker end that does not close the innermost
// open marker of its thread. The reconstructor recovers by discarding that
// thread's stack.
type MalformedMarkerError struct {
	Thread   uint64
	MarkerID int64
	// Expected is the id of the innermost open marker, -1 if the stack was empty.
	Expected int64
	At       int64
}

func (e *MalformedMarkerError) Error() string {
	if e.Expected < 0 {
		return fmt.Sprintf("malformed marker: thread %d: end of marker %d at %d with no open marker",
			e.Thread, e.MarkerID, e.At)
	}
	return fmt.Sprintf("malformed marker: thread %d: end of marker %d at %d while marker %d is innermost",
		e.Thread, e.MarkerID, e.At, e.Expected)
}

// UnparseableAnnotation reports a marker payload outside the annotation grammar.
type UnparseableAnnotation struct {
	Payload string
	Reason  string
}

func (e *UnparseableAnnotation) Error() string {
	return fmt.Sprintf("unparseable annotation %q: %s", e.Payload, e.Reason)
}
