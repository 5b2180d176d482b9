// Package testutil provides shared test infrastructure for kprof: it writes
// small CUPTI-shaped SQLite traces to disk so store, pipeline and CLI tests
// exercise the real reader.
package testutil

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"testing"

	_ "modernc.org/sqlite"
)

// Marker is one push/pop range on a thread. End == 0 leaves the range open.
type Marker struct {
	ID      int64
	Start   int64
	End     int64
	Process uint32
	Thread  uint64
	Payload string
}

// MarkerEdge is a raw marker row, for traces whose starts and ends do not pair up.
type MarkerEdge struct {
	ID        int64
	End       bool
	Timestamp int64
	Process   uint32
	Thread    uint64
	Payload   string
}

// Kernel is one kernel execution and the runtime call that launched it.
// LaunchStart == 0 omits the runtime row.
type Kernel struct {
	ID            int64
	Name          string
	Start, End    int64
	Device        uint32
	Stream        uint32
	CorrelationID uint32
	Grid, Block   [3]uint32
	StaticShared  int64
	DynamicShared int64
	LaunchStart   int64
	LaunchEnd     int64
	Process       uint32
	Thread        uint64
}

// Memcpy is one memory copy and its launching runtime call.
type Memcpy struct {
	ID            int64
	Start, End    int64
	Bytes         int64
	CopyKind      int64
	CorrelationID uint32
	LaunchStart   int64
	Thread        uint64
}

// Trace describes a fixture database.
type Trace struct {
	Markers []Marker
	Edges   []MarkerEdge
	Kernels []Kernel
	Memcpys []Memcpy
	// OmitTables drops whole tables from the schema.
	OmitTables []string
	// OmitColumns drops a column per table, keyed by table name.
	OmitColumns map[string]string
}

var tableColumns = map[string][]string{
	"StringTable":                 {"_id_", "value"},
	"CUPTI_ACTIVITY_KIND_MARKER":  {"_id_", "flags", "timestamp", "id", "objectKind", "objectId", "domain", "name"},
	"CUPTI_ACTIVITY_KIND_RUNTIME": {"_id_", "cbid", "start", "end", "processId", "threadId", "correlationId", "returnValue"},
	"CUPTI_ACTIVITY_KIND_CONCURRENT_KERNEL": {"_id_", "start", "end", "deviceId", "contextId", "streamId",
		"gridX", "gridY", "gridZ", "blockX", "blockY", "blockZ",
		"staticSharedMemory", "dynamicSharedMemory", "correlationId", "name"},
	"CUPTI_ACTIVITY_KIND_MEMCPY": {"_id_", "copyKind", "bytes", "start", "end", "deviceId", "streamId", "correlationId"},
}

var tableOrder = []string{
	"StringTable",
	"CUPTI_ACTIVITY_KIND_MARKER",
	"CUPTI_ACTIVITY_KIND_RUNTIME",
	"CUPTI_ACTIVITY_KIND_CONCURRENT_KERNEL",
	"CUPTI_ACTIVITY_KIND_MEMCPY",
}

// ObjectID encodes pid and tid the way CUPTI stores thread object ids.
func ObjectID(pid uint32, tid uint64) []byte {
	b := make([]byte, 12)
	binary.LittleEndian.PutUint32(b[:4], pid)
	binary.LittleEndian.PutUint64(b[4:], tid)
	return b
}

// WriteTraceDB creates the fixture under t.TempDir and returns its path.
func WriteTraceDB(t *testing.T, tr Trace) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trace.sqlite")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open fixture db: %v", err)
	}
	defer db.Close()

	w := &writer{t: t, db: db, strings: map[string]int64{}, present: map[string]bool{}}
	w.createTables(tr)
	w.writeMarkers(tr)
	w.writeKernels(tr)
	w.writeMemcpys(tr)
	return path
}

type writer struct {
	t       *testing.T
	db      *sql.DB
	strings map[string]int64
	present map[string]bool
	cols    map[string][]string
}

func (w *writer) exec(q string, args ...any) {
	w.t.Helper()
	if _, err := w.db.Exec(q, args...); err != nil {
		w.t.Fatalf("fixture exec %q: %v", q, err)
	}
}

func (w *writer) createTables(tr Trace) {
	w.t.Helper()
	omit := make(map[string]bool, len(tr.OmitTables))
	for _, name := range tr.OmitTables {
		omit[name] = true
	}
	w.cols = make(map[string][]string)
	for _, table := range tableOrder {
		if omit[table] {
			continue
		}
		var defs []string
		for _, c := range tableColumns[table] {
			if tr.OmitColumns[table] == c {
				continue
			}
			w.cols[table] = append(w.cols[table], c)
			typ := "INTEGER"
			switch c {
			case "value":
				typ = "TEXT"
			case "objectId":
				typ = "BLOB"
			}
			if c == "_id_" {
				typ += " PRIMARY KEY"
			}
			defs = append(defs, fmt.Sprintf("%q %s", c, typ))
		}
		w.exec(fmt.Sprintf("CREATE TABLE %q (%s)", table, strings.Join(defs, ", ")))
		w.present[table] = true
	}
}

// insert writes values for the columns that exist in table.
func (w *writer) insert(table string, values map[string]any) {
	w.t.Helper()
	if !w.present[table] {
		return
	}
	var cols, marks []string
	var args []any
	for _, c := range w.cols[table] {
		v, ok := values[c]
		if !ok {
			continue
		}
		cols = append(cols, fmt.Sprintf("%q", c))
		marks = append(marks, "?")
		args = append(args, v)
	}
	w.exec(fmt.Sprintf("INSERT INTO %q (%s) VALUES (%s)", table, strings.Join(cols, ", "), strings.Join(marks, ", ")), args...)
}

func (w *writer) stringID(s string) int64 {
	if id, ok := w.strings[s]; ok {
		return id
	}
	id := int64(len(w.strings) + 1)
	w.strings[s] = id
	w.insert("StringTable", map[string]any{"_id_": id, "value": s})
	return id
}

func (w *writer) writeMarkers(tr Trace) {
	edges := append([]MarkerEdge(nil), tr.Edges...)
	for _, m := range tr.Markers {
		edges = append(edges, MarkerEdge{ID: m.ID, Timestamp: m.Start, Process: m.Process, Thread: m.Thread, Payload: m.Payload})
		if m.End != 0 {
			edges = append(edges, MarkerEdge{ID: m.ID, End: true, Timestamp: m.End, Process: m.Process, Thread: m.Thread})
		}
	}
	for i, e := range edges {
		flags, name := int64(2), int64(0)
		if e.End {
			flags = 4
		} else {
			name = w.stringID(e.Payload)
		}
		w.insert("CUPTI_ACTIVITY_KIND_MARKER", map[string]any{
			"_id_":       int64(i + 1),
			"flags":      flags,
			"timestamp":  e.Timestamp,
			"id":         e.ID,
			"objectKind": int64(2),
			"objectId":   ObjectID(e.Process, e.Thread),
			"domain":     int64(0),
			"name":       name,
		})
	}
}

func (w *writer) writeKernels(tr Trace) {
	for _, k := range tr.Kernels {
		corr := k.CorrelationID
		if corr == 0 {
			corr = uint32(k.ID)
		}
		w.insert("CUPTI_ACTIVITY_KIND_CONCURRENT_KERNEL", map[string]any{
			"_id_": k.ID, "start": k.Start, "end": k.End,
			"deviceId": int64(k.Device), "contextId": int64(1), "streamId": int64(k.Stream),
			"gridX": int64(k.Grid[0]), "gridY": int64(k.Grid[1]), "gridZ": int64(k.Grid[2]),
			"blockX": int64(k.Block[0]), "blockY": int64(k.Block[1]), "blockZ": int64(k.Block[2]),
			"staticSharedMemory": k.StaticShared, "dynamicSharedMemory": k.DynamicShared,
			"correlationId": int64(corr), "name": w.stringID(k.Name),
		})
		if k.LaunchStart != 0 {
			end := k.LaunchEnd
			if end == 0 {
				end = k.LaunchStart + 1
			}
			w.insert("CUPTI_ACTIVITY_KIND_RUNTIME", map[string]any{
				"_id_": k.ID, "cbid": int64(211), "start": k.LaunchStart, "end": end,
				"processId": int64(k.Process), "threadId": int64(k.Thread),
				"correlationId": int64(corr), "returnValue": int64(0),
			})
		}
	}
}

func (w *writer) writeMemcpys(tr Trace) {
	for _, m := range tr.Memcpys {
		corr := m.CorrelationID
		if corr == 0 {
			corr = uint32(m.ID)
		}
		w.insert("CUPTI_ACTIVITY_KIND_MEMCPY", map[string]any{
			"_id_": m.ID, "copyKind": m.CopyKind, "bytes": m.Bytes,
			"start": m.Start, "end": m.End, "deviceId": int64(0), "streamId": int64(7),
			"correlationId": int64(corr),
		})
		if m.LaunchStart != 0 {
			w.insert("CUPTI_ACTIVITY_KIND_RUNTIME", map[string]any{
				"_id_": m.ID + 1_000_000, "cbid": int64(41), "start": m.LaunchStart, "end": m.LaunchStart + 1,
				"processId": int64(0), "threadId": int64(m.Thread),
				"correlationId": int64(corr), "returnValue": int64(0),
			})
		}
	}
}

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}
