// Package store reads the SQLite trace database exported by the GPU profiler.
//
// The store is opened read-only. Every event accessor re-runs its query and
// streams rows, so a sequence can be iterated again from the start and large
// traces are never loaded whole by the store itself.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/inference-sim/kprof/prof"
)

// Store is an open, read-only trace database.
type Store struct {
	db     *sql.DB
	schema schema
	log    logrus.FieldLogger
}

// Open opens the trace at path and validates its schema. A schema mismatch
// is returned as *prof.TraceFormatError; the handle is closed on every error
// path.
func Open(ctx context.Context, path string, log logrus.FieldLogger) (*Store, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("open trace: %w", err)
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("open trace: %w", err)
	}
	dsn := (&url.URL{Scheme: "file", Path: abs, RawQuery: "mode=ro"}).String()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open trace %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	s, err := validateSchema(ctx, db)
	if err != nil {
		_ = db.Close()
		var tfe *prof.TraceFormatError
		if errors.As(err, &tfe) {
			return nil, err
		}
		return nil, fmt.Errorf("open trace %q: %w", path, err)
	}
	log.WithFields(logrus.Fields{
		"path":   path,
		"driver": s.hasDriver,
		"memcpy": s.hasMemcpy,
	}).Debug("trace store opened")
	return &Store{db: db, schema: s, log: log}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// HasMemcpy reports whether the trace recorded memory copies.
func (s *Store) HasMemcpy() bool { return s.schema.hasMemcpy }

// ProfileStart returns the earliest timestamp across the activity tables,
// or 0 for an empty trace.
func (s *Store) ProfileStart(ctx context.Context) (int64, error) {
	queries := []string{
		fmt.Sprintf(`SELECT MIN(timestamp) FROM %s`, TableMarker),
		fmt.Sprintf(`SELECT MIN("start") FROM %s`, TableKernel),
		fmt.Sprintf(`SELECT MIN("start") FROM %s`, TableRuntime),
	}
	if s.schema.hasDriver {
		queries = append(queries, fmt.Sprintf(`SELECT MIN("start") FROM %s`, TableDriver))
	}
	var (
		start int64
		found bool
	)
	for _, q := range queries {
		var v sql.NullInt64
		if err := s.db.QueryRowContext(ctx, q).Scan(&v); err != nil {
			return 0, fmt.Errorf("profile start: %w", err)
		}
		if v.Valid && (!found || v.Int64 < start) {
			start, found = v.Int64, true
		}
	}
	return start, nil
}

// Markers yields MarkerStart and MarkerEnd events ordered by timestamp.
// Instantaneous markers and other flag values are skipped.
func (s *Store) Markers(ctx context.Context) iter.Seq2[prof.RawEvent, error] {
	q := fmt.Sprintf(`SELECT m._id_, m.flags, m.timestamp, m.id, m.objectId, COALESCE(s.value, '')
FROM %s AS m
LEFT JOIN %s AS s ON m.name = s._id_
WHERE m.flags IN (%d, %d)
ORDER BY m.timestamp, m._id_`, TableMarker, TableStrings, markerFlagStart, markerFlagEnd)

	return s.query(ctx, "markers", q, func(rows *sql.Rows) (prof.RawEvent, error) {
		var (
			rowID, flags, ts, id int64
			objectID             []byte
			payload              string
		)
		if err := rows.Scan(&rowID, &flags, &ts, &id, &objectID, &payload); err != nil {
			return prof.RawEvent{}, err
		}
		pid, tid := decodeObjectID(objectID)
		e := prof.RawEvent{
			Kind:    prof.MarkerStart,
			ID:      id,
			Start:   ts,
			End:     ts,
			Payload: payload,
			Process: pid,
			Thread:  tid,
		}
		if flags == markerFlagEnd {
			e.Kind = prof.MarkerEnd
		}
		return e, nil
	})
}

// Kernels yields kernel launches ordered by start time. Each event carries
// the launching runtime call (or driver call, when the runtime row is
// missing) in LaunchStart, LaunchEnd, Process and Thread.
func (s *Store) Kernels(ctx context.Context) iter.Seq2[prof.RawEvent, error] {
	shared := "0, 0"
	if s.schema.hasSharedMem {
		shared = "k.staticSharedMemory, k.dynamicSharedMemory"
	}
	launch, join := s.launchColumns("k")
	q := fmt.Sprintf(`SELECT k._id_, k."start", k."end", k.deviceId, k.streamId, k.correlationId,
  COALESCE(s.value, ''), k.gridX, k.gridY, k.gridZ, k.blockX, k.blockY, k.blockZ,
  %s, %s
FROM %s AS k
LEFT JOIN %s AS s ON k.name = s._id_
%s
ORDER BY k."start", k._id_`, launch, shared, TableKernel, TableStrings, join)

	return s.query(ctx, "kernels", q, func(rows *sql.Rows) (prof.RawEvent, error) {
		var (
			e                               prof.RawEvent
			device, stream, corr            int64
			gx, gy, gz, bx, by, bz          int64
			launchStart, launchEnd          int64
			pid, tid, staticMem, dynamicMem int64
		)
		if err := rows.Scan(&e.ID, &e.Start, &e.End, &device, &stream, &corr,
			&e.Payload, &gx, &gy, &gz, &bx, &by, &bz,
			&launchStart, &launchEnd, &pid, &tid, &staticMem, &dynamicMem); err != nil {
			return prof.RawEvent{}, err
		}
		e.Kind = prof.KernelLaunch
		e.Device, e.Stream, e.CorrelationID = uint32(device), uint32(stream), uint32(corr)
		e.Grid = prof.Dim3{uint32(gx), uint32(gy), uint32(gz)}
		e.Block = prof.Dim3{uint32(bx), uint32(by), uint32(bz)}
		e.LaunchStart, e.LaunchEnd = launchStart, launchEnd
		e.Process, e.Thread = uint32(pid), uint64(tid)
		e.StaticSharedMem, e.DynamicSharedMem = staticMem, dynamicMem
		return e, nil
	})
}

// Memcpys yields memory copies ordered by start time, or nothing when the
// trace has no memcpy table.
func (s *Store) Memcpys(ctx context.Context) iter.Seq2[prof.RawEvent, error] {
	if !s.schema.hasMemcpy {
		return func(func(prof.RawEvent, error) bool) {}
	}
	launch, join := s.launchColumns("c")
	q := fmt.Sprintf(`SELECT c._id_, c."start", c."end", c.deviceId, c.streamId, c.correlationId,
  c.bytes, c.copyKind, %s
FROM %s AS c
%s
ORDER BY c."start", c._id_`, launch, TableMemcpy, join)

	return s.query(ctx, "memcpys", q, func(rows *sql.Rows) (prof.RawEvent, error) {
		var (
			e                      prof.RawEvent
			device, stream, corr   int64
			copyKind               int64
			launchStart, launchEnd int64
			pid, tid               int64
		)
		if err := rows.Scan(&e.ID, &e.Start, &e.End, &device, &stream, &corr,
			&e.Bytes, &copyKind, &launchStart, &launchEnd, &pid, &tid); err != nil {
			return prof.RawEvent{}, err
		}
		e.Kind = prof.Memcpy
		e.Payload = "memcpy " + memcpyKindName(copyKind)
		e.Device, e.Stream, e.CorrelationID = uint32(device), uint32(stream), uint32(corr)
		e.LaunchStart, e.LaunchEnd = launchStart, launchEnd
		e.Process, e.Thread = uint32(pid), uint64(tid)
		return e, nil
	})
}

// RuntimeCalls yields runtime API calls ordered by start time.
func (s *Store) RuntimeCalls(ctx context.Context) iter.Seq2[prof.RawEvent, error] {
	q := fmt.Sprintf(`SELECT _id_, "start", "end", correlationId, processId, threadId & 4294967295
FROM %s
ORDER BY "start", _id_`, TableRuntime)

	return s.query(ctx, "runtime calls", q, func(rows *sql.Rows) (prof.RawEvent, error) {
		var (
			e              prof.RawEvent
			corr, pid, tid int64
		)
		if err := rows.Scan(&e.ID, &e.Start, &e.End, &corr, &pid, &tid); err != nil {
			return prof.RawEvent{}, err
		}
		e.Kind = prof.RuntimeCall
		e.CorrelationID, e.Process, e.Thread = uint32(corr), uint32(pid), uint64(tid)
		return e, nil
	})
}

// launchColumns returns the select list and joins that attach the launching
// CPU call to rows of the table aliased as alias.
func (s *Store) launchColumns(alias string) (cols, joins string) {
	pick := func(col string) string {
		if s.schema.hasDriver {
			return fmt.Sprintf(`COALESCE(r.%s, d.%s, 0)`, col, col)
		}
		return fmt.Sprintf(`COALESCE(r.%s, 0)`, col)
	}
	cols = strings.Join([]string{
		pick(`"start"`),
		pick(`"end"`),
		pick("processId"),
		pick("threadId") + " & 4294967295",
	}, ", ")
	joins = fmt.Sprintf("LEFT JOIN %s AS r ON %s.correlationId = r.correlationId", TableRuntime, alias)
	if s.schema.hasDriver {
		joins += fmt.Sprintf("\nLEFT JOIN %s AS d ON %s.correlationId = d.correlationId", TableDriver, alias)
	}
	return cols, joins
}

// query streams rows through scan. The rows are closed when iteration ends,
// whether by exhaustion, an error, or the consumer stopping early.
func (s *Store) query(ctx context.Context, what, q string, scan func(*sql.Rows) (prof.RawEvent, error)) iter.Seq2[prof.RawEvent, error] {
	return func(yield func(prof.RawEvent, error) bool) {
		rows, err := s.db.QueryContext(ctx, q)
		if err != nil {
			yield(prof.RawEvent{}, fmt.Errorf("query %s: %w", what, err))
			return
		}
		defer rows.Close()

		n := 0
		for rows.Next() {
			e, err := scan(rows)
			if err != nil {
				yield(prof.RawEvent{}, fmt.Errorf("scan %s: %w", what, err))
				return
			}
			n++
			if !yield(e, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(prof.RawEvent{}, fmt.Errorf("read %s: %w", what, err))
			return
		}
		s.log.WithField("rows", n).Tracef("read %s", what)
	}
}

// Collect drains seq into a slice, stopping at the first error.
func Collect(seq iter.Seq2[prof.RawEvent, error]) ([]prof.RawEvent, error) {
	var out []prof.RawEvent
	for e, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// decodeObjectID unpacks a CUPTI thread object id: a little-endian uint32
// process id followed by a little-endian uint64 thread id. Only the low 32
// bits of the thread id are kept, matching how runtime rows are joined.
func decodeObjectID(b []byte) (pid uint32, tid uint64) {
	if len(b) >= 4 {
		pid = binary.LittleEndian.Uint32(b[:4])
	}
	switch {
	case len(b) >= 12:
		tid = binary.LittleEndian.Uint64(b[4:12])
	case len(b) >= 8:
		tid = uint64(binary.LittleEndian.Uint32(b[4:8]))
	}
	return pid, tid & 0xFFFFFFFF
}

var memcpyKinds = map[int64]string{
	1:  "HtoD",
	2:  "DtoH",
	3:  "HtoA",
	4:  "AtoH",
	5:  "AtoA",
	6:  "AtoD",
	7:  "DtoA",
	8:  "DtoD",
	9:  "HtoH",
	10: "PtoP",
}

func memcpyKindName(k int64) string {
	if n, ok := memcpyKinds[k]; ok {
		return n
	}
	return "unknown"
}
