package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/inference-sim/kprof/prof"
)

// CUPTI activity tables written by nvprof's SQLite export.
const (
	TableStrings = "StringTable"
	TableMarker  = "CUPTI_ACTIVITY_KIND_MARKER"
	TableKernel  = "CUPTI_ACTIVITY_KIND_CONCURRENT_KERNEL"
	TableRuntime = "CUPTI_ACTIVITY_KIND_RUNTIME"
	TableDriver  = "CUPTI_ACTIVITY_KIND_DRIVER"
	TableMemcpy  = "CUPTI_ACTIVITY_KIND_MEMCPY"
)

// Marker flags distinguishing range start and end rows.
const (
	markerFlagStart = 2
	markerFlagEnd   = 4
)

// requiredColumns lists, per mandatory table, the columns the reader selects.
var requiredColumns = map[string][]string{
	TableStrings: {"_id_", "value"},
	TableMarker:  {"_id_", "flags", "timestamp", "id", "objectId", "name"},
	TableKernel: {"_id_", "start", "end", "deviceId", "streamId", "correlationId", "name",
		"gridX", "gridY", "gridZ", "blockX", "blockY", "blockZ"},
	TableRuntime: {"_id_", "start", "end", "correlationId", "processId", "threadId"},
}

// requiredOrder fixes the validation order so errors are deterministic.
var requiredOrder = []string{TableStrings, TableMarker, TableKernel, TableRuntime}

// optionalColumns are needed only when their table is present.
var optionalColumns = map[string][]string{
	TableDriver: {"start", "end", "correlationId", "processId", "threadId"},
	TableMemcpy: {"_id_", "start", "end", "deviceId", "streamId", "correlationId", "bytes", "copyKind"},
}

// schema records which optional parts of the trace are present.
type schema struct {
	hasDriver    bool
	hasMemcpy    bool
	hasSharedMem bool
}

// tableColumns returns the column names of table, or nil if it does not exist.
func tableColumns(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     sql.NullString
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dfltValue, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, nil
	}
	return cols, nil
}

// validateSchema checks every required table and column and probes the
// optional ones. A mismatch is returned as *prof.TraceFormatError; failing to
// query the schema at all is an ordinary error.
func validateSchema(ctx context.Context, db *sql.DB) (schema, error) {
	for _, table := range requiredOrder {
		cols, err := tableColumns(ctx, db, table)
		if err != nil {
			return schema{}, fmt.Errorf("inspect table %s: %w", table, err)
		}
		if cols == nil {
			return schema{}, &prof.TraceFormatError{Table: table, Reason: "table missing"}
		}
		for _, c := range requiredColumns[table] {
			if !cols[c] {
				return schema{}, &prof.TraceFormatError{Table: table, Column: c, Reason: "column missing"}
			}
		}
	}

	var s schema
	kernelCols, err := tableColumns(ctx, db, TableKernel)
	if err != nil {
		return schema{}, fmt.Errorf("inspect table %s: %w", TableKernel, err)
	}
	s.hasSharedMem = kernelCols["staticSharedMemory"] && kernelCols["dynamicSharedMemory"]

	for _, table := range []string{TableDriver, TableMemcpy} {
		cols, err := tableColumns(ctx, db, table)
		if err != nil {
			return schema{}, fmt.Errorf("inspect table %s: %w", table, err)
		}
		if cols == nil {
			continue
		}
		for _, c := range optionalColumns[table] {
			if !cols[c] {
				return schema{}, &prof.TraceFormatError{Table: table, Column: c, Reason: "column missing"}
			}
		}
		switch table {
		case TableDriver:
			s.hasDriver = true
		case TableMemcpy:
			s.hasMemcpy = true
		}
	}
	return s, nil
}
