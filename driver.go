// Copyright 2012 James Cooper. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dbx

import (
	"context"
	"net/url"
	"time"
)

// Driver is the factory a database backend registers under a URL scheme.
type Driver interface {
	// PoolOptions derives the pool configuration from the connection URL.
	// Most drivers delegate the recognized pool parameters to
	// ParsePoolOptions and consume the remainder themselves.
	PoolOptions(u *url.URL) (PoolConfig, error)

	// Connect establishes one session to the backing database. The pool
	// calls it whenever it grows; the *DB handle carries the parsed URL and
	// driver-specific parameters.
	Connect(ctx context.Context, db *DB) (DriverConn, error)
}

// DriverConn is a single live session to a backing database. The pool hands a
// connection to exactly one holder at a time, so implementations do not need
// to guard Prepare against concurrent use.
type DriverConn interface {
	// Prepare builds a statement bound to this connection for the life of
	// the connection.
	Prepare(ctx context.Context, query string) (DriverStmt, error)

	// Close tears the session down. Statements prepared on the connection
	// die with it.
	Close() error

	// Valid reports whether the session is still usable. It must be cheap;
	// the pool consults it on every release.
	Valid() bool
}

// DriverStmt is a prepared statement on one specific connection.
type DriverStmt interface {
	Query(ctx context.Context, args []any) (DriverRows, error)
	Exec(ctx context.Context, args []any) (Result, error)
	Close() error
}

// DriverRows is a forward cursor over the rows a statement produced.
type DriverRows interface {
	// Next advances to the next row, reporting false at the end of the set
	// or on error. Err distinguishes the two.
	Next() bool
	Err() error

	Columns() []string
	ColumnTypeName(i int) string

	// Value returns column i of the current row as one of the core kinds or
	// a driver-specific value.
	Value(i int) (any, error)

	Close() error
}

// Result reports the outcome of a statement that produced no cursor.
type Result struct {
	RowsAffected int64
	LastInsertID int64
}

// ParamConverter is implemented by driver connections that accept argument
// types beyond the core kinds. The framework offers any non-core argument to
// the connection before rejecting it with UnsupportedParamTypeError.
type ParamConverter interface {
	ConvertParam(v any) (any, error)
}

// ColumnConverter is implemented by driver row sets that can assign their
// native wire values to destination types the core coercions do not know.
// ok=false falls back to the core coercions.
type ColumnConverter interface {
	ConvertColumn(i int, dest any) (ok bool, err error)
}

// normalizeParam coerces v onto the core parameter kinds: nil, bool, int64,
// float64, string, []byte and time.Time. ok=false means v is outside the set
// and must be offered to the driver.
func normalizeParam(v any) (any, bool) {
	switch x := v.(type) {
	case nil, bool, int64, float64, string, []byte, time.Time:
		return x, true
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case uint:
		return int64(x), true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		return int64(x), true
	case float32:
		return float64(x), true
	}
	return v, false
}

// normalizeArgs maps caller arguments onto values the driver accepts.
func normalizeArgs(scheme string, dc DriverConn, args []any) ([]any, error) {
	out := make([]any, len(args))
	for i, a := range args {
		if v, ok := normalizeParam(a); ok {
			out[i] = v
			continue
		}
		if pc, ok := dc.(ParamConverter); ok {
			v, err := pc.ConvertParam(a)
			if err != nil {
				return nil, err
			}
			out[i] = v
			continue
		}
		return nil, &UnsupportedParamTypeError{Driver: scheme, Value: a}
	}
	return out, nil
}
