// Copyright 2012 James Cooper. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dbx

import "time"

// Rows is a forward cursor over a result set. Rows produced by pooled
// execution (DB.Query, Stmt.Query) hold their connection out of the pool
// until Close; close them on every path.
type Rows struct {
	pool      *Pool      // nil for rows produced inside WithConnection
	conn      *Conn
	dr        DriverRows
	ownedStmt DriverStmt // ad-hoc statement to close with the rows, if any
	closed    bool
}

// Next advances the cursor, reporting false at the end of the set or on
// error; Err distinguishes the two.
func (r *Rows) Next() bool {
	if r.closed {
		return false
	}
	return r.dr.Next()
}

// Err returns the error, if any, that ended iteration early.
func (r *Rows) Err() error {
	return r.dr.Err()
}

// Columns returns the column names of the result set.
func (r *Rows) Columns() []string {
	return r.dr.Columns()
}

// ColumnTypeName returns the driver's name for the type of column i.
func (r *Rows) ColumnTypeName(i int) string {
	return r.dr.ColumnTypeName(i)
}

// Scan assigns the columns of the current row to dest, one pointer per
// column read, applying the core coercions. Drivers extend the conversions by
// implementing ColumnConverter on their row sets. A value that fits neither
// fails with TypeMismatchError.
func (r *Rows) Scan(dest ...any) error {
	cc, _ := r.dr.(ColumnConverter)
	cols := r.dr.Columns()
	for i, d := range dest {
		if cc != nil {
			ok, err := cc.ConvertColumn(i, d)
			if err != nil {
				return err
			}
			if ok {
				continue
			}
		}
		v, err := r.dr.Value(i)
		if err != nil {
			return err
		}
		name := ""
		if i < len(cols) {
			name = cols[i]
		}
		if err := assignColumn(d, v, name); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the cursor and returns the backing connection to the pool
// when the rows came from pooled execution. Close is idempotent.
func (r *Rows) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.dr.Close()
	if r.ownedStmt != nil {
		if cerr := r.ownedStmt.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil && Retryable(err) {
		r.conn.MarkBroken()
	}
	if r.pool != nil {
		r.pool.Release(r.conn)
	}
	return err
}

// assignColumn applies the core coercions from a driver value onto dest.
func assignColumn(dest, v any, column string) error {
	switch d := dest.(type) {
	case *any:
		*d = v
		return nil
	case *string:
		switch x := v.(type) {
		case string:
			*d = x
			return nil
		case []byte:
			*d = string(x)
			return nil
		}
	case *[]byte:
		switch x := v.(type) {
		case []byte:
			*d = x
			return nil
		case string:
			*d = []byte(x)
			return nil
		}
	case *int64:
		if x, ok := v.(int64); ok {
			*d = x
			return nil
		}
	case *int:
		if x, ok := v.(int64); ok {
			*d = int(x)
			return nil
		}
	case *float64:
		switch x := v.(type) {
		case float64:
			*d = x
			return nil
		case int64:
			*d = float64(x)
			return nil
		}
	case *bool:
		if x, ok := v.(bool); ok {
			*d = x
			return nil
		}
	case *time.Time:
		if x, ok := v.(time.Time); ok {
			*d = x
			return nil
		}
	}
	return &TypeMismatchError{Column: column, Value: v, Target: dest}
}
