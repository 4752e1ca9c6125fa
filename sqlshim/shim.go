// Package sqlshim exposes database/sql drivers through the dbx contracts.
//
// The shim deliberately does not speak any dialect: it synthesizes a DSN from
// the connection URL via a caller-supplied function and drives the standard
// prepared-statement surface through sqlx. Each dbx connection is pinned to a
// single database/sql connection so the dbx pool, not database/sql, owns
// pooling.
package sqlshim

import (
	"context"
	"database/sql/driver"
	"errors"
	"net/url"

	"github.com/jmoiron/sqlx"

	"github.com/go-dbx/dbx"
)

// DSNFunc renders the driver-native DSN for a connection URL. The URL still
// carries the pool parameters; use dbx.ParsePoolOptions to obtain the
// remaining query parameters.
type DSNFunc func(u *url.URL) (string, error)

// Register wires a database/sql driver under a dbx URL scheme.
func Register(scheme, driverName string, dsn DSNFunc) {
	dbx.Register(scheme, &shimDriver{scheme: scheme, driverName: driverName, dsn: dsn})
}

type shimDriver struct {
	scheme     string
	driverName string
	dsn        DSNFunc
}

func (d *shimDriver) PoolOptions(u *url.URL) (dbx.PoolConfig, error) {
	cfg, _, err := dbx.ParsePoolOptions(u.Query())
	return cfg, err
}

func (d *shimDriver) Connect(ctx context.Context, db *dbx.DB) (dbx.DriverConn, error) {
	dsn, err := d.dsn(db.URL())
	if err != nil {
		return nil, err
	}
	sdb, err := sqlx.Open(d.driverName, dsn)
	if err != nil {
		return nil, d.wrap(nil, err)
	}
	// One database/sql connection per dbx connection; the dbx pool owns
	// pooling.
	sdb.SetMaxOpenConns(1)
	sdb.SetMaxIdleConns(1)
	conn, err := sdb.Connx(ctx)
	if err != nil {
		sdb.Close()
		return nil, d.wrap(nil, err)
	}
	return &shimConn{driver: d, db: sdb, conn: conn}, nil
}

// wrap classifies a database/sql error for the dbx retry machinery.
func (d *shimDriver) wrap(c *shimConn, err error) error {
	if err == nil {
		return nil
	}
	retryable := errors.Is(err, driver.ErrBadConn)
	if retryable && c != nil {
		c.bad = true
	}
	return &dbx.DriverError{
		Scheme:    d.scheme,
		Message:   err.Error(),
		Retryable: retryable,
		Err:       err,
	}
}

type shimConn struct {
	driver *shimDriver
	db     *sqlx.DB
	conn   *sqlx.Conn
	bad    bool
	closed bool
}

func (c *shimConn) Prepare(ctx context.Context, query string) (dbx.DriverStmt, error) {
	st, err := c.conn.PreparexContext(ctx, query)
	if err != nil {
		return nil, c.driver.wrap(c, err)
	}
	return &shimStmt{conn: c, st: st}, nil
}

func (c *shimConn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	err := c.conn.Close()
	if derr := c.db.Close(); err == nil {
		err = derr
	}
	return c.driver.wrap(nil, err)
}

func (c *shimConn) Valid() bool {
	return !c.closed && !c.bad
}

type shimStmt struct {
	conn *shimConn
	st   *sqlx.Stmt
}

func (s *shimStmt) Query(ctx context.Context, args []any) (dbx.DriverRows, error) {
	rows, err := s.st.QueryxContext(ctx, args...)
	if err != nil {
		return nil, s.conn.driver.wrap(s.conn, err)
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, s.conn.driver.wrap(s.conn, err)
	}
	typeNames := make([]string, len(cols))
	if types, err := rows.ColumnTypes(); err == nil {
		for i, t := range types {
			typeNames[i] = t.DatabaseTypeName()
		}
	}
	return &shimRows{conn: s.conn, rows: rows, cols: cols, typeNames: typeNames}, nil
}

func (s *shimStmt) Exec(ctx context.Context, args []any) (dbx.Result, error) {
	res, err := s.st.ExecContext(ctx, args...)
	if err != nil {
		return dbx.Result{}, s.conn.driver.wrap(s.conn, err)
	}
	// Not every engine reports these; absent values stay zero.
	affected, _ := res.RowsAffected()
	last, _ := res.LastInsertId()
	return dbx.Result{RowsAffected: affected, LastInsertID: last}, nil
}

func (s *shimStmt) Close() error {
	return s.conn.driver.wrap(s.conn, s.st.Close())
}

type shimRows struct {
	conn      *shimConn
	rows      *sqlx.Rows
	cols      []string
	typeNames []string
	current   []any
	scanErr   error
}

func (r *shimRows) Next() bool {
	if !r.rows.Next() {
		return false
	}
	vals := make([]any, len(r.cols))
	ptrs := make([]any, len(r.cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		r.scanErr = r.conn.driver.wrap(r.conn, err)
		return false
	}
	// database/sql reuses byte buffers between rows.
	for i, v := range vals {
		if b, ok := v.([]byte); ok {
			vals[i] = append([]byte(nil), b...)
		}
	}
	r.current = vals
	return true
}

func (r *shimRows) Err() error {
	if r.scanErr != nil {
		return r.scanErr
	}
	return r.conn.driver.wrap(r.conn, r.rows.Err())
}

func (r *shimRows) Columns() []string { return r.cols }

func (r *shimRows) ColumnTypeName(i int) string {
	if i < 0 || i >= len(r.typeNames) {
		return ""
	}
	return r.typeNames[i]
}

func (r *shimRows) Value(i int) (any, error) {
	if r.current == nil {
		return nil, errors.New("sqlshim: read before Next or past end of rows")
	}
	if i < 0 || i >= len(r.current) {
		return nil, errors.New("sqlshim: column index out of range")
	}
	return r.current[i], nil
}

func (r *shimRows) Close() error {
	return r.conn.driver.wrap(r.conn, r.rows.Close())
}
