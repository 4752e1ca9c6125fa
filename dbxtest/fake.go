// Package dbxtest provides an in-memory driver for exercising the dbx core
// without a real database. Results are scripted per query text, failures are
// injected explicitly, and the driver counts every connect, prepare and close
// so tests can assert on exact pool behavior.
package dbxtest

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/go-dbx/dbx"
)

// canned is the scripted outcome for one query text.
type canned struct {
	cols []string
	rows [][]any
	res  dbx.Result
}

// Driver is a scriptable in-memory dbx driver. The zero value is not usable;
// call New.
type Driver struct {
	mu           sync.Mutex
	queries      map[string]*canned
	stmtErrs     []error
	connectErrs  []error
	convertParam func(any) (any, error)

	connects   int
	prepares   int
	connCloses int
	stmtCloses int
	lastArgs   []any
}

// New creates an empty scripted driver.
func New() *Driver {
	return &Driver{queries: make(map[string]*canned)}
}

// PoolOptions implements dbx.Driver.
func (d *Driver) PoolOptions(u *url.URL) (dbx.PoolConfig, error) {
	cfg, _, err := dbx.ParsePoolOptions(u.Query())
	return cfg, err
}

// Connect implements dbx.Driver.
func (d *Driver) Connect(ctx context.Context, db *dbx.DB) (dbx.DriverConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.connectErrs) > 0 {
		err := d.connectErrs[0]
		d.connectErrs = d.connectErrs[1:]
		return nil, err
	}
	d.connects++
	return &convConn{conn: &conn{driver: d}, scheme: db.URL().Scheme}, nil
}

// Handle scripts a row-producing result for the query text.
func (d *Driver) Handle(query string, cols []string, rows [][]any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queries[query] = &canned{cols: cols, rows: rows}
}

// HandleExec scripts an exec result for the query text.
func (d *Driver) HandleExec(query string, res dbx.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queries[query] = &canned{res: res}
}

// FailNext queues an error returned by the next statement execution.
// Multiple calls queue multiple failures, consumed in order.
func (d *Driver) FailNext(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stmtErrs = append(d.stmtErrs, err)
}

// FailConnect queues an error returned by the next Connect.
func (d *Driver) FailConnect(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connectErrs = append(d.connectErrs, err)
}

// ConvertParams installs a converter for argument types outside the core
// kinds. Every connection of the driver, including those already built, hands
// such arguments to it.
func (d *Driver) ConvertParams(fn func(any) (any, error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.convertParam = fn
}

// Connects returns how many connections the driver has built.
func (d *Driver) Connects() int { d.mu.Lock(); defer d.mu.Unlock(); return d.connects }

// Prepares returns how many driver statements have been prepared.
func (d *Driver) Prepares() int { d.mu.Lock(); defer d.mu.Unlock(); return d.prepares }

// ConnCloses returns how many connections have been closed.
func (d *Driver) ConnCloses() int { d.mu.Lock(); defer d.mu.Unlock(); return d.connCloses }

// StmtCloses returns how many driver statements have been closed.
func (d *Driver) StmtCloses() int { d.mu.Lock(); defer d.mu.Unlock(); return d.stmtCloses }

// LastArgs returns the argument list of the most recent execution.
func (d *Driver) LastArgs() []any { d.mu.Lock(); defer d.mu.Unlock(); return d.lastArgs }

func (d *Driver) takeStmtErr() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.stmtErrs) == 0 {
		return nil
	}
	err := d.stmtErrs[0]
	d.stmtErrs = d.stmtErrs[1:]
	return err
}

func (d *Driver) lookup(query string) *canned {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queries[query]
}

func (d *Driver) record(args []any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastArgs = args
}

type conn struct {
	driver *Driver
	mu     sync.Mutex
	closed bool
}

func (c *conn) Prepare(ctx context.Context, query string) (dbx.DriverStmt, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("dbxtest: prepare on closed connection")
	}
	c.driver.mu.Lock()
	c.driver.prepares++
	c.driver.mu.Unlock()
	return &stmt{conn: c, query: query}, nil
}

func (c *conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.driver.mu.Lock()
	c.driver.connCloses++
	c.driver.mu.Unlock()
	return nil
}

func (c *conn) Valid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// convConn is a conn that additionally accepts driver-specific parameter
// types through the converter currently installed on the driver, and rejects
// them when none is installed.
type convConn struct {
	*conn
	scheme string
}

func (c *convConn) ConvertParam(v any) (any, error) {
	c.driver.mu.Lock()
	fn := c.driver.convertParam
	c.driver.mu.Unlock()
	if fn == nil {
		return nil, &dbx.UnsupportedParamTypeError{Driver: c.scheme, Value: v}
	}
	return fn(v)
}

type stmt struct {
	conn   *conn
	query  string
	closed bool
}

func (s *stmt) Query(ctx context.Context, args []any) (dbx.DriverRows, error) {
	if err := s.conn.driver.takeStmtErr(); err != nil {
		return nil, err
	}
	s.conn.driver.record(args)
	cn := s.conn.driver.lookup(s.query)
	if cn == nil {
		cn = &canned{}
	}
	return &rows{cols: cn.cols, data: cn.rows, pos: -1}, nil
}

func (s *stmt) Exec(ctx context.Context, args []any) (dbx.Result, error) {
	if err := s.conn.driver.takeStmtErr(); err != nil {
		return dbx.Result{}, err
	}
	s.conn.driver.record(args)
	cn := s.conn.driver.lookup(s.query)
	if cn == nil {
		return dbx.Result{}, nil
	}
	return cn.res, nil
}

func (s *stmt) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.conn.driver.mu.Lock()
	s.conn.driver.stmtCloses++
	s.conn.driver.mu.Unlock()
	return nil
}

type rows struct {
	cols   []string
	data   [][]any
	pos    int
	closed bool
}

func (r *rows) Next() bool {
	if r.closed || r.pos+1 >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *rows) Err() error { return nil }

func (r *rows) Columns() []string { return r.cols }

func (r *rows) ColumnTypeName(i int) string {
	if len(r.data) == 0 || i >= len(r.data[0]) {
		return ""
	}
	return fmt.Sprintf("%T", r.data[0][i])
}

func (r *rows) Value(i int) (any, error) {
	if r.pos < 0 || r.pos >= len(r.data) {
		return nil, fmt.Errorf("dbxtest: read before Next or past end of rows")
	}
	row := r.data[r.pos]
	if i >= len(row) {
		return nil, fmt.Errorf("dbxtest: column %d out of range", i)
	}
	return row[i], nil
}

func (r *rows) Close() error {
	r.closed = true
	return nil
}
