// Copyright 2012 James Cooper. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dbx

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
)

// DB ties a driver, a connection pool and a pool-statement cache together
// behind one handle. Obtain one with Open; a DB is safe for concurrent use.
type DB struct {
	driver Driver
	scheme string
	u      *url.URL
	pool   *Pool

	mu    sync.Mutex
	stmts map[string]*Stmt

	closed atomic.Bool
}

// Open parses the URL, looks up the driver registered for its scheme, and
// builds a DB with a pool configured from the URL query parameters. The
// initial connections are established before Open returns.
func Open(rawURL string) (*DB, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("dbx: parse connection url: %w", err)
	}
	drv, ok := lookupDriver(u.Scheme)
	if !ok {
		return nil, &UnknownSchemeError{Scheme: u.Scheme}
	}
	cfg, err := drv.PoolOptions(u)
	if err != nil {
		return nil, err
	}
	db := &DB{
		driver: drv,
		scheme: u.Scheme,
		u:      u,
		stmts:  make(map[string]*Stmt),
	}
	// The pool factory holds the DB by back-reference: the DB owns the pool,
	// the factory needs the DB handle for driver-specific construction.
	db.pool = NewPool(cfg, u.Scheme, func(ctx context.Context) (DriverConn, error) {
		return db.driver.Connect(ctx, db)
	})
	if err := db.pool.initialize(context.Background()); err != nil {
		db.pool.Close()
		return nil, err
	}
	return db, nil
}

// URL returns the parsed connection URL.
func (db *DB) URL() *url.URL { return db.u }

// Driver returns the driver serving this database.
func (db *DB) Driver() Driver { return db.driver }

// Pool exposes the underlying connection pool, chiefly for stats export.
func (db *DB) Pool() *Pool { return db.pool }

// String renders the connection URL with any userinfo redacted.
func (db *DB) String() string {
	if db.u.User == nil {
		return db.u.String()
	}
	clone := *db.u
	clone.User = url.User(db.u.User.Username())
	return clone.String()
}

// WithConnection checks a connection out, runs fn with it, and releases it on
// every exit path, panics included. A retryable error from fn, or an error
// returned while ctx is canceled, marks the connection broken so the release
// discards it.
func (db *DB) WithConnection(ctx context.Context, fn func(*Conn) error) error {
	c, err := db.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer db.pool.Release(c)
	if err := fn(c); err != nil {
		c.markFault(ctx, err)
		return err
	}
	return nil
}

// Prepare returns the pool statement for the query, creating it on first use.
// The same query text yields the same statement until the DB is closed.
func (db *DB) Prepare(query string) (*Stmt, error) {
	if db.closed.Load() {
		return nil, ErrPoolClosed
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.stmts == nil {
		return nil, ErrPoolClosed
	}
	if s, ok := db.stmts[query]; ok {
		return s, nil
	}
	s := newStmt(db, query)
	db.stmts[query] = s
	db.logStatement("prepare", query)
	return s, nil
}

// Query prepares (or reuses) the pool statement for the query and executes
// it. The connection backing the returned rows goes back to the pool when
// they are closed.
func (db *DB) Query(ctx context.Context, query string, args ...any) (*Rows, error) {
	s, err := db.Prepare(query)
	if err != nil {
		return nil, err
	}
	db.logStatement("query", query)
	return s.Query(ctx, args...)
}

// Exec prepares (or reuses) the pool statement for the query and executes it,
// returning the connection to the pool before it returns.
func (db *DB) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	s, err := db.Prepare(query)
	if err != nil {
		return Result{}, err
	}
	db.logStatement("exec", query)
	return s.Exec(ctx, args...)
}

// Scalar executes the query and returns the first column of the first row,
// or nil when the result set is empty.
func (db *DB) Scalar(ctx context.Context, query string, args ...any) (any, error) {
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	var v any
	if err := rows.Scan(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// Retry runs op, replaying it on retryable failures per the pool's retry
// configuration. See Pool.Retry.
func (db *DB) Retry(ctx context.Context, op func() error) error {
	return db.pool.Retry(ctx, op)
}

// OnConnect installs a hook run on every connection the pool builds from now
// on, and applies it once to each connection currently sitting idle.
// Idle connections the hook fails on are discarded; the first such error is
// returned. The hook must not call pool operations.
func (db *DB) OnConnect(fn func(*Conn) error) error {
	db.pool.setHook(fn)
	if fn == nil {
		return nil
	}
	return db.pool.visitIdle(fn)
}

// Close closes every cached pool statement, then the pool. Operations on a
// closed DB fail with ErrPoolClosed. Close is idempotent.
func (db *DB) Close() error {
	if !db.closed.CompareAndSwap(false, true) {
		return nil
	}
	db.mu.Lock()
	stmts := db.stmts
	db.stmts = nil
	db.mu.Unlock()
	for _, s := range stmts {
		s.Close()
	}
	return db.pool.Close()
}

// SetLogger installs a Logger on the DB and its pool. Connection lifecycle
// events (open, discard) and statement operations are reported at debug
// level. A nil logger silences both again.
func (db *DB) SetLogger(l Logger) {
	db.pool.setLogger(l)
}

func (db *DB) logStatement(op, query string) {
	if l := db.pool.currentLogger(); l != nil {
		l.LogStatement(op, db.scheme, query)
	}
}
