// Copyright 2012 James Cooper. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dbx

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Stmt is a pool statement: a query string plus a table of driver statements
// keyed by the connection each was prepared on. It is what callers hold; the
// physical prepared statement is rebound to whichever connection the pool
// hands out on each execution, preferring connections the statement was
// already prepared on.
//
// The per-connection entries are weak: a connection the pool has discarded is
// pruned lazily and never pinned. At most one driver statement exists per
// connection.
type Stmt struct {
	db    *DB
	query string

	mu     sync.Mutex
	conns  map[uint64]*boundStmt
	closed bool
	hits   uint64
	misses uint64
}

// boundStmt is a driver statement together with the connection it lives on.
type boundStmt struct {
	conn *Conn
	ds   DriverStmt
}

func newStmt(db *DB, query string) *Stmt {
	return &Stmt{
		db:    db,
		query: query,
		conns: make(map[uint64]*boundStmt),
	}
}

// Query executes the statement and returns the rows. The connection backing
// the rows returns to the pool when the rows are closed.
func (s *Stmt) Query(ctx context.Context, args ...any) (*Rows, error) {
	ctx, span := s.startSpan(ctx, "stmt.query")
	c, ds, err := s.bind(ctx)
	if err != nil {
		return nil, s.endSpan(span, err)
	}
	vals, err := normalizeArgs(s.db.scheme, c.dc, args)
	if err != nil {
		s.db.pool.Release(c)
		return nil, s.endSpan(span, err)
	}
	dr, err := ds.Query(ctx, vals)
	if err != nil {
		c.markFault(ctx, err)
		s.db.pool.Release(c)
		return nil, s.endSpan(span, err)
	}
	s.endSpan(span, nil)
	return &Rows{pool: s.db.pool, conn: c, dr: dr}, nil
}

// Exec executes the statement and releases the connection immediately.
func (s *Stmt) Exec(ctx context.Context, args ...any) (Result, error) {
	ctx, span := s.startSpan(ctx, "stmt.exec")
	c, ds, err := s.bind(ctx)
	if err != nil {
		return Result{}, s.endSpan(span, err)
	}
	vals, err := normalizeArgs(s.db.scheme, c.dc, args)
	if err != nil {
		s.db.pool.Release(c)
		return Result{}, s.endSpan(span, err)
	}
	res, err := ds.Exec(ctx, vals)
	if err != nil {
		c.markFault(ctx, err)
	}
	s.db.pool.Release(c)
	return res, s.endSpan(span, err)
}

// bind checks out a connection, preferring one the statement is already
// prepared on, and returns the driver statement for it, preparing a fresh one
// on a cache miss. Stale entries for discarded connections are pruned while
// building the candidate list.
func (s *Stmt) bind(ctx context.Context) (*Conn, DriverStmt, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, nil, ErrPoolClosed
	}
	candidates := make([]*Conn, 0, len(s.conns))
	for id, b := range s.conns {
		if b.conn.discarded() {
			delete(s.conns, id)
			continue
		}
		candidates = append(candidates, b.conn)
	}
	s.mu.Unlock()

	c, reused, err := s.db.pool.AcquirePreferred(ctx, candidates)
	if err != nil {
		return nil, nil, err
	}
	if reused {
		s.mu.Lock()
		b := s.conns[c.id]
		s.hits++
		s.mu.Unlock()
		if b != nil {
			return c, b.ds, nil
		}
	}

	ds, err := c.dc.Prepare(ctx, s.query)
	if err != nil {
		c.markFault(ctx, err)
		s.db.pool.Release(c)
		return nil, nil, err
	}
	s.mu.Lock()
	if !s.closed {
		s.conns[c.id] = &boundStmt{conn: c, ds: ds}
	}
	s.misses++
	s.mu.Unlock()
	return c, ds, nil
}

// Close detaches the statement from its cached connections. The driver
// statements themselves are not touched; each lives and dies with the
// connection it was prepared on.
func (s *Stmt) Close() error {
	s.mu.Lock()
	s.closed = true
	s.conns = make(map[uint64]*boundStmt)
	s.mu.Unlock()
	return nil
}

// CacheStats reports how many executions reused a prepared statement versus
// prepared afresh.
func (s *Stmt) CacheStats() (hits, misses uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits, s.misses
}

func (s *Stmt) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s.db.pool.tracer == nil {
		return ctx, nil
	}
	return s.db.pool.tracer.Start(ctx, name,
		trace.WithAttributes(attribute.String("db.statement", truncate(s.query, 100))))
}

func (s *Stmt) endSpan(span trace.Span, err error) error {
	if span != nil {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
