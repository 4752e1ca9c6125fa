// Copyright 2012 James Cooper. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dbx

import (
	"context"
	"sync/atomic"
)

// connState tracks where a connection sits inside the pool. It is guarded by
// the pool mutex.
type connState int

const (
	connIdle connState = iota
	connInUse
	connDiscarded
)

// Conn is a pooled connection. It is exclusive to the holder between checkout
// and release; the pool never touches it while it is out.
type Conn struct {
	id   uint64
	pool *Pool
	dc   DriverConn

	state connState // guarded by pool.mu

	// broken is set when a retryable fault is observed on the connection;
	// release then discards it instead of pooling it.
	broken atomic.Bool

	// gone flips exactly once, when the pool discards the connection. It is
	// what makes cached back-references to the connection weak: holders
	// check it without the pool mutex and drop stale entries lazily.
	gone atomic.Bool
}

// ID returns the pool-unique identifier of this connection.
func (c *Conn) ID() uint64 { return c.id }

// Raw exposes the underlying driver connection for driver-specific use.
func (c *Conn) Raw() DriverConn { return c.dc }

// MarkBroken flags the connection so the pool discards it on release. Callers
// invoke it when a driver operation is interrupted mid-flight, for example by
// cancellation, leaving the session in an unknown state.
func (c *Conn) MarkBroken() { c.broken.Store(true) }

func (c *Conn) discarded() bool { return c.gone.Load() }

// markFault flags the connection after a failed operation when the fault is
// retryable, or when cancellation interrupted the operation mid-flight and
// left the session state unknown.
func (c *Conn) markFault(ctx context.Context, err error) {
	if Retryable(err) || ctx.Err() != nil {
		c.MarkBroken()
	}
}

// Query prepares the statement on this connection, runs it, and returns the
// rows. The driver statement is closed when the rows are; the connection
// itself stays with the caller. Use DB.Query for pooled execution.
func (c *Conn) Query(ctx context.Context, query string, args ...any) (*Rows, error) {
	ds, vals, err := c.adhoc(ctx, query, args)
	if err != nil {
		return nil, err
	}
	dr, err := ds.Query(ctx, vals)
	if err != nil {
		ds.Close()
		c.markFault(ctx, err)
		return nil, err
	}
	return &Rows{conn: c, dr: dr, ownedStmt: ds}, nil
}

// Exec prepares the statement on this connection, runs it, and closes it.
func (c *Conn) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	ds, vals, err := c.adhoc(ctx, query, args)
	if err != nil {
		return Result{}, err
	}
	defer ds.Close()
	res, err := ds.Exec(ctx, vals)
	if err != nil {
		c.markFault(ctx, err)
	}
	return res, err
}

func (c *Conn) adhoc(ctx context.Context, query string, args []any) (DriverStmt, []any, error) {
	ds, err := c.dc.Prepare(ctx, query)
	if err != nil {
		c.markFault(ctx, err)
		return nil, nil, err
	}
	vals, err := normalizeArgs(c.pool.scheme, c.dc, args)
	if err != nil {
		ds.Close()
		return nil, nil, err
	}
	return ds, vals, nil
}
