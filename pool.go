// Copyright 2012 James Cooper. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dbx

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// connFactory builds one driver connection. The pool calls it without holding
// its mutex, so factories may dial.
type connFactory func(ctx context.Context) (DriverConn, error)

// waiter is one parked checkout. ready carries the handed-off connection, or
// nil as a signal that capacity was freed and the waiter should try again.
// The channel is buffered so release never blocks on a waiter.
type waiter struct {
	ready chan *Conn
}

// Pool is a bounded set of connections with checkout/release semantics.
// All bookkeeping sits behind a single mutex; driver I/O (dialing, closing)
// happens outside it. Waiters on a saturated pool are woken in FIFO order,
// one per release.
type Pool struct {
	cfg     PoolConfig
	scheme  string
	factory connFactory
	tracer  trace.Tracer

	nextID atomic.Uint64

	mu      sync.Mutex
	conns   map[*Conn]struct{} // connections the pool has created and not discarded
	idle    []*Conn            // free set; reused LIFO
	waiters []*waiter          // parked checkouts, eldest first
	total   int
	closed  bool

	hook   func(*Conn) error // guarded by mu; run on new connections outside it
	logger Logger            // guarded by mu; invoked outside it

	// monotonic counters, guarded by mu
	acquires uint64
	reuses   uint64
	creates  uint64
	discards uint64
	timeouts uint64
	waits    uint64
}

// PoolStats is a point-in-time snapshot of the pool.
type PoolStats struct {
	Total int // connections created and not discarded
	Idle  int // connections in the free set
	InUse int // Total - Idle

	Acquires uint64 // successful checkouts
	Reuses   uint64 // preferred checkouts satisfied from the candidate set
	Creates  uint64 // connections built
	Discards uint64 // connections torn down
	Timeouts uint64 // checkouts failed with ErrPoolTimeout
	Waits    uint64 // checkouts that parked on a saturated pool
}

// NewPool creates a pool for the given scheme and connection factory. No
// connections are built until initialize or the first checkout.
func NewPool(cfg PoolConfig, scheme string, factory connFactory) *Pool {
	p := &Pool{
		cfg:     cfg,
		scheme:  scheme,
		factory: factory,
		conns:   make(map[*Conn]struct{}),
	}
	if cfg.EnableTracing {
		name := cfg.TracerName
		if name == "" {
			name = "dbx.pool"
		}
		p.tracer = otel.Tracer(name)
	}
	return p
}

// initialize eagerly builds the configured number of connections into the
// free set.
func (p *Pool) initialize(ctx context.Context) error {
	n := p.cfg.InitialSize
	if p.cfg.MaxSize > 0 && n > p.cfg.MaxSize {
		n = p.cfg.MaxSize
	}
	for i := 0; i < n; i++ {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return ErrPoolClosed
		}
		p.total++
		p.mu.Unlock()
		c, err := p.buildConn(ctx)
		if err != nil {
			p.mu.Lock()
			p.total--
			p.mu.Unlock()
			return err
		}
		p.mu.Lock()
		c.state = connIdle
		p.idle = append(p.idle, c)
		p.mu.Unlock()
	}
	return nil
}

// Acquire checks out a connection: an idle one if available, a fresh one if
// the pool may still grow, otherwise it joins the FIFO wait queue until a
// release hands one over, capacity frees up, the checkout timeout elapses
// (ErrPoolTimeout), or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	var span trace.Span
	if p.tracer != nil {
		ctx, span = p.tracer.Start(ctx, "pool.acquire",
			trace.WithAttributes(attribute.String("db.scheme", p.scheme)))
		defer span.End()
	}
	c, err := p.acquire(ctx)
	if span != nil {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
	return c, err
}

func (p *Pool) acquire(ctx context.Context) (*Conn, error) {
	var deadline *time.Time
	if p.cfg.CheckoutTimeout > 0 {
		d := time.Now().Add(p.cfg.CheckoutTimeout)
		deadline = &d
	}
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		if n := len(p.idle); n > 0 {
			c := p.idle[n-1]
			p.idle = p.idle[:n-1]
			c.state = connInUse
			p.acquires++
			p.mu.Unlock()
			return c, nil
		}
		if p.cfg.MaxSize == 0 || p.total < p.cfg.MaxSize {
			p.total++
			p.mu.Unlock()
			c, err := p.buildConn(ctx)
			if err != nil {
				p.mu.Lock()
				p.total--
				w := p.popWaiterLocked()
				p.mu.Unlock()
				if w != nil {
					w.ready <- nil
				}
				return nil, err
			}
			p.mu.Lock()
			p.acquires++
			p.mu.Unlock()
			return c, nil
		}

		// Saturated. Park in FIFO order.
		w := &waiter{ready: make(chan *Conn, 1)}
		p.waiters = append(p.waiters, w)
		p.waits++
		p.mu.Unlock()

		var timerC <-chan time.Time
		var timer *time.Timer
		if deadline != nil {
			timer = time.NewTimer(time.Until(*deadline))
			timerC = timer.C
		}
		select {
		case c := <-w.ready:
			if timer != nil {
				timer.Stop()
			}
			if c != nil {
				p.mu.Lock()
				p.acquires++
				p.mu.Unlock()
				return c, nil
			}
			// Capacity freed; go around with the remaining deadline.
		case <-timerC:
			if c := p.abandonWait(w); c != nil {
				// A release beat the timeout; the handoff wins.
				p.mu.Lock()
				p.acquires++
				p.mu.Unlock()
				return c, nil
			}
			p.mu.Lock()
			p.timeouts++
			p.mu.Unlock()
			return nil, ErrPoolTimeout
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			if c := p.abandonWait(w); c != nil {
				p.Release(c)
			}
			return nil, ctx.Err()
		}
	}
}

// abandonWait removes w from the queue. When w was already dequeued by a
// release, the in-flight handoff is consumed instead: a connection is
// returned to the caller, a retry signal is forwarded to the next waiter.
func (p *Pool) abandonWait(w *waiter) *Conn {
	p.mu.Lock()
	for i, x := range p.waiters {
		if x == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			p.mu.Unlock()
			return nil
		}
	}
	p.mu.Unlock()
	c := <-w.ready
	if c == nil {
		// Retry signal meant for us; pass it along.
		p.mu.Lock()
		next := p.popWaiterLocked()
		p.mu.Unlock()
		if next != nil {
			next.ready <- nil
		}
		return nil
	}
	return c
}

// AcquirePreferred checks out the first candidate that is still alive and
// currently idle, reporting reused=true. When no candidate qualifies it falls
// back to Acquire with reused=false. The candidate scan and the removal from
// the free set are atomic with respect to other checkouts.
func (p *Pool) AcquirePreferred(ctx context.Context, candidates []*Conn) (*Conn, bool, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, false, ErrPoolClosed
	}
	for _, c := range candidates {
		if c == nil || c.pool != p || c.state != connIdle {
			continue
		}
		p.removeIdleLocked(c)
		c.state = connInUse
		p.acquires++
		p.reuses++
		p.mu.Unlock()
		return c, true, nil
	}
	p.mu.Unlock()
	c, err := p.Acquire(ctx)
	return c, false, err
}

// Release returns a connection to the pool. Broken or invalid connections are
// discarded; a release that would overflow the idle cap discards instead of
// pooling. Releasing a connection the pool did not lend out is a programmer
// error and panics.
func (p *Pool) Release(c *Conn) {
	if c == nil || c.pool != p {
		panic("dbx: release of connection not owned by this pool")
	}
	p.mu.Lock()
	if _, owned := p.conns[c]; !owned || c.state != connInUse {
		p.mu.Unlock()
		panic("dbx: release of connection that is not checked out")
	}
	if c.broken.Load() || p.closed || !c.dc.Valid() {
		p.discardLocked(c)
		p.mu.Unlock()
		c.dc.Close()
		p.logConnEvent(ConnectionDiscarded, c)
		return
	}
	if w := p.popWaiterLocked(); w != nil {
		// Direct handoff; the connection never touches the free set.
		p.mu.Unlock()
		w.ready <- c
		return
	}
	if len(p.idle) >= p.cfg.MaxIdle {
		p.discardLocked(c)
		p.mu.Unlock()
		c.dc.Close()
		p.logConnEvent(ConnectionDiscarded, c)
		return
	}
	c.state = connIdle
	p.idle = append(p.idle, c)
	p.mu.Unlock()
}

// visitIdle applies fn to every connection currently in the free set, under
// the pool mutex so none of them can be checked out mid-visit. Connections fn
// fails on are discarded. fn must not call pool operations.
func (p *Pool) visitIdle(fn func(*Conn) error) error {
	var failed []*Conn
	var firstErr error
	p.mu.Lock()
	kept := p.idle[:0]
	for _, c := range p.idle {
		if err := fn(c); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			p.discardLocked(c)
			failed = append(failed, c)
			continue
		}
		kept = append(kept, c)
	}
	p.idle = kept
	p.mu.Unlock()
	for _, c := range failed {
		c.dc.Close()
		p.logConnEvent(ConnectionDiscarded, c)
	}
	return firstErr
}

// setHook installs the callable run on every newly built connection.
func (p *Pool) setHook(fn func(*Conn) error) {
	p.mu.Lock()
	p.hook = fn
	p.mu.Unlock()
}

func (p *Pool) currentHook() func(*Conn) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hook
}

func (p *Pool) setLogger(l Logger) {
	p.mu.Lock()
	p.logger = l
	p.mu.Unlock()
}

func (p *Pool) currentLogger() Logger {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.logger
}

// logConnEvent reports a lifecycle event for c. Called without the pool
// mutex so logger implementations may read Stats.
func (p *Pool) logConnEvent(event ConnectionEvent, c *Conn) {
	if l := p.currentLogger(); l != nil {
		l.LogConnection(event, p.scheme, c.id, p.Stats())
	}
}

// Close quiesces the pool: new checkouts fail with ErrPoolClosed, parked
// waiters are woken with the same error, and idle connections are closed
// immediately. Close does not wait for outstanding checkouts; connections
// still in use are closed when released. Close is idempotent.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	waiters := p.waiters
	p.waiters = nil
	idle := p.idle
	p.idle = nil
	for _, c := range idle {
		p.discardLocked(c)
	}
	p.mu.Unlock()

	for _, w := range waiters {
		close(w.ready)
	}
	var firstErr error
	for _, c := range idle {
		if err := c.dc.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		p.logConnEvent(ConnectionDiscarded, c)
	}
	return firstErr
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Total:    p.total,
		Idle:     len(p.idle),
		InUse:    p.total - len(p.idle),
		Acquires: p.acquires,
		Reuses:   p.reuses,
		Creates:  p.creates,
		Discards: p.discards,
		Timeouts: p.timeouts,
		Waits:    p.waits,
	}
}

// buildConn dials a connection via the factory and runs the setup hook.
// The caller has already reserved capacity by incrementing total; every
// failure path here leaves that reservation for the caller to roll back.
func (p *Pool) buildConn(ctx context.Context) (*Conn, error) {
	dc, err := p.factory(ctx)
	if err != nil {
		return nil, err
	}
	c := &Conn{id: p.nextID.Add(1), pool: p, dc: dc, state: connInUse}
	if hook := p.currentHook(); hook != nil {
		if err := hook(c); err != nil {
			dc.Close()
			return nil, err
		}
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		dc.Close()
		return nil, ErrPoolClosed
	}
	p.conns[c] = struct{}{}
	p.creates++
	p.mu.Unlock()
	p.logConnEvent(ConnectionOpened, c)
	return c, nil
}

// discardLocked removes c from the pool. When waiters are parked, the eldest
// is woken with a retry signal so it can build into the freed capacity.
func (p *Pool) discardLocked(c *Conn) {
	delete(p.conns, c)
	c.state = connDiscarded
	c.gone.Store(true)
	p.total--
	p.discards++
	if w := p.popWaiterLocked(); w != nil {
		w.ready <- nil
	}
}

func (p *Pool) popWaiterLocked() *waiter {
	if len(p.waiters) == 0 {
		return nil
	}
	w := p.waiters[0]
	p.waiters = p.waiters[1:]
	return w
}

func (p *Pool) removeIdleLocked(c *Conn) {
	for i, x := range p.idle {
		if x == c {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			return
		}
	}
}
