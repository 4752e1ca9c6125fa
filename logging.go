// Copyright 2012 James Cooper. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dbx

import (
	"context"
	"log/slog"

	"github.com/sirupsen/logrus"
)

// ConnectionEvent identifies a connection lifecycle transition inside the
// pool.
type ConnectionEvent string

const (
	// ConnectionOpened fires after the driver built a connection and the
	// setup hook ran.
	ConnectionOpened ConnectionEvent = "opened"

	// ConnectionDiscarded fires when the pool tears a connection down:
	// breakage, idle-cap overflow, failed setup hook, or pool close.
	ConnectionDiscarded ConnectionEvent = "discarded"
)

// Logger receives pool lifecycle events and statement activity. Install one
// with DB.SetLogger; the default is silent. Implementations must not call
// back into the pool beyond Pool.Stats.
type Logger interface {
	// LogConnection records a lifecycle event for one connection together
	// with the pool counters at that moment.
	LogConnection(event ConnectionEvent, scheme string, connID uint64, stats PoolStats)

	// LogStatement records a statement-level operation (prepare, query,
	// exec) with its query text.
	LogStatement(op, scheme, query string)
}

// SlogLogger logs through slog at debug level.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger creates a SlogLogger, falling back to slog.Default when
// logger is nil.
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLogger{logger: logger}
}

// LogConnection implements Logger.
func (l *SlogLogger) LogConnection(event ConnectionEvent, scheme string, connID uint64, stats PoolStats) {
	l.logger.LogAttrs(context.Background(), slog.LevelDebug, "connection "+string(event),
		slog.String("scheme", scheme),
		slog.Uint64("conn_id", connID),
		slog.Int("pool_total", stats.Total),
		slog.Int("pool_idle", stats.Idle),
		slog.Int("pool_in_use", stats.InUse),
	)
}

// LogStatement implements Logger.
func (l *SlogLogger) LogStatement(op, scheme, query string) {
	l.logger.LogAttrs(context.Background(), slog.LevelDebug, op,
		slog.String("scheme", scheme),
		slog.String("query", query),
	)
}

// LogrusLogger logs through logrus at debug level, for applications already
// standardized on it.
type LogrusLogger struct {
	logger *logrus.Logger
}

// NewLogrusLogger creates a LogrusLogger, falling back to a fresh logrus
// logger when logger is nil.
func NewLogrusLogger(logger *logrus.Logger) *LogrusLogger {
	if logger == nil {
		logger = logrus.New()
	}
	return &LogrusLogger{logger: logger}
}

// LogConnection implements Logger.
func (l *LogrusLogger) LogConnection(event ConnectionEvent, scheme string, connID uint64, stats PoolStats) {
	l.logger.WithFields(logrus.Fields{
		"scheme":      scheme,
		"conn_id":     connID,
		"pool_total":  stats.Total,
		"pool_idle":   stats.Idle,
		"pool_in_use": stats.InUse,
	}).Debugf("connection %s", event)
}

// LogStatement implements Logger.
func (l *LogrusLogger) LogStatement(op, scheme, query string) {
	l.logger.WithFields(logrus.Fields{
		"scheme": scheme,
		"query":  query,
	}).Debug(op)
}
