// Copyright 2012 James Cooper. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dbx_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/go-dbx/dbx"
)

type StmtSuite struct {
	suite.Suite
	ctx context.Context
}

func TestStmtSuite(t *testing.T) {
	suite.Run(t, new(StmtSuite))
}

func (s *StmtSuite) SetupTest() {
	s.ctx = context.Background()
}

func (s *StmtSuite) TestPrepareReturnsSameStatement() {
	db, _ := openFake(s.T(), "fake-stmt-identity", "")
	first, err := db.Prepare("SELECT name FROM users")
	s.Require().NoError(err)
	second, err := db.Prepare("SELECT name FROM users")
	s.Require().NoError(err)
	s.Same(first, second)

	other, err := db.Prepare("SELECT id FROM users")
	s.Require().NoError(err)
	s.NotSame(first, other)
}

func (s *StmtSuite) TestExecutionReusesDriverStatement() {
	db, d := openFake(s.T(), "fake-stmt-reuse", "")
	d.Handle("SELECT 1", []string{"one"}, [][]any{{int64(1)}})

	stmt, err := db.Prepare("SELECT 1")
	s.Require().NoError(err)

	for i := 0; i < 3; i++ {
		rows, err := stmt.Query(s.ctx)
		s.Require().NoError(err)
		s.True(rows.Next())
		var got int64
		s.NoError(rows.Scan(&got))
		s.Equal(int64(1), got)
		s.NoError(rows.Close())
	}

	// One physical prepare; the rebinds were cache hits.
	s.Equal(1, d.Prepares())
	hits, misses := stmt.CacheStats()
	s.Equal(uint64(2), hits)
	s.Equal(uint64(1), misses)
}

func (s *StmtSuite) TestSequentialExecsDoNotGrowPool() {
	db, d := openFake(s.T(), "fake-stmt-grow",
		"?initial_pool_size=0&max_pool_size=2&max_idle_pool_size=2")
	d.HandleExec("UPDATE t SET n = n + 1", dbx.Result{RowsAffected: 1})

	for i := 0; i < 3; i++ {
		stmt, err := db.Prepare("UPDATE t SET n = n + 1")
		s.Require().NoError(err)
		res, err := stmt.Exec(s.ctx)
		s.Require().NoError(err)
		s.Equal(int64(1), res.RowsAffected)
	}

	s.LessOrEqual(db.Pool().Stats().Total, 2)
	s.Equal(1, d.Connects())
	s.Equal(1, d.Prepares())
}

func (s *StmtSuite) TestOneDriverStatementPerConnection() {
	db, d := openFake(s.T(), "fake-stmt-perconn",
		"?initial_pool_size=0&max_pool_size=2&max_idle_pool_size=2")
	d.Handle("SELECT 2", []string{"two"}, [][]any{{int64(2)}})

	stmt, err := db.Prepare("SELECT 2")
	s.Require().NoError(err)

	// Two overlapping cursors force two connections, one prepare each.
	r1, err := stmt.Query(s.ctx)
	s.Require().NoError(err)
	r2, err := stmt.Query(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, db.Pool().Stats().InUse)
	s.NoError(r1.Close())
	s.NoError(r2.Close())
	s.Equal(2, d.Prepares())

	// Further executions bind to either connection without preparing again.
	for i := 0; i < 4; i++ {
		rows, err := stmt.Query(s.ctx)
		s.Require().NoError(err)
		s.NoError(rows.Close())
	}
	s.Equal(2, d.Prepares())
}

func (s *StmtSuite) TestDiscardedConnectionIsPruned() {
	db, d := openFake(s.T(), "fake-stmt-prune", "")
	d.HandleExec("DELETE FROM t", dbx.Result{})

	stmt, err := db.Prepare("DELETE FROM t")
	s.Require().NoError(err)
	_, err = stmt.Exec(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, d.Prepares())

	// Break the only connection; its release discards it.
	err = db.WithConnection(s.ctx, func(c *dbx.Conn) error {
		return dbx.ErrConnectionLost
	})
	s.ErrorIs(err, dbx.ErrConnectionLost)
	s.Equal(1, d.ConnCloses())

	// The stale entry is pruned and the statement re-prepared on the
	// replacement connection. Pruning closed no driver statement; the
	// statement died with its connection.
	_, err = stmt.Exec(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, d.Prepares())
	s.Equal(0, d.StmtCloses())

	hits, misses := stmt.CacheStats()
	s.Equal(uint64(0), hits)
	s.Equal(uint64(2), misses)
}

func (s *StmtSuite) TestRowsHoldConnectionUntilClosed() {
	db, d := openFake(s.T(), "fake-stmt-rowshold", "")
	d.Handle("SELECT 3", []string{"three"}, [][]any{{int64(3)}})

	rows, err := db.Query(s.ctx, "SELECT 3")
	s.Require().NoError(err)
	s.Equal(1, db.Pool().Stats().InUse)

	s.NoError(rows.Close())
	s.Equal(0, db.Pool().Stats().InUse)
	s.NoError(rows.Close()) // idempotent
}

func (s *StmtSuite) TestExecReleasesImmediately() {
	db, _ := openFake(s.T(), "fake-stmt-execrel", "")
	_, err := db.Exec(s.ctx, "UPDATE t SET n = 0")
	s.Require().NoError(err)
	s.Equal(0, db.Pool().Stats().InUse)
	s.Equal(1, db.Pool().Stats().Idle)
}

func (s *StmtSuite) TestScalar() {
	db, d := openFake(s.T(), "fake-stmt-scalar", "")
	d.Handle("SELECT count(*) FROM t", []string{"count"}, [][]any{{int64(42)}})
	d.Handle("SELECT id FROM t WHERE 1=0", []string{"id"}, nil)

	v, err := db.Scalar(s.ctx, "SELECT count(*) FROM t")
	s.NoError(err)
	s.Equal(int64(42), v)

	v, err = db.Scalar(s.ctx, "SELECT id FROM t WHERE 1=0")
	s.NoError(err)
	s.Nil(v)
	s.Equal(0, db.Pool().Stats().InUse)
}

func (s *StmtSuite) TestScanCoercions() {
	db, d := openFake(s.T(), "fake-stmt-scan", "")
	when := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	d.Handle("SELECT * FROM wide", []string{"a", "b", "c", "d", "e", "f"}, [][]any{
		{int64(7), "text", []byte("blob"), true, 2.5, when},
	})

	rows, err := db.Query(s.ctx, "SELECT * FROM wide")
	s.Require().NoError(err)
	defer rows.Close()
	s.Require().True(rows.Next())

	var (
		a  int64
		b  string
		c  []byte
		dv bool
		e  float64
		f  time.Time
	)
	s.Require().NoError(rows.Scan(&a, &b, &c, &dv, &e, &f))
	s.Equal(int64(7), a)
	s.Equal("text", b)
	s.Equal([]byte("blob"), c)
	s.True(dv)
	s.Equal(2.5, e)
	s.True(when.Equal(f))

	// Cross coercions and the untyped destination.
	var (
		aAny   any
		bBytes []byte
		cStr   string
		aInt   int
		aFloat float64
	)
	s.Require().NoError(rows.Scan(&aAny, &bBytes, &cStr))
	s.Equal(int64(7), aAny)
	s.Equal([]byte("text"), bBytes)
	s.Equal("blob", cStr)
	s.Require().NoError(rows.Scan(&aInt))
	s.Equal(7, aInt)
	s.Require().NoError(rows.Scan(&aFloat))
	s.Equal(7.0, aFloat)
}

func (s *StmtSuite) TestScanTypeMismatch() {
	db, d := openFake(s.T(), "fake-stmt-mismatch", "")
	d.Handle("SELECT name FROM t", []string{"name"}, [][]any{{"bob"}})

	rows, err := db.Query(s.ctx, "SELECT name FROM t")
	s.Require().NoError(err)
	defer rows.Close()
	s.Require().True(rows.Next())

	var n int64
	err = rows.Scan(&n)
	var tm *dbx.TypeMismatchError
	s.ErrorAs(err, &tm)
	s.Equal("name", tm.Column)
}

func (s *StmtSuite) TestUnsupportedParamRejected() {
	db, _ := openFake(s.T(), "fake-stmt-badparam", "")
	type custom struct{ n int }

	_, err := db.Exec(s.ctx, "INSERT INTO t VALUES (?)", custom{n: 1})
	var upt *dbx.UnsupportedParamTypeError
	s.ErrorAs(err, &upt)
	s.Equal("fake-stmt-badparam", upt.Driver)
	s.Equal(0, db.Pool().Stats().InUse)
}

func (s *StmtSuite) TestDriverParamConverter() {
	type point struct{ x, y int }
	db, d := openFake(s.T(), "fake-stmt-convparam", "")
	d.ConvertParams(func(v any) (any, error) {
		if p, ok := v.(point); ok {
			return []byte{byte(p.x), byte(p.y)}, nil
		}
		return nil, &dbx.UnsupportedParamTypeError{Driver: "fake-stmt-convparam", Value: v}
	})

	_, err := db.Exec(s.ctx, "INSERT INTO t VALUES (?, ?)", int32(9), point{x: 1, y: 2})
	s.Require().NoError(err)
	s.Equal([]any{int64(9), []byte{1, 2}}, d.LastArgs())
}

func (s *StmtSuite) TestNormalizedIntegerWidths() {
	db, d := openFake(s.T(), "fake-stmt-widths", "")
	_, err := db.Exec(s.ctx, "INSERT INTO t VALUES (?, ?, ?, ?)",
		int8(1), uint16(2), int32(3), float32(1.5))
	s.Require().NoError(err)
	s.Equal([]any{int64(1), int64(2), int64(3), 1.5}, d.LastArgs())
}

func (s *StmtSuite) TestStatementAfterCloseFails() {
	db, _ := openFake(s.T(), "fake-stmt-afterclose", "")
	stmt, err := db.Prepare("SELECT 1")
	s.Require().NoError(err)
	s.Require().NoError(db.Close())

	_, err = stmt.Exec(s.ctx)
	s.ErrorIs(err, dbx.ErrPoolClosed)
	_, err = stmt.Query(s.ctx)
	s.ErrorIs(err, dbx.ErrPoolClosed)
}

func (s *StmtSuite) TestAdhocConnectionStatements() {
	db, d := openFake(s.T(), "fake-stmt-adhoc", "")
	d.Handle("SELECT x FROM t", []string{"x"}, [][]any{{int64(5)}})
	d.HandleExec("SET ROLE reader", dbx.Result{})

	err := db.WithConnection(s.ctx, func(c *dbx.Conn) error {
		if _, err := c.Exec(s.ctx, "SET ROLE reader"); err != nil {
			return err
		}
		rows, err := c.Query(s.ctx, "SELECT x FROM t")
		if err != nil {
			return err
		}
		s.True(rows.Next())
		var x int64
		s.NoError(rows.Scan(&x))
		s.Equal(int64(5), x)
		return rows.Close()
	})
	s.NoError(err)

	// Ad-hoc statements are closed with their scope, not cached.
	s.Equal(2, d.StmtCloses())
	s.Equal(0, db.Pool().Stats().InUse)
}
