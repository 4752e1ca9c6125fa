// Copyright 2012 James Cooper. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dbx_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/go-dbx/dbx"
)

type ErrorsSuite struct {
	suite.Suite
}

func TestErrorsSuite(t *testing.T) {
	suite.Run(t, new(ErrorsSuite))
}

func (s *ErrorsSuite) TestMessages() {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			"unknown scheme",
			&dbx.UnknownSchemeError{Scheme: "bolt"},
			`dbx: no driver registered for scheme "bolt"`,
		},
		{
			"unsupported param",
			&dbx.UnsupportedParamTypeError{Driver: "mysql", Value: struct{}{}},
			`dbx: driver "mysql" does not support parameters of type struct {}`,
		},
		{
			"driver error",
			&dbx.DriverError{Scheme: "mysql", Message: "server has gone away", Retryable: true},
			"dbx: driver mysql: server has gone away",
		},
	}
	for _, t := range tests {
		s.Run(t.name, func() {
			s.Equal(t.expected, t.err.Error())
		})
	}
}

func (s *ErrorsSuite) TestTypeMismatchMessage() {
	var n int64
	err := &dbx.TypeMismatchError{Column: "age", Value: "old", Target: &n}
	s.Contains(err.Error(), "age")
	s.Contains(err.Error(), "string")
}

func (s *ErrorsSuite) TestDriverErrorUnwrap() {
	inner := errors.New("io timeout")
	err := &dbx.DriverError{Scheme: "mysql", Message: "io timeout", Err: inner}
	s.ErrorIs(err, inner)
}

type flakyError struct{ transient bool }

func (e *flakyError) Error() string   { return "flaky" }
func (e *flakyError) Retryable() bool { return e.transient }

func (s *ErrorsSuite) TestRetryableClassifier() {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("nope"), false},
		{"connection lost", dbx.ErrConnectionLost, true},
		{"wrapped connection lost", fmt.Errorf("exec: %w", dbx.ErrConnectionLost), true},
		{"retryable driver error", &dbx.DriverError{Scheme: "x", Message: "m", Retryable: true}, true},
		{"permanent driver error", &dbx.DriverError{Scheme: "x", Message: "m"}, false},
		{"driver-classified transient", &flakyError{transient: true}, true},
		{"driver-classified permanent", &flakyError{}, false},
		{"pool timeout", dbx.ErrPoolTimeout, false},
		{"pool closed", dbx.ErrPoolClosed, false},
	}
	for _, t := range tests {
		s.Run(t.name, func() {
			s.Equal(t.retryable, dbx.Retryable(t.err))
		})
	}
}
