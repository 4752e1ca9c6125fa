// Copyright 2012 James Cooper. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dbx_test

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/go-dbx/dbx"
)

type ConfigSuite struct {
	suite.Suite
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigSuite))
}

func (s *ConfigSuite) TestDefaults() {
	cfg, rest, err := dbx.ParsePoolOptions(url.Values{})
	s.Require().NoError(err)
	s.Empty(rest)
	s.Equal(1, cfg.InitialSize)
	s.Equal(1, cfg.MaxSize)
	s.Equal(1, cfg.MaxIdle)
	s.Equal(5*time.Second, cfg.CheckoutTimeout)
	s.Equal(1, cfg.RetryAttempts)
	s.Equal(1*time.Second, cfg.RetryDelay)
}

func (s *ConfigSuite) TestAllParameters() {
	q, err := url.ParseQuery("initial_pool_size=2&max_pool_size=10&max_idle_pool_size=5&checkout_timeout=2.5&retry_attempts=3&retry_delay=0.25")
	s.Require().NoError(err)

	cfg, rest, perr := dbx.ParsePoolOptions(q)
	s.Require().NoError(perr)
	s.Empty(rest)
	s.Equal(2, cfg.InitialSize)
	s.Equal(10, cfg.MaxSize)
	s.Equal(5, cfg.MaxIdle)
	s.Equal(2500*time.Millisecond, cfg.CheckoutTimeout)
	s.Equal(3, cfg.RetryAttempts)
	s.Equal(250*time.Millisecond, cfg.RetryDelay)
}

func (s *ConfigSuite) TestUnrecognizedParametersForwarded() {
	q, err := url.ParseQuery("max_pool_size=4&sslmode=require&application_name=worker")
	s.Require().NoError(err)

	cfg, rest, perr := dbx.ParsePoolOptions(q)
	s.Require().NoError(perr)
	s.Equal(4, cfg.MaxSize)
	s.Equal("require", rest.Get("sslmode"))
	s.Equal("worker", rest.Get("application_name"))
	s.Len(rest, 2)
}

func (s *ConfigSuite) TestMalformedValues() {
	tests := []struct {
		name  string
		query string
	}{
		{"non-numeric size", "max_pool_size=many"},
		{"negative size", "initial_pool_size=-1"},
		{"non-numeric duration", "checkout_timeout=soon"},
		{"negative duration", "retry_delay=-0.5"},
		{"non-numeric attempts", "retry_attempts=x"},
	}
	for _, t := range tests {
		s.Run(t.name, func() {
			q, err := url.ParseQuery(t.query)
			s.Require().NoError(err)
			_, _, perr := dbx.ParsePoolOptions(q)
			s.Error(perr)
		})
	}
}

func (s *ConfigSuite) TestCaseSensitivity() {
	q, err := url.ParseQuery("Max_Pool_Size=9")
	s.Require().NoError(err)

	cfg, rest, perr := dbx.ParsePoolOptions(q)
	s.Require().NoError(perr)
	s.Equal(1, cfg.MaxSize, "mis-cased key must not be recognized")
	s.Equal("9", rest.Get("Max_Pool_Size"))
}
