// Copyright 2012 James Cooper. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dbx_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"github.com/go-dbx/dbx"
)

type MetricsSuite struct {
	suite.Suite
}

func TestMetricsSuite(t *testing.T) {
	suite.Run(t, new(MetricsSuite))
}

func (s *MetricsSuite) TestCollectorExportsPoolStats() {
	db, d := openFake(s.T(), "fake-metrics", "")
	d.HandleExec("Q", dbx.Result{})
	_, err := db.Exec(context.Background(), "Q")
	s.Require().NoError(err)

	collector := dbx.NewPoolStatsCollector(db.Pool(), "testapp")
	s.Equal(9, testutil.CollectAndCount(collector))

	reg := prometheus.NewPedanticRegistry()
	s.Require().NoError(reg.Register(collector))
	families, err := reg.Gather()
	s.Require().NoError(err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	s.True(names["testapp_pool_connections_total"])
	s.True(names["testapp_pool_connections_idle"])
	s.True(names["testapp_pool_acquires_total"])
	s.True(names["testapp_pool_creates_total"])
}

func (s *MetricsSuite) TestDefaultNamespace() {
	db, _ := openFake(s.T(), "fake-metrics-ns", "")
	collector := dbx.NewPoolStatsCollector(db.Pool(), "")

	reg := prometheus.NewPedanticRegistry()
	s.Require().NoError(reg.Register(collector))
	families, err := reg.Gather()
	s.Require().NoError(err)
	s.NotEmpty(families)
	for _, f := range families {
		s.Contains(f.GetName(), "dbx_pool_")
	}
}
