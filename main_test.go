// Copyright 2012 James Cooper. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dbx_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-dbx/dbx"
	"github.com/go-dbx/dbx/dbxtest"
)

// openFake registers a fresh scripted driver under the given scheme and opens
// a database against it. Schemes are unique per test so driver counters stay
// isolated.
func openFake(t *testing.T, scheme, params string) (*dbx.DB, *dbxtest.Driver) {
	t.Helper()
	d := dbxtest.New()
	dbx.Register(scheme, d)
	db, err := dbx.Open(scheme + "://testhost/app" + params)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, d
}
