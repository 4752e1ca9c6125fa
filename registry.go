// Copyright 2012 James Cooper. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dbx

import (
	"sort"
	"sync"
)

// drivers is the process-wide scheme registry. Reads dominate writes, so the
// map is guarded by an RW-mutex.
var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Driver)
)

// Register makes a driver available under the given URL scheme. Registration
// is additive and safe for concurrent use; registering the same scheme twice
// replaces the earlier driver.
func Register(scheme string, d Driver) {
	if d == nil {
		panic("dbx: Register driver is nil")
	}
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[scheme] = d
}

// Drivers returns a sorted list of the registered schemes.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	list := make([]string, 0, len(drivers))
	for scheme := range drivers {
		list = append(list, scheme)
	}
	sort.Strings(list)
	return list
}

func lookupDriver(scheme string) (Driver, bool) {
	driversMu.RLock()
	defer driversMu.RUnlock()
	d, ok := drivers[scheme]
	return d, ok
}
