// Copyright 2012 James Cooper. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dbx

import (
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// URL query parameters recognized by ParsePoolOptions. Matching is
// case-sensitive; anything else is left for the driver.
const (
	paramInitialPoolSize = "initial_pool_size"
	paramMaxPoolSize     = "max_pool_size"
	paramMaxIdlePoolSize = "max_idle_pool_size"
	paramCheckoutTimeout = "checkout_timeout"
	paramRetryAttempts   = "retry_attempts"
	paramRetryDelay      = "retry_delay"
)

// PoolConfig holds the pool parameters. All fields are read once at pool
// construction.
type PoolConfig struct {
	// InitialSize is the number of connections built eagerly when the pool
	// is created.
	InitialSize int

	// MaxSize bounds the total number of connections. 0 means unbounded.
	MaxSize int

	// MaxIdle bounds the free set; releasing a connection into a full free
	// set discards it instead.
	MaxIdle int

	// CheckoutTimeout is how long a checkout waits on a saturated pool
	// before failing with ErrPoolTimeout.
	CheckoutTimeout time.Duration

	// RetryAttempts is the number of additional attempts Retry makes after
	// the first failure.
	RetryAttempts int

	// RetryDelay is the sleep between retry attempts.
	RetryDelay time.Duration

	// EnableTracing turns on OpenTelemetry spans around checkouts and
	// statement execution.
	EnableTracing bool

	// TracerName names the tracer when tracing is enabled.
	TracerName string
}

// DefaultPoolConfig returns the pool defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		InitialSize:     1,
		MaxSize:         1,
		MaxIdle:         1,
		CheckoutTimeout: 5 * time.Second,
		RetryAttempts:   1,
		RetryDelay:      1 * time.Second,
		EnableTracing:   true,
		TracerName:      "dbx.pool",
	}
}

// ParsePoolOptions reads the recognized pool parameters out of a URL query,
// applying the defaults for anything absent. The second return value holds
// the parameters the pool did not consume, in the order-insensitive form the
// driver receives them.
func ParsePoolOptions(query url.Values) (PoolConfig, url.Values, error) {
	cfg := DefaultPoolConfig()
	rest := make(url.Values, len(query))
	for key, vals := range query {
		if len(vals) == 0 {
			rest[key] = vals
			continue
		}
		raw := vals[len(vals)-1]
		var err error
		switch key {
		case paramInitialPoolSize:
			cfg.InitialSize, err = parsePoolInt(key, raw)
		case paramMaxPoolSize:
			cfg.MaxSize, err = parsePoolInt(key, raw)
		case paramMaxIdlePoolSize:
			cfg.MaxIdle, err = parsePoolInt(key, raw)
		case paramCheckoutTimeout:
			cfg.CheckoutTimeout, err = parsePoolSeconds(key, raw)
		case paramRetryAttempts:
			cfg.RetryAttempts, err = parsePoolInt(key, raw)
		case paramRetryDelay:
			cfg.RetryDelay, err = parsePoolSeconds(key, raw)
		default:
			rest[key] = vals
		}
		if err != nil {
			return PoolConfig{}, nil, err
		}
	}
	return cfg, rest, nil
}

func parsePoolInt(key, raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("dbx: invalid value %q for pool option %s", raw, key)
	}
	return n, nil
}

// parsePoolSeconds parses a duration given as a float number of seconds.
func parsePoolSeconds(key, raw string) (time.Duration, error) {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("dbx: invalid value %q for pool option %s", raw, key)
	}
	return time.Duration(f * float64(time.Second)), nil
}
