// Copyright 2012 James Cooper. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package dbx

import (
	"context"

	"github.com/cenkalti/backoff/v4"
)

// Retry runs op and replays it on retryable failures, sleeping RetryDelay
// between attempts, for at most RetryAttempts additional attempts.
// Non-retryable errors propagate immediately, and when the attempts are
// exhausted the final underlying error is surfaced rather than a wrapper.
//
// op is expected to check out its own connection on each attempt; the
// connection that produced the retryable fault was marked broken when the
// fault was observed, so its release discards it and the next checkout dials
// fresh.
func (p *Pool) Retry(ctx context.Context, op func() error) error {
	bo := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewConstantBackOff(p.cfg.RetryDelay),
			uint64(p.cfg.RetryAttempts),
		),
		ctx,
	)
	return backoff.Retry(func() error {
		err := op()
		if err != nil && !Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, bo)
}
