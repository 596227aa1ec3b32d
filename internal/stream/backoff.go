// SPDX-License-Identifier: MIT

package stream

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// newBackoff builds the reconnect schedule: initial delay doubling on every
// consecutive failure up to max, without jitter. The schedule is never reset
// within one Run invocation, matching a long-running worker that keeps its
// place in the schedule even after a briefly successful connection.
func newBackoff(initial, max time.Duration) *backoff.ExponentialBackOff {
	bo := &backoff.ExponentialBackOff{
		InitialInterval:     initial,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         max,
	}
	bo.Reset()
	return bo
}
