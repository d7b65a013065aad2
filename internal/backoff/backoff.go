/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package backoff provides the reconnect-delay schedule shared by the
// telnet and serial console objects: an initial 10s delay doubling on each
// consecutive failure, capped at 300s, reset to the initial delay on a
// successful connect.
package backoff

import (
	"time"

	libbackoff "github.com/cenkalti/backoff/v4"
)

const (
	initialInterval = 10 * time.Second
	maxInterval     = 300 * time.Second
	multiplier      = 2.0
)

// Schedule wraps cenkalti/backoff's exponential backoff as a one-shot
// "next delay" source: the event loop consults it once per DOWN
// transition rather than letting the library drive its own retry loop,
// since the timer wheel - not a retry helper - owns scheduling.
type Schedule struct {
	b *libbackoff.ExponentialBackOff
}

// New returns a schedule starting at the initial 10s delay.
func New() *Schedule {
	b := libbackoff.NewExponentialBackOff()
	b.InitialInterval = initialInterval
	b.MaxInterval = maxInterval
	b.Multiplier = multiplier
	b.RandomizationFactor = 0 // deterministic delays per spec scenario 2
	b.MaxElapsedTime = 0      // never give up; the object stays reconnectable
	b.Reset()
	return &Schedule{b: b}
}

// Next returns the next reconnect delay and advances the schedule.
func (s *Schedule) Next() time.Duration {
	d := s.b.NextBackOff()
	if d == libbackoff.Stop {
		return maxInterval
	}
	return d
}

// Reset restores the schedule to its initial delay, called after a
// successful connect so the next failure starts the backoff over.
func (s *Schedule) Reset() {
	s.b.Reset()
}
