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

package object

// DefaultRingSize is the default fixed ring buffer capacity per object, per
// spec §4.3 ("4 KiB is a reasonable default").
const DefaultRingSize = 4096

// Ring is a fixed-capacity byte queue with in/out cursors and
// wrap-around, matching the bufInPtr/bufOutPtr model of the object this
// spec was distilled from. It is not safe for concurrent use; the event
// loop is its sole mutator.
type Ring struct {
	buf []byte
	in  int
	out int
	// full is true when in == out but the ring holds a full buffer's worth
	// of unread bytes, disambiguating that state from "empty" (also
	// in == out).
	full bool
}

// NewRing returns an empty ring of the given capacity.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultRingSize
	}
	return &Ring{buf: make([]byte, capacity)}
}

// Len returns the number of unread bytes currently buffered.
func (r *Ring) Len() int {
	if r.full {
		return len(r.buf)
	}
	if r.in >= r.out {
		return r.in - r.out
	}
	return len(r.buf) - r.out + r.in
}

// Cap returns the ring's fixed capacity.
func (r *Ring) Cap() int {
	return len(r.buf)
}

// Free returns the number of bytes that can be written before the ring is
// full.
func (r *Ring) Free() int {
	return len(r.buf) - r.Len()
}

// Empty reports whether in == out with no unread bytes, i.e. invariant #3
// from spec §3 ("bufInPtr == bufOutPtr <=> the ring buffer is empty").
func (r *Ring) Empty() bool {
	return !r.full && r.in == r.out
}

// Write appends up to len(p) bytes, writing only as many as fit in the
// remaining free space. It never overwrites unread bytes (spec invariant
// #3): the caller is responsible for logging/backpressure on a short
// write. Returns the number of bytes actually written.
func (r *Ring) Write(p []byte) int {
	free := r.Free()
	if free == 0 || len(p) == 0 {
		return 0
	}
	n := len(p)
	if n > free {
		n = free
	}
	cap := len(r.buf)
	for i := 0; i < n; i++ {
		r.buf[r.in] = p[i]
		r.in = (r.in + 1) % cap
	}
	if n > 0 {
		r.full = r.in == r.out
	}
	return n
}

// Peek returns up to max unread bytes without consuming them, used by
// WriteToObj to attempt a single non-blocking write to the underlying fd.
func (r *Ring) Peek(max int) []byte {
	n := r.Len()
	if max > 0 && max < n {
		n = max
	}
	out := make([]byte, n)
	cap := len(r.buf)
	o := r.out
	for i := 0; i < n; i++ {
		out[i] = r.buf[o]
		o = (o + 1) % cap
	}
	return out
}

// Advance consumes n bytes from the out cursor after they have been
// successfully written to the underlying fd.
func (r *Ring) Advance(n int) {
	if n <= 0 {
		return
	}
	if n > r.Len() {
		n = r.Len()
	}
	r.out = (r.out + n) % len(r.buf)
	if n > 0 {
		r.full = false
	}
}

// Drain removes and returns every unread byte (used when flushing a
// reconnecting telnet/serial object's remaining buffer to readers before
// tearing it down).
func (r *Ring) Drain() []byte {
	out := r.Peek(r.Len())
	r.Advance(len(out))
	return out
}
