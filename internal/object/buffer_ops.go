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

import (
	"syscall"

	lru "github.com/hashicorp/golang-lru/v2"

	logfld "github.com/sirupsen/logrus"
)

// IAC is the telnet Interpret-As-Command byte (0xFF). Doubled on output to
// a telnet object in the UP state unless the caller asserts the byte is
// already a literal part of the telnet protocol stream (is_telnet_literal
// in the spec's C vocabulary).
const IAC = 0xFF

// MaxOverflowStrikes is the default number of consecutive overflow events
// tolerated before a persistently slow reader is detached, per spec §4.3.
const MaxOverflowStrikes = 5

var overflowWarned, _ = lru.New[string, struct{}](256)

// OverflowHook, if set, is called every time a reader's ring buffer
// overflows and bytes are dropped, with the dropped-for object's name.
// cmd/conserverd wires this to the Prometheus overflow counter; left nil
// in tests and anywhere metrics aren't registered. A plain package-level
// hook avoids an import cycle (internal/metrics already imports this
// package for Collectors.Sample).
var OverflowHook func(objectName string)

// WriteObjData appends bytes to dst's ring, doubling IAC bytes first if
// dst is a telnet object in the UP state and literal is false. Returns the
// number of bytes accepted; a short return means the ring was full and the
// excess was dropped (the caller must log a "buffer full" notice and bump
// the reader's overflow strike counter).
func WriteObjData(dst *Object, p []byte, literal bool) int {
	if dst == nil || dst.Ring == nil {
		return 0
	}
	if !literal && dst.Variant == VariantTelnet && dst.Telnet != nil && dst.Telnet.State == TelnetUp {
		// Accept only whole input bytes whose encoding (1 byte, or 2 for a
		// doubled IAC) fits, so an IAC pair is never split across a drop.
		free := dst.Ring.Free()
		accepted, size := 0, 0
		for _, b := range p {
			w := 1
			if b == IAC {
				w = 2
			}
			if size+w > free {
				break
			}
			size += w
			accepted++
		}
		dst.Ring.Write(doubleIAC(p[:accepted]))
		return accepted
	}
	return dst.Ring.Write(p)
}

func doubleIAC(p []byte) []byte {
	hasIAC := false
	for _, b := range p {
		if b == IAC {
			hasIAC = true
			break
		}
	}
	if !hasIAC {
		return p
	}
	out := make([]byte, 0, len(p)+4)
	for _, b := range p {
		out = append(out, b)
		if b == IAC {
			out = append(out, IAC)
		}
	}
	return out
}

// FanOut writes decoded bytes to every reader of src, applying the
// overflow policy from spec §4.3: a reader that cannot accept the full
// write gets a logged "buffer full" warning (deduplicated per object id
// within the LRU above) and one overflow strike; after MaxOverflowStrikes
// consecutive strikes the reader is detached by the caller (the event
// loop owns master-list mutation, so FanOut only reports which readers
// crossed the threshold).
func FanOut(src *Object, decoded []byte, literal bool) (overflowed []*Object) {
	for _, r := range src.Readers {
		n := WriteObjData(r, decoded, literal)
		if n < len(decoded) {
			warnOverflow(r)
			if r.IsClient() && r.Client != nil {
				r.Client.OverflowStrikes++
				if r.Client.OverflowStrikes >= MaxOverflowStrikes {
					overflowed = append(overflowed, r)
				}
			}
		} else if r.IsClient() && r.Client != nil {
			r.Client.OverflowStrikes = 0
		}
	}
	return overflowed
}

func warnOverflow(dst *Object) {
	if OverflowHook != nil {
		OverflowHook(dst.Name)
	}

	key := dst.ID.String()
	if _, seen := overflowWarned.Get(key); seen {
		return
	}
	overflowWarned.Add(key, struct{}{})
	logfld.WithFields(logfld.Fields{
		"object": dst.Name,
		"variant": dst.Variant.String(),
	}).Warn("buffer full: dropping bytes for slow reader")
}

// ReadFromObj reads available bytes from obj's fd into scratch, applies
// variant-specific decoding, and fans the decoded bytes out to obj's
// readers via WriteObjData. It returns -1 once obj has seen EOF or a
// non-EAGAIN read error and its own ring is empty; the event loop then
// either removes the object or, for a reconnectable console, tears it down
// and schedules a reconnect. The actual syscall read is injected via
// readFn so this function stays testable without a real fd.
func ReadFromObj(obj *Object, scratch []byte, readFn func([]byte) (int, error), decode func([]byte) []byte, literal bool) int {
	n, err := readFn(scratch)
	if n > 0 {
		decoded := scratch[:n]
		if decode != nil {
			decoded = decode(decoded)
		}
		strikers := FanOut(obj, decoded, literal)
		for _, s := range strikers {
			s.FD = -1 // event loop observes FD < 0 and removes it from the master list
		}
	}
	if err != nil {
		if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
			return 0
		}
		obj.GotEOF = true
	} else if n == 0 {
		obj.GotEOF = true // read(2) reports end of stream as 0 bytes, no error
	}
	if obj.GotEOF && obj.Ring.Empty() {
		return -1
	}
	return n
}

// WriteToObj drains obj's ring to its fd with a single non-blocking write
// via writeFn, advancing the out cursor by the bytes actually accepted.
// Returns -1 on a fatal write error that leaves the buffer unflushable,
// per spec §4.3.
func WriteToObj(obj *Object, writeFn func([]byte) (int, error)) int {
	pending := obj.Ring.Peek(obj.Ring.Cap())
	if len(pending) == 0 {
		return 0
	}
	n, err := writeFn(pending)
	if n > 0 {
		obj.Ring.Advance(n)
	}
	if err != nil {
		if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
			return n
		}
		return -1
	}
	return n
}
