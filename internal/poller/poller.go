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

// Package poller wraps the OS readiness primitive (poll(2) via
// golang.org/x/sys/unix) behind the small per-fd interest/revent interface
// the event loop needs. It is re-armed from scratch every iteration.
package poller

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Bits is a bitmask of readiness interest/events.
type Bits uint8

const (
	Read Bits = 1 << iota
	Write
	Hup
	Err
)

// ErrInterrupted is returned by Poll when the underlying syscall was
// interrupted by a signal (EINTR). Callers must distinguish this from a
// real error and re-check shutdown/reconfig flags before retrying, per the
// spec's contract (§4.2).
var ErrInterrupted = errors.New("poller: interrupted")

// Poller is a thin, re-armable wrapper over poll(2).
type Poller struct {
	fds   []unix.PollFd
	index map[int]int // fd -> index into fds
}

// New returns an empty poller.
func New() *Poller {
	return &Poller{index: make(map[int]int)}
}

// ClearAllFds drops all registered interest. Called at the top of every
// event loop iteration.
func (p *Poller) ClearAllFds() {
	p.fds = p.fds[:0]
	for k := range p.index {
		delete(p.index, k)
	}
}

func toPollEvents(b Bits) int16 {
	var ev int16
	if b&Read != 0 {
		ev |= unix.POLLIN
	}
	if b&Write != 0 {
		ev |= unix.POLLOUT
	}
	return ev
}

func fromPollEvents(ev int16) Bits {
	var b Bits
	if ev&unix.POLLIN != 0 {
		b |= Read
	}
	if ev&unix.POLLOUT != 0 {
		b |= Write
	}
	if ev&unix.POLLHUP != 0 {
		b |= Hup
	}
	if ev&(unix.POLLERR|unix.POLLNVAL) != 0 {
		b |= Err
	}
	return b
}

// SetInterest registers (or augments) interest bits for fd. Calling it
// twice for the same fd within one iteration ORs the bits together.
func (p *Poller) SetInterest(fd int, bits Bits) {
	if idx, ok := p.index[fd]; ok {
		p.fds[idx].Events |= toPollEvents(bits)
		return
	}
	p.index[fd] = len(p.fds)
	p.fds = append(p.fds, unix.PollFd{Fd: int32(fd), Events: toPollEvents(bits)})
}

// Poll blocks up to timeoutMS (a negative value blocks forever) and returns
// the number of fds with non-zero revents. ErrInterrupted is returned on
// EINTR so the caller can distinguish it from a real polling error.
func (p *Poller) Poll(timeoutMS int) (int, error) {
	n, err := unix.Poll(p.fds, timeoutMS)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, ErrInterrupted
		}
		return 0, err
	}
	return n, nil
}

// Revents returns the readiness bits observed for fd after the last Poll
// call. Returns 0 if fd was not registered this iteration.
func (p *Poller) Revents(fd int) Bits {
	idx, ok := p.index[fd]
	if !ok {
		return 0
	}
	return fromPollEvents(p.fds[idx].Revents)
}

// IsSet reports whether any bit in mask is present in fd's observed
// revents.
func (p *Poller) IsSet(fd int, mask Bits) bool {
	return p.Revents(fd)&mask != 0
}
