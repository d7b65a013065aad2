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

// Package timer implements the one-shot timer wheel used by the event loop
// for reconnect backoff, logfile timestamping, and reset-command watchdogs.
//
// Timers are one-shot and cancellable by id. The wheel is driven entirely
// from the event loop's goroutine: Schedule*/Cancel/RunExpired are not
// safe for concurrent use from multiple goroutines.
package timer

import (
	"container/heap"
	"time"
)

// ID identifies a scheduled timer for later cancellation.
type ID uint64

// CallbackFunc is invoked with its bound argument when a timer fires.
// The callback may itself schedule new timers.
type CallbackFunc func(arg any)

type entry struct {
	id       ID
	deadline time.Time
	seq      uint64
	cb       CallbackFunc
	arg      any
	canceled bool
	index    int // heap index, maintained by container/heap
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Wheel is the timer wheel: a min-heap of pending timers keyed by deadline,
// ties broken by insertion order (the spec's "ties break by insertion
// order" requirement, §4.1).
type Wheel struct {
	h       entryHeap
	byID    map[ID]*entry
	nextID  ID
	nextSeq uint64
}

// New returns an empty timer wheel.
func New() *Wheel {
	return &Wheel{
		byID: make(map[ID]*entry),
	}
}

// ScheduleAbsolute arms a timer that fires at deadline.
func (w *Wheel) ScheduleAbsolute(cb CallbackFunc, arg any, deadline time.Time) ID {
	w.nextID++
	w.nextSeq++
	e := &entry{
		id:       w.nextID,
		deadline: deadline,
		seq:      w.nextSeq,
		cb:       cb,
		arg:      arg,
	}
	heap.Push(&w.h, e)
	w.byID[e.id] = e
	return e.id
}

// ScheduleRelative arms a timer that fires delay after now.
func (w *Wheel) ScheduleRelative(cb CallbackFunc, arg any, delay time.Duration) ID {
	return w.ScheduleAbsolute(cb, arg, time.Now().Add(delay))
}

// Cancel cancels a pending timer. Cancelling an unknown or already-fired id
// returns false and is not an error, per the spec's failure contract (§4.1).
func (w *Wheel) Cancel(id ID) bool {
	e, ok := w.byID[id]
	if !ok || e.canceled {
		return false
	}
	e.canceled = true
	delete(w.byID, id)
	if e.index >= 0 {
		heap.Remove(&w.h, e.index)
	}
	return true
}

// NextDeadline returns the nearest pending deadline, if any. The event loop
// uses this to compute the poller timeout so timer expiration is visible
// without fd activity.
func (w *Wheel) NextDeadline() (time.Time, bool) {
	for len(w.h) > 0 {
		top := w.h[0]
		if top.canceled {
			heap.Pop(&w.h)
			continue
		}
		return top.deadline, true
	}
	return time.Time{}, false
}

// RunExpired fires every timer whose deadline is <= now, in deadline order.
// A callback scheduling a new timer during RunExpired is safe: the new
// entry is pushed onto the same heap and picked up on a later call once
// its own deadline has passed.
func (w *Wheel) RunExpired(now time.Time) {
	for len(w.h) > 0 {
		top := w.h[0]
		if top.canceled {
			heap.Pop(&w.h)
			continue
		}
		if top.deadline.After(now) {
			return
		}
		heap.Pop(&w.h)
		delete(w.byID, top.id)
		top.cb(top.arg)
	}
}

// Len reports the number of still-pending (uncancelled) timers, used by
// internal/metrics for the timer queue depth gauge.
func (w *Wheel) Len() int {
	return len(w.h)
}
