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

// Package client owns the attach-queue handoff from the external greeting
// worker into the event loop, and the per-client escape-command handling
// described in spec §4.7: once attached, the loop owns the client object;
// its input is run through internal/escape and either forwarded to its
// attached consoles or turned into a session-control action.
package client

import (
	"sync"

	"github.com/sabouaram/conserverd/internal/escape"
	"github.com/sabouaram/conserverd/internal/object"
)

// Queue is the thread-safe handoff point between the external session
// worker (which does the blocking greeting/banner exchange, per spec
// §4.10) and the loop, which drains it once at the top of every iteration
// (spec §4.8 step 2).
type Queue struct {
	mu      sync.Mutex
	pending []*object.Object
}

// NewQueue returns an empty attach queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push hands a fully-greeted client object to the loop. Safe to call from
// a greeting worker goroutine.
func (q *Queue) Push(obj *object.Object) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, obj)
}

// Drain returns and clears every object queued since the last Drain. Only
// the loop goroutine calls this.
func (q *Queue) Drain() []*object.Object {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	out := q.pending
	q.pending = nil
	return out
}

// ActionKind is a session-control action recovered from a client's escape
// sequence, for the loop to apply.
type ActionKind int

const (
	ActionDetach ActionKind = iota
	ActionSuspendToggle
	ActionBroadcastToggle
	ActionReset
)

// Action pairs a recognized escape command with the client that issued it.
type Action struct {
	Kind   ActionKind
	Client *object.Object
}

// parsers carries each client's escape.Parser state across reads, keyed by
// object id, mirroring the telnet package's pattern of call-spanning
// decoder state.
var (
	mu      sync.Mutex
	parsers = map[string]*escape.Parser{}
)

func parserFor(obj *object.Object) *escape.Parser {
	mu.Lock()
	defer mu.Unlock()
	p, ok := parsers[obj.ID.String()]
	if !ok {
		p = escape.NewParser()
		parsers[obj.ID.String()] = p
	}
	return p
}

// Forget drops a client's parser state, called when the loop removes the
// client object from the master list.
func Forget(obj *object.Object) {
	mu.Lock()
	defer mu.Unlock()
	delete(parsers, obj.ID.String())
}

// HandleInput runs p (freshly read client bytes) through the client's
// escape parser. Passthrough bytes are fanned out to every console the
// client is attached to as a writer, subject to write-privilege and
// suspension (spec §4.7: "Suspended clients are not selected for WRITE
// readiness"). Recognized escape commands are returned as Actions for the
// loop to apply, since some (detach, reset) require master-list-wide
// effects beyond this object's own state.
func HandleInput(obj *object.Object, p []byte) []Action {
	c := obj.Client
	passthrough, events := parserFor(obj).Parse(p)

	if len(passthrough) > 0 && c.WritePrivileged && !c.Suspended {
		for _, console := range c.Attached {
			object.WriteObjData(console, passthrough, false)
		}
	}

	var actions []Action
	for _, ev := range events {
		switch ev.Cmd {
		case escape.CmdDetach:
			actions = append(actions, Action{Kind: ActionDetach, Client: obj})
		case escape.CmdSuspendToggle:
			c.Suspended = !c.Suspended
			actions = append(actions, Action{Kind: ActionSuspendToggle, Client: obj})
		case escape.CmdBroadcastToggle:
			if c.Mode == object.SessionBroadcast {
				c.Mode = object.SessionInteractive
			} else {
				c.Mode = object.SessionBroadcast
			}
			actions = append(actions, Action{Kind: ActionBroadcastToggle, Client: obj})
		case escape.CmdReset:
			actions = append(actions, Action{Kind: ActionReset, Client: obj})
		}
	}
	return actions
}

// Attach links client to console as a monitor/interactive session:
// console output reaches the client (client reads console) and, if
// writePrivileged, client input reaches the console (console reads
// client).
func Attach(clientObj, console *object.Object, writePrivileged bool) {
	c := clientObj.Client
	for _, a := range c.Attached {
		if a.ID == console.ID {
			return
		}
	}
	c.Attached = append(c.Attached, console)
	c.WritePrivileged = writePrivileged

	console.AddReader(clientObj)
	if writePrivileged {
		console.AddWriter(clientObj)
	}
}

// Detach unlinks clientObj from every console it was attached to.
func Detach(clientObj *object.Object) {
	c := clientObj.Client
	for _, console := range c.Attached {
		console.RemoveReader(clientObj)
		console.RemoveWriter(clientObj)
	}
	c.Attached = nil
}
