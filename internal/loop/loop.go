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

// Package loop implements the single-threaded cooperative event loop
// described in spec §4.8 — the nine-step multiplexer iteration wiring
// together the timer wheel, poller, object model, and the telnet/serial/
// logfile/client/listener/reset subsystems. It is the Go translation of
// original_source/server.c's mux_io.
package loop

import (
	"context"
	"time"

	"golang.org/x/sys/unix"

	logfld "github.com/sirupsen/logrus"

	"github.com/sabouaram/conserverd/internal/client"
	"github.com/sabouaram/conserverd/internal/listener"
	"github.com/sabouaram/conserverd/internal/object"
	"github.com/sabouaram/conserverd/internal/poller"
	"github.com/sabouaram/conserverd/internal/reset"
	"github.com/sabouaram/conserverd/internal/serial"
	"github.com/sabouaram/conserverd/internal/telnet"
	"github.com/sabouaram/conserverd/internal/timer"
)

// pollTimeoutMS is the poll ceiling so timer expiration stays visible even
// without fd activity, per spec §4.8 step 5.
const pollTimeoutMS = 1000

// Config carries the loop's static, reconfig-independent settings.
type Config struct {
	ResetCmdTemplate   string
	ReconfigResurrects bool
}

// Loop owns the master object list and drives one mux_io-equivalent
// iteration per Run call.
type Loop struct {
	Poller   *poller.Poller
	Wheel    *timer.Wheel
	Listener *listener.Listener
	Queue    *client.Queue
	Reset    *reset.Runner
	Master   []*object.Object

	cfg Config

	// ReopenLogfiles is invoked once per reconfig, before the flag is
	// cleared (spec §4.8 step 1). Set by cmd/conserverd to also reopen the
	// daemon log.
	ReopenLogfiles func()

	// RecordReconnect, if set, is called with a console's name every time a
	// reconnect attempt is made for it: when a reconnect timer armed by
	// finalizeRemoval fires, and on each resurrectDownedObjects reopen. Set
	// by cmd/conserverd to the Prometheus reconnect counter.
	RecordReconnect func(objectName string)

	reconfig bool
	done     bool

	pendingActions []client.Action
}

// New returns a loop ready to run, with no objects attached yet.
func New(p *poller.Poller, w *timer.Wheel, l *listener.Listener, q *client.Queue, r *reset.Runner, cfg Config) *Loop {
	return &Loop{
		Poller:   p,
		Wheel:    w,
		Listener: l,
		Queue:    q,
		Reset:    r,
		cfg:      cfg,
	}
}

// AddObject registers obj in the master list. Called at startup for
// statically configured consoles/logfiles.
func (l *Loop) AddObject(obj *object.Object) {
	l.Master = append(l.Master, obj)
}

// RequestReconfig sets the flag consulted at the top of the next
// iteration, mirroring SIGHUP's effect on the original's `reconfig` global.
func (l *Loop) RequestReconfig() { l.reconfig = true }

// RequestShutdown sets the flag that stops Run's loop, mirroring SIGINT/
// SIGTERM's effect on the original's `done` global.
func (l *Loop) RequestShutdown() { l.done = true }

// Done reports whether shutdown has been requested.
func (l *Loop) Done() bool { return l.done }

// Run drives iterations until shutdown is requested or ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	for !l.done {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := l.Iteration(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Iteration runs exactly one pass of the nine-step mux_io-equivalent
// contract described in spec §4.8.
func (l *Loop) Iteration(ctx context.Context) error {
	// 1. Reconfig: reopen logfiles/daemon log, clear the flag. The
	// resurrect-downed-objects/reset-backoff hook the original leaves as a
	// FIXME is implemented here, gated behind ReconfigResurrects.
	if l.reconfig {
		if l.ReopenLogfiles != nil {
			l.ReopenLogfiles()
		}
		if l.cfg.ReconfigResurrects {
			l.resurrectDownedObjects()
		}
		l.reconfig = false
	}

	// 2. Drain the attach-queue from the external session worker.
	for _, obj := range l.Queue.Drain() {
		l.AddObject(obj)
	}

	// 3. Build interest sets for this iteration.
	l.Poller.ClearAllFds()
	l.Poller.SetInterest(l.Listener.FD(), poller.Read)
	for _, obj := range l.Master {
		if obj.GotReset {
			_ = l.Reset.Start(obj, l.cfg.ResetCmdTemplate)
		}
		if obj.FD < 0 {
			continue
		}
		if (obj.IsTelnet() && obj.Telnet.State == object.TelnetUp) || obj.IsSerial() || obj.IsClient() {
			l.Poller.SetInterest(obj.FD, poller.Read)
		}
		suspended := obj.IsClient() && obj.Client.Suspended
		if (!obj.Ring.Empty() || obj.GotEOF) && !suspended {
			l.Poller.SetInterest(obj.FD, poller.Write)
		}
		if obj.IsTelnet() && obj.Telnet.State == object.TelnetPending {
			l.Poller.SetInterest(obj.FD, poller.Read|poller.Write)
		}
	}

	// 5. Poll with a 1s ceiling.
	n, err := l.Poller.Poll(pollTimeoutMS)
	if err != nil {
		if err == poller.ErrInterrupted {
			return nil
		}
		return err
	}

	// 6. Run expired timers regardless of fd activity.
	l.Wheel.RunExpired(time.Now())

	if n <= 0 {
		return nil
	}

	// 7. Accept new connections.
	if l.Poller.IsSet(l.Listener.FD(), poller.Read) {
		l.Listener.AcceptAll(ctx)
	}

	// 8. Service each object: advance PENDING telnets, else read then write.
	var toRemove []*object.Object
	for _, obj := range l.Master {
		if obj.FD < 0 {
			// A client whose FD was cleared by object.ReadFromObj after
			// MaxOverflowStrikes is removed; downed consoles wait on their
			// reconnect timer instead.
			if obj.IsClient() && obj.Client != nil && obj.Client.OverflowStrikes >= object.MaxOverflowStrikes {
				toRemove = append(toRemove, obj)
			}
			continue
		}
		if obj.IsTelnet() && obj.Telnet.State == object.TelnetPending && l.Poller.Revents(obj.FD) != 0 {
			telnet.Advance(obj)
			if obj.Telnet.State == object.TelnetDown {
				toRemove = append(toRemove, obj) // finalizeRemoval arms the reconnect
			}
			continue
		}

		removed := false
		if l.Poller.IsSet(obj.FD, poller.Read|poller.Hup|poller.Err) {
			if l.readObject(obj) < 0 {
				toRemove = append(toRemove, obj)
				removed = true
			}
		}
		if !removed && obj.FD >= 0 && l.Poller.IsSet(obj.FD, poller.Write) {
			if l.writeObject(obj) < 0 {
				toRemove = append(toRemove, obj)
			}
		}
	}

	l.applyPendingActions(&toRemove)

	for _, obj := range toRemove {
		l.finalizeRemoval(obj)
	}
	return nil
}

func readFn(fd int) func([]byte) (int, error) {
	return func(p []byte) (int, error) { return unix.Read(fd, p) }
}

func writeFn(fd int) func([]byte) (int, error) {
	return func(p []byte) (int, error) { return unix.Write(fd, p) }
}

// readObject dispatches to the right read path for obj's variant, per
// spec §4.3's per-variant decode step, and collects any client escape
// actions observed for later application.
func (l *Loop) readObject(obj *object.Object) int {
	scratch := make([]byte, 4096)
	switch {
	case obj.IsSerial():
		return object.ReadFromObj(obj, scratch, readFn(obj.FD), nil, true)
	case obj.IsTelnet():
		return object.ReadFromObj(obj, scratch, readFn(obj.FD), func(p []byte) []byte { return telnet.DecodeIAC(obj, p) }, false)
	case obj.IsClient():
		return l.readClient(obj, scratch)
	default:
		return 0
	}
}

// writeObject dispatches to the right write path for obj's variant. A
// serial object's obj.FD is the self-pipe bridge's read end (see
// internal/serial), which is not writable; its queued ring bytes must go
// through serial.WriteBytes to reach the device instead of a raw write on
// that fd.
func (l *Loop) writeObject(obj *object.Object) int {
	if obj.IsSerial() {
		return object.WriteToObj(obj, serialWriteFn(obj))
	}
	return object.WriteToObj(obj, writeFn(obj.FD))
}

func serialWriteFn(obj *object.Object) func([]byte) (int, error) {
	return func(p []byte) (int, error) { return serial.WriteBytes(obj, p), nil }
}

// readClient reads raw client bytes and routes them through the escape
// parser instead of the generic FanOut path, since a client's input
// targets the consoles it is attached to rather than its own reader list.
func (l *Loop) readClient(obj *object.Object, scratch []byte) int {
	n, err := unix.Read(obj.FD, scratch)
	if n > 0 {
		actions := client.HandleInput(obj, scratch[:n])
		l.pendingActions = append(l.pendingActions, actions...)
	}
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
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

// applyPendingActions applies every escape command collected during this
// iteration's reads, after the per-object loop has finished so a detach
// doesn't mutate the master list mid-iteration.
func (l *Loop) applyPendingActions(toRemove *[]*object.Object) {
	for _, a := range l.pendingActions {
		switch a.Kind {
		case client.ActionDetach:
			*toRemove = append(*toRemove, a.Client)
		case client.ActionReset:
			for _, console := range a.Client.Client.Attached {
				console.GotReset = true
			}
		case client.ActionSuspendToggle, client.ActionBroadcastToggle:
			// State already flipped in-place by client.HandleInput; no
			// master-list-wide effect needed.
		}
	}
	l.pendingActions = l.pendingActions[:0]
}

// finalizeRemoval applies the original's "if telnet, retain and
// reconnect; else remove" rule (spec §4.8), extended to reopenable serial
// consoles per spec §4.5.
func (l *Loop) finalizeRemoval(obj *object.Object) {
	switch {
	case obj.IsTelnet():
		telnet.Down(obj)
		delay := telnet.NextReconnectDelay(obj)
		l.Wheel.ScheduleRelative(func(any) {
			l.recordReconnect(obj)
			if err := telnet.Dial(obj); err != nil {
				l.finalizeRemoval(obj)
			}
		}, nil, delay)
	case obj.IsSerial() && obj.Serial.Reopenable:
		serial.Close(obj)
		delay := serial.NextReconnectDelay(obj)
		l.Wheel.ScheduleRelative(func(any) {
			l.recordReconnect(obj)
			if err := serial.Reopen(obj); err != nil {
				l.finalizeRemoval(obj)
			}
		}, nil, delay)
	default:
		l.RemoveObject(obj)
	}
}

func (l *Loop) recordReconnect(obj *object.Object) {
	if l.RecordReconnect != nil {
		l.RecordReconnect(obj.Name)
	}
}

// RemoveObject unlinks obj from every other object's reader/writer list
// and drops it from the master list.
func (l *Loop) RemoveObject(obj *object.Object) {
	obj.Detach(l.Master)
	for i, o := range l.Master {
		if o.ID == obj.ID {
			l.Master = append(l.Master[:i], l.Master[i+1:]...)
			break
		}
	}
	if obj.IsClient() {
		client.Detach(obj)
		client.Forget(obj)
	}
	logfld.WithFields(logfld.Fields{"object": obj.Name, "variant": obj.Variant.String()}).Debug("object removed from master list")
}

// resurrectDownedObjects is the reconfig extension hook the original
// leaves as a FIXME ("A reconfig should pro'ly resurrect 'downed' serial
// objs and reset reconnect timers of 'downed' telnet objs"), implemented
// here behind Config.ReconfigResurrects.
func (l *Loop) resurrectDownedObjects() {
	for _, obj := range l.Master {
		switch {
		case obj.IsTelnet() && obj.Telnet.State == object.TelnetDown:
			telnet.ResetBackoff(obj)
			l.recordReconnect(obj)
			_ = telnet.Dial(obj)
		case obj.IsSerial() && obj.FD < 0 && obj.Serial.Reopenable:
			serial.ResetBackoff(obj)
			l.recordReconnect(obj)
			_ = serial.Open(obj)
		}
	}
}
