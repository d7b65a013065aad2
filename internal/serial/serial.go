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

// Package serial opens and configures a local TTY-backed console object,
// per spec §4.5, using github.com/tarm/serial for the line discipline and
// baud/parity/bits setup.
//
// tarm/serial exposes only blocking Read/Write over the device, with no
// portable way to pull out the underlying non-blocking fd for the
// poller. This package bridges that with the classic self-pipe trick: a
// background reader goroutine does blocking port.Read() calls and copies
// bytes into an os.Pipe whose read end (non-blocking) is what
// obj.FD/the poller actually see; a background writer goroutine drains a
// small channel into blocking port.Write() calls. The event loop itself
// never blocks on the device.
package serial

import (
	"fmt"
	"os"
	"time"

	"github.com/tarm/serial"
	"golang.org/x/sys/unix"

	"github.com/sabouaram/conserverd/internal/backoff"
	"github.com/sabouaram/conserverd/internal/object"
)

func parityFromString(s string) serial.Parity {
	switch s {
	case "E":
		return serial.ParityEven
	case "O":
		return serial.ParityOdd
	default:
		return serial.ParityNone
	}
}

type bridge struct {
	port    *serial.Port
	pipeR   *os.File
	pipeW   *os.File
	writeCh chan []byte
	done    chan struct{}
}

// bridges tracks the open device + pipe bridge per object id, since the
// object model only carries a raw fd.
var bridges = map[string]*bridge{}

// Open opens obj's configured device, applies the configured
// baud/parity/bits, and wires up the self-pipe bridge described above, per
// spec §4.5.
func Open(obj *object.Object) error {
	s := obj.Serial
	cfg := &serial.Config{
		Name:        s.Device,
		Baud:        s.Baud,
		Parity:      parityFromString(s.Parity),
		Size:        byte(s.Bits),
		ReadTimeout: 200 * time.Millisecond,
	}
	port, err := serial.OpenPort(cfg)
	if err != nil {
		return fmt.Errorf("serial: open %s: %w", s.Device, err)
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		_ = port.Close()
		return fmt.Errorf("serial: create bridge pipe: %w", err)
	}
	if err := unix.SetNonblock(int(pr.Fd()), true); err != nil {
		_ = port.Close()
		_ = pr.Close()
		_ = pw.Close()
		return fmt.Errorf("serial: set bridge pipe nonblock: %w", err)
	}
	_, _ = unix.FcntlInt(pr.Fd(), unix.F_SETFD, unix.FD_CLOEXEC)

	b := &bridge{
		port:    port,
		pipeR:   pr,
		pipeW:   pw,
		writeCh: make(chan []byte, 64),
		done:    make(chan struct{}),
	}
	bridges[obj.ID.String()] = b
	obj.FD = int(pr.Fd())
	obj.GotEOF = false

	go b.readLoop()
	go b.writeLoop()
	return nil
}

func (b *bridge) readLoop() {
	buf := make([]byte, 4096)
	for {
		select {
		case <-b.done:
			return
		default:
		}
		n, err := b.port.Read(buf)
		if n > 0 {
			if _, werr := b.pipeW.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			_ = b.pipeW.Close()
			return
		}
	}
}

func (b *bridge) writeLoop() {
	for {
		select {
		case <-b.done:
			return
		case p, ok := <-b.writeCh:
			if !ok {
				return
			}
			_, _ = b.port.Write(p)
		}
	}
}

// Close tears down obj's open serial port and bridge goroutines, if any.
func Close(obj *object.Object) {
	if b, ok := bridges[obj.ID.String()]; ok {
		close(b.done)
		_ = b.port.Close()
		_ = b.pipeR.Close()
		_ = b.pipeW.Close()
		delete(bridges, obj.ID.String())
	}
	obj.FD = -1
}

// Reopen closes and re-opens obj's device, used when a fatal I/O error
// puts the object into its "down" state, per spec §4.5. On success it
// resets the reconnect backoff.
func Reopen(obj *object.Object) error {
	Close(obj)
	if err := Open(obj); err != nil {
		return err
	}
	ResetBackoff(obj)
	return nil
}

// WriteBytes queues p for the background writer goroutine to send to the
// device. Non-blocking: returns the number of bytes accepted into the
// queue (0 if the queue is full), matching WriteToObj's "single
// non-blocking write" contract at the object-model layer.
func WriteBytes(obj *object.Object, p []byte) int {
	b, ok := bridges[obj.ID.String()]
	if !ok {
		return 0
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	select {
	case b.writeCh <- cp:
		return len(p)
	default:
		return 0
	}
}

// NextReconnectDelay returns the next reconnect delay from the object's
// shared backoff schedule (same profile as telnet, per spec §4.5: "the
// same backoff profile as telnet").
func NextReconnectDelay(obj *object.Object) time.Duration {
	if obj.Serial.Backoff == nil {
		obj.Serial.Backoff = backoff.New()
	}
	return obj.Serial.Backoff.Next()
}

// ResetBackoff restores the initial reconnect delay after a successful
// reopen.
func ResetBackoff(obj *object.Object) {
	if obj.Serial.Backoff != nil {
		obj.Serial.Backoff.Reset()
	}
}
