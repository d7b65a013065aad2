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

// Package telnet implements the DOWN/PENDING/UP connection state machine
// for a telnet console object, its option negotiation, and the IAC parser
// that strips telnet protocol bytes from console input before it is
// fanned out to readers.
//
// Connections are raw non-blocking sockets managed directly via
// golang.org/x/sys/unix (rather than net.Dial) so the event loop's single
// poller owns connect-completion detection exactly as spec §4.4
// describes: "non-blocking connect to (host, port); interest = READ|WRITE
// to detect writable = connected."
package telnet

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	logfld "github.com/sirupsen/logrus"

	"github.com/sabouaram/conserverd/internal/backoff"
	"github.com/sabouaram/conserverd/internal/object"
)

// Telnet command bytes, RFC 854.
const (
	iac  = 255
	will = 251
	wont = 252
	do   = 253
	dont = 254
	sb   = 250
	se   = 240
)

// Options this daemon understands; every other option is refused (WONT/DONT)
// per spec §4.4 ("refuse everything we do not implement").
const (
	optEcho       = 1
	optSuppressGA = 3
)

// Dial opens a non-blocking connection to obj's configured host:port and
// transitions it DOWN -> PENDING, per spec §4.4. obj.FD is set to the new
// socket so the caller can register READ|WRITE interest with the poller.
func Dial(obj *object.Object) error {
	t := obj.Telnet

	ips, err := net.LookupIP(t.Host)
	if err != nil || len(ips) == 0 {
		t.State = object.TelnetDown
		return fmt.Errorf("telnet: resolve %s: %w", t.Host, err)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		t.State = object.TelnetDown
		return fmt.Errorf("telnet: socket: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		t.State = object.TelnetDown
		return fmt.Errorf("telnet: set nonblock: %w", err)
	}

	var addr unix.SockaddrInet4
	addr.Port = t.Port
	ip4 := ips[0].To4()
	if ip4 == nil {
		unix.Close(fd)
		t.State = object.TelnetDown
		return fmt.Errorf("telnet: %s has no IPv4 address", t.Host)
	}
	copy(addr.Addr[:], ip4)

	err = unix.Connect(fd, &addr)
	if err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		t.State = object.TelnetDown
		return fmt.Errorf("telnet: connect: %w", err)
	}

	obj.FD = fd
	obj.GotEOF = false
	t.State = object.TelnetPending
	t.NegotiationSent = false
	return nil
}

// Advance is called once the poller reports obj's fd as readable or
// writable while PENDING. It checks SO_ERROR and transitions PENDING -> UP
// (sending initial option negotiation and resetting the reconnect backoff)
// or PENDING -> DOWN (closing the socket; internal/loop then arms the
// reconnect timer), per spec §4.4.
func Advance(obj *object.Object) {
	t := obj.Telnet
	if t.State != object.TelnetPending {
		return
	}
	errno, err := unix.GetsockoptInt(obj.FD, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil || errno != 0 {
		logfld.WithFields(logfld.Fields{"console": obj.Name}).
			Warn("telnet connect failed")
		teardown(obj)
		t.State = object.TelnetDown
		return
	}
	t.State = object.TelnetUp
	ResetBackoff(obj)
	negotiate(obj)
}

func negotiate(obj *object.Object) {
	t := obj.Telnet
	if t.NegotiationSent {
		return
	}
	t.NegotiationSent = true
	var out []byte
	if t.OptSuppressGA {
		out = append(out, iac, will, optSuppressGA)
	} else {
		out = append(out, iac, wont, optSuppressGA)
	}
	if t.OptEcho {
		out = append(out, iac, do, optEcho)
	} else {
		out = append(out, iac, dont, optEcho)
	}
	object.WriteObjData(obj, out, true)
}

// Down transitions obj UP -> DOWN on read EOF, write error, or HUP/ERR:
// any remaining buffered bytes are flushed to readers first, then the
// socket is closed. Down does not arm the reconnect itself; internal/loop's
// finalizeRemoval schedules it from the backoff schedule, per spec §4.4.
func Down(obj *object.Object) {
	if rem := obj.Ring.Drain(); len(rem) > 0 {
		object.FanOut(obj, rem, false)
	}
	teardown(obj)
	obj.Telnet.State = object.TelnetDown
}

func teardown(obj *object.Object) {
	if obj.FD >= 0 {
		_ = unix.Close(obj.FD)
	}
	obj.FD = -1
}

// NextReconnectDelay returns how long to wait before the next Dial
// attempt, per the shared backoff schedule (spec §4.4: 10s doubling to a
// 300s cap).
func NextReconnectDelay(obj *object.Object) time.Duration {
	if obj.Telnet.Backoff == nil {
		obj.Telnet.Backoff = backoff.New()
	}
	return obj.Telnet.Backoff.Next()
}

// ResetBackoff restores the initial reconnect delay after a successful
// connect.
func ResetBackoff(obj *object.Object) {
	if obj.Telnet.Backoff != nil {
		obj.Telnet.Backoff.Reset()
	}
}

// DecodeIAC strips IAC sequences from p, responding to option negotiation
// per RFC 854 (refusing everything outside optEcho/optSuppressGA), and
// returns the passthrough bytes destined for readers. State carries
// across calls via obj.Telnet.IACState so a sequence split across reads
// still decodes correctly.
func DecodeIAC(obj *object.Object, p []byte) []byte {
	const (
		stateData = iota
		stateIAC
		stateOption
		stateSubneg
	)
	t := obj.Telnet
	// IACState holds the parser state in its low byte and a pending
	// WILL/WONT/DO/DONT command in the next byte.
	state := t.IACState & 0xFF
	pendingCmd := byte(t.IACState >> 8)
	out := make([]byte, 0, len(p))
	var reply []byte

	for _, b := range p {
		switch state {
		case stateData:
			if b == iac {
				state = stateIAC
			} else {
				out = append(out, b)
			}
		case stateIAC:
			switch b {
			case iac:
				out = append(out, iac) // escaped literal 0xFF
				state = stateData
			case will, wont, do, dont:
				pendingCmd = b
				state = stateOption
			case sb:
				state = stateSubneg
			default:
				state = stateData // other 2-byte commands (NOP, AYT, ...): consumed, no reply
			}
		case stateOption:
			reply = append(reply, replyTo(pendingCmd, b)...)
			state = stateData
		case stateSubneg:
			// Simplified: discard subnegotiation payload verbatim until SE.
			// None of the options this daemon advertises (echo,
			// suppress-go-ahead) carry subnegotiation data, so embedded IAC
			// bytes inside a foreign option's payload are not expected here.
			if b == se {
				state = stateData
			}
		}
	}
	t.IACState = state | int(pendingCmd)<<8
	if len(reply) > 0 {
		object.WriteObjData(obj, reply, true)
	}
	return out
}

func replyTo(cmd, opt byte) []byte {
	understood := opt == optEcho || opt == optSuppressGA
	switch cmd {
	case do:
		if understood {
			return []byte{iac, will, opt}
		}
		return []byte{iac, wont, opt}
	case will:
		if understood {
			return []byte{iac, do, opt}
		}
		return []byte{iac, dont, opt}
	case dont, wont:
		return nil // no reply required
	}
	return nil
}
