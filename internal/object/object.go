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

// Package object implements the central Object record shared by every
// console, logfile, and client in the daemon, its ring buffer, and the
// buffer-oriented read/write operations the event loop drives each
// iteration.
package object

import (
	"time"

	"github.com/google/uuid"

	"github.com/sabouaram/conserverd/internal/backoff"
)

// Variant tags which auxiliary record is valid on an Object.
type Variant int

const (
	VariantSerial Variant = iota
	VariantTelnet
	VariantLogfile
	VariantClient
)

func (v Variant) String() string {
	switch v {
	case VariantSerial:
		return "serial"
	case VariantTelnet:
		return "telnet"
	case VariantLogfile:
		return "logfile"
	case VariantClient:
		return "client"
	default:
		return "unknown"
	}
}

// TelnetState is the telnet connection state machine's current state.
type TelnetState int

const (
	TelnetDown TelnetState = iota
	TelnetPending
	TelnetUp
)

// SessionMode is a client object's attach mode.
type SessionMode int

const (
	SessionMonitor SessionMode = iota
	SessionInteractive
	SessionBroadcast
)

// SerialAux is the auxiliary state for a serial console object.
type SerialAux struct {
	Device   string
	Baud     int
	Parity   string // "N", "E", "O"
	Bits     int
	Backoff  *backoff.Schedule
	Reopenable bool
}

// TelnetAux is the auxiliary state for a telnet console object.
type TelnetAux struct {
	Host            string
	Port            int
	State           TelnetState
	Backoff         *backoff.Schedule
	OptSuppressGA   bool
	OptEcho         bool
	NegotiationSent bool

	// IACState is the parser's carry-over state across reads, so an IAC
	// sequence split across two socket reads still decodes correctly.
	IACState int
}

// LogfileAux is the auxiliary state for a logfile sink object.
type LogfileAux struct {
	Console              *Object
	Path                 string
	FormatTemplate       string
	OpenedAt             time.Time
	BytesSinceTimestamp  int64
}

// ClientAux is the auxiliary state for a client session object.
type ClientAux struct {
	GreetingComplete bool
	Suspended        bool
	WritePrivileged  bool
	Mode             SessionMode
	Attached         []*Object // consoles this client is attached to
	OverflowStrikes  int       // consecutive "buffer full" events observed by producers
}

// Object is the central record: every console, logfile, and client in the
// master list is one of these, with FD < 0 meaning detached/closed.
type Object struct {
	ID   uuid.UUID
	Name string
	FD   int

	Ring *Ring

	GotEOF   bool
	GotReset bool

	// Readers receive this object's output (e.g. a console's readers are
	// its attached logfile and every attached client). Writers feed this
	// object's input (a console's writers are its write-privileged attached
	// clients, suspended or not). Both are non-owning back-references
	// into the master list, per spec §3's "Ownership is exclusive."
	Readers []*Object
	Writers []*Object

	Variant Variant

	Serial  *SerialAux
	Telnet  *TelnetAux
	Logfile *LogfileAux
	Client  *ClientAux
}

// New returns a detached (FD == -1) object of the given variant with a
// fresh ring buffer and stable id.
func New(name string, variant Variant, ringSize int) *Object {
	return &Object{
		ID:      uuid.New(),
		Name:    name,
		FD:      -1,
		Ring:    NewRing(ringSize),
		Variant: variant,
	}
}

func (o *Object) IsConsole() bool {
	return o.Variant == VariantSerial || o.Variant == VariantTelnet
}

func (o *Object) IsSerial() bool  { return o.Variant == VariantSerial }
func (o *Object) IsTelnet() bool  { return o.Variant == VariantTelnet }
func (o *Object) IsLogfile() bool { return o.Variant == VariantLogfile }
func (o *Object) IsClient() bool  { return o.Variant == VariantClient }

// AddReader registers dst as a reader of o's output, idempotently.
func (o *Object) AddReader(dst *Object) {
	for _, r := range o.Readers {
		if r.ID == dst.ID {
			return
		}
	}
	o.Readers = append(o.Readers, dst)
}

// RemoveReader drops dst (by id) from o's reader list. Called when an
// object is torn down so cyclic reader/writer references never point at a
// dead entry, per spec §9's "break cycles by always walking master-list
// order for cleanup."
func (o *Object) RemoveReader(dst *Object) {
	o.Readers = removeByID(o.Readers, dst.ID)
}

// AddWriter registers src as a writer feeding o's input, idempotently.
func (o *Object) AddWriter(src *Object) {
	for _, w := range o.Writers {
		if w.ID == src.ID {
			return
		}
	}
	o.Writers = append(o.Writers, src)
}

// RemoveWriter drops src (by id) from o's writer list.
func (o *Object) RemoveWriter(src *Object) {
	o.Writers = removeByID(o.Writers, src.ID)
}

func removeByID(list []*Object, id uuid.UUID) []*Object {
	out := list[:0]
	for _, e := range list {
		if e.ID != id {
			out = append(out, e)
		}
	}
	return out
}

// Detach unlinks o from every object that references it as a reader or
// writer. Called by the event loop before removing o from the master
// list.
func (o *Object) Detach(master []*Object) {
	for _, other := range master {
		if other.ID == o.ID {
			continue
		}
		other.RemoveReader(o)
		other.RemoveWriter(o)
	}
}
