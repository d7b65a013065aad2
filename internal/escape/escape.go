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

// Package escape parses the operator escape-command sequences embedded in
// a client's input stream. Per spec §4.7/§9, the core only requires a
// (passthrough-bytes, command-events) split; this package is the concrete,
// swappable policy implementing that split, recovered from the default
// `&.`-prefixed command family in original_source/server.c.
package escape

// Command identifies a recognized escape command.
type Command int

const (
	CmdNone Command = iota
	CmdDetach
	CmdSuspendToggle
	CmdBroadcastToggle
	CmdReset
)

// Event is one recognized escape command, emitted in the order it was
// parsed out of the client's byte stream.
type Event struct {
	Cmd Command
}

const escapeChar = '&'

// parser states.
const (
	stateNormal = iota
	stateEscaped
)

// Parser is a small per-client state machine carrying state across Parse
// calls, so an escape sequence split across two reads still decodes
// correctly.
type Parser struct {
	state int
}

// NewParser returns a parser ready to consume a client's raw input.
func NewParser() *Parser {
	return &Parser{state: stateNormal}
}

// Parse consumes p and returns the bytes that should still be delivered to
// the client's attached consoles (passthrough) plus any escape commands
// recognized along the way.
func (pr *Parser) Parse(p []byte) (passthrough []byte, events []Event) {
	passthrough = make([]byte, 0, len(p))
	for _, b := range p {
		switch pr.state {
		case stateNormal:
			if b == escapeChar {
				pr.state = stateEscaped
			} else {
				passthrough = append(passthrough, b)
			}
		case stateEscaped:
			pr.state = stateNormal
			switch b {
			case '.':
				events = append(events, Event{Cmd: CmdDetach})
			case 's':
				events = append(events, Event{Cmd: CmdSuspendToggle})
			case 'b':
				events = append(events, Event{Cmd: CmdBroadcastToggle})
			case 'r':
				events = append(events, Event{Cmd: CmdReset})
			case escapeChar:
				passthrough = append(passthrough, escapeChar) // "&&" escapes a literal '&'
			default:
				// Unrecognized escape: pass both bytes through verbatim,
				// matching the original's "unknown sequence is not a
				// command" behavior.
				passthrough = append(passthrough, escapeChar, b)
			}
		}
	}
	return passthrough, events
}
