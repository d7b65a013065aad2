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

// Package config defines the daemon's configuration record and its
// viper/cobra-bound loader, per SPEC_FULL.md §6.1.
package config

import "time"

// ConsoleVariant selects whether a ConsoleConfig describes a local serial
// device or a remote telnet endpoint.
type ConsoleVariant string

const (
	ConsoleSerial ConsoleVariant = "serial"
	ConsoleTelnet ConsoleVariant = "telnet"
)

// ConsoleConfig describes one configured console, serial or telnet, plus
// its optional logfile sink.
type ConsoleConfig struct {
	Name    string
	Variant ConsoleVariant

	// Serial fields.
	Device string
	Baud   int
	Parity string
	Bits   int

	// Telnet fields.
	Host string
	Port int

	// Reopenable applies to serial consoles only: if true, a serial console
	// that hits EOF or an I/O error is reopened on a backoff timer by
	// internal/loop's finalizeRemoval path and by the reconfig-resurrect
	// hook. Telnet consoles always reconnect and ignore this field.
	Reopenable bool

	LogfilePath string
}

// Config is the full daemon configuration record, per SPEC_FULL.md §6.1.
type Config struct {
	Port            int
	LoopbackOnly    bool
	EnableKeepAlive bool
	EnableTCPWrap   bool
	EnableZeroLogs  bool
	TStampMinutes   int

	DaemonLogPath  string
	DaemonLogLevel string

	ResetCmd        string
	ResetCmdTimeout time.Duration

	SyslogFacility string

	ReconfigResurrects bool

	Consoles []ConsoleConfig
}

// Default returns a Config with the same baseline values the original
// daemon ships with: port 7890, loopback-only, a 1440-minute (daily)
// timestamp interval, and a 5s reset command timeout.
func Default() Config {
	return Config{
		Port:            7890,
		LoopbackOnly:    true,
		EnableKeepAlive: true,
		TStampMinutes:   1440,
		DaemonLogLevel:  "info",
		ResetCmdTimeout: 5 * time.Second,
		SyslogFacility:  "daemon",
	}
}
