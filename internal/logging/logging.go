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

// Package logging builds the daemon's structured logger: a logrus.Logger
// fanning out to the daemon logfile and, optionally, syslog. A daemon
// logfile that cannot be opened is replaced with stderr rather than taking
// the process down.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// New builds the daemon logger. path == "" logs to stderr only; level
// parses via logrus.ParseLevel, defaulting to Info on an empty/invalid
// string so a typo in config never silences the daemon outright.
func New(path string, level string) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	l.SetOutput(openSink(path, l))
	return l
}

// openSink opens path for append and returns it, or os.Stderr if path is
// empty or the open fails. A daemon logfile we cannot open does not take
// the process down; output falls back to stderr instead (not discarded).
func openSink(path string, l *logrus.Logger) io.Writer {
	if path == "" {
		return os.Stderr
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		l.WithError(err).WithField("path", path).Warn("cannot open daemon logfile, falling back to stderr")
		return os.Stderr
	}
	return f
}

// Reopen closes and reopens the daemon logfile at path, used on SIGHUP
// alongside internal/logfile's per-console reopen (spec §4.8 step 1).
func Reopen(l *logrus.Logger, path string) {
	old := l.Out
	l.SetOutput(openSink(path, l))
	if f, ok := old.(*os.File); ok && f != os.Stderr {
		_ = f.Close()
	}
}
