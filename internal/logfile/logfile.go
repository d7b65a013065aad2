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

// Package logfile implements the append-with-advisory-lock journal sink
// described in spec §4.6: one logfile object per console, reopenable on
// reconfig, timestamped on a scheduled interval.
package logfile

import (
	"fmt"
	"os"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"github.com/sabouaram/conserverd/internal/object"
	"github.com/sabouaram/conserverd/internal/timer"
)

// MsgPrefix/MsgSuffix are the sentinel bytes bracketing a timestamp marker
// line, per spec §6 ("Logfile line format").
const (
	MsgPrefix = "\x01"
	MsgSuffix = "\x02"
)

type handle struct {
	file *os.File
	lock *flock.Flock
}

var handles = map[string]*handle{}

// Open opens obj's configured path in append mode, takes an advisory
// write lock (detecting "another instance already owns this log" per spec
// §4.6), and sets close-on-exec. If truncate is true the file is opened
// O_TRUNC instead of O_APPEND (the zero-logs-on-start option).
func Open(obj *object.Object, truncate bool) error {
	l := obj.Logfile
	flags := os.O_CREATE | os.O_WRONLY
	if truncate {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_APPEND
	}

	f, err := os.OpenFile(l.Path, flags, 0640)
	if err != nil {
		return fmt.Errorf("logfile: open %s: %w", l.Path, err)
	}

	fl := flock.NewFlock(l.Path)
	locked, err := fl.TryLock()
	if err != nil || !locked {
		_ = f.Close()
		return fmt.Errorf("logfile: %s already locked by another instance", l.Path)
	}

	_, _ = unix.FcntlInt(f.Fd(), unix.F_SETFD, unix.FD_CLOEXEC)

	if old, ok := handles[obj.ID.String()]; ok {
		_ = old.lock.Unlock()
		_ = old.file.Close()
	}
	handles[obj.ID.String()] = &handle{file: f, lock: fl}

	obj.FD = int(f.Fd())
	l.OpenedAt = time.Now()
	l.BytesSinceTimestamp = 0
	return nil
}

// Reopen closes and reopens obj without truncating, used for SIGHUP-driven
// rotation support (spec §4.6: "every logfile is closed and reopened").
// Per testable property #3 in spec §8, if the file was renamed on disk
// between iterations, Reopen recreates it fresh at the original path
// rather than writing into the renamed file's inode.
func Reopen(obj *object.Object) error {
	Close(obj) // release the old lock first, or the new TryLock on the same file fails
	return Open(obj, false)
}

// Close releases obj's lock and file handle.
func Close(obj *object.Object) {
	if h, ok := handles[obj.ID.String()]; ok {
		_ = h.lock.Unlock()
		_ = h.file.Close()
		delete(handles, obj.ID.String())
	}
	obj.FD = -1
}

// Write appends p (already-formatted log bytes) to obj's ring so the
// normal write_to_obj path in internal/object flushes it to the locked
// fd, per spec §4.3 ("writable via the normal object write path").
func Write(obj *object.Object, p []byte) int {
	n := object.WriteObjData(obj, p, true)
	obj.Logfile.BytesSinceTimestamp += int64(n)
	return n
}

// TimestampLine renders the exact marker line specified in spec §6:
// "\x01Console [<name>] log at <localtime>\x02\r\n", the trailing three
// bytes always "\r\n" plus the suffix sentinel.
func TimestampLine(consoleName string, now time.Time) []byte {
	body := fmt.Sprintf("%sConsole [%s] log at %s", MsgPrefix, consoleName, now.Format("Mon Jan  2 15:04:05 2006"))
	return []byte(body + MsgSuffix + "\r\n")
}

// ScheduleTimestamps arms the recurring timestamp timer across every
// logfile in objs. It computes the first deadline as if timestamps had
// been written at uniform offsets since local midnight, so wall-clock
// alignment survives restarts (spec §4.6), then reschedules itself after
// each firing that found at least one logfile; a firing with no logfile in
// objs stops the schedule.
func ScheduleTimestamps(w *timer.Wheel, intervalMinutes int, objs func() []*object.Object) {
	if intervalMinutes <= 0 {
		return
	}
	deadline := firstDeadline(time.Now(), intervalMinutes)
	var fire timer.CallbackFunc
	fire = func(any) {
		now := time.Now()
		wroteAny := false
		for _, o := range objs() {
			if !o.IsLogfile() {
				continue
			}
			Write(o, TimestampLine(o.Logfile.Console.Name, now))
			wroteAny = true
		}
		if wroteAny {
			w.ScheduleAbsolute(fire, nil, now.Add(time.Duration(intervalMinutes)*time.Minute))
		}
	}
	w.ScheduleAbsolute(fire, nil, deadline)
}

func firstDeadline(now time.Time, intervalMinutes int) time.Time {
	minutesSinceMidnight := now.Hour()*60 + now.Minute()
	completed := minutesSinceMidnight / intervalMinutes
	nextMinute := (completed + 1) * intervalMinutes
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return midnight.Add(time.Duration(nextMinute) * time.Minute)
}
