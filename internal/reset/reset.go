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

// Package reset runs the operator-configured reset command for a console,
// per spec §4.9: fork a subshell in its own process group, watch it with a
// timeout, and SIGKILL the whole group if it is still alive when the
// watchdog fires.
package reset

import (
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	logfld "github.com/sirupsen/logrus"

	"github.com/sabouaram/conserverd/internal/object"
	"github.com/sabouaram/conserverd/internal/timer"
)

// Runner launches and watches reset commands for consoles, one at a time
// per console (a console already mid-reset ignores a new request).
type Runner struct {
	mu       sync.Mutex
	inFlight map[string]*exec.Cmd

	wheel   *timer.Wheel
	timeout time.Duration
}

// NewRunner returns a Runner that arms its watchdog timers on wheel and
// kills a still-running reset command after timeout.
func NewRunner(wheel *timer.Wheel, timeout time.Duration) *Runner {
	return &Runner{
		inFlight: map[string]*exec.Cmd{},
		wheel:    wheel,
		timeout:  timeout,
	}
}

// expandTemplate replaces every "%N" in cmdTemplate with the console name,
// per spec §4.9's "%N template expansion for the console name".
func expandTemplate(cmdTemplate, consoleName string) string {
	return strings.ReplaceAll(cmdTemplate, "%N", consoleName)
}

// Start launches cmdTemplate (after %N expansion) as a detached subshell in
// its own process group and arms a watchdog timer. It is a no-op if
// console already has a reset in flight.
func (r *Runner) Start(console *object.Object, cmdTemplate string) error {
	key := console.ID.String()

	r.mu.Lock()
	if _, busy := r.inFlight[key]; busy {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	command := expandTemplate(cmdTemplate, console.Name)
	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		logfld.WithFields(logfld.Fields{
			"console": console.Name,
			"command": command,
		}).WithError(err).Error("reset command failed to start")
		return err
	}

	r.mu.Lock()
	r.inFlight[key] = cmd
	r.mu.Unlock()

	pid := cmd.Process.Pid
	r.wheel.ScheduleRelative(func(any) {
		r.killIfAlive(console, pid)
	}, nil, r.timeout)

	console.GotReset = false
	return nil
}

// killIfAlive sends SIGKILL to pid's entire process group if the reset
// command is still the one registered for console when the watchdog
// fires (it may already have exited and been reaped by Reap).
func (r *Runner) killIfAlive(console *object.Object, pid int) {
	key := console.ID.String()

	r.mu.Lock()
	cmd, ok := r.inFlight[key]
	r.mu.Unlock()
	if !ok || cmd.Process == nil || cmd.Process.Pid != pid {
		return
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		logfld.WithFields(logfld.Fields{"console": console.Name, "pid": pid}).WithError(err).Warn("failed to kill reset command process group")
	}
}

// Reap performs a single non-blocking wait4 pass over every exited child,
// matching spec §4.9's "SIGCHLD handler reaps zombies with a non-blocking
// wait loop". Call this from the process's SIGCHLD handler.
func (r *Runner) Reap() {
	for {
		var ws syscall.WaitStatus
		pid, err := syscall.Wait4(-1, &ws, syscall.WNOHANG, nil)
		if pid <= 0 || err != nil {
			return
		}
		r.forgetPid(pid)
	}
}

func (r *Runner) forgetPid(pid int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, cmd := range r.inFlight {
		if cmd.Process != nil && cmd.Process.Pid == pid {
			delete(r.inFlight, key)
			return
		}
	}
}

// InFlight reports whether console currently has a reset command running.
func (r *Runner) InFlight(console *object.Object) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.inFlight[console.ID.String()]
	return ok
}
