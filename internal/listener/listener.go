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

// Package listener owns the non-blocking accept socket and the bounded
// greeting worker pool described in spec §4.10: accept loops until
// EAGAIN/ECONNABORTED, each accepted connection optionally gets
// SO_KEEPALIVE, then is hand off to an external session worker running on
// a weighted-semaphore-bounded pool so a connection burst cannot exhaust
// NOFILE before the attach queue drains.
package listener

import (
	"context"
	"fmt"
	"net"
	"os"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sys/unix"

	logfld "github.com/sirupsen/logrus"

	"github.com/sabouaram/conserverd/internal/client"
	"github.com/sabouaram/conserverd/internal/object"
)

func fdToFile(fd int) *os.File {
	return os.NewFile(uintptr(fd), fmt.Sprintf("conn-%d", fd))
}

// GreetingFunc performs the blocking external greeting/banner exchange for
// one accepted connection and returns the client object to attach, per
// spec §4.7 ("On a successful external greeting, the worker hands the
// client object to the loop").
type GreetingFunc func(conn net.Conn) (*object.Object, error)

// Listener wraps a non-blocking accept socket plus the bounded greeting
// worker pool.
type Listener struct {
	fd             int
	enableKeepAlive bool
	greet          GreetingFunc
	queue          *client.Queue
	sem            *semaphore.Weighted
}

// Open binds and listens on port, loopback-only if loopbackOnly is set,
// per spec §4.10's "bound to either loopback or any-interface per
// config". The returned Listener's fd is non-blocking with SO_REUSEADDR
// set, ready to be registered with the poller.
func Open(port int, loopbackOnly bool, enableKeepAlive bool, greet GreetingFunc, queue *client.Queue, maxConcurrentGreetings int64) (*Listener, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	_, _ = unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC)

	addr := unix.SockaddrInet4{Port: port}
	if loopbackOnly {
		addr.Addr = [4]byte{127, 0, 0, 1}
	}
	if err := unix.Bind(fd, &addr); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if err := unix.Listen(fd, 128); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	return &Listener{
		fd:              fd,
		enableKeepAlive: enableKeepAlive,
		greet:           greet,
		queue:           queue,
		sem:             semaphore.NewWeighted(maxConcurrentGreetings),
	}, nil
}

// FD returns the listening socket's fd, for the poller to watch for READ
// readiness.
func (l *Listener) FD() int { return l.fd }

// Close shuts down the listening socket.
func (l *Listener) Close() error {
	return unix.Close(l.fd)
}

// AcceptAll drains every pending connection (spec §4.10: "Accept loops
// until EAGAIN/EWOULDBLOCK/ECONNABORTED"), dispatching each to a greeting
// goroutine bounded by the weighted semaphore. AcceptAll runs inline on the
// event loop goroutine, so it must never block it: a burst beyond the
// pool's capacity is shed immediately (spec §7's "EMFILE/ENOMEM — log and
// shed, drop the newest accept") rather than waiting for a slot to free.
func (l *Listener) AcceptAll(ctx context.Context) {
	for {
		nfd, _, err := unix.Accept(l.fd)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.ECONNABORTED {
				return
			}
			logfld.WithError(err).Warn("accept failed")
			return
		}
		// accept(2) does not inherit the listening socket's O_NONBLOCK flag.
		_ = unix.SetNonblock(nfd, true)

		if l.enableKeepAlive {
			_ = unix.SetsockoptInt(nfd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
		}

		if !l.sem.TryAcquire(1) {
			logfld.WithField("fd", nfd).Warn("greeting pool exhausted, dropping accepted connection")
			_ = unix.Close(nfd)
			continue
		}
		go l.greetOne(nfd)
	}
}

func (l *Listener) greetOne(nfd int) {
	defer l.sem.Release(1)

	f := fdToFile(nfd)
	conn, err := net.FileConn(f)
	_ = f.Close()
	if err != nil {
		logfld.WithError(err).Warn("failed to wrap accepted fd")
		return
	}

	obj, err := l.greet(conn)
	if err != nil {
		logfld.WithError(err).Info("client greeting failed")
		_ = conn.Close()
		return
	}
	l.queue.Push(obj)
}
