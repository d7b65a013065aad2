package loop_test

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/sabouaram/conserverd/internal/client"
	"github.com/sabouaram/conserverd/internal/listener"
	"github.com/sabouaram/conserverd/internal/loop"
	"github.com/sabouaram/conserverd/internal/object"
	"github.com/sabouaram/conserverd/internal/poller"
	"github.com/sabouaram/conserverd/internal/reset"
	"github.com/sabouaram/conserverd/internal/timer"
)

func newLoop(t *testing.T) (*loop.Loop, *listener.Listener) {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	q := client.NewQueue()
	greet := func(conn net.Conn) (*object.Object, error) {
		obj := object.New("client-1", object.VariantClient, 256)
		obj.Client = &object.ClientAux{}
		return obj, nil
	}
	l, err := listener.Open(port, true, false, greet, q, 4)
	require.NoError(t, err)

	w := loop.New(poller.New(), timer.New(), l, q, reset.NewRunner(timer.New(), time.Second), loop.Config{})
	return w, l
}

func TestIterationForwardsSerialDataToAttachedClient(t *testing.T) {
	w, ln := newLoop(t)
	defer ln.Close()

	pr, pw, err := os.Pipe()
	require.NoError(t, err)
	defer pw.Close()
	require.NoError(t, unix.SetNonblock(int(pr.Fd()), true))

	console := object.New("alpha", object.VariantSerial, 256)
	console.Serial = &object.SerialAux{}
	console.FD = int(pr.Fd())
	w.AddObject(console)

	clientObj := object.New("client-1", object.VariantClient, 256)
	clientObj.Client = &object.ClientAux{}
	client.Attach(clientObj, console, true)
	w.AddObject(clientObj)

	_, err = pw.Write([]byte("hello\n"))
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		require.NoError(t, w.Iteration(context.Background()))
		if !clientObj.Ring.Empty() {
			break
		}
	}
	assert.Equal(t, []byte("hello\n"), clientObj.Ring.Peek(16))
}

func TestIterationRemovesObjectOnEOF(t *testing.T) {
	w, ln := newLoop(t)
	defer ln.Close()

	pr, pw, err := os.Pipe()
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(int(pr.Fd()), true))

	console := object.New("beta", object.VariantSerial, 256)
	console.Serial = &object.SerialAux{}
	console.FD = int(pr.Fd())
	w.AddObject(console)

	require.NoError(t, pw.Close()) // EOF on the read side

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(w.Master) > 0 {
		require.NoError(t, w.Iteration(context.Background()))
	}
	assert.Empty(t, w.Master, "object must be removed from the master list on EOF with an empty ring")
}

func TestRequestShutdownStopsRun(t *testing.T) {
	w, ln := newLoop(t)
	defer ln.Close()

	w.RequestShutdown()
	assert.True(t, w.Done())
	err := w.Run(context.Background())
	assert.NoError(t, err)
}
