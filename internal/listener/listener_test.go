package listener_test

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sabouaram/conserverd/internal/client"
	"github.com/sabouaram/conserverd/internal/listener"
	"github.com/sabouaram/conserverd/internal/object"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestOpenAndAcceptDispatchesToGreeting(t *testing.T) {
	port := freePort(t)
	q := client.NewQueue()

	greeted := make(chan struct{}, 1)
	greet := func(conn net.Conn) (*object.Object, error) {
		obj := object.New("client-1", object.VariantClient, 64)
		obj.Client = &object.ClientAux{}
		greeted <- struct{}{}
		return obj, nil
	}

	l, err := listener.Open(port, true, true, greet, q, 4)
	require.NoError(t, err)
	defer l.Close()

	dialDone := make(chan struct{})
	go func() {
		conn, derr := net.Dial("tcp4", "127.0.0.1:"+strconv.Itoa(port))
		if derr == nil {
			defer conn.Close()
		}
		close(dialDone)
	}()

	<-dialDone
	time.Sleep(20 * time.Millisecond)
	l.AcceptAll(context.Background())

	select {
	case <-greeted:
	case <-time.After(2 * time.Second):
		t.Fatal("greeting function was never invoked")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(q.Drain()) > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("greeted client was never pushed to the attach queue")
}

func TestAcceptAllShedsConnectionsWhenGreetingPoolIsExhausted(t *testing.T) {
	port := freePort(t)
	q := client.NewQueue()

	block := make(chan struct{})
	greet := func(conn net.Conn) (*object.Object, error) {
		<-block // every greeting worker hangs until the test releases it
		return nil, nil
	}

	// Capacity 1: a second concurrent accept must be shed rather than
	// stall AcceptAll waiting for the first greeting to free its slot.
	l, err := listener.Open(port, true, false, greet, q, 1)
	require.NoError(t, err)
	defer l.Close()
	defer close(block)

	dial := func() {
		conn, derr := net.Dial("tcp4", "127.0.0.1:"+strconv.Itoa(port))
		if derr == nil {
			defer conn.Close()
		}
	}
	dial()
	dial()
	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		l.AcceptAll(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("AcceptAll blocked on a full greeting pool instead of shedding the extra connection")
	}
}

func TestAcceptAllReturnsOnEmptyBacklog(t *testing.T) {
	port := freePort(t)
	q := client.NewQueue()
	greet := func(conn net.Conn) (*object.Object, error) { return nil, nil }

	l, err := listener.Open(port, true, false, greet, q, 2)
	require.NoError(t, err)
	defer l.Close()

	done := make(chan struct{})
	go func() {
		l.AcceptAll(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("AcceptAll blocked instead of returning on EAGAIN")
	}
	assert.GreaterOrEqual(t, l.FD(), 0)
}
