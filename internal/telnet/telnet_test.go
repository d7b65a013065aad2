package telnet_test

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/sabouaram/conserverd/internal/object"
	"github.com/sabouaram/conserverd/internal/telnet"
)

func newTelnetObj(host string, port int) *object.Object {
	obj := object.New("alpha", object.VariantTelnet, 64)
	obj.Telnet = &object.TelnetAux{Host: host, Port: port}
	return obj
}

func TestDialTransitionsToPending(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	addr := ln.Addr().(*net.TCPAddr)
	obj := newTelnetObj("127.0.0.1", addr.Port)

	err = telnet.Dial(obj)
	require.NoError(t, err)
	assert.Equal(t, object.TelnetPending, obj.Telnet.State)
	assert.GreaterOrEqual(t, obj.FD, 0)

	unix.Close(obj.FD)
}

func TestAdvanceTransitionsToUpOnSuccessfulConnect(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan struct{})
	go func() {
		c, _ := ln.Accept()
		if c != nil {
			defer c.Close()
		}
		close(accepted)
	}()

	addr := ln.Addr().(*net.TCPAddr)
	obj := newTelnetObj("127.0.0.1", addr.Port)

	require.NoError(t, telnet.Dial(obj))

	// Give the connect a moment to complete in the background.
	select {
	case <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("listener never accepted connection")
	}
	time.Sleep(20 * time.Millisecond)

	telnet.Advance(obj)
	assert.Equal(t, object.TelnetUp, obj.Telnet.State)

	unix.Close(obj.FD)
}

func TestAdvanceTransitionsToDownOnConnectError(t *testing.T) {
	obj := newTelnetObj("127.0.0.1", 1) // privileged/unused port, expect ECONNREFUSED

	err := telnet.Dial(obj)
	if err != nil {
		// Some sandboxes refuse the raw socket() call itself; nothing more
		// to assert about Advance() in that case.
		t.Skip("raw socket connect not permitted in this sandbox")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && obj.Telnet.State == object.TelnetPending {
		telnet.Advance(obj)
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, object.TelnetDown, obj.Telnet.State)
}

func TestDecodeIACStripsSimpleCommand(t *testing.T) {
	obj := newTelnetObj("h", 1)
	obj.Telnet.State = object.TelnetUp

	out := telnet.DecodeIAC(obj, []byte{'h', 'i', 0xFF, 241, 'x'}) // IAC NOP
	assert.Equal(t, []byte("hix"), out)
}

func TestDecodeIACUnescapesLiteralFF(t *testing.T) {
	obj := newTelnetObj("h", 1)
	obj.Telnet.State = object.TelnetUp

	out := telnet.DecodeIAC(obj, []byte{0xFF, 0xFF, 'a'})
	assert.Equal(t, []byte{0xFF, 'a'}, out)
}

func TestDecodeIACRefusesUnknownOption(t *testing.T) {
	obj := newTelnetObj("h", 1)
	obj.Telnet.State = object.TelnetUp
	obj.FD = -1 // replies go to the ring since there is no real fd in this test

	// IAC DO <option 31 = window size>, which this daemon does not implement.
	telnet.DecodeIAC(obj, []byte{0xFF, 253, 31})

	reply := obj.Ring.Peek(8)
	assert.Equal(t, []byte{0xFF, 252, 31}, reply, "must reply WONT to an option it does not implement")
}

func TestDecodeIACSplitAcrossCalls(t *testing.T) {
	obj := newTelnetObj("h", 1)
	obj.Telnet.State = object.TelnetUp

	out1 := telnet.DecodeIAC(obj, []byte{'a', 0xFF})
	out2 := telnet.DecodeIAC(obj, []byte{241, 'b'}) // IAC NOP split across reads

	assert.Equal(t, []byte("a"), out1)
	assert.Equal(t, []byte("b"), out2)
}
