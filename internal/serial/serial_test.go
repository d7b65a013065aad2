package serial_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sabouaram/conserverd/internal/object"
	"github.com/sabouaram/conserverd/internal/serial"
)

func newConsole(name string) *object.Object {
	obj := object.New(name, object.VariantSerial, 64)
	obj.Serial = &object.SerialAux{Device: "/dev/nonexistent-conserverd-test-device", Baud: 9600, Parity: "N", Bits: 8}
	return obj
}

func TestOpenReturnsErrorForMissingDevice(t *testing.T) {
	obj := newConsole("alpha")
	err := serial.Open(obj)
	require.Error(t, err, "opening a device path that doesn't exist must fail rather than silently succeed")
}

func TestWriteBytesWithoutAnOpenBridgeReturnsZero(t *testing.T) {
	obj := newConsole("alpha")
	n := serial.WriteBytes(obj, []byte("hello"))
	assert.Equal(t, 0, n, "WriteBytes must not panic or accept bytes for a console with no open bridge")
}

func TestCloseWithoutAnOpenBridgeIsANoOp(t *testing.T) {
	obj := newConsole("alpha")
	assert.NotPanics(t, func() { serial.Close(obj) })
	assert.Equal(t, -1, obj.FD)
}

func TestNextReconnectDelayDoublesAndResetBackoffRestarts(t *testing.T) {
	obj := newConsole("alpha")

	first := serial.NextReconnectDelay(obj)
	second := serial.NextReconnectDelay(obj)
	assert.Equal(t, 10*time.Second, first)
	assert.Equal(t, 20*time.Second, second)

	serial.ResetBackoff(obj)
	assert.Equal(t, 10*time.Second, serial.NextReconnectDelay(obj))
}
