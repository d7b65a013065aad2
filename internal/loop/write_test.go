package loop

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/sabouaram/conserverd/internal/object"
)

// TestWriteObjectRoutesSerialThroughBridgeNotRawFd guards against writing
// ring-buffered bytes directly to a serial object's obj.FD, which is the
// self-pipe bridge's read end (see internal/serial) and not writable: a raw
// unix.Write there returns EBADF, which would wrongly look like a fatal
// write error and get the console removed from the master list.
func TestWriteObjectRoutesSerialThroughBridgeNotRawFd(t *testing.T) {
	pr, pw, err := os.Pipe()
	require.NoError(t, err)
	defer pr.Close()
	defer pw.Close()
	require.NoError(t, unix.SetNonblock(int(pr.Fd()), true))

	console := object.New("alpha", object.VariantSerial, 64)
	console.Serial = &object.SerialAux{}
	console.FD = int(pr.Fd()) // read end: writing here directly would EBADF

	object.WriteObjData(console, []byte("queued"), true)
	require.False(t, console.Ring.Empty())

	l := &Loop{}
	n := l.writeObject(console)

	// No bridge is registered for this object id (serial.Open was never
	// called), so serial.WriteBytes reports 0 bytes accepted rather than a
	// fatal error — the object must not be marked for removal.
	assert.Equal(t, 0, n)
	assert.False(t, console.Ring.Empty(), "unaccepted bytes must stay queued, not be dropped or advanced")
}
