package logfile_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/sabouaram/conserverd/internal/logfile"
	"github.com/sabouaram/conserverd/internal/object"
)

func newLogfileObj(t *testing.T, path string) *object.Object {
	t.Helper()
	console := object.New("alpha", object.VariantTelnet, 64)
	obj := object.New("alpha.log", object.VariantLogfile, 64)
	obj.Logfile = &object.LogfileAux{Console: console, Path: path}
	return obj
}

func TestTimestampLineFormat(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	line := logfile.TimestampLine("alpha", now)

	assert.Equal(t, byte(0x01), line[0])
	assert.Equal(t, "\x02\r\n", string(line[len(line)-3:]))
	assert.Contains(t, string(line), "Console [alpha] log at")
}

func TestOpenWriteAndReopenAfterRename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alpha.log")

	obj := newLogfileObj(t, path)
	require.NoError(t, logfile.Open(obj, true))

	logfile.Write(obj, []byte("line one\n"))

	// Flush the ring to the fd the way the event loop's write_to_obj would.
	pending := obj.Ring.Peek(obj.Ring.Cap())
	n, err := unix.Write(obj.FD, pending)
	require.NoError(t, err)
	obj.Ring.Advance(n)

	// Simulate a SIGHUP race: rename the file out from under the daemon
	// between iterations (spec §8 scenario 3).
	renamed := filepath.Join(dir, "alpha.log.1")
	require.NoError(t, os.Rename(path, renamed))

	require.NoError(t, logfile.Reopen(obj))

	logfile.Write(obj, []byte("line two\n"))
	pending = obj.Ring.Peek(obj.Ring.Cap())
	n, err = unix.Write(obj.FD, pending)
	require.NoError(t, err)
	obj.Ring.Advance(n)

	newContent, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "line two\n", string(newContent), "timestamp after reopen must land in the new file at the original path")

	oldContent, err := os.ReadFile(renamed)
	require.NoError(t, err)
	assert.Equal(t, "line one\n", string(oldContent), "the renamed file must retain what was written before the rename")

	logfile.Close(obj)
}
