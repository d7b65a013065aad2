package logging_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sabouaram/conserverd/internal/logging"
)

func TestNewWritesToConfiguredPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daemon.log")

	l := logging.New(path, "info")
	l.Info("hello")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}

func TestNewFallsBackToInfoOnInvalidLevel(t *testing.T) {
	l := logging.New("", "not-a-level")
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())
}

func TestReopenSwitchesToNewPath(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a.log")
	second := filepath.Join(dir, "b.log")

	l := logging.New(first, "info")
	l.Info("to-a")

	logging.Reopen(l, second)
	l.Info("to-b")

	aData, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Contains(t, string(aData), "to-a")
	assert.NotContains(t, string(aData), "to-b")

	bData, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Contains(t, string(bData), "to-b")
}
