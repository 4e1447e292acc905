package lock

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireWritesPID(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "state", "blazehooks.pid")
	l, err := Acquire(lockPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Release() })

	b, err := os.ReadFile(lockPath)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), strings.TrimSpace(string(b)))
	assert.Equal(t, lockPath, l.Path())
}

func TestAcquireRejectsSecondHolder(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "blazehooks.pid")
	first, err := Acquire(lockPath)
	require.NoError(t, err)

	// flock locks belong to the open file description, so a second open in
	// the same process conflicts too.
	_, err = Acquire(lockPath)
	assert.ErrorIs(t, err, ErrHeld)

	require.NoError(t, first.Release())
	require.NoError(t, first.Release())

	again, err := Acquire(lockPath)
	require.NoError(t, err)
	require.NoError(t, again.Release())
}

func TestPathFor(t *testing.T) {
	assert.Equal(t, filepath.Join("/var/lib/blazehooks", "state.pid"), PathFor("/var/lib/blazehooks/state.db"))
	assert.Equal(t, filepath.Join("data", "hooks.pid"), PathFor("data/hooks.sqlite"))
	assert.Equal(t, "state.pid", PathFor("state"))
}

func TestAcquireEmptyPath(t *testing.T) {
	_, err := Acquire("")
	assert.Error(t, err)
}
