package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/shelfd/internal/config"
	"github.com/banshee-data/shelfd/internal/source"
)

func TestLoadStoreDefaults(t *testing.T) {
	store, err := loadStore("")
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, store.Current().GetEmptyShelfTimeout())
}

func TestLoadStoreCreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shelfd.json")
	store, err := loadStore(path)
	require.NoError(t, err)
	assert.True(t, store.Current().GetDragShakeEnabled())

	written, err := config.LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, 2, written.GetMinDirectionChanges())
}

func TestLoadStoreMergesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shelfd.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"debounce":"1s"}`), 0o644))
	store, err := loadStore(path)
	require.NoError(t, err)
	assert.Equal(t, time.Second, store.Current().GetDebounce())
	assert.Equal(t, 700*time.Millisecond, store.Current().GetTimeWindow())

	require.NoError(t, os.WriteFile(path, []byte(`{"reversal_dot":7}`), 0o644))
	_, err = loadStore(path)
	assert.True(t, errors.Is(err, config.ErrInvalidSettings))

	// Only valid against the defaults it is merged onto: 5s is not shorter than 3s.
	require.NoError(t, os.WriteFile(path, []byte(`{"session_hide_timeout":"5s"}`), 0o644))
	_, err = loadStore(path)
	assert.True(t, errors.Is(err, config.ErrInvalidSettings))
}

func TestNewSourceFromFlags(t *testing.T) {
	t.Cleanup(func() {
		*serialPath, *replayPath, *replayLoop, *inferDrags = "", "", false, false
	})

	src := newSource()
	_, disabled := src.(source.DisabledSource)
	assert.True(t, disabled)
	assert.ErrorIs(t, src.Start(t.Context(), nil), source.ErrSourceUnavailable)

	*replayPath, *replayLoop, *inferDrags = "testdata/shake.txt", true, true
	replay, ok := newSource().(*source.ReplaySource)
	require.True(t, ok)
	assert.True(t, replay.Loop)
	assert.True(t, replay.InferDrags)

	*replayPath, *serialPath = "", "/dev/ttyUSB0"
	serial, ok := newSource().(*source.SerialSource)
	require.True(t, ok)
	assert.Equal(t, "/dev/ttyUSB0", serial.Path)
	assert.Equal(t, 115200, serial.Options.BaudRate)
	assert.True(t, serial.InferDrags)
}

func TestDropPolicyFlag(t *testing.T) {
	assert.Empty(t, dropPolicy("").AllowedRoots)
	assert.Equal(t, []string{"/Users/sam", "/Volumes/Work"}, dropPolicy(" /Users/sam, ,/Volumes/Work ").AllowedRoots)
}
