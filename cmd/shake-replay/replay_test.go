package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/shelfd/internal/config"
)

func replayFixture(t *testing.T, settings *config.Settings, always bool) *report {
	t.Helper()
	f, err := os.Open("testdata/shake.txt")
	require.NoError(t, err)
	defer f.Close()
	rep, err := replay(f, settings, always)
	require.NoError(t, err)
	return rep
}

func TestReplayOnlyDetectsDuringDrags(t *testing.T) {
	rep := replayFixture(t, config.DefaultSettings(), false)
	assert.Equal(t, 14, rep.Lines)
	assert.Equal(t, 1, rep.Skipped)
	assert.Len(t, rep.Samples, 10)
	assert.Equal(t, 1, rep.Drags)
	assert.Equal(t, 6, rep.Batches)
	require.Len(t, rep.Shakes, 1)
	assert.Equal(t, int64(1150), rep.Shakes[0].TimestampMs)
	assert.Equal(t, 2, rep.Shakes[0].DirectionChanges)
}

func TestReplayAlwaysDetects(t *testing.T) {
	rep := replayFixture(t, config.DefaultSettings(), true)
	require.Len(t, rep.Shakes, 2)
	assert.Equal(t, int64(3150), rep.Shakes[1].TimestampMs)
}

func TestReplayHonoursSensitivity(t *testing.T) {
	strict := config.DefaultSettings().Merge(&config.Settings{MinDirectionChanges: config.Int(5)})
	rep := replayFixture(t, strict, true)
	assert.Empty(t, rep.Shakes)
}

func TestReportPrintAndPlot(t *testing.T) {
	rep := replayFixture(t, config.DefaultSettings(), false)

	var buf bytes.Buffer
	rep.Print(&buf)
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "lines=14 skipped=1 samples=10 batches=6 drags=1 shakes=1\n"))
	assert.Contains(t, out, "intensity")
	assert.Contains(t, out, "1150")

	path := filepath.Join(t.TempDir(), "trace.png")
	require.NoError(t, rep.Plot(path))
	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, fi.Size())

	empty := &report{}
	assert.Error(t, empty.Plot(path))
}
