package pointer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBatch(t *testing.T) {
	samples := []Sample{
		{X: 0, Y: 0, TimestampMs: 1000},
		{X: 30, Y: 40, TimestampMs: 1010},
		{X: 30, Y: 40, TimestampMs: 1020},
		{X: 60, Y: 80, TimestampMs: 1070},
	}
	b := NewBatch(samples)

	assert.InDelta(t, 30.0, b.AvgX, 1e-9)
	assert.InDelta(t, 40.0, b.AvgY, 1e-9)
	assert.InDelta(t, 100.0, b.PathDistance, 1e-9)
	// 50px in 10ms is the fastest segment.
	assert.InDelta(t, 5000.0, b.PeakVelocity, 1e-9)
	assert.Equal(t, int64(1000), b.StartMs)
	assert.Equal(t, int64(1070), b.EndMs)

	last, ok := b.Last()
	require.True(t, ok)
	assert.Equal(t, samples[3], last)
}

func TestNewBatch_Empty(t *testing.T) {
	b := NewBatch(nil)
	if _, ok := b.Last(); ok {
		t.Error("Expected no last sample for an empty batch")
	}
	if b.PathDistance != 0 || b.PeakVelocity != 0 {
		t.Errorf("Expected zero aggregates, got %+v", b)
	}
}

func TestNewBatch_SameTimestampIgnoredForVelocity(t *testing.T) {
	b := NewBatch([]Sample{{X: 0, TimestampMs: 5}, {X: 100, TimestampMs: 5}})
	assert.Equal(t, 0.0, b.PeakVelocity)
	assert.InDelta(t, 100.0, b.PathDistance, 1e-9)
}

func TestItemsFromPaths(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "report.pdf")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	sub := filepath.Join(dir, "photos")
	require.NoError(t, os.Mkdir(sub, 0o755))
	missing := filepath.Join(dir, "gone.txt")

	got := ItemsFromPaths([]string{file, "", sub, missing})
	want := []Item{
		{Name: "report.pdf", Path: file, Kind: KindFile},
		{Name: "photos", Path: sub, Kind: KindFolder},
		{Name: "gone.txt", Path: missing, Kind: KindFile},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ItemsFromPaths mismatch (-want +got):\n%s", diff)
	}
}
