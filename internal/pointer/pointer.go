// Package pointer defines the values that flow from the native event source
// through the bridge: raw cursor samples, coalesced batches and the file
// references being dragged.
package pointer

import (
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/stat"
)

// Sample is one cursor position reported by the native source.
// Timestamps are milliseconds and non-decreasing per source.
type Sample struct {
	X              float64 `json:"x"`
	Y              float64 `json:"y"`
	TimestampMs    int64   `json:"timestamp_ms"`
	LeftButtonDown bool    `json:"left_button_down"`
}

// DistanceTo returns the Euclidean distance between two samples.
func (s Sample) DistanceTo(o Sample) float64 {
	return math.Hypot(o.X-s.X, o.Y-s.Y)
}

// Kind distinguishes dragged files from folders.
type Kind string

const (
	KindFile   Kind = "file"
	KindFolder Kind = "folder"
)

// Item is a file reference carried by a drag.
type Item struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Kind Kind   `json:"kind"`
}

// ItemFromPath builds an Item for path. Paths that cannot be stat'ed are
// treated as files; the drop still succeeds.
func ItemFromPath(path string) Item {
	item := Item{Name: filepath.Base(path), Path: path, Kind: KindFile}
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		item.Kind = KindFolder
	}
	return item
}

// ItemsFromPaths converts each path with ItemFromPath, skipping empty strings.
func ItemsFromPaths(paths []string) []Item {
	items := make([]Item, 0, len(paths))
	for _, p := range paths {
		if p == "" {
			continue
		}
		items = append(items, ItemFromPath(p))
	}
	return items
}

// Batch is an ordered window of samples coalesced by the bridge.
type Batch struct {
	Samples      []Sample
	AvgX         float64
	AvgY         float64
	PathDistance float64 // sum of consecutive sample distances, px
	PeakVelocity float64 // px/s between consecutive samples
	StartMs      int64
	EndMs        int64
}

// NewBatch computes the aggregate fields for samples. The slice is retained.
func NewBatch(samples []Sample) Batch {
	b := Batch{Samples: samples}
	if len(samples) == 0 {
		return b
	}

	xs := make([]float64, len(samples))
	ys := make([]float64, len(samples))
	for i, s := range samples {
		xs[i], ys[i] = s.X, s.Y
		if i == 0 {
			continue
		}
		d := samples[i-1].DistanceTo(s)
		b.PathDistance += d
		if dt := s.TimestampMs - samples[i-1].TimestampMs; dt > 0 {
			if v := d / float64(dt) * 1000; v > b.PeakVelocity {
				b.PeakVelocity = v
			}
		}
	}
	b.AvgX = stat.Mean(xs, nil)
	b.AvgY = stat.Mean(ys, nil)
	b.StartMs = samples[0].TimestampMs
	b.EndMs = samples[len(samples)-1].TimestampMs
	return b
}

// Last returns the newest sample in the batch.
func (b Batch) Last() (Sample, bool) {
	if len(b.Samples) == 0 {
		return Sample{}, false
	}
	return b.Samples[len(b.Samples)-1], true
}
