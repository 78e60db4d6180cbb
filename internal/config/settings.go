package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultSettingsPath is where the daemon looks for settings when no -config
// flag is given.
const DefaultSettingsPath = "config/shelfd.defaults.json"

// Settings is the reactive configuration for gesture detection and shelf
// lifecycle. Every field is optional; Get* accessors supply defaults so a
// partial file (or a partial PUT body) is safe.
type Settings struct {
	// Feature switches
	DragShakeEnabled *bool `json:"drag_shake_enabled,omitempty"`
	AutoHideEmpty    *bool `json:"auto_hide_empty,omitempty"`

	// Auto-hide timing
	EmptyShelfTimeout       *string `json:"empty_shelf_timeout,omitempty"`  // duration string like "3s"
	SessionHideTimeout      *string `json:"session_hide_timeout,omitempty"` // applied when a drag ends with an empty shelf
	CleanupClearDelay       *string `json:"cleanup_clear_delay,omitempty"`
	CleanupSweepDelay       *string `json:"cleanup_sweep_delay,omitempty"`
	RescheduleWarnThreshold *int    `json:"reschedule_warn_threshold,omitempty"`

	// Shake sensitivity
	MinDirectionChanges  *int     `json:"min_direction_changes,omitempty"`
	TimeWindow           *string  `json:"time_window,omitempty"`
	MinDistancePx        *float64 `json:"min_distance_px,omitempty"`
	Debounce             *string  `json:"debounce,omitempty"`
	ReversalDot          *float64 `json:"reversal_dot,omitempty"`
	IntensityRefVelocity *float64 `json:"intensity_ref_velocity,omitempty"` // px/s that maps to full intensity

	// Bridge batching
	BatchMaxSamples *int     `json:"batch_max_samples,omitempty"`
	BatchInterval   *string  `json:"batch_interval,omitempty"`
	DedupePx        *float64 `json:"dedupe_px,omitempty"`

	// Shelf placement relative to the cursor
	ShelfOffsetX *float64 `json:"shelf_offset_x,omitempty"`
	ShelfOffsetY *float64 `json:"shelf_offset_y,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// Bool, Int, Float and Duration build pointer fields for callers assembling
// a partial Settings in code.
func Bool(v bool) *bool                { return ptrBool(v) }
func Int(v int) *int                   { return ptrInt(v) }
func Float(v float64) *float64         { return ptrFloat64(v) }
func Duration(d time.Duration) *string { return ptrString(d.String()) }

// DefaultSettings returns Settings with every field populated.
func DefaultSettings() *Settings {
	return &Settings{
		DragShakeEnabled:        ptrBool(true),
		AutoHideEmpty:           ptrBool(true),
		EmptyShelfTimeout:       ptrString("3s"),
		SessionHideTimeout:      ptrString("1s"),
		CleanupClearDelay:       ptrString("100ms"),
		CleanupSweepDelay:       ptrString("500ms"),
		RescheduleWarnThreshold: ptrInt(20),
		MinDirectionChanges:     ptrInt(2),
		TimeWindow:              ptrString("700ms"),
		MinDistancePx:           ptrFloat64(8),
		Debounce:                ptrString("350ms"),
		ReversalDot:             ptrFloat64(0.3),
		IntensityRefVelocity:    ptrFloat64(3000),
		BatchMaxSamples:         ptrInt(10),
		BatchInterval:           ptrString("33ms"),
		DedupePx:                ptrFloat64(1),
		ShelfOffsetX:            ptrFloat64(150),
		ShelfOffsetY:            ptrFloat64(100),
	}
}

// ErrInvalidSettings wraps every validation failure.
var ErrInvalidSettings = errors.New("invalid settings")

// LoadSettings loads Settings from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
func LoadSettings(path string) (*Settings, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("settings file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat settings file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("settings file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}
	return ParseSettings(data)
}

// WriteSettings writes s to path as indented JSON, replacing the file
// atomically so a watcher never sees a partial write.
func WriteSettings(path string, s *Settings) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".settings-*.json")
	if err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ParseSettings decodes and validates a JSON settings document.
func ParseSettings(data []byte) (*Settings, error) {
	s := &Settings{}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse settings JSON: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	return s, nil
}

// Clone returns a deep copy.
func (s *Settings) Clone() *Settings {
	out := &Settings{}
	if s == nil {
		return out
	}
	data, err := json.Marshal(s)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(data, out)
	return out
}

// Merge returns a copy of s with every non-nil field of patch applied.
func (s *Settings) Merge(patch *Settings) *Settings {
	out := s.Clone()
	if patch == nil {
		return out
	}
	data, err := json.Marshal(patch)
	if err != nil {
		return out
	}
	// omitempty drops nil fields, so unmarshalling onto the copy only
	// overwrites what the patch sets.
	_ = json.Unmarshal(data, out)
	return out
}

// Validate checks that the configured values are usable.
func (s *Settings) Validate() error {
	durations := map[string]*string{
		"empty_shelf_timeout":  s.EmptyShelfTimeout,
		"session_hide_timeout": s.SessionHideTimeout,
		"cleanup_clear_delay":  s.CleanupClearDelay,
		"cleanup_sweep_delay":  s.CleanupSweepDelay,
		"time_window":          s.TimeWindow,
		"debounce":             s.Debounce,
		"batch_interval":       s.BatchInterval,
	}
	for name, v := range durations {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, *v)
		}
		if d == 0 && name == "batch_interval" {
			return fmt.Errorf("batch_interval must be positive, got %s", *v)
		}
	}
	// A shelf left empty by a finished drag hides sooner than an idle one.
	if s.SessionHideTimeout != nil && s.EmptyShelfTimeout != nil &&
		s.GetSessionHideTimeout() >= s.GetEmptyShelfTimeout() {
		return fmt.Errorf("session_hide_timeout (%s) must be shorter than empty_shelf_timeout (%s)",
			*s.SessionHideTimeout, *s.EmptyShelfTimeout)
	}

	if s.MinDirectionChanges != nil && *s.MinDirectionChanges < 1 {
		return fmt.Errorf("min_direction_changes must be at least 1, got %d", *s.MinDirectionChanges)
	}
	if s.MinDistancePx != nil && *s.MinDistancePx < 0 {
		return fmt.Errorf("min_distance_px must be non-negative, got %f", *s.MinDistancePx)
	}
	if s.ReversalDot != nil && (*s.ReversalDot < -1 || *s.ReversalDot > 1) {
		return fmt.Errorf("reversal_dot must be between -1 and 1, got %f", *s.ReversalDot)
	}
	if s.IntensityRefVelocity != nil && *s.IntensityRefVelocity <= 0 {
		return fmt.Errorf("intensity_ref_velocity must be positive, got %f", *s.IntensityRefVelocity)
	}
	if s.BatchMaxSamples != nil && *s.BatchMaxSamples < 1 {
		return fmt.Errorf("batch_max_samples must be at least 1, got %d", *s.BatchMaxSamples)
	}
	if s.DedupePx != nil && *s.DedupePx < 0 {
		return fmt.Errorf("dedupe_px must be non-negative, got %f", *s.DedupePx)
	}
	if s.RescheduleWarnThreshold != nil && *s.RescheduleWarnThreshold < 1 {
		return fmt.Errorf("reschedule_warn_threshold must be at least 1, got %d", *s.RescheduleWarnThreshold)
	}
	return nil
}

func parseDurationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetDragShakeEnabled reports whether shake gestures may create shelves.
func (s *Settings) GetDragShakeEnabled() bool {
	if s.DragShakeEnabled == nil {
		return true
	}
	return *s.DragShakeEnabled
}

// GetAutoHideEmpty reports whether empty shelves are hidden automatically.
func (s *Settings) GetAutoHideEmpty() bool {
	if s.AutoHideEmpty == nil {
		return true
	}
	return *s.AutoHideEmpty
}

func (s *Settings) GetEmptyShelfTimeout() time.Duration {
	return parseDurationOr(s.EmptyShelfTimeout, 3*time.Second)
}

// GetSessionHideTimeout is the shorter timeout used when a drag ends and its
// shelf never received a drop.
func (s *Settings) GetSessionHideTimeout() time.Duration {
	return parseDurationOr(s.SessionHideTimeout, time.Second)
}

func (s *Settings) GetCleanupClearDelay() time.Duration {
	return parseDurationOr(s.CleanupClearDelay, 100*time.Millisecond)
}

func (s *Settings) GetCleanupSweepDelay() time.Duration {
	return parseDurationOr(s.CleanupSweepDelay, 500*time.Millisecond)
}

func (s *Settings) GetRescheduleWarnThreshold() int {
	if s.RescheduleWarnThreshold == nil {
		return 20
	}
	return *s.RescheduleWarnThreshold
}

func (s *Settings) GetMinDirectionChanges() int {
	if s.MinDirectionChanges == nil {
		return 2
	}
	return *s.MinDirectionChanges
}

func (s *Settings) GetTimeWindow() time.Duration {
	return parseDurationOr(s.TimeWindow, 700*time.Millisecond)
}

func (s *Settings) GetMinDistancePx() float64 {
	if s.MinDistancePx == nil {
		return 8
	}
	return *s.MinDistancePx
}

func (s *Settings) GetDebounce() time.Duration {
	return parseDurationOr(s.Debounce, 350*time.Millisecond)
}

func (s *Settings) GetReversalDot() float64 {
	if s.ReversalDot == nil {
		return 0.3
	}
	return *s.ReversalDot
}

func (s *Settings) GetIntensityRefVelocity() float64 {
	if s.IntensityRefVelocity == nil {
		return 3000
	}
	return *s.IntensityRefVelocity
}

func (s *Settings) GetBatchMaxSamples() int {
	if s.BatchMaxSamples == nil {
		return 10
	}
	return *s.BatchMaxSamples
}

func (s *Settings) GetBatchInterval() time.Duration {
	if d := parseDurationOr(s.BatchInterval, 33*time.Millisecond); d > 0 {
		return d
	}
	return 33 * time.Millisecond
}

func (s *Settings) GetDedupePx() float64 {
	if s.DedupePx == nil {
		return 1
	}
	return *s.DedupePx
}

// GetShelfOffset returns how far up and left of the cursor a new shelf opens.
func (s *Settings) GetShelfOffset() (x, y float64) {
	x, y = 150, 100
	if s.ShelfOffsetX != nil {
		x = *s.ShelfOffsetX
	}
	if s.ShelfOffsetY != nil {
		y = *s.ShelfOffsetY
	}
	return x, y
}
