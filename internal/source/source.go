// Package source provides native pointer/drag event sources. A source calls
// a Sink from its own goroutine; the sink (the bridge) is responsible for
// marshalling into the consumer loop.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/banshee-data/shelfd/internal/pointer"
)

// Sink receives native callbacks. Every method may be called from a
// goroutine the consumer does not own and must not block.
type Sink interface {
	OnPosition(s pointer.Sample)
	OnDragStart(items []pointer.Item)
	OnDragging(items []pointer.Item)
	OnDragEnd()
	OnError(err error)
}

// Source is a producer of native events.
type Source interface {
	Name() string
	// Start verifies the source can run and begins delivering to sink.
	// Errors wrapping ErrSourceUnavailable are fatal to the subsystem.
	Start(ctx context.Context, sink Sink) error
	// Stop halts delivery. No callbacks are made after it returns.
	Stop() error
}

// ErrSourceUnavailable means the native source could not initialise (for
// example missing input-monitoring permission). The gesture subsystem must
// not run without it.
var ErrSourceUnavailable = errors.New("native event source unavailable")

// Code classifies native failures. Values follow the native layer's codes.
type Code int

const (
	CodeOK                   Code = 0
	CodeUnknown              Code = 1
	CodeInvalidArgument      Code = 2
	CodeNotInitialized       Code = 3
	CodePermissionDenied     Code = 100
	CodeHookCreateFailed     Code = 200
	CodeThreadCreateFailed   Code = 202
	CodeTrackerStartFailed   Code = 300
	CodeTrackerStopFailed    Code = 301
	CodeDragMonitorStartFail Code = 310
	CodeCallbackNotSet       Code = 400
	CodeCallbackInvokeFailed Code = 401
)

var codeNames = map[Code]string{
	CodeOK:                   "ok",
	CodeUnknown:              "unknown error",
	CodeInvalidArgument:      "invalid argument",
	CodeNotInitialized:       "not initialized",
	CodePermissionDenied:     "input monitoring permission denied",
	CodeHookCreateFailed:     "failed to create event hook",
	CodeThreadCreateFailed:   "failed to create hook thread",
	CodeTrackerStartFailed:   "failed to start mouse tracker",
	CodeTrackerStopFailed:    "failed to stop mouse tracker",
	CodeDragMonitorStartFail: "failed to start drag monitor",
	CodeCallbackNotSet:       "callback not set",
	CodeCallbackInvokeFailed: "failed to invoke callback",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("code %d", int(c))
}

// Fatal reports whether the code prevents the source from running at all.
func (c Code) Fatal() bool {
	switch c {
	case CodePermissionDenied, CodeHookCreateFailed, CodeThreadCreateFailed,
		CodeTrackerStartFailed, CodeDragMonitorStartFail, CodeNotInitialized:
		return true
	}
	return false
}

// Error is a coded native failure.
type Error struct {
	Code   Code
	Source string
	Detail string
	Err    error

	unavailable bool
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s (%d)", e.Source, e.Code, int(e.Code))
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrSourceUnavailable) match fatal coded errors.
func (e *Error) Is(target error) bool {
	return target == ErrSourceUnavailable && (e.unavailable || e.Code.Fatal())
}

// Unavailable builds a coded error that always matches ErrSourceUnavailable.
func Unavailable(source string, code Code, err error) error {
	return &Error{Code: code, Source: source, Err: err, unavailable: true}
}
