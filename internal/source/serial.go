package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.bug.st/serial"

	"github.com/banshee-data/shelfd/internal/monitoring"
)

// Port is the minimal serial port surface the source needs.
type Port interface {
	io.ReadWriter
	io.Closer
}

// PortOpener opens a port. Tests replace it to avoid real hardware.
type PortOpener func(path string, mode *serial.Mode) (Port, error)

// OpenSerialPort opens a real device with go.bug.st/serial.
func OpenSerialPort(path string, mode *serial.Mode) (Port, error) {
	return serial.Open(path, mode)
}

// PortOptions describes the serial connection to a pointer bridge device.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Normalize validates the options and applies defaults for any unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o
	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}
	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}
	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}
	switch p := strings.TrimSpace(strings.ToUpper(opts.Parity)); p {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}
	return opts, nil
}

// SerialMode converts the options for go.bug.st/serial.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	return mode, nil
}

// SerialSource reads the line protocol from a serial pointer bridge.
type SerialSource struct {
	Path        string
	Options     PortOptions
	Open        PortOpener // nil uses OpenSerialPort
	InferDrags  bool       // derive drag start/end from button state
	Heuristic   HeuristicConfig
	mu          sync.Mutex
	port        Port
	cancel      context.CancelFunc
	done        chan struct{}
	lines       uint64
	parseErrors uint64
}

// NewSerialSource creates a source for the device at path.
func NewSerialSource(path string, opts PortOptions) *SerialSource {
	return &SerialSource{Path: path, Options: opts}
}

func (s *SerialSource) Name() string { return "serial:" + s.Path }

// Start opens the port. Failing to open is fatal and wraps
// ErrSourceUnavailable.
func (s *SerialSource) Start(ctx context.Context, sink Sink) error {
	mode, err := s.Options.SerialMode()
	if err != nil {
		return Unavailable(s.Name(), CodeInvalidArgument, err)
	}
	open := s.Open
	if open == nil {
		open = OpenSerialPort
	}
	port, err := open(s.Path, mode)
	if err != nil {
		code := CodeHookCreateFailed
		if errors.Is(err, os.ErrPermission) {
			code = CodePermissionDenied
		}
		return Unavailable(s.Name(), code, err)
	}

	if s.InferDrags {
		sink = NewDragHeuristic(sink, s.Heuristic)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.port = port
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.readLoop(runCtx, port, sink)
	}()
	monitoring.Logf("[source] reading pointer events from %s", s.Path)
	return nil
}

func (s *SerialSource) readLoop(ctx context.Context, port Port, sink Sink) {
	scan := bufio.NewScanner(port)
	for scan.Scan() {
		if ctx.Err() != nil {
			return
		}
		s.mu.Lock()
		s.lines++
		s.mu.Unlock()

		msg, err := ParseLine(scan.Text())
		if errors.Is(err, ErrSkipLine) {
			continue
		}
		if err != nil {
			s.mu.Lock()
			s.parseErrors++
			s.mu.Unlock()
			monitoring.Debugf("[source] %s: %v", s.Path, err)
			continue
		}
		Deliver(msg, sink, s.Name())
	}
	if err := scan.Err(); err != nil && ctx.Err() == nil {
		sink.OnError(&Error{Code: CodeCallbackInvokeFailed, Source: s.Name(), Detail: "read failed", Err: err})
	}
}

// Stop closes the port, which unblocks the reader, and waits for it.
func (s *SerialSource) Stop() error {
	s.mu.Lock()
	port, cancel, done := s.port, s.cancel, s.done
	s.port, s.cancel = nil, nil
	s.mu.Unlock()

	if port == nil {
		return nil
	}
	cancel()
	err := port.Close()
	<-done
	if err != nil {
		return &Error{Code: CodeTrackerStopFailed, Source: s.Name(), Err: err}
	}
	return nil
}

// Counters returns lines read and lines that failed to parse.
func (s *SerialSource) Counters() (lines, parseErrors uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lines, s.parseErrors
}
