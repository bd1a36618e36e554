//go:build linux

// Package cdev drives digital waits from Linux GPIO character-device line
// events (via github.com/warthog618/gpiod).
//
// The line is requested once, as an input with both-edge detection, and kept
// for the life of the Backend. Arming only installs a notification slot;
// kernel edge events are dispatched to the slot if the direction qualifies.
// The kernel timestamps and queues events, so a pulse shorter than the
// scheduling latency is still reported. Events are delivered asynchronously;
// one stamped before the current arm belongs to an earlier wait and is
// dropped.
package cdev

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warthog618/gpiod"
	"golang.org/x/sys/unix"

	"digitalwait-go/digital"
	"digitalwait-go/errcode"
)

// Error reports a failed character-device operation.
type Error struct {
	Op     string
	Chip   string
	Offset int
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("cdev: %s %s:%d: %v", e.Op, e.Chip, e.Offset, e.Err)
}
func (e *Error) Unwrap() error { return e.Err }
func (e *Error) Code() errcode.Code {
	if e.Op == "request" {
		return errcode.PinInUse
	}
	return errcode.ReadFault
}

// Option configures Open.
type Option func(*options)

type options struct {
	consumer  string
	activeLow bool
	log       logrus.FieldLogger
}

// WithConsumer sets the consumer label shown by gpioinfo. Default "digitalwait".
func WithConsumer(name string) Option { return func(o *options) { o.consumer = name } }

// AsActiveLow inverts the logical level and the edge directions.
func AsActiveLow() Option { return func(o *options) { o.activeLow = true } }

// WithLogger sets the logger. The default discards everything.
func WithLogger(log logrus.FieldLogger) Option { return func(o *options) { o.log = log } }

// valuer is the subset of *gpiod.Line the backend needs.
type valuer interface {
	Value() (int, error)
	Close() error
}

type slot struct {
	edge   digital.Edge
	notify digital.Notify
	since  time.Duration // event clock at arm
}

// Backend is one requested line.
type Backend struct {
	chip   string
	offset int
	line   valuer
	log    logrus.FieldLogger
	now    func() time.Duration // same clock as LineEvent.Timestamp

	mu    sync.Mutex
	armed *slot
}

// compile-time checks
var (
	_ digital.Backend = (*Backend)(nil)
	_ io.Closer       = (*Backend)(nil)
)

// Open requests offset on chip (e.g. "gpiochip0") as an edge-detecting input.
func Open(chip string, offset int, opts ...Option) (*Backend, error) {
	o := options{consumer: "digitalwait"}
	for _, opt := range opts {
		opt(&o)
	}
	b := newBackend(chip, offset, o.log)

	ropts := []gpiod.LineReqOption{
		gpiod.AsInput,
		gpiod.WithBothEdges,
		gpiod.WithMonotonicEventClock,
		gpiod.WithConsumer(o.consumer),
		gpiod.WithEventHandler(b.handle),
	}
	if o.activeLow {
		ropts = append(ropts, gpiod.AsActiveLow)
	}
	l, err := gpiod.RequestLine(chip, offset, ropts...)
	if err != nil {
		return nil, &Error{Op: "request", Chip: chip, Offset: offset, Err: err}
	}
	b.line = l
	b.log.Debug("line requested")
	return b, nil
}

// OpenLine opens the line and wraps it as a digital.Line. Closing the
// digital.Line releases the kernel line.
func OpenLine(name, chip string, offset int, lopts []digital.Option, opts ...Option) (*digital.Line, error) {
	b, err := Open(chip, offset, opts...)
	if err != nil {
		return nil, err
	}
	return digital.NewLine(name, b, lopts...), nil
}

// Chips lists the GPIO chips present on the system.
func Chips() []string { return gpiod.Chips() }

func newBackend(chip string, offset int, log logrus.FieldLogger) *Backend {
	if log == nil {
		lg := logrus.New()
		lg.SetOutput(io.Discard)
		log = lg
	}
	return &Backend{
		chip:   chip,
		offset: offset,
		log:    log.WithFields(logrus.Fields{"chip": chip, "offset": offset}),
		now:    monotonicNow,
	}
}

// monotonicNow reads CLOCK_MONOTONIC, the clock gpiod requests for event
// timestamps.
func monotonicNow() time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return time.Duration(ts.Nano())
}

func (b *Backend) Read() (digital.Level, error) {
	v, err := b.line.Value()
	if err != nil {
		return digital.Low, &Error{Op: "read", Chip: b.chip, Offset: b.offset, Err: err}
	}
	return digital.Level(v != 0), nil
}

func (b *Backend) Arm(edge digital.Edge, notify digital.Notify) (func() error, error) {
	s := &slot{edge: edge, notify: notify, since: b.now()}
	b.mu.Lock()
	b.armed = s
	b.mu.Unlock()
	return func() error {
		b.mu.Lock()
		if b.armed == s {
			b.armed = nil
		}
		b.mu.Unlock()
		return nil
	}, nil
}

// handle runs on gpiod's event goroutine.
func (b *Backend) handle(evt gpiod.LineEvent) {
	var got digital.Edge
	switch evt.Type {
	case gpiod.LineEventRisingEdge:
		got = digital.EdgeRising
	case gpiod.LineEventFallingEdge:
		got = digital.EdgeFalling
	default:
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.armed
	switch {
	case s == nil, !s.edge.Accepts(got):
	case evt.Timestamp < s.since:
		b.log.WithField("edge", got.String()).Debug("dropped event from before arm")
	default:
		s.notify(nil)
	}
}

// Close releases the line.
func (b *Backend) Close() error {
	b.mu.Lock()
	b.armed = nil
	b.mu.Unlock()
	if b.line == nil {
		return nil
	}
	if err := b.line.Close(); err != nil {
		return &Error{Op: "close", Chip: b.chip, Offset: b.offset, Err: err}
	}
	return nil
}
