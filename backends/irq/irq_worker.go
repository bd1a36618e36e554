// Package irq drives digital waits from pin-change interrupts.
//
// Interrupt handlers only flag the armed watch and poke the worker without
// blocking; the worker goroutine resolves waits. A poke that finds the queue
// full is counted but the flag survives, so an edge is never lost.
package irq

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"digitalwait-go/digital"
	"digitalwait-go/errcode"
)

// Pin is an input that can raise an interrupt on a configured edge.
type Pin interface {
	Get() bool
	SetIRQ(edge digital.Edge, handler func()) error
	ClearIRQ() error
	Number() int
}

// Error is returned when the interrupt controller refuses a request.
type Error struct {
	Op  string
	Pin int
	Err error
}

func (e *Error) Error() string      { return fmt.Sprintf("irq: %s pin %d: %v", e.Op, e.Pin, e.Err) }
func (e *Error) Unwrap() error      { return e.Err }
func (e *Error) Code() errcode.Code { return errcode.IRQFault }

// Config for a Worker. All fields are optional.
type Config struct {
	// QueueSize bounds pending ISR pokes. Default 64.
	QueueSize int
	// Logger defaults to a discarding logger.
	Logger logrus.FieldLogger
}

type Worker struct {
	// Written by ISR; MUST NOT block the ISR:
	isrQ    chan struct{}
	stopped chan struct{}

	mu      sync.RWMutex
	watches map[uint64]*watch
	next    uint64

	coalesced uint32 // pokes that found the queue full
	log       logrus.FieldLogger
}

type watch struct {
	id      uint64
	pending uint32 // set by ISR, cleared by worker
	notify  digital.Notify
}

func New(cfg Config) *Worker {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Logger == nil {
		lg := logrus.New()
		lg.SetOutput(io.Discard)
		cfg.Logger = lg
	}
	return &Worker{
		isrQ:    make(chan struct{}, cfg.QueueSize),
		stopped: make(chan struct{}),
		watches: map[uint64]*watch{},
		log:     cfg.Logger.WithField("component", "irq"),
	}
}

// Start runs the worker until ctx is done. Waits armed through this worker
// only resolve while it runs.
func (w *Worker) Start(ctx context.Context) {
	go func() {
		defer close(w.stopped)
		w.log.Debug("worker started")
		for {
			select {
			case <-ctx.Done():
				w.log.Debug("worker stopped")
				return
			case <-w.isrQ:
				w.sweep()
			}
		}
	}()
}

// Stopped is closed once the worker goroutine has exited.
func (w *Worker) Stopped() <-chan struct{} { return w.stopped }

// Coalesced returns how many ISR pokes were folded into an earlier one.
func (w *Worker) Coalesced() uint32 { return atomic.LoadUint32(&w.coalesced) }

// Line returns a pin handle for pin. With invert set the logical level is
// the inverse of the pin level, and rising and falling swap accordingly.
func (w *Worker) Line(name string, pin Pin, invert bool, opts ...digital.Option) *digital.Line {
	return digital.NewLine(name, w.Backend(pin, invert), opts...)
}

// Backend returns the digital.Backend for pin without wrapping it in a Line.
func (w *Worker) Backend(pin Pin, invert bool) digital.Backend {
	return &backend{w: w, pin: pin, invert: invert}
}

func (w *Worker) add(notify digital.Notify) *watch {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.next++
	wh := &watch{id: w.next, notify: notify}
	w.watches[wh.id] = wh
	return wh
}

func (w *Worker) remove(wh *watch) {
	w.mu.Lock()
	delete(w.watches, wh.id)
	w.mu.Unlock()
}

// isr is the interrupt-context half: flag plus non-blocking poke.
func (w *Worker) isr(wh *watch) {
	atomic.StoreUint32(&wh.pending, 1)
	select {
	case w.isrQ <- struct{}{}:
	default:
		atomic.AddUint32(&w.coalesced, 1) // protect ISR path
	}
}

// sweep notifies every flagged watch. The read lock is held across notify so
// that remove, and therefore disarm, waits for an in-flight notification.
func (w *Worker) sweep() {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, wh := range w.watches {
		if atomic.CompareAndSwapUint32(&wh.pending, 1, 0) {
			wh.notify(nil)
		}
	}
}

type backend struct {
	w      *Worker
	pin    Pin
	invert bool
}

func (b *backend) Read() (digital.Level, error) {
	return digital.Level(b.pin.Get() != b.invert), nil
}

func (b *backend) Arm(edge digital.Edge, notify digital.Notify) (func() error, error) {
	hw := edge
	if b.invert {
		switch edge {
		case digital.EdgeRising:
			hw = digital.EdgeFalling
		case digital.EdgeFalling:
			hw = digital.EdgeRising
		}
	}
	wh := b.w.add(notify)
	if err := b.pin.SetIRQ(hw, func() { b.w.isr(wh) }); err != nil {
		b.w.remove(wh)
		return nil, &Error{Op: "set_irq", Pin: b.pin.Number(), Err: err}
	}
	b.w.log.WithFields(logrus.Fields{"pin": b.pin.Number(), "edge": hw.String()}).Debug("irq armed")
	return func() error {
		err := b.pin.ClearIRQ()
		b.w.remove(wh)
		if err != nil {
			return &Error{Op: "clear_irq", Pin: b.pin.Number(), Err: err}
		}
		return nil
	}, nil
}
