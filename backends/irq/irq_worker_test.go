// backends/irq/irq_worker_test.go

package irq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"digitalwait-go/digital"
	"digitalwait-go/digital/digitaltest"
	"digitalwait-go/errcode"
)

// fakeIRQPin implements Pin and only calls the handler for the configured edge.
type fakeIRQPin struct {
	mu       sync.Mutex
	level    bool
	edge     digital.Edge
	handler  func()
	number   int
	setErr   error
	clearErr error
}

func (p *fakeIRQPin) Get() bool   { p.mu.Lock(); defer p.mu.Unlock(); return p.level }
func (p *fakeIRQPin) Number() int { return p.number }
func (p *fakeIRQPin) SetIRQ(e digital.Edge, h func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.setErr != nil {
		return p.setErr
	}
	p.edge, p.handler = e, h
	return nil
}
func (p *fakeIRQPin) ClearIRQ() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.edge, p.handler = digital.EdgeNone, nil
	return p.clearErr
}

// fire sets the pin level and runs the handler as the interrupt controller would.
func (p *fakeIRQPin) fire(level bool) {
	p.mu.Lock()
	prev := p.level
	p.level = level
	h, e := p.handler, p.edge
	p.mu.Unlock()
	if h != nil && e.Matches(digital.Level(prev), digital.Level(level)) {
		h()
	}
}

func (p *fakeIRQPin) armed() bool { p.mu.Lock(); defer p.mu.Unlock(); return p.handler != nil }

var _ Pin = (*fakeIRQPin)(nil)

func TestConformance(t *testing.T) {
	digitaltest.Run(t, func(t *testing.T, initial digital.Level) *digitaltest.Harness {
		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)
		w := New(Config{QueueSize: 8})
		w.Start(ctx)
		pin := &fakeIRQPin{number: 5, level: bool(initial)}
		return &digitaltest.Harness{
			Line:   w.Line("irq", pin, false),
			Set:    func(l digital.Level) { pin.fire(bool(l)) },
			Pulses: true,
		}
	})
}

func TestConformanceInverted(t *testing.T) {
	digitaltest.Run(t, func(t *testing.T, initial digital.Level) *digitaltest.Harness {
		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)
		w := New(Config{})
		w.Start(ctx)
		pin := &fakeIRQPin{number: 7, level: !bool(initial)}
		return &digitaltest.Harness{
			Line:   w.Line("irq-inv", pin, true),
			Set:    func(l digital.Level) { pin.fire(!bool(l)) },
			Pulses: true,
		}
	})
}

func TestInvertArmsOppositeEdge(t *testing.T) {
	w := New(Config{})
	pin := &fakeIRQPin{number: 7}
	line := w.Line("x", pin, true)

	wt, err := line.Begin(digital.CondRisingEdge)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	defer wt.Abandon()
	if pin.edge != digital.EdgeFalling {
		t.Fatalf("logical rising on inverted pin should arm falling, got %s", pin.edge)
	}
	if lvl, _ := w.Backend(pin, true).Read(); lvl != digital.High {
		t.Fatal("physical low should read logical high when inverted")
	}
}

func TestSetIRQFailure(t *testing.T) {
	w := New(Config{})
	boom := errors.New("no free channel")
	pin := &fakeIRQPin{number: 3, setErr: boom}
	line := w.Line("x", pin, false)

	err := line.WaitForRisingEdge(context.Background())
	var ie *Error
	if !errors.As(err, &ie) || ie.Op != "set_irq" || ie.Pin != 3 {
		t.Fatalf("expected *Error for set_irq, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatal("cause not preserved")
	}
	if errcode.Of(err) != errcode.IRQFault {
		t.Fatalf("expected irq_fault code, got %q", errcode.Of(err))
	}
	if line.Busy() {
		t.Fatal("line busy after failed arm")
	}
}

func TestDisarmClearsIRQ(t *testing.T) {
	w := New(Config{})
	pin := &fakeIRQPin{number: 1}
	line := w.Line("x", pin, false)

	wt, _ := line.Begin(digital.CondAnyEdge)
	if !pin.armed() {
		t.Fatal("expected IRQ handler installed")
	}
	wt.Abandon()
	if pin.armed() {
		t.Fatal("abandon must clear the IRQ")
	}
}

func TestQueueFullNeverLosesEdge(t *testing.T) {
	// Intentionally do not Start the worker yet so pokes pile up.
	w := New(Config{QueueSize: 1})
	pinA := &fakeIRQPin{number: 1}
	pinB := &fakeIRQPin{number: 2}
	a, _ := w.Line("a", pinA, false).Begin(digital.CondRisingEdge)
	b, _ := w.Line("b", pinB, false).Begin(digital.CondRisingEdge)

	pinA.fire(true) // fills the queue
	pinB.fire(true) // finds it full
	if w.Coalesced() == 0 {
		t.Fatal("expected a coalesced poke")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	for _, wt := range []*digital.Wait{a, b} {
		select {
		case <-wt.Done():
		case <-time.After(time.Second):
			t.Fatalf("edge lost while queue was full (state %s)", wt.State())
		}
	}
}

func TestStopEndsWorker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := New(Config{})
	w.Start(ctx)
	cancel()
	select {
	case <-w.Stopped():
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
