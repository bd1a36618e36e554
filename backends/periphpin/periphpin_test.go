package periphpin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"digitalwait-go/digital"
	"digitalwait-go/digital/digitaltest"
	"digitalwait-go/errcode"
)

// fakePin overrides the input half of gpiotest.Pin with a driver that, like
// the kernel, only latches edges matching the configured direction.
type fakePin struct {
	gpiotest.Pin

	mu    sync.Mutex
	level gpio.Level
	edge  gpio.Edge
	ins   []gpio.Edge
	inErr error
	edges chan struct{}
}

var _ gpio.PinIn = (*fakePin)(nil)

func newFakePin(l gpio.Level) *fakePin {
	return &fakePin{Pin: gpiotest.Pin{N: "GPIO4", Num: 4}, level: l, edges: make(chan struct{}, 1)}
}

func (p *fakePin) In(_ gpio.Pull, edge gpio.Edge) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inErr != nil {
		return p.inErr
	}
	p.edge = edge
	p.ins = append(p.ins, edge)
	select {
	case <-p.edges:
	default:
	}
	return nil
}

func (p *fakePin) Read() gpio.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

func (p *fakePin) WaitForEdge(timeout time.Duration) bool {
	select {
	case <-p.edges:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (p *fakePin) set(l digital.Level) {
	p.mu.Lock()
	prev := p.level
	p.level = gpio.Level(l)
	e := p.edge
	p.mu.Unlock()
	hit := prev != gpio.Level(l) &&
		(e == gpio.BothEdges || (e == gpio.RisingEdge && bool(l)) || (e == gpio.FallingEdge && !bool(l)))
	if hit {
		select {
		case p.edges <- struct{}{}:
		default:
		}
	}
}

func TestConformance(t *testing.T) {
	digitaltest.Run(t, func(t *testing.T, initial digital.Level) *digitaltest.Harness {
		p := newFakePin(gpio.Level(initial))
		return &digitaltest.Harness{
			Line:   Line("periph", p, Config{Slice: 5 * time.Millisecond}),
			Set:    p.set,
			Pulses: true,
		}
	})
}

func TestDisarmDisablesEdgeDetection(t *testing.T) {
	p := newFakePin(gpio.Low)
	line := Line("x", p, Config{Slice: time.Millisecond})
	w, _ := line.Begin(digital.CondFallingEdge)
	w.Abandon()

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.ins) != 2 || p.ins[0] != gpio.FallingEdge || p.ins[1] != gpio.NoEdge {
		t.Fatalf("unexpected In sequence %v", p.ins)
	}
}

func TestInFailure(t *testing.T) {
	p := newFakePin(gpio.Low)
	p.inErr = errors.New("edge detection unsupported")
	err := Line("x", p, Config{}).WaitForAnyEdge(context.Background())
	var pe *Error
	if !errors.As(err, &pe) || pe.Pin != "GPIO4" {
		t.Fatalf("expected *Error, got %v", err)
	}
	if errcode.Of(err) != errcode.IRQFault {
		t.Fatalf("expected irq_fault, got %q", errcode.Of(err))
	}
}
