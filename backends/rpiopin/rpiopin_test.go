package rpiopin

import (
	"sync"
	"testing"
	"time"

	"github.com/stianeikeland/go-rpio/v4"

	"digitalwait-go/backends/poll"
	"digitalwait-go/digital"
	"digitalwait-go/digital/digitaltest"
)

// fakeRegs mimics the level and event-detect-status registers of one pin.
type fakeRegs struct {
	mu     sync.Mutex
	state  rpio.State
	edge   rpio.Edge
	status bool
}

func (f *fakeRegs) Read() rpio.State { f.mu.Lock(); defer f.mu.Unlock(); return f.state }

func (f *fakeRegs) Detect(e rpio.Edge) {
	f.mu.Lock()
	f.edge, f.status = e, false
	f.mu.Unlock()
}

func (f *fakeRegs) EdgeDetected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.status
	f.status = false
	return s
}

func (f *fakeRegs) set(l digital.Level) {
	f.mu.Lock()
	defer f.mu.Unlock()
	next := rpio.Low
	if l {
		next = rpio.High
	}
	if next == f.state {
		return
	}
	switch {
	case f.edge == rpio.AnyEdge,
		f.edge == rpio.RiseEdge && next == rpio.High,
		f.edge == rpio.FallEdge && next == rpio.Low:
		f.status = true
	}
	f.state = next
}

func TestConformance(t *testing.T) {
	digitaltest.Run(t, func(t *testing.T, initial digital.Level) *digitaltest.Harness {
		regs := &fakeRegs{}
		if initial {
			regs.state = rpio.High
		}
		line := poll.Line("rpio", &Pin{p: regs}, poll.Config{Interval: time.Millisecond})
		return &digitaltest.Harness{
			Line:   line,
			Set:    regs.set,
			Settle: func() { time.Sleep(10 * time.Millisecond) },
			Pulses: true,
		}
	})
}

func TestEdgeMapping(t *testing.T) {
	for in, want := range map[digital.Edge]rpio.Edge{
		digital.EdgeRising:  rpio.RiseEdge,
		digital.EdgeFalling: rpio.FallEdge,
		digital.EdgeBoth:    rpio.AnyEdge,
		digital.EdgeNone:    rpio.NoEdge,
	} {
		if got := toRpio(in); got != want {
			t.Errorf("%s: got %v want %v", in, got, want)
		}
	}
}
