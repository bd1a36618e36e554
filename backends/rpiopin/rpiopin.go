// Package rpiopin waits on Raspberry Pi GPIO pins through the BCM283x
// edge-detect registers (via github.com/stianeikeland/go-rpio/v4).
//
// The SoC latches a detected edge in the event-status register; the poll
// backend checks that latch every interval, so pulses shorter than the
// interval are not missed. Call Open before use and Close when done.
package rpiopin

import (
	"sync"

	"github.com/stianeikeland/go-rpio/v4"

	"digitalwait-go/backends/poll"
	"digitalwait-go/digital"
)

// Open maps the GPIO registers.
func Open() error { return rpio.Open() }

// Close unmaps the GPIO registers.
func Close() error { return rpio.Close() }

// hwPin is the subset of rpio.Pin used here.
type hwPin interface {
	Read() rpio.State
	Detect(edge rpio.Edge)
	EdgeDetected() bool
}

// Pin is one BCM GPIO configured as input.
type Pin struct {
	mu sync.Mutex
	p  hwPin
}

// compile-time checks
var (
	_ poll.Reader = (*Pin)(nil)
	_ poll.Latch  = (*Pin)(nil)
	_ hwPin       = rpio.Pin(0)
)

// New configures BCM pin n as an input.
func New(n uint8) *Pin {
	p := rpio.Pin(n)
	p.Input()
	return &Pin{p: p}
}

// Line returns a waitable handle for BCM pin n.
func Line(name string, n uint8, cfg poll.Config, opts ...digital.Option) *digital.Line {
	return poll.Line(name, New(n), cfg, opts...)
}

func (p *Pin) Read() (digital.Level, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return digital.Level(p.p.Read() == rpio.High), nil
}

func (p *Pin) Detect(e digital.Edge) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.p.Detect(toRpio(e))
	return nil
}

func (p *Pin) EdgeDetected() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.p.EdgeDetected(), nil
}

func toRpio(e digital.Edge) rpio.Edge {
	switch e {
	case digital.EdgeRising:
		return rpio.RiseEdge
	case digital.EdgeFalling:
		return rpio.FallEdge
	case digital.EdgeBoth:
		return rpio.AnyEdge
	default:
		return rpio.NoEdge
	}
}
