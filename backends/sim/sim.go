// Package sim is a simulated digital line for tests and host-side
// development. Level changes notify armed waits synchronously, in the
// goroutine that makes the change, the way an interrupt would preempt it.
package sim

import (
	"sync"

	"digitalwait-go/digital"
	"digitalwait-go/errcode"
)

// ErrFault is a ready-made failure for Fail and SetReadError.
var ErrFault error = &errcode.E{C: errcode.ReadFault, Op: "sim", Msg: "injected fault"}

type arm struct {
	edge   digital.Edge
	notify digital.Notify
}

// Pin is a simulated line. The zero value is a low pin.
type Pin struct {
	mu      sync.Mutex
	level   digital.Level
	readErr error
	armErr  error
	arms    map[uint64]arm
	next    uint64
	edges   uint32
}

// compile-time check for whether Pin satisfies the Backend interface
var _ digital.Backend = (*Pin)(nil)

// New returns a pin at the given level.
func New(initial digital.Level) *Pin { return &Pin{level: initial} }

// Line wraps a new pin as a digital.Line.
func Line(name string, initial digital.Level, opts ...digital.Option) (*digital.Line, *Pin) {
	p := New(initial)
	return digital.NewLine(name, p, opts...), p
}

func (p *Pin) Read() (digital.Level, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.readErr != nil {
		return digital.Low, p.readErr
	}
	return p.level, nil
}

func (p *Pin) Arm(edge digital.Edge, notify digital.Notify) (func() error, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.armErr != nil {
		return nil, p.armErr
	}
	if p.arms == nil {
		p.arms = map[uint64]arm{}
	}
	p.next++
	id := p.next
	p.arms[id] = arm{edge: edge, notify: notify}
	return func() error {
		p.mu.Lock()
		delete(p.arms, id)
		p.mu.Unlock()
		return nil
	}, nil
}

// Set drives the pin. A change of level notifies every arm whose edge
// matches. Setting the current level again is not a transition.
func (p *Pin) Set(l digital.Level) {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := p.level
	p.level = l
	if prev == l {
		return
	}
	p.edges++
	for _, a := range p.arms {
		if a.edge.Matches(prev, l) {
			a.notify(nil)
		}
	}
}

// Pulse drives the pin to l and straight back, producing two edges.
func (p *Pin) Pulse(l digital.Level) {
	prev := p.Level()
	p.Set(l)
	p.Set(prev)
}

// Toggle inverts the pin.
func (p *Pin) Toggle() { p.Set(!p.Level()) }

// Level returns the driven level, ignoring any injected read error.
func (p *Pin) Level() digital.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// Fail reports err to every armed wait.
func (p *Pin) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, a := range p.arms {
		a.notify(err)
	}
}

// SetReadError makes Read fail with err until cleared with nil.
func (p *Pin) SetReadError(err error) {
	p.mu.Lock()
	p.readErr = err
	p.mu.Unlock()
}

// SetArmError makes Arm fail with err until cleared with nil.
func (p *Pin) SetArmError(err error) {
	p.mu.Lock()
	p.armErr = err
	p.mu.Unlock()
}

// Armed returns the number of live arms.
func (p *Pin) Armed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.arms)
}

// Edges returns the number of transitions driven so far.
func (p *Pin) Edges() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.edges
}
