package poll

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"digitalwait-go/digital"
	"digitalwait-go/digital/digitaltest"
)

var errEIO = errors.New("eio")

type fakeReader struct {
	mu    sync.Mutex
	level digital.Level
	err   error
	reads int
}

func (r *fakeReader) Read() (digital.Level, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	return r.level, r.err
}

func (r *fakeReader) set(l digital.Level) { r.mu.Lock(); r.level = l; r.mu.Unlock() }
func (r *fakeReader) fail(err error)      { r.mu.Lock(); r.err = err; r.mu.Unlock() }

// latchReader adds an edge-detect flag that catches pulses between samples.
type latchReader struct {
	fakeReader
	edge     digital.Edge
	detected bool
}

func (r *latchReader) Detect(e digital.Edge) error {
	r.mu.Lock()
	r.edge, r.detected = e, false
	r.mu.Unlock()
	return nil
}

func (r *latchReader) EdgeDetected() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hit := r.detected
	r.detected = false
	return hit, r.err
}

func (r *latchReader) set(l digital.Level) {
	r.mu.Lock()
	if r.edge.Matches(r.level, l) {
		r.detected = true
	}
	r.level = l
	r.mu.Unlock()
}

const interval = time.Millisecond

func settle() { time.Sleep(10 * interval) }

func TestConformance(t *testing.T) {
	digitaltest.Run(t, func(t *testing.T, initial digital.Level) *digitaltest.Harness {
		r := &fakeReader{level: initial}
		return &digitaltest.Harness{
			Line: Line("poll", r, Config{Interval: interval}),
			Set: func(l digital.Level) {
				r.set(l)
				settle()
			},
			Settle: settle,
			Fail: func() error {
				r.fail(errEIO)
				return errEIO
			},
		}
	})
}

func TestConformanceLatch(t *testing.T) {
	digitaltest.Run(t, func(t *testing.T, initial digital.Level) *digitaltest.Harness {
		r := &latchReader{}
		r.level = initial
		return &digitaltest.Harness{
			Line:   Line("latch", r, Config{Interval: interval}),
			Set:    r.set,
			Settle: settle,
			Pulses: true,
			Fail: func() error {
				r.fail(errEIO)
				return errEIO
			},
		}
	})
}

func TestDefaults(t *testing.T) {
	b := New(ReaderFunc(func() (digital.Level, error) { return digital.Low, nil }), Config{})
	if b.Interval() != time.Millisecond {
		t.Fatalf("default interval %v", b.Interval())
	}
}

func TestArmReadFailure(t *testing.T) {
	r := &fakeReader{err: errEIO}
	line := Line("x", r, Config{Interval: interval})
	if err := line.WaitForRisingEdge(context.Background()); !errors.Is(err, errEIO) {
		t.Fatalf("expected %v, got %v", errEIO, err)
	}
}

func TestDisarmStopsSampling(t *testing.T) {
	r := &fakeReader{}
	line := Line("x", r, Config{Interval: interval})
	w, _ := line.Begin(digital.CondRisingEdge)
	settle()
	w.Abandon()

	r.mu.Lock()
	before := r.reads
	r.mu.Unlock()
	settle()
	r.mu.Lock()
	after := r.reads
	r.mu.Unlock()
	if after != before {
		t.Fatalf("sampler still running after abandon: %d -> %d reads", before, after)
	}
}

func TestLatchDisabledOnDisarm(t *testing.T) {
	r := &latchReader{}
	line := Line("x", r, Config{Interval: interval})
	w, _ := line.Begin(digital.CondFallingEdge)
	if r.edge != digital.EdgeFalling {
		t.Fatalf("latch armed for %s", r.edge)
	}
	w.Abandon()
	if r.edge != digital.EdgeNone {
		t.Fatal("latch left enabled after abandon")
	}
}
