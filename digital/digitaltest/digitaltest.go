// Package digitaltest is a conformance suite for digital.Backend
// implementations. A backend package runs it from its own tests:
//
//	func TestConformance(t *testing.T) {
//		digitaltest.Run(t, func(t *testing.T, initial digital.Level) *digitaltest.Harness {
//			line, pin := sim.Line("t", initial)
//			return &digitaltest.Harness{Line: line, Set: pin.Set, Pulses: true}
//		})
//	}
package digitaltest

import (
	"context"
	"errors"
	"testing"
	"time"

	"digitalwait-go/digital"
)

// Harness is one freshly built backend under test.
type Harness struct {
	// Line wraps the backend. The suite closes it when the subtest ends.
	Line *digital.Line
	// Set drives the physical level of the line.
	Set func(digital.Level)
	// Settle returns once the backend has had a chance to observe the last
	// Set. Polling backends sleep a few intervals; nil means nothing to do.
	Settle func()
	// Fail injects a sensing failure while a wait is armed and returns the
	// error the wait must resolve with. Nil skips the failure checks.
	Fail func() error
	// Stale delivers, after a wait is armed, a transition to the given level
	// that the backend observed before arming, the way an asynchronous event
	// queue can. The physical level is left unchanged. Nil skips the check.
	Stale func(digital.Level)
	// Pulses is true when the backend latches edges, so a level that is
	// driven and immediately withdrawn is still observed.
	Pulses bool
	// Quiet bounds how long the suite watches for a wait that must not
	// resolve. Defaults to 30ms.
	Quiet time.Duration
}

// Factory builds a Harness whose line starts at initial.
type Factory func(t *testing.T, initial digital.Level) *Harness

const resolveTimeout = 2 * time.Second

// Run executes every contract property against backends built by f.
func Run(t *testing.T, f Factory) {
	t.Helper()
	build := func(t *testing.T, initial digital.Level) *Harness {
		h := f(t, initial)
		if h.Settle == nil {
			h.Settle = func() {}
		}
		if h.Quiet <= 0 {
			h.Quiet = 30 * time.Millisecond
		}
		t.Cleanup(func() { _ = h.Line.Close() })
		return h
	}

	t.Run("ImmediateHigh", func(t *testing.T) { testImmediate(t, build(t, digital.High), digital.CondHigh) })
	t.Run("ImmediateLow", func(t *testing.T) { testImmediate(t, build(t, digital.Low), digital.CondLow) })
	t.Run("LevelAfterTransition", func(t *testing.T) { testLevelAfterTransition(t, build(t, digital.Low)) })
	t.Run("LateCheck", func(t *testing.T) { testLateCheck(t, build(t, digital.Low)) })
	t.Run("Pulse", func(t *testing.T) {
		h := build(t, digital.Low)
		if !h.Pulses {
			t.Skip("backend does not latch pulses")
		}
		testPulse(t, h)
	})
	t.Run("NoRisingShortcut", func(t *testing.T) {
		testNoShortcut(t, build(t, digital.High), digital.CondRisingEdge, digital.High)
	})
	t.Run("NoFallingShortcut", func(t *testing.T) {
		testNoShortcut(t, build(t, digital.Low), digital.CondFallingEdge, digital.Low)
	})
	t.Run("AnyEdgeRising", func(t *testing.T) { testAnyEdge(t, build(t, digital.Low), digital.High) })
	t.Run("AnyEdgeFalling", func(t *testing.T) { testAnyEdge(t, build(t, digital.High), digital.Low) })
	t.Run("Exclusive", func(t *testing.T) { testExclusive(t, build(t, digital.Low)) })
	t.Run("Abandon", func(t *testing.T) { testAbandon(t, build(t, digital.Low)) })
	t.Run("AbandonByContext", func(t *testing.T) { testAbandonByContext(t, build(t, digital.Low)) })
	t.Run("ErrorPassthrough", func(t *testing.T) {
		h := build(t, digital.Low)
		if h.Fail == nil {
			t.Skip("backend has no failure injection")
		}
		testErrorPassthrough(t, h)
	})
	t.Run("StaleEventIgnored", func(t *testing.T) {
		h := build(t, digital.Low)
		if h.Stale == nil {
			t.Skip("backend delivers events synchronously")
		}
		testStaleEvent(t, h)
	})
	t.Run("NoQueuedEdges", func(t *testing.T) {
		h := build(t, digital.Low)
		if !h.Pulses {
			t.Skip("backend does not latch pulses")
		}
		testNoQueuedEdges(t, h)
	})
}

func begin(t *testing.T, h *Harness, c digital.Condition) *digital.Wait {
	t.Helper()
	w, err := h.Line.Begin(c)
	if err != nil {
		t.Fatalf("Begin(%s): %v", c, err)
	}
	return w
}

func mustResolve(t *testing.T, w *digital.Wait) error {
	t.Helper()
	select {
	case <-w.Done():
	case <-time.After(resolveTimeout):
		t.Fatalf("wait for %s did not resolve (state %s)", w.Condition(), w.State())
	}
	ready, err := w.Poll()
	if !ready {
		t.Fatalf("wait for %s: Done closed but Poll not ready", w.Condition())
	}
	return err
}

func mustStayPending(t *testing.T, h *Harness, w *digital.Wait) {
	t.Helper()
	deadline := time.Now().Add(h.Quiet)
	for time.Now().Before(deadline) {
		if ready, err := w.Poll(); ready {
			t.Fatalf("wait for %s resolved without a transition (err=%v)", w.Condition(), err)
		}
		time.Sleep(h.Quiet / 10)
	}
	if st := w.State(); st != digital.Armed {
		t.Fatalf("expected armed, got %s", st)
	}
}

func testImmediate(t *testing.T, h *Harness, c digital.Condition) {
	w := begin(t, h, c)
	ready, err := w.Poll()
	if !ready {
		t.Fatalf("%s on a line already %s should be ready without an event", c, c.Level())
	}
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.State() != digital.Resolved {
		t.Fatalf("expected resolved, got %s", w.State())
	}
	if h.Line.Busy() {
		t.Fatal("line still busy after resolution")
	}
}

func testLevelAfterTransition(t *testing.T, h *Harness) {
	w := begin(t, h, digital.CondHigh)
	mustStayPending(t, h, w)
	h.Set(digital.High)
	if err := mustResolve(t, w); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func testLateCheck(t *testing.T, h *Harness) {
	w := begin(t, h, digital.CondHigh)
	h.Set(digital.High)
	select {
	case <-w.Done():
	case <-time.After(resolveTimeout):
		t.Fatal("high level never detected")
	}
	// Revert before the waiter consumes the outcome.
	h.Set(digital.Low)
	h.Settle()
	ready, err := w.Poll()
	if !ready || err != nil {
		t.Fatalf("expected success after revert, got ready=%v err=%v", ready, err)
	}
}

func testPulse(t *testing.T, h *Harness) {
	w := begin(t, h, digital.CondHigh)
	h.Set(digital.High)
	h.Set(digital.Low)
	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()
	if err := w.Await(ctx); err != nil {
		t.Fatalf("pulse should satisfy a level wait, got %v", err)
	}
}

func testNoShortcut(t *testing.T, h *Harness, c digital.Condition, start digital.Level) {
	w := begin(t, h, c)
	mustStayPending(t, h, w)

	// The opposite transition does not qualify.
	h.Set(!start)
	h.Settle()
	mustStayPending(t, h, w)

	h.Set(start)
	if err := mustResolve(t, w); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func testAnyEdge(t *testing.T, h *Harness, to digital.Level) {
	w := begin(t, h, digital.CondAnyEdge)
	mustStayPending(t, h, w)
	h.Set(to)
	if err := mustResolve(t, w); err != nil {
		t.Fatalf("any edge to %s: unexpected error %v", to, err)
	}
}

func testExclusive(t *testing.T, h *Harness) {
	w := begin(t, h, digital.CondHigh)
	if _, err := h.Line.Begin(digital.CondLow); !errors.Is(err, digital.ErrBusy) {
		t.Fatalf("second Begin: expected ErrBusy, got %v", err)
	}
	if err := h.Line.WaitForAnyEdge(context.Background()); !errors.Is(err, digital.ErrBusy) {
		t.Fatalf("blocking wait on busy line: expected ErrBusy, got %v", err)
	}
	if _, err := h.Line.Read(); !errors.Is(err, digital.ErrBusy) {
		t.Fatalf("Read on busy line: expected ErrBusy, got %v", err)
	}
	w.Abandon()
	if _, err := h.Line.Read(); err != nil {
		t.Fatalf("Read after abandon: %v", err)
	}
}

func testAbandon(t *testing.T, h *Harness) {
	w := begin(t, h, digital.CondHigh)
	w.Abandon()
	if w.State() != digital.Abandoned {
		t.Fatalf("expected abandoned, got %s", w.State())
	}
	if h.Line.Busy() {
		t.Fatal("line busy after abandon")
	}

	w2 := begin(t, h, digital.CondRisingEdge)
	h.Set(digital.High)
	if err := mustResolve(t, w2); err != nil {
		t.Fatalf("fresh wait after abandon: %v", err)
	}
	if ready, _ := w.Poll(); ready {
		t.Fatal("abandoned wait must never resolve")
	}
	if w.State() != digital.Abandoned {
		t.Fatalf("abandoned wait changed state to %s", w.State())
	}
}

func testAbandonByContext(t *testing.T, h *Harness) {
	ctx, cancel := context.WithTimeout(context.Background(), h.Quiet)
	defer cancel()
	if err := h.Line.WaitForHigh(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if h.Line.Busy() {
		t.Fatal("line busy after timed-out wait")
	}

	done := make(chan error, 1)
	go func() { done <- h.Line.WaitForHigh(context.Background()) }()
	deadline := time.Now().Add(resolveTimeout)
	for !h.Line.Busy() {
		if time.Now().After(deadline) {
			t.Fatal("second wait never armed")
		}
		time.Sleep(time.Millisecond)
	}
	h.Set(digital.High)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("wait after timeout: %v", err)
		}
	case <-time.After(resolveTimeout):
		t.Fatal("wait after timeout did not resolve")
	}
}

func testErrorPassthrough(t *testing.T, h *Harness) {
	w := begin(t, h, digital.CondHigh)
	want := h.Fail()
	err := mustResolve(t, w)
	if err == nil {
		t.Fatal("failure resolved as success")
	}
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
	if h.Line.Busy() {
		t.Fatal("line busy after failed wait was consumed")
	}
}

func testStaleEvent(t *testing.T, h *Harness) {
	w := begin(t, h, digital.CondRisingEdge)
	h.Stale(digital.High)
	h.Settle()
	mustStayPending(t, h, w)

	h.Set(digital.High)
	if err := mustResolve(t, w); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func testNoQueuedEdges(t *testing.T, h *Harness) {
	w := begin(t, h, digital.CondRisingEdge)
	h.Set(digital.High)
	h.Set(digital.Low)
	h.Set(digital.High)
	if err := mustResolve(t, w); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Extra edges were absorbed by the first wait, not queued for the next.
	w2 := begin(t, h, digital.CondRisingEdge)
	mustStayPending(t, h, w2)
	w2.Abandon()
}
