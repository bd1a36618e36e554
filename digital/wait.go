package digital

import (
	"context"
	"sync"
	"time"
)

// Wait is one suspended wait on a Line. It is produced by Line.Begin and
// consumed exactly once, either by Poll/Await returning ready or by Abandon.
//
// The outcome reports that the condition held (or the edge happened) at least
// once while the wait was armed. It is not re-checked at consumption time.
type Wait struct {
	line   *Line
	cond   Condition
	done   chan struct{}
	closed chan struct{} // closed by Line.Close

	mu        sync.Mutex
	state     State
	outcome   State // Armed, Satisfied or Failed; survives Resolved/Abandoned
	err       error
	coalesced uint32
	disarm    func() error
	finished  bool

	armedAt time.Time
	doneAt  time.Time
}

func newWait(l *Line, cond Condition) *Wait {
	return &Wait{
		line:    l,
		cond:    cond,
		done:    make(chan struct{}),
		closed:  make(chan struct{}),
		state:   Armed,
		outcome: Armed,
		armedAt: time.Now(),
	}
}

// Condition returns what the wait is waiting for.
func (w *Wait) Condition() Condition { return w.cond }

// State returns the current lifecycle state.
func (w *Wait) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Coalesced returns how many qualifying notifications arrived after the one
// that satisfied the wait and before it was consumed.
func (w *Wait) Coalesced() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.coalesced
}

// Done is closed when the wait becomes Satisfied or Failed. It is never
// closed for a wait abandoned while Armed.
func (w *Wait) Done() <-chan struct{} { return w.done }

// Poll consumes the outcome if one is available. It never blocks.
// On the first ready poll the wait becomes Resolved and the line is released;
// later polls report the same outcome. An abandoned wait never becomes ready.
func (w *Wait) Poll() (ready bool, err error) {
	w.mu.Lock()
	switch w.state {
	case Satisfied, Failed:
		w.state = Resolved
		err = w.err
		w.mu.Unlock()
		w.finish()
		return true, err
	case Resolved:
		err = w.err
		w.mu.Unlock()
		return true, err
	default:
		w.mu.Unlock()
		return false, nil
	}
}

// Await blocks until the outcome is ready or ctx is done. When ctx ends first
// the wait is abandoned and ctx.Err() is returned; an outcome that is already
// available at that moment takes precedence. A wait whose line is closed, or
// that was abandoned before its outcome was consumed, returns ErrClosed.
func (w *Wait) Await(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if w.State() == Abandoned {
		return ErrClosed
	}
	select {
	case <-w.done:
	case <-w.closed:
	case <-ctx.Done():
		select {
		case <-w.done:
		default:
			w.Abandon()
			return ctx.Err()
		}
	}
	ready, err := w.Poll()
	if !ready {
		return ErrClosed
	}
	return err
}

// Abandon discards the wait. Armed detection is released before Abandon
// returns and the line is immediately available for a new wait or a read.
// Abandoning a resolved or already abandoned wait does nothing.
func (w *Wait) Abandon() {
	w.mu.Lock()
	if w.state == Resolved || w.state == Abandoned {
		w.mu.Unlock()
		return
	}
	w.state = Abandoned
	w.mu.Unlock()
	w.finish()
}

// closeByLine abandons the wait and wakes any goroutine in Await.
func (w *Wait) closeByLine() {
	w.Abandon()
	close(w.closed)
}

// notify is the backend's completion hook. The first call decides the outcome.
// Safe from any goroutine; it never blocks on the caller.
func (w *Wait) notify(err error) {
	w.mu.Lock()
	if w.state != Armed {
		if w.state == Satisfied || w.state == Failed {
			w.coalesced++
		}
		w.mu.Unlock()
		return
	}
	if err != nil {
		w.state, w.outcome, w.err = Failed, Failed, err
	} else {
		w.state, w.outcome = Satisfied, Satisfied
	}
	w.doneAt = time.Now()
	w.mu.Unlock()
	close(w.done)
}

// setDisarm installs the backend's release function. If the wait already
// finished (the line was closed while arming) it is released at once.
func (w *Wait) setDisarm(d func() error) {
	if d == nil {
		return
	}
	w.mu.Lock()
	if !w.finished {
		w.disarm = d
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()
	w.line.disarmed(w, d())
}

// finish runs once per wait: disarm, release the line, report.
func (w *Wait) finish() {
	w.mu.Lock()
	if w.finished {
		w.mu.Unlock()
		return
	}
	w.finished = true
	d := w.disarm
	w.disarm = nil
	rec := Record{
		Line:      w.line.name,
		Cond:      w.cond,
		Outcome:   w.outcome,
		Abandoned: w.state == Abandoned,
		Err:       w.err,
		Coalesced: w.coalesced,
		ArmedAt:   w.armedAt,
		DoneAt:    w.doneAt,
	}
	w.mu.Unlock()

	if d != nil {
		w.line.disarmed(w, d())
	}
	w.line.release(w)
	rec.FinishedAt = time.Now()
	w.line.report(rec)
}
