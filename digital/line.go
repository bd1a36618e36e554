package digital

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Notify is how a backend reports on an armed wait: nil when the armed edge
// was observed, a non-nil error when sensing failed. It must not block and may
// be called from any goroutine. Calls after the wait finished are ignored.
type Notify func(err error)

// Backend is implemented by concrete pin drivers (interrupt, polling,
// simulated). A Line owns its Backend and never arms it twice at once.
type Backend interface {
	// Read returns the current logical level.
	Read() (Level, error)
	// Arm starts detection of edge and reports through notify. The returned
	// disarm releases the detection; once it returns, notify is not called
	// again for this arm.
	Arm(edge Edge, notify Notify) (disarm func() error, err error)
}

// Record describes one finished wait. It is handed to the observer
// installed with WithObserver.
type Record struct {
	Line       string
	Cond       Condition
	Outcome    State // Armed (never satisfied), Satisfied or Failed
	Abandoned  bool
	Err        error
	Coalesced  uint32
	ArmedAt    time.Time
	DoneAt     time.Time // zero if no notification arrived
	FinishedAt time.Time
}

// Option configures a Line.
type Option func(*Line)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log logrus.FieldLogger) Option {
	return func(l *Line) {
		if log != nil {
			l.log = log
		}
	}
}

// WithObserver installs a callback that receives a Record for every wait
// once it is resolved or abandoned. It runs on the consuming goroutine.
func WithObserver(fn func(Record)) Option {
	return func(l *Line) { l.observe = fn }
}

// Line is a pin handle. It allows at most one outstanding wait; while a wait
// is outstanding the handle is borrowed and Begin and Read return ErrBusy.
type Line struct {
	name    string
	backend Backend
	log     logrus.FieldLogger
	observe func(Record)

	mu      sync.Mutex
	current *Wait
	closed  bool
}

// compile-time check that Line provides all five wait operations
var _ Waiter = (*Line)(nil)

// NewLine wraps backend as a named pin handle.
func NewLine(name string, backend Backend, opts ...Option) *Line {
	l := &Line{
		name:    name,
		backend: backend,
		log:     discardLogger(),
	}
	for _, o := range opts {
		o(l)
	}
	l.log = l.log.WithField("line", name)
	return l
}

func discardLogger() logrus.FieldLogger {
	lg := logrus.New()
	lg.SetOutput(io.Discard)
	return lg
}

// Name returns the name given to NewLine.
func (l *Line) Name() string { return l.name }

// Backend returns the wrapped backend.
func (l *Line) Backend() Backend { return l.backend }

// Busy reports whether a wait is outstanding.
func (l *Line) Busy() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current != nil
}

// Read returns the current level, or ErrBusy while a wait holds the line.
func (l *Line) Read() (Level, error) {
	l.mu.Lock()
	switch {
	case l.closed:
		l.mu.Unlock()
		return Low, ErrClosed
	case l.current != nil:
		l.mu.Unlock()
		return Low, ErrBusy
	}
	l.mu.Unlock()
	return l.backend.Read()
}

// Begin starts a wait for cond and returns it without blocking.
//
// Detection is armed before the current level is sampled, so a transition
// that lands between the two is never lost. A level condition that already
// holds yields a wait that is Satisfied on return. Backend failures while
// arming or sampling yield a Failed wait carrying the backend's error; the
// returned error is only ever ErrBusy, ErrClosed or ErrInvalidCondition.
func (l *Line) Begin(cond Condition) (*Wait, error) {
	if !cond.Valid() {
		return nil, ErrInvalidCondition
	}
	w := newWait(l, cond)

	l.mu.Lock()
	switch {
	case l.closed:
		l.mu.Unlock()
		return nil, ErrClosed
	case l.current != nil:
		l.mu.Unlock()
		return nil, ErrBusy
	}
	l.current = w
	l.mu.Unlock()

	log := l.log.WithField("cond", cond.String())

	disarm, err := l.backend.Arm(cond.Edge(), w.notify)
	if err != nil {
		log.WithError(err).Warn("arm failed")
		w.notify(err)
		return w, nil
	}
	w.setDisarm(disarm)

	if cond.IsLevel() {
		lvl, err := l.backend.Read()
		switch {
		case err != nil:
			log.WithError(err).Warn("level read failed")
			w.notify(err)
		case lvl == cond.Level():
			w.notify(nil)
		}
	}
	log.Debug("armed")
	return w, nil
}

// WaitForHigh blocks until the line is high. Returns at once if it already is.
func (l *Line) WaitForHigh(ctx context.Context) error { return l.wait(ctx, CondHigh) }

// WaitForLow blocks until the line is low. Returns at once if it already is.
func (l *Line) WaitForLow(ctx context.Context) error { return l.wait(ctx, CondLow) }

// WaitForRisingEdge blocks until the next low-to-high transition.
func (l *Line) WaitForRisingEdge(ctx context.Context) error {
	return l.wait(ctx, CondRisingEdge)
}

// WaitForFallingEdge blocks until the next high-to-low transition.
func (l *Line) WaitForFallingEdge(ctx context.Context) error {
	return l.wait(ctx, CondFallingEdge)
}

// WaitForAnyEdge blocks until the next transition in either direction.
func (l *Line) WaitForAnyEdge(ctx context.Context) error { return l.wait(ctx, CondAnyEdge) }

func (l *Line) wait(ctx context.Context, cond Condition) error {
	w, err := l.Begin(cond)
	if err != nil {
		return err
	}
	return w.Await(ctx)
}

// Close abandons any outstanding wait and closes the backend if it is an
// io.Closer. A goroutine blocked on the outstanding wait returns ErrClosed,
// as do further waits.
func (l *Line) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	cur := l.current
	l.mu.Unlock()

	if cur != nil {
		cur.closeByLine()
	}
	if c, ok := l.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (l *Line) release(w *Wait) {
	l.mu.Lock()
	if l.current == w {
		l.current = nil
	}
	l.mu.Unlock()
}

func (l *Line) disarmed(w *Wait, err error) {
	if err != nil {
		l.log.WithError(err).WithField("cond", w.cond.String()).Warn("disarm failed")
	}
}

func (l *Line) report(r Record) {
	log := l.log.WithFields(logrus.Fields{
		"cond":      r.Cond.String(),
		"outcome":   r.Outcome.String(),
		"abandoned": r.Abandoned,
	})
	if r.Coalesced > 0 {
		log = log.WithField("coalesced", r.Coalesced)
	}
	log.Debug("wait finished")
	if l.observe != nil {
		l.observe(r)
	}
}
