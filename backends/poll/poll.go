// Package poll drives digital waits by sampling a line on a timer.
//
// Plain sampling can miss a pulse shorter than the interval. Readers that
// also implement Latch (a hardware edge-detect flag) are consulted on every
// tick, which closes that gap.
package poll

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"digitalwait-go/digital"
)

// Reader samples the current logical level.
type Reader interface {
	Read() (digital.Level, error)
}

// ReaderFunc adapts a function to Reader.
type ReaderFunc func() (digital.Level, error)

func (f ReaderFunc) Read() (digital.Level, error) { return f() }

// Latch is an optional hardware edge-detect flag. Detect selects the edge
// (EdgeNone disables detection); EdgeDetected reports and clears the flag.
type Latch interface {
	Detect(edge digital.Edge) error
	EdgeDetected() (bool, error)
}

// Config for a Backend. All fields are optional.
type Config struct {
	// Interval between samples. Default 1 ms.
	Interval time.Duration
	// Logger defaults to a discarding logger.
	Logger logrus.FieldLogger
}

// Backend samples a Reader while armed. Each arm runs its own sampler
// goroutine, stopped and joined by disarm.
type Backend struct {
	r   Reader
	cfg Config
	log logrus.FieldLogger
}

// compile-time check for whether Backend satisfies the digital.Backend interface
var _ digital.Backend = (*Backend)(nil)

func New(r Reader, cfg Config) *Backend {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Millisecond
	}
	if cfg.Logger == nil {
		lg := logrus.New()
		lg.SetOutput(io.Discard)
		cfg.Logger = lg
	}
	return &Backend{r: r, cfg: cfg, log: cfg.Logger.WithField("component", "poll")}
}

// Line wraps a polling backend for r as a digital.Line.
func Line(name string, r Reader, cfg Config, opts ...digital.Option) *digital.Line {
	return digital.NewLine(name, New(r, cfg), opts...)
}

// Interval returns the effective sampling interval.
func (b *Backend) Interval() time.Duration { return b.cfg.Interval }

func (b *Backend) Read() (digital.Level, error) { return b.r.Read() }

// Arm snapshots the level and starts sampling. Read errors are passed to
// notify unchanged and end the sampler.
func (b *Backend) Arm(edge digital.Edge, notify digital.Notify) (func() error, error) {
	latch, hasLatch := b.r.(Latch)
	if hasLatch {
		if err := latch.Detect(edge); err != nil {
			return nil, err
		}
	}
	last, err := b.r.Read()
	if err != nil {
		if hasLatch {
			_ = latch.Detect(digital.EdgeNone)
		}
		return nil, err
	}

	stop := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		b.sample(edge, last, latch, notify, stop)
	}()

	return func() error {
		close(stop)
		<-exited
		if hasLatch {
			return latch.Detect(digital.EdgeNone)
		}
		return nil
	}, nil
}

func (b *Backend) sample(edge digital.Edge, last digital.Level, latch Latch, notify digital.Notify, stop <-chan struct{}) {
	t := time.NewTicker(b.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
		}

		if latch != nil {
			hit, err := latch.EdgeDetected()
			if err != nil {
				b.log.WithError(err).Warn("latch read failed")
				notify(err)
				return
			}
			if hit {
				notify(nil)
			}
		}

		cur, err := b.r.Read()
		if err != nil {
			b.log.WithError(err).Warn("sample failed")
			notify(err)
			return
		}
		if latch == nil && edge.Matches(last, cur) {
			notify(nil)
		}
		last = cur
	}
}
