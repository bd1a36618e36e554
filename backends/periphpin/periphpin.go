// Package periphpin drives digital waits from periph.io GPIO pins.
//
// Arming enables edge detection with In(PullNoChange, edge), leaving the pull
// as configured elsewhere, and runs a goroutine that blocks in WaitForEdge
// for one slice at a time so that disarm can stop it promptly.
package periphpin

import (
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"digitalwait-go/digital"
	"digitalwait-go/errcode"
)

// Error reports a pin operation the periph driver refused.
type Error struct {
	Op  string
	Pin string
	Err error
}

func (e *Error) Error() string      { return fmt.Sprintf("periphpin: %s %s: %v", e.Op, e.Pin, e.Err) }
func (e *Error) Unwrap() error      { return e.Err }
func (e *Error) Code() errcode.Code { return errcode.IRQFault }

// Config for a Backend. All fields are optional.
type Config struct {
	// Slice bounds each WaitForEdge call, and therefore disarm latency.
	// Default 50 ms.
	Slice time.Duration
	// Logger defaults to a discarding logger.
	Logger logrus.FieldLogger
}

// Backend adapts a gpio.PinIn.
type Backend struct {
	pin gpio.PinIn
	cfg Config
	log logrus.FieldLogger
}

// compile-time check for whether Backend satisfies the digital.Backend interface
var _ digital.Backend = (*Backend)(nil)

func New(p gpio.PinIn, cfg Config) *Backend {
	if cfg.Slice <= 0 {
		cfg.Slice = 50 * time.Millisecond
	}
	if cfg.Logger == nil {
		lg := logrus.New()
		lg.SetOutput(io.Discard)
		cfg.Logger = lg
	}
	return &Backend{pin: p, cfg: cfg, log: cfg.Logger.WithField("pin", p.Name())}
}

// ByName initialises the host drivers and looks the pin up by name
// (e.g. "GPIO17").
func ByName(name string, cfg Config) (*Backend, error) {
	if _, err := host.Init(); err != nil {
		return nil, &Error{Op: "host_init", Pin: name, Err: err}
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, &errcode.E{C: errcode.UnknownPin, Op: "periphpin.by_name", Msg: name}
	}
	return New(p, cfg), nil
}

// Line wraps p as a digital.Line.
func Line(name string, p gpio.PinIn, cfg Config, opts ...digital.Option) *digital.Line {
	return digital.NewLine(name, New(p, cfg), opts...)
}

func (b *Backend) Read() (digital.Level, error) {
	return digital.Level(b.pin.Read() == gpio.High), nil
}

func (b *Backend) Arm(edge digital.Edge, notify digital.Notify) (func() error, error) {
	if err := b.pin.In(gpio.PullNoChange, toPeriph(edge)); err != nil {
		return nil, &Error{Op: "in", Pin: b.pin.Name(), Err: err}
	}
	stop := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if b.pin.WaitForEdge(b.cfg.Slice) {
				notify(nil)
			}
		}
	}()
	b.log.WithField("edge", edge.String()).Debug("edge detection enabled")

	return func() error {
		close(stop)
		<-exited
		if err := b.pin.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
			return &Error{Op: "in", Pin: b.pin.Name(), Err: err}
		}
		return nil
	}, nil
}

func toPeriph(e digital.Edge) gpio.Edge {
	switch e {
	case digital.EdgeRising:
		return gpio.RisingEdge
	case digital.EdgeFalling:
		return gpio.FallingEdge
	case digital.EdgeBoth:
		return gpio.BothEdges
	default:
		return gpio.NoEdge
	}
}
