// Package pcf8574 provides a driver for the PCF8574 8-bit I2C GPIO expander
// and exposes its pins as waitable digital lines.
//
//	d := pcf8574.New(bus)
//	if err := d.Configure(); err != nil { ... }
//	door := d.Line("door", 3)
//	err := door.WaitForLow(ctx)
//
// The expander has quasi-bidirectional ports: writing 1 to a bit releases it
// as a weakly pulled-up input. Configure releases every pin in InputMask.
// Waits are polled over the bus; a failed transfer resolves the wait with an
// error carrying errcode.BusFault.
package pcf8574

import (
	"sync"
	"time"

	"tinygo.org/x/drivers"

	"digitalwait-go/backends/poll"
	"digitalwait-go/digital"
	"digitalwait-go/errcode"
)

// I2C address with A2..A0 tied low. PCF8574A parts start at 0x38.
const Address = 0x20

// Config controls non-hardware behaviour. All fields are optional.
type Config struct {
	// Address defaults to 0x20 if zero.
	Address uint16
	// InputMask selects pins released as inputs. Default 0xFF.
	InputMask uint8
	// Interval between port reads while a wait is armed. Default 5 ms;
	// a 100 kHz bus needs roughly 0.1 ms per read.
	Interval time.Duration
}

// Device wraps an I2C connection to a PCF8574.
type Device struct {
	bus     drivers.I2C
	Address uint16

	cfg Config
	mu  sync.Mutex // serialises bus transfers across pins
	out uint8      // last written port latch
	buf [1]byte
}

// New creates a Device. The I2C bus must already be configured.
// This function only creates the Device object; it does not touch the device.
func New(bus drivers.I2C) *Device {
	return &Device{
		bus:     bus,
		Address: Address,
		cfg:     Config{Address: Address, InputMask: 0xFF, Interval: 5 * time.Millisecond},
		out:     0xFF,
	}
}

// Configure applies cfg (if given) and writes the port latch so that the
// input pins are released.
func (d *Device) Configure(cfgs ...Config) error {
	if len(cfgs) > 0 {
		c := cfgs[0]
		if c.Address != 0 {
			d.Address = c.Address
		}
		c.Address = d.Address
		if c.InputMask == 0 {
			c.InputMask = 0xFF
		}
		if c.Interval <= 0 {
			c.Interval = 5 * time.Millisecond
		}
		d.cfg = c
	}
	return d.WritePort(d.cfg.InputMask)
}

// WritePort sets the port latch. Bits set to 1 are inputs (weak high).
func (d *Device) WritePort(v uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buf[0] = v
	if err := d.bus.Tx(d.Address, d.buf[:], nil); err != nil {
		return &errcode.E{C: errcode.BusFault, Op: "pcf8574.write", Err: err}
	}
	d.out = v
	return nil
}

// ReadPort reads the state of all eight pins.
func (d *Device) ReadPort() (uint8, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.bus.Tx(d.Address, nil, d.buf[:]); err != nil {
		return 0, &errcode.E{C: errcode.BusFault, Op: "pcf8574.read", Err: err}
	}
	return d.buf[0], nil
}

// Pin returns a poll.Reader for pin n (0..7). Out-of-range pins are masked.
func (d *Device) Pin(n int) *Pin {
	return &Pin{d: d, mask: 1 << (uint(n) & 7)}
}

// Line returns a waitable handle for pin n, polled at the configured interval.
func (d *Device) Line(name string, n int, opts ...digital.Option) *digital.Line {
	return poll.Line(name, d.Pin(n), poll.Config{Interval: d.cfg.Interval}, opts...)
}

// Pin is one expander input.
type Pin struct {
	d    *Device
	mask uint8
}

// compile-time check for whether Pin satisfies the poll.Reader interface
var _ poll.Reader = (*Pin)(nil)

func (p *Pin) Read() (digital.Level, error) {
	v, err := p.d.ReadPort()
	if err != nil {
		return digital.Low, err
	}
	return digital.Level(v&p.mask != 0), nil
}
