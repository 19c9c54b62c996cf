// Package battery reads the charge level of a PiSugar UPS board over I2C.
package battery

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// ErrUnavailable is returned when no battery controller answers.
var ErrUnavailable = errors.New("battery: no battery controller available")

// DefaultAddr is the I2C address of the PiSugar 3 controller.
const DefaultAddr = 0x57

// PiSugar 3 registers.
const (
	regVoltageHigh = 0x22
	regVoltageLow  = 0x23
	regPercent     = 0x2A
)

// Status is a single battery reading.
type Status struct {
	// Percent is the battery level in 0-100%.
	Percent int `json:"percent"`
	// VoltageMv is the battery voltage in millivolts, 0 if unknown.
	VoltageMv int `json:"voltage_mv"`
}

// Sentence is the briefing line for s.
func (s Status) Sentence() string {
	return fmt.Sprintf("Battery is at %d percent.", s.Percent)
}

// Reader abstracts how battery information is obtained.
type Reader interface {
	Read(ctx context.Context) (Status, error)
}

// Static always returns the same status. Useful on desktops with a fixed
// answer and in tests.
type Static Status

func (s Static) Read(context.Context) (Status, error) { return Status(s), nil }

// I2CReader talks to the battery controller over I2C.
type I2CReader struct {
	busName string
	addr    uint16
}

// NewI2CReader returns a reader for the controller at addr on busName
// ("" selects the default bus, /dev/i2c-1 on a Raspberry Pi). The bus is
// opened on every Read.
func NewI2CReader(busName string, addr uint16) *I2CReader {
	return &I2CReader{busName: busName, addr: addr}
}

var hostInit = sync.OnceValue(func() error {
	_, err := host.Init()
	return err
})

// Read implements Reader.
func (r *I2CReader) Read(_ context.Context) (Status, error) {
	if runtime.GOOS != "linux" {
		return Status{}, ErrUnavailable
	}
	if err := hostInit(); err != nil {
		return Status{}, fmt.Errorf("battery: periph init: %w", err)
	}

	bus, err := i2creg.Open(r.busName)
	if err != nil {
		return Status{}, fmt.Errorf("battery: open i2c bus: %w", err)
	}
	defer bus.Close()

	dev := &i2c.Dev{Bus: bus, Addr: r.addr}
	readReg := func(reg byte) (byte, error) {
		buf := []byte{0}
		if err := dev.Tx([]byte{reg}, buf); err != nil {
			return 0, err
		}
		return buf[0], nil
	}

	high, err := readReg(regVoltageHigh)
	if err != nil {
		return Status{}, err
	}
	low, err := readReg(regVoltageLow)
	if err != nil {
		return Status{}, err
	}
	pct, err := readReg(regPercent)
	if err != nil {
		return Status{}, err
	}
	if pct > 100 {
		pct = 100
	}

	return Status{
		Percent:   int(pct),
		VoltageMv: int(uint16(high)<<8 | uint16(low)),
	}, nil
}

// Detect probes the default controller and returns a reader for it, or
// ErrUnavailable on machines without one.
func Detect(ctx context.Context) (Reader, error) {
	r := NewI2CReader("", DefaultAddr)
	if _, err := r.Read(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return r, nil
}
