package hook

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// DefaultPinName is physical pin 18 of the Raspberry Pi header.
const DefaultPinName = "P1_18"

var (
	hostOnce sync.Once
	hostErr  error
)

// GPIOPin is a periph.io input pin configured with a pull-up resistor.
type GPIOPin struct {
	pin gpio.PinIO
}

var _ Pin = (*GPIOPin)(nil)

// OpenPin initializes the host drivers and configures the named pin as an
// input with the internal pull-up enabled.
func OpenPin(name string) (*GPIOPin, error) {
	hostOnce.Do(func() {
		_, hostErr = host.Init()
	})
	if hostErr != nil {
		return nil, fmt.Errorf("%w: init host: %w", ErrPin, hostErr)
	}
	if name == "" {
		name = DefaultPinName
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("%w: no pin named %q", ErrPin, name)
	}
	if err := p.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("%w: configure %s: %w", ErrPin, name, err)
	}
	return &GPIOPin{pin: p}, nil
}

// Read returns the current level of the pin.
func (p *GPIOPin) Read() (bool, error) {
	return bool(p.pin.Read()), nil
}

// Release stops any activity on the pin.
func (p *GPIOPin) Release() error {
	return p.pin.Halt()
}

// Name returns the pin name.
func (p *GPIOPin) Name() string {
	return p.pin.Name()
}
