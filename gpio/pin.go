// Package gpio provides the sensor enable and interrupt lines: host pins through
// periph.io and pins of an MCP23017 I2C expander.
package gpio

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mklimuk/a121"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// DefaultEdgeTimeout bounds one edge wait so a cancelled context is noticed.
const DefaultEdgeTimeout = 10 * time.Millisecond

// Pin is the subset of gpio.PinIO the lines use.
type Pin interface {
	Name() string
	In(pull gpio.Pull, edge gpio.Edge) error
	Out(l gpio.Level) error
	Read() gpio.Level
	WaitForEdge(timeout time.Duration) bool
}

var _ a121.EnableLine = &OutputPin{}
var _ a121.InterruptLine = &InterruptPin{}

// OpenPin initialises the host drivers and looks up a pin by name (e.g. "GPIO17").
func OpenPin(name string) (gpio.PinIO, error) {
	state, err := host.Init()
	if err != nil {
		return nil, fmt.Errorf("could not init host: %w", err)
	}
	for _, driver := range state.Loaded {
		slog.Debug("host driver loaded", "driver", driver.String())
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpio: pin %q not found", name)
	}
	return p, nil
}

// OutputPin drives the sensor enable line.
type OutputPin struct {
	pin Pin
}

// NewOutputPin configures pin as an output, driven low.
func NewOutputPin(pin Pin) (*OutputPin, error) {
	if err := pin.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("gpio: could not configure %s as output: %w", pin.Name(), err)
	}
	return &OutputPin{pin: pin}, nil
}

func (p *OutputPin) Set(_ context.Context, high bool) error {
	if err := p.pin.Out(gpio.Level(high)); err != nil {
		return fmt.Errorf("gpio: could not set %s: %w", p.pin.Name(), err)
	}
	return nil
}

// InterruptPin waits on the sensor interrupt line using edge detection.
type InterruptPin struct {
	pin     Pin
	timeout time.Duration
}

// NewInterruptPin configures pin as a pulled down input with rising edge detection.
func NewInterruptPin(pin Pin) (*InterruptPin, error) {
	if err := pin.In(gpio.PullDown, gpio.RisingEdge); err != nil {
		return nil, fmt.Errorf("gpio: could not configure %s as interrupt: %w", pin.Name(), err)
	}
	return &InterruptPin{pin: pin, timeout: DefaultEdgeTimeout}, nil
}

// WaitForHigh returns at once when the line is already high.
func (p *InterruptPin) WaitForHigh(ctx context.Context) error {
	for {
		if p.pin.Read() == gpio.High {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("gpio: waiting for %s: %w", p.pin.Name(), err)
		}
		p.pin.WaitForEdge(p.timeout)
	}
}
