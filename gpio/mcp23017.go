package gpio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mklimuk/a121"
)

type register int

const DefaultMCP23017Address = 0x21

// DefaultPollInterval is how often an expander interrupt pin reads its port.
const DefaultPollInterval = time.Millisecond

const (
	IODIR register = iota
	IPOL
	GPINTEN
	DEFVAL
	INTCON
	IOCON
	GPPU
	INTF
	INTCAP
	GPIO
	OLAT
)

type Port int

const (
	PortA Port = iota
	PortB
)

func (p Port) String() string {
	if p == PortB {
		return "B"
	}
	return "A"
}

// bankAddr maps registers to addresses for IOCON.BANK=0 (paired) and BANK=1 (split).
var bankAddr = [2]func(register, Port) byte{
	func(r register, p Port) byte { return byte(r)<<1 | byte(p) },
	func(r register, p Port) byte { return byte(p)<<4 | byte(r) },
}

/*
	Lines on the expander:

1. IODIR bit 0 makes the pin an output (enable line), 1 an input (interrupt line)
2. outputs are driven through OLAT, read-modify-write under the device mutex
3. inputs are sampled from GPIO
*/
type MCP23017 struct {
	mx         sync.Mutex
	transport  a121.I2CBus
	bank       int
	address    byte
	retryLimit int
}

type MCP23017Opts struct {
	RetryLimit int
	Bank       int
}

type MCP23017Opt func(*MCP23017Opts)

// WithRetryLimit sets how many times a busy bus is released and retried.
func WithRetryLimit(n int) MCP23017Opt {
	return func(o *MCP23017Opts) {
		o.RetryLimit = max(n, 1)
	}
}

// WithBank selects the register layout the device was configured with (IOCON.BANK).
func WithBank(bank int) MCP23017Opt {
	return func(o *MCP23017Opts) {
		o.Bank = bank & 1
	}
}

func NewMCP23017(bus a121.I2CBus, address byte, opts ...MCP23017Opt) *MCP23017 {
	o := MCP23017Opts{RetryLimit: 1}
	for _, opt := range opts {
		opt(&o)
	}
	return &MCP23017{retryLimit: o.RetryLimit, bank: o.Bank, transport: bus, address: address}
}

func (m *MCP23017) addr(r register, p Port) byte {
	return bankAddr[m.bank](r, p)
}

// retry runs op and releases the bus before trying again while it reports busy.
func (m *MCP23017) retry(ctx context.Context, what string, op func() error) error {
	var err error
	for i := m.retryLimit; i > 0; i-- {
		err = op()
		if err == nil {
			return nil
		}
		if !errors.Is(err, a121.ErrBusBusy) {
			return fmt.Errorf("mcp23017: could not %s: %w", what, err)
		}
		// try to release the bus
		_ = m.transport.Release(ctx)
	}
	return fmt.Errorf("mcp23017: could not %s (retry limit reached): %w", what, err)
}

func (m *MCP23017) writeRegister(ctx context.Context, r register, p Port, value byte) error {
	return m.transport.WriteToAddr(ctx, m.address, []byte{m.addr(r, p), value})
}

func (m *MCP23017) readRegister(ctx context.Context, r register, p Port) (byte, error) {
	err := m.transport.WriteToAddr(ctx, m.address, []byte{m.addr(r, p)})
	if err != nil {
		return 0x00, fmt.Errorf("could not set register address: %w", err)
	}
	buf := make([]byte, 1)
	err = m.transport.ReadFromAddr(ctx, m.address, buf)
	if err != nil {
		return 0x00, fmt.Errorf("could not read register: %w", err)
	}
	return buf[0], nil
}

// Read returns the GPIO register of port p.
func (m *MCP23017) Read(ctx context.Context, p Port) (byte, error) {
	m.mx.Lock()
	defer m.mx.Unlock()
	var res byte
	err := m.retry(ctx, "read gpio "+p.String(), func() error {
		var err error
		res, err = m.readRegister(ctx, GPIO, p)
		return err
	})
	return res, err
}

// update sets or clears mask in register r of port p.
func (m *MCP23017) update(ctx context.Context, r register, p Port, mask byte, set bool) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.retry(ctx, fmt.Sprintf("update register %#x", m.addr(r, p)), func() error {
		v, err := m.readRegister(ctx, r, p)
		if err != nil {
			return err
		}
		if set {
			v |= mask
		} else {
			v &^= mask
		}
		return m.writeRegister(ctx, r, p, v)
	})
}

// Output returns pin bit of port p configured as an output driven low.
func (m *MCP23017) Output(ctx context.Context, p Port, bit uint8) (*ExpanderPin, error) {
	pin := &ExpanderPin{dev: m, port: p, mask: 1 << (bit & 7)}
	if err := m.update(ctx, OLAT, p, pin.mask, false); err != nil {
		return nil, err
	}
	if err := m.update(ctx, IODIR, p, pin.mask, false); err != nil {
		return nil, err
	}
	return pin, nil
}

// Input returns pin bit of port p configured as an input, optionally pulled up.
func (m *MCP23017) Input(ctx context.Context, p Port, bit uint8, pullUp bool) (*ExpanderPin, error) {
	pin := &ExpanderPin{dev: m, port: p, mask: 1 << (bit & 7), poll: DefaultPollInterval}
	if err := m.update(ctx, IODIR, p, pin.mask, true); err != nil {
		return nil, err
	}
	if err := m.update(ctx, GPPU, p, pin.mask, pullUp); err != nil {
		return nil, err
	}
	return pin, nil
}

var _ a121.EnableLine = &ExpanderPin{}
var _ a121.InterruptLine = &ExpanderPin{}

// ExpanderPin is one MCP23017 pin used as the enable or the interrupt line.
type ExpanderPin struct {
	dev  *MCP23017
	port Port
	mask byte
	poll time.Duration
}

func (p *ExpanderPin) Set(ctx context.Context, high bool) error {
	return p.dev.update(ctx, OLAT, p.port, p.mask, high)
}

func (p *ExpanderPin) High(ctx context.Context) (bool, error) {
	v, err := p.dev.Read(ctx, p.port)
	if err != nil {
		return false, err
	}
	return v&p.mask != 0, nil
}

// WaitForHigh polls the port until the pin reads high.
func (p *ExpanderPin) WaitForHigh(ctx context.Context) error {
	poll := p.poll
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("mcp23017: waiting for interrupt: %w", ctx.Err())
		case <-timer.C:
		}
		high, err := p.High(ctx)
		if err != nil {
			return err
		}
		if high {
			return nil
		}
		timer.Reset(poll)
	}
}
