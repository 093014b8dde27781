package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/a121"
	"github.com/mklimuk/a121/adapter"
	"github.com/mklimuk/a121/engine"
	"github.com/mklimuk/a121/engine/sim"
	"github.com/mklimuk/a121/gpio"
	"github.com/mklimuk/a121/i2c"
	"github.com/mklimuk/a121/radar"
	"github.com/mklimuk/a121/transport"
)

// rig is everything a radar needs from the outside world.
type rig struct {
	eng     engine.Engine
	spi     a121.SPIConn
	irq     a121.InterruptLine
	enable  a121.EnableLine
	closers []func() error
}

func (r *rig) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	r.closers = nil
	return errors.Join(errs...)
}

func openRig(ctx context.Context, cfg *appConfig) (*rig, error) {
	eng, err := engine.Open(cfg.Sensor.Engine)
	if err != nil {
		return nil, err
	}
	r := &rig{eng: eng}
	// the simulated engine signals completion on its own line
	if s, ok := eng.(*sim.Engine); ok {
		r.irq = s.Interrupt()
	}
	switch cfg.Sensor.Transport {
	case transportSim:
		r.spi = sim.NewSPI()
		r.enable = sim.NewEnable()
	case transportSPI:
		port, err := transport.OpenSPI(cfg.Sensor.SPIPort, physic.Frequency(cfg.Sensor.SPIFrequency)*physic.Hertz)
		if err != nil {
			return nil, err
		}
		r.spi = port
		r.closers = append(r.closers, port.Close)
	case transportMCP2210:
		bridge, err := adapter.Open(cfg.Bridge.Serial,
			adapter.WithSPISpeed(cfg.Bridge.Speed),
			adapter.WithChipSelect(cfg.Bridge.ChipSelect))
		if err != nil {
			return nil, err
		}
		r.spi = bridge
		r.closers = append(r.closers, bridge.Close)
		if r.enable, err = bridge.Output(ctx, cfg.Bridge.EnablePin); err != nil {
			return nil, errors.Join(err, r.Close())
		}
		if r.irq == nil {
			if r.irq, err = bridge.Input(ctx, cfg.Bridge.InterruptPin); err != nil {
				return nil, errors.Join(err, r.Close())
			}
		}
	}
	if err := r.openLines(ctx, cfg); err != nil {
		return nil, errors.Join(err, r.Close())
	}
	slog.Debug("rig ready", "engine", cfg.Sensor.Engine, "transport", cfg.Sensor.Transport)
	return r, nil
}

// openLines fills in the enable and interrupt lines the transport did not provide.
func (r *rig) openLines(ctx context.Context, cfg *appConfig) error {
	if r.enable != nil && r.irq != nil {
		return nil
	}
	if cfg.Expander.Bus != "" {
		bus, err := openExpanderBus(cfg.Expander.Bus)
		if err != nil {
			return err
		}
		r.closers = append(r.closers, bus.Close)
		exp := gpio.NewMCP23017(bus, cfg.Expander.Address)
		if r.enable == nil {
			if r.enable, err = exp.Output(ctx, gpio.PortA, cfg.Expander.EnableBit); err != nil {
				return err
			}
		}
		if r.irq == nil {
			if r.irq, err = exp.Input(ctx, gpio.PortA, cfg.Expander.InterruptBit, false); err != nil {
				return err
			}
		}
		return nil
	}
	if r.enable == nil {
		pin, err := gpio.OpenPin(cfg.Sensor.EnablePin)
		if err != nil {
			return err
		}
		if r.enable, err = gpio.NewOutputPin(pin); err != nil {
			return err
		}
	}
	if r.irq == nil {
		pin, err := gpio.OpenPin(cfg.Sensor.InterruptPin)
		if err != nil {
			return err
		}
		if r.irq, err = gpio.NewInterruptPin(pin); err != nil {
			return err
		}
	}
	return nil
}

type expanderBus interface {
	a121.I2CBus
	Close() error
}

// openExpanderBus opens a host I2C bus by name, or an MCP2221 bridge for
// "mcp2221" and "mcp2221:<serial>".
func openExpanderBus(name string) (expanderBus, error) {
	if serial, ok := strings.CutPrefix(name, busMCP2221); ok {
		return adapter.OpenI2C(strings.TrimPrefix(serial, ":"))
	}
	return i2c.Open(name)
}

// session owns a radar across its state transitions. Close releases whichever
// state value is live.
type session struct {
	rig     *rig
	enabled *radar.Enabled
	ready   *radar.Ready
}

func openSession(ctx context.Context, cfg *appConfig) (*session, error) {
	r, err := openRig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	e, err := radar.New(ctx, r.eng, engine.SensorID(cfg.Sensor.ID), r.spi, r.irq, r.enable,
		radar.WithHeapSize(cfg.Sensor.HeapSize),
		radar.WithSettleDelay(cfg.Sensor.SettleDelay))
	if err != nil {
		return nil, errors.Join(err, r.Close())
	}
	return &session{rig: r, enabled: e}, nil
}

func (s *session) prepare(ctx context.Context, store *calibrationSource) error {
	cal, err := store.calibration(ctx, s.enabled)
	if err != nil {
		return err
	}
	ready, err := s.enabled.PrepareSensor(cal)
	if err != nil {
		return fmt.Errorf("could not prepare sensor: %w", err)
	}
	s.ready = ready
	return nil
}

func (s *session) Close() error {
	var errs []error
	if s.ready != nil {
		errs = append(errs, s.ready.Close())
	}
	errs = append(errs, s.enabled.Close(), s.rig.Close())
	return errors.Join(errs...)
}
