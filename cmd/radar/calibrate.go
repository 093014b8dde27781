package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/urfave/cli/v2"
	"gobot.io/x/gobot/v2/drivers/spi"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"

	"github.com/mklimuk/a121/calstore"
	"github.com/mklimuk/a121/cmd/radar/console"
	"github.com/mklimuk/a121/engine"
	"github.com/mklimuk/a121/radar"
	"github.com/mklimuk/a121/sensor"
)

// calibrationSource hands out a sensor calibration, reusing a stored one while it
// validates and is not stale.
type calibrationSource struct {
	store    calstore.Store
	maxDelta int16
	force    bool
	current  calstore.Record
	now      func() time.Time
}

func openStore(cfg calibrationConfig) (calstore.Store, func() error, error) {
	switch cfg.Store {
	case storeEEPROM:
		board := nanopi.NewNeoAdaptor()
		if err := board.Connect(); err != nil {
			return nil, nil, fmt.Errorf("adaptor connect error: %w", err)
		}
		store, halt, err := calstore.StartEEPROM(board, cfg.EEPROMBase, spi.WithBusNumber(cfg.EEPROMBus))
		if err != nil {
			_ = board.Finalize()
			return nil, nil, err
		}
		return store, func() error { return errors.Join(halt(), board.Finalize()) }, nil
	default:
		return calstore.NewFileStore(cfg.Dir), func() error { return nil }, nil
	}
}

func newCalibrationSource(store calstore.Store, cfg calibrationConfig, force bool) *calibrationSource {
	return &calibrationSource{store: store, maxDelta: cfg.MaxTempDelta, force: force, now: time.Now}
}

func (c *calibrationSource) calibration(ctx context.Context, e *radar.Enabled) (*sensor.CalibrationResult, error) {
	if !c.force {
		rec, err := c.store.Load(ctx, e.ID())
		switch {
		case err == nil:
			if err := e.Validate(rec.Calibration); err != nil {
				slog.Warn("stored calibration rejected", "sensor", e.ID(), "error", err)
				break
			}
			c.current = rec
			slog.Debug("using stored calibration", "sensor", e.ID(), "saved", rec.Saved, "temperature", rec.Temperature)
			return rec.Calibration, nil
		case errors.Is(err, calstore.ErrNotFound):
		default:
			slog.Warn("could not load calibration", "sensor", e.ID(), "error", err)
		}
	}
	cal, err := e.Calibrate(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not calibrate sensor: %w", err)
	}
	temp, err := e.Temperature(cal)
	if err != nil {
		return nil, err
	}
	return cal, c.save(ctx, e.ID(), temp, cal)
}

// recalibrate runs a fresh calibration on a prepared sensor.
func (c *calibrationSource) recalibrate(ctx context.Context, r *radar.Ready, temperature int16) (*sensor.CalibrationResult, error) {
	cal, err := r.Calibrate(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not recalibrate sensor: %w", err)
	}
	return cal, c.save(ctx, r.ID(), temperature, cal)
}

// needed reports whether a result asks for a new calibration, either directly or
// because the temperature drifted away from the stored one.
func (c *calibrationSource) needed(flagged bool, temperature int16) bool {
	return flagged || c.current.Stale(temperature, c.maxDelta)
}

func (c *calibrationSource) save(ctx context.Context, id engine.SensorID, temp int16, cal *sensor.CalibrationResult) error {
	c.current = calstore.Record{SensorID: id, Temperature: temp, Saved: c.now().UTC(), Calibration: cal}
	if err := c.store.Save(ctx, c.current); err != nil {
		return fmt.Errorf("could not store calibration: %w", err)
	}
	return nil
}

var calibrateCmd = cli.Command{
	Name:  "calibrate",
	Usage: "calibrate the sensor and store the result",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "force", Aliases: []string{"f"}, Usage: "ignore the stored calibration"},
		&cli.DurationFlag{Name: "timeout", Value: 10 * time.Second},
	},
	Action: func(c *cli.Context) error {
		cfg := configFrom(c)
		ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
		defer cancel()
		store, closeStore, err := openStore(cfg.Calibration)
		if err != nil {
			return console.Exit(1, "could not open calibration store: %s", console.Red(err))
		}
		defer func() { _ = closeStore() }()
		s, err := openSession(ctx, cfg)
		if err != nil {
			return console.Exit(1, "could not open radar: %s", console.Red(err))
		}
		defer func() {
			if err := s.Close(); err != nil {
				console.Errorf("error closing radar: %s", err)
			}
		}()
		src := newCalibrationSource(store, cfg.Calibration, c.Bool("force"))
		if _, err := src.calibration(ctx, s.enabled); err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		rec := src.current
		console.PInfof(console.PictoThermometer, "sensor %s calibrated at %s°C", console.White(rec.SensorID), console.White(rec.Temperature))
		console.PInfof(console.PictoFloppy, "saved %s (%s store)", rec.Saved.Format(time.DateTime), cfg.Calibration.Store)
		return nil
	},
}
