package radar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mklimuk/a121"
	"github.com/mklimuk/a121/config"
	"github.com/mklimuk/a121/engine"
	"github.com/mklimuk/a121/sensor"
)

// Enabled is a powered sensor with a mutable config.
type Enabled struct {
	state
}

// Calibrate resets and calibrates the sensor.
func (e *Enabled) Calibrate(ctx context.Context) (*sensor.CalibrationResult, error) {
	if err := e.lock(); err != nil {
		return nil, err
	}
	defer e.unlock()
	return e.c.calibrate(ctx)
}

// Config is the live config. Changes take effect at the next PrepareSensor.
func (e *Enabled) Config() *config.RadarConfig {
	return e.c.cfg
}

// Validate checks a stored calibration against the sensor.
func (e *Enabled) Validate(cal *sensor.CalibrationResult) error {
	if err := e.lock(); err != nil {
		return err
	}
	defer e.unlock()
	return e.c.sensor.Validate(cal)
}

// Temperature is the sensor temperature recorded in cal.
func (e *Enabled) Temperature(cal *sensor.CalibrationResult) (int16, error) {
	if err := e.lock(); err != nil {
		return 0, err
	}
	defer e.unlock()
	return e.c.sensor.Temperature(cal)
}

// PrepareSensor loads the config with a validated calibration.
func (e *Enabled) PrepareSensor(cal *sensor.CalibrationResult) (*Ready, error) {
	if err := e.lock(); err != nil {
		return nil, err
	}
	defer e.unlock()
	if err := e.c.prepare(cal); err != nil {
		return nil, err
	}
	e.consumed = true
	return &Ready{state{c: e.c, kind: StateReady}}, nil
}

// Reset power cycles the sensor.
func (e *Enabled) Reset(ctx context.Context) (*Enabled, error) {
	if err := e.lock(); err != nil {
		return nil, err
	}
	defer e.unlock()
	return e.reset(ctx)
}

// Ready is a prepared sensor that can measure.
type Ready struct {
	state
}

// Config is read only while prepared. Use ApplyConfig to change it.
func (r *Ready) Config() config.Reader {
	return r.c.cfg
}

// BufferSize is the minimum measurement buffer.
func (r *Ready) BufferSize() (int, error) {
	if err := r.lock(); err != nil {
		return 0, err
	}
	defer r.unlock()
	return r.c.cfg.BufferSize()
}

// Measure takes one frame into buf.
func (r *Ready) Measure(ctx context.Context, buf []byte) error {
	if err := r.lock(); err != nil {
		return err
	}
	defer r.unlock()
	size, err := r.c.cfg.BufferSize()
	if err != nil {
		return err
	}
	if len(buf) < size {
		return fmt.Errorf("radar: measure needs %d bytes, got %d: %w", size, len(buf), a121.ErrBufferTooSmall)
	}
	return r.measure(ctx, buf)
}

// MeasureUnchecked is Measure without the length check. A short buf is undefined
// behaviour on real engines.
func (r *Ready) MeasureUnchecked(ctx context.Context, buf []byte) error {
	if err := r.lock(); err != nil {
		return err
	}
	defer r.unlock()
	return r.measure(ctx, buf)
}

func (r *Ready) measure(ctx context.Context, buf []byte) error {
	if err := r.c.sensor.Measure(ctx, r.c.irq); err != nil {
		return err
	}
	return r.c.sensor.Read(buf)
}

// ProcessingMetadata describes the frame layout Process returns.
func (r *Ready) ProcessingMetadata() engine.ProcessingMetadata {
	if err := r.lock(); err != nil {
		return engine.ProcessingMetadata{}
	}
	defer r.unlock()
	return r.c.meta
}

// Process turns a measured frame into IQ samples and status flags.
func (r *Ready) Process(buf []byte) (engine.ProcessingResult, error) {
	if err := r.lock(); err != nil {
		return engine.ProcessingResult{}, err
	}
	defer r.unlock()
	size, err := r.c.cfg.BufferSize()
	if err != nil {
		return engine.ProcessingResult{}, err
	}
	if len(buf) < size {
		return engine.ProcessingResult{}, fmt.Errorf("radar: process needs %d bytes, got %d: %w", size, len(buf), a121.ErrBufferTooSmall)
	}
	var res engine.ProcessingResult
	r.c.eng.ProcessingExecute(r.c.processing, buf, &res)
	return res, nil
}

// Calibrate recalibrates and prepares the sensor again with the new result, so the
// value stays Ready. Use it when processing reports calibration needed.
func (r *Ready) Calibrate(ctx context.Context) (*sensor.CalibrationResult, error) {
	if err := r.lock(); err != nil {
		return nil, err
	}
	defer r.unlock()
	cal, err := r.c.calibrate(ctx)
	if err == nil {
		if err = r.c.prepare(cal); err == nil {
			return cal, nil
		}
	}
	// calibration power cycled the sensor, so it is no longer prepared
	if perr := r.c.prepare(r.c.cal); perr != nil {
		r.consumed = true
		return nil, errors.Join(err,
			fmt.Errorf("radar: could not restore previous calibration, radar released: %w: %w", a121.ErrNotReady, perr),
			r.c.release())
	}
	return nil, err
}

// Calibration is the result the sensor was last prepared with, nil for a consumed
// value.
func (r *Ready) Calibration() *sensor.CalibrationResult {
	if err := r.lock(); err != nil {
		return nil
	}
	defer r.unlock()
	return r.c.cal
}

func (r *Ready) HibernateOn() (*Hibernating, error) {
	if err := r.lock(); err != nil {
		return nil, err
	}
	defer r.unlock()
	if err := r.c.sensor.HibernateOn(); err != nil {
		return nil, err
	}
	r.consumed = true
	return &Hibernating{state{c: r.c, kind: StateHibernating}}, nil
}

// ApplyConfig runs fn on the config. When fn fails the config is restored and r stays
// Ready. Otherwise the sensor is reset and must be prepared again.
func (r *Ready) ApplyConfig(ctx context.Context, fn func(*config.RadarConfig) error) (*Enabled, error) {
	if err := r.lock(); err != nil {
		return nil, err
	}
	defer r.unlock()
	snap := r.c.cfg.Snapshot()
	if err := fn(r.c.cfg); err != nil {
		r.c.cfg.Restore(snap)
		return nil, err
	}
	e, err := r.reset(ctx)
	if err != nil {
		r.c.cfg.Restore(snap)
		return nil, err
	}
	slog.Debug("radar config applied", "sensor", r.c.sensor.ID())
	return e, nil
}

func (r *Ready) Reset(ctx context.Context) (*Enabled, error) {
	if err := r.lock(); err != nil {
		return nil, err
	}
	defer r.unlock()
	return r.reset(ctx)
}

// Do runs fn with exclusive use of the engine and sensor. Detectors layer their
// engine calls on the prepared sensor through it.
func (r *Ready) Do(fn func(eng engine.Engine, s *sensor.Handle, irq a121.InterruptLine) error) error {
	if err := r.lock(); err != nil {
		return err
	}
	defer r.unlock()
	return fn(r.c.eng, r.c.sensor, r.c.irq)
}

// Hibernating is a prepared sensor in low power mode.
type Hibernating struct {
	state
}

func (h *Hibernating) HibernateOff() (*Ready, error) {
	if err := h.lock(); err != nil {
		return nil, err
	}
	defer h.unlock()
	if err := h.c.sensor.HibernateOff(); err != nil {
		return nil, err
	}
	h.consumed = true
	return &Ready{state{c: h.c, kind: StateReady}}, nil
}

func (h *Hibernating) Reset(ctx context.Context) (*Enabled, error) {
	if err := h.lock(); err != nil {
		return nil, err
	}
	defer h.unlock()
	return h.reset(ctx)
}
