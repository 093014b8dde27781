// Package sensor owns one engine sensor object and runs the interrupt gated
// calibrate and measure protocols against it.
//
// The handle does not validate buffer lengths. Callers size buffers with the memory
// package or an engine size query first.
package sensor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mklimuk/a121"
	"github.com/mklimuk/a121/engine"
)

type HandleOpts struct {
	// SettleDelay is waited after every enable line change.
	SettleDelay time.Duration
}

type HandleOpt func(*HandleOpts)

func WithSettleDelay(d time.Duration) HandleOpt {
	return func(o *HandleOpts) {
		o.SettleDelay = d
	}
}

// Handle exclusively owns one engine sensor ref.
type Handle struct {
	config HandleOpts

	eng    engine.SensorEngine
	id     engine.SensorID
	ref    engine.SensorRef
	enable a121.EnableLine
}

// New creates the engine sensor object for id. The sensor must already be powered.
func New(eng engine.SensorEngine, id engine.SensorID, enable a121.EnableLine, opts ...HandleOpt) (*Handle, error) {
	config := HandleOpts{
		SettleDelay: 2 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&config)
	}
	ref := eng.SensorCreate(id)
	if ref == 0 {
		return nil, fmt.Errorf("sensor %d: %w", id, a121.ErrInitFailed)
	}
	return &Handle{config: config, eng: eng, id: id, ref: ref, enable: enable}, nil
}

func (h *Handle) ID() engine.SensorID {
	return h.id
}

// Ref is the engine ref, zero after Close.
func (h *Handle) Ref() engine.SensorRef {
	return h.ref
}

// Close destroys the engine object. Further calls are no-ops.
func (h *Handle) Close() {
	if h.ref == 0 {
		return
	}
	h.eng.SensorDestroy(h.ref)
	h.ref = 0
}

func (h *Handle) settle(ctx context.Context) error {
	timer := time.NewTimer(h.config.SettleDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset power cycles the sensor through the enable line. Any prepared configuration
// is lost.
func (h *Handle) Reset(ctx context.Context) error {
	if err := h.enable.Set(ctx, false); err != nil {
		return fmt.Errorf("sensor %d: could not disable: %w", h.id, err)
	}
	if err := h.settle(ctx); err != nil {
		return err
	}
	if err := h.enable.Set(ctx, true); err != nil {
		return fmt.Errorf("sensor %d: could not enable: %w", h.id, err)
	}
	return h.settle(ctx)
}

// Calibrate resets the sensor and runs the calibration until the engine reports it
// complete. Each incomplete step is followed by a wait for the interrupt line. buf
// must hold at least engine.SensorCalibrationBufferSize bytes and is reused for every
// step.
func (h *Handle) Calibrate(ctx context.Context, irq a121.InterruptLine, buf []byte) (*CalibrationResult, error) {
	if err := h.Reset(ctx); err != nil {
		return nil, err
	}
	cal := &CalibrationResult{}
	for step := 1; ; step++ {
		complete, ok := h.eng.SensorCalibrate(h.ref, &cal.raw, buf)
		if !ok {
			return nil, fmt.Errorf("sensor %d: step %d: %w", h.id, step, a121.ErrCalibrationFailed)
		}
		if complete {
			slog.Debug("sensor calibrated", "sensor", h.id, "steps", step)
			return cal, nil
		}
		if err := irq.WaitForHigh(ctx); err != nil {
			return nil, fmt.Errorf("sensor %d: waiting for calibration step %d: %w", h.id, step, err)
		}
	}
}

// Prepare loads cfg into the sensor.
func (h *Handle) Prepare(cfg engine.ConfigRef, cal *CalibrationResult, buf []byte) error {
	if !h.eng.SensorPrepare(h.ref, cfg, &cal.raw, buf) {
		return fmt.Errorf("sensor %d: %w", h.id, a121.ErrPrepareFailed)
	}
	return nil
}

// Measure starts a measurement and waits for the data ready interrupt. Nothing is
// awaited when the engine refuses to start.
func (h *Handle) Measure(ctx context.Context, irq a121.InterruptLine) error {
	if !h.eng.SensorMeasure(h.ref) {
		return fmt.Errorf("sensor %d: %w", h.id, a121.ErrMeasurement)
	}
	if err := irq.WaitForHigh(ctx); err != nil {
		return fmt.Errorf("sensor %d: waiting for data: %w", h.id, err)
	}
	return nil
}

// Read transfers the measured frame into buf.
func (h *Handle) Read(buf []byte) error {
	if !h.eng.SensorRead(h.ref, buf) {
		return fmt.Errorf("sensor %d: %w", h.id, a121.ErrRead)
	}
	return nil
}

func (h *Handle) HibernateOn() error {
	if !h.eng.SensorHibernateOn(h.ref) {
		return fmt.Errorf("sensor %d: %w", h.id, a121.ErrHibernationOnFailed)
	}
	return nil
}

func (h *Handle) HibernateOff() error {
	if !h.eng.SensorHibernateOff(h.ref) {
		return fmt.Errorf("sensor %d: %w", h.id, a121.ErrHibernationOffFailed)
	}
	return nil
}

// Connected asks the engine whether the sensor answers on the bus.
func (h *Handle) Connected() bool {
	return h.eng.SensorConnected(h.id)
}

// CheckStatus makes the engine log the sensor status.
func (h *Handle) CheckStatus() {
	h.eng.SensorStatus(h.ref)
}

// Validate checks cal against this sensor. Stored calibrations must pass before reuse.
func (h *Handle) Validate(cal *CalibrationResult) error {
	if !h.eng.CalibrationValidate(h.ref, &cal.raw) {
		return fmt.Errorf("sensor %d: %w", h.id, a121.ErrCalibrationInvalid)
	}
	return nil
}

// Temperature is the sensor temperature in degrees Celsius when cal was produced.
func (h *Handle) Temperature(cal *CalibrationResult) (int16, error) {
	info, ok := h.eng.CalibrationInfo(&cal.raw)
	if !ok {
		return 0, fmt.Errorf("sensor %d: %w", h.id, a121.ErrCalibrationInfo)
	}
	return info.Temperature, nil
}
