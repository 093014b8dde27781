// Package distance runs the engine's distance detector on a prepared radar.
//
// Typical loop:
//
//	d, _ := distance.New(ready, distance.Balanced())
//	dyn, _ := d.CalibrateDetector(ctx, cal, buf, static)
//	_ = d.PrepareDetector(cal, buf)
//	for {
//		_ = d.Measure(ctx, buf)
//		res, err := d.ProcessData(buf, static, &dyn)
//		if res.CalibrationNeeded {
//			dyn, _ = d.UpdateCalibration(ctx, cal, buf)
//			_ = d.PrepareDetector(cal, buf)
//		}
//	}
package distance

import (
	"context"
	"errors"
	"fmt"

	"github.com/mklimuk/a121"
	"github.com/mklimuk/a121/detector"
	"github.com/mklimuk/a121/engine"
	"github.com/mklimuk/a121/memory"
	"github.com/mklimuk/a121/radar"
	"github.com/mklimuk/a121/sensor"
)

// DynamicResult is the detector calibration that follows temperature. Regenerate it
// with UpdateCalibration when a result reports CalibrationNeeded.
type DynamicResult engine.DynamicCalResult

func (d *DynamicResult) raw() *engine.DynamicCalResult {
	return (*engine.DynamicCalResult)(d)
}

type Distance struct {
	Meters   float32 `yaml:"meters"`
	Strength float32 `yaml:"strength"`
}

type Result struct {
	Distances         []Distance `yaml:"distances"`
	NearStartEdge     bool       `yaml:"near_start_edge"`
	CalibrationNeeded bool       `yaml:"calibration_needed"`
	Temperature       int16      `yaml:"temperature"`
}

func (r Result) NumDistances() int {
	return len(r.Distances)
}

type Sizes struct {
	Buffer       int `yaml:"buffer"`
	StaticResult int `yaml:"static_result"`
}

type Detector struct {
	radar  *radar.Ready
	config Config
	eng    engine.DistanceEngine
	cfg    engine.DistanceConfigRef
	ref    engine.DistanceRef
}

// New creates the detector for a Ready radar.
func New(r *radar.Ready, cfg Config) (*Detector, error) {
	if err := detector.Live(r); err != nil {
		return nil, err
	}
	d := &Detector{radar: r, config: cfg}
	err := r.Do(func(eng engine.Engine, _ *sensor.Handle, _ a121.InterruptLine) error {
		d.eng = eng
		d.cfg = eng.DistanceConfigCreate()
		if d.cfg == 0 {
			return fmt.Errorf("distance: could not create config: %w", a121.ErrInitFailed)
		}
		cfg.apply(eng, d.cfg)
		d.ref = eng.DistanceCreate(d.cfg)
		if d.ref == 0 {
			eng.DistanceConfigDestroy(d.cfg)
			d.cfg = 0
			return fmt.Errorf("distance: could not create detector: %w", a121.ErrInitFailed)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Detector) Config() Config {
	return d.config
}

// Close destroys the detector and its config. Further calls are no-ops.
func (d *Detector) Close() {
	if d.ref != 0 {
		d.eng.DistanceDestroy(d.ref)
		d.ref = 0
	}
	if d.cfg != 0 {
		d.eng.DistanceConfigDestroy(d.cfg)
		d.cfg = 0
	}
}

func (d *Detector) sizes() (Sizes, error) {
	s, ok := d.eng.DistanceSizes(d.ref)
	if !ok {
		return Sizes{}, fmt.Errorf("distance: could not query buffer sizes: %w", a121.ErrInitFailed)
	}
	return Sizes{Buffer: int(s.BufferSize), StaticResult: int(s.StaticCalResultSize)}, nil
}

// Sizes asks the engine for the buffer and static calibration lengths.
func (d *Detector) Sizes() (Sizes, error) {
	var s Sizes
	err := d.radar.Do(func(engine.Engine, *sensor.Handle, a121.InterruptLine) error {
		var err error
		s, err = d.sizes()
		return err
	})
	return s, err
}

func (d *Detector) BufferSize() (int, error) {
	s, err := d.Sizes()
	return s.Buffer, err
}

func (d *Detector) StaticResultSize() (int, error) {
	s, err := d.Sizes()
	return s.StaticResult, err
}

// MemoryRequirements sizes the detector for the radar config.
func (d *Detector) MemoryRequirements() memory.Requirements {
	return memory.NewDistance(d.radar.Config()).Requirements()
}

// CalibrateDetector records the static environment into static and returns the
// dynamic calibration.
func (d *Detector) CalibrateDetector(ctx context.Context, cal *sensor.CalibrationResult, buf, static []byte) (DynamicResult, error) {
	return d.calibrate(ctx, cal, buf, static, true, true)
}

// CalibrateDetectorUnchecked skips the buffer checks.
func (d *Detector) CalibrateDetectorUnchecked(ctx context.Context, cal *sensor.CalibrationResult, buf, static []byte) (DynamicResult, error) {
	return d.calibrate(ctx, cal, buf, static, true, false)
}

// UpdateCalibration refreshes only the dynamic calibration.
func (d *Detector) UpdateCalibration(ctx context.Context, cal *sensor.CalibrationResult, buf []byte) (DynamicResult, error) {
	return d.calibrate(ctx, cal, buf, nil, false, true)
}

func (d *Detector) UpdateCalibrationUnchecked(ctx context.Context, cal *sensor.CalibrationResult, buf []byte) (DynamicResult, error) {
	return d.calibrate(ctx, cal, buf, nil, false, false)
}

func (d *Detector) calibrate(ctx context.Context, cal *sensor.CalibrationResult, buf, static []byte, full, checked bool) (DynamicResult, error) {
	var dyn DynamicResult
	err := d.radar.Do(func(eng engine.Engine, s *sensor.Handle, irq a121.InterruptLine) error {
		if checked {
			sizes, err := d.sizes()
			if err != nil {
				return err
			}
			if err := detector.CheckBuffer("distance: calibration buffer", sizes.Buffer, len(buf)); err != nil {
				return err
			}
			if full {
				if err := detector.CheckBuffer("distance: static result", sizes.StaticResult, len(static)); err != nil {
					return err
				}
			}
		}
		for step := 1; ; step++ {
			var complete, ok bool
			if full {
				complete, ok = eng.DistanceCalibrate(s.Ref(), d.ref, cal.Raw(), buf, static, dyn.raw())
			} else {
				complete, ok = eng.DistanceUpdateCalibration(s.Ref(), d.ref, cal.Raw(), buf, dyn.raw())
			}
			if !ok {
				return fmt.Errorf("distance: step %d: %w", step, a121.ErrCalibrationFailed)
			}
			if complete {
				return nil
			}
			if err := irq.WaitForHigh(ctx); err != nil {
				return fmt.Errorf("distance: waiting for calibration step %d: %w", step, err)
			}
		}
	})
	return dyn, err
}

// PrepareDetector configures the sensor for detector measurements. Call it after
// every calibration.
func (d *Detector) PrepareDetector(cal *sensor.CalibrationResult, buf []byte) error {
	return d.prepare(cal, buf, true)
}

func (d *Detector) PrepareDetectorUnchecked(cal *sensor.CalibrationResult, buf []byte) error {
	return d.prepare(cal, buf, false)
}

func (d *Detector) prepare(cal *sensor.CalibrationResult, buf []byte, checked bool) error {
	return d.radar.Do(func(eng engine.Engine, s *sensor.Handle, _ a121.InterruptLine) error {
		if checked {
			sizes, err := d.sizes()
			if err != nil {
				return err
			}
			if err := detector.CheckBuffer("distance: prepare buffer", sizes.Buffer, len(buf)); err != nil {
				return err
			}
		}
		if !eng.DistancePrepare(d.ref, d.cfg, s.Ref(), cal.Raw(), buf) {
			return fmt.Errorf("distance: %w", a121.ErrPrepareFailed)
		}
		return nil
	})
}

// Measure takes one detector frame into buf.
func (d *Detector) Measure(ctx context.Context, buf []byte) error {
	size, err := d.BufferSize()
	if err != nil {
		return err
	}
	if err := detector.CheckBuffer("distance: measure buffer", size, len(buf)); err != nil {
		return err
	}
	return d.radar.MeasureUnchecked(ctx, buf)
}

func (d *Detector) MeasureUnchecked(ctx context.Context, buf []byte) error {
	return d.radar.MeasureUnchecked(ctx, buf)
}

// ProcessData runs the detector on a measured frame. It returns a121.ErrUnavailable
// when the engine needs more frames before it can report; measure again.
func (d *Detector) ProcessData(buf, static []byte, dyn *DynamicResult) (Result, error) {
	return d.process(buf, static, dyn, true)
}

func (d *Detector) ProcessDataUnchecked(buf, static []byte, dyn *DynamicResult) (Result, error) {
	return d.process(buf, static, dyn, false)
}

func (d *Detector) process(buf, static []byte, dyn *DynamicResult, checked bool) (Result, error) {
	if dyn == nil {
		return Result{}, errors.New("distance: missing dynamic calibration")
	}
	var res engine.DistanceResult
	err := d.radar.Do(func(eng engine.Engine, _ *sensor.Handle, _ a121.InterruptLine) error {
		if checked {
			sizes, err := d.sizes()
			if err != nil {
				return err
			}
			if err := detector.CheckBuffer("distance: process buffer", sizes.Buffer, len(buf)); err != nil {
				return err
			}
			if err := detector.CheckBuffer("distance: static result", sizes.StaticResult, len(static)); err != nil {
				return err
			}
		}
		available, ok := eng.DistanceProcess(d.ref, buf, static, dyn.raw(), &res)
		if !ok {
			return fmt.Errorf("distance: %w", a121.ErrProcessingFailed)
		}
		if !available {
			return fmt.Errorf("distance: %w", a121.ErrUnavailable)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return newResult(res), nil
}

func newResult(res engine.DistanceResult) Result {
	n := min(int(res.NumDistances), engine.MaxDistances)
	out := Result{
		Distances:         make([]Distance, n),
		NearStartEdge:     res.NearStartEdge,
		CalibrationNeeded: res.CalibrationNeeded,
		Temperature:       res.Temperature,
	}
	for i := range out.Distances {
		out.Distances[i] = Distance{Meters: res.Distances[i], Strength: res.Strengths[i]}
	}
	return out
}
