// Package presence runs the engine's presence detector on a prepared radar.
//
// The presence detector needs no calibration of its own: prepare it with the sensor
// calibration, then alternate Measure and DetectPresence.
package presence

import (
	"context"
	"fmt"

	"github.com/mklimuk/a121"
	"github.com/mklimuk/a121/config"
	"github.com/mklimuk/a121/detector"
	"github.com/mklimuk/a121/engine"
	"github.com/mklimuk/a121/memory"
	"github.com/mklimuk/a121/radar"
	"github.com/mklimuk/a121/sensor"
)

// Config is the detector configuration. Distances are in meters.
type Config struct {
	SensorID              engine.SensorID `yaml:"sensor_id" mapstructure:"sensor_id"`
	Start                 float32         `yaml:"start" mapstructure:"start"`
	End                   float32         `yaml:"end" mapstructure:"end"`
	AutoStepLength        bool            `yaml:"auto_step_length" mapstructure:"auto_step_length"`
	StepLength            uint16          `yaml:"step_length" mapstructure:"step_length"`
	AutoProfile           bool            `yaml:"auto_profile" mapstructure:"auto_profile"`
	Profile               config.Profile  `yaml:"profile" mapstructure:"profile"`
	FrameRate             float32         `yaml:"frame_rate" mapstructure:"frame_rate"`
	SweepsPerFrame        uint16          `yaml:"sweeps_per_frame" mapstructure:"sweeps_per_frame"`
	ResetFiltersOnPrepare bool            `yaml:"reset_filters_on_prepare" mapstructure:"reset_filters_on_prepare"`
	IntraDetection        bool            `yaml:"intra_detection" mapstructure:"intra_detection"`
	IntraThreshold        float32         `yaml:"intra_threshold" mapstructure:"intra_threshold"`
	InterDetection        bool            `yaml:"inter_detection" mapstructure:"inter_detection"`
	InterThreshold        float32         `yaml:"inter_threshold" mapstructure:"inter_threshold"`
}

func Default() Config {
	return Config{
		SensorID:              1,
		Start:                 0.3,
		End:                   2.5,
		AutoStepLength:        true,
		StepLength:            24,
		AutoProfile:           true,
		Profile:               config.Profile4,
		FrameRate:             12,
		SweepsPerFrame:        16,
		ResetFiltersOnPrepare: true,
		IntraDetection:        true,
		IntraThreshold:        1.3,
		InterDetection:        true,
		InterThreshold:        1,
	}
}

func (c Config) apply(eng engine.PresenceEngine, ref engine.PresenceConfigRef) {
	set := func(p engine.PresenceParam, v float64) {
		eng.PresenceConfigSet(ref, p, v)
	}
	set(engine.PresenceSensor, float64(c.SensorID))
	set(engine.PresenceStart, float64(c.Start))
	set(engine.PresenceEnd, float64(c.End))
	set(engine.PresenceAutoStepLength, engine.Bool(c.AutoStepLength))
	set(engine.PresenceStepLength, float64(c.StepLength))
	set(engine.PresenceAutoProfile, engine.Bool(c.AutoProfile))
	set(engine.PresenceProfile, float64(c.Profile))
	set(engine.PresenceFrameRate, float64(c.FrameRate))
	set(engine.PresenceSweepsPerFrame, float64(c.SweepsPerFrame))
	set(engine.PresenceResetFiltersOnPrepare, engine.Bool(c.ResetFiltersOnPrepare))
	set(engine.PresenceIntraDetection, engine.Bool(c.IntraDetection))
	set(engine.PresenceIntraThreshold, float64(c.IntraThreshold))
	set(engine.PresenceInterDetection, engine.Bool(c.InterDetection))
	set(engine.PresenceInterThreshold, float64(c.InterThreshold))
}

// Metadata is what the engine derived from the config when the detector was created.
type Metadata struct {
	Start      float32        `yaml:"start"`
	End        float32        `yaml:"end"`
	StepLength float32        `yaml:"step_length"`
	NumPoints  uint16         `yaml:"num_points"`
	Profile    config.Profile `yaml:"profile"`
}

type Result struct {
	Detected          bool      `yaml:"detected"`
	IntraScore        float32   `yaml:"intra_score"`
	InterScore        float32   `yaml:"inter_score"`
	Distance          float32   `yaml:"distance"`
	DepthwiseIntra    []float32 `yaml:"-"`
	DepthwiseInter    []float32 `yaml:"-"`
	DataSaturated     bool      `yaml:"data_saturated"`
	FrameDelayed      bool      `yaml:"frame_delayed"`
	CalibrationNeeded bool      `yaml:"calibration_needed"`
	Temperature       int16     `yaml:"temperature"`
}

type Detector struct {
	radar    *radar.Ready
	config   Config
	metadata Metadata
	eng      engine.PresenceEngine
	cfg      engine.PresenceConfigRef
	ref      engine.PresenceRef
}

// New creates the detector for a Ready radar.
func New(r *radar.Ready, cfg Config) (*Detector, error) {
	if err := detector.Live(r); err != nil {
		return nil, err
	}
	d := &Detector{radar: r, config: cfg}
	err := r.Do(func(eng engine.Engine, _ *sensor.Handle, _ a121.InterruptLine) error {
		d.eng = eng
		d.cfg = eng.PresenceConfigCreate()
		if d.cfg == 0 {
			return fmt.Errorf("presence: could not create config: %w", a121.ErrInitFailed)
		}
		cfg.apply(eng, d.cfg)
		var meta engine.PresenceMetadata
		d.ref = eng.PresenceCreate(d.cfg, &meta)
		if d.ref == 0 {
			eng.PresenceConfigDestroy(d.cfg)
			d.cfg = 0
			return fmt.Errorf("presence: could not create detector: %w", a121.ErrInitFailed)
		}
		d.metadata = Metadata{
			Start:      meta.Start,
			End:        meta.End,
			StepLength: meta.StepLength,
			NumPoints:  meta.NumPoints,
			Profile:    config.Profile(meta.Profile),
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

func (d *Detector) Metadata() Metadata {
	return d.metadata
}

// Close destroys the detector and its config. Further calls are no-ops.
func (d *Detector) Close() {
	if d.ref != 0 {
		d.eng.PresenceDestroy(d.ref)
		d.ref = 0
	}
	if d.cfg != 0 {
		d.eng.PresenceConfigDestroy(d.cfg)
		d.cfg = 0
	}
}

func (d *Detector) bufferSize() (int, error) {
	n, ok := d.eng.PresenceBufferSize(d.ref)
	if !ok {
		return 0, fmt.Errorf("presence: could not query buffer size: %w", a121.ErrInitFailed)
	}
	return int(n), nil
}

// BufferSize asks the engine for the prepare, measure and process buffer length.
func (d *Detector) BufferSize() (int, error) {
	var n int
	err := d.radar.Do(func(engine.Engine, *sensor.Handle, a121.InterruptLine) error {
		var err error
		n, err = d.bufferSize()
		return err
	})
	return n, err
}

// MemoryRequirements sizes the detector for the radar config.
func (d *Detector) MemoryRequirements() memory.Requirements {
	return memory.NewPresence(d.radar.Config()).Requirements()
}

func (d *Detector) PrepareDetector(cal *sensor.CalibrationResult, buf []byte) error {
	return d.prepare(cal, buf, true)
}

func (d *Detector) PrepareDetectorUnchecked(cal *sensor.CalibrationResult, buf []byte) error {
	return d.prepare(cal, buf, false)
}

func (d *Detector) prepare(cal *sensor.CalibrationResult, buf []byte, checked bool) error {
	return d.radar.Do(func(eng engine.Engine, s *sensor.Handle, _ a121.InterruptLine) error {
		if checked {
			n, err := d.bufferSize()
			if err != nil {
				return err
			}
			if err := detector.CheckBuffer("presence: prepare buffer", n, len(buf)); err != nil {
				return err
			}
		}
		if !eng.PresencePrepare(d.ref, d.cfg, s.Ref(), cal.Raw(), buf) {
			return fmt.Errorf("presence: %w", a121.ErrPrepareFailed)
		}
		return nil
	})
}

func (d *Detector) Measure(ctx context.Context, buf []byte) error {
	n, err := d.BufferSize()
	if err != nil {
		return err
	}
	if err := detector.CheckBuffer("presence: measure buffer", n, len(buf)); err != nil {
		return err
	}
	return d.radar.MeasureUnchecked(ctx, buf)
}

func (d *Detector) MeasureUnchecked(ctx context.Context, buf []byte) error {
	return d.radar.MeasureUnchecked(ctx, buf)
}

// DetectPresence processes the frame last measured into buf.
func (d *Detector) DetectPresence(buf []byte) (Result, error) {
	return d.detect(buf, true)
}

func (d *Detector) DetectPresenceUnchecked(buf []byte) (Result, error) {
	return d.detect(buf, false)
}

func (d *Detector) detect(buf []byte, checked bool) (Result, error) {
	var res engine.PresenceResult
	err := d.radar.Do(func(eng engine.Engine, _ *sensor.Handle, _ a121.InterruptLine) error {
		if checked {
			n, err := d.bufferSize()
			if err != nil {
				return err
			}
			if err := detector.CheckBuffer("presence: process buffer", n, len(buf)); err != nil {
				return err
			}
		}
		if !eng.PresenceProcess(d.ref, buf, &res) {
			return fmt.Errorf("presence: %w", a121.ErrProcessingFailed)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return Result{
		Detected:          res.PresenceDetected,
		IntraScore:        res.IntraScore,
		InterScore:        res.InterScore,
		Distance:          res.Distance,
		DepthwiseIntra:    res.DepthwiseIntra,
		DepthwiseInter:    res.DepthwiseInter,
		DataSaturated:     res.Processing.DataSaturated,
		FrameDelayed:      res.Processing.FrameDelayed,
		CalibrationNeeded: res.Processing.CalibrationNeeded,
		Temperature:       res.Processing.Temperature,
	}, nil
}
