package distance

import (
	"github.com/mklimuk/a121/config"
	"github.com/mklimuk/a121/engine"
)

type ThresholdMethod int

const (
	FixedAmplitude ThresholdMethod = iota
	Recorded
	CFAR
	FixedStrength
)

func (m ThresholdMethod) String() string {
	switch m {
	case FixedAmplitude:
		return "fixed amplitude"
	case Recorded:
		return "recorded"
	case CFAR:
		return "cfar"
	case FixedStrength:
		return "fixed strength"
	default:
		return "unknown"
	}
}

type PeakSorting int

const (
	Closest PeakSorting = iota
	Strength
)

type ReflectorShape int

const (
	Generic ReflectorShape = iota
	Planar
)

// Config is the detector configuration. Distances are in meters.
type Config struct {
	SensorID                      engine.SensorID `yaml:"sensor_id" mapstructure:"sensor_id"`
	Start                         float32         `yaml:"start" mapstructure:"start"`
	End                           float32         `yaml:"end" mapstructure:"end"`
	MaxStepLength                 uint16          `yaml:"max_step_length" mapstructure:"max_step_length"`
	CloseRangeLeakageCancellation bool            `yaml:"close_range_leakage_cancellation" mapstructure:"close_range_leakage_cancellation"`
	SignalQuality                 float32         `yaml:"signal_quality" mapstructure:"signal_quality"`
	MaxProfile                    config.Profile  `yaml:"max_profile" mapstructure:"max_profile"`
	ThresholdMethod               ThresholdMethod `yaml:"threshold_method" mapstructure:"threshold_method"`
	FixedAmplitudeThreshold       float32         `yaml:"fixed_amplitude_threshold" mapstructure:"fixed_amplitude_threshold"`
	FixedStrengthThreshold        float32         `yaml:"fixed_strength_threshold" mapstructure:"fixed_strength_threshold"`
	RecordedThresholdFrames       uint16          `yaml:"recorded_threshold_frames" mapstructure:"recorded_threshold_frames"`
	ThresholdSensitivity          float32         `yaml:"threshold_sensitivity" mapstructure:"threshold_sensitivity"`
	PeakSorting                   PeakSorting     `yaml:"peak_sorting" mapstructure:"peak_sorting"`
	ReflectorShape                ReflectorShape  `yaml:"reflector_shape" mapstructure:"reflector_shape"`
}

// Balanced trades range for robustness. A zero MaxStepLength lets the engine pick
// the step from the profile.
func Balanced() Config {
	return Config{
		SensorID:                1,
		Start:                   0.2,
		End:                     3.0,
		SignalQuality:           15,
		MaxProfile:              config.Profile5,
		ThresholdMethod:         CFAR,
		FixedAmplitudeThreshold: 100,
		RecordedThresholdFrames: 100,
		ThresholdSensitivity:    0.5,
		PeakSorting:             Strength,
		ReflectorShape:          Generic,
	}
}

func clamp(v, lo, hi float32) float32 {
	return min(max(v, lo), hi)
}

func (c Config) apply(eng engine.DistanceEngine, ref engine.DistanceConfigRef) {
	set := func(p engine.DistanceParam, v float64) {
		eng.DistanceConfigSet(ref, p, v)
	}
	set(engine.DistanceSensor, float64(c.SensorID))
	set(engine.DistanceStart, float64(c.Start))
	set(engine.DistanceEnd, float64(c.End))
	set(engine.DistanceMaxStepLength, float64(c.MaxStepLength))
	set(engine.DistanceCloseRangeLeakageCancellation, engine.Bool(c.CloseRangeLeakageCancellation))
	set(engine.DistanceSignalQuality, float64(clamp(c.SignalQuality, -10, 35)))
	set(engine.DistanceMaxProfile, float64(c.MaxProfile))
	set(engine.DistanceThresholdMethod, float64(c.ThresholdMethod))
	set(engine.DistanceFixedAmplitudeThreshold, float64(c.FixedAmplitudeThreshold))
	set(engine.DistanceFixedStrengthThreshold, float64(c.FixedStrengthThreshold))
	set(engine.DistanceRecordedThresholdFrames, float64(c.RecordedThresholdFrames))
	set(engine.DistanceThresholdSensitivity, float64(clamp(c.ThresholdSensitivity, 0, 1)))
	set(engine.DistancePeakSorting, float64(c.PeakSorting))
	set(engine.DistanceReflectorShape, float64(c.ReflectorShape))
}
