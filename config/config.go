// Package config wraps the engine's sensor configuration object.
//
// A RadarConfig owns exactly one engine config ref. Mutations that would leave the
// config in a state the engine rejects at prepare time fail here and leave the config
// unchanged.
package config

import (
	"errors"
	"fmt"

	"github.com/mklimuk/a121"
	"github.com/mklimuk/a121/engine"
)

var (
	ErrHWAAS               = errors.New("config: hwaas out of range")
	ErrProfile             = errors.New("config: profile out of range")
	ErrPRF                 = errors.New("config: unknown pulse repetition frequency")
	ErrReceiverGain        = errors.New("config: receiver gain out of range")
	ErrContinuousSweepMode = errors.New("config: continuous sweep mode needs unlimited frame rate, positive sweep rate and equal idle states")
	ErrSweepRate           = errors.New("config: sweep rate must be positive")
	ErrNumSubsweeps        = errors.New("config: subsweep count out of range")
	ErrBufferSize          = errors.New("config: buffer size could not be determined")
)

// Reader is the read-only view of a config handed out while the sensor is prepared.
type Reader interface {
	StartPoint() int32
	NumPoints() uint16
	StepLength() uint16
	Profile() Profile
	HWAAS() HWAAS
	ReceiverGain() uint8
	TransmitterEnabled() bool
	PRF() PRF
	PhaseEnhancement() bool
	Loopback() bool
	NumSubsweeps() uint8
	SweepsPerFrame() uint16
	SweepRate() float32
	FrameRate() FrameRate
	ContinuousSweepMode() bool
	DoubleBuffering() bool
	InterFrameIdleState() IdleState
	InterSweepIdleState() IdleState
	TotalPoints() int
	BufferSize() (int, error)
}

var _ Reader = &RadarConfig{}

type RadarConfig struct {
	eng engine.ConfigEngine
	ref engine.ConfigRef
}

// New creates the engine object. It fails with a121.ErrInitFailed when the engine
// returns a null ref.
func New(eng engine.ConfigEngine) (*RadarConfig, error) {
	ref := eng.ConfigCreate()
	if ref == 0 {
		return nil, fmt.Errorf("config: could not create config: %w", a121.ErrInitFailed)
	}
	return &RadarConfig{eng: eng, ref: ref}, nil
}

// Ref is the engine ref, valid until Close.
func (c *RadarConfig) Ref() engine.ConfigRef {
	return c.ref
}

// Close destroys the engine object. Further calls are no-ops.
func (c *RadarConfig) Close() {
	if c.ref == 0 {
		return
	}
	c.eng.ConfigDestroy(c.ref)
	c.ref = 0
}

func (c *RadarConfig) get(p engine.Param) float64 {
	return c.eng.ConfigGet(c.ref, p, 0)
}

func (c *RadarConfig) set(p engine.Param, v float64) {
	c.eng.ConfigSet(c.ref, p, 0, v)
}

// Log dumps the config through the engine log.
func (c *RadarConfig) Log() {
	c.eng.ConfigLog(c.ref)
}

// BufferSize is the minimum prepare and read buffer for this config.
func (c *RadarConfig) BufferSize() (int, error) {
	n, ok := c.eng.ConfigBufferSize(c.ref)
	if !ok {
		return 0, ErrBufferSize
	}
	return int(n), nil
}

// SetStartPoint sets the first point of subsweep 0, in 2.5 mm steps.
func (c *RadarConfig) SetStartPoint(v int32) { c.set(engine.ParamStartPoint, float64(v)) }
func (c *RadarConfig) StartPoint() int32     { return int32(c.get(engine.ParamStartPoint)) }

func (c *RadarConfig) SetNumPoints(v uint16) { c.set(engine.ParamNumPoints, float64(v)) }
func (c *RadarConfig) NumPoints() uint16     { return uint16(c.get(engine.ParamNumPoints)) }

func (c *RadarConfig) SetStepLength(v uint16) { c.set(engine.ParamStepLength, float64(v)) }
func (c *RadarConfig) StepLength() uint16     { return uint16(c.get(engine.ParamStepLength)) }

func (c *RadarConfig) SetProfile(p Profile) error {
	if !p.Valid() {
		return fmt.Errorf("%w: %d", ErrProfile, p)
	}
	c.set(engine.ParamProfile, float64(p))
	return nil
}

func (c *RadarConfig) Profile() Profile { return Profile(c.get(engine.ParamProfile)) }

func (c *RadarConfig) SetHWAAS(v HWAAS) error {
	if v > MaxHWAAS {
		return fmt.Errorf("%w: %d", ErrHWAAS, v)
	}
	c.set(engine.ParamHWAAS, float64(v))
	return nil
}

func (c *RadarConfig) HWAAS() HWAAS { return HWAAS(c.get(engine.ParamHWAAS)) }

func (c *RadarConfig) SetReceiverGain(v uint8) error {
	if v > MaxReceiverGain {
		return fmt.Errorf("%w: %d", ErrReceiverGain, v)
	}
	c.set(engine.ParamReceiverGain, float64(v))
	return nil
}

func (c *RadarConfig) ReceiverGain() uint8 { return uint8(c.get(engine.ParamReceiverGain)) }

func (c *RadarConfig) SetTransmitterEnabled(on bool) { c.set(engine.ParamEnableTx, engine.Bool(on)) }
func (c *RadarConfig) TransmitterEnabled() bool      { return c.get(engine.ParamEnableTx) != 0 }

func (c *RadarConfig) SetPRF(p PRF) error {
	if !p.Valid() {
		return fmt.Errorf("%w: %d", ErrPRF, p)
	}
	c.set(engine.ParamPRF, float64(p))
	return nil
}

func (c *RadarConfig) PRF() PRF { return PRF(c.get(engine.ParamPRF)) }

func (c *RadarConfig) SetPhaseEnhancement(on bool) {
	c.set(engine.ParamPhaseEnhancement, engine.Bool(on))
}

func (c *RadarConfig) PhaseEnhancement() bool { return c.get(engine.ParamPhaseEnhancement) != 0 }

func (c *RadarConfig) SetLoopback(on bool) { c.set(engine.ParamEnableLoopback, engine.Bool(on)) }
func (c *RadarConfig) Loopback() bool      { return c.get(engine.ParamEnableLoopback) != 0 }

func (c *RadarConfig) SetSweepsPerFrame(v uint16) { c.set(engine.ParamSweepsPerFrame, float64(v)) }
func (c *RadarConfig) SweepsPerFrame() uint16     { return uint16(c.get(engine.ParamSweepsPerFrame)) }

func (c *RadarConfig) SetFrameRate(f FrameRate) { c.set(engine.ParamFrameRate, float64(f)) }
func (c *RadarConfig) FrameRate() FrameRate     { return FrameRate(c.get(engine.ParamFrameRate)) }

func (c *RadarConfig) SetDoubleBuffering(on bool) {
	c.set(engine.ParamDoubleBuffering, engine.Bool(on))
}

func (c *RadarConfig) DoubleBuffering() bool { return c.get(engine.ParamDoubleBuffering) != 0 }

func (c *RadarConfig) SetInterFrameIdleState(s IdleState) {
	c.set(engine.ParamInterFrameIdleState, float64(s))
}

func (c *RadarConfig) InterFrameIdleState() IdleState {
	return IdleState(c.get(engine.ParamInterFrameIdleState))
}

func (c *RadarConfig) SetInterSweepIdleState(s IdleState) {
	c.set(engine.ParamInterSweepIdleState, float64(s))
}

func (c *RadarConfig) InterSweepIdleState() IdleState {
	return IdleState(c.get(engine.ParamInterSweepIdleState))
}

// SetSweepRate sets the continuous mode sweep rate in Hz.
func (c *RadarConfig) SetSweepRate(hz float32) error {
	if hz <= 0 {
		return fmt.Errorf("%w: %v", ErrSweepRate, hz)
	}
	c.set(engine.ParamSweepRate, float64(hz))
	return nil
}

func (c *RadarConfig) SweepRate() float32 { return float32(c.get(engine.ParamSweepRate)) }

// SetContinuousSweepMode enables continuous sweeping. Enabling requires an unlimited
// frame rate, a positive sweep rate and equal inter-frame and inter-sweep idle states.
func (c *RadarConfig) SetContinuousSweepMode(on bool) error {
	if on {
		switch {
		case c.FrameRate().Limited():
			return fmt.Errorf("%w: frame rate is %s", ErrContinuousSweepMode, c.FrameRate())
		case c.SweepRate() <= 0:
			return fmt.Errorf("%w: sweep rate not set", ErrContinuousSweepMode)
		case c.InterFrameIdleState() != c.InterSweepIdleState():
			return fmt.Errorf("%w: idle states %s and %s differ", ErrContinuousSweepMode, c.InterFrameIdleState(), c.InterSweepIdleState())
		}
	}
	c.set(engine.ParamContinuousSweepMode, engine.Bool(on))
	return nil
}

func (c *RadarConfig) ContinuousSweepMode() bool {
	return c.get(engine.ParamContinuousSweepMode) != 0
}

// SetSweepMode applies m as a unit: on error the config is left as it was.
func (c *RadarConfig) SetSweepMode(m SweepMode) error {
	switch m := m.(type) {
	case Continuous:
		prev := c.SweepRate()
		if err := c.SetSweepRate(m.SweepRate); err != nil {
			return err
		}
		if err := c.SetContinuousSweepMode(true); err != nil {
			c.set(engine.ParamSweepRate, float64(prev))
			return err
		}
	case Discrete:
		if err := c.SetContinuousSweepMode(false); err != nil {
			return err
		}
		c.SetFrameRate(m.FrameRate)
		c.SetSweepsPerFrame(m.SweepsPerFrame)
	default:
		return fmt.Errorf("config: unknown sweep mode %T", m)
	}
	return nil
}

// SweepMode reports the active mode.
func (c *RadarConfig) SweepMode() SweepMode {
	if c.ContinuousSweepMode() {
		return Continuous{SweepRate: c.SweepRate()}
	}
	return Discrete{FrameRate: c.FrameRate(), SweepsPerFrame: c.SweepsPerFrame()}
}

func (c *RadarConfig) SetNumSubsweeps(n uint8) error {
	if n == 0 || n > engine.MaxSubsweeps {
		return fmt.Errorf("%w: %d", ErrNumSubsweeps, n)
	}
	c.set(engine.ParamNumSubsweeps, float64(n))
	return nil
}

func (c *RadarConfig) NumSubsweeps() uint8 { return uint8(c.get(engine.ParamNumSubsweeps)) }

// Subsweep returns the accessor for subsweep index, or false when index is not below
// NumSubsweeps.
func (c *RadarConfig) Subsweep(index uint8) (*Subsweep, bool) {
	if index >= c.NumSubsweeps() {
		return nil, false
	}
	return &Subsweep{cfg: c, index: index}, true
}

// TotalPoints sums num points over the active subsweeps.
func (c *RadarConfig) TotalPoints() int {
	total := 0
	for i := uint8(0); i < c.NumSubsweeps(); i++ {
		total += int(c.eng.ConfigGet(c.ref, engine.ParamNumPoints, i))
	}
	return total
}
