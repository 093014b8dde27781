package config

import (
	"fmt"

	"github.com/mklimuk/a121/engine"
)

// Subsweep addresses one subsweep of a RadarConfig. Once the config's subsweep count
// drops to its index, getters return zero values and setters fail with ErrNumSubsweeps.
type Subsweep struct {
	cfg   *RadarConfig
	index uint8
}

func (s *Subsweep) Index() uint8 {
	return s.index
}

// Valid reports whether the index is still below the config's subsweep count.
func (s *Subsweep) Valid() bool {
	return s.index < s.cfg.NumSubsweeps()
}

func (s *Subsweep) get(p engine.Param) float64 {
	if !s.Valid() {
		return 0
	}
	return s.cfg.eng.ConfigGet(s.cfg.ref, p, s.index)
}

func (s *Subsweep) set(p engine.Param, v float64) error {
	if n := s.cfg.NumSubsweeps(); s.index >= n {
		return fmt.Errorf("%w: subsweep %d of %d", ErrNumSubsweeps, s.index, n)
	}
	s.cfg.eng.ConfigSet(s.cfg.ref, p, s.index, v)
	return nil
}

func (s *Subsweep) SetStartPoint(v int32) error { return s.set(engine.ParamStartPoint, float64(v)) }
func (s *Subsweep) StartPoint() int32           { return int32(s.get(engine.ParamStartPoint)) }

func (s *Subsweep) SetNumPoints(v uint16) error { return s.set(engine.ParamNumPoints, float64(v)) }
func (s *Subsweep) NumPoints() uint16           { return uint16(s.get(engine.ParamNumPoints)) }

func (s *Subsweep) SetStepLength(v uint16) error { return s.set(engine.ParamStepLength, float64(v)) }
func (s *Subsweep) StepLength() uint16           { return uint16(s.get(engine.ParamStepLength)) }

func (s *Subsweep) SetProfile(p Profile) error {
	if !p.Valid() {
		return fmt.Errorf("%w: %d", ErrProfile, p)
	}
	return s.set(engine.ParamProfile, float64(p))
}

func (s *Subsweep) Profile() Profile { return Profile(s.get(engine.ParamProfile)) }

func (s *Subsweep) SetHWAAS(v HWAAS) error {
	if v > MaxHWAAS {
		return fmt.Errorf("%w: %d", ErrHWAAS, v)
	}
	return s.set(engine.ParamHWAAS, float64(v))
}

func (s *Subsweep) HWAAS() HWAAS { return HWAAS(s.get(engine.ParamHWAAS)) }

func (s *Subsweep) SetReceiverGain(v uint8) error {
	if v > MaxReceiverGain {
		return fmt.Errorf("%w: %d", ErrReceiverGain, v)
	}
	return s.set(engine.ParamReceiverGain, float64(v))
}

func (s *Subsweep) ReceiverGain() uint8 { return uint8(s.get(engine.ParamReceiverGain)) }

func (s *Subsweep) SetTransmitterEnabled(on bool) error {
	return s.set(engine.ParamEnableTx, engine.Bool(on))
}

func (s *Subsweep) TransmitterEnabled() bool { return s.get(engine.ParamEnableTx) != 0 }

func (s *Subsweep) SetPRF(p PRF) error {
	if !p.Valid() {
		return fmt.Errorf("%w: %d", ErrPRF, p)
	}
	return s.set(engine.ParamPRF, float64(p))
}

func (s *Subsweep) PRF() PRF { return PRF(s.get(engine.ParamPRF)) }

func (s *Subsweep) SetPhaseEnhancement(on bool) error {
	return s.set(engine.ParamPhaseEnhancement, engine.Bool(on))
}

func (s *Subsweep) PhaseEnhancement() bool { return s.get(engine.ParamPhaseEnhancement) != 0 }

func (s *Subsweep) SetLoopback(on bool) error { return s.set(engine.ParamEnableLoopback, engine.Bool(on)) }
func (s *Subsweep) Loopback() bool            { return s.get(engine.ParamEnableLoopback) != 0 }

var (
	subsweepParams = []engine.Param{
		engine.ParamStartPoint,
		engine.ParamNumPoints,
		engine.ParamStepLength,
		engine.ParamProfile,
		engine.ParamHWAAS,
		engine.ParamReceiverGain,
		engine.ParamEnableTx,
		engine.ParamPRF,
		engine.ParamPhaseEnhancement,
		engine.ParamEnableLoopback,
	}
	configParams = []engine.Param{
		engine.ParamNumSubsweeps,
		engine.ParamSweepsPerFrame,
		engine.ParamSweepRate,
		engine.ParamFrameRate,
		engine.ParamContinuousSweepMode,
		engine.ParamDoubleBuffering,
		engine.ParamInterFrameIdleState,
		engine.ParamInterSweepIdleState,
	}
)

// Snapshot holds every parameter of a config, subsweeps included.
type Snapshot struct {
	config    map[engine.Param]float64
	subsweeps [engine.MaxSubsweeps]map[engine.Param]float64
}

// Snapshot copies the current parameter values.
func (c *RadarConfig) Snapshot() Snapshot {
	s := Snapshot{config: make(map[engine.Param]float64, len(configParams))}
	for _, p := range configParams {
		s.config[p] = c.eng.ConfigGet(c.ref, p, 0)
	}
	for i := range s.subsweeps {
		s.subsweeps[i] = make(map[engine.Param]float64, len(subsweepParams))
		for _, p := range subsweepParams {
			s.subsweeps[i][p] = c.eng.ConfigGet(c.ref, p, uint8(i))
		}
	}
	return s
}

// Restore writes a snapshot back. The subsweep count is restored first so the engine
// accepts the subsweep writes.
func (c *RadarConfig) Restore(s Snapshot) {
	if s.config == nil {
		return
	}
	for _, p := range configParams {
		c.eng.ConfigSet(c.ref, p, 0, s.config[p])
	}
	for i, sub := range s.subsweeps {
		for _, p := range subsweepParams {
			c.eng.ConfigSet(c.ref, p, uint8(i), sub[p])
		}
	}
}
