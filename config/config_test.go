package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/a121"
	"github.com/mklimuk/a121/engine/sim"
)

func newConfig(t *testing.T) (*RadarConfig, *sim.Engine) {
	t.Helper()
	eng := sim.New()
	require.True(t, eng.RegisterHAL(sim.GoHAL()))
	cfg, err := New(eng)
	require.NoError(t, err)
	t.Cleanup(cfg.Close)
	return cfg, eng
}

func TestNew_InitFailed(t *testing.T) {
	eng := sim.New()
	require.True(t, eng.RegisterHAL(sim.GoHAL()))
	eng.Fail(sim.OpConfigCreate, true)
	_, err := New(eng)
	assert.ErrorIs(t, err, a121.ErrInitFailed)
}

func TestClose_Idempotent(t *testing.T) {
	cfg, eng := newConfig(t)
	cfg.Close()
	cfg.Close()
	assert.Zero(t, eng.Live())
	assert.Zero(t, cfg.Ref())
}

func TestDefaults(t *testing.T) {
	cfg, _ := newConfig(t)
	assert.Equal(t, int32(80), cfg.StartPoint())
	assert.Equal(t, uint16(160), cfg.NumPoints())
	assert.Equal(t, uint16(1), cfg.StepLength())
	assert.Equal(t, Profile3, cfg.Profile())
	assert.Equal(t, HWAAS(8), cfg.HWAAS())
	assert.Equal(t, uint8(16), cfg.ReceiverGain())
	assert.True(t, cfg.TransmitterEnabled())
	assert.Equal(t, PRF19_5MHz, cfg.PRF())
	assert.Equal(t, uint8(1), cfg.NumSubsweeps())
	assert.Equal(t, uint16(1), cfg.SweepsPerFrame())
	assert.Equal(t, Unlimited, cfg.FrameRate())
	assert.Equal(t, DeepSleep, cfg.InterFrameIdleState())
	assert.Equal(t, IdleReady, cfg.InterSweepIdleState())
	assert.False(t, cfg.ContinuousSweepMode())
	assert.Equal(t, Discrete{FrameRate: Unlimited, SweepsPerFrame: 1}, cfg.SweepMode())
}

func TestSetters(t *testing.T) {
	cfg, _ := newConfig(t)
	cfg.SetStartPoint(-20)
	cfg.SetNumPoints(300)
	cfg.SetStepLength(4)
	require.NoError(t, cfg.SetProfile(Profile5))
	require.NoError(t, cfg.SetHWAAS(MaxHWAAS))
	require.NoError(t, cfg.SetReceiverGain(MaxReceiverGain))
	require.NoError(t, cfg.SetPRF(PRF5_2MHz))
	cfg.SetTransmitterEnabled(false)
	cfg.SetPhaseEnhancement(true)
	cfg.SetLoopback(true)
	cfg.SetDoubleBuffering(true)
	cfg.SetSweepsPerFrame(8)
	cfg.SetFrameRate(20)

	assert.Equal(t, int32(-20), cfg.StartPoint())
	assert.Equal(t, uint16(300), cfg.NumPoints())
	assert.Equal(t, uint16(4), cfg.StepLength())
	assert.Equal(t, Profile5, cfg.Profile())
	assert.Equal(t, HWAAS(511), cfg.HWAAS())
	assert.Equal(t, uint8(23), cfg.ReceiverGain())
	assert.Equal(t, PRF5_2MHz, cfg.PRF())
	assert.False(t, cfg.TransmitterEnabled())
	assert.True(t, cfg.PhaseEnhancement())
	assert.True(t, cfg.Loopback())
	assert.True(t, cfg.DoubleBuffering())
	assert.Equal(t, uint16(8), cfg.SweepsPerFrame())
	assert.Equal(t, FrameRate(20), cfg.FrameRate())
}

func TestSetters_Rejected(t *testing.T) {
	cfg, _ := newConfig(t)
	tests := []struct {
		name string
		set  func() error
		err  error
	}{
		{"profile 0", func() error { return cfg.SetProfile(0) }, ErrProfile},
		{"profile 6", func() error { return cfg.SetProfile(6) }, ErrProfile},
		{"hwaas", func() error { return cfg.SetHWAAS(512) }, ErrHWAAS},
		{"gain", func() error { return cfg.SetReceiverGain(24) }, ErrReceiverGain},
		{"prf", func() error { return cfg.SetPRF(6) }, ErrPRF},
		{"sweep rate zero", func() error { return cfg.SetSweepRate(0) }, ErrSweepRate},
		{"sweep rate negative", func() error { return cfg.SetSweepRate(-1) }, ErrSweepRate},
		{"no subsweeps", func() error { return cfg.SetNumSubsweeps(0) }, ErrNumSubsweeps},
		{"too many subsweeps", func() error { return cfg.SetNumSubsweeps(5) }, ErrNumSubsweeps},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := cfg.Snapshot()
			assert.ErrorIs(t, tt.set(), tt.err)
			assert.Equal(t, before, cfg.Snapshot())
		})
	}
}

func TestContinuousSweepMode(t *testing.T) {
	tests := []struct {
		name  string
		setup func(c *RadarConfig)
		err   error
	}{
		{
			name: "valid",
			setup: func(c *RadarConfig) {
				require.NoError(t, c.SetSweepRate(1000))
				c.SetInterSweepIdleState(DeepSleep)
			},
		},
		{
			name: "limited frame rate",
			setup: func(c *RadarConfig) {
				require.NoError(t, c.SetSweepRate(1000))
				c.SetInterSweepIdleState(DeepSleep)
				c.SetFrameRate(10)
			},
			err: ErrContinuousSweepMode,
		},
		{
			name: "no sweep rate",
			setup: func(c *RadarConfig) {
				c.SetInterSweepIdleState(DeepSleep)
			},
			err: ErrContinuousSweepMode,
		},
		{
			name: "idle states differ",
			setup: func(c *RadarConfig) {
				require.NoError(t, c.SetSweepRate(1000))
			},
			err: ErrContinuousSweepMode,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, _ := newConfig(t)
			tt.setup(cfg)
			err := cfg.SetContinuousSweepMode(true)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				assert.False(t, cfg.ContinuousSweepMode())
				return
			}
			assert.NoError(t, err)
			assert.True(t, cfg.ContinuousSweepMode())
		})
	}
}

func TestContinuousSweepMode_DisableAlwaysAllowed(t *testing.T) {
	cfg, _ := newConfig(t)
	cfg.SetFrameRate(10)
	assert.NoError(t, cfg.SetContinuousSweepMode(false))
}

func TestSetSweepMode(t *testing.T) {
	cfg, _ := newConfig(t)
	cfg.SetInterSweepIdleState(DeepSleep)
	require.NoError(t, cfg.SetSweepMode(Continuous{SweepRate: 500}))
	assert.Equal(t, Continuous{SweepRate: 500}, cfg.SweepMode())

	require.NoError(t, cfg.SetSweepMode(Discrete{FrameRate: 5, SweepsPerFrame: 4}))
	assert.Equal(t, Discrete{FrameRate: 5, SweepsPerFrame: 4}, cfg.SweepMode())

	// frame rate is now limited, so continuous mode is refused and the sweep rate restored
	err := cfg.SetSweepMode(Continuous{SweepRate: 800})
	assert.ErrorIs(t, err, ErrContinuousSweepMode)
	assert.Equal(t, float32(500), cfg.SweepRate())
	assert.False(t, cfg.ContinuousSweepMode())
}

func TestSubsweeps(t *testing.T) {
	cfg, _ := newConfig(t)
	_, ok := cfg.Subsweep(1)
	assert.False(t, ok)

	require.NoError(t, cfg.SetNumSubsweeps(3))
	for i := uint8(0); i < 3; i++ {
		sub, ok := cfg.Subsweep(i)
		require.True(t, ok)
		assert.Equal(t, i, sub.Index())
		require.NoError(t, sub.SetNumPoints(uint16(10*(i+1))))
	}
	_, ok = cfg.Subsweep(3)
	assert.False(t, ok)
	assert.Equal(t, 60, cfg.TotalPoints())

	sub, _ := cfg.Subsweep(2)
	require.NoError(t, sub.SetProfile(Profile1))
	require.NoError(t, sub.SetPRF(PRF13_0MHz))
	assert.ErrorIs(t, sub.SetHWAAS(600), ErrHWAAS)
	assert.Equal(t, Profile1, sub.Profile())
	assert.Equal(t, Profile3, cfg.Profile(), "config accessors address subsweep 0")

	cfg.SetSweepsPerFrame(2)
	size, err := cfg.BufferSize()
	require.NoError(t, err)
	assert.Equal(t, 60*2*4, size)
}

func TestSubsweep_BoundedByCount(t *testing.T) {
	cfg, _ := newConfig(t)
	require.NoError(t, cfg.SetNumSubsweeps(4))
	sub, ok := cfg.Subsweep(3)
	require.True(t, ok)
	require.NoError(t, sub.SetNumPoints(40))
	assert.True(t, sub.Valid())

	require.NoError(t, cfg.SetNumSubsweeps(1))
	assert.False(t, sub.Valid())
	assert.ErrorIs(t, sub.SetNumPoints(777), ErrNumSubsweeps)
	assert.ErrorIs(t, sub.SetProfile(Profile2), ErrNumSubsweeps)
	assert.ErrorIs(t, sub.SetLoopback(true), ErrNumSubsweeps)
	assert.Zero(t, sub.NumPoints())

	require.NoError(t, cfg.SetNumSubsweeps(4))
	assert.Equal(t, uint16(40), sub.NumPoints(), "rejected writes never reached the engine")
}

func TestBufferSize_Error(t *testing.T) {
	cfg, eng := newConfig(t)
	eng.Fail(sim.OpConfigBufferSize, true)
	_, err := cfg.BufferSize()
	assert.ErrorIs(t, err, ErrBufferSize)
}

func TestSnapshotRestore(t *testing.T) {
	cfg, _ := newConfig(t)
	snap := cfg.Snapshot()
	require.NoError(t, cfg.SetNumSubsweeps(2))
	sub, _ := cfg.Subsweep(1)
	require.NoError(t, sub.SetStartPoint(400))
	cfg.SetNumPoints(20)
	cfg.SetFrameRate(7)

	cfg.Restore(snap)
	assert.Equal(t, snap, cfg.Snapshot())
	assert.Equal(t, uint8(1), cfg.NumSubsweeps())
	assert.Equal(t, uint16(160), cfg.NumPoints())
	assert.Equal(t, Unlimited, cfg.FrameRate())
}

func TestPRF(t *testing.T) {
	tests := []struct {
		prf PRF
		hz  uint32
		mmd float32
	}{
		{PRF19_5MHz, 19_500_000, 3.1},
		{PRF15_6MHz, 15_600_000, 5.1},
		{PRF13_0MHz, 13_000_000, 7.0},
		{PRF8_7MHz, 8_700_000, 12.7},
		{PRF6_5MHz, 6_500_000, 18.5},
		{PRF5_2MHz, 5_200_000, 24.3},
		{PRF(9), 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.prf.String(), func(t *testing.T) {
			assert.Equal(t, tt.hz, tt.prf.Hz())
			assert.Equal(t, tt.mmd, tt.prf.MaxMeasurableDistance())
		})
	}
}

func TestNewHWAAS(t *testing.T) {
	h, err := NewHWAAS(511)
	assert.NoError(t, err)
	assert.Equal(t, HWAAS(511), h)
	_, err = NewHWAAS(512)
	assert.ErrorIs(t, err, ErrHWAAS)
}

func TestParseProfile(t *testing.T) {
	for v := -1; v <= 6; v++ {
		p, err := ParseProfile(v)
		if v < 1 || v > 5 {
			assert.ErrorIs(t, err, ErrProfile, "value %d", v)
			continue
		}
		assert.NoError(t, err)
		assert.True(t, p.Valid())
	}
}
