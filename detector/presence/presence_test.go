package presence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/a121"
	"github.com/mklimuk/a121/config"
	"github.com/mklimuk/a121/engine"
	"github.com/mklimuk/a121/engine/sim"
	"github.com/mklimuk/a121/memory"
	"github.com/mklimuk/a121/radar"
	"github.com/mklimuk/a121/sensor"
)

// MockEnableLine is a mock implementation of a121.EnableLine using testify/mock
type MockEnableLine struct {
	mock.Mock
}

func (m *MockEnableLine) Set(ctx context.Context, high bool) error {
	args := m.Called(ctx, high)
	return args.Error(0)
}

type fixture struct {
	eng   *sim.Engine
	ready *radar.Ready
	cal   *sensor.CalibrationResult
	det   *Detector
	buf   []byte
}

func newFixture(t *testing.T, cfg Config, opts ...sim.Opt) *fixture {
	t.Helper()
	eng := sim.New(opts...)
	enable := &MockEnableLine{}
	enable.On("Set", mock.Anything, mock.Anything).Return(nil)
	e, err := radar.New(context.Background(), eng, 1, sim.NewSPI(), eng.Interrupt(), enable, radar.WithSettleDelay(time.Microsecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	cal, err := e.Calibrate(context.Background())
	require.NoError(t, err)
	r, err := e.PrepareSensor(cal)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	det, err := New(r, cfg)
	require.NoError(t, err)
	t.Cleanup(det.Close)
	size, err := det.BufferSize()
	require.NoError(t, err)
	return &fixture{eng: eng, ready: r, cal: cal, det: det, buf: make([]byte, size)}
}

func (f *fixture) measure(t *testing.T) Result {
	t.Helper()
	require.NoError(t, f.det.Measure(context.Background(), f.buf))
	res, err := f.det.DetectPresence(f.buf)
	require.NoError(t, err)
	return res
}

// defaultPoints is what Default resolves to: 2.2 m in 30 mm steps.
const defaultPoints = 74

// stepSource is silent on the first frame and returns a steady echo at index on
// every sweep of the following ones.
func stepSource(index int, amplitude int16) sim.FrameSource {
	return func(frame, points int) []engine.IQ {
		f := make([]engine.IQ, points)
		if frame == 0 {
			return f
		}
		for i := index; i < points; i += defaultPoints {
			f[i] = engine.IQ{Real: amplitude}
		}
		return f
	}
}

func TestMetadata(t *testing.T) {
	f := newFixture(t, Default())
	meta := f.det.Metadata()
	assert.InDelta(t, 0.3, meta.Start, 1e-6)
	// start 0.3 selects profile 3 which steps 12 points of 2.5 mm
	assert.Equal(t, config.Profile3, meta.Profile)
	assert.InDelta(t, 0.03, meta.StepLength, 1e-6)
	assert.Equal(t, uint16(defaultPoints), meta.NumPoints)
	assert.LessOrEqual(t, meta.End, float32(2.5))
}

func TestDetectPresence_Empty(t *testing.T) {
	f := newFixture(t, Default())
	require.NoError(t, f.det.PrepareDetector(f.cal, f.buf))
	for range 3 {
		res := f.measure(t)
		assert.False(t, res.Detected)
		assert.Zero(t, res.IntraScore)
		assert.Zero(t, res.InterScore)
		assert.Len(t, res.DepthwiseIntra, defaultPoints)
		assert.Equal(t, int16(25), res.Temperature)
	}
}

func TestDetectPresence_Motion(t *testing.T) {
	f := newFixture(t, Default(), sim.WithFrameSource(stepSource(10, 2000)))
	require.NoError(t, f.det.PrepareDetector(f.cal, f.buf))

	res := f.measure(t)
	assert.False(t, res.Detected)

	res = f.measure(t)
	assert.True(t, res.Detected)
	assert.InDelta(t, 20, res.InterScore, 1e-3)
	meta := f.det.Metadata()
	assert.InDelta(t, meta.Start+10*meta.StepLength, res.Distance, 1e-4)
}

func TestDetectPresence_InterDisabled(t *testing.T) {
	cfg := Default()
	cfg.InterDetection = false
	f := newFixture(t, cfg, sim.WithFrameSource(stepSource(10, 2000)))
	require.NoError(t, f.det.PrepareDetector(f.cal, f.buf))
	f.measure(t)
	res := f.measure(t)
	assert.False(t, res.Detected)
	assert.Greater(t, res.InterScore, cfg.InterThreshold)
}

func TestCheckedOperations_BufferTooSmall(t *testing.T) {
	f := newFixture(t, Default())
	require.NoError(t, f.det.PrepareDetector(f.cal, f.buf))
	short := f.buf[:len(f.buf)-1]
	prepares := f.eng.Calls(sim.OpPresencePrepare)
	measures := f.eng.Calls(sim.OpMeasure)

	tests := []struct {
		name string
		call func() error
	}{
		{"prepare", func() error { return f.det.PrepareDetector(f.cal, short) }},
		{"measure", func() error { return f.det.Measure(context.Background(), short) }},
		{"detect", func() error {
			_, err := f.det.DetectPresence(short)
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.call(), a121.ErrBufferTooSmall)
		})
	}
	assert.Equal(t, prepares, f.eng.Calls(sim.OpPresencePrepare))
	assert.Equal(t, measures, f.eng.Calls(sim.OpMeasure))
	assert.Zero(t, f.eng.Calls(sim.OpPresenceProcess))
}

func TestUnchecked(t *testing.T) {
	f := newFixture(t, Default())
	require.NoError(t, f.det.PrepareDetectorUnchecked(f.cal, f.buf))
	require.NoError(t, f.det.MeasureUnchecked(context.Background(), f.buf))
	_, err := f.det.DetectPresenceUnchecked(f.buf)
	assert.NoError(t, err)
}

func TestDetectPresence_Failed(t *testing.T) {
	f := newFixture(t, Default())
	require.NoError(t, f.det.PrepareDetector(f.cal, f.buf))
	require.NoError(t, f.det.Measure(context.Background(), f.buf))
	f.eng.Fail(sim.OpPresenceProcess, true)
	_, err := f.det.DetectPresence(f.buf)
	assert.ErrorIs(t, err, a121.ErrProcessingFailed)
}

func TestPrepareDetector_Failed(t *testing.T) {
	f := newFixture(t, Default())
	f.eng.Fail(sim.OpPresencePrepare, true)
	assert.ErrorIs(t, f.det.PrepareDetector(f.cal, f.buf), a121.ErrPrepareFailed)
}

func TestCalibrationNeeded(t *testing.T) {
	f := newFixture(t, Default(), sim.WithCalibrationNeededEvery(1))
	require.NoError(t, f.det.PrepareDetector(f.cal, f.buf))
	res := f.measure(t)
	assert.True(t, res.CalibrationNeeded)
}

func TestNew_NotReady(t *testing.T) {
	_, err := New(nil, Default())
	assert.ErrorIs(t, err, a121.ErrNotReady)

	f := newFixture(t, Default())
	h, err := f.ready.HibernateOn()
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	_, err = New(f.ready, Default())
	assert.ErrorIs(t, err, a121.ErrNotReady)
	_, err = f.det.BufferSize()
	assert.ErrorIs(t, err, a121.ErrNotReady)
}

func TestNew_InitFailed(t *testing.T) {
	f := newFixture(t, Default())
	tests := []struct {
		name   string
		config func() Config
		fail   sim.Op
	}{
		{"empty range", func() Config {
			cfg := Default()
			cfg.End = cfg.Start
			return cfg
		}, -1},
		{"config", Default, sim.OpPresenceConfigCreate},
		{"detector", Default, sim.OpPresenceCreate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			live := f.eng.Live()
			if tt.fail >= 0 {
				f.eng.Fail(tt.fail, true)
				defer f.eng.Fail(tt.fail, false)
			}
			_, err := New(f.ready, tt.config())
			assert.ErrorIs(t, err, a121.ErrInitFailed)
			assert.Equal(t, live, f.eng.Live())
		})
	}
}

func TestClose(t *testing.T) {
	f := newFixture(t, Default())
	live := f.eng.Live()
	f.det.Close()
	f.det.Close()
	assert.Equal(t, live-2, f.eng.Live())
}

func TestMemoryRequirements(t *testing.T) {
	f := newFixture(t, Default())
	req := f.det.MemoryRequirements()
	assert.Equal(t, memory.PresenceTotal(160, 1, 1), req.Total)
}

func TestConfigApply(t *testing.T) {
	eng := sim.New()
	ref := eng.PresenceConfigCreate()
	cfg := Default()
	cfg.IntraThreshold = 2.5
	cfg.InterDetection = false
	cfg.apply(eng, ref)
	assert.InDelta(t, 2.5, eng.PresenceConfigGet(ref, engine.PresenceIntraThreshold), 1e-6)
	assert.Equal(t, float64(0), eng.PresenceConfigGet(ref, engine.PresenceInterDetection))
	assert.Equal(t, float64(16), eng.PresenceConfigGet(ref, engine.PresenceSweepsPerFrame))
}
