package radar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/a121"
	"github.com/mklimuk/a121/config"
	"github.com/mklimuk/a121/engine/sim"
	"github.com/mklimuk/a121/hal"
	"github.com/mklimuk/a121/memory"
)

// MockEnableLine is a mock implementation of a121.EnableLine using testify/mock
type MockEnableLine struct {
	mock.Mock
}

func (m *MockEnableLine) Set(ctx context.Context, high bool) error {
	args := m.Called(ctx, high)
	return args.Error(0)
}

func (m *MockEnableLine) last() bool {
	return m.Calls[len(m.Calls)-1].Arguments.Bool(1)
}

func newRadar(t *testing.T, eng *sim.Engine, opts ...Opt) (*Enabled, *MockEnableLine) {
	t.Helper()
	enable := &MockEnableLine{}
	enable.On("Set", mock.Anything, mock.Anything).Return(nil)
	opts = append([]Opt{WithSettleDelay(time.Microsecond)}, opts...)
	r, err := New(context.Background(), eng, 1, sim.NewSPI(), eng.Interrupt(), enable, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r, enable
}

func newReady(t *testing.T, eng *sim.Engine, opts ...Opt) *Ready {
	t.Helper()
	e, _ := newRadar(t, eng, opts...)
	cal, err := e.Calibrate(context.Background())
	require.NoError(t, err)
	r, err := e.PrepareSensor(cal)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestNew_Enabled(t *testing.T) {
	eng := sim.New()
	e, enable := newRadar(t, eng)
	assert.Equal(t, StateEnabled, e.State())
	assert.True(t, enable.last())
	assert.True(t, e.IsConnected())
	assert.Equal(t, "1.5.0", e.RSSVersion().String())

	// Ready-only operations do not exist on Enabled
	_, ok := any(e).(interface {
		Measure(context.Context, []byte) error
	})
	assert.False(t, ok)
}

func TestEndToEnd(t *testing.T) {
	eng := sim.New()
	e, _ := newRadar(t, eng)
	cal, err := e.Calibrate(context.Background())
	require.NoError(t, err)
	temp, err := e.Temperature(cal)
	require.NoError(t, err)
	assert.Equal(t, int16(25), temp)

	r, err := e.PrepareSensor(cal)
	require.NoError(t, err)
	assert.Equal(t, StateReady, r.State())
	defer r.Close()

	buf := make([]byte, 1024)
	require.NoError(t, r.Measure(context.Background(), buf))
	res, err := r.Process(buf)
	require.NoError(t, err)
	assert.Len(t, res.Frame, 160)
	assert.False(t, res.CalibrationNeeded)
	assert.Equal(t, uint16(160), r.ProcessingMetadata().FrameDataLength)
	assert.Same(t, cal, r.Calibration())
}

func TestConsumed(t *testing.T) {
	eng := sim.New()
	e, _ := newRadar(t, eng)
	cal, err := e.Calibrate(context.Background())
	require.NoError(t, err)
	r, err := e.PrepareSensor(cal)
	require.NoError(t, err)
	defer r.Close()

	_, err = e.Calibrate(context.Background())
	assert.ErrorIs(t, err, a121.ErrNotReady)
	_, err = e.PrepareSensor(cal)
	assert.ErrorIs(t, err, a121.ErrNotReady)
	_, err = e.MemoryRequirements()
	assert.ErrorIs(t, err, a121.ErrNotReady)
	assert.False(t, e.IsConnected())
	assert.NoError(t, e.Close(), "closing a consumed value does nothing")

	assert.NoError(t, r.Measure(context.Background(), make([]byte, 640)))
}

func TestHibernateRoundTrip(t *testing.T) {
	eng := sim.New()
	r := newReady(t, eng)
	meta := r.ProcessingMetadata()

	h, err := r.HibernateOn()
	require.NoError(t, err)
	assert.Equal(t, StateHibernating, h.State())
	assert.ErrorIs(t, r.Measure(context.Background(), make([]byte, 640)), a121.ErrNotReady)

	r2, err := h.HibernateOff()
	require.NoError(t, err)
	defer r2.Close()
	_, err = h.HibernateOff()
	assert.ErrorIs(t, err, a121.ErrNotReady)

	assert.Equal(t, meta, r2.ProcessingMetadata())
	assert.NoError(t, r2.Measure(context.Background(), make([]byte, 640)))
}

func TestFailedTransitionKeepsValue(t *testing.T) {
	eng := sim.New()
	e, _ := newRadar(t, eng)
	cal, err := e.Calibrate(context.Background())
	require.NoError(t, err)

	eng.Fail(sim.OpPrepare, true)
	_, err = e.PrepareSensor(cal)
	assert.ErrorIs(t, err, a121.ErrPrepareFailed)
	eng.Fail(sim.OpPrepare, false)

	r, err := e.PrepareSensor(cal)
	require.NoError(t, err)
	defer r.Close()

	eng.Fail(sim.OpHibernateOn, true)
	_, err = r.HibernateOn()
	assert.ErrorIs(t, err, a121.ErrHibernationOnFailed)
	assert.NoError(t, r.Measure(context.Background(), make([]byte, 640)))
}

func TestPrepareSensor_InvalidCalibration(t *testing.T) {
	e, _ := newRadar(t, sim.New())
	cal, err := e.Calibrate(context.Background())
	require.NoError(t, err)
	data, _ := cal.MarshalBinary()
	data[0] ^= 0xFF
	require.NoError(t, cal.UnmarshalBinary(data))
	_, err = e.PrepareSensor(cal)
	assert.ErrorIs(t, err, a121.ErrCalibrationInvalid)
	assert.ErrorIs(t, e.Validate(cal), a121.ErrCalibrationInvalid)
}

func TestMeasure_BufferTooSmall(t *testing.T) {
	eng := sim.New()
	r := newReady(t, eng)
	size, err := r.BufferSize()
	require.NoError(t, err)

	before := eng.Calls(sim.OpMeasure)
	err = r.Measure(context.Background(), make([]byte, size-1))
	assert.ErrorIs(t, err, a121.ErrBufferTooSmall)
	assert.Equal(t, before, eng.Calls(sim.OpMeasure))

	_, err = r.Process(make([]byte, size-1))
	assert.ErrorIs(t, err, a121.ErrBufferTooSmall)

	buf := make([]byte, size)
	assert.NoError(t, r.MeasureUnchecked(context.Background(), buf))
}

func TestMeasure_EngineFailure(t *testing.T) {
	eng := sim.New()
	r := newReady(t, eng)
	eng.Fail(sim.OpMeasure, true)
	assert.ErrorIs(t, r.Measure(context.Background(), make([]byte, 640)), a121.ErrMeasurement)
	eng.Fail(sim.OpMeasure, false)
	eng.Fail(sim.OpRead, true)
	assert.ErrorIs(t, r.Measure(context.Background(), make([]byte, 640)), a121.ErrRead)
}

func TestHeapSizing(t *testing.T) {
	t.Run("session rss heap is enough", func(t *testing.T) {
		newReady(t, sim.New(), WithHeapSize(memory.SessionRSSHeap(1)))
	})
	t.Run("one byte less", func(t *testing.T) {
		e, _ := newRadar(t, sim.New(), WithHeapSize(memory.SessionRSSHeap(1)-1))
		cal, err := e.Calibrate(context.Background())
		require.NoError(t, err)
		_, err = e.PrepareSensor(cal)
		assert.ErrorIs(t, err, a121.ErrPrepareFailed)
	})
	t.Run("no room for the config", func(t *testing.T) {
		eng := sim.New()
		enable := &MockEnableLine{}
		enable.On("Set", mock.Anything, mock.Anything).Return(nil)
		_, err := New(context.Background(), eng, 1, sim.NewSPI(), eng.Interrupt(), enable,
			WithHeapSize(memory.RSSPerConfig-1), WithSettleDelay(time.Microsecond))
		assert.ErrorIs(t, err, a121.ErrInitFailed)
		assert.False(t, enable.last(), "powered off again")
		assert.Zero(t, eng.Live())
	})
}

func TestNew_SingleRegistration(t *testing.T) {
	eng := sim.New()
	first, _ := newRadar(t, eng)

	enable := &MockEnableLine{}
	enable.On("Set", mock.Anything, mock.Anything).Return(nil)
	_, err := New(context.Background(), sim.New(), 1, sim.NewSPI(), eng.Interrupt(), enable, WithSettleDelay(time.Microsecond))
	assert.ErrorIs(t, err, hal.ErrAlreadyRegistered)
	assert.ErrorIs(t, err, a121.ErrInitFailed)

	require.NoError(t, first.Close())
	newRadar(t, sim.New())
}

func TestNew_SensorMissing(t *testing.T) {
	eng := sim.New(sim.WithSensors(2))
	enable := &MockEnableLine{}
	enable.On("Set", mock.Anything, mock.Anything).Return(nil)
	_, err := New(context.Background(), eng, 1, sim.NewSPI(), eng.Interrupt(), enable, WithSettleDelay(time.Microsecond))
	assert.ErrorIs(t, err, a121.ErrInitFailed)
	assert.Zero(t, eng.Live())
	// the slot was released
	newRadar(t, sim.New())
}

func TestNew_EnableError(t *testing.T) {
	eng := sim.New()
	enable := &MockEnableLine{}
	enable.On("Set", mock.Anything, true).Return(errors.New("gpio: not exported"))
	_, err := New(context.Background(), eng, 1, sim.NewSPI(), eng.Interrupt(), enable)
	assert.ErrorIs(t, err, a121.ErrInitFailed)
	assert.Zero(t, eng.Calls(sim.OpRegisterHAL))
}

func TestApplyConfig(t *testing.T) {
	eng := sim.New()
	r := newReady(t, eng)
	boom := errors.New("boom")

	_, err := r.ApplyConfig(context.Background(), func(c *config.RadarConfig) error {
		c.SetNumPoints(20)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, uint16(160), r.Config().NumPoints())
	assert.NoError(t, r.Measure(context.Background(), make([]byte, 640)))

	e, err := r.ApplyConfig(context.Background(), func(c *config.RadarConfig) error {
		c.SetNumPoints(200)
		c.SetSweepsPerFrame(2)
		return nil
	})
	require.NoError(t, err)
	assert.ErrorIs(t, r.Measure(context.Background(), make([]byte, 640)), a121.ErrNotReady)

	cal, err := e.Calibrate(context.Background())
	require.NoError(t, err)
	r2, err := e.PrepareSensor(cal)
	require.NoError(t, err)
	defer r2.Close()
	size, err := r2.BufferSize()
	require.NoError(t, err)
	assert.Equal(t, 200*2*4, size)
	assert.NoError(t, r2.Measure(context.Background(), make([]byte, size)))
}

func TestReadyCalibrate(t *testing.T) {
	eng := sim.New()
	r := newReady(t, eng)
	old := r.Calibration()
	cal, err := r.Calibrate(context.Background())
	require.NoError(t, err)
	assert.NotSame(t, old, cal)
	assert.NoError(t, r.Measure(context.Background(), make([]byte, 640)))
}

func TestReadyCalibrate_FailureKeepsPrepared(t *testing.T) {
	eng := sim.New()
	r := newReady(t, eng)
	old := r.Calibration()
	require.NoError(t, r.Measure(context.Background(), make([]byte, 640)))

	eng.Fail(sim.OpCalibrate, true)
	_, err := r.Calibrate(context.Background())
	assert.ErrorIs(t, err, a121.ErrCalibrationFailed)
	eng.Fail(sim.OpCalibrate, false)

	assert.Equal(t, StateReady, r.State())
	assert.Same(t, old, r.Calibration())
	assert.NoError(t, r.Measure(context.Background(), make([]byte, 640)))
}

func TestReadyCalibrate_FailureReleasesUnpreparedSensor(t *testing.T) {
	eng := sim.New()
	r := newReady(t, eng)

	eng.Fail(sim.OpPrepare, true)
	_, err := r.Calibrate(context.Background())
	assert.ErrorIs(t, err, a121.ErrPrepareFailed)
	assert.ErrorIs(t, err, a121.ErrNotReady)
	eng.Fail(sim.OpPrepare, false)

	assert.ErrorIs(t, r.Measure(context.Background(), make([]byte, 640)), a121.ErrNotReady)
	assert.Nil(t, r.Calibration())
	assert.Zero(t, r.ProcessingMetadata())
	assert.Zero(t, eng.Live())
	// the slot was released
	newRadar(t, sim.New())
}

func TestNew_SettleCancelled(t *testing.T) {
	eng := sim.New()
	enable := &MockEnableLine{}
	enable.On("Set", mock.Anything, mock.Anything).Return(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(ctx, eng, 1, sim.NewSPI(), eng.Interrupt(), enable, WithSettleDelay(time.Hour))
	assert.ErrorIs(t, err, a121.ErrInitFailed)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, enable.last())
	assert.Zero(t, eng.Calls(sim.OpRegisterHAL))
}

func TestReset(t *testing.T) {
	eng := sim.New()
	r := newReady(t, eng)
	h, err := r.HibernateOn()
	require.NoError(t, err)
	e, err := h.Reset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateEnabled, e.State())
	_, err = h.HibernateOff()
	assert.ErrorIs(t, err, a121.ErrNotReady)

	e2, err := e.Reset(context.Background())
	require.NoError(t, err)
	_, err = e.Reset(context.Background())
	assert.ErrorIs(t, err, a121.ErrNotReady)
	require.NoError(t, e2.Close())
}

func TestClose(t *testing.T) {
	eng := sim.New()
	e, enable := newRadar(t, eng)
	cal, err := e.Calibrate(context.Background())
	require.NoError(t, err)
	r, err := e.PrepareSensor(cal)
	require.NoError(t, err)

	require.NoError(t, r.Close())
	assert.Zero(t, eng.Live())
	assert.False(t, enable.last())
	assert.ErrorIs(t, r.CheckStatus(), a121.ErrNotReady)
	assert.NoError(t, r.Close())
}

func TestMemoryRequirements(t *testing.T) {
	e, _ := newRadar(t, sim.New())
	req, err := e.MemoryRequirements()
	require.NoError(t, err)
	assert.Equal(t, memory.SessionRSSHeap(1), req.RSSHeap)
	assert.Equal(t, memory.SessionExternalHeap(160, 1, 1), req.ExternalHeap)
}
