package sensor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/a121"
	"github.com/mklimuk/a121/engine"
	"github.com/mklimuk/a121/engine/sim"
)

// MockEnableLine is a mock implementation of a121.EnableLine using testify/mock
type MockEnableLine struct {
	mock.Mock
}

func (m *MockEnableLine) Set(ctx context.Context, high bool) error {
	args := m.Called(ctx, high)
	return args.Error(0)
}

// irqFunc adapts a function to a121.InterruptLine.
type irqFunc func(ctx context.Context) error

func (f irqFunc) WaitForHigh(ctx context.Context) error {
	return f(ctx)
}

func newEngine(t *testing.T, opts ...sim.Opt) *sim.Engine {
	t.Helper()
	eng := sim.New(opts...)
	require.True(t, eng.RegisterHAL(sim.GoHAL()))
	return eng
}

func newHandle(t *testing.T, eng *sim.Engine) (*Handle, *MockEnableLine) {
	t.Helper()
	enable := &MockEnableLine{}
	enable.On("Set", mock.Anything, mock.Anything).Return(nil)
	h, err := New(eng, 1, enable, WithSettleDelay(time.Microsecond))
	require.NoError(t, err)
	t.Cleanup(h.Close)
	return h, enable
}

func TestNew(t *testing.T) {
	eng := newEngine(t)
	h, _ := newHandle(t, eng)
	assert.Equal(t, engine.SensorID(1), h.ID())
	assert.NotZero(t, h.Ref())

	_, err := New(eng, 1, &MockEnableLine{})
	assert.ErrorIs(t, err, a121.ErrInitFailed, "second handle for the same id")

	h.Close()
	h.Close()
	assert.Zero(t, h.Ref())
	assert.Zero(t, eng.Live())
}

func TestCalibrate(t *testing.T) {
	eng := newEngine(t, sim.WithCalibrationSteps(4), sim.WithTemperature(-5))
	h, enable := newHandle(t, eng)

	cal, err := h.Calibrate(context.Background(), eng.Interrupt(), make([]byte, engine.SensorCalibrationBufferSize))
	require.NoError(t, err)
	assert.Equal(t, 5, eng.Calls(sim.OpCalibrate))
	assert.NoError(t, h.Validate(cal))
	temp, err := h.Temperature(cal)
	require.NoError(t, err)
	assert.Equal(t, int16(-5), temp)

	// reset before calibrating: low then high
	require.Len(t, enable.Calls, 2)
	assert.Equal(t, false, enable.Calls[0].Arguments.Bool(1))
	assert.Equal(t, true, enable.Calls[1].Arguments.Bool(1))
}

func TestCalibrate_InterruptReplay(t *testing.T) {
	eng := newEngine(t, sim.WithCalibrationSteps(3))
	h, _ := newHandle(t, eng)
	waits := 0
	// the edge fires on every wait even though the engine is not done
	irq := irqFunc(func(context.Context) error {
		waits++
		return nil
	})
	_, err := h.Calibrate(context.Background(), irq, make([]byte, engine.SensorCalibrationBufferSize))
	require.NoError(t, err)
	assert.Equal(t, 3, waits)
}

func TestCalibrate_Failed(t *testing.T) {
	eng := newEngine(t)
	h, _ := newHandle(t, eng)
	eng.Fail(sim.OpCalibrate, true)
	irq := irqFunc(func(context.Context) error {
		t.Fatal("must not wait after a failed step")
		return nil
	})
	_, err := h.Calibrate(context.Background(), irq, make([]byte, engine.SensorCalibrationBufferSize))
	assert.ErrorIs(t, err, a121.ErrCalibrationFailed)
}

func TestCalibrate_Cancelled(t *testing.T) {
	eng := newEngine(t)
	h, _ := newHandle(t, eng)
	ctx, cancel := context.WithCancel(context.Background())
	irq := irqFunc(func(ctx context.Context) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	})
	_, err := h.Calibrate(ctx, irq, make([]byte, engine.SensorCalibrationBufferSize))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCalibrate_EnableError(t *testing.T) {
	eng := newEngine(t)
	enable := &MockEnableLine{}
	enable.On("Set", mock.Anything, false).Return(errors.New("gpio: pin busy"))
	h, err := New(eng, 1, enable)
	require.NoError(t, err)
	defer h.Close()
	_, err = h.Calibrate(context.Background(), eng.Interrupt(), make([]byte, engine.SensorCalibrationBufferSize))
	assert.ErrorContains(t, err, "pin busy")
	assert.Zero(t, eng.Calls(sim.OpCalibrate))
}

func TestMeasureRead(t *testing.T) {
	eng := newEngine(t)
	h, _ := newHandle(t, eng)
	cal, err := h.Calibrate(context.Background(), eng.Interrupt(), make([]byte, engine.SensorCalibrationBufferSize))
	require.NoError(t, err)

	cfg := eng.ConfigCreate()
	defer eng.ConfigDestroy(cfg)
	buf := make([]byte, 1024)
	require.NoError(t, h.Prepare(cfg, cal, buf))
	require.NoError(t, h.Measure(context.Background(), eng.Interrupt()))
	require.NoError(t, h.Read(buf))
	assert.ErrorIs(t, h.Read(buf), a121.ErrRead)
}

func TestMeasure_NoWaitOnFailure(t *testing.T) {
	eng := newEngine(t)
	h, _ := newHandle(t, eng)
	irq := irqFunc(func(context.Context) error {
		t.Fatal("must not wait when the measurement did not start")
		return nil
	})
	assert.ErrorIs(t, h.Measure(context.Background(), irq), a121.ErrMeasurement)
}

func TestErrorsMapping(t *testing.T) {
	eng := newEngine(t)
	h, _ := newHandle(t, eng)
	cal := &CalibrationResult{}

	tests := []struct {
		name string
		call func() error
		err  error
	}{
		{"prepare", func() error { return h.Prepare(0, cal, nil) }, a121.ErrPrepareFailed},
		{"read", func() error { return h.Read(nil) }, a121.ErrRead},
		{"hibernate on", h.HibernateOn, a121.ErrHibernationOnFailed},
		{"hibernate off", h.HibernateOff, a121.ErrHibernationOffFailed},
		{"validate", func() error { return h.Validate(cal) }, a121.ErrCalibrationInvalid},
		{"temperature", func() error { _, err := h.Temperature(cal); return err }, a121.ErrCalibrationInfo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.call(), tt.err)
		})
	}
}

func TestConnected(t *testing.T) {
	eng := newEngine(t)
	h, _ := newHandle(t, eng)
	assert.True(t, h.Connected())
	h.CheckStatus()
}

func TestCalibrationResult_Binary(t *testing.T) {
	eng := newEngine(t)
	h, _ := newHandle(t, eng)
	cal, err := h.Calibrate(context.Background(), eng.Interrupt(), make([]byte, engine.SensorCalibrationBufferSize))
	require.NoError(t, err)

	data, err := cal.MarshalBinary()
	require.NoError(t, err)
	assert.Len(t, data, engine.CalResultSize)

	var restored CalibrationResult
	require.NoError(t, restored.UnmarshalBinary(data))
	assert.NoError(t, h.Validate(&restored))
	assert.Error(t, restored.UnmarshalBinary(data[:10]))
}
