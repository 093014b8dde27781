package gpio

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
)

// MockPin is a mock implementation of Pin using testify/mock
type MockPin struct {
	mock.Mock
}

func (m *MockPin) Name() string {
	return "GPIO17"
}

func (m *MockPin) In(pull gpio.Pull, edge gpio.Edge) error {
	args := m.Called(pull, edge)
	return args.Error(0)
}

func (m *MockPin) Out(l gpio.Level) error {
	args := m.Called(l)
	return args.Error(0)
}

func (m *MockPin) Read() gpio.Level {
	args := m.Called()
	return args.Get(0).(gpio.Level)
}

func (m *MockPin) WaitForEdge(timeout time.Duration) bool {
	args := m.Called(timeout)
	return args.Bool(0)
}

func TestOutputPin(t *testing.T) {
	p := &MockPin{}
	p.On("Out", gpio.Low).Return(nil).Twice()
	p.On("Out", gpio.High).Return(nil).Once()
	out, err := NewOutputPin(p)
	require.NoError(t, err)
	assert.NoError(t, out.Set(context.Background(), true))
	assert.NoError(t, out.Set(context.Background(), false))
	p.AssertExpectations(t)
}

func TestOutputPin_Error(t *testing.T) {
	p := &MockPin{}
	p.On("Out", gpio.Low).Return(errors.New("busy"))
	_, err := NewOutputPin(p)
	assert.ErrorContains(t, err, "GPIO17")
}

func TestInterruptPin_WaitForHigh(t *testing.T) {
	p := &MockPin{}
	p.On("In", gpio.PullDown, gpio.RisingEdge).Return(nil)
	p.On("Read").Return(gpio.Low).Twice()
	p.On("Read").Return(gpio.High).Once()
	p.On("WaitForEdge", DefaultEdgeTimeout).Return(false)
	irq, err := NewInterruptPin(p)
	require.NoError(t, err)
	require.NoError(t, irq.WaitForHigh(context.Background()))
	p.AssertNumberOfCalls(t, "WaitForEdge", 2)
}

func TestInterruptPin_Cancelled(t *testing.T) {
	p := &MockPin{}
	p.On("In", gpio.PullDown, gpio.RisingEdge).Return(nil)
	p.On("Read").Return(gpio.Low)
	irq, err := NewInterruptPin(p)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = irq.WaitForHigh(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	p.AssertNotCalled(t, "WaitForEdge", mock.Anything)
}
