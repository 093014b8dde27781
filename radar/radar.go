// Package radar drives one sensor through its lifecycle.
//
// Each lifecycle state is its own type and only carries the operations valid in that
// state:
//
//	Enabled     --PrepareSensor-->  Ready
//	Ready       --HibernateOn-->    Hibernating
//	Hibernating --HibernateOff-->   Ready
//	any         --Reset-->          Enabled
//
// A transition consumes its receiver. The consumed value answers every call with
// a121.ErrNotReady and only the returned value may be used. A failed transition leaves
// the receiver live and unchanged.
package radar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mklimuk/a121"
	"github.com/mklimuk/a121/config"
	"github.com/mklimuk/a121/engine"
	"github.com/mklimuk/a121/hal"
	"github.com/mklimuk/a121/memory"
	"github.com/mklimuk/a121/sensor"
	"github.com/mklimuk/a121/transport"
)

// DefaultHeapSize leaves room for a sensor session plus both detectors.
const DefaultHeapSize = 64 * 1024

type State int

const (
	StateEnabled State = iota
	StateReady
	StateHibernating
)

func (s State) String() string {
	switch s {
	case StateEnabled:
		return "enabled"
	case StateReady:
		return "ready"
	case StateHibernating:
		return "hibernating"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type Opts struct {
	// HeapSize caps the memory the engine may allocate through the HAL.
	HeapSize int
	// SettleDelay is waited after every enable line change.
	SettleDelay     time.Duration
	MaxTransferSize int
}

type Opt func(*Opts)

func WithHeapSize(n int) Opt {
	return func(o *Opts) {
		o.HeapSize = n
	}
}

func WithSettleDelay(d time.Duration) Opt {
	return func(o *Opts) {
		o.SettleDelay = d
	}
}

// WithMaxTransferSize bounds single transfers, for bridges with small reports.
func WithMaxTransferSize(n int) Opt {
	return func(o *Opts) {
		o.MaxTransferSize = n
	}
}

// core holds the resources shared by every state value of one radar.
type core struct {
	mx     sync.Mutex
	config Opts

	eng    engine.Engine
	irq    a121.InterruptLine
	enable a121.EnableLine
	heap   *hal.Heap
	reg    *hal.Registration
	cfg    *config.RadarConfig
	sensor *sensor.Handle

	processing engine.ProcessingRef
	meta       engine.ProcessingMetadata
	cal        *sensor.CalibrationResult
}

// New powers the sensor, registers the transport with the engine and creates the
// config and sensor objects. Only one radar may be live per process.
func New(ctx context.Context, eng engine.Engine, id engine.SensorID, dev a121.SPIConn, irq a121.InterruptLine, enable a121.EnableLine, opts ...Opt) (*Enabled, error) {
	o := Opts{
		HeapSize:    DefaultHeapSize,
		SettleDelay: 2 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&o)
	}
	c := &core{config: o, eng: eng, irq: irq, enable: enable}
	if err := enable.Set(ctx, true); err != nil {
		return nil, fmt.Errorf("radar: could not enable sensor %d: %w: %w", id, a121.ErrInitFailed, err)
	}
	if err := c.settle(ctx); err != nil {
		return nil, errors.Join(fmt.Errorf("radar: sensor %d did not settle: %w: %w", id, a121.ErrInitFailed, err),
			enable.Set(context.Background(), false))
	}
	var adapterOpts []transport.AdapterOpt
	if o.MaxTransferSize > 0 {
		adapterOpts = append(adapterOpts, transport.WithMaxTransferSize(o.MaxTransferSize))
	}
	c.heap = hal.NewHeap(o.HeapSize)
	reg, err := hal.Register(eng, transport.NewAdapter(dev, adapterOpts...), c.heap)
	if err != nil {
		c.release()
		return nil, fmt.Errorf("radar: %w: %w", a121.ErrInitFailed, err)
	}
	c.reg = reg
	if c.cfg, err = config.New(eng); err != nil {
		c.release()
		return nil, fmt.Errorf("radar: %w", err)
	}
	if c.sensor, err = sensor.New(eng, id, enable, sensor.WithSettleDelay(o.SettleDelay)); err != nil {
		c.release()
		return nil, fmt.Errorf("radar: %w", err)
	}
	slog.Debug("radar created", "sensor", id, "heap", o.HeapSize, "rss", a121.Version(eng.Version()))
	return &Enabled{state{c: c, kind: StateEnabled}}, nil
}

func (c *core) settle(ctx context.Context) error {
	timer := time.NewTimer(c.config.SettleDelay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *core) dropProcessing() {
	if c.processing == 0 {
		return
	}
	c.eng.ProcessingDestroy(c.processing)
	c.processing = 0
	c.meta = engine.ProcessingMetadata{}
}

// release tears down in reverse order of acquisition. Engine objects go before the
// registration so their memory returns to the heap.
func (c *core) release() error {
	c.dropProcessing()
	if c.sensor != nil {
		c.sensor.Close()
	}
	if c.cfg != nil {
		c.cfg.Close()
	}
	var errs []error
	if c.reg != nil {
		errs = append(errs, c.reg.Close())
	}
	if c.heap != nil {
		errs = append(errs, c.heap.Close())
	}
	errs = append(errs, c.enable.Set(context.Background(), false))
	return errors.Join(errs...)
}

func (c *core) prepare(cal *sensor.CalibrationResult) error {
	if err := c.sensor.Validate(cal); err != nil {
		return err
	}
	buf := make([]byte, memory.NewSession(c.cfg).ExternalHeap())
	if err := c.sensor.Prepare(c.cfg.Ref(), cal, buf); err != nil {
		return err
	}
	c.dropProcessing()
	var meta engine.ProcessingMetadata
	p := c.eng.ProcessingCreate(c.cfg.Ref(), &meta)
	if p == 0 {
		return fmt.Errorf("radar: could not create processing: %w", a121.ErrInitFailed)
	}
	c.processing, c.meta, c.cal = p, meta, cal
	return nil
}

func (c *core) calibrate(ctx context.Context) (*sensor.CalibrationResult, error) {
	return c.sensor.Calibrate(ctx, c.irq, make([]byte, engine.SensorCalibrationBufferSize))
}

// state is the part every lifecycle value shares. consumed is guarded by c.mx.
type state struct {
	c        *core
	kind     State
	consumed bool
}

// lock acquires the radar and fails when this value was consumed.
func (s *state) lock() error {
	s.c.mx.Lock()
	if s.consumed {
		s.c.mx.Unlock()
		return fmt.Errorf("radar: %s value was consumed: %w", s.kind, a121.ErrNotReady)
	}
	return nil
}

func (s *state) unlock() {
	s.c.mx.Unlock()
}

// State is the lifecycle state this value was created in.
func (s *state) State() State {
	return s.kind
}

func (s *state) ID() engine.SensorID {
	return s.c.sensor.ID()
}

// RSSVersion is the version of the engine driving the sensor.
func (s *state) RSSVersion() a121.Version {
	return a121.Version(s.c.eng.Version())
}

// IsConnected reports false for a consumed value.
func (s *state) IsConnected() bool {
	if err := s.lock(); err != nil {
		return false
	}
	defer s.unlock()
	return s.c.sensor.Connected()
}

func (s *state) CheckStatus() error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.unlock()
	s.c.sensor.CheckStatus()
	return nil
}

// MemoryRequirements sizes a plain sensor session for the current config.
func (s *state) MemoryRequirements() (memory.Requirements, error) {
	if err := s.lock(); err != nil {
		return memory.Requirements{}, err
	}
	defer s.unlock()
	return memory.NewSession(s.c.cfg).Requirements(), nil
}

// Close powers the sensor off and releases every engine object and the HAL slot.
// Closing a consumed value does nothing.
func (s *state) Close() error {
	if err := s.lock(); err != nil {
		return nil
	}
	defer s.unlock()
	s.consumed = true
	return s.c.release()
}

// reset power cycles the sensor and consumes s. Callers hold the lock.
func (s *state) reset(ctx context.Context) (*Enabled, error) {
	if err := s.c.sensor.Reset(ctx); err != nil {
		return nil, err
	}
	s.c.dropProcessing()
	s.consumed = true
	return &Enabled{state{c: s.c, kind: StateEnabled}}, nil
}
