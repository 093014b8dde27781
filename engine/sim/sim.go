// Package sim is a deterministic in-process engine. It follows the engine call contract
// closely enough to drive the whole stack without hardware: objects allocate their RSS
// memory through the registered HAL, calibration takes a configurable number of
// interrupt gated steps, measurements raise the interrupt line and every sensor command
// goes through the registered transfer callback.
package sim

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/mklimuk/a121/engine"
	"github.com/mklimuk/a121/memory"
)

// Op names an engine primitive for failure injection and call counting.
type Op int

const (
	OpRegisterHAL Op = iota
	OpConfigCreate
	OpConfigBufferSize
	OpSensorCreate
	OpCalibrate
	OpPrepare
	OpMeasure
	OpRead
	OpHibernateOn
	OpHibernateOff
	OpCalibrationValidate
	OpCalibrationInfo
	OpProcessingCreate
	OpProcessingExecute
	OpDistanceConfigCreate
	OpDistanceCreate
	OpDistanceSizes
	OpDistanceCalibrate
	OpDistanceUpdateCalibration
	OpDistancePrepare
	OpDistanceProcess
	OpPresenceConfigCreate
	OpPresenceCreate
	OpPresenceBufferSize
	OpPresencePrepare
	OpPresenceProcess
)

// DefaultVersion decodes as 1.5.0.
const DefaultVersion = 1<<16 | 5<<8

// FrameSource produces the IQ samples returned by the n-th read. points is the number
// of samples the prepared frame holds.
type FrameSource func(frame int, points int) []engine.IQ

// Zeros is the default source.
func Zeros(_ int, points int) []engine.IQ {
	return make([]engine.IQ, points)
}

// Reflector returns a source with a single echo of the given amplitude at point index.
func Reflector(index int, amplitude int16) FrameSource {
	return func(_ int, points int) []engine.IQ {
		f := make([]engine.IQ, points)
		if index >= 0 && index < points {
			f[index] = engine.IQ{Real: amplitude}
		}
		return f
	}
}

// Moving returns a source whose echo advances one point per frame from index from
// to index to and then jumps back.
func Moving(from, to int, amplitude int16) FrameSource {
	span := max(to-from, 1)
	return func(frame int, points int) []engine.IQ {
		return Reflector(from+frame%span, amplitude)(frame, points)
	}
}

type Opt func(*Engine)

// WithCalibrationSteps sets how many incomplete steps precede a complete sensor
// calibration.
func WithCalibrationSteps(n int) Opt {
	return func(e *Engine) {
		e.calSteps = n
	}
}

func WithDetectorCalibrationSteps(n int) Opt {
	return func(e *Engine) {
		e.detCalSteps = n
	}
}

// WithFramesPerResult makes detector processing report a result every n frames.
func WithFramesPerResult(n int) Opt {
	return func(e *Engine) {
		if n > 0 {
			e.framesPerResult = n
		}
	}
}

func WithTemperature(t int16) Opt {
	return func(e *Engine) {
		e.temperature = t
	}
}

func WithVersion(v uint32) Opt {
	return func(e *Engine) {
		e.version = v
	}
}

// WithSensors lists the connected sensor ids. Defaults to sensor 1.
func WithSensors(ids ...engine.SensorID) Opt {
	return func(e *Engine) {
		e.connected = make(map[engine.SensorID]bool, len(ids))
		for _, id := range ids {
			e.connected[id] = true
		}
	}
}

func WithFrameSource(src FrameSource) Opt {
	return func(e *Engine) {
		e.source = src
	}
}

// WithCalibrationNeededEvery flags calibration needed on every n-th processed frame.
func WithCalibrationNeededEvery(n int) Opt {
	return func(e *Engine) {
		e.calNeededEvery = n
	}
}

var _ engine.Engine = &Engine{}

type Engine struct {
	mx              sync.Mutex
	hal             *engine.HAL
	irq             *Interrupt
	version         uint32
	calSteps        int
	detCalSteps     int
	framesPerResult int
	temperature     int16
	calNeededEvery  int
	source          FrameSource
	connected       map[engine.SensorID]bool
	fail            map[Op]bool
	calls           map[Op]int
	next            uintptr

	configs     map[engine.ConfigRef]*sensorConfig
	sensors     map[engine.SensorRef]*sensor
	live        map[engine.SensorID]engine.SensorRef
	processings map[engine.ProcessingRef]*processing
	distCfgs    map[engine.DistanceConfigRef]map[engine.DistanceParam]float64
	distances   map[engine.DistanceRef]*distance
	presCfgs    map[engine.PresenceConfigRef]map[engine.PresenceParam]float64
	presences   map[engine.PresenceRef]*presence
}

func New(opts ...Opt) *Engine {
	e := &Engine{
		irq:             NewInterrupt(),
		version:         DefaultVersion,
		calSteps:        3,
		detCalSteps:     2,
		framesPerResult: 1,
		temperature:     25,
		source:          Zeros,
		connected:       map[engine.SensorID]bool{1: true},
		fail:            make(map[Op]bool),
		calls:           make(map[Op]int),
		configs:         make(map[engine.ConfigRef]*sensorConfig),
		sensors:         make(map[engine.SensorRef]*sensor),
		live:            make(map[engine.SensorID]engine.SensorRef),
		processings:     make(map[engine.ProcessingRef]*processing),
		distCfgs:        make(map[engine.DistanceConfigRef]map[engine.DistanceParam]float64),
		distances:       make(map[engine.DistanceRef]*distance),
		presCfgs:        make(map[engine.PresenceConfigRef]map[engine.PresenceParam]float64),
		presences:       make(map[engine.PresenceRef]*presence),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Interrupt is the ready line the engine raises.
func (e *Engine) Interrupt() *Interrupt {
	return e.irq
}

// Fail makes op report failure until cleared.
func (e *Engine) Fail(op Op, on bool) {
	e.mx.Lock()
	defer e.mx.Unlock()
	e.fail[op] = on
}

// Calls is the number of times op was invoked, failed calls included.
func (e *Engine) Calls(op Op) int {
	e.mx.Lock()
	defer e.mx.Unlock()
	return e.calls[op]
}

// Live is the number of engine objects not yet destroyed.
func (e *Engine) Live() int {
	e.mx.Lock()
	defer e.mx.Unlock()
	return len(e.configs) + len(e.sensors) + len(e.processings) + len(e.distCfgs) +
		len(e.distances) + len(e.presCfgs) + len(e.presences)
}

// call records op and reports whether it should proceed. Callers hold mx.
func (e *Engine) call(op Op) bool {
	e.calls[op]++
	return !e.fail[op]
}

func (e *Engine) ref() uintptr {
	e.next++
	return e.next
}

func (e *Engine) alloc(size int) []byte {
	if e.hal == nil || e.hal.MemAlloc == nil {
		return nil
	}
	return e.hal.MemAlloc(size)
}

func (e *Engine) free(buf []byte) {
	if buf == nil || e.hal == nil || e.hal.MemFree == nil {
		return
	}
	e.hal.MemFree(buf)
}

// command sends a short register access to the sensor.
func (e *Engine) command(id engine.SensorID, op byte) bool {
	if e.hal == nil || e.hal.Transfer == nil {
		return false
	}
	buf := []byte{op, 0x00, 0x00, 0x00}
	return e.hal.Transfer(id, buf) == nil
}

func (e *Engine) log(level engine.LogLevel, msg string, args ...any) {
	if e.hal == nil || e.hal.Log == nil {
		return
	}
	e.hal.Log(level, "sim", fmt.Sprintf(msg, args...))
}

func (e *Engine) RegisterHAL(h *engine.HAL) bool {
	e.mx.Lock()
	defer e.mx.Unlock()
	if !e.call(OpRegisterHAL) || h == nil {
		return false
	}
	e.hal = h
	return true
}

func (e *Engine) Version() uint32 {
	return e.version
}

// GoHAL is a HAL backed by the Go heap that accepts every transfer. It lets packages
// that only need config objects run without a transport.
func GoHAL() *engine.HAL {
	return &engine.HAL{
		MaxTransferSize: 65535,
		MemAlloc:        func(size int) []byte { return make([]byte, size) },
		MemFree:         func([]byte) {},
		Transfer:        func(engine.SensorID, []byte) error { return nil },
		Log:             func(engine.LogLevel, string, string) {},
	}
}

// frame encodes samples as little endian int16 pairs.
func encodeFrame(buf []byte, samples []engine.IQ) {
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*4:], uint16(s.Real))
		binary.LittleEndian.PutUint16(buf[i*4+2:], uint16(s.Imag))
	}
}

func decodeFrame(buf []byte, points int) []engine.IQ {
	if n := len(buf) / memory.BytesPerPoint; n < points {
		points = n
	}
	out := make([]engine.IQ, points)
	for i := range out {
		out[i].Real = int16(binary.LittleEndian.Uint16(buf[i*4:]))
		out[i].Imag = int16(binary.LittleEndian.Uint16(buf[i*4+2:]))
	}
	return out
}
