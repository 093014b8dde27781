package sim

import (
	"bytes"
	"encoding/binary"

	"github.com/mklimuk/a121/engine"
	"github.com/mklimuk/a121/memory"
)

var calMagic = []byte("A121")

// Register commands sent through the transfer callback.
const (
	cmdCreate byte = 0x01 + iota
	cmdCalibrate
	cmdPrepare
	cmdMeasure
	cmdRead
	cmdHibernateOn
	cmdHibernateOff
)

var (
	subsweepDefaults = map[engine.Param]float64{
		engine.ParamStartPoint:       80,
		engine.ParamNumPoints:        160,
		engine.ParamStepLength:       1,
		engine.ParamProfile:          3,
		engine.ParamHWAAS:            8,
		engine.ParamReceiverGain:     16,
		engine.ParamEnableTx:         1,
		engine.ParamPRF:              0,
		engine.ParamPhaseEnhancement: 0,
		engine.ParamEnableLoopback:   0,
	}
	configDefaults = map[engine.Param]float64{
		engine.ParamNumSubsweeps:        1,
		engine.ParamSweepsPerFrame:      1,
		engine.ParamSweepRate:           0,
		engine.ParamFrameRate:           0,
		engine.ParamContinuousSweepMode: 0,
		engine.ParamDoubleBuffering:     0,
		engine.ParamInterFrameIdleState: 0,
		engine.ParamInterSweepIdleState: 2,
	}
)

type sensorConfig struct {
	values    map[engine.Param]float64
	subsweeps [engine.MaxSubsweeps]map[engine.Param]float64
	mem       []byte
}

func newSensorConfig() *sensorConfig {
	c := &sensorConfig{values: make(map[engine.Param]float64, len(configDefaults))}
	for p, v := range configDefaults {
		c.values[p] = v
	}
	for i := range c.subsweeps {
		c.subsweeps[i] = make(map[engine.Param]float64, len(subsweepDefaults))
		for p, v := range subsweepDefaults {
			c.subsweeps[i][p] = v
		}
	}
	return c
}

func (c *sensorConfig) numSubsweeps() int {
	n := int(c.values[engine.ParamNumSubsweeps])
	return min(max(n, 0), engine.MaxSubsweeps)
}

func (c *sensorConfig) sweepPoints() int {
	total := 0
	for i := 0; i < c.numSubsweeps(); i++ {
		total += int(c.subsweeps[i][engine.ParamNumPoints])
	}
	return total
}

func (c *sensorConfig) framePoints() int {
	return c.sweepPoints() * int(c.values[engine.ParamSweepsPerFrame])
}

type sensor struct {
	id          engine.SensorID
	mem         []byte
	prepMem     []byte
	calStep     int
	prepared    bool
	hibernating bool
	measured    bool
	points      int
	frame       int
}

type processing struct {
	points int
	count  int
}

func (e *Engine) ConfigCreate() engine.ConfigRef {
	e.mx.Lock()
	defer e.mx.Unlock()
	if !e.call(OpConfigCreate) {
		return 0
	}
	mem := e.alloc(memory.RSSPerConfig)
	if mem == nil {
		e.log(engine.LogError, "config: out of memory")
		return 0
	}
	c := newSensorConfig()
	c.mem = mem
	ref := engine.ConfigRef(e.ref())
	e.configs[ref] = c
	return ref
}

func (e *Engine) ConfigDestroy(cfg engine.ConfigRef) {
	e.mx.Lock()
	defer e.mx.Unlock()
	c, ok := e.configs[cfg]
	if !ok {
		return
	}
	e.free(c.mem)
	delete(e.configs, cfg)
}

func (e *Engine) ConfigSet(cfg engine.ConfigRef, p engine.Param, index uint8, value float64) {
	e.mx.Lock()
	defer e.mx.Unlock()
	c, ok := e.configs[cfg]
	if !ok {
		return
	}
	if p.PerSubsweep() {
		if int(index) < len(c.subsweeps) {
			c.subsweeps[index][p] = value
		}
		return
	}
	c.values[p] = value
}

func (e *Engine) ConfigGet(cfg engine.ConfigRef, p engine.Param, index uint8) float64 {
	e.mx.Lock()
	defer e.mx.Unlock()
	c, ok := e.configs[cfg]
	if !ok {
		return 0
	}
	if p.PerSubsweep() {
		if int(index) >= len(c.subsweeps) {
			return 0
		}
		return c.subsweeps[index][p]
	}
	return c.values[p]
}

func (e *Engine) ConfigBufferSize(cfg engine.ConfigRef) (uint32, bool) {
	e.mx.Lock()
	defer e.mx.Unlock()
	if !e.call(OpConfigBufferSize) {
		return 0, false
	}
	c, ok := e.configs[cfg]
	if !ok || c.framePoints() <= 0 {
		return 0, false
	}
	return uint32(c.framePoints() * memory.BytesPerPoint), true
}

func (e *Engine) ConfigLog(cfg engine.ConfigRef) {
	e.mx.Lock()
	defer e.mx.Unlock()
	c, ok := e.configs[cfg]
	if !ok {
		return
	}
	e.log(engine.LogInfo, "config: subsweeps=%d sweeps_per_frame=%v frame_rate=%v sweep_rate=%v continuous=%v",
		c.numSubsweeps(), c.values[engine.ParamSweepsPerFrame], c.values[engine.ParamFrameRate],
		c.values[engine.ParamSweepRate], c.values[engine.ParamContinuousSweepMode] != 0)
	for i := 0; i < c.numSubsweeps(); i++ {
		s := c.subsweeps[i]
		e.log(engine.LogInfo, "subsweep %d: start=%v points=%v step=%v profile=%v hwaas=%v gain=%v prf=%v",
			i, s[engine.ParamStartPoint], s[engine.ParamNumPoints], s[engine.ParamStepLength],
			s[engine.ParamProfile], s[engine.ParamHWAAS], s[engine.ParamReceiverGain], s[engine.ParamPRF])
	}
}

func (e *Engine) SensorCreate(id engine.SensorID) engine.SensorRef {
	e.mx.Lock()
	defer e.mx.Unlock()
	if !e.call(OpSensorCreate) {
		return 0
	}
	if _, taken := e.live[id]; taken {
		e.log(engine.LogError, "sensor %d: already created", id)
		return 0
	}
	if !e.connected[id] || !e.command(id, cmdCreate) {
		return 0
	}
	mem := e.alloc(memory.RSSPerSensor)
	if mem == nil {
		e.log(engine.LogError, "sensor %d: out of memory", id)
		return 0
	}
	ref := engine.SensorRef(e.ref())
	e.sensors[ref] = &sensor{id: id, mem: mem}
	e.live[id] = ref
	return ref
}

func (e *Engine) SensorDestroy(s engine.SensorRef) {
	e.mx.Lock()
	defer e.mx.Unlock()
	st, ok := e.sensors[s]
	if !ok {
		return
	}
	e.free(st.prepMem)
	e.free(st.mem)
	delete(e.live, st.id)
	delete(e.sensors, s)
}

func (e *Engine) SensorCalibrate(s engine.SensorRef, cal *engine.CalResult, buf []byte) (bool, bool) {
	e.mx.Lock()
	defer e.mx.Unlock()
	if !e.call(OpCalibrate) {
		return false, false
	}
	st, ok := e.sensors[s]
	if !ok || cal == nil || st.hibernating || len(buf) < engine.SensorCalibrationBufferSize {
		return false, false
	}
	if !e.command(st.id, cmdCalibrate) {
		return false, false
	}
	if st.calStep < e.calSteps {
		st.calStep++
		e.irq.Raise()
		return false, true
	}
	st.calStep = 0
	st.prepared = false
	e.writeCal(cal)
	return true, true
}

func (e *Engine) writeCal(cal *engine.CalResult) {
	*cal = engine.CalResult{}
	copy(cal[0:4], calMagic)
	binary.LittleEndian.PutUint32(cal[4:8], e.version)
	binary.LittleEndian.PutUint16(cal[8:10], uint16(e.temperature))
}

func (e *Engine) validCal(cal *engine.CalResult) bool {
	return cal != nil && bytes.Equal(cal[0:4], calMagic) && binary.LittleEndian.Uint32(cal[4:8]) == e.version
}

func (e *Engine) SensorPrepare(s engine.SensorRef, cfg engine.ConfigRef, cal *engine.CalResult, buf []byte) bool {
	e.mx.Lock()
	defer e.mx.Unlock()
	if !e.call(OpPrepare) {
		return false
	}
	st, ok := e.sensors[s]
	c, cok := e.configs[cfg]
	if !ok || !cok || st.hibernating || !e.validCal(cal) {
		return false
	}
	points := c.framePoints()
	if points <= 0 || len(buf) < points*memory.BytesPerPoint {
		return false
	}
	e.free(st.prepMem)
	st.prepMem = nil
	st.prepared = false
	mem := e.alloc(c.numSubsweeps() * memory.RSSPerSubsweep)
	if mem == nil {
		e.log(engine.LogError, "sensor %d: out of memory while preparing", st.id)
		return false
	}
	st.prepMem = mem
	return e.arm(st, points)
}

// arm leaves st ready to measure frames of points samples.
func (e *Engine) arm(st *sensor, points int) bool {
	if !e.command(st.id, cmdPrepare) {
		return false
	}
	st.prepared = true
	st.measured = false
	st.points = points
	return true
}

func (e *Engine) SensorMeasure(s engine.SensorRef) bool {
	e.mx.Lock()
	defer e.mx.Unlock()
	if !e.call(OpMeasure) {
		return false
	}
	st, ok := e.sensors[s]
	if !ok || !st.prepared || st.hibernating {
		return false
	}
	if !e.command(st.id, cmdMeasure) {
		return false
	}
	st.frame++
	st.measured = true
	e.irq.Raise()
	return true
}

func (e *Engine) SensorRead(s engine.SensorRef, buf []byte) bool {
	e.mx.Lock()
	defer e.mx.Unlock()
	if !e.call(OpRead) {
		return false
	}
	st, ok := e.sensors[s]
	if !ok || !st.measured || len(buf) < st.points*memory.BytesPerPoint {
		return false
	}
	if !e.command(st.id, cmdRead) {
		return false
	}
	samples := e.source(st.frame-1, st.points)
	if len(samples) > st.points {
		samples = samples[:st.points]
	}
	clear(buf[:st.points*memory.BytesPerPoint])
	encodeFrame(buf, samples)
	st.measured = false
	return true
}

func (e *Engine) SensorHibernateOn(s engine.SensorRef) bool {
	e.mx.Lock()
	defer e.mx.Unlock()
	if !e.call(OpHibernateOn) {
		return false
	}
	st, ok := e.sensors[s]
	if !ok || !st.prepared || st.hibernating || !e.command(st.id, cmdHibernateOn) {
		return false
	}
	st.hibernating = true
	return true
}

func (e *Engine) SensorHibernateOff(s engine.SensorRef) bool {
	e.mx.Lock()
	defer e.mx.Unlock()
	if !e.call(OpHibernateOff) {
		return false
	}
	st, ok := e.sensors[s]
	if !ok || !st.hibernating || !e.command(st.id, cmdHibernateOff) {
		return false
	}
	st.hibernating = false
	return true
}

func (e *Engine) SensorConnected(id engine.SensorID) bool {
	e.mx.Lock()
	defer e.mx.Unlock()
	return e.connected[id]
}

func (e *Engine) SensorStatus(s engine.SensorRef) {
	e.mx.Lock()
	defer e.mx.Unlock()
	st, ok := e.sensors[s]
	if !ok {
		e.log(engine.LogError, "status: unknown sensor")
		return
	}
	e.log(engine.LogInfo, "sensor %d: prepared=%v hibernating=%v frames=%d", st.id, st.prepared, st.hibernating, st.frame)
}

func (e *Engine) CalibrationValidate(s engine.SensorRef, cal *engine.CalResult) bool {
	e.mx.Lock()
	defer e.mx.Unlock()
	if !e.call(OpCalibrationValidate) {
		return false
	}
	if _, ok := e.sensors[s]; !ok {
		return false
	}
	return e.validCal(cal)
}

func (e *Engine) CalibrationInfo(cal *engine.CalResult) (engine.CalInfo, bool) {
	e.mx.Lock()
	defer e.mx.Unlock()
	if !e.call(OpCalibrationInfo) || cal == nil || !bytes.Equal(cal[0:4], calMagic) {
		return engine.CalInfo{}, false
	}
	return engine.CalInfo{Temperature: int16(binary.LittleEndian.Uint16(cal[8:10]))}, true
}

func (e *Engine) ProcessingCreate(cfg engine.ConfigRef, meta *engine.ProcessingMetadata) engine.ProcessingRef {
	e.mx.Lock()
	defer e.mx.Unlock()
	if !e.call(OpProcessingCreate) {
		return 0
	}
	c, ok := e.configs[cfg]
	if !ok || c.framePoints() <= 0 {
		return 0
	}
	if meta != nil {
		*meta = engine.ProcessingMetadata{
			FrameDataLength: uint16(c.framePoints()),
			SweepDataLength: uint16(c.sweepPoints()),
			MaxSweepRate:    float32(maxSweepRate(c)),
		}
		offset := 0
		for i := 0; i < c.numSubsweeps(); i++ {
			n := int(c.subsweeps[i][engine.ParamNumPoints])
			meta.SubsweepDataOffset[i] = uint16(offset)
			meta.SubsweepDataLength[i] = uint16(n)
			offset += n
		}
	}
	ref := engine.ProcessingRef(e.ref())
	e.processings[ref] = &processing{points: c.framePoints()}
	return ref
}

// maxSweepRate is a rough estimate: each point costs hwaas pulses at the subsweep PRF.
func maxSweepRate(c *sensorConfig) float64 {
	prf := []float64{19.5e6, 15.6e6, 13.0e6, 8.7e6, 6.5e6, 5.2e6}
	var t float64
	for i := 0; i < c.numSubsweeps(); i++ {
		s := c.subsweeps[i]
		idx := min(max(int(s[engine.ParamPRF]), 0), len(prf)-1)
		t += s[engine.ParamNumPoints] * max(s[engine.ParamHWAAS], 1) * 32 / prf[idx]
	}
	if t == 0 {
		return 0
	}
	return 1 / t
}

func (e *Engine) ProcessingDestroy(p engine.ProcessingRef) {
	e.mx.Lock()
	defer e.mx.Unlock()
	delete(e.processings, p)
}

func (e *Engine) ProcessingExecute(p engine.ProcessingRef, buf []byte, res *engine.ProcessingResult) {
	e.mx.Lock()
	defer e.mx.Unlock()
	if !e.call(OpProcessingExecute) || res == nil {
		return
	}
	pr, ok := e.processings[p]
	if !ok {
		return
	}
	pr.count++
	frame := decodeFrame(buf, pr.points)
	*res = engine.ProcessingResult{
		Frame:             frame,
		DataSaturated:     saturated(frame),
		CalibrationNeeded: e.calibrationNeeded(pr.count),
		Temperature:       e.temperature,
	}
}

func (e *Engine) calibrationNeeded(count int) bool {
	return e.calNeededEvery > 0 && count%e.calNeededEvery == 0
}

func saturated(frame []engine.IQ) bool {
	for _, s := range frame {
		if s.Real == 32767 || s.Real == -32768 || s.Imag == 32767 || s.Imag == -32768 {
			return true
		}
	}
	return false
}
