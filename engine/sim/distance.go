package sim

import (
	"bytes"
	"encoding/binary"
	"math"
	"sort"

	"github.com/mklimuk/a121/engine"
	"github.com/mklimuk/a121/memory"
)

// pointLength is the distance between two points with step length 1, in meters.
const pointLength = 0.0025

// profileStep is the coarsest step length each profile supports.
var profileStep = [...]float64{0, 1, 2, 3, 6, 12}

var staticMagic = []byte("DSTC")

// Distance detector enumerations as the engine encodes them.
const (
	thresholdFixedAmplitude = iota
	thresholdRecorded
	thresholdCFAR
	thresholdFixedStrength
)

const (
	sortClosest = iota
	sortStrength
)

// defaultAmplitudeThreshold applies to every threshold method but the fixed ones.
const defaultAmplitudeThreshold = 500

var distanceDefaults = map[engine.DistanceParam]float64{
	engine.DistanceSensor:                        1,
	engine.DistanceStart:                         0.2,
	engine.DistanceEnd:                           3.0,
	engine.DistanceMaxStepLength:                 0,
	engine.DistanceCloseRangeLeakageCancellation: 0,
	engine.DistanceSignalQuality:                 15,
	engine.DistanceMaxProfile:                    5,
	engine.DistanceThresholdMethod:               thresholdCFAR,
	engine.DistanceFixedAmplitudeThreshold:       100,
	engine.DistanceFixedStrengthThreshold:        0,
	engine.DistanceRecordedThresholdFrames:       100,
	engine.DistanceThresholdSensitivity:          0.5,
	engine.DistancePeakSorting:                   sortStrength,
	engine.DistanceReflectorShape:                0,
}

type distance struct {
	mem        []byte
	start      float64
	step       float64
	points     int
	bufferSize int
	staticSize int
	method     int
	fixedAmp   float64
	fixedStr   float64
	sorting    int
	calStep    int
	count      int
}

func (e *Engine) DistanceConfigCreate() engine.DistanceConfigRef {
	e.mx.Lock()
	defer e.mx.Unlock()
	if !e.call(OpDistanceConfigCreate) {
		return 0
	}
	values := make(map[engine.DistanceParam]float64, len(distanceDefaults))
	for p, v := range distanceDefaults {
		values[p] = v
	}
	ref := engine.DistanceConfigRef(e.ref())
	e.distCfgs[ref] = values
	return ref
}

func (e *Engine) DistanceConfigDestroy(cfg engine.DistanceConfigRef) {
	e.mx.Lock()
	defer e.mx.Unlock()
	delete(e.distCfgs, cfg)
}

func (e *Engine) DistanceConfigSet(cfg engine.DistanceConfigRef, p engine.DistanceParam, value float64) {
	e.mx.Lock()
	defer e.mx.Unlock()
	if values, ok := e.distCfgs[cfg]; ok {
		values[p] = value
	}
}

func (e *Engine) DistanceConfigGet(cfg engine.DistanceConfigRef, p engine.DistanceParam) float64 {
	e.mx.Lock()
	defer e.mx.Unlock()
	return e.distCfgs[cfg][p]
}

func (e *Engine) DistanceCreate(cfg engine.DistanceConfigRef) engine.DistanceRef {
	e.mx.Lock()
	defer e.mx.Unlock()
	if !e.call(OpDistanceCreate) {
		return 0
	}
	values, ok := e.distCfgs[cfg]
	if !ok {
		return 0
	}
	start, end := values[engine.DistanceStart], values[engine.DistanceEnd]
	if start < 0 || end <= start {
		e.log(engine.LogError, "distance: invalid interval %.3f to %.3f", start, end)
		return 0
	}
	profile := min(max(int(values[engine.DistanceMaxProfile]), 1), len(profileStep)-1)
	step := profileStep[profile]
	if m := values[engine.DistanceMaxStepLength]; m > 0 && m < step {
		step = m
	}
	points := int((end-start)/(step*pointLength)) + 1
	if points > math.MaxUint16 {
		return 0
	}
	mem := e.alloc(memory.DistanceOverhead + memory.DistanceProcessors*memory.DistancePerProcessor)
	if mem == nil {
		e.log(engine.LogError, "distance: out of memory")
		return 0
	}
	d := &distance{
		mem:        mem,
		start:      start,
		step:       step,
		points:     points,
		bufferSize: memory.DistanceExternalHeap(uint16(points), 1, 1),
		staticSize: memory.DistanceStaticCalibration(uint16(points)),
		method:     int(values[engine.DistanceThresholdMethod]),
		fixedAmp:   values[engine.DistanceFixedAmplitudeThreshold],
		fixedStr:   values[engine.DistanceFixedStrengthThreshold],
		sorting:    int(values[engine.DistancePeakSorting]),
	}
	ref := engine.DistanceRef(e.ref())
	e.distances[ref] = d
	return ref
}

func (e *Engine) DistanceDestroy(d engine.DistanceRef) {
	e.mx.Lock()
	defer e.mx.Unlock()
	det, ok := e.distances[d]
	if !ok {
		return
	}
	e.free(det.mem)
	delete(e.distances, d)
}

func (e *Engine) DistanceSizes(d engine.DistanceRef) (engine.DistanceSizes, bool) {
	e.mx.Lock()
	defer e.mx.Unlock()
	if !e.call(OpDistanceSizes) {
		return engine.DistanceSizes{}, false
	}
	det, ok := e.distances[d]
	if !ok {
		return engine.DistanceSizes{}, false
	}
	return engine.DistanceSizes{
		BufferSize:          uint32(det.bufferSize),
		StaticCalResultSize: uint32(det.staticSize),
	}, true
}

func (e *Engine) DistanceCalibrate(s engine.SensorRef, d engine.DistanceRef, cal *engine.CalResult, buf, static []byte, dyn *engine.DynamicCalResult) (bool, bool) {
	e.mx.Lock()
	defer e.mx.Unlock()
	if !e.call(OpDistanceCalibrate) {
		return false, false
	}
	st, det, ok := e.detectorCalibration(s, d, cal, buf, dyn)
	if !ok || len(static) < det.staticSize {
		return false, false
	}
	if !e.stepDetector(st, det) {
		return false, true
	}
	clear(static[:det.staticSize])
	copy(static, staticMagic)
	binary.LittleEndian.PutUint16(static[4:], uint16(det.points))
	e.writeDynamic(dyn)
	return true, true
}

func (e *Engine) DistanceUpdateCalibration(s engine.SensorRef, d engine.DistanceRef, cal *engine.CalResult, buf []byte, dyn *engine.DynamicCalResult) (bool, bool) {
	e.mx.Lock()
	defer e.mx.Unlock()
	if !e.call(OpDistanceUpdateCalibration) {
		return false, false
	}
	st, det, ok := e.detectorCalibration(s, d, cal, buf, dyn)
	if !ok {
		return false, false
	}
	if !e.stepDetector(st, det) {
		return false, true
	}
	e.writeDynamic(dyn)
	return true, true
}

func (e *Engine) detectorCalibration(s engine.SensorRef, d engine.DistanceRef, cal *engine.CalResult, buf []byte, dyn *engine.DynamicCalResult) (*sensor, *distance, bool) {
	st, ok := e.sensors[s]
	det, dok := e.distances[d]
	if !ok || !dok || dyn == nil || st.hibernating || !e.validCal(cal) || len(buf) < det.bufferSize {
		return nil, nil, false
	}
	if !e.command(st.id, cmdCalibrate) {
		return nil, nil, false
	}
	return st, det, true
}

// stepDetector advances a detector calibration and reports whether it completed. An
// incomplete step raises the interrupt.
func (e *Engine) stepDetector(st *sensor, det *distance) bool {
	if det.calStep < e.detCalSteps {
		det.calStep++
		e.irq.Raise()
		return false
	}
	det.calStep = 0
	st.prepared = false
	return true
}

func (e *Engine) writeDynamic(dyn *engine.DynamicCalResult) {
	*dyn = engine.DynamicCalResult{}
	binary.LittleEndian.PutUint16(dyn[0:2], uint16(e.temperature))
	dyn[2] = 1
}

func (e *Engine) DistancePrepare(d engine.DistanceRef, cfg engine.DistanceConfigRef, s engine.SensorRef, cal *engine.CalResult, buf []byte) bool {
	e.mx.Lock()
	defer e.mx.Unlock()
	if !e.call(OpDistancePrepare) {
		return false
	}
	det, ok := e.distances[d]
	st, sok := e.sensors[s]
	if _, cok := e.distCfgs[cfg]; !ok || !sok || !cok {
		return false
	}
	if st.hibernating || !e.validCal(cal) || len(buf) < det.bufferSize {
		return false
	}
	if !e.reserveSubsweeps(st, 1) {
		return false
	}
	return e.arm(st, det.points)
}

// reserveSubsweeps swaps the sensor's prepared state memory for n subsweeps.
func (e *Engine) reserveSubsweeps(st *sensor, n int) bool {
	e.free(st.prepMem)
	st.prepMem = e.alloc(n * memory.RSSPerSubsweep)
	if st.prepMem == nil {
		st.prepared = false
		e.log(engine.LogError, "sensor %d: out of memory while preparing", st.id)
		return false
	}
	return true
}

func (e *Engine) DistanceProcess(d engine.DistanceRef, buf, static []byte, dyn *engine.DynamicCalResult, res *engine.DistanceResult) (bool, bool) {
	e.mx.Lock()
	defer e.mx.Unlock()
	if !e.call(OpDistanceProcess) {
		return false, false
	}
	det, ok := e.distances[d]
	if !ok || res == nil || dyn == nil || dyn[2] != 1 {
		return false, false
	}
	if len(static) < det.staticSize || !bytes.Equal(static[:4], staticMagic) {
		return false, false
	}
	det.count++
	if det.count%e.framesPerResult != 0 {
		return false, true
	}
	frame := decodeFrame(buf, det.points)
	peaks := findPeaks(frame, det.threshold())
	if det.sorting == sortClosest {
		sort.SliceStable(peaks, func(i, j int) bool { return peaks[i].index < peaks[j].index })
	} else {
		sort.SliceStable(peaks, func(i, j int) bool { return peaks[i].strength > peaks[j].strength })
	}
	if len(peaks) > engine.MaxDistances {
		peaks = peaks[:engine.MaxDistances]
	}
	*res = engine.DistanceResult{
		NumDistances:      uint8(len(peaks)),
		CalibrationNeeded: e.calibrationNeeded(det.count / e.framesPerResult),
		Temperature:       e.temperature,
	}
	for i, p := range peaks {
		res.Distances[i] = float32(det.start + float64(p.index)*det.step*pointLength)
		res.Strengths[i] = float32(p.strength)
		if p.index == 0 {
			res.NearStartEdge = true
		}
	}
	return true, true
}

func (d *distance) threshold() float64 {
	switch d.method {
	case thresholdFixedAmplitude:
		return d.fixedAmp
	case thresholdFixedStrength:
		return math.Pow(10, d.fixedStr/20)
	default:
		return defaultAmplitudeThreshold
	}
}

type peak struct {
	index    int
	strength float64
}

// findPeaks returns the local amplitude maxima above threshold.
func findPeaks(frame []engine.IQ, threshold float64) []peak {
	amp := make([]float64, len(frame))
	for i, s := range frame {
		amp[i] = math.Hypot(float64(s.Real), float64(s.Imag))
	}
	var peaks []peak
	for i, a := range amp {
		if a <= threshold || a == 0 {
			continue
		}
		if i > 0 && amp[i-1] > a {
			continue
		}
		if i < len(amp)-1 && amp[i+1] >= a {
			continue
		}
		peaks = append(peaks, peak{index: i, strength: 20 * math.Log10(a)})
	}
	return peaks
}
