package sim

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/mklimuk/a121/engine"
	"github.com/mklimuk/a121/memory"
)

// scoreScale maps amplitude deviations to detector scores.
const scoreScale = 100

var presenceDefaults = map[engine.PresenceParam]float64{
	engine.PresenceSensor:                1,
	engine.PresenceStart:                 0.3,
	engine.PresenceEnd:                   2.5,
	engine.PresenceStepLength:            24,
	engine.PresenceAutoStepLength:        1,
	engine.PresenceAutoProfile:           1,
	engine.PresenceProfile:               4,
	engine.PresenceFrameRate:             12,
	engine.PresenceSweepsPerFrame:        16,
	engine.PresenceResetFiltersOnPrepare: 1,
	engine.PresenceIntraThreshold:        1.3,
	engine.PresenceInterThreshold:        1,
	engine.PresenceIntraDetection:        1,
	engine.PresenceInterDetection:        1,
}

type presence struct {
	mem            []byte
	meta           engine.PresenceMetadata
	points         int
	sweeps         int
	bufferSize     int
	intraThreshold float64
	interThreshold float64
	intraEnabled   bool
	interEnabled   bool
	resetFilters   bool
	last           []float64
	count          int
}

func (e *Engine) PresenceConfigCreate() engine.PresenceConfigRef {
	e.mx.Lock()
	defer e.mx.Unlock()
	if !e.call(OpPresenceConfigCreate) {
		return 0
	}
	values := make(map[engine.PresenceParam]float64, len(presenceDefaults))
	for p, v := range presenceDefaults {
		values[p] = v
	}
	ref := engine.PresenceConfigRef(e.ref())
	e.presCfgs[ref] = values
	return ref
}

func (e *Engine) PresenceConfigDestroy(cfg engine.PresenceConfigRef) {
	e.mx.Lock()
	defer e.mx.Unlock()
	delete(e.presCfgs, cfg)
}

func (e *Engine) PresenceConfigSet(cfg engine.PresenceConfigRef, p engine.PresenceParam, value float64) {
	e.mx.Lock()
	defer e.mx.Unlock()
	if values, ok := e.presCfgs[cfg]; ok {
		values[p] = value
	}
}

func (e *Engine) PresenceConfigGet(cfg engine.PresenceConfigRef, p engine.PresenceParam) float64 {
	e.mx.Lock()
	defer e.mx.Unlock()
	return e.presCfgs[cfg][p]
}

func (e *Engine) PresenceCreate(cfg engine.PresenceConfigRef, meta *engine.PresenceMetadata) engine.PresenceRef {
	e.mx.Lock()
	defer e.mx.Unlock()
	if !e.call(OpPresenceCreate) {
		return 0
	}
	v, ok := e.presCfgs[cfg]
	if !ok {
		return 0
	}
	start, end := v[engine.PresenceStart], v[engine.PresenceEnd]
	if start < 0 || end <= start {
		e.log(engine.LogError, "presence: invalid range %.3f to %.3f", start, end)
		return 0
	}
	profile := int(v[engine.PresenceProfile])
	if v[engine.PresenceAutoProfile] != 0 {
		profile = autoProfile(start)
	}
	profile = min(max(profile, 1), len(profileStep)-1)
	step := v[engine.PresenceStepLength]
	if v[engine.PresenceAutoStepLength] != 0 || step <= 0 {
		step = profileStep[profile] * 4
	}
	points := int((end-start)/(step*pointLength)) + 1
	sweeps := max(int(v[engine.PresenceSweepsPerFrame]), 1)
	if points > math.MaxUint16 || sweeps > math.MaxUint16 {
		return 0
	}
	mem := e.alloc(memory.PresenceOverhead + points*memory.PresenceFilterParams*memory.FloatSize)
	if mem == nil {
		e.log(engine.LogError, "presence: out of memory")
		return 0
	}
	p := &presence{
		mem:    mem,
		points: points,
		sweeps: sweeps,
		meta: engine.PresenceMetadata{
			Start:      float32(start),
			End:        float32(start + float64(points-1)*step*pointLength),
			StepLength: float32(step * pointLength),
			NumPoints:  uint16(points),
			Profile:    uint8(profile),
		},
		bufferSize:     memory.PresenceExternalHeap(uint16(points), 1, uint16(sweeps)),
		intraThreshold: v[engine.PresenceIntraThreshold],
		interThreshold: v[engine.PresenceInterThreshold],
		intraEnabled:   v[engine.PresenceIntraDetection] != 0,
		interEnabled:   v[engine.PresenceInterDetection] != 0,
		resetFilters:   v[engine.PresenceResetFiltersOnPrepare] != 0,
	}
	if meta != nil {
		*meta = p.meta
	}
	ref := engine.PresenceRef(e.ref())
	e.presences[ref] = p
	return ref
}

// autoProfile picks the longest pulse that does not blind the start of the range.
func autoProfile(start float64) int {
	switch {
	case start < 0.1:
		return 1
	case start < 0.25:
		return 2
	case start < 0.5:
		return 3
	case start < 1.0:
		return 4
	default:
		return 5
	}
}

func (e *Engine) PresenceDestroy(p engine.PresenceRef) {
	e.mx.Lock()
	defer e.mx.Unlock()
	det, ok := e.presences[p]
	if !ok {
		return
	}
	e.free(det.mem)
	delete(e.presences, p)
}

func (e *Engine) PresenceBufferSize(p engine.PresenceRef) (uint32, bool) {
	e.mx.Lock()
	defer e.mx.Unlock()
	if !e.call(OpPresenceBufferSize) {
		return 0, false
	}
	det, ok := e.presences[p]
	if !ok {
		return 0, false
	}
	return uint32(det.bufferSize), true
}

func (e *Engine) PresencePrepare(p engine.PresenceRef, cfg engine.PresenceConfigRef, s engine.SensorRef, cal *engine.CalResult, buf []byte) bool {
	e.mx.Lock()
	defer e.mx.Unlock()
	if !e.call(OpPresencePrepare) {
		return false
	}
	det, ok := e.presences[p]
	st, sok := e.sensors[s]
	if _, cok := e.presCfgs[cfg]; !ok || !sok || !cok {
		return false
	}
	if st.hibernating || !e.validCal(cal) || len(buf) < det.bufferSize {
		return false
	}
	if !e.reserveSubsweeps(st, 1) {
		return false
	}
	if det.resetFilters {
		det.last = nil
	}
	return e.arm(st, det.points*det.sweeps)
}

func (e *Engine) PresenceProcess(p engine.PresenceRef, buf []byte, res *engine.PresenceResult) bool {
	e.mx.Lock()
	defer e.mx.Unlock()
	if !e.call(OpPresenceProcess) || res == nil {
		return false
	}
	det, ok := e.presences[p]
	if !ok {
		return false
	}
	det.count++
	frame := decodeFrame(buf, det.points*det.sweeps)
	mean := make([]float64, det.points)
	intra := make([]float64, det.points)
	inter := make([]float64, det.points)
	amps := make([]float64, 0, det.sweeps)
	for i := 0; i < det.points; i++ {
		amps = amps[:0]
		for s := 0; s < det.sweeps; s++ {
			idx := s*det.points + i
			if idx >= len(frame) {
				break
			}
			amps = append(amps, math.Hypot(float64(frame[idx].Real), float64(frame[idx].Imag)))
		}
		if len(amps) == 0 {
			continue
		}
		m, sd := stat.PopMeanStdDev(amps, nil)
		mean[i] = m
		intra[i] = sd / scoreScale
		if det.last != nil {
			inter[i] = math.Abs(m-det.last[i]) / scoreScale
		}
	}
	det.last = mean
	intraIdx, intraScore := maxScore(intra)
	interIdx, interScore := maxScore(inter)
	*res = engine.PresenceResult{
		IntraScore:     intraScore,
		InterScore:     interScore,
		DepthwiseIntra: float32s(intra),
		DepthwiseInter: float32s(inter),
		Processing: engine.ProcessingResult{
			Frame:             frame,
			DataSaturated:     saturated(frame),
			CalibrationNeeded: e.calibrationNeeded(det.count),
			Temperature:       e.temperature,
		},
	}
	intraHit := det.intraEnabled && float64(intraScore) > det.intraThreshold
	interHit := det.interEnabled && float64(interScore) > det.interThreshold
	res.PresenceDetected = intraHit || interHit
	if res.PresenceDetected {
		idx := interIdx
		if intraHit && (!interHit || intraScore > interScore) {
			idx = intraIdx
		}
		res.Distance = det.meta.Start + float32(idx)*det.meta.StepLength
	}
	return true
}

// maxScore is the strongest score and its point. Scores are never negative, so an empty
// or all-zero frame reports point 0 with score 0.
func maxScore(scores []float64) (int, float32) {
	if len(scores) == 0 {
		return 0, 0
	}
	idx := floats.MaxIdx(scores)
	return idx, float32(scores[idx])
}

func float32s(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
