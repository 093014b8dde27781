// Package memory computes the external heap and RSS heap byte counts a radar session or
// detector needs for a given configuration.
//
// Every formula exists twice: as a function over literal integers (usable before any
// configuration object exists) and as a calculator over a live configuration. The
// constants are untyped so static buffers can be sized with constant expressions:
//
//	const points, subsweeps, sweeps = 100, 1, 16
//	const ext = max(points*subsweeps*sweeps*memory.BytesPerPoint, memory.CalibrationBuffer) + memory.Overhead
//	var buf [ext]byte
package memory

import "math"

// Heap model of the A121 RSS.
const (
	Overhead          = 68
	CalibrationBuffer = 2492
	BytesPerPoint     = 4

	RSSPerSubsweep = 236
	RSSPerSensor   = 636
	RSSPerConfig   = 512

	FloatSize                    = 4
	PresenceOverhead             = 256
	PresenceFilterParams         = 7
	DistanceOverhead             = 1028
	DistancePerProcessor         = 224
	DistanceProcessors           = 2
	FiltfiltPadLength            = 9
	DistanceMinStaticCalibration = 2048

	MaxSubsweeps = 4
)

// Requirements is a derived heap estimate; it is never stored.
type Requirements struct {
	ExternalHeap int `yaml:"external_heap"`
	RSSHeap      int `yaml:"rss_heap"`
	Total        int `yaml:"total"`
}

func newRequirements(external, rss int) Requirements {
	return Requirements{ExternalHeap: external, RSSHeap: rss, Total: sat(uint64(external) + uint64(rss))}
}

// sat clamps a 64 bit intermediate to the int range of the target.
func sat(v uint64) int {
	if v > math.MaxInt {
		return math.MaxInt
	}
	return int(v)
}

func sessionExternal(totalPoints uint64) uint64 {
	return max(totalPoints*BytesPerPoint, CalibrationBuffer) + Overhead
}

func sessionRSS(subsweeps uint64) uint64 {
	return RSSPerConfig + subsweeps*RSSPerSubsweep + RSSPerSensor
}

func presenceExternal(points uint64) uint64 {
	return points * 2 * FloatSize
}

func presenceRSS(points uint64) uint64 {
	return PresenceOverhead + points*PresenceFilterParams*FloatSize
}

func distanceExternal(points, sweepsPerFrame uint64) uint64 {
	work := (points + 2*FiltfiltPadLength) * 2 * FloatSize
	calibration := points * FloatSize * 3
	var closeRange uint64
	if sweepsPerFrame > 1 {
		closeRange = sweepsPerFrame * points * FloatSize
	}
	return work + calibration + closeRange
}

func distanceRSS() uint64 {
	return DistanceOverhead + DistanceProcessors*DistancePerProcessor
}

func distanceStatic(points uint64) uint64 {
	return max(points*FloatSize*2, DistanceMinStaticCalibration)
}

// SessionExternalHeap is the external heap needed by a plain sensor session.
func SessionExternalHeap(points uint16, subsweeps uint8, sweepsPerFrame uint16) int {
	return sat(sessionExternal(uint64(points) * uint64(subsweeps) * uint64(sweepsPerFrame)))
}

// SessionRSSHeap is the RSS heap needed by one config and one sensor.
func SessionRSSHeap(subsweeps uint8) int {
	return sat(sessionRSS(uint64(subsweeps)))
}

func SessionTotal(points uint16, subsweeps uint8, sweepsPerFrame uint16) int {
	return newRequirements(SessionExternalHeap(points, subsweeps, sweepsPerFrame), SessionRSSHeap(subsweeps)).Total
}

func PresenceExternalHeap(points uint16, subsweeps uint8, sweepsPerFrame uint16) int {
	return sat(sessionExternal(uint64(points)*uint64(subsweeps)*uint64(sweepsPerFrame)) + presenceExternal(uint64(points)))
}

func PresenceRSSHeap(points uint16, subsweeps uint8) int {
	return sat(presenceRSS(uint64(points)) + sessionRSS(uint64(subsweeps)))
}

func PresenceTotal(points uint16, subsweeps uint8, sweepsPerFrame uint16) int {
	return newRequirements(PresenceExternalHeap(points, subsweeps, sweepsPerFrame), PresenceRSSHeap(points, subsweeps)).Total
}

func DistanceExternalHeap(points uint16, subsweeps uint8, sweepsPerFrame uint16) int {
	session := sessionExternal(uint64(points) * uint64(subsweeps) * uint64(sweepsPerFrame))
	return sat(session + distanceExternal(uint64(points), uint64(sweepsPerFrame)))
}

func DistanceRSSHeap(subsweeps uint8) int {
	return sat(distanceRSS() + sessionRSS(uint64(subsweeps)))
}

func DistanceTotal(points uint16, subsweeps uint8, sweepsPerFrame uint16) int {
	return newRequirements(DistanceExternalHeap(points, subsweeps, sweepsPerFrame), DistanceRSSHeap(subsweeps)).Total
}

// DistanceStaticCalibration is the minimum static calibration result size for the
// distance detector.
func DistanceStaticCalibration(points uint16) int {
	return sat(distanceStatic(uint64(points)))
}
