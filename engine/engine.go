// Package engine describes the boundary to the radar system software (RSS): the vendor
// compute engine that encodes configurations, calibrates the sensor and runs the
// detector algorithms.
//
// The engine is synchronous. Every primitive reports a boolean success flag plus
// out-parameters; object constructors return a zero ref on failure. Engine objects are
// addressed through opaque refs that the caller owns and must destroy exactly once.
package engine

// Opaque engine object references. Zero is the null reference.
type (
	ConfigRef         uintptr
	SensorRef         uintptr
	ProcessingRef     uintptr
	DistanceConfigRef uintptr
	DistanceRef       uintptr
	PresenceConfigRef uintptr
	PresenceRef       uintptr
)

// SensorID identifies a physical sensor on the board.
type SensorID uint32

const (
	// CalResultSize is the size of the opaque sensor calibration blob.
	CalResultSize = 192
	// DynamicCalResultSize is the size of the distance detector dynamic calibration blob.
	DynamicCalResultSize = 8
	// SensorCalibrationBufferSize is the work buffer the sensor calibration needs.
	SensorCalibrationBufferSize = 5560
	// MaxDistances is the number of peaks a distance result can carry.
	MaxDistances = 10
	// MaxSubsweeps bounds the subsweep array of a config.
	MaxSubsweeps = 4
)

type CalResult [CalResultSize]byte

type DynamicCalResult [DynamicCalResultSize]byte

// CalInfo is derived from a calibration result.
type CalInfo struct {
	Temperature int16
}

type LogLevel int

const (
	LogError LogLevel = iota
	LogWarning
	LogInfo
	LogVerbose
	LogDebug
)

// HAL is the hardware abstraction the engine calls back into. It is registered once
// per process.
type HAL struct {
	MaxTransferSize int
	// MemAlloc returns nil when the heap is exhausted.
	MemAlloc func(size int) []byte
	MemFree  func(buf []byte)
	// Transfer writes buf to the sensor and reads the response back into buf.
	Transfer func(id SensorID, buf []byte) error
	Log      func(level LogLevel, module, msg string)
}

// Engine is the complete RSS surface the host drives.
type Engine interface {
	RegisterHAL(hal *HAL) bool
	Version() uint32

	ConfigEngine
	SensorEngine
	ProcessingEngine
	DistanceEngine
	PresenceEngine
}

type ConfigEngine interface {
	ConfigCreate() ConfigRef
	ConfigDestroy(cfg ConfigRef)
	// ConfigSet writes p. Subsweep parameters use index, config parameters ignore it.
	ConfigSet(cfg ConfigRef, p Param, index uint8, value float64)
	ConfigGet(cfg ConfigRef, p Param, index uint8) float64
	// ConfigBufferSize is the minimum prepare and read buffer for cfg.
	ConfigBufferSize(cfg ConfigRef) (uint32, bool)
	ConfigLog(cfg ConfigRef)
}

type SensorEngine interface {
	SensorCreate(id SensorID) SensorRef
	SensorDestroy(s SensorRef)
	SensorCalibrate(s SensorRef, cal *CalResult, buf []byte) (complete bool, ok bool)
	SensorPrepare(s SensorRef, cfg ConfigRef, cal *CalResult, buf []byte) bool
	SensorMeasure(s SensorRef) bool
	SensorRead(s SensorRef, buf []byte) bool
	SensorHibernateOn(s SensorRef) bool
	SensorHibernateOff(s SensorRef) bool
	SensorConnected(id SensorID) bool
	SensorStatus(s SensorRef)
	CalibrationValidate(s SensorRef, cal *CalResult) bool
	CalibrationInfo(cal *CalResult) (CalInfo, bool)
}

type ProcessingEngine interface {
	ProcessingCreate(cfg ConfigRef, meta *ProcessingMetadata) ProcessingRef
	ProcessingDestroy(p ProcessingRef)
	ProcessingExecute(p ProcessingRef, buf []byte, res *ProcessingResult)
}

type DistanceEngine interface {
	DistanceConfigCreate() DistanceConfigRef
	DistanceConfigDestroy(cfg DistanceConfigRef)
	DistanceConfigSet(cfg DistanceConfigRef, p DistanceParam, value float64)
	DistanceConfigGet(cfg DistanceConfigRef, p DistanceParam) float64
	DistanceCreate(cfg DistanceConfigRef) DistanceRef
	DistanceDestroy(d DistanceRef)
	DistanceSizes(d DistanceRef) (DistanceSizes, bool)
	DistanceCalibrate(s SensorRef, d DistanceRef, cal *CalResult, buf, static []byte, dyn *DynamicCalResult) (complete bool, ok bool)
	DistanceUpdateCalibration(s SensorRef, d DistanceRef, cal *CalResult, buf []byte, dyn *DynamicCalResult) (complete bool, ok bool)
	DistancePrepare(d DistanceRef, cfg DistanceConfigRef, s SensorRef, cal *CalResult, buf []byte) bool
	DistanceProcess(d DistanceRef, buf, static []byte, dyn *DynamicCalResult, res *DistanceResult) (available bool, ok bool)
}

type PresenceEngine interface {
	PresenceConfigCreate() PresenceConfigRef
	PresenceConfigDestroy(cfg PresenceConfigRef)
	PresenceConfigSet(cfg PresenceConfigRef, p PresenceParam, value float64)
	PresenceConfigGet(cfg PresenceConfigRef, p PresenceParam) float64
	PresenceCreate(cfg PresenceConfigRef, meta *PresenceMetadata) PresenceRef
	PresenceDestroy(p PresenceRef)
	PresenceBufferSize(p PresenceRef) (uint32, bool)
	PresencePrepare(p PresenceRef, cfg PresenceConfigRef, s SensorRef, cal *CalResult, buf []byte) bool
	PresenceProcess(p PresenceRef, buf []byte, res *PresenceResult) bool
}
