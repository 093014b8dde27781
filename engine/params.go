package engine

// Param addresses a value of a sensor config object.
type Param int

// Subsweep parameters. The config level accessors for these address subsweep 0.
const (
	ParamStartPoint Param = iota
	ParamNumPoints
	ParamStepLength
	ParamProfile
	ParamHWAAS
	ParamReceiverGain
	ParamEnableTx
	ParamPRF
	ParamPhaseEnhancement
	ParamEnableLoopback
)

// Config parameters.
const (
	ParamNumSubsweeps Param = iota + 100
	ParamSweepsPerFrame
	ParamSweepRate
	ParamFrameRate
	ParamContinuousSweepMode
	ParamDoubleBuffering
	ParamInterFrameIdleState
	ParamInterSweepIdleState
)

// PerSubsweep reports whether p is stored per subsweep.
func (p Param) PerSubsweep() bool {
	return p >= ParamStartPoint && p <= ParamEnableLoopback
}

type DistanceParam int

const (
	DistanceSensor DistanceParam = iota
	DistanceStart
	DistanceEnd
	DistanceMaxStepLength
	DistanceCloseRangeLeakageCancellation
	DistanceSignalQuality
	DistanceMaxProfile
	DistanceThresholdMethod
	DistanceFixedAmplitudeThreshold
	DistanceFixedStrengthThreshold
	DistanceRecordedThresholdFrames
	DistanceThresholdSensitivity
	DistancePeakSorting
	DistanceReflectorShape
)

type PresenceParam int

const (
	PresenceSensor PresenceParam = iota
	PresenceStart
	PresenceEnd
	PresenceStepLength
	PresenceAutoStepLength
	PresenceAutoProfile
	PresenceProfile
	PresenceFrameRate
	PresenceSweepsPerFrame
	PresenceResetFiltersOnPrepare
	PresenceIntraThreshold
	PresenceInterThreshold
	PresenceIntraDetection
	PresenceInterDetection
)

// Bool encodes a flag as a parameter value.
func Bool(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
