package engine

type DistanceSizes struct {
	BufferSize          uint32 `yaml:"buffer_size"`
	StaticCalResultSize uint32 `yaml:"static_cal_result_size"`
}

type DistanceResult struct {
	Distances         [MaxDistances]float32
	Strengths         [MaxDistances]float32
	NumDistances      uint8
	NearStartEdge     bool
	CalibrationNeeded bool
	Temperature       int16
}

type PresenceMetadata struct {
	Start      float32
	End        float32
	StepLength float32
	NumPoints  uint16
	Profile    uint8
}

type PresenceResult struct {
	PresenceDetected bool
	IntraScore       float32
	InterScore       float32
	Distance         float32
	DepthwiseIntra   []float32
	DepthwiseInter   []float32
	Processing       ProcessingResult
}

// IQ is one complex sample as delivered by the sensor.
type IQ struct {
	Real int16
	Imag int16
}

type ProcessingMetadata struct {
	FrameDataLength    uint16
	SweepDataLength    uint16
	SubsweepDataOffset [MaxSubsweeps]uint16
	SubsweepDataLength [MaxSubsweeps]uint16
	MaxSweepRate       float32
	HighSpeedMode      bool
}

type ProcessingResult struct {
	DataSaturated     bool
	FrameDelayed      bool
	CalibrationNeeded bool
	Temperature       int16
	Frame             []IQ
}
