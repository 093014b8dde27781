package sensor

import (
	"encoding"
	"fmt"

	"github.com/mklimuk/a121/engine"
)

var (
	_ encoding.BinaryMarshaler   = &CalibrationResult{}
	_ encoding.BinaryUnmarshaler = &CalibrationResult{}
)

// CalibrationResult is the opaque blob produced by Calibrate. It is only compatible
// with the engine version that produced it.
type CalibrationResult struct {
	raw engine.CalResult
}

// Raw exposes the blob for engine calls made outside this package.
func (c *CalibrationResult) Raw() *engine.CalResult {
	return &c.raw
}

func (c *CalibrationResult) MarshalBinary() ([]byte, error) {
	out := make([]byte, engine.CalResultSize)
	copy(out, c.raw[:])
	return out, nil
}

func (c *CalibrationResult) UnmarshalBinary(data []byte) error {
	if len(data) != engine.CalResultSize {
		return fmt.Errorf("calibration: expected %d bytes, got %d", engine.CalResultSize, len(data))
	}
	copy(c.raw[:], data)
	return nil
}
