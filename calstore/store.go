// Package calstore persists sensor calibration results so a restart can skip the
// power cycling calibration while the temperature has not moved.
//
// A stored result is only usable with the engine version that produced it and must
// still be validated against the sensor before PrepareSensor.
package calstore

import (
	"context"
	"errors"
	"time"

	"github.com/mklimuk/a121/engine"
	"github.com/mklimuk/a121/sensor"
)

var (
	ErrNotFound = errors.New("calstore: no calibration stored")
	ErrCorrupt  = errors.New("calstore: stored calibration is corrupt")
)

// Record is one stored calibration with the conditions it was taken in.
type Record struct {
	SensorID    engine.SensorID
	Temperature int16
	Saved       time.Time
	Calibration *sensor.CalibrationResult
}

// Stale reports whether the sensor moved more than maxDelta degrees away from the
// temperature the calibration was taken at.
func (r Record) Stale(temperature int16, maxDelta int16) bool {
	d := int(temperature) - int(r.Temperature)
	if d < 0 {
		d = -d
	}
	return d > int(maxDelta)
}

type Store interface {
	Save(ctx context.Context, rec Record) error
	Load(ctx context.Context, id engine.SensorID) (Record, error)
}
