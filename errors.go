package a121

import "errors"

var (
	ErrInitFailed           = errors.New("engine object creation failed")
	ErrCalibrationFailed    = errors.New("calibration failed")
	ErrCalibrationInvalid   = errors.New("calibration result is not valid")
	ErrCalibrationInfo      = errors.New("could not read calibration info")
	ErrPrepareFailed        = errors.New("prepare failed")
	ErrMeasurement          = errors.New("measurement could not be started")
	ErrRead                 = errors.New("could not read measurement data")
	ErrHibernationOnFailed  = errors.New("could not enter hibernation")
	ErrHibernationOffFailed = errors.New("could not leave hibernation")
	ErrNotReady             = errors.New("radar is not in the required state")
	ErrBufferTooSmall       = errors.New("buffer too small")
	ErrProcessingFailed     = errors.New("processing failed")
	ErrUnavailable          = errors.New("result not available yet")
	ErrTransfer             = errors.New("transfer failed")
)
