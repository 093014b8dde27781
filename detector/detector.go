// Package detector holds what the distance and presence detectors share.
//
// A detector wraps a Ready radar together with its own engine config and handle.
// Checked operations validate every caller buffer against the engine reported size
// before any engine call. Each has an Unchecked sibling for callers that sized their
// buffers statically with the memory package.
package detector

import (
	"fmt"

	"github.com/mklimuk/a121"
	"github.com/mklimuk/a121/radar"
)

// CheckBuffer fails with a121.ErrBufferTooSmall when got is below need.
func CheckBuffer(name string, need, got int) error {
	if got < need {
		return fmt.Errorf("%s needs %d bytes, got %d: %w", name, need, got, a121.ErrBufferTooSmall)
	}
	return nil
}

// Live fails with a121.ErrNotReady for a nil radar. Consumed radars fail on their
// first call.
func Live(r *radar.Ready) error {
	if r == nil {
		return fmt.Errorf("detector: no radar: %w", a121.ErrNotReady)
	}
	return nil
}
