package sim

import (
	"context"
	"sync"

	"github.com/mklimuk/a121"
)

var _ a121.EnableLine = &Enable{}

// Enable records the level driven onto the sensor enable pin.
type Enable struct {
	mx      sync.Mutex
	high    bool
	toggles int
}

func NewEnable() *Enable {
	return &Enable{}
}

func (e *Enable) Set(ctx context.Context, high bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mx.Lock()
	defer e.mx.Unlock()
	if e.high != high {
		e.toggles++
	}
	e.high = high
	return nil
}

func (e *Enable) High() bool {
	e.mx.Lock()
	defer e.mx.Unlock()
	return e.high
}

// Toggles counts level changes, a power cycle being two.
func (e *Enable) Toggles() int {
	e.mx.Lock()
	defer e.mx.Unlock()
	return e.toggles
}
