package sim

import (
	"context"

	"github.com/mklimuk/a121"
)

var _ a121.InterruptLine = &Interrupt{}

// Interrupt latches a single rising edge. Raising it again before the edge is
// consumed has no further effect, like a level triggered line.
type Interrupt struct {
	ch chan struct{}
}

func NewInterrupt() *Interrupt {
	return &Interrupt{ch: make(chan struct{}, 1)}
}

func (i *Interrupt) Raise() {
	select {
	case i.ch <- struct{}{}:
	default:
	}
}

// Pending reports a raised edge that nobody waited for yet.
func (i *Interrupt) Pending() bool {
	return len(i.ch) > 0
}

func (i *Interrupt) WaitForHigh(ctx context.Context) error {
	select {
	case <-i.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
