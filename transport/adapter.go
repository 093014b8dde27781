// Package transport connects the engine's transfer callback to a synchronous SPI
// device.
package transport

import (
	"fmt"
	"log/slog"
	"sync"

	"periph.io/x/conn/v3"

	"github.com/mklimuk/a121"
	"github.com/mklimuk/a121/engine"
	"github.com/mklimuk/a121/hal"
)

// DefaultMaxTransferSize is reported when the device states no limit.
const DefaultMaxTransferSize = 65535

var _ hal.Transport = &Adapter{}

type AdapterOpt func(*Adapter)

func WithMaxTransferSize(n int) AdapterOpt {
	return func(a *Adapter) {
		a.maxTransfer = n
	}
}

// Adapter performs in place transfers: buf is written to the device and the bytes
// clocked back replace its content.
type Adapter struct {
	mx          sync.Mutex
	dev         a121.SPIConn
	scratch     []byte
	maxTransfer int
}

func NewAdapter(dev a121.SPIConn, opts ...AdapterOpt) *Adapter {
	a := &Adapter{dev: dev, maxTransfer: DefaultMaxTransferSize}
	if l, ok := dev.(conn.Limits); ok && l.MaxTxSize() > 0 && l.MaxTxSize() < a.maxTransfer {
		a.maxTransfer = l.MaxTxSize()
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) MaxTransferSize() int {
	return a.maxTransfer
}

// Transfer collapses any device error into a121.ErrTransfer; the engine has no way to
// carry more detail.
func (a *Adapter) Transfer(id engine.SensorID, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	a.mx.Lock()
	defer a.mx.Unlock()
	if cap(a.scratch) < len(buf) {
		a.scratch = make([]byte, len(buf))
	}
	w := a.scratch[:len(buf)]
	copy(w, buf)
	if err := a.dev.Tx(w, buf); err != nil {
		slog.Debug("sensor transfer failed", "sensor", id, "length", len(buf), "error", err)
		return fmt.Errorf("%w: sensor %d", a121.ErrTransfer, id)
	}
	return nil
}
