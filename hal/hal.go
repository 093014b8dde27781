// Package hal owns the process-wide hardware abstraction registration the engine calls
// back into: the transfer callback, the RSS heap and the log sink.
//
// The engine keeps a single global HAL, so only one registration may be live per process.
package hal

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mklimuk/a121"
	"github.com/mklimuk/a121/engine"
)

var ErrAlreadyRegistered = errors.New("hal: a registration is already live")

// Transport moves bytes between the engine and the sensor in place.
type Transport interface {
	Transfer(id engine.SensorID, buf []byte) error
	MaxTransferSize() int
}

type Registration struct {
	transport Transport
	heap      *Heap
}

var (
	mx      sync.Mutex
	current *Registration
)

// Register installs t and heap as the engine's hardware abstraction.
func Register(eng engine.Engine, t Transport, heap *Heap) (*Registration, error) {
	mx.Lock()
	defer mx.Unlock()
	if current != nil {
		return nil, ErrAlreadyRegistered
	}
	r := &Registration{transport: t, heap: heap}
	h := &engine.HAL{
		MaxTransferSize: t.MaxTransferSize(),
		MemAlloc:        memAlloc,
		MemFree:         memFree,
		Transfer:        transfer,
		Log:             logLine,
	}
	if !eng.RegisterHAL(h) {
		return nil, fmt.Errorf("hal: engine rejected registration: %w", a121.ErrInitFailed)
	}
	current = r
	return r, nil
}

// Heap returns the heap backing this registration.
func (r *Registration) Heap() *Heap {
	return r.heap
}

// Close frees the global slot. It does not close the heap: engine objects created
// under the registration must be destroyed first.
func (r *Registration) Close() error {
	mx.Lock()
	defer mx.Unlock()
	if current != r {
		return nil
	}
	current = nil
	return nil
}

func live() *Registration {
	mx.Lock()
	defer mx.Unlock()
	return current
}

func memAlloc(size int) []byte {
	r := live()
	if r == nil {
		return nil
	}
	buf, err := r.heap.Alloc(size)
	if err != nil {
		slog.Warn("rss allocation failed", "size", size, "error", err)
		return nil
	}
	return buf
}

func memFree(buf []byte) {
	r := live()
	if r == nil {
		return
	}
	if err := r.heap.Free(buf); err != nil {
		slog.Warn("rss free failed", "error", err)
	}
}

func transfer(id engine.SensorID, buf []byte) error {
	r := live()
	if r == nil {
		return a121.ErrTransfer
	}
	return r.transport.Transfer(id, buf)
}
