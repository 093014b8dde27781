package hal

import (
	"errors"
	"fmt"
	"sync"

	mmem "modernc.org/memory"
)

var ErrOutOfMemory = errors.New("hal: heap exhausted")

// Heap is the budgeted allocator behind the engine's mem_alloc callback. Memory comes
// from mmap'ed pages outside the Go heap so the engine may keep pointers into it.
type Heap struct {
	mx       sync.Mutex
	alloc    mmem.Allocator
	capacity int
	used     int
	live     map[*byte]int
}

// NewHeap returns a heap that refuses allocations past capacity bytes. Size it with
// the RSS heap numbers from the memory package.
func NewHeap(capacity int) *Heap {
	return &Heap{capacity: capacity, live: make(map[*byte]int)}
}

func (h *Heap) Alloc(size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("hal: invalid allocation size %d", size)
	}
	h.mx.Lock()
	defer h.mx.Unlock()
	if h.used+size > h.capacity {
		return nil, fmt.Errorf("%w: %d bytes requested, %d of %d in use", ErrOutOfMemory, size, h.used, h.capacity)
	}
	buf, err := h.alloc.Malloc(size)
	if err != nil {
		return nil, fmt.Errorf("hal: could not allocate %d bytes: %w", size, err)
	}
	h.used += size
	h.live[&buf[0]] = size
	return buf[:size], nil
}

func (h *Heap) Free(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	h.mx.Lock()
	defer h.mx.Unlock()
	size, ok := h.live[&buf[0]]
	if !ok {
		return fmt.Errorf("hal: free of unknown block")
	}
	delete(h.live, &buf[0])
	h.used -= size
	return h.alloc.Free(buf)
}

func (h *Heap) Used() int {
	h.mx.Lock()
	defer h.mx.Unlock()
	return h.used
}

func (h *Heap) Capacity() int {
	return h.capacity
}

// Close releases every page. Blocks still held by the engine become invalid.
func (h *Heap) Close() error {
	h.mx.Lock()
	defer h.mx.Unlock()
	h.live = make(map[*byte]int)
	h.used = 0
	return h.alloc.Close()
}
