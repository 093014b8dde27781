package sim

import (
	"fmt"
	"sync"

	"github.com/mklimuk/a121"
)

var _ a121.SPIConn = &SPI{}

// SPI is a loopback device: every transfer reads back what was written.
type SPI struct {
	mx    sync.Mutex
	count int
	bytes int
	err   error
}

func NewSPI() *SPI {
	return &SPI{}
}

func (s *SPI) Tx(w, r []byte) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.err != nil {
		return s.err
	}
	if len(w) != len(r) {
		return fmt.Errorf("sim: write and read length differ: %d != %d", len(w), len(r))
	}
	copy(r, w)
	s.count++
	s.bytes += len(w)
	return nil
}

// Transfers is the number of completed transfers.
func (s *SPI) Transfers() int {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.count
}

// SetError makes every following transfer fail with err. nil restores the device.
func (s *SPI) SetError(err error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.err = err
}
