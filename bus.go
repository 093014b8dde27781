package a121

import (
	"context"
	"errors"
)

var ErrBusBusy = errors.New("I2C engine is busy (command not completed)")

// SPIConn is a full duplex byte transfer device. periph.io spi.Conn satisfies it.
type SPIConn interface {
	Tx(w, r []byte) error
}

// EnableLine drives the sensor power enable pin.
type EnableLine interface {
	Set(ctx context.Context, high bool) error
}

// InterruptLine is the sensor ready line. WaitForHigh blocks until the line is high
// or ctx is done.
type InterruptLine interface {
	WaitForHigh(ctx context.Context) error
}

type AddressableReader interface {
	ReadFromAddr(ctx context.Context, address byte, buffer []byte) error
}

type AddressableWriter interface {
	WriteToAddr(ctx context.Context, address byte, buffer []byte) error
	Release(ctx context.Context) error
}

// I2CBus backs pin expanders that carry the enable and interrupt lines.
type I2CBus interface {
	AddressableReader
	AddressableWriter
}
