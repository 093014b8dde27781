package transport

import (
	"fmt"
	"log/slog"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// DefaultSPIFrequency is a conservative clock for long board traces.
const DefaultSPIFrequency = 10 * physic.MegaHertz

// Port is an open SPI port with a connection configured for the sensor.
type Port struct {
	port spi.PortCloser
	spi.Conn
}

// OpenSPI opens the named port (empty selects the first one) in mode 0 with 8 bit words.
func OpenSPI(name string, freq physic.Frequency) (*Port, error) {
	state, err := host.Init()
	if err != nil {
		return nil, fmt.Errorf("could not init host: %w", err)
	}
	for _, driver := range state.Loaded {
		slog.Debug("host driver loaded", "driver", driver.String())
	}
	port, err := spireg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("could not open spi port %q: %w", name, err)
	}
	if freq == 0 {
		freq = DefaultSPIFrequency
	}
	c, err := port.Connect(freq, spi.Mode0, 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("could not connect to spi port %q: %w", name, err)
	}
	return &Port{port: port, Conn: c}, nil
}

func (p *Port) Close() error {
	return p.port.Close()
}
