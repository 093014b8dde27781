package adapter

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"

	"github.com/karalabe/hid"

	"github.com/mklimuk/a121"
)

// I2CProductID identifies the MCP2221 USB-to-I2C bridge, an alternative host for the
// pin expander carrying the enable and interrupt lines.
const I2CProductID = 0x00DD

// MaxI2CChunk is the largest I2C payload one report carries.
const MaxI2CChunk = 60

const (
	i2cStatus   = 0x10
	i2cWrite    = 0x90
	i2cRead     = 0x91
	i2cReadData = 0x40

	i2cCancel      = 0x10
	i2cBusy        = 0x01
	i2cReadFailure = 0x41
	i2cBadSize     = 127
)

var _ a121.I2CBus = &MCP2221{}

type MCP2221 struct {
	mx       sync.Mutex
	dev      Device
	request  []byte
	response []byte
}

type I2CStatus struct {
	RequestedSize  uint16 `yaml:"requested_size"`
	SentSize       uint16 `yaml:"sent_size"`
	BufferCounter  byte   `yaml:"buffer_counter"`
	SpeedDivider   byte   `yaml:"speed_divider"`
	Timeout        byte   `yaml:"timeout"`
	CurrentAddress string `yaml:"current_address"`
	ReadPending    byte   `yaml:"read_pending"`
}

// OpenI2C finds an MCP2221 on USB. serial selects one when several are attached.
func OpenI2C(serial string) (*MCP2221, error) {
	var found []hid.DeviceInfo
	for _, info := range hid.Enumerate(VendorID, I2CProductID) {
		if serial == "" || info.Serial == serial {
			found = append(found, info)
		}
	}
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("mcp2221: %w", ErrNotFound)
	case 1:
	default:
		return nil, fmt.Errorf("mcp2221: ambiguous device identification (%d attached), select by serial", len(found))
	}
	dev, err := found[0].Open()
	if err != nil {
		return nil, fmt.Errorf("mcp2221: error opening device: %w", err)
	}
	return NewMCP2221(dev), nil
}

// I2CDevices lists the attached MCP2221 bridges.
func I2CDevices() []hid.DeviceInfo {
	return hid.Enumerate(VendorID, I2CProductID)
}

func NewMCP2221(dev Device) *MCP2221 {
	return &MCP2221{
		dev:      dev,
		request:  make([]byte, reportSize),
		response: make([]byte, reportSize),
	}
}

func (d *MCP2221) Close() error {
	return d.dev.Close()
}

// WriteToAddr writes buffer to a 7 bit address. A bridge still busy with the
// previous transfer reports a121.ErrBusBusy.
func (d *MCP2221) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	if len(buffer) > MaxI2CChunk {
		return fmt.Errorf("mcp2221: write of %d bytes exceeds %d", len(buffer), MaxI2CChunk)
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = i2cWrite
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buffer)))
	d.request[3] = address << 1
	copy(d.request[4:], buffer)
	if err := d.send(ctx); err != nil {
		return fmt.Errorf("mcp2221: write to %#x failed: %w", address, err)
	}
	if d.response[1] == i2cBusy {
		return fmt.Errorf("mcp2221: write to %#x: %w", address, a121.ErrBusBusy)
	}
	return nil
}

func (d *MCP2221) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	if len(buffer) > MaxI2CChunk {
		return fmt.Errorf("mcp2221: read of %d bytes exceeds %d", len(buffer), MaxI2CChunk)
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = i2cRead
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buffer)))
	d.request[3] = address<<1 | 1
	if err := d.send(ctx); err != nil {
		return fmt.Errorf("mcp2221: read from %#x failed: %w", address, err)
	}
	if d.response[1] == i2cBusy {
		return fmt.Errorf("mcp2221: read from %#x: %w", address, a121.ErrBusBusy)
	}
	d.resetBuffers()
	d.request[0] = i2cReadData
	if err := d.send(ctx); err != nil {
		return fmt.Errorf("mcp2221: fetching read data failed: %w", err)
	}
	if d.response[1] == i2cReadFailure {
		return fmt.Errorf("mcp2221: i2c engine could not read from %#x: %w", address, ErrCommandFailed)
	}
	if n := d.response[3]; n == i2cBadSize || int(n) != len(buffer) {
		return fmt.Errorf("mcp2221: invalid data size, expected %d, got %d", len(buffer), n)
	}
	copy(buffer, d.response[4:4+len(buffer)])
	return nil
}

func (d *MCP2221) Status(ctx context.Context) (*I2CStatus, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.status(ctx, false)
}

// ReleaseBus cancels the current transfer and frees the bus.
func (d *MCP2221) ReleaseBus(ctx context.Context) (*I2CStatus, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.status(ctx, true)
}

func (d *MCP2221) status(ctx context.Context, cancel bool) (*I2CStatus, error) {
	d.resetBuffers()
	d.request[0] = i2cStatus
	if cancel {
		d.request[2] = i2cCancel
	}
	if err := d.send(ctx); err != nil {
		return nil, fmt.Errorf("mcp2221: status request failed: %w", err)
	}
	r := d.response
	return &I2CStatus{
		RequestedSize:  binary.LittleEndian.Uint16(r[9:11]),
		SentSize:       binary.LittleEndian.Uint16(r[11:13]),
		BufferCounter:  r[13],
		SpeedDivider:   r[14],
		Timeout:        r[15],
		CurrentAddress: hex.EncodeToString(r[16:18]),
		ReadPending:    r[25],
	}, nil
}

func (d *MCP2221) send(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n, err := d.dev.Write(d.request)
	if err != nil {
		return fmt.Errorf("could not write request: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short write: %d", n)
	}
	n, err = d.dev.Read(d.response)
	if err != nil {
		return fmt.Errorf("could not read response: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short read: %d", n)
	}
	slog.Debug("mcp2221 exchange", "request", hex.EncodeToString(d.request[:4]), "response", hex.EncodeToString(d.response[:4]))
	if d.response[0] != d.request[0] {
		return fmt.Errorf("response to %#x echoes %#x: %w", d.request[0], d.response[0], ErrCommandFailed)
	}
	return nil
}

func (d *MCP2221) resetBuffers() {
	clear(d.request)
	clear(d.response)
}
