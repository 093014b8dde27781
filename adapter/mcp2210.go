// Package adapter drives the sensor through a Microchip MCP2210 USB-to-SPI bridge.
//
// The bridge is a HID device exchanging 64 byte reports. It carries the SPI transfers
// and, on its general purpose pins, the enable and interrupt lines, so a development
// board can run the radar from any USB host.
package adapter

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/karalabe/hid"

	"github.com/mklimuk/a121"
)

const VendorID = 0x04D8
const ProductID = 0x00DE

const reportSize = 64

// MaxChunk is the SPI payload carried by one transfer report.
const MaxChunk = 60

const (
	cmdStatus         = 0x10
	cmdGetGPIOValue   = 0x31
	cmdSetGPIOValue   = 0x30
	cmdSetGPIODir     = 0x32
	cmdGetGPIODir     = 0x33
	cmdSetSPISettings = 0x40
	cmdGetSPISettings = 0x41
	cmdTransfer       = 0x42
)

const (
	statusOK           = 0x00
	statusBusExternal  = 0xF7
	statusBusyTransfer = 0xF8

	engineFinished = 0x10
)

var ErrCommandFailed = errors.New("mcp2210: command failed")
var ErrNotFound = errors.New("mcp2210: device not found")

// Device is the HID report channel. *hid.Device satisfies it.
type Device interface {
	Write(b []byte) (int, error)
	Read(b []byte) (int, error)
	Close() error
}

type MCP2210Opts struct {
	BusyWait   time.Duration
	BusyLimit  int
	SPISpeed   uint32
	SPIMode    byte
	ChipSelect uint16
}

type MCP2210Opt func(*MCP2210Opts)

// WithSPISpeed sets the SPI clock in Hz.
func WithSPISpeed(hz uint32) MCP2210Opt {
	return func(o *MCP2210Opts) {
		o.SPISpeed = hz
	}
}

// WithChipSelect selects which GP pins act as chip select (bit mask).
func WithChipSelect(mask uint16) MCP2210Opt {
	return func(o *MCP2210Opts) {
		o.ChipSelect = mask
	}
}

// WithBusyRetry bounds the resends of a report the bridge refused while busy.
func WithBusyRetry(wait time.Duration, limit int) MCP2210Opt {
	return func(o *MCP2210Opts) {
		o.BusyWait = wait
		o.BusyLimit = max(limit, 1)
	}
}

var _ a121.SPIConn = &MCP2210{}

type MCP2210 struct {
	mx       sync.Mutex
	dev      Device
	opts     MCP2210Opts
	request  []byte
	response []byte
	txSize   int
}

type Status struct {
	BusReleasePending bool `yaml:"bus_release_pending"`
	BusOwner          byte `yaml:"bus_owner"`
	PasswordAttempts  byte `yaml:"password_attempts"`
	PasswordGuessed   bool `yaml:"password_guessed"`
}

// SPISettings is the volatile transfer configuration of the bridge.
type SPISettings struct {
	BitRate             uint32 `yaml:"bit_rate"`
	IdleChipSelect      uint16 `yaml:"idle_chip_select"`
	ActiveChipSelect    uint16 `yaml:"active_chip_select"`
	CSToDataDelay       uint16 `yaml:"cs_to_data_delay"`
	DataToCSDelay       uint16 `yaml:"data_to_cs_delay"`
	ByteDelay           uint16 `yaml:"byte_delay"`
	BytesPerTransaction uint16 `yaml:"bytes_per_transaction"`
	Mode                byte   `yaml:"mode"`
}

// Open finds the bridge on USB. serial selects one when several are attached.
func Open(serial string, opts ...MCP2210Opt) (*MCP2210, error) {
	var found []hid.DeviceInfo
	for _, info := range hid.Enumerate(VendorID, ProductID) {
		if serial == "" || info.Serial == serial {
			found = append(found, info)
		}
	}
	if len(found) == 0 {
		return nil, ErrNotFound
	}
	if len(found) > 1 {
		return nil, fmt.Errorf("mcp2210: ambiguous device identification (%d attached), select by serial", len(found))
	}
	dev, err := found[0].Open()
	if err != nil {
		return nil, fmt.Errorf("mcp2210: error opening device: %w", err)
	}
	return New(dev, opts...), nil
}

// Devices lists the attached bridges.
func Devices() []hid.DeviceInfo {
	return hid.Enumerate(VendorID, ProductID)
}

func New(dev Device, opts ...MCP2210Opt) *MCP2210 {
	o := MCP2210Opts{
		BusyWait:   time.Millisecond,
		BusyLimit:  100,
		SPISpeed:   1_000_000,
		ChipSelect: 0x0001,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &MCP2210{
		dev:      dev,
		opts:     o,
		request:  make([]byte, reportSize),
		response: make([]byte, reportSize),
	}
}

func (d *MCP2210) Close() error {
	return d.dev.Close()
}

func (d *MCP2210) Status(ctx context.Context) (*Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdStatus
	if err := d.send(ctx); err != nil {
		return nil, fmt.Errorf("mcp2210: status request failed: %w", err)
	}
	return &Status{
		BusReleasePending: d.response[2] == 0x00,
		BusOwner:          d.response[3],
		PasswordAttempts:  d.response[4],
		PasswordGuessed:   d.response[5] == 0x01,
	}, nil
}

func (d *MCP2210) SPISettings(ctx context.Context) (SPISettings, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.spiSettings(ctx)
}

func (d *MCP2210) spiSettings(ctx context.Context) (SPISettings, error) {
	d.resetBuffers()
	d.request[0] = cmdGetSPISettings
	if err := d.send(ctx); err != nil {
		return SPISettings{}, fmt.Errorf("mcp2210: get spi settings failed: %w", err)
	}
	r := d.response[4:]
	return SPISettings{
		BitRate:             binary.LittleEndian.Uint32(r[0:4]),
		IdleChipSelect:      binary.LittleEndian.Uint16(r[4:6]),
		ActiveChipSelect:    binary.LittleEndian.Uint16(r[6:8]),
		CSToDataDelay:       binary.LittleEndian.Uint16(r[8:10]),
		DataToCSDelay:       binary.LittleEndian.Uint16(r[10:12]),
		ByteDelay:           binary.LittleEndian.Uint16(r[12:14]),
		BytesPerTransaction: binary.LittleEndian.Uint16(r[14:16]),
		Mode:                r[16],
	}, nil
}

func (d *MCP2210) SetSPISettings(ctx context.Context, s SPISettings) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.setSPISettings(ctx, s)
}

func (d *MCP2210) setSPISettings(ctx context.Context, s SPISettings) error {
	d.resetBuffers()
	d.request[0] = cmdSetSPISettings
	r := d.request[4:]
	binary.LittleEndian.PutUint32(r[0:4], s.BitRate)
	binary.LittleEndian.PutUint16(r[4:6], s.IdleChipSelect)
	binary.LittleEndian.PutUint16(r[6:8], s.ActiveChipSelect)
	binary.LittleEndian.PutUint16(r[8:10], s.CSToDataDelay)
	binary.LittleEndian.PutUint16(r[10:12], s.DataToCSDelay)
	binary.LittleEndian.PutUint16(r[12:14], s.ByteDelay)
	binary.LittleEndian.PutUint16(r[14:16], s.BytesPerTransaction)
	r[16] = s.Mode
	if err := d.send(ctx); err != nil {
		return fmt.Errorf("mcp2210: set spi settings failed: %w", err)
	}
	return nil
}

// Tx runs one chip select framed full duplex transfer. The bridge latches the transfer
// length, so a change of length costs one extra settings exchange.
func (d *MCP2210) Tx(w, r []byte) error {
	if len(r) > 0 && len(r) != len(w) {
		return fmt.Errorf("mcp2210: tx/rx length mismatch: %d != %d", len(w), len(r))
	}
	if len(w) > 0xFFFF {
		return fmt.Errorf("mcp2210: transfer of %d bytes exceeds 65535", len(w))
	}
	if len(w) == 0 {
		return nil
	}
	ctx := context.Background()
	d.mx.Lock()
	defer d.mx.Unlock()
	if len(w) != d.txSize {
		err := d.setSPISettings(ctx, SPISettings{
			BitRate:             d.opts.SPISpeed,
			IdleChipSelect:      d.opts.ChipSelect,
			ActiveChipSelect:    0,
			BytesPerTransaction: uint16(len(w)),
			Mode:                d.opts.SPIMode,
		})
		if err != nil {
			return err
		}
		d.txSize = len(w)
	}
	sent, received := 0, 0
	for {
		n := min(len(w)-sent, MaxChunk)
		status, engine, got, err := d.transfer(ctx, w[sent:sent+n])
		if err != nil {
			return err
		}
		switch status {
		case statusOK:
			sent += n
		case statusBusExternal:
			return fmt.Errorf("mcp2210: spi bus held by an external master: %w", a121.ErrBusBusy)
		case statusBusyTransfer:
			return fmt.Errorf("mcp2210: transfer still busy after %d attempts: %w", d.opts.BusyLimit, a121.ErrBusBusy)
		default:
			return fmt.Errorf("mcp2210: transfer status %#x: %w", status, ErrCommandFailed)
		}
		if received < len(r) {
			copy(r[received:], got)
		}
		received += len(got)
		if engine == engineFinished && sent == len(w) {
			return nil
		}
	}
}

// transfer sends one report of at most MaxChunk bytes and returns the status, SPI
// engine state and received bytes.
func (d *MCP2210) transfer(ctx context.Context, chunk []byte) (byte, byte, []byte, error) {
	for attempt := 0; ; attempt++ {
		d.resetBuffers()
		d.request[0] = cmdTransfer
		d.request[1] = byte(len(chunk))
		copy(d.request[4:], chunk)
		if err := d.send(ctx); err != nil {
			return 0, 0, nil, fmt.Errorf("mcp2210: spi transfer failed: %w", err)
		}
		status := d.response[1]
		if status == statusBusyTransfer && attempt < d.opts.BusyLimit {
			time.Sleep(d.opts.BusyWait)
			continue
		}
		n := min(int(d.response[2]), MaxChunk)
		return status, d.response[3], d.response[4 : 4+n], nil
	}
}

func (d *MCP2210) gpio(ctx context.Context, cmd byte) (uint16, error) {
	d.resetBuffers()
	d.request[0] = cmd
	if err := d.send(ctx); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(d.response[4:6]) & 0x01FF, nil
}

func (d *MCP2210) setGPIO(ctx context.Context, cmd byte, v uint16) error {
	d.resetBuffers()
	d.request[0] = cmd
	binary.LittleEndian.PutUint16(d.request[4:6], v&0x01FF)
	return d.send(ctx)
}

// GPIOValues returns the levels of GP0..GP8 as a bit mask.
func (d *MCP2210) GPIOValues(ctx context.Context) (uint16, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	v, err := d.gpio(ctx, cmdGetGPIOValue)
	if err != nil {
		return 0, fmt.Errorf("mcp2210: read gpio values failed: %w", err)
	}
	return v, nil
}

// updateGPIO sets or clears mask in the register read by get and written by set.
func (d *MCP2210) updateGPIO(ctx context.Context, get, set byte, mask uint16, on bool) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	v, err := d.gpio(ctx, get)
	if err != nil {
		return fmt.Errorf("mcp2210: read gpio register %#x failed: %w", get, err)
	}
	if on {
		v |= mask
	} else {
		v &^= mask
	}
	if err := d.setGPIO(ctx, set, v); err != nil {
		return fmt.Errorf("mcp2210: write gpio register %#x failed: %w", set, err)
	}
	return nil
}

// Output configures GPn as an output driven low. The pin must be designated GPIO in
// the chip settings.
func (d *MCP2210) Output(ctx context.Context, n uint8) (*Pin, error) {
	p := &Pin{dev: d, mask: 1 << (n % 9), poll: time.Millisecond}
	if err := d.updateGPIO(ctx, cmdGetGPIOValue, cmdSetGPIOValue, p.mask, false); err != nil {
		return nil, err
	}
	if err := d.updateGPIO(ctx, cmdGetGPIODir, cmdSetGPIODir, p.mask, false); err != nil {
		return nil, err
	}
	return p, nil
}

// Input configures GPn as an input.
func (d *MCP2210) Input(ctx context.Context, n uint8) (*Pin, error) {
	p := &Pin{dev: d, mask: 1 << (n % 9), poll: time.Millisecond}
	if err := d.updateGPIO(ctx, cmdGetGPIODir, cmdSetGPIODir, p.mask, true); err != nil {
		return nil, err
	}
	return p, nil
}

func (d *MCP2210) send(ctx context.Context) error {
	verbose := slog.Default().Enabled(ctx, slog.LevelDebug)
	if verbose {
		slog.Debug("sending message to bridge", "report", hex.EncodeToString(d.request[:8]))
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
	if verbose {
		slog.Debug("read message from bridge", "report", hex.EncodeToString(d.response[:8]))
	}
	if d.response[0] != d.request[0] {
		return fmt.Errorf("response to %#x echoes %#x: %w", d.request[0], d.response[0], ErrCommandFailed)
	}
	if d.request[0] != cmdTransfer && d.response[1] != statusOK {
		return fmt.Errorf("command %#x status %#x: %w", d.request[0], d.response[1], ErrCommandFailed)
	}
	return nil
}

func (d *MCP2210) resetBuffers() {
	clear(d.request)
	clear(d.response)
}

var _ a121.EnableLine = &Pin{}
var _ a121.InterruptLine = &Pin{}

// Pin is a bridge GP pin used as the enable or interrupt line.
type Pin struct {
	dev  *MCP2210
	mask uint16
	poll time.Duration
}

func (p *Pin) Set(ctx context.Context, high bool) error {
	return p.dev.updateGPIO(ctx, cmdGetGPIOValue, cmdSetGPIOValue, p.mask, high)
}

// WaitForHigh polls the pin level.
func (p *Pin) WaitForHigh(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("mcp2210: waiting for interrupt: %w", ctx.Err())
		case <-timer.C:
		}
		v, err := p.dev.GPIOValues(ctx)
		if err != nil {
			return err
		}
		if v&p.mask != 0 {
			return nil
		}
		timer.Reset(p.poll)
	}
}
