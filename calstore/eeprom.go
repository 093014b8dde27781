package calstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/sigurn/crc8"
	"gobot.io/x/gobot/v2/drivers/spi"

	"github.com/mklimuk/a121/engine"
	"github.com/mklimuk/a121/sensor"
)

// 25AA1024 instruction set and geometry.
const (
	cmdRead  = 0x03
	cmdWrite = 0x02
	cmdWREN  = 0x06
	cmdRDSR  = 0x05

	statusWIP = 0x01

	pageSize = 256
	// Capacity of the 1 Mbit part in bytes.
	Capacity = 131072
)

// Record layout: magic, sensor id, temperature, saved (unix seconds), blob length,
// blob, crc8 over everything before it.
const (
	recordMagic  = "A1CL"
	headerSize   = 4 + 1 + 2 + 4 + 2
	RecordSize   = headerSize + engine.CalResultSize + 1
	slotStride   = pageSize
	writeTimeout = 10 * time.Millisecond
)

var crcTable = crc8.MakeTable(crc8.CRC8_MAXIM)

// EEPROMConn is the part of a gobot SPI connection the store uses.
type EEPROMConn interface {
	ReadCommandData(command []byte, data []byte) error
	WriteBytes(data []byte) error
}

var _ Store = &EEPROMStore{}

// EEPROMStore keeps one record per sensor in a 25AA1024 SPI EEPROM. Sensor n uses
// the page at base + (n-1)*256.
type EEPROMStore struct {
	mx   sync.Mutex
	conn EEPROMConn
	base uint32
}

func NewEEPROMStore(conn EEPROMConn, base uint32) *EEPROMStore {
	return &EEPROMStore{conn: conn, base: base}
}

// StartEEPROM starts a gobot SPI driver in mode 0 and wraps its connection. Call the
// returned halt on shutdown.
func StartEEPROM(adaptor spi.Connector, base uint32, opts ...func(spi.Config)) (*EEPROMStore, func() error, error) {
	d := spi.NewDriver(adaptor, "25AA1024", opts...)
	// mode 0, up to 20 MHz
	d.SetMode(0)
	if d.GetSpeedOrDefault(0) == 0 {
		d.SetSpeed(5_000_000)
	}
	if err := d.Start(); err != nil {
		return nil, nil, fmt.Errorf("calstore: spi start error: %w", err)
	}
	conn, ok := d.Connection().(EEPROMConn)
	if !ok {
		_ = d.Halt()
		return nil, nil, fmt.Errorf("calstore: spi connection does not support command reads")
	}
	return NewEEPROMStore(conn, base), d.Halt, nil
}

func (s *EEPROMStore) slot(id engine.SensorID) (uint32, error) {
	if id == 0 || id > 0xFF {
		return 0, fmt.Errorf("calstore: invalid sensor id %d", id)
	}
	addr := s.base + uint32(id-1)*slotStride
	if addr+RecordSize > Capacity {
		return 0, fmt.Errorf("calstore: slot for sensor %d at %#x is out of range", id, addr)
	}
	return addr, nil
}

func (s *EEPROMStore) Save(ctx context.Context, rec Record) error {
	if rec.Calibration == nil {
		return fmt.Errorf("calstore: nothing to save for sensor %d", rec.SensorID)
	}
	addr, err := s.slot(rec.SensorID)
	if err != nil {
		return err
	}
	blob, err := rec.Calibration.MarshalBinary()
	if err != nil {
		return fmt.Errorf("calstore: could not encode calibration: %w", err)
	}
	out := make([]byte, 0, RecordSize)
	out = append(out, recordMagic...)
	out = append(out, byte(rec.SensorID))
	out = binary.LittleEndian.AppendUint16(out, uint16(rec.Temperature))
	out = binary.LittleEndian.AppendUint32(out, uint32(rec.Saved.Unix()))
	out = binary.LittleEndian.AppendUint16(out, uint16(len(blob)))
	out = append(out, blob...)
	out = append(out, crc8.Checksum(out, crcTable))

	s.mx.Lock()
	defer s.mx.Unlock()
	return s.write(ctx, addr, out)
}

func (s *EEPROMStore) Load(_ context.Context, id engine.SensorID) (Record, error) {
	addr, err := s.slot(id)
	if err != nil {
		return Record{}, err
	}
	s.mx.Lock()
	data, err := s.read(addr, RecordSize)
	s.mx.Unlock()
	if err != nil {
		return Record{}, err
	}
	if string(data[:4]) != recordMagic {
		return Record{}, fmt.Errorf("calstore: sensor %d: %w", id, ErrNotFound)
	}
	if crc8.Checksum(data[:RecordSize-1], crcTable) != data[RecordSize-1] {
		return Record{}, fmt.Errorf("calstore: sensor %d checksum mismatch: %w", id, ErrCorrupt)
	}
	if engine.SensorID(data[4]) != id {
		return Record{}, fmt.Errorf("calstore: slot holds sensor %d, want %d: %w", data[4], id, ErrCorrupt)
	}
	if n := binary.LittleEndian.Uint16(data[11:13]); int(n) != engine.CalResultSize {
		return Record{}, fmt.Errorf("calstore: blob length %d: %w", n, ErrCorrupt)
	}
	cal := &sensor.CalibrationResult{}
	if err := cal.UnmarshalBinary(data[headerSize : headerSize+engine.CalResultSize]); err != nil {
		return Record{}, fmt.Errorf("calstore: %w: %w", ErrCorrupt, err)
	}
	return Record{
		SensorID:    id,
		Temperature: int16(binary.LittleEndian.Uint16(data[5:7])),
		Saved:       time.Unix(int64(binary.LittleEndian.Uint32(data[7:11])), 0).UTC(),
		Calibration: cal,
	}, nil
}

func (s *EEPROMStore) read(address uint32, length int) ([]byte, error) {
	header := []byte{cmdRead, byte(address >> 16), byte(address >> 8), byte(address)}
	data := make([]byte, length)
	if err := s.conn.ReadCommandData(header, data); err != nil {
		return nil, fmt.Errorf("calstore: eeprom read at %#x failed: %w", address, err)
	}
	return data, nil
}

// write splits data at page boundaries; the device wraps within a page otherwise.
func (s *EEPROMStore) write(ctx context.Context, address uint32, data []byte) error {
	for len(data) > 0 {
		space := pageSize - address%pageSize
		chunk := data[:min(uint32(len(data)), space)]
		if err := s.pageWrite(ctx, address, chunk); err != nil {
			return err
		}
		data = data[len(chunk):]
		address += uint32(len(chunk))
	}
	return nil
}

func (s *EEPROMStore) pageWrite(ctx context.Context, address uint32, data []byte) error {
	if err := s.conn.WriteBytes([]byte{cmdWREN}); err != nil {
		return fmt.Errorf("calstore: eeprom write enable failed: %w", err)
	}
	tx := append([]byte{cmdWrite, byte(address >> 16), byte(address >> 8), byte(address)}, data...)
	if err := s.conn.WriteBytes(tx); err != nil {
		return fmt.Errorf("calstore: eeprom write at %#x failed: %w", address, err)
	}
	return s.waitUntilReady(ctx)
}

// waitUntilReady polls STATUS.WIP through the internal write cycle (6 ms max).
func (s *EEPROMStore) waitUntilReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	status := make([]byte, 1)
	for {
		if err := s.conn.ReadCommandData([]byte{cmdRDSR}, status); err != nil {
			return fmt.Errorf("calstore: eeprom status read failed: %w", err)
		}
		if status[0]&statusWIP == 0 {
			return nil
		}
		t := time.NewTimer(500 * time.Microsecond)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("calstore: timeout waiting for write completion: %w", ctx.Err())
		case <-t.C:
		}
	}
}
