package adapter

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/a121"
)

// fakeChip answers HID reports like a bridge with MISO looped back to MOSI.
type fakeChip struct {
	mx       sync.Mutex
	response []byte
	txSize   int
	sent     int
	busy     int
	external bool
	values   uint16
	dirs     uint16
	settings int
	reports  []byte
}

func newFakeChip() *fakeChip {
	return &fakeChip{dirs: 0x01FF}
}

func (c *fakeChip) Write(b []byte) (int, error) {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.reports = append(c.reports, b[0])
	res := make([]byte, reportSize)
	res[0] = b[0]
	switch b[0] {
	case cmdStatus:
		res[2], res[3], res[4] = 0x01, 0x02, 0x03
	case cmdSetSPISettings:
		c.settings++
		c.txSize = int(binary.LittleEndian.Uint16(b[18:20]))
		c.sent = 0
	case cmdTransfer:
		switch {
		case c.external:
			res[1] = statusBusExternal
		case c.busy > 0:
			c.busy--
			res[1] = statusBusyTransfer
		default:
			n := int(b[1])
			c.sent += n
			res[2] = byte(n)
			copy(res[4:], b[4:4+n])
			res[3] = 0x30
			if c.sent == c.txSize {
				res[3] = engineFinished
				c.sent = 0
			}
		}
	case cmdGetGPIOValue:
		binary.LittleEndian.PutUint16(res[4:6], c.values)
	case cmdSetGPIOValue:
		c.values = binary.LittleEndian.Uint16(b[4:6])
	case cmdGetGPIODir:
		binary.LittleEndian.PutUint16(res[4:6], c.dirs)
	case cmdSetGPIODir:
		c.dirs = binary.LittleEndian.Uint16(b[4:6])
	}
	c.response = res
	return len(b), nil
}

func (c *fakeChip) Read(b []byte) (int, error) {
	c.mx.Lock()
	defer c.mx.Unlock()
	return copy(b, c.response), nil
}

func (c *fakeChip) Close() error {
	return nil
}

func (c *fakeChip) setValues(v uint16) {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.values = v
}

func (c *fakeChip) count(cmd byte) int {
	c.mx.Lock()
	defer c.mx.Unlock()
	return bytes.Count(c.reports, []byte{cmd})
}

func TestTx(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		reports int
	}{
		{"single report", 4, 1},
		{"exact chunk", MaxChunk, 1},
		{"split", 150, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chip := newFakeChip()
			d := New(chip)
			w := make([]byte, tt.size)
			for i := range w {
				w[i] = byte(i)
			}
			r := make([]byte, tt.size)
			require.NoError(t, d.Tx(w, r))
			assert.Equal(t, w, r)
			assert.Equal(t, tt.reports, chip.count(cmdTransfer))
			assert.Equal(t, 1, chip.settings)

			require.NoError(t, d.Tx(w, r))
			assert.Equal(t, 1, chip.settings, "same length keeps the latched settings")
		})
	}
}

func TestTx_Errors(t *testing.T) {
	d := New(newFakeChip())
	assert.ErrorContains(t, d.Tx(make([]byte, 4), make([]byte, 3)), "length mismatch")
	assert.ErrorContains(t, d.Tx(make([]byte, 0x10000), nil), "exceeds")
	assert.NoError(t, d.Tx(nil, nil))
}

func TestTx_Busy(t *testing.T) {
	chip := newFakeChip()
	chip.busy = 2
	d := New(chip, WithBusyRetry(time.Microsecond, 5))
	r := make([]byte, 8)
	require.NoError(t, d.Tx([]byte("a121-spi"), r))
	assert.Equal(t, []byte("a121-spi"), r)

	chip.busy = 10
	err := New(chip, WithBusyRetry(time.Microsecond, 3)).Tx(make([]byte, 8), nil)
	assert.ErrorIs(t, err, a121.ErrBusBusy)
}

func TestTx_ExternalMaster(t *testing.T) {
	chip := newFakeChip()
	chip.external = true
	err := New(chip).Tx(make([]byte, 8), nil)
	assert.ErrorIs(t, err, a121.ErrBusBusy)
}

func TestStatus(t *testing.T) {
	s, err := New(newFakeChip()).Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Status{BusReleasePending: false, BusOwner: 0x02, PasswordAttempts: 0x03}, s)
}

func TestSPISettings_RoundTrip(t *testing.T) {
	chip := newFakeChip()
	d := New(chip)
	want := SPISettings{BitRate: 4_000_000, IdleChipSelect: 1, BytesPerTransaction: 12, Mode: 0}
	require.NoError(t, d.SetSPISettings(context.Background(), want))
	assert.Equal(t, 12, chip.txSize)
}

func TestPins(t *testing.T) {
	chip := newFakeChip()
	d := New(chip)
	ctx := context.Background()

	enable, err := d.Output(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x01F7), chip.dirs)
	require.NoError(t, enable.Set(ctx, true))
	assert.Equal(t, uint16(0x0008), chip.values)
	require.NoError(t, enable.Set(ctx, false))
	assert.Zero(t, chip.values)

	irq, err := d.Input(ctx, 4)
	require.NoError(t, err)
	go func() {
		time.Sleep(5 * time.Millisecond)
		chip.setValues(0x0010)
	}()
	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	assert.NoError(t, irq.WaitForHigh(waitCtx))
}

func TestPin_WaitCancelled(t *testing.T) {
	d := New(newFakeChip())
	irq, err := d.Input(context.Background(), 4)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, irq.WaitForHigh(ctx), context.DeadlineExceeded)
}
