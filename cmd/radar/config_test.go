package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/a121/config"
	"github.com/mklimuk/a121/engine/sim"
	"github.com/mklimuk/a121/radar"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), cfg.Sensor.ID)
	assert.Equal(t, sim.Name, cfg.Sensor.Engine)
	assert.Equal(t, transportSPI, cfg.Sensor.Transport)
	assert.Equal(t, 2*time.Millisecond, cfg.Sensor.SettleDelay)
	assert.Equal(t, radar.DefaultHeapSize, cfg.Sensor.HeapSize)
	assert.Equal(t, int16(15), cfg.Calibration.MaxTempDelta)
	assert.Equal(t, float32(0.2), cfg.Distance.Start)
	assert.Equal(t, float32(2.5), cfg.Presence.End)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "radar.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sensor:
  id: 2
  transport: mcp2210
  settle_delay: 5ms
bridge:
  speed: 4000000
distance:
  end: 1.5
  max_profile: 3
presence:
  intra_detection: false
`), 0o644))
	t.Setenv("RADAR_CALIBRATION_STORE", "eeprom")

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), cfg.Sensor.ID)
	assert.Equal(t, transportMCP2210, cfg.Sensor.Transport)
	assert.Equal(t, 5*time.Millisecond, cfg.Sensor.SettleDelay)
	assert.Equal(t, uint32(4_000_000), cfg.Bridge.Speed)
	assert.Equal(t, storeEEPROM, cfg.Calibration.Store)
	assert.Equal(t, float32(1.5), cfg.Distance.End)
	assert.Equal(t, float32(0.2), cfg.Distance.Start, "unset keys keep the detector defaults")
	assert.Equal(t, config.Profile3, cfg.Distance.MaxProfile)
	assert.False(t, cfg.Presence.IntraDetection)
	assert.True(t, cfg.Presence.InterDetection)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		err  string
	}{
		{"transport", map[string]string{"RADAR_SENSOR_TRANSPORT": "uart"}, "unknown transport"},
		{"store", map[string]string{"RADAR_CALIBRATION_STORE": "cloud"}, "unknown calibration store"},
		{"sensor id", map[string]string{"RADAR_SENSOR_ID": "0"}, "sensor id"},
		{"bridge pin", map[string]string{"RADAR_BRIDGE_ENABLE_GP": "9"}, "GP0 to GP8"},
		{"expander bit", map[string]string{"RADAR_EXPANDER_INTERRUPT_BIT": "8"}, "bits are 0 to 7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := loadConfig("")
			assert.ErrorContains(t, err, tt.err)
		})
	}
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "could not read config")
}
