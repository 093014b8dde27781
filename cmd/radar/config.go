package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/a121/detector/distance"
	"github.com/mklimuk/a121/detector/presence"
	"github.com/mklimuk/a121/engine/sim"
	"github.com/mklimuk/a121/radar"
)

const (
	transportSPI     = "spi"
	transportMCP2210 = "mcp2210"
	transportSim     = "sim"

	storeFile   = "file"
	storeEEPROM = "eeprom"

	busMCP2221 = "mcp2221"
)

type appConfig struct {
	Sensor      sensorConfig      `mapstructure:"sensor"`
	Bridge      bridgeConfig      `mapstructure:"bridge"`
	Expander    expanderConfig    `mapstructure:"expander"`
	Calibration calibrationConfig `mapstructure:"calibration"`
	Recorder    recorderConfig    `mapstructure:"recorder"`
	Distance    distance.Config   `mapstructure:"distance"`
	Presence    presence.Config   `mapstructure:"presence"`
}

type sensorConfig struct {
	ID uint32 `mapstructure:"id"`
	// Engine names a registered engine binding.
	Engine string `mapstructure:"engine"`
	// Transport is spi (host SPI port), mcp2210 (USB bridge) or sim.
	Transport    string        `mapstructure:"transport"`
	SPIPort      string        `mapstructure:"spi_port"`
	SPIFrequency int64         `mapstructure:"spi_frequency"`
	EnablePin    string        `mapstructure:"enable_pin"`
	InterruptPin string        `mapstructure:"interrupt_pin"`
	SettleDelay  time.Duration `mapstructure:"settle_delay"`
	HeapSize     int           `mapstructure:"heap_size"`
}

type bridgeConfig struct {
	Serial       string `mapstructure:"serial"`
	Speed        uint32 `mapstructure:"speed"`
	ChipSelect   uint16 `mapstructure:"chip_select"`
	EnablePin    uint8  `mapstructure:"enable_gp"`
	InterruptPin uint8  `mapstructure:"interrupt_gp"`
}

// expanderConfig moves the enable and interrupt lines to an MCP23017 when Bus is set.
// Bus is a host I2C bus name or mcp2221[:serial] for the USB bridge.
type expanderConfig struct {
	Bus          string `mapstructure:"bus"`
	Address      uint8  `mapstructure:"address"`
	EnableBit    uint8  `mapstructure:"enable_bit"`
	InterruptBit uint8  `mapstructure:"interrupt_bit"`
}

type calibrationConfig struct {
	Store        string `mapstructure:"store"`
	Dir          string `mapstructure:"dir"`
	EEPROMBase   uint32 `mapstructure:"eeprom_base"`
	EEPROMBus    int    `mapstructure:"eeprom_bus"`
	MaxTempDelta int16  `mapstructure:"max_temp_delta"`
}

type recorderConfig struct {
	Path string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sensor.id", 1)
	v.SetDefault("sensor.engine", sim.Name)
	v.SetDefault("sensor.transport", transportSPI)
	v.SetDefault("sensor.spi_port", "")
	v.SetDefault("sensor.spi_frequency", 10_000_000)
	v.SetDefault("sensor.enable_pin", "GPIO27")
	v.SetDefault("sensor.interrupt_pin", "GPIO22")
	v.SetDefault("sensor.settle_delay", "2ms")
	v.SetDefault("sensor.heap_size", radar.DefaultHeapSize)

	v.SetDefault("bridge.serial", "")
	v.SetDefault("bridge.speed", 8_000_000)
	v.SetDefault("bridge.chip_select", 0x0001)
	v.SetDefault("bridge.enable_gp", 4)
	v.SetDefault("bridge.interrupt_gp", 5)

	v.SetDefault("expander.bus", "")
	v.SetDefault("expander.address", 0x20)
	v.SetDefault("expander.enable_bit", 0)
	v.SetDefault("expander.interrupt_bit", 1)

	v.SetDefault("calibration.store", storeFile)
	v.SetDefault("calibration.dir", "calibration")
	v.SetDefault("calibration.eeprom_base", 0)
	v.SetDefault("calibration.eeprom_bus", 0)
	v.SetDefault("calibration.max_temp_delta", 15)

	v.SetDefault("recorder.path", "radar.db")
}

// loadConfig reads the optional YAML file at path and applies RADAR_* environment
// overrides (RADAR_SENSOR_TRANSPORT=sim).
func loadConfig(path string) (*appConfig, error) {
	v := viper.New()
	setDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("could not read config %s: %w", path, err)
		}
	}
	v.SetEnvPrefix("RADAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &appConfig{
		Distance: distance.Balanced(),
		Presence: presence.Default(),
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("could not decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *appConfig) validate() error {
	switch c.Sensor.Transport {
	case transportSPI, transportMCP2210, transportSim:
	default:
		return fmt.Errorf("unknown transport %q", c.Sensor.Transport)
	}
	switch c.Calibration.Store {
	case storeFile, storeEEPROM:
	default:
		return fmt.Errorf("unknown calibration store %q", c.Calibration.Store)
	}
	if c.Sensor.ID == 0 {
		return errors.New("sensor id must be positive")
	}
	if c.Bridge.EnablePin > 8 || c.Bridge.InterruptPin > 8 {
		return errors.New("bridge pins are GP0 to GP8")
	}
	if c.Expander.EnableBit > 7 || c.Expander.InterruptBit > 7 {
		return errors.New("expander bits are 0 to 7")
	}
	return nil
}

const metaConfig = "config"

func configFrom(c *cli.Context) *appConfig {
	return c.App.Metadata[metaConfig].(*appConfig)
}
