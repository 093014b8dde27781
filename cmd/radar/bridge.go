package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/a121/adapter"
	"github.com/mklimuk/a121/cmd/radar/console"
)

var bridgeCmd = cli.Command{
	Name:  "bridge",
	Usage: "inspect the MCP2210 USB-SPI and MCP2221 USB-I2C bridges",
	Subcommands: cli.Commands{
		&bridgeDevicesCmd,
		&bridgeStatusCmd,
		&bridgeSPICmd,
		&bridgeI2CCmd,
	},
}

var bridgeDevicesCmd = cli.Command{
	Name:    "devices",
	Aliases: []string{"ls"},
	Action: func(c *cli.Context) error {
		w := tabwriter.NewWriter(os.Stdout, 24, 0, 1, ' ', 0)
		_, _ = fmt.Fprintf(w, "BRIDGE\tPATH\tSERIAL\tMANUFACTURER\tPRODUCT\n")
		for _, dev := range adapter.Devices() {
			_, _ = fmt.Fprintf(w, "spi\t%s\t%s\t%s\t%s\n", dev.Path, dev.Serial, dev.Manufacturer, dev.Product)
		}
		for _, dev := range adapter.I2CDevices() {
			_, _ = fmt.Fprintf(w, "i2c\t%s\t%s\t%s\t%s\n", dev.Path, dev.Serial, dev.Manufacturer, dev.Product)
		}
		_ = w.Flush()
		return nil
	},
}

func withBridge(c *cli.Context, fn func(ctx context.Context, b *adapter.MCP2210) error) error {
	cfg := configFrom(c)
	b, err := adapter.Open(cfg.Bridge.Serial, adapter.WithSPISpeed(cfg.Bridge.Speed), adapter.WithChipSelect(cfg.Bridge.ChipSelect))
	if err != nil {
		return console.Exit(1, "adapter initialization error: %s", console.Red(err))
	}
	defer func() { _ = b.Close() }()
	ctx, cancel := context.WithTimeout(c.Context, 5*time.Second)
	defer cancel()
	ctx = console.SetVerbose(ctx, c.Bool("verbose"))
	if err := fn(ctx, b); err != nil {
		return console.Exit(1, "adapter communication error: %s", console.Red(err))
	}
	return nil
}

var bridgeStatusCmd = cli.Command{
	Name: "status",
	Action: func(c *cli.Context) error {
		return withBridge(c, func(ctx context.Context, b *adapter.MCP2210) error {
			status, err := b.Status(ctx)
			if err != nil {
				return err
			}
			if console.IsVerbose(ctx) {
				values, err := b.GPIOValues(ctx)
				if err != nil {
					return err
				}
				console.Infof("gpio values %#04x", values)
			}
			return console.YAML(status)
		})
	},
}

var bridgeSPICmd = cli.Command{
	Name:  "spi",
	Usage: "show the SPI transfer settings, or change them with flags",
	Flags: []cli.Flag{
		&cli.UintFlag{Name: "bit-rate", Usage: "SPI clock in Hz"},
		&cli.UintFlag{Name: "mode", Usage: "SPI mode 0-3"},
		&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "do not ask for confirmation"},
	},
	Action: func(c *cli.Context) error {
		return withBridge(c, func(ctx context.Context, b *adapter.MCP2210) error {
			settings, err := b.SPISettings(ctx)
			if err != nil {
				return err
			}
			if !c.IsSet("bit-rate") && !c.IsSet("mode") {
				return console.YAML(settings)
			}
			if c.IsSet("bit-rate") {
				settings.BitRate = uint32(c.Uint("bit-rate"))
			}
			if c.IsSet("mode") {
				if c.Uint("mode") > 3 {
					return fmt.Errorf("invalid spi mode %d", c.Uint("mode"))
				}
				settings.Mode = byte(c.Uint("mode"))
			}
			if err := console.YAML(settings); err != nil {
				return err
			}
			if !c.Bool("yes") {
				ok, err := console.Confirm("apply these settings?")
				if err != nil || !ok {
					return err
				}
			}
			return b.SetSPISettings(ctx, settings)
		})
	},
}

var bridgeI2CCmd = cli.Command{
	Name:      "i2c",
	Usage:     "show the MCP2221 I2C engine status",
	ArgsUsage: "[serial]",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "release", Usage: "cancel the pending transfer and free the bus"},
	},
	Action: func(c *cli.Context) error {
		b, err := adapter.OpenI2C(c.Args().First())
		if err != nil {
			return console.Exit(1, "adapter initialization error: %s", console.Red(err))
		}
		defer func() { _ = b.Close() }()
		ctx, cancel := context.WithTimeout(c.Context, 5*time.Second)
		defer cancel()
		status := b.Status
		if c.Bool("release") {
			status = b.ReleaseBus
		}
		st, err := status(ctx)
		if err != nil {
			return console.Exit(1, "adapter communication error: %s", console.Red(err))
		}
		return console.YAML(st)
	},
}
