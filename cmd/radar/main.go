package main

import (
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	chlog "github.com/charmbracelet/log"
	"github.com/muesli/termenv"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/a121/engine/sim"
)

var version string
var commit string
var date string

func main() {
	os.Exit(run())
}

func run() int {
	err := newApp().Run(os.Args)
	if err != nil {
		var exerr cli.ExitCoder
		if errors.As(err, &exerr) {
			log.Printf("unexpected error: %v", err)
			return exerr.ExitCode()
		}
		return 1
	}
	return 0
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "radar"
	app.EnableBashCompletion = true
	app.Version = fmt.Sprintf("%s-%s-%s", version, date, commit)
	app.Usage = "A121 radar cli"
	app.Flags = []cli.Flag{
		&cli.BoolFlag{
			Name:  "verbose",
			Usage: "enable verbose logging",
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "YAML configuration file",
			EnvVars: []string{"RADAR_CONFIG"},
		},
		&cli.BoolFlag{
			Name:  "sim",
			Usage: "use the simulated engine and transport",
		},
	}
	app.Before = func(ctx *cli.Context) error {
		charm := chlog.NewWithOptions(os.Stdout, chlog.Options{
			ReportCaller:    true,
			ReportTimestamp: true,
			TimeFormat:      time.DateTime,
		})
		charm.SetColorProfile(termenv.TrueColor)
		charm.SetLevel(chlog.InfoLevel)
		if ctx.Bool("verbose") {
			charm.SetLevel(chlog.DebugLevel)
		}
		slog.SetDefault(slog.New(charm))

		cfg, err := loadConfig(ctx.String("config"))
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		if ctx.Bool("sim") {
			cfg.Sensor.Engine = sim.Name
			cfg.Sensor.Transport = transportSim
		}
		ctx.App.Metadata = map[string]interface{}{metaConfig: cfg}
		return nil
	}
	app.Commands = cli.Commands{
		&memoryCmd,
		&versionCmd,
		&calibrateCmd,
		&distanceCmd,
		&presenceCmd,
		&reportCmd,
		&bridgeCmd,
	}
	return app
}
