package main

import (
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/a121/cmd/radar/console"
	"github.com/mklimuk/a121/recorder"
)

var reportCmd = cli.Command{
	Name:      "report",
	Usage:     "summarize recorded runs",
	ArgsUsage: "[run id]",
	Action: func(c *cli.Context) error {
		cfg := configFrom(c)
		db, err := recorder.Open(cfg.Recorder.Path)
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		defer func() { _ = db.Close() }()
		if c.NArg() == 0 {
			runs, err := db.Runs(c.Context)
			if err != nil {
				return console.Exit(1, "%s", console.Red(err))
			}
			for _, r := range runs {
				console.Printf("%s  %-8s  %s\n", console.White(r.ID), r.Detector, r.Started.Local().Format("2006-01-02 15:04:05"))
			}
			return nil
		}
		sum, err := db.Summary(c.Context, c.Args().First())
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		if err := console.YAML(sum); err != nil {
			return console.Exit(1, "encoding error: %s", console.Red(err))
		}
		return nil
	},
}
