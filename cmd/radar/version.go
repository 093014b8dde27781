package main

import (
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/a121/cmd/radar/console"
)

var versionCmd = cli.Command{
	Name:  "version",
	Usage: "print the engine version and sensor connection",
	Action: func(c *cli.Context) error {
		s, err := openSession(c.Context, configFrom(c))
		if err != nil {
			return console.Exit(1, "could not open radar: %s", console.Red(err))
		}
		defer func() { _ = s.Close() }()
		e := s.enabled
		console.PInfof(console.PictoRadar, "rss %s", console.White(e.RSSVersion()))
		console.PInfof(console.PictoPin, "sensor %d %s", e.ID(), console.Flag(e.IsConnected(), "connected", "not connected"))
		if err := e.CheckStatus(); err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		return nil
	},
}
