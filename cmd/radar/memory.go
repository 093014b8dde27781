package main

import (
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/a121/cmd/radar/console"
	"github.com/mklimuk/a121/memory"
)

var memoryFlags = []cli.Flag{
	&cli.UintFlag{Name: "points", Aliases: []string{"p"}, Value: 100, Usage: "points per subsweep"},
	&cli.UintFlag{Name: "subsweeps", Aliases: []string{"s"}, Value: 1},
	&cli.UintFlag{Name: "sweeps", Value: 1, Usage: "sweeps per frame"},
}

type memoryReport struct {
	Points         uint16              `yaml:"points"`
	Subsweeps      uint8               `yaml:"subsweeps"`
	SweepsPerFrame uint16              `yaml:"sweeps_per_frame"`
	Requirements   memory.Requirements `yaml:"requirements"`
	StaticResult   int                 `yaml:"static_result,omitempty"`
}

func memoryAction(estimate func(points uint16, subsweeps uint8, sweeps uint16) memoryReport) cli.ActionFunc {
	return func(c *cli.Context) error {
		points, subsweeps, sweeps := c.Uint("points"), c.Uint("subsweeps"), c.Uint("sweeps")
		if points == 0 || points > 0xFFFF || sweeps == 0 || sweeps > 0xFFFF {
			return console.Exit(1, "points and sweeps must be 1 to 65535")
		}
		if subsweeps == 0 || subsweeps > memory.MaxSubsweeps {
			return console.Exit(1, "subsweeps must be 1 to %d", memory.MaxSubsweeps)
		}
		r := estimate(uint16(points), uint8(subsweeps), uint16(sweeps))
		r.Points, r.Subsweeps, r.SweepsPerFrame = uint16(points), uint8(subsweeps), uint16(sweeps)
		if err := console.YAML(r); err != nil {
			return console.Exit(1, "encoding error: %s", console.Red(err))
		}
		return nil
	}
}

var memoryCmd = cli.Command{
	Name:    "memory",
	Aliases: []string{"mem"},
	Usage:   "estimate heap requirements",
	Subcommands: []*cli.Command{
		{
			Name:  "session",
			Usage: "plain sensor session",
			Flags: memoryFlags,
			Action: memoryAction(func(points uint16, subsweeps uint8, sweeps uint16) memoryReport {
				return memoryReport{Requirements: memory.Requirements{
					ExternalHeap: memory.SessionExternalHeap(points, subsweeps, sweeps),
					RSSHeap:      memory.SessionRSSHeap(subsweeps),
					Total:        memory.SessionTotal(points, subsweeps, sweeps),
				}}
			}),
		},
		{
			Name:  "presence",
			Usage: "presence detector",
			Flags: memoryFlags,
			Action: memoryAction(func(points uint16, subsweeps uint8, sweeps uint16) memoryReport {
				return memoryReport{Requirements: memory.Requirements{
					ExternalHeap: memory.PresenceExternalHeap(points, subsweeps, sweeps),
					RSSHeap:      memory.PresenceRSSHeap(points, subsweeps),
					Total:        memory.PresenceTotal(points, subsweeps, sweeps),
				}}
			}),
		},
		{
			Name:  "distance",
			Usage: "distance detector",
			Flags: memoryFlags,
			Action: memoryAction(func(points uint16, subsweeps uint8, sweeps uint16) memoryReport {
				return memoryReport{
					Requirements: memory.Requirements{
						ExternalHeap: memory.DistanceExternalHeap(points, subsweeps, sweeps),
						RSSHeap:      memory.DistanceRSSHeap(subsweeps),
						Total:        memory.DistanceTotal(points, subsweeps, sweeps),
					},
					StaticResult: memory.DistanceStaticCalibration(points),
				}
			}),
		},
	},
}
