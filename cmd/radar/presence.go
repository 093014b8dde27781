package main

import (
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/a121/cmd/radar/console"
	"github.com/mklimuk/a121/detector/presence"
	"github.com/mklimuk/a121/engine"
)

var presenceCmd = cli.Command{
	Name:   "presence",
	Usage:  "run the presence detector",
	Flags:  detectorFlags,
	Action: runPresence,
}

func runPresence(c *cli.Context) error {
	cfg := configFrom(c)
	pcfg := cfg.Presence
	pcfg.SensorID = engine.SensorID(cfg.Sensor.ID)
	run, err := startDetectorRun(c, "presence", pcfg)
	if err != nil {
		return console.Exit(1, "%s", console.Red(err))
	}
	defer run.Close()
	ctx := c.Context
	ready := run.session.ready

	det, err := presence.New(ready, pcfg)
	if err != nil {
		return console.Exit(1, "could not create detector: %s", console.Red(err))
	}
	defer det.Close()
	meta := det.Metadata()
	console.Infof("range %.2f-%.2f m, step %.3f m, %d points, %s", meta.Start, meta.End, meta.StepLength, meta.NumPoints, meta.Profile)
	size, err := det.BufferSize()
	if err != nil {
		return console.Exit(1, "%s", console.Red(err))
	}
	buf := make([]byte, size)
	cal := ready.Calibration()
	if err := det.PrepareDetector(cal, buf); err != nil {
		return console.Exit(1, "%s", console.Red(err))
	}

	for i := range frames(ctx, c.Int("frames")) {
		if err := det.Measure(ctx, buf); err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		res, err := det.DetectPresence(buf)
		if err != nil {
			return console.Exit(1, "%s", console.Red(err))
		}
		printPresence(i, res)
		if run.db != nil {
			if err := run.db.RecordPresence(ctx, run.runID, i, res); err != nil {
				console.Warnf("could not record frame %d: %s", i, err)
			}
		}
		if run.cal.needed(res.CalibrationNeeded, res.Temperature) {
			console.Warnf("recalibrating at %d°C", res.Temperature)
			if cal, err = run.cal.recalibrate(ctx, ready, res.Temperature); err != nil {
				return console.Exit(1, "%s", console.Red(err))
			}
			if err := det.PrepareDetector(cal, buf); err != nil {
				return console.Exit(1, "%s", console.Red(err))
			}
		}
	}
	console.PInfof(console.PictoFinish, "presence run finished")
	return nil
}

func printPresence(frame int, res presence.Result) {
	state := console.Flag(res.Detected, "present", "empty  ")
	console.PInfof(console.PictoGhost, "%4d  %s  intra %5.2f  inter %5.2f  at %.2f m  %d°C",
		frame, state, res.IntraScore, res.InterScore, res.Distance, res.Temperature)
	if res.DataSaturated {
		console.Warnf("data saturated, lower the receiver gain")
	}
	if res.FrameDelayed {
		console.Warnf("frame delayed, results are read too slowly")
	}
}
