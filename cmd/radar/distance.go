package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/a121"
	"github.com/mklimuk/a121/cmd/radar/console"
	"github.com/mklimuk/a121/detector/distance"
	"github.com/mklimuk/a121/engine"
	"github.com/mklimuk/a121/recorder"
)

var detectorFlags = []cli.Flag{
	&cli.IntFlag{Name: "frames", Aliases: []string{"n"}, Value: 10, Usage: "number of results to report (0 runs until interrupted)"},
	&cli.BoolFlag{Name: "record", Aliases: []string{"r"}, Usage: "store results in the recorder database"},
	&cli.BoolFlag{Name: "force-calibration", Usage: "ignore the stored calibration"},
}

// detectorRun holds what every detector command opens before its loop.
type detectorRun struct {
	session *session
	cal     *calibrationSource
	db      *recorder.DB
	runID   string
	closers []func() error
}

func (d *detectorRun) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			console.Errorf("%s", err)
		}
	}
}

func startDetectorRun(c *cli.Context, name string, detectorConfig any) (*detectorRun, error) {
	cfg := configFrom(c)
	run := &detectorRun{}
	store, closeStore, err := openStore(cfg.Calibration)
	if err != nil {
		return nil, fmt.Errorf("could not open calibration store: %w", err)
	}
	run.closers = append(run.closers, closeStore)
	run.cal = newCalibrationSource(store, cfg.Calibration, c.Bool("force-calibration"))
	if c.Bool("record") {
		if run.db, err = recorder.Open(cfg.Recorder.Path); err != nil {
			run.Close()
			return nil, err
		}
		run.closers = append(run.closers, run.db.Close)
		r, err := run.db.StartRun(c.Context, name, detectorConfig)
		if err != nil {
			run.Close()
			return nil, err
		}
		run.runID = r.ID
		console.PInfof(console.PictoFloppy, "recording run %s to %s", console.White(r.ID), cfg.Recorder.Path)
	}
	if run.session, err = openSession(c.Context, cfg); err != nil {
		run.Close()
		return nil, fmt.Errorf("could not open radar: %w", err)
	}
	run.closers = append(run.closers, run.session.Close)
	if err := run.session.prepare(c.Context, run.cal); err != nil {
		run.Close()
		return nil, err
	}
	return run, nil
}

// frames yields result indexes until n results were reported or ctx ends.
func frames(ctx context.Context, n int) func(yield func(int) bool) {
	return func(yield func(int) bool) {
		for i := 0; n <= 0 || i < n; i++ {
			if ctx.Err() != nil || !yield(i) {
				return
			}
		}
	}
}

var distanceCmd = cli.Command{
	Name:   "distance",
	Usage:  "run the distance detector",
	Flags:  detectorFlags,
	Action: runDistance,
}

func runDistance(c *cli.Context) error {
	cfg := configFrom(c)
	dcfg := cfg.Distance
	dcfg.SensorID = engine.SensorID(cfg.Sensor.ID)
	run, err := startDetectorRun(c, "distance", dcfg)
	if err != nil {
		return console.Exit(1, "%s", console.Red(err))
	}
	defer run.Close()
	ctx := c.Context
	ready := run.session.ready

	det, err := distance.New(ready, dcfg)
	if err != nil {
		return console.Exit(1, "could not create detector: %s", console.Red(err))
	}
	defer det.Close()
	sizes, err := det.Sizes()
	if err != nil {
		return console.Exit(1, "%s", console.Red(err))
	}
	req := det.MemoryRequirements()
	console.Infof("detector memory: buffer %d B, static %d B, rss heap %d B", sizes.Buffer, sizes.StaticResult, req.RSSHeap)
	buf := make([]byte, sizes.Buffer)
	static := make([]byte, sizes.StaticResult)
	cal := ready.Calibration()
	dyn, err := det.CalibrateDetector(ctx, cal, buf, static)
	if err != nil {
		return console.Exit(1, "detector calibration failed: %s", console.Red(err))
	}

	for i := range frames(ctx, c.Int("frames")) {
		var res distance.Result
		for {
			if err := det.PrepareDetector(cal, buf); err != nil {
				return console.Exit(1, "%s", console.Red(err))
			}
			if err := det.Measure(ctx, buf); err != nil {
				return console.Exit(1, "%s", console.Red(err))
			}
			res, err = det.ProcessData(buf, static, &dyn)
			if errors.Is(err, a121.ErrUnavailable) {
				continue
			}
			if err != nil {
				return console.Exit(1, "%s", console.Red(err))
			}
			break
		}
		printDistance(i, res)
		if run.db != nil {
			if err := run.db.RecordDistance(ctx, run.runID, i, res); err != nil {
				console.Warnf("could not record frame %d: %s", i, err)
			}
		}
		if run.cal.needed(res.CalibrationNeeded, res.Temperature) {
			console.Warnf("recalibrating at %d°C", res.Temperature)
			if cal, err = run.cal.recalibrate(ctx, ready, res.Temperature); err != nil {
				return console.Exit(1, "%s", console.Red(err))
			}
			if dyn, err = det.UpdateCalibration(ctx, cal, buf); err != nil {
				return console.Exit(1, "detector calibration update failed: %s", console.Red(err))
			}
		}
	}
	console.PInfof(console.PictoFinish, "distance run finished")
	return nil
}

func printDistance(frame int, res distance.Result) {
	if res.NumDistances() == 0 {
		console.PInfof(console.PictoRuler, "%4d  no reflections  %d°C", frame, res.Temperature)
		return
	}
	var peaks strings.Builder
	for i, d := range res.Distances {
		if i > 0 {
			peaks.WriteString(", ")
		}
		fmt.Fprintf(&peaks, "%s m (%.1f)", console.White(fmt.Sprintf("%.3f", d.Meters)), d.Strength)
	}
	edge := ""
	if res.NearStartEdge {
		edge = console.Yellow(" near start edge")
	}
	console.PInfof(console.PictoRuler, "%4d  %s%s  %d°C", frame, peaks.String(), edge, res.Temperature)
}
