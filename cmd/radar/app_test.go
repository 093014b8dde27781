package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/a121/calstore"
	"github.com/mklimuk/a121/engine/sim"
	"github.com/mklimuk/a121/recorder"
)

func simConfig(t *testing.T) *appConfig {
	t.Helper()
	cfg, err := loadConfig("")
	require.NoError(t, err)
	cfg.Sensor.Engine = sim.Name
	cfg.Sensor.Transport = transportSim
	cfg.Sensor.SettleDelay = 0
	cfg.Calibration.Dir = t.TempDir()
	return cfg
}

func runApp(t *testing.T, args ...string) error {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("RADAR_CALIBRATION_DIR", filepath.Join(dir, "cal"))
	t.Setenv("RADAR_RECORDER_PATH", filepath.Join(dir, "radar.db"))
	t.Setenv("RADAR_SENSOR_SETTLE_DELAY", "0s")
	app := newApp()
	app.ExitErrHandler = func(*cli.Context, error) {}
	return app.Run(append([]string{"radar", "--sim"}, args...))
}

func TestCalibrationSource(t *testing.T) {
	cfg := simConfig(t)
	ctx := context.Background()
	store := calstore.NewFileStore(cfg.Calibration.Dir)

	s, err := openSession(ctx, cfg)
	require.NoError(t, err)
	src := newCalibrationSource(store, cfg.Calibration, false)
	require.NoError(t, s.prepare(ctx, src))
	assert.Positive(t, s.rig.eng.(*sim.Engine).Calls(sim.OpCalibrate))
	require.NoError(t, s.Close())

	rec, err := store.Load(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int16(25), rec.Temperature)

	s, err = openSession(ctx, cfg)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	src = newCalibrationSource(store, cfg.Calibration, false)
	require.NoError(t, s.prepare(ctx, src))
	eng := s.rig.eng.(*sim.Engine)
	assert.Zero(t, eng.Calls(sim.OpCalibrate), "stored calibration is reused")
	assert.Equal(t, 1, eng.Calls(sim.OpCalibrationValidate))

	assert.False(t, src.needed(false, 25))
	assert.False(t, src.needed(false, 40))
	assert.True(t, src.needed(false, 41))
	assert.True(t, src.needed(true, 25))
}

func TestApp_Distance(t *testing.T) {
	require.NoError(t, runApp(t, "distance", "--frames", "3", "--record"))

	db, err := recorder.Open(os.Getenv("RADAR_RECORDER_PATH"))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	runs, err := db.Runs(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	sum, err := db.Summary(context.Background(), runs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Frames)
	assert.Equal(t, "distance", sum.Run.Detector)
}

func TestApp_Presence(t *testing.T) {
	require.NoError(t, runApp(t, "presence", "--frames", "2"))
}

func TestApp_Calibrate(t *testing.T) {
	require.NoError(t, runApp(t, "calibrate"))
	store := calstore.NewFileStore(os.Getenv("RADAR_CALIBRATION_DIR"))
	_, err := store.Load(context.Background(), 1)
	assert.NoError(t, err)
}

func TestApp_Memory(t *testing.T) {
	require.NoError(t, runApp(t, "memory", "distance", "--points", "160"))
	assert.Error(t, runApp(t, "memory", "session", "--subsweeps", "5"))
}
