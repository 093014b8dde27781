// Package recorder keeps detector results in a sqlite database so runs can be
// compared after the fact.
package recorder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"

	"github.com/mklimuk/a121/detector/distance"
	"github.com/mklimuk/a121/detector/presence"
)

var ErrUnknownRun = errors.New("recorder: unknown run")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id     TEXT PRIMARY KEY,
	detector   TEXT NOT NULL,
	config     TEXT,
	started_ns INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS distance_samples (
	run_id             TEXT NOT NULL,
	frame              INTEGER NOT NULL,
	recorded_ns        INTEGER NOT NULL,
	peak               INTEGER,
	meters             REAL,
	strength           REAL,
	near_start_edge    BOOLEAN,
	calibration_needed BOOLEAN,
	temperature        INTEGER,
	FOREIGN KEY(run_id) REFERENCES runs(run_id)
);
CREATE TABLE IF NOT EXISTS presence_samples (
	run_id             TEXT NOT NULL,
	frame              INTEGER NOT NULL,
	recorded_ns        INTEGER NOT NULL,
	detected           BOOLEAN,
	intra_score        REAL,
	inter_score        REAL,
	distance           REAL,
	calibration_needed BOOLEAN,
	temperature        INTEGER,
	FOREIGN KEY(run_id) REFERENCES runs(run_id)
);
`

type Opts struct {
	Now func() time.Time
}

type Opt func(*Opts)

// WithClock replaces the clock used to stamp runs and samples.
func WithClock(now func() time.Time) Opt {
	return func(o *Opts) {
		o.Now = now
	}
}

type DB struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path. Use ":memory:" for a throwaway
// database.
func Open(path string, opts ...Opt) (*DB, error) {
	o := Opts{Now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("recorder: could not open %s: %w", path, err)
	}
	// single writer; an in-memory database only lives on one connection
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("recorder: could not create schema: %w", err)
	}
	return &DB{db: db, now: o.Now}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

type Run struct {
	ID       string    `yaml:"id"`
	Detector string    `yaml:"detector"`
	Config   string    `yaml:"config,omitempty"`
	Started  time.Time `yaml:"started"`
}

// StartRun registers a new run. The detector configuration is stored as YAML.
func (d *DB) StartRun(ctx context.Context, detector string, cfg any) (Run, error) {
	run := Run{ID: uuid.New().String(), Detector: detector, Started: d.now().UTC()}
	if cfg != nil {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return Run{}, fmt.Errorf("recorder: could not encode config: %w", err)
		}
		run.Config = string(out)
	}
	_, err := d.db.ExecContext(ctx, "INSERT INTO runs (run_id, detector, config, started_ns) VALUES (?, ?, ?, ?)",
		run.ID, run.Detector, run.Config, run.Started.UnixNano())
	if err != nil {
		return Run{}, fmt.Errorf("recorder: could not insert run: %w", err)
	}
	return run, nil
}

func (d *DB) Run(ctx context.Context, id string) (Run, error) {
	row := d.db.QueryRowContext(ctx, "SELECT run_id, detector, config, started_ns FROM runs WHERE run_id = ?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w %s", ErrUnknownRun, id)
	}
	return run, err
}

// Runs lists all runs, newest first.
func (d *DB) Runs(ctx context.Context) ([]Run, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT run_id, detector, config, started_ns FROM runs ORDER BY started_ns DESC")
	if err != nil {
		return nil, fmt.Errorf("recorder: query runs: %w", err)
	}
	defer rows.Close()
	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var (
		run     Run
		config  sql.NullString
		started int64
	)
	if err := s.Scan(&run.ID, &run.Detector, &config, &started); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("recorder: scan run: %w", err)
	}
	run.Config = config.String
	run.Started = time.Unix(0, started).UTC()
	return run, nil
}

// RecordDistance stores one processed distance frame. A frame without peaks is
// kept as a single row with no peak so it still counts towards the run.
func (d *DB) RecordDistance(ctx context.Context, runID string, frame int, res distance.Result) error {
	ts := d.now().UnixNano()
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("recorder: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	const insert = `INSERT INTO distance_samples
		(run_id, frame, recorded_ns, peak, meters, strength, near_start_edge, calibration_needed, temperature)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if len(res.Distances) == 0 {
		_, err = tx.ExecContext(ctx, insert, runID, frame, ts, nil, nil, nil, res.NearStartEdge, res.CalibrationNeeded, res.Temperature)
		if err != nil {
			return fmt.Errorf("recorder: insert distance frame %d: %w", frame, err)
		}
	}
	for i, p := range res.Distances {
		_, err = tx.ExecContext(ctx, insert, runID, frame, ts, i, p.Meters, p.Strength, res.NearStartEdge, res.CalibrationNeeded, res.Temperature)
		if err != nil {
			return fmt.Errorf("recorder: insert distance frame %d: %w", frame, err)
		}
	}
	return tx.Commit()
}

func (d *DB) RecordPresence(ctx context.Context, runID string, frame int, res presence.Result) error {
	_, err := d.db.ExecContext(ctx, `INSERT INTO presence_samples
		(run_id, frame, recorded_ns, detected, intra_score, inter_score, distance, calibration_needed, temperature)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, frame, d.now().UnixNano(), res.Detected, res.IntraScore, res.InterScore, res.Distance, res.CalibrationNeeded, res.Temperature)
	if err != nil {
		return fmt.Errorf("recorder: insert presence frame %d: %w", frame, err)
	}
	return nil
}

type Stats struct {
	N      int     `yaml:"n"`
	Mean   float64 `yaml:"mean"`
	StdDev float64 `yaml:"std_dev"`
	Min    float64 `yaml:"min"`
	Median float64 `yaml:"median"`
	P90    float64 `yaml:"p90"`
	Max    float64 `yaml:"max"`
}

func newStats(x []float64) Stats {
	if len(x) == 0 {
		return Stats{}
	}
	sort.Float64s(x)
	s := Stats{
		N:      len(x),
		Min:    x[0],
		Max:    x[len(x)-1],
		Median: stat.Quantile(0.5, stat.Empirical, x, nil),
		P90:    stat.Quantile(0.9, stat.Empirical, x, nil),
	}
	if len(x) == 1 {
		s.Mean = x[0]
		return s
	}
	s.Mean, s.StdDev = stat.MeanStdDev(x, nil)
	return s
}

// Summary describes a run. For distance runs Distance covers the first reported
// peak of every frame that had one (strongest or closest, depending on the peak
// sorting); for presence runs it covers the frames with presence detected.
type Summary struct {
	Run        Run   `yaml:"run"`
	Frames     int   `yaml:"frames"`
	Detections int   `yaml:"detections"`
	Distance   Stats `yaml:"distance"`
	IntraScore Stats `yaml:"intra_score,omitempty"`
	InterScore Stats `yaml:"inter_score,omitempty"`
}

func (d *DB) Summary(ctx context.Context, runID string) (Summary, error) {
	run, err := d.Run(ctx, runID)
	if err != nil {
		return Summary{}, err
	}
	switch run.Detector {
	case "distance":
		return d.distanceSummary(ctx, run)
	case "presence":
		return d.presenceSummary(ctx, run)
	}
	return Summary{}, fmt.Errorf("recorder: run %s has unknown detector %q", run.ID, run.Detector)
}

func (d *DB) distanceSummary(ctx context.Context, run Run) (Summary, error) {
	sum := Summary{Run: run}
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(DISTINCT frame) FROM distance_samples WHERE run_id = ?", run.ID).Scan(&sum.Frames)
	if err != nil {
		return Summary{}, fmt.Errorf("recorder: count frames: %w", err)
	}
	first, err := d.floats(ctx, "SELECT meters FROM distance_samples WHERE run_id = ? AND peak = 0", run.ID)
	if err != nil {
		return Summary{}, err
	}
	sum.Detections = len(first)
	sum.Distance = newStats(first)
	return sum, nil
}

func (d *DB) presenceSummary(ctx context.Context, run Run) (Summary, error) {
	sum := Summary{Run: run}
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM presence_samples WHERE run_id = ?", run.ID).Scan(&sum.Frames)
	if err != nil {
		return Summary{}, fmt.Errorf("recorder: count frames: %w", err)
	}
	detected, err := d.floats(ctx, "SELECT distance FROM presence_samples WHERE run_id = ? AND detected", run.ID)
	if err != nil {
		return Summary{}, err
	}
	sum.Detections = len(detected)
	sum.Distance = newStats(detected)
	intra, err := d.floats(ctx, "SELECT intra_score FROM presence_samples WHERE run_id = ?", run.ID)
	if err != nil {
		return Summary{}, err
	}
	sum.IntraScore = newStats(intra)
	inter, err := d.floats(ctx, "SELECT inter_score FROM presence_samples WHERE run_id = ?", run.ID)
	if err != nil {
		return Summary{}, err
	}
	sum.InterScore = newStats(inter)
	return sum, nil
}

func (d *DB) floats(ctx context.Context, query string, args ...any) ([]float64, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("recorder: query samples: %w", err)
	}
	defer rows.Close()
	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("recorder: scan sample: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
