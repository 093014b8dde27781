package calstore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mklimuk/a121/engine"
	"github.com/mklimuk/a121/sensor"
)

var _ Store = &FileStore{}

// FileStore keeps one YAML document per sensor in a directory.
type FileStore struct {
	dir string
}

type fileRecord struct {
	SensorID    engine.SensorID `yaml:"sensor_id"`
	Temperature int16           `yaml:"temperature"`
	Saved       time.Time       `yaml:"saved"`
	Blob        string          `yaml:"blob"`
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) path(id engine.SensorID) string {
	return filepath.Join(s.dir, fmt.Sprintf("sensor-%d.cal.yaml", id))
}

func (s *FileStore) Save(_ context.Context, rec Record) error {
	if rec.Calibration == nil {
		return fmt.Errorf("calstore: nothing to save for sensor %d", rec.SensorID)
	}
	blob, err := rec.Calibration.MarshalBinary()
	if err != nil {
		return fmt.Errorf("calstore: could not encode calibration: %w", err)
	}
	out, err := yaml.Marshal(fileRecord{
		SensorID:    rec.SensorID,
		Temperature: rec.Temperature,
		Saved:       rec.Saved.UTC(),
		Blob:        hex.EncodeToString(blob),
	})
	if err != nil {
		return fmt.Errorf("calstore: could not encode record: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("calstore: could not create %s: %w", s.dir, err)
	}
	// the record on disk is always complete
	tmp := s.path(rec.SensorID) + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return fmt.Errorf("calstore: could not write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path(rec.SensorID)); err != nil {
		return fmt.Errorf("calstore: could not replace record: %w", err)
	}
	return nil
}

func (s *FileStore) Load(_ context.Context, id engine.SensorID) (Record, error) {
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}, fmt.Errorf("calstore: sensor %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("calstore: could not read record: %w", err)
	}
	var fr fileRecord
	if err := yaml.Unmarshal(data, &fr); err != nil {
		return Record{}, fmt.Errorf("calstore: %w: %w", ErrCorrupt, err)
	}
	if fr.SensorID != id {
		return Record{}, fmt.Errorf("calstore: record holds sensor %d, want %d: %w", fr.SensorID, id, ErrCorrupt)
	}
	blob, err := hex.DecodeString(fr.Blob)
	if err != nil {
		return Record{}, fmt.Errorf("calstore: %w: %w", ErrCorrupt, err)
	}
	cal := &sensor.CalibrationResult{}
	if err := cal.UnmarshalBinary(blob); err != nil {
		return Record{}, fmt.Errorf("calstore: %w: %w", ErrCorrupt, err)
	}
	return Record{SensorID: fr.SensorID, Temperature: fr.Temperature, Saved: fr.Saved, Calibration: cal}, nil
}
