package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/eliteGoblin/focusd/pledge/internal/domain"
)

// snapshotRecord is the JSON written by the external health/location
// collaborators.
type snapshotRecord struct {
	StepsToday          uint           `json:"steps_today"`
	WorkoutMinutesToday uint           `json:"workout_minutes_today"`
	CurrentLocation     *locationPoint `json:"current_location"`
	WorkoutActive       bool           `json:"workout_active"`
}

type locationPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// FileSnapshotSource implements domain.SnapshotSource by reading a JSON file.
// A missing file is an empty snapshot: zero counters and unknown location.
type FileSnapshotSource struct {
	path string
}

// NewFileSnapshotSource creates a snapshot source reading path.
func NewFileSnapshotSource(path string) *FileSnapshotSource {
	return &FileSnapshotSource{path: path}
}

// Path returns the watched file path.
func (s *FileSnapshotSource) Path() string {
	return s.path
}

// Snapshot reads the current progress facts.
func (s *FileSnapshotSource) Snapshot(ctx context.Context) (domain.ProgressSnapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.ProgressSnapshot{}, nil
		}
		return domain.ProgressSnapshot{}, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return ParseSnapshot(data)
}

// ParseSnapshot decodes snapshot JSON.
func ParseSnapshot(data []byte) (domain.ProgressSnapshot, error) {
	var rec snapshotRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.ProgressSnapshot{}, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	snap := domain.ProgressSnapshot{
		StepsToday:          rec.StepsToday,
		WorkoutMinutesToday: rec.WorkoutMinutesToday,
		WorkoutActive:       rec.WorkoutActive,
	}
	if rec.CurrentLocation != nil {
		snap.CurrentLocation = &domain.GeoPoint{Lat: rec.CurrentLocation.Lat, Lon: rec.CurrentLocation.Lon}
	}
	return snap, nil
}

// Ensure FileSnapshotSource implements domain.SnapshotSource.
var _ domain.SnapshotSource = (*FileSnapshotSource)(nil)
