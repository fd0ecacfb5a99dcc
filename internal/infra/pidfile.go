package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/eliteGoblin/focusd/pledge/internal/domain"
)

const pidFileName = "daemon.json"

type pidRecord struct {
	PID        int    `json:"pid"`
	StartedAt  int64  `json:"started_at"`
	AppVersion string `json:"app_version,omitempty"`
}

// PIDFile implements domain.DaemonRegistry with a JSON file in the data
// directory; liveness is checked through gopsutil.
type PIDFile struct {
	path string

	// pidExists is swappable for tests.
	pidExists func(pid int32) (bool, error)
}

// NewPIDFile creates a registry at <dataDir>/daemon.json.
func NewPIDFile(dataDir string) *PIDFile {
	return NewPIDFileWithPath(filepath.Join(dataDir, pidFileName))
}

// NewPIDFileWithPath creates a registry at a specific path (for testing).
func NewPIDFileWithPath(path string) *PIDFile {
	return &PIDFile{path: path, pidExists: process.PidExists}
}

// Register records the daemon.
func (p *PIDFile) Register(daemon domain.Daemon) error {
	data, err := json.Marshal(pidRecord{
		PID:        daemon.PID,
		StartedAt:  daemon.StartedAt.Unix(),
		AppVersion: daemon.AppVersion,
	})
	if err != nil {
		return err
	}
	return atomicWrite(p.path, data, 0600)
}

// Get returns the registered daemon, or nil if none is registered.
func (p *PIDFile) Get() (*domain.Daemon, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var rec pidRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse pid file: %w", err)
	}
	return &domain.Daemon{
		PID:        rec.PID,
		StartedAt:  time.Unix(rec.StartedAt, 0),
		AppVersion: rec.AppVersion,
	}, nil
}

// IsAlive checks whether the registered PID is running.
func (p *PIDFile) IsAlive() (bool, error) {
	d, err := p.Get()
	if err != nil || d == nil || d.PID <= 0 {
		return false, err
	}
	return p.pidExists(int32(d.PID))
}

// Clear removes the registration.
func (p *PIDFile) Clear() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Ensure PIDFile implements domain.DaemonRegistry.
var _ domain.DaemonRegistry = (*PIDFile)(nil)
