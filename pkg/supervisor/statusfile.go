package supervisor

import (
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"

	"github.com/dbsbm/svcmaster/pkg/errors"
)

// ServiceStatus is the per-service entry in the status snapshot.
type ServiceStatus struct {
	Name                string     `json:"name"`
	Status              string     `json:"status"`
	PID                 *int       `json:"pid"`
	RestartCount        int        `json:"restart_count"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastRestart         *time.Time `json:"last_restart"`
	LastHealthCheck     *time.Time `json:"last_health_check"`
	HealthStatus        string     `json:"health_status,omitempty"`
}

// StatusSnapshot is the document written to master_service_status.json.
// External tooling reads it without talking to the daemon, so the schema
// is stable.
type StatusSnapshot struct {
	ManagerPID         int                      `json:"manager_pid"`
	LastUpdate         time.Time                `json:"last_update"`
	LastMonthlyRestart *time.Time               `json:"last_monthly_restart"`
	Services           map[string]ServiceStatus `json:"services"`
}

// StatusFile persists StatusSnapshot documents atomically.
type StatusFile struct {
	path string
}

func NewStatusFile(path string) *StatusFile {
	return &StatusFile{path: path}
}

func (f *StatusFile) Path() string {
	return f.path
}

// Write replaces the status file with the given snapshot. The write goes
// through a temp file and a rename so readers never observe a partial
// document.
func (f *StatusFile) Write(snapshot *StatusSnapshot) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return errors.NewInternalError("failed to encode status snapshot", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.NewIOError("failed to create status file directory", err).WithContext("dir", dir)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return errors.NewIOError("failed to create temp status file", err).WithContext("dir", dir)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return errors.NewIOError("failed to write status snapshot", err).WithContext("path", tmpPath)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return errors.NewIOError("failed to close temp status file", err).WithContext("path", tmpPath)
	}

	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return errors.NewIOError("failed to replace status file", err).WithContext("path", f.path)
	}
	return nil
}

// Read loads the status file. A missing file returns a not_found error
// so callers can distinguish "daemon never ran" from a broken document.
func (f *StatusFile) Read() (*StatusSnapshot, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFoundError("status file does not exist", err).WithContext("path", f.path)
		}
		return nil, errors.NewIOError("failed to read status file", err).WithContext("path", f.path)
	}

	var snapshot StatusSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, errors.NewInternalError("failed to decode status file", err).WithContext("path", f.path)
	}
	return &snapshot, nil
}
