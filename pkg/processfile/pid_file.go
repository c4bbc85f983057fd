package processfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dbsbm/svcmaster/pkg/errors"
	"github.com/dbsbm/svcmaster/pkg/logging"
	"github.com/dbsbm/svcmaster/pkg/processstate"
)

// DefaultFileName is the manager PID file the CLI looks for next to the
// status file.
const DefaultFileName = "master_service.pid"

// PIDFile tracks the manager's own PID on disk so a second invocation can
// find (or refuse to duplicate) a running daemon.
type PIDFile struct {
	path   string
	logger logging.Logger
}

func New(path string, logger logging.Logger) *PIDFile {
	return &PIDFile{
		path:   path,
		logger: logger,
	}
}

func (f *PIDFile) Path() string {
	return f.path
}

// Write records the current process PID.
func (f *PIDFile) Write() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return errors.NewIOError("failed to create PID file directory", err).WithContext("pid_file", f.path)
	}

	content := fmt.Sprintf("%d\n", os.Getpid())
	if err := os.WriteFile(f.path, []byte(content), 0644); err != nil {
		return errors.NewIOError("failed to write PID file", err).WithContext("pid_file", f.path)
	}

	f.logger.Infof("PID file written, path: %s, pid: %d", f.path, os.Getpid())
	return nil
}

// Read returns the PID stored in the file.
func (f *PIDFile) Read() (int, error) {
	content, err := os.ReadFile(f.path)
	if err != nil {
		return 0, errors.NewIOError("failed to read PID file", err).WithContext("pid_file", f.path)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(content)))
	if err != nil {
		return 0, errors.NewValidationError("invalid PID file content", err).
			WithContext("pid_file", f.path).WithContext("content", strings.TrimSpace(string(content)))
	}
	if pid <= 0 {
		return 0, errors.NewValidationError(fmt.Sprintf("invalid PID in file: %d", pid), nil).WithContext("pid_file", f.path)
	}

	return pid, nil
}

// Remove deletes the file. Missing files are not an error.
func (f *PIDFile) Remove() error {
	if err := os.Remove(f.path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.NewIOError("failed to remove PID file", err).WithContext("pid_file", f.path)
	}
	f.logger.Infof("PID file removed, path: %s", f.path)
	return nil
}

// FindRunning returns the PID of a live daemon recorded in the file, or 0
// when the file is missing or stale. A stale file is removed.
func (f *PIDFile) FindRunning() (int, error) {
	if _, err := os.Stat(f.path); os.IsNotExist(err) {
		return 0, nil
	}

	pid, err := f.Read()
	if err != nil {
		return 0, err
	}

	running, _ := processstate.IsRunning(pid)
	if running {
		return pid, nil
	}

	f.logger.Warnf("Stale PID file found, path: %s, pid: %d", f.path, pid)
	if err := f.Remove(); err != nil {
		return 0, err
	}
	return 0, nil
}
