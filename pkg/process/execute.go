package process

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/dbsbm/svcmaster/pkg/errors"
	"github.com/dbsbm/svcmaster/pkg/logging"
)

// ExecutionConfig describes how to launch a supervised service process.
type ExecutionConfig struct {
	ExecutablePath   string        `yaml:"executable_path"`
	Args             []string      `yaml:"args,omitempty"`
	Environment      []string      `yaml:"environment,omitempty"`
	WorkingDirectory string        `yaml:"working_directory,omitempty"`
	WaitDelay        time.Duration `yaml:"wait_delay,omitempty"`
}

// SpawnFunc launches a new process and returns it together with its
// combined stdout+stderr stream.
type SpawnFunc func(ctx context.Context) (*os.Process, io.ReadCloser, error)

// NewSpawnFunc builds a SpawnFunc for the given execution config. The
// child is placed in its own process group so termination signals reach
// the whole tree.
func NewSpawnFunc(execution ExecutionConfig, id string, logger logging.Logger) SpawnFunc {
	return func(ctx context.Context) (*os.Process, io.ReadCloser, error) {
		if ctx == nil {
			return nil, nil, errors.NewValidationError("context cannot be nil", nil).WithContext("id", id)
		}

		if err := ValidateExecutionConfig(execution); err != nil {
			return nil, nil, errors.NewValidationError("invalid execution configuration", err).WithContext("id", id)
		}

		if _, err := os.Stat(execution.ExecutablePath); err != nil {
			return nil, nil, errors.NewIOError("service executable not found", err).
				WithContext("id", id).WithContext("executable_path", execution.ExecutablePath)
		}

		workDir := execution.WorkingDirectory
		if workDir == "" {
			absPath, err := filepath.Abs(execution.ExecutablePath)
			if err != nil {
				return nil, nil, errors.NewIOError("failed to resolve executable path", err).WithContext("id", id)
			}
			workDir = filepath.Dir(absPath)
		}

		env := os.Environ()
		env = append(env, execution.Environment...)

		cmd := exec.CommandContext(ctx, execution.ExecutablePath, execution.Args...)
		cmd.Dir = workDir
		cmd.Env = env
		cmd.WaitDelay = execution.WaitDelay

		setupProcessAttributes(cmd)

		stdout, err := cmd.StdoutPipe()
		if err != nil {
			return nil, nil, errors.NewProcessError("failed to create stdout pipe", err).WithContext("id", id)
		}
		cmd.Stderr = cmd.Stdout

		logger.Debugf("Spawning process, id: %s, path: %s, args: %v, dir: %s",
			id, execution.ExecutablePath, execution.Args, workDir)

		if err := cmd.Start(); err != nil {
			return nil, nil, errors.NewProcessError("failed to start the process", err).
				WithContext("id", id).WithContext("executable_path", execution.ExecutablePath)
		}

		logger.Infof("Process spawned, id: %s, PID: %d", id, cmd.Process.Pid)

		return cmd.Process, stdout, nil
	}
}
