package servicecontrol

import (
	"context"
	"fmt"
	"time"

	"github.com/dbsbm/svcmaster/pkg/monitoring"
	"github.com/dbsbm/svcmaster/pkg/process"
)

// ProcessState is the lifecycle state of the controlled OS process.
type ProcessState string

const (
	ProcessStateIdle     ProcessState = "idle"     // no process, ready to start
	ProcessStateStarting ProcessState = "starting" // spawn + verification in progress
	ProcessStateRunning  ProcessState = "running"  // process alive, health monitor attached
	ProcessStateStopping ProcessState = "stopping" // graceful shutdown in progress
)

// RestartTrigger records what asked for a restart; it becomes the metric
// label on svcmaster_service_restarts_total.
type RestartTrigger string

const (
	RestartTriggerHealthFailure RestartTrigger = "health_failure"
	RestartTriggerManual        RestartTrigger = "manual"
	RestartTriggerScheduled     RestartTrigger = "scheduled"
)

// RestartConfig defines the restart gate mechanics.
type RestartConfig struct {
	// MaxRetries is the number of consecutive failures that still get the
	// exponential 2^n delay; beyond it ExtendedDelay applies.
	MaxRetries int `yaml:"max_retries"`

	// ExtendedDelay is the flat wait once exponential retries are spent.
	ExtendedDelay time.Duration `yaml:"extended_delay"`

	// OpenAfter is the total attempt count at which the gate opens and
	// refuses further restarts until a recovery or manual start resets
	// it. Zero disables opening.
	OpenAfter int `yaml:"open_after"`

	// VerifyDelay is how long a freshly spawned process must stay alive
	// before the start counts as successful.
	VerifyDelay time.Duration `yaml:"verify_delay"`
}

// ValidateRestartConfig checks restart gate configuration values.
func ValidateRestartConfig(config RestartConfig) error {
	if config.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative: %d", config.MaxRetries)
	}
	if config.ExtendedDelay < 0 {
		return fmt.Errorf("extended_delay cannot be negative: %v", config.ExtendedDelay)
	}
	if config.OpenAfter < 0 {
		return fmt.Errorf("open_after cannot be negative: %d", config.OpenAfter)
	}
	if config.OpenAfter > 0 && config.OpenAfter <= config.MaxRetries {
		return fmt.Errorf("open_after (%d) must exceed max_retries (%d)", config.OpenAfter, config.MaxRetries)
	}
	if config.VerifyDelay < 0 {
		return fmt.Errorf("verify_delay cannot be negative: %v", config.VerifyDelay)
	}
	return nil
}

// Options configures a ServiceControl instance.
type Options struct {
	Execution       process.ExecutionConfig
	HealthCheck     monitoring.HealthCheckConfig
	Restart         RestartConfig
	GracefulTimeout time.Duration
}

// Diagnostics is a point-in-time snapshot of a controlled service,
// consumed by the supervisor's status file and admin API.
type Diagnostics struct {
	State               ProcessState
	PID                 int
	RestartCount        int
	ConsecutiveFailures int
	LastRestart         *time.Time
	LastHealthCheck     *time.Time
	HealthStatus        monitoring.HealthCheckStatus
	LastError           string
}

// ServiceControl owns one supervised OS process: spawn, verify, monitor,
// stop, restart.
type ServiceControl interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context, trigger RestartTrigger, force bool) error
	State() ProcessState
	Diagnostics() Diagnostics
}
