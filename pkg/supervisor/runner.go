package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dbsbm/svcmaster/pkg/logging"
	"github.com/dbsbm/svcmaster/pkg/processfile"
	"github.com/dbsbm/svcmaster/pkg/schedule"
	"github.com/dbsbm/svcmaster/pkg/servicecontrol"
)

// AdminServer is the optional admin HTTP endpoint the runner manages
// alongside the supervisor.
type AdminServer interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// Runner ties a Supervisor to the process environment: the manager PID
// file, OS signals, the monthly restart scheduler, and the admin server.
type Runner struct {
	config     *Config
	logger     logging.Logger
	supervisor *Supervisor
	pidFile    *processfile.PIDFile
	admin      AdminServer
}

func NewRunner(config *Config, sup *Supervisor, admin AdminServer, logger logging.Logger) *Runner {
	return &Runner{
		config:     config,
		logger:     logger,
		supervisor: sup,
		pidFile:    processfile.New(config.Supervisor.PIDFile, logger),
		admin:      admin,
	}
}

// Run starts everything and blocks until the context is cancelled or a
// termination signal arrives. On return all services are stopped and the
// PID file is removed.
func (r *Runner) Run(ctx context.Context) error {
	existingPID, err := r.pidFile.FindRunning()
	if err != nil {
		return err
	}
	if existingPID > 0 {
		return fmt.Errorf("service manager is already running (PID %d)", existingPID)
	}

	if err := r.pidFile.Write(); err != nil {
		return err
	}
	defer func() {
		if err := r.pidFile.Remove(); err != nil {
			r.logger.Warnf("Failed to remove PID file: %v", err)
		}
	}()

	r.logger.Infof("Service manager starting, PID: %d", os.Getpid())

	var scheduler *schedule.Scheduler
	if r.config.Schedule.Enabled == nil || *r.config.Schedule.Enabled {
		scheduler = schedule.NewScheduler(r.config.MonthlyRule(), r.lastMonthlyRestart(), func() {
			now := time.Now()
			r.supervisor.SetLastMonthlyRestart(now)
			if err := r.supervisor.RestartAll(ctx, servicecontrol.RestartTriggerScheduled); err != nil {
				r.logger.Errorf("Scheduled restart finished with errors: %v", err)
			}
		}, r.logger)
		if err := scheduler.Start(); err != nil {
			return err
		}
	}

	if err := r.supervisor.StartAll(ctx); err != nil {
		// Individual services failing to start is survivable; the health
		// loop and restart gate keep trying.
		r.logger.Errorf("Initial start finished with errors: %v", err)
	}

	r.supervisor.StartMonitor()

	if r.admin != nil {
		if err := r.admin.Start(); err != nil {
			r.logger.Errorf("Admin server failed to start: %v", err)
		}
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalChan)

	select {
	case sig := <-signalChan:
		r.logger.Infof("Received signal %v, shutting down", sig)
	case <-ctx.Done():
		r.logger.Infof("Context cancelled, shutting down")
	}

	return r.shutdown(scheduler)
}

func (r *Runner) shutdown(scheduler *schedule.Scheduler) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if r.admin != nil {
		if err := r.admin.Shutdown(shutdownCtx); err != nil {
			r.logger.Warnf("Admin server shutdown error: %v", err)
		}
	}
	if scheduler != nil {
		scheduler.Stop()
	}
	r.supervisor.StopMonitor()

	err := r.supervisor.StopAll(shutdownCtx)
	r.supervisor.writeStatus()

	r.logger.Infof("Service manager stopped")
	return err
}

// lastMonthlyRestart seeds the scheduler's once-per-month guard from the
// previous run's status file, so a manager restart inside the window
// does not trigger a second monthly restart.
func (r *Runner) lastMonthlyRestart() time.Time {
	snapshot, err := NewStatusFile(r.config.Supervisor.StatusFile).Read()
	if err != nil || snapshot.LastMonthlyRestart == nil {
		return time.Time{}
	}
	r.supervisor.SetLastMonthlyRestart(*snapshot.LastMonthlyRestart)
	return *snapshot.LastMonthlyRestart
}
