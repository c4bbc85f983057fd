package servicecontrol

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dbsbm/svcmaster/pkg/errors"
	"github.com/dbsbm/svcmaster/pkg/logging"
	"github.com/dbsbm/svcmaster/pkg/metrics"
	"github.com/dbsbm/svcmaster/pkg/monitoring"
	"github.com/dbsbm/svcmaster/pkg/process"
)

const (
	defaultGracefulTimeout = 15 * time.Second
	defaultVerifyDelay     = 5 * time.Second
	restartSettleDelay     = 2 * time.Second
	forceKillWait          = 5 * time.Second
)

type serviceControl struct {
	options   Options
	serviceID string
	logger    logging.Logger
	spawn     process.SpawnFunc

	proc              *os.Process
	processDoneSignal chan error
	stdout            io.ReadCloser

	healthMonitor monitoring.HealthMonitor
	restartGate   RestartGate

	recentOutput      []string
	recentOutputMutex sync.Mutex

	state         ProcessState
	everStarted   bool
	stopRequested bool
	restartCount  int
	lastRestart  *time.Time
	lastError    string

	mutex chanMutex
}

// chanMutex is a channel-based mutex so lock acquisition can be expressed
// with plain send/receive and composed with defer.
type chanMutex chan struct{}

func newChanMutex() chanMutex {
	m := make(chanMutex, 1)
	return m
}

func (m chanMutex) Lock()   { m <- struct{}{} }
func (m chanMutex) Unlock() { <-m }

// New creates a ServiceControl for one configured service.
func New(options Options, serviceID string, logger logging.Logger) ServiceControl {
	if options.GracefulTimeout <= 0 {
		options.GracefulTimeout = defaultGracefulTimeout
	}
	if options.Restart.VerifyDelay <= 0 {
		options.Restart.VerifyDelay = defaultVerifyDelay
	}

	return &serviceControl{
		options:     options,
		serviceID:   serviceID,
		logger:      logger,
		spawn:       process.NewSpawnFunc(options.Execution, serviceID, logger),
		restartGate: NewRestartGate(options.Restart, serviceID, logger),
		state:       ProcessStateIdle,
		mutex:       newChanMutex(),
	}
}

func (sc *serviceControl) Start(ctx context.Context) error {
	if ctx == nil {
		return errors.NewValidationError("context cannot be nil", nil)
	}

	// A deliberate start clears any accumulated failure streak.
	sc.restartGate.Reset()
	sc.setStopRequested(false)

	return sc.startInternal(ctx)
}

func (sc *serviceControl) Stop(ctx context.Context) error {
	if ctx == nil {
		return errors.NewValidationError("context cannot be nil", nil)
	}

	// Mark the stop as deliberate so a health-triggered restart already
	// waiting in the gate's backoff cannot bring the process back.
	sc.setStopRequested(true)

	return sc.stopInternal(ctx)
}

func (sc *serviceControl) setStopRequested(requested bool) {
	sc.mutex.Lock()
	sc.stopRequested = requested
	sc.mutex.Unlock()
}

func (sc *serviceControl) Restart(ctx context.Context, trigger RestartTrigger, force bool) error {
	if ctx == nil {
		return errors.NewValidationError("context cannot be nil", nil)
	}

	sc.logger.Infof("Restart requested, service: %s, trigger: %s, force: %t", sc.serviceID, trigger, force)
	metrics.ServiceRestarts.WithLabelValues(sc.serviceID, string(trigger)).Inc()

	// A deliberate restart supersedes an earlier deliberate stop.
	sc.setStopRequested(false)

	if force {
		// Operator- and schedule-driven restarts bypass the failure gate.
		return sc.restartInternal(ctx)
	}

	return sc.restartGate.ExecuteRestart(func() error {
		return sc.restartInternal(ctx)
	}, trigger, "restart requested")
}

func (sc *serviceControl) State() ProcessState {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	return sc.state
}

func (sc *serviceControl) Diagnostics() Diagnostics {
	sc.mutex.Lock()
	healthMonitor := sc.healthMonitor
	diagnostics := Diagnostics{
		State:               sc.state,
		RestartCount:        sc.restartCount,
		ConsecutiveFailures: sc.restartGate.Attempts(),
		LastRestart:         sc.lastRestart,
		LastError:           sc.lastError,
		HealthStatus:        monitoring.HealthCheckStatusUnknown,
	}
	if sc.proc != nil {
		diagnostics.PID = sc.proc.Pid
	}
	sc.mutex.Unlock()

	if healthMonitor != nil {
		healthState := healthMonitor.State()
		diagnostics.HealthStatus = healthState.Status
		if !healthState.LastCheck.IsZero() {
			lastCheck := healthState.LastCheck
			diagnostics.LastHealthCheck = &lastCheck
		}
	}

	return diagnostics
}

func (sc *serviceControl) startInternal(ctx context.Context) error {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	if sc.stopRequested {
		return errors.NewCancelledError("service was deliberately stopped, refusing to start", nil).
			WithContext("service", sc.serviceID)
	}
	if sc.state != ProcessStateIdle {
		return errors.NewConflictError(
			"cannot start process in state '"+string(sc.state)+"'", nil).
			WithContext("service", sc.serviceID).WithContext("current_state", string(sc.state))
	}
	sc.state = ProcessStateStarting

	proc, stdout, err := sc.spawn(ctx)
	if err != nil {
		sc.state = ProcessStateIdle
		sc.lastError = err.Error()
		return err
	}

	sc.recentOutputMutex.Lock()
	sc.recentOutput = nil
	sc.recentOutputMutex.Unlock()

	processDoneSignal := make(chan error, 1)
	go func() {
		state, waitErr := proc.Wait()
		if waitErr != nil {
			processDoneSignal <- errors.NewProcessError("process wait failed", waitErr).WithContext("pid", proc.Pid)
			return
		}
		sc.logger.Infof("Process exited, service: %s, PID: %d, status: %v", sc.serviceID, proc.Pid, state)
		processDoneSignal <- nil
	}()

	go sc.forwardOutput(stdout)

	// Hold the new process for its verification window; a child that dies
	// immediately is a failed start, not a running service.
	select {
	case <-processDoneSignal:
		sc.state = ProcessStateIdle
		sc.lastError = "process exited during startup verification"
		err := errors.NewProcessError("process exited during startup verification", nil).
			WithContext("service", sc.serviceID).WithContext("verify_delay", sc.options.Restart.VerifyDelay)
		if output := sc.lastOutput(); output != "" {
			err = err.WithContext("output", output)
		}
		return err
	case <-ctx.Done():
		_ = proc.Kill()
		sc.state = ProcessStateIdle
		return errors.NewCancelledError("startup cancelled", ctx.Err()).WithContext("service", sc.serviceID)
	case <-time.After(sc.options.Restart.VerifyDelay):
	}

	sc.proc = proc
	sc.processDoneSignal = processDoneSignal
	sc.stdout = stdout

	healthMonitor, err := sc.startHealthMonitor(proc.Pid)
	if err != nil {
		sc.logger.Warnf("Failed to start health monitor, service: %s, error: %v", sc.serviceID, err)
		// A running service without a health monitor is still running.
	}
	sc.healthMonitor = healthMonitor

	// The first successful start is not a restart.
	if sc.everStarted {
		now := time.Now()
		sc.restartCount++
		sc.lastRestart = &now
	}
	sc.everStarted = true
	sc.lastError = ""
	sc.state = ProcessStateRunning
	metrics.ServiceUp.WithLabelValues(sc.serviceID).Set(1)

	sc.logger.Infof("Service started, service: %s, PID: %d", sc.serviceID, proc.Pid)
	return nil
}

const recentOutputLines = 20

// forwardOutput copies the child's merged stdout+stderr into the manager
// log, line by line. The most recent lines are retained so a failed
// startup can report what the child printed before dying.
func (sc *serviceControl) forwardOutput(stdout io.ReadCloser) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		line := scanner.Text()
		sc.logger.Infof("[%s] %s", sc.serviceID, line)

		sc.recentOutputMutex.Lock()
		sc.recentOutput = append(sc.recentOutput, line)
		if len(sc.recentOutput) > recentOutputLines {
			sc.recentOutput = sc.recentOutput[1:]
		}
		sc.recentOutputMutex.Unlock()
	}
}

func (sc *serviceControl) lastOutput() string {
	sc.recentOutputMutex.Lock()
	defer sc.recentOutputMutex.Unlock()
	return strings.Join(sc.recentOutput, "\n")
}

func (sc *serviceControl) startHealthMonitor(pid int) (monitoring.HealthMonitor, error) {
	healthMonitor := monitoring.NewHealthMonitor(sc.options.HealthCheck, sc.serviceID, pid, sc.logger)

	healthMonitor.SetRestartCallback(func(reason string) {
		sc.logger.Warnf("Health restart requested, service: %s, reason: %s", sc.serviceID, reason)
		metrics.ServiceRestarts.WithLabelValues(sc.serviceID, string(RestartTriggerHealthFailure)).Inc()

		err := sc.restartGate.ExecuteRestart(func() error {
			return sc.restartInternal(context.Background())
		}, RestartTriggerHealthFailure, reason)
		if err != nil {
			sc.logger.Errorf("Health-triggered restart failed, service: %s, error: %v", sc.serviceID, err)
		}
	})

	healthMonitor.SetRecoveryCallback(func() {
		sc.logger.Infof("Health recovered, resetting restart gate, service: %s", sc.serviceID)
		sc.restartGate.Reset()
	})

	if err := healthMonitor.Start(); err != nil {
		return nil, err
	}
	return healthMonitor, nil
}

func (sc *serviceControl) stopInternal(ctx context.Context) error {
	sc.mutex.Lock()

	if sc.state == ProcessStateIdle {
		sc.mutex.Unlock()
		sc.logger.Infof("Service is not running, service: %s", sc.serviceID)
		return nil
	}
	if sc.state != ProcessStateRunning {
		state := sc.state
		sc.mutex.Unlock()
		return errors.NewConflictError(
			"cannot stop process in state '"+string(state)+"'", nil).
			WithContext("service", sc.serviceID).WithContext("current_state", string(state))
	}

	sc.state = ProcessStateStopping
	proc := sc.proc
	done := sc.processDoneSignal
	sc.proc = nil
	sc.processDoneSignal = nil
	sc.mutex.Unlock()

	var terminationErr error
	if proc != nil {
		terminationErr = sc.terminate(ctx, proc, done)
	}

	sc.mutex.Lock()
	if sc.healthMonitor != nil {
		sc.healthMonitor.Stop()
		sc.healthMonitor = nil
	}
	if sc.stdout != nil {
		_ = sc.stdout.Close()
		sc.stdout = nil
	}
	sc.state = ProcessStateIdle
	sc.mutex.Unlock()

	metrics.ServiceUp.WithLabelValues(sc.serviceID).Set(0)

	if terminationErr != nil {
		return terminationErr
	}
	sc.logger.Infof("Service stopped, service: %s", sc.serviceID)
	return nil
}

// terminate asks for a graceful shutdown, then escalates to a kill after
// the graceful timeout.
func (sc *serviceControl) terminate(ctx context.Context, proc *os.Process, done chan error) error {
	pid := proc.Pid
	gracefulTimeout := sc.options.GracefulTimeout

	sc.logger.Infof("Stopping service, service: %s, PID: %d, graceful timeout: %v", sc.serviceID, pid, gracefulTimeout)

	if err := process.SendTerminationSignal(pid, gracefulTimeout); err != nil {
		sc.logger.Warnf("Failed to send termination signal, service: %s, PID: %d, error: %v", sc.serviceID, pid, err)
	}

	select {
	case err := <-done:
		if err != nil {
			return errors.NewProcessError("process termination failed", err).WithContext("pid", pid)
		}
		sc.logger.Infof("Process terminated gracefully, service: %s, PID: %d", sc.serviceID, pid)
		return nil
	case <-time.After(gracefulTimeout):
		sc.logger.Warnf("Process did not stop within %v, force killing, service: %s, PID: %d", gracefulTimeout, sc.serviceID, pid)
	case <-ctx.Done():
		sc.logger.Warnf("Context cancelled during graceful stop, force killing, service: %s, PID: %d", sc.serviceID, pid)
	}

	if err := proc.Kill(); err != nil {
		return errors.NewProcessError("failed to kill process", err).WithContext("pid", pid)
	}

	select {
	case err := <-done:
		if err != nil {
			return errors.NewProcessError("forced termination failed", err).WithContext("pid", pid)
		}
		sc.logger.Infof("Process force terminated, service: %s, PID: %d", sc.serviceID, pid)
		return nil
	case <-time.After(forceKillWait):
		return errors.NewTimeoutError("process did not terminate after force kill", nil).WithContext("pid", pid)
	}
}

func (sc *serviceControl) restartInternal(ctx context.Context) error {
	sc.mutex.Lock()
	stopRequested := sc.stopRequested
	sc.mutex.Unlock()
	if stopRequested {
		return errors.NewCancelledError("service was deliberately stopped, not restarting", nil).
			WithContext("service", sc.serviceID)
	}

	sc.logger.Infof("Restarting service, service: %s", sc.serviceID)

	if err := sc.stopInternal(ctx); err != nil {
		return errors.NewProcessError("failed to stop service during restart", err).WithContext("service", sc.serviceID)
	}

	time.Sleep(restartSettleDelay)

	if err := sc.startInternal(ctx); err != nil {
		return errors.NewProcessError("failed to start service during restart", err).WithContext("service", sc.serviceID)
	}

	sc.logger.Infof("Service restarted, service: %s", sc.serviceID)
	return nil
}
