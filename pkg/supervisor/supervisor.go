package supervisor

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/dbsbm/svcmaster/pkg/errors"
	"github.com/dbsbm/svcmaster/pkg/logging"
	"github.com/dbsbm/svcmaster/pkg/monitoring"
	"github.com/dbsbm/svcmaster/pkg/servicecontrol"
)

type serviceEntry struct {
	config       ServiceConfig
	control      servicecontrol.ServiceControl
	stateMachine *ServiceStateMachine
}

// Supervisor owns the registry of managed services and drives their
// lifecycles: start/stop/restart operations, the periodic monitor loop,
// and the status snapshot.
type Supervisor struct {
	config     *Config
	logger     logging.Logger
	statusFile *StatusFile

	entries map[string]*serviceEntry
	order   []string

	lastMonthlyRestart *time.Time

	stopChan chan struct{}
	wg       sync.WaitGroup
	mutex    sync.Mutex
}

// New creates a supervisor and registers every enabled service from the
// config.
func New(config *Config, logger logging.Logger) (*Supervisor, error) {
	s := &Supervisor{
		config:     config,
		logger:     logger,
		statusFile: NewStatusFile(config.Supervisor.StatusFile),
		entries:    make(map[string]*serviceEntry),
		stopChan:   make(chan struct{}),
	}

	for _, svc := range config.EnabledServices() {
		if err := s.AddService(svc); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// AddService registers a service. Duplicate IDs are rejected.
func (s *Supervisor) AddService(config ServiceConfig) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.entries[config.ID]; exists {
		return errors.NewConflictError("service already registered: "+config.ID, nil)
	}

	serviceLogger := logging.NewPrefixLogger("service: "+config.ID+" , ", s.logger)
	control := servicecontrol.New(servicecontrol.Options{
		Execution:       config.Execution,
		HealthCheck:     config.HealthCheck,
		Restart:         config.Restart,
		GracefulTimeout: config.GracefulTimeout,
	}, config.ID, serviceLogger)

	s.entries[config.ID] = &serviceEntry{
		config:       config,
		control:      control,
		stateMachine: NewServiceStateMachine(config.ID, serviceLogger),
	}
	s.order = append(s.order, config.ID)

	s.logger.Infof("Service registered, id: %s, executable: %s", config.ID, config.Execution.ExecutablePath)
	return nil
}

func (s *Supervisor) entry(id string) (*serviceEntry, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	entry, exists := s.entries[id]
	if !exists {
		return nil, errors.NewNotFoundError("unknown service: "+id, nil)
	}
	return entry, nil
}

// ServiceIDs returns registered service IDs in configuration order.
func (s *Supervisor) ServiceIDs() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	ids := make([]string, len(s.order))
	copy(ids, s.order)
	return ids
}

// StartService starts one service and records the state transitions.
func (s *Supervisor) StartService(ctx context.Context, id string) error {
	entry, err := s.entry(id)
	if err != nil {
		return err
	}

	if err := entry.stateMachine.Transition(ServiceStateStarting, "start requested"); err != nil {
		return err
	}

	if err := entry.control.Start(ctx); err != nil {
		_ = entry.stateMachine.Transition(ServiceStateFailed, "start failed: "+err.Error())
		s.writeStatus()
		return err
	}

	_ = entry.stateMachine.Transition(ServiceStateRunning, "started")
	s.writeStatus()
	return nil
}

// StopService stops one service.
func (s *Supervisor) StopService(ctx context.Context, id string) error {
	entry, err := s.entry(id)
	if err != nil {
		return err
	}

	if err := entry.control.Stop(ctx); err != nil {
		s.writeStatus()
		return err
	}

	_ = entry.stateMachine.Transition(ServiceStateStopped, "stop requested")
	s.writeStatus()
	return nil
}

// RestartService restarts one service. Forced restarts bypass the
// failure backoff gate.
func (s *Supervisor) RestartService(ctx context.Context, id string, trigger servicecontrol.RestartTrigger, force bool) error {
	entry, err := s.entry(id)
	if err != nil {
		return err
	}

	// Restarting a service with no live process is a start; route the
	// machine through Starting so the transition table stays honest.
	target := ServiceStateRestarting
	switch entry.stateMachine.Current() {
	case ServiceStateStopped, ServiceStateFailed:
		target = ServiceStateStarting
	}
	if err := entry.stateMachine.Transition(target, "restart: "+string(trigger)); err != nil {
		return err
	}

	if err := entry.control.Restart(ctx, trigger, force); err != nil {
		if terr := entry.stateMachine.Transition(ServiceStateFailed, "restart failed: "+err.Error()); terr != nil {
			s.logger.Warnf("Failed to record restart failure, id: %s: %v", id, terr)
		}
		s.writeStatus()
		return err
	}

	if err := entry.stateMachine.Transition(ServiceStateRunning, "restarted"); err != nil {
		s.logger.Warnf("Restarted service left in state %s, id: %s: %v",
			entry.stateMachine.Current(), id, err)
	}
	s.writeStatus()
	return nil
}

// StartAll starts every registered service in configuration order. A
// failing service does not block the rest; the error aggregates all
// failures.
func (s *Supervisor) StartAll(ctx context.Context) error {
	collection := errors.NewErrorCollection()
	started := 0

	for _, id := range s.ServiceIDs() {
		if err := s.StartService(ctx, id); err != nil {
			s.logger.Errorf("Failed to start service, id: %s, error: %v", id, err)
			collection.Add(err)
			continue
		}
		started++
	}

	s.logger.Infof("Started %d of %d services", started, len(s.ServiceIDs()))
	return collection.ToError()
}

// StopAll stops every registered service in reverse configuration order.
func (s *Supervisor) StopAll(ctx context.Context) error {
	collection := errors.NewErrorCollection()

	ids := s.ServiceIDs()
	for i := len(ids) - 1; i >= 0; i-- {
		if err := s.StopService(ctx, ids[i]); err != nil {
			s.logger.Errorf("Failed to stop service, id: %s, error: %v", ids[i], err)
			collection.Add(err)
		}
	}

	return collection.ToError()
}

// RestartAll stops everything, waits for the settle delay, then starts
// everything again.
func (s *Supervisor) RestartAll(ctx context.Context, trigger servicecontrol.RestartTrigger) error {
	s.logger.Infof("Restarting all services, trigger: %s", trigger)

	collection := errors.NewErrorCollection()
	if err := s.StopAll(ctx); err != nil {
		collection.Add(err)
	}

	select {
	case <-time.After(s.config.Supervisor.SettleDelay):
	case <-ctx.Done():
		return errors.NewCancelledError("restart cancelled during settle delay", ctx.Err())
	}

	if err := s.StartAll(ctx); err != nil {
		collection.Add(err)
	}
	return collection.ToError()
}

// SetLastMonthlyRestart records when the scheduled restart last ran, for
// the status snapshot.
func (s *Supervisor) SetLastMonthlyRestart(t time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.lastMonthlyRestart = &t
}

// Status builds a point-in-time snapshot of every service.
func (s *Supervisor) Status() *StatusSnapshot {
	s.mutex.Lock()
	lastMonthly := s.lastMonthlyRestart
	ids := make([]string, len(s.order))
	copy(ids, s.order)
	entries := make(map[string]*serviceEntry, len(s.entries))
	for id, entry := range s.entries {
		entries[id] = entry
	}
	s.mutex.Unlock()

	snapshot := &StatusSnapshot{
		ManagerPID:         os.Getpid(),
		LastUpdate:         time.Now(),
		LastMonthlyRestart: lastMonthly,
		Services:           make(map[string]ServiceStatus, len(ids)),
	}

	for _, id := range ids {
		entry := entries[id]
		diagnostics := entry.control.Diagnostics()

		status := ServiceStatus{
			Name:                entry.config.Name,
			Status:              string(entry.stateMachine.Current()),
			RestartCount:        diagnostics.RestartCount,
			ConsecutiveFailures: diagnostics.ConsecutiveFailures,
			LastRestart:         diagnostics.LastRestart,
			LastHealthCheck:     diagnostics.LastHealthCheck,
			HealthStatus:        string(diagnostics.HealthStatus),
		}
		if diagnostics.PID > 0 {
			pid := diagnostics.PID
			status.PID = &pid
		}
		snapshot.Services[id] = status
	}

	return snapshot
}

// HealthSummary reports whether every service is running, plus the
// per-service states. Used by the /healthz endpoint.
func (s *Supervisor) HealthSummary() (bool, map[string]string) {
	allRunning := true
	states := make(map[string]string)

	for _, id := range s.ServiceIDs() {
		entry, err := s.entry(id)
		if err != nil {
			continue
		}
		state := entry.stateMachine.Current()
		states[id] = string(state)
		if state != ServiceStateRunning {
			allRunning = false
		}
	}
	return allRunning, states
}

// StartMonitor launches the periodic monitor loop.
func (s *Supervisor) StartMonitor() {
	s.wg.Add(1)
	go s.monitorLoop()
}

// StopMonitor stops the monitor loop and waits for it to exit.
func (s *Supervisor) StopMonitor() {
	close(s.stopChan)
	s.wg.Wait()
}

func (s *Supervisor) monitorLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Supervisor.PollInterval)
	defer ticker.Stop()

	s.writeStatus()

	for {
		select {
		case <-ticker.C:
			s.reconcile()
			s.writeStatus()
		case <-s.stopChan:
			return
		}
	}
}

// reconcile aligns each service's supervisor state with what the process
// and its health monitor report. Restart handling itself lives in the
// health monitor callbacks; this loop keeps the externally visible state
// honest between those events.
func (s *Supervisor) reconcile() {
	for _, id := range s.ServiceIDs() {
		entry, err := s.entry(id)
		if err != nil {
			continue
		}

		supervisorState := entry.stateMachine.Current()
		processState := entry.control.State()
		diagnostics := entry.control.Diagnostics()

		switch supervisorState {
		case ServiceStateRunning:
			if processState == servicecontrol.ProcessStateIdle {
				_ = entry.stateMachine.Transition(ServiceStateFailed, "process is gone")
				_ = entry.stateMachine.Transition(ServiceStateBackoff, "waiting for restart gate")
			} else if diagnostics.HealthStatus == monitoring.HealthCheckStatusUnhealthy {
				_ = entry.stateMachine.Transition(ServiceStateFailed, "health check unhealthy")
				_ = entry.stateMachine.Transition(ServiceStateBackoff, "waiting for restart gate")
			}
		case ServiceStateFailed, ServiceStateBackoff, ServiceStateRestarting:
			if processState == servicecontrol.ProcessStateRunning &&
				diagnostics.HealthStatus != monitoring.HealthCheckStatusUnhealthy {
				s.recoverState(entry)
			}
		}
	}
}

// recoverState walks the machine back to running after the restart gate
// has brought the process up.
func (s *Supervisor) recoverState(entry *serviceEntry) {
	switch entry.stateMachine.Current() {
	case ServiceStateFailed:
		_ = entry.stateMachine.Transition(ServiceStateStarting, "process recovered")
		_ = entry.stateMachine.Transition(ServiceStateRunning, "process recovered")
	case ServiceStateBackoff:
		_ = entry.stateMachine.Transition(ServiceStateRestarting, "process recovered")
		_ = entry.stateMachine.Transition(ServiceStateRunning, "process recovered")
	case ServiceStateRestarting:
		_ = entry.stateMachine.Transition(ServiceStateRunning, "process recovered")
	}
}

func (s *Supervisor) writeStatus() {
	if err := s.statusFile.Write(s.Status()); err != nil {
		s.logger.Warnf("Failed to write status file: %v", err)
	}
}
