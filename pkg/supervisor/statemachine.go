package supervisor

import (
	"sync"
	"time"

	"github.com/dbsbm/svcmaster/pkg/errors"
	"github.com/dbsbm/svcmaster/pkg/logging"
)

// ServiceState is the supervisor-level lifecycle state of a service.
// It is coarser than the process state inside servicecontrol: it also
// covers failure handling and scheduled restarts.
type ServiceState string

const (
	ServiceStateStopped    ServiceState = "stopped"
	ServiceStateStarting   ServiceState = "starting"
	ServiceStateRunning    ServiceState = "running"
	ServiceStateFailed     ServiceState = "failed"
	ServiceStateBackoff    ServiceState = "backoff"
	ServiceStateRestarting ServiceState = "restarting"
)

// StateTransition records one transition for diagnostics.
type StateTransition struct {
	From      ServiceState
	To        ServiceState
	Reason    string
	Timestamp time.Time
}

var validTransitions = map[ServiceState][]ServiceState{
	ServiceStateStopped:    {ServiceStateStarting},
	ServiceStateStarting:   {ServiceStateRunning, ServiceStateFailed, ServiceStateStopped},
	ServiceStateRunning:    {ServiceStateStopped, ServiceStateFailed, ServiceStateRestarting},
	ServiceStateFailed:     {ServiceStateBackoff, ServiceStateStarting, ServiceStateStopped},
	ServiceStateBackoff:    {ServiceStateRestarting, ServiceStateFailed, ServiceStateStopped},
	ServiceStateRestarting: {ServiceStateRunning, ServiceStateFailed, ServiceStateStopped},
}

// ServiceStateMachine tracks and validates state transitions for one
// supervised service.
type ServiceStateMachine struct {
	serviceID string
	current   ServiceState
	history   []StateTransition
	logger    logging.Logger
	mutex     sync.Mutex
}

func NewServiceStateMachine(serviceID string, logger logging.Logger) *ServiceStateMachine {
	return &ServiceStateMachine{
		serviceID: serviceID,
		current:   ServiceStateStopped,
		logger:    logger,
	}
}

func (sm *ServiceStateMachine) Current() ServiceState {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	return sm.current
}

// CanTransition reports whether moving to the target state is allowed
// from the current state.
func (sm *ServiceStateMachine) CanTransition(to ServiceState) bool {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	return sm.canTransitionLocked(to)
}

func (sm *ServiceStateMachine) canTransitionLocked(to ServiceState) bool {
	for _, allowed := range validTransitions[sm.current] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves to the target state, recording the reason. Invalid
// transitions return a conflict error and leave the state unchanged.
func (sm *ServiceStateMachine) Transition(to ServiceState, reason string) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if sm.current == to {
		return nil
	}

	if !sm.canTransitionLocked(to) {
		return errors.NewConflictError(
			"invalid state transition from '"+string(sm.current)+"' to '"+string(to)+"'", nil).
			WithContext("service", sm.serviceID).
			WithContext("from", string(sm.current)).
			WithContext("to", string(to))
	}

	transition := StateTransition{
		From:      sm.current,
		To:        to,
		Reason:    reason,
		Timestamp: time.Now(),
	}
	sm.history = append(sm.history, transition)
	if len(sm.history) > maxTransitionHistory {
		sm.history = sm.history[len(sm.history)-maxTransitionHistory:]
	}

	sm.logger.Debugf("State transition, service: %s, %s->%s, reason: %s",
		sm.serviceID, sm.current, to, reason)
	sm.current = to
	return nil
}

// History returns a copy of the recorded transitions, oldest first.
func (sm *ServiceStateMachine) History() []StateTransition {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	historyCopy := make([]StateTransition, len(sm.history))
	copy(historyCopy, sm.history)
	return historyCopy
}

const maxTransitionHistory = 100
