package servicecontrol

import (
	"sync"
	"time"

	"github.com/dbsbm/svcmaster/pkg/errors"
	"github.com/dbsbm/svcmaster/pkg/logging"
)

// RestartFunc performs the actual restart when the gate lets it through.
type RestartFunc func() error

// GateState provides insight into the restart gate for diagnostics.
type GateState struct {
	IsOpen          bool      `json:"is_open"`
	Attempts        int       `json:"attempts"`
	LastRestartTime time.Time `json:"last_restart_time"`
	LastTrigger     string    `json:"last_trigger,omitempty"`
}

// RestartGate serializes restart attempts for one service and enforces
// the failure backoff: 2^n seconds for the first MaxRetries consecutive
// failures, a flat ExtendedDelay after that, and an open state that
// refuses restarts entirely once OpenAfter attempts are spent.
type RestartGate interface {
	ExecuteRestart(restartFunc RestartFunc, trigger RestartTrigger, reason string) error
	GetState() GateState
	Attempts() int
	Reset()
}

type restartGate struct {
	config RestartConfig
	id     string
	logger logging.Logger

	attempts        int
	lastRestartTime time.Time
	open            bool
	lastTrigger     RestartTrigger
	mutex           sync.Mutex

	sleep func(time.Duration)
}

func NewRestartGate(config RestartConfig, id string, logger logging.Logger) RestartGate {
	return &restartGate{
		config: config,
		id:     id,
		logger: logger,
		sleep:  time.Sleep,
	}
}

// backoffDelay returns the wait before restart attempt n (1-based).
func (g *restartGate) backoffDelay(attempt int) time.Duration {
	if g.config.MaxRetries > 0 && attempt > g.config.MaxRetries {
		return g.config.ExtendedDelay
	}
	delay := time.Second
	for i := 0; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

func (g *restartGate) ExecuteRestart(restartFunc RestartFunc, trigger RestartTrigger, reason string) error {
	g.mutex.Lock()

	if g.open {
		attempts := g.attempts
		g.mutex.Unlock()
		g.logger.Errorf("Restart gate is open, refusing restart, id: %s, attempts: %d, trigger: %s",
			g.id, attempts, trigger)
		return errors.NewProcessError("restart gate is open", nil).
			WithContext("id", g.id).WithContext("trigger", string(trigger))
	}

	g.attempts++
	g.lastTrigger = trigger

	if g.config.OpenAfter > 0 && g.attempts > g.config.OpenAfter {
		g.open = true
		attempts := g.attempts
		g.mutex.Unlock()
		g.logger.Errorf("Restart attempts exhausted, opening gate, id: %s, attempts: %d, trigger: %s",
			g.id, attempts, trigger)
		return errors.NewProcessError("restart attempts exhausted", nil).
			WithContext("id", g.id).WithContext("attempts", attempts)
	}

	delay := g.backoffDelay(g.attempts)
	attempt := g.attempts
	g.lastRestartTime = time.Now()
	g.mutex.Unlock()

	if g.config.MaxRetries > 0 && attempt > g.config.MaxRetries {
		g.logger.Errorf("Service has failed %d times, id: %s, waiting %v before retry, reason: %s",
			attempt, g.id, delay, reason)
	} else {
		g.logger.Warnf("Restarting after %v delay, id: %s, failure #%d, trigger: %s, reason: %s",
			delay, g.id, attempt, trigger, reason)
	}

	// Sleep outside the lock so State()/Reset() stay responsive.
	g.sleep(delay)

	g.mutex.Lock()
	if g.open {
		g.mutex.Unlock()
		return errors.NewProcessError("restart gate opened during backoff delay", nil).WithContext("id", g.id)
	}
	g.mutex.Unlock()

	if err := restartFunc(); err != nil {
		g.logger.Errorf("Restart failed, id: %s, trigger: %s, error: %v", g.id, trigger, err)
		return err
	}

	g.logger.Infof("Restart completed, id: %s, trigger: %s, attempt: %d", g.id, trigger, attempt)
	return nil
}

func (g *restartGate) GetState() GateState {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return GateState{
		IsOpen:          g.open,
		Attempts:        g.attempts,
		LastRestartTime: g.lastRestartTime,
		LastTrigger:     string(g.lastTrigger),
	}
}

func (g *restartGate) Attempts() int {
	g.mutex.Lock()
	defer g.mutex.Unlock()
	return g.attempts
}

// Reset closes the gate and clears the failure streak. Called when the
// service recovers or an operator starts it manually.
func (g *restartGate) Reset() {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if g.attempts > 0 || g.open {
		g.logger.Infof("Resetting restart gate, id: %s, previous attempts: %d", g.id, g.attempts)
		g.attempts = 0
		g.open = false
		g.lastRestartTime = time.Time{}
		g.lastTrigger = ""
	}
}
