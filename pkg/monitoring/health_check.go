package monitoring

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/dbsbm/svcmaster/pkg/errors"
	"github.com/dbsbm/svcmaster/pkg/logging"
	"github.com/dbsbm/svcmaster/pkg/metrics"
	"github.com/dbsbm/svcmaster/pkg/processstate"
)

type HealthCheckType string

const (
	HealthCheckTypeProcess HealthCheckType = "process"
	HealthCheckTypeHTTP    HealthCheckType = "http"
	HealthCheckTypeTCP     HealthCheckType = "tcp"
)

type HTTPHealthCheckConfig struct {
	URL    string `yaml:"url"`
	Method string `yaml:"method,omitempty"`
}

type TCPHealthCheckConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

type HealthCheckRunOptions struct {
	Interval     time.Duration `yaml:"interval,omitempty"`
	Timeout      time.Duration `yaml:"timeout,omitempty"`
	InitialDelay time.Duration `yaml:"initial_delay,omitempty"`
}

type HealthCheckConfig struct {
	Type HealthCheckType `yaml:"type"`

	HTTP HTTPHealthCheckConfig `yaml:"http,omitempty"`
	TCP  TCPHealthCheckConfig  `yaml:"tcp,omitempty"`

	RunOptions HealthCheckRunOptions `yaml:"run_options,omitempty"`
}

type HealthCheckStatus string

const (
	HealthCheckStatusUnknown   HealthCheckStatus = "unknown"
	HealthCheckStatusHealthy   HealthCheckStatus = "healthy"
	HealthCheckStatusDegraded  HealthCheckStatus = "degraded"
	HealthCheckStatusUnhealthy HealthCheckStatus = "unhealthy"
)

type HealthCheckState struct {
	Status               HealthCheckStatus
	LastCheck            time.Time
	Message              string
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
}

// RestartCallback is invoked when a service becomes unhealthy and a
// restart should be attempted.
type RestartCallback func(reason string)

// RecoveryCallback is invoked when a previously unhealthy service turns
// healthy again.
type RecoveryCallback func()

// HealthMonitor runs periodic liveness probes against one service.
type HealthMonitor interface {
	Start() error
	Stop()
	State() *HealthCheckState
	SetRestartCallback(callback RestartCallback)
	SetRecoveryCallback(callback RecoveryCallback)
}

type healthMonitor struct {
	config           HealthCheckConfig
	state            *HealthCheckState
	stopChan         chan struct{}
	wg               sync.WaitGroup
	mutex            sync.Mutex
	logger           logging.Logger
	id               string
	pid              int
	restartCallback  RestartCallback
	recoveryCallback RecoveryCallback
}

// NewHealthMonitor creates a monitor for the given service and PID. The
// PID feeds the process probe; HTTP and TCP probes ignore it.
func NewHealthMonitor(config HealthCheckConfig, id string, pid int, logger logging.Logger) HealthMonitor {
	return &healthMonitor{
		config:   config,
		state:    &HealthCheckState{Status: HealthCheckStatusUnknown},
		stopChan: make(chan struct{}),
		logger:   logger,
		id:       id,
		pid:      pid,
	}
}

func (h *healthMonitor) Start() error {
	if err := ValidateHealthCheckConfig(h.config); err != nil {
		return errors.NewValidationError("invalid health check configuration", err).WithContext("id", h.id)
	}

	h.logger.Infof("Starting health monitor, id: %s, type: %s, interval: %v",
		h.id, h.config.Type, h.config.RunOptions.Interval)

	h.wg.Add(1)
	go h.loop()
	return nil
}

func (h *healthMonitor) Stop() {
	close(h.stopChan)
	h.wg.Wait()
	h.logger.Debugf("Health monitor stopped, id: %s", h.id)
}

func (h *healthMonitor) State() *HealthCheckState {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	stateCopy := *h.state
	return &stateCopy
}

func (h *healthMonitor) SetRestartCallback(callback RestartCallback) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.restartCallback = callback
}

func (h *healthMonitor) SetRecoveryCallback(callback RecoveryCallback) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.recoveryCallback = callback
}

func (h *healthMonitor) loop() {
	defer h.wg.Done()

	if h.config.RunOptions.InitialDelay > 0 {
		select {
		case <-time.After(h.config.RunOptions.InitialDelay):
		case <-h.stopChan:
			return
		}
	}

	ticker := time.NewTicker(h.config.RunOptions.Interval)
	defer ticker.Stop()

	h.performCheck()

	for {
		select {
		case <-ticker.C:
			h.performCheck()
		case <-h.stopChan:
			return
		}
	}
}

func (h *healthMonitor) performCheck() {
	start := time.Now()

	var isHealthy bool
	var message string

	switch h.config.Type {
	case HealthCheckTypeProcess:
		isHealthy, message = h.checkProcess()
	case HealthCheckTypeHTTP:
		isHealthy, message = h.checkHTTP()
	case HealthCheckTypeTCP:
		isHealthy, message = h.checkTCP()
	default:
		isHealthy = false
		message = "unknown health check type: " + string(h.config.Type)
	}

	metrics.HealthCheckDuration.WithLabelValues(h.id, string(h.config.Type)).Observe(time.Since(start).Seconds())

	h.updateState(isHealthy, message)
}

func (h *healthMonitor) updateState(isHealthy bool, message string) {
	h.mutex.Lock()

	previousStatus := h.state.Status
	h.state.LastCheck = time.Now()
	h.state.Message = message

	var restartCallback RestartCallback
	var recoveryCallback RecoveryCallback

	if isHealthy {
		h.state.ConsecutiveSuccesses++
		h.state.ConsecutiveFailures = 0
		h.state.Status = HealthCheckStatusHealthy

		if previousStatus == HealthCheckStatusDegraded || previousStatus == HealthCheckStatusUnhealthy {
			h.logger.Infof("Health check recovered, id: %s, previous: %s", h.id, previousStatus)
			recoveryCallback = h.recoveryCallback
		}
	} else {
		h.state.ConsecutiveFailures++
		h.state.ConsecutiveSuccesses = 0

		// One failure is degraded, anything more is unhealthy.
		if h.state.ConsecutiveFailures == 1 {
			h.state.Status = HealthCheckStatusDegraded
		} else {
			h.state.Status = HealthCheckStatusUnhealthy
		}

		if h.state.Status != previousStatus {
			h.logger.Warnf("Health check status changed, id: %s, %s->%s, consecutive_failures: %d, message: %s",
				h.id, previousStatus, h.state.Status, h.state.ConsecutiveFailures, message)
		}

		if h.state.Status == HealthCheckStatusUnhealthy {
			restartCallback = h.restartCallback
		}
	}

	metrics.ConsecutiveFailures.WithLabelValues(h.id).Set(float64(h.state.ConsecutiveFailures))

	h.mutex.Unlock()

	// Callbacks run outside the lock and off the probe goroutine so a
	// slow restart cannot stall the check loop.
	if recoveryCallback != nil {
		go recoveryCallback()
	}
	if restartCallback != nil {
		go restartCallback(message)
	}
}

func (h *healthMonitor) checkProcess() (bool, string) {
	running, err := processstate.IsRunning(h.pid)
	if err != nil {
		return false, fmt.Sprintf("process check failed for PID %d: %v", h.pid, err)
	}
	if !running {
		return false, fmt.Sprintf("process not running: PID %d", h.pid)
	}
	return true, fmt.Sprintf("process is running: PID %d", h.pid)
}

func (h *healthMonitor) checkHTTP() (bool, string) {
	client := &http.Client{
		Timeout: h.config.RunOptions.Timeout,
	}

	method := h.config.HTTP.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequest(method, h.config.HTTP.URL, nil)
	if err != nil {
		return false, fmt.Sprintf("failed to create HTTP request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return false, fmt.Sprintf("HTTP request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return true, fmt.Sprintf("HTTP health check passed: %d", resp.StatusCode)
	}
	return false, fmt.Sprintf("HTTP health check failed: %d %s", resp.StatusCode, resp.Status)
}

func (h *healthMonitor) checkTCP() (bool, string) {
	address := fmt.Sprintf("%s:%d", h.config.TCP.Address, h.config.TCP.Port)

	conn, err := net.DialTimeout("tcp", address, h.config.RunOptions.Timeout)
	if err != nil {
		return false, fmt.Sprintf("TCP connection failed: %v", err)
	}
	defer conn.Close()

	return true, fmt.Sprintf("TCP connection successful to %s", address)
}
