package monitoring

import (
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsbm/svcmaster/pkg/logging"
)

func testLogger() logging.Logger {
	return logging.NewLogger("", logging.LogFuncs{})
}

func newTestMonitor(config HealthCheckConfig, pid int) *healthMonitor {
	return NewHealthMonitor(config, "test-service", pid, testLogger()).(*healthMonitor)
}

func processConfig() HealthCheckConfig {
	return HealthCheckConfig{
		Type: HealthCheckTypeProcess,
		RunOptions: HealthCheckRunOptions{
			Interval: time.Second,
			Timeout:  time.Second,
		},
	}
}

func TestHealthMonitor_ConsecutiveCounting(t *testing.T) {
	monitor := newTestMonitor(processConfig(), os.Getpid())

	monitor.updateState(true, "ok")
	monitor.updateState(true, "ok")
	state := monitor.State()
	assert.Equal(t, HealthCheckStatusHealthy, state.Status)
	assert.Equal(t, 2, state.ConsecutiveSuccesses)
	assert.Equal(t, 0, state.ConsecutiveFailures)

	monitor.updateState(false, "down")
	state = monitor.State()
	assert.Equal(t, HealthCheckStatusDegraded, state.Status)
	assert.Equal(t, 1, state.ConsecutiveFailures)
	assert.Equal(t, 0, state.ConsecutiveSuccesses)

	monitor.updateState(false, "down")
	state = monitor.State()
	assert.Equal(t, HealthCheckStatusUnhealthy, state.Status)
	assert.Equal(t, 2, state.ConsecutiveFailures)
}

func TestHealthMonitor_RestartCallbackOnUnhealthy(t *testing.T) {
	monitor := newTestMonitor(processConfig(), os.Getpid())

	restartReasons := make(chan string, 4)
	monitor.SetRestartCallback(func(reason string) {
		restartReasons <- reason
	})

	monitor.updateState(false, "first failure")
	select {
	case reason := <-restartReasons:
		t.Fatalf("restart callback fired on degraded: %s", reason)
	case <-time.After(100 * time.Millisecond):
	}

	monitor.updateState(false, "second failure")
	select {
	case reason := <-restartReasons:
		assert.Equal(t, "second failure", reason)
	case <-time.After(time.Second):
		t.Fatal("restart callback did not fire on unhealthy")
	}
}

func TestHealthMonitor_RecoveryCallbackOnHeal(t *testing.T) {
	monitor := newTestMonitor(processConfig(), os.Getpid())

	recovered := make(chan struct{}, 4)
	monitor.SetRecoveryCallback(func() {
		recovered <- struct{}{}
	})

	monitor.updateState(false, "down")
	monitor.updateState(false, "down")
	monitor.updateState(true, "back")

	select {
	case <-recovered:
	case <-time.After(time.Second):
		t.Fatal("recovery callback did not fire")
	}
}

func TestHealthMonitor_CheckProcess(t *testing.T) {
	healthy, _ := newTestMonitor(processConfig(), os.Getpid()).checkProcess()
	assert.True(t, healthy)

	// PIDs above the default kernel maximum cannot exist.
	unhealthy, message := newTestMonitor(processConfig(), 1<<30).checkProcess()
	assert.False(t, unhealthy)
	assert.NotEmpty(t, message)
}

func TestHealthMonitor_CheckHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthy" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	config := HealthCheckConfig{
		Type: HealthCheckTypeHTTP,
		HTTP: HTTPHealthCheckConfig{URL: server.URL + "/healthy"},
		RunOptions: HealthCheckRunOptions{
			Interval: time.Second,
			Timeout:  time.Second,
		},
	}
	healthy, _ := newTestMonitor(config, 0).checkHTTP()
	assert.True(t, healthy)

	config.HTTP.URL = server.URL + "/broken"
	healthy, message := newTestMonitor(config, 0).checkHTTP()
	assert.False(t, healthy)
	assert.Contains(t, message, "500")
}

func TestHealthMonitor_CheckTCP(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	port := listener.Addr().(*net.TCPAddr).Port
	config := HealthCheckConfig{
		Type: HealthCheckTypeTCP,
		TCP:  TCPHealthCheckConfig{Address: "127.0.0.1", Port: port},
		RunOptions: HealthCheckRunOptions{
			Interval: time.Second,
			Timeout:  time.Second,
		},
	}
	healthy, _ := newTestMonitor(config, 0).checkTCP()
	assert.True(t, healthy)

	listener.Close()
	healthy, _ = newTestMonitor(config, 0).checkTCP()
	assert.False(t, healthy)
}

func TestHealthMonitor_StartRejectsInvalidConfig(t *testing.T) {
	config := HealthCheckConfig{
		Type: HealthCheckTypeHTTP,
		RunOptions: HealthCheckRunOptions{
			Interval: time.Second,
			Timeout:  time.Second,
		},
	}
	err := newTestMonitor(config, 0).Start()
	require.Error(t, err)
}

func TestValidateHealthCheckConfig(t *testing.T) {
	valid := HealthCheckConfig{
		Type: HealthCheckTypeProcess,
		RunOptions: HealthCheckRunOptions{
			Interval: 30 * time.Second,
			Timeout:  5 * time.Second,
		},
	}
	require.NoError(t, ValidateHealthCheckConfig(valid))

	invalidInterval := valid
	invalidInterval.RunOptions.Interval = 0
	assert.Error(t, ValidateHealthCheckConfig(invalidInterval))

	badPort := valid
	badPort.Type = HealthCheckTypeTCP
	badPort.TCP = TCPHealthCheckConfig{Address: "127.0.0.1", Port: 99999}
	assert.Error(t, ValidateHealthCheckConfig(badPort))

	badScheme := valid
	badScheme.Type = HealthCheckTypeHTTP
	badScheme.HTTP = HTTPHealthCheckConfig{URL: "ftp://example.com"}
	assert.Error(t, ValidateHealthCheckConfig(badScheme))
}
