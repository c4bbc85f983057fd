package supervisor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsbm/svcmaster/pkg/monitoring"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "svcmaster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `
services:
  - id: discord_bot
    execution:
      executable_path: /usr/bin/python3
      args: ["bot.py"]
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, config.Supervisor.PollInterval)
	assert.Equal(t, 5*time.Second, config.Supervisor.SettleDelay)
	assert.Equal(t, 15*time.Second, config.Supervisor.GracefulTimeout)
	assert.Equal(t, "127.0.0.1:8787", config.Supervisor.APIAddress)
	assert.Equal(t, "info", config.Supervisor.LogLevel)
	assert.Equal(t, filepath.Join(".", "service_logs"), config.Supervisor.LogDirectory)
	assert.Equal(t, filepath.Join(".", "master_service_status.json"), config.Supervisor.StatusFile)
	assert.Equal(t, filepath.Join(".", "master_service.pid"), config.Supervisor.PIDFile)

	rule := config.MonthlyRule()
	assert.Equal(t, time.Monday, rule.Weekday)
	assert.Equal(t, 3, rule.Hour)
	assert.Equal(t, 0, rule.Minute)

	require.Len(t, config.Services, 1)
	svc := config.Services[0]
	assert.Equal(t, "discord_bot", svc.Name)
	assert.Equal(t, monitoring.HealthCheckTypeProcess, svc.HealthCheck.Type)
	assert.Equal(t, 30*time.Second, svc.HealthCheck.RunOptions.Interval)
	assert.Equal(t, 5*time.Second, svc.HealthCheck.RunOptions.Timeout)
	assert.Equal(t, 3, svc.Restart.MaxRetries)
	assert.Equal(t, 60*time.Second, svc.Restart.ExtendedDelay)
	assert.Equal(t, 10, svc.Restart.OpenAfter)
	assert.Equal(t, 5*time.Second, svc.Restart.VerifyDelay)
	assert.Equal(t, 15*time.Second, svc.GracefulTimeout)
}

func TestLoadConfig_BaseDirAnchorsPaths(t *testing.T) {
	path := writeConfig(t, `
supervisor:
  base_dir: /var/lib/svcmaster
services:
  - id: web_server
    execution:
      executable_path: /usr/bin/web
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/svcmaster/service_logs", config.Supervisor.LogDirectory)
	assert.Equal(t, "/var/lib/svcmaster/master_service_status.json", config.Supervisor.StatusFile)
	assert.Equal(t, "/var/lib/svcmaster/master_service.pid", config.Supervisor.PIDFile)
}

func TestLoadConfig_MidnightScheduleIsKept(t *testing.T) {
	path := writeConfig(t, `
schedule:
  hour: 0
  minute: 0
services:
  - id: web_server
    execution:
      executable_path: /usr/bin/web
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	rule := config.MonthlyRule()
	assert.Equal(t, 0, rule.Hour)
	assert.Equal(t, 0, rule.Minute)
}

func TestLoadConfig_DuplicateIDsRejected(t *testing.T) {
	path := writeConfig(t, `
services:
  - id: web_server
    execution:
      executable_path: /usr/bin/web
  - id: web_server
    execution:
      executable_path: /usr/bin/web
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate service id")
}

func TestLoadConfig_UnknownProbeTypeRejected(t *testing.T) {
	path := writeConfig(t, `
services:
  - id: web_server
    execution:
      executable_path: /usr/bin/web
    health_check:
      type: carrier-pigeon
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported health check type")
}

func TestLoadConfig_NoServicesRejected(t *testing.T) {
	path := writeConfig(t, `
supervisor:
  poll_interval: 10s
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no services configured")
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadConfig_InvalidWeekday(t *testing.T) {
	path := writeConfig(t, `
schedule:
  weekday: someday
services:
  - id: web_server
    execution:
      executable_path: /usr/bin/web
`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weekday")
}

func TestConfig_EnabledServices(t *testing.T) {
	path := writeConfig(t, `
services:
  - id: web_server
    execution:
      executable_path: /usr/bin/web
  - id: web_proxy
    enabled: false
    execution:
      executable_path: /usr/bin/proxy
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	enabled := config.EnabledServices()
	require.Len(t, enabled, 1)
	assert.Equal(t, "web_server", enabled[0].ID)
}
