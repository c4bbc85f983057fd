//go:build !windows

package supervisor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsbm/svcmaster/pkg/servicecontrol"
)

func newSleeperSupervisor(t *testing.T) *Supervisor {
	t.Helper()

	dir := t.TempDir()
	path := writeConfig(t, `
supervisor:
  base_dir: `+dir+`
services:
  - id: sleeper
    execution:
      executable_path: /bin/sleep
      args: ["60"]
    restart:
      verify_delay: 200ms
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	sup, err := New(config, testLogger())
	require.NoError(t, err)
	return sup
}

func TestSupervisor_ForcedRestartOfStoppedService(t *testing.T) {
	sup := newSleeperSupervisor(t)
	ctx := context.Background()

	// A forced restart of a service that was never started must bring the
	// state machine along with the process.
	require.NoError(t, sup.RestartService(ctx, "sleeper", servicecontrol.RestartTriggerManual, true))
	defer sup.StopService(ctx, "sleeper")

	entry, err := sup.entry("sleeper")
	require.NoError(t, err)
	assert.Equal(t, ServiceStateRunning, entry.stateMachine.Current())
	assert.Equal(t, servicecontrol.ProcessStateRunning, entry.control.State())

	allRunning, states := sup.HealthSummary()
	assert.True(t, allRunning)
	assert.Equal(t, string(ServiceStateRunning), states["sleeper"])
}

func TestSupervisor_RestartAfterStopKeepsStateConsistent(t *testing.T) {
	sup := newSleeperSupervisor(t)
	ctx := context.Background()

	require.NoError(t, sup.StartService(ctx, "sleeper"))
	require.NoError(t, sup.StopService(ctx, "sleeper"))

	require.NoError(t, sup.RestartService(ctx, "sleeper", servicecontrol.RestartTriggerManual, true))
	defer sup.StopService(ctx, "sleeper")

	entry, err := sup.entry("sleeper")
	require.NoError(t, err)
	assert.Equal(t, ServiceStateRunning, entry.stateMachine.Current())
}

func TestSupervisor_FailedRestartRecordsFailedState(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
supervisor:
  base_dir: `+dir+`
services:
  - id: broken
    execution:
      executable_path: /no/such/binary
    restart:
      verify_delay: 200ms
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)
	sup, err := New(config, testLogger())
	require.NoError(t, err)

	err = sup.RestartService(context.Background(), "broken", servicecontrol.RestartTriggerManual, true)
	require.Error(t, err)

	entry, err := sup.entry("broken")
	require.NoError(t, err)
	assert.Equal(t, ServiceStateFailed, entry.stateMachine.Current())
}
