package process

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateExecutionConfig(t *testing.T) {
	valid := ExecutionConfig{
		ExecutablePath:   "/usr/bin/python3",
		Args:             []string{"bot.py"},
		Environment:      []string{"PYTHONUNBUFFERED=1"},
		WorkingDirectory: "/srv/app",
	}
	require.NoError(t, ValidateExecutionConfig(valid))

	t.Run("EmptyExecutable", func(t *testing.T) {
		config := valid
		config.ExecutablePath = "  "
		assert.Error(t, ValidateExecutionConfig(config))
	})

	t.Run("NegativeWaitDelay", func(t *testing.T) {
		config := valid
		config.WaitDelay = -time.Second
		assert.Error(t, ValidateExecutionConfig(config))
	})

	t.Run("MalformedEnvironment", func(t *testing.T) {
		config := valid
		config.Environment = []string{"PYTHONUNBUFFERED"}
		err := ValidateExecutionConfig(config)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "KEY=VALUE")
	})
}
