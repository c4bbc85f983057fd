package process

import (
	"fmt"
	"strings"
)

// ValidateExecutionConfig checks an execution config for the mistakes the
// config loader cannot default away.
func ValidateExecutionConfig(execution ExecutionConfig) error {
	if strings.TrimSpace(execution.ExecutablePath) == "" {
		return fmt.Errorf("executable_path cannot be empty")
	}
	if execution.WaitDelay < 0 {
		return fmt.Errorf("wait_delay cannot be negative: %v", execution.WaitDelay)
	}
	for i, e := range execution.Environment {
		if !strings.Contains(e, "=") {
			return fmt.Errorf("environment entry %d is not KEY=VALUE: %q", i, e)
		}
	}
	return nil
}
