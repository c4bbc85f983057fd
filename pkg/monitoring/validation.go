package monitoring

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidateHealthCheckConfig checks probe configuration before the monitor
// loop starts, so misconfiguration fails the service start instead of
// silently flapping.
func ValidateHealthCheckConfig(config HealthCheckConfig) error {
	switch config.Type {
	case HealthCheckTypeProcess:
		// PID comes from the spawned process, nothing else to check.
	case HealthCheckTypeHTTP:
		if strings.TrimSpace(config.HTTP.URL) == "" {
			return fmt.Errorf("http health check requires a url")
		}
		parsed, err := url.Parse(config.HTTP.URL)
		if err != nil {
			return fmt.Errorf("invalid http health check url: %w", err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("http health check url must use http or https: %s", config.HTTP.URL)
		}
	case HealthCheckTypeTCP:
		if strings.TrimSpace(config.TCP.Address) == "" {
			return fmt.Errorf("tcp health check requires an address")
		}
		if config.TCP.Port <= 0 || config.TCP.Port > 65535 {
			return fmt.Errorf("invalid tcp health check port: %d", config.TCP.Port)
		}
	default:
		return fmt.Errorf("unsupported health check type: %s", config.Type)
	}

	if config.RunOptions.Interval <= 0 {
		return fmt.Errorf("health check interval must be positive: %v", config.RunOptions.Interval)
	}
	if config.RunOptions.Timeout <= 0 {
		return fmt.Errorf("health check timeout must be positive: %v", config.RunOptions.Timeout)
	}
	if config.RunOptions.InitialDelay < 0 {
		return fmt.Errorf("health check initial delay cannot be negative: %v", config.RunOptions.InitialDelay)
	}

	return nil
}
