package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dbsbm/svcmaster/pkg/errors"
	"github.com/dbsbm/svcmaster/pkg/monitoring"
	"github.com/dbsbm/svcmaster/pkg/process"
	"github.com/dbsbm/svcmaster/pkg/processfile"
	"github.com/dbsbm/svcmaster/pkg/schedule"
	"github.com/dbsbm/svcmaster/pkg/servicecontrol"
)

// Config is the full svcmaster.yaml document.
type Config struct {
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Schedule   ScheduleConfig   `yaml:"schedule,omitempty"`
	Services   []ServiceConfig  `yaml:"services"`
}

// SupervisorConfig holds manager-wide settings.
type SupervisorConfig struct {
	// BaseDir anchors the relative default paths below. Defaults to the
	// current working directory.
	BaseDir string `yaml:"base_dir,omitempty"`

	PollInterval    time.Duration `yaml:"poll_interval,omitempty"`
	SettleDelay     time.Duration `yaml:"settle_delay,omitempty"`
	GracefulTimeout time.Duration `yaml:"graceful_timeout,omitempty"`

	APIAddress string `yaml:"api_address,omitempty"`
	APIEnabled *bool  `yaml:"api_enabled,omitempty"`

	LogLevel     string `yaml:"log_level,omitempty"`
	LogDirectory string `yaml:"log_directory,omitempty"`
	StatusFile   string `yaml:"status_file,omitempty"`
	PIDFile      string `yaml:"pid_file,omitempty"`
}

// ScheduleConfig configures the monthly maintenance restart. Hour is a
// pointer so an explicit midnight is distinguishable from an unset field.
type ScheduleConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Weekday string `yaml:"weekday,omitempty"`
	Hour    *int   `yaml:"hour,omitempty"`
	Minute  int    `yaml:"minute,omitempty"`
}

// ServiceConfig describes one managed service.
type ServiceConfig struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name,omitempty"`
	Enabled *bool  `yaml:"enabled,omitempty"`

	Execution       process.ExecutionConfig      `yaml:"execution"`
	HealthCheck     monitoring.HealthCheckConfig `yaml:"health_check,omitempty"`
	Restart         servicecontrol.RestartConfig `yaml:"restart,omitempty"`
	GracefulTimeout time.Duration                `yaml:"graceful_timeout,omitempty"`
}

const (
	defaultPollInterval    = 30 * time.Second
	defaultSettleDelay     = 5 * time.Second
	defaultGracefulTimeout = 15 * time.Second
	defaultAPIAddress      = "127.0.0.1:8787"
	defaultLogLevel        = "info"
	defaultLogDirectory    = "service_logs"
	defaultStatusFileName  = "master_service_status.json"

	defaultHealthInterval = 30 * time.Second
	defaultHealthTimeout  = 5 * time.Second

	defaultMaxRetries    = 3
	defaultExtendedDelay = 60 * time.Second
	defaultOpenAfter     = 10
	defaultVerifyDelay   = 5 * time.Second
)

// LoadConfig reads and validates svcmaster.yaml from the given path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewIOError("failed to read config file", err).WithContext("path", path)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewValidationError("failed to parse config file", err).WithContext("path", path)
	}

	config.setDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) setDefaults() {
	s := &c.Supervisor
	if s.BaseDir == "" {
		s.BaseDir = "."
	}
	if s.PollInterval <= 0 {
		s.PollInterval = defaultPollInterval
	}
	if s.SettleDelay <= 0 {
		s.SettleDelay = defaultSettleDelay
	}
	if s.GracefulTimeout <= 0 {
		s.GracefulTimeout = defaultGracefulTimeout
	}
	if s.APIAddress == "" {
		s.APIAddress = defaultAPIAddress
	}
	if s.APIEnabled == nil {
		enabled := true
		s.APIEnabled = &enabled
	}
	if s.LogLevel == "" {
		s.LogLevel = defaultLogLevel
	}
	if s.LogDirectory == "" {
		s.LogDirectory = filepath.Join(s.BaseDir, defaultLogDirectory)
	}
	if s.StatusFile == "" {
		s.StatusFile = filepath.Join(s.BaseDir, defaultStatusFileName)
	}
	if s.PIDFile == "" {
		s.PIDFile = filepath.Join(s.BaseDir, processfile.DefaultFileName)
	}

	if c.Schedule.Enabled == nil {
		enabled := true
		c.Schedule.Enabled = &enabled
	}
	if c.Schedule.Weekday == "" {
		c.Schedule.Weekday = "monday"
	}
	if c.Schedule.Hour == nil {
		hour := 3
		c.Schedule.Hour = &hour
	}

	for i := range c.Services {
		svc := &c.Services[i]
		if svc.Name == "" {
			svc.Name = svc.ID
		}
		if svc.Enabled == nil {
			enabled := true
			svc.Enabled = &enabled
		}
		if svc.GracefulTimeout <= 0 {
			svc.GracefulTimeout = s.GracefulTimeout
		}

		hc := &svc.HealthCheck
		if hc.Type == "" {
			hc.Type = monitoring.HealthCheckTypeProcess
		}
		if hc.RunOptions.Interval <= 0 {
			hc.RunOptions.Interval = defaultHealthInterval
		}
		if hc.RunOptions.Timeout <= 0 {
			hc.RunOptions.Timeout = defaultHealthTimeout
		}

		r := &svc.Restart
		if r.MaxRetries == 0 {
			r.MaxRetries = defaultMaxRetries
		}
		if r.ExtendedDelay <= 0 {
			r.ExtendedDelay = defaultExtendedDelay
		}
		if r.OpenAfter == 0 {
			r.OpenAfter = defaultOpenAfter
		}
		if r.VerifyDelay <= 0 {
			r.VerifyDelay = defaultVerifyDelay
		}
	}
}

// Validate checks the whole document and aggregates every problem found.
func (c *Config) Validate() error {
	collection := errors.NewErrorCollection()

	if len(c.Services) == 0 {
		collection.Add(errors.NewValidationError("no services configured", nil))
	}

	if _, err := parseWeekday(c.Schedule.Weekday); err != nil {
		collection.Add(errors.NewValidationError("invalid schedule weekday", err))
	}
	if c.Schedule.Hour != nil {
		rule := schedule.MonthlyRule{Hour: *c.Schedule.Hour, Minute: c.Schedule.Minute}
		if err := schedule.ValidateMonthlyRule(rule); err != nil {
			collection.Add(errors.NewValidationError("invalid schedule", err))
		}
	}

	seen := make(map[string]bool)
	for i, svc := range c.Services {
		if strings.TrimSpace(svc.ID) == "" {
			collection.Add(errors.NewValidationError(
				fmt.Sprintf("service #%d has an empty id", i), nil))
			continue
		}
		if seen[svc.ID] {
			collection.Add(errors.NewValidationError(
				"duplicate service id: "+svc.ID, nil))
			continue
		}
		seen[svc.ID] = true

		if err := process.ValidateExecutionConfig(svc.Execution); err != nil {
			collection.Add(errors.NewValidationError(
				"invalid execution config for service '"+svc.ID+"'", err))
		}
		if err := monitoring.ValidateHealthCheckConfig(svc.HealthCheck); err != nil {
			collection.Add(errors.NewValidationError(
				"invalid health check config for service '"+svc.ID+"'", err))
		}
		if err := servicecontrol.ValidateRestartConfig(svc.Restart); err != nil {
			collection.Add(errors.NewValidationError(
				"invalid restart config for service '"+svc.ID+"'", err))
		}
	}

	return collection.ToError()
}

// MonthlyRule builds the schedule rule from the validated config.
func (c *Config) MonthlyRule() schedule.MonthlyRule {
	weekday, _ := parseWeekday(c.Schedule.Weekday)
	hour := 3
	if c.Schedule.Hour != nil {
		hour = *c.Schedule.Hour
	}
	return schedule.MonthlyRule{
		Weekday: weekday,
		Hour:    hour,
		Minute:  c.Schedule.Minute,
	}
}

// EnabledServices filters out services with enabled: false.
func (c *Config) EnabledServices() []ServiceConfig {
	var enabled []ServiceConfig
	for _, svc := range c.Services {
		if svc.Enabled == nil || *svc.Enabled {
			enabled = append(enabled, svc)
		}
	}
	return enabled
}

func parseWeekday(name string) (time.Weekday, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sunday":
		return time.Sunday, nil
	case "monday":
		return time.Monday, nil
	case "tuesday":
		return time.Tuesday, nil
	case "wednesday":
		return time.Wednesday, nil
	case "thursday":
		return time.Thursday, nil
	case "friday":
		return time.Friday, nil
	case "saturday":
		return time.Saturday, nil
	}
	return time.Sunday, fmt.Errorf("unknown weekday: %q", name)
}
