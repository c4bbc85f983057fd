package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/dbsbm/svcmaster/pkg/api"
	"github.com/dbsbm/svcmaster/pkg/errors"
	"github.com/dbsbm/svcmaster/pkg/logfiles"
	"github.com/dbsbm/svcmaster/pkg/logging"
	"github.com/dbsbm/svcmaster/pkg/processfile"
	"github.com/dbsbm/svcmaster/pkg/processstate"
	"github.com/dbsbm/svcmaster/pkg/supervisor"
)

type globalOptions struct {
	Config string `short:"c" long:"config" description:"Path to the configuration file" default:"svcmaster.yaml"`
}

var global globalOptions

type runCommand struct{}
type startCommand struct{}
type stopCommand struct{}
type restartCommand struct{}
type statusCommand struct{}

type logsCommand struct {
	Lines  int    `short:"n" long:"lines" description:"Number of lines to show" default:"50"`
	Level  string `long:"level" description:"Only show lines with this log level (DEBUG, INFO, WARN, ERROR)"`
	Follow bool   `short:"f" long:"follow" description:"Keep streaming new log lines"`
}

func main() {
	parser := flags.NewParser(&global, flags.Default)
	parser.ShortDescription = "Service manager for long-running application processes"

	mustAddCommand(parser, "run", "Run the service manager in the foreground", &runCommand{})
	mustAddCommand(parser, "start", "Start the service manager", &startCommand{})
	mustAddCommand(parser, "stop", "Stop the running service manager", &stopCommand{})
	mustAddCommand(parser, "restart", "Restart all managed services", &restartCommand{})
	mustAddCommand(parser, "status", "Show the status of all managed services", &statusCommand{})
	mustAddCommand(parser, "logs", "Show recent service manager log output", &logsCommand{})

	if len(os.Args) < 2 {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}

func mustAddCommand(parser *flags.Parser, name, description string, command interface{}) {
	if _, err := parser.AddCommand(name, description, description, command); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register command %s: %v\n", name, err)
		os.Exit(1)
	}
}

func loadConfig() (*supervisor.Config, error) {
	return supervisor.LoadConfig(global.Config)
}

func runDaemon() error {
	config, err := loadConfig()
	if err != nil {
		return err
	}

	zapLogger, err := logging.NewZapLogger(logging.ZapConfig{
		Level:     config.Supervisor.LogLevel,
		Directory: config.Supervisor.LogDirectory,
		Console:   true,
	})
	if err != nil {
		return err
	}
	defer zapLogger.Close()

	logger := logging.NewPrefixLogger("svcmaster , ", zapLogger)

	sup, err := supervisor.New(config, logger)
	if err != nil {
		return err
	}

	var admin supervisor.AdminServer
	if config.Supervisor.APIEnabled == nil || *config.Supervisor.APIEnabled {
		admin = api.NewServer(sup, config.Supervisor.APIAddress, logger)
	}

	runner := supervisor.NewRunner(config, sup, admin, logger)
	return runner.Run(context.Background())
}

func (c *runCommand) Execute(args []string) error {
	return runDaemon()
}

func (c *startCommand) Execute(args []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}

	pidFile := processfile.New(config.Supervisor.PIDFile, logging.NewLogger("", logging.LogFuncs{}))
	pid, err := pidFile.FindRunning()
	if err != nil {
		return err
	}
	if pid > 0 {
		fmt.Printf("Service manager is already running (PID %d).\n", pid)
		return nil
	}

	return runDaemon()
}

func (c *stopCommand) Execute(args []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}

	pidFile := processfile.New(config.Supervisor.PIDFile, logging.NewLogger("", logging.LogFuncs{}))
	pid, err := pidFile.FindRunning()
	if err != nil {
		return err
	}
	if pid == 0 {
		fmt.Println("Service manager is not running.")
		return nil
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find service manager process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		// Platforms without SIGTERM delivery fall back to a hard kill.
		if err := proc.Kill(); err != nil {
			return fmt.Errorf("failed to stop service manager process %d: %w", pid, err)
		}
	}

	fmt.Printf("Stopping service manager (PID %d)...\n", pid)

	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		running, err := processstate.IsRunning(pid)
		if err != nil || !running {
			fmt.Println("Service manager stopped.")
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}

	return fmt.Errorf("service manager (PID %d) did not stop within 30s", pid)
}

func (c *restartCommand) Execute(args []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}

	url := "http://" + config.Supervisor.APIAddress + "/restart"
	client := &http.Client{Timeout: 5 * time.Minute}

	resp, err := client.Post(url, "application/json", bytes.NewReader(nil))
	if err != nil {
		return fmt.Errorf("could not reach the service manager at %s (is it running?): %w",
			config.Supervisor.APIAddress, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("restart failed with status %s", resp.Status)
	}

	fmt.Println("All services restarted.")
	return nil
}

func (c *statusCommand) Execute(args []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}

	snapshot, err := supervisor.NewStatusFile(config.Supervisor.StatusFile).Read()
	if err != nil {
		if errors.IsNotFoundError(err) {
			fmt.Println("No status available. The service manager does not appear to have run yet.")
			return nil
		}
		return err
	}

	fmt.Printf("Manager PID:          %d\n", snapshot.ManagerPID)
	fmt.Printf("Last update:          %s\n", snapshot.LastUpdate.Format(time.RFC3339))
	if snapshot.LastMonthlyRestart != nil {
		fmt.Printf("Last monthly restart: %s\n", snapshot.LastMonthlyRestart.Format(time.RFC3339))
	} else {
		fmt.Printf("Last monthly restart: never\n")
	}
	fmt.Printf("Next monthly restart: %s\n",
		config.MonthlyRule().NextRun(time.Now()).Format("2006-01-02 15:04"))
	fmt.Println()

	ids := make([]string, 0, len(snapshot.Services))
	for id := range snapshot.Services {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Printf("%-20s %-12s %-8s %-10s %-10s %s\n",
		"SERVICE", "STATUS", "PID", "RESTARTS", "FAILURES", "LAST RESTART")
	for _, id := range ids {
		svc := snapshot.Services[id]
		pid := "-"
		if svc.PID != nil {
			pid = fmt.Sprintf("%d", *svc.PID)
		}
		lastRestart := "never"
		if svc.LastRestart != nil {
			lastRestart = svc.LastRestart.Format(time.RFC3339)
		}
		fmt.Printf("%-20s %-12s %-8s %-10d %-10d %s\n",
			id, svc.Status, pid, svc.RestartCount, svc.ConsecutiveFailures, lastRestart)
	}
	return nil
}

func (c *logsCommand) Execute(args []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}

	newest, err := logfiles.Newest(config.Supervisor.LogDirectory)
	if err != nil {
		return err
	}
	if newest == "" {
		fmt.Println("No log files found.")
		return nil
	}

	lines, err := logfiles.Tail(newest, c.Lines, c.Level)
	if err != nil {
		return err
	}
	for _, line := range lines {
		fmt.Println(line)
	}

	if c.Follow {
		return logfiles.Follow(context.Background(), newest, os.Stdout)
	}
	return nil
}
