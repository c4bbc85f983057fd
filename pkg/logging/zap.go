package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapConfig controls the zap-backed logger used by the daemon.
type ZapConfig struct {
	// Level is one of debug, info, warn, error.
	Level string

	// Directory receives the daily master_service_YYYYMMDD.log file.
	// Empty disables the file sink (console only), which tests use.
	Directory string

	// Console enables the stderr sink.
	Console bool
}

// ZapLogger is the process-wide logger backend. It writes to the console
// and to a dated log file, matching the service_logs layout the status
// and logs CLI commands expect.
type ZapLogger struct {
	sugar *zap.SugaredLogger
	file  *os.File
}

// LogFileName returns the daily log file name for the given time.
func LogFileName(t time.Time) string {
	return fmt.Sprintf("master_service_%s.log", t.Format("20060102"))
}

// NewZapLogger builds the backend. Close must be called on shutdown to
// flush buffered entries.
func NewZapLogger(config ZapConfig) (*ZapLogger, error) {
	level, err := parseLevel(config.Level)
	if err != nil {
		return nil, err
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoder := zapcore.NewConsoleEncoder(encoderConfig)

	var cores []zapcore.Core
	if config.Console {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level))
	}

	var file *os.File
	if config.Directory != "" {
		if err := os.MkdirAll(config.Directory, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		path := filepath.Join(config.Directory, LogFileName(time.Now()))
		file, err = os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(file), level))
	}

	if len(cores) == 0 {
		return &ZapLogger{sugar: zap.NewNop().Sugar()}, nil
	}

	logger := zap.New(zapcore.NewTee(cores...))
	return &ZapLogger{
		sugar: logger.Sugar(),
		file:  file,
	}, nil
}

func parseLevel(s string) (zapcore.Level, error) {
	switch s {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level: %s", s)
	}
}

func (z *ZapLogger) Debugf(format string, args ...interface{}) {
	z.sugar.Debugf(format, args...)
}

func (z *ZapLogger) Infof(format string, args ...interface{}) {
	z.sugar.Infof(format, args...)
}

func (z *ZapLogger) Warnf(format string, args ...interface{}) {
	z.sugar.Warnf(format, args...)
}

func (z *ZapLogger) Errorf(format string, args ...interface{}) {
	z.sugar.Errorf(format, args...)
}

// Close flushes and releases the file sink.
func (z *ZapLogger) Close() {
	_ = z.sugar.Sync()
	if z.file != nil {
		_ = z.file.Close()
	}
}
