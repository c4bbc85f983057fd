package logging

// Logger is the printf-style logging interface the rest of the codebase
// depends on. Concrete backends (zap, test fakes) live behind it.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

type LogFunc func(format string, args ...interface{})

// LogFuncs bundles the backend functions a prefixed logger delegates to.
type LogFuncs struct {
	Debugf LogFunc
	Infof  LogFunc
	Warnf  LogFunc
	Errorf LogFunc
}

type prefixLogger struct {
	prefix string
	funcs  LogFuncs
}

// NewLogger returns a Logger that prepends prefix to every message before
// delegating. Used to give each supervised service its own log identity.
func NewLogger(prefix string, funcs LogFuncs) Logger {
	return &prefixLogger{
		prefix: prefix,
		funcs:  funcs,
	}
}

// NewPrefixLogger wraps an existing Logger with a prefix.
func NewPrefixLogger(prefix string, logger Logger) Logger {
	return NewLogger(prefix, LogFuncs{
		Debugf: logger.Debugf,
		Infof:  logger.Infof,
		Warnf:  logger.Warnf,
		Errorf: logger.Errorf,
	})
}

func (l *prefixLogger) logf(fn LogFunc, format string, args ...interface{}) {
	if fn == nil {
		return
	}
	if l.prefix != "" {
		format = l.prefix + format
	}
	fn(format, args...)
}

func (l *prefixLogger) Debugf(format string, args ...interface{}) {
	l.logf(l.funcs.Debugf, format, args...)
}

func (l *prefixLogger) Infof(format string, args ...interface{}) {
	l.logf(l.funcs.Infof, format, args...)
}

func (l *prefixLogger) Warnf(format string, args ...interface{}) {
	l.logf(l.funcs.Warnf, format, args...)
}

func (l *prefixLogger) Errorf(format string, args ...interface{}) {
	l.logf(l.funcs.Errorf, format, args...)
}
