package logging

type Logger interface {
	Debugf(msg string, args ...interface{})
	Infof(msg string, args ...interface{})
	Warnf(msg string, args ...interface{})
	Errorf(msg string, args ...interface{})
}

type LogFunc func(format string, args ...interface{})

type LogFuncs struct {
	Debugf LogFunc
	Infof  LogFunc
	Warnf  LogFunc
	Errorf LogFunc
}

type logger struct {
	prefix string
	funcs  LogFuncs
}

// NewLogger composes a prefixed logger on top of existing log functions,
// so subsystems can share one backend while keeping their own prefix.
func NewLogger(prefix string, funcs LogFuncs) Logger {
	return &logger{
		prefix: prefix,
		funcs:  funcs,
	}
}

// NewPrefixedLogger derives a logger with an additional prefix from an
// existing one.
func NewPrefixedLogger(prefix string, base Logger) Logger {
	return NewLogger(prefix, LogFuncs{
		Debugf: base.Debugf,
		Infof:  base.Infof,
		Warnf:  base.Warnf,
		Errorf: base.Errorf,
	})
}

func (l *logger) logf(fn LogFunc, msg string, args ...interface{}) {
	if fn == nil {
		return
	}
	if l.prefix != "" {
		msg = l.prefix + msg
	}
	fn(msg, args...)
}

func (l *logger) Debugf(msg string, args ...interface{}) {
	l.logf(l.funcs.Debugf, msg, args...)
}

func (l *logger) Infof(msg string, args ...interface{}) {
	l.logf(l.funcs.Infof, msg, args...)
}

func (l *logger) Warnf(msg string, args ...interface{}) {
	l.logf(l.funcs.Warnf, msg, args...)
}

func (l *logger) Errorf(msg string, args ...interface{}) {
	l.logf(l.funcs.Errorf, msg, args...)
}
