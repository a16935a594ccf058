package login

import (
	"fmt"
	"log/syslog"
	"os"
)

// SyslogAuthLogger reports authentication outcomes to the syslog auth
// facility.
type SyslogAuthLogger struct {
	w *syslog.Writer
}

// NewSyslogAuthLogger opens the auth facility under the poyo tag.
func NewSyslogAuthLogger() (*SyslogAuthLogger, error) {
	w, err := syslog.New(syslog.LOG_AUTH|syslog.LOG_INFO, "poyo")
	if err != nil {
		return nil, fmt.Errorf("login: syslog: %w", err)
	}
	return &SyslogAuthLogger{w: w}, nil
}

func (l *SyslogAuthLogger) Infof(format string, args ...interface{}) {
	l.w.Info(fmt.Sprintf(format, args...))
}

func (l *SyslogAuthLogger) Warnf(format string, args ...interface{}) {
	l.w.Warning(fmt.Sprintf(format, args...))
}

// Close releases the syslog connection.
func (l *SyslogAuthLogger) Close() error { return l.w.Close() }

// StderrAuthLogger is the fallback when syslog is unreachable (early
// boot, missing /dev/log).
type StderrAuthLogger struct{}

func (StderrAuthLogger) Infof(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "poyo: "+format+"\n", args...)
}

func (StderrAuthLogger) Warnf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "poyo: "+format+"\n", args...)
}
