// Package gwlog is the structured operational logger shared by every
// daemon in this toolkit (scanner, monitor, tainlog). It is
// distinct from internal/logwriter, which implements the TAI64N-stamped
// service output log the line-logger actually supervises — gwlog is
// strictly for each binary's own diagnostics.
//
// The leveled API, the RFC5424 structured-field encoding, and the
// KV/KVErr helpers follow the ingestion platform's own logger; the UDP
// log-shipping relay and the multi-relay fan-out are dropped, since
// nothing in this toolkit ships logs off-host.
package gwlog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/crewjam/rfc5424"
	"github.com/samitolvanen/ngim/internal/rotate"
)

// Level is a logging severity, ordered least to most severe.
type Level int

const (
	OFF Level = iota
	DEBUG
	INFO
	WARN
	ERROR
	CRITICAL
	FATAL
)

func (l Level) String() string {
	switch l {
	case OFF:
		return "OFF"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case CRITICAL:
		return "CRITICAL"
	case FATAL:
		return "FATAL"
	}
	return "UNKNOWN"
}

func (l Level) priority() rfc5424.Priority {
	switch l {
	case DEBUG:
		return rfc5424.Debug
	case INFO:
		return rfc5424.Info
	case WARN:
		return rfc5424.Warning
	case ERROR:
		return rfc5424.Error
	case CRITICAL:
		return rfc5424.Crit
	case FATAL:
		return rfc5424.Emergency
	}
	return rfc5424.Info
}

// LevelFromString parses a level name, case-insensitively.
func LevelFromString(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "OFF":
		return OFF, nil
	case "DEBUG":
		return DEBUG, nil
	case "INFO":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	case "CRITICAL", "CRIT":
		return CRITICAL, nil
	case "FATAL":
		return FATAL, nil
	}
	return OFF, fmt.Errorf("gwlog: invalid level %q", s)
}

const defaultDepth = 3

// ErrNotOpen is returned by logger methods after Close.
var ErrNotOpen = errors.New("gwlog: logger is not open")

// Logger is a leveled, structured logger writing RFC5424-framed lines to
// one or more writers.
type Logger struct {
	mtx      sync.Mutex
	wtrs     []io.WriteCloser
	lvl      Level
	hot      bool
	hostname string
	appname  string
}

// New wraps wtr at level INFO. appname identifies this process in every
// emitted line (the binary's own name: "monitor", "scanner", ...).
func New(wtr io.WriteCloser, appname string) *Logger {
	host, _ := os.Hostname()
	return &Logger{
		wtrs:     []io.WriteCloser{wtr},
		lvl:      INFO,
		hot:      true,
		hostname: host,
		appname:  appname,
	}
}

// NewFile opens (or creates) path in append mode and wraps it.
func NewFile(path, appname string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		return nil, err
	}
	return New(f, appname), nil
}

// NewRotatingFile opens path as a size-rotated log for --log-file, the
// flag the scanner, monitor and tainlog binaries expose for their own
// diagnostics (as opposed to
// the supervised service's stdout, which internal/logwriter rotates on
// its own schedule).
func NewRotatingFile(path, appname string, opts rotate.Options) (*Logger, error) {
	f, err := rotate.Open(path, 0640, opts)
	if err != nil {
		return nil, err
	}
	return New(f, appname), nil
}

type discardCloser struct{}

func (discardCloser) Write(b []byte) (int, error) { return len(b), nil }
func (discardCloser) Close() error                { return nil }

// NewDiscard returns a logger that drops everything, for tests.
func NewDiscard() *Logger { return New(discardCloser{}, "") }

// AddWriter adds another destination for every subsequent log line.
func (l *Logger) AddWriter(wtr io.WriteCloser) error {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if !l.hot {
		return ErrNotOpen
	}
	l.wtrs = append(l.wtrs, wtr)
	return nil
}

// SetLevel changes the minimum level that is emitted.
func (l *Logger) SetLevel(lvl Level) {
	l.mtx.Lock()
	l.lvl = lvl
	l.mtx.Unlock()
}

// SetLevelString is a config-file-friendly wrapper around SetLevel.
func (l *Logger) SetLevelString(s string) error {
	lvl, err := LevelFromString(s)
	if err != nil {
		return err
	}
	l.SetLevel(lvl)
	return nil
}

// Close closes every writer this logger owns.
func (l *Logger) Close() error {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	l.hot = false
	var err error
	for _, w := range l.wtrs {
		if cerr := w.Close(); cerr != nil {
			err = cerr
		}
	}
	return err
}

func (l *Logger) output(depth int, lvl Level, msg string, sds ...rfc5424.SDParam) {
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if !l.hot || lvl < l.lvl || l.lvl == OFF {
		return
	}
	m := rfc5424.Message{
		Priority:  lvl.priority(),
		Timestamp: time.Now(),
		Hostname:  l.hostname,
		AppName:   l.appname,
		MessageID: callLoc(depth),
		Message:   []byte(msg),
	}
	if len(sds) > 0 {
		m.StructuredData = []rfc5424.StructuredData{{ID: "gwlog@1", Parameters: sds}}
	}
	b, err := m.MarshalBinary()
	if err != nil {
		return
	}
	for _, w := range l.wtrs {
		w.Write(b)
		io.WriteString(w, "\n")
	}
}

func callLoc(depth int) string {
	_, file, line, ok := runtime.Caller(depth)
	if !ok {
		return "?"
	}
	parts := strings.Split(file, "/")
	if n := len(parts); n > 2 {
		file = strings.Join(parts[n-2:], "/")
	}
	return fmt.Sprintf("%s:%d", file, line)
}

func (l *Logger) Debugf(f string, args ...interface{}) {
	l.output(defaultDepth, DEBUG, fmt.Sprintf(f, args...))
}
func (l *Logger) Infof(f string, args ...interface{}) {
	l.output(defaultDepth, INFO, fmt.Sprintf(f, args...))
}
func (l *Logger) Warnf(f string, args ...interface{}) {
	l.output(defaultDepth, WARN, fmt.Sprintf(f, args...))
}
func (l *Logger) Errorf(f string, args ...interface{}) {
	l.output(defaultDepth, ERROR, fmt.Sprintf(f, args...))
}
func (l *Logger) Criticalf(f string, args ...interface{}) {
	l.output(defaultDepth, CRITICAL, fmt.Sprintf(f, args...))
}

func (l *Logger) Debug(msg string, sds ...rfc5424.SDParam) { l.output(defaultDepth, DEBUG, msg, sds...) }
func (l *Logger) Info(msg string, sds ...rfc5424.SDParam)  { l.output(defaultDepth, INFO, msg, sds...) }
func (l *Logger) Warn(msg string, sds ...rfc5424.SDParam)  { l.output(defaultDepth, WARN, msg, sds...) }
func (l *Logger) Error(msg string, sds ...rfc5424.SDParam) { l.output(defaultDepth, ERROR, msg, sds...) }
func (l *Logger) Critical(msg string, sds ...rfc5424.SDParam) {
	l.output(defaultDepth, CRITICAL, msg, sds...)
}

// FatalCode logs at FATAL and exits with code. Used for the handful of
// unrecoverable startup failures a daemon can't proceed past: can't
// create the lock directory, can't mkfifo.
func (l *Logger) FatalCode(code int, msg string, sds ...rfc5424.SDParam) {
	l.output(defaultDepth, FATAL, msg, sds...)
	os.Exit(code)
}

// KV builds a structured field, stringifying anything that isn't
// already a string.
func KV(name string, value interface{}) rfc5424.SDParam {
	if s, ok := value.(string); ok {
		return rfc5424.SDParam{Name: name, Value: s}
	}
	return rfc5424.SDParam{Name: name, Value: fmt.Sprintf("%v", value)}
}

// KVErr is shorthand for KV("error", err).
func KVErr(err error) rfc5424.SDParam { return KV("error", err) }
