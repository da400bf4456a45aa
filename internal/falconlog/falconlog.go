// Package falconlog is a small leveled logger shared by every Falcon
// component. It is deliberately not a generic logging framework: one
// process-wide logger, one level, one destination, adapted from the
// teacher's minilog design but trimmed to what Falcon actually needs.
package falconlog

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	FATAL
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "???"
	}
}

// ParseLevel parses a level name; case-insensitive, as accepted by the
// FALCON_LOG environment variable.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG, nil
	case "info", "":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	case "fatal":
		return FATAL, nil
	}
	return 0, fmt.Errorf("invalid log level: %q", s)
}

var colorFor = map[Level]*color.Color{
	DEBUG: color.New(color.FgBlue),
	INFO:  color.New(color.FgGreen),
	WARN:  color.New(color.FgYellow),
	ERROR: color.New(color.FgRed),
	FATAL: color.New(color.FgRed, color.Bold),
}

type Logger struct {
	mu     sync.Mutex
	level  Level
	out    io.Writer
	color  bool
	golog  *log.Logger
}

// New creates a Logger writing to w at the given level. Color is enabled
// unless NO_COLOR is set; whether w is a terminal is not checked here.
func New(w io.Writer, level Level) *Logger {
	return &Logger{
		level: level,
		out:   w,
		color: os.Getenv("NO_COLOR") == "",
		golog: log.New(w, "", log.LstdFlags),
	}
}

func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}

	tag := level.String()
	if l.color {
		if c, ok := colorFor[level]; ok {
			tag = c.Sprint(tag)
		}
	}

	l.golog.Printf("%s %s", tag, fmt.Sprintf(format, args...))
}

func (l *Logger) Debug(format string, args ...interface{}) { l.log(DEBUG, format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.log(INFO, format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.log(WARN, format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.log(ERROR, format, args...) }
func (l *Logger) Fatal(format string, args ...interface{}) {
	l.log(FATAL, format, args...)
	os.Exit(1)
}

// default process-wide logger, level taken from FALCON_LOG (default info).
var std = newDefault()

func newDefault() *Logger {
	level, err := ParseLevel(os.Getenv("FALCON_LOG"))
	if err != nil {
		level = INFO
	}
	return New(os.Stderr, level)
}

// Default returns the package-level logger every component logs through.
func Default() *Logger { return std }

// SetOutput retargets the default logger, e.g. to the CLI's log file.
func SetOutput(w io.Writer) { std = New(w, std.level) }

func SetLevel(level Level)                        { std.SetLevel(level) }
func Debug(format string, args ...interface{})     { std.Debug(format, args...) }
func Info(format string, args ...interface{})      { std.Info(format, args...) }
func Warn(format string, args ...interface{})      { std.Warn(format, args...) }
func Error(format string, args ...interface{})     { std.Error(format, args...) }
func Fatal(format string, args ...interface{})     { std.Fatal(format, args...) }
