// Package logx provides leveled component logging for the dev-server
// orchestrator. Agent process output is routed through the same Level
// vocabulary so the CLI renders orchestrator and agent lines uniformly.
package logx

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

// Level classifies a log line. LevelSystem is reserved for build and
// runtime-engine output forwarded verbatim (docker build, image pulls).
type Level string

const (
	LevelDebug  Level = "DEBUG"
	LevelInfo   Level = "INFO"
	LevelWarn   Level = "WARN"
	LevelError  Level = "ERROR"
	LevelSystem Level = "SYSTEM"
)

// ANSI colors per level, applied only when stderr is a terminal.
var levelColors = map[Level]string{
	LevelDebug:  "\033[90m", // bright black
	LevelWarn:   "\033[33m", // yellow
	LevelError:  "\033[31m", // red
	LevelSystem: "\033[36m", // cyan
}

const colorReset = "\033[0m"

var (
	debugEnabled bool
	colorEnabled bool
	setupOnce    sync.Once
)

func setup() {
	setupOnce.Do(func() {
		if v := os.Getenv("DEBUG"); v == "1" || strings.EqualFold(v, "true") {
			debugEnabled = true
		}
		if os.Getenv("NO_COLOR") == "" && term.IsTerminal(int(os.Stderr.Fd())) {
			colorEnabled = true
		}
	})
}

// Logger writes timestamped, component-tagged lines to stderr.
type Logger struct {
	component string
	logger    *log.Logger
}

func NewLogger(component string) *Logger {
	setup()
	return &Logger{
		component: component,
		logger:    log.New(os.Stderr, "", 0),
	}
}

// IsDebugEnabled reports whether DEBUG=1/true was set in the environment.
func IsDebugEnabled() bool {
	setup()
	return debugEnabled
}

func (l *Logger) log(level Level, format string, args ...any) {
	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	message := fmt.Sprintf(format, args...)
	line := fmt.Sprintf("[%s] [%s] %s: %s", timestamp, l.component, level, message)
	if colorEnabled {
		if c, ok := levelColors[level]; ok {
			line = c + line + colorReset
		}
	}
	l.logger.Println(line)
}

func (l *Logger) Debug(format string, args ...any) {
	if !IsDebugEnabled() {
		return
	}
	l.log(LevelDebug, format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}

// System logs a line of forwarded engine/build output.
func (l *Logger) System(format string, args ...any) {
	l.log(LevelSystem, format, args...)
}

// Log emits at an arbitrary level. Used by log-event sinks that receive
// pre-classified agent output.
func (l *Logger) Log(level Level, format string, args ...any) {
	if level == LevelDebug && !IsDebugEnabled() {
		return
	}
	l.log(level, format, args...)
}

func (l *Logger) Component() string {
	return l.component
}

// Default logger for package-level convenience functions.
var defaultLogger = NewLogger("agentdev")

func Debugf(format string, args ...any) {
	defaultLogger.Debug(format, args...)
}

func Infof(format string, args ...any) {
	defaultLogger.Info(format, args...)
}

func Warnf(format string, args ...any) {
	defaultLogger.Warn(format, args...)
}

// Errorf logs and returns the formatted error. Use when a failure must be
// both user-visible and propagated:
//
//	return logx.Errorf("image build failed: %w", err)
func Errorf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	defaultLogger.Error("%s", err.Error())
	return err
}

// Wrap logs msg + ": " + err.Error() and returns the wrapped error.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%s: %w", msg, err)
	defaultLogger.Error("%s", wrapped.Error())
	return wrapped
}
