package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[LogLevel]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// FileOptions configures optional rotating file output. An empty Filename
// keeps output on stdout only.
type FileOptions struct {
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Logger is a leveled logger writing "[LEVEL] message" lines.
type Logger struct {
	level  LogLevel
	out    *log.Logger
	closer io.Closer
	hook   func(level, message string)
	mu     sync.RWMutex
}

// New creates a Logger writing to stdout at the given level.
func New(level string) *Logger {
	return &Logger{
		level: ParseLogLevel(level),
		out:   log.New(os.Stdout, "", log.LstdFlags),
	}
}

// NewWithWriter creates a Logger writing to w. Mostly useful in tests.
func NewWithWriter(level string, w io.Writer) *Logger {
	return &Logger{
		level: ParseLogLevel(level),
		out:   log.New(w, "", 0),
	}
}

func getDefaultLogger() *Logger {
	once.Do(func() {
		defaultLogger = New("INFO")
	})
	return defaultLogger
}

// ParseLogLevel converts string to LogLevel, defaulting to INFO.
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// Configure sets the default logger's level and output. When opts names a
// file, lines are written to both stdout and a lumberjack-rotated file.
//
// Parameters:
//   - level: DEBUG, INFO, WARN or ERROR
//   - opts: rotating file settings
func Configure(level string, opts FileOptions) {
	getDefaultLogger().configure(level, opts)
}

// Close releases the default logger's file output, if any.
func Close() error {
	return getDefaultLogger().Close()
}

// SetLogLevel sets the default logger's level.
func SetLogLevel(level string) {
	getDefaultLogger().SetLevel(level)
}

// GetLogLevel returns the default logger's level name.
func GetLogLevel() string {
	return getDefaultLogger().GetLevel()
}

// SetHook registers fn to receive every line the default logger emits.
func SetHook(fn func(level, message string)) {
	getDefaultLogger().SetHook(fn)
}

func (l *Logger) configure(level string, opts FileOptions) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.level = ParseLogLevel(level)
	if opts.Filename == "" {
		return
	}

	if l.closer != nil {
		l.closer.Close()
	}

	rotator := &lumberjack.Logger{
		Filename:   opts.Filename,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
	l.closer = rotator
	l.out = log.New(io.MultiWriter(os.Stdout, rotator), "", log.LstdFlags)
}

// Close closes the rotating file writer.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closer == nil {
		return nil
	}
	err := l.closer.Close()
	l.closer = nil
	return err
}

// SetLevel sets this logger instance's level
func (l *Logger) SetLevel(level string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = ParseLogLevel(level)
}

// SetHook sets a callback fed with the lower-cased level and message of
// every emitted line. It runs under the logger's read lock and must not log.
func (l *Logger) SetHook(fn func(level, message string)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hook = fn
}

// GetLevel returns this logger instance's level as string
func (l *Logger) GetLevel() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return levelNames[l.level]
}

func (l *Logger) logf(level LogLevel, format string, v ...interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if level < l.level {
		return
	}
	msg := fmt.Sprintf(format, v...)
	l.out.Printf("[%s] %s", levelNames[level], msg)
	if l.hook != nil {
		l.hook(strings.ToLower(levelNames[level]), msg)
	}
}

// Debug logs debug level messages
func (l *Logger) Debug(format string, v ...interface{}) { l.logf(DEBUG, format, v...) }

// Info logs info level messages
func (l *Logger) Info(format string, v ...interface{}) { l.logf(INFO, format, v...) }

// Warn logs warning level messages
func (l *Logger) Warn(format string, v ...interface{}) { l.logf(WARN, format, v...) }

// Error logs error level messages
func (l *Logger) Error(format string, v ...interface{}) { l.logf(ERROR, format, v...) }

// Package-level functions (for direct use like logger.Info())

func Debug(format string, v ...interface{}) { getDefaultLogger().Debug(format, v...) }

func Info(format string, v ...interface{}) { getDefaultLogger().Info(format, v...) }

func Warn(format string, v ...interface{}) { getDefaultLogger().Warn(format, v...) }

func Error(format string, v ...interface{}) { getDefaultLogger().Error(format, v...) }
