package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Leveled logger shared by the census sync service.
// - Debug/Info/Warn/Error/Fatal variants and Init(level)
// - stdout by default, optionally a rotating file via SetFile

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var (
	mu     sync.RWMutex
	logger *log.Logger = log.New(os.Stdout, "", 0)
	level  Level       = LevelInfo
	closer io.Closer
)

// Init sets the global log level (case-insensitive: debug, info, warn, error, fatal).
// Call early during startup. Default level is Info.
func Init(l string) {
	mu.Lock()
	defer mu.Unlock()
	level = parseLevel(l)
}

func parseLevel(l string) Level {
	switch strings.ToLower(strings.TrimSpace(l)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// FileOptions controls log file rotation.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Stdout keeps writing to stdout next to the file.
	Stdout bool
}

// SetFile sends log output to a size-rotated file. An empty path restores
// stdout.
func SetFile(opts FileOptions) {
	var w io.Writer = os.Stdout
	var c io.Closer
	if opts.Path != "" {
		lj := &lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		c = lj
		w = lj
		if opts.Stdout {
			w = io.MultiWriter(os.Stdout, lj)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if closer != nil {
		_ = closer.Close()
	}
	closer = c
	logger = log.New(w, "", 0)
}

// Close flushes and closes the log file, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if closer == nil {
		return nil
	}
	err := closer.Close()
	closer = nil
	logger = log.New(os.Stdout, "", 0)
	return err
}

func header(lvl string) string {
	return fmt.Sprintf("%s [%s] ", time.Now().Format(time.RFC3339), strings.ToUpper(lvl))
}

func output(l Level, lvl, format string, v ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	if l < level {
		return
	}
	logger.Printf(header(lvl)+format, v...)
}

func Debugf(format string, v ...interface{}) { output(LevelDebug, "debug", format, v...) }
func Infof(format string, v ...interface{})  { output(LevelInfo, "info", format, v...) }
func Warnf(format string, v ...interface{})  { output(LevelWarn, "warn", format, v...) }
func Errorf(format string, v ...interface{}) { output(LevelError, "error", format, v...) }

func Fatalf(format string, v ...interface{}) {
	output(LevelFatal, "fatal", format, v...)
	_ = Close()
	os.Exit(1)
}

// Debug/Info/Warn/Error helpers that accept a single string
func Debug(v string) { Debugf("%s", v) }
func Info(v string)  { Infof("%s", v) }
func Warn(v string)  { Warnf("%s", v) }
func Error(v string) { Errorf("%s", v) }

// LevelString returns the current level as text.
func LevelString() string {
	mu.RLock()
	defer mu.RUnlock()
	switch level {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	case LevelFatal:
		return "fatal"
	}
	return "info"
}
