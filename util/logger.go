// Package util carries the ambient logging helpers shared by every
// journal component: a leveled logger writing to console and/or file.
package util

import (
	"fmt"
	"log"
	"os"
	"sync"
)

// LogLevel orders severities from most to least verbose.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

var (
	currentLevel LogLevel = LogLevelInfo
	outMu        sync.Mutex
	logFile      *os.File
	toConsole    = true
)

func SetLevel(level LogLevel) {
	currentLevel = level
}

// SetOutput points file-backed logging at path (empty disables it) and
// toggles whether lines are also written to stderr.
func SetOutput(path string, consoleAlso bool) error {
	outMu.Lock()
	defer outMu.Unlock()

	toConsole = consoleAlso
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0666)
	if err != nil {
		return err
	}
	logFile = f
	return nil
}

func Debug(format string, v ...interface{}) {
	if currentLevel <= LogLevelDebug {
		logf("DEBUG", format, v...)
	}
}

func Info(format string, v ...interface{}) {
	if currentLevel <= LogLevelInfo {
		logf("INFO", format, v...)
	}
}

func Warn(format string, v ...interface{}) {
	if currentLevel <= LogLevelWarn {
		logf("WARN", format, v...)
	}
}

func Error(format string, v ...interface{}) {
	if currentLevel <= LogLevelError {
		logf("ERROR", format, v...)
	}
}

// Fatal logs at FATAL and terminates the process. Background tasks use
// this for unrecoverable backend errors where no useful action remains
// except respawn on the next start.
func Fatal(format string, v ...interface{}) {
	logf("FATAL", format, v...)
	os.Exit(1)
}

func logf(level, format string, v ...interface{}) {
	msg := fmt.Sprintf("[%s] "+format, append([]interface{}{level}, v...)...)

	outMu.Lock()
	f := logFile
	console := toConsole
	outMu.Unlock()

	if f != nil {
		_, _ = f.WriteString(msg + "\n")
	}
	if console || f == nil {
		log.Println(msg)
	}
}
