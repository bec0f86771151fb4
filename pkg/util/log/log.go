// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed for the Watchpost project.
// Copyright 2024-present the Watchpost authors.

// Package log exposes the process-wide logger used by every watchpost
// package. It is a thin wrapper around seelog so that callers never deal
// with logger plumbing: they call the package-level functions and the
// configured sink receives the lines.
package log

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cihub/seelog"
)

var (
	mu     sync.RWMutex
	logger seelog.LoggerInterface
	level  seelog.LogLevel = seelog.InfoLvl

	// Lines logged before SetupLogger ran. The buffer is flushed on setup so
	// early registration-time diagnostics are not lost.
	buffered   []func()
	buffering  = true
	bufferLock sync.Mutex
)

const logConfigTemplate = `
<seelog minlevel="%s">
    <outputs formatid="common">
        <console />
    </outputs>
    <formats>
        <format id="common" format="%%Date(2006-01-02 15:04:05 MST) | %%LEVEL | %%Msg%%n" />
    </formats>
</seelog>`

// SetupLogger installs the process logger at the given level. Invalid levels
// fall back to "info".
func SetupLogger(lvl string) error {
	seelogLevel, ok := seelog.LogLevelFromString(strings.ToLower(lvl))
	if !ok {
		seelogLevel = seelog.InfoLvl
	}

	inner, err := seelog.LoggerFromConfigAsString(fmt.Sprintf(logConfigTemplate, seelogLevel.String()))
	if err != nil {
		return err
	}
	inner.SetAdditionalStackDepth(1) //nolint:errcheck

	mu.Lock()
	logger = inner
	level = seelogLevel
	mu.Unlock()

	flushBuffer()
	return nil
}

// ChangeLogLevel adjusts the minimum level of the installed logger.
func ChangeLogLevel(lvl string) error {
	seelogLevel, ok := seelog.LogLevelFromString(strings.ToLower(lvl))
	if !ok {
		return errors.New("bad log level")
	}

	mu.Lock()
	defer mu.Unlock()
	level = seelogLevel
	return nil
}

// Flush writes any buffered log output to the sink.
func Flush() {
	mu.RLock()
	defer mu.RUnlock()
	if logger != nil {
		logger.Flush()
	}
}

func flushBuffer() {
	bufferLock.Lock()
	defer bufferLock.Unlock()

	buffering = false
	for _, line := range buffered {
		line()
	}
	buffered = nil
}

func bufferOrLog(emit func()) {
	bufferLock.Lock()
	if buffering {
		buffered = append(buffered, emit)
		bufferLock.Unlock()
		return
	}
	bufferLock.Unlock()
	emit()
}

func shouldLog(lvl seelog.LogLevel) bool {
	mu.RLock()
	defer mu.RUnlock()
	return logger != nil && lvl >= level
}

// Debugf formats message according to format specifier and logs it with debug level.
func Debugf(format string, params ...interface{}) {
	bufferOrLog(func() {
		if shouldLog(seelog.DebugLvl) {
			logger.Debugf(format, params...)
		}
	})
}

// Debug logs at the debug level.
func Debug(v ...interface{}) {
	bufferOrLog(func() {
		if shouldLog(seelog.DebugLvl) {
			logger.Debug(v...)
		}
	})
}

// Infof formats message according to format specifier and logs it with info level.
func Infof(format string, params ...interface{}) {
	bufferOrLog(func() {
		if shouldLog(seelog.InfoLvl) {
			logger.Infof(format, params...)
		}
	})
}

// Info logs at the info level.
func Info(v ...interface{}) {
	bufferOrLog(func() {
		if shouldLog(seelog.InfoLvl) {
			logger.Info(v...)
		}
	})
}

// Warnf formats message according to format specifier, logs it with warn
// level and returns it as an error so call sites can both log and propagate.
func Warnf(format string, params ...interface{}) error {
	err := fmt.Errorf(format, params...)
	bufferOrLog(func() {
		if shouldLog(seelog.WarnLvl) {
			logger.Warn(err.Error()) //nolint:errcheck
		}
	})
	return err
}

// Warn logs at the warn level and returns the message as an error.
func Warn(v ...interface{}) error {
	err := errors.New(fmt.Sprint(v...))
	bufferOrLog(func() {
		if shouldLog(seelog.WarnLvl) {
			logger.Warn(err.Error()) //nolint:errcheck
		}
	})
	return err
}

// Errorf formats message according to format specifier, logs it with error
// level and returns it as an error.
func Errorf(format string, params ...interface{}) error {
	err := fmt.Errorf(format, params...)
	bufferOrLog(func() {
		if shouldLog(seelog.ErrorLvl) {
			logger.Error(err.Error()) //nolint:errcheck
		}
	})
	return err
}

// Error logs at the error level and returns the message as an error.
func Error(v ...interface{}) error {
	err := errors.New(fmt.Sprint(v...))
	bufferOrLog(func() {
		if shouldLog(seelog.ErrorLvl) {
			logger.Error(err.Error()) //nolint:errcheck
		}
	})
	return err
}
