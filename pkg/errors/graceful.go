// Package errors reports fatal startup and runtime failures of the mailfeed
// daemon and turns them into a process exit code.
package errors

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/migadu/mailfeed/logger"
)

const (
	ExitOK     = 0
	ExitFatal  = 1
	ExitConfig = 2
)

// StageError is a failure of a named startup or runtime stage such as
// "connect storage" or "lmtp server".
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func NewStageError(stage string, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}

// ErrorHandler records the first fatal failure. Later failures are logged
// but do not change the exit code.
type ErrorHandler struct {
	exitChannel chan int
}

func NewErrorHandler() *ErrorHandler {
	return &ErrorHandler{exitChannel: make(chan int, 1)}
}

func (eh *ErrorHandler) signal(code int) {
	select {
	case eh.exitChannel <- code:
	default:
	}
}

func (eh *ErrorHandler) FatalError(stage string, err error) {
	logger.Error("MAILFEED: Fatal error", "error", NewStageError(stage, err))
	eh.signal(ExitFatal)
}

func (eh *ErrorHandler) ConfigError(configPath string, err error) {
	if os.IsNotExist(err) {
		logger.Error("MAILFEED: Configuration file not found", "path", configPath, "error", err)
	} else {
		logger.Error("MAILFEED: Failed to parse configuration file", "path", configPath, "error", err)
	}
	eh.signal(ExitConfig)
}

func (eh *ErrorHandler) ValidationError(err error) {
	logger.Error("MAILFEED: Invalid configuration", "error", err)
	eh.signal(ExitConfig)
}

func (eh *ErrorHandler) WaitForExit() int {
	return <-eh.exitChannel
}

// WaitForExitWithTimeout returns the recorded exit code, or false when none
// is recorded within timeout.
func (eh *ErrorHandler) WaitForExitWithTimeout(timeout time.Duration) (int, bool) {
	select {
	case code := <-eh.exitChannel:
		return code, true
	case <-time.After(timeout):
		return ExitOK, false
	}
}

// Shutdown logs why the process is stopping.
func (eh *ErrorHandler) Shutdown(ctx context.Context) {
	if ctx.Err() != nil {
		logger.Info("MAILFEED: Graceful shutdown initiated")
		return
	}
	logger.Warn("MAILFEED: Unexpected shutdown")
}
