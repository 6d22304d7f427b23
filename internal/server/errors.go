package server

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning is returned by Start when a process is already owned
	ErrAlreadyRunning = errors.New("server is already running")
	// ErrNotRunning is returned when a command is sent with no active process
	ErrNotRunning = errors.New("server is not running")
	// ErrSpawnFailed matches every *SpawnError
	ErrSpawnFailed = errors.New("failed to spawn server process")
	// ErrBrokenPipe matches every *BrokenPipeError
	ErrBrokenPipe = errors.New("server input pipe is broken")
	// ErrIOFailure is reported by the line reader when the output pipe fails
	ErrIOFailure = errors.New("server output stream failed")
	// ErrAckTimeout is returned by SendAndAwaitAck when no line matched in time
	ErrAckTimeout = errors.New("timed out waiting for acknowledgement")
	// ErrProcessExited is returned by SendAndAwaitAck when the process stops before acknowledging
	ErrProcessExited = errors.New("server process exited")
	// ErrWriterClosed is returned by a CommandWriter after Close
	ErrWriterClosed = errors.New("command writer is closed")
	// ErrInvalidCommand is returned for a command that would not arrive as one console line
	ErrInvalidCommand = errors.New("invalid command")
)

// SpawnError wraps the OS failure that prevented the process from starting
type SpawnError struct {
	Cause error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("%s: %v", ErrSpawnFailed.Error(), e.Cause)
}

func (e *SpawnError) Unwrap() error {
	return e.Cause
}

func (e *SpawnError) Is(target error) bool {
	return target == ErrSpawnFailed
}

// BrokenPipeError wraps a failed write to the process input
type BrokenPipeError struct {
	Cause error
}

func (e *BrokenPipeError) Error() string {
	return fmt.Sprintf("%s: %v", ErrBrokenPipe.Error(), e.Cause)
}

func (e *BrokenPipeError) Unwrap() error {
	return e.Cause
}

func (e *BrokenPipeError) Is(target error) bool {
	return target == ErrBrokenPipe
}
