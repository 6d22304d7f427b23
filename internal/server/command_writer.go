package server

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
)

// CommandWriter serializes commands onto a process input pipe.
// Each command is written whole and flushed before the next caller gets the lock.
type CommandWriter struct {
	mu     sync.Mutex
	dst    io.WriteCloser
	buf    *bufio.Writer
	closed bool
}

// NewCommandWriter wraps the write end of a process stdin pipe
func NewCommandWriter(dst io.WriteCloser) *CommandWriter {
	return &CommandWriter{
		dst: dst,
		buf: bufio.NewWriter(dst),
	}
}

// Write sends one newline-terminated command and flushes it. A single trailing
// newline is accepted; any other line break is rejected with ErrInvalidCommand.
func (cw *CommandWriter) Write(command string) error {
	command = strings.TrimSuffix(command, "\n")
	if strings.ContainsAny(command, "\r\n") {
		return fmt.Errorf("%w: command contains line breaks", ErrInvalidCommand)
	}
	command += "\n"

	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.closed {
		return ErrWriterClosed
	}
	if _, err := cw.buf.WriteString(command); err != nil {
		return err
	}
	return cw.buf.Flush()
}

// Close releases the pipe. Calling it more than once is safe.
func (cw *CommandWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.closed {
		return nil
	}
	cw.closed = true
	return cw.dst.Close()
}
