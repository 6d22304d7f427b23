package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ZakirC4/papermc-setup/internal/console"
	"github.com/ZakirC4/papermc-setup/internal/server"
)

type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("server exited with code %d", e.code)
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}

// runConsole starts the server, copies its output to out and sends lines read
// from in as commands until the server exits. "exit" and "quit" stop it
// gracefully, as does cancelling ctx.
func runConsole(ctx context.Context, lm *server.LifecycleManager, in io.Reader, out io.Writer) (server.ExitInfo, error) {
	out = &lockedWriter{w: out}

	// Subscribe before starting so no startup output is lost
	sub := lm.Supervisor().Subscribe()
	defer sub.Close()

	exited := make(chan server.ExitInfo, 1)
	go func() {
		for ev := range sub.Events() {
			switch ev.Kind {
			case server.EventLine:
				fmt.Fprintln(out, ev.Line)
			case server.EventExit:
				if ev.Exit != nil {
					exited <- *ev.Exit
				} else {
					exited <- server.ExitInfo{InstanceID: ev.InstanceID, ExitCode: -1}
				}
				return
			}
		}
	}()

	handle, err := lm.StartServer(ctx)
	switch {
	case err == nil:
	case handle == nil:
		return server.ExitInfo{}, err
	case errors.Is(err, server.ErrServerExitedDuringStartup):
		return <-exited, err
	case ctx.Err() == nil:
		lm.StopServer(context.Background(), false)
		return server.ExitInfo{}, err
	}
	// A cancel during startup falls through and is handled as a stop below

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-handle.Done():
				return
			}
		}
	}()

	stopping := false
	stop := func() error {
		if stopping {
			return nil
		}
		stopping = true
		_, err := lm.StopServer(context.Background(), true)
		return err
	}

	for {
		select {
		case exit := <-exited:
			return exit, nil
		case <-ctx.Done():
			fmt.Fprintln(out, "Stopping server...")
			if err := stop(); err != nil {
				return server.ExitInfo{}, err
			}
			return <-exited, nil
		case line, ok := <-lines:
			if !ok {
				// stdin closed; keep mirroring output until the server exits
				lines = nil
				continue
			}
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "":
				continue
			case "exit", "quit":
				fmt.Fprintln(out, "Stopping server...")
				if err := stop(); err != nil {
					return server.ExitInfo{}, err
				}
				return <-exited, nil
			}
			command, err := console.SanitizeCommand(line)
			if err == nil {
				err = lm.SendCommand(command)
			}
			if err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
			}
		}
	}
}
