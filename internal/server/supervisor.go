package server

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ZakirC4/papermc-setup/internal/logging"
	"github.com/google/uuid"
)

const (
	// DefaultStopCommand is written to the console when a graceful stop begins
	DefaultStopCommand = "stop"
	defaultKillGrace   = 5 * time.Second
)

// ExitInfo describes how a supervised instance ended
type ExitInfo struct {
	InstanceID string    `json:"instance_id,omitempty"`
	ExitCode   int       `json:"exit_code"`
	Signaled   bool      `json:"signaled"`
	Forced     bool      `json:"forced"`
	Err        string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	ExitedAt   time.Time `json:"exited_at,omitempty"`
	WasRunning bool      `json:"was_running"`
}

// Handle identifies one started instance. It never exposes the OS process.
type Handle struct {
	ID          string
	PID         int
	WorkingDir  string
	CommandLine []string
	StartedAt   time.Time

	inst *instance
}

// Done is closed once the instance has reached StateStopped
func (h *Handle) Done() <-chan struct{} {
	return h.inst.done
}

// Exit returns the exit information once the instance has stopped
func (h *Handle) Exit() (ExitInfo, bool) {
	select {
	case <-h.inst.done:
		return h.inst.exit, true
	default:
		return ExitInfo{}, false
	}
}

type instance struct {
	id          string
	workingDir  string
	commandLine []string
	cmd         *exec.Cmd
	writer      *CommandWriter
	output      *os.File
	startedAt   time.Time

	pumpDone chan struct{}
	done     chan struct{}
	exit     ExitInfo

	forced       atomic.Bool
	outputClosed atomic.Bool
	killOnce     sync.Once
	killErr      error
	closeOnce    sync.Once

	mu      sync.Mutex
	pumpErr error
}

func (inst *instance) closeOutput() error {
	var err error
	inst.closeOnce.Do(func() {
		inst.outputClosed.Store(true)
		err = inst.output.Close()
	})
	return err
}

// Supervisor owns a single server process slot. It spawns the process, pumps its
// console output to subscribers and serializes commands onto its stdin.
type Supervisor struct {
	mu       sync.Mutex
	state    atomic.Int32
	current  *instance
	lastExit *ExitInfo
	bus      *eventBus

	stopCommand string
	killGrace   time.Duration
	env         []string
	logger      *slog.Logger
}

// Option configures a Supervisor
type Option func(*Supervisor)

// WithStopCommand overrides the console command sent on a graceful stop.
// An empty command makes Stop wait for the timeout and then kill.
func WithStopCommand(command string) Option {
	return func(s *Supervisor) {
		s.stopCommand = command
	}
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEnv appends variables to the inherited environment of spawned processes
func WithEnv(env []string) Option {
	return func(s *Supervisor) {
		s.env = append([]string(nil), env...)
	}
}

// WithKillGrace bounds how long teardown waits on a killed process or a lingering output pipe
func WithKillGrace(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.killGrace = d
		}
	}
}

// NewSupervisor creates a supervisor in StateStopped
func NewSupervisor(opts ...Option) *Supervisor {
	s := &Supervisor{
		bus:         newEventBus(),
		stopCommand: DefaultStopCommand,
		killGrace:   defaultKillGrace,
		logger:      logging.L(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CurrentState returns a snapshot of the state without blocking
func (s *Supervisor) CurrentState() State {
	return State(s.state.Load())
}

// Subscribe returns a subscription to every event published from now on
func (s *Supervisor) Subscribe() *Subscription {
	return s.bus.subscribe()
}

// LastExit returns the exit information of the most recent instance
func (s *Supervisor) LastExit() (ExitInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastExit == nil {
		return ExitInfo{}, false
	}
	return *s.lastExit, true
}

// PID returns the process ID of the active instance, or 0
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.current.cmd.Process == nil {
		return 0
	}
	return s.current.cmd.Process.Pid
}

// InstanceID returns the ID of the active instance, or ""
func (s *Supervisor) InstanceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.id
}

// StartedAt returns the start time of the active instance
func (s *Supervisor) StartedAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return time.Time{}, false
	}
	return s.current.startedAt, true
}

func (s *Supervisor) setStateLocked(inst *instance, state State) {
	s.state.Store(int32(state))
	id := ""
	if inst != nil {
		id = inst.id
	}
	s.bus.publish(Event{Kind: EventState, InstanceID: id, State: state})
}

// Start spawns commandLine in workingDir. It returns once the process exists and
// its pipes are wired, not when it finishes.
func (s *Supervisor) Start(workingDir string, commandLine []string) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.CurrentState() != StateStopped {
		return nil, ErrAlreadyRunning
	}
	if len(commandLine) == 0 || commandLine[0] == "" {
		return nil, &SpawnError{Cause: errors.New("command line is empty")}
	}
	if info, err := os.Stat(workingDir); err != nil {
		return nil, &SpawnError{Cause: fmt.Errorf("working directory: %w", err)}
	} else if !info.IsDir() {
		return nil, &SpawnError{Cause: fmt.Errorf("working directory %s is not a directory", workingDir)}
	}

	inst := &instance{
		id:          uuid.New().String(),
		workingDir:  workingDir,
		commandLine: append([]string(nil), commandLine...),
		pumpDone:    make(chan struct{}),
		done:        make(chan struct{}),
	}
	s.setStateLocked(inst, StateStarting)

	if err := s.spawn(inst); err != nil {
		s.setStateLocked(inst, StateStopped)
		s.logger.Error("server_spawn_failed",
			"dir", workingDir,
			"command", commandLine,
			"error", err,
		)
		return nil, &SpawnError{Cause: err}
	}

	s.current = inst
	s.setStateLocked(inst, StateRunning)
	s.logger.Info("server_started",
		"instance", inst.id,
		"pid", inst.cmd.Process.Pid,
		"dir", workingDir,
		"command", commandLine,
	)

	go s.pump(inst)
	go s.wait(inst)

	return &Handle{
		ID:          inst.id,
		PID:         inst.cmd.Process.Pid,
		WorkingDir:  inst.workingDir,
		CommandLine: append([]string(nil), inst.commandLine...),
		StartedAt:   inst.startedAt,
		inst:        inst,
	}, nil
}

func (s *Supervisor) spawn(inst *instance) error {
	cmd := exec.Command(inst.commandLine[0], inst.commandLine[1:]...)
	cmd.Dir = inst.workingDir
	if len(s.env) > 0 {
		cmd.Env = append(os.Environ(), s.env...)
	}
	setProcAttributes(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}

	// stdout and stderr share one pipe so their lines keep the order the server wrote them
	outR, outW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("output pipe: %w", err)
	}
	cmd.Stdout = outW
	cmd.Stderr = outW

	err = cmd.Start()
	outW.Close()
	if err != nil {
		outR.Close()
		stdin.Close()
		return err
	}

	inst.cmd = cmd
	inst.output = outR
	inst.writer = NewCommandWriter(stdin)
	inst.startedAt = time.Now()
	return nil
}

// pump forwards every output line of inst to subscribers until the pipe closes
func (s *Supervisor) pump(inst *instance) {
	defer close(inst.pumpDone)

	err := NewLineReader(inst.output).Run(func(line string) {
		s.bus.publish(Event{Kind: EventLine, InstanceID: inst.id, Line: line})
	})
	if err == nil || inst.outputClosed.Load() {
		return
	}

	// A broken output stream is handled like the process exiting
	s.logger.Warn("server_output_failed", "instance", inst.id, "error", err)
	inst.mu.Lock()
	inst.pumpErr = err
	inst.mu.Unlock()
	s.terminate(inst)
}

// wait reaps the process, drains output and moves the supervisor to StateStopped
func (s *Supervisor) wait(inst *instance) {
	waitErr := inst.cmd.Wait()

	select {
	case <-inst.pumpDone:
	case <-time.After(s.killGrace):
		// A detached child still holds the write end; stop reading
		s.logger.Warn("server_output_lingering", "instance", inst.id)
		if err := killProcess(inst.cmd); err != nil {
			s.logger.Warn("server_kill_failed", "instance", inst.id, "error", err)
		}
		inst.closeOutput()
		<-inst.pumpDone
	}

	if err := inst.closeOutput(); err != nil {
		s.logger.Debug("server_output_close_failed", "instance", inst.id, "error", err)
	}
	if err := inst.writer.Close(); err != nil {
		s.logger.Debug("server_input_close_failed", "instance", inst.id, "error", err)
	}

	exit := s.buildExitInfo(inst, waitErr)

	s.mu.Lock()
	inst.exit = exit
	s.current = nil
	s.lastExit = &exit
	close(inst.done)
	s.setStateLocked(inst, StateStopped)
	s.bus.publish(Event{Kind: EventExit, InstanceID: inst.id, Exit: &exit})
	s.mu.Unlock()

	s.logger.Info("server_stopped",
		"instance", inst.id,
		"exit_code", exit.ExitCode,
		"signaled", exit.Signaled,
		"forced", exit.Forced,
	)
}

func (s *Supervisor) buildExitInfo(inst *instance, waitErr error) ExitInfo {
	exit := ExitInfo{
		InstanceID: inst.id,
		ExitCode:   -1,
		Forced:     inst.forced.Load(),
		StartedAt:  inst.startedAt,
		ExitedAt:   time.Now(),
		WasRunning: true,
	}

	if state := inst.cmd.ProcessState; state != nil {
		exit.ExitCode = state.ExitCode()
		exit.Signaled = exitSignaled(state)
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		exit.Err = waitErr.Error()
	}

	inst.mu.Lock()
	if inst.pumpErr != nil {
		if exit.Err != "" {
			exit.Err += "; "
		}
		exit.Err += inst.pumpErr.Error()
	}
	inst.mu.Unlock()

	return exit
}

// terminate kills inst once and reports whether the kill was delivered.
// The waiter performs the rest of the teardown.
func (s *Supervisor) terminate(inst *instance) error {
	inst.killOnce.Do(func() {
		inst.killErr = killProcess(inst.cmd)
		if inst.killErr != nil {
			s.logger.Warn("server_kill_failed", "instance", inst.id, "error", inst.killErr)
		}
	})
	return inst.killErr
}

// SendCommand writes one console command to the running process
func (s *Supervisor) SendCommand(text string) error {
	s.mu.Lock()
	inst := s.current
	state := s.CurrentState()
	s.mu.Unlock()

	if inst == nil || !state.AcceptsCommands() {
		return ErrNotRunning
	}

	if err := inst.writer.Write(text); err != nil {
		if errors.Is(err, ErrInvalidCommand) {
			return err
		}
		s.logger.Warn("server_command_failed", "instance", inst.id, "error", err)
		// The process is gone or its stdin is unusable; finish the teardown
		// before reporting so callers observe StateStopped
		if killErr := s.terminate(inst); killErr == nil {
			<-inst.done
		}
		return &BrokenPipeError{Cause: err}
	}
	return nil
}

// Stop sends the stop command, waits up to timeout for the process to exit and
// kills it afterwards. Stopping an idle supervisor returns the last exit info
// with WasRunning cleared.
func (s *Supervisor) Stop(timeout time.Duration) (ExitInfo, error) {
	s.mu.Lock()
	inst := s.current
	if inst == nil {
		exit := ExitInfo{}
		if s.lastExit != nil {
			exit = *s.lastExit
			exit.WasRunning = false
		}
		s.mu.Unlock()
		return exit, nil
	}

	initiated := false
	if s.CurrentState() == StateRunning {
		s.setStateLocked(inst, StateStopping)
		initiated = true
	}
	s.mu.Unlock()

	if !initiated {
		// Another Stop owns the shutdown; share its outcome
		<-inst.done
		return inst.exit, nil
	}

	s.logger.Info("server_stopping", "instance", inst.id, "timeout", timeout.String())
	if s.stopCommand != "" {
		if err := inst.writer.Write(s.stopCommand); err != nil {
			s.logger.Debug("server_stop_command_failed", "instance", inst.id, "error", err)
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-inst.done:
		return inst.exit, nil
	case <-timer.C:
	}

	s.logger.Warn("server_stop_timeout", "instance", inst.id, "timeout", timeout.String())
	inst.forced.Store(true)
	if err := s.terminate(inst); err != nil {
		return ExitInfo{}, fmt.Errorf("failed to kill server process %d: %w", inst.cmd.Process.Pid, err)
	}

	// wait bounds the output drain with its own kill grace, so done always closes
	<-inst.done
	return inst.exit, nil
}

// SendAndAwaitAck sends text and waits until an output line satisfies predicate
func (s *Supervisor) SendAndAwaitAck(text string, predicate func(line string) bool, timeout time.Duration) error {
	// Subscribe first so the acknowledgement cannot slip past
	sub := s.Subscribe()
	defer sub.Close()

	if err := s.SendCommand(text); err != nil {
		return err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return ErrProcessExited
			}
			switch ev.Kind {
			case EventLine:
				if predicate(ev.Line) {
					return nil
				}
			case EventExit:
				return ErrProcessExited
			}
		case <-timer.C:
			return fmt.Errorf("%w: %q after %s", ErrAckTimeout, text, timeout)
		}
	}
}
