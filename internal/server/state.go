package server

// State is the lifecycle state of the supervised server process
type State int32

const (
	// StateStopped means no process is owned by the supervisor
	StateStopped State = iota
	// StateStarting means the process is being spawned and its pipes wired
	StateStarting
	// StateRunning means the process is alive and accepting commands
	StateRunning
	// StateStopping means an operator requested shutdown and the supervisor is waiting for exit
	StateStopping
)

// String returns the lowercase name used in logs and API payloads
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Active reports whether a process instance is owned in this state
func (s State) Active() bool {
	return s != StateStopped
}

// AcceptsCommands reports whether SendCommand may write in this state
func (s State) AcceptsCommands() bool {
	return s == StateStarting || s == StateRunning
}
