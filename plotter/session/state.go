package session

import "errors"

// State is the lifecycle state of a plot session
type State int

const (
	Idle State = iota
	Running
	PauseRequested
	Paused
	ResumeRequested
	Completed
	Stopping
	Failed
)

var stateNames = map[State]string{
	Idle:            "idle",
	Running:         "running",
	PauseRequested:  "pause-requested",
	Paused:          "paused",
	ResumeRequested: "resume-requested",
	Completed:       "completed",
	Stopping:        "stopping",
	Failed:          "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText encodes the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transitions are possible
func (s State) Terminal() bool {
	return s == Completed || s == Stopping || s == Failed
}

// Active reports whether the session has started and not yet ended
func (s State) Active() bool {
	return s != Idle && !s.Terminal()
}

var (
	ErrNoCommands     = errors.New("no commands to plot")
	ErrDeviceNotReady = errors.New("device not ready")
	ErrAlreadyStarted = errors.New("session already started")
	ErrInvalidState   = errors.New("invalid state for request")
)
