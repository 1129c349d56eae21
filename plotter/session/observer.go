package session

import (
	"time"

	"eggplot/plotter"
)

// EventType distinguishes session notifications
type EventType string

const (
	// StateChanged is sent on every state transition
	StateChanged EventType = "state"

	// CommandExecuted is sent after each command completes
	CommandExecuted EventType = "progress"
)

// Progress compares the run so far against the estimate
type Progress struct {
	Executed          int           `json:"executed"`
	Total             int           `json:"total"`
	EstimatedTime     time.Duration `json:"estimated_time"`
	ActualTime        time.Duration `json:"actual_time"`
	EstimatedDistance float64       `json:"estimated_distance"`
	ActualDistance    float64       `json:"actual_distance"`
}

// Percent returns the executed fraction of commands (0-100)
func (p Progress) Percent() float64 {
	if p.Total == 0 {
		return 0
	}
	return 100 * float64(p.Executed) / float64(p.Total)
}

// Event is one notification from a running session
type Event struct {
	Session  string           `json:"session"`
	Type     EventType        `json:"type"`
	State    State            `json:"state"`
	Line     int              `json:"line,omitempty"`
	Position plotter.Position `json:"position"`
	PenDown  bool             `json:"pen_down"`
	Progress Progress         `json:"progress"`
	Error    string           `json:"error,omitempty"`
	Time     time.Time        `json:"time"`
}

// Observer receives session events. Notify is called from the session's
// goroutines and must not block for long.
type Observer interface {
	Notify(Event)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Event)

func (f ObserverFunc) Notify(e Event) {
	f(e)
}

// Observers fans events out to several observers
type Observers []Observer

func (o Observers) Notify(e Event) {
	for _, obs := range o {
		if obs != nil {
			obs.Notify(e)
		}
	}
}
