// Package session supervises one plot: it dispatches parsed commands to the
// plotter one at a time and applies pause, resume and stop requests between
// commands.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"eggplot/plotter"
	"eggplot/plotter/gcode"
	"eggplot/plotter/machine"
	"eggplot/plotter/metrics"
)

// Options configures a session
type Options struct {
	// Estimate is the dry-run result progress is compared against
	Estimate *metrics.Estimate

	Logger   *slog.Logger
	Observer Observer
}

// Session coordinates the interpreter, plotter and supervisor requests
type Session struct {
	id          string
	commands    []plotter.ToolCommand
	plotter     *machine.Plotter
	interpreter *gcode.Interpreter
	estimate    metrics.Estimate
	logger      *slog.Logger
	observer    Observer

	// Device ownership: held by the dispatcher for a whole command and by
	// the supervisor for pen toggles while paused
	owner sync.Mutex

	mu             sync.Mutex
	state          State
	cursor         int
	pausedPosition plotter.Position
	penWasDown     bool
	position       plotter.Position
	penDown        bool
	startTime      time.Time
	startDistance  float64
	err            error

	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an idle session for cmds
func New(cmds []plotter.ToolCommand, p *machine.Plotter, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	observer := opts.Observer
	if observer == nil {
		observer = ObserverFunc(func(Event) {})
	}

	s := &Session{
		id:          uuid.NewString(),
		commands:    cmds,
		plotter:     p,
		interpreter: gcode.NewInterpreter(p),
		observer:    observer,
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	if opts.Estimate != nil {
		s.estimate = *opts.Estimate
	}
	s.logger = logger.With("session", s.id)
	return s
}

// ID returns the unique session identifier
func (s *Session) ID() string {
	return s.id
}

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Cursor returns the index of the next command to dispatch
func (s *Session) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// PausedPosition returns the tracked position captured at the last pause
func (s *Session) PausedPosition() plotter.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pausedPosition
}

// Err returns the error that failed the session, if any
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Start begins dispatching commands in a new goroutine
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Idle {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	if len(s.commands) == 0 {
		s.mu.Unlock()
		return ErrNoCommands
	}
	if !s.plotter.Ready() {
		s.mu.Unlock()
		return ErrDeviceNotReady
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.cursor = 0
	s.startTime = time.Now()
	s.startDistance = s.plotter.Distance()
	s.state = Running
	s.mu.Unlock()

	s.logger.Info("session started", "commands", len(s.commands))
	s.emit(StateChanged, 0)

	go s.run(ctx)
	return nil
}

// RequestPause asks the dispatcher to pause after the current command
func (s *Session) RequestPause() error {
	if err := s.transition(PauseRequested, Running); err != nil {
		return err
	}
	s.signal()
	return nil
}

// RequestResume asks a paused dispatcher to continue
func (s *Session) RequestResume() error {
	if err := s.transition(ResumeRequested, Paused); err != nil {
		return err
	}
	s.signal()
	return nil
}

// RequestStop halts the device immediately and ends the session. The halt
// is sent from the caller's goroutine without waiting for the dispatcher.
// The pen is left where it is.
func (s *Session) RequestStop() error {
	if err := s.transition(Stopping, Running, PauseRequested, Paused, ResumeRequested); err != nil {
		return err
	}
	return s.halt()
}

// TogglePen flips the pen while the session is paused. The state is checked
// with the device held so a toggle never runs after a resume request.
func (s *Session) TogglePen(ctx context.Context) error {
	s.owner.Lock()
	if st := s.State(); st != Paused {
		s.owner.Unlock()
		return fmt.Errorf("%w: pen toggle while %s", ErrInvalidState, st)
	}

	err := s.plotter.TogglePen(ctx)
	down := s.plotter.PenIsDown()
	s.snapshot()
	s.owner.Unlock()
	if err != nil {
		return err
	}

	s.logger.Info("pen toggled", "down", down)
	s.emit(StateChanged, 0)
	return nil
}

// Wait blocks until the session reaches a terminal state. A stopped session
// returns a nil error.
func (s *Session) Wait() (State, error) {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.err
}

// Done is closed once the session has ended
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Progress returns the current progress
func (s *Session) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progressLocked()
}

func (s *Session) progressLocked() Progress {
	p := Progress{
		Executed:          s.cursor,
		Total:             len(s.commands),
		EstimatedTime:     s.estimate.Time,
		EstimatedDistance: s.estimate.Distance,
		ActualDistance:    s.plotter.Distance() - s.startDistance,
	}
	if !s.startTime.IsZero() {
		p.ActualTime = time.Since(s.startTime)
	}
	return p
}

// run is the dispatch loop
func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer s.cancel()

	for {
		if !s.checkpoint(ctx) {
			return
		}

		cmd := &s.commands[s.Cursor()]
		s.owner.Lock()
		err := s.interpreter.Execute(ctx, cmd)
		s.snapshot()
		s.owner.Unlock()

		if err != nil {
			s.abort(ctx, fmt.Errorf("line %d: %w", cmd.Line, err))
			return
		}

		s.mu.Lock()
		s.cursor++
		s.mu.Unlock()
		s.emit(CommandExecuted, cmd.Line)
	}
}

// checkpoint applies pending requests at a command boundary. It returns
// false once the session has ended.
func (s *Session) checkpoint(ctx context.Context) bool {
	for {
		s.mu.Lock()
		state := s.state
		finished := s.cursor >= len(s.commands)
		s.mu.Unlock()

		switch state {
		case Stopping:
			s.finish(Stopping, nil)
			return false

		case PauseRequested:
			if err := s.pause(ctx); err != nil {
				s.abort(ctx, err)
				return false
			}

		case Paused:
			select {
			case <-s.wake:
			case <-ctx.Done():
				s.abort(ctx, ctx.Err())
				return false
			}

		case ResumeRequested:
			if err := s.resume(ctx); err != nil {
				s.abort(ctx, err)
				return false
			}

		case Running:
			if finished {
				s.finish(Completed, nil)
				return false
			}
			return true

		default:
			return false
		}
	}
}

// pause raises the pen and snapshots the position
func (s *Session) pause(ctx context.Context) error {
	s.owner.Lock()
	penWasDown := s.plotter.PenIsDown()
	err := s.plotter.PenUp(ctx)
	pos := s.plotter.GetCurrentPosition()
	s.snapshot()
	s.owner.Unlock()
	if err != nil {
		return fmt.Errorf("pause: %w", err)
	}

	s.mu.Lock()
	s.penWasDown = penWasDown
	s.pausedPosition = pos
	if s.state == PauseRequested {
		s.state = Paused
	}
	s.mu.Unlock()

	s.logger.Info("paused", "cursor", s.Cursor(), "x", pos.X, "y", pos.Y)
	s.emit(StateChanged, 0)
	return nil
}

// resume restores the pen state from before the pause
func (s *Session) resume(ctx context.Context) error {
	s.mu.Lock()
	down := s.penWasDown
	s.mu.Unlock()

	s.owner.Lock()
	var err error
	if down {
		err = s.plotter.PenDown(ctx)
	} else {
		err = s.plotter.PenUp(ctx)
	}
	s.snapshot()
	s.owner.Unlock()
	if err != nil {
		return fmt.Errorf("resume: %w", err)
	}

	s.mu.Lock()
	if s.state == ResumeRequested {
		s.state = Running
	}
	s.mu.Unlock()

	s.logger.Info("resumed", "cursor", s.Cursor())
	s.emit(StateChanged, 0)
	return nil
}

// abort ends the dispatch loop after an error. Errors caused by a stop
// request are not failures; a cancelled parent context counts as a stop.
func (s *Session) abort(ctx context.Context, err error) {
	if s.State() == Stopping {
		s.finish(Stopping, nil)
		return
	}
	if ctx.Err() != nil {
		if s.transition(Stopping, Running, PauseRequested, Paused, ResumeRequested) == nil {
			if herr := s.halt(); herr != nil {
				s.logger.Warn("halt failed", "error", herr)
			}
		}
		s.finish(Stopping, nil)
		return
	}
	s.finish(Failed, err)
}

// halt sends the emergency stop and wakes the dispatcher
func (s *Session) halt() error {
	s.logger.Info("stopping", "cursor", s.Cursor())
	err := s.plotter.Halt()

	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.signal()

	if err != nil {
		return fmt.Errorf("halt: %w", err)
	}
	return nil
}

// finish records the terminal state
func (s *Session) finish(state State, err error) {
	s.mu.Lock()
	if s.state == Stopping {
		state, err = Stopping, nil
	}
	s.state = state
	s.err = err
	s.mu.Unlock()

	switch state {
	case Failed:
		s.logger.Error("session failed", "error", err)
	default:
		s.logger.Info("session ended", "state", state.String())
	}
	s.emit(StateChanged, 0)
}

// transition moves to next if the current state is one of from
func (s *Session) transition(next State, from ...State) error {
	s.mu.Lock()
	current := s.state
	for _, f := range from {
		if current == f {
			s.state = next
			s.mu.Unlock()
			if next != Stopping {
				s.emit(StateChanged, 0)
			}
			return nil
		}
	}
	s.mu.Unlock()
	return fmt.Errorf("%w: %s while %s", ErrInvalidState, next, current)
}

// snapshot copies the tool state for events; callers hold owner
func (s *Session) snapshot() {
	pos := s.plotter.GetCurrentPosition()
	down := s.plotter.PenIsDown()

	s.mu.Lock()
	s.position = pos
	s.penDown = down
	s.mu.Unlock()
}

func (s *Session) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) emit(typ EventType, line int) {
	s.mu.Lock()
	e := Event{
		Session:  s.id,
		Type:     typ,
		State:    s.state,
		Line:     line,
		Position: s.position,
		PenDown:  s.penDown,
		Progress: s.progressLocked(),
		Time:     time.Now(),
	}
	if s.err != nil {
		e.Error = s.err.Error()
	}
	s.mu.Unlock()

	s.observer.Notify(e)
}
