package session

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"eggplot/plotter"
	"eggplot/plotter/config"
	"eggplot/plotter/gcode"
	"eggplot/plotter/machine"
	"eggplot/plotter/metrics"
	"eggplot/plotter/plottertest"
)

const threeMoves = `G1 X10 Y0
G1 X20 Y0
G1 X30 Y0
`

// recorder collects events and lets tests wait for a state
type recorder struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan Event, 256)}
}

func (r *recorder) Notify(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	r.ch <- e
}

func (r *recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recorder) waitFor(t *testing.T, state State) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-r.ch:
			if e.Type == StateChanged && e.State == state {
				return e
			}
		case <-timeout:
			t.Fatalf("Timed out waiting for state %s", state)
		}
	}
}

func noWait(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

func newSession(t *testing.T, program string, dev *plottertest.Device) (*Session, *recorder) {
	t.Helper()

	prog, err := gcode.ParseString(program)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	cfg := config.Default()
	est, err := metrics.Run(prog.Commands, cfg)
	if err != nil {
		t.Fatalf("Estimate failed: %v", err)
	}

	p := machine.New(dev, cfg, nil)
	p.SetWaiter(noWait)

	rec := newRecorder()
	return New(prog.Commands, p, Options{Estimate: est, Observer: rec}), rec
}

func TestSessionCompletes(t *testing.T) {
	dev := plottertest.NewDevice()
	s, rec := newSession(t, "G1 X10 Y0\nG1 X10 Y10\nM5\nM2\n", dev)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	state, err := s.Wait()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if state != Completed {
		t.Errorf("Expected completed, got %s", state)
	}

	want := []string{"SM,1000,1000,1000", "SM,1000,-1000,1000"}
	if got := dev.Strings(); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}

	progress := s.Progress()
	if progress.Executed != 4 || progress.Total != 4 {
		t.Errorf("Expected 4/4 executed, got %d/%d", progress.Executed, progress.Total)
	}
	if progress.ActualDistance != 20 || progress.EstimatedDistance != 20 {
		t.Errorf("Expected 20 mm actual and estimated, got %v and %v",
			progress.ActualDistance, progress.EstimatedDistance)
	}
	if progress.Percent() != 100 {
		t.Errorf("Expected 100%%, got %v", progress.Percent())
	}

	executed := 0
	for _, e := range rec.Events() {
		if e.Session != s.ID() {
			t.Errorf("Expected session %s, got %s", s.ID(), e.Session)
		}
		if e.Type == CommandExecuted {
			executed++
		}
	}
	if executed != 4 {
		t.Errorf("Expected 4 progress events, got %d", executed)
	}
}

func TestPauseResumesAtNextCommand(t *testing.T) {
	dev := plottertest.NewDevice()
	s, rec := newSession(t, threeMoves, dev)

	dev.OnMove = func(n int, cmd plotter.MotorCommand) {
		if n == 2 {
			if err := s.RequestPause(); err != nil {
				t.Errorf("RequestPause failed: %v", err)
			}
		}
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	paused := rec.waitFor(t, Paused)
	if paused.Progress.Executed != 2 {
		t.Errorf("Expected pause after 2 commands, got %d", paused.Progress.Executed)
	}
	if got := dev.Count("move"); got != 2 {
		t.Errorf("Expected 2 moves while paused, got %d", got)
	}
	if pos := s.PausedPosition(); pos.X != 20 || pos.Y != 0 {
		t.Errorf("Expected paused position (20,0), got (%v,%v)", pos.X, pos.Y)
	}

	if err := s.RequestResume(); err != nil {
		t.Fatalf("RequestResume failed: %v", err)
	}
	state, err := s.Wait()
	if err != nil || state != Completed {
		t.Fatalf("Expected completed without error, got %s, %v", state, err)
	}

	if got := dev.Count("move"); got != 3 {
		t.Errorf("Expected exactly 3 moves, got %d", got)
	}
}

func TestPauseRestoresPen(t *testing.T) {
	dev := plottertest.NewDevice()
	s, rec := newSession(t, "M3\n"+threeMoves, dev)

	dev.OnMove = func(n int, cmd plotter.MotorCommand) {
		if n == 1 {
			s.RequestPause()
		}
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	paused := rec.waitFor(t, Paused)
	if paused.PenDown {
		t.Error("Expected pen up while paused")
	}

	s.RequestResume()
	if _, err := s.Wait(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	want := []string{
		"SP,0",
		"SM,1000,1000,1000",
		"SP,1",
		"SP,0",
		"SM,1000,1000,1000",
		"SM,1000,1000,1000",
	}
	if got := dev.Strings(); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestTogglePenWhilePaused(t *testing.T) {
	dev := plottertest.NewDevice()
	s, rec := newSession(t, threeMoves, dev)

	if err := s.TogglePen(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState before start, got %v", err)
	}

	dev.OnMove = func(n int, cmd plotter.MotorCommand) {
		if n == 1 {
			s.RequestPause()
		}
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	rec.waitFor(t, Paused)

	if err := s.TogglePen(context.Background()); err != nil {
		t.Fatalf("TogglePen failed: %v", err)
	}
	if err := s.TogglePen(context.Background()); err != nil {
		t.Fatalf("TogglePen failed: %v", err)
	}
	if got := dev.Count("pen"); got != 2 {
		t.Errorf("Expected 2 pen commands, got %d", got)
	}

	s.RequestResume()
	if state, err := s.Wait(); err != nil || state != Completed {
		t.Errorf("Expected completed, got %s, %v", state, err)
	}
}

func TestTogglePenAfterResumeRequest(t *testing.T) {
	dev := plottertest.NewDevice()
	s, rec := newSession(t, threeMoves, dev)

	dev.OnMove = func(n int, cmd plotter.MotorCommand) {
		if n == 1 {
			s.RequestPause()
		}
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	rec.waitFor(t, Paused)

	// Queue a toggle behind the device owner, then request a resume
	s.owner.Lock()
	result := make(chan error, 1)
	go func() {
		result <- s.TogglePen(context.Background())
	}()
	time.Sleep(20 * time.Millisecond)

	if err := s.RequestResume(); err != nil {
		t.Fatalf("RequestResume failed: %v", err)
	}
	s.owner.Unlock()

	select {
	case err := <-result:
		if !errors.Is(err, ErrInvalidState) {
			t.Errorf("Expected ErrInvalidState, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for TogglePen")
	}

	if state, err := s.Wait(); err != nil || state != Completed {
		t.Errorf("Expected completed, got %s, %v", state, err)
	}
	if got := dev.Count("pen"); got != 0 {
		t.Errorf("Expected no pen commands, got %d", got)
	}
	if got := dev.Count("move"); got != 3 {
		t.Errorf("Expected 3 moves, got %d", got)
	}
}

func TestStopWhileRunning(t *testing.T) {
	dev := plottertest.NewDevice()
	s, _ := newSession(t, threeMoves, dev)

	dev.OnMove = func(n int, cmd plotter.MotorCommand) {
		if n == 1 {
			if err := s.RequestStop(); err != nil {
				t.Errorf("RequestStop failed: %v", err)
			}
		}
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	state, err := s.Wait()
	if err != nil {
		t.Errorf("Stop should not be an error, got %v", err)
	}
	if state != Stopping {
		t.Errorf("Expected stopping, got %s", state)
	}

	if got := dev.Count("halt"); got != 1 {
		t.Errorf("Expected halt once, got %d", got)
	}
	if got := dev.Count("move"); got != 1 {
		t.Errorf("Expected 1 move, got %d", got)
	}
}

func TestStopWhilePaused(t *testing.T) {
	dev := plottertest.NewDevice()
	s, rec := newSession(t, threeMoves, dev)

	dev.OnMove = func(n int, cmd plotter.MotorCommand) {
		if n == 1 {
			s.RequestPause()
		}
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	rec.waitFor(t, Paused)

	if err := s.RequestStop(); err != nil {
		t.Fatalf("RequestStop failed: %v", err)
	}
	state, err := s.Wait()
	if err != nil || state != Stopping {
		t.Errorf("Expected stopping without error, got %s, %v", state, err)
	}

	if err := s.RequestStop(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState on second stop, got %v", err)
	}
	if got := dev.Count("halt"); got != 1 {
		t.Errorf("Expected halt once, got %d", got)
	}
	if got := dev.Count("move"); got != 1 {
		t.Errorf("Expected 1 move, got %d", got)
	}
}

func TestCancelledContextStops(t *testing.T) {
	dev := plottertest.NewDevice()
	s, _ := newSession(t, threeMoves, dev)

	ctx, cancel := context.WithCancel(context.Background())
	dev.OnMove = func(n int, cmd plotter.MotorCommand) {
		if n == 1 {
			cancel()
		}
	}

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	state, err := s.Wait()
	if err != nil || state != Stopping {
		t.Errorf("Expected stopping without error, got %s, %v", state, err)
	}
	if got := dev.Count("halt"); got != 1 {
		t.Errorf("Expected halt once, got %d", got)
	}
}

func TestDeviceFailure(t *testing.T) {
	errLink := errors.New("link lost")
	dev := plottertest.NewDevice()
	dev.FailMove = 2
	dev.Err = errLink
	s, _ := newSession(t, threeMoves, dev)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	state, err := s.Wait()
	if state != Failed {
		t.Errorf("Expected failed, got %s", state)
	}
	if !errors.Is(err, errLink) {
		t.Errorf("Expected wrapped device error, got %v", err)
	}
	if s.Cursor() != 1 {
		t.Errorf("Expected cursor preserved at 1, got %d", s.Cursor())
	}
	if dev.Count("halt") != 0 {
		t.Error("Failure should not send a halt")
	}
}

func TestStartErrors(t *testing.T) {
	dev := plottertest.NewDevice()
	s, _ := newSession(t, "", dev)
	if err := s.Start(context.Background()); !errors.Is(err, ErrNoCommands) {
		t.Errorf("Expected ErrNoCommands, got %v", err)
	}

	dev = plottertest.NewDevice()
	dev.NotReady = true
	s, _ = newSession(t, threeMoves, dev)
	if err := s.Start(context.Background()); !errors.Is(err, ErrDeviceNotReady) {
		t.Errorf("Expected ErrDeviceNotReady, got %v", err)
	}

	dev = plottertest.NewDevice()
	s, _ = newSession(t, threeMoves, dev)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Expected ErrAlreadyStarted, got %v", err)
	}
	s.Wait()
}

func TestRequestsRequireActiveSession(t *testing.T) {
	s, _ := newSession(t, threeMoves, plottertest.NewDevice())

	if err := s.RequestPause(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState for pause, got %v", err)
	}
	if err := s.RequestResume(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState for resume, got %v", err)
	}
	if err := s.RequestStop(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState for stop, got %v", err)
	}
	if s.State() != Idle {
		t.Errorf("Expected idle, got %s", s.State())
	}
}

func TestStateNames(t *testing.T) {
	tests := []struct {
		state    State
		name     string
		terminal bool
	}{
		{Idle, "idle", false},
		{Running, "running", false},
		{PauseRequested, "pause-requested", false},
		{Paused, "paused", false},
		{ResumeRequested, "resume-requested", false},
		{Completed, "completed", true},
		{Stopping, "stopping", true},
		{Failed, "failed", true},
	}

	for _, tt := range tests {
		if tt.state.String() != tt.name {
			t.Errorf("Expected %q, got %q", tt.name, tt.state.String())
		}
		if tt.state.Terminal() != tt.terminal {
			t.Errorf("%s: expected terminal %v", tt.name, tt.terminal)
		}
	}
}
