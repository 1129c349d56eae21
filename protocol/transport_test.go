package protocol

import (
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

// scriptedPort replies to each written command with a canned answer
type scriptedPort struct {
	mu      sync.Mutex
	written []string
	answers map[string]string
	failW   error

	pr *io.PipeReader
	pw *io.PipeWriter
}

func newScriptedPort(answers map[string]string) *scriptedPort {
	pr, pw := io.Pipe()
	return &scriptedPort{answers: answers, pr: pr, pw: pw}
}

func (p *scriptedPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failW != nil {
		return 0, p.failW
	}
	cmd := strings.TrimSuffix(string(b), "\r")
	p.written = append(p.written, cmd)
	if answer, ok := p.answers[cmd]; ok {
		go p.pw.Write([]byte(answer))
	}
	return len(b), nil
}

func (p *scriptedPort) Read(b []byte) (int, error) {
	return p.pr.Read(b)
}

func (p *scriptedPort) Close() error {
	p.pr.Close()
	return p.pw.Close()
}

func (p *scriptedPort) Written() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.written...)
}

func TestTransportExecute(t *testing.T) {
	port := newScriptedPort(map[string]string{
		"SM,100,10,10": "OK\r\n",
		"ES":           "0,5,7,0,0\r\nOK\r\n",
	})
	tr := NewTransport(port, nil)
	defer tr.Close()

	data, err := tr.Execute(StepperMove(100, 10, 10), time.Second)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("Expected no data lines, got %v", data)
	}

	data, err = tr.Execute(EmergencyStop(), time.Second)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(data) != 1 || data[0] != "0,5,7,0,0" {
		t.Errorf("Expected one data line, got %v", data)
	}

	written := port.Written()
	if len(written) != 2 || written[0] != "SM,100,10,10" || written[1] != "ES" {
		t.Errorf("Unexpected writes: %v", written)
	}
}

func TestTransportRejected(t *testing.T) {
	port := newScriptedPort(map[string]string{
		"SM,0,1,1": "!8 Err: Duration must be > 0\r\n",
	})
	tr := NewTransport(port, nil)
	defer tr.Close()

	_, err := tr.Execute(StepperMove(0, 1, 1), time.Second)
	if !errors.Is(err, ErrDeviceRejected) {
		t.Errorf("Expected ErrDeviceRejected, got %v", err)
	}
}

func TestTransportTimeout(t *testing.T) {
	port := newScriptedPort(map[string]string{})
	tr := NewTransport(port, nil)
	defer tr.Close()

	_, err := tr.Execute(EnableMotors(), 20*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Expected ErrTimeout, got %v", err)
	}
}

func TestTransportQuery(t *testing.T) {
	port := newScriptedPort(map[string]string{
		"V": "EBBv13_and_above EB Firmware Version 2.8.1\r\n",
	})
	tr := NewTransport(port, nil)
	tr.SetPollInterval(time.Millisecond)
	defer tr.Close()

	reply, err := tr.Query(Version())
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if reply != "EBBv13_and_above EB Firmware Version 2.8.1" {
		t.Errorf("Unexpected reply %q", reply)
	}

	_, err = tr.Query(NewCommand("QX"))
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Expected ErrTimeout after empty reads, got %v", err)
	}
}

func TestTransportWriteFailure(t *testing.T) {
	port := newScriptedPort(nil)
	port.failW = errors.New("device unplugged")
	tr := NewTransport(port, nil)
	defer tr.Close()

	_, err := tr.Execute(EnableMotors(), time.Second)
	if !errors.Is(err, port.failW) {
		t.Errorf("Expected write error, got %v", err)
	}
}

func TestTransportReadFailure(t *testing.T) {
	port := newScriptedPort(nil)
	tr := NewTransport(port, nil)
	defer tr.Close()

	port.pw.CloseWithError(errors.New("usb reset"))

	_, err := tr.Execute(EnableMotors(), time.Second)
	if err == nil || errors.Is(err, ErrTimeout) {
		t.Errorf("Expected read failure, got %v", err)
	}
	if tr.Err() == nil {
		t.Error("Expected transport to record the read error")
	}
}

func TestTransportClosed(t *testing.T) {
	port := newScriptedPort(nil)
	tr := NewTransport(port, nil)

	if err := tr.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("Second close should be a no-op, got %v", err)
	}
	if err := tr.Send(EnableMotors()); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestTransportSplitReplies(t *testing.T) {
	port := newScriptedPort(nil)
	tr := NewTransport(port, nil)
	defer tr.Close()

	go func() {
		port.pw.Write([]byte("O"))
		time.Sleep(5 * time.Millisecond)
		port.pw.Write([]byte("K\r"))
		port.pw.Write([]byte("\n"))
	}()

	line, err := tr.waitLine(time.Second)
	if err != nil {
		t.Fatalf("waitLine failed: %v", err)
	}
	if line != "OK" {
		t.Errorf("Expected OK, got %q", line)
	}
}
