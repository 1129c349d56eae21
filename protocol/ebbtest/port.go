// Package ebbtest emulates an EBB on an in-memory serial port.
package ebbtest

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// FirmwareVersion is the reply to "V"
const FirmwareVersion = "EBBv13_and_above EB Firmware Version 2.8.1"

// ErrWriteFailed is returned by Write when FailWrites is set
var ErrWriteFailed = errors.New("write failed")

// Port is an io.ReadWriteCloser that answers EBB commands
type Port struct {
	mu      sync.Mutex
	written []string
	motor1  int64
	motor2  int64
	reject  map[string]string
	silent  map[string]bool

	// FailWrites makes every write fail
	FailWrites bool

	pr *io.PipeReader
	pw *io.PipeWriter

	replies chan string
	done    chan struct{}
	once    sync.Once
}

// NewPort creates an emulated EBB
func NewPort() *Port {
	pr, pw := io.Pipe()
	p := &Port{
		reject:  make(map[string]string),
		silent:  make(map[string]bool),
		pr:      pr,
		pw:      pw,
		replies: make(chan string, 64),
		done:    make(chan struct{}),
	}
	go p.replyLoop()
	return p
}

// Reject makes the named command answer with an error line
func (p *Port) Reject(name, reply string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reject[name] = reply
}

// Silence makes the named command never answer
func (p *Port) Silence(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.silent[name] = true
}

// Written returns every command received, without terminators
func (p *Port) Written() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.written))
	copy(out, p.written)
	return out
}

// Steps returns the accumulated motor positions
func (p *Port) Steps() (int64, int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.motor1, p.motor2
}

func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	if p.FailWrites {
		p.mu.Unlock()
		return 0, ErrWriteFailed
	}

	var replies []string
	for _, cmd := range strings.Split(string(b), "\r") {
		if cmd == "" {
			continue
		}
		p.written = append(p.written, cmd)
		if r := p.answer(cmd); r != "" {
			replies = append(replies, r)
		}
	}
	p.mu.Unlock()

	for _, r := range replies {
		select {
		case p.replies <- r:
		case <-p.done:
			return 0, io.ErrClosedPipe
		}
	}
	return len(b), nil
}

// answer builds the reply for one command; callers hold mu
func (p *Port) answer(cmd string) string {
	fields := strings.Split(cmd, ",")
	name := strings.ToUpper(fields[0])

	if p.silent[name] {
		return ""
	}
	if reply, ok := p.reject[name]; ok {
		return reply + "\r\n"
	}

	switch name {
	case "V":
		return FirmwareVersion + "\r\n"
	case "QS":
		return fmt.Sprintf("%d,%d\r\nOK\r\n", p.motor1, p.motor2)
	case "ES":
		return "0,0,0,0,0\r\nOK\r\n"
	case "SM", "XM":
		if len(fields) < 4 {
			return "!8 Err: Missing parameter(s)\r\n"
		}
		a, errA := strconv.ParseInt(fields[2], 10, 64)
		b, errB := strconv.ParseInt(fields[3], 10, 64)
		if errA != nil || errB != nil {
			return "!8 Err: Invalid parameter\r\n"
		}
		if name == "XM" {
			a, b = a+b, a-b
		}
		p.motor1 += a
		p.motor2 += b
		return "OK\r\n"
	case "SP", "SC", "EM", "PO", "CS":
		return "OK\r\n"
	}
	return "!8 Err: Unknown command\r\n"
}

func (p *Port) replyLoop() {
	for {
		select {
		case r := <-p.replies:
			if _, err := p.pw.Write([]byte(r)); err != nil {
				return
			}
		case <-p.done:
			return
		}
	}
}

func (p *Port) Read(b []byte) (int, error) {
	return p.pr.Read(b)
}

// Flush is a no-op
func (p *Port) Flush() error {
	return nil
}

// Close closes the port; pending reads return an error
func (p *Port) Close() error {
	p.once.Do(func() {
		close(p.done)
		p.pr.Close()
		p.pw.Close()
	})
	return nil
}
