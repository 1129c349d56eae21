package protocol

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// MaxEmptyReads bounds how many empty reads a query tolerates
const MaxEmptyReads = 100

var (
	// ErrTimeout is returned when no reply arrives in time
	ErrTimeout = errors.New("reply timeout")

	// ErrClosed is returned once the transport has been closed
	ErrClosed = errors.New("transport closed")
)

// Transport exchanges CR-terminated commands and line replies with an EBB.
// A request (write plus reply) holds the request lock for its whole exchange,
// so commands from different goroutines never interleave on the wire.
type Transport struct {
	// Serial I/O
	port io.ReadWriteCloser

	// Bytes received but not yet split into lines
	inputBuffer *FifoBuffer

	// Complete reply lines
	lineChan chan string

	// Per-read wait used by queries
	pollInterval time.Duration

	requestMutex sync.Mutex
	writeMutex   sync.Mutex
	readMutex    sync.Mutex

	errMutex sync.Mutex
	readErr  error

	logger *slog.Logger

	stopOnce sync.Once
	stopChan chan struct{}
	failChan chan struct{}
	doneChan chan struct{}
}

// NewTransport creates a transport and starts its background reader
func NewTransport(port io.ReadWriteCloser, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	t := &Transport{
		port:         port,
		inputBuffer:  NewFifoBuffer(512),
		lineChan:     make(chan string, 64),
		pollInterval: 10 * time.Millisecond,
		logger:       logger,
		stopChan:     make(chan struct{}),
		failChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}

	go t.readLoop()

	return t
}

// SetPollInterval sets how long a query waits per read attempt
func (t *Transport) SetPollInterval(d time.Duration) {
	t.pollInterval = d
}

// Execute sends a command and waits for OK. Lines received before the OK are
// returned as data. A "!" reply is returned as a *DeviceError.
func (t *Transport) Execute(cmd Command, timeout time.Duration) ([]string, error) {
	t.requestMutex.Lock()
	defer t.requestMutex.Unlock()

	t.drain()
	if err := t.write(cmd); err != nil {
		return nil, err
	}

	var data []string
	for {
		line, err := t.waitLine(timeout)
		if err != nil {
			return data, fmt.Errorf("%s: %w", cmd, err)
		}

		ok, err := CheckReply(cmd, line)
		if err != nil {
			return data, err
		}
		if ok {
			return data, nil
		}
		data = append(data, line)
	}
}

// Query sends a command and returns its first reply line, retrying empty
// reads up to MaxEmptyReads times
func (t *Transport) Query(cmd Command) (string, error) {
	t.requestMutex.Lock()
	defer t.requestMutex.Unlock()

	t.drain()
	if err := t.write(cmd); err != nil {
		return "", err
	}

	for i := 0; i < MaxEmptyReads; i++ {
		line, err := t.waitLine(t.pollInterval)
		if errors.Is(err, ErrTimeout) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("%s: %w", cmd, err)
		}
		if _, err := CheckReply(cmd, line); err != nil {
			return "", err
		}
		return line, nil
	}

	return "", fmt.Errorf("%s: %w after %d empty reads", cmd, ErrTimeout, MaxEmptyReads)
}

// Send writes a command without waiting for any reply
func (t *Transport) Send(cmd Command) error {
	t.requestMutex.Lock()
	defer t.requestMutex.Unlock()

	return t.write(cmd)
}

// write sends a command to the serial port
func (t *Transport) write(cmd Command) error {
	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()

	select {
	case <-t.stopChan:
		return ErrClosed
	default:
	}

	msg := cmd.Encode()
	n, err := t.port.Write(msg)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", cmd, err)
	}
	if n != len(msg) {
		return fmt.Errorf("incomplete write: %d/%d bytes", n, len(msg))
	}

	t.logger.Debug("ebb write", "command", cmd.String())
	return nil
}

// waitLine waits for the next reply line
func (t *Transport) waitLine(timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case line := <-t.lineChan:
		return line, nil

	case <-timer.C:
		return "", ErrTimeout

	case <-t.failChan:
		// Lines read before the failure are still valid
		select {
		case line := <-t.lineChan:
			return line, nil
		default:
		}
		return "", t.err()

	case <-t.stopChan:
		return "", ErrClosed
	}
}

// drain discards stale lines from a previous exchange
func (t *Transport) drain() {
	for {
		select {
		case line := <-t.lineChan:
			t.logger.Debug("ebb stale reply", "line", line)
		default:
			return
		}
	}
}

// readLoop continuously reads from the port and splits lines
func (t *Transport) readLoop() {
	defer close(t.doneChan)

	buffer := make([]byte, 256)

	for {
		select {
		case <-t.stopChan:
			return
		default:
		}

		n, err := t.port.Read(buffer)
		for data := buffer[:n]; len(data) > 0; {
			written := t.inputBuffer.Write(data)
			t.processLines()
			data = data[written:]
		}
		if err != nil {
			select {
			case <-t.stopChan:
			default:
				t.fail(fmt.Errorf("failed to read: %w", err))
			}
			return
		}
	}
}

// processLines emits every complete line in the input buffer
func (t *Transport) processLines() {
	t.readMutex.Lock()
	defer t.readMutex.Unlock()

	data := t.inputBuffer.Data()
	consumed := 0

	for {
		idx := strings.IndexAny(string(data[consumed:]), "\r\n")
		if idx < 0 {
			break
		}
		line := strings.TrimSpace(string(data[consumed : consumed+idx]))
		consumed += idx + 1

		if line == "" {
			continue
		}
		t.logger.Debug("ebb read", "line", line)
		t.dispatchLine(line)
	}

	if consumed > 0 {
		t.inputBuffer.Pop(consumed)
	}

	// A full buffer without a terminator can never complete
	if t.inputBuffer.Free() == 0 {
		t.inputBuffer.Reset()
	}
}

// dispatchLine queues a line, dropping the oldest when full
func (t *Transport) dispatchLine(line string) {
	select {
	case t.lineChan <- line:
	default:
		select {
		case <-t.lineChan:
		default:
		}
		t.lineChan <- line
	}
}

func (t *Transport) fail(err error) {
	t.errMutex.Lock()
	defer t.errMutex.Unlock()
	if t.readErr == nil {
		t.readErr = err
		close(t.failChan)
	}
}

func (t *Transport) err() error {
	t.errMutex.Lock()
	defer t.errMutex.Unlock()
	return t.readErr
}

// Err returns the read error that ended the transport, if any
func (t *Transport) Err() error {
	return t.err()
}

// Close stops the transport and closes the port
func (t *Transport) Close() error {
	var err error
	t.stopOnce.Do(func() {
		close(t.stopChan)
		if t.port != nil {
			err = t.port.Close()
		}
		<-t.doneChan // Wait for read loop to finish
	})
	return err
}
