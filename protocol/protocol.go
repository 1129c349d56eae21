// Package protocol implements the EiBotBoard (EBB) ASCII command protocol
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Terminator ends every command sent to the EBB
const Terminator = '\r'

// ReplyOK acknowledges a command
const ReplyOK = "OK"

// EBB USB identifiers
const (
	VendorID  = "04D8"
	ProductID = "FD92"
)

// Servo channels configured by SC
const (
	ServoUpChannel   = 4
	ServoDownChannel = 5
)

// ErrDeviceRejected is wrapped by every DeviceError
var ErrDeviceRejected = errors.New("device rejected command")

// DeviceError is returned when the EBB answers with an error line
type DeviceError struct {
	Command string
	Reply   string
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Command, e.Reply)
}

func (e *DeviceError) Unwrap() error {
	return ErrDeviceRejected
}

// Command is one EBB command: a name and comma separated arguments
type Command struct {
	Name string
	Args []string
}

// NewCommand builds a command, formatting each argument with its default format
func NewCommand(name string, args ...any) Command {
	cmd := Command{Name: name}
	for _, a := range args {
		cmd.Args = append(cmd.Args, fmt.Sprint(a))
	}
	return cmd
}

// String returns the command without its terminator
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + "," + strings.Join(c.Args, ",")
}

// Encode returns the bytes written to the port
func (c Command) Encode() []byte {
	return append([]byte(c.String()), Terminator)
}

// StepperMove moves both motors by the given steps over durationMS
func StepperMove(durationMS uint32, motor1, motor2 int32) Command {
	return NewCommand("SM", durationMS, motor1, motor2)
}

// MixedMove moves the carriage in mixed-axis (A+B, A-B) coordinates
func MixedMove(durationMS uint32, a, b int32) Command {
	return NewCommand("XM", durationMS, a, b)
}

// SetPen raises (up) or lowers the pen, taking servoMS to get there
func SetPen(up bool, servoMS int) Command {
	state := 0
	if up {
		state = 1
	}
	return NewCommand("SP", state, servoMS)
}

// ServoValue converts a pen height percentage into an SC servo value
func ServoValue(percent float64) int {
	return int(240 * (percent + 25))
}

// ServoPosition sets the pen up or down servo position
func ServoPosition(up bool, percent float64) Command {
	channel := ServoDownChannel
	if up {
		channel = ServoUpChannel
	}
	return NewCommand("SC", channel, ServoValue(percent))
}

// EmergencyStop halts all motion and clears the motion queue
func EmergencyStop() Command {
	return NewCommand("ES")
}

// EnableMotors enables both motors at 16x microstepping
func EnableMotors() Command {
	return NewCommand("EM", 1, 1)
}

// DisableMotors de-energizes both motors
func DisableMotors() Command {
	return NewCommand("EM", 0, 0)
}

// PinOutput sets a digital output pin
func PinOutput(port string, pin int, on bool) Command {
	value := 0
	if on {
		value = 1
	}
	return NewCommand("PO", strings.ToUpper(port), pin, value)
}

// Version queries the firmware version
func Version() Command {
	return NewCommand("V")
}

// QueryMotors reads the step position counters
func QueryMotors() Command {
	return NewCommand("QS")
}

// CheckReply classifies one reply line
func CheckReply(cmd Command, line string) (ok bool, err error) {
	line = strings.TrimSpace(line)
	switch {
	case line == ReplyOK:
		return true, nil
	case strings.HasPrefix(line, "!"):
		return false, &DeviceError{Command: cmd.String(), Reply: line}
	}
	return false, nil
}

// ParseSteps parses a "QS" reply of the form "<motor1>,<motor2>"
func ParseSteps(reply string) (int32, int32, error) {
	parts := strings.Split(strings.TrimSpace(reply), ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed step reply %q", reply)
	}
	m1, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed step reply %q: %w", reply, err)
	}
	m2, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("malformed step reply %q: %w", reply, err)
	}
	return int32(m1), int32(m2), nil
}
