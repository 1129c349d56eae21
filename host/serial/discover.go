package serial

import (
	"errors"
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"

	"eggplot/protocol"
)

// ErrNotFound is returned when no EBB is attached
var ErrNotFound = errors.New("no EBB found")

// PortInfo describes one serial port on the host
type PortInfo struct {
	Name    string
	USB     bool
	VID     string
	PID     string
	Serial  string
	Product string
}

// IsEBB reports whether the port carries the EBB USB identifiers
func (p PortInfo) IsEBB() bool {
	return p.USB &&
		strings.EqualFold(p.VID, protocol.VendorID) &&
		strings.EqualFold(p.PID, protocol.ProductID)
}

// Discover lists the serial ports on this host
func Discover() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return fromDetails(details), nil
}

func fromDetails(details []*enumerator.PortDetails) []PortInfo {
	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{
			Name:    d.Name,
			USB:     d.IsUSB,
			VID:     d.VID,
			PID:     d.PID,
			Serial:  d.SerialNumber,
			Product: d.Product,
		})
	}
	return ports
}

// FindEBB returns the device path of the first attached EBB
func FindEBB() (string, error) {
	ports, err := Discover()
	if err != nil {
		return "", err
	}
	return firstEBB(ports)
}

func firstEBB(ports []PortInfo) (string, error) {
	for _, p := range ports {
		if p.IsEBB() {
			return p.Name, nil
		}
	}
	return "", ErrNotFound
}
