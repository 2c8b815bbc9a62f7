package serialport

import (
	"errors"
	"fmt"
)

var (
	// ErrPortClosed is returned when reading from a transport that is not open
	ErrPortClosed = errors.New("port closed")

	// ErrNoSuchPort is returned when the requested port does not exist
	ErrNoSuchPort = errors.New("no such port")

	// ErrPortOpen is returned when opening a transport that is already open
	ErrPortOpen = errors.New("port already open")
)

// Transport is a byte source the station reads telemetry from. Implementations
// must not block in ReadAvailable: it returns whatever arrived since the
// previous call, possibly nothing.
type Transport interface {
	Open(name string) error
	Close() error
	ReadAvailable() ([]byte, error)
	List() ([]string, error)
}

// TransportError is a failure of a transport operation
type TransportError struct {
	Op   string // "open", "read", "close" or "list"
	Port string
	Err  error
}

func (e *TransportError) Error() string {
	if e.Port == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Port, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
