package serialport

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

const (
	// DefaultBaudRate is the baud rate of the flight controller
	DefaultBaudRate = 115200

	// DefaultReadTimeout bounds a single blocking read of the reader goroutine
	DefaultReadTimeout = 50 * time.Millisecond

	readBufferSize = 1024
	chunksBacklog  = 64
)

var _ Transport = (*Serial)(nil)

// PortInfo describes a serial port found on the system
type PortInfo struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
	Product      string
}

func (p PortInfo) String() string {
	if !p.IsUSB {
		return p.Name
	}
	if p.Product != "" {
		return fmt.Sprintf("%s (%s, %s:%s)", p.Name, p.Product, p.VID, p.PID)
	}
	return fmt.Sprintf("%s (%s:%s)", p.Name, p.VID, p.PID)
}

// Ports returns the serial ports of the system with their USB details.
func Ports() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, &TransportError{Op: "list", Err: err}
	}

	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		})
	}
	slices.SortFunc(ports, func(a, b PortInfo) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		default:
			return 0
		}
	})
	return ports, nil
}

// opener opens a serial port; replaced in tests
type opener func(name string, mode *serial.Mode) (serial.Port, error)

// WithBaudRate sets the baud rate
func WithBaudRate(baud int) func(*Serial) {
	return func(s *Serial) {
		s.mode.BaudRate = baud
	}
}

// WithReadTimeout sets the timeout of a single read of the reader goroutine
func WithReadTimeout(timeout time.Duration) func(*Serial) {
	return func(s *Serial) {
		s.readTimeout = timeout
	}
}

// WithLogger sets the logger for the transport
func WithLogger(logger *slog.Logger) func(*Serial) {
	return func(s *Serial) {
		s.logger = logger.With(slog.String("transport", "serial"))
	}
}

func withOpener(open opener) func(*Serial) {
	return func(s *Serial) {
		s.open = open
	}
}

// Serial is a Transport over a serial port, 8N1. A reader goroutine moves
// chunks from the port to a buffered channel that ReadAvailable drains
// without blocking.
type Serial struct {
	mode        serial.Mode
	readTimeout time.Duration
	open        opener
	logger      *slog.Logger

	mu     sync.Mutex
	port   serial.Port
	name   string
	chunks chan []byte
	errs   chan error
	done   chan struct{}
	wg     sync.WaitGroup

	isOpen atomic.Bool
}

// NewSerial creates a new serial transport
func NewSerial(options ...func(*Serial)) *Serial {
	s := Serial{
		mode: serial.Mode{
			BaudRate: DefaultBaudRate,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		},
		readTimeout: DefaultReadTimeout,
		open:        serial.Open,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&s)
	}

	return &s
}

// Open opens the named port and starts the reader goroutine.
func (s *Serial) Open(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isOpen.Load() {
		return &TransportError{Op: "open", Port: name, Err: ErrPortOpen}
	}

	mode := s.mode
	port, err := s.open(name, &mode)
	if err != nil {
		var portErr *serial.PortError
		if errors.As(err, &portErr) && portErr.Code() == serial.PortNotFound {
			err = fmt.Errorf("%w: %w", ErrNoSuchPort, err)
		}
		return &TransportError{Op: "open", Port: name, Err: err}
	}

	if err = port.SetReadTimeout(s.readTimeout); err != nil {
		return &TransportError{Op: "open", Port: name, Err: errors.Join(err, port.Close())}
	}

	s.port = port
	s.name = name
	s.chunks = make(chan []byte, chunksBacklog)
	s.errs = make(chan error, 1)
	s.done = make(chan struct{})
	s.isOpen.Store(true)

	s.wg.Add(1)
	go s.readLoop(port, s.chunks, s.errs, s.done)

	s.logger.Info("port opened", slog.String("port", name), slog.Int("baudRate", s.mode.BaudRate))
	return nil
}

// readLoop reads until the port fails or done is closed. A read timeout
// returns no bytes and no error, which gives the loop a chance to notice done.
func (s *Serial) readLoop(port serial.Port, chunks chan<- []byte, errs chan<- error, done <-chan struct{}) {
	defer s.wg.Done()

	buf := make([]byte, readBufferSize)
	for {
		select {
		case <-done:
			return
		default:
		}

		n, err := port.Read(buf)
		if err != nil {
			select {
			case <-done:
			case errs <- err:
			}
			return
		}
		if n == 0 {
			continue
		}

		select {
		case chunks <- slices.Clone(buf[:n]):
		case <-done:
			return
		}
	}
}

// ReadAvailable returns the bytes received since the previous call. A read
// failure of the port is reported once, after the bytes that preceded it.
func (s *Serial) ReadAvailable() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isOpen.Load() {
		return nil, &TransportError{Op: "read", Port: s.name, Err: ErrPortClosed}
	}

	data := s.drain(nil)
	select {
	case err := <-s.errs:
		data = s.drain(data)
		return data, &TransportError{Op: "read", Port: s.name, Err: err}
	default:
		return data, nil
	}
}

func (s *Serial) drain(data []byte) []byte {
	for {
		select {
		case chunk := <-s.chunks:
			data = append(data, chunk...)
		default:
			return data
		}
	}
}

// Close stops the reader goroutine and closes the port. Closing a closed
// transport is a no-op.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isOpen.Load() {
		return nil
	}

	close(s.done)
	err := s.port.Close() // unblocks a pending read
	s.wg.Wait()

	s.isOpen.Store(false)
	s.port = nil
	s.chunks = nil
	s.errs = nil

	s.logger.Info("port closed", slog.String("port", s.name))

	if err != nil {
		return &TransportError{Op: "close", Port: s.name, Err: err}
	}
	return nil
}

// List returns the names of the serial ports of the system.
func (s *Serial) List() ([]string, error) {
	names, err := serial.GetPortsList()
	if err != nil {
		return nil, &TransportError{Op: "list", Err: err}
	}
	slices.Sort(names)
	return names, nil
}
