package board

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

const (
	sensorBaudRate = 115200

	// Fallback read timeout when the caller's context has no deadline.
	sensorDefaultTimeout = time.Second
)

// SerialCurrentSensor reads per-channel load current from the board's
// ADC bridge over a serial line protocol: "I<channel>\n" is answered
// with the amperage as a decimal line. The bridge muxes one shared ADC,
// so reads are serialized here.
type SerialCurrentSensor struct {
	mu   sync.Mutex
	port serial.Port
}

// NewSerialCurrentSensor opens the ADC bridge's serial port.
func NewSerialCurrentSensor(portName string) (*SerialCurrentSensor, error) {
	mode := &serial.Mode{
		BaudRate: sensorBaudRate,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("open sensor port: %w", err)
	}
	return &SerialCurrentSensor{port: port}, nil
}

// ReadCurrent samples one channel. A bridge that does not answer within
// the context deadline yields a HardwareError rather than a hang.
func (s *SerialCurrentSensor) ReadCurrent(ctx context.Context, channel int) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	timeout := sensorDefaultTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return 0, &HardwareError{Op: "read current", Channel: channel, Err: ctx.Err()}
		}
	}
	if err := s.port.SetReadTimeout(timeout); err != nil {
		return 0, &HardwareError{Op: "read current", Channel: channel, Err: err}
	}

	if _, err := s.port.Write([]byte(fmt.Sprintf("I%d\n", channel))); err != nil {
		return 0, &HardwareError{Op: "read current", Channel: channel, Err: err}
	}

	line, err := s.readLine()
	if err != nil {
		return 0, &HardwareError{Op: "read current", Channel: channel, Err: err}
	}

	amps, err := strconv.ParseFloat(strings.TrimSpace(line), 64)
	if err != nil {
		return 0, &HardwareError{Op: "read current", Channel: channel,
			Err: fmt.Errorf("bad reading %q", line)}
	}
	return amps, nil
}

// readLine accumulates bytes until newline. A zero-byte read means the
// port timed out.
func (s *SerialCurrentSensor) readLine() (string, error) {
	var line strings.Builder
	buf := make([]byte, 1)
	for {
		n, err := s.port.Read(buf)
		if err != nil {
			return "", err
		}
		if n == 0 {
			return "", fmt.Errorf("read timed out")
		}
		if buf[0] == '\n' {
			return line.String(), nil
		}
		line.WriteByte(buf[0])
	}
}

// Close closes the serial port.
func (s *SerialCurrentSensor) Close() error {
	return s.port.Close()
}
