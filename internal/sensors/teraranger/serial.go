package teraranger

import (
	"errors"
	"fmt"
	"time"

	"go.bug.st/serial"
)

const (
	DefaultBaud = 115200

	frameHeader = 'T'
	frameLen    = 4
	// Enough bytes for a few frames at the sensor's streaming rate.
	maxScan = 64

	readTimeout = 200 * time.Millisecond
)

// ErrNoFrame is returned when no valid frame arrived within the scan budget.
var ErrNoFrame = errors.New("teraranger: no frame")

// Binary output mode command.
var cmdBinaryMode = []byte{0x00, 0x11, 0x02, 0x4C}

type portIO interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Serial is a UART-attached sensor streaming 'T' MSB LSB CRC8 frames.
type Serial struct {
	port portIO
	path string
}

func OpenSerial(path string, baud int) (*Serial, error) {
	if baud <= 0 {
		baud = DefaultBaud
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("teraranger: open %s: %w", path, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("teraranger: %s: set timeout: %w", path, err)
	}
	return newSerial(port, path)
}

func newSerial(port portIO, path string) (*Serial, error) {
	if _, err := port.Write(cmdBinaryMode); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("teraranger: %s: binary mode: %w", path, err)
	}
	return &Serial{port: port, path: path}, nil
}

// ReadMillimeters scans the stream for the next valid frame.
func (s *Serial) ReadMillimeters() (uint16, error) {
	if s == nil || s.port == nil {
		return 0, fmt.Errorf("teraranger: serial is nil")
	}
	var b [1]byte
	frame := make([]byte, 0, frameLen)
	crcErrs := 0
	for i := 0; i < maxScan; i++ {
		n, err := s.port.Read(b[:])
		if err != nil {
			return 0, fmt.Errorf("teraranger: %s: read: %w", s.path, err)
		}
		if n == 0 {
			return 0, fmt.Errorf("teraranger: %s: %w (timeout)", s.path, ErrNoFrame)
		}
		if len(frame) == 0 && b[0] != frameHeader {
			continue
		}
		frame = append(frame, b[0])
		if len(frame) < frameLen {
			continue
		}
		if crc8(frame[:3]) != frame[3] {
			crcErrs++
			frame = frame[:0]
			continue
		}
		return decode(uint16(frame[1])<<8 | uint16(frame[2]))
	}
	if crcErrs > 0 {
		return 0, fmt.Errorf("teraranger: %s: %w (%d bad frames)", s.path, ErrCRC, crcErrs)
	}
	return 0, fmt.Errorf("teraranger: %s: %w in %d bytes", s.path, ErrNoFrame, maxScan)
}

func (s *Serial) Close() error {
	if s == nil || s.port == nil {
		return nil
	}
	return s.port.Close()
}
