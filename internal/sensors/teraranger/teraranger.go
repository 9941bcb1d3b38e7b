// Package teraranger drives TeraRanger One time-of-flight rangefinders over
// I2C or UART. Both transports return distances in millimetres.
package teraranger

import (
	"errors"
	"fmt"
	"time"

	"vision-nav/internal/i2c"
)

var sleep = time.Sleep

const (
	// BaseAddress is where sensor i lives at BaseAddress+i on a shared bus.
	BaseAddress = 0x30

	cmdTrigger  = 0x00
	regWhoAmI   = 0x01
	whoAmIValue = 0xA1

	// Time of flight plus processing after a trigger.
	measureDelay = 2 * time.Millisecond
)

var (
	ErrTooFar   = errors.New("teraranger: target out of range")
	ErrTooClose = errors.New("teraranger: target too close")
	ErrInvalid  = errors.New("teraranger: invalid reading")
	ErrCRC      = errors.New("teraranger: crc mismatch")
)

type busIO interface {
	Write(p []byte) error
	Read(p []byte) error
	ReadRegU8(reg byte) (byte, error)
}

// Device is one I2C-attached sensor.
type Device struct {
	io   busIO
	addr uint16
}

func New(dev *i2c.Dev) (*Device, error) {
	if dev == nil {
		return nil, fmt.Errorf("teraranger: dev is nil")
	}
	return newWithIO(dev, dev.Addr())
}

func newWithIO(io busIO, addr uint16) (*Device, error) {
	if io == nil {
		return nil, fmt.Errorf("teraranger: dev is nil")
	}
	id, err := io.ReadRegU8(regWhoAmI)
	if err != nil {
		return nil, fmt.Errorf("teraranger 0x%02X: who_am_i read failed: %w", addr, err)
	}
	if id != whoAmIValue {
		return nil, fmt.Errorf("teraranger 0x%02X: who_am_i=0x%02X want 0x%02X", addr, id, whoAmIValue)
	}
	return &Device{io: io, addr: addr}, nil
}

func (d *Device) Addr() uint16 { return d.addr }

// ReadMillimeters triggers one measurement and reads it back.
func (d *Device) ReadMillimeters() (uint16, error) {
	if d == nil || d.io == nil {
		return 0, fmt.Errorf("teraranger: device is nil")
	}
	if err := d.io.Write([]byte{cmdTrigger}); err != nil {
		return 0, fmt.Errorf("teraranger 0x%02X: trigger: %w", d.addr, err)
	}
	sleep(measureDelay)

	var buf [3]byte
	if err := d.io.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("teraranger 0x%02X: read: %w", d.addr, err)
	}
	if crc8(buf[:2]) != buf[2] {
		return 0, fmt.Errorf("teraranger 0x%02X: %w", d.addr, ErrCRC)
	}
	return decode(uint16(buf[0])<<8 | uint16(buf[1]))
}

// Close is a no-op; the bus is owned by the caller.
func (d *Device) Close() error { return nil }

// decode maps the sensor's reserved values onto errors.
func decode(raw uint16) (uint16, error) {
	switch raw {
	case 0xFFFF:
		return 0, ErrTooFar
	case 0x0000:
		return 0, ErrTooClose
	case 0x0001:
		return 0, ErrInvalid
	}
	return raw, nil
}

// crc8 is CRC-8/ATM: polynomial 0x07, init 0, no reflection.
func crc8(p []byte) byte {
	var crc byte
	for _, b := range p {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x07
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
