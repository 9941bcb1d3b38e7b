//go:build !linux

package i2c

import "errors"

// ErrUnsupported is returned by every operation off Linux; the rangefinder
// service treats it like any other init failure.
var ErrUnsupported = errors.New("i2c: /dev/i2c-* requires linux")

type Bus struct{}

type Dev struct{ addr uint16 }

func Open(path string) (*Bus, error) { return nil, ErrUnsupported }

func (b *Bus) Path() string                 { return "" }
func (b *Bus) Close() error                 { return nil }
func (b *Bus) Dev(addr uint16) *Dev         { return &Dev{addr: addr} }
func (d *Dev) Addr() uint16                 { return d.addr }
func (d *Dev) Write([]byte) error           { return ErrUnsupported }
func (d *Dev) Read([]byte) error            { return ErrUnsupported }
func (d *Dev) WriteRead(_, _ []byte) error  { return ErrUnsupported }
func (d *Dev) ReadReg(byte, []byte) error   { return ErrUnsupported }
func (d *Dev) ReadRegU8(byte) (byte, error) { return 0, ErrUnsupported }
