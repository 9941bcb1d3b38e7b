//go:build linux

package i2c

import (
	"os"
	"strings"
	"testing"
)

func openNullBus(t *testing.T) *Bus {
	t.Helper()
	f, err := os.OpenFile("/dev/null", os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("OpenFile /dev/null: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return &Bus{f: f, path: "/dev/null"}
}

func TestDevTx_InvalidAddr(t *testing.T) {
	b := openNullBus(t)
	for _, addr := range []uint16{0, 0x80} {
		err := b.Dev(addr).Write([]byte{0x00})
		if err == nil || !strings.Contains(err.Error(), "invalid i2c addr") {
			t.Fatalf("addr=0x%X err=%v want invalid i2c addr", addr, err)
		}
	}
}

func TestDevTx_EmptyIsNoop(t *testing.T) {
	d := openNullBus(t).Dev(0x30)
	n, err := d.tx(nil, nil)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if n != 0 {
		t.Fatalf("n=%d want 0", n)
	}
}

func TestDevTx_ClosedBus(t *testing.T) {
	b := &Bus{path: "/dev/i2c-9"}
	err := b.Dev(0x31).Write([]byte{0x00})
	if err == nil || !strings.Contains(err.Error(), "closed") {
		t.Fatalf("err=%v want closed bus", err)
	}
}

func TestNilHandles(t *testing.T) {
	var b *Bus
	if b.Dev(0x30) != nil {
		t.Fatalf("nil bus returned a device")
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close on nil bus: %v", err)
	}
	var d *Dev
	if d.Addr() != 0 {
		t.Fatalf("nil dev addr")
	}
	if err := d.Read(make([]byte, 3)); err == nil {
		t.Fatalf("expected error from nil dev")
	}
}

func TestOpen_MissingDevice(t *testing.T) {
	if _, err := Open("/dev/i2c-does-not-exist"); err == nil {
		t.Fatalf("expected error")
	}
}
