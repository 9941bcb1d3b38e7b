// Package indicator drives a status LED: lit while the scheduler relays
// external velocity commands, dark while holding position.
package indicator

import (
	"sync"

	"vision-nav/internal/hover"
	"vision-nav/internal/monitoring"
)

type line interface {
	SetValue(v int) error
	Close() error
}

var openLineFn = openLine

// LED is safe for concurrent use. A zero-pin LED is a no-op.
type LED struct {
	pin int

	mu    sync.Mutex
	line  line
	on    bool
	fails int
}

// Open requests the GPIO line for pin. pin <= 0 disables the LED. A line
// that cannot be opened is logged and the LED degrades to a no-op.
func Open(pin int) *LED {
	led := &LED{pin: pin}
	if pin <= 0 {
		return led
	}
	l, err := openLineFn(pin)
	if err != nil {
		monitoring.Logf("indicator: %v (status LED disabled)", err)
		return led
	}
	led.line = l
	monitoring.Logf("indicator: status LED on GPIO%d", pin)
	return led
}

func (l *LED) Enabled() bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.line != nil
}

func (l *LED) On() bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.on
}

func (l *LED) Set(on bool) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.line == nil {
		l.on = on
		return nil
	}
	v := 0
	if on {
		v = 1
	}
	if err := l.line.SetValue(v); err != nil {
		l.fails++
		if l.fails == 1 {
			monitoring.Logf("indicator: set GPIO%d: %v", l.pin, err)
		}
		return err
	}
	l.fails = 0
	l.on = on
	return nil
}

// OnMode matches vision.Sinks.OnMode.
func (l *LED) OnMode(m hover.Mode) {
	_ = l.Set(m == hover.Relay)
}

// Close turns the LED off and releases the line.
func (l *LED) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.line == nil {
		return nil
	}
	_ = l.line.SetValue(0)
	err := l.line.Close()
	l.line = nil
	l.on = false
	return err
}
