// Package tf keeps the latest rigid transform per frame pair and serves
// non-blocking lookups to the scheduler.
package tf

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"vision-nav/internal/frames"
)

// ErrNoTransform is returned when no usable transform exists for a pair.
var ErrNoTransform = errors.New("tf: no transform available")

type Transform struct {
	Parent      string            `json:"parent"`
	Child       string            `json:"child"`
	Stamp       time.Time         `json:"stamp"`
	Translation frames.Vec3       `json:"translation"`
	Rotation    frames.Quaternion `json:"rotation"`
}

type pair struct{ parent, child string }

// Buffer is safe for concurrent use: writers are the ingest goroutines,
// the reader is the scheduler loop.
type Buffer struct {
	maxAge time.Duration
	now    func() time.Time

	mu    sync.RWMutex
	byKey map[pair]Transform
}

// NewBuffer returns a buffer whose latest-transform lookups fail once the
// newest sample is older than maxAge. maxAge <= 0 disables the check.
func NewBuffer(maxAge time.Duration) *Buffer {
	return &Buffer{
		maxAge: maxAge,
		now:    func() time.Time { return time.Now().UTC() },
		byKey:  make(map[pair]Transform),
	}
}

// Normalize strips leading slashes and whitespace from a frame id.
func Normalize(frame string) string {
	return strings.TrimLeft(strings.TrimSpace(frame), "/")
}

func (b *Buffer) Set(t Transform) error {
	if b == nil {
		return fmt.Errorf("tf: buffer is nil")
	}
	t.Parent = Normalize(t.Parent)
	t.Child = Normalize(t.Child)
	if t.Parent == "" || t.Child == "" {
		return fmt.Errorf("tf: parent and child frames are required")
	}
	if t.Parent == t.Child {
		return fmt.Errorf("tf: parent and child are both %q", t.Parent)
	}
	if t.Stamp.IsZero() {
		t.Stamp = b.now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	key := pair{t.Parent, t.Child}
	if prev, ok := b.byKey[key]; ok && t.Stamp.Before(prev.Stamp) {
		// Out-of-order datagram; keep the newer one.
		return nil
	}
	b.byKey[key] = t
	return nil
}

// Lookup returns the transform of source expressed in target. A zero at
// asks for the latest sample; otherwise the sample must lie within maxAge of
// at. Lookup never blocks waiting for data.
func (b *Buffer) Lookup(target, source string, at time.Time) (Transform, error) {
	if b == nil {
		return Transform{}, ErrNoTransform
	}
	target, source = Normalize(target), Normalize(source)
	b.mu.RLock()
	t, ok := b.byKey[pair{target, source}]
	b.mu.RUnlock()
	if !ok {
		return Transform{}, fmt.Errorf("%w: %s -> %s", ErrNoTransform, target, source)
	}
	if b.maxAge <= 0 {
		return t, nil
	}
	ref := at
	if ref.IsZero() {
		ref = b.now()
	}
	age := ref.Sub(t.Stamp)
	if age < 0 {
		age = -age
	}
	if age > b.maxAge {
		return Transform{}, fmt.Errorf("%w: %s -> %s is %s old", ErrNoTransform, target, source, age.Round(time.Millisecond))
	}
	return t, nil
}
