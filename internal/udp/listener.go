package udp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"vision-nav/internal/frames"
	"vision-nav/internal/monitoring"
	"vision-nav/internal/pose"
	"vision-nav/internal/tf"
	"vision-nav/internal/vision"
)

const maxDatagram = 64 * 1024

// TransformSink is satisfied by *tf.Buffer.
type TransformSink interface {
	Set(t tf.Transform) error
}

// Inbound is one ingest datagram. Which fields matter depends on Type:
//
//	transform  parent, child, translation, rotation (stamp optional)
//	position   position
//	cmd_vel    linear, angular (body frame)
//	error      axis ("x", "y" or "z"), value
type Inbound struct {
	Type  string    `json:"type"`
	Stamp time.Time `json:"stamp,omitempty"`

	Parent      string             `json:"parent,omitempty"`
	Child       string             `json:"child,omitempty"`
	Translation frames.Vec3        `json:"translation"`
	Rotation    *frames.Quaternion `json:"rotation,omitempty"`

	Position frames.Vec3 `json:"position"`

	Linear  frames.Vec3 `json:"linear"`
	Angular frames.Vec3 `json:"angular"`

	Axis  string  `json:"axis,omitempty"`
	Value float64 `json:"value"`
}

// Listener decodes localisation inputs and routes them: transforms into the
// transform buffer, everything else into the scheduler queue.
type Listener struct {
	addr   string
	tf     TransformSink
	submit func(any) bool

	received atomic.Uint64
	rejected atomic.Uint64
	dropped  atomic.Uint64
}

func NewListener(addr string, tfs TransformSink, submit func(any) bool) *Listener {
	return &Listener{addr: addr, tf: tfs, submit: submit}
}

// Counts returns accepted, rejected and queue-dropped datagrams.
func (l *Listener) Counts() (received, rejected, dropped uint64) {
	return l.received.Load(), l.rejected.Load(), l.dropped.Load()
}

// Run listens until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	if l == nil {
		return fmt.Errorf("udp: listener is nil")
	}
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp", l.addr)
	if err != nil {
		return fmt.Errorf("udp: listen %s: %w", l.addr, err)
	}
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	monitoring.Logf("udp: ingest listening on %s", conn.LocalAddr())
	return l.serve(ctx, conn)
}

func (l *Listener) serve(ctx context.Context, conn net.PacketConn) error {
	buf := make([]byte, maxDatagram)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("udp: read: %w", err)
		}
		if err := l.Handle(buf[:n]); err != nil {
			if c := l.rejected.Load(); c == 1 || c%100 == 0 {
				monitoring.Logf("udp: rejected datagram (%d total): %v", c, err)
			}
		}
	}
}

// Handle decodes and routes one datagram.
func (l *Listener) Handle(payload []byte) error {
	err := l.route(payload)
	if err != nil {
		l.rejected.Add(1)
		return err
	}
	l.received.Add(1)
	return nil
}

func (l *Listener) route(payload []byte) error {
	var in Inbound
	if err := json.Unmarshal(payload, &in); err != nil {
		return fmt.Errorf("udp: decode: %w", err)
	}
	switch in.Type {
	case "transform":
		if l.tf == nil {
			return fmt.Errorf("udp: no transform sink")
		}
		rot := frames.Identity
		if in.Rotation != nil {
			rot = *in.Rotation
		}
		return l.tf.Set(tf.Transform{
			Parent:      in.Parent,
			Child:       in.Child,
			Stamp:       in.Stamp,
			Translation: in.Translation,
			Rotation:    rot,
		})
	case "position":
		return l.forward(vision.PositionSample{Stamp: in.Stamp, Position: in.Position})
	case "cmd_vel":
		return l.forward(vision.VelocityCommand{
			Stamp: in.Stamp,
			Twist: pose.Twist{Linear: in.Linear, Angular: in.Angular},
		})
	case "error":
		var axis vision.Axis
		switch in.Axis {
		case "x":
			axis = vision.AxisX
		case "y":
			axis = vision.AxisY
		case "z":
			axis = vision.AxisZ
		default:
			return fmt.Errorf("udp: unknown error axis %q", in.Axis)
		}
		return l.forward(vision.AxisError{Stamp: in.Stamp, Axis: axis, Value: in.Value})
	case "":
		return fmt.Errorf("udp: datagram has no type")
	default:
		return fmt.Errorf("udp: unknown datagram type %q", in.Type)
	}
}

func (l *Listener) forward(sample any) error {
	if l.submit == nil {
		return fmt.Errorf("udp: no sample sink")
	}
	if !l.submit(sample) {
		l.dropped.Add(1)
	}
	return nil
}
