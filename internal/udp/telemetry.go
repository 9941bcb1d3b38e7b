package udp

import (
	"encoding/json"
	"fmt"

	"vision-nav/internal/imu"
	"vision-nav/internal/pose"
	"vision-nav/internal/rangefinder"
)

// Sender is satisfied by *Broadcaster.
type Sender interface {
	Send(payload []byte) error
}

// Envelope is the wire shape of every telemetry datagram.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Telemetry republishes odometry, remapped IMU and range readings as JSON
// datagrams.
type Telemetry struct {
	out Sender
}

func NewTelemetry(out Sender) *Telemetry {
	return &Telemetry{out: out}
}

func (t *Telemetry) PublishOdometry(o pose.Odometry) error { return t.emit("odom", o) }

func (t *Telemetry) PublishIMU(s imu.Sample) error { return t.emit("imu", s) }

func (t *Telemetry) PublishRange(r rangefinder.Reading) error { return t.emit("range", r) }

// The setpoint methods let Telemetry stand in for the flight-controller link
// on bench runs without one.

func (t *Telemetry) PublishVisionPose(p pose.Pose) error { return t.emit("vision_pose", p) }

func (t *Telemetry) PublishPositionSetpoint(p pose.Pose) error {
	return t.emit("position_setpoint", p)
}

func (t *Telemetry) PublishVelocitySetpoint(v pose.TwistStamped) error {
	return t.emit("velocity_setpoint", v)
}

func (t *Telemetry) emit(kind string, v any) error {
	if t == nil || t.out == nil {
		return fmt.Errorf("udp: telemetry has no sender")
	}
	b, err := json.Marshal(Envelope{Type: kind, Data: v})
	if err != nil {
		return fmt.Errorf("udp: encode %s: %w", kind, err)
	}
	return t.out.Send(b)
}
