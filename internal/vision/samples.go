package vision

import (
	"time"

	"vision-nav/internal/frames"
	"vision-nav/internal/pose"
)

// Samples accepted by Service.Submit besides imu.Sample. A zero Stamp is
// replaced with the receipt time.

// LocalPose is the flight controller's local position, world ENU.
type LocalPose struct {
	Stamp    time.Time
	Position frames.Vec3
}

// LocalVelocity is the flight controller's local velocity, world ENU.
type LocalVelocity struct {
	Stamp   time.Time
	Linear  frames.Vec3
	Angular frames.Vec3
}

// PositionSample is an external localisation fix (simulator model state or
// position-error estimator). It sets both position-error flags.
type PositionSample struct {
	Stamp    time.Time
	Position frames.Vec3
}

type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

// AxisError is a single-axis position-error sample. X and Y set their
// respective error flag; Z updates the published altitude.
type AxisError struct {
	Stamp time.Time
	Axis  Axis
	Value float64
}

// GlobalFix marks that the flight controller has a global position.
type GlobalFix struct {
	Stamp  time.Time
	LatDeg float64
	LonDeg float64
	AltM   float64
}

// VelocityCommand is an external body-frame velocity command.
type VelocityCommand struct {
	Stamp time.Time
	Twist pose.Twist
	// Received is set by Submit from the local clock and drives the hover
	// freshness window. Stamp is kept as sent.
	Received time.Time
}
