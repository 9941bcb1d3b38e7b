// Package pose composes the vision pose estimate and the odometry republish
// from the latest transform, the calibrated yaw offset and the external
// position samples.
package pose

import (
	"math"
	"time"

	"vision-nav/internal/frames"
)

const (
	// BodyFrame is stamped on vision pose estimates.
	BodyFrame = "base_link"
	// OdomFrame is the parent frame of odometry and velocity setpoints.
	OdomFrame = "odom"
)

// Pose is a stamped position and orientation in FrameID.
type Pose struct {
	Stamp       time.Time         `json:"stamp"`
	FrameID     string            `json:"frame_id"`
	Position    frames.Vec3       `json:"position"`
	Orientation frames.Quaternion `json:"orientation"`
}

// Twist is a linear and angular velocity pair.
type Twist struct {
	Linear  frames.Vec3 `json:"linear"`
	Angular frames.Vec3 `json:"angular"`
}

type TwistStamped struct {
	Stamp   time.Time `json:"stamp"`
	FrameID string    `json:"frame_id"`
	Twist   Twist     `json:"twist"`
}

// Odometry pairs a pose in FrameID with a twist in ChildFrameID.
type Odometry struct {
	Stamp        time.Time `json:"stamp"`
	FrameID      string    `json:"frame_id"`
	ChildFrameID string    `json:"child_frame_id"`
	Pose         Pose      `json:"pose"`
	Twist        Twist     `json:"twist"`
}

// Track is the scheduler-owned input of the estimator. Callers update it
// from samples; Estimate consumes TransformUpdated.
type Track struct {
	// ErrorUpdated flags the X and Y position-error inputs as seen.
	ErrorUpdated [2]bool
	// Error holds the last raw position-error sample.
	Error frames.Vec3
	// Z is the altitude published with each pose.
	Z float64

	Translation      frames.Vec3
	Rotation         frames.Quaternion
	TransformUpdated bool
}

// Ready reports whether Estimate would publish.
func (t *Track) Ready() bool {
	return t.ErrorUpdated[0] && t.ErrorUpdated[1] && t.TransformUpdated
}

// Estimator turns tracks into published poses. It remembers whether a pose
// has been published (homed).
type Estimator struct {
	homed bool
}

func (e *Estimator) Homed() bool { return e.homed }

// Estimate composes a pose when both error flags and the transform flag are
// set. The transform flag is cleared so each transform update yields at most
// one pose.
func (e *Estimator) Estimate(t *Track, yawOffset float64, now time.Time) (Pose, bool) {
	if t == nil || !t.Ready() {
		return Pose{}, false
	}
	e.homed = true

	att := frames.EulerFromQuaternion(t.Rotation)
	yaw := frames.WrapYaw(yawOffset + att.Yaw)

	p := frames.Rotate(frames.RotZ(yaw), t.Translation)
	t.Error.X, t.Error.Y = p.X, p.Y
	t.TransformUpdated = false

	return Pose{
		Stamp:       now,
		FrameID:     BodyFrame,
		Position:    frames.Vec3{X: p.X, Y: p.Y, Z: t.Z},
		Orientation: frames.QuaternionFromEuler(math.Pi+att.Roll, att.Pitch, math.Pi/2+yaw),
	}, true
}

// HomingPose anchors the heading reference: zero position, orientation
// (pi, 0, pi/2).
func HomingPose(now time.Time) Pose {
	return Pose{
		Stamp:       now,
		FrameID:     BodyFrame,
		Orientation: frames.QuaternionFromEuler(math.Pi, 0, math.Pi/2),
	}
}

// ComposeOdometry republishes the transform translation with the world-frame
// velocity rotated back into the body heading.
func ComposeOdometry(t *Track, velocity frames.Vec3, yawRate, yawOffset float64, now time.Time) Odometry {
	att := frames.EulerFromQuaternion(t.Rotation)
	yaw := frames.WrapYaw(yawOffset + att.Yaw)
	v := frames.Rotate(frames.RotZ(-yaw), velocity)

	return Odometry{
		Stamp:        now,
		FrameID:      OdomFrame,
		ChildFrameID: BodyFrame,
		Pose: Pose{
			Stamp:       now,
			FrameID:     OdomFrame,
			Position:    frames.Vec3{X: t.Translation.X, Y: t.Translation.Y},
			Orientation: frames.Identity,
		},
		Twist: Twist{
			Linear:  frames.Vec3{X: v.X, Y: v.Y},
			Angular: frames.Vec3{Z: yawRate},
		},
	}
}
