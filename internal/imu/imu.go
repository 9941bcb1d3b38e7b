package imu

import (
	"time"

	"vision-nav/internal/calib"
	"vision-nav/internal/frames"
)

// FrameID is the frame stamped on republished samples.
const FrameID = "imu_link"

// Sample is one inertial measurement in the body FLU frame.
type Sample struct {
	Stamp              time.Time         `json:"stamp"`
	FrameID            string            `json:"frame_id"`
	Orientation        frames.Quaternion `json:"orientation"`
	AngularVelocity    frames.Vec3       `json:"angular_velocity"`
	LinearAcceleration frames.Vec3       `json:"linear_acceleration"`
}

// CalibrationSample extracts what the yaw calibrator accumulates.
func (s Sample) CalibrationSample() calib.Sample {
	return calib.Sample{
		Gyro:  s.AngularVelocity,
		Accel: s.LinearAcceleration,
		Yaw:   frames.EulerFromQuaternion(s.Orientation).Yaw,
	}
}

// Remap produces the republished sample. The horizontal accelerometer bias
// from calibration is removed, then X axes are negated:
//
//	ax' = -(ax - bias.x)   ay' = ay - bias.y   az' = az
//	wx' = -wx              wy' = wy            wz' = wz
//
// Orientation is zeroed (all four components) so consumers fuse only the
// rates and accelerations.
func Remap(s Sample, bias calib.Result, now time.Time) Sample {
	ax := s.LinearAcceleration.X - bias.AccelBias.X
	ay := s.LinearAcceleration.Y - bias.AccelBias.Y
	return Sample{
		Stamp:   now,
		FrameID: FrameID,
		AngularVelocity: frames.Vec3{
			X: -s.AngularVelocity.X,
			Y: s.AngularVelocity.Y,
			Z: s.AngularVelocity.Z,
		},
		LinearAcceleration: frames.Vec3{
			X: -ax,
			Y: ay,
			Z: s.LinearAcceleration.Z,
		},
	}
}
