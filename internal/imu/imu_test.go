package imu

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"vision-nav/internal/calib"
	"vision-nav/internal/frames"
)

func TestRemap_AxisConventionAndBias(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := Sample{
		Stamp:              now.Add(-time.Second),
		FrameID:            "fcu",
		Orientation:        frames.QuaternionFromEuler(0.1, 0.2, 0.3),
		AngularVelocity:    frames.Vec3{X: 0.5, Y: -0.25, Z: 0.125},
		LinearAcceleration: frames.Vec3{X: 1.5, Y: -0.5, Z: 9.81},
	}
	bias := calib.Result{AccelBias: frames.Vec3{X: 0.5, Y: 0.5, Z: 9.0}}

	got := Remap(in, bias, now)
	want := Sample{
		Stamp:              now,
		FrameID:            FrameID,
		Orientation:        frames.Quaternion{},
		AngularVelocity:    frames.Vec3{X: -0.5, Y: -0.25, Z: 0.125},
		LinearAcceleration: frames.Vec3{X: -1.0, Y: -1.0, Z: 9.81},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Remap mismatch (-want +got):\n%s", diff)
	}
}

func TestCalibrationSample_DecodesYaw(t *testing.T) {
	s := Sample{
		Orientation:        frames.QuaternionFromEuler(0, 0, math.Pi/3),
		AngularVelocity:    frames.Vec3{X: 1},
		LinearAcceleration: frames.Vec3{Z: 9.81},
	}
	c := s.CalibrationSample()
	assert.InDelta(t, math.Pi/3, c.Yaw, 1e-9)
	assert.Equal(t, 1.0, c.Gyro.X)
	assert.Equal(t, 9.81, c.Accel.Z)
}
