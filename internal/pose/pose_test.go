package pose

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vision-nav/internal/frames"
)

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func readyTrack() *Track {
	return &Track{
		ErrorUpdated:     [2]bool{true, true},
		Z:                1.25,
		Translation:      frames.Vec3{X: 1, Y: 0, Z: 0.5},
		Rotation:         frames.Quaternion{W: 1},
		TransformUpdated: true,
	}
}

func assertQuatNear(t *testing.T, want, got frames.Quaternion) {
	t.Helper()
	// q and -q are the same rotation.
	d1 := math.Abs(want.X-got.X) + math.Abs(want.Y-got.Y) + math.Abs(want.Z-got.Z) + math.Abs(want.W-got.W)
	d2 := math.Abs(want.X+got.X) + math.Abs(want.Y+got.Y) + math.Abs(want.Z+got.Z) + math.Abs(want.W+got.W)
	if d1 > 1e-9 && d2 > 1e-9 {
		t.Fatalf("quaternion got=%+v want=%+v", got, want)
	}
}

func TestEstimate_IdentityWithQuarterPiOffset(t *testing.T) {
	var e Estimator
	tr := readyTrack()

	p, ok := e.Estimate(tr, math.Pi/4, t0)
	require.True(t, ok)

	assertQuatNear(t, frames.QuaternionFromEuler(math.Pi, 0, 3*math.Pi/4), p.Orientation)
	assert.Equal(t, BodyFrame, p.FrameID)
	assert.Equal(t, t0, p.Stamp)
	// Translation (1,0) rotated by pi/4.
	assert.InDelta(t, math.Sqrt2/2, p.Position.X, 1e-9)
	assert.InDelta(t, math.Sqrt2/2, p.Position.Y, 1e-9)
	assert.Equal(t, 1.25, p.Position.Z)
	assert.True(t, e.Homed())
}

func TestEstimate_SingleConsumption(t *testing.T) {
	var e Estimator
	tr := readyTrack()

	_, ok := e.Estimate(tr, 0, t0)
	require.True(t, ok)
	assert.False(t, tr.TransformUpdated)

	_, ok = e.Estimate(tr, 0, t0.Add(50*time.Millisecond))
	assert.False(t, ok, "second estimate reused a consumed transform")

	tr.TransformUpdated = true
	_, ok = e.Estimate(tr, 0, t0.Add(100*time.Millisecond))
	assert.True(t, ok)
}

func TestEstimate_RequiresAllFlags(t *testing.T) {
	cases := []struct {
		name  string
		track Track
	}{
		{"NoX", Track{ErrorUpdated: [2]bool{false, true}, TransformUpdated: true}},
		{"NoY", Track{ErrorUpdated: [2]bool{true, false}, TransformUpdated: true}},
		{"NoTransform", Track{ErrorUpdated: [2]bool{true, true}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var e Estimator
			tr := tc.track
			_, ok := e.Estimate(&tr, 0, t0)
			assert.False(t, ok)
			assert.False(t, e.Homed())
		})
	}

	var e Estimator
	_, ok := e.Estimate(nil, 0, t0)
	assert.False(t, ok)
}

func TestEstimate_YawWrapsBeforeOrientation(t *testing.T) {
	var e Estimator
	tr := readyTrack()
	tr.Rotation = frames.QuaternionFromEuler(0, 0, 3)

	p, ok := e.Estimate(tr, 1, t0)
	require.True(t, ok)

	yaw := frames.WrapYaw(4)
	assertQuatNear(t, frames.QuaternionFromEuler(math.Pi, 0, math.Pi/2+yaw), p.Orientation)
}

func TestHomingPose(t *testing.T) {
	p := HomingPose(t0)
	assert.Equal(t, frames.Vec3{}, p.Position)
	assertQuatNear(t, frames.QuaternionFromEuler(math.Pi, 0, math.Pi/2), p.Orientation)
	assert.Equal(t, BodyFrame, p.FrameID)
}

func TestComposeOdometry_RotatesVelocityIntoHeading(t *testing.T) {
	tr := readyTrack()
	tr.Translation = frames.Vec3{X: 3, Y: 4, Z: 5}
	tr.Rotation = frames.QuaternionFromEuler(0, 0, math.Pi/2)

	o := ComposeOdometry(tr, frames.Vec3{X: 0, Y: 1, Z: 0.5}, 0.2, 0, t0)

	assert.Equal(t, OdomFrame, o.FrameID)
	assert.Equal(t, BodyFrame, o.ChildFrameID)
	assert.Equal(t, frames.Vec3{X: 3, Y: 4}, o.Pose.Position)
	assert.Equal(t, frames.Identity, o.Pose.Orientation)
	// Heading +Y: world +Y velocity is body forward.
	assert.InDelta(t, 1.0, o.Twist.Linear.X, 1e-9)
	assert.InDelta(t, 0.0, o.Twist.Linear.Y, 1e-9)
	assert.Equal(t, 0.0, o.Twist.Linear.Z)
	assert.Equal(t, 0.2, o.Twist.Angular.Z)
}
