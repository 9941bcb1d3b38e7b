package mavlink

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vision-nav/internal/frames"
	"vision-nav/internal/imu"
	"vision-nav/internal/pose"
	"vision-nav/internal/rangefinder"
	"vision-nav/internal/vision"
)

const tol = 1e-5

type capture struct {
	msgs []message.Message
	err  error
}

func (c *capture) send(m message.Message) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, m)
	return nil
}

func newTestLink(t *testing.T) (*Link, *capture) {
	t.Helper()
	c := &capture{}
	l := newLink(Config{Endpoint: "udp-client:127.0.0.1:14550"}, c.send)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.start = base
	l.now = func() time.Time { return base.Add(1500 * time.Millisecond) }
	return l, c
}

func TestParseEndpoint(t *testing.T) {
	cases := []struct {
		in   string
		want gomavlib.EndpointConf
	}{
		{"udp-server:0.0.0.0:14550", gomavlib.EndpointUDPServer{Address: "0.0.0.0:14550"}},
		{"udp-client:192.168.2.1:14550", gomavlib.EndpointUDPClient{Address: "192.168.2.1:14550"}},
		{"udp-broadcast:192.168.2.255:14550", gomavlib.EndpointUDPBroadcast{BroadcastAddress: "192.168.2.255:14550"}},
		{"tcp-server:0.0.0.0:5760", gomavlib.EndpointTCPServer{Address: "0.0.0.0:5760"}},
		{"tcp-client:127.0.0.1:5760", gomavlib.EndpointTCPClient{Address: "127.0.0.1:5760"}},
		{"serial:/dev/ttyAMA0:921600", gomavlib.EndpointSerial{Device: "/dev/ttyAMA0", Baud: 921600}},
	}
	for _, tc := range cases {
		got, err := ParseEndpoint(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestParseEndpoint_Errors(t *testing.T) {
	for _, in := range []string{"", "udp-server", "udp-server:", "ws:host:1", "serial:/dev/ttyS0", "serial:/dev/ttyS0:fast", "serial::9600"} {
		_, err := ParseEndpoint(in)
		assert.Error(t, err, in)
	}
}

func TestPublishVisionPose_ConvertsToNED(t *testing.T) {
	l, c := newTestLink(t)
	stamp := time.UnixMicro(1_700_000_000_123_456)
	// Facing +Y in ENU is facing north.
	p := pose.Pose{
		Stamp:       stamp,
		Position:    frames.Vec3{X: 1, Y: 2, Z: 3},
		Orientation: frames.QuaternionFromEuler(0.1, 0.2, math.Pi/2),
	}
	require.NoError(t, l.PublishVisionPose(p))
	require.Len(t, c.msgs, 1)

	m, ok := c.msgs[0].(*common.MessageVisionPositionEstimate)
	require.True(t, ok)
	assert.Equal(t, uint64(stamp.UnixMicro()), m.Usec)
	assert.Equal(t, float32(2), m.X)
	assert.Equal(t, float32(1), m.Y)
	assert.Equal(t, float32(-3), m.Z)
	assert.InDelta(t, 0.1, float64(m.Roll), tol)
	assert.InDelta(t, -0.2, float64(m.Pitch), tol)
	assert.InDelta(t, 0.0, float64(m.Yaw), tol)
	assert.Equal(t, uint64(1), l.Snapshot().MessagesOut)
}

func TestPublishPositionSetpoint(t *testing.T) {
	l, c := newTestLink(t)
	p := pose.Pose{Position: frames.Vec3{X: 4, Y: -1, Z: 1}, Orientation: frames.QuaternionFromEuler(math.Pi, 0, math.Pi/2)}
	require.NoError(t, l.PublishPositionSetpoint(p))

	m, ok := c.msgs[0].(*common.MessageSetPositionTargetLocalNed)
	require.True(t, ok)
	assert.Equal(t, uint32(1500), m.TimeBootMs)
	assert.Equal(t, uint8(1), m.TargetSystem)
	assert.Equal(t, common.MAV_FRAME_LOCAL_NED, m.CoordinateFrame)
	assert.Equal(t, positionMask, m.TypeMask)
	assert.NotZero(t, m.TypeMask&common.POSITION_TARGET_TYPEMASK_VX_IGNORE)
	assert.Zero(t, m.TypeMask&common.POSITION_TARGET_TYPEMASK_X_IGNORE)
	assert.Equal(t, float32(-1), m.X)
	assert.Equal(t, float32(4), m.Y)
	assert.Equal(t, float32(-1), m.Z)
}

func TestPublishVelocitySetpoint(t *testing.T) {
	l, c := newTestLink(t)
	tw := pose.TwistStamped{Twist: pose.Twist{
		Linear:  frames.Vec3{X: 0.5, Y: 1.5},
		Angular: frames.Vec3{Z: 0.25},
	}}
	require.NoError(t, l.PublishVelocitySetpoint(tw))

	m, ok := c.msgs[0].(*common.MessageSetPositionTargetLocalNed)
	require.True(t, ok)
	assert.Equal(t, velocityMask, m.TypeMask)
	assert.Zero(t, m.TypeMask&common.POSITION_TARGET_TYPEMASK_VX_IGNORE)
	assert.Equal(t, float32(1.5), m.Vx)
	assert.Equal(t, float32(0.5), m.Vy)
	assert.Equal(t, float32(0), m.Vz)
	assert.Equal(t, float32(-0.25), m.YawRate)
}

func TestPublishRange(t *testing.T) {
	l, c := newTestLink(t)
	r := rangefinder.Reading{ID: 2, RangeM: 1.234, MinM: rangefinder.MinM, MaxM: rangefinder.MaxM}
	require.NoError(t, l.PublishRange(r))

	m, ok := c.msgs[0].(*common.MessageDistanceSensor)
	require.True(t, ok)
	assert.Equal(t, uint16(123), m.CurrentDistance)
	assert.Equal(t, uint16(20), m.MinDistance)
	assert.Equal(t, uint16(1400), m.MaxDistance)
	assert.Equal(t, uint8(2), m.Id)
	assert.Equal(t, common.MAV_DISTANCE_SENSOR_LASER, m.Type)
	assert.Equal(t, common.MAV_SENSOR_ROTATION_PITCH_270, m.Orientation)
}

func TestPublish_WriteErrorWrapped(t *testing.T) {
	l, c := newTestLink(t)
	c.err = errors.New("boom")
	err := l.PublishVelocitySetpoint(pose.TwistStamped{})
	require.Error(t, err)
	assert.ErrorIs(t, err, c.err)
	assert.Equal(t, uint64(0), l.Snapshot().MessagesOut)

	var nilLink *Link
	assert.Error(t, nilLink.PublishVisionPose(pose.Pose{}))
	assert.Error(t, nilLink.PublishRange(rangefinder.Reading{}))
}

func TestHandle_IMUUsesLatestAttitude(t *testing.T) {
	l, _ := newTestLink(t)
	var got []any
	submit := func(v any) bool { got = append(got, v); return true }

	// Level, heading north in NED.
	l.handle(&common.MessageAttitudeQuaternion{Q1: 1, Yawspeed: 0.5}, submit)
	l.handle(&common.MessageHighresImu{Xacc: 0.1, Yacc: 0.2, Zacc: -9.8, Xgyro: 0.01, Ygyro: 0.02, Zgyro: 0.03}, submit)

	require.Len(t, got, 1)
	s, ok := got[0].(imu.Sample)
	require.True(t, ok)
	assert.Equal(t, imu.FrameID, s.FrameID)
	assert.InDelta(t, 0.1, s.LinearAcceleration.X, tol)
	assert.InDelta(t, -0.2, s.LinearAcceleration.Y, tol)
	assert.InDelta(t, 9.8, s.LinearAcceleration.Z, tol)
	assert.InDelta(t, -0.03, s.AngularVelocity.Z, tol)
	assert.InDelta(t, math.Pi/2, frames.EulerFromQuaternion(s.Orientation).Yaw, tol)
	assert.Equal(t, -0.5, l.yawRate)
}

func TestHandle_IMUWaitsForFirstAttitude(t *testing.T) {
	l, _ := newTestLink(t)
	var got []any
	submit := func(v any) bool { got = append(got, v); return true }

	l.handle(&common.MessageHighresImu{Zacc: -9.8}, submit)
	l.handle(&common.MessageHighresImu{Zacc: -9.8}, submit)
	assert.Empty(t, got)
	snap := l.Snapshot()
	assert.Equal(t, uint64(2), snap.IMUSkipped)
	assert.Equal(t, uint64(0), snap.Dropped)

	// Heading east in NED is north in ENU.
	q := frames.QuaternionFromEuler(0, 0, math.Pi/2)
	l.handle(&common.MessageAttitudeQuaternion{Q1: float32(q.W), Q2: float32(q.X), Q3: float32(q.Y), Q4: float32(q.Z)}, submit)
	l.handle(&common.MessageHighresImu{Zacc: -9.8}, submit)

	require.Len(t, got, 1)
	s := got[0].(imu.Sample)
	assert.InDelta(t, 0.0, frames.EulerFromQuaternion(s.Orientation).Yaw, 1e-6)
	assert.Equal(t, uint64(2), l.Snapshot().IMUSkipped)
}

func TestHandle_LocalPositionAndGlobalFix(t *testing.T) {
	l, _ := newTestLink(t)
	var got []any
	submit := func(v any) bool { got = append(got, v); return len(got) < 3 }

	l.handle(&common.MessageLocalPositionNed{X: 1, Y: 2, Z: -3, Vx: 0.5, Vy: -0.5, Vz: 0.1}, submit)
	l.handle(&common.MessageGlobalPositionInt{Lat: 471234567, Lon: 85000000, Alt: 420500}, submit)

	require.Len(t, got, 3)
	lp := got[0].(vision.LocalPose)
	assert.Equal(t, frames.Vec3{X: 2, Y: 1, Z: 3}, lp.Position)
	lv := got[1].(vision.LocalVelocity)
	assert.InDelta(t, -0.5, lv.Linear.X, tol)
	assert.InDelta(t, 0.5, lv.Linear.Y, tol)
	assert.InDelta(t, -0.1, lv.Linear.Z, tol)
	gf := got[2].(vision.GlobalFix)
	assert.InDelta(t, 47.1234567, gf.LatDeg, 1e-9)
	assert.InDelta(t, 8.5, gf.LonDeg, 1e-9)
	assert.InDelta(t, 420.5, gf.AltM, 1e-9)

	snap := l.Snapshot()
	assert.Equal(t, uint64(2), snap.FramesIn)
	assert.Equal(t, uint64(1), snap.Dropped)
}

func TestHandle_DiscardCountsNothingDropped(t *testing.T) {
	l, _ := newTestLink(t)
	l.handle(&common.MessageAttitudeQuaternion{Q1: 1}, Discard)
	l.handle(&common.MessageHighresImu{Zacc: -9.8}, Discard)
	l.handle(&common.MessageLocalPositionNed{X: 1}, Discard)
	l.handle(&common.MessageGlobalPositionInt{Lat: 1}, Discard)

	snap := l.Snapshot()
	assert.Equal(t, uint64(4), snap.FramesIn)
	assert.Equal(t, uint64(0), snap.Dropped)
}

func TestHandle_Heartbeat(t *testing.T) {
	l, _ := newTestLink(t)
	l.handle(&common.MessageHeartbeat{}, func(any) bool { return true })
	assert.Equal(t, l.now(), l.Snapshot().LastHeartbeat)
}

func TestRun_RequiresOpenLink(t *testing.T) {
	l, _ := newTestLink(t)
	assert.Error(t, l.Run(context.Background(), func(any) bool { return true }))
}
