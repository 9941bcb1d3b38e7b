// Package mavlink is the flight-controller side of the publisher. It turns
// autopilot telemetry into scheduler samples and encodes vision poses,
// setpoints and range readings as MAVLink messages.
//
// The vehicle side speaks NED/FRD; everything inside the process is ENU/FLU.
// Conversions happen here and nowhere else.
package mavlink

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"vision-nav/internal/frames"
	"vision-nav/internal/imu"
	"vision-nav/internal/monitoring"
	"vision-nav/internal/pose"
	"vision-nav/internal/rangefinder"
	"vision-nav/internal/vision"
)

const (
	// DefaultComponentID is MAV_COMP_ID_VISUAL_INERTIAL_ODOMETRY.
	DefaultComponentID = 197
	DefaultSystemID    = 1
)

type Config struct {
	// Endpoint is parsed by ParseEndpoint.
	Endpoint        string
	SystemID        int
	ComponentID     int
	TargetSystem    int
	TargetComponent int
}

type Snapshot struct {
	Endpoint      string    `json:"endpoint"`
	FramesIn      uint64    `json:"frames_in"`
	MessagesOut   uint64    `json:"messages_out"`
	Dropped       uint64    `json:"dropped"`
	IMUSkipped    uint64    `json:"imu_skipped"`
	LastHeartbeat time.Time `json:"last_heartbeat,omitempty"`
}

// Link owns one gomavlib node. Publish methods are safe for concurrent use.
type Link struct {
	cfg   Config
	node  *gomavlib.Node
	send  func(message.Message) error
	now   func() time.Time
	start time.Time

	framesIn    atomic.Uint64
	messagesOut atomic.Uint64
	dropped     atomic.Uint64
	imuSkipped  atomic.Uint64

	mu            sync.Mutex
	lastHeartbeat time.Time

	// Event-loop owned.
	orientation  frames.Quaternion
	yawRate      float64
	haveAttitude bool
}

// Open parses the endpoint and starts the node. gomavlib emits the 1 Hz
// heartbeat on its own.
func Open(cfg Config) (*Link, error) {
	ep, err := ParseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	cfg = withDefaults(cfg)
	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints:      []gomavlib.EndpointConf{ep},
		Dialect:        common.Dialect,
		OutVersion:     gomavlib.V2,
		OutSystemID:    byte(cfg.SystemID),
		OutComponentID: byte(cfg.ComponentID),
	})
	if err != nil {
		return nil, fmt.Errorf("mavlink: open %s: %w", cfg.Endpoint, err)
	}
	l := newLink(cfg, func(m message.Message) error {
		node.WriteMessageAll(m)
		return nil
	})
	l.node = node
	monitoring.Logf("mavlink: endpoint %s open sys=%d comp=%d", cfg.Endpoint, cfg.SystemID, cfg.ComponentID)
	return l, nil
}

func withDefaults(cfg Config) Config {
	if cfg.SystemID <= 0 {
		cfg.SystemID = DefaultSystemID
	}
	if cfg.ComponentID <= 0 {
		cfg.ComponentID = DefaultComponentID
	}
	if cfg.TargetSystem <= 0 {
		cfg.TargetSystem = 1
	}
	if cfg.TargetComponent <= 0 {
		cfg.TargetComponent = 1
	}
	return cfg
}

func newLink(cfg Config, send func(message.Message) error) *Link {
	now := func() time.Time { return time.Now().UTC() }
	return &Link{
		cfg:         withDefaults(cfg),
		send:        send,
		now:         now,
		start:       now(),
		orientation: frames.Identity,
	}
}

func (l *Link) Close() {
	if l == nil || l.node == nil {
		return
	}
	l.node.Close()
}

func (l *Link) Snapshot() Snapshot {
	if l == nil {
		return Snapshot{}
	}
	l.mu.Lock()
	hb := l.lastHeartbeat
	l.mu.Unlock()
	return Snapshot{
		Endpoint:      l.cfg.Endpoint,
		FramesIn:      l.framesIn.Load(),
		MessagesOut:   l.messagesOut.Load(),
		Dropped:       l.dropped.Load(),
		IMUSkipped:    l.imuSkipped.Load(),
		LastHeartbeat: hb,
	}
}

// Discard is a submit callback for nodes that only publish. It accepts and
// ignores every sample, so nothing is counted as dropped.
func Discard(any) bool { return true }

// Run reads node events until ctx is cancelled and forwards decoded samples
// to submit.
func (l *Link) Run(ctx context.Context, submit func(any) bool) error {
	if l == nil || l.node == nil {
		return fmt.Errorf("mavlink: link is not open")
	}
	if submit == nil {
		return fmt.Errorf("mavlink: submit is nil")
	}
	events := l.node.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-events:
			if !ok {
				return fmt.Errorf("mavlink: event channel closed")
			}
			switch e := evt.(type) {
			case *gomavlib.EventChannelOpen:
				monitoring.Logf("mavlink: channel open %v", e.Channel)
			case *gomavlib.EventChannelClose:
				monitoring.Logf("mavlink: channel closed %v", e.Channel)
			case *gomavlib.EventFrame:
				l.handle(e.Message(), submit)
			}
		}
	}
}

func (l *Link) handle(msg message.Message, submit func(any) bool) {
	l.framesIn.Add(1)
	now := l.now()
	forward := func(sample any) {
		if !submit(sample) {
			l.dropped.Add(1)
		}
	}

	switch m := msg.(type) {
	case *common.MessageHeartbeat:
		l.mu.Lock()
		l.lastHeartbeat = now
		l.mu.Unlock()

	case *common.MessageAttitudeQuaternion:
		// Q1 is the scalar part.
		q := frames.Quaternion{X: float64(m.Q2), Y: float64(m.Q3), Z: float64(m.Q4), W: float64(m.Q1)}
		e := frames.SwapAttitudeENUNED(frames.EulerFromQuaternion(q))
		l.orientation = frames.QuaternionFromEuler(e.Roll, e.Pitch, e.Yaw)
		l.yawRate = -float64(m.Yawspeed)
		l.haveAttitude = true

	case *common.MessageHighresImu:
		// Calibration averages the heading, so no sample leaves without one.
		if !l.haveAttitude {
			l.imuSkipped.Add(1)
			return
		}
		accel := frames.SwapBodyFLUFRD(frames.Vec3{X: float64(m.Xacc), Y: float64(m.Yacc), Z: float64(m.Zacc)})
		gyro := frames.SwapBodyFLUFRD(frames.Vec3{X: float64(m.Xgyro), Y: float64(m.Ygyro), Z: float64(m.Zgyro)})
		forward(imu.Sample{
			Stamp:              now,
			FrameID:            imu.FrameID,
			Orientation:        l.orientation,
			AngularVelocity:    gyro,
			LinearAcceleration: accel,
		})

	case *common.MessageLocalPositionNed:
		forward(vision.LocalPose{
			Stamp:    now,
			Position: frames.SwapENUNED(frames.Vec3{X: float64(m.X), Y: float64(m.Y), Z: float64(m.Z)}),
		})
		forward(vision.LocalVelocity{
			Stamp:   now,
			Linear:  frames.SwapENUNED(frames.Vec3{X: float64(m.Vx), Y: float64(m.Vy), Z: float64(m.Vz)}),
			Angular: frames.Vec3{Z: l.yawRate},
		})

	case *common.MessageGlobalPositionInt:
		forward(vision.GlobalFix{
			Stamp:  now,
			LatDeg: float64(m.Lat) / 1e7,
			LonDeg: float64(m.Lon) / 1e7,
			AltM:   float64(m.Alt) / 1000,
		})
	}
}

func (l *Link) timeBootMs() uint32 {
	return uint32(l.now().Sub(l.start) / time.Millisecond)
}

func (l *Link) write(m message.Message) error {
	if l == nil || l.send == nil {
		return fmt.Errorf("mavlink: link is not open")
	}
	if err := l.send(m); err != nil {
		return fmt.Errorf("mavlink: write %T: %w", m, err)
	}
	l.messagesOut.Add(1)
	return nil
}

// PublishVisionPose sends VISION_POSITION_ESTIMATE.
func (l *Link) PublishVisionPose(p pose.Pose) error {
	if l == nil {
		return fmt.Errorf("mavlink: link is nil")
	}
	pos := frames.SwapENUNED(p.Position)
	att := frames.SwapAttitudeENUNED(frames.EulerFromQuaternion(p.Orientation))
	return l.write(&common.MessageVisionPositionEstimate{
		Usec:  uint64(p.Stamp.UnixMicro()),
		X:     float32(pos.X),
		Y:     float32(pos.Y),
		Z:     float32(pos.Z),
		Roll:  float32(att.Roll),
		Pitch: float32(att.Pitch),
		Yaw:   float32(att.Yaw),
	})
}

const (
	ignoreVelocity = common.POSITION_TARGET_TYPEMASK_VX_IGNORE |
		common.POSITION_TARGET_TYPEMASK_VY_IGNORE |
		common.POSITION_TARGET_TYPEMASK_VZ_IGNORE
	ignorePosition = common.POSITION_TARGET_TYPEMASK_X_IGNORE |
		common.POSITION_TARGET_TYPEMASK_Y_IGNORE |
		common.POSITION_TARGET_TYPEMASK_Z_IGNORE
	ignoreAccel = common.POSITION_TARGET_TYPEMASK_AX_IGNORE |
		common.POSITION_TARGET_TYPEMASK_AY_IGNORE |
		common.POSITION_TARGET_TYPEMASK_AZ_IGNORE

	positionMask = ignoreVelocity | ignoreAccel | common.POSITION_TARGET_TYPEMASK_YAW_RATE_IGNORE
	velocityMask = ignorePosition | ignoreAccel | common.POSITION_TARGET_TYPEMASK_YAW_IGNORE
)

// PublishPositionSetpoint sends a position-only SET_POSITION_TARGET_LOCAL_NED.
func (l *Link) PublishPositionSetpoint(p pose.Pose) error {
	if l == nil {
		return fmt.Errorf("mavlink: link is nil")
	}
	pos := frames.SwapENUNED(p.Position)
	att := frames.SwapAttitudeENUNED(frames.EulerFromQuaternion(p.Orientation))
	return l.write(&common.MessageSetPositionTargetLocalNed{
		TimeBootMs:      l.timeBootMs(),
		TargetSystem:    uint8(l.cfg.TargetSystem),
		TargetComponent: uint8(l.cfg.TargetComponent),
		CoordinateFrame: common.MAV_FRAME_LOCAL_NED,
		TypeMask:        positionMask,
		X:               float32(pos.X),
		Y:               float32(pos.Y),
		Z:               float32(pos.Z),
		Yaw:             float32(att.Yaw),
	})
}

// PublishVelocitySetpoint sends a velocity-only SET_POSITION_TARGET_LOCAL_NED.
func (l *Link) PublishVelocitySetpoint(t pose.TwistStamped) error {
	if l == nil {
		return fmt.Errorf("mavlink: link is nil")
	}
	v := frames.SwapENUNED(t.Twist.Linear)
	return l.write(&common.MessageSetPositionTargetLocalNed{
		TimeBootMs:      l.timeBootMs(),
		TargetSystem:    uint8(l.cfg.TargetSystem),
		TargetComponent: uint8(l.cfg.TargetComponent),
		CoordinateFrame: common.MAV_FRAME_LOCAL_NED,
		TypeMask:        velocityMask,
		Vx:              float32(v.X),
		Vy:              float32(v.Y),
		Vz:              float32(v.Z),
		// Yaw rate about up becomes yaw rate about down.
		YawRate: float32(-t.Twist.Angular.Z),
	})
}

// PublishRange sends DISTANCE_SENSOR for a downward-facing laser.
func (l *Link) PublishRange(r rangefinder.Reading) error {
	if l == nil {
		return fmt.Errorf("mavlink: link is nil")
	}
	return l.write(&common.MessageDistanceSensor{
		TimeBootMs:      l.timeBootMs(),
		MinDistance:     uint16(r.MinM * 100),
		MaxDistance:     uint16(r.MaxM * 100),
		CurrentDistance: uint16(r.RangeM*100 + 0.5),
		Type:            common.MAV_DISTANCE_SENSOR_LASER,
		Id:              uint8(r.ID),
		Orientation:     common.MAV_SENSOR_ROTATION_PITCH_270,
	})
}
