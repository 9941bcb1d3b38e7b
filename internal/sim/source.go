// Package sim feeds the publisher with synthetic inputs so it can run on a
// bench without a flight controller, camera or rangefinder.
package sim

import (
	"context"
	"fmt"
	"math"
	"time"

	"vision-nav/internal/frames"
	"vision-nav/internal/imu"
	"vision-nav/internal/monitoring"
	"vision-nav/internal/pose"
	"vision-nav/internal/tf"
	"vision-nav/internal/vision"
)

const gravity = 9.80665

type TransformSink interface {
	Set(t tf.Transform) error
}

type SourceConfig struct {
	Vehicle Vehicle
	Rate    time.Duration
	// CommandDuty is the fraction of each period during which velocity
	// commands are sent; the rest of the period exercises hold.
	CommandDuty float64
	ParentFrame string
	ChildFrame  string
}

// Source emits transforms, IMU, local pose, position samples and velocity
// commands derived from Vehicle.
type Source struct {
	cfg    SourceConfig
	tf     TransformSink
	submit func(any) bool
}

func NewSource(cfg SourceConfig, tfs TransformSink, submit func(any) bool) *Source {
	if cfg.Rate <= 0 {
		cfg.Rate = 50 * time.Millisecond
	}
	if cfg.CommandDuty < 0 {
		cfg.CommandDuty = 0
	}
	if cfg.CommandDuty > 1 {
		cfg.CommandDuty = 1
	}
	if cfg.ParentFrame == "" {
		cfg.ParentFrame = pose.OdomFrame
	}
	if cfg.ChildFrame == "" {
		cfg.ChildFrame = pose.BodyFrame
	}
	return &Source{cfg: cfg, tf: tfs, submit: submit}
}

// Emit pushes one tick of synthetic data for now.
func (s *Source) Emit(now time.Time) error {
	st := s.cfg.Vehicle.StateAt(now)
	rot := frames.QuaternionFromEuler(0, 0, st.Yaw)

	if s.tf != nil {
		if err := s.tf.Set(tf.Transform{
			Parent:      s.cfg.ParentFrame,
			Child:       s.cfg.ChildFrame,
			Stamp:       now,
			Translation: st.Position,
			Rotation:    rot,
		}); err != nil {
			return fmt.Errorf("sim: set transform: %w", err)
		}
	}
	if s.submit == nil {
		return nil
	}

	imuYaw := frames.WrapYaw(st.Yaw + s.cfg.Vehicle.HeadingOffset + math.Pi/2)
	s.submit(imu.Sample{
		Stamp:              now,
		FrameID:            imu.FrameID,
		Orientation:        frames.QuaternionFromEuler(0, 0, imuYaw),
		AngularVelocity:    frames.Vec3{Z: st.YawRate},
		LinearAcceleration: frames.Vec3{Z: gravity},
	})
	s.submit(vision.LocalPose{Stamp: now, Position: st.Position})
	s.submit(vision.LocalVelocity{Stamp: now, Linear: st.Velocity, Angular: frames.Vec3{Z: st.YawRate}})
	s.submit(vision.PositionSample{Stamp: now, Position: st.Position})

	if s.cfg.Vehicle.Phase(now) < s.cfg.CommandDuty {
		speed := math.Hypot(st.Velocity.X, st.Velocity.Y)
		s.submit(vision.VelocityCommand{
			Stamp: now,
			Twist: pose.Twist{Linear: frames.Vec3{X: speed}, Angular: frames.Vec3{Z: st.YawRate}},
		})
	}
	return nil
}

// Run emits at the configured rate until ctx is cancelled.
func (s *Source) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("sim: source is nil")
	}
	monitoring.Logf("sim: synthetic source running rate=%s radius=%.1fm period=%s", s.cfg.Rate, s.cfg.Vehicle.withDefaults().RadiusM, s.cfg.Vehicle.withDefaults().Period)
	tick := time.NewTicker(s.cfg.Rate)
	defer tick.Stop()
	failed := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-tick.C:
			err := s.Emit(now.UTC())
			if err != nil && !failed {
				monitoring.Logf("%v", err)
			}
			failed = err != nil
		}
	}
}
