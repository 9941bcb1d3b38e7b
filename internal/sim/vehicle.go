package sim

import (
	"math"
	"time"

	"vision-nav/internal/frames"
)

// Vehicle flies a deterministic figure-eight in the local ENU frame.
type Vehicle struct {
	RadiusM   float64
	AltitudeM float64
	Period    time.Duration
	// HeadingOffset is the yaw (rad) between the IMU heading reference and
	// the odometry frame, minus the pi/2 the calibrator removes.
	HeadingOffset float64
}

// State is the vehicle kinematics at one instant.
type State struct {
	Position frames.Vec3
	Velocity frames.Vec3
	Yaw      float64
	YawRate  float64
}

func (v Vehicle) withDefaults() Vehicle {
	if v.RadiusM <= 0 {
		v.RadiusM = 5
	}
	if v.AltitudeM == 0 {
		v.AltitudeM = 1
	}
	if v.Period <= 0 {
		v.Period = 60 * time.Second
	}
	return v
}

// Phase is the position within the period, in [0, 1).
func (v Vehicle) Phase(now time.Time) float64 {
	v = v.withDefaults()
	return float64(now.UnixNano()%v.Period.Nanoseconds()) / float64(v.Period.Nanoseconds())
}

// StateAt returns position, velocity and heading at now.
//
//	x = R cos(w)    y = R/2 sin(2w)    z = altitude
func (v Vehicle) StateAt(now time.Time) State {
	v = v.withDefaults()
	w := 2 * math.Pi * v.Phase(now)
	k := 2 * math.Pi / v.Period.Seconds()

	vx := -v.RadiusM * k * math.Sin(w)
	vy := v.RadiusM * k * math.Cos(2*w)
	ax := -v.RadiusM * k * k * math.Cos(w)
	ay := -2 * v.RadiusM * k * k * math.Sin(2*w)

	// Heading follows the velocity; its rate is (v x a) / |v|^2.
	speed2 := vx*vx + vy*vy
	yawRate := 0.0
	if speed2 > 1e-12 {
		yawRate = (vx*ay - vy*ax) / speed2
	}

	return State{
		Position: frames.Vec3{X: v.RadiusM * math.Cos(w), Y: 0.5 * v.RadiusM * math.Sin(2*w), Z: v.AltitudeM},
		Velocity: frames.Vec3{X: vx, Y: vy},
		Yaw:      math.Atan2(vy, vx),
		YawRate:  yawRate,
	}
}
