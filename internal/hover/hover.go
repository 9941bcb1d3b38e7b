// Package hover decides each cycle whether to relay the latest external
// velocity command or hold the vehicle at the last latched position.
package hover

import (
	"math"
	"time"

	"vision-nav/internal/frames"
	"vision-nav/internal/pose"
)

const (
	DefaultWindow   = time.Second
	DefaultAltitude = 1.0

	// SetpointFrame is stamped on hold-position setpoints.
	SetpointFrame = "base_footprint"
)

type Mode int

const (
	Hold Mode = iota
	Relay
)

func (m Mode) String() string {
	switch m {
	case Relay:
		return "relay"
	case Hold:
		return "hold"
	default:
		return "unknown"
	}
}

type Config struct {
	// Window is the freshness cutoff for commands (inclusive).
	Window time.Duration
	// AltitudeM is the Z of hold-position setpoints.
	AltitudeM float64
}

// Decision is the output of one Step. Exactly one of Velocity (Relay) or
// Position (Hold) is meaningful.
type Decision struct {
	Mode     Mode
	Changed  bool
	Velocity pose.TwistStamped
	Position pose.Pose
}

// Controller is owned by the scheduler loop; not safe for concurrent use.
type Controller struct {
	cfg Config

	last    pose.TwistStamped
	lastAt  time.Time
	haveCmd bool

	hoverX, hoverY float64
	mode           Mode
	stepped        bool
}

func New(cfg Config) *Controller {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.AltitudeM == 0 {
		cfg.AltitudeM = DefaultAltitude
	}
	return &Controller{cfg: cfg, mode: Hold}
}

// Command records a body-frame velocity command received at now. yaw is the
// wrapped world heading; the linear part is rotated into world ENU, linear Z
// and angular X/Y are zeroed, angular Z passes through.
func (c *Controller) Command(cmd pose.Twist, yaw float64, now time.Time) {
	v := frames.Rotate(frames.RotZ(yaw), cmd.Linear)
	c.last = pose.TwistStamped{
		Stamp:   now,
		FrameID: pose.OdomFrame,
		Twist: pose.Twist{
			Linear:  frames.Vec3{X: v.X, Y: v.Y},
			Angular: frames.Vec3{Z: cmd.Angular.Z},
		},
	}
	c.lastAt = now
	c.haveCmd = true
}

// Fresh reports whether the last command is within the window at now.
func (c *Controller) Fresh(now time.Time) bool {
	if !c.haveCmd {
		return false
	}
	return now.Sub(c.lastAt) <= c.cfg.Window
}

// Step runs one cycle. local is the latest world ENU local position; in
// Relay it becomes the latched hover point.
func (c *Controller) Step(now time.Time, local frames.Vec3, yawOffset float64) Decision {
	mode := Hold
	if c.Fresh(now) {
		mode = Relay
	}
	d := Decision{Mode: mode, Changed: !c.stepped || mode != c.mode}
	c.mode = mode
	c.stepped = true

	if mode == Relay {
		c.hoverX, c.hoverY = local.X, local.Y
		d.Velocity = c.last
		return d
	}
	d.Position = pose.Pose{
		Stamp:       now,
		FrameID:     SetpointFrame,
		Position:    frames.Vec3{X: c.hoverX, Y: c.hoverY, Z: c.cfg.AltitudeM},
		Orientation: frames.QuaternionFromEuler(math.Pi, 0, math.Pi/2+yawOffset),
	}
	return d
}

func (c *Controller) Mode() Mode { return c.mode }

// HoverXY is the latched hold point.
func (c *Controller) HoverXY() (x, y float64) { return c.hoverX, c.hoverY }

// LastCommandAt is the receipt time of the last command (zero if none).
func (c *Controller) LastCommandAt() time.Time { return c.lastAt }
