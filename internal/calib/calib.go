// Package calib implements the one-shot IMU/yaw homing calibration.
//
// The calibrator sums a fixed number of samples and, when the window fills,
// freezes the means. The yaw offset it produces anchors the vehicle heading
// reference to the world frame for the rest of the process lifetime; there is
// no reset.
package calib

import (
	"math"

	"vision-nav/internal/frames"
)

// DefaultSamples is the calibration window length.
const DefaultSamples = 200

// Sample is one IMU reading fed to the calibrator.
type Sample struct {
	Gyro  frames.Vec3
	Accel frames.Vec3
	// Yaw is the raw heading (rad) decoded from the IMU orientation.
	Yaw float64
}

// Result holds the sensor biases and heading offset from a finished run.
type Result struct {
	GyroBias  frames.Vec3 `json:"gyro_bias"`
	AccelBias frames.Vec3 `json:"accel_bias"`
	MeanYaw   float64     `json:"mean_yaw"`
	// YawOffset = MeanYaw - pi/2.
	YawOffset float64 `json:"yaw_offset"`
	Samples   int     `json:"samples"`
}

// Calibrator is not safe for concurrent use; the scheduler loop owns it.
type Calibrator struct {
	n     int
	count int

	gyroSum  frames.Vec3
	accelSum frames.Vec3
	yawSum   float64

	done   bool
	result Result
}

// New returns a calibrator that completes after n samples. n <= 0 means
// DefaultSamples.
func New(n int) *Calibrator {
	if n <= 0 {
		n = DefaultSamples
	}
	return &Calibrator{n: n}
}

// Add accumulates one sample. It reports true exactly once: on the sample
// that completes the window. Samples after that are ignored.
func (c *Calibrator) Add(s Sample) bool {
	if c.done {
		return false
	}
	c.gyroSum = add(c.gyroSum, s.Gyro)
	c.accelSum = add(c.accelSum, s.Accel)
	c.yawSum += s.Yaw
	c.count++
	if c.count < c.n {
		return false
	}

	k := float64(c.n)
	mean := c.yawSum / k
	c.result = Result{
		GyroBias:  scale(c.gyroSum, 1/k),
		AccelBias: scale(c.accelSum, 1/k),
		MeanYaw:   mean,
		YawOffset: mean - math.Pi/2,
		Samples:   c.count,
	}
	c.done = true
	return true
}

func (c *Calibrator) Calibrated() bool { return c.done }

// Count is the number of samples accumulated so far.
func (c *Calibrator) Count() int { return c.count }

// Target is the window length.
func (c *Calibrator) Target() int { return c.n }

// Result returns the frozen calibration; ok is false until the window fills.
func (c *Calibrator) Result() (Result, bool) {
	if !c.done {
		return Result{}, false
	}
	return c.result, true
}

func add(a, b frames.Vec3) frames.Vec3 {
	return frames.Vec3{X: a.X + b.X, Y: a.Y + b.Y, Z: a.Z + b.Z}
}

func scale(v frames.Vec3, k float64) frames.Vec3 {
	return frames.Vec3{X: v.X * k, Y: v.Y * k, Z: v.Z * k}
}
