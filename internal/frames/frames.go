// Package frames holds the rotation math shared by the vision pipeline:
// quaternion/Euler conversion, yaw-only rotation matrices and the ENU/NED
// axis swaps used at the flight-controller boundary.
//
// Euler angles use the static XYZ ("sxyz") convention: roll about X, then
// pitch about Y, then yaw about Z, all in the fixed frame.
package frames

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// eps is the quaternion-norm / gimbal threshold below which we fall back
// to the degenerate branch.
const eps = 4 * 2.220446049250313e-16

// wrapFastPath bounds the iterative wrap; larger magnitudes are reduced with
// math.Mod first so the loop stays short.
const wrapFastPath = 1 << 20

// Vec3 is a 3-vector in metres, m/s or rad/s depending on use.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Quaternion is stored x, y, z, w (scalar last).
type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// Identity is the zero rotation.
var Identity = Quaternion{W: 1}

// Euler holds sxyz roll, pitch and yaw in radians.
type Euler struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// WrapYaw folds an angle into (-pi, pi] by repeated 2*pi steps.
// NaN and infinite inputs return NaN.
func WrapYaw(yaw float64) float64 {
	if math.IsNaN(yaw) || math.IsInf(yaw, 0) {
		return math.NaN()
	}
	if math.Abs(yaw) > wrapFastPath {
		yaw = math.Mod(yaw, 2*math.Pi)
	}
	for yaw <= -math.Pi {
		yaw += 2 * math.Pi
	}
	for yaw > math.Pi {
		yaw -= 2 * math.Pi
	}
	return yaw
}

// Matrix returns the 3x3 rotation matrix of q. A zero quaternion yields the
// identity.
func (q Quaternion) Matrix() *mat.Dense {
	n := q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W
	if n < eps {
		return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	}
	s := 2 / n
	x, y, z, w := q.X, q.Y, q.Z, q.W
	return mat.NewDense(3, 3, []float64{
		1 - s*(y*y+z*z), s * (x*y - z*w), s * (x*z + y*w),
		s * (x*y + z*w), 1 - s*(x*x+z*z), s * (y*z - x*w),
		s * (x*z - y*w), s * (y*z + x*w), 1 - s*(x*x+y*y),
	})
}

// EulerFromQuaternion decomposes q into sxyz roll, pitch and yaw.
func EulerFromQuaternion(q Quaternion) Euler {
	return EulerFromMatrix(q.Matrix())
}

// EulerFromMatrix decomposes the rotation part of m (at least 3x3).
func EulerFromMatrix(m mat.Matrix) Euler {
	cy := math.Hypot(m.At(0, 0), m.At(1, 0))
	if cy > eps {
		return Euler{
			Roll:  math.Atan2(m.At(2, 1), m.At(2, 2)),
			Pitch: math.Atan2(-m.At(2, 0), cy),
			Yaw:   math.Atan2(m.At(1, 0), m.At(0, 0)),
		}
	}
	return Euler{
		Roll:  math.Atan2(-m.At(1, 2), m.At(1, 1)),
		Pitch: math.Atan2(-m.At(2, 0), cy),
	}
}

// QuaternionFromEuler builds the sxyz quaternion for roll, pitch, yaw.
func QuaternionFromEuler(roll, pitch, yaw float64) Quaternion {
	si, ci := math.Sincos(roll / 2)
	sj, cj := math.Sincos(pitch / 2)
	sk, ck := math.Sincos(yaw / 2)
	cc, cs := ci*ck, ci*sk
	sc, ss := si*ck, si*sk
	return Quaternion{
		X: cj*sc - sj*cs,
		Y: cj*ss + sj*cc,
		Z: cj*cs - sj*sc,
		W: cj*cc + sj*ss,
	}
}

// RotZ is the rotation by yaw about +Z.
func RotZ(yaw float64) *mat.Dense {
	s, c := math.Sincos(yaw)
	return mat.NewDense(3, 3, []float64{
		c, -s, 0,
		s, c, 0,
		0, 0, 1,
	})
}

// Rotate applies the 3x3 matrix m to v.
func Rotate(m mat.Matrix, v Vec3) Vec3 {
	var out mat.VecDense
	out.MulVec(m, mat.NewVecDense(3, []float64{v.X, v.Y, v.Z}))
	return Vec3{X: out.AtVec(0), Y: out.AtVec(1), Z: out.AtVec(2)}
}

// SwapENUNED converts a vector between ENU and NED. The swap is its own
// inverse.
func SwapENUNED(v Vec3) Vec3 {
	return Vec3{X: v.Y, Y: v.X, Z: -v.Z}
}

// SwapBodyFLUFRD converts a body vector between forward-left-up and
// forward-right-down. Also an involution.
func SwapBodyFLUFRD(v Vec3) Vec3 {
	return Vec3{X: v.X, Y: -v.Y, Z: -v.Z}
}

// SwapAttitudeENUNED converts an attitude between the ENU/FLU and NED/FRD
// conventions. Applying it twice returns the input (up to yaw wrap).
func SwapAttitudeENUNED(e Euler) Euler {
	return Euler{
		Roll:  e.Roll,
		Pitch: -e.Pitch,
		Yaw:   WrapYaw(math.Pi/2 - e.Yaw),
	}
}
