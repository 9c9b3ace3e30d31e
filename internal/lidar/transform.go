package lidar

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// Vec3 is a Cartesian 3-vector. Positions and translations are in metres,
// accelerations in m/s² and angular rates in rad/s.
type Vec3 [3]float64

// Add returns v + o.
func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v[0] + o[0], v[1] + o[1], v[2] + o[2]} }

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v[0] - o[0], v[1] - o[1], v[2] - o[2]} }

// Scale returns s·v.
func (v Vec3) Scale(s float64) Vec3 { return Vec3{v[0] * s, v[1] * s, v[2] * s} }

// Dot returns the inner product of v and o.
func (v Vec3) Dot(o Vec3) float64 { return v[0]*o[0] + v[1]*o[1] + v[2]*o[2] }

// Norm returns the Euclidean length of v.
func (v Vec3) Norm() float64 { return math.Sqrt(v.Dot(v)) }

// Transform is a 4x4 homogeneous rigid transform stored row-major:
// m00,m01,m02,m03, m10,...,m33. The layout matches Pose.T.
type Transform [16]float64

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Translation returns a pure translation by (x, y, z).
func Translation(x, y, z float64) Transform {
	t := Identity()
	t[3], t[7], t[11] = x, y, z
	return t
}

// NewTransform builds a transform from a position and an orientation.
// The quaternion is normalized before use.
func NewTransform(p Vec3, q quat.Number) Transform {
	r := QuatToRotation(q)
	return Transform{
		r[0], r[1], r[2], p[0],
		r[3], r[4], r[5], p[1],
		r[6], r[7], r[8], p[2],
		0, 0, 0, 1,
	}
}

// Position returns the translation column.
func (t Transform) Position() Vec3 { return Vec3{t[3], t[7], t[11]} }

// Rotation returns the upper-left 3x3 block, row-major.
func (t Transform) Rotation() [9]float64 {
	return [9]float64{
		t[0], t[1], t[2],
		t[4], t[5], t[6],
		t[8], t[9], t[10],
	}
}

// Quaternion returns the orientation of t as a unit quaternion.
func (t Transform) Quaternion() quat.Number { return QuatFromRotation(t.Rotation()) }

// Mul returns the composition t·o (o is applied first).
func (t Transform) Mul(o Transform) Transform {
	var out Transform
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var s float64
			for k := 0; k < 4; k++ {
				s += t[i*4+k] * o[k*4+j]
			}
			out[i*4+j] = s
		}
	}
	return out
}

// Inverse returns the inverse of a rigid transform: [Rᵀ, -Rᵀp].
func (t Transform) Inverse() Transform {
	r := t.Rotation()
	p := t.Position()
	var out Transform
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i*4+j] = r[j*3+i]
		}
		out[i*4+3] = -(r[0*3+i]*p[0] + r[1*3+i]*p[1] + r[2*3+i]*p[2])
	}
	out[15] = 1
	return out
}

// Apply transforms point p.
func (t Transform) Apply(p Vec3) Vec3 {
	x, y, z := ApplyPose(p[0], p[1], p[2], t)
	return Vec3{x, y, z}
}

// ApplyPose applies a 4x4 row-major transform T to point (x,y,z).
func ApplyPose(x, y, z float64, T [16]float64) (wx, wy, wz float64) {
	wx = T[0]*x + T[1]*y + T[2]*z + T[3]
	wy = T[4]*x + T[5]*y + T[6]*z + T[7]
	wz = T[8]*x + T[9]*y + T[10]*z + T[11]
	return
}
