package lidar

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// Quaternions use gonum's quat.Number with Real=w, Imag=x, Jmag=y, Kmag=z.
// State vectors store them in w,x,y,z order.

// Quat builds a quaternion from w,x,y,z components.
func Quat(w, x, y, z float64) quat.Number {
	return quat.Number{Real: w, Imag: x, Jmag: y, Kmag: z}
}

// IdentityQuat returns the identity rotation.
func IdentityQuat() quat.Number { return quat.Number{Real: 1} }

// QuatComponents returns q as [w, x, y, z].
func QuatComponents(q quat.Number) [4]float64 {
	return [4]float64{q.Real, q.Imag, q.Jmag, q.Kmag}
}

// NormalizeQuat scales q to unit length. A zero or non-finite quaternion
// has no orientation and is mapped to the identity.
func NormalizeQuat(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return IdentityQuat()
	}
	return quat.Scale(1/n, q)
}

// QuatDot returns the 4D inner product of a and b.
func QuatDot(a, b quat.Number) float64 {
	return a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag
}

// AlignQuatSign returns q or -q, whichever has a non-negative dot product
// with ref. Both encode the same rotation.
func AlignQuatSign(ref, q quat.Number) quat.Number {
	if QuatDot(ref, q) < 0 {
		return quat.Scale(-1, q)
	}
	return q
}

// QuatFromAxisAngle returns the rotation of angle radians about axis.
func QuatFromAxisAngle(axis Vec3, angle float64) quat.Number {
	n := axis.Norm()
	if n == 0 {
		return IdentityQuat()
	}
	s := math.Sin(angle/2) / n
	return Quat(math.Cos(angle/2), axis[0]*s, axis[1]*s, axis[2]*s)
}

// QuatAngle returns the rotation angle of q in [0, π].
func QuatAngle(q quat.Number) float64 {
	q = NormalizeQuat(q)
	v := math.Sqrt(q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
	return 2 * math.Atan2(v, math.Abs(q.Real))
}

// RotateVec rotates v by q (q·v·q*). q is normalized first.
func RotateVec(q quat.Number, v Vec3) Vec3 {
	q = NormalizeQuat(q)
	p := quat.Mul(quat.Mul(q, quat.Number{Imag: v[0], Jmag: v[1], Kmag: v[2]}), quat.Conj(q))
	return Vec3{p.Imag, p.Jmag, p.Kmag}
}

// QuatToRotation returns the row-major rotation matrix of q.
func QuatToRotation(q quat.Number) [9]float64 {
	q = NormalizeQuat(q)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return [9]float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	}
}

// QuatFromRotation converts a row-major rotation matrix to a unit
// quaternion. The sign follows the largest-component branch, so callers
// that need continuity must use AlignQuatSign.
func QuatFromRotation(r [9]float64) quat.Number {
	at := func(i, j int) float64 { return r[i*3+j] }
	trace := at(0, 0) + at(1, 1) + at(2, 2)
	if trace > 0 {
		s := math.Sqrt(trace+1) * 2
		return NormalizeQuat(Quat(
			0.25*s,
			(at(2, 1)-at(1, 2))/s,
			(at(0, 2)-at(2, 0))/s,
			(at(1, 0)-at(0, 1))/s,
		))
	}

	i := 0
	if at(1, 1) > at(0, 0) {
		i = 1
	}
	if at(2, 2) > at(i, i) {
		i = 2
	}
	j := (i + 1) % 3
	k := (j + 1) % 3

	s := math.Sqrt(at(i, i)-at(j, j)-at(k, k)+1) * 2
	var v [3]float64
	v[i] = 0.25 * s
	v[j] = (at(j, i) + at(i, j)) / s
	v[k] = (at(k, i) + at(i, k)) / s
	w := (at(k, j) - at(j, k)) / s
	return NormalizeQuat(Quat(w, v[0], v[1], v[2]))
}
