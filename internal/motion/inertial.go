// Package motion defines the process and measurement models driven by the
// localization filters.
package motion

import (
	"gonum.org/v1/gonum/num/quat"

	"github.com/banshee-data/lidarloc/internal/lidar"
)

// StandardGravity is the magnitude of gravity in m/s².
const StandardGravity = 9.80665

// Inertial state layout (16 elements).
const (
	InertialPos      = 0  // position x,y,z
	InertialVel      = 3  // velocity x,y,z
	InertialQuat     = 6  // orientation w,x,y,z
	InertialAccBias  = 10 // accelerometer bias x,y,z
	InertialGyroBias = 13 // gyroscope bias x,y,z

	InertialStateDim   = 16
	InertialControlDim = 6 // acceleration x,y,z, angular velocity x,y,z
)

// ObservationDim is the size of a pose observation: position + quaternion.
const ObservationDim = 7

// Inertial integrates IMU samples: orientation from the bias-corrected gyro,
// velocity from the bias-corrected specific force rotated into the map
// frame minus gravity, position from velocity. Biases evolve only through
// process noise.
type Inertial struct {
	// Gravity is subtracted from the rotated specific force. A stationary
	// IMU measures exactly this vector in the map frame.
	Gravity lidar.Vec3
	// IgnoreAcceleration keeps velocity constant. Useful when the IMU
	// accelerometer is too noisy to help.
	IgnoreAcceleration bool
}

// NewInertial returns the model with standard gravity along +z.
func NewInertial() Inertial {
	return Inertial{Gravity: lidar.Vec3{0, 0, StandardGravity}}
}

// Dims implements ukf.Model.
func (Inertial) Dims() (int, int, int) {
	return InertialStateDim, InertialControlDim, ObservationDim
}

// Propagate implements ukf.Model.
func (m Inertial) Propagate(dst, state, control []float64, dt float64) {
	pos := vec3At(state, InertialPos)
	vel := vec3At(state, InertialVel)
	q := lidar.NormalizeQuat(quatAt(state, InertialQuat))
	accBias := vec3At(state, InertialAccBias)
	gyroBias := vec3At(state, InertialGyroBias)

	rawAcc := vec3At(control, 0)
	rawGyro := vec3At(control, 3)

	// orientation
	gyro := rawGyro.Sub(gyroBias)
	half := gyro.Scale(dt / 2)
	dq := lidar.NormalizeQuat(lidar.Quat(1, half[0], half[1], half[2]))
	next := lidar.NormalizeQuat(quat.Mul(q, dq))

	// velocity
	nextVel := vel
	if !m.IgnoreAcceleration {
		acc := lidar.RotateVec(q, rawAcc.Sub(accBias))
		nextVel = vel.Add(acc.Sub(m.Gravity).Scale(dt))
	}

	putVec3(dst, InertialPos, pos.Add(vel.Scale(dt)))
	putVec3(dst, InertialVel, nextVel)
	putQuat(dst, InertialQuat, next)
	putVec3(dst, InertialAccBias, accBias)
	putVec3(dst, InertialGyroBias, gyroBias)
}

// Observe implements ukf.Model: position and normalized orientation.
func (Inertial) Observe(dst, state []float64) {
	putVec3(dst, 0, vec3At(state, InertialPos))
	putQuat(dst, 3, lidar.NormalizeQuat(quatAt(state, InertialQuat)))
}

func vec3At(v []float64, i int) lidar.Vec3 {
	return lidar.Vec3{v[i], v[i+1], v[i+2]}
}

func quatAt(v []float64, i int) quat.Number {
	return lidar.Quat(v[i], v[i+1], v[i+2], v[i+3])
}

func putVec3(dst []float64, i int, v lidar.Vec3) {
	dst[i], dst[i+1], dst[i+2] = v[0], v[1], v[2]
}

func putQuat(dst []float64, i int, q quat.Number) {
	dst[i], dst[i+1], dst[i+2], dst[i+3] = q.Real, q.Imag, q.Jmag, q.Kmag
}
