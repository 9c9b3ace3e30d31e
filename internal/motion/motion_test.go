package motion

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lidarloc/internal/lidar"
)

func inertialState(pos, vel lidar.Vec3, q [4]float64) []float64 {
	s := make([]float64, InertialStateDim)
	copy(s[InertialPos:], pos[:])
	copy(s[InertialVel:], vel[:])
	copy(s[InertialQuat:], q[:])
	return s
}

func TestInertial_StationaryLevelIsFixedPoint(t *testing.T) {
	m := NewInertial()
	state := inertialState(lidar.Vec3{1, 2, 3}, lidar.Vec3{}, [4]float64{1, 0, 0, 0})
	control := []float64{0, 0, StandardGravity, 0, 0, 0}

	next := make([]float64, InertialStateDim)
	m.Propagate(next, state, control, 0.01)
	assert.InDeltaSlice(t, state, next, 1e-12)
}

func TestInertial_YawRate(t *testing.T) {
	m := NewInertial()
	state := inertialState(lidar.Vec3{}, lidar.Vec3{}, [4]float64{1, 0, 0, 0})
	control := []float64{0, 0, StandardGravity, 0, 0, 0.5}

	next := make([]float64, InertialStateDim)
	for i := 0; i < 100; i++ {
		m.Propagate(next, state, control, 0.01)
		copy(state, next)
	}
	q := lidar.Quat(state[6], state[7], state[8], state[9])
	assert.InDelta(t, 0.5, lidar.QuatAngle(q), 1e-5)
	assert.Greater(t, q.Kmag, 0.0, "positive yaw rate turns about +z")
}

func TestInertial_AccelerationInMapFrame(t *testing.T) {
	m := NewInertial()
	// Rotated 90° about z: body +x points along map +y.
	q := lidar.QuatFromAxisAngle(lidar.Vec3{0, 0, 1}, math.Pi/2)
	state := inertialState(lidar.Vec3{}, lidar.Vec3{}, lidar.QuatComponents(q))
	control := []float64{1, 0, StandardGravity, 0, 0, 0}

	next := make([]float64, InertialStateDim)
	m.Propagate(next, state, control, 0.1)
	assert.InDelta(t, 0.0, next[InertialVel], 1e-12)
	assert.InDelta(t, 0.1, next[InertialVel+1], 1e-12)
	assert.InDelta(t, 0.0, next[InertialVel+2], 1e-12)
}

func TestInertial_BiasesAreSubtractedAndKept(t *testing.T) {
	m := NewInertial()
	state := inertialState(lidar.Vec3{}, lidar.Vec3{}, [4]float64{1, 0, 0, 0})
	copy(state[InertialAccBias:], []float64{0.2, 0, 0})
	copy(state[InertialGyroBias:], []float64{0, 0, 0.3})
	// Readings equal to the biases on top of a stationary IMU.
	control := []float64{0.2, 0, StandardGravity, 0, 0, 0.3}

	next := make([]float64, InertialStateDim)
	m.Propagate(next, state, control, 0.5)
	assert.InDeltaSlice(t, state, next, 1e-12)
}

func TestInertial_IgnoreAcceleration(t *testing.T) {
	m := NewInertial()
	m.IgnoreAcceleration = true
	state := inertialState(lidar.Vec3{}, lidar.Vec3{1, 0, 0}, [4]float64{1, 0, 0, 0})
	control := []float64{5, 5, 5, 0, 0, 0}

	next := make([]float64, InertialStateDim)
	m.Propagate(next, state, control, 1)
	assert.InDeltaSlice(t, []float64{1, 0, 0}, next[InertialVel:InertialVel+3], 1e-12)
	assert.InDeltaSlice(t, []float64{1, 0, 0}, next[InertialPos:InertialPos+3], 1e-12)
}

func TestInertial_ObserveNormalizes(t *testing.T) {
	state := inertialState(lidar.Vec3{1, 2, 3}, lidar.Vec3{9, 9, 9}, [4]float64{2, 0, 0, 0})
	obs := make([]float64, ObservationDim)
	NewInertial().Observe(obs, state)
	assert.Equal(t, []float64{1, 2, 3, 1, 0, 0, 0}, obs)
}

// The relative transform is applied in the previous pose's body frame.
// Starting yawed 90°, a forward step of 1m must move the pose along map +y.
func TestOdometry_ComposesOnTheRight(t *testing.T) {
	q := lidar.QuatFromAxisAngle(lidar.Vec3{0, 0, 1}, math.Pi/2)
	state := []float64{1, 1, 0, q.Real, q.Imag, q.Jmag, q.Kmag}
	delta := lidar.NewTransform(lidar.Vec3{1, 0, 0}, lidar.QuatFromAxisAngle(lidar.Vec3{0, 0, 1}, math.Pi/2))

	next := make([]float64, OdometryStateDim)
	Odometry{}.Propagate(next, state, OdometryControl(delta), 0)

	assert.InDelta(t, 1.0, next[0], 1e-12)
	assert.InDelta(t, 2.0, next[1], 1e-12)

	got := lidar.Quat(next[3], next[4], next[5], next[6])
	assert.InDelta(t, math.Pi, lidar.QuatAngle(got), 1e-9)

	// Same result as composing the matrices T·Δ.
	want := lidar.NewTransform(lidar.Vec3{1, 1, 0}, q).Mul(delta).Position()
	assert.InDeltaSlice(t, want[:], next[:3], 1e-12)
}

func TestOdometry_ControlFromTransform(t *testing.T) {
	c := OdometryControl(lidar.Translation(1, 2, 3))
	require.Len(t, c, OdometryControlDim)
	assert.InDeltaSlice(t, []float64{1, 2, 3, 1, 0, 0, 0}, c, 1e-12)
}

func TestOdometry_ObserveIsIdentity(t *testing.T) {
	state := []float64{1, 2, 3, 0.5, 0.5, 0.5, 0.5}
	obs := make([]float64, ObservationDim)
	Odometry{}.Observe(obs, state)
	assert.Equal(t, state, obs)
}
