package motion

import (
	"gonum.org/v1/gonum/num/quat"

	"github.com/banshee-data/lidarloc/internal/lidar"
)

// Odometry state layout (7 elements); the control has the same layout and
// holds a relative transform.
const (
	OdometryPos  = 0
	OdometryQuat = 3

	OdometryStateDim   = 7
	OdometryControlDim = 7
)

// Odometry composes the pose with a relative transform expressed in the
// previous pose's body frame: T' = T·Δ, so p' = p + R(q)·t and q' = q·dq.
// Deltas built as T_prev⁻¹·T_cur follow the same convention.
type Odometry struct{}

// Dims implements ukf.Model.
func (Odometry) Dims() (int, int, int) {
	return OdometryStateDim, OdometryControlDim, ObservationDim
}

// Propagate implements ukf.Model. dt is unused.
func (Odometry) Propagate(dst, state, control []float64, _ float64) {
	pos := vec3At(state, OdometryPos)
	q := lidar.NormalizeQuat(quatAt(state, OdometryQuat))

	deltaPos := vec3At(control, 0)
	deltaQuat := lidar.NormalizeQuat(quatAt(control, 3))

	putVec3(dst, OdometryPos, pos.Add(lidar.RotateVec(q, deltaPos)))
	putQuat(dst, OdometryQuat, lidar.NormalizeQuat(quat.Mul(q, deltaQuat)))
}

// Observe implements ukf.Model; the state is the observable pose.
func (Odometry) Observe(dst, state []float64) {
	copy(dst, state[:OdometryStateDim])
}

// OdometryControl packs a relative transform into a control vector.
func OdometryControl(delta lidar.Transform) []float64 {
	t := delta.Position()
	q := delta.Quaternion()
	return []float64{t[0], t[1], t[2], q.Real, q.Imag, q.Jmag, q.Kmag}
}
