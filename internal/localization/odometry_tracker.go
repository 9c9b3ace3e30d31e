package localization

import (
	"time"

	"github.com/banshee-data/lidarloc/internal/lidar"
)

// OdometryTracker turns a stream of absolute odometry poses into relative
// transforms in the previous body frame, Δ = T_prev⁻¹·T_cur, the
// convention PredictOdom composes with.
type OdometryTracker struct {
	last      lidar.Transform
	lastStamp time.Time
	primed    bool
}

// Update records pose and returns the motion since the previous pose.
// The first pose, and any pose not newer than the previous one, yields no
// delta.
func (t *OdometryTracker) Update(stamp time.Time, pose lidar.Transform) (lidar.Transform, bool) {
	if !t.primed {
		t.last, t.lastStamp, t.primed = pose, stamp, true
		return lidar.Identity(), false
	}
	if !stamp.After(t.lastStamp) {
		return lidar.Identity(), false
	}
	delta := t.last.Inverse().Mul(pose)
	t.last, t.lastStamp = pose, stamp
	return delta, true
}

// Reset forgets the previous pose.
func (t *OdometryTracker) Reset() {
	*t = OdometryTracker{}
}
