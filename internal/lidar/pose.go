package lidar

import (
	"math"
)

// PoseQuality represents the assessed quality of a scan-matched pose.
type PoseQuality string

const (
	// PoseQualityExcellent indicates RMSE < 0.05m
	PoseQualityExcellent PoseQuality = "excellent"
	// PoseQualityGood indicates RMSE 0.05-0.15m
	PoseQualityGood PoseQuality = "good"
	// PoseQualityFair indicates RMSE 0.15-0.30m - usable but the map or the guess is off
	PoseQualityFair PoseQuality = "fair"
	// PoseQualityPoor indicates RMSE > 0.30m
	PoseQualityPoor PoseQuality = "poor"
	// PoseQualityUnknown indicates RMSE not computed
	PoseQualityUnknown PoseQuality = "unknown"
)

// Pose quality RMSE thresholds (meters)
const (
	RMSEThresholdExcellent = 0.05
	RMSEThresholdGood      = 0.15
	RMSEThresholdFair      = 0.30
	// MatrixValidationTolerance is the tolerance for checking rotation matrix validity
	MatrixValidationTolerance = 0.01
)

// AssessRegistration grades a registration by the root of its mean squared
// correspondence distance. A negative or NaN fitness means it was not computed.
func AssessRegistration(fitness float64) PoseQuality {
	if fitness < 0 || math.IsNaN(fitness) {
		return PoseQualityUnknown
	}
	rmse := math.Sqrt(fitness)
	switch {
	case rmse < RMSEThresholdExcellent:
		return PoseQualityExcellent
	case rmse < RMSEThresholdGood:
		return PoseQualityGood
	case rmse < RMSEThresholdFair:
		return PoseQualityFair
	default:
		return PoseQualityPoor
	}
}

// IsValidTransformMatrix checks if a 4x4 matrix is a valid rigid transform.
// A valid rigid transform has:
// 1. Orthonormal rotation submatrix (det ≈ 1)
// 2. Last row is [0 0 0 1]
func IsValidTransformMatrix(T Transform) bool {
	for _, v := range T {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}

	r00, r01, r02 := T[0], T[1], T[2]
	r10, r11, r12 := T[4], T[5], T[6]
	r20, r21, r22 := T[8], T[9], T[10]

	// Proper rotation, not reflection
	det := r00*(r11*r22-r12*r21) - r01*(r10*r22-r12*r20) + r02*(r10*r21-r11*r20)
	if math.Abs(det-1.0) > MatrixValidationTolerance {
		return false
	}

	if T[12] != 0 || T[13] != 0 || T[14] != 0 || math.Abs(T[15]-1.0) > 0.001 {
		return false
	}

	return true
}

// String returns a human-readable description of the pose quality.
func (q PoseQuality) String() string {
	switch q {
	case PoseQualityExcellent:
		return "excellent (RMSE < 0.05m)"
	case PoseQualityGood:
		return "good (RMSE 0.05-0.15m)"
	case PoseQualityFair:
		return "fair (RMSE 0.15-0.30m)"
	case PoseQualityPoor:
		return "poor (RMSE > 0.30m)"
	case PoseQualityUnknown:
		return "unknown (RMSE not computed)"
	default:
		return string(q)
	}
}
