// Package localization estimates the 6-DoF pose of a moving platform by
// fusing IMU samples, relative odometry and scan-to-map registration.
//
// PoseEstimator runs an inertial unscented Kalman filter from construction
// and an odometry filter from the first odometry delta. On every scan the
// beliefs of both filters are fused in information form into the initial
// guess for registration, and the registered pose corrects each filter
// independently.
//
// PoseEstimator performs no locking. Service wraps one estimator behind a
// mutex for use from concurrent sensor handlers.
package localization
