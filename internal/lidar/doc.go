// Package lidar holds the geometric vocabulary shared by the localization
// stack: points and clouds, 4×4 row-major rigid transforms, quaternion
// helpers on gonum's quat.Number, voxel downsampling and registration
// quality grading.
//
// Frames: clouds arrive in the sensor (body) frame; the reference map,
// aligned clouds and all estimator poses live in the map frame. A
// Transform maps body coordinates into the map frame.
package lidar
