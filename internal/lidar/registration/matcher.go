// Package registration aligns LiDAR scans against a reference map.
//
// Matcher is the boundary the localization core consumes; ICP is the
// reference implementation. A Matcher value may be shared between the
// caller and any number of estimators; nobody owns or closes it.
package registration

import (
	"errors"

	"github.com/banshee-data/lidarloc/internal/lidar"
)

var (
	// ErrEmptyCloud is returned when the source scan or the target map has no points.
	ErrEmptyCloud = errors.New("registration: empty point cloud")
	// ErrTooFewCorrespondences is returned when too few source points have a
	// map neighbour within the correspondence distance.
	ErrTooFewCorrespondences = errors.New("registration: too few correspondences")
)

// Result is the outcome of one alignment.
type Result struct {
	Aligned         lidar.Cloud     // source mapped through Transform
	Transform       lidar.Transform // body -> map
	Converged       bool
	Fitness         float64 // mean squared correspondence distance (m²); -1 if not computed
	Iterations      int
	Correspondences int
}

// Matcher aligns a body-frame scan to the map, starting from guess.
// Implementations report non-convergence through Result.Converged and
// reserve errors for alignments that produced no usable transform.
type Matcher interface {
	Align(source lidar.Cloud, guess lidar.Transform) (Result, error)
}

// MatcherFunc adapts a function to the Matcher interface.
type MatcherFunc func(source lidar.Cloud, guess lidar.Transform) (Result, error)

// Align calls f.
func (f MatcherFunc) Align(source lidar.Cloud, guess lidar.Transform) (Result, error) {
	return f(source, guess)
}
