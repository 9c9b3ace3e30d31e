package registration

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/lidarloc/internal/lidar"
)

// ICPConfig holds configuration for point-to-point ICP.
// Distances are in meters.
type ICPConfig struct {
	MaxIterations             int     // Maximum number of iterations
	MaxCorrespondenceDistance float64 // Ignore pairs further apart than this
	TransformationEpsilon     float64 // Converged once an increment moves less than this (m and rad)
	MinCorrespondences        int     // Fail the alignment below this many pairs
	OutlierPercentile         float64 // Keep this fraction of the closest pairs (0,1]
}

// DefaultICPConfig returns sensible defaults for vehicle-scale scans.
func DefaultICPConfig() ICPConfig {
	return ICPConfig{
		MaxIterations:             30,
		MaxCorrespondenceDistance: 1.0,
		TransformationEpsilon:     1e-6,
		MinCorrespondences:        10,
		OutlierPercentile:         1.0,
	}
}

// ICP aligns scans against a fixed target map using nearest neighbours
// from a k-d tree and a closed-form SVD rigid fit per iteration.
type ICP struct {
	cfg  ICPConfig
	tree *kdtree.Tree
	size int
}

// NewICP indexes target for alignment.
func NewICP(target lidar.Cloud, cfg ICPConfig) (*ICP, error) {
	if len(target) == 0 {
		return nil, fmt.Errorf("target map: %w", ErrEmptyCloud)
	}
	if cfg.MaxIterations <= 0 {
		return nil, fmt.Errorf("icp: max iterations must be positive, got %d", cfg.MaxIterations)
	}
	if cfg.MaxCorrespondenceDistance <= 0 {
		return nil, fmt.Errorf("icp: max correspondence distance must be positive, got %f", cfg.MaxCorrespondenceDistance)
	}
	if cfg.OutlierPercentile <= 0 || cfg.OutlierPercentile > 1 {
		return nil, fmt.Errorf("icp: outlier percentile must be in (0,1], got %f", cfg.OutlierPercentile)
	}
	if cfg.MinCorrespondences < 3 {
		cfg.MinCorrespondences = 3
	}

	points := make(kdtree.Points, len(target))
	for i, p := range target {
		points[i] = kdtree.Point{p.X, p.Y, p.Z}
	}
	return &ICP{cfg: cfg, tree: kdtree.New(points, false), size: len(target)}, nil
}

type correspondence struct {
	src, dst lidar.Vec3
	dist2    float64
}

// Align implements Matcher.
func (m *ICP) Align(source lidar.Cloud, guess lidar.Transform) (Result, error) {
	if len(source) == 0 {
		return Result{Transform: guess, Fitness: -1}, fmt.Errorf("source scan: %w", ErrEmptyCloud)
	}

	T := guess
	result := Result{Transform: guess, Fitness: -1}
	for iter := 1; iter <= m.cfg.MaxIterations; iter++ {
		result.Iterations = iter

		pairs := m.correspondences(source, T)
		if len(pairs) < m.cfg.MinCorrespondences {
			result.Transform = T
			result.Correspondences = len(pairs)
			return result, fmt.Errorf("%w: %d < %d", ErrTooFewCorrespondences, len(pairs), m.cfg.MinCorrespondences)
		}
		pairs = m.rejectOutliers(pairs)

		delta, ok := bestFitTransform(pairs)
		if !ok {
			break
		}
		T = delta.Mul(T)

		if delta.Position().Norm() < m.cfg.TransformationEpsilon &&
			lidar.QuatAngle(delta.Quaternion()) < m.cfg.TransformationEpsilon {
			result.Converged = true
			break
		}
	}

	final := m.correspondences(source, T)
	result.Transform = T
	result.Correspondences = len(final)
	if len(final) > 0 {
		var sum float64
		for _, c := range final {
			sum += c.dist2
		}
		result.Fitness = sum / float64(len(final))
	}
	result.Aligned = source.Transformed(T)
	return result, nil
}

// correspondences pairs every source point, mapped through T, with its
// nearest map point within the correspondence distance.
func (m *ICP) correspondences(source lidar.Cloud, T lidar.Transform) []correspondence {
	maxDist2 := m.cfg.MaxCorrespondenceDistance * m.cfg.MaxCorrespondenceDistance
	pairs := make([]correspondence, 0, len(source))
	for _, p := range source {
		x, y, z := lidar.ApplyPose(p.X, p.Y, p.Z, T)
		nearest, dist2 := m.tree.Nearest(kdtree.Point{x, y, z})
		if nearest == nil || dist2 > maxDist2 {
			continue
		}
		q := nearest.(kdtree.Point)
		pairs = append(pairs, correspondence{
			src:   lidar.Vec3{x, y, z},
			dst:   lidar.Vec3{q[0], q[1], q[2]},
			dist2: dist2,
		})
	}
	return pairs
}

// rejectOutliers keeps the OutlierPercentile fraction of closest pairs.
func (m *ICP) rejectOutliers(pairs []correspondence) []correspondence {
	if m.cfg.OutlierPercentile >= 1 {
		return pairs
	}
	dists := make([]float64, len(pairs))
	for i, c := range pairs {
		dists[i] = c.dist2
	}
	sort.Float64s(dists)
	threshold := stat.Quantile(m.cfg.OutlierPercentile, stat.Empirical, dists, nil)

	kept := make([]correspondence, 0, len(pairs))
	for _, c := range pairs {
		if c.dist2 <= threshold {
			kept = append(kept, c)
		}
	}
	if len(kept) < 3 {
		return pairs
	}
	return kept
}

// bestFitTransform returns the rigid transform minimising the squared
// distance from src to dst over all pairs (Kabsch).
func bestFitTransform(pairs []correspondence) (lidar.Transform, bool) {
	n := float64(len(pairs))
	var cs, cd lidar.Vec3
	for _, c := range pairs {
		cs = cs.Add(c.src)
		cd = cd.Add(c.dst)
	}
	cs = cs.Scale(1 / n)
	cd = cd.Scale(1 / n)

	H := mat.NewDense(3, 3, nil)
	for _, c := range pairs {
		s := c.src.Sub(cs)
		d := c.dst.Sub(cd)
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				H.Set(i, j, H.At(i, j)+s[i]*d[j])
			}
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(H, mat.SVDFull); !ok {
		return lidar.Identity(), false
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var r mat.Dense
	r.Mul(&v, u.T())
	if mat.Det(&r) < 0 {
		for i := 0; i < 3; i++ {
			v.Set(i, 2, -v.At(i, 2))
		}
		r.Mul(&v, u.T())
	}

	rotated := lidar.Vec3{
		r.At(0, 0)*cs[0] + r.At(0, 1)*cs[1] + r.At(0, 2)*cs[2],
		r.At(1, 0)*cs[0] + r.At(1, 1)*cs[1] + r.At(1, 2)*cs[2],
		r.At(2, 0)*cs[0] + r.At(2, 1)*cs[1] + r.At(2, 2)*cs[2],
	}
	t := cd.Sub(rotated)

	return lidar.Transform{
		r.At(0, 0), r.At(0, 1), r.At(0, 2), t[0],
		r.At(1, 0), r.At(1, 1), r.At(1, 2), t[1],
		r.At(2, 0), r.At(2, 1), r.At(2, 2), t[2],
		0, 0, 0, 1,
	}, true
}

// Size returns the number of map points indexed.
func (m *ICP) Size() int { return m.size }
