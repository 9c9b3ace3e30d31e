package lidar

import "math"

type voxelKey struct {
	ix, iy, iz int64
}

type voxelAccumulator struct {
	sum     Vec3
	indices []int
}

// VoxelGrid downsamples points onto a regular grid of cubic voxels with
// edge leafSize. For every occupied voxel the input point closest to the
// voxel centroid is kept, so the output is a subset of the input with
// intensities intact. Output order follows the first appearance of each
// voxel. A non-positive leafSize returns the input unchanged.
func VoxelGrid(points Cloud, leafSize float64) Cloud {
	if len(points) == 0 {
		return nil
	}
	if leafSize <= 0 {
		return points
	}

	voxels := make(map[voxelKey]*voxelAccumulator)
	order := make([]voxelKey, 0, len(points)/4+1)

	for i, p := range points {
		key := voxelKey{
			ix: int64(math.Floor(p.X / leafSize)),
			iy: int64(math.Floor(p.Y / leafSize)),
			iz: int64(math.Floor(p.Z / leafSize)),
		}
		acc, ok := voxels[key]
		if !ok {
			acc = &voxelAccumulator{}
			voxels[key] = acc
			order = append(order, key)
		}
		acc.sum = acc.sum.Add(p.Vec())
		acc.indices = append(acc.indices, i)
	}

	out := make(Cloud, 0, len(order))
	for _, key := range order {
		acc := voxels[key]
		centroid := acc.sum.Scale(1 / float64(len(acc.indices)))

		best := acc.indices[0]
		bestDist := math.Inf(1)
		for _, idx := range acc.indices {
			d := points[idx].Vec().Sub(centroid)
			if dist := d.Dot(d); dist < bestDist {
				bestDist = dist
				best = idx
			}
		}
		out = append(out, points[best])
	}
	return out
}
