package lidar

// Point is a single LiDAR return in Cartesian coordinates (meters).
// The frame depends on context: sensor frame for raw scans, map frame
// for aligned clouds and reference maps.
type Point struct {
	X, Y, Z   float64
	Intensity uint8 // Laser return intensity
}

// Vec returns the position of p.
func (p Point) Vec() Vec3 { return Vec3{p.X, p.Y, p.Z} }

// Cloud is an unordered set of points.
type Cloud []Point

// Transformed returns a copy of c with every point mapped through t.
// Intensities are preserved.
func (c Cloud) Transformed(t Transform) Cloud {
	if c == nil {
		return nil
	}
	out := make(Cloud, len(c))
	for i, p := range c {
		x, y, z := ApplyPose(p.X, p.Y, p.Z, t)
		out[i] = Point{X: x, Y: y, Z: z, Intensity: p.Intensity}
	}
	return out
}

// Centroid returns the mean position of c, or the origin for an empty cloud.
func (c Cloud) Centroid() Vec3 {
	var sum Vec3
	if len(c) == 0 {
		return sum
	}
	for _, p := range c {
		sum = sum.Add(p.Vec())
	}
	return sum.Scale(1 / float64(len(c)))
}
