package lidar

import (
	"testing"
)

func TestVoxelGrid_Empty(t *testing.T) {
	result := VoxelGrid(nil, 0.1)
	if result != nil {
		t.Errorf("expected nil for empty input, got %v", result)
	}
}

func TestVoxelGrid_ZeroLeafSize(t *testing.T) {
	points := Cloud{{X: 1, Y: 2, Z: 3}}
	result := VoxelGrid(points, 0)
	if len(result) != 1 {
		t.Errorf("expected passthrough for zero leaf size, got %d points", len(result))
	}
}

func TestVoxelGrid_SinglePoint(t *testing.T) {
	points := Cloud{
		{X: 1.0, Y: 2.0, Z: 3.0, Intensity: 100},
	}
	result := VoxelGrid(points, 1.0)
	if len(result) != 1 {
		t.Fatalf("expected 1 point, got %d", len(result))
	}
	if result[0].X != 1.0 || result[0].Y != 2.0 || result[0].Z != 3.0 {
		t.Errorf("point not preserved: %v", result[0])
	}
	if result[0].Intensity != 100 {
		t.Errorf("intensity not preserved: %d", result[0].Intensity)
	}
}

func TestVoxelGrid_DistinctVoxels(t *testing.T) {
	points := Cloud{
		{X: 0.5, Y: 0.5, Z: 0.5},
		{X: 1.5, Y: 0.5, Z: 0.5},
		{X: 0.5, Y: 1.5, Z: 0.5},
	}
	result := VoxelGrid(points, 1.0)
	if len(result) != 3 {
		t.Errorf("expected 3 points (distinct voxels), got %d", len(result))
	}
}

func TestVoxelGrid_PreservesClosestToCentroid(t *testing.T) {
	// Centroid of the voxel is (0.4, 0.4, 0.4); the middle point is closest.
	points := Cloud{
		{X: 0.1, Y: 0.1, Z: 0.1, Intensity: 1},
		{X: 0.45, Y: 0.45, Z: 0.45, Intensity: 2},
		{X: 0.65, Y: 0.65, Z: 0.65, Intensity: 3},
	}
	result := VoxelGrid(points, 1.0)
	if len(result) != 1 {
		t.Fatalf("expected 1 point, got %d", len(result))
	}
	if result[0].Intensity != 2 {
		t.Errorf("expected the point nearest the centroid, got %+v", result[0])
	}
}

func TestVoxelGrid_NegativeCoordinates(t *testing.T) {
	// -0.5 and 0.5 straddle zero and must land in different voxels.
	points := Cloud{
		{X: -0.5, Y: 0, Z: 0},
		{X: 0.5, Y: 0, Z: 0},
	}
	result := VoxelGrid(points, 1.0)
	if len(result) != 2 {
		t.Errorf("expected 2 points, got %d", len(result))
	}
}

func TestVoxelGrid_Reduction(t *testing.T) {
	points := make(Cloud, 0, 1000)
	for i := 0; i < 10; i++ {
		for j := 0; j < 10; j++ {
			for k := 0; k < 10; k++ {
				points = append(points, Point{X: float64(i) * 0.1, Y: float64(j) * 0.1, Z: float64(k) * 0.1})
			}
		}
	}
	result := VoxelGrid(points, 0.5)
	if len(result) != 8 {
		t.Errorf("expected 8 voxels for a 1m cube at 0.5m leaf, got %d", len(result))
	}
}
