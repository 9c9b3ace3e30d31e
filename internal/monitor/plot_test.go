package monitor

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lidarloc/internal/lidar"
	"github.com/banshee-data/lidarloc/internal/localization"
)

func sampleRun() ([]localization.Sample, Accuracy) {
	est := []localization.Sample{
		estimate(0.5, lidar.Vec3{0.5, 0.1, 0}, localization.SamplePredict),
		estimate(1, lidar.Vec3{1, 0.05, 0}, localization.SampleCorrect),
		estimate(1.5, lidar.Vec3{1.5, 0.1, 0}, localization.SamplePredict),
		estimate(2, lidar.Vec3{2, 0, 0}, localization.SampleCorrect),
	}
	acc, _ := Evaluate(est, straightTruth(3))
	return est, acc
}

func TestPlotTrajectory(t *testing.T) {
	est, _ := sampleRun()
	path := filepath.Join(t.TempDir(), "plots", "trajectory.png")

	require.NoError(t, PlotTrajectory(path, "test run", est, straightTruth(3)))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestPlotTrajectory_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.png")
	require.NoError(t, PlotTrajectory(path, "empty", nil, nil))
	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestPlotErrors(t *testing.T) {
	_, acc := sampleRun()
	path := filepath.Join(t.TempDir(), "errors.svg")
	require.NoError(t, PlotErrors(path, "test run", acc))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "<svg"))

	assert.ErrorIs(t, PlotErrors(path, "none", Accuracy{}), ErrNoOverlap)
}

func TestRenderTrajectoryChart(t *testing.T) {
	est, acc := sampleRun()

	var buf bytes.Buffer
	require.NoError(t, RenderTrajectoryChart(&buf, "test run", est, straightTruth(3), acc))
	html := buf.String()
	assert.Contains(t, html, "test run")
	assert.Contains(t, html, "Position error")
	assert.Contains(t, html, "odometry predict")

	buf.Reset()
	require.NoError(t, RenderTrajectoryChart(&buf, "no errors", est, nil, Accuracy{}))
	assert.NotContains(t, buf.String(), "Position error")
}
