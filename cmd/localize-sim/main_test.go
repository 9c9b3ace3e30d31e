package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lidarloc/internal/lidar"
	"github.com/banshee-data/lidarloc/internal/localization"
	"github.com/banshee-data/lidarloc/internal/monitor"
	"github.com/banshee-data/lidarloc/internal/trajectory"
)

type failingRecorder struct{ calls int }

func (r *failingRecorder) Record(localization.Sample) error {
	r.calls++
	return errors.New("boom")
}

func TestFanout(t *testing.T) {
	first := &memoryRecorder{}
	failing := &failingRecorder{}
	last := &memoryRecorder{}

	err := fanout{first, failing, last}.Record(localization.Sample{Kind: localization.SampleCorrect})
	assert.EqualError(t, err, "boom")
	assert.Len(t, first.samples, 1)
	assert.Equal(t, 1, failing.calls)
	assert.Empty(t, last.samples, "fanout stops at the first error")

	require.NoError(t, fanout{first, last}.Record(localization.Sample{}))
	assert.Len(t, first.samples, 2)
	assert.Len(t, last.samples, 1)
}

func TestWriteReports(t *testing.T) {
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	truth := []trajectory.TruthSample{
		{Stamp: start, Position: lidar.Vec3{0, 0, 0}},
		{Stamp: start.Add(time.Second), Position: lidar.Vec3{1, 0, 0}},
	}
	samples := []localization.Sample{
		{Stamp: start.Add(500 * time.Millisecond), Kind: localization.SampleCorrect, Position: lidar.Vec3{0.5, 0.1, 0}},
	}
	acc, err := monitor.Evaluate(samples, truth)
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "out")
	require.NoError(t, writeReports(dir, "run/1", samples, truth, acc))
	for _, name := range []string{"run_1_trajectory.png", "run_1_errors.png", "run_1.html"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
}

func testOptions(t *testing.T) options {
	t.Helper()
	dir := t.TempDir()
	return options{
		dbPath:   filepath.Join(dir, "runs.db"),
		outDir:   filepath.Join(dir, "plots"),
		duration: 2 * time.Second,
		seed:     7,
		matcher:  "truth",
		label:    "short",
	}
}

// assertRecorded reopens the database after run returned and checks the
// run it wrote. A clean close removes the write-ahead log.
func assertRecorded(t *testing.T, dbPath string) {
	t.Helper()
	_, err := os.Stat(dbPath + "-wal")
	assert.True(t, os.IsNotExist(err), "database left open: %v", err)

	store, err := trajectory.Open(dbPath)
	require.NoError(t, err)
	defer store.Close()

	runs, err := store.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "short", runs[0].Label)

	corrections, err := runs[0].Samples(localization.SampleCorrect)
	require.NoError(t, err)
	assert.Len(t, corrections, 21)
	truth, err := runs[0].Truth()
	require.NoError(t, err)
	assert.Len(t, truth, 21)
}

func TestRun(t *testing.T) {
	opts := testOptions(t)
	require.NoError(t, run(opts))

	for _, name := range []string{"short_trajectory.png", "short_errors.png", "short.html"} {
		_, err := os.Stat(filepath.Join(opts.outDir, name))
		assert.NoError(t, err, name)
	}
	assertRecorded(t, opts.dbPath)
}

func TestRun_ClosesStoreOnError(t *testing.T) {
	opts := testOptions(t)
	// A regular file where the output directory should be.
	require.NoError(t, os.WriteFile(opts.outDir, []byte("x"), 0o644))

	err := run(opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to write reports")
	assertRecorded(t, opts.dbPath)
}

func TestRun_UnknownMatcher(t *testing.T) {
	opts := testOptions(t)
	opts.matcher = "ndt"
	opts.dbPath = ""
	assert.ErrorContains(t, run(opts), `unknown matcher "ndt"`)
}
