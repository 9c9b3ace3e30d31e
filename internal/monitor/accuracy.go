// Package monitor evaluates recorded trajectories against ground truth and
// renders them as PNG plots and HTML charts.
package monitor

import (
	"errors"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/lidarloc/internal/lidar"
	"github.com/banshee-data/lidarloc/internal/localization"
	"github.com/banshee-data/lidarloc/internal/trajectory"
)

// ErrNoOverlap is returned when no estimate falls inside the truth time span.
var ErrNoOverlap = errors.New("monitor: estimate and truth do not overlap in time")

// ErrorPoint is the position error of one estimate.
type ErrorPoint struct {
	Stamp time.Time
	Error float64 // m
}

// Accuracy summarises position errors of a trajectory against truth.
type Accuracy struct {
	Samples   int
	RMSE      float64
	MeanError float64
	StdDev    float64
	MaxError  float64
	Errors    []ErrorPoint
}

// Evaluate compares estimated positions with truth linearly interpolated
// at each estimate's stamp. Estimates outside the truth span are skipped.
// truth must be in time order.
func Evaluate(est []localization.Sample, truth []trajectory.TruthSample) (Accuracy, error) {
	var acc Accuracy
	if len(truth) == 0 {
		return acc, ErrNoOverlap
	}

	errs := make([]float64, 0, len(est))
	sq := make([]float64, 0, len(est))
	for _, s := range est {
		ref, ok := interpolateTruth(truth, s.Stamp)
		if !ok {
			continue
		}
		e := s.Position.Sub(ref).Norm()
		errs = append(errs, e)
		sq = append(sq, e*e)
		acc.Errors = append(acc.Errors, ErrorPoint{Stamp: s.Stamp, Error: e})
		acc.MaxError = math.Max(acc.MaxError, e)
	}
	if len(errs) == 0 {
		return acc, ErrNoOverlap
	}

	acc.Samples = len(errs)
	acc.RMSE = math.Sqrt(stat.Mean(sq, nil))
	acc.MeanError, acc.StdDev = stat.MeanStdDev(errs, nil)
	if len(errs) == 1 {
		acc.StdDev = 0
	}
	return acc, nil
}

func interpolateTruth(truth []trajectory.TruthSample, stamp time.Time) (lidar.Vec3, bool) {
	i := sort.Search(len(truth), func(i int) bool { return !truth[i].Stamp.Before(stamp) })
	switch {
	case i == len(truth):
		return lidar.Vec3{}, false
	case truth[i].Stamp.Equal(stamp):
		return truth[i].Position, true
	case i == 0:
		return lidar.Vec3{}, false
	}
	a, b := truth[i-1], truth[i]
	f := float64(stamp.Sub(a.Stamp)) / float64(b.Stamp.Sub(a.Stamp))
	return a.Position.Add(b.Position.Sub(a.Position).Scale(f)), true
}
