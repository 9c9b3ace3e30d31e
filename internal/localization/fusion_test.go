package localization

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/lidarloc/internal/motion"
	"github.com/banshee-data/lidarloc/internal/ukf"
)

func diagSym(d ...float64) *mat.SymDense {
	s := mat.NewSymDense(len(d), nil)
	for i, v := range d {
		s.SetSym(i, i, v)
	}
	return s
}

func TestFuseGaussian_ClosedForm(t *testing.T) {
	covA := diagSym(1, 1, 1, 0.1, 0.1, 0.1, 0.1)
	covB := diagSym(4, 4, 4, 0.4, 0.4, 0.4, 0.4)
	meanA := []float64{1, 2, 3, 1, 0, 0, 0}
	meanB := []float64{2, 0, -1, 0.9, 0.1, 0.2, 0}

	mean, cov, err := FuseGaussian(mat.NewVecDense(7, meanA), covA, mat.NewVecDense(7, meanB), covB)
	require.NoError(t, err)

	for i := 0; i < 7; i++ {
		a, b := covA.At(i, i), covB.At(i, i)
		wantVar := 1 / (1/a + 1/b)
		wantMean := wantVar * (meanA[i]/a + meanB[i]/b)
		assert.InDelta(t, wantVar, cov.At(i, i), 1e-12, "variance %d", i)
		assert.InDelta(t, wantMean, mean.AtVec(i), 1e-12, "mean %d", i)
	}
	// Position: 1/(1+1/4) = 0.8; orientation: 1/(10+2.5) = 0.08.
	assert.InDelta(t, 0.8, cov.At(0, 0), 1e-12)
	assert.InDelta(t, 0.08, cov.At(3, 3), 1e-12)
	assert.InDelta(t, 0, cov.At(0, 1), 1e-15)
}

func TestFuseGaussian_FullCovariance(t *testing.T) {
	covA := mat.NewSymDense(3, []float64{
		2, 0.5, 0.1,
		0.5, 1, 0.2,
		0.1, 0.2, 3,
	})
	covB := mat.NewSymDense(3, []float64{
		1, -0.3, 0,
		-0.3, 2, 0.4,
		0, 0.4, 1,
	})
	meanA := mat.NewVecDense(3, []float64{1, -1, 2})
	meanB := mat.NewVecDense(3, []float64{0, 3, 1})

	mean, cov, err := FuseGaussian(meanA, covA, meanB, covB)
	require.NoError(t, err)

	// Reference with general inverses.
	var infoA, infoB, info, wantCov mat.Dense
	require.NoError(t, infoA.Inverse(covA))
	require.NoError(t, infoB.Inverse(covB))
	info.Add(&infoA, &infoB)
	require.NoError(t, wantCov.Inverse(&info))

	var wa, wb, wantMean mat.VecDense
	wa.MulVec(&infoA, meanA)
	wb.MulVec(&infoB, meanB)
	wa.AddVec(&wa, &wb)
	wantMean.MulVec(&wantCov, &wa)

	approx := cmpopts.EquateApprox(0, 1e-12)
	if diff := cmp.Diff(wantMean.RawVector().Data, mean.RawVector().Data, approx); diff != "" {
		t.Errorf("fused mean mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(mat.DenseCopyOf(&wantCov).RawMatrix().Data, mat.DenseCopyOf(cov).RawMatrix().Data, approx); diff != "" {
		t.Errorf("fused covariance mismatch (-want +got):\n%s", diff)
	}
}

func TestFuseGaussian_IdenticalBeliefs(t *testing.T) {
	cov := diagSym(0.5, 0.5)
	mean := mat.NewVecDense(2, []float64{3, 4})
	fusedMean, fusedCov, err := FuseGaussian(mean, cov, mean, cov)
	require.NoError(t, err)
	assert.InDelta(t, 3, fusedMean.AtVec(0), 1e-12)
	assert.InDelta(t, 4, fusedMean.AtVec(1), 1e-12)
	assert.InDelta(t, 0.25, fusedCov.At(0, 0), 1e-12, "two equal estimates halve the variance")
}

func TestFuseGaussian_Errors(t *testing.T) {
	good := diagSym(1, 1, 1)
	mean := mat.NewVecDense(3, nil)

	t.Run("singular", func(t *testing.T) {
		_, _, err := FuseGaussian(mean, diagSym(1, 0, 1), mean, good)
		assert.True(t, errors.Is(err, ukf.ErrDegenerateCovariance), "got %v", err)
	})
	t.Run("ill-conditioned", func(t *testing.T) {
		_, _, err := FuseGaussian(mean, good, mean, diagSym(1, 1e-20, 1))
		assert.True(t, errors.Is(err, ukf.ErrDegenerateCovariance), "got %v", err)
	})
	t.Run("dimension", func(t *testing.T) {
		_, _, err := FuseGaussian(mean, good, mat.NewVecDense(2, nil), diagSym(1, 1))
		assert.True(t, errors.Is(err, ukf.ErrDimension), "got %v", err)
	})
}

func TestPoseMarginal(t *testing.T) {
	n := motion.InertialStateDim
	mean := mat.NewVecDense(n, nil)
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		mean.SetVec(i, float64(i))
		for j := i; j < n; j++ {
			cov.SetSym(i, j, float64(100*i+j))
		}
	}

	m, c := poseMarginal(mean, cov, inertialPoseIndices[:])
	assert.Equal(t, []float64{0, 1, 2, 6, 7, 8, 9}, m.RawVector().Data)
	assert.Equal(t, 0.0, c.At(0, 0))
	assert.Equal(t, 606.0, c.At(3, 3))
	assert.Equal(t, 6.0, c.At(0, 3), "position/orientation cross term")
	assert.Equal(t, 6.0, c.At(3, 0))
	assert.Equal(t, 709.0, c.At(4, 6))
}

func TestNegateQuaternionBlock(t *testing.T) {
	mean := mat.NewVecDense(7, []float64{1, 2, 3, 0.5, 0.5, 0.5, 0.5})
	cov := diagSym(1, 1, 1, 1, 1, 1, 1)
	cov.SetSym(0, 3, 0.2)
	cov.SetSym(4, 5, 0.3)

	negateQuaternionBlock(mean, cov)

	assert.Equal(t, []float64{1, 2, 3, -0.5, -0.5, -0.5, -0.5}, mean.RawVector().Data)
	assert.Equal(t, -0.2, cov.At(0, 3), "position/orientation terms flip")
	assert.Equal(t, 0.3, cov.At(4, 5), "orientation/orientation terms keep their sign")
	assert.Equal(t, 1.0, cov.At(3, 3))
}
