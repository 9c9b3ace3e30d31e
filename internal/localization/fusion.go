package localization

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/lidarloc/internal/motion"
	"github.com/banshee-data/lidarloc/internal/ukf"
)

// maxCondition bounds the condition number of a covariance accepted for
// inversion.
const maxCondition = 1e14

// inertialPoseIndices selects position and orientation from the inertial state.
var inertialPoseIndices = [motion.ObservationDim]int{
	motion.InertialPos, motion.InertialPos + 1, motion.InertialPos + 2,
	motion.InertialQuat, motion.InertialQuat + 1, motion.InertialQuat + 2, motion.InertialQuat + 3,
}

// FuseGaussian combines two independent Gaussian estimates of the same
// quantity in information form:
//
//	C = (A⁻¹ + B⁻¹)⁻¹
//	m = C·(A⁻¹·a + B⁻¹·b)
//
// Inverses are exact (Cholesky). A covariance that is not positive definite
// or is too ill-conditioned to invert yields ukf.ErrDegenerateCovariance.
func FuseGaussian(meanA mat.Vector, covA mat.Symmetric, meanB mat.Vector, covB mat.Symmetric) (*mat.VecDense, *mat.SymDense, error) {
	n := meanA.Len()
	if meanB.Len() != n || covA.SymmetricDim() != n || covB.SymmetricDim() != n {
		return nil, nil, fmt.Errorf("fuse: %w", ukf.ErrDimension)
	}

	infoA, err := invertSPD(covA)
	if err != nil {
		return nil, nil, fmt.Errorf("fuse: first covariance: %w", err)
	}
	infoB, err := invertSPD(covB)
	if err != nil {
		return nil, nil, fmt.Errorf("fuse: second covariance: %w", err)
	}

	var info mat.SymDense
	info.AddSym(infoA, infoB)
	cov, err := invertSPD(&info)
	if err != nil {
		return nil, nil, fmt.Errorf("fuse: combined information: %w", err)
	}

	var wa, wb mat.VecDense
	wa.MulVec(infoA, meanA)
	wb.MulVec(infoB, meanB)
	wa.AddVec(&wa, &wb)

	mean := mat.NewVecDense(n, nil)
	mean.MulVec(cov, &wa)
	return mean, cov, nil
}

func invertSPD(a mat.Symmetric) (*mat.SymDense, error) {
	var chol mat.Cholesky
	if ok := chol.Factorize(a); !ok {
		return nil, ukf.ErrDegenerateCovariance
	}
	if c := chol.Cond(); c > maxCondition {
		return nil, fmt.Errorf("%w: condition number %.3g", ukf.ErrDegenerateCovariance, c)
	}
	inv := mat.NewSymDense(a.SymmetricDim(), nil)
	if err := chol.InverseTo(inv); err != nil {
		return nil, fmt.Errorf("%w: %v", ukf.ErrDegenerateCovariance, err)
	}
	return inv, nil
}

// poseMarginal extracts the position/orientation block of a filter belief.
func poseMarginal(mean mat.Vector, cov mat.Symmetric, indices []int) (*mat.VecDense, *mat.SymDense) {
	k := len(indices)
	m := mat.NewVecDense(k, nil)
	c := mat.NewSymDense(k, nil)
	for i, si := range indices {
		m.SetVec(i, mean.AtVec(si))
		for j := i; j < k; j++ {
			c.SetSym(i, j, cov.At(si, indices[j]))
		}
	}
	return m, c
}

// negateQuaternionBlock flips the sign of the quaternion part of a 7-element
// pose belief in place. The covariance transforms as S·C·S with
// S = diag(1,1,1,-1,-1,-1,-1), so only position/orientation cross terms
// change sign.
func negateQuaternionBlock(mean *mat.VecDense, cov *mat.SymDense) {
	const q = 3
	for i := q; i < q+4; i++ {
		mean.SetVec(i, -mean.AtVec(i))
	}
	for i := 0; i < q; i++ {
		for j := q; j < q+4; j++ {
			cov.SetSym(i, j, -cov.At(i, j))
		}
	}
}
