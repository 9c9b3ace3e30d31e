// Package ukf implements an unscented Kalman filter over gonum matrices.
//
// The filter is generic over a Model that supplies the process function f
// and the measurement function h. Sigma points are drawn from the Cholesky
// factor of (n+λ)·P with weights w₀ = λ/(n+λ), wᵢ = 1/(2(n+λ)); the
// correction step runs on the state augmented with the measurement noise,
// so h only ever sees noise-free states.
package ukf

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrDegenerateCovariance is returned when a covariance matrix cannot be
	// factorized even after eigenvalue repair, or a step produced NaN/Inf.
	// The filter belief is left unchanged.
	ErrDegenerateCovariance = errors.New("ukf: degenerate covariance")
	// ErrDimension is returned when a vector or matrix does not match the
	// dimensions declared by the model.
	ErrDimension = errors.New("ukf: dimension mismatch")
)

// DefaultLambda is the sigma-point spread parameter.
const DefaultLambda = 1.0

// eigenFloor is the smallest eigenvalue kept when repairing a covariance.
const eigenFloor = 1e-9

// Model is a discrete-time system driven by a control vector.
type Model interface {
	// Dims returns the state, control and observation dimensions.
	Dims() (state, control, observation int)
	// Propagate writes f(state, control, dt) into dst. dst never aliases state.
	Propagate(dst, state, control []float64, dt float64)
	// Observe writes h(state) into dst.
	Observe(dst, state []float64)
}

// Option configures a Filter.
type Option func(*options)

type options struct {
	lambda float64
}

// WithLambda overrides the sigma-point spread parameter λ.
func WithLambda(lambda float64) Option {
	return func(o *options) { o.lambda = lambda }
}

// Filter is an unscented Kalman filter for model M. It is not safe for
// concurrent use.
type Filter[M Model] struct {
	Model M

	n, m, k int
	lambda  float64

	mean             *mat.VecDense
	cov              *mat.SymDense
	processNoise     *mat.SymDense
	measurementNoise *mat.SymDense

	weights    []float64 // 2n+1, state sigma points
	extWeights []float64 // 2(n+k)+1, augmented sigma points
}

// New creates a filter with the given noise covariances and initial belief.
// All inputs are copied.
func New[M Model](model M, processNoise, measurementNoise mat.Symmetric, mean mat.Vector, cov mat.Symmetric, opts ...Option) (*Filter[M], error) {
	o := options{lambda: DefaultLambda}
	for _, opt := range opts {
		opt(&o)
	}

	n, m, k := model.Dims()
	if n <= 0 || m < 0 || k <= 0 {
		return nil, fmt.Errorf("%w: model dims state=%d control=%d observation=%d", ErrDimension, n, m, k)
	}
	if processNoise.SymmetricDim() != n {
		return nil, fmt.Errorf("%w: process noise is %d×%d, want %d×%d", ErrDimension, processNoise.SymmetricDim(), processNoise.SymmetricDim(), n, n)
	}
	if measurementNoise.SymmetricDim() != k {
		return nil, fmt.Errorf("%w: measurement noise is %d×%d, want %d×%d", ErrDimension, measurementNoise.SymmetricDim(), measurementNoise.SymmetricDim(), k, k)
	}
	if mean.Len() != n {
		return nil, fmt.Errorf("%w: mean has %d elements, want %d", ErrDimension, mean.Len(), n)
	}
	if cov.SymmetricDim() != n {
		return nil, fmt.Errorf("%w: covariance is %d×%d, want %d×%d", ErrDimension, cov.SymmetricDim(), cov.SymmetricDim(), n, n)
	}
	if float64(n)+o.lambda <= 0 {
		return nil, fmt.Errorf("ukf: lambda %g too small for state dimension %d", o.lambda, n)
	}

	f := &Filter[M]{
		Model:            model,
		n:                n,
		m:                m,
		k:                k,
		lambda:           o.lambda,
		mean:             cloneVec(mean),
		cov:              cloneSym(cov),
		processNoise:     cloneSym(processNoise),
		measurementNoise: cloneSym(measurementNoise),
		weights:          sigmaWeights(n, o.lambda),
		extWeights:       sigmaWeights(n+k, o.lambda),
	}
	return f, nil
}

func sigmaWeights(n int, lambda float64) []float64 {
	w := make([]float64, 2*n+1)
	w[0] = lambda / (float64(n) + lambda)
	for i := 1; i < len(w); i++ {
		w[i] = 1 / (2 * (float64(n) + lambda))
	}
	return w
}

// Dims returns the state, control and observation dimensions.
func (f *Filter[M]) Dims() (state, control, observation int) { return f.n, f.m, f.k }

// Mean returns a copy of the state mean.
func (f *Filter[M]) Mean() *mat.VecDense { return cloneVec(f.mean) }

// MeanAt returns element i of the state mean.
func (f *Filter[M]) MeanAt(i int) float64 { return f.mean.AtVec(i) }

// Cov returns a copy of the state covariance.
func (f *Filter[M]) Cov() *mat.SymDense { return cloneSym(f.cov) }

// ProcessNoiseCov returns a copy of the process noise used by the next Predict.
func (f *Filter[M]) ProcessNoiseCov() *mat.SymDense { return cloneSym(f.processNoise) }

// SetProcessNoiseCov replaces the process noise used by subsequent
// predictions. Motion models with time- or motion-dependent noise call this
// before every Predict.
func (f *Filter[M]) SetProcessNoiseCov(q mat.Symmetric) error {
	if q.SymmetricDim() != f.n {
		return fmt.Errorf("%w: process noise is %d×%d, want %d×%d", ErrDimension, q.SymmetricDim(), q.SymmetricDim(), f.n, f.n)
	}
	f.processNoise = cloneSym(q)
	return nil
}

// Predict propagates the belief through the model with the given control
// and elapsed time.
func (f *Filter[M]) Predict(control []float64, dt float64) error {
	if len(control) != f.m {
		return fmt.Errorf("%w: control has %d elements, want %d", ErrDimension, len(control), f.m)
	}

	sigma, err := f.sigmaPoints(f.mean, f.cov)
	if err != nil {
		return fmt.Errorf("predict: %w", err)
	}

	propagated := mat.NewDense(sigma.RawMatrix().Rows, f.n, nil)
	for i := 0; i < sigma.RawMatrix().Rows; i++ {
		f.Model.Propagate(propagated.RawRowView(i), sigma.RawRowView(i), control, dt)
	}

	mean, cov := weightedMeanCov(propagated, f.weights)
	cov.AddSym(cov, f.processNoise)

	if !isFiniteVec(mean) || !isFiniteSym(cov) {
		return fmt.Errorf("predict: %w: non-finite result", ErrDegenerateCovariance)
	}
	f.mean, f.cov = mean, cov
	return nil
}

// Correct updates the belief with an observation.
func (f *Filter[M]) Correct(observation []float64) error {
	if len(observation) != f.k {
		return fmt.Errorf("%w: observation has %d elements, want %d", ErrDimension, len(observation), f.k)
	}
	n, k := f.n, f.k

	// Extended state [x; v] carries the measurement noise as extra dimensions.
	extMean := mat.NewVecDense(n+k, nil)
	for i := 0; i < n; i++ {
		extMean.SetVec(i, f.mean.AtVec(i))
	}
	extCov := mat.NewSymDense(n+k, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			extCov.SetSym(i, j, f.cov.At(i, j))
		}
	}
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			extCov.SetSym(n+i, n+j, f.measurementNoise.At(i, j))
		}
	}

	sigma, err := f.sigmaPoints(extMean, extCov)
	if err != nil {
		return fmt.Errorf("correct: %w", err)
	}
	rows := sigma.RawMatrix().Rows

	expected := mat.NewDense(rows, k, nil)
	for i := 0; i < rows; i++ {
		point := sigma.RawRowView(i)
		z := expected.RawRowView(i)
		f.Model.Observe(z, point[:n])
		for j := 0; j < k; j++ {
			z[j] += point[n+j]
		}
	}

	zMean, zCov := weightedMeanCov(expected, f.extWeights)

	cross := mat.NewDense(n+k, k, nil)
	dx := mat.NewVecDense(n+k, nil)
	dz := mat.NewVecDense(k, nil)
	for i := 0; i < rows; i++ {
		dx.SubVec(sigma.RowView(i), extMean)
		dz.SubVec(expected.RowView(i), zMean)
		cross.RankOne(cross, f.extWeights[i], dx, dz)
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(zCov); !ok {
		return fmt.Errorf("correct: %w: innovation covariance not positive definite", ErrDegenerateCovariance)
	}
	// Kᵀ = S⁻¹·Σᵀ since S is symmetric.
	var gainT mat.Dense
	if err := chol.SolveTo(&gainT, cross.T()); err != nil {
		return fmt.Errorf("correct: %w: %v", ErrDegenerateCovariance, err)
	}
	gain := gainT.T()

	innovation := mat.NewVecDense(k, nil)
	innovation.SubVec(mat.NewVecDense(k, observation), zMean)

	var newExtMean mat.VecDense
	newExtMean.MulVec(gain, innovation)
	newExtMean.AddVec(&newExtMean, extMean)

	var ks, ksk mat.Dense
	ks.Mul(gain, zCov)
	ksk.Mul(&ks, gain.T())

	mean := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		mean.SetVec(i, newExtMean.AtVec(i))
	}
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			a := extCov.At(i, j) - ksk.At(i, j)
			b := extCov.At(j, i) - ksk.At(j, i)
			cov.SetSym(i, j, 0.5*(a+b))
		}
	}

	if !isFiniteVec(mean) || !isFiniteSym(cov) {
		return fmt.Errorf("correct: %w: non-finite result", ErrDegenerateCovariance)
	}
	f.mean, f.cov = mean, cov
	return nil
}

// sigmaPoints returns the 2n+1 sigma points of (mean, cov), one per row.
func (f *Filter[M]) sigmaPoints(mean *mat.VecDense, cov *mat.SymDense) (*mat.Dense, error) {
	n := mean.Len()
	if !isFiniteVec(mean) || !isFiniteSym(cov) {
		return nil, fmt.Errorf("%w: non-finite belief", ErrDegenerateCovariance)
	}

	scaled := mat.NewSymDense(n, nil)
	scaled.ScaleSym(float64(n)+f.lambda, cov)

	var chol mat.Cholesky
	if ok := chol.Factorize(scaled); !ok {
		repaired, err := EnsurePositiveDefinite(scaled)
		if err != nil {
			return nil, err
		}
		if ok := chol.Factorize(repaired); !ok {
			return nil, fmt.Errorf("%w: cholesky failed after repair", ErrDegenerateCovariance)
		}
	}
	var l mat.TriDense
	chol.LTo(&l)

	points := mat.NewDense(2*n+1, n, nil)
	center := mean.RawVector().Data
	points.SetRow(0, center)
	for i := 0; i < n; i++ {
		plus := points.RawRowView(1 + 2*i)
		minus := points.RawRowView(2 + 2*i)
		for j := 0; j < n; j++ {
			c := l.At(j, i)
			plus[j] = center[j] + c
			minus[j] = center[j] - c
		}
	}
	return points, nil
}

// EnsurePositiveDefinite returns a symmetric copy of a with every eigenvalue
// raised to at least 1e-9. It fails only when the eigendecomposition does.
func EnsurePositiveDefinite(a mat.Symmetric) (*mat.SymDense, error) {
	var eig mat.EigenSym
	if ok := eig.Factorize(a, true); !ok {
		return nil, fmt.Errorf("%w: eigendecomposition failed", ErrDegenerateCovariance)
	}
	values := eig.Values(nil)
	for i, v := range values {
		if v < eigenFloor || math.IsNaN(v) {
			values[i] = eigenFloor
		}
	}
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	var scaled, rebuilt mat.Dense
	scaled.Mul(&vectors, mat.NewDiagDense(len(values), values))
	rebuilt.Mul(&scaled, vectors.T())

	n := len(values)
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, 0.5*(rebuilt.At(i, j)+rebuilt.At(j, i)))
		}
	}
	return out, nil
}

// weightedMeanCov recombines sigma points (one per row) into a mean and
// covariance using weights w.
func weightedMeanCov(points *mat.Dense, w []float64) (*mat.VecDense, *mat.SymDense) {
	rows, cols := points.Dims()
	mean := mat.NewVecDense(cols, nil)
	for i := 0; i < rows; i++ {
		mean.AddScaledVec(mean, w[i], points.RowView(i))
	}
	cov := mat.NewSymDense(cols, nil)
	diff := mat.NewVecDense(cols, nil)
	for i := 0; i < rows; i++ {
		diff.SubVec(points.RowView(i), mean)
		cov.SymRankOne(cov, w[i], diff)
	}
	return mean, cov
}

func cloneVec(v mat.Vector) *mat.VecDense {
	out := mat.NewVecDense(v.Len(), nil)
	out.CopyVec(v)
	return out
}

func cloneSym(s mat.Symmetric) *mat.SymDense {
	n := s.SymmetricDim()
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			out.SetSym(i, j, s.At(i, j))
		}
	}
	return out
}

func isFiniteVec(v mat.Vector) bool {
	for i := 0; i < v.Len(); i++ {
		x := v.AtVec(i)
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func isFiniteSym(s mat.Symmetric) bool {
	n := s.SymmetricDim()
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			x := s.At(i, j)
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return false
			}
		}
	}
	return true
}
