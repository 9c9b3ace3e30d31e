package localization

import (
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"github.com/banshee-data/lidarloc/internal/lidar"
	"github.com/banshee-data/lidarloc/internal/lidar/registration"
	"github.com/banshee-data/lidarloc/internal/monitoring"
	"github.com/banshee-data/lidarloc/internal/motion"
	"github.com/banshee-data/lidarloc/internal/ukf"
)

// DefaultCoolTime is the grace period after construction during which
// inertial prediction is suppressed.
const DefaultCoolTime = time.Second

// Filter noise parameters.
const (
	inertialInitialCov = 0.01

	inertialPosNoise      = 1.0
	inertialVelNoise      = 1.0
	inertialQuatNoise     = 0.5
	inertialBiasNoise     = 1e-6
	inertialPosMeasNoise  = 0.01
	inertialQuatMeasNoise = 0.001

	odometryInitialCov = 1e-2
	odometryMeasNoise  = 1e-3
	odometryNoiseFloor = 1e-3
)

// Mode reports which filters are active.
type Mode int

const (
	// ModeInertialOnly means only the inertial filter exists.
	ModeInertialOnly Mode = iota
	// ModeDual means the odometry filter has been created as well.
	ModeDual
)

func (m Mode) String() string {
	switch m {
	case ModeInertialOnly:
		return "inertial-only"
	case ModeDual:
		return "dual"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// odometryState is either inertialOnly or *dualFilter. The transition to
// *dualFilter happens once, on the first PredictOdom.
type odometryState interface {
	mode() Mode
}

type inertialOnly struct{}

func (inertialOnly) mode() Mode { return ModeInertialOnly }

type dualFilter struct {
	filter *ukf.Filter[motion.Odometry]

	predictionError    lidar.Transform
	hasPredictionError bool
}

func (*dualFilter) mode() Mode { return ModeDual }

// RegistrationStats summarises the last scan match.
type RegistrationStats struct {
	Stamp           time.Time
	Converged       bool
	Fitness         float64
	Iterations      int
	Correspondences int
	Quality         lidar.PoseQuality
}

// Option configures a PoseEstimator.
type Option func(*estimatorOptions)

type estimatorOptions struct {
	coolTime           time.Duration
	gravity            float64
	integrateAccel     bool
	requireConvergence bool
	maxFitness         float64
}

// WithCoolTime sets the grace period after construction during which
// Predict only records the timestamp.
func WithCoolTime(d time.Duration) Option {
	return func(o *estimatorOptions) { o.coolTime = d }
}

// WithGravity sets the gravity magnitude subtracted from the rotated
// specific force.
func WithGravity(g float64) Option {
	return func(o *estimatorOptions) { o.gravity = g }
}

// WithAccelerationIntegration makes inertial prediction integrate the
// gravity-compensated specific force into velocity. By default velocity is
// carried unchanged between corrections and only the gyro drives the state.
func WithAccelerationIntegration() Option {
	return func(o *estimatorOptions) { o.integrateAccel = true }
}

// WithConvergenceCheck makes Correct reject registrations that did not
// converge or whose fitness exceeds maxFitness, returning ErrNotConverged.
// Without it every returned transform is accepted.
func WithConvergenceCheck(maxFitness float64) Option {
	return func(o *estimatorOptions) {
		o.requireConvergence = true
		o.maxFitness = maxFitness
	}
}

// PoseEstimator fuses inertial prediction, odometry prediction and scan
// registration into a single pose estimate. It is not safe for concurrent
// use: at most one of Predict, PredictOdom and Correct may run at a time.
type PoseEstimator struct {
	matcher registration.Matcher
	opts    estimatorOptions

	initStamp      time.Time
	prevStamp      time.Time
	lastCorrection time.Time

	inertial     *ukf.Filter[motion.Inertial]
	processNoise *mat.SymDense // per second; scaled by dt on every Predict
	odom         odometryState

	inertialError    lidar.Transform
	hasInertialError bool

	lastReg    RegistrationStats
	hasLastReg bool
}

// NewPoseEstimator creates an estimator at the given pose. The matcher is
// shared with the caller and never closed by the estimator.
func NewPoseEstimator(matcher registration.Matcher, stamp time.Time, pos lidar.Vec3, q quat.Number, opts ...Option) (*PoseEstimator, error) {
	if matcher == nil {
		return nil, errors.New("localization: nil matcher")
	}
	o := estimatorOptions{
		coolTime: DefaultCoolTime,
		gravity:  motion.StandardGravity,
	}
	for _, opt := range opts {
		opt(&o)
	}

	model := motion.NewInertial()
	model.Gravity = lidar.Vec3{0, 0, o.gravity}
	model.IgnoreAcceleration = !o.integrateAccel

	processNoise := inertialProcessNoise()

	measNoise := mat.NewSymDense(motion.ObservationDim, nil)
	for i := 0; i < 3; i++ {
		measNoise.SetSym(i, i, inertialPosMeasNoise)
	}
	for i := 3; i < motion.ObservationDim; i++ {
		measNoise.SetSym(i, i, inertialQuatMeasNoise)
	}

	q = lidar.NormalizeQuat(q)
	mean := mat.NewVecDense(motion.InertialStateDim, nil)
	for i := 0; i < 3; i++ {
		mean.SetVec(motion.InertialPos+i, pos[i])
	}
	for i, v := range lidar.QuatComponents(q) {
		mean.SetVec(motion.InertialQuat+i, v)
	}

	cov := mat.NewSymDense(motion.InertialStateDim, nil)
	for i := 0; i < motion.InertialStateDim; i++ {
		cov.SetSym(i, i, inertialInitialCov)
	}

	filter, err := ukf.New(model, processNoise, measNoise, mean, cov)
	if err != nil {
		return nil, fmt.Errorf("create inertial filter: %w", err)
	}

	return &PoseEstimator{
		matcher:      matcher,
		opts:         o,
		initStamp:    stamp,
		inertial:     filter,
		processNoise: processNoise,
		odom:         inertialOnly{},
	}, nil
}

// inertialProcessNoise returns the per-second inertial process noise:
// identity scaled per block.
func inertialProcessNoise() *mat.SymDense {
	q := mat.NewSymDense(motion.InertialStateDim, nil)
	set := func(from, to int, v float64) {
		for i := from; i < to; i++ {
			q.SetSym(i, i, v)
		}
	}
	set(motion.InertialPos, motion.InertialVel, inertialPosNoise)
	set(motion.InertialVel, motion.InertialQuat, inertialVelNoise)
	set(motion.InertialQuat, motion.InertialAccBias, inertialQuatNoise)
	set(motion.InertialAccBias, motion.InertialStateDim, inertialBiasNoise)
	return q
}

// Predict integrates one IMU sample. During the cool time, on the first
// call and for timestamps not after the previous one, only the timestamp
// is recorded.
func (e *PoseEstimator) Predict(stamp time.Time, acc, gyro lidar.Vec3) error {
	if stamp.Sub(e.initStamp) < e.opts.coolTime || e.prevStamp.IsZero() || !stamp.After(e.prevStamp) {
		e.prevStamp = stamp
		return nil
	}
	dt := stamp.Sub(e.prevStamp).Seconds()
	e.prevStamp = stamp

	var noise mat.SymDense
	noise.ScaleSym(dt, e.processNoise)
	if err := e.inertial.SetProcessNoiseCov(&noise); err != nil {
		return fmt.Errorf("inertial process noise: %w", err)
	}

	control := []float64{acc[0], acc[1], acc[2], gyro[0], gyro[1], gyro[2]}
	if err := e.inertial.Predict(control, dt); err != nil {
		return fmt.Errorf("inertial prediction: %w", err)
	}
	return nil
}

// PredictOdom applies a relative transform expressed in the previous body
// frame. The first call creates the odometry filter, seeded from the
// current inertial estimate.
func (e *PoseEstimator) PredictOdom(delta lidar.Transform) error {
	df, ok := e.odom.(*dualFilter)
	if !ok {
		filter, err := e.newOdometryFilter()
		if err != nil {
			return err
		}
		df = &dualFilter{filter: filter}
		e.odom = df
		p := e.Position()
		monitoring.Logf("[localization] odometry filter activated at (%.3f, %.3f, %.3f)", p[0], p[1], p[2])
	}

	if err := df.filter.SetProcessNoiseCov(odometryProcessNoise(delta)); err != nil {
		return fmt.Errorf("odometry process noise: %w", err)
	}
	if err := df.filter.Predict(motion.OdometryControl(delta), 0); err != nil {
		return fmt.Errorf("odometry prediction: %w", err)
	}
	return nil
}

func (e *PoseEstimator) newOdometryFilter() (*ukf.Filter[motion.Odometry], error) {
	p := e.Position()
	q := e.Orientation()

	mean := mat.NewVecDense(motion.OdometryStateDim, []float64{p[0], p[1], p[2], q.Real, q.Imag, q.Jmag, q.Kmag})
	cov := scaledIdentity(motion.OdometryStateDim, odometryInitialCov)
	measNoise := scaledIdentity(motion.ObservationDim, odometryMeasNoise)
	processNoise := scaledIdentity(motion.OdometryStateDim, odometryNoiseFloor)

	filter, err := ukf.New(motion.Odometry{}, processNoise, measNoise, mean, cov)
	if err != nil {
		return nil, fmt.Errorf("create odometry filter: %w", err)
	}
	return filter, nil
}

// odometryProcessNoise trusts larger relative motions less: the translation
// block grows with |t| and the rotation block with 1-|w|.
func odometryProcessNoise(delta lidar.Transform) *mat.SymDense {
	t := delta.Position().Norm()
	w := lidar.NormalizeQuat(delta.Quaternion()).Real
	if w < 0 {
		w = -w
	}

	q := mat.NewSymDense(motion.OdometryStateDim, nil)
	for i := 0; i < 3; i++ {
		q.SetSym(i, i, t+odometryNoiseFloor)
	}
	for i := 3; i < motion.OdometryStateDim; i++ {
		q.SetSym(i, i, (1-w)+odometryNoiseFloor)
	}
	return q
}

func scaledIdentity(n int, v float64) *mat.SymDense {
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		s.SetSym(i, i, v)
	}
	return s
}

// Correct registers cloud against the map starting from the current
// (fused) prediction and corrects every active filter with the result.
// It returns the aligned cloud.
//
// The correction time is recorded even when registration fails. Matcher
// errors are wrapped in ErrRegistrationFailed; with WithConvergenceCheck a
// rejected match returns the aligned cloud together with ErrNotConverged.
// In both cases neither filter is modified.
func (e *PoseEstimator) Correct(stamp time.Time, cloud lidar.Cloud) (lidar.Cloud, error) {
	e.lastCorrection = stamp

	inertialGuess := e.Matrix()
	guess := inertialGuess

	var odomGuess lidar.Transform
	df, dual := e.odom.(*dualFilter)
	if dual {
		odomGuess = poseMatrix(df.filter.Mean(), motion.OdometryPos, motion.OdometryQuat)
		fused, err := e.fusedGuess(df)
		if err != nil {
			return nil, err
		}
		guess = fused
	}

	res, err := e.matcher.Align(cloud, guess)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRegistrationFailed, err)
	}
	if !lidar.IsValidTransformMatrix(res.Transform) {
		return nil, fmt.Errorf("%w: matcher returned an invalid transform", ErrRegistrationFailed)
	}

	e.lastReg = RegistrationStats{
		Stamp:           stamp,
		Converged:       res.Converged,
		Fitness:         res.Fitness,
		Iterations:      res.Iterations,
		Correspondences: res.Correspondences,
		Quality:         lidar.AssessRegistration(res.Fitness),
	}
	e.hasLastReg = true

	if e.opts.requireConvergence {
		if !res.Converged {
			return res.Aligned, fmt.Errorf("%w: stopped after %d iterations", ErrNotConverged, res.Iterations)
		}
		if res.Fitness > e.opts.maxFitness {
			return res.Aligned, fmt.Errorf("%w: fitness %.4f exceeds %.4f", ErrNotConverged, res.Fitness, e.opts.maxFitness)
		}
	} else if !res.Converged {
		monitoring.Logf("[localization] registration did not converge after %d iterations (fitness=%.4f); using result", res.Iterations, res.Fitness)
	}

	final := res.Transform
	pos := final.Position()
	observation := poseObservation(e.Orientation(), pos, final.Quaternion())

	if err := e.inertial.Correct(observation); err != nil {
		return nil, fmt.Errorf("inertial correction: %w", err)
	}
	e.inertialError = inertialGuess.Inverse().Mul(final)
	e.hasInertialError = true

	if dual {
		if err := df.filter.Correct(observation); err != nil {
			return nil, fmt.Errorf("odometry correction: %w", err)
		}
		df.predictionError = odomGuess.Inverse().Mul(final)
		df.hasPredictionError = true
	}

	monitoring.Debugf("[localization] corrected at %s: pos=(%.3f, %.3f, %.3f) fitness=%.4f",
		stamp.Format(time.RFC3339Nano), pos[0], pos[1], pos[2], res.Fitness)
	return res.Aligned, nil
}

// poseObservation packs a registered pose as a filter observation. The
// quaternion is normalized and flipped into ref's hemisphere.
func poseObservation(ref quat.Number, pos lidar.Vec3, q quat.Number) []float64 {
	q = lidar.AlignQuatSign(ref, lidar.NormalizeQuat(q))
	return []float64{pos[0], pos[1], pos[2], q.Real, q.Imag, q.Jmag, q.Kmag}
}

// fusedGuess combines the inertial and odometry pose beliefs into the
// registration guess.
func (e *PoseEstimator) fusedGuess(df *dualFilter) (lidar.Transform, error) {
	inertialMean, inertialCov := poseMarginal(e.inertial.Mean(), e.inertial.Cov(), inertialPoseIndices[:])
	odomMean, odomCov := df.filter.Mean(), df.filter.Cov()

	// Both quaternions must lie in the same hemisphere or the weighted sum
	// cancels.
	if quatDotAt(inertialMean, odomMean, 3) < 0 {
		negateQuaternionBlock(odomMean, odomCov)
	}

	fused, _, err := FuseGaussian(inertialMean, inertialCov, odomMean, odomCov)
	if err != nil {
		return lidar.Transform{}, fmt.Errorf("fuse predictions: %w", err)
	}
	return poseMatrix(fused, 0, 3), nil
}

func quatDotAt(a, b mat.Vector, i int) float64 {
	var d float64
	for k := i; k < i+4; k++ {
		d += a.AtVec(k) * b.AtVec(k)
	}
	return d
}

// poseMatrix assembles a transform from the position at pi and the
// quaternion at qi, normalizing the quaternion.
func poseMatrix(v mat.Vector, pi, qi int) lidar.Transform {
	p := lidar.Vec3{v.AtVec(pi), v.AtVec(pi + 1), v.AtVec(pi + 2)}
	q := lidar.NormalizeQuat(lidar.Quat(v.AtVec(qi), v.AtVec(qi+1), v.AtVec(qi+2), v.AtVec(qi+3)))
	return lidar.NewTransform(p, q)
}

// Mode reports whether the odometry filter is active.
func (e *PoseEstimator) Mode() Mode { return e.odom.mode() }

// LastCorrectionTime returns the timestamp of the last Correct call.
func (e *PoseEstimator) LastCorrectionTime() time.Time { return e.lastCorrection }

// LastRegistration returns the statistics of the last successful scan match.
func (e *PoseEstimator) LastRegistration() (RegistrationStats, bool) {
	return e.lastReg, e.hasLastReg
}

// Position returns the inertial filter's position.
func (e *PoseEstimator) Position() lidar.Vec3 {
	return e.inertialVec3(motion.InertialPos)
}

// Velocity returns the inertial filter's velocity.
func (e *PoseEstimator) Velocity() lidar.Vec3 {
	return e.inertialVec3(motion.InertialVel)
}

// AccBias returns the inertial filter's accelerometer bias estimate.
func (e *PoseEstimator) AccBias() lidar.Vec3 {
	return e.inertialVec3(motion.InertialAccBias)
}

// GyroBias returns the inertial filter's gyroscope bias estimate.
func (e *PoseEstimator) GyroBias() lidar.Vec3 {
	return e.inertialVec3(motion.InertialGyroBias)
}

func (e *PoseEstimator) inertialVec3(i int) lidar.Vec3 {
	return lidar.Vec3{e.inertial.MeanAt(i), e.inertial.MeanAt(i + 1), e.inertial.MeanAt(i + 2)}
}

// Orientation returns the inertial filter's normalized orientation.
func (e *PoseEstimator) Orientation() quat.Number {
	i := motion.InertialQuat
	return lidar.NormalizeQuat(lidar.Quat(
		e.inertial.MeanAt(i), e.inertial.MeanAt(i+1), e.inertial.MeanAt(i+2), e.inertial.MeanAt(i+3),
	))
}

// Matrix returns the inertial filter's pose as a body-to-map transform.
func (e *PoseEstimator) Matrix() lidar.Transform {
	return lidar.NewTransform(e.Position(), e.Orientation())
}

// OdometryPosition returns the odometry filter's position, if active.
func (e *PoseEstimator) OdometryPosition() (lidar.Vec3, bool) {
	T, ok := e.OdometryMatrix()
	if !ok {
		return lidar.Vec3{}, false
	}
	return T.Position(), true
}

// OdometryOrientation returns the odometry filter's normalized orientation, if active.
func (e *PoseEstimator) OdometryOrientation() (quat.Number, bool) {
	df, ok := e.odom.(*dualFilter)
	if !ok {
		return quat.Number{}, false
	}
	i := motion.OdometryQuat
	return lidar.NormalizeQuat(lidar.Quat(
		df.filter.MeanAt(i), df.filter.MeanAt(i+1), df.filter.MeanAt(i+2), df.filter.MeanAt(i+3),
	)), true
}

// OdometryMatrix returns the odometry filter's pose, if active.
func (e *PoseEstimator) OdometryMatrix() (lidar.Transform, bool) {
	df, ok := e.odom.(*dualFilter)
	if !ok {
		return lidar.Transform{}, false
	}
	return poseMatrix(df.filter.Mean(), motion.OdometryPos, motion.OdometryQuat), true
}

// InertialPredictionError returns guess⁻¹·T_final for the inertial filter's
// guess at the last successful correction.
func (e *PoseEstimator) InertialPredictionError() (lidar.Transform, bool) {
	return e.inertialError, e.hasInertialError
}

// OdometryPredictionError returns guess⁻¹·T_final for the odometry filter's
// guess at the last successful correction while it was active.
func (e *PoseEstimator) OdometryPredictionError() (lidar.Transform, bool) {
	df, ok := e.odom.(*dualFilter)
	if !ok || !df.hasPredictionError {
		return lidar.Transform{}, false
	}
	return df.predictionError, true
}

// Covariance returns a copy of the inertial filter's covariance.
func (e *PoseEstimator) Covariance() *mat.SymDense { return e.inertial.Cov() }
