package localization

import (
	"fmt"
	"sync"
	"time"

	"gonum.org/v1/gonum/num/quat"

	"github.com/banshee-data/lidarloc/internal/lidar"
	"github.com/banshee-data/lidarloc/internal/lidar/registration"
	"github.com/banshee-data/lidarloc/internal/monitoring"
	"github.com/banshee-data/lidarloc/internal/timeutil"
)

// SampleKind distinguishes recorded samples.
type SampleKind string

const (
	SamplePredict SampleKind = "predict"
	SampleCorrect SampleKind = "correct"
)

// Sample is one recorded estimator state. Predict samples come from
// odometry updates and carry the odometry filter's pose; correct samples
// carry the corrected inertial pose.
type Sample struct {
	Stamp       time.Time
	Kind        SampleKind
	Mode        Mode
	Position    lidar.Vec3
	Velocity    lidar.Vec3
	Orientation quat.Number

	// Correction-only fields.
	Fitness       float64 // -1 when not a correction
	Converged     bool
	InertialError float64 // translation of the inertial prediction error (m); -1 if absent
	OdometryError float64 // translation of the odometry prediction error (m); -1 if absent
}

// Recorder receives samples from a Service. Record is called with the
// service lock held and must not call back into the Service.
type Recorder interface {
	Record(Sample) error
}

// Snapshot is a consistent view of the estimator for readers.
type Snapshot struct {
	Initialized bool
	Mode        Mode

	Position    lidar.Vec3
	Velocity    lidar.Vec3
	Orientation quat.Number
	Pose        lidar.Transform

	OdometryPose    lidar.Transform
	HasOdometryPose bool

	LastCorrection  time.Time
	Corrections     int
	Registration    RegistrationStats
	HasRegistration bool

	InertialError    lidar.Transform
	HasInertialError bool
	OdometryError    lidar.Transform
	HasOdometryError bool

	LastError string
	UpdatedAt time.Time
}

// Service serializes sensor callbacks onto one PoseEstimator and publishes
// snapshots for concurrent readers.
type Service struct {
	cfg      ServiceConfig
	matcher  registration.Matcher
	clock    timeutil.Clock
	recorder Recorder

	// mu is held across every estimator call, including registration.
	mu          sync.Mutex
	est         *PoseEstimator
	odom        OdometryTracker
	corrections int

	snapMu sync.RWMutex
	snap   Snapshot
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock sets the clock used for Snapshot.UpdatedAt.
func WithClock(c timeutil.Clock) ServiceOption {
	return func(s *Service) { s.clock = c }
}

// WithRecorder sets a recorder notified of odometry predictions and corrections.
func WithRecorder(r Recorder) ServiceOption {
	return func(s *Service) { s.recorder = r }
}

// NewService creates a service. No estimator exists until Reset is called.
func NewService(matcher registration.Matcher, cfg ServiceConfig, opts ...ServiceOption) (*Service, error) {
	if matcher == nil {
		return nil, fmt.Errorf("localization: nil matcher")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid service config: %w", err)
	}
	s := &Service{
		cfg:     cfg,
		matcher: matcher,
		clock:   timeutil.RealClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Snapshot returns the latest published state.
func (s *Service) Snapshot() Snapshot {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snap
}

// Reset (re)initializes the estimator at the given pose. Any previous
// estimator, including its odometry filter, is discarded.
func (s *Service) Reset(stamp time.Time, pos lidar.Vec3, q quat.Number) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	est, err := NewPoseEstimator(s.matcher, stamp, pos, q, s.cfg.Estimator...)
	if err != nil {
		return err
	}
	s.est = est
	s.odom.Reset()
	s.corrections = 0
	monitoring.Logf("[localization] initialized at (%.3f, %.3f, %.3f)", pos[0], pos[1], pos[2])
	s.publish(nil)
	return nil
}

// HandleIMU feeds one IMU sample. It is a no-op when IMU input is disabled.
func (s *Service) HandleIMU(stamp time.Time, acc, gyro lidar.Vec3) error {
	if !s.cfg.UseIMU {
		return nil
	}
	if s.cfg.InvertAcc {
		acc = acc.Scale(-1)
	}
	if s.cfg.InvertGyro {
		gyro = gyro.Scale(-1)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.est == nil {
		return ErrNotInitialized
	}
	err := s.est.Predict(stamp, acc, gyro)
	s.publish(err)
	return err
}

// HandleOdometry feeds one absolute odometry pose. Consecutive poses are
// converted to body-frame deltas; the first pose after Reset only primes
// the tracker. It is a no-op when odometry is disabled.
func (s *Service) HandleOdometry(stamp time.Time, pose lidar.Transform) error {
	if !s.cfg.EnableOdometry {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.est == nil {
		return ErrNotInitialized
	}
	delta, ok := s.odom.Update(stamp, pose)
	if !ok {
		return nil
	}
	err := s.est.PredictOdom(delta)
	s.publish(err)
	if err != nil {
		return err
	}
	s.record(s.sample(stamp, SamplePredict))
	return nil
}

// HandleCloud downsamples cloud, registers it and corrects the estimator.
// It returns the aligned cloud.
func (s *Service) HandleCloud(stamp time.Time, cloud lidar.Cloud) (lidar.Cloud, error) {
	filtered := lidar.VoxelGrid(cloud, s.cfg.DownsampleResolution)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.est == nil {
		return nil, ErrNotInitialized
	}

	if !s.cfg.UseIMU {
		if err := s.est.Predict(stamp, lidar.Vec3{}, lidar.Vec3{}); err != nil {
			s.publish(err)
			return nil, err
		}
	}

	aligned, err := s.est.Correct(stamp, filtered)
	if err != nil {
		monitoring.Logf("[localization] correction at %s failed: %v", stamp.Format(time.RFC3339Nano), err)
		s.publish(err)
		return aligned, err
	}
	s.corrections++
	s.publish(nil)
	s.record(s.sample(stamp, SampleCorrect))
	return aligned, nil
}

// sample builds a Sample from the estimator state. Callers hold s.mu.
func (s *Service) sample(stamp time.Time, kind SampleKind) Sample {
	smp := Sample{
		Stamp:         stamp,
		Kind:          kind,
		Mode:          s.est.Mode(),
		Position:      s.est.Position(),
		Velocity:      s.est.Velocity(),
		Orientation:   s.est.Orientation(),
		Fitness:       -1,
		InertialError: -1,
		OdometryError: -1,
	}
	if kind == SamplePredict {
		if p, ok := s.est.OdometryPosition(); ok {
			smp.Position = p
		}
		if q, ok := s.est.OdometryOrientation(); ok {
			smp.Orientation = q
		}
		return smp
	}
	if reg, ok := s.est.LastRegistration(); ok {
		smp.Fitness = reg.Fitness
		smp.Converged = reg.Converged
	}
	if e, ok := s.est.InertialPredictionError(); ok {
		smp.InertialError = e.Position().Norm()
	}
	if e, ok := s.est.OdometryPredictionError(); ok {
		smp.OdometryError = e.Position().Norm()
	}
	return smp
}

func (s *Service) record(smp Sample) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Record(smp); err != nil {
		monitoring.Logf("[localization] failed to record %s sample: %v", smp.Kind, err)
	}
}

// publish copies the estimator state into the snapshot. Callers hold s.mu.
func (s *Service) publish(lastErr error) {
	snap := Snapshot{
		Initialized:    true,
		Mode:           s.est.Mode(),
		Position:       s.est.Position(),
		Velocity:       s.est.Velocity(),
		Orientation:    s.est.Orientation(),
		Pose:           s.est.Matrix(),
		LastCorrection: s.est.LastCorrectionTime(),
		Corrections:    s.corrections,
		UpdatedAt:      s.clock.Now(),
	}
	snap.OdometryPose, snap.HasOdometryPose = s.est.OdometryMatrix()
	snap.Registration, snap.HasRegistration = s.est.LastRegistration()
	snap.InertialError, snap.HasInertialError = s.est.InertialPredictionError()
	snap.OdometryError, snap.HasOdometryError = s.est.OdometryPredictionError()
	if lastErr != nil {
		snap.LastError = lastErr.Error()
	}

	s.snapMu.Lock()
	s.snap = snap
	s.snapMu.Unlock()
}
