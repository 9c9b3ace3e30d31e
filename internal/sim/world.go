// Package sim generates synthetic sensor streams for a vehicle driving a
// circle through a field of landmarks: IMU samples, drifting absolute
// odometry and LiDAR scans, together with the ground truth that produced
// them.
package sim

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"gonum.org/v1/gonum/num/quat"

	"github.com/banshee-data/lidarloc/internal/lidar"
	"github.com/banshee-data/lidarloc/internal/lidar/registration"
	"github.com/banshee-data/lidarloc/internal/motion"
)

// Config describes the simulated world and sensors.
type Config struct {
	Radius float64 // Circle radius (m)
	Speed  float64 // Forward speed (m/s)

	IMURate      float64 // Hz
	OdometryRate float64 // Hz; 0 disables odometry
	ScanRate     float64 // Hz

	AccNoise      float64 // Accelerometer white noise std (m/s²)
	GyroNoise     float64 // Gyroscope white noise std (rad/s)
	OdometryDrift float64 // Fractional heading-rate error of odometry
	ScanNoise     float64 // Per-point range noise std (m)
	ScanRange     float64 // Max scan range (m)

	Landmarks int   // Number of map points
	Seed      int64 // Random seed
}

// DefaultConfig returns a 10m circle driven at 2 m/s with typical sensor
// rates.
func DefaultConfig() Config {
	return Config{
		Radius:        10,
		Speed:         2,
		IMURate:       100,
		OdometryRate:  20,
		ScanRate:      10,
		AccNoise:      0.02,
		GyroNoise:     0.002,
		OdometryDrift: 0.02,
		ScanNoise:     0.01,
		ScanRange:     15,
		Landmarks:     6000,
		Seed:          1,
	}
}

// Validate checks that rates and dimensions are usable.
func (c Config) Validate() error {
	if c.Radius <= 0 {
		return fmt.Errorf("radius must be positive, got %f", c.Radius)
	}
	if c.Speed < 0 {
		return fmt.Errorf("speed must be non-negative, got %f", c.Speed)
	}
	if c.IMURate <= 0 || c.ScanRate <= 0 || c.OdometryRate < 0 {
		return fmt.Errorf("invalid sensor rates imu=%f odometry=%f scan=%f", c.IMURate, c.OdometryRate, c.ScanRate)
	}
	if c.ScanRange <= 0 {
		return fmt.Errorf("scan range must be positive, got %f", c.ScanRange)
	}
	if c.Landmarks <= 0 {
		return errors.New("at least one landmark is required")
	}
	if c.AccNoise < 0 || c.GyroNoise < 0 || c.ScanNoise < 0 {
		return errors.New("noise levels must be non-negative")
	}
	return nil
}

// World is a deterministic simulation for a given Config.
type World struct {
	cfg   Config
	start time.Time
	omega float64 // yaw rate (rad/s)
	rng   *rand.Rand
	land  lidar.Cloud
}

// NewWorld builds the landmark map. Landmarks are scattered uniformly
// over the square covering every point the sensor can see, between 0 and
// 3m above the ground.
func NewWorld(cfg Config, start time.Time) (*World, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sim config: %w", err)
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	half := cfg.Radius + cfg.ScanRange
	land := make(lidar.Cloud, cfg.Landmarks)
	for i := range land {
		land[i] = lidar.Point{
			X:         (rng.Float64()*2 - 1) * half,
			Y:         (rng.Float64()*2 - 1) * half,
			Z:         rng.Float64() * 3,
			Intensity: uint8(rng.Intn(256)),
		}
	}
	return &World{
		cfg:   cfg,
		start: start,
		omega: cfg.Speed / cfg.Radius,
		rng:   rng,
		land:  land,
	}, nil
}

// Map returns the landmark map in the map frame.
func (w *World) Map() lidar.Cloud { return w.land }

// Start returns the simulation start time.
func (w *World) Start() time.Time { return w.start }

// Truth returns the true body pose at stamp. The vehicle starts at
// (Radius, 0, 0) heading +y and turns counter-clockwise.
func (w *World) Truth(stamp time.Time) lidar.Transform {
	return w.circlePose(stamp.Sub(w.start).Seconds(), w.omega)
}

// TruthVelocity returns the true map-frame velocity at stamp.
func (w *World) TruthVelocity(stamp time.Time) lidar.Vec3 {
	theta := w.omega * stamp.Sub(w.start).Seconds()
	return lidar.Vec3{-w.cfg.Speed * math.Sin(theta), w.cfg.Speed * math.Cos(theta), 0}
}

func (w *World) circlePose(t, omega float64) lidar.Transform {
	theta := omega * t
	pos := lidar.Vec3{w.cfg.Radius * math.Cos(theta), w.cfg.Radius * math.Sin(theta), 0}
	q := lidar.QuatFromAxisAngle(lidar.Vec3{0, 0, 1}, theta+math.Pi/2)
	return lidar.NewTransform(pos, q)
}

// IMU returns the ideal specific force and angular rate in the body
// frame at stamp. Circular motion at constant speed gives a constant
// centripetal force to the left and a constant yaw rate.
func (w *World) IMU(stamp time.Time) (acc, gyro lidar.Vec3) {
	theta := w.omega * stamp.Sub(w.start).Seconds()
	accel := lidar.Vec3{
		-w.cfg.Speed * w.omega * math.Cos(theta),
		-w.cfg.Speed * w.omega * math.Sin(theta),
		motion.StandardGravity,
	}
	q := w.Truth(stamp).Quaternion()
	acc = lidar.RotateVec(quat.Conj(q), accel)
	gyro = lidar.Vec3{0, 0, w.omega}
	return acc, gyro
}

// Odometry returns the absolute odometry pose at stamp. It starts at the
// true start pose and integrates a heading rate scaled by
// 1+OdometryDrift, so it slowly diverges from truth.
func (w *World) Odometry(stamp time.Time) lidar.Transform {
	return w.circlePose(stamp.Sub(w.start).Seconds(), w.omega*(1+w.cfg.OdometryDrift))
}

// Scan returns the landmarks within ScanRange of the true pose at stamp,
// expressed in the body frame, with range noise added.
func (w *World) Scan(stamp time.Time) lidar.Cloud {
	pose := w.Truth(stamp)
	inv := pose.Inverse()
	center := pose.Position()
	r2 := w.cfg.ScanRange * w.cfg.ScanRange

	var scan lidar.Cloud
	for _, p := range w.land {
		d := p.Vec().Sub(center)
		if d.Dot(d) > r2 {
			continue
		}
		b := inv.Apply(p.Vec())
		if w.cfg.ScanNoise > 0 {
			if n := b.Norm(); n > 0 {
				b = b.Scale(1 + w.rng.NormFloat64()*w.cfg.ScanNoise/n)
			}
		}
		scan = append(scan, lidar.Point{X: b[0], Y: b[1], Z: b[2], Intensity: p.Intensity})
	}
	return scan
}

// TruthMatcher returns a matcher that ignores the scan contents and
// reports the true pose at the stamp returned by now.
func (w *World) TruthMatcher(now func() time.Time) registration.MatcherFunc {
	return func(source lidar.Cloud, _ lidar.Transform) (registration.Result, error) {
		T := w.Truth(now())
		return registration.Result{
			Aligned:         source.Transformed(T),
			Transform:       T,
			Converged:       true,
			Fitness:         0,
			Iterations:      1,
			Correspondences: len(source),
		}, nil
	}
}

// EventKind identifies a sensor event.
type EventKind int

const (
	EventIMU EventKind = iota
	EventOdometry
	EventScan
)

func (k EventKind) String() string {
	switch k {
	case EventIMU:
		return "imu"
	case EventOdometry:
		return "odometry"
	case EventScan:
		return "scan"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one sensor reading. Only the fields of its Kind are set.
type Event struct {
	Stamp time.Time
	Kind  EventKind

	Acc, Gyro lidar.Vec3      // EventIMU
	Pose      lidar.Transform // EventOdometry
	Cloud     lidar.Cloud     // EventScan
}

// Run emits every sensor event in [start, start+d] in time order and
// calls fn for each. Simultaneous events are emitted IMU first, then
// odometry, then scans. Run stops at the first error fn returns.
func (w *World) Run(d time.Duration, fn func(Event) error) error {
	type tick struct {
		stamp time.Time
		kind  EventKind
	}
	var ticks []tick
	add := func(rate float64, kind EventKind) {
		if rate <= 0 {
			return
		}
		period := time.Duration(float64(time.Second) / rate)
		for t := time.Duration(0); t <= d; t += period {
			ticks = append(ticks, tick{w.start.Add(t), kind})
		}
	}
	add(w.cfg.IMURate, EventIMU)
	add(w.cfg.OdometryRate, EventOdometry)
	add(w.cfg.ScanRate, EventScan)
	sort.SliceStable(ticks, func(i, j int) bool {
		if ticks[i].stamp.Equal(ticks[j].stamp) {
			return ticks[i].kind < ticks[j].kind
		}
		return ticks[i].stamp.Before(ticks[j].stamp)
	})

	for _, tk := range ticks {
		ev := Event{Stamp: tk.stamp, Kind: tk.kind}
		switch tk.kind {
		case EventIMU:
			ev.Acc, ev.Gyro = w.IMU(tk.stamp)
			ev.Acc = w.noisy(ev.Acc, w.cfg.AccNoise)
			ev.Gyro = w.noisy(ev.Gyro, w.cfg.GyroNoise)
		case EventOdometry:
			ev.Pose = w.Odometry(tk.stamp)
		case EventScan:
			ev.Cloud = w.Scan(tk.stamp)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	return nil
}

func (w *World) noisy(v lidar.Vec3, std float64) lidar.Vec3 {
	if std == 0 {
		return v
	}
	return lidar.Vec3{
		v[0] + w.rng.NormFloat64()*std,
		v[1] + w.rng.NormFloat64()*std,
		v[2] + w.rng.NormFloat64()*std,
	}
}
