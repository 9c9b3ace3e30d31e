package localization

import (
	"fmt"

	"github.com/banshee-data/lidarloc/internal/config"
)

// ServiceConfig holds the sensor-handling settings of a Service together
// with the options used for every estimator it creates.
type ServiceConfig struct {
	UseIMU               bool    // Feed IMU samples to the inertial filter
	InvertAcc            bool    // Negate accelerometer readings
	InvertGyro           bool    // Negate gyroscope readings
	EnableOdometry       bool    // Feed odometry deltas to the odometry filter
	DownsampleResolution float64 // Voxel leaf size in meters; 0 disables

	Estimator []Option
}

// DefaultServiceConfig returns a ServiceConfig loaded from the canonical
// defaults file (config/localization.defaults.json).
// Panics if the file cannot be found; intended for tests and binaries
// that have already validated config availability.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfigFromLocalization(config.MustLoadDefaultConfig())
}

// ServiceConfigFromLocalization builds a ServiceConfig from a loaded
// LocalizationConfig. Without IMU input the inertial filter runs as a
// constant-velocity model, so integrate_acceleration is ignored.
func ServiceConfigFromLocalization(cfg *config.LocalizationConfig) ServiceConfig {
	return ServiceConfig{
		UseIMU:               cfg.GetUseIMU(),
		InvertAcc:            cfg.GetInvertAcc(),
		InvertGyro:           cfg.GetInvertGyro(),
		EnableOdometry:       cfg.GetEnableOdometry(),
		DownsampleResolution: cfg.GetDownsampleResolution(),
		Estimator:            OptionsFromConfig(cfg),
	}
}

// OptionsFromConfig returns the estimator options described by cfg.
func OptionsFromConfig(cfg *config.LocalizationConfig) []Option {
	opts := []Option{
		WithCoolTime(cfg.GetCoolTime()),
		WithGravity(cfg.GetGravity()),
	}
	if cfg.GetIntegrateAcceleration() && cfg.GetUseIMU() {
		opts = append(opts, WithAccelerationIntegration())
	}
	if cfg.GetRequireConvergence() {
		opts = append(opts, WithConvergenceCheck(cfg.GetMaxFitness()))
	}
	return opts
}

// Validate checks if the configuration is valid.
func (c ServiceConfig) Validate() error {
	if c.DownsampleResolution < 0 {
		return fmt.Errorf("DownsampleResolution must be non-negative, got %f", c.DownsampleResolution)
	}
	return nil
}
