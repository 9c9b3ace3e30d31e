package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical localization defaults file.
const DefaultConfigPath = "config/localization.defaults.json"

// LocalizationConfig is the root configuration for the pose estimator, the
// runtime service around it and the reference ICP matcher. Every field is
// optional; the Get* methods supply defaults for omitted fields.
type LocalizationConfig struct {
	// Estimator params
	CoolTime              *string  `json:"cool_time,omitempty"` // duration string like "1s"
	Gravity               *float64 `json:"gravity,omitempty"`
	IntegrateAcceleration *bool    `json:"integrate_acceleration,omitempty"`
	RequireConvergence    *bool    `json:"require_convergence,omitempty"`
	MaxFitness            *float64 `json:"max_fitness,omitempty"`

	// Sensor handling params
	UseIMU               *bool    `json:"use_imu,omitempty"`
	InvertAcc            *bool    `json:"invert_acc,omitempty"`
	InvertGyro           *bool    `json:"invert_gyro,omitempty"`
	EnableOdometry       *bool    `json:"enable_odometry,omitempty"`
	DownsampleResolution *float64 `json:"downsample_resolution,omitempty"`

	// ICP params
	ICPMaxIterations             *int     `json:"icp_max_iterations,omitempty"`
	ICPMaxCorrespondenceDistance *float64 `json:"icp_max_correspondence_distance,omitempty"`
	ICPTransformationEpsilon     *float64 `json:"icp_transformation_epsilon,omitempty"`
	ICPMinCorrespondences        *int     `json:"icp_min_correspondences,omitempty"`
	ICPOutlierPercentile         *float64 `json:"icp_outlier_percentile,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyLocalizationConfig returns a LocalizationConfig with all fields set to nil.
func EmptyLocalizationConfig() *LocalizationConfig {
	return &LocalizationConfig{}
}

// DefaultLocalizationConfig returns a config with every field populated
// with its default value.
func DefaultLocalizationConfig() *LocalizationConfig {
	return &LocalizationConfig{
		CoolTime:                     ptrString("1s"),
		Gravity:                      ptrFloat64(9.80665),
		IntegrateAcceleration:        ptrBool(false),
		RequireConvergence:           ptrBool(false),
		MaxFitness:                   ptrFloat64(1.0),
		UseIMU:                       ptrBool(true),
		InvertAcc:                    ptrBool(false),
		InvertGyro:                   ptrBool(false),
		EnableOdometry:               ptrBool(true),
		DownsampleResolution:         ptrFloat64(0.1),
		ICPMaxIterations:             ptrInt(30),
		ICPMaxCorrespondenceDistance: ptrFloat64(1.0),
		ICPTransformationEpsilon:     ptrFloat64(1e-6),
		ICPMinCorrespondences:        ptrInt(10),
		ICPOutlierPercentile:         ptrFloat64(1.0),
	}
}

// LoadLocalizationConfig loads a LocalizationConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted
// from the file fall back to defaults, so partial configs are safe.
func LoadLocalizationConfig(path string) (*LocalizationConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyLocalizationConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *LocalizationConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/lidar/registration/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadLocalizationConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *LocalizationConfig) Validate() error {
	if c.CoolTime != nil && *c.CoolTime != "" {
		d, err := time.ParseDuration(*c.CoolTime)
		if err != nil {
			return fmt.Errorf("invalid cool_time '%s': %w", *c.CoolTime, err)
		}
		if d < 0 {
			return fmt.Errorf("cool_time must be non-negative, got %s", d)
		}
	}

	if c.Gravity != nil && *c.Gravity < 0 {
		return fmt.Errorf("gravity must be non-negative, got %f", *c.Gravity)
	}

	if c.MaxFitness != nil && *c.MaxFitness <= 0 {
		return fmt.Errorf("max_fitness must be positive, got %f", *c.MaxFitness)
	}

	if c.DownsampleResolution != nil && *c.DownsampleResolution < 0 {
		return fmt.Errorf("downsample_resolution must be non-negative, got %f", *c.DownsampleResolution)
	}

	if c.ICPMaxIterations != nil && *c.ICPMaxIterations <= 0 {
		return fmt.Errorf("icp_max_iterations must be positive, got %d", *c.ICPMaxIterations)
	}

	if c.ICPMaxCorrespondenceDistance != nil && *c.ICPMaxCorrespondenceDistance <= 0 {
		return fmt.Errorf("icp_max_correspondence_distance must be positive, got %f", *c.ICPMaxCorrespondenceDistance)
	}

	if c.ICPTransformationEpsilon != nil && *c.ICPTransformationEpsilon <= 0 {
		return fmt.Errorf("icp_transformation_epsilon must be positive, got %g", *c.ICPTransformationEpsilon)
	}

	if c.ICPMinCorrespondences != nil && *c.ICPMinCorrespondences < 3 {
		return fmt.Errorf("icp_min_correspondences must be at least 3, got %d", *c.ICPMinCorrespondences)
	}

	if c.ICPOutlierPercentile != nil {
		if p := *c.ICPOutlierPercentile; p <= 0 || p > 1 {
			return fmt.Errorf("icp_outlier_percentile must be in (0,1], got %f", p)
		}
	}

	return nil
}

// GetCoolTime parses and returns the CoolTime as a time.Duration.
func (c *LocalizationConfig) GetCoolTime() time.Duration {
	if c.CoolTime == nil || *c.CoolTime == "" {
		return time.Second // default
	}
	d, err := time.ParseDuration(*c.CoolTime)
	if err != nil || d < 0 {
		return time.Second // default on parse error
	}
	return d
}

// GetGravity returns the gravity value or the default.
func (c *LocalizationConfig) GetGravity() float64 {
	if c.Gravity == nil {
		return 9.80665
	}
	return *c.Gravity
}

// GetIntegrateAcceleration returns the integrate_acceleration value or the default.
func (c *LocalizationConfig) GetIntegrateAcceleration() bool {
	if c.IntegrateAcceleration == nil {
		return false
	}
	return *c.IntegrateAcceleration
}

// GetRequireConvergence returns the require_convergence value or the default.
func (c *LocalizationConfig) GetRequireConvergence() bool {
	if c.RequireConvergence == nil {
		return false // default: accept whatever the matcher returns
	}
	return *c.RequireConvergence
}

// GetMaxFitness returns the max_fitness value or the default.
func (c *LocalizationConfig) GetMaxFitness() float64 {
	if c.MaxFitness == nil {
		return 1.0
	}
	return *c.MaxFitness
}

// GetUseIMU returns the use_imu value or the default.
func (c *LocalizationConfig) GetUseIMU() bool {
	if c.UseIMU == nil {
		return true
	}
	return *c.UseIMU
}

// GetInvertAcc returns the invert_acc value or the default.
func (c *LocalizationConfig) GetInvertAcc() bool {
	if c.InvertAcc == nil {
		return false
	}
	return *c.InvertAcc
}

// GetInvertGyro returns the invert_gyro value or the default.
func (c *LocalizationConfig) GetInvertGyro() bool {
	if c.InvertGyro == nil {
		return false
	}
	return *c.InvertGyro
}

// GetEnableOdometry returns the enable_odometry value or the default.
func (c *LocalizationConfig) GetEnableOdometry() bool {
	if c.EnableOdometry == nil {
		return true
	}
	return *c.EnableOdometry
}

// GetDownsampleResolution returns the downsample_resolution value or the default.
// Zero disables downsampling.
func (c *LocalizationConfig) GetDownsampleResolution() float64 {
	if c.DownsampleResolution == nil {
		return 0.1
	}
	return *c.DownsampleResolution
}

// GetICPMaxIterations returns the icp_max_iterations value or the default.
func (c *LocalizationConfig) GetICPMaxIterations() int {
	if c.ICPMaxIterations == nil {
		return 30
	}
	return *c.ICPMaxIterations
}

// GetICPMaxCorrespondenceDistance returns the icp_max_correspondence_distance value or the default.
func (c *LocalizationConfig) GetICPMaxCorrespondenceDistance() float64 {
	if c.ICPMaxCorrespondenceDistance == nil {
		return 1.0
	}
	return *c.ICPMaxCorrespondenceDistance
}

// GetICPTransformationEpsilon returns the icp_transformation_epsilon value or the default.
func (c *LocalizationConfig) GetICPTransformationEpsilon() float64 {
	if c.ICPTransformationEpsilon == nil {
		return 1e-6
	}
	return *c.ICPTransformationEpsilon
}

// GetICPMinCorrespondences returns the icp_min_correspondences value or the default.
func (c *LocalizationConfig) GetICPMinCorrespondences() int {
	if c.ICPMinCorrespondences == nil {
		return 10
	}
	return *c.ICPMinCorrespondences
}

// GetICPOutlierPercentile returns the icp_outlier_percentile value or the default.
func (c *LocalizationConfig) GetICPOutlierPercentile() float64 {
	if c.ICPOutlierPercentile == nil {
		return 1.0
	}
	return *c.ICPOutlierPercentile
}
