package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestDefaultLocalizationConfig(t *testing.T) {
	cfg := DefaultLocalizationConfig()

	if cfg.CoolTime == nil || *cfg.CoolTime != "1s" {
		t.Errorf("Expected CoolTime '1s', got %v", cfg.CoolTime)
	}
	if cfg.UseIMU == nil || *cfg.UseIMU != true {
		t.Errorf("Expected UseIMU true, got %v", cfg.UseIMU)
	}
	if cfg.GetIntegrateAcceleration() {
		t.Errorf("GetIntegrateAcceleration() = true, want false")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}

	if cfg.GetCoolTime() != time.Second {
		t.Errorf("GetCoolTime() = %v, want 1s", cfg.GetCoolTime())
	}
	if cfg.GetGravity() != 9.80665 {
		t.Errorf("GetGravity() = %f, want 9.80665", cfg.GetGravity())
	}
	if cfg.GetICPMaxIterations() != 30 {
		t.Errorf("GetICPMaxIterations() = %d, want 30", cfg.GetICPMaxIterations())
	}
}

// The defaults file and the in-code defaults must not drift apart.
func TestMustLoadDefaultConfig_MatchesGetters(t *testing.T) {
	fromFile := MustLoadDefaultConfig()
	if diff := cmp.Diff(DefaultLocalizationConfig(), fromFile); diff != "" {
		t.Errorf("defaults file mismatch (-code +file):\n%s", diff)
	}

	empty := EmptyLocalizationConfig()
	type getters struct {
		CoolTime                        time.Duration
		Gravity, MaxFitness, Downsample float64
		Integrate, Strict, UseIMU, Odom bool
		InvertAcc, InvertGyro           bool
		Iter, MinCorr                   int
		MaxDist, Eps, Percentile        float64
	}
	read := func(c *LocalizationConfig) getters {
		return getters{
			CoolTime: c.GetCoolTime(), Gravity: c.GetGravity(), MaxFitness: c.GetMaxFitness(),
			Downsample: c.GetDownsampleResolution(), Integrate: c.GetIntegrateAcceleration(),
			Strict: c.GetRequireConvergence(), UseIMU: c.GetUseIMU(), Odom: c.GetEnableOdometry(),
			InvertAcc: c.GetInvertAcc(), InvertGyro: c.GetInvertGyro(),
			Iter: c.GetICPMaxIterations(), MinCorr: c.GetICPMinCorrespondences(),
			MaxDist: c.GetICPMaxCorrespondenceDistance(), Eps: c.GetICPTransformationEpsilon(),
			Percentile: c.GetICPOutlierPercentile(),
		}
	}
	if diff := cmp.Diff(read(empty), read(fromFile)); diff != "" {
		t.Errorf("getter defaults differ from defaults file (-getters +file):\n%s", diff)
	}
}

func TestLoadLocalizationConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "partial.json")

	testJSON := `{
  "cool_time": "250ms",
  "use_imu": false,
  "icp_max_iterations": 50
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadLocalizationConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if got := cfg.GetCoolTime(); got != 250*time.Millisecond {
		t.Errorf("GetCoolTime() = %v, want 250ms", got)
	}
	if cfg.GetUseIMU() {
		t.Error("Expected UseIMU false")
	}
	if got := cfg.GetICPMaxIterations(); got != 50 {
		t.Errorf("GetICPMaxIterations() = %d, want 50", got)
	}
	// Omitted fields keep their defaults.
	if cfg.InvertAcc != nil {
		t.Errorf("Expected InvertAcc unset, got %v", *cfg.InvertAcc)
	}
	if got := cfg.GetDownsampleResolution(); got != 0.1 {
		t.Errorf("GetDownsampleResolution() = %f, want 0.1", got)
	}
}

func TestLoadLocalizationConfig_Errors(t *testing.T) {
	tmpDir := t.TempDir()

	write := func(name, body string) string {
		p := filepath.Join(tmpDir, name)
		if err := os.WriteFile(p, []byte(body), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
		return p
	}

	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"missing", "/nonexistent/path/to/config.json", "failed to stat"},
		{"extension", write("config.yaml", "{}"), ".json extension"},
		{"invalid json", write("bad.json", `{"gravity": "heavy"`), "failed to parse"},
		{"invalid value", write("invalid.json", `{"icp_outlier_percentile": 1.5}`), "icp_outlier_percentile"},
		{"too large", write("large.json", `{"x":"`+strings.Repeat("a", 1024*1024)+`"}`), "too large"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadLocalizationConfig(tt.path)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *LocalizationConfig
		wantErr bool
	}{
		{"empty", EmptyLocalizationConfig(), false},
		{"defaults", DefaultLocalizationConfig(), false},
		{"zero cool time", &LocalizationConfig{CoolTime: ptrString("0s")}, false},
		{"bad cool time", &LocalizationConfig{CoolTime: ptrString("soon")}, true},
		{"negative cool time", &LocalizationConfig{CoolTime: ptrString("-1s")}, true},
		{"negative gravity", &LocalizationConfig{Gravity: ptrFloat64(-9.8)}, true},
		{"zero max fitness", &LocalizationConfig{MaxFitness: ptrFloat64(0)}, true},
		{"negative downsample", &LocalizationConfig{DownsampleResolution: ptrFloat64(-0.1)}, true},
		{"zero downsample", &LocalizationConfig{DownsampleResolution: ptrFloat64(0)}, false},
		{"zero iterations", &LocalizationConfig{ICPMaxIterations: ptrInt(0)}, true},
		{"zero distance", &LocalizationConfig{ICPMaxCorrespondenceDistance: ptrFloat64(0)}, true},
		{"zero epsilon", &LocalizationConfig{ICPTransformationEpsilon: ptrFloat64(0)}, true},
		{"two correspondences", &LocalizationConfig{ICPMinCorrespondences: ptrInt(2)}, true},
		{"zero percentile", &LocalizationConfig{ICPOutlierPercentile: ptrFloat64(0)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetCoolTime_InvalidFallsBack(t *testing.T) {
	cfg := &LocalizationConfig{CoolTime: ptrString("not-a-duration")}
	if got := cfg.GetCoolTime(); got != time.Second {
		t.Errorf("GetCoolTime() = %v, want default 1s", got)
	}
}
