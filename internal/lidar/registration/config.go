package registration

import "github.com/banshee-data/lidarloc/internal/config"

// ICPConfigFromLocalization builds an ICPConfig from a loaded LocalizationConfig.
func ICPConfigFromLocalization(cfg *config.LocalizationConfig) ICPConfig {
	return ICPConfig{
		MaxIterations:             cfg.GetICPMaxIterations(),
		MaxCorrespondenceDistance: cfg.GetICPMaxCorrespondenceDistance(),
		TransformationEpsilon:     cfg.GetICPTransformationEpsilon(),
		MinCorrespondences:        cfg.GetICPMinCorrespondences(),
		OutlierPercentile:         cfg.GetICPOutlierPercentile(),
	}
}
