package localization

import "errors"

var (
	// ErrRegistrationFailed wraps an error returned by the scan matcher.
	// Neither filter is corrected.
	ErrRegistrationFailed = errors.New("localization: scan registration failed")
	// ErrNotConverged is returned when convergence checking is enabled and
	// the matcher did not converge or exceeded the fitness limit. Neither
	// filter is corrected.
	ErrNotConverged = errors.New("localization: scan registration did not converge")
	// ErrNotInitialized is returned by Service handlers before the first Reset.
	ErrNotInitialized = errors.New("localization: estimator not initialized")
)
