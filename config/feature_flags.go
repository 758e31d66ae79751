package config

import (
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// FeatureFlags manages workflow toggles. Every flag is process-wide: the
// rules it switches apply to all students alike.
type FeatureFlags struct {
	mu       sync.RWMutex
	features map[string]*Feature
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool
}

// Predefined feature flag names.
const (
	// Reject approved hours above the hours the student requested.
	FeatureTrainingEnforceHourCeiling = "training.enforce_hour_ceiling"

	// Turn re-acknowledging a weekly report into an error.
	FeatureReportLockAfterAck = "report.lock_after_ack"

	// Serve training progress from the Redis cache when Redis is enabled.
	FeatureProgressCache = "progress.cache"
)

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{features: make(map[string]*Feature)}

	// Initialize all features with defaults
	ff.initializeDefaults()

	// Load overrides from environment
	ff.loadFromEnvironment()

	return ff
}

func (ff *FeatureFlags) initializeDefaults() {
	ff.features[FeatureTrainingEnforceHourCeiling] = &Feature{
		Name:        FeatureTrainingEnforceHourCeiling,
		Description: "Approved hours may not exceed requested hours",
		Enabled:     false,
	}

	// Off by default: faculty may correct an acknowledgment comment.
	ff.features[FeatureReportLockAfterAck] = &Feature{
		Name:        FeatureReportLockAfterAck,
		Description: "Acknowledged weekly reports are final",
		Enabled:     false,
	}

	ff.features[FeatureProgressCache] = &Feature{
		Name:        FeatureProgressCache,
		Description: "Cache computed training progress in Redis",
		Enabled:     true,
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Unparseable values are ignored.
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		if val := os.Getenv(featureNameToEnvKey(name)); val != "" {
			if b, err := strconv.ParseBool(val); err == nil {
				feature.Enabled = b
			}
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "report.lock_after_ack" -> "FEATURE_REPORT_LOCK_AFTER_ACK"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled reports whether a feature is on. Unknown features are off.
func (ff *FeatureFlags) IsEnabled(featureName string) bool {
	if ff == nil {
		return false
	}
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	feature, ok := ff.features[featureName]
	return ok && feature.Enabled
}

// Set switches a known feature on or off.
func (ff *FeatureFlags) Set(featureName string, enabled bool) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}
	feature.Enabled = enabled
	return nil
}

// EnableFeature enables a feature.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.Set(featureName, true)
}

// DisableFeature disables a feature.
func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.Set(featureName, false)
}

// GetAllFeatures returns a copy of all feature configurations, sorted by name.
func (ff *FeatureFlags) GetAllFeatures() []Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	result := make([]Feature, 0, len(ff.features))
	for _, v := range ff.features {
		result = append(result, *v)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// --- Errors ---

var (
	ErrFeatureNotFound = &FeatureFlagError{Message: "feature not found"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
