package config

import (
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// FeatureFlags holds runtime toggles of optional worker behaviour.
// Each flag can be overridden with FEATURE_<NAME>=true|false.
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
	// === Ranking ===
	FeatureRankCache       = "ranking.cache"        // Write and read cohort rankings through Redis
	FeatureRankCacheWarmup = "ranking.cache_warmup" // Queries write store reads back to the cache

	// === Events ===
	FeatureRankingEvents = "events.ranking_updated" // Publish ranking.updated after each cohort rewrite

	// === Scheduler ===
	FeatureScheduledRebuild = "scheduler.rebuild" // Periodic full rebuild of every period
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

// initializeDefaults sets up all features with default values.
func (ff *FeatureFlags) initializeDefaults() {
	ff.features[FeatureRankCache] = &Feature{
		Name:        FeatureRankCache,
		Description: "Cache cohort rankings in Redis",
		Enabled:     true,
	}

	ff.features[FeatureRankCacheWarmup] = &Feature{
		Name:        FeatureRankCacheWarmup,
		Description: "Fill the rank cache on query misses",
		Enabled:     true,
	}

	ff.features[FeatureRankingEvents] = &Feature{
		Name:        FeatureRankingEvents,
		Description: "Publish averages.recomputed and ranking.updated events",
		Enabled:     true,
	}

	// A rebuild touches every cohort of every year; opt-in per deployment
	ff.features[FeatureScheduledRebuild] = &Feature{
		Name:        FeatureScheduledRebuild,
		Description: "Rebuild all averages and ranks on a schedule",
		Enabled:     false,
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Example: FEATURE_RANKING_CACHE=false
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
// "ranking.cache_warmup" -> "FEATURE_RANKING_CACHE_WARMUP"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled. Unknown features are disabled.
func (ff *FeatureFlags) IsEnabled(featureName string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	feature, ok := ff.features[featureName]
	return ok && feature.Enabled
}

// EnableFeature enables a feature.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.set(featureName, true)
}

// DisableFeature disables a feature.
func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.set(featureName, false)
}

func (ff *FeatureFlags) set(featureName string, enabled bool) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return &FeatureFlagError{Feature: featureName, Message: "feature not found"}
	}
	feature.Enabled = enabled
	return nil
}

// Names returns every known feature name, sorted.
func (ff *FeatureFlags) Names() []string {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	names := make([]string, 0, len(ff.features))
	for name := range ff.features {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FeatureFlagError represents an error related to feature flags.
type FeatureFlagError struct {
	Feature string
	Message string
}

func (e *FeatureFlagError) Error() string {
	return "feature flag " + e.Feature + ": " + e.Message
}
