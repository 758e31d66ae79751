package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks the variables a developer machine is likely to carry.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_ENV", "DATABASE_URL", "DB_HOST", "DB_USER", "DB_DRIVER", "SQLITE_PATH",
		"REDIS_ENABLED", "REDIS_URL", "WORKFLOW_REQUIRED_HOURS",
		"WORKFLOW_ACADEMIC_START_MONTH", "WORKFLOW_ERA_OFFSET", "LOG_LEVEL",
		"FEATURE_TRAINING_ENFORCE_HOUR_CEILING", "FEATURE_REPORT_LOCK_AFTER_ACK",
		"FEATURE_PROGRESS_CACHE",
	} {
		t.Setenv(key, "")
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "coop.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFile_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFile("")
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "coop.db", cfg.Database.SQLitePath)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 10*time.Minute, cfg.Redis.ProgressTTL)
	assert.Equal(t, WorkflowConfig{RequiredHours: 30, AcademicStartMonth: 5, EraOffset: 543}, cfg.Workflow)
	assert.Equal(t, "info", cfg.Observability.LogLevel)
	assert.True(t, cfg.IsDevelopment())

	assert.False(t, cfg.Features.IsEnabled(FeatureTrainingEnforceHourCeiling))
	assert.False(t, cfg.Features.IsEnabled(FeatureReportLockAfterAck))
	assert.True(t, cfg.Features.IsEnabled(FeatureProgressCache))
}

func TestLoadFile_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_USER", "coop")
	t.Setenv("DB_PASSWORD", "pw")
	t.Setenv("WORKFLOW_REQUIRED_HOURS", "40")
	t.Setenv("FEATURE_REPORT_LOCK_AFTER_ACK", "true")
	t.Setenv("FEATURE_PROGRESS_CACHE", "not-a-bool")

	cfg, err := LoadFile("")
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "postgres://coop:pw@db.internal:5432/coop?sslmode=require", cfg.Database.URL)
	assert.Equal(t, 40, cfg.Workflow.RequiredHours)
	assert.True(t, cfg.Features.IsEnabled(FeatureReportLockAfterAck))
	assert.True(t, cfg.Features.IsEnabled(FeatureProgressCache), "unparseable override keeps the default")
}

func TestLoadFile_YAMLOverlay(t *testing.T) {
	clearEnv(t)
	t.Setenv("WORKFLOW_ERA_OFFSET", "0")

	path := writeFile(t, `
workflow:
  required_hours: 24
  academic_start_month: 8
features:
  training.enforce_hour_ceiling: true
  progress.cache: false
log_level: debug
`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, WorkflowConfig{RequiredHours: 24, AcademicStartMonth: 8, EraOffset: 0}, cfg.Workflow)
	assert.True(t, cfg.Features.IsEnabled(FeatureTrainingEnforceHourCeiling))
	assert.False(t, cfg.Features.IsEnabled(FeatureProgressCache))
	assert.Equal(t, "debug", cfg.Observability.LogLevel)
}

func TestLoadFile_YAMLErrors(t *testing.T) {
	clearEnv(t)

	_, err := LoadFile(writeFile(t, "features:\n  no.such_flag: true\n"))
	assert.ErrorContains(t, err, "no.such_flag")

	_, err = LoadFile(writeFile(t, "workflow:\n  hours: 3\n"))
	assert.Error(t, err, "unknown keys are rejected")

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_DRIVER", "mysql")
	t.Setenv("WORKFLOW_REQUIRED_HOURS", "0")
	t.Setenv("WORKFLOW_ACADEMIC_START_MONTH", "13")

	_, err := LoadFile("")
	require.Error(t, err)
	assert.ErrorContains(t, err, `DB_DRIVER "mysql"`)
	assert.ErrorContains(t, err, "WORKFLOW_REQUIRED_HOURS must be positive")
	assert.ErrorContains(t, err, "WORKFLOW_ACADEMIC_START_MONTH must be 1-12")
}

func TestValidate_ProductionNeedsPostgres(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "production")

	_, err := LoadFile("")
	assert.ErrorContains(t, err, "DB_DRIVER=postgres is required in production")
}

func TestFeatureFlags(t *testing.T) {
	clearEnv(t)
	ff := LoadFeatureFlags()

	require.NoError(t, ff.EnableFeature(FeatureTrainingEnforceHourCeiling))
	assert.True(t, ff.IsEnabled(FeatureTrainingEnforceHourCeiling))
	require.NoError(t, ff.DisableFeature(FeatureTrainingEnforceHourCeiling))
	assert.False(t, ff.IsEnabled(FeatureTrainingEnforceHourCeiling))

	assert.ErrorIs(t, ff.Set("nope", true), ErrFeatureNotFound)
	assert.False(t, ff.IsEnabled("nope"))

	var nilFlags *FeatureFlags
	assert.False(t, nilFlags.IsEnabled(FeatureProgressCache))

	all := ff.GetAllFeatures()
	require.Len(t, all, 3)
	assert.Equal(t, FeatureProgressCache, all[0].Name)
	assert.Equal(t, "FEATURE_REPORT_LOCK_AFTER_ACK", featureNameToEnvKey(FeatureReportLockAfterAck))
}
