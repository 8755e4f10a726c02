package config

import (
	"os"
	"strings"
)

// SkipMigrations disables AutoMigrate on startup. Use when schema changes
// are rolled out separately from the service binary.
//
// Set via env:
// - SKIP_MIGRATIONS=true
func SkipMigrations() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// SweepDisabled turns off the periodic resubmission sweep. Queued jobs and
// push-triggered drains still run; only the timer-driven catch-up stops.
//
// Set via env:
// - ETIMS_SWEEP_DISABLED=true
func SweepDisabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("ETIMS_SWEEP_DISABLED")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
