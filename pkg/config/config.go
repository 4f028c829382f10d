// Package config holds engine configuration, loaded from the
// environment with sane defaults, optionally overlaid by a YAML
// governance profile.
package config

import (
	"os"
	"strconv"
)

// Config holds engine configuration. Windows and intervals are in
// ticks, never wall-clock time.
type Config struct {
	// MinimumWindow is the smallest window any campaign may be created
	// with.
	MinimumWindow uint64
	// ConfirmationInterval is the default window the engine applies
	// when a caller opens a campaign or request with window zero.
	ConfirmationInterval uint64
	// StoreDSN is the SQLite DSN for the audit/replay projection.
	// Empty disables persistence.
	StoreDSN string
	// OTLPEndpoint is the gRPC endpoint for telemetry export.
	OTLPEndpoint string
	// TelemetryEnabled toggles OpenTelemetry export.
	TelemetryEnabled bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		MinimumWindow:        10,
		ConfirmationInterval: 100,
		StoreDSN:             os.Getenv("TALLY_STORE_DSN"),
		OTLPEndpoint:         "localhost:4317",
	}

	if v := os.Getenv("TALLY_MIN_WINDOW"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil && n > 0 {
			cfg.MinimumWindow = n
		}
	}
	if v := os.Getenv("TALLY_CONFIRMATION_INTERVAL"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil && n > 0 {
			cfg.ConfirmationInterval = n
		}
	}
	if v := os.Getenv("TALLY_OTLP_ENDPOINT"); v != "" {
		cfg.OTLPEndpoint = v
	}
	cfg.TelemetryEnabled = os.Getenv("TALLY_TELEMETRY") == "true"

	return cfg
}
