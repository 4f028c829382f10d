package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TALLY_MIN_WINDOW", "")
	t.Setenv("TALLY_CONFIRMATION_INTERVAL", "")
	t.Setenv("TALLY_STORE_DSN", "")
	t.Setenv("TALLY_OTLP_ENDPOINT", "")
	t.Setenv("TALLY_TELEMETRY", "")

	cfg := Load()
	assert.Equal(t, uint64(10), cfg.MinimumWindow)
	assert.Equal(t, uint64(100), cfg.ConfirmationInterval)
	assert.Empty(t, cfg.StoreDSN)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.False(t, cfg.TelemetryEnabled)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("TALLY_MIN_WINDOW", "25")
	t.Setenv("TALLY_CONFIRMATION_INTERVAL", "500")
	t.Setenv("TALLY_STORE_DSN", "file:tally.db")
	t.Setenv("TALLY_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("TALLY_TELEMETRY", "true")

	cfg := Load()
	assert.Equal(t, uint64(25), cfg.MinimumWindow)
	assert.Equal(t, uint64(500), cfg.ConfirmationInterval)
	assert.Equal(t, "file:tally.db", cfg.StoreDSN)
	assert.Equal(t, "collector:4317", cfg.OTLPEndpoint)
	assert.True(t, cfg.TelemetryEnabled)
}

func TestLoadIgnoresGarbage(t *testing.T) {
	t.Setenv("TALLY_MIN_WINDOW", "not-a-number")
	t.Setenv("TALLY_CONFIRMATION_INTERVAL", "0")
	t.Setenv("TALLY_TELEMETRY", "yes")

	cfg := Load()
	assert.Equal(t, uint64(10), cfg.MinimumWindow)
	assert.Equal(t, uint64(100), cfg.ConfirmationInterval)
	assert.False(t, cfg.TelemetryEnabled)
}

const testProfileYAML = `name: Fast Testnet
code: testnet
minimum_window: 5
confirmation_interval: 20
seed_owners:
  alice: 10
  bob: 5
action_schemas:
  treasury.spend: '{"type": "array", "minItems": 1}'
admission_rules:
  owners-only: requester_level > 0
`

func writeProfile(t *testing.T, dir, code, body string) {
	t.Helper()
	path := filepath.Join(dir, "profile_"+code+".yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "testnet", testProfileYAML)

	profile, err := LoadProfile(dir, "TESTNET")
	require.NoError(t, err)

	assert.Equal(t, "Fast Testnet", profile.Name)
	assert.Equal(t, "testnet", profile.Code)
	assert.Equal(t, uint64(5), profile.MinimumWindow)
	assert.Equal(t, uint64(20), profile.ConfirmationInterval)
	assert.Equal(t, uint8(10), profile.SeedOwners["alice"])
	assert.Contains(t, profile.ActionSchemas["treasury.spend"], `"array"`)
	assert.Equal(t, "requester_level > 0", profile.AdmissionRules["owners-only"])
}

func TestLoadProfileMissing(t *testing.T) {
	_, err := LoadProfile(t.TempDir(), "nope")
	require.Error(t, err)
}

func TestLoadProfileDefaultsCode(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "mainnet", "name: Mainnet\nminimum_window: 100\n")

	profile, err := LoadProfile(dir, "mainnet")
	require.NoError(t, err)
	assert.Equal(t, "mainnet", profile.Code)
}

func TestLoadAllProfiles(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "testnet", testProfileYAML)
	writeProfile(t, dir, "mainnet", "name: Mainnet\ncode: mainnet\nminimum_window: 100\n")

	profiles, err := LoadAllProfiles(dir)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, uint64(5), profiles["testnet"].MinimumWindow)
	assert.Equal(t, uint64(100), profiles["mainnet"].MinimumWindow)
}

func TestProfileApply(t *testing.T) {
	cfg := &Config{MinimumWindow: 10, ConfirmationInterval: 100}

	(&Profile{MinimumWindow: 5, ConfirmationInterval: 20}).Apply(cfg)
	assert.Equal(t, uint64(5), cfg.MinimumWindow)
	assert.Equal(t, uint64(20), cfg.ConfirmationInterval)

	// Zero profile fields leave the config alone.
	(&Profile{}).Apply(cfg)
	assert.Equal(t, uint64(5), cfg.MinimumWindow)
	assert.Equal(t, uint64(20), cfg.ConfirmationInterval)
}
