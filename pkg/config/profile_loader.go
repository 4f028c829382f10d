package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile is a named governance configuration profile. Deployments
// with different decision cadences (fast test networks, slow mainnet
// style governance) ship as profile YAML files. ActionSchemas maps
// action names to inline JSON Schema documents; AdmissionRules maps
// rule names to CEL expressions. Both are compiled when an engine is
// assembled from the profile.
type Profile struct {
	Name                 string            `yaml:"name" json:"name"`
	Code                 string            `yaml:"code" json:"code"`
	MinimumWindow        uint64            `yaml:"minimum_window" json:"minimum_window"`
	ConfirmationInterval uint64            `yaml:"confirmation_interval" json:"confirmation_interval"`
	SeedOwners           map[string]uint8  `yaml:"seed_owners,omitempty" json:"seed_owners,omitempty"`
	ActionSchemas        map[string]string `yaml:"action_schemas,omitempty" json:"action_schemas,omitempty"`
	AdmissionRules       map[string]string `yaml:"admission_rules,omitempty" json:"admission_rules,omitempty"`
}

// LoadProfile loads a governance profile YAML by code. It searches the
// profiles directory for profile_<code>.yaml.
func LoadProfile(profilesDir, code string) (*Profile, error) {
	code = strings.ToLower(code)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", code))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", code, err)
	}

	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", code, err)
	}
	if profile.Code == "" {
		profile.Code = code
	}
	return &profile, nil
}

// LoadAllProfiles loads all profile_*.yaml files from the profiles
// directory, keyed by code.
func LoadAllProfiles(profilesDir string) (map[string]*Profile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*Profile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile Profile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if profile.Code == "" {
			base := filepath.Base(path)
			profile.Code = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}
		profiles[profile.Code] = &profile
	}
	return profiles, nil
}

// Apply overlays the profile's window parameters onto cfg. Zero profile
// values leave cfg untouched.
func (p *Profile) Apply(cfg *Config) {
	if p.MinimumWindow > 0 {
		cfg.MinimumWindow = p.MinimumWindow
	}
	if p.ConfirmationInterval > 0 {
		cfg.ConfirmationInterval = p.ConfirmationInterval
	}
}
