package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/custodian-labs/custodian/pkg/retention"
	"github.com/custodian-labs/custodian/pkg/tenants"
)

// RetentionProfile is a YAML-declared set of retention overrides for one
// tenant, applied at bootstrap on top of the tier defaults.
type RetentionProfile struct {
	TenantID  string              `yaml:"tenant_id" json:"tenant_id"`
	Tier      string              `yaml:"tier,omitempty" json:"tier,omitempty"`
	Overrides []RetentionOverride `yaml:"overrides" json:"overrides"`
}

// RetentionOverride pins one entity's retention window in days.
type RetentionOverride struct {
	Entity        string `yaml:"entity" json:"entity"`
	RetentionDays int    `yaml:"retention_days" json:"retention_days"`
}

// Policies converts the profile into policy rows ready for SetOverride.
func (p *RetentionProfile) Policies() ([]retention.Policy, error) {
	out := make([]retention.Policy, 0, len(p.Overrides))
	for _, o := range p.Overrides {
		entity := retention.Entity(o.Entity)
		if !entity.Valid() {
			return nil, fmt.Errorf("profile %q: unknown entity %q", p.TenantID, o.Entity)
		}
		if o.RetentionDays < 1 {
			return nil, fmt.Errorf("profile %q: retention days for %s must be >= 1, got %d", p.TenantID, o.Entity, o.RetentionDays)
		}
		out = append(out, retention.Policy{
			TenantID:      p.TenantID,
			Tier:          tenants.NormalizeTier(tenants.TierID(p.Tier)),
			Entity:        entity,
			RetentionDays: o.RetentionDays,
		})
	}
	return out, nil
}

// LoadProfile loads a retention profile YAML by tenant id.
// It searches the profiles directory for profile_<tenant>.yaml.
func LoadProfile(profilesDir, tenantID string) (*RetentionProfile, error) {
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", strings.ToLower(tenantID)))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", tenantID, err)
	}

	var profile RetentionProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", tenantID, err)
	}

	if profile.TenantID == "" {
		profile.TenantID = tenantID
	}

	return &profile, nil
}

// LoadAllProfiles loads all profile_*.yaml files from the profiles directory.
func LoadAllProfiles(profilesDir string) (map[string]*RetentionProfile, error) {
	matches, err := filepath.Glob(filepath.Join(profilesDir, "profile_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*RetentionProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile RetentionProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}

		if profile.TenantID == "" {
			// Extract tenant from filename: profile_acme.yaml -> acme
			base := filepath.Base(path)
			profile.TenantID = strings.TrimSuffix(strings.TrimPrefix(base, "profile_"), ".yaml")
		}

		profiles[profile.TenantID] = &profile
	}

	return profiles, nil
}
