package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodian-labs/custodian/pkg/retention"
	"github.com/custodian-labs/custodian/pkg/tenants"
)

const sampleProfile = `tenant_id: acme
tier: enterprise
overrides:
  - entity: logs
    retention_days: 30
  - entity: orders
    retention_days: 2000
`

func writeProfile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0600))
}

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "profile_acme.yaml", sampleProfile)

	p, err := LoadProfile(dir, "acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", p.TenantID)
	assert.Equal(t, "enterprise", p.Tier)
	require.Len(t, p.Overrides, 2)

	policies, err := p.Policies()
	require.NoError(t, err)
	require.Len(t, policies, 2)
	assert.Equal(t, retention.EntityLogs, policies[0].Entity)
	assert.Equal(t, 30, policies[0].RetentionDays)
	assert.Equal(t, tenants.TierEnterprise, policies[0].Tier)
}

func TestLoadProfileMissing(t *testing.T) {
	_, err := LoadProfile(t.TempDir(), "ghost")
	assert.Error(t, err)
}

func TestPoliciesValidation(t *testing.T) {
	p := &RetentionProfile{
		TenantID:  "acme",
		Overrides: []RetentionOverride{{Entity: "payments", RetentionDays: 10}},
	}
	_, err := p.Policies()
	assert.Error(t, err, "unknown entity")

	p.Overrides = []RetentionOverride{{Entity: "logs", RetentionDays: 0}}
	_, err = p.Policies()
	assert.Error(t, err, "days below 1")
}

func TestLoadAllProfilesFillsTenantFromFilename(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "profile_acme.yaml", sampleProfile)
	writeProfile(t, dir, "profile_globex.yaml", "overrides:\n  - entity: events\n    retention_days: 45\n")

	profiles, err := LoadAllProfiles(dir)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, "globex", profiles["globex"].TenantID)
}
