// Package evidence assembles, signs, and verifies evidence packs: hash-
// manifested export bundles used for audits and legal discovery. A pack is
// independently re-verifiable — verification recomputes every hash and the
// signature and never trusts the exporter.
package evidence

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/crypto/hkdf"

	"github.com/custodian-labs/custodian/pkg/canonicalize"
)

const (
	// Version is the pack version tag stamped on every produced pack.
	Version = "custodian-pack/v1.0.0"
	// SignatureAlgorithm identifies the keyed MAC used for pack signatures.
	SignatureAlgorithm = "HMAC-SHA256"

	versionPrefix = "custodian-pack/"
	// Any 1.x pack is accepted on verify.
	versionConstraint = "^1"

	hkdfSalt = "custodian/evidence/v1"
)

// devSecret is the development fallback signing secret. Production
// deployments must configure an operator secret; NewBuilder fails closed.
const devSecret = "custodian-dev-evidence-secret"

// ErrNoSecret is returned when no signing secret is configured and the
// development fallback is not allowed.
var ErrNoSecret = errors.New("evidence: signing secret not configured")

// Verification failure reasons, reported as values per the integrity-failure
// taxonomy (never as errors).
const (
	ReasonInvalidPack         = "invalid_pack"
	ReasonMissingData         = "missing_data"
	ReasonUnsupportedVersion  = "unsupported_version"
	ReasonManifestMismatch    = "manifest_hash_mismatch"
	ReasonSignatureMismatch   = "signature_mismatch"
)

// SectionSummary describes one named section of a pack.
type SectionSummary struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
	Hash  string `json:"hash"`
}

// Manifest is the per-section hash table plus the aggregate hash.
type Manifest struct {
	Sections    []SectionSummary `json:"sections"`
	PayloadHash string           `json:"payload_hash"`
}

// Pack is a signed evidence bundle. Immutable once produced.
type Pack struct {
	Version            string         `json:"version"`
	TenantID           string         `json:"tenant_id"`
	GeneratedAt        time.Time      `json:"generated_at"`
	Criteria           map[string]any `json:"criteria,omitempty"`
	Manifest           Manifest       `json:"manifest"`
	Data               map[string]any `json:"data"`
	Signature          string         `json:"signature"`
	SignatureAlgorithm string         `json:"signature_algorithm"`
}

// VerifyResult is the structured outcome of pack verification.
type VerifyResult struct {
	OK       bool   `json:"ok"`
	Reason   string `json:"reason,omitempty"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

// Builder signs and verifies packs with per-tenant keys derived from an
// operator master secret.
type Builder struct {
	masterSecret []byte
	clock        func() time.Time
}

// NewBuilder creates a Builder. An empty secret is only accepted when
// allowDevFallback is set (non-production contexts); otherwise it fails
// closed with ErrNoSecret.
func NewBuilder(secret string, allowDevFallback bool) (*Builder, error) {
	if secret == "" {
		if !allowDevFallback {
			return nil, ErrNoSecret
		}
		secret = devSecret
	}
	return &Builder{masterSecret: []byte(secret), clock: time.Now}, nil
}

// WithClock overrides the clock for testing.
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

// tenantKey derives the 32-byte HMAC key for one tenant via HKDF-SHA256.
func (b *Builder) tenantKey(tenantID string) ([]byte, error) {
	r := hkdf.New(sha256.New, b.masterSecret, []byte(hkdfSalt), []byte(tenantID))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("evidence: derive tenant key: %w", err)
	}
	return key, nil
}

// BuildManifest computes per-section summaries sorted by name and the
// aggregate payload hash over the sorted summaries.
func BuildManifest(sections map[string]any) (Manifest, error) {
	summaries := make([]SectionSummary, 0, len(sections))
	for name, payload := range sections {
		hash, err := canonicalize.CanonicalHash(payload)
		if err != nil {
			return Manifest{}, fmt.Errorf("evidence: hash section %s: %w", name, err)
		}
		summaries = append(summaries, SectionSummary{Name: name, Count: sectionCount(payload), Hash: hash})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Name < summaries[j].Name })

	payloadHash, err := canonicalize.CanonicalHash(summaries)
	if err != nil {
		return Manifest{}, fmt.Errorf("evidence: hash manifest: %w", err)
	}
	return Manifest{Sections: summaries, PayloadHash: payloadHash}, nil
}

// sectionCount is the array length, the length of an exposed items array, or 1.
func sectionCount(payload any) int {
	v := reflect.ValueOf(payload)
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		return v.Len()
	case reflect.Map:
		items := v.MapIndex(reflect.ValueOf("items"))
		if items.IsValid() {
			iv := reflect.ValueOf(items.Interface())
			if iv.Kind() == reflect.Slice || iv.Kind() == reflect.Array {
				return iv.Len()
			}
		}
	}
	return 1
}

// Build assembles a signed pack over the given sections.
func (b *Builder) Build(tenantID string, criteria map[string]any, sections map[string]any) (Pack, error) {
	manifest, err := BuildManifest(sections)
	if err != nil {
		return Pack{}, err
	}
	pack := Pack{
		Version:     Version,
		TenantID:    tenantID,
		GeneratedAt: b.clock().UTC(),
		Criteria:    criteria,
		Manifest:    manifest,
		Data:        sections,
	}
	sig, err := b.sign(pack)
	if err != nil {
		return Pack{}, err
	}
	pack.Signature = sig
	pack.SignatureAlgorithm = SignatureAlgorithm
	return pack, nil
}

// sign computes the HMAC over the canonical form of the pack with its
// signature fields cleared.
func (b *Builder) sign(pack Pack) (string, error) {
	pack.Signature = ""
	pack.SignatureAlgorithm = ""
	canonical, err := canonicalize.JCS(pack)
	if err != nil {
		return "", fmt.Errorf("evidence: canonicalize pack: %w", err)
	}
	key, err := b.tenantKey(pack.TenantID)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify recomputes the manifest and signature of an in-memory pack.
// Structural defects, version incompatibility, manifest divergence, and
// signature divergence are all reported as results, not errors.
func (b *Builder) Verify(pack Pack) VerifyResult {
	if pack.Data == nil {
		return VerifyResult{Reason: ReasonMissingData}
	}
	if res, ok := checkVersion(pack.Version); !ok {
		return res
	}

	manifest, err := BuildManifest(pack.Data)
	if err != nil {
		return VerifyResult{Reason: ReasonInvalidPack, Actual: err.Error()}
	}
	expected, err := canonicalize.JCSString(pack.Manifest)
	if err != nil {
		return VerifyResult{Reason: ReasonInvalidPack, Actual: err.Error()}
	}
	actual, err := canonicalize.JCSString(manifest)
	if err != nil {
		return VerifyResult{Reason: ReasonInvalidPack, Actual: err.Error()}
	}
	if expected != actual {
		return VerifyResult{Reason: ReasonManifestMismatch, Expected: expected, Actual: actual}
	}

	sig, err := b.sign(pack)
	if err != nil {
		return VerifyResult{Reason: ReasonInvalidPack, Actual: err.Error()}
	}
	if !hmac.Equal([]byte(sig), []byte(pack.Signature)) {
		return VerifyResult{Reason: ReasonSignatureMismatch}
	}
	return VerifyResult{OK: true}
}

func checkVersion(version string) (VerifyResult, bool) {
	if !strings.HasPrefix(version, versionPrefix) {
		return VerifyResult{Reason: ReasonUnsupportedVersion, Actual: version, Expected: Version}, false
	}
	v, err := semver.NewVersion(strings.TrimPrefix(version, versionPrefix))
	if err != nil {
		return VerifyResult{Reason: ReasonUnsupportedVersion, Actual: version, Expected: Version}, false
	}
	constraint, _ := semver.NewConstraint(versionConstraint)
	if !constraint.Check(v) {
		return VerifyResult{Reason: ReasonUnsupportedVersion, Actual: version, Expected: Version}, false
	}
	return VerifyResult{}, true
}
