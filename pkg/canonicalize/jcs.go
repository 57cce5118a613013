// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme)
// serialization and the digest primitives used for tamper-evident hashing.
//
// Every hash in the system — payload hashes, chain hashes, hold evidence
// hashes, evidence-pack manifests — is computed over the canonical form, so
// two structurally equal values that differ only in key order always hash
// identically.
package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Genesis is the previous-hash sentinel for the first entry of a tenant's chain.
const Genesis = "GENESIS"

// JCS returns the RFC 8785 canonical JSON representation of v.
//
// v is first marshaled with encoding/json (honoring struct tags), then
// normalized: map keys sorted lexicographically by UTF-8 bytes, HTML escaping
// undone, number formatting per ECMA-262.
func JCS(v any) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jcs: pre-marshal failed: %w", err)
	}
	out, err := jcs.Transform(intermediate)
	if err != nil {
		return nil, fmt.Errorf("jcs: transform failed: %w", err)
	}
	return out, nil
}

// JCSString returns the JCS canonical form as a string.
func JCSString(v any) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Digest computes the SHA-256 digest of s (UTF-8 bytes), as lowercase hex.
func Digest(s string) string {
	return HashBytes([]byte(s))
}

// HashBytes computes the SHA-256 digest of raw bytes, as lowercase hex.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// CanonicalHash returns the SHA-256 hex digest of the canonical form of v.
func CanonicalHash(v any) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// ChainHash composes the tamper-evidence linkage for a ledger entry:
//
//	digest(previous + "|" + payloadHash + "|" + canonicalMetadata)
//
// An empty previous means the entry heads the chain and the Genesis sentinel
// is substituted.
func ChainHash(previous, payloadHash, canonicalMetadata string) string {
	if previous == "" {
		previous = Genesis
	}
	return Digest(previous + "|" + payloadHash + "|" + canonicalMetadata)
}
