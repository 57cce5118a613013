// Package audit implements the tamper-evident audit ledger: per-tenant
// hash-chained append, chain verification, and signed evidence export.
package audit

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a ledger entry is not found.
var ErrNotFound = errors.New("audit entry not found")

// Category classifies a state-changing operation.
type Category string

const (
	CategoryConfiguration Category = "configuration"
	CategoryPricing       Category = "pricing"
	CategoryStock         Category = "stock"
	CategoryBilling       Category = "billing"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryConfiguration, CategoryPricing, CategoryStock, CategoryBilling:
		return true
	}
	return false
}

// Entry is one immutable ledger entry. Created only by Ledger.Append, never
// mutated or deleted afterwards.
type Entry struct {
	ID               string    `json:"id"`
	TenantID         string    `json:"tenant_id"`
	Category         Category  `json:"category"`
	Action           string    `json:"action"`
	Method           string    `json:"method"`
	Route            string    `json:"route"`
	StatusCode       int       `json:"status_code"`
	ActorUserID      string    `json:"actor_user_id,omitempty"`
	ActorRole        string    `json:"actor_role,omitempty"`
	AggregateType    string    `json:"aggregate_type,omitempty"`
	AggregateID      string    `json:"aggregate_id,omitempty"`
	AggregateVersion *int64    `json:"aggregate_version,omitempty"`
	Payload          any       `json:"payload"`
	PayloadHash      string    `json:"payload_hash"`
	PreviousHash     string    `json:"previous_hash,omitempty"` // empty = first entry of the tenant's chain
	ChainHash        string    `json:"chain_hash"`
	CreatedAt        time.Time `json:"created_at"`
}

// AppendRequest carries the caller-supplied fields of a new entry.
type AppendRequest struct {
	TenantID      string   `json:"tenant_id"`
	Category      Category `json:"category"`
	Action        string   `json:"action"`
	Method        string   `json:"method"`
	Route         string   `json:"route"`
	StatusCode    int      `json:"status_code"`
	ActorUserID   string   `json:"actor_user_id,omitempty"`
	ActorRole     string   `json:"actor_role,omitempty"`
	AggregateType string   `json:"aggregate_type,omitempty"`
	AggregateID   string   `json:"aggregate_id,omitempty"`
	Payload       any      `json:"payload,omitempty"`
}

// Query bounds. Interactive queries stay small; export and verify paths get a
// higher internal cap.
const (
	MaxQueryLimit  = 500
	MaxExportLimit = 10000
)

// QueryFilter selects entries for queries and export.
type QueryFilter struct {
	Category      Category   `json:"category,omitempty"`
	Action        string     `json:"action,omitempty"`
	RouteContains string     `json:"route_contains,omitempty"`
	ActorUserID   string     `json:"actor_user_id,omitempty"`
	AggregateType string     `json:"aggregate_type,omitempty"`
	AggregateID   string     `json:"aggregate_id,omitempty"`
	From          *time.Time `json:"from,omitempty"`
	To            *time.Time `json:"to,omitempty"`
	// RequestsOnly keeps only request-scoped entries, i.e. those carrying an
	// HTTP method. Used for access-style exports.
	RequestsOnly bool `json:"requests_only,omitempty"`
	Limit        int  `json:"limit,omitempty"`
}

// Matches reports whether the entry satisfies the filter.
func (f QueryFilter) Matches(e Entry) bool {
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.RouteContains != "" && !containsFold(e.Route, f.RouteContains) {
		return false
	}
	if f.ActorUserID != "" && e.ActorUserID != f.ActorUserID {
		return false
	}
	if f.AggregateType != "" && e.AggregateType != f.AggregateType {
		return false
	}
	if f.AggregateID != "" && e.AggregateID != f.AggregateID {
		return false
	}
	if f.From != nil && e.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && e.CreatedAt.After(*f.To) {
		return false
	}
	if f.RequestsOnly && e.Method == "" {
		return false
	}
	return true
}

// ChainResult is the structured outcome of chain verification. Integrity
// breaks are values, not errors, so callers can distinguish "verified broken"
// from "could not run verification".
type ChainResult struct {
	OK       bool   `json:"ok"`
	Count    int    `json:"count,omitempty"`
	TailHash string `json:"tail_hash,omitempty"`
	Reason   string `json:"reason,omitempty"`
	EntryID  string `json:"entry_id,omitempty"`
}

// Chain verification failure reasons.
const (
	ReasonPreviousHashMismatch = "previous_hash_mismatch"
	ReasonPayloadHashMismatch  = "payload_hash_mismatch"
	ReasonChainHashMismatch    = "chain_hash_mismatch"
)
