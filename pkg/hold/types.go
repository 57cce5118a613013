// Package hold implements the legal hold registry: standing instructions that
// suppress purge and anonymization for matching records until released.
package hold

import (
	"errors"
	"time"

	"github.com/custodian-labs/custodian/pkg/retention"
)

var (
	// ErrNotFound is returned when a hold does not exist.
	ErrNotFound = errors.New("hold not found")
	// ErrHoldNotActive is returned when releasing a hold that is not ACTIVE.
	ErrHoldNotActive = errors.New("hold is not active")
	// ErrMissingSubject is returned when a hold names neither customer nor user.
	ErrMissingSubject = errors.New("hold requires a customer or user subject")
	// ErrUnknownSubject is returned when the referenced subject does not exist in-tenant.
	ErrUnknownSubject = errors.New("hold subject not found in tenant")
)

// Status is the lifecycle state of a hold. ACTIVE → RELEASED is terminal.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusReleased Status = "RELEASED"
)

// Subject references the person a hold protects. Email snapshots are
// denormalized at creation so records that only carry an email still match.
type Subject struct {
	CustomerID    string `json:"customer_id,omitempty"`
	CustomerEmail string `json:"customer_email,omitempty"`
	UserID        string `json:"user_id,omitempty"`
	UserEmail     string `json:"user_email,omitempty"`
}

// Hold is a legal hold row. Never deleted; released exactly once.
type Hold struct {
	ID           string             `json:"id"`
	TenantID     string             `json:"tenant_id"`
	Subject      Subject            `json:"subject"`
	EntityScopes []retention.Entity `json:"entity_scopes,omitempty"` // empty = all governed entities
	PeriodFrom   *time.Time         `json:"period_from,omitempty"`   // inclusive; nil = unbounded
	PeriodTo     *time.Time         `json:"period_to,omitempty"`     // inclusive; nil = unbounded
	Status       Status             `json:"status"`
	Reason       string             `json:"reason"`
	EvidenceHash string             `json:"evidence_hash"`
	CreatedBy    string             `json:"created_by,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	ReleasedBy   string             `json:"released_by,omitempty"`
	ReleasedAt   *time.Time         `json:"released_at,omitempty"`
}

// CreateRequest carries the data needed to place a hold.
type CreateRequest struct {
	TenantID      string             `json:"tenant_id"`
	CustomerID    string             `json:"customer_id,omitempty"`
	UserID        string             `json:"user_id,omitempty"`
	EntityScopes  []retention.Entity `json:"entity_scopes,omitempty"`
	PeriodFrom    *time.Time         `json:"period_from,omitempty"`
	PeriodTo      *time.Time         `json:"period_to,omitempty"`
	Reason        string             `json:"reason"`
	Justification any                `json:"justification,omitempty"`
	CreatedBy     string             `json:"created_by,omitempty"`
}
