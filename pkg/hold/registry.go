package hold

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/custodian-labs/custodian/pkg/canonicalize"
	"github.com/custodian-labs/custodian/pkg/retention"
)

// Store persists holds.
type Store interface {
	InsertHold(ctx context.Context, h Hold) error
	GetHold(ctx context.Context, id string) (Hold, error)
	UpdateHold(ctx context.Context, h Hold) error
	ListHolds(ctx context.Context, tenantID string) ([]Hold, error)
	ListActiveHolds(ctx context.Context, tenantID string) ([]Hold, error)
}

// SubjectDirectory resolves hold subjects against the tenant's customer and
// user records, returning the email snapshot to denormalize onto the hold.
type SubjectDirectory interface {
	CustomerEmail(ctx context.Context, tenantID, customerID string) (string, bool, error)
	UserEmail(ctx context.Context, tenantID, userID string) (string, bool, error)
}

// Registry creates, lists, and releases legal holds.
type Registry struct {
	store    Store
	subjects SubjectDirectory
	clock    func() time.Time
}

// NewRegistry creates a Registry.
func NewRegistry(store Store, subjects SubjectDirectory) *Registry {
	return &Registry{store: store, subjects: subjects, clock: time.Now}
}

// WithClock overrides the clock for testing.
func (r *Registry) WithClock(clock func() time.Time) *Registry {
	r.clock = clock
	return r
}

// Create validates the subject, snapshots its email, hashes the justification
// payload, and persists an ACTIVE hold. Empty entity scopes mean the hold
// covers all governed entities.
func (r *Registry) Create(ctx context.Context, req CreateRequest) (Hold, error) {
	if req.CustomerID == "" && req.UserID == "" {
		return Hold{}, ErrMissingSubject
	}
	for _, e := range req.EntityScopes {
		if !e.Valid() {
			return Hold{}, fmt.Errorf("hold: unknown entity scope %q", e)
		}
	}

	subject := Subject{CustomerID: req.CustomerID, UserID: req.UserID}
	if req.CustomerID != "" {
		email, ok, err := r.subjects.CustomerEmail(ctx, req.TenantID, req.CustomerID)
		if err != nil {
			return Hold{}, fmt.Errorf("hold: resolve customer %s: %w", req.CustomerID, err)
		}
		if !ok {
			return Hold{}, fmt.Errorf("%w: customer %s", ErrUnknownSubject, req.CustomerID)
		}
		subject.CustomerEmail = email
	}
	if req.UserID != "" {
		email, ok, err := r.subjects.UserEmail(ctx, req.TenantID, req.UserID)
		if err != nil {
			return Hold{}, fmt.Errorf("hold: resolve user %s: %w", req.UserID, err)
		}
		if !ok {
			return Hold{}, fmt.Errorf("%w: user %s", ErrUnknownSubject, req.UserID)
		}
		subject.UserEmail = email
	}

	evidenceHash, err := canonicalize.CanonicalHash(req.Justification)
	if err != nil {
		return Hold{}, fmt.Errorf("hold: hash justification: %w", err)
	}

	h := Hold{
		ID:           uuid.New().String(),
		TenantID:     req.TenantID,
		Subject:      subject,
		EntityScopes: req.EntityScopes,
		PeriodFrom:   req.PeriodFrom,
		PeriodTo:     req.PeriodTo,
		Status:       StatusActive,
		Reason:       req.Reason,
		EvidenceHash: evidenceHash,
		CreatedBy:    req.CreatedBy,
		CreatedAt:    r.clock().UTC(),
	}
	if err := r.store.InsertHold(ctx, h); err != nil {
		return Hold{}, fmt.Errorf("hold: persist: %w", err)
	}
	return h, nil
}

// Release transitions an ACTIVE hold to RELEASED. Terminal: releasing a hold
// that is already released fails with ErrHoldNotActive.
func (r *Registry) Release(ctx context.Context, holdID, releasedBy, reason string) (Hold, error) {
	h, err := r.store.GetHold(ctx, holdID)
	if err != nil {
		return Hold{}, err
	}
	if h.Status != StatusActive {
		return Hold{}, ErrHoldNotActive
	}
	h.Status = StatusReleased
	h.ReleasedBy = releasedBy
	now := r.clock().UTC()
	h.ReleasedAt = &now
	if reason != "" {
		h.Reason = h.Reason + " | released: " + reason
	}
	if err := r.store.UpdateHold(ctx, h); err != nil {
		return Hold{}, fmt.Errorf("hold: persist release: %w", err)
	}
	return h, nil
}

// List returns all holds for a tenant, any status.
func (r *Registry) List(ctx context.Context, tenantID string) ([]Hold, error) {
	return r.store.ListHolds(ctx, tenantID)
}

// Active returns the tenant's ACTIVE holds, loaded once per purge run.
func (r *Registry) Active(ctx context.Context, tenantID string) ([]Hold, error) {
	return r.store.ListActiveHolds(ctx, tenantID)
}

// RecordSubject is the identity derived from a candidate record.
type RecordSubject struct {
	CustomerID string
	UserID     string
	Email      string
}

// Empty reports whether no identity field could be derived.
func (s RecordSubject) Empty() bool {
	return s.CustomerID == "" && s.UserID == "" && s.Email == ""
}

// Matches reports whether any hold blocks the record. A record is held iff
// some hold is ACTIVE, its subject matches (customer id exact, else email
// snapshot case-insensitive, else user id exact), the entity is within the
// hold's scopes, and the record's own timestamp falls inside the inclusive
// period window.
func Matches(holds []Hold, subject RecordSubject, recordTime time.Time, entity retention.Entity) (Hold, bool) {
	for _, h := range holds {
		if h.Status != StatusActive {
			continue
		}
		if !matchesSubject(h.Subject, subject) {
			continue
		}
		if !scopeCovers(h.EntityScopes, entity) {
			continue
		}
		if !periodCovers(h.PeriodFrom, h.PeriodTo, recordTime) {
			continue
		}
		return h, true
	}
	return Hold{}, false
}

func matchesSubject(h Subject, s RecordSubject) bool {
	if h.CustomerID != "" && s.CustomerID != "" && h.CustomerID == s.CustomerID {
		return true
	}
	if s.Email != "" {
		if h.CustomerEmail != "" && strings.EqualFold(h.CustomerEmail, s.Email) {
			return true
		}
		if h.UserEmail != "" && strings.EqualFold(h.UserEmail, s.Email) {
			return true
		}
	}
	if h.UserID != "" && s.UserID != "" && h.UserID == s.UserID {
		return true
	}
	return false
}

func scopeCovers(scopes []retention.Entity, entity retention.Entity) bool {
	if len(scopes) == 0 || entity == "" {
		return true
	}
	for _, s := range scopes {
		if s == entity {
			return true
		}
	}
	return false
}

func periodCovers(from, to *time.Time, ts time.Time) bool {
	if from != nil && ts.Before(*from) {
		return false
	}
	if to != nil && ts.After(*to) {
		return false
	}
	return true
}
