package knowledge

import (
	"time"

	"github.com/google/uuid"
)

// Tier identifies a knowledge visibility scope.
type Tier string

const (
	// TierPlatform is world-readable knowledge curated by operators.
	TierPlatform Tier = "platform"

	// TierCompany is knowledge shared by all users of one tenant.
	TierCompany Tier = "company"

	// TierSession is knowledge scoped to one user's working session.
	TierSession Tier = "session"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierPlatform, TierCompany, TierSession:
		return true
	}
	return false
}

// AllTiers lists every tier, platform first.
func AllTiers() []Tier {
	return []Tier{TierPlatform, TierCompany, TierSession}
}

// Scope is the caller's identity triple, validated upstream by the auth
// layer. SessionID is an opaque client-chosen label, not a security token.
type Scope struct {
	TenantID  string
	UserID    string
	SessionID string
}

// CanQuery reports whether the scope carries enough identity to query the
// given tier at all. Tiers the scope cannot see yield empty results in
// search paths and ErrForbidden in store paths.
func (s Scope) CanQuery(tier Tier) bool {
	switch tier {
	case TierPlatform:
		return true
	case TierCompany:
		return s.TenantID != ""
	case TierSession:
		return s.TenantID != "" && s.UserID != "" && s.SessionID != ""
	}
	return false
}

// Document status values.
const (
	StatusActive  = "active"
	StatusDeleted = "deleted"
)

// Document is one unit of knowledge.
type Document struct {
	ID           uuid.UUID
	Tier         Tier
	TenantID     string // empty for platform documents
	UserID       string // set for session documents only
	SessionID    string // set for session documents only
	Title        string
	Content      string
	DocumentType string
	Category     string
	Tags         []string
	Status       string
	Metadata     map[string]any
	ExpiresAt    *time.Time // session tier only
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Expired reports whether the document has an expiry in the past.
func (d *Document) Expired(now time.Time) bool {
	return d.ExpiresAt != nil && d.ExpiresAt.Before(now)
}

// CreateParams carries the fields for Store.Create. Ownership fields must
// match the tier: company requires TenantID, session requires TenantID,
// UserID and SessionID, platform requires neither.
type CreateParams struct {
	Tier         Tier
	Title        string
	Content      string
	DocumentType string
	Category     string
	Tags         []string
	Metadata     map[string]any
	ExpiresAt    *time.Time
}

// ListFilter narrows Store.List results. Zero values mean "no filter".
type ListFilter struct {
	Category     string
	DocumentType string
	Query        string // free-text match against the lexical index
	Limit        int    // default 50
	Offset       int
}

// Page is one page of list results with the pagination envelope.
type Page struct {
	Documents []Document
	Total     int
	Limit     int
	Offset    int
}
