package knowledge

import (
	"fmt"
	"strings"
)

// Cond accumulates WHERE clauses with positional parameters. Conditions are
// written with $? placeholders that are rewritten to $1, $2, ... in order,
// so optional filters compose without positional bookkeeping.
type Cond struct {
	clauses []string
	args    []any
}

// Add appends a condition. The condition must contain exactly one $?
// placeholder per argument.
func (c *Cond) Add(cond string, args ...any) {
	for _, arg := range args {
		c.args = append(c.args, arg)
		cond = strings.Replace(cond, "$?", fmt.Sprintf("$%d", len(c.args)), 1)
	}
	c.clauses = append(c.clauses, cond)
}

// Next reserves the next placeholder for an argument supplied out of band
// (LIMIT/OFFSET and similar trailing clauses).
func (c *Cond) Next(arg any) string {
	c.args = append(c.args, arg)
	return fmt.Sprintf("$%d", len(c.args))
}

// Where renders the accumulated conditions joined with AND. Renders to
// "TRUE" when no condition was added so it can always be interpolated.
func (c *Cond) Where() string {
	if len(c.clauses) == 0 {
		return "TRUE"
	}
	return strings.Join(c.clauses, " AND ")
}

// Args returns the parameter values in placeholder order.
func (c *Cond) Args() []any {
	return c.args
}

// ScopePredicate appends the tier-appropriate ownership conditions for
// reading documents to c. alias is the documents table alias in the query.
//
// This predicate is the single isolation boundary between tenants; every
// query against the shared tables must include it.
func ScopePredicate(c *Cond, tier Tier, scope Scope, alias string) error {
	if !tier.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidTier, tier)
	}
	if !scope.CanQuery(tier) {
		return fmt.Errorf("%w: scope lacks identity for tier %s", ErrForbidden, tier)
	}

	c.Add(alias+".tier = $?", string(tier))
	switch tier {
	case TierCompany:
		c.Add(alias+".tenant_id = $?", scope.TenantID)
	case TierSession:
		c.Add(alias+".tenant_id = $?", scope.TenantID)
		c.Add(alias+".user_id = $?", scope.UserID)
		c.Add(alias+".session_id = $?", scope.SessionID)
	}
	return nil
}

// authorize checks a fetched document against the caller's scope.
func authorize(doc *Document, scope Scope) error {
	switch doc.Tier {
	case TierPlatform:
		return nil
	case TierCompany:
		if scope.TenantID != "" && scope.TenantID == doc.TenantID {
			return nil
		}
	case TierSession:
		if scope.TenantID == doc.TenantID && scope.UserID == doc.UserID && scope.SessionID == doc.SessionID {
			return nil
		}
	}
	return fmt.Errorf("%w: document %s", ErrForbidden, doc.ID)
}

// validateCreate checks tier/ownership consistency for new documents.
func validateCreate(p CreateParams, scope Scope) error {
	if !p.Tier.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidTier, p.Tier)
	}
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}

	switch p.Tier {
	case TierCompany:
		if scope.TenantID == "" {
			return fmt.Errorf("%w: company documents require a tenant", ErrInvalidInput)
		}
	case TierSession:
		if scope.TenantID == "" || scope.UserID == "" || scope.SessionID == "" {
			return fmt.Errorf("%w: session documents require tenant, user and session", ErrInvalidInput)
		}
	}
	if p.ExpiresAt != nil && p.Tier != TierSession {
		return fmt.Errorf("%w: expiry is only meaningful for session documents", ErrInvalidInput)
	}
	return nil
}
