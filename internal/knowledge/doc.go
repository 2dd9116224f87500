// Package knowledge stores tiered knowledge documents in PostgreSQL.
//
// Documents live in one of three visibility tiers:
//
//   - platform: visible to every tenant (curated by operators)
//   - company: visible to all users of one tenant
//   - session: visible only to the owning (tenant, user, session) triple
//
// Every read and write is authorized against a Scope, the identity triple
// handed in by the (external) auth layer. The documents and search index
// tables are shared across tenants, so the scope predicate attached to each
// query is the only isolation boundary; there is no per-tenant schema.
// Access outside the caller's scope is rejected with ErrForbidden rather
// than silently filtered.
//
// Deleted documents are retained with status "deleted" for audit and are
// excluded from every retrieval path. Session documents may carry an
// expiry; expired documents disappear from reads while the row remains.
//
// Store is safe for concurrent use by multiple goroutines.
package knowledge
