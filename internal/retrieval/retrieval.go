// Package retrieval ranks knowledge documents against a query within one
// tier. The primary path is dense vector search over the pgvector column;
// it degrades to lexical full-text ranking when no vectors match, the
// embedding provider is down, or the vector query itself fails, and to
// plain recency when the query carries no searchable signal. Datastore
// failures end the chain with an empty result rather than an error; empty
// results are a normal outcome.
package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/contentforge/corpus/internal/knowledge"
)

// Search sources, recorded per result so callers can tell which ranking
// produced it.
const (
	SourceVector  = "vector"
	SourceLexical = "lexical"
	SourceRecency = "recency"
)

// DefaultLimit bounds a search when the caller does not set one.
const DefaultLimit = 5

// DefaultMinQueryLength is the shortest query worth ranking; anything
// shorter falls back to recency.
const DefaultMinQueryLength = 3

// Embedder is the slice of the embedding client the retriever needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Result is one ranked document. Similarity is cosine similarity in [0, 1]
// for vector results and 0 for lexical and recency results, whose ordering
// carries the ranking instead.
type Result struct {
	Document   knowledge.Document
	Similarity float64
	Source     string
}

// Retriever searches one tier at a time. The assembler fans it out across
// tiers.
type Retriever struct {
	pool           *pgxpool.Pool
	embedder       Embedder
	minQueryLength int
	logger         *slog.Logger
}

// NewRetriever creates a Retriever. minQueryLength <= 0 selects the
// default; logger may be nil.
func NewRetriever(pool *pgxpool.Pool, embedder Embedder, minQueryLength int, logger *slog.Logger) (*Retriever, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if minQueryLength <= 0 {
		minQueryLength = DefaultMinQueryLength
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		pool:           pool,
		embedder:       embedder,
		minQueryLength: minQueryLength,
		logger:         logger,
	}, nil
}

// Search returns up to limit documents from tier ranked against query.
// Tiers the scope cannot see yield empty results so multi-tier callers can
// fan out without pre-filtering. An error is returned only for an invalid
// tier; failures along the ranking chain degrade to the next strategy and
// finally to an empty result.
func (r *Retriever) Search(ctx context.Context, tier knowledge.Tier, scope knowledge.Scope, query string, limit int) ([]Result, error) {
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: %q", knowledge.ErrInvalidTier, tier)
	}
	if !scope.CanQuery(tier) {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	query = strings.TrimSpace(query)
	if len(query) < r.minQueryLength {
		results, err := r.searchRecency(ctx, tier, scope, limit)
		if err != nil {
			r.logger.Warn("recency search failed", "tier", tier, "error", err)
			return nil, nil
		}
		return results, nil
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		r.logger.Warn("query embedding failed, using lexical search",
			"tier", tier, "error", err)
		return r.lexicalFallback(ctx, tier, scope, query, limit), nil
	}

	results, err := r.searchVector(ctx, tier, scope, vec, limit)
	if err != nil {
		r.logger.Warn("vector search failed, using lexical search",
			"tier", tier, "error", err)
		return r.lexicalFallback(ctx, tier, scope, query, limit), nil
	}
	if len(results) == 0 {
		// Documents indexed while the provider was down have no vector;
		// lexical ranking still finds them.
		return r.lexicalFallback(ctx, tier, scope, query, limit), nil
	}
	return results, nil
}

// lexicalFallback runs the lexical ranking as the last query-bearing
// strategy. A failure here ends the chain with an empty result.
func (r *Retriever) lexicalFallback(ctx context.Context, tier knowledge.Tier, scope knowledge.Scope, query string, limit int) []Result {
	results, err := r.searchLexical(ctx, tier, scope, query, limit)
	if err != nil {
		r.logger.Warn("lexical search failed", "tier", tier, "error", err)
		return nil
	}
	return results
}

const resultColumns = `d.id, d.tier, d.tenant_id, d.user_id, d.session_id,
	d.title, d.content, d.document_type, d.category, d.tags, d.status,
	d.metadata, d.expires_at, d.created_at, d.updated_at`

const activeJoin = `FROM knowledge_search_index i
	JOIN knowledge_documents d ON d.tier = i.tier AND d.id = i.document_id`

const notExpired = `(d.expires_at IS NULL OR d.expires_at > now())`

func (r *Retriever) searchVector(ctx context.Context, tier knowledge.Tier, scope knowledge.Scope, vec []float32, limit int) ([]Result, error) {
	var c knowledge.Cond
	if err := knowledge.ScopePredicate(&c, tier, scope, "d"); err != nil {
		return nil, err
	}
	c.Add("d.status = $?", knowledge.StatusActive)
	c.Add(notExpired)
	c.Add("i.embedding IS NOT NULL")

	qvec := pgvector.NewVector(vec)
	distance := c.Next(qvec)

	query := fmt.Sprintf(
		`SELECT %s, 1 - (i.embedding <=> %s) AS similarity
		 %s WHERE %s
		 ORDER BY i.embedding <=> %s, d.created_at DESC
		 LIMIT %s`,
		resultColumns, distance, activeJoin, c.Where(), c.Next(qvec), c.Next(limit))

	return r.queryResults(ctx, query, c.Args(), SourceVector)
}

func (r *Retriever) searchLexical(ctx context.Context, tier knowledge.Tier, scope knowledge.Scope, text string, limit int) ([]Result, error) {
	var c knowledge.Cond
	if err := knowledge.ScopePredicate(&c, tier, scope, "d"); err != nil {
		return nil, err
	}
	c.Add("d.status = $?", knowledge.StatusActive)
	c.Add(notExpired)
	c.Add("i.lexical @@ plainto_tsquery('english', $?)", text)

	query := fmt.Sprintf(
		`SELECT %s, 0::float8 AS similarity
		 %s WHERE %s
		 ORDER BY ts_rank(i.lexical, plainto_tsquery('english', %s)) DESC, d.created_at DESC
		 LIMIT %s`,
		resultColumns, activeJoin, c.Where(), c.Next(text), c.Next(limit))

	return r.queryResults(ctx, query, c.Args(), SourceLexical)
}

// searchRecency returns the newest documents when the query is too short
// to rank. Fresh session context tends to be what trivial queries want.
func (r *Retriever) searchRecency(ctx context.Context, tier knowledge.Tier, scope knowledge.Scope, limit int) ([]Result, error) {
	var c knowledge.Cond
	if err := knowledge.ScopePredicate(&c, tier, scope, "d"); err != nil {
		return nil, err
	}
	c.Add("d.status = $?", knowledge.StatusActive)
	c.Add(notExpired)

	query := fmt.Sprintf(
		`SELECT %s, 0::float8 AS similarity
		 FROM knowledge_documents d WHERE %s
		 ORDER BY d.created_at DESC
		 LIMIT %s`,
		resultColumns, c.Where(), c.Next(limit))

	return r.queryResults(ctx, query, c.Args(), SourceRecency)
}

func (r *Retriever) queryResults(ctx context.Context, query string, args []any, source string) ([]Result, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", source, err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		res, err := scanResult(rows, source)
		if err != nil {
			return nil, fmt.Errorf("scanning %s result: %w", source, err)
		}
		results = append(results, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s results: %w", source, err)
	}

	r.logger.Debug("search completed", "source", source, "results", len(results))
	return results, nil
}

// scanResult scans one row in resultColumns order plus the trailing
// similarity column.
func scanResult(rows pgx.Rows, source string) (*Result, error) {
	var (
		res          Result
		tier         string
		tenantID     *string
		userID       *string
		sessionID    *string
		metadataJSON []byte
	)
	doc := &res.Document
	err := rows.Scan(
		&doc.ID, &tier, &tenantID, &userID, &sessionID,
		&doc.Title, &doc.Content, &doc.DocumentType, &doc.Category,
		&doc.Tags, &doc.Status, &metadataJSON, &doc.ExpiresAt,
		&doc.CreatedAt, &doc.UpdatedAt, &res.Similarity,
	)
	if err != nil {
		return nil, err
	}

	doc.Tier = knowledge.Tier(tier)
	if tenantID != nil {
		doc.TenantID = *tenantID
	}
	if userID != nil {
		doc.UserID = *userID
	}
	if sessionID != nil {
		doc.SessionID = *sessionID
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("parsing metadata: %w", err)
		}
	}
	res.Source = source
	return &res, nil
}
