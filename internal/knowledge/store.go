package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// docColumns is the standard SELECT column list for scanDocument.
const docColumns = `d.id, d.tier, d.tenant_id, d.user_id, d.session_id,
	d.title, d.content, d.document_type, d.category, d.tags, d.status,
	d.metadata, d.expires_at, d.created_at, d.updated_at`

// notExpired excludes session documents whose expiry has passed. Expired
// rows are retained but invisible to every read path.
const notExpired = `(d.expires_at IS NULL OR d.expires_at > now())`

// DefaultListLimit caps List pages when the filter does not set one.
const DefaultListLimit = 50

// MaxListLimit bounds a single List page.
const MaxListLimit = 200

// Store manages knowledge documents in PostgreSQL.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a Store. logger may be nil.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Create inserts a new document owned by the caller's scope. The document
// row is durable when Create returns; search indexing happens separately
// and asynchronously.
func (s *Store) Create(ctx context.Context, params CreateParams, scope Scope) (*Document, error) {
	if err := validateCreate(params, scope); err != nil {
		return nil, err
	}

	doc := &Document{
		ID:           uuid.New(),
		Tier:         params.Tier,
		Title:        params.Title,
		Content:      params.Content,
		DocumentType: orDefault(params.DocumentType, "text"),
		Category:     orDefault(params.Category, "general"),
		Tags:         params.Tags,
		Status:       StatusActive,
		Metadata:     params.Metadata,
		ExpiresAt:    params.ExpiresAt,
	}
	if doc.Tags == nil {
		doc.Tags = []string{}
	}
	if doc.Metadata == nil {
		doc.Metadata = map[string]any{}
	}

	switch params.Tier {
	case TierCompany:
		doc.TenantID = scope.TenantID
	case TierSession:
		doc.TenantID = scope.TenantID
		doc.UserID = scope.UserID
		doc.SessionID = scope.SessionID
	}

	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO knowledge_documents
		   (id, tier, tenant_id, user_id, session_id, title, content,
		    document_type, category, tags, status, metadata, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING created_at, updated_at`,
		doc.ID, string(doc.Tier),
		nullable(doc.TenantID), nullable(doc.UserID), nullable(doc.SessionID),
		doc.Title, doc.Content, doc.DocumentType, doc.Category, doc.Tags,
		doc.Status, metadataJSON, doc.ExpiresAt,
	).Scan(&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting document: %w", err)
	}

	s.logger.Debug("document created",
		"id", doc.ID, "tier", doc.Tier, "content_length", len(doc.Content))
	return doc, nil
}

// Get fetches one document. Returns ErrNotFound for missing, deleted or
// expired rows, and ErrForbidden when the document exists but lies outside
// the caller's scope.
func (s *Store) Get(ctx context.Context, tier Tier, id uuid.UUID, scope Scope) (*Document, error) {
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTier, tier)
	}

	doc, err := s.fetch(ctx, s.pool, tier, id)
	if err != nil {
		return nil, err
	}
	if doc.Status != StatusActive || doc.Expired(time.Now()) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, tier, id)
	}
	if err := authorize(doc, scope); err != nil {
		return nil, err
	}
	return doc, nil
}

// GetMany resolves a batch of documents within one tier, applying the scope
// predicate in SQL. Documents outside the scope, deleted, or expired are
// silently omitted; the assembler only ever asks for IDs the retriever
// already ranked.
func (s *Store) GetMany(ctx context.Context, tier Tier, ids []uuid.UUID, scope Scope) ([]Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var c Cond
	if err := ScopePredicate(&c, tier, scope, "d"); err != nil {
		return nil, err
	}
	c.Add("d.id = ANY($?)", ids)
	c.Add("d.status = $?", StatusActive)
	c.Add(notExpired)

	rows, err := s.pool.Query(ctx,
		`SELECT `+docColumns+` FROM knowledge_documents d WHERE `+c.Where(),
		c.Args()...)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	return s.scanDocuments(rows)
}

// List returns one page of documents in a tier, newest first. A free-text
// filter ranks by lexical relevance instead, mirroring the retrieval
// fallback path. The total in the returned page counts all active documents
// in the tier/scope, ignoring the text filter.
func (s *Store) List(ctx context.Context, tier Tier, scope Scope, filter ListFilter) (*Page, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	offset := max(filter.Offset, 0)

	var c Cond
	if err := ScopePredicate(&c, tier, scope, "d"); err != nil {
		return nil, err
	}
	c.Add("d.status = $?", StatusActive)
	c.Add(notExpired)
	if filter.Category != "" {
		c.Add("d.category = $?", filter.Category)
	}
	if filter.DocumentType != "" {
		c.Add("d.document_type = $?", filter.DocumentType)
	}

	from := `FROM knowledge_documents d`
	orderBy := `d.created_at DESC`
	if filter.Query != "" {
		from += ` JOIN knowledge_search_index i
			ON i.tier = d.tier AND i.document_id = d.id`
		c.Add("i.lexical @@ plainto_tsquery('english', $?)", filter.Query)
		orderBy = fmt.Sprintf(
			"ts_rank(i.lexical, plainto_tsquery('english', %s)) DESC, d.created_at DESC",
			c.Next(filter.Query))
	}

	query := fmt.Sprintf("SELECT %s %s WHERE %s ORDER BY %s LIMIT %s OFFSET %s",
		docColumns, from, c.Where(), orderBy, c.Next(limit), c.Next(offset))

	rows, err := s.pool.Query(ctx, query, c.Args()...)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	docs, err := s.scanDocuments(rows)
	if err != nil {
		return nil, err
	}

	total, err := s.count(ctx, tier, scope)
	if err != nil {
		return nil, err
	}

	return &Page{Documents: docs, Total: total, Limit: limit, Offset: offset}, nil
}

// count counts active documents visible to the scope within a tier.
func (s *Store) count(ctx context.Context, tier Tier, scope Scope) (int, error) {
	var c Cond
	if err := ScopePredicate(&c, tier, scope, "d"); err != nil {
		return 0, err
	}
	c.Add("d.status = $?", StatusActive)
	c.Add(notExpired)

	var total int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM knowledge_documents d WHERE `+c.Where(),
		c.Args()...).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return total, nil
}

// SoftDelete marks a document deleted and removes its search index entry in
// one transaction. The row is retained for audit; only retention tooling
// outside this core hard-deletes. Returns the deleted document so callers
// can clean up backing files recorded in its metadata.
func (s *Store) SoftDelete(ctx context.Context, tier Tier, id uuid.UUID, scope Scope) (*Document, error) {
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTier, tier)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", rbErr)
		}
	}()

	doc, err := s.fetch(ctx, tx, tier, id)
	if err != nil {
		return nil, err
	}
	if doc.Status != StatusActive {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, tier, id)
	}
	if err := authorize(doc, scope); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE knowledge_documents SET status = $1, updated_at = now()
		 WHERE tier = $2 AND id = $3`,
		StatusDeleted, string(tier), id,
	); err != nil {
		return nil, fmt.Errorf("soft-deleting document: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM knowledge_search_index WHERE tier = $1 AND document_id = $2`,
		string(tier), id,
	); err != nil {
		return nil, fmt.Errorf("removing search index entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing delete: %w", err)
	}

	doc.Status = StatusDeleted
	s.logger.Debug("document soft-deleted", "id", id, "tier", tier)
	return doc, nil
}

// MarkIndexed records the embedding status flags in the document metadata
// after an indexing pass, without touching updated_at (indexing is not a
// content edit).
func (s *Store) MarkIndexed(ctx context.Context, tier Tier, id uuid.UUID, hasEmbedding bool) error {
	patch := map[string]any{"has_embeddings": hasEmbedding}
	if hasEmbedding {
		patch["embedding_created_at"] = time.Now().UTC().Format(time.RFC3339)
	}
	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("marshaling metadata patch: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE knowledge_documents SET metadata = metadata || $1::jsonb
		 WHERE tier = $2 AND id = $3`,
		patchJSON, string(tier), id,
	)
	if err != nil {
		return fmt.Errorf("updating embedding status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, tier, id)
	}
	return nil
}

// GetForIndexing loads an active document without a scope check. Only the
// index worker uses it; everything caller-facing goes through Get.
func (s *Store) GetForIndexing(ctx context.Context, tier Tier, id uuid.UUID) (*Document, error) {
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTier, tier)
	}
	doc, err := s.fetch(ctx, s.pool, tier, id)
	if err != nil {
		return nil, err
	}
	if doc.Status != StatusActive || doc.Expired(time.Now()) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, tier, id)
	}
	return doc, nil
}

// fetch loads a document row regardless of status or scope. Callers apply
// status and authorization checks.
func (*Store) fetch(ctx context.Context, q querier, tier Tier, id uuid.UUID) (*Document, error) {
	row := q.QueryRow(ctx,
		`SELECT `+docColumns+` FROM knowledge_documents d
		 WHERE d.tier = $1 AND d.id = $2`,
		string(tier), id)

	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, tier, id)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching document: %w", err)
	}
	return doc, nil
}

func (s *Store) scanDocuments(rows pgx.Rows) ([]Document, error) {
	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return docs, nil
}

// scanDocument scans one row in docColumns order.
func scanDocument(row pgx.Row) (*Document, error) {
	var (
		doc          Document
		tier         string
		tenantID     *string
		userID       *string
		sessionID    *string
		metadataJSON []byte
	)
	err := row.Scan(
		&doc.ID, &tier, &tenantID, &userID, &sessionID,
		&doc.Title, &doc.Content, &doc.DocumentType, &doc.Category,
		&doc.Tags, &doc.Status, &metadataJSON, &doc.ExpiresAt,
		&doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	doc.Tier = Tier(tier)
	doc.TenantID = deref(tenantID)
	doc.UserID = deref(userID)
	doc.SessionID = deref(sessionID)

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("parsing metadata: %w", err)
		}
	}
	if doc.Metadata == nil {
		doc.Metadata = map[string]any{}
	}
	return &doc, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
