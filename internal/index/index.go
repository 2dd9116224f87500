// Package index maintains the knowledge search index: one row per document
// carrying a lexical tsvector and, when the embedding provider cooperates,
// a dense vector. Indexing runs asynchronously after document writes, so a
// document is always durable before it is searchable.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/contentforge/corpus/internal/embedding"
	"github.com/contentforge/corpus/internal/knowledge"
)

// Embedder is the slice of the embedding client the indexer needs.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// statusMarker records per-document embedding status after an index pass.
type statusMarker interface {
	MarkIndexed(ctx context.Context, tier knowledge.Tier, id uuid.UUID, hasEmbedding bool) error
}

// Indexer writes search index entries for documents.
type Indexer struct {
	pool     *pgxpool.Pool
	embedder Embedder
	marker   statusMarker
	logger   *slog.Logger
}

// NewIndexer creates an Indexer. marker is usually the knowledge store;
// logger may be nil.
func NewIndexer(pool *pgxpool.Pool, embedder Embedder, marker statusMarker, logger *slog.Logger) (*Indexer, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{pool: pool, embedder: embedder, marker: marker, logger: logger}, nil
}

// Index upserts the search index entry for doc. The lexical column is
// always written; the vector column is written only when the embedding
// call succeeds. A transient embedding failure degrades to lexical-only
// instead of failing the pass, and the document metadata records which
// shape it got.
func (ix *Indexer) Index(ctx context.Context, doc *knowledge.Document) error {
	searchText := doc.Title + " " + doc.Content

	var embArg any
	hasEmbedding := false
	vec, err := ix.embedder.Embed(ctx, searchText)
	switch {
	case err == nil:
		embArg = pgvector.NewVector(vec)
		hasEmbedding = true
	case errors.Is(err, embedding.ErrEmptyInput):
		// Nothing to embed; lexical row still carries the title.
	case errors.Is(err, embedding.ErrUnavailable), errors.Is(err, embedding.ErrProvider):
		ix.logger.Warn("indexing without embedding",
			"tier", doc.Tier, "id", doc.ID, "error", err)
	default:
		return fmt.Errorf("embedding document %s/%s: %w", doc.Tier, doc.ID, err)
	}

	var tenantID *string
	if doc.TenantID != "" {
		tenantID = &doc.TenantID
	}

	_, err = ix.pool.Exec(ctx,
		`INSERT INTO knowledge_search_index
		   (tier, document_id, tenant_id, lexical, embedding, last_indexed_at)
		 VALUES ($1, $2, $3, to_tsvector('english', $4), $5, now())
		 ON CONFLICT (tier, document_id) DO UPDATE SET
		   tenant_id = EXCLUDED.tenant_id,
		   lexical = EXCLUDED.lexical,
		   embedding = EXCLUDED.embedding,
		   last_indexed_at = EXCLUDED.last_indexed_at`,
		string(doc.Tier), doc.ID, tenantID, searchText, embArg,
	)
	if err != nil {
		return fmt.Errorf("upserting search index for %s/%s: %w", doc.Tier, doc.ID, err)
	}

	if ix.marker != nil {
		if err := ix.marker.MarkIndexed(ctx, doc.Tier, doc.ID, hasEmbedding); err != nil {
			ix.logger.Warn("recording embedding status failed",
				"tier", doc.Tier, "id", doc.ID, "error", err)
		}
	}

	ix.logger.Debug("document indexed",
		"tier", doc.Tier, "id", doc.ID, "embedding", hasEmbedding)
	return nil
}
