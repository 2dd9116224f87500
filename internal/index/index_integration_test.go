package index_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/contentforge/corpus/internal/embedding"
	"github.com/contentforge/corpus/internal/index"
	"github.com/contentforge/corpus/internal/knowledge"
	"github.com/contentforge/corpus/internal/testutil"
)

func TestIndexerIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	tdb, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store, err := knowledge.NewStore(tdb.Pool, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	embedder := &testutil.FakeEmbedder{}
	indexer, err := index.NewIndexer(tdb.Pool, embedder, store, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("NewIndexer() error = %v", err)
	}

	countRows := func(t *testing.T, docID any) int {
		t.Helper()
		var n int
		if err := tdb.Pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM knowledge_search_index WHERE document_id = $1`, docID).Scan(&n); err != nil {
			t.Fatalf("counting index rows: %v", err)
		}
		return n
	}

	t.Run("index is idempotent", func(t *testing.T) {
		tdb.Truncate(t)

		doc, err := store.Create(ctx, knowledge.CreateParams{
			Tier: knowledge.TierPlatform, Title: "Guide", Content: "How to start.",
		}, knowledge.Scope{})
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		if err := indexer.Index(ctx, doc); err != nil {
			t.Fatalf("Index() first run error = %v", err)
		}
		if err := indexer.Index(ctx, doc); err != nil {
			t.Fatalf("Index() second run error = %v", err)
		}
		if n := countRows(t, doc.ID); n != 1 {
			t.Errorf("index rows = %d, want exactly 1", n)
		}

		got, err := store.Get(ctx, knowledge.TierPlatform, doc.ID, knowledge.Scope{})
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.Metadata["has_embeddings"] != true {
			t.Errorf("has_embeddings = %v, want true", got.Metadata["has_embeddings"])
		}
	})

	t.Run("embedding failure degrades to lexical-only", func(t *testing.T) {
		tdb.Truncate(t)

		doc, err := store.Create(ctx, knowledge.CreateParams{
			Tier: knowledge.TierPlatform, Title: "Refund policy", Content: "Refunds within 30 days.",
		}, knowledge.Scope{})
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		embedder.Fail(fmt.Errorf("embed: %w", embedding.ErrUnavailable))
		defer embedder.Fail(nil)

		if err := indexer.Index(ctx, doc); err != nil {
			t.Fatalf("Index() error = %v, want lexical-only success", err)
		}

		var hasVector bool
		if err := tdb.Pool.QueryRow(ctx,
			`SELECT embedding IS NOT NULL FROM knowledge_search_index WHERE document_id = $1`,
			doc.ID).Scan(&hasVector); err != nil {
			t.Fatalf("reading index row: %v", err)
		}
		if hasVector {
			t.Error("index row has a vector despite provider failure")
		}

		// Lexical search still finds the document.
		var matches int
		if err := tdb.Pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM knowledge_search_index
			 WHERE lexical @@ plainto_tsquery('english', 'refund policy')`).Scan(&matches); err != nil {
			t.Fatalf("lexical query: %v", err)
		}
		if matches != 1 {
			t.Errorf("lexical matches = %d, want 1", matches)
		}

		got, err := store.Get(ctx, knowledge.TierPlatform, doc.ID, knowledge.Scope{})
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.Metadata["has_embeddings"] != false {
			t.Errorf("has_embeddings = %v, want false", got.Metadata["has_embeddings"])
		}
	})
}
