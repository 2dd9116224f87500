package retrieval_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/contentforge/corpus/internal/embedding"
	"github.com/contentforge/corpus/internal/index"
	"github.com/contentforge/corpus/internal/knowledge"
	"github.com/contentforge/corpus/internal/retrieval"
	"github.com/contentforge/corpus/internal/testutil"
)

func TestRetrieverIntegration(t *testing.T) {
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
	retriever, err := retrieval.NewRetriever(tdb.Pool, embedder, 0, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("NewRetriever() error = %v", err)
	}

	addIndexed := func(t *testing.T, params knowledge.CreateParams, scope knowledge.Scope) *knowledge.Document {
		t.Helper()
		doc, err := store.Create(ctx, params, scope)
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if err := indexer.Index(ctx, doc); err != nil {
			t.Fatalf("Index() error = %v", err)
		}
		return doc
	}

	acme := knowledge.Scope{TenantID: "acme"}
	globex := knowledge.Scope{TenantID: "globex"}

	t.Run("vector search ranks by similarity", func(t *testing.T) {
		tdb.Truncate(t)

		want := addIndexed(t, knowledge.CreateParams{
			Tier: knowledge.TierPlatform, Title: "Shipping rates",
			Content: "International shipping rates and customs fees.",
		}, knowledge.Scope{})
		addIndexed(t, knowledge.CreateParams{
			Tier: knowledge.TierPlatform, Title: "Password reset",
			Content: "Resetting a forgotten password.",
		}, knowledge.Scope{})

		results, err := retriever.Search(ctx, knowledge.TierPlatform, knowledge.Scope{}, "shipping rates customs", 5)
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if len(results) == 0 {
			t.Fatal("Search() returned no results")
		}
		if results[0].Document.ID != want.ID {
			t.Errorf("top result = %q, want %q", results[0].Document.Title, want.Title)
		}
		if results[0].Source != retrieval.SourceVector {
			t.Errorf("source = %q, want vector", results[0].Source)
		}
		if results[0].Similarity <= 0 {
			t.Errorf("similarity = %f, want > 0", results[0].Similarity)
		}
	})

	t.Run("no leakage across tenants", func(t *testing.T) {
		tdb.Truncate(t)

		addIndexed(t, knowledge.CreateParams{
			Tier: knowledge.TierCompany, Title: "Pricing Policy",
			Content: "Tenant-one confidential pricing.",
		}, acme)

		results, err := retriever.Search(ctx, knowledge.TierCompany, globex, "pricing policy", 5)
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if len(results) != 0 {
			t.Errorf("Search() by other tenant = %d results, want 0", len(results))
		}
	})

	t.Run("expired session documents excluded", func(t *testing.T) {
		tdb.Truncate(t)

		sessionScope := knowledge.Scope{TenantID: "acme", UserID: "u1", SessionID: "s1"}
		past := time.Now().Add(-time.Minute)
		doc, err := store.Create(ctx, knowledge.CreateParams{
			Tier: knowledge.TierSession, Title: "Draft outline",
			Content: "Working draft for the outline.", ExpiresAt: &past,
		}, sessionScope)
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		// Index directly; the queue path would skip the expired doc.
		if err := indexer.Index(ctx, doc); err != nil {
			t.Fatalf("Index() error = %v", err)
		}

		results, err := retriever.Search(ctx, knowledge.TierSession, sessionScope, "draft outline", 5)
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if len(results) != 0 {
			t.Errorf("Search() = %d results, want 0 (expired excluded)", len(results))
		}
	})

	t.Run("empty index yields empty results", func(t *testing.T) {
		tdb.Truncate(t)

		results, err := retriever.Search(ctx, knowledge.TierPlatform, knowledge.Scope{}, "anything at all", 5)
		if err != nil {
			t.Fatalf("Search() error = %v, want empty result", err)
		}
		if len(results) != 0 {
			t.Errorf("Search() = %d results, want 0", len(results))
		}
	})

	t.Run("lexical fallback when provider down", func(t *testing.T) {
		tdb.Truncate(t)

		want := addIndexed(t, knowledge.CreateParams{
			Tier: knowledge.TierPlatform, Title: "Refund policy",
			Content: "Refunds are processed within 30 days.",
		}, knowledge.Scope{})

		embedder.Fail(fmt.Errorf("embed: %w", embedding.ErrProvider))
		defer embedder.Fail(nil)

		results, err := retriever.Search(ctx, knowledge.TierPlatform, knowledge.Scope{}, "refund policy", 5)
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if len(results) != 1 || results[0].Document.ID != want.ID {
			t.Fatalf("Search() = %+v, want the refund document", results)
		}
		if results[0].Source != retrieval.SourceLexical {
			t.Errorf("source = %q, want lexical", results[0].Source)
		}
	})

	t.Run("lexical fallback when no vectors indexed", func(t *testing.T) {
		tdb.Truncate(t)

		doc, err := store.Create(ctx, knowledge.CreateParams{
			Tier: knowledge.TierPlatform, Title: "Billing overview",
			Content: "Invoices are issued monthly.",
		}, knowledge.Scope{})
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		embedder.Fail(fmt.Errorf("embed: %w", embedding.ErrProvider))
		if err := indexer.Index(ctx, doc); err != nil {
			t.Fatalf("Index() error = %v", err)
		}
		embedder.Fail(nil)

		// Query embedding succeeds, vector search finds nothing, lexical does.
		results, err := retriever.Search(ctx, knowledge.TierPlatform, knowledge.Scope{}, "billing overview", 5)
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if len(results) != 1 || results[0].Source != retrieval.SourceLexical {
			t.Fatalf("Search() = %+v, want one lexical result", results)
		}
	})

	t.Run("trivial query falls back to recency", func(t *testing.T) {
		tdb.Truncate(t)

		older := addIndexed(t, knowledge.CreateParams{
			Tier: knowledge.TierPlatform, Title: "Older", Content: "x",
		}, knowledge.Scope{})
		newer := addIndexed(t, knowledge.CreateParams{
			Tier: knowledge.TierPlatform, Title: "Newer", Content: "y",
		}, knowledge.Scope{})

		results, err := retriever.Search(ctx, knowledge.TierPlatform, knowledge.Scope{}, "a", 5)
		if err != nil {
			t.Fatalf("Search() error = %v", err)
		}
		if len(results) != 2 {
			t.Fatalf("Search() = %d results, want 2", len(results))
		}
		if results[0].Source != retrieval.SourceRecency {
			t.Errorf("source = %q, want recency", results[0].Source)
		}
		if results[0].Document.ID != newer.ID || results[1].Document.ID != older.ID {
			t.Errorf("order = %q then %q, want newest first",
				results[0].Document.Title, results[1].Document.Title)
		}
	})

	t.Run("datastore failure degrades to empty results", func(t *testing.T) {
		tdb.Truncate(t)

		addIndexed(t, knowledge.CreateParams{
			Tier: knowledge.TierPlatform, Title: "Refund policy",
			Content: "Refunds within 30 days.",
		}, knowledge.Scope{})

		// A canceled context fails every query boundary; the chain runs
		// out of strategies and yields empty, not an error.
		dead, cancel := context.WithCancel(ctx)
		cancel()

		results, err := retriever.Search(dead, knowledge.TierPlatform, knowledge.Scope{}, "refund policy", 5)
		if err != nil {
			t.Fatalf("Search() error = %v, want degraded empty result", err)
		}
		if len(results) != 0 {
			t.Errorf("Search() = %d results, want 0", len(results))
		}

		results, err = retriever.Search(dead, knowledge.TierPlatform, knowledge.Scope{}, "a", 5)
		if err != nil {
			t.Fatalf("Search() error = %v, want degraded empty result", err)
		}
		if len(results) != 0 {
			t.Errorf("Search() = %d recency results, want 0", len(results))
		}
	})
}
