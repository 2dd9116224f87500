package assemble

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/contentforge/corpus/internal/knowledge"
	"github.com/contentforge/corpus/internal/log"
	"github.com/contentforge/corpus/internal/retrieval"
)

// fakeSearcher serves scripted per-tier results, honoring limit.
type fakeSearcher struct {
	mu      sync.Mutex
	results map[knowledge.Tier][]retrieval.Result
	errs    map[knowledge.Tier]error
	called  map[knowledge.Tier]int
	limits  map[knowledge.Tier]int
}

func (f *fakeSearcher) Search(_ context.Context, tier knowledge.Tier, _ knowledge.Scope, _ string, limit int) ([]retrieval.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.called == nil {
		f.called = make(map[knowledge.Tier]int)
		f.limits = make(map[knowledge.Tier]int)
	}
	f.called[tier]++
	f.limits[tier] = limit
	if err := f.errs[tier]; err != nil {
		return nil, err
	}
	results := f.results[tier]
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (f *fakeSearcher) calls(tier knowledge.Tier) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.called[tier]
}

func (f *fakeSearcher) lastLimit(tier knowledge.Tier) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.limits[tier]
}

// fakeResolver returns the search results' own documents, minus any
// explicitly dropped IDs.
type fakeResolver struct {
	searcher *fakeSearcher
	dropped  map[uuid.UUID]bool
	err      error
}

func (f *fakeResolver) GetMany(_ context.Context, tier knowledge.Tier, ids []uuid.UUID, _ knowledge.Scope) ([]knowledge.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	byID := make(map[uuid.UUID]knowledge.Document)
	for _, res := range f.searcher.results[tier] {
		byID[res.Document.ID] = res.Document
	}
	var docs []knowledge.Document
	for _, id := range ids {
		if f.dropped[id] {
			continue
		}
		if doc, ok := byID[id]; ok {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func result(tier knowledge.Tier, title, content string, similarity float64) retrieval.Result {
	return retrieval.Result{
		Document: knowledge.Document{
			ID:           uuid.New(),
			Tier:         tier,
			Title:        title,
			Content:      content,
			DocumentType: "text",
			Category:     "general",
		},
		Similarity: similarity,
		Source:     retrieval.SourceVector,
	}
}

func fullScope() knowledge.Scope {
	return knowledge.Scope{TenantID: "acme", UserID: "u1", SessionID: "s1"}
}

func newTestAssembler(t *testing.T, searcher Searcher, resolver Resolver) *Assembler {
	t.Helper()
	a, err := NewAssembler(searcher, resolver, 0, log.NewNop())
	if err != nil {
		t.Fatalf("NewAssembler() error = %v", err)
	}
	return a
}

func TestAssemblePerTierLimits(t *testing.T) {
	searcher := &fakeSearcher{results: map[knowledge.Tier][]retrieval.Result{
		knowledge.TierPlatform: {
			result(knowledge.TierPlatform, "p1", "x", 0.9),
			result(knowledge.TierPlatform, "p2", "x", 0.8),
			result(knowledge.TierPlatform, "p3", "x", 0.7),
			result(knowledge.TierPlatform, "p4", "x", 0.6),
			result(knowledge.TierPlatform, "p5", "x", 0.5),
		},
		knowledge.TierCompany: {
			result(knowledge.TierCompany, "c1", "x", 0.4),
		},
	}}
	a := newTestAssembler(t, searcher, &fakeResolver{searcher: searcher})

	bundle, err := a.Assemble(context.Background(), fullScope(), "pricing", Options{PerTierLimit: 3})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}

	if got := len(bundle.Platform); got != 3 {
		t.Errorf("platform entries = %d, want 3", got)
	}
	if got := len(bundle.Company); got != 1 {
		t.Errorf("company entries = %d, want 1", got)
	}
	if got := len(bundle.Session); got != 0 {
		t.Errorf("session entries = %d, want 0", got)
	}
	if got := bundle.Summary.TotalSources; got != 4 {
		t.Errorf("total sources = %d, want 4", got)
	}

	// Ranking from the searcher is preserved.
	if bundle.Platform[0].Title != "p1" || bundle.Platform[2].Title != "p3" {
		t.Errorf("platform order = %q, %q, %q",
			bundle.Platform[0].Title, bundle.Platform[1].Title, bundle.Platform[2].Title)
	}
}

func TestAssembleTokenEstimates(t *testing.T) {
	content := strings.Repeat("a", 400)
	searcher := &fakeSearcher{results: map[knowledge.Tier][]retrieval.Result{
		knowledge.TierPlatform: {result(knowledge.TierPlatform, "doc", content, 0.9)},
	}}
	a := newTestAssembler(t, searcher, &fakeResolver{searcher: searcher})

	t.Run("content excluded means zero tokens", func(t *testing.T) {
		bundle, err := a.Assemble(context.Background(), fullScope(), "q", Options{
			Tiers: []knowledge.Tier{knowledge.TierPlatform},
		})
		if err != nil {
			t.Fatalf("Assemble() error = %v", err)
		}
		if bundle.Summary.EstimatedTokens != 0 {
			t.Errorf("estimated tokens = %d, want 0", bundle.Summary.EstimatedTokens)
		}
		if bundle.Platform[0].Content != "" {
			t.Error("entry carries content despite IncludeContent=false")
		}
	})

	t.Run("content included estimates tokens", func(t *testing.T) {
		bundle, err := a.Assemble(context.Background(), fullScope(), "q", Options{
			IncludeContent: true,
			Tiers:          []knowledge.Tier{knowledge.TierPlatform},
		})
		if err != nil {
			t.Fatalf("Assemble() error = %v", err)
		}
		if bundle.Summary.EstimatedTokens != 100 {
			t.Errorf("estimated tokens = %d, want 100", bundle.Summary.EstimatedTokens)
		}
		if bundle.Platform[0].Content != content {
			t.Error("entry missing content despite IncludeContent=true")
		}
	})
}

func TestAssembleSkipsSessionWithoutSessionID(t *testing.T) {
	searcher := &fakeSearcher{results: map[knowledge.Tier][]retrieval.Result{
		knowledge.TierSession: {result(knowledge.TierSession, "note", "x", 0.9)},
	}}
	a := newTestAssembler(t, searcher, &fakeResolver{searcher: searcher})

	scope := knowledge.Scope{TenantID: "acme", UserID: "u1"}
	bundle, err := a.Assemble(context.Background(), scope, "q", Options{})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if len(bundle.Session) != 0 {
		t.Errorf("session entries = %d, want 0", len(bundle.Session))
	}
	if searcher.calls(knowledge.TierSession) != 0 {
		t.Error("session tier searched despite missing session id")
	}
}

func TestAssembleTierFailureDegrades(t *testing.T) {
	searcher := &fakeSearcher{
		results: map[knowledge.Tier][]retrieval.Result{
			knowledge.TierPlatform: {result(knowledge.TierPlatform, "p1", "x", 0.9)},
		},
		errs: map[knowledge.Tier]error{
			knowledge.TierCompany: errors.New("datastore timeout"),
		},
	}
	a := newTestAssembler(t, searcher, &fakeResolver{searcher: searcher})

	bundle, err := a.Assemble(context.Background(), fullScope(), "q", Options{})
	if err != nil {
		t.Fatalf("Assemble() error = %v, want degraded bundle", err)
	}
	if len(bundle.Platform) != 1 {
		t.Errorf("platform entries = %d, want 1", len(bundle.Platform))
	}
	if len(bundle.Company) != 0 {
		t.Errorf("company entries = %d, want 0", len(bundle.Company))
	}
}

func TestAssembleDropsUnresolvedDocuments(t *testing.T) {
	first := result(knowledge.TierPlatform, "kept", "x", 0.9)
	second := result(knowledge.TierPlatform, "gone", "x", 0.8)
	searcher := &fakeSearcher{results: map[knowledge.Tier][]retrieval.Result{
		knowledge.TierPlatform: {first, second},
	}}
	resolver := &fakeResolver{
		searcher: searcher,
		dropped:  map[uuid.UUID]bool{second.Document.ID: true},
	}
	a := newTestAssembler(t, searcher, resolver)

	bundle, err := a.Assemble(context.Background(), fullScope(), "q", Options{})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if len(bundle.Platform) != 1 || bundle.Platform[0].Title != "kept" {
		t.Errorf("platform entries = %+v, want only the resolvable document", bundle.Platform)
	}
}

func TestAssembleBackfillsDroppedDocuments(t *testing.T) {
	top := result(knowledge.TierPlatform, "gone", "x", 0.9)
	searcher := &fakeSearcher{results: map[knowledge.Tier][]retrieval.Result{
		knowledge.TierPlatform: {
			top,
			result(knowledge.TierPlatform, "second", "x", 0.8),
			result(knowledge.TierPlatform, "third", "x", 0.7),
		},
	}}
	resolver := &fakeResolver{
		searcher: searcher,
		dropped:  map[uuid.UUID]bool{top.Document.ID: true},
	}
	a := newTestAssembler(t, searcher, resolver)

	bundle, err := a.Assemble(context.Background(), fullScope(), "q", Options{PerTierLimit: 2})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}

	// The search over-fetched past the cap, so the dropped top result is
	// backfilled by the next-ranked document.
	if got := searcher.lastLimit(knowledge.TierPlatform); got != 2*overFetchFactor {
		t.Errorf("search limit = %d, want %d", got, 2*overFetchFactor)
	}
	if len(bundle.Platform) != 2 {
		t.Fatalf("platform entries = %d, want 2", len(bundle.Platform))
	}
	if bundle.Platform[0].Title != "second" || bundle.Platform[1].Title != "third" {
		t.Errorf("platform order = %q, %q, want second then third",
			bundle.Platform[0].Title, bundle.Platform[1].Title)
	}
}

func TestAssembleInvalidTier(t *testing.T) {
	searcher := &fakeSearcher{}
	a := newTestAssembler(t, searcher, &fakeResolver{searcher: searcher})

	_, err := a.Assemble(context.Background(), fullScope(), "q", Options{
		Tiers: []knowledge.Tier{knowledge.Tier("global")},
	})
	if !errors.Is(err, knowledge.ErrInvalidTier) {
		t.Errorf("Assemble() error = %v, want ErrInvalidTier", err)
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		length int
		want   int
	}{
		{0, 0},
		{1, 1},
		{4, 1},
		{5, 2},
		{400, 100},
	}
	for _, tt := range tests {
		if got := estimateTokens(strings.Repeat("a", tt.length)); got != tt.want {
			t.Errorf("estimateTokens(len %d) = %d, want %d", tt.length, got, tt.want)
		}
	}
}
