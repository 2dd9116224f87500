// Package assemble builds the per-request ContextBundle: ranked, tier
// separated knowledge handed to the content generation layer. Tier lookups
// are independent, so they fan out in parallel under one shared deadline
// and join before returning. A failing tier degrades to an empty list; the
// bundle itself only fails on invalid input.
package assemble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/contentforge/corpus/internal/knowledge"
	"github.com/contentforge/corpus/internal/retrieval"
)

// DefaultPerTierLimit caps results per tier when options do not set one.
const DefaultPerTierLimit = 3

// overFetchFactor widens each tier's search beyond its cap so documents
// that vanish between ranking and detail resolution still leave a full
// tier after slicing.
const overFetchFactor = 3

// DefaultTimeout is the shared deadline for the whole fan-out.
const DefaultTimeout = 10 * time.Second

// Searcher ranks documents within one tier. *retrieval.Retriever satisfies
// it.
type Searcher interface {
	Search(ctx context.Context, tier knowledge.Tier, scope knowledge.Scope, query string, limit int) ([]retrieval.Result, error)
}

// Resolver fetches full document detail, scope-checked. *knowledge.Store
// satisfies it.
type Resolver interface {
	GetMany(ctx context.Context, tier knowledge.Tier, ids []uuid.UUID, scope knowledge.Scope) ([]knowledge.Document, error)
}

// Options controls one Assemble call.
type Options struct {
	// IncludeContent carries document text into the bundle. When false
	// the bundle is metadata only and token estimates are zero.
	IncludeContent bool

	// PerTierLimit caps results per tier. Zero selects the default.
	PerTierLimit int

	// Tiers selects which tiers to query. Empty means all three.
	Tiers []knowledge.Tier
}

// Entry is one knowledge source in the bundle.
type Entry struct {
	ID              uuid.UUID `json:"id"`
	Title           string    `json:"title"`
	DocumentType    string    `json:"document_type"`
	Category        string    `json:"category"`
	Content         string    `json:"content,omitempty"`
	Similarity      float64   `json:"similarity"`
	Source          string    `json:"source"`
	EstimatedTokens int       `json:"estimated_tokens"`
}

// Summary aggregates across all tiers of a bundle.
type Summary struct {
	TotalSources    int       `json:"total_sources"`
	EstimatedTokens int       `json:"estimated_tokens"`
	Query           string    `json:"query"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// ContextBundle is the assembled payload. Tiers are independent ranked
// lists, never merged into one stream.
type ContextBundle struct {
	Platform []Entry `json:"platform"`
	Company  []Entry `json:"company"`
	Session  []Entry `json:"session"`
	Summary  Summary `json:"context_summary"`
}

// Assembler fans a query out across tiers and joins the results.
type Assembler struct {
	searcher Searcher
	resolver Resolver
	timeout  time.Duration
	logger   *slog.Logger
}

// NewAssembler creates an Assembler. timeout <= 0 selects the default;
// logger may be nil.
func NewAssembler(searcher Searcher, resolver Resolver, timeout time.Duration, logger *slog.Logger) (*Assembler, error) {
	if searcher == nil {
		return nil, fmt.Errorf("searcher is required")
	}
	if resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{searcher: searcher, resolver: resolver, timeout: timeout, logger: logger}, nil
}

// Assemble queries each requested tier and returns the bundle. Tiers the
// scope cannot see, including session without a session id, come back as
// empty lists rather than errors.
func (a *Assembler) Assemble(ctx context.Context, scope knowledge.Scope, query string, opts Options) (*ContextBundle, error) {
	limit := opts.PerTierLimit
	if limit <= 0 {
		limit = DefaultPerTierLimit
	}

	tiers := opts.Tiers
	if len(tiers) == 0 {
		tiers = knowledge.AllTiers()
	}
	for _, tier := range tiers {
		if !tier.Valid() {
			return nil, fmt.Errorf("%w: %q", knowledge.ErrInvalidTier, tier)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	perTier := make(map[knowledge.Tier][]Entry, len(tiers))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, tier := range seen(tiers) {
		if tier == knowledge.TierSession && scope.SessionID == "" {
			continue
		}
		wg.Add(1)
		go func(tier knowledge.Tier) {
			defer wg.Done()
			entries := a.assembleTier(ctx, tier, scope, query, limit, opts.IncludeContent)
			mu.Lock()
			perTier[tier] = entries
			mu.Unlock()
		}(tier)
	}
	wg.Wait()

	bundle := &ContextBundle{
		Platform: perTier[knowledge.TierPlatform],
		Company:  perTier[knowledge.TierCompany],
		Session:  perTier[knowledge.TierSession],
		Summary: Summary{
			Query:       query,
			GeneratedAt: time.Now().UTC(),
		},
	}
	for _, entries := range perTier {
		bundle.Summary.TotalSources += len(entries)
		for _, e := range entries {
			bundle.Summary.EstimatedTokens += e.EstimatedTokens
		}
	}

	a.logger.Debug("context assembled",
		"sources", bundle.Summary.TotalSources,
		"estimated_tokens", bundle.Summary.EstimatedTokens)
	return bundle, nil
}

// assembleTier runs one tier's search and detail resolution. Any failure
// degrades to an empty list so the other tiers still land.
func (a *Assembler) assembleTier(ctx context.Context, tier knowledge.Tier, scope knowledge.Scope, query string, limit int, includeContent bool) []Entry {
	results, err := a.searcher.Search(ctx, tier, scope, query, limit*overFetchFactor)
	if err != nil {
		a.logger.Warn("tier search failed", "tier", tier, "error", err)
		return nil
	}
	if len(results) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, len(results))
	for i, res := range results {
		ids[i] = res.Document.ID
	}
	docs, err := a.resolver.GetMany(ctx, tier, ids, scope)
	if err != nil {
		a.logger.Warn("tier detail resolution failed", "tier", tier, "error", err)
		return nil
	}
	byID := make(map[uuid.UUID]*knowledge.Document, len(docs))
	for i := range docs {
		byID[docs[i].ID] = &docs[i]
	}

	// Keep the searcher's ranking; drop anything the resolver no longer
	// sees (deleted or expired since ranking) and cap at the tier limit.
	entries := make([]Entry, 0, limit)
	for _, res := range results {
		if len(entries) == limit {
			break
		}
		doc, ok := byID[res.Document.ID]
		if !ok {
			continue
		}
		entry := Entry{
			ID:           doc.ID,
			Title:        doc.Title,
			DocumentType: doc.DocumentType,
			Category:     doc.Category,
			Similarity:   res.Similarity,
			Source:       res.Source,
		}
		if includeContent {
			entry.Content = doc.Content
			entry.EstimatedTokens = estimateTokens(doc.Content)
		}
		entries = append(entries, entry)
	}
	return entries
}

// estimateTokens approximates tokens as ceil(len/4). Rough by design; the
// consumer only needs a budget figure, not exact tokenization.
func estimateTokens(content string) int {
	return (len(content) + 3) / 4
}

// seen deduplicates tiers preserving first occurrence.
func seen(tiers []knowledge.Tier) []knowledge.Tier {
	out := make([]knowledge.Tier, 0, len(tiers))
	have := make(map[knowledge.Tier]bool, len(tiers))
	for _, t := range tiers {
		if !have[t] {
			have[t] = true
			out = append(out, t)
		}
	}
	return out
}
