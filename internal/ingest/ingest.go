// Package ingest is the upload pipeline: validate the request, extract
// text, store the document, and hand indexing to the queue. Extraction
// trouble degrades to a stored document with warnings; only malformed
// requests and unsupported formats fail the upload.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/contentforge/corpus/internal/extract"
	"github.com/contentforge/corpus/internal/index"
	"github.com/contentforge/corpus/internal/knowledge"
)

// WarnExtractionFailed is recorded when no text could be extracted at all.
const WarnExtractionFailed = "text extraction failed; document stored without searchable content"

// storer is the slice of the knowledge store the pipeline needs.
type storer interface {
	Create(ctx context.Context, params knowledge.CreateParams, scope knowledge.Scope) (*knowledge.Document, error)
	Get(ctx context.Context, tier knowledge.Tier, id uuid.UUID, scope knowledge.Scope) (*knowledge.Document, error)
	SoftDelete(ctx context.Context, tier knowledge.Tier, id uuid.UUID, scope knowledge.Scope) (*knowledge.Document, error)
}

// extractor converts raw bytes to plain text.
type extractor interface {
	Extract(ctx context.Context, data []byte, format extract.Format) (*extract.Result, error)
}

// enqueuer submits index jobs without blocking.
type enqueuer interface {
	Enqueue(job index.Job) bool
}

// FileRemover deletes a stored backing file. The file transport lives in an
// outer layer; the pipeline only calls back into it on document deletion.
type FileRemover interface {
	Remove(ctx context.Context, fileName string) error
}

// UploadParams is one upload request. ContentType drives format detection,
// with FileName's extension as fallback.
type UploadParams struct {
	Tier        knowledge.Tier `validate:"required"`
	Title       string         `validate:"required,max=500"`
	FileName    string         `validate:"omitempty,max=255"`
	ContentType string         `validate:"omitempty,max=100"`
	Data        []byte

	// StoredFileName is the key the outer storage layer filed the raw
	// upload under, if any. Recorded so Delete can clean it up.
	StoredFileName string     `validate:"omitempty,max=512"`
	Category       string     `validate:"omitempty,max=100"`
	Tags           []string   `validate:"omitempty,dive,min=1,max=50"`
	ExpiresAt      *time.Time `validate:"omitempty"`
}

// Pipeline wires upload handling together.
type Pipeline struct {
	store       storer
	extractor   extractor
	queue       enqueuer
	fileRemover FileRemover
	validate    *validator.Validate
	logger      *slog.Logger
}

// NewPipeline creates a Pipeline. fileRemover may be nil when no backing
// file storage exists; logger may be nil.
func NewPipeline(store storer, ex extractor, queue enqueuer, fileRemover FileRemover, logger *slog.Logger) (*Pipeline, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if ex == nil {
		return nil, fmt.Errorf("extractor is required")
	}
	if queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:       store,
		extractor:   ex,
		queue:       queue,
		fileRemover: fileRemover,
		validate:    validator.New(),
		logger:      logger,
	}, nil
}

// UploadDocument runs one upload end to end. The document is durable when
// this returns; indexing follows asynchronously. Extraction warnings land
// in the document metadata instead of failing the upload.
func (p *Pipeline) UploadDocument(ctx context.Context, params UploadParams, scope knowledge.Scope) (*knowledge.Document, error) {
	if err := p.validate.Struct(params); err != nil {
		return nil, fmt.Errorf("%w: %v", knowledge.ErrInvalidInput, err)
	}

	format, err := p.detectFormat(params)
	if err != nil {
		return nil, err
	}

	content := ""
	var warnings []string
	res, err := p.extractor.Extract(ctx, params.Data, format)
	if err != nil {
		if errors.Is(err, extract.ErrUnsupportedFormat) {
			return nil, err
		}
		p.logger.Warn("extraction failed, storing without content",
			"title", params.Title, "format", format, "error", err)
		warnings = append(warnings, WarnExtractionFailed)
	} else {
		content = res.Text
		warnings = res.Warnings
	}

	metadata := map[string]any{
		"original_name":  params.FileName,
		"content_type":   params.ContentType,
		"size_bytes":     len(params.Data),
		"uploaded_at":    time.Now().UTC().Format(time.RFC3339),
		"has_embeddings": false,
	}
	if params.StoredFileName != "" {
		metadata["file_name"] = params.StoredFileName
	}
	if len(warnings) > 0 {
		metadata["warnings"] = warnings
	}

	doc, err := p.store.Create(ctx, knowledge.CreateParams{
		Tier:         params.Tier,
		Title:        params.Title,
		Content:      content,
		DocumentType: string(format),
		Category:     params.Category,
		Tags:         params.Tags,
		Metadata:     metadata,
		ExpiresAt:    params.ExpiresAt,
	}, scope)
	if err != nil {
		return nil, err
	}

	p.queue.Enqueue(index.Job{Tier: doc.Tier, ID: doc.ID})

	p.logger.Info("document uploaded",
		"id", doc.ID, "tier", doc.Tier, "format", format,
		"content_chars", len(content), "warnings", len(warnings))
	return doc, nil
}

// Reindex re-enqueues an existing document, scope-checked. Used after
// content edits and to pick up embeddings once a provider outage ends.
func (p *Pipeline) Reindex(ctx context.Context, tier knowledge.Tier, id uuid.UUID, scope knowledge.Scope) error {
	doc, err := p.store.Get(ctx, tier, id, scope)
	if err != nil {
		return err
	}
	p.queue.Enqueue(index.Job{Tier: doc.Tier, ID: doc.ID})
	return nil
}

// Delete soft-deletes a document and removes its backing file if one was
// recorded at upload. File removal is best effort; the soft delete stands
// even when the file store misbehaves.
func (p *Pipeline) Delete(ctx context.Context, tier knowledge.Tier, id uuid.UUID, scope knowledge.Scope) error {
	doc, err := p.store.SoftDelete(ctx, tier, id, scope)
	if err != nil {
		return err
	}

	if p.fileRemover != nil {
		if name, ok := doc.Metadata["file_name"].(string); ok && name != "" {
			if err := p.fileRemover.Remove(ctx, name); err != nil {
				p.logger.Warn("backing file removal failed",
					"id", doc.ID, "file", name, "error", err)
			}
		}
	}
	return nil
}

func (p *Pipeline) detectFormat(params UploadParams) (extract.Format, error) {
	if params.ContentType != "" {
		return extract.FormatFromMIME(params.ContentType)
	}
	if params.FileName != "" {
		return extract.FormatFromFilename(params.FileName)
	}
	return extract.FormatPlain, nil
}
