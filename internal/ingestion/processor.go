package ingestion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/manual-qa/backend/internal/embedding"
	"github.com/manual-qa/backend/internal/metrics"
	"github.com/manual-qa/backend/internal/storage/models"
	"github.com/manual-qa/backend/internal/storage/sqlite"
	"github.com/manual-qa/backend/internal/vector/milvus"
	"github.com/manual-qa/backend/pkg/logger"
)

// Processor loads manual documents into the evidence store: paragraphs into
// SQLite for the lexical path and paragraph embeddings into Milvus for the
// vector path, so both retrieval methods see the same evidence universe.
type Processor struct {
	db       *sqlite.Client
	vectorDB *milvus.Client
	embedder *embedding.Client
}

func NewProcessor(db *sqlite.Client, vectorDB *milvus.Client, embedder *embedding.Client) *Processor {
	return &Processor{
		db:       db,
		vectorDB: vectorDB,
		embedder: embedder,
	}
}

// IngestParagraphs stores a pre-segmented paragraph set for one document.
// Paragraph ids are assigned positionally when absent so re-ingesting the
// same document updates in place.
func (p *Processor) IngestParagraphs(ctx context.Context, documentID, documentName, authorityLevel string, paragraphs []models.Paragraph) (int, error) {
	if documentID == "" {
		return 0, fmt.Errorf("document id is required")
	}
	if len(paragraphs) == 0 {
		return 0, fmt.Errorf("document %s has no paragraphs", documentID)
	}

	now := time.Now()
	for i := range paragraphs {
		if paragraphs[i].ID == "" {
			paragraphs[i].ID = fmt.Sprintf("%s-p%04d", documentID, i)
		}
		paragraphs[i].DocumentID = documentID
		paragraphs[i].DocumentName = documentName
		paragraphs[i].AuthorityLevel = authorityLevel
		paragraphs[i].ParagraphIndex = i
		paragraphs[i].CreatedAt = now
	}

	if err := p.db.InsertParagraphs(paragraphs); err != nil {
		return 0, err
	}

	if err := p.indexVectors(ctx, paragraphs); err != nil {
		return 0, err
	}

	metrics.ParagraphsIngested.Add(float64(len(paragraphs)))
	logger.Info("Document ingested",
		zap.String("document_id", documentID),
		zap.Int("paragraphs", len(paragraphs)),
	)

	return len(paragraphs), nil
}

// IngestHTML extracts paragraph-level text from a manual's HTML export and
// ingests it. Block elements become paragraphs; boilerplate containers are
// stripped first.
func (p *Processor) IngestHTML(ctx context.Context, documentID, documentName, authorityLevel, htmlContent string) (int, error) {
	texts, err := extractParagraphs(htmlContent)
	if err != nil {
		return 0, err
	}
	if len(texts) == 0 {
		return 0, fmt.Errorf("no content extracted from HTML")
	}

	paragraphs := make([]models.Paragraph, len(texts))
	for i, text := range texts {
		paragraphs[i] = models.Paragraph{Text: text}
	}

	return p.IngestParagraphs(ctx, documentID, documentName, authorityLevel, paragraphs)
}

// DeleteDocument removes a document's paragraphs from both stores.
func (p *Processor) DeleteDocument(ctx context.Context, documentID string) (int64, error) {
	deleted, err := p.db.DeleteDocument(documentID)
	if err != nil {
		return 0, err
	}

	if p.vectorDB != nil {
		if err := p.vectorDB.DeleteDocument(ctx, documentID); err != nil {
			return deleted, err
		}
	}

	return deleted, nil
}

func (p *Processor) indexVectors(ctx context.Context, paragraphs []models.Paragraph) error {
	if p.vectorDB == nil || p.embedder == nil {
		logger.Warn("Vector indexing skipped: vector store not configured")
		return nil
	}

	texts := make([]string, len(paragraphs))
	for i, para := range paragraphs {
		texts[i] = para.Text
	}

	embeddings, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed paragraphs: %w", err)
	}
	if len(embeddings) != len(paragraphs) {
		return fmt.Errorf("embedding count mismatch: got %d, expected %d", len(embeddings), len(paragraphs))
	}

	vectors := make([]milvus.ParagraphVector, len(paragraphs))
	for i, para := range paragraphs {
		vectors[i] = milvus.ParagraphVector{
			ParagraphID:    para.ID,
			Embedding:      embeddings[i],
			DocumentID:     para.DocumentID,
			AuthorityLevel: para.AuthorityLevel,
		}
	}

	return p.vectorDB.Insert(ctx, vectors)
}

func extractParagraphs(htmlContent string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc.Find("script, style, nav, footer, header, aside").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	var texts []string
	doc.Find("p, li, blockquote").Each(func(i int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text != "" {
			texts = append(texts, text)
		}
	})

	return texts, nil
}
