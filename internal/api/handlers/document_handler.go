package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/manual-qa/backend/internal/cache/redis"
	"github.com/manual-qa/backend/internal/ingestion"
	"github.com/manual-qa/backend/internal/metrics"
	"github.com/manual-qa/backend/internal/storage/models"
	"github.com/manual-qa/backend/internal/storage/sqlite"
	"github.com/manual-qa/backend/pkg/logger"
)

type DocumentHandler struct {
	store     *sqlite.Client
	processor *ingestion.Processor
	cache     *redis.Client
}

// NewDocumentHandler wires the document endpoints. cache may be nil.
func NewDocumentHandler(store *sqlite.Client, processor *ingestion.Processor, cache *redis.Client) *DocumentHandler {
	return &DocumentHandler{
		store:     store,
		processor: processor,
		cache:     cache,
	}
}

func (h *DocumentHandler) UploadDocument(c *fiber.Ctx) error {
	var req struct {
		DocumentID     string             `json:"document_id"`
		DocumentName   string             `json:"document_name"`
		AuthorityLevel string             `json:"authority_level"`
		HTMLContent    string             `json:"html_content"`
		Paragraphs     []models.Paragraph `json:"paragraphs"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.DocumentID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "document_id is required",
		})
	}
	if req.HTMLContent == "" && len(req.Paragraphs) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "html_content or paragraphs is required",
		})
	}

	var count int
	var err error
	if req.HTMLContent != "" {
		count, err = h.processor.IngestHTML(c.Context(), req.DocumentID, req.DocumentName, req.AuthorityLevel, req.HTMLContent)
	} else {
		count, err = h.processor.IngestParagraphs(c.Context(), req.DocumentID, req.DocumentName, req.AuthorityLevel, req.Paragraphs)
	}
	if err != nil {
		logger.Error("Failed to ingest document", zap.String("document_id", req.DocumentID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to ingest document",
		})
	}

	if h.cache != nil {
		if err := h.cache.InvalidateDocumentList(c.Context()); err != nil {
			logger.Warn("Failed to invalidate document list cache", zap.Error(err))
		}
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"document_id": req.DocumentID,
		"paragraphs":  count,
	})
}

func (h *DocumentHandler) ListDocuments(c *fiber.Ctx) error {
	if h.cache != nil {
		if docs, ok, err := h.cache.GetDocumentList(c.Context()); err == nil && ok {
			metrics.CacheHits.WithLabelValues("document_list").Inc()
			return c.JSON(fiber.Map{"documents": docs, "cached": true})
		}
		metrics.CacheMisses.WithLabelValues("document_list").Inc()
	}

	docs, err := h.store.ListDocuments()
	if err != nil {
		logger.Error("Failed to list documents", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list documents",
		})
	}

	if h.cache != nil {
		if err := h.cache.SetDocumentList(c.Context(), docs); err != nil {
			logger.Warn("Failed to cache document list", zap.Error(err))
		}
	}

	return c.JSON(fiber.Map{
		"documents": docs,
	})
}

func (h *DocumentHandler) DeleteDocument(c *fiber.Ctx) error {
	documentID := c.Params("id")

	deleted, err := h.processor.DeleteDocument(c.Context(), documentID)
	if err != nil {
		logger.Error("Failed to delete document", zap.String("document_id", documentID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete document",
		})
	}

	if h.cache != nil {
		if err := h.cache.InvalidateDocumentList(c.Context()); err != nil {
			logger.Warn("Failed to invalidate document list cache", zap.Error(err))
		}
	}

	return c.JSON(fiber.Map{
		"document_id": documentID,
		"paragraphs":  deleted,
	})
}
