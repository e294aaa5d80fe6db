package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/manual-qa/backend/internal/eval"
	"github.com/manual-qa/backend/internal/storage/sqlite"
	"github.com/manual-qa/backend/pkg/logger"
)

type SuiteHandler struct {
	store *sqlite.Client
}

func NewSuiteHandler(store *sqlite.Client) *SuiteHandler {
	return &SuiteHandler{store: store}
}

// ImportSuite accepts a question-set document (YAML or JSON body) and
// replaces the named suite's questions. Importing the same name twice updates
// the existing suite instead of creating a sibling.
func (h *SuiteHandler) ImportSuite(c *fiber.Ctx) error {
	suite, questions, err := eval.ParseSuiteFile(c.Body())
	if err != nil {
		logger.Error("Failed to parse suite file", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	if err := h.store.UpsertSuite(suite); err != nil {
		logger.Error("Failed to store suite", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store suite",
		})
	}

	// Upsert keys on name and keeps the original id; questions must attach
	// to the canonical one.
	stored, err := h.store.GetSuiteByName(suite.Name)
	if err != nil {
		logger.Error("Failed to load suite after upsert", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store suite",
		})
	}
	for i := range questions {
		questions[i].SuiteID = stored.ID
	}

	if err := h.store.ReplaceSuiteQuestions(stored.ID, questions); err != nil {
		logger.Error("Failed to store questions", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store questions",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"suite_id":  stored.ID,
		"name":      stored.Name,
		"questions": len(questions),
	})
}

func (h *SuiteHandler) ListSuites(c *fiber.Ctx) error {
	suites, err := h.store.ListSuites()
	if err != nil {
		logger.Error("Failed to list suites", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list suites",
		})
	}

	return c.JSON(fiber.Map{
		"suites": suites,
	})
}

func (h *SuiteHandler) GetSuite(c *fiber.Ctx) error {
	suite, err := h.store.GetSuite(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Suite not found",
		})
	}

	questions, err := h.store.GetQuestions(suite.ID)
	if err != nil {
		logger.Error("Failed to load questions", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load questions",
		})
	}

	return c.JSON(fiber.Map{
		"suite":     suite,
		"questions": questions,
	})
}
