package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/manual-qa/backend/internal/eval"
	"github.com/manual-qa/backend/internal/storage/models"
	"github.com/manual-qa/backend/internal/storage/sqlite"
	"github.com/manual-qa/backend/pkg/logger"
)

type RunHandler struct {
	store        *sqlite.Client
	orchestrator *eval.Orchestrator
}

func NewRunHandler(store *sqlite.Client, orchestrator *eval.Orchestrator) *RunHandler {
	return &RunHandler{
		store:        store,
		orchestrator: orchestrator,
	}
}

// StartRun submits a run for the suite, optionally overriding suite
// configuration. The response carries the queued run; execution proceeds in
// the background.
func (h *RunHandler) StartRun(c *fiber.Ctx) error {
	suiteID := c.Params("id")

	var override models.RunSpec
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&override); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid run parameters",
			})
		}
	}

	run, err := h.orchestrator.StartRun(suiteID, override)
	if err != nil {
		logger.Error("Failed to start run", zap.String("suite_id", suiteID), zap.Error(err))
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"run_id": run.ID,
		"status": run.Status,
		"params": run.Params,
	})
}

func (h *RunHandler) GetRun(c *fiber.Ctx) error {
	run, err := h.store.GetRun(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Run not found",
		})
	}

	return c.JSON(run)
}

func (h *RunHandler) ListRuns(c *fiber.Ctx) error {
	limit, err := strconv.Atoi(c.Query("limit", "50"))
	if err != nil || limit <= 0 {
		limit = 50
	}

	runs, err := h.store.ListRuns(c.Query("suite_id"), limit)
	if err != nil {
		logger.Error("Failed to list runs", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list runs",
		})
	}

	return c.JSON(fiber.Map{
		"runs": runs,
	})
}

// GetRunSummary returns the aggregate comparison for a completed run.
func (h *RunHandler) GetRunSummary(c *fiber.Ctx) error {
	run, err := h.store.GetRun(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Run not found",
		})
	}

	if run.Summary == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":  "Run has no summary yet",
			"status": run.Status,
		})
	}

	return c.JSON(fiber.Map{
		"run_id":  run.ID,
		"status":  run.Status,
		"summary": run.Summary,
	})
}

func (h *RunHandler) GetRunQuestions(c *fiber.Ctx) error {
	runID := c.Params("id")

	if _, err := h.store.GetRun(runID); err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Run not found",
		})
	}

	questionMetrics, err := h.store.GetRunMetrics(runID)
	if err != nil {
		logger.Error("Failed to load run metrics", zap.String("run_id", runID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load run metrics",
		})
	}

	return c.JSON(fiber.Map{
		"run_id":    runID,
		"questions": questionMetrics,
	})
}

// GetQuestionRows returns both methods' ranked rows for one question, the
// per-question drill-down view.
func (h *RunHandler) GetQuestionRows(c *fiber.Ctx) error {
	runID := c.Params("id")
	qid := c.Params("qid")

	rows, err := h.store.GetRetrievalRows(runID, qid, c.Query("method"))
	if err != nil {
		logger.Error("Failed to load retrieval rows",
			zap.String("run_id", runID),
			zap.String("qid", qid),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load retrieval rows",
		})
	}

	return c.JSON(fiber.Map{
		"run_id": runID,
		"qid":    qid,
		"rows":   rows,
	})
}
