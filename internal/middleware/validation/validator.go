package validation

import (
	"github.com/gofiber/fiber/v2"

	"github.com/manual-qa/backend/internal/search/calibrate"
	"github.com/manual-qa/backend/internal/storage/models"
)

const (
	maxTopK           = 200
	maxLimitQuestions = 10000
)

// ValidateRunSpec rejects run parameter overrides that would execute but
// produce meaningless output (thresholds outside [0,1], unknown calibration
// mode, absurd cutoffs).
func ValidateRunSpec(spec models.RunSpec) string {
	if spec.TopK < 0 || spec.TopK > maxTopK {
		return "top_k must be between 0 and 200"
	}
	if spec.LimitQuestions < 0 || spec.LimitQuestions > maxLimitQuestions {
		return "limit_questions is out of range"
	}
	if spec.LexicalAnswerThreshold < 0 || spec.LexicalAnswerThreshold > 1 {
		return "lexical_answer_threshold must be within [0, 1]"
	}
	if spec.VectorAnswerThreshold < 0 || spec.VectorAnswerThreshold > 1 {
		return "vector_answer_threshold must be within [0, 1]"
	}

	switch spec.SigmoidMode {
	case "", calibrate.ModeGlobalMaxRaw, calibrate.ModeAutoTopK:
	case calibrate.ModeFixed:
		if spec.SigmoidK == 0 {
			return "fixed sigmoid mode requires sigmoid_k"
		}
	default:
		return "unknown sigmoid_mode"
	}

	return ""
}

// RunSpecMiddleware validates a run submission body before it reaches the
// orchestrator. An empty body is a valid submission with suite defaults.
func RunSpecMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if len(c.Body()) == 0 {
			return c.Next()
		}

		var spec models.RunSpec
		if err := c.BodyParser(&spec); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid run parameters",
			})
		}

		if msg := ValidateRunSpec(spec); msg != "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": msg,
			})
		}

		return c.Next()
	}
}
