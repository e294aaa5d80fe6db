package eval

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/manual-qa/backend/internal/storage/models"
	"github.com/manual-qa/backend/pkg/logger"
)

// SuiteFile is the declarative question-set format. Field names carry the
// evaluation semantics and are stable across importers.
type SuiteFile struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description" json:"description"`
	Spec        models.RunSpec `yaml:"spec" json:"spec"`
	Questions   []QuestionFile `yaml:"questions" json:"questions"`
}

type QuestionFile struct {
	ID       string          `yaml:"id" json:"id"`
	Intent   string          `yaml:"intent" json:"intent"`
	Bucket   string          `yaml:"bucket" json:"bucket"`
	Question string          `yaml:"question" json:"question"`
	Gold     models.GoldSpec `yaml:"gold" json:"gold"`
}

// ParseSuiteFile decodes and validates a question-set document. Duplicate or
// missing question ids reject the whole file; a malformed gold regex is only
// warned about here because the matcher degrades it to no-match at run time.
func ParseSuiteFile(data []byte) (*models.Suite, []models.Question, error) {
	var file SuiteFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, nil, fmt.Errorf("failed to parse suite file: %w", err)
	}

	if file.Name == "" {
		return nil, nil, fmt.Errorf("suite name is required")
	}
	if len(file.Questions) == 0 {
		return nil, nil, fmt.Errorf("suite %q has no questions", file.Name)
	}

	now := time.Now()
	suite := &models.Suite{
		ID:          uuid.New().String(),
		Name:        file.Name,
		Description: file.Description,
		Spec:        file.Spec,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	seen := make(map[string]bool, len(file.Questions))
	questions := make([]models.Question, 0, len(file.Questions))

	for i, q := range file.Questions {
		if q.ID == "" {
			return nil, nil, fmt.Errorf("question %d is missing an id", i)
		}
		if seen[q.ID] {
			return nil, nil, fmt.Errorf("duplicate question id %q", q.ID)
		}
		seen[q.ID] = true

		if q.Question == "" {
			return nil, nil, fmt.Errorf("question %q has no text", q.ID)
		}

		if q.Gold.AnswerRegex != "" {
			if _, err := regexp.Compile("(?i)" + q.Gold.AnswerRegex); err != nil {
				logger.Warn("Suite contains malformed gold regex",
					zap.String("suite", file.Name),
					zap.String("qid", q.ID),
					zap.Error(err),
				)
			}
		}

		questions = append(questions, models.Question{
			ID:        uuid.New().String(),
			SuiteID:   suite.ID,
			QID:       q.ID,
			Intent:    q.Intent,
			Bucket:    q.Bucket,
			Question:  q.Question,
			Gold:      q.Gold,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	logger.Info("Suite file parsed",
		zap.String("suite", file.Name),
		zap.Int("questions", len(questions)),
	)

	return suite, questions, nil
}
