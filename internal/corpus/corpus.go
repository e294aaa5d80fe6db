package corpus

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/manual-qa/backend/internal/storage/models"
	"github.com/manual-qa/backend/pkg/logger"
)

// Sentence is one retrievable unit. The ID embeds the parent paragraph id and
// the unit's position so the parent is recoverable from any ranked result.
type Sentence struct {
	ID          string
	ParagraphID string
	Position    int
	Text        string
	DocumentID  string
	PageNumber  *int
	SectionPath string
	ChapterPath string
}

// BuildSentences segments a paragraph scope into the sentence corpus used for
// lexical retrieval. Paragraph order is preserved, so the corpus and any index
// built over it are deterministic for a given scope.
func BuildSentences(paragraphs []models.Paragraph) []Sentence {
	var sentences []Sentence
	skippedTOC := 0

	for _, p := range paragraphs {
		if IsTOCParagraph(p.Text) {
			skippedTOC++
			continue
		}
		for i, unit := range SplitSentences(p.Text) {
			sentences = append(sentences, Sentence{
				ID:          fmt.Sprintf("%s:%d", p.ID, i),
				ParagraphID: p.ID,
				Position:    i,
				Text:        unit,
				DocumentID:  p.DocumentID,
				PageNumber:  p.PageNumber,
				SectionPath: p.SectionPath,
				ChapterPath: p.ChapterPath,
			})
		}
	}

	logger.Debug("Sentence corpus built",
		zap.Int("paragraphs", len(paragraphs)),
		zap.Int("sentences", len(sentences)),
		zap.Int("toc_skipped", skippedTOC),
	)

	return sentences
}
