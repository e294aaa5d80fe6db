package corpus

import (
	"testing"

	"github.com/manual-qa/backend/internal/storage/models"
)

func TestBuildSentences(t *testing.T) {
	page := 12
	paragraphs := []models.Paragraph{
		{
			ID:         "doc1-p0001",
			DocumentID: "doc1",
			PageNumber: &page,
			Text:       "Claims must be filed within 30 days. Late claims are denied unless documented.",
		},
		{
			ID:         "doc1-p0002",
			DocumentID: "doc1",
			Text:       "Chapter 3 Benefits ............ 41",
		},
	}

	sentences := BuildSentences(paragraphs)

	if len(sentences) != 2 {
		t.Fatalf("expected 2 sentences, got %d", len(sentences))
	}

	if sentences[0].ID != "doc1-p0001:0" {
		t.Errorf("sentence id = %q, want doc1-p0001:0", sentences[0].ID)
	}
	if sentences[1].ID != "doc1-p0001:1" {
		t.Errorf("sentence id = %q, want doc1-p0001:1", sentences[1].ID)
	}
	for _, s := range sentences {
		if s.ParagraphID != "doc1-p0001" {
			t.Errorf("parent id = %q, want doc1-p0001", s.ParagraphID)
		}
		if s.PageNumber == nil || *s.PageNumber != page {
			t.Errorf("page number not carried through")
		}
	}
}

func TestBuildSentencesEmptyScope(t *testing.T) {
	if got := BuildSentences(nil); got != nil {
		t.Errorf("expected nil for empty scope, got %d sentences", len(got))
	}
}
