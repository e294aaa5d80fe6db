package eval

import (
	"math"
	"testing"

	"github.com/manual-qa/backend/internal/storage/models"
)

func intPtr(v int) *int          { return &v }
func floatPtr(v float64) *float64 { return &v }

func TestDeriveMethodMetric(t *testing.T) {
	tests := []struct {
		name           string
		bestRank       *int
		topScore       *float64
		threshold      float64
		expectInManual bool
		hasGold        bool
		wantHit1       *bool
		wantHit3       *bool
		wantWould      *bool
		wantFP         *bool
		wantFN         *bool
	}{
		{
			name:           "gold at rank 2",
			bestRank:       intPtr(2),
			topScore:       floatPtr(0.9),
			threshold:      0.65,
			expectInManual: true,
			hasGold:        true,
			wantHit1:       boolPtr(false),
			wantHit3:       boolPtr(true),
			wantWould:      boolPtr(true),
			wantFP:         boolPtr(false),
			wantFN:         boolPtr(false),
		},
		{
			name:           "gold not retrieved",
			bestRank:       nil,
			topScore:       floatPtr(0.3),
			threshold:      0.65,
			expectInManual: true,
			hasGold:        true,
			wantHit1:       boolPtr(false),
			wantHit3:       boolPtr(false),
			wantWould:      boolPtr(false),
			wantFP:         boolPtr(false),
			wantFN:         boolPtr(true),
		},
		{
			name:           "no gold leaves hits undefined",
			bestRank:       nil,
			topScore:       floatPtr(0.9),
			threshold:      0.65,
			expectInManual: false,
			hasGold:        false,
			wantHit1:       nil,
			wantHit3:       nil,
			wantWould:      boolPtr(true),
			wantFP:         boolPtr(true),
			wantFN:         boolPtr(false),
		},
		{
			name:           "errored method leaves would_answer undefined",
			bestRank:       nil,
			topScore:       nil,
			threshold:      0.65,
			expectInManual: true,
			hasGold:        true,
			wantHit1:       boolPtr(false),
			wantHit3:       boolPtr(false),
			wantWould:      nil,
			wantFP:         nil,
			wantFN:         nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := DeriveMethodMetric(tt.bestRank, tt.topScore, tt.threshold, tt.expectInManual, tt.hasGold)

			assertBoolPtr(t, "hit_at_1", m.HitAt1, tt.wantHit1)
			assertBoolPtr(t, "hit_at_3", m.HitAt3, tt.wantHit3)
			assertBoolPtr(t, "would_answer", m.WouldAnswer, tt.wantWould)
			assertBoolPtr(t, "false_positive", m.FalsePositiveAnswer, tt.wantFP)
			assertBoolPtr(t, "false_negative_abstain", m.FalseNegativeAbstain, tt.wantFN)
		})
	}
}

func TestDeriveMethodMetricThresholdBoundary(t *testing.T) {
	m := DeriveMethodMetric(nil, floatPtr(0.65), 0.65, true, false)
	if m.WouldAnswer == nil || !*m.WouldAnswer {
		t.Error("score equal to threshold should answer")
	}
}

func TestSummarize(t *testing.T) {
	metrics := []models.QuestionMetric{
		{
			ExpectInManual: true,
			Lexical: models.MethodMetric{
				HitAt1: boolPtr(true), HitAt3: boolPtr(true), HitAt5: boolPtr(true), HitAt10: boolPtr(true),
			},
			Vector: models.MethodMetric{
				HitAt1: boolPtr(false), HitAt3: boolPtr(true), HitAt5: boolPtr(true), HitAt10: boolPtr(true),
			},
		},
		{
			ExpectInManual: true,
			Lexical: models.MethodMetric{
				HitAt1: boolPtr(false), HitAt3: boolPtr(false), HitAt5: boolPtr(false), HitAt10: boolPtr(false),
			},
			Vector: models.MethodMetric{
				HitAt1: boolPtr(true), HitAt3: boolPtr(true), HitAt5: boolPtr(true), HitAt10: boolPtr(true),
			},
		},
		{
			// Out-of-manual question with no gold; lexical answered anyway.
			ExpectInManual: false,
			Lexical: models.MethodMetric{
				WouldAnswer:         boolPtr(true),
				FalsePositiveAnswer: boolPtr(true),
			},
			Vector: models.MethodMetric{
				WouldAnswer:         boolPtr(false),
				FalsePositiveAnswer: boolPtr(false),
			},
		},
	}

	summary := Summarize(metrics)

	if summary.QuestionsTotal != 3 {
		t.Errorf("QuestionsTotal = %d, want 3", summary.QuestionsTotal)
	}
	if summary.QuestionsWithGold != 2 {
		t.Errorf("QuestionsWithGold = %d, want 2", summary.QuestionsWithGold)
	}
	if summary.QuestionsOutOfManual != 1 {
		t.Errorf("QuestionsOutOfManual = %d, want 1", summary.QuestionsOutOfManual)
	}

	if math.Abs(summary.Lexical.HitAt1-0.5) > 1e-12 {
		t.Errorf("lexical hit@1 = %v, want 0.5", summary.Lexical.HitAt1)
	}
	if math.Abs(summary.Vector.HitAt3-1.0) > 1e-12 {
		t.Errorf("vector hit@3 = %v, want 1.0", summary.Vector.HitAt3)
	}
	if summary.Lexical.FalsePositiveAnswerCount != 1 {
		t.Errorf("lexical fp count = %d, want 1", summary.Lexical.FalsePositiveAnswerCount)
	}
	if summary.Vector.FalsePositiveAnswerCount != 0 {
		t.Errorf("vector fp count = %d, want 0", summary.Vector.FalsePositiveAnswerCount)
	}
}

func TestSummarizeNoGold(t *testing.T) {
	summary := Summarize([]models.QuestionMetric{{ExpectInManual: true}})
	if summary.QuestionsWithGold != 0 {
		t.Errorf("QuestionsWithGold = %d, want 0", summary.QuestionsWithGold)
	}
	if summary.Lexical.HitAt10 != 0 {
		t.Errorf("hit rate should be 0 with no gold, got %v", summary.Lexical.HitAt10)
	}
}

func boolPtr(v bool) *bool { return &v }

func assertBoolPtr(t *testing.T, field string, got, want *bool) {
	t.Helper()
	if (got == nil) != (want == nil) {
		t.Errorf("%s = %v, want %v", field, got, want)
		return
	}
	if got != nil && *got != *want {
		t.Errorf("%s = %v, want %v", field, *got, *want)
	}
}
