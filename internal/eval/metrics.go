package eval

import (
	"github.com/manual-qa/backend/internal/storage/models"
)

// DeriveMethodMetric folds one method's ranked outcome for one question into
// its metric fields. hasGold gates the hit flags: without a gold signal there
// is nothing to rank against and the flags stay undefined rather than false.
// topScore is nil when the method errored for this question, which leaves
// would_answer undefined as well.
func DeriveMethodMetric(bestRank *int, topScore *float64, threshold float64, expectInManual, hasGold bool) models.MethodMetric {
	m := models.MethodMetric{
		GoldRank: bestRank,
		TopScore: topScore,
	}

	if hasGold {
		m.HitAt1 = hitAt(bestRank, 1)
		m.HitAt3 = hitAt(bestRank, 3)
		m.HitAt5 = hitAt(bestRank, 5)
		m.HitAt10 = hitAt(bestRank, 10)
	}

	if topScore != nil {
		would := *topScore >= threshold
		m.WouldAnswer = &would
		falsePositive := !expectInManual && would
		m.FalsePositiveAnswer = &falsePositive
		falseNegative := expectInManual && !would
		m.FalseNegativeAbstain = &falseNegative
	}

	return m
}

func hitAt(bestRank *int, k int) *bool {
	hit := bestRank != nil && *bestRank <= k
	return &hit
}

// Summarize aggregates per-question metrics into run-level rates. Hit rates
// are computed only over questions with a gold signal; false positive counts
// only over questions the system should have refused.
func Summarize(metrics []models.QuestionMetric) *models.RunSummary {
	summary := &models.RunSummary{
		QuestionsTotal: len(metrics),
	}

	var lexHits, vecHits [4]int
	for _, m := range metrics {
		hasGold := m.Lexical.HitAt1 != nil || m.Vector.HitAt1 != nil
		if hasGold {
			summary.QuestionsWithGold++
			countHits(m.Lexical, &lexHits)
			countHits(m.Vector, &vecHits)
		}
		if !m.ExpectInManual {
			summary.QuestionsOutOfManual++
			if m.Lexical.FalsePositiveAnswer != nil && *m.Lexical.FalsePositiveAnswer {
				summary.Lexical.FalsePositiveAnswerCount++
			}
			if m.Vector.FalsePositiveAnswer != nil && *m.Vector.FalsePositiveAnswer {
				summary.Vector.FalsePositiveAnswerCount++
			}
		}
	}

	if summary.QuestionsWithGold > 0 {
		n := float64(summary.QuestionsWithGold)
		summary.Lexical.HitAt1 = float64(lexHits[0]) / n
		summary.Lexical.HitAt3 = float64(lexHits[1]) / n
		summary.Lexical.HitAt5 = float64(lexHits[2]) / n
		summary.Lexical.HitAt10 = float64(lexHits[3]) / n
		summary.Vector.HitAt1 = float64(vecHits[0]) / n
		summary.Vector.HitAt3 = float64(vecHits[1]) / n
		summary.Vector.HitAt5 = float64(vecHits[2]) / n
		summary.Vector.HitAt10 = float64(vecHits[3]) / n
	}

	return summary
}

func countHits(m models.MethodMetric, hits *[4]int) {
	flags := [4]*bool{m.HitAt1, m.HitAt3, m.HitAt5, m.HitAt10}
	for i, flag := range flags {
		if flag != nil && *flag {
			hits[i]++
		}
	}
}
