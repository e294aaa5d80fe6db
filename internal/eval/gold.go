package eval

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/manual-qa/backend/internal/storage/models"
	"github.com/manual-qa/backend/pkg/logger"
)

const reasonNeedleMax = 48

// Candidate is the view of a retrieved unit the gold matcher needs.
type Candidate struct {
	ParentEvidenceID string
	Text             string
}

// Match is the outcome of checking one candidate against a gold spec.
type Match struct {
	Matched bool
	Reason  string
}

// GoldMatcher is a compiled gold spec. Compilation happens once per question
// so the regex and lowered needles are not rebuilt per candidate.
type GoldMatcher struct {
	parentIDs map[string]bool
	needles   []string
	regex     *regexp.Regexp
}

// NewGoldMatcher compiles a gold spec. A malformed regex disables rule 3
// rather than failing the question; the substring and parent-id rules still
// apply.
func NewGoldMatcher(qid string, spec models.GoldSpec) *GoldMatcher {
	m := &GoldMatcher{}

	if len(spec.ParentEvidenceIDs) > 0 {
		m.parentIDs = make(map[string]bool, len(spec.ParentEvidenceIDs))
		for _, id := range spec.ParentEvidenceIDs {
			m.parentIDs[id] = true
		}
	}

	// answer_contains before crux_contains, both in list order.
	m.needles = append(m.needles, spec.AnswerContains...)
	m.needles = append(m.needles, spec.CruxContains...)

	if spec.AnswerRegex != "" {
		re, err := regexp.Compile("(?i)" + spec.AnswerRegex)
		if err != nil {
			logger.Warn("Malformed gold regex ignored",
				zap.String("qid", qid),
				zap.String("pattern", spec.AnswerRegex),
				zap.Error(err),
			)
		} else {
			m.regex = re
		}
	}

	return m
}

// Check applies the match rules in precedence order; the first rule that
// fires wins.
func (m *GoldMatcher) Check(c Candidate) Match {
	if m.parentIDs[c.ParentEvidenceID] {
		return Match{Matched: true, Reason: "parent_id"}
	}

	lowerText := strings.ToLower(c.Text)
	for _, needle := range m.needles {
		if needle == "" {
			continue
		}
		if strings.Contains(lowerText, strings.ToLower(needle)) {
			prefix := truncateRunes(needle, reasonNeedleMax)
			return Match{Matched: true, Reason: fmt.Sprintf("contains:%s", prefix)}
		}
	}

	if m.regex != nil && m.regex.MatchString(c.Text) {
		return Match{Matched: true, Reason: "regex"}
	}

	return Match{}
}

// BestRank returns the lowest 1-based rank whose candidate matches, or nil if
// none of the retrieved candidates match.
func (m *GoldMatcher) BestRank(candidates []Candidate) *int {
	for i, c := range candidates {
		if m.Check(c).Matched {
			rank := i + 1
			return &rank
		}
	}
	return nil
}
