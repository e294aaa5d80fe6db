package corpus

import (
	"regexp"
	"strings"
)

const (
	// Units longer than this are re-split on clause separators before use.
	maxUnitLen = 420
	// Units shorter than this carry too little signal to rank on their own.
	minUnitLen = 25
	// Leader-dot density marking a table-of-contents paragraph.
	tocProbeLen = 250
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	tocLeaderRe  = regexp.MustCompile(`\.{6,}`)
	clauseRe     = regexp.MustCompile(`\s*;\s*|\s+•\s+|\s+-\s+`)
)

// IsTOCParagraph reports whether the paragraph looks like a table-of-contents
// entry (runs of leader dots near the start). Such paragraphs produce units
// that rank well lexically but carry no evidence.
func IsTOCParagraph(text string) bool {
	probe := text
	if len(probe) > tocProbeLen {
		probe = probe[:tocProbeLen]
	}
	return tocLeaderRe.MatchString(probe)
}

// SplitSentences breaks paragraph text into sentence units. A boundary is a
// sentence-ending mark followed by whitespace and an upper-case letter or
// digit; the next unit starts at that letter or digit, so abbreviations
// followed by lower-case text do not split.
func SplitSentences(text string) []string {
	collapsed := strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
	if collapsed == "" {
		return nil
	}

	var sentences []string
	start := 0
	runes := []rune(collapsed)
	for i := 0; i < len(runes)-1; i++ {
		if runes[i] != '.' && runes[i] != '!' && runes[i] != '?' {
			continue
		}
		j := i + 1
		for j < len(runes) && (runes[j] == ' ') {
			j++
		}
		if j == i+1 || j >= len(runes) {
			continue
		}
		next := runes[j]
		if (next >= 'A' && next <= 'Z') || (next >= '0' && next <= '9') {
			sentences = append(sentences, string(runes[start:i+1]))
			start = j
			i = j - 1
		}
	}
	if start < len(runes) {
		sentences = append(sentences, string(runes[start:]))
	}

	var units []string
	for _, s := range sentences {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if len(s) > maxUnitLen {
			for _, part := range clauseRe.Split(s, -1) {
				part = strings.TrimSpace(part)
				if len(part) >= minUnitLen {
					units = append(units, part)
				}
			}
			continue
		}
		if len(s) >= minUnitLen {
			units = append(units, s)
		}
	}

	return units
}
