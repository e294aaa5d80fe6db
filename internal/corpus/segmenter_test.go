package corpus

import (
	"strings"
	"testing"
)

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "splits on terminator before capital",
			text: "Claims must be filed within 30 days. Late claims are denied unless documented.",
			want: []string{
				"Claims must be filed within 30 days.",
				"Late claims are denied unless documented.",
			},
		},
		{
			name: "splits on terminator before digit",
			text: "See the filing schedule below. 30 days is the standard filing window for appeals.",
			want: []string{
				"See the filing schedule below.",
				"30 days is the standard filing window for appeals.",
			},
		},
		{
			name: "does not split before lowercase",
			text: "The dept. of records handles all appeals and must respond in writing.",
			want: []string{
				"The dept. of records handles all appeals and must respond in writing.",
			},
		},
		{
			name: "collapses internal whitespace",
			text: "Coverage  begins\n\non the  first of the month.",
			want: []string{
				"Coverage begins on the first of the month.",
			},
		},
		{
			name: "drops short fragments",
			text: "No. Appeals must be submitted through the member portal within the window.",
			want: []string{
				"Appeals must be submitted through the member portal within the window.",
			},
		},
		{
			name: "empty input",
			text: "   ",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitSentences(tt.text)
			if len(got) != len(tt.want) {
				t.Fatalf("SplitSentences() = %q, want %q", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("unit %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSplitSentencesResplitsLongUnits(t *testing.T) {
	clause := "the member must provide a complete written statement of the facts"
	long := strings.Join([]string{clause, clause, clause, clause, clause, clause, clause}, "; ") + "."

	if len(long) <= maxUnitLen {
		t.Fatalf("test input too short: %d", len(long))
	}

	units := SplitSentences(long)
	if len(units) < 2 {
		t.Fatalf("expected long unit to be re-split, got %d units", len(units))
	}
	for _, u := range units {
		if len(u) < minUnitLen {
			t.Errorf("unit below minimum length survived: %q", u)
		}
	}
}

func TestIsTOCParagraph(t *testing.T) {
	if !IsTOCParagraph("Chapter 3 Benefits ............ 41") {
		t.Error("leader dots should mark a TOC paragraph")
	}
	if IsTOCParagraph("Benefits are described in Chapter 3. See page 41 for details.") {
		t.Error("normal prose flagged as TOC")
	}
	// Leader dots past the probe window do not count.
	long := strings.Repeat("a", tocProbeLen) + " .........."
	if IsTOCParagraph(long) {
		t.Error("leader dots beyond probe window flagged as TOC")
	}
}
