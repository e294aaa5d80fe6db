package models

import "time"

const (
	RunStatusQueued    = "queued"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

const (
	MethodLexical = "lexical"
	MethodVector  = "vector"
)

const (
	IntentFactual   = "factual"
	IntentCanonical = "canonical"

	BucketInManual    = "in_manual"
	BucketOutOfManual = "out_of_manual"
)

type Suite struct {
	ID          string
	Name        string
	Description string
	Spec        RunSpec
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RunSpec is the evaluation configuration attached to a suite and captured
// immutably on each run at submission time.
type RunSpec struct {
	DocumentIDs            []string `json:"document_ids,omitempty" yaml:"document_ids,omitempty"`
	AuthorityLevel         string   `json:"authority_level,omitempty" yaml:"authority_level,omitempty"`
	TopK                   int      `json:"top_k,omitempty" yaml:"top_k,omitempty"`
	LimitQuestions         int      `json:"limit_questions,omitempty" yaml:"limit_questions,omitempty"`
	LexicalAnswerThreshold float64  `json:"lexical_answer_threshold,omitempty" yaml:"lexical_answer_threshold,omitempty"`
	VectorAnswerThreshold  float64  `json:"vector_answer_threshold,omitempty" yaml:"vector_answer_threshold,omitempty"`
	SigmoidMode            string   `json:"sigmoid_mode,omitempty" yaml:"sigmoid_mode,omitempty"`
	SigmoidK               float64  `json:"sigmoid_k,omitempty" yaml:"sigmoid_k,omitempty"`
	SigmoidX0              float64  `json:"sigmoid_x0,omitempty" yaml:"sigmoid_x0,omitempty"`
}

// GoldSpec is the ground-truth annotation on a question. Field precedence at
// match time: parent ids, then substrings, then regex.
type GoldSpec struct {
	ExpectInManual    *bool    `json:"expect_in_manual,omitempty" yaml:"expect_in_manual,omitempty"`
	ParentEvidenceIDs []string `json:"parent_evidence_ids,omitempty" yaml:"parent_evidence_ids,omitempty"`
	AnswerContains    []string `json:"answer_contains,omitempty" yaml:"answer_contains,omitempty"`
	CruxContains      []string `json:"crux_contains,omitempty" yaml:"crux_contains,omitempty"`
	AnswerRegex       string   `json:"answer_regex,omitempty" yaml:"answer_regex,omitempty"`
}

// HasRetrievalGold reports whether the spec carries any signal a retrieved
// candidate can be checked against.
func (g GoldSpec) HasRetrievalGold() bool {
	return len(g.ParentEvidenceIDs) > 0 || len(g.AnswerContains) > 0 ||
		len(g.CruxContains) > 0 || g.AnswerRegex != ""
}

type Question struct {
	ID        string
	SuiteID   string
	QID       string
	Intent    string
	Bucket    string
	Question  string
	Gold      GoldSpec
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ExpectInManual resolves the gold default: out-of-manual questions should be
// refused unless the gold spec says otherwise.
func (q Question) ExpectInManual() bool {
	if q.Gold.ExpectInManual != nil {
		return *q.Gold.ExpectInManual
	}
	return q.Bucket != BucketOutOfManual
}

// Paragraph is the atomic evidence unit from the source manual. Owned by the
// document store; read-only to the evaluation core.
type Paragraph struct {
	ID             string
	DocumentID     string
	DocumentName   string
	AuthorityLevel string
	Text           string
	PageNumber     *int
	SectionPath    string
	ChapterPath    string
	ParagraphIndex int
	CreatedAt      time.Time
}

type DocumentInfo struct {
	DocumentID     string
	DocumentName   string
	AuthorityLevel string
	ParagraphRows  int
	UpdatedAt      time.Time
}

type Run struct {
	ID          string
	SuiteID     string
	Status      string
	Params      RunSpec
	Summary     *RunSummary
	Error       string
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type RunSummary struct {
	QuestionsTotal       int           `json:"questions_total"`
	QuestionsWithGold    int           `json:"questions_with_gold"`
	QuestionsOutOfManual int           `json:"questions_out_of_manual"`
	Lexical              MethodSummary `json:"lexical"`
	Vector               MethodSummary `json:"vector"`
}

type MethodSummary struct {
	HitAt1                   float64 `json:"hit_at_1"`
	HitAt3                   float64 `json:"hit_at_3"`
	HitAt5                   float64 `json:"hit_at_5"`
	HitAt10                  float64 `json:"hit_at_10"`
	FalsePositiveAnswerCount int     `json:"false_positive_answer_count"`
}

// MethodMetric summarizes one retrieval method's outcome for one question.
// Pointer fields are null when undefined (no gold to evaluate against, or the
// method errored for this question).
type MethodMetric struct {
	GoldRank             *int
	HitAt1               *bool
	HitAt3               *bool
	HitAt5               *bool
	HitAt10              *bool
	TopScore             *float64
	WouldAnswer          *bool
	FalsePositiveAnswer  *bool
	FalseNegativeAbstain *bool
	Error                string
}

type QuestionMetric struct {
	ID             string
	RunID          string
	SuiteID        string
	QID            string
	Intent         string
	Bucket         string
	Question       string
	ExpectInManual bool
	GoldParentIDs  []string
	Lexical        MethodMetric
	Vector         MethodMetric
	CreatedAt      time.Time
}

// RetrievalRow is one ranked result for one (question, method) pair.
// Immutable once written; owned by its run.
type RetrievalRow struct {
	ID               string
	RunID            string
	SuiteID          string
	QID              string
	Method           string
	Rank             int
	ItemID           string
	ParentEvidenceID string
	Score            *float64
	RawScore         *float64
	Match            bool
	MatchWhy         string
	PageNumber       *int
	Snippet          string
	CreatedAt        time.Time
}
