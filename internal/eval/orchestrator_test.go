package eval

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/manual-qa/backend/internal/storage/models"
	"github.com/manual-qa/backend/internal/storage/sqlite"
	"github.com/manual-qa/backend/pkg/config"
)

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0, 0}, nil
}

type fakeSearcher struct {
	neighbors []Neighbor
	err       error
}

func (f *fakeSearcher) Search(ctx context.Context, embedding []float32, topK int, documentIDs []string, authorityLevel string) ([]Neighbor, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.neighbors, nil
}

func evalDefaults() config.EvalConfig {
	return config.EvalConfig{
		TopK:                   10,
		LexicalAnswerThreshold: 0.65,
		VectorAnswerThreshold:  0.88,
		SigmoidMode:            "global_max_raw",
		Workers:                2,
		VectorTimeoutSec:       5,
	}
}

// newEvalStore seeds a suite with one gold question, one out-of-manual
// question, and a two-paragraph corpus where only the first paragraph shares
// vocabulary with the gold question.
func newEvalStore(t *testing.T) *sqlite.Client {
	t.Helper()

	store, err := sqlite.NewClient(filepath.Join(t.TempDir(), "eval.db"))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.InitSchema(); err != nil {
		t.Fatalf("InitSchema() error = %v", err)
	}

	now := time.Now()
	suite := &models.Suite{ID: "suite-1", Name: "handbook", CreatedAt: now, UpdatedAt: now}
	if err := store.UpsertSuite(suite); err != nil {
		t.Fatalf("UpsertSuite() error = %v", err)
	}

	questions := []models.Question{
		{
			ID: "a", SuiteID: suite.ID, QID: "q1",
			Intent: models.IntentFactual, Bucket: models.BucketInManual,
			Question: "How many days do I have to file a claim?",
			Gold: models.GoldSpec{
				ParentEvidenceIDs: []string{"d1-p0"},
				AnswerContains:    []string{"thirty days"},
			},
			CreatedAt: now, UpdatedAt: now,
		},
		{
			ID: "b", SuiteID: suite.ID, QID: "q2",
			Intent: models.IntentFactual, Bucket: models.BucketOutOfManual,
			Question:  "Which planets orbit farthest from our sun?",
			CreatedAt: now, UpdatedAt: now,
		},
	}
	if err := store.ReplaceSuiteQuestions(suite.ID, questions); err != nil {
		t.Fatalf("ReplaceSuiteQuestions() error = %v", err)
	}

	paragraphs := []models.Paragraph{
		{
			ID: "d1-p0", DocumentID: "d1", DocumentName: "member handbook",
			AuthorityLevel: "statewide",
			Text:           "Claims must be filed within thirty days of the date of service.",
			CreatedAt:      now,
		},
		{
			ID: "d2-p0", DocumentID: "d2", DocumentName: "benefit schedule",
			AuthorityLevel: "statewide",
			Text:           "The benefit schedule lists copay amounts for each tier.",
			ParagraphIndex: 0,
			CreatedAt:      now,
		},
	}
	if err := store.InsertParagraphs(paragraphs); err != nil {
		t.Fatalf("InsertParagraphs() error = %v", err)
	}

	return store
}

func queueRun(t *testing.T, store *sqlite.Client, params models.RunSpec) *models.Run {
	t.Helper()

	now := time.Now()
	run := &models.Run{
		ID:        "run-1",
		SuiteID:   "suite-1",
		Status:    models.RunStatusQueued,
		Params:    params,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.InsertRun(run); err != nil {
		t.Fatalf("InsertRun() error = %v", err)
	}
	return run
}

func TestExecuteCompletesRun(t *testing.T) {
	store := newEvalStore(t)
	searcher := &fakeSearcher{neighbors: []Neighbor{
		{ParagraphID: "d1-p0", Similarity: 0.95},
		{ParagraphID: "d2-p0", Similarity: 0.40},
	}}
	o := NewOrchestrator(store, &fakeEmbedder{}, searcher, evalDefaults())

	run := queueRun(t, store, models.RunSpec{
		TopK:                   5,
		LexicalAnswerThreshold: 0.51,
		VectorAnswerThreshold:  0.70,
		SigmoidMode:            "fixed",
		SigmoidK:               1,
	})

	o.Execute(run.ID)

	got, err := store.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Status != models.RunStatusCompleted {
		t.Fatalf("status = %q (error %q), want completed", got.Status, got.Error)
	}
	if got.Summary == nil {
		t.Fatal("completed run must carry a summary")
	}
	if got.Summary.QuestionsTotal != 2 || got.Summary.QuestionsWithGold != 1 || got.Summary.QuestionsOutOfManual != 1 {
		t.Errorf("summary counts = %+v", got.Summary)
	}

	metrics, err := store.GetRunMetrics(run.ID)
	if err != nil {
		t.Fatalf("GetRunMetrics() error = %v", err)
	}
	if len(metrics) != 2 {
		t.Fatalf("metrics = %d, want 2", len(metrics))
	}

	byQID := make(map[string]models.QuestionMetric, len(metrics))
	for _, m := range metrics {
		byQID[m.QID] = m
	}

	q1 := byQID["q1"]
	if q1.Lexical.GoldRank == nil || *q1.Lexical.GoldRank != 1 {
		t.Errorf("q1 lexical gold rank = %v, want 1", q1.Lexical.GoldRank)
	}
	if q1.Lexical.HitAt1 == nil || !*q1.Lexical.HitAt1 {
		t.Errorf("q1 lexical hit@1 = %v, want true", q1.Lexical.HitAt1)
	}
	if q1.Vector.HitAt1 == nil || !*q1.Vector.HitAt1 {
		t.Errorf("q1 vector hit@1 = %v, want true", q1.Vector.HitAt1)
	}
	if q1.Vector.TopScore == nil || *q1.Vector.TopScore != 0.95 {
		t.Errorf("q1 vector top score = %v, want 0.95", q1.Vector.TopScore)
	}
	if q1.Vector.WouldAnswer == nil || !*q1.Vector.WouldAnswer {
		t.Errorf("q1 vector would_answer = %v, want true", q1.Vector.WouldAnswer)
	}
	if q1.Lexical.FalsePositiveAnswer == nil || *q1.Lexical.FalsePositiveAnswer {
		t.Errorf("q1 is expected in manual, fp = %v", q1.Lexical.FalsePositiveAnswer)
	}

	// The out-of-manual question shares no vocabulary with the corpus, so the
	// lexical top confidence sits at sigmoid(0) and stays below the threshold.
	q2 := byQID["q2"]
	if q2.Lexical.HitAt1 != nil {
		t.Errorf("q2 has no gold, hit@1 = %v, want nil", q2.Lexical.HitAt1)
	}
	if q2.Lexical.WouldAnswer == nil || *q2.Lexical.WouldAnswer {
		t.Errorf("q2 lexical would_answer = %v, want false", q2.Lexical.WouldAnswer)
	}
	if q2.Vector.FalsePositiveAnswer == nil || !*q2.Vector.FalsePositiveAnswer {
		t.Errorf("q2 vector fp = %v, want true", q2.Vector.FalsePositiveAnswer)
	}
	if got.Summary.Vector.FalsePositiveAnswerCount != 1 {
		t.Errorf("vector fp count = %d, want 1", got.Summary.Vector.FalsePositiveAnswerCount)
	}

	rows, err := store.GetRetrievalRows(run.ID, "q1", models.MethodLexical)
	if err != nil {
		t.Fatalf("GetRetrievalRows() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("q1 lexical rows = %d, want 2", len(rows))
	}
	if rows[0].ParentEvidenceID != "d1-p0" || !rows[0].Match || rows[0].MatchWhy != "parent_id" {
		t.Errorf("q1 top lexical row = %+v", rows[0])
	}
	if rows[0].RawScore == nil || *rows[0].RawScore <= 0 {
		t.Errorf("q1 top lexical raw score = %v, want > 0", rows[0].RawScore)
	}

	vectorRows, _ := store.GetRetrievalRows(run.ID, "q1", models.MethodVector)
	if len(vectorRows) != 2 {
		t.Fatalf("q1 vector rows = %d, want 2", len(vectorRows))
	}
	if vectorRows[0].RawScore != nil {
		t.Errorf("vector rows carry no raw score, got %v", vectorRows[0].RawScore)
	}
}

func TestExecuteRanksAreContiguous(t *testing.T) {
	store := newEvalStore(t)
	// The middle neighbor is outside the paragraph scope; it is dropped before
	// ranks are assigned, so the persisted ranks stay gap-free.
	searcher := &fakeSearcher{neighbors: []Neighbor{
		{ParagraphID: "d1-p0", Similarity: 0.95},
		{ParagraphID: "ghost-p0", Similarity: 0.80},
		{ParagraphID: "d2-p0", Similarity: 0.40},
	}}
	o := NewOrchestrator(store, &fakeEmbedder{}, searcher, evalDefaults())

	run := queueRun(t, store, models.RunSpec{TopK: 5, LexicalAnswerThreshold: 0.5, VectorAnswerThreshold: 0.7})
	o.Execute(run.ID)

	got, _ := store.GetRun(run.ID)
	if got.Status != models.RunStatusCompleted {
		t.Fatalf("status = %q (error %q), want completed", got.Status, got.Error)
	}

	for _, qid := range []string{"q1", "q2"} {
		for _, method := range []string{models.MethodLexical, models.MethodVector} {
			rows, err := store.GetRetrievalRows(run.ID, qid, method)
			if err != nil {
				t.Fatalf("GetRetrievalRows(%s, %s) error = %v", qid, method, err)
			}
			if len(rows) == 0 {
				t.Fatalf("no rows for %s/%s", qid, method)
			}
			if method == models.MethodVector && len(rows) != 2 {
				t.Errorf("%s vector rows = %d, want 2 after scope filtering", qid, len(rows))
			}
			for i, row := range rows {
				if row.Rank != i+1 {
					t.Errorf("%s/%s rank[%d] = %d, want %d", qid, method, i, row.Rank, i+1)
				}
			}
		}
	}
}

func TestExecuteIsIdempotent(t *testing.T) {
	store := newEvalStore(t)
	searcher := &fakeSearcher{neighbors: []Neighbor{{ParagraphID: "d1-p0", Similarity: 0.9}}}
	o := NewOrchestrator(store, &fakeEmbedder{}, searcher, evalDefaults())

	run := queueRun(t, store, models.RunSpec{TopK: 5, LexicalAnswerThreshold: 0.5, VectorAnswerThreshold: 0.7})

	o.Execute(run.ID)
	o.Execute(run.ID)

	metrics, err := store.GetRunMetrics(run.ID)
	if err != nil {
		t.Fatalf("GetRunMetrics() error = %v", err)
	}
	if len(metrics) != 2 {
		t.Errorf("metrics after re-execution = %d, want 2", len(metrics))
	}

	rows, err := store.GetRetrievalRows(run.ID, "q1", models.MethodLexical)
	if err != nil {
		t.Fatalf("GetRetrievalRows() error = %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("rows after re-execution = %d, want 2", len(rows))
	}
}

func TestExecuteAfterFailedAttemptReplacesRows(t *testing.T) {
	store := newEvalStore(t)
	searcher := &fakeSearcher{neighbors: []Neighbor{{ParagraphID: "d1-p0", Similarity: 0.9}}}
	o := NewOrchestrator(store, &fakeEmbedder{}, searcher, evalDefaults())

	run := queueRun(t, store, models.RunSpec{TopK: 5, LexicalAnswerThreshold: 0.5, VectorAnswerThreshold: 0.7})

	// Leftovers from an attempt that died mid-write before being marked failed.
	now := time.Now()
	staleMetrics := []models.QuestionMetric{
		{ID: "stale-metric", RunID: run.ID, SuiteID: run.SuiteID, QID: "q1", CreatedAt: now},
	}
	staleRows := []models.RetrievalRow{
		{ID: "stale-row", RunID: run.ID, SuiteID: run.SuiteID, QID: "q1", Method: models.MethodLexical, Rank: 1, ItemID: "gone:0", CreatedAt: now},
	}
	if err := store.ReplaceRunOutputs(run.ID, staleMetrics, staleRows); err != nil {
		t.Fatalf("ReplaceRunOutputs() error = %v", err)
	}
	if err := store.MarkRunFailed(run.ID, "vector search: connection reset"); err != nil {
		t.Fatalf("MarkRunFailed() error = %v", err)
	}

	o.Execute(run.ID)

	got, err := store.GetRun(run.ID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.Status != models.RunStatusCompleted {
		t.Fatalf("status = %q (error %q), want completed", got.Status, got.Error)
	}
	if got.Error != "" {
		t.Errorf("error not cleared on successful re-execution: %q", got.Error)
	}

	metrics, err := store.GetRunMetrics(run.ID)
	if err != nil {
		t.Fatalf("GetRunMetrics() error = %v", err)
	}
	if len(metrics) != 2 {
		t.Fatalf("metrics = %d, want 2", len(metrics))
	}
	for _, m := range metrics {
		if m.ID == "stale-metric" {
			t.Error("stale metric survived re-execution")
		}
	}

	rows, err := store.GetRetrievalRows(run.ID, "q1", models.MethodLexical)
	if err != nil {
		t.Fatalf("GetRetrievalRows() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	for i, row := range rows {
		if row.ID == "stale-row" {
			t.Error("stale row survived re-execution")
		}
		if row.Rank != i+1 {
			t.Errorf("rank[%d] = %d, want %d", i, row.Rank, i+1)
		}
	}
}

func TestExecuteRecordsVectorErrorPerQuestion(t *testing.T) {
	store := newEvalStore(t)
	searcher := &fakeSearcher{err: errors.New("collection not loaded")}
	o := NewOrchestrator(store, &fakeEmbedder{}, searcher, evalDefaults())

	run := queueRun(t, store, models.RunSpec{TopK: 5, LexicalAnswerThreshold: 0.5, VectorAnswerThreshold: 0.7})

	o.Execute(run.ID)

	got, _ := store.GetRun(run.ID)
	if got.Status != models.RunStatusCompleted {
		t.Fatalf("vector failures must not fail the run, status = %q (error %q)", got.Status, got.Error)
	}

	metrics, _ := store.GetRunMetrics(run.ID)
	for _, m := range metrics {
		if !strings.Contains(m.Vector.Error, "collection not loaded") {
			t.Errorf("qid %s vector error = %q", m.QID, m.Vector.Error)
		}
		if m.Vector.WouldAnswer != nil || m.Vector.TopScore != nil {
			t.Errorf("qid %s errored vector metric must stay unset: %+v", m.QID, m.Vector)
		}
		if m.QID == "q1" && (m.Lexical.HitAt1 == nil || !*m.Lexical.HitAt1) {
			t.Errorf("lexical side unaffected by vector error, hit@1 = %v", m.Lexical.HitAt1)
		}
	}
}

func TestExecuteFailsRun(t *testing.T) {
	tests := []struct {
		name      string
		params    models.RunSpec
		embedder  Embedder
		searcher  VectorSearcher
		wantError string
	}{
		{
			name:      "vector retrieval unconfigured",
			params:    models.RunSpec{TopK: 5},
			wantError: "vector retrieval is not configured",
		},
		{
			name:      "empty evidence scope",
			params:    models.RunSpec{TopK: 5, DocumentIDs: []string{"missing-doc"}},
			embedder:  &fakeEmbedder{},
			searcher:  &fakeSearcher{},
			wantError: "evidence scope is empty",
		},
		{
			name:      "fixed mode without parameters",
			params:    models.RunSpec{TopK: 5, SigmoidMode: "fixed"},
			embedder:  &fakeEmbedder{},
			searcher:  &fakeSearcher{},
			wantError: "fixed sigmoid mode requires",
		},
		{
			name:      "unknown sigmoid mode",
			params:    models.RunSpec{TopK: 5, SigmoidMode: "zscore"},
			embedder:  &fakeEmbedder{},
			searcher:  &fakeSearcher{},
			wantError: "unknown sigmoid mode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newEvalStore(t)
			o := NewOrchestrator(store, tt.embedder, tt.searcher, evalDefaults())

			run := queueRun(t, store, tt.params)
			o.Execute(run.ID)

			got, err := store.GetRun(run.ID)
			if err != nil {
				t.Fatalf("GetRun() error = %v", err)
			}
			if got.Status != models.RunStatusFailed {
				t.Fatalf("status = %q, want failed", got.Status)
			}
			if !strings.Contains(got.Error, tt.wantError) {
				t.Errorf("error = %q, want substring %q", got.Error, tt.wantError)
			}
		})
	}
}

func TestExecuteLimitsQuestions(t *testing.T) {
	store := newEvalStore(t)
	searcher := &fakeSearcher{neighbors: []Neighbor{{ParagraphID: "d1-p0", Similarity: 0.9}}}
	o := NewOrchestrator(store, &fakeEmbedder{}, searcher, evalDefaults())

	run := queueRun(t, store, models.RunSpec{TopK: 5, LimitQuestions: 1, LexicalAnswerThreshold: 0.5, VectorAnswerThreshold: 0.7})

	o.Execute(run.ID)

	got, _ := store.GetRun(run.ID)
	if got.Status != models.RunStatusCompleted {
		t.Fatalf("status = %q, want completed", got.Status)
	}
	if got.Summary.QuestionsTotal != 1 {
		t.Errorf("QuestionsTotal = %d, want 1", got.Summary.QuestionsTotal)
	}
}

func TestSnippetKeepsRuneBoundary(t *testing.T) {
	// 301 bytes; the byte cap falls on the second byte of a two-byte rune.
	text := "a" + strings.Repeat("é", 150)

	got := snippet(text)
	if len(got) > snippetMaxLen {
		t.Fatalf("snippet length = %d, want <= %d", len(got), snippetMaxLen)
	}
	if !utf8.ValidString(got) {
		t.Fatalf("snippet is not valid UTF-8: %q", got)
	}
	if !strings.HasPrefix(text, got) {
		t.Error("snippet must be a prefix of its input")
	}

	short := "No truncation needed."
	if snippet(short) != short {
		t.Errorf("short text must pass through unchanged")
	}
}

func TestMergeSpec(t *testing.T) {
	o := NewOrchestrator(nil, nil, nil, evalDefaults())

	base := models.RunSpec{TopK: 5, DocumentIDs: []string{"d1"}, SigmoidMode: "auto_topk"}
	override := models.RunSpec{TopK: 3, AuthorityLevel: "county"}

	merged := o.mergeSpec(base, override)

	if merged.TopK != 3 {
		t.Errorf("TopK = %d, want override 3", merged.TopK)
	}
	if merged.AuthorityLevel != "county" {
		t.Errorf("AuthorityLevel = %q", merged.AuthorityLevel)
	}
	if len(merged.DocumentIDs) != 1 || merged.DocumentIDs[0] != "d1" {
		t.Errorf("DocumentIDs = %v, want base kept", merged.DocumentIDs)
	}
	if merged.SigmoidMode != "auto_topk" {
		t.Errorf("SigmoidMode = %q, want base kept", merged.SigmoidMode)
	}

	// Defaults fill whatever neither layer set.
	if merged.LexicalAnswerThreshold != 0.65 || merged.VectorAnswerThreshold != 0.88 {
		t.Errorf("thresholds = %v / %v, want config defaults", merged.LexicalAnswerThreshold, merged.VectorAnswerThreshold)
	}
}
