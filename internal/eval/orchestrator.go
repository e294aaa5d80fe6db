package eval

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/manual-qa/backend/internal/corpus"
	"github.com/manual-qa/backend/internal/metrics"
	"github.com/manual-qa/backend/internal/search/bm25"
	"github.com/manual-qa/backend/internal/search/calibrate"
	"github.com/manual-qa/backend/internal/storage/models"
	"github.com/manual-qa/backend/internal/storage/sqlite"
	"github.com/manual-qa/backend/pkg/config"
	"github.com/manual-qa/backend/pkg/logger"
)

const snippetMaxLen = 240

// Embedder produces a query embedding for vector retrieval.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Neighbor is one vector search hit with similarity already on [0,1].
type Neighbor struct {
	ParagraphID string
	Similarity  float64
}

// VectorSearcher finds nearest paragraphs within the run's evidence scope.
type VectorSearcher interface {
	Search(ctx context.Context, embedding []float32, topK int, documentIDs []string, authorityLevel string) ([]Neighbor, error)
}

// Orchestrator executes evaluation runs as background work. Each run builds
// its own lexical index and issues its own vector queries, so concurrent runs
// share no mutable state.
type Orchestrator struct {
	store         *sqlite.Client
	embedder      Embedder
	vector        VectorSearcher
	defaults      config.EvalConfig
	vectorTimeout time.Duration
}

func NewOrchestrator(store *sqlite.Client, embedder Embedder, vector VectorSearcher, cfg config.EvalConfig) *Orchestrator {
	return &Orchestrator{
		store:         store,
		embedder:      embedder,
		vector:        vector,
		defaults:      cfg,
		vectorTimeout: time.Duration(cfg.VectorTimeoutSec) * time.Second,
	}
}

// StartRun captures the merged run parameters, persists the run as queued,
// and launches execution in the background. The returned run reflects the
// queued state; callers poll for progress.
func (o *Orchestrator) StartRun(suiteID string, override models.RunSpec) (*models.Run, error) {
	suite, err := o.store.GetSuite(suiteID)
	if err != nil {
		return nil, fmt.Errorf("failed to load suite: %w", err)
	}

	now := time.Now()
	run := &models.Run{
		ID:        uuid.New().String(),
		SuiteID:   suite.ID,
		Status:    models.RunStatusQueued,
		Params:    o.mergeSpec(suite.Spec, override),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := o.store.InsertRun(run); err != nil {
		return nil, err
	}

	go o.Execute(run.ID)

	return run, nil
}

// mergeSpec layers the override on the suite spec and fills remaining gaps
// from server config. Captured once at submission; the run never re-reads
// suite or server configuration afterwards.
func (o *Orchestrator) mergeSpec(base, override models.RunSpec) models.RunSpec {
	merged := base

	if len(override.DocumentIDs) > 0 {
		merged.DocumentIDs = override.DocumentIDs
	}
	if override.AuthorityLevel != "" {
		merged.AuthorityLevel = override.AuthorityLevel
	}
	if override.TopK > 0 {
		merged.TopK = override.TopK
	}
	if override.LimitQuestions > 0 {
		merged.LimitQuestions = override.LimitQuestions
	}
	if override.LexicalAnswerThreshold > 0 {
		merged.LexicalAnswerThreshold = override.LexicalAnswerThreshold
	}
	if override.VectorAnswerThreshold > 0 {
		merged.VectorAnswerThreshold = override.VectorAnswerThreshold
	}
	if override.SigmoidMode != "" {
		merged.SigmoidMode = override.SigmoidMode
	}
	if override.SigmoidK != 0 {
		merged.SigmoidK = override.SigmoidK
	}
	if override.SigmoidX0 != 0 {
		merged.SigmoidX0 = override.SigmoidX0
	}

	if merged.TopK <= 0 {
		merged.TopK = o.defaults.TopK
	}
	if merged.LexicalAnswerThreshold <= 0 {
		merged.LexicalAnswerThreshold = o.defaults.LexicalAnswerThreshold
	}
	if merged.VectorAnswerThreshold <= 0 {
		merged.VectorAnswerThreshold = o.defaults.VectorAnswerThreshold
	}
	if merged.SigmoidMode == "" {
		merged.SigmoidMode = o.defaults.SigmoidMode
	}

	return merged
}

type rankedCandidate struct {
	itemID     string
	parentID   string
	text       string
	pageNumber *int
	raw        float64
}

type questionOutcome struct {
	question  models.Question
	matcher   *GoldMatcher
	lexical   []rankedCandidate
	vector    []rankedCandidate
	vectorErr string
}

// Execute drives a run through its state machine. Any panic or error lands
// the run in failed with a captured message; prior outputs for the run id are
// replaced wholesale on success, so a re-executed run converges.
func (o *Orchestrator) Execute(runID string) {
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Run panicked", zap.String("run_id", runID), zap.Any("panic", r))
			o.failRun(runID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	if err := o.store.MarkRunRunning(runID); err != nil {
		logger.Error("Failed to transition run", zap.String("run_id", runID), zap.Error(err))
		return
	}

	summary, err := o.execute(runID)
	if err != nil {
		o.failRun(runID, err.Error())
		return
	}

	if err := o.store.MarkRunCompleted(runID, summary); err != nil {
		logger.Error("Failed to persist run completion", zap.String("run_id", runID), zap.Error(err))
		return
	}

	metrics.RunsTotal.WithLabelValues(models.RunStatusCompleted).Inc()
	metrics.RunDuration.Observe(time.Since(started).Seconds())
	publishSummaryGauges(summary)
}

func (o *Orchestrator) failRun(runID, message string) {
	metrics.RunsTotal.WithLabelValues(models.RunStatusFailed).Inc()
	if err := o.store.MarkRunFailed(runID, message); err != nil {
		logger.Error("Failed to persist run failure", zap.String("run_id", runID), zap.Error(err))
	}
}

func (o *Orchestrator) execute(runID string) (*models.RunSummary, error) {
	run, err := o.store.GetRun(runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	params := run.Params

	// Configuration-class failures: no question can succeed without these.
	if o.embedder == nil || o.vector == nil {
		return nil, fmt.Errorf("vector retrieval is not configured")
	}

	questions, err := o.store.GetQuestions(run.SuiteID)
	if err != nil {
		return nil, fmt.Errorf("failed to load questions: %w", err)
	}
	if params.LimitQuestions > 0 && len(questions) > params.LimitQuestions {
		questions = questions[:params.LimitQuestions]
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("suite %s has no questions", run.SuiteID)
	}

	paragraphs, err := o.store.GetParagraphs(params.DocumentIDs, params.AuthorityLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to load evidence scope: %w", err)
	}
	if len(paragraphs) == 0 {
		return nil, fmt.Errorf("evidence scope is empty: no paragraphs match the run's document filters")
	}

	sentences := corpus.BuildSentences(paragraphs)
	if len(sentences) == 0 {
		return nil, fmt.Errorf("evidence scope produced no sentence units")
	}

	texts := make([]string, len(sentences))
	for i, s := range sentences {
		texts[i] = s.Text
	}
	index := bm25.NewIndex(texts)

	paragraphByID := make(map[string]models.Paragraph, len(paragraphs))
	for _, p := range paragraphs {
		paragraphByID[p.ID] = p
	}

	logger.Info("Run executing",
		zap.String("run_id", runID),
		zap.Int("questions", len(questions)),
		zap.Int("paragraphs", len(paragraphs)),
		zap.Int("sentences", len(sentences)),
		zap.Int("top_k", params.TopK),
	)

	outcomes := o.evaluateQuestions(runID, params, questions, index, sentences, paragraphByID)

	lexicalParams, perQuestionParams, err := o.calibration(params, outcomes)
	if err != nil {
		return nil, err
	}

	questionMetrics, rows := o.buildOutputs(run, outcomes, lexicalParams, perQuestionParams)

	if err := o.store.ReplaceRunOutputs(runID, questionMetrics, rows); err != nil {
		return nil, err
	}

	metrics.QuestionsEvaluated.Add(float64(len(questions)))

	return Summarize(questionMetrics), nil
}

// evaluateQuestions runs retrieval for every question over a bounded worker
// pool. Questions are independent and the index is read-only, so order of
// completion does not matter; results land at their question's slot.
func (o *Orchestrator) evaluateQuestions(
	runID string,
	params models.RunSpec,
	questions []models.Question,
	index *bm25.Index,
	sentences []corpus.Sentence,
	paragraphByID map[string]models.Paragraph,
) []questionOutcome {
	outcomes := make([]questionOutcome, len(questions))

	workers := o.defaults.Workers
	if workers <= 0 {
		workers = 1
	}

	jobs := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				q := questions[i]
				outcome := questionOutcome{
					question: q,
					matcher:  NewGoldMatcher(q.QID, q.Gold),
				}

				for _, result := range index.TopK(q.Question, params.TopK) {
					s := sentences[result.Index]
					outcome.lexical = append(outcome.lexical, rankedCandidate{
						itemID:     s.ID,
						parentID:   s.ParagraphID,
						text:       s.Text,
						pageNumber: s.PageNumber,
						raw:        result.Score,
					})
				}

				vectorHits, err := o.searchVector(q.Question, params)
				if err != nil {
					metrics.VectorQueryErrors.Inc()
					outcome.vectorErr = err.Error()
					logger.Warn("Vector retrieval failed for question",
						zap.String("run_id", runID),
						zap.String("qid", q.QID),
						zap.Error(err),
					)
				} else {
					for _, hit := range vectorHits {
						p, ok := paragraphByID[hit.ParagraphID]
						if !ok {
							continue
						}
						outcome.vector = append(outcome.vector, rankedCandidate{
							itemID:     p.ID,
							parentID:   p.ID,
							text:       p.Text,
							pageNumber: p.PageNumber,
							raw:        hit.Similarity,
						})
					}
				}

				outcomes[i] = outcome
			}
		}()
	}

	for i := range questions {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return outcomes
}

func (o *Orchestrator) searchVector(question string, params models.RunSpec) ([]Neighbor, error) {
	ctx, cancel := context.WithTimeout(context.Background(), o.vectorTimeout)
	defer cancel()

	embedding, err := o.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}

	neighbors, err := o.vector.Search(ctx, embedding, params.TopK, params.DocumentIDs, params.AuthorityLevel)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	return neighbors, nil
}

// calibration resolves the sigmoid parameters for lexical confidence. The
// global mode returns one corpus-level fit; auto_topk returns one fit per
// question; fixed uses the caller-supplied pair.
func (o *Orchestrator) calibration(params models.RunSpec, outcomes []questionOutcome) (calibrate.Params, []calibrate.Params, error) {
	switch params.SigmoidMode {
	case calibrate.ModeGlobalMaxRaw, "":
		var maxScores []float64
		for _, outcome := range outcomes {
			if len(outcome.lexical) > 0 {
				maxScores = append(maxScores, outcome.lexical[0].raw)
			}
		}
		return calibrate.FitGlobalMaxRaw(maxScores), nil, nil

	case calibrate.ModeAutoTopK:
		perQuestion := make([]calibrate.Params, len(outcomes))
		for i, outcome := range outcomes {
			if len(outcome.lexical) == 0 {
				perQuestion[i] = calibrate.Params{K: 1}
				continue
			}
			top := outcome.lexical[0].raw
			bottom := outcome.lexical[len(outcome.lexical)-1].raw
			perQuestion[i] = calibrate.FitTopK(top, bottom)
		}
		return calibrate.Params{}, perQuestion, nil

	case calibrate.ModeFixed:
		if params.SigmoidK == 0 {
			return calibrate.Params{}, nil, fmt.Errorf("fixed sigmoid mode requires sigmoid_k and sigmoid_x0")
		}
		return calibrate.Params{K: params.SigmoidK, X0: params.SigmoidX0}, nil, nil

	default:
		return calibrate.Params{}, nil, fmt.Errorf("unknown sigmoid mode %q", params.SigmoidMode)
	}
}

func (o *Orchestrator) buildOutputs(
	run *models.Run,
	outcomes []questionOutcome,
	globalParams calibrate.Params,
	perQuestionParams []calibrate.Params,
) ([]models.QuestionMetric, []models.RetrievalRow) {
	now := time.Now()
	params := run.Params

	var questionMetrics []models.QuestionMetric
	var rows []models.RetrievalRow

	for i, outcome := range outcomes {
		q := outcome.question
		hasGold := q.Gold.HasRetrievalGold()
		expectInManual := q.ExpectInManual()

		sigmoid := globalParams
		if perQuestionParams != nil {
			sigmoid = perQuestionParams[i]
		}

		var lexicalTop *float64
		var lexicalCandidates []Candidate
		for rank, c := range outcome.lexical {
			confidence := sigmoid.Sigmoid(c.raw)
			if rank == 0 {
				v := confidence
				lexicalTop = &v
			}
			lexicalCandidates = append(lexicalCandidates, Candidate{ParentEvidenceID: c.parentID, Text: c.text})

			match := outcome.matcher.Check(Candidate{ParentEvidenceID: c.parentID, Text: c.text})
			raw := c.raw
			score := confidence
			rows = append(rows, models.RetrievalRow{
				ID:               uuid.New().String(),
				RunID:            run.ID,
				SuiteID:          run.SuiteID,
				QID:              q.QID,
				Method:           models.MethodLexical,
				Rank:             rank + 1,
				ItemID:           c.itemID,
				ParentEvidenceID: c.parentID,
				Score:            &score,
				RawScore:         &raw,
				Match:            match.Matched,
				MatchWhy:         match.Reason,
				PageNumber:       c.pageNumber,
				Snippet:          snippet(c.text),
				CreatedAt:        now,
			})
		}

		var vectorTop *float64
		var vectorCandidates []Candidate
		for rank, c := range outcome.vector {
			if rank == 0 {
				v := c.raw
				vectorTop = &v
			}
			vectorCandidates = append(vectorCandidates, Candidate{ParentEvidenceID: c.parentID, Text: c.text})

			match := outcome.matcher.Check(Candidate{ParentEvidenceID: c.parentID, Text: c.text})
			score := c.raw
			rows = append(rows, models.RetrievalRow{
				ID:               uuid.New().String(),
				RunID:            run.ID,
				SuiteID:          run.SuiteID,
				QID:              q.QID,
				Method:           models.MethodVector,
				Rank:             rank + 1,
				ItemID:           c.itemID,
				ParentEvidenceID: c.parentID,
				Score:            &score,
				Match:            match.Matched,
				MatchWhy:         match.Reason,
				PageNumber:       c.pageNumber,
				Snippet:          snippet(c.text),
				CreatedAt:        now,
			})
		}

		var lexicalBest, vectorBest *int
		if hasGold {
			lexicalBest = outcome.matcher.BestRank(lexicalCandidates)
			vectorBest = outcome.matcher.BestRank(vectorCandidates)
		}

		lexicalMetric := DeriveMethodMetric(lexicalBest, lexicalTop, params.LexicalAnswerThreshold, expectInManual, hasGold)

		var vectorMetric models.MethodMetric
		if outcome.vectorErr != "" {
			vectorMetric = models.MethodMetric{Error: outcome.vectorErr}
		} else {
			vectorMetric = DeriveMethodMetric(vectorBest, vectorTop, params.VectorAnswerThreshold, expectInManual, hasGold)
		}

		questionMetrics = append(questionMetrics, models.QuestionMetric{
			ID:             uuid.New().String(),
			RunID:          run.ID,
			SuiteID:        run.SuiteID,
			QID:            q.QID,
			Intent:         q.Intent,
			Bucket:         q.Bucket,
			Question:       q.Question,
			ExpectInManual: expectInManual,
			GoldParentIDs:  q.Gold.ParentEvidenceIDs,
			Lexical:        lexicalMetric,
			Vector:         vectorMetric,
			CreatedAt:      now,
		})
	}

	return questionMetrics, rows
}

func publishSummaryGauges(summary *models.RunSummary) {
	gauges := []struct {
		method string
		s      models.MethodSummary
	}{
		{models.MethodLexical, summary.Lexical},
		{models.MethodVector, summary.Vector},
	}

	for _, g := range gauges {
		metrics.HitRate.WithLabelValues(g.method, "1").Set(g.s.HitAt1)
		metrics.HitRate.WithLabelValues(g.method, "3").Set(g.s.HitAt3)
		metrics.HitRate.WithLabelValues(g.method, "5").Set(g.s.HitAt5)
		metrics.HitRate.WithLabelValues(g.method, "10").Set(g.s.HitAt10)
		metrics.FalsePositiveAnswers.WithLabelValues(g.method).Set(float64(g.s.FalsePositiveAnswerCount))
	}
}

func snippet(text string) string {
	return truncateRunes(text, snippetMaxLen)
}

// truncateRunes caps s at max bytes, backing up so a multi-byte rune is never
// split.
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
