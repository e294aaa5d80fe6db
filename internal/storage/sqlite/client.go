package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/manual-qa/backend/internal/storage/models"
	"github.com/manual-qa/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS suites (
		id TEXT PRIMARY KEY,
		name TEXT UNIQUE NOT NULL,
		description TEXT,
		spec_json TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS questions (
		id TEXT PRIMARY KEY,
		suite_id TEXT NOT NULL,
		qid TEXT NOT NULL,
		intent TEXT,
		bucket TEXT,
		question TEXT NOT NULL,
		gold_json TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE(suite_id, qid),
		FOREIGN KEY (suite_id) REFERENCES suites(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_questions_suite ON questions(suite_id);

	CREATE TABLE IF NOT EXISTS paragraphs (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		document_name TEXT,
		authority_level TEXT,
		text TEXT NOT NULL,
		page_number INTEGER,
		section_path TEXT,
		chapter_path TEXT,
		paragraph_index INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_paragraphs_document ON paragraphs(document_id);
	CREATE INDEX IF NOT EXISTS idx_paragraphs_authority ON paragraphs(authority_level);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		suite_id TEXT NOT NULL,
		status TEXT NOT NULL,
		params_json TEXT NOT NULL DEFAULT '{}',
		summary_json TEXT,
		error TEXT,
		started_at INTEGER,
		completed_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		FOREIGN KEY (suite_id) REFERENCES suites(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_runs_suite ON runs(suite_id);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);

	CREATE TABLE IF NOT EXISTS run_question_metrics (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		suite_id TEXT NOT NULL,
		qid TEXT NOT NULL,
		intent TEXT,
		bucket TEXT,
		question TEXT,
		expect_in_manual INTEGER NOT NULL DEFAULT 1,
		gold_parent_ids TEXT,
		lexical_gold_rank INTEGER,
		lexical_hit_at_1 INTEGER,
		lexical_hit_at_3 INTEGER,
		lexical_hit_at_5 INTEGER,
		lexical_hit_at_10 INTEGER,
		lexical_top_score REAL,
		lexical_would_answer INTEGER,
		lexical_false_positive INTEGER,
		lexical_false_negative INTEGER,
		vector_gold_rank INTEGER,
		vector_hit_at_1 INTEGER,
		vector_hit_at_3 INTEGER,
		vector_hit_at_5 INTEGER,
		vector_hit_at_10 INTEGER,
		vector_top_score REAL,
		vector_would_answer INTEGER,
		vector_false_positive INTEGER,
		vector_false_negative INTEGER,
		vector_error TEXT,
		created_at INTEGER NOT NULL,
		UNIQUE(run_id, qid),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_metrics_run ON run_question_metrics(run_id);

	CREATE TABLE IF NOT EXISTS run_retrieval_rows (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		suite_id TEXT NOT NULL,
		qid TEXT NOT NULL,
		method TEXT NOT NULL,
		rank INTEGER NOT NULL,
		item_id TEXT NOT NULL,
		parent_evidence_id TEXT,
		score REAL,
		raw_score REAL,
		match INTEGER NOT NULL DEFAULT 0,
		match_why TEXT,
		page_number INTEGER,
		snippet TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_rows_run ON run_retrieval_rows(run_id);
	CREATE INDEX IF NOT EXISTS idx_rows_run_qid ON run_retrieval_rows(run_id, qid, method);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) UpsertSuite(suite *models.Suite) error {
	specJSON, err := json.Marshal(suite.Spec)
	if err != nil {
		return fmt.Errorf("failed to marshal suite spec: %w", err)
	}

	query := `
		INSERT INTO suites (id, name, description, spec_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			description = excluded.description,
			spec_json = excluded.spec_json,
			updated_at = excluded.updated_at
	`

	_, err = c.db.Exec(
		query,
		suite.ID,
		suite.Name,
		suite.Description,
		string(specJSON),
		suite.CreatedAt.Unix(),
		suite.UpdatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to upsert suite: %w", err)
	}

	logger.Debug("Suite upserted", zap.String("suite", suite.Name))
	return nil
}

func (c *Client) GetSuite(id string) (*models.Suite, error) {
	query := `SELECT id, name, description, spec_json, created_at, updated_at FROM suites WHERE id = ?`
	return c.scanSuite(c.db.QueryRow(query, id))
}

func (c *Client) GetSuiteByName(name string) (*models.Suite, error) {
	query := `SELECT id, name, description, spec_json, created_at, updated_at FROM suites WHERE name = ?`
	return c.scanSuite(c.db.QueryRow(query, name))
}

func (c *Client) scanSuite(row *sql.Row) (*models.Suite, error) {
	var suite models.Suite
	var specJSON string
	var createdAt, updatedAt int64

	err := row.Scan(&suite.ID, &suite.Name, &suite.Description, &specJSON, &createdAt, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get suite: %w", err)
	}

	if err := json.Unmarshal([]byte(specJSON), &suite.Spec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal suite spec: %w", err)
	}

	suite.CreatedAt = time.Unix(createdAt, 0)
	suite.UpdatedAt = time.Unix(updatedAt, 0)

	return &suite, nil
}

func (c *Client) ListSuites() ([]models.Suite, error) {
	query := `SELECT id, name, description, spec_json, created_at, updated_at FROM suites ORDER BY name`

	rows, err := c.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list suites: %w", err)
	}
	defer rows.Close()

	var suites []models.Suite
	for rows.Next() {
		var s models.Suite
		var specJSON string
		var createdAt, updatedAt int64

		err := rows.Scan(&s.ID, &s.Name, &s.Description, &specJSON, &createdAt, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		if err := json.Unmarshal([]byte(specJSON), &s.Spec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal suite spec: %w", err)
		}

		s.CreatedAt = time.Unix(createdAt, 0)
		s.UpdatedAt = time.Unix(updatedAt, 0)
		suites = append(suites, s)
	}

	return suites, nil
}

// ReplaceSuiteQuestions swaps a suite's question set in one transaction so a
// partially applied import never leaves a mixed question set behind.
func (c *Client) ReplaceSuiteQuestions(suiteID string, questions []models.Question) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM questions WHERE suite_id = ?`, suiteID); err != nil {
		return fmt.Errorf("failed to clear questions: %w", err)
	}

	insert := `
		INSERT INTO questions (id, suite_id, qid, intent, bucket, question, gold_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	for _, q := range questions {
		goldJSON, err := json.Marshal(q.Gold)
		if err != nil {
			return fmt.Errorf("failed to marshal gold spec: %w", err)
		}

		_, err = tx.Exec(
			insert,
			q.ID,
			suiteID,
			q.QID,
			q.Intent,
			q.Bucket,
			q.Question,
			string(goldJSON),
			q.CreatedAt.Unix(),
			q.UpdatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert question %s: %w", q.QID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit questions: %w", err)
	}

	logger.Info("Suite questions replaced",
		zap.String("suite_id", suiteID),
		zap.Int("count", len(questions)),
	)

	return nil
}

func (c *Client) GetQuestions(suiteID string) ([]models.Question, error) {
	query := `
		SELECT id, suite_id, qid, intent, bucket, question, gold_json, created_at, updated_at
		FROM questions
		WHERE suite_id = ?
		ORDER BY qid
	`

	rows, err := c.db.Query(query, suiteID)
	if err != nil {
		return nil, fmt.Errorf("failed to get questions: %w", err)
	}
	defer rows.Close()

	var questions []models.Question
	for rows.Next() {
		var q models.Question
		var goldJSON string
		var createdAt, updatedAt int64

		err := rows.Scan(&q.ID, &q.SuiteID, &q.QID, &q.Intent, &q.Bucket, &q.Question, &goldJSON, &createdAt, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		if err := json.Unmarshal([]byte(goldJSON), &q.Gold); err != nil {
			return nil, fmt.Errorf("failed to unmarshal gold spec for %s: %w", q.QID, err)
		}

		q.CreatedAt = time.Unix(createdAt, 0)
		q.UpdatedAt = time.Unix(updatedAt, 0)
		questions = append(questions, q)
	}

	return questions, nil
}

func (c *Client) InsertParagraphs(paragraphs []models.Paragraph) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	insert := `
		INSERT INTO paragraphs (id, document_id, document_name, authority_level, text,
			page_number, section_path, chapter_path, paragraph_index, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			page_number = excluded.page_number,
			section_path = excluded.section_path,
			chapter_path = excluded.chapter_path
	`

	for _, p := range paragraphs {
		_, err := tx.Exec(
			insert,
			p.ID,
			p.DocumentID,
			p.DocumentName,
			p.AuthorityLevel,
			p.Text,
			p.PageNumber,
			p.SectionPath,
			p.ChapterPath,
			p.ParagraphIndex,
			p.CreatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert paragraph %s: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit paragraphs: %w", err)
	}

	return nil
}

// GetParagraphs returns the corpus scope for a run. Empty documentIDs and
// authorityLevel mean no filtering on that axis.
func (c *Client) GetParagraphs(documentIDs []string, authorityLevel string) ([]models.Paragraph, error) {
	query := `
		SELECT id, document_id, document_name, authority_level, text,
			page_number, section_path, chapter_path, paragraph_index, created_at
		FROM paragraphs
	`

	var conditions []string
	var args []interface{}

	if len(documentIDs) > 0 {
		placeholders := ""
		for i, id := range documentIDs {
			if i > 0 {
				placeholders += ", "
			}
			placeholders += "?"
			args = append(args, id)
		}
		conditions = append(conditions, "document_id IN ("+placeholders+")")
	}

	if authorityLevel != "" {
		conditions = append(conditions, "authority_level = ?")
		args = append(args, authorityLevel)
	}

	for i, cond := range conditions {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += " ORDER BY document_id, paragraph_index"

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get paragraphs: %w", err)
	}
	defer rows.Close()

	var paragraphs []models.Paragraph
	for rows.Next() {
		var p models.Paragraph
		var createdAt int64

		err := rows.Scan(&p.ID, &p.DocumentID, &p.DocumentName, &p.AuthorityLevel, &p.Text,
			&p.PageNumber, &p.SectionPath, &p.ChapterPath, &p.ParagraphIndex, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		p.CreatedAt = time.Unix(createdAt, 0)
		paragraphs = append(paragraphs, p)
	}

	return paragraphs, nil
}

func (c *Client) GetParagraph(id string) (*models.Paragraph, error) {
	query := `
		SELECT id, document_id, document_name, authority_level, text,
			page_number, section_path, chapter_path, paragraph_index, created_at
		FROM paragraphs
		WHERE id = ?
	`

	var p models.Paragraph
	var createdAt int64

	err := c.db.QueryRow(query, id).Scan(&p.ID, &p.DocumentID, &p.DocumentName, &p.AuthorityLevel,
		&p.Text, &p.PageNumber, &p.SectionPath, &p.ChapterPath, &p.ParagraphIndex, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get paragraph: %w", err)
	}

	p.CreatedAt = time.Unix(createdAt, 0)
	return &p, nil
}

func (c *Client) ListDocuments() ([]models.DocumentInfo, error) {
	query := `
		SELECT document_id, MAX(document_name), MAX(authority_level), COUNT(*), MAX(created_at)
		FROM paragraphs
		GROUP BY document_id
		ORDER BY document_id
	`

	rows, err := c.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []models.DocumentInfo
	for rows.Next() {
		var d models.DocumentInfo
		var updatedAt int64

		err := rows.Scan(&d.DocumentID, &d.DocumentName, &d.AuthorityLevel, &d.ParagraphRows, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		d.UpdatedAt = time.Unix(updatedAt, 0)
		docs = append(docs, d)
	}

	return docs, nil
}

func (c *Client) DeleteDocument(documentID string) (int64, error) {
	result, err := c.db.Exec(`DELETE FROM paragraphs WHERE document_id = ?`, documentID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete document: %w", err)
	}

	deleted, _ := result.RowsAffected()
	logger.Info("Document deleted", zap.String("document_id", documentID), zap.Int64("paragraphs", deleted))
	return deleted, nil
}

func (c *Client) InsertRun(run *models.Run) error {
	paramsJSON, err := json.Marshal(run.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal run params: %w", err)
	}

	query := `
		INSERT INTO runs (id, suite_id, status, params_json, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = c.db.Exec(
		query,
		run.ID,
		run.SuiteID,
		run.Status,
		string(paramsJSON),
		run.Error,
		run.CreatedAt.Unix(),
		run.UpdatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	logger.Info("Run created",
		zap.String("run_id", run.ID),
		zap.String("suite_id", run.SuiteID),
		zap.String("status", run.Status),
	)

	return nil
}

func (c *Client) GetRun(id string) (*models.Run, error) {
	query := `
		SELECT id, suite_id, status, params_json, summary_json, error,
			started_at, completed_at, created_at, updated_at
		FROM runs
		WHERE id = ?
	`

	var run models.Run
	var paramsJSON string
	var summaryJSON, errMsg *string
	var startedAt, completedAt *int64
	var createdAt, updatedAt int64

	err := c.db.QueryRow(query, id).Scan(&run.ID, &run.SuiteID, &run.Status, &paramsJSON,
		&summaryJSON, &errMsg, &startedAt, &completedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	if err := json.Unmarshal([]byte(paramsJSON), &run.Params); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run params: %w", err)
	}
	if summaryJSON != nil && *summaryJSON != "" {
		var summary models.RunSummary
		if err := json.Unmarshal([]byte(*summaryJSON), &summary); err != nil {
			return nil, fmt.Errorf("failed to unmarshal run summary: %w", err)
		}
		run.Summary = &summary
	}
	if errMsg != nil {
		run.Error = *errMsg
	}
	if startedAt != nil {
		t := time.Unix(*startedAt, 0)
		run.StartedAt = &t
	}
	if completedAt != nil {
		t := time.Unix(*completedAt, 0)
		run.CompletedAt = &t
	}

	run.CreatedAt = time.Unix(createdAt, 0)
	run.UpdatedAt = time.Unix(updatedAt, 0)

	return &run, nil
}

func (c *Client) ListRuns(suiteID string, limit int) ([]models.Run, error) {
	query := `SELECT id FROM runs`
	var args []interface{}

	if suiteID != "" {
		query += ` WHERE suite_id = ?`
		args = append(args, suiteID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()

	var runs []models.Run
	for _, id := range ids {
		run, err := c.GetRun(id)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}

	return runs, nil
}

// MarkRunRunning transitions a queued run to running and stamps its start time.
func (c *Client) MarkRunRunning(id string) error {
	now := time.Now().Unix()
	_, err := c.db.Exec(
		`UPDATE runs SET status = ?, started_at = ?, updated_at = ? WHERE id = ?`,
		models.RunStatusRunning, now, now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark run running: %w", err)
	}
	return nil
}

func (c *Client) MarkRunCompleted(id string, summary *models.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal run summary: %w", err)
	}

	now := time.Now().Unix()
	_, err = c.db.Exec(
		`UPDATE runs SET status = ?, summary_json = ?, error = '', completed_at = ?, updated_at = ? WHERE id = ?`,
		models.RunStatusCompleted, string(summaryJSON), now, now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark run completed: %w", err)
	}

	logger.Info("Run completed", zap.String("run_id", id))
	return nil
}

func (c *Client) MarkRunFailed(id string, runErr string) error {
	now := time.Now().Unix()
	_, err := c.db.Exec(
		`UPDATE runs SET status = ?, error = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		models.RunStatusFailed, runErr, now, now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark run failed: %w", err)
	}

	logger.Warn("Run failed", zap.String("run_id", id), zap.String("error", runErr))
	return nil
}

// ReplaceRunOutputs deletes any prior rows and metrics for the run and inserts
// the new set in one transaction. Re-executing a run therefore converges to a
// single consistent output set instead of accumulating duplicates.
func (c *Client) ReplaceRunOutputs(runID string, metrics []models.QuestionMetric, rows []models.RetrievalRow) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM run_retrieval_rows WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("failed to clear retrieval rows: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM run_question_metrics WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("failed to clear question metrics: %w", err)
	}

	metricInsert := `
		INSERT INTO run_question_metrics (id, run_id, suite_id, qid, intent, bucket, question,
			expect_in_manual, gold_parent_ids,
			lexical_gold_rank, lexical_hit_at_1, lexical_hit_at_3, lexical_hit_at_5, lexical_hit_at_10,
			lexical_top_score, lexical_would_answer, lexical_false_positive, lexical_false_negative,
			vector_gold_rank, vector_hit_at_1, vector_hit_at_3, vector_hit_at_5, vector_hit_at_10,
			vector_top_score, vector_would_answer, vector_false_positive, vector_false_negative, vector_error,
			created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	for _, m := range metrics {
		parentIDs, err := json.Marshal(m.GoldParentIDs)
		if err != nil {
			return fmt.Errorf("failed to marshal gold parent ids: %w", err)
		}

		_, err = tx.Exec(
			metricInsert,
			m.ID, m.RunID, m.SuiteID, m.QID, m.Intent, m.Bucket, m.Question,
			boolToInt(m.ExpectInManual), string(parentIDs),
			m.Lexical.GoldRank, boolPtrToInt(m.Lexical.HitAt1), boolPtrToInt(m.Lexical.HitAt3),
			boolPtrToInt(m.Lexical.HitAt5), boolPtrToInt(m.Lexical.HitAt10),
			m.Lexical.TopScore, boolPtrToInt(m.Lexical.WouldAnswer), boolPtrToInt(m.Lexical.FalsePositiveAnswer),
			boolPtrToInt(m.Lexical.FalseNegativeAbstain),
			m.Vector.GoldRank, boolPtrToInt(m.Vector.HitAt1), boolPtrToInt(m.Vector.HitAt3),
			boolPtrToInt(m.Vector.HitAt5), boolPtrToInt(m.Vector.HitAt10),
			m.Vector.TopScore, boolPtrToInt(m.Vector.WouldAnswer), boolPtrToInt(m.Vector.FalsePositiveAnswer),
			boolPtrToInt(m.Vector.FalseNegativeAbstain), m.Vector.Error,
			m.CreatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert question metric %s: %w", m.QID, err)
		}
	}

	rowInsert := `
		INSERT INTO run_retrieval_rows (id, run_id, suite_id, qid, method, rank, item_id,
			parent_evidence_id, score, raw_score, match, match_why, page_number, snippet, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	for _, r := range rows {
		_, err := tx.Exec(
			rowInsert,
			r.ID, r.RunID, r.SuiteID, r.QID, r.Method, r.Rank, r.ItemID,
			r.ParentEvidenceID, r.Score, r.RawScore, boolToInt(r.Match), r.MatchWhy,
			r.PageNumber, r.Snippet, r.CreatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert retrieval row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run outputs: %w", err)
	}

	logger.Info("Run outputs stored",
		zap.String("run_id", runID),
		zap.Int("metrics", len(metrics)),
		zap.Int("rows", len(rows)),
	)

	return nil
}

func (c *Client) GetRunMetrics(runID string) ([]models.QuestionMetric, error) {
	query := `
		SELECT id, run_id, suite_id, qid, intent, bucket, question,
			expect_in_manual, gold_parent_ids,
			lexical_gold_rank, lexical_hit_at_1, lexical_hit_at_3, lexical_hit_at_5, lexical_hit_at_10,
			lexical_top_score, lexical_would_answer, lexical_false_positive, lexical_false_negative,
			vector_gold_rank, vector_hit_at_1, vector_hit_at_3, vector_hit_at_5, vector_hit_at_10,
			vector_top_score, vector_would_answer, vector_false_positive, vector_false_negative, vector_error,
			created_at
		FROM run_question_metrics
		WHERE run_id = ?
		ORDER BY qid
	`

	rows, err := c.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run metrics: %w", err)
	}
	defer rows.Close()

	var metrics []models.QuestionMetric
	for rows.Next() {
		var m models.QuestionMetric
		var expectInManual int
		var parentIDs string
		var lexHit1, lexHit3, lexHit5, lexHit10, lexWould, lexFP, lexFN *int
		var vecHit1, vecHit3, vecHit5, vecHit10, vecWould, vecFP, vecFN *int
		var vecErr *string
		var createdAt int64

		err := rows.Scan(&m.ID, &m.RunID, &m.SuiteID, &m.QID, &m.Intent, &m.Bucket, &m.Question,
			&expectInManual, &parentIDs,
			&m.Lexical.GoldRank, &lexHit1, &lexHit3, &lexHit5, &lexHit10,
			&m.Lexical.TopScore, &lexWould, &lexFP, &lexFN,
			&m.Vector.GoldRank, &vecHit1, &vecHit3, &vecHit5, &vecHit10,
			&m.Vector.TopScore, &vecWould, &vecFP, &vecFN, &vecErr,
			&createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		m.ExpectInManual = expectInManual != 0
		if parentIDs != "" {
			if err := json.Unmarshal([]byte(parentIDs), &m.GoldParentIDs); err != nil {
				return nil, fmt.Errorf("failed to unmarshal gold parent ids: %w", err)
			}
		}
		m.Lexical.HitAt1 = intPtrToBool(lexHit1)
		m.Lexical.HitAt3 = intPtrToBool(lexHit3)
		m.Lexical.HitAt5 = intPtrToBool(lexHit5)
		m.Lexical.HitAt10 = intPtrToBool(lexHit10)
		m.Lexical.WouldAnswer = intPtrToBool(lexWould)
		m.Lexical.FalsePositiveAnswer = intPtrToBool(lexFP)
		m.Lexical.FalseNegativeAbstain = intPtrToBool(lexFN)
		m.Vector.HitAt1 = intPtrToBool(vecHit1)
		m.Vector.HitAt3 = intPtrToBool(vecHit3)
		m.Vector.HitAt5 = intPtrToBool(vecHit5)
		m.Vector.HitAt10 = intPtrToBool(vecHit10)
		m.Vector.WouldAnswer = intPtrToBool(vecWould)
		m.Vector.FalsePositiveAnswer = intPtrToBool(vecFP)
		m.Vector.FalseNegativeAbstain = intPtrToBool(vecFN)
		if vecErr != nil {
			m.Vector.Error = *vecErr
		}
		m.CreatedAt = time.Unix(createdAt, 0)

		metrics = append(metrics, m)
	}

	return metrics, nil
}

// GetRetrievalRows filters by qid and method when non-empty.
func (c *Client) GetRetrievalRows(runID, qid, method string) ([]models.RetrievalRow, error) {
	query := `
		SELECT id, run_id, suite_id, qid, method, rank, item_id, parent_evidence_id,
			score, raw_score, match, match_why, page_number, snippet, created_at
		FROM run_retrieval_rows
		WHERE run_id = ?
	`
	args := []interface{}{runID}

	if qid != "" {
		query += ` AND qid = ?`
		args = append(args, qid)
	}
	if method != "" {
		query += ` AND method = ?`
		args = append(args, method)
	}
	query += ` ORDER BY qid, method, rank`

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get retrieval rows: %w", err)
	}
	defer rows.Close()

	var results []models.RetrievalRow
	for rows.Next() {
		var r models.RetrievalRow
		var match int
		var createdAt int64

		err := rows.Scan(&r.ID, &r.RunID, &r.SuiteID, &r.QID, &r.Method, &r.Rank, &r.ItemID,
			&r.ParentEvidenceID, &r.Score, &r.RawScore, &match, &r.MatchWhy,
			&r.PageNumber, &r.Snippet, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.Match = match != 0
		r.CreatedAt = time.Unix(createdAt, 0)
		results = append(results, r)
	}

	return results, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func boolPtrToInt(b *bool) *int {
	if b == nil {
		return nil
	}
	v := 0
	if *b {
		v = 1
	}
	return &v
}

func intPtrToBool(i *int) *bool {
	if i == nil {
		return nil
	}
	v := *i != 0
	return &v
}
