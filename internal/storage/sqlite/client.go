package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/lexpredict/backend/internal/storage/models"
	"github.com/lexpredict/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
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
	CREATE TABLE IF NOT EXISTS corpus_cases (
		row_idx INTEGER PRIMARY KEY,
		case_name TEXT,
		clean_text TEXT NOT NULL,
		winlose TEXT NOT NULL,
		outcome TEXT,
		court TEXT,
		date_filed TEXT,
		docket_id TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_corpus_winlose ON corpus_cases(winlose);

	CREATE TABLE IF NOT EXISTS prediction_history (
		id TEXT PRIMARY KEY,
		text_length INTEGER NOT NULL,
		label TEXT NOT NULL,
		raw_confidence REAL,
		probability REAL,
		uncertain INTEGER DEFAULT 0,
		judgment TEXT,
		fact_count INTEGER,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_prediction_created ON prediction_history(created_at);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	logger.Info("Database schema initialized")
	return nil
}

// LoadCorpus returns every corpus case ordered by row_idx. The order is the
// contract that binds the metadata table to the embedding matrix.
func (c *Client) LoadCorpus() ([]models.CorpusRecord, error) {
	rows, err := c.db.Query(`
		SELECT row_idx,
		       COALESCE(case_name, ''),
		       clean_text,
		       winlose,
		       COALESCE(outcome, ''),
		       COALESCE(court, ''),
		       COALESCE(date_filed, ''),
		       COALESCE(docket_id, '')
		FROM corpus_cases
		ORDER BY row_idx ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query corpus: %w", err)
	}
	defer rows.Close()

	var records []models.CorpusRecord
	for rows.Next() {
		var r models.CorpusRecord
		if err := rows.Scan(&r.RowIdx, &r.CaseName, &r.CleanText, &r.WinLose,
			&r.Outcome, &r.Court, &r.DateFiled, &r.DocketID); err != nil {
			return nil, fmt.Errorf("failed to scan corpus row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate corpus rows: %w", err)
	}

	return records, nil
}

func (c *Client) InsertCorpusRecord(r *models.CorpusRecord) error {
	_, err := c.db.Exec(`
		INSERT OR REPLACE INTO corpus_cases
		(row_idx, case_name, clean_text, winlose, outcome, court, date_filed, docket_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RowIdx, nullable(r.CaseName), r.CleanText, r.WinLose,
		nullable(r.Outcome), nullable(r.Court), nullable(r.DateFiled), nullable(r.DocketID))
	if err != nil {
		return fmt.Errorf("failed to insert corpus record: %w", err)
	}
	return nil
}

func (c *Client) CountCorpus() (int, error) {
	var count int
	if err := c.db.QueryRow("SELECT COUNT(*) FROM corpus_cases").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count corpus: %w", err)
	}
	return count, nil
}

func (c *Client) InsertPrediction(r *models.PredictionRecord) error {
	uncertain := 0
	if r.Uncertain {
		uncertain = 1
	}

	_, err := c.db.Exec(`
		INSERT INTO prediction_history
		(id, text_length, label, raw_confidence, probability, uncertain, judgment, fact_count, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TextLength, r.Label, r.RawConfidence, r.Probability,
		uncertain, r.Judgment, r.FactCount, r.LatencyMS, r.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert prediction record: %w", err)
	}
	return nil
}

func (c *Client) GetRecentPredictions(limit int) ([]models.PredictionRecord, error) {
	rows, err := c.db.Query(`
		SELECT id, text_length, label, raw_confidence, probability, uncertain,
		       COALESCE(judgment, ''), fact_count, latency_ms, created_at
		FROM prediction_history
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query prediction history: %w", err)
	}
	defer rows.Close()

	var records []models.PredictionRecord
	for rows.Next() {
		var r models.PredictionRecord
		var uncertain int
		var createdAt int64
		if err := rows.Scan(&r.ID, &r.TextLength, &r.Label, &r.RawConfidence,
			&r.Probability, &uncertain, &r.Judgment, &r.FactCount,
			&r.LatencyMS, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan prediction row: %w", err)
		}
		r.Uncertain = uncertain != 0
		r.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate prediction rows: %w", err)
	}

	return records, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
