// Package db persists an audit log of answered questions in Postgres.
// The log is write-only from the pipeline's point of view and never used for retrieval.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"policy-rag/internal/config"
	"policy-rag/internal/models"
)

const (
	DriverPG = "pgdriver"
	DriverPQ = "pq"
)

const DefaultHistoryLimit = 20

type AnswerLog struct {
	bun.BaseModel    `bun:"table:answer_logs,alias:al"`
	ID               int64     `bun:"id,pk,autoincrement"`
	BatchID          string    `bun:"batch_id,notnull"`
	DocumentRef      string    `bun:"document_ref,notnull"`
	QuestionIndex    int       `bun:"question_index,notnull"`
	Question         string    `bun:"question,notnull"`
	Answer           string    `bun:"answer"`
	Confidence       float64   `bun:"confidence"`
	SourceChunkIDs   []int64   `bun:"source_chunk_ids,array"`
	ErrorKind        string    `bun:"error_kind"`
	ErrorMessage     string    `bun:"error_message"`
	ProcessingTime   float64   `bun:"processing_time"`
	PromptTokens     int       `bun:"prompt_tokens"`
	CompletionTokens int       `bun:"completion_tokens"`
	CreatedAt        time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens the database with pgdriver, or lib/pq when the driver is "pq"
func ConnectDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%w: database dsn is empty", models.ErrInvalidInput)
	}
	switch cfg.Driver {
	case DriverPQ:
		return sql.Open("postgres", cfg.DSN)
	case DriverPG, "":
		opts := []pgdriver.Option{pgdriver.WithDSN(cfg.DSN)}
		if cfg.Password != "" {
			opts = append(opts, pgdriver.WithPassword(cfg.Password))
		}
		return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
	default:
		return nil, fmt.Errorf("%w: unknown database driver %q", models.ErrInvalidInput, cfg.Driver)
	}
}

func InitDB(ctx context.Context, db *bun.DB) error {
	_, err := db.NewCreateTable().Model((*AnswerLog)(nil)).IfNotExists().Exec(ctx)
	return err
}

// Store records finished batches
type Store struct {
	db *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

// Open connects, creates the table if needed and returns the store
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	sqldb, err := ConnectDB(cfg)
	if err != nil {
		return nil, err
	}
	bdb := NewDB(sqldb, cfg.Debug)
	if err := bdb.PingContext(ctx); err != nil {
		bdb.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	if err := InitDB(ctx, bdb); err != nil {
		bdb.Close()
		return nil, fmt.Errorf("failed to create answer_logs: %w", err)
	}
	return NewStore(bdb), nil
}

// Record inserts one row per question of the batch
func (s *Store) Record(ctx context.Context, batch *models.BatchResult) error {
	rows := RowsFor(batch)
	if len(rows) == 0 {
		return nil
	}
	_, err := s.db.NewInsert().Model(&rows).Exec(ctx)
	return err
}

// Recent returns the latest log rows for a document, newest first
func (s *Store) Recent(ctx context.Context, documentRef string, limit int) ([]AnswerLog, error) {
	var rows []AnswerLog
	err := s.recentQuery(&rows, documentRef, limit).Scan(ctx)
	return rows, err
}

func (s *Store) recentQuery(rows *[]AnswerLog, documentRef string, limit int) *bun.SelectQuery {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return s.db.NewSelect().
		Model(rows).
		Where("document_ref = ?", documentRef).
		OrderExpr("created_at DESC, id DESC").
		Limit(limit)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RowsFor flattens a batch into log rows
func RowsFor(batch *models.BatchResult) []AnswerLog {
	if batch == nil {
		return nil
	}
	rows := make([]AnswerLog, 0, len(batch.Results))
	for _, r := range batch.Results {
		row := AnswerLog{
			BatchID:       batch.ID,
			DocumentRef:   batch.DocumentRef,
			QuestionIndex: r.Index,
			Question:      r.Question,
		}
		if r.Answer != nil {
			row.Answer = r.Answer.Text
			row.Confidence = r.Answer.Confidence
			row.ProcessingTime = r.Answer.ProcessingTime
			row.PromptTokens = r.Answer.TokenUsage.PromptTokens
			row.CompletionTokens = r.Answer.TokenUsage.CompletionTokens
			row.SourceChunkIDs = make([]int64, len(r.Answer.SourceChunkIDs))
			for i, id := range r.Answer.SourceChunkIDs {
				row.SourceChunkIDs[i] = int64(id)
			}
		}
		if r.Error != nil {
			row.ErrorKind = r.Error.Kind
			row.ErrorMessage = r.Error.Message
		}
		rows = append(rows, row)
	}
	return rows
}
