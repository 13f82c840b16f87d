package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"searchchat-backend/internal/models"
	"searchchat-backend/internal/store"
)

// Compile-time check to ensure PostgresStore implements store.Store
var _ store.Store = (*PostgresStore)(nil)

const turnLogColumns = `id, subject, question, cleaned_query, is_follow_up, context_reused, decision_reason,
	relevance_score, passage_ids, history_length, answer_chars, suggestion_count, final_state,
	error_code, error_message, processing_time_ms, created_at`

const createTurnLogsTable = `
CREATE TABLE IF NOT EXISTS turn_logs (
	id                 UUID PRIMARY KEY,
	subject            TEXT NOT NULL DEFAULT '',
	question           TEXT NOT NULL,
	cleaned_query      TEXT NOT NULL DEFAULT '',
	is_follow_up       BOOLEAN NOT NULL,
	context_reused     BOOLEAN NOT NULL,
	decision_reason    TEXT NOT NULL,
	relevance_score    DOUBLE PRECISION NOT NULL DEFAULT 0,
	passage_ids        TEXT[] NOT NULL DEFAULT '{}',
	history_length     INTEGER NOT NULL DEFAULT 0,
	answer_chars       INTEGER NOT NULL DEFAULT 0,
	suggestion_count   INTEGER NOT NULL DEFAULT 0,
	final_state        TEXT NOT NULL,
	error_code         TEXT NOT NULL DEFAULT '',
	error_message      TEXT NOT NULL DEFAULT '',
	processing_time_ms BIGINT NOT NULL DEFAULT 0,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const createTurnLogsSubjectIndex = `
CREATE INDEX IF NOT EXISTS turn_logs_subject_created_at_idx ON turn_logs (subject, created_at DESC)`

// An empty subject lists every caller's turns.
const listTurnLogsQuery = `SELECT ` + turnLogColumns + ` FROM turn_logs
	WHERE ($1 = '' OR subject = $1)
	ORDER BY created_at DESC
	LIMIT $2`

type PostgresStore struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgresStore(db *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger.Named("postgres")}
}

// EnsureSchema creates the turn log table if it is missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createTurnLogsTable); err != nil {
		return fmt.Errorf("database error creating turn_logs: %w", err)
	}
	if _, err := s.db.Exec(ctx, createTurnLogsSubjectIndex); err != nil {
		return fmt.Errorf("database error creating turn_logs index: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// CreateTurnLog inserts a new turn log record.
func (s *PostgresStore) CreateTurnLog(ctx context.Context, entry *models.TurnLog) error {
	query := `INSERT INTO turn_logs (` + turnLogColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	passageIDs := entry.PassageIDs
	if passageIDs == nil {
		passageIDs = []string{}
	}
	_, err := s.db.Exec(ctx, query,
		entry.ID,
		entry.Subject,
		entry.Question,
		entry.CleanedQuery,
		entry.IsFollowUp,
		entry.ContextReused,
		entry.DecisionReason,
		entry.RelevanceScore,
		passageIDs,
		entry.HistoryLength,
		entry.AnswerChars,
		entry.SuggestionCount,
		entry.FinalState,
		entry.ErrorCode,
		entry.ErrorMessage,
		entry.ProcessingTimeMs,
		entry.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			s.logger.Error("CreateTurnLog: insert failed",
				zap.Stringer("turn_id", entry.ID),
				zap.String("code", pgErr.Code),
				zap.String("message", pgErr.Message),
				zap.String("detail", pgErr.Detail))
		} else {
			s.logger.Error("CreateTurnLog: insert failed", zap.Stringer("turn_id", entry.ID), zap.Error(err))
		}
		return fmt.Errorf("database error creating turn log: %w", err)
	}
	return nil
}

// GetTurnLog retrieves a turn log by id.
// Returns store.ErrNotFound if the record does not exist.
func (s *PostgresStore) GetTurnLog(ctx context.Context, id uuid.UUID) (*models.TurnLog, error) {
	query := `SELECT ` + turnLogColumns + ` FROM turn_logs WHERE id = $1`

	entry, err := scanTurnLog(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		s.logger.Error("GetTurnLog: query failed", zap.Stringer("turn_id", id), zap.Error(err))
		return nil, fmt.Errorf("database error fetching turn log: %w", err)
	}
	return entry, nil
}

// ListTurnLogs returns the most recent turn logs of subject, newest first.
// The subject filter is applied before the limit.
func (s *PostgresStore) ListTurnLogs(ctx context.Context, subject string, limit int) ([]models.TurnLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	rows, err := s.db.Query(ctx, listTurnLogsQuery, subject, limit)
	if err != nil {
		return nil, fmt.Errorf("database error listing turn logs: %w", err)
	}
	defer rows.Close()

	var out []models.TurnLog
	for rows.Next() {
		entry, err := scanTurnLog(rows)
		if err != nil {
			return nil, fmt.Errorf("database error scanning turn log: %w", err)
		}
		out = append(out, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database error iterating turn logs: %w", err)
	}
	return out, nil
}

func scanTurnLog(row pgx.Row) (*models.TurnLog, error) {
	entry := &models.TurnLog{}
	err := row.Scan(
		&entry.ID,
		&entry.Subject,
		&entry.Question,
		&entry.CleanedQuery,
		&entry.IsFollowUp,
		&entry.ContextReused,
		&entry.DecisionReason,
		&entry.RelevanceScore,
		&entry.PassageIDs,
		&entry.HistoryLength,
		&entry.AnswerChars,
		&entry.SuggestionCount,
		&entry.FinalState,
		&entry.ErrorCode,
		&entry.ErrorMessage,
		&entry.ProcessingTimeMs,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return entry, nil
}
