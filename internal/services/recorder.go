package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"searchchat-backend/internal/models"
	"searchchat-backend/internal/store"
)

// TurnRecorder receives the audit record of every finished turn. Recording is
// best-effort and must not block or fail the turn.
type TurnRecorder interface {
	Record(ctx context.Context, entry *models.TurnLog)
}

// LogRecorder writes turn records to the structured log.
type LogRecorder struct {
	logger *zap.Logger
}

func NewLogRecorder(logger *zap.Logger) *LogRecorder {
	return &LogRecorder{logger: logger.Named("turns")}
}

func (r *LogRecorder) Record(_ context.Context, entry *models.TurnLog) {
	r.logger.Info("Turn finished", turnLogFields(entry)...)
}

// StoreRecorder persists turn records asynchronously, detached from the request.
type StoreRecorder struct {
	store   store.Store
	timeout time.Duration
	logger  *zap.Logger
	wg      sync.WaitGroup
}

func NewStoreRecorder(s store.Store, timeout time.Duration, logger *zap.Logger) *StoreRecorder {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &StoreRecorder{store: s, timeout: timeout, logger: logger.Named("turns")}
}

func (r *StoreRecorder) Record(ctx context.Context, entry *models.TurnLog) {
	r.logger.Info("Turn finished", turnLogFields(entry)...)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		if err := r.store.CreateTurnLog(ctx, entry); err != nil {
			r.logger.Error("Failed to persist turn log", zap.String("request_id", entry.ID.String()), zap.Error(err))
		}
	}()
}

// Close waits for pending writes.
func (r *StoreRecorder) Close() {
	r.wg.Wait()
}

func turnLogFields(entry *models.TurnLog) []zap.Field {
	fields := []zap.Field{
		zap.String("request_id", entry.ID.String()),
		zap.String("final_state", entry.FinalState),
		zap.Bool("follow_up", entry.IsFollowUp),
		zap.Bool("context_reused", entry.ContextReused),
		zap.String("reason", entry.DecisionReason),
		zap.Float64("relevance_score", entry.RelevanceScore),
		zap.Strings("passage_ids", entry.PassageIDs),
		zap.Int("history_length", entry.HistoryLength),
		zap.Int("answer_chars", entry.AnswerChars),
		zap.Int("suggestions", entry.SuggestionCount),
		zap.Int64("processing_time_ms", entry.ProcessingTimeMs),
	}
	if entry.Subject != "" {
		fields = append(fields, zap.String("subject", entry.Subject))
	}
	if entry.ErrorCode != "" {
		fields = append(fields, zap.String("error_code", entry.ErrorCode), zap.String("error", entry.ErrorMessage))
	}
	return fields
}
