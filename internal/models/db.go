package models

import (
	"time"

	"github.com/google/uuid"
)

// TurnLog is the audit record written after every turn.
type TurnLog struct {
	ID               uuid.UUID `db:"id" json:"id"`
	Subject          string    `db:"subject" json:"subject"` // JWT subject when auth is enabled
	Question         string    `db:"question" json:"question"`
	CleanedQuery     string    `db:"cleaned_query" json:"cleaned_query"`
	IsFollowUp       bool      `db:"is_follow_up" json:"is_follow_up"`
	ContextReused    bool      `db:"context_reused" json:"context_reused"`
	DecisionReason   string    `db:"decision_reason" json:"decision_reason"`
	RelevanceScore   float64   `db:"relevance_score" json:"relevance_score"` // 0 when not computed
	PassageIDs       []string  `db:"passage_ids" json:"passage_ids"`
	HistoryLength    int       `db:"history_length" json:"history_length"`
	AnswerChars      int       `db:"answer_chars" json:"answer_chars"`
	SuggestionCount  int       `db:"suggestion_count" json:"suggestion_count"`
	FinalState       string    `db:"final_state" json:"final_state"`
	ErrorCode        string    `db:"error_code" json:"error_code"`
	ErrorMessage     string    `db:"error_message" json:"error_message"`
	ProcessingTimeMs int64     `db:"processing_time_ms" json:"processing_time_ms"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}
