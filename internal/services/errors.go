package services

import (
	"errors"

	"searchchat-backend/internal/retrieval"
)

// --- Turn Errors ---

var (
	// ErrInvalidRequest is returned before any backend call for malformed turns.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrRetrievalUnavailable aliases the gateway sentinel so callers only import services.
	ErrRetrievalUnavailable  = retrieval.ErrRetrievalUnavailable
	ErrGenerationUnavailable = errors.New("generation unavailable")
	ErrGenerationEmpty       = errors.New("generation returned an empty answer")
	// ErrSuggestionFailure is logged and counted but never fails a turn.
	ErrSuggestionFailure = errors.New("suggestion generation failed")
)

// Error codes reported on degraded responses.
const (
	CodeRetrievalUnavailable  = "retrieval_unavailable"
	CodeGenerationUnavailable = "generation_unavailable"
	CodeGenerationEmpty       = "generation_empty"
	CodeInternal              = "internal"
)

// DegradedAnswer is the fixed user visible text of a failed turn.
const DegradedAnswer = "Sorry, I couldn't answer that right now. Please try again in a moment."

// TurnError reports a failed turn. It unwraps to the underlying sentinel.
type TurnError struct {
	Code string
	Err  error
}

func (e *TurnError) Error() string {
	return e.Code + ": " + e.Err.Error()
}

func (e *TurnError) Unwrap() error { return e.Err }

// errorCode maps a turn-fatal error to its public code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrRetrievalUnavailable):
		return CodeRetrievalUnavailable
	case errors.Is(err, ErrGenerationEmpty):
		return CodeGenerationEmpty
	case errors.Is(err, ErrGenerationUnavailable):
		return CodeGenerationUnavailable
	default:
		return CodeInternal
	}
}
