package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"searchchat-backend/internal/models"
)

// ErrNotFound is returned when a specific record is not found.
var ErrNotFound = errors.New("record not found")

// Store defines the interface for turn log persistence.
// This allows for mocking in tests and potential DB backend switching.
type Store interface {
	CreateTurnLog(ctx context.Context, entry *models.TurnLog) error
	GetTurnLog(ctx context.Context, id uuid.UUID) (*models.TurnLog, error)
	ListTurnLogs(ctx context.Context, subject string, limit int) ([]models.TurnLog, error)
	Ping(ctx context.Context) error
}
