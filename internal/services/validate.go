package services

import (
	"fmt"

	"searchchat-backend/internal/models"
)

// ValidateRequest normalizes req in place and reports the first problem as an
// ErrInvalidRequest. It never calls a backend.
func ValidateRequest(req *models.TurnRequest) error {
	if req == nil {
		return fmt.Errorf("%w: request body is required", ErrInvalidRequest)
	}
	req.Normalize()
	if req.Question == "" {
		return fmt.Errorf("%w: question is required", ErrInvalidRequest)
	}
	if req.TopK < 0 {
		return fmt.Errorf("%w: top_k must not be negative", ErrInvalidRequest)
	}
	for i, m := range req.MessageHistory {
		if m.Role != models.RoleUser && m.Role != models.RoleModel {
			return fmt.Errorf("%w: message_history[%d] has unknown role %q", ErrInvalidRequest, i, m.Role)
		}
	}
	if c := req.PreviousContext; c != nil {
		for i, p := range c.Passages {
			if p.ID == "" {
				return fmt.Errorf("%w: previous_context.passages[%d] has no id", ErrInvalidRequest, i)
			}
		}
	}
	return nil
}
