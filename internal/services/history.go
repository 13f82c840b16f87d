package services

import (
	"searchchat-backend/internal/models"
	"searchchat-backend/internal/tokens"
)

// MergeHistory returns the effective transcript for this turn. A reused context
// continues the caller's conversation; otherwise the conversation restarts at
// the current question. The caller's slice is never modified.
func MergeHistory(history []models.Message, question string, reused bool) []models.Message {
	current := models.Message{Role: models.RoleUser, Content: question}
	if !reused {
		return []models.Message{current}
	}
	out := make([]models.Message, 0, len(history)+1)
	out = append(out, history...)
	return append(out, current)
}

// TrimHistory drops the oldest messages until the transcript fits budget tokens.
// The last message is always kept. A non-positive budget disables trimming.
func TrimHistory(msgs []models.Message, budget int, counter tokens.Counter) []models.Message {
	if budget <= 0 || counter == nil || len(msgs) <= 1 {
		return msgs
	}
	counts := make([]int, len(msgs))
	total := 0
	for i, m := range msgs {
		counts[i] = counter.Count(m.Content)
		total += counts[i]
	}
	start := 0
	for total > budget && start < len(msgs)-1 {
		total -= counts[start]
		start++
	}
	return msgs[start:]
}
