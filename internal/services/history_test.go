package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"searchchat-backend/internal/models"
	"searchchat-backend/internal/tokens"
)

func TestMergeHistory(t *testing.T) {
	history := []models.Message{
		{Role: models.RoleModel, Content: "Hello! How can I help?"},
		{Role: models.RoleUser, Content: "What is the refund policy?"},
		{Role: models.RoleModel, Content: "14 days."},
	}
	snapshot := append([]models.Message(nil), history...)

	reused := MergeHistory(history, "And abroad?", true)
	assert.Len(t, reused, 4)
	assert.Equal(t, models.Message{Role: models.RoleUser, Content: "And abroad?"}, reused[3])
	assert.Equal(t, snapshot, history, "input is not modified")

	reused[0].Content = "changed"
	assert.Equal(t, snapshot, history, "output does not alias input")

	restarted := MergeHistory(history, "Weather?", false)
	assert.Equal(t, []models.Message{{Role: models.RoleUser, Content: "Weather?"}}, restarted)

	assert.Len(t, MergeHistory(nil, "q", true), 1)
}

func TestTrimHistory(t *testing.T) {
	msgs := []models.Message{
		{Role: models.RoleUser, Content: "aaaaaaaaaaaaaaaa"}, // 4 tokens
		{Role: models.RoleModel, Content: "bbbbbbbb"},        // 2 tokens
		{Role: models.RoleUser, Content: "cccc"},             // 1 token
	}
	tests := []struct {
		name   string
		budget int
		want   int
	}{
		{"fits", 7, 3},
		{"drops oldest", 3, 2},
		{"zero budget disables trimming", 0, 3},
		{"last message alone", 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TrimHistory(msgs, tt.budget, tokens.Approx{})
			assert.Len(t, got, tt.want)
			assert.Equal(t, "cccc", got[len(got)-1].Content)
		})
	}
	assert.Len(t, TrimHistory(msgs, 1, nil), 3, "no counter, no trimming")
}
