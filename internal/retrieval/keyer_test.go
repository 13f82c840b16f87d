package retrieval

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"searchchat-backend/internal/models"
)

func newTestKeyer(t *testing.T, version string) *Keyer {
	t.Helper()
	k, err := NewKeyer([]byte("0123456789abcdef0123456789abcdef"), version)
	require.NoError(t, err)
	return k
}

func samplePassages() []models.Passage {
	return []models.Passage{
		{ID: "refund-1", Text: "Refunds are issued within 14 days.", Score: 0.82, Metadata: map[string]string{"DOC_TITLE": "Refunds"}},
		{ID: "refund-2", Text: "International refunds may take longer.", Score: 0.71},
	}
}

func TestKeyer_RoundTrip(t *testing.T) {
	k := newTestKeyer(t, "1")
	ps := samplePassages()
	c := &models.Context{Query: "refund policy?", Passages: ps, ValidityKey: k.Key("refund policy?", ps)}

	assert.True(t, strings.HasPrefix(c.ValidityKey, "v1:"))
	assert.True(t, k.Valid(c))
	assert.Equal(t, c.ValidityKey, k.Key("refund policy?", samplePassages()), "key is deterministic")
}

func TestKeyer_DetectsTamperingAndStaleness(t *testing.T) {
	k := newTestKeyer(t, "1")
	fresh := func() *models.Context {
		ps := samplePassages()
		return &models.Context{Query: "refund policy?", Passages: ps, ValidityKey: k.Key("refund policy?", ps)}
	}

	tests := []struct {
		name   string
		mutate func(c *models.Context)
	}{
		{"edited text", func(c *models.Context) { c.Passages[0].Text = "Refunds are instant." }},
		{"edited metadata", func(c *models.Context) { c.Passages[0].Metadata["DOC_TITLE"] = "Other" }},
		{"edited score", func(c *models.Context) { c.Passages[1].Score = 0.99 }},
		{"dropped passage", func(c *models.Context) { c.Passages = c.Passages[:1] }},
		{"reordered passages", func(c *models.Context) { c.Passages[0], c.Passages[1] = c.Passages[1], c.Passages[0] }},
		{"edited query", func(c *models.Context) { c.Query = "shipping" }},
		{"missing key", func(c *models.Context) { c.ValidityKey = "" }},
		{"foreign key", func(c *models.Context) { c.ValidityKey = "v1:deadbeef" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := fresh()
			tt.mutate(c)
			assert.False(t, k.Valid(c))
		})
	}

	assert.False(t, k.Valid(nil))

	reindexed := newTestKeyer(t, "2")
	assert.False(t, reindexed.Valid(fresh()), "index version bump invalidates old contexts")
}
