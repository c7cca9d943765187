package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"echo-civic-assistant/backend/internal/models"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleHistory() []models.Message {
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	return []models.Message{
		{ID: 1, Text: "hello", Sender: models.SenderAssistant, Timestamp: ts},
		{
			ID: 2, Text: "📷 [Image]", Sender: models.SenderUser, Timestamp: ts.Add(time.Second),
			Attachment: &models.Attachment{Data: "aGk=", MimeType: "image/png"},
		},
		{
			ID: 3, Text: "grounded", Sender: models.SenderAssistant, Timestamp: ts.Add(2 * time.Second),
			GroundingCitations: []models.Citation{
				{Kind: models.CitationWeb, URI: "https://example.org", Title: "Example"},
				{Kind: models.CitationMap, URI: "https://maps.example/p", Title: "Ward office"},
			},
		},
	}
}

func TestDecodeRejectsMalformedPayload(t *testing.T) {
	_, err := Decode([]byte(`{"not":"an array"`))
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = Decode([]byte(`[{"id":1,"text":"x","sender":"robot","timestamp":"2025-01-01T00:00:00Z"}]`))
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestDecodeNormalizesLegacyAndTyping(t *testing.T) {
	payload := `[
		{"id":1,"text":"hi","sender":"bot","timestamp":"2025-01-01T00:00:00Z"},
		{"id":2,"text":"","sender":"assistant","timestamp":"2025-01-01T00:00:01Z","isTyping":true}
	]`
	msgs, err := Decode([]byte(payload))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.SenderAssistant, msgs[0].Sender)
	assert.True(t, msgs[0].Timestamp.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.Load(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Save(ctx, "k", sampleHistory()))
	got, err := m.Load(ctx, "k")
	require.NoError(t, err)
	if diff := cmp.Diff(sampleHistory(), got); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, m.Clear(ctx, "k"))
	assert.False(t, m.Has("k"))
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Load(ctx, "citizen-1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.Save(ctx, "citizen-1", sampleHistory()[:1]))
	require.NoError(t, db.Save(ctx, "citizen-1", sampleHistory()))

	got, err := db.Load(ctx, "citizen-1")
	require.NoError(t, err)
	if diff := cmp.Diff(sampleHistory(), got); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, db.Clear(ctx, "citizen-1"))
	_, err = db.Load(ctx, "citizen-1")
	assert.ErrorIs(t, err, ErrNotFound)
}
