// Package storage holds the durable backends for conversation history.
// Every backend stores one JSON array of messages per session key.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"echo-civic-assistant/backend/internal/models"
)

var (
	// ErrNotFound means nothing is stored under the key
	ErrNotFound = errors.New("history not found")
	// ErrCorrupt means the stored payload could not be decoded
	ErrCorrupt = errors.New("history payload is corrupt")
)

// HistoryStore is the durable side of the message store
type HistoryStore interface {
	Load(ctx context.Context, key string) ([]models.Message, error)
	Save(ctx context.Context, key string, messages []models.Message) error
	Clear(ctx context.Context, key string) error
}

// Encode serializes a history snapshot
func Encode(messages []models.Message) ([]byte, error) {
	if messages == nil {
		messages = []models.Message{}
	}
	data, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("encode history: %w", err)
	}
	return data, nil
}

// Decode parses a persisted payload. Typing placeholders are dropped since
// no request can be in flight across a reload, and the legacy "bot" sender
// is read as the assistant.
func Decode(data []byte) ([]models.Message, error) {
	var raw []models.Message
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	out := make([]models.Message, 0, len(raw))
	for _, m := range raw {
		if m.IsTyping {
			continue
		}
		switch m.Sender {
		case models.SenderUser, models.SenderAssistant:
		case "bot":
			m.Sender = models.SenderAssistant
		default:
			return nil, fmt.Errorf("%w: unknown sender %q", ErrCorrupt, m.Sender)
		}
		out = append(out, m)
	}
	return out, nil
}
