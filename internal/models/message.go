package models

import (
	"time"
)

// Sender identifies who produced a turn
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// CitationKind distinguishes web and map grounding sources
type CitationKind string

const (
	CitationWeb CitationKind = "web"
	CitationMap CitationKind = "map"
)

// Attachment is an image sent with a user turn
type Attachment struct {
	Data     string `json:"data"` // base64, no data: prefix
	MimeType string `json:"mimeType"`
}

// Citation is a grounding source backing an assistant turn
type Citation struct {
	Kind  CitationKind `json:"kind"`
	URI   string       `json:"uri"`
	Title string       `json:"title"`
}

// Message represents one conversational turn
type Message struct {
	ID                 int64       `json:"id"`
	Text               string      `json:"text"`
	Sender             Sender      `json:"sender"`
	Timestamp          time.Time   `json:"timestamp"`
	IsTyping           bool        `json:"isTyping,omitempty"`
	Attachment         *Attachment `json:"attachment,omitempty"`
	GroundingCitations []Citation  `json:"groundingCitations,omitempty"`
}

// Clone returns a deep copy so snapshots never alias the live log
func (m Message) Clone() Message {
	out := m
	if m.Attachment != nil {
		a := *m.Attachment
		out.Attachment = &a
	}
	if m.GroundingCitations != nil {
		out.GroundingCitations = append([]Citation(nil), m.GroundingCitations...)
	}
	return out
}

// CloneMessages deep-copies a slice of messages
func CloneMessages(in []Message) []Message {
	if in == nil {
		return nil
	}
	out := make([]Message, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}
	return out
}
