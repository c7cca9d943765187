package models

import (
	"time"
)

// ConversationRecord is the Postgres row holding one session's persisted
// history as a JSON array.
type ConversationRecord struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	SessionKey string    `json:"session_key" gorm:"uniqueIndex;size:255;not null"`
	Payload    string    `json:"payload" gorm:"type:text;not null"`
	Count      int       `json:"count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TableName pins the table name
func (ConversationRecord) TableName() string {
	return "conversation_histories"
}
