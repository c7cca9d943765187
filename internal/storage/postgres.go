package storage

import (
	"context"
	"errors"
	"fmt"

	"echo-civic-assistant/backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Postgres stores history rows through gorm
type Postgres struct {
	db *gorm.DB
}

// NewPostgres wraps a gorm connection and migrates the history table
func NewPostgres(db *gorm.DB) (*Postgres, error) {
	if err := db.AutoMigrate(&models.ConversationRecord{}); err != nil {
		return nil, fmt.Errorf("migrate conversation histories: %w", err)
	}
	return &Postgres{db: db}, nil
}

// Load implements HistoryStore
func (p *Postgres) Load(ctx context.Context, key string) ([]models.Message, error) {
	var rec models.ConversationRecord
	err := p.db.WithContext(ctx).Where("session_key = ?", key).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load history %s: %w", key, err)
	}
	return Decode([]byte(rec.Payload))
}

// Save implements HistoryStore
func (p *Postgres) Save(ctx context.Context, key string, messages []models.Message) error {
	data, err := Encode(messages)
	if err != nil {
		return err
	}

	rec := models.ConversationRecord{
		SessionKey: key,
		Payload:    string(data),
		Count:      len(messages),
	}
	err = p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "count", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("save history %s: %w", key, err)
	}
	return nil
}

// Clear implements HistoryStore
func (p *Postgres) Clear(ctx context.Context, key string) error {
	err := p.db.WithContext(ctx).Where("session_key = ?", key).Delete(&models.ConversationRecord{}).Error
	if err != nil {
		return fmt.Errorf("clear history %s: %w", key, err)
	}
	return nil
}
