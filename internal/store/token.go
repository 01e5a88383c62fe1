package store

import (
	"time"

	"gorm.io/gorm"

	"github.com/arvlabs/arv/internal/model"
)

// TokenStore defines operations for access tokens.
type TokenStore interface {
	Create(token *model.AgentToken) error
	GetByKey(key string) (*model.AgentToken, error)
	ListBySession(sessionID string) ([]model.AgentToken, error)
	MarkUsed(id uint, at time.Time) error
	Delete(id uint) error
	DeleteBySession(sessionID string) error
	DeleteExpired(now time.Time) (int64, error)
}

// tokenStore implements TokenStore using GORM.
type tokenStore struct {
	db *gorm.DB
}

func newTokenStore(db *gorm.DB) TokenStore {
	return &tokenStore{db: db}
}

func (s *tokenStore) Create(token *model.AgentToken) error {
	return s.db.Create(token).Error
}

func (s *tokenStore) GetByKey(key string) (*model.AgentToken, error) {
	var token model.AgentToken
	if err := s.db.First(&token, "key = ?", key).Error; err != nil {
		return nil, err
	}
	return &token, nil
}

func (s *tokenStore) ListBySession(sessionID string) ([]model.AgentToken, error) {
	var tokens []model.AgentToken
	err := s.db.Where("session_id = ?", sessionID).Order("id ASC").Find(&tokens).Error
	return tokens, err
}

func (s *tokenStore) MarkUsed(id uint, at time.Time) error {
	return s.db.Model(&model.AgentToken{}).
		Where("id = ?", id).
		Update("used_at", &at).Error
}

func (s *tokenStore) Delete(id uint) error {
	return s.db.Delete(&model.AgentToken{}, id).Error
}

func (s *tokenStore) DeleteBySession(sessionID string) error {
	return s.db.Where("session_id = ?", sessionID).Delete(&model.AgentToken{}).Error
}

func (s *tokenStore) DeleteExpired(now time.Time) (int64, error) {
	result := s.db.
		Where("expires_at IS NOT NULL AND expires_at < ?", now).
		Delete(&model.AgentToken{})
	return result.RowsAffected, result.Error
}
