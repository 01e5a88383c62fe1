package store

import (
	"gorm.io/gorm"

	"github.com/arvlabs/arv/internal/model"
)

// ReviewStore defines operations for Review and FixCommit models.
type ReviewStore interface {
	// Review operations. At most one review exists per (session, model, turn).
	Create(review *model.Review) error
	GetBySessionModelTurn(sessionID, modelID string, turn int) (*model.Review, error)
	ListBySession(sessionID string) ([]model.Review, error)
	ListByTurn(sessionID string, turn int) ([]model.Review, error)
	CountByTurn(sessionID string, turn int) (int64, error)

	// FixCommit operations
	CreateFixCommit(fc *model.FixCommit) error
	ListFixCommits(sessionID string) ([]model.FixCommit, error)
	LatestFixCommit(sessionID string) (*model.FixCommit, error)
}

// reviewStore implements ReviewStore using GORM.
type reviewStore struct {
	db *gorm.DB
}

func newReviewStore(db *gorm.DB) ReviewStore {
	return &reviewStore{db: db}
}

func (s *reviewStore) Create(review *model.Review) error {
	return s.db.Create(review).Error
}

func (s *reviewStore) GetBySessionModelTurn(sessionID, modelID string, turn int) (*model.Review, error) {
	var review model.Review
	err := s.db.First(&review,
		"session_id = ? AND model_id = ? AND turn = ?", sessionID, modelID, turn).Error
	if err != nil {
		return nil, err
	}
	return &review, nil
}

func (s *reviewStore) ListBySession(sessionID string) ([]model.Review, error) {
	var reviews []model.Review
	err := s.db.
		Where("session_id = ?", sessionID).
		Order("turn ASC, submitted_at ASC").
		Find(&reviews).Error
	return reviews, err
}

func (s *reviewStore) ListByTurn(sessionID string, turn int) ([]model.Review, error) {
	var reviews []model.Review
	err := s.db.
		Where("session_id = ? AND turn = ?", sessionID, turn).
		Order("submitted_at ASC").
		Find(&reviews).Error
	return reviews, err
}

func (s *reviewStore) CountByTurn(sessionID string, turn int) (int64, error) {
	var count int64
	err := s.db.Model(&model.Review{}).
		Where("session_id = ? AND turn = ?", sessionID, turn).
		Count(&count).Error
	return count, err
}

func (s *reviewStore) CreateFixCommit(fc *model.FixCommit) error {
	return s.db.Create(fc).Error
}

func (s *reviewStore) ListFixCommits(sessionID string) ([]model.FixCommit, error) {
	var commits []model.FixCommit
	err := s.db.
		Where("session_id = ?", sessionID).
		Order("id ASC").
		Find(&commits).Error
	return commits, err
}

func (s *reviewStore) LatestFixCommit(sessionID string) (*model.FixCommit, error) {
	var fc model.FixCommit
	err := s.db.
		Where("session_id = ?", sessionID).
		Order("id DESC").
		First(&fc).Error
	if err != nil {
		return nil, err
	}
	return &fc, nil
}
