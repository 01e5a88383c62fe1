package store

import (
	"gorm.io/gorm"

	"github.com/arvlabs/arv/internal/model"
)

// IssueStore defines operations for Issue, Opinion and AssistMessage models.
type IssueStore interface {
	// Issue CRUD
	Create(issue *model.Issue) error
	GetByID(id string) (*model.Issue, error)
	GetWithThread(id string) (*model.Issue, error)
	Update(issue *model.Issue) error
	Save(issue *model.Issue) error
	Delete(id string) error

	// Issue queries. All listings are ordered by insertion time.
	ListBySession(sessionID string) ([]model.Issue, error)
	ListUndecided(sessionID string) ([]model.Issue, error)
	ListByConsensusType(sessionID string, ct model.ConsensusType) ([]model.Issue, error)
	CountBySession(sessionID string) (int64, error)

	// NextDisplayNumber returns the next dense 1-based display number for the session.
	NextDisplayNumber(sessionID string) (int, error)

	// Opinion operations. Thread order is the lexicographic order of opinion IDs.
	AddOpinion(opinion *model.Opinion) error
	ListOpinions(issueID string) ([]model.Opinion, error)
	ListOpinionsBySession(sessionID string) ([]model.Opinion, error)

	// Assist transcript operations
	AddAssistMessage(msg *model.AssistMessage) error
	ListAssistMessages(issueID string) ([]model.AssistMessage, error)
}

// issueStore implements IssueStore using GORM.
type issueStore struct {
	db *gorm.DB
}

func newIssueStore(db *gorm.DB) IssueStore {
	return &issueStore{db: db}
}

func (s *issueStore) Create(issue *model.Issue) error {
	return s.db.Create(issue).Error
}

func (s *issueStore) GetByID(id string) (*model.Issue, error) {
	var issue model.Issue
	if err := s.db.First(&issue, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &issue, nil
}

func (s *issueStore) GetWithThread(id string) (*model.Issue, error) {
	var issue model.Issue
	err := s.db.
		Preload("Opinions", func(db *gorm.DB) *gorm.DB {
			return db.Order("opinions.id ASC")
		}).
		Preload("AssistMessages", func(db *gorm.DB) *gorm.DB {
			return db.Order("assist_messages.id ASC")
		}).
		First(&issue, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &issue, nil
}

func (s *issueStore) Update(issue *model.Issue) error {
	return s.db.Model(issue).Updates(issue).Error
}

func (s *issueStore) Save(issue *model.Issue) error {
	return s.db.Save(issue).Error
}

func (s *issueStore) Delete(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("issue_id = ?", id).Delete(&model.Opinion{}).Error; err != nil {
			return err
		}
		if err := tx.Where("issue_id = ?", id).Delete(&model.AssistMessage{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Issue{}, "id = ?", id).Error
	})
}

func (s *issueStore) ListBySession(sessionID string) ([]model.Issue, error) {
	var issues []model.Issue
	err := s.db.
		Where("session_id = ?", sessionID).
		Order("created_at ASC, id ASC").
		Find(&issues).Error
	return issues, err
}

func (s *issueStore) ListUndecided(sessionID string) ([]model.Issue, error) {
	var issues []model.Issue
	err := s.db.
		Where("session_id = ? AND consensus IS NULL", sessionID).
		Order("created_at ASC, id ASC").
		Find(&issues).Error
	return issues, err
}

func (s *issueStore) ListByConsensusType(sessionID string, ct model.ConsensusType) ([]model.Issue, error) {
	var issues []model.Issue
	err := s.db.
		Where("session_id = ? AND consensus_type = ?", sessionID, ct).
		Order("created_at ASC, id ASC").
		Find(&issues).Error
	return issues, err
}

func (s *issueStore) CountBySession(sessionID string) (int64, error) {
	var count int64
	err := s.db.Model(&model.Issue{}).Where("session_id = ?", sessionID).Count(&count).Error
	return count, err
}

func (s *issueStore) NextDisplayNumber(sessionID string) (int, error) {
	var max int
	err := s.db.Model(&model.Issue{}).
		Where("session_id = ?", sessionID).
		Select("COALESCE(MAX(display_number), 0)").
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

func (s *issueStore) AddOpinion(opinion *model.Opinion) error {
	return s.db.Create(opinion).Error
}

func (s *issueStore) ListOpinions(issueID string) ([]model.Opinion, error) {
	var opinions []model.Opinion
	err := s.db.
		Where("issue_id = ?", issueID).
		Order("id ASC").
		Find(&opinions).Error
	return opinions, err
}

func (s *issueStore) ListOpinionsBySession(sessionID string) ([]model.Opinion, error) {
	var opinions []model.Opinion
	err := s.db.
		Where("session_id = ?", sessionID).
		Order("id ASC").
		Find(&opinions).Error
	return opinions, err
}

func (s *issueStore) AddAssistMessage(msg *model.AssistMessage) error {
	return s.db.Create(msg).Error
}

func (s *issueStore) ListAssistMessages(issueID string) ([]model.AssistMessage, error) {
	var msgs []model.AssistMessage
	err := s.db.
		Where("issue_id = ?", issueID).
		Order("id ASC").
		Find(&msgs).Error
	return msgs, err
}
