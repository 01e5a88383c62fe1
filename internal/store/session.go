package store

import (
	"time"

	"gorm.io/gorm"

	"github.com/arvlabs/arv/internal/model"
)

// SessionStore defines operations for Session and Agent models.
type SessionStore interface {
	// Session CRUD
	Create(session *model.Session) error
	GetByID(id string) (*model.Session, error)
	GetWithDetails(id string) (*model.Session, error)
	Update(session *model.Session) error
	Save(session *model.Session) error
	Delete(id string) error

	// Session queries
	List() ([]model.Session, error)
	ListActive() ([]model.Session, error)

	// Lifecycle updates
	UpdatePhase(id string, phase model.Phase) error
	UpdateTurn(id string, turn int) error
	UpdateVerificationRound(id string, round int) error
	SetError(id string, message string) error

	// Agent operations
	CreateAgent(agent *model.Agent) error
	GetAgent(sessionID, modelID string) (*model.Agent, error)
	ListAgents(sessionID string) ([]model.Agent, error)
	ListEnabledAgents(sessionID string) ([]model.Agent, error)
	UpdateAgent(agent *model.Agent) error
	UpdateAgentStatus(sessionID, modelID string, status model.AgentStatus, reason string) error
	DeleteAgent(sessionID, modelID string) error
}

// sessionStore implements SessionStore using GORM.
type sessionStore struct {
	db *gorm.DB
}

func newSessionStore(db *gorm.DB) SessionStore {
	return &sessionStore{db: db}
}

func (s *sessionStore) Create(session *model.Session) error {
	return s.db.Create(session).Error
}

func (s *sessionStore) GetByID(id string) (*model.Session, error) {
	var session model.Session
	if err := s.db.First(&session, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *sessionStore) GetWithDetails(id string) (*model.Session, error) {
	var session model.Session
	err := s.db.
		Preload("Agents").
		Preload("Issues", func(db *gorm.DB) *gorm.DB {
			return db.Order("issues.created_at ASC, issues.id ASC")
		}).
		Preload("Issues.Opinions", func(db *gorm.DB) *gorm.DB {
			return db.Order("opinions.id ASC")
		}).
		Preload("Reviews", func(db *gorm.DB) *gorm.DB {
			return db.Order("reviews.turn ASC, reviews.submitted_at ASC")
		}).
		Preload("FixCommits").
		First(&session, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *sessionStore) Update(session *model.Session) error {
	return s.db.Model(session).Updates(session).Error
}

func (s *sessionStore) Save(session *model.Session) error {
	return s.db.Save(session).Error
}

// Delete removes a session and everything it owns.
func (s *sessionStore) Delete(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("session_id = ?", id).Delete(&model.Opinion{}).Error; err != nil {
			return err
		}
		if err := tx.Where("issue_id IN (?)",
			tx.Model(&model.Issue{}).Select("id").Where("session_id = ?", id),
		).Delete(&model.AssistMessage{}).Error; err != nil {
			return err
		}
		for _, m := range []interface{}{
			&model.Issue{}, &model.Review{}, &model.Agent{},
			&model.FixCommit{}, &model.AgentToken{},
		} {
			if err := tx.Where("session_id = ?", id).Delete(m).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&model.Session{}, "id = ?", id).Error
	})
}

func (s *sessionStore) List() ([]model.Session, error) {
	var sessions []model.Session
	err := s.db.Order("created_at DESC").Find(&sessions).Error
	return sessions, err
}

func (s *sessionStore) ListActive() ([]model.Session, error) {
	var sessions []model.Session
	err := s.db.
		Where("phase <> ?", model.PhaseComplete).
		Order("created_at DESC").
		Find(&sessions).Error
	return sessions, err
}

func (s *sessionStore) UpdatePhase(id string, phase model.Phase) error {
	return s.db.Model(&model.Session{}).
		Where("id = ?", id).
		Update("phase", phase).Error
}

func (s *sessionStore) UpdateTurn(id string, turn int) error {
	return s.db.Model(&model.Session{}).
		Where("id = ?", id).
		Update("turn", turn).Error
}

func (s *sessionStore) UpdateVerificationRound(id string, round int) error {
	return s.db.Model(&model.Session{}).
		Where("id = ?", id).
		Update("verification_round", round).Error
}

func (s *sessionStore) SetError(id string, message string) error {
	return s.db.Model(&model.Session{}).
		Where("id = ?", id).
		Update("error_message", message).Error
}

// Agent operations

func (s *sessionStore) CreateAgent(agent *model.Agent) error {
	return s.db.Create(agent).Error
}

func (s *sessionStore) GetAgent(sessionID, modelID string) (*model.Agent, error) {
	var agent model.Agent
	err := s.db.First(&agent, "session_id = ? AND model = ?", sessionID, modelID).Error
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

func (s *sessionStore) ListAgents(sessionID string) ([]model.Agent, error) {
	var agents []model.Agent
	err := s.db.Where("session_id = ?", sessionID).Order("id ASC").Find(&agents).Error
	return agents, err
}

func (s *sessionStore) ListEnabledAgents(sessionID string) ([]model.Agent, error) {
	var agents []model.Agent
	err := s.db.
		Where("session_id = ? AND enabled = ?", sessionID, true).
		Order("id ASC").
		Find(&agents).Error
	return agents, err
}

func (s *sessionStore) UpdateAgent(agent *model.Agent) error {
	return s.db.Save(agent).Error
}

func (s *sessionStore) UpdateAgentStatus(sessionID, modelID string, status model.AgentStatus, reason string) error {
	updates := map[string]interface{}{
		"status":        status,
		"status_reason": reason,
	}
	if status == model.AgentStatusReviewing {
		now := time.Now()
		updates["last_reviewing_at"] = &now
	}
	return s.db.Model(&model.Agent{}).
		Where("session_id = ? AND model = ?", sessionID, modelID).
		Updates(updates).Error
}

func (s *sessionStore) DeleteAgent(sessionID, modelID string) error {
	return s.db.Where("session_id = ? AND model = ?", sessionID, modelID).
		Delete(&model.Agent{}).Error
}
