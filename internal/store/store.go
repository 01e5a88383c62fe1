// Package store provides data access layer interfaces and implementations.
// This package abstracts database operations to improve maintainability
// and decouple business logic from specific database implementations.
package store

import "gorm.io/gorm"

// Store aggregates all data store interfaces.
// It provides a single point of access for all database operations.
type Store interface {
	Session() SessionStore
	Issue() IssueStore
	Review() ReviewStore
	Preset() PresetStore
	Token() TokenStore

	// DB returns the underlying database connection for advanced operations.
	// Use sparingly - prefer using specific store methods.
	DB() *gorm.DB

	// Transaction executes operations within a database transaction.
	Transaction(fn func(Store) error) error
}

// gormStore implements Store interface using GORM.
type gormStore struct {
	db           *gorm.DB
	sessionStore SessionStore
	issueStore   IssueStore
	reviewStore  ReviewStore
	presetStore  PresetStore
	tokenStore   TokenStore
}

// NewStore creates a new Store instance with GORM backend.
func NewStore(db *gorm.DB) Store {
	return &gormStore{
		db:           db,
		sessionStore: newSessionStore(db),
		issueStore:   newIssueStore(db),
		reviewStore:  newReviewStore(db),
		presetStore:  newPresetStore(db),
		tokenStore:   newTokenStore(db),
	}
}

func (s *gormStore) Session() SessionStore {
	return s.sessionStore
}

func (s *gormStore) Issue() IssueStore {
	return s.issueStore
}

func (s *gormStore) Review() ReviewStore {
	return s.reviewStore
}

func (s *gormStore) Preset() PresetStore {
	return s.presetStore
}

func (s *gormStore) Token() TokenStore {
	return s.tokenStore
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

func (s *gormStore) Transaction(fn func(Store) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}
