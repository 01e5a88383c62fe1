// Package store provides test utilities for database testing.
package store

import (
	"os"
	"testing"

	"github.com/arvlabs/arv/internal/database"
	"github.com/arvlabs/arv/internal/model"
	"github.com/arvlabs/arv/pkg/idgen"
)

// SetupTestDB creates a file-backed SQLite database for testing.
// It returns a Store instance and a cleanup function.
// The cleanup function should be called with defer in tests.
func SetupTestDB(t *testing.T) (Store, func()) {
	// Reset database state to allow re-initialization
	database.ResetForTesting()

	// Create temporary database file
	tmpFile, err := os.CreateTemp("", "test_*.db")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()

	// Initialize database with temp path
	if err := database.InitWithPath(tmpPath); err != nil {
		os.Remove(tmpPath)
		t.Fatalf("Failed to initialize test database: %v", err)
	}

	store := NewStore(database.Get())

	cleanup := func() {
		database.Close()
		database.ResetForTesting()
		os.Remove(tmpPath)
	}

	return store, cleanup
}

// CreateTestSession creates a test Session with default values.
// Fields can be overridden by passing a function that modifies the session.
func CreateTestSession(t *testing.T, store Store, overrides ...func(*model.Session)) *model.Session {
	session := &model.Session{
		ID:       idgen.NewSessionID(),
		RepoPath: "/work/example",
		BaseRev:  "main",
		HeadRev:  "feature/change",
		Phase:    model.PhaseIdle,
	}

	for _, override := range overrides {
		override(session)
	}

	if err := store.Session().Create(session); err != nil {
		t.Fatalf("Failed to create test session: %v", err)
	}

	return session
}

// CreateTestAgent creates a test Agent bound to the given session.
func CreateTestAgent(t *testing.T, store Store, sessionID string, overrides ...func(*model.Agent)) *model.Agent {
	agent := &model.Agent{
		SessionID:  sessionID,
		Model:      "claude-sonnet",
		ClientKind: "mock",
		Strictness: "balanced",
		Enabled:    true,
		Status:     model.AgentStatusIdle,
	}

	for _, override := range overrides {
		override(agent)
	}

	if err := store.Session().CreateAgent(agent); err != nil {
		t.Fatalf("Failed to create test agent: %v", err)
	}

	return agent
}

// CreateTestIssue creates a test Issue with default values.
func CreateTestIssue(t *testing.T, store Store, sessionID string, overrides ...func(*model.Issue)) *model.Issue {
	num, err := store.Issue().NextDisplayNumber(sessionID)
	if err != nil {
		t.Fatalf("Failed to allocate display number: %v", err)
	}

	issue := &model.Issue{
		ID:             idgen.NewIssueID(),
		SessionID:      sessionID,
		DisplayNumber:  num,
		Title:          "off-by-one in loop",
		Severity:       model.SeverityMedium,
		FilePath:       "src/x.y",
		RaisedBy:       "claude-sonnet",
		ProgressStatus: model.ProgressReported,
	}

	for _, override := range overrides {
		override(issue)
	}

	if err := store.Issue().Create(issue); err != nil {
		t.Fatalf("Failed to create test issue: %v", err)
	}

	return issue
}
