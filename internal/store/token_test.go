package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/arvlabs/arv/internal/model"
	"github.com/arvlabs/arv/pkg/idgen"
)

func TestTokenLookup(t *testing.T) {
	store, cleanup := SetupTestDB(t)
	defer cleanup()

	session := CreateTestSession(t, store)
	key := idgen.NewAgentKey()

	require.NoError(t, store.Token().Create(&model.AgentToken{
		Key: key, SessionID: session.ID, ModelID: "claude-sonnet",
		Kind: model.TokenKindAgent,
	}))

	token, err := store.Token().GetByKey(key)
	require.NoError(t, err)
	assert.Equal(t, session.ID, token.SessionID)
	assert.Equal(t, "claude-sonnet", token.ModelID)

	_, err = store.Token().GetByKey("no-such-key")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestTokenMarkUsed(t *testing.T) {
	store, cleanup := SetupTestDB(t)
	defer cleanup()

	session := CreateTestSession(t, store)
	token := &model.AgentToken{
		Key: idgen.NewAgentKey(), SessionID: session.ID,
		ModelID: "claude-sonnet", Kind: model.TokenKindConnTest,
	}
	require.NoError(t, store.Token().Create(token))

	used := time.Now()
	require.NoError(t, store.Token().MarkUsed(token.ID, used))

	got, err := store.Token().GetByKey(token.Key)
	require.NoError(t, err)
	require.NotNil(t, got.UsedAt)
	assert.WithinDuration(t, used, *got.UsedAt, time.Second)
}

func TestTokenDeleteExpired(t *testing.T) {
	store, cleanup := SetupTestDB(t)
	defer cleanup()

	session := CreateTestSession(t, store)
	now := time.Now()

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	expired := &model.AgentToken{
		Key: idgen.NewAgentKey(), SessionID: session.ID,
		ModelID: "claude-sonnet", Kind: model.TokenKindConnTest, ExpiresAt: &past,
	}
	live := &model.AgentToken{
		Key: idgen.NewAgentKey(), SessionID: session.ID,
		ModelID: "gemini-pro", Kind: model.TokenKindConnTest, ExpiresAt: &future,
	}
	forever := &model.AgentToken{
		Key: idgen.NewAgentKey(), SessionID: session.ID,
		ModelID: "gpt-5-codex", Kind: model.TokenKindAgent,
	}
	require.NoError(t, store.Token().Create(expired))
	require.NoError(t, store.Token().Create(live))
	require.NoError(t, store.Token().Create(forever))

	removed, err := store.Token().DeleteExpired(now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	remaining, err := store.Token().ListBySession(session.ID)
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
}

func TestTokenDeleteBySession(t *testing.T) {
	store, cleanup := SetupTestDB(t)
	defer cleanup()

	session := CreateTestSession(t, store)
	other := CreateTestSession(t, store)

	require.NoError(t, store.Token().Create(&model.AgentToken{
		Key: idgen.NewAgentKey(), SessionID: session.ID,
		ModelID: "claude-sonnet", Kind: model.TokenKindAgent,
	}))
	require.NoError(t, store.Token().Create(&model.AgentToken{
		Key: idgen.NewAgentKey(), SessionID: other.ID,
		ModelID: "claude-sonnet", Kind: model.TokenKindAgent,
	}))

	require.NoError(t, store.Token().DeleteBySession(session.ID))

	gone, err := store.Token().ListBySession(session.ID)
	require.NoError(t, err)
	assert.Empty(t, gone)

	kept, err := store.Token().ListBySession(other.ID)
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}
