package assist

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arvlabs/arv/internal/agent"
	"github.com/arvlabs/arv/internal/config"
	"github.com/arvlabs/arv/internal/model"
	"github.com/arvlabs/arv/internal/store"
	"github.com/arvlabs/arv/pkg/errors"
)

func newTestEngine(t *testing.T, run runFunc) (*Engine, store.Store, func()) {
	t.Helper()
	st, cleanup := store.SetupTestDB(t)
	e := New(config.Default(), st)
	if run != nil {
		e.run = run
	}
	return e, st, cleanup
}

// ====================
// Ask
// ====================

func TestAskRecordsBothSidesOfTheExchange(t *testing.T) {
	var gotPlan *agent.CommandPlan
	e, st, cleanup := newTestEngine(t, func(ctx context.Context, plan *agent.CommandPlan, workDir string) (string, error) {
		gotPlan = plan
		return "The raise looks valid.\n{\"action\": \"fix_required\", \"reasoning\": \"error is dropped\", \"confidence\": 0.8}", nil
	})
	defer cleanup()

	session := store.CreateTestSession(t, st)
	issue := store.CreateTestIssue(t, st, session.ID)

	reply, err := e.Ask(context.Background(), issue.ID, "mock", "helper-model", "is this a real problem?")
	require.NoError(t, err)
	assert.Equal(t, "assistant", reply.Role)
	assert.Contains(t, reply.Content, "fix_required")

	require.NotNil(t, gotPlan)
	assert.Contains(t, gotPlan.Stdin, issue.Title)
	assert.Contains(t, gotPlan.Stdin, "is this a real problem?")

	msgs, err := st.Issue().ListAssistMessages(issue.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "is this a real problem?", msgs[0].Content)
	assert.Equal(t, "assistant", msgs[1].Role)
}

func TestAskIncludesPriorTranscriptInPrompt(t *testing.T) {
	var prompts []string
	e, st, cleanup := newTestEngine(t, func(ctx context.Context, plan *agent.CommandPlan, workDir string) (string, error) {
		prompts = append(prompts, plan.Stdin)
		return "answer", nil
	})
	defer cleanup()

	session := store.CreateTestSession(t, st)
	issue := store.CreateTestIssue(t, st, session.ID)

	_, err := e.Ask(context.Background(), issue.ID, "mock", "helper-model", "first question")
	require.NoError(t, err)
	_, err = e.Ask(context.Background(), issue.ID, "mock", "helper-model", "second question")
	require.NoError(t, err)

	require.Len(t, prompts, 2)
	assert.NotContains(t, prompts[0], "## Conversation")
	assert.Contains(t, prompts[1], "## Conversation")
	assert.Contains(t, prompts[1], "first question")
	assert.Contains(t, prompts[1], "second question")
}

func TestAskFallsBackToCommandHintOnFailure(t *testing.T) {
	e, st, cleanup := newTestEngine(t, func(ctx context.Context, plan *agent.CommandPlan, workDir string) (string, error) {
		return "", context.DeadlineExceeded
	})
	defer cleanup()

	session := store.CreateTestSession(t, st)
	issue := store.CreateTestIssue(t, st, session.ID)

	reply, err := e.Ask(context.Background(), issue.ID, "mock", "helper-model", "why is this flagged?")
	require.NoError(t, err)
	assert.Contains(t, reply.Content, "run it manually")
}

func TestAskValidation(t *testing.T) {
	e, st, cleanup := newTestEngine(t, nil)
	defer cleanup()

	session := store.CreateTestSession(t, st)
	issue := store.CreateTestIssue(t, st, session.ID)

	_, err := e.Ask(context.Background(), issue.ID, "mock", "m", "   ")
	appErr, ok := errors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodeValidation, appErr.Code)

	_, err = e.Ask(context.Background(), issue.ID, "telepathy", "m", "question")
	appErr, ok = errors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodeClientKind, appErr.Code)

	_, err = e.Ask(context.Background(), "no-such-issue", "mock", "m", "question")
	appErr, ok = errors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodeNotFound, appErr.Code)
}

func TestLatestReply(t *testing.T) {
	e, st, cleanup := newTestEngine(t, nil)
	defer cleanup()

	session := store.CreateTestSession(t, st)
	issue := store.CreateTestIssue(t, st, session.ID)

	_, err := e.LatestReply(issue.ID)
	require.Error(t, err)

	require.NoError(t, st.Issue().AddAssistMessage(&model.AssistMessage{IssueID: issue.ID, Role: "user", Content: "q"}))
	require.NoError(t, st.Issue().AddAssistMessage(&model.AssistMessage{IssueID: issue.ID, Role: "assistant", Content: "a1"}))
	require.NoError(t, st.Issue().AddAssistMessage(&model.AssistMessage{IssueID: issue.ID, Role: "user", Content: "q2"}))
	require.NoError(t, st.Issue().AddAssistMessage(&model.AssistMessage{IssueID: issue.ID, Role: "assistant", Content: "a2"}))

	reply, err := e.LatestReply(issue.ID)
	require.NoError(t, err)
	assert.Equal(t, "a2", reply.Content)
}

// ====================
// Opinion parsing
// ====================

func TestParseOpinionBareJSON(t *testing.T) {
	op, err := ParseOpinion(`{"action": "no_fix", "reasoning": "intentional", "confidence": 0.6}`)
	require.NoError(t, err)
	assert.Equal(t, "no_fix", op.Action)
	assert.Equal(t, "intentional", op.Reasoning)
	require.NotNil(t, op.Confidence)
	assert.Equal(t, 0.6, *op.Confidence)
}

func TestParseOpinionEmbeddedInProse(t *testing.T) {
	out := `Let me walk through the code path.

The handler drops the error on line 42, so the report stands.

{"action": "fix_required", "reasoning": "error swallowed in handler", "confidence": 0.9, "suggested_severity": "high"}`
	op, err := ParseOpinion(out)
	require.NoError(t, err)
	assert.Equal(t, "fix_required", op.Action)
	assert.Equal(t, "high", op.SuggestedSeverity)
}

func TestParseOpinionPrefersLastObject(t *testing.T) {
	out := `Example payload: {"action": "comment", "reasoning": "thinking"}
Final position: {"action": "no_fix", "reasoning": "style only"}`
	op, err := ParseOpinion(out)
	require.NoError(t, err)
	assert.Equal(t, "no_fix", op.Action)
}

func TestParseOpinionSkipsBracesInsideStrings(t *testing.T) {
	out := `{"action": "comment", "reasoning": "the map literal {x: 1} is fine"}`
	op, err := ParseOpinion(out)
	require.NoError(t, err)
	assert.Equal(t, "the map literal {x: 1} is fine", op.Reasoning)
}

func TestParseOpinionRejectsGarbage(t *testing.T) {
	_, err := ParseOpinion("no json here at all")
	require.Error(t, err)

	_, err = ParseOpinion(`{"action": "escalate", "reasoning": "x"}`)
	require.Error(t, err)

	_, err = ParseOpinion("")
	require.Error(t, err)
}
