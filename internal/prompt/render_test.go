package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClipText(t *testing.T) {
	assert.Equal(t, "short", ClipText("short", 100))
	assert.Equal(t, "short", ClipText("short", 0), "no limit means no clipping")

	long := strings.Repeat("x", 200)
	clipped := ClipText(long, 50)
	assert.True(t, strings.HasPrefix(clipped, strings.Repeat("x", 50)))
	assert.True(t, strings.HasSuffix(clipped, "(truncated)"))
}

func TestReviewPrompt(t *testing.T) {
	r := NewRenderer()

	text, err := r.Review(&ReviewSpec{
		Model:        "claude-sonnet",
		SystemPrompt: "Prefer small diffs.",
		Strictness:   "balanced",
		Focus:        []string{"concurrency", "error handling"},
		RepoPath:     "/work/example",
		BaseRev:      "main",
		HeadRev:      "feature/change",
		ChangedFiles: []string{"src/a.go", "src/b.go"},
		DiffSummary:  "diff --git a/src/a.go b/src/a.go",
		Context: &SessionContext{
			Summary:   "Adds retry logic to the fetcher.",
			Tradeoffs: "No backoff jitter yet.",
		},
		APIBase: "http://127.0.0.1:8420/api/sessions/abc123def456",
		Token:   "tok-review",
	})
	require.NoError(t, err)

	assert.Contains(t, text, "claude-sonnet")
	assert.Contains(t, text, "balanced strictness")
	assert.Contains(t, text, "Prefer small diffs.")
	assert.Contains(t, text, "- concurrency")
	assert.Contains(t, text, "between main and feature/change")
	assert.Contains(t, text, "> Adds retry logic to the fetcher.")
	assert.Contains(t, text, "- src/a.go")
	assert.Contains(t, text, "X-Agent-Key: tok-review")
	assert.Contains(t, text, "http://127.0.0.1:8420/api/sessions/abc123def456/issues")
	assert.Contains(t, text, "/reviews")
}

func TestReviewPromptClipsDiff(t *testing.T) {
	r := NewRenderer()

	text, err := r.Review(&ReviewSpec{
		Model:       "claude-sonnet",
		Strictness:  "strict",
		DiffSummary: strings.Repeat("+", MaxDiffChars*2),
		APIBase:     "http://127.0.0.1:8420/api/sessions/abc123def456",
		Token:       "tok",
	})
	require.NoError(t, err)
	assert.Contains(t, text, "(truncated)")
	assert.Less(t, len(text), MaxDiffChars*2)
}

func TestDeliberationPrompt(t *testing.T) {
	r := NewRenderer()

	text, err := r.Deliberation(&DeliberationSpec{
		Model: "gemini-pro",
		Turn:  2,
		Issues: []IssueBrief{
			{
				DisplayNumber: 3,
				IssueID:       "issue-abc",
				Title:         "nil deref in handler",
				Severity:      "high",
				FilePath:      "srv/handler.go",
				LineStart:     42,
				LineEnd:       44,
				RaisedBy:      "claude-sonnet",
				Description:   "the pointer is never checked",
				Thread:        []string{"gpt-5-codex (fix_required): confirmed on line 43"},
			},
		},
		APIBase: "http://127.0.0.1:8420/api/sessions/abc123def456",
		Token:   "tok-delib",
	})
	require.NoError(t, err)

	assert.Contains(t, text, "deliberation turn 2")
	assert.Contains(t, text, "Issue #3: nil deref in handler")
	assert.Contains(t, text, "lines 42-44")
	assert.Contains(t, text, "Raised by: claude-sonnet")
	assert.Contains(t, text, "> the pointer is never checked")
	assert.Contains(t, text, "- gpt-5-codex (fix_required): confirmed on line 43")
	assert.Contains(t, text, "issues/ISSUE_ID/opinions")
	assert.Contains(t, text, `"withdraw" is only valid on issues you raised yourself`)
}

func TestVerificationPrompt(t *testing.T) {
	r := NewRenderer()

	text, err := r.Verification(&VerificationSpec{
		Model:  "claude-sonnet",
		Commit: "abcd1234",
		Round:  1,
		Issues: []IssueBrief{
			{DisplayNumber: 1, IssueID: "issue-abc", Title: "nil deref", Severity: "high", FilePath: "srv/handler.go"},
		},
		Delta:   "diff --git a/srv/handler.go b/srv/handler.go",
		APIBase: "http://127.0.0.1:8420/api/sessions/abc123def456",
		Token:   "tok-verify",
	})
	require.NoError(t, err)

	assert.Contains(t, text, "Fix commit abcd1234")
	assert.Contains(t, text, "verification round 1")
	assert.Contains(t, text, "issues/ISSUE_ID/respond")
	assert.Contains(t, text, "accept|dispute|partial")
	assert.Contains(t, text, "diff --git")
}

func TestAssistPrompt(t *testing.T) {
	r := NewRenderer()

	text, err := r.Assist(&AssistSpec{
		Issue: IssueBrief{
			DisplayNumber: 2,
			IssueID:       "issue-xyz",
			Title:         "race on shared map",
			Severity:      "medium",
			FilePath:      "pkg/cache.go",
		},
		Transcript: []AssistTurn{
			{Role: "user", Content: "is this exploitable?"},
			{Role: "assistant", Content: "only under concurrent writes"},
		},
		Question: "should we block the merge on this?",
	})
	require.NoError(t, err)

	assert.Contains(t, text, "race on shared map")
	assert.Contains(t, text, "user: is this exploitable?")
	assert.Contains(t, text, "should we block the merge on this?")
	assert.Contains(t, text, `{"action": "comment|fix_required|no_fix"`)
}

func TestConnTestPrompt(t *testing.T) {
	r := NewRenderer()

	text, err := r.ConnTest(&ConnTestSpec{
		CallbackURL: "http://127.0.0.1:8420/api/agents/connection-test/cb123",
		Token:       "tok-probe",
	})
	require.NoError(t, err)

	assert.Contains(t, text, "http://127.0.0.1:8420/api/agents/connection-test/cb123")
	assert.Contains(t, text, "X-Agent-Key: tok-probe")
	assert.Contains(t, text, "Do not do anything else.")
}
