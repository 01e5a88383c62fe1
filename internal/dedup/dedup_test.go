package dedup

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arvlabs/arv/internal/model"
)

func intPtr(v int) *int { return &v }

// candidate builds a raised issue. IDs are constructed so that their
// lexicographic order equals the raise order.
func candidate(seq int, modelID, title, file string, start, end int, sev model.Severity) *model.Issue {
	issue := &model.Issue{
		ID:        fmt.Sprintf("issue-%04d", seq),
		SessionID: "abc123def456",
		Title:     title,
		Severity:  sev,
		FilePath:  file,
		RaisedBy:  modelID,
		CreatedAt: time.Date(2026, 8, 1, 12, 0, seq, 0, time.UTC),
	}
	if start > 0 {
		issue.LineStart = intPtr(start)
		issue.LineEnd = intPtr(end)
	}
	return issue
}

// ====================
// Tests for title normalization
// ====================

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Possible nil-pointer deref!", "possible nil pointer deref"},
		{"  SQL   injection (user input)  ", "sql injection user input"},
		{"Off-by-one", "off by one"},
		{"UPPER case", "upper case"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeTitle(tt.input), "input %q", tt.input)
	}
}

func TestGroupKey(t *testing.T) {
	// Word order does not matter, single-rune words are dropped, only the
	// first four tokens count
	assert.Equal(t, GroupKey("nil pointer deref in handler"),
		GroupKey("Pointer deref: NIL, in handler"))

	// Single-rune words are dropped, remaining tokens sort alphabetically
	assert.Equal(t, "by in off one", GroupKey("off-by-one in a loop"))

	// A fifth token never changes the key
	assert.Equal(t, GroupKey("alpha beta gamma delta"),
		GroupKey("alpha beta gamma delta epsilon"))

	// Different leading tokens yield different keys
	assert.NotEqual(t, GroupKey("missing error check"), GroupKey("missing bounds check"))
}

// ====================
// Tests for grouping
// ====================

func TestRunMergesNearbyReports(t *testing.T) {
	issues := []*model.Issue{
		candidate(1, "claude-sonnet", "nil pointer deref handler", "srv/handler.go", 42, 44, model.SeverityMedium),
		candidate(2, "gemini-pro", "Handler nil-pointer deref", "srv/handler.go", 45, 45, model.SeverityHigh),
		candidate(3, "gpt-5-codex", "unrelated finding", "srv/other.go", 10, 12, model.SeverityLow),
	}

	result := Run(issues, 5)
	require.Len(t, result.Groups, 2)

	merged := result.Groups[0]
	assert.Equal(t, "issue-0002", merged.Canonical.ID, "highest severity wins")
	require.Len(t, merged.Merged, 1)
	assert.Equal(t, "issue-0001", merged.Merged[0].ID)

	assert.Equal(t, "issue-0003", result.Groups[1].Canonical.ID)
	assert.Empty(t, result.Groups[1].Merged)
}

func TestRunProximityWindow(t *testing.T) {
	near := []*model.Issue{
		candidate(1, "claude-sonnet", "missing bounds check", "pkg/a.go", 10, 10, model.SeverityMedium),
		candidate(2, "gemini-pro", "bounds check missing", "pkg/a.go", 15, 15, model.SeverityMedium),
	}
	result := Run(near, 5)
	assert.Len(t, result.Groups, 1, "distance 5 is inside the window")

	far := []*model.Issue{
		candidate(1, "claude-sonnet", "missing bounds check", "pkg/a.go", 10, 10, model.SeverityMedium),
		candidate(2, "gemini-pro", "bounds missing check!", "pkg/a.go", 40, 40, model.SeverityMedium),
	}
	result = Run(far, 5)
	assert.Len(t, result.Groups, 2, "same key but distant lines stay separate")
}

func TestRunIdenticalTitlesMergeRegardlessOfLines(t *testing.T) {
	issues := []*model.Issue{
		candidate(1, "claude-sonnet", "Race condition on shared map", "pkg/cache.go", 10, 12, model.SeverityHigh),
		candidate(2, "gemini-pro", "race condition on shared map", "pkg/cache.go", 200, 210, model.SeverityHigh),
	}
	result := Run(issues, 5)
	assert.Len(t, result.Groups, 1, "byte-identical normalized titles merge")
}

func TestRunDifferentFilesNeverMerge(t *testing.T) {
	issues := []*model.Issue{
		candidate(1, "claude-sonnet", "missing error check", "pkg/a.go", 10, 10, model.SeverityMedium),
		candidate(2, "gemini-pro", "missing error check", "pkg/b.go", 10, 10, model.SeverityMedium),
	}
	result := Run(issues, 5)
	assert.Len(t, result.Groups, 2)
}

func TestCanonicalTieBreaks(t *testing.T) {
	// Equal severity: earliest submission wins
	issues := []*model.Issue{
		candidate(2, "gemini-pro", "shared tie title", "pkg/a.go", 10, 10, model.SeverityMedium),
		candidate(1, "claude-sonnet", "shared tie title", "pkg/a.go", 11, 11, model.SeverityMedium),
	}
	result := Run(issues, 5)
	require.Len(t, result.Groups, 1)
	assert.Equal(t, "claude-sonnet", result.Groups[0].Canonical.RaisedBy)

	// Equal severity and timestamp: lexicographic model ID wins
	same := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	a := candidate(1, "zeta-model", "shared tie title", "pkg/a.go", 10, 10, model.SeverityMedium)
	b := candidate(2, "alpha-model", "shared tie title", "pkg/a.go", 11, 11, model.SeverityMedium)
	a.CreatedAt, b.CreatedAt = same, same
	result = Run([]*model.Issue{a, b}, 5)
	require.Len(t, result.Groups, 1)
	assert.Equal(t, "alpha-model", result.Groups[0].Canonical.RaisedBy)
}

func TestRunIsDeterministicUnderShuffle(t *testing.T) {
	build := func() []*model.Issue {
		return []*model.Issue{
			candidate(1, "claude-sonnet", "nil deref in parser", "p/a.go", 5, 6, model.SeverityHigh),
			candidate(2, "gemini-pro", "in parser: nil deref", "p/a.go", 7, 7, model.SeverityMedium),
			candidate(3, "gpt-5-codex", "slow query in listing", "p/b.go", 30, 35, model.SeverityLow),
			candidate(4, "claude-sonnet", "in listing, slow query", "p/b.go", 33, 33, model.SeverityCritical),
			candidate(5, "gemini-pro", "stale cache entry", "p/c.go", 1, 2, model.SeverityMedium),
		}
	}

	baseline := Run(build(), 5)

	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 10; trial++ {
		shuffled := build()
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		result := Run(shuffled, 5)
		require.Len(t, result.Groups, len(baseline.Groups))
		for i := range baseline.Groups {
			assert.Equal(t, baseline.Groups[i].Canonical.ID, result.Groups[i].Canonical.ID)
			assert.Len(t, result.Groups[i].Merged, len(baseline.Groups[i].Merged))
		}
	}
}

func TestRunIdempotent(t *testing.T) {
	issues := []*model.Issue{
		candidate(1, "claude-sonnet", "nil deref in parser", "p/a.go", 5, 6, model.SeverityHigh),
		candidate(2, "gemini-pro", "in parser: nil deref", "p/a.go", 7, 7, model.SeverityMedium),
		candidate(3, "gpt-5-codex", "slow query in listing", "p/b.go", 30, 35, model.SeverityLow),
	}

	first := Run(issues, 5)

	var canonicals []*model.Issue
	for _, g := range first.Groups {
		canonicals = append(canonicals, g.Canonical)
	}
	second := Run(canonicals, 5)

	require.Len(t, second.Groups, len(first.Groups))
	for i, g := range second.Groups {
		assert.Equal(t, first.Groups[i].Canonical.ID, g.Canonical.ID)
		assert.Empty(t, g.Merged, "canonical set must be duplicate-free")
	}
}

func TestMergeOpinion(t *testing.T) {
	canonical := candidate(1, "claude-sonnet", "nil deref", "p/a.go", 5, 6, model.SeverityHigh)
	duplicate := candidate(2, "gemini-pro", "deref of nil", "p/a.go", 6, 6, model.SeverityMedium)
	duplicate.Description = "the pointer is never checked"

	op := MergeOpinion(canonical, duplicate, "opinion-merge-0001")
	assert.Equal(t, canonical.ID, op.IssueID)
	assert.Equal(t, "gemini-pro", op.ModelID)
	assert.Equal(t, model.ActionRaise, op.Action)
	assert.Equal(t, 0, op.Turn)
	assert.Equal(t, model.SeverityMedium, op.SuggestedSeverity)
	assert.Contains(t, op.Reasoning, "deref of nil")
	assert.Contains(t, op.Reasoning, "the pointer is never checked")
}
