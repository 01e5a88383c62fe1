package lifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arvlabs/arv/internal/model"
	"github.com/arvlabs/arv/internal/store"
	"github.com/arvlabs/arv/pkg/errors"
)

// reachFixing drives a two-reviewer session to the fixing phase with one
// confirmed fix_required issue raised by m1.
func reachFixing(t *testing.T, c *Controller, st store.Store) (*model.Session, *model.Issue) {
	t.Helper()
	session, issue := deliberatingWithIssue(t, c, st)

	_, err := c.SubmitOpinion(context.Background(), issue.ID, "m2", OpinionInput{
		Action:     model.ActionFixRequired,
		Confidence: floatp(0.9),
	})
	require.NoError(t, err)

	session = reloadSession(t, st, session.ID)
	require.Equal(t, model.PhaseFixing, session.Phase)
	return session, reloadIssue(t, st, issue.ID)
}

// ====================
// Fix complete
// ====================

func TestFixCompleteRequiresFixingPhase(t *testing.T) {
	c, st, _, _, cleanup := newTestController(t)
	defer cleanup()

	session, _ := deliberatingWithIssue(t, c, st)
	err := c.FixComplete(context.Background(), session.ID, "abc123", nil)
	assertAppError(t, err, errors.ErrCodeSessionState)
}

func TestFixCompleteRejectsUnknownIssue(t *testing.T) {
	c, st, _, _, cleanup := newTestController(t)
	defer cleanup()

	session, _ := reachFixing(t, c, st)
	err := c.FixComplete(context.Background(), session.ID, "abc123", []string{"no-such-issue"})
	assertAppError(t, err, errors.ErrCodeValidation)
}

func TestFixCompleteRejectsBadCommit(t *testing.T) {
	c, st, _, reader, cleanup := newTestController(t)
	defer cleanup()

	session, _ := reachFixing(t, c, st)
	reader.badRevs["deadbeef"] = true

	err := c.FixComplete(context.Background(), session.ID, "deadbeef", nil)
	assertAppError(t, err, errors.ErrCodeNoSuchRef)

	session = reloadSession(t, st, session.ID)
	assert.Equal(t, model.PhaseFixing, session.Phase)
	assert.Equal(t, "feature", session.HeadRev)
}

func TestFixCompleteLaunchesVerification(t *testing.T) {
	c, st, runner, _, cleanup := newTestController(t)
	defer cleanup()

	session, issue := reachFixing(t, c, st)
	before := runner.startCount()

	require.NoError(t, c.FixComplete(context.Background(), session.ID, "abc123", nil))

	session = reloadSession(t, st, session.ID)
	assert.Equal(t, model.PhaseVerifying, session.Phase)
	assert.Equal(t, "abc123", session.HeadRev)

	fc, err := st.Review().LatestFixCommit(session.ID)
	require.NoError(t, err)
	assert.Equal(t, "abc123", fc.Commit)
	assert.Equal(t, 0, fc.Round)
	assert.Equal(t, model.StringArray{issue.ID}, fc.IssueIDs)

	// Only the raiser verifies its own issues
	require.Equal(t, before+1, runner.startCount())
	assert.Equal(t, "m1", runner.lastStart().Model)
}

// ====================
// Respond during verifying
// ====================

func TestRespondOnlyRaiserMayVerify(t *testing.T) {
	c, st, _, _, cleanup := newTestController(t)
	defer cleanup()
	ctx := context.Background()

	session, issue := reachFixing(t, c, st)
	require.NoError(t, c.FixComplete(ctx, session.ID, "abc123", nil))

	err := c.Respond(ctx, issue.ID, "m2", model.RespondAccept, "")
	assertAppError(t, err, errors.ErrCodeValidation)

	err = c.Respond(ctx, issue.ID, "m1", "shrug", "")
	assertAppError(t, err, errors.ErrCodeValidation)
}

func TestRespondRejectedOutsideVerifyingAndGate(t *testing.T) {
	c, st, _, _, cleanup := newTestController(t)
	defer cleanup()

	_, issue := deliberatingWithIssue(t, c, st)
	err := c.Respond(context.Background(), issue.ID, "m1", model.RespondAccept, "")
	assertAppError(t, err, errors.ErrCodeSessionState)
}

func TestRespondAcceptCompletesSession(t *testing.T) {
	c, st, _, _, cleanup := newTestController(t)
	defer cleanup()
	ctx := context.Background()

	session, issue := reachFixing(t, c, st)
	require.NoError(t, c.FixComplete(ctx, session.ID, "abc123", nil))
	require.NoError(t, c.Respond(ctx, issue.ID, "m1", model.RespondAccept, "verified the error is now handled"))

	issue = reloadIssue(t, st, issue.ID)
	assert.Equal(t, model.ProgressCompleted, issue.ProgressStatus)

	session = reloadSession(t, st, session.ID)
	assert.Equal(t, model.PhaseComplete, session.Phase)

	// Reasoning lands on the thread
	opinions, err := st.Issue().ListOpinions(issue.ID)
	require.NoError(t, err)
	last := opinions[len(opinions)-1]
	assert.Equal(t, model.ActionComment, last.Action)
	assert.Equal(t, "verified the error is now handled", last.Reasoning)
}

func TestRespondPartialReturnsToFixing(t *testing.T) {
	c, st, _, _, cleanup := newTestController(t)
	defer cleanup()
	ctx := context.Background()

	session, issue := reachFixing(t, c, st)
	require.NoError(t, c.FixComplete(ctx, session.ID, "abc123", nil))
	require.NoError(t, c.Respond(ctx, issue.ID, "m1", model.RespondPartial, ""))

	issue = reloadIssue(t, st, issue.ID)
	assert.Equal(t, model.ProgressReported, issue.ProgressStatus)

	session = reloadSession(t, st, session.ID)
	assert.Equal(t, model.PhaseFixing, session.Phase)
	assert.Equal(t, 0, session.VerificationRound)
}

func TestRespondDisputeReturnsToFixing(t *testing.T) {
	c, st, _, _, cleanup := newTestController(t)
	defer cleanup()
	ctx := context.Background()

	session, issue := reachFixing(t, c, st)
	turnBefore := session.Turn
	require.NoError(t, c.FixComplete(ctx, session.ID, "abc123", nil))
	require.NoError(t, c.Respond(ctx, issue.ID, "m1", model.RespondDispute, "the nil check only covers one path"))

	session = reloadSession(t, st, session.ID)
	assert.Equal(t, model.PhaseFixing, session.Phase)
	assert.Equal(t, 1, session.VerificationRound)
	assert.Equal(t, turnBefore+1, session.Turn)
}

func TestVerificationRoundCapCompletes(t *testing.T) {
	c, st, _, _, cleanup := newTestController(t)
	defer cleanup()
	ctx := context.Background()

	session, issue := reachFixing(t, c, st)
	require.NoError(t, c.FixComplete(ctx, session.ID, "fix1", nil))
	require.NoError(t, c.Respond(ctx, issue.ID, "m1", model.RespondDispute, ""))
	require.Equal(t, model.PhaseFixing, reloadSession(t, st, session.ID).Phase)

	require.NoError(t, c.FixComplete(ctx, session.ID, "fix2", nil))
	require.NoError(t, c.Respond(ctx, issue.ID, "m1", model.RespondDispute, ""))

	session = reloadSession(t, st, session.ID)
	assert.Equal(t, model.PhaseComplete, session.Phase)
	assert.Equal(t, 2, session.VerificationRound)

	issue = reloadIssue(t, st, issue.ID)
	assert.Equal(t, model.ConsensusUndecided, issue.ConsensusType)
}

// ====================
// Agent response gate
// ====================

func reachGate(t *testing.T, c *Controller, st store.Store) (*model.Session, *model.Issue) {
	t.Helper()
	c.cfg.Review.AgentResponseGate = true
	session, issue := deliberatingWithIssue(t, c, st)
	_, err := c.SubmitOpinion(context.Background(), issue.ID, "m2", OpinionInput{
		Action:     model.ActionFixRequired,
		Confidence: floatp(0.9),
	})
	require.NoError(t, err)

	session = reloadSession(t, st, session.ID)
	require.Equal(t, model.PhaseAgentResponse, session.Phase)
	return session, reloadIssue(t, st, issue.ID)
}

func TestGateAcceptOpensFixing(t *testing.T) {
	c, st, _, _, cleanup := newTestController(t)
	defer cleanup()

	session, issue := reachGate(t, c, st)
	require.NoError(t, c.Respond(context.Background(), issue.ID, model.HumanModelID, model.RespondAccept, ""))

	session = reloadSession(t, st, session.ID)
	assert.Equal(t, model.PhaseFixing, session.Phase)

	// Gate answers do not linger on the issue
	issue = reloadIssue(t, st, issue.ID)
	assert.Empty(t, issue.Responses)
}

func TestGateDisputeReopensDeliberation(t *testing.T) {
	c, st, runner, _, cleanup := newTestController(t)
	defer cleanup()

	session, issue := reachGate(t, c, st)
	turnBefore := session.Turn
	before := runner.startCount()

	require.NoError(t, c.Respond(context.Background(), issue.ID, model.HumanModelID, model.RespondDispute, ""))

	session = reloadSession(t, st, session.ID)
	assert.Equal(t, model.PhaseDeliberating, session.Phase)
	assert.Equal(t, turnBefore+1, session.Turn)

	// The disputed issue is back on the table and both reviewers got a new run
	assert.Nil(t, reloadIssue(t, st, issue.ID).Consensus)
	assert.Equal(t, before+2, runner.startCount())
}

// ====================
// Issue status and dismissal
// ====================

func TestSetIssueStatus(t *testing.T) {
	c, st, _, _, cleanup := newTestController(t)
	defer cleanup()
	ctx := context.Background()

	session, issue := reachFixing(t, c, st)

	err := c.SetIssueStatus(ctx, issue.ID, model.HumanModelID, model.ProgressCompleted, "")
	assertAppError(t, err, errors.ErrCodeValidation)

	require.NoError(t, c.SetIssueStatus(ctx, issue.ID, model.HumanModelID, model.ProgressWontFix, "known limitation, tracked separately"))

	issue = reloadIssue(t, st, issue.ID)
	assert.Equal(t, model.ProgressWontFix, issue.ProgressStatus)

	opinions, err := st.Issue().ListOpinions(issue.ID)
	require.NoError(t, err)
	last := opinions[len(opinions)-1]
	assert.Equal(t, model.ActionStatusChange, last.Action)
	assert.Equal(t, string(model.ProgressReported), last.PreviousStatus)
	assert.Equal(t, string(model.ProgressWontFix), last.StatusValue)

	// wont_fix settles the issue, so the session can finish cleanly
	require.NoError(t, c.Finish(ctx, session.ID, false))
	assert.Equal(t, model.PhaseComplete, reloadSession(t, st, session.ID).Phase)
}

func TestSetIssueStatusWrongPhase(t *testing.T) {
	c, st, _, _, cleanup := newTestController(t)
	defer cleanup()

	_, issue := deliberatingWithIssue(t, c, st)
	err := c.SetIssueStatus(context.Background(), issue.ID, model.HumanModelID, model.ProgressFixed, "")
	assertAppError(t, err, errors.ErrCodeSessionState)
}

func TestFinishBlocksOnUnresolvedIssues(t *testing.T) {
	c, st, _, _, cleanup := newTestController(t)
	defer cleanup()

	session, issue := reachFixing(t, c, st)
	err := c.Finish(context.Background(), session.ID, false)
	appErr := assertAppError(t, err, errors.ErrCodeUnresolved)

	details, ok := appErr.Details.(map[string]any)
	require.True(t, ok)
	unresolved, ok := details["unresolved_issues"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, unresolved, 1)
	assert.Equal(t, issue.ID, unresolved[0]["id"])
	assert.Equal(t, issue.DisplayNumber, unresolved[0]["display_number"])
}

func TestDismiss(t *testing.T) {
	c, st, _, _, cleanup := newTestController(t)
	defer cleanup()
	ctx := context.Background()

	session, issue := reachFixing(t, c, st)
	require.NoError(t, c.Dismiss(ctx, issue.ID, model.HumanModelID, "accepted risk for this release"))

	issue = reloadIssue(t, st, issue.ID)
	assert.Equal(t, model.ConsensusDismissed, issue.ConsensusType)
	assert.Equal(t, model.SeverityDismissed, issue.FinalSeverity)
	assert.Equal(t, model.ProgressWontFix, issue.ProgressStatus)

	err := c.Dismiss(ctx, issue.ID, model.HumanModelID, "again")
	assertAppError(t, err, errors.ErrCodeConflict)

	require.NoError(t, c.Finish(ctx, session.ID, false))
	assert.Equal(t, model.PhaseComplete, reloadSession(t, st, session.ID).Phase)
}

func TestDismissWrongPhase(t *testing.T) {
	c, st, _, _, cleanup := newTestController(t)
	defer cleanup()

	_, issue := deliberatingWithIssue(t, c, st)
	err := c.Dismiss(context.Background(), issue.ID, model.HumanModelID, "")
	assertAppError(t, err, errors.ErrCodeSessionState)
}
