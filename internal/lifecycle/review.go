package lifecycle

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arvlabs/arv/internal/agent"
	"github.com/arvlabs/arv/internal/dedup"
	"github.com/arvlabs/arv/internal/events"
	"github.com/arvlabs/arv/internal/model"
	"github.com/arvlabs/arv/internal/prompt"
	"github.com/arvlabs/arv/pkg/errors"
	"github.com/arvlabs/arv/pkg/idgen"
	"github.com/arvlabs/arv/pkg/logger"
)

// collectDiff gathers the changed file list and the concatenated unified
// diff for the session's revision pair.
func (c *Controller) collectDiff(ctx context.Context, session *model.Session) ([]string, string, error) {
	changes, err := c.reader.Files(ctx, session.RepoPath, session.BaseRev, session.HeadRev)
	if err != nil {
		return nil, "", err
	}

	paths := make([]string, 0, len(changes))
	var diff strings.Builder
	for _, change := range changes {
		paths = append(paths, change.Path)
		if change.Binary {
			continue
		}
		text, derr := c.reader.Diff(ctx, session.RepoPath, session.BaseRev, session.HeadRev, change.Path)
		if derr != nil {
			logger.Warn("Skipping diff for file",
				zap.String("session_id", session.ID),
				zap.String("path", change.Path),
				zap.Error(derr),
			)
			continue
		}
		diff.WriteString(text)
	}
	return paths, diff.String(), nil
}

// reviewSpec assembles the first-pass prompt input for one agent.
func (c *Controller) reviewSpec(session *model.Session, ag *model.Agent, token string, changedFiles []string, diffSummary string) *prompt.ReviewSpec {
	return &prompt.ReviewSpec{
		Model:        ag.Model,
		SystemPrompt: ag.SystemPrompt,
		Strictness:   ag.Strictness,
		Focus:        ag.Focus,
		RepoPath:     session.RepoPath,
		BaseRev:      session.BaseRev,
		HeadRev:      session.HeadRev,
		ChangedFiles: changedFiles,
		DiffSummary:  diffSummary,
		Context:      contextFor(session),
		APIBase:      c.sessionAPIBase(session.ID),
		Token:        token,
	}
}

// IssueInput is one reported finding.
type IssueInput struct {
	Title       string         `json:"title"`
	Severity    model.Severity `json:"severity"`
	FilePath    string         `json:"file_path,omitempty"`
	LineStart   *int           `json:"line_start,omitempty"`
	LineEnd     *int           `json:"line_end,omitempty"`
	Description string         `json:"description,omitempty"`
	Suggestion  string         `json:"suggestion,omitempty"`
}

// ReportIssue records a finding from a reviewer (or the human operator).
// During reviewing the display number stays unassigned until dedup; later
// raises are numbered immediately.
func (c *Controller) ReportIssue(ctx context.Context, sessionID, modelID string, in IssueInput) (*model.Issue, error) {
	lock := c.lockSession(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := c.store.Session().GetByID(sessionID)
	if err != nil {
		return nil, errors.ErrNotFound("session")
	}
	if session.Phase != model.PhaseReviewing && session.Phase != model.PhaseDeliberating {
		return nil, errors.ErrState(string(session.Phase),
			string(model.PhaseReviewing), string(model.PhaseDeliberating))
	}
	if in.Title == "" {
		return nil, errors.ErrValidation("title is required")
	}
	if !model.ValidSeverity(in.Severity) {
		return nil, errors.ErrValidation("unknown severity: " + string(in.Severity))
	}

	issue := &model.Issue{
		ID:             idgen.NewIssueID(),
		SessionID:      sessionID,
		Title:          in.Title,
		Severity:       in.Severity,
		FilePath:       in.FilePath,
		LineStart:      in.LineStart,
		LineEnd:        in.LineEnd,
		Description:    in.Description,
		Suggestion:     in.Suggestion,
		RaisedBy:       modelID,
		RaisedTurn:     session.Turn,
		Turn:           session.Turn,
		GroupKey:       dedup.GroupKey(in.Title),
		ProgressStatus: model.ProgressReported,
	}
	issue.NormalizeLines()

	numbered := session.Phase != model.PhaseReviewing
	if numbered {
		num, nerr := c.store.Issue().NextDisplayNumber(sessionID)
		if nerr != nil {
			return nil, errors.Wrap(errors.ErrCodeDBQuery, "failed to allocate display number", nerr)
		}
		issue.DisplayNumber = num
	}

	if err := c.store.Issue().Create(issue); err != nil {
		return nil, errors.Wrap(errors.ErrCodeDBQuery, "failed to persist issue", err)
	}
	if err := c.store.Issue().AddOpinion(&model.Opinion{
		ID:                idgen.NewOpinionID(),
		IssueID:           issue.ID,
		SessionID:         sessionID,
		ModelID:           modelID,
		Action:            model.ActionRaise,
		Reasoning:         in.Description,
		SuggestedSeverity: in.Severity,
		Turn:              session.Turn,
	}); err != nil {
		return nil, errors.Wrap(errors.ErrCodeDBQuery, "failed to persist raise opinion", err)
	}

	if numbered {
		c.bus.Publish(events.IssueCreated(sessionID, issue.ID, issue.DisplayNumber, issue.Severity))
	}
	return issue, nil
}

// SubmitReview records a reviewer's round summary and closes its pass for
// the turn. Late submissions after a restart are accepted as long as the
// session has not completed.
func (c *Controller) SubmitReview(ctx context.Context, sessionID, modelID, summary string) (*model.Review, error) {
	lock := c.lockSession(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := c.store.Session().GetByID(sessionID)
	if err != nil {
		return nil, errors.ErrNotFound("session")
	}
	if session.Phase == model.PhaseComplete || session.Phase == model.PhaseIdle || session.Phase == model.PhaseCollecting {
		return nil, errors.ErrState(string(session.Phase), string(model.PhaseReviewing))
	}
	if _, err := c.store.Review().GetBySessionModelTurn(sessionID, modelID, session.Turn); err == nil {
		return nil, errors.New(errors.ErrCodeConflict, "review already submitted for this turn")
	}

	raised, err := c.countRaised(sessionID, modelID, session.Turn)
	if err != nil {
		return nil, err
	}
	review := &model.Review{
		SessionID:    sessionID,
		ModelID:      modelID,
		Turn:         session.Turn,
		SubmittedAt:  time.Now(),
		Summary:      summary,
		IssuesRaised: raised,
	}
	if err := c.store.Review().Create(review); err != nil {
		return nil, errors.Wrap(errors.ErrCodeDBQuery, "failed to persist review", err)
	}

	c.setAgentStatus(sessionID, modelID, model.AgentStatusSubmitted, "")
	c.bus.Publish(events.ReviewSubmitted(sessionID, modelID, session.Turn, raised))

	if session.Phase == model.PhaseReviewing {
		if err := c.maybeFinishReviewing(ctx, session); err != nil {
			return nil, err
		}
	}
	return review, nil
}

// countRaised counts the issues a model raised in a given turn.
func (c *Controller) countRaised(sessionID, modelID string, turn int) (int, error) {
	issues, err := c.store.Issue().ListBySession(sessionID)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeDBQuery, "failed to load issues", err)
	}
	count := 0
	for _, issue := range issues {
		if issue.RaisedBy == modelID && issue.RaisedTurn == turn {
			count++
		}
	}
	return count, nil
}

// PendingIssues lists a model's raises for the current turn.
func (c *Controller) PendingIssues(sessionID, modelID string) ([]model.Issue, error) {
	session, err := c.store.Session().GetByID(sessionID)
	if err != nil {
		return nil, errors.ErrNotFound("session")
	}
	issues, err := c.store.Issue().ListBySession(sessionID)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDBQuery, "failed to load issues", err)
	}
	var pending []model.Issue
	for _, issue := range issues {
		if issue.RaisedBy == modelID && issue.RaisedTurn == session.Turn {
			pending = append(pending, issue)
		}
	}
	return pending, nil
}

// handleRunExit is the runner's terminal callback. It converts the
// process-level outcome into an agent status, fills in an empty review for
// a silent first-pass reviewer, and advances the phase when the exit was
// the last one outstanding.
func (c *Controller) handleRunExit(sessionID, modelID string, task model.TaskType, res agent.Result) {
	lock := c.lockSession(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := c.store.Session().GetByID(sessionID)
	if err != nil {
		return // session deleted while the run was in flight
	}
	ag, err := c.store.Session().GetAgent(sessionID, modelID)
	if err != nil {
		return
	}

	if ag.Status == model.AgentStatusReviewing {
		status, reason := c.exitOutcome(session, modelID, task, res)
		c.setAgentStatus(sessionID, modelID, status, reason)

		if task == model.TaskReview && status == model.AgentStatusFailed {
			c.ensureEmptyReview(session, modelID)
		}
	}

	switch session.Phase {
	case model.PhaseReviewing:
		if err := c.maybeFinishReviewing(context.Background(), session); err != nil {
			logger.Error("Failed to advance past reviewing",
				zap.String("session_id", sessionID), zap.Error(err))
		}
	case model.PhaseDeliberating:
		if err := c.maybeAdvanceTurn(context.Background(), session); err != nil {
			logger.Error("Failed to advance deliberation turn",
				zap.String("session_id", sessionID), zap.Error(err))
		}
	}
}

// exitOutcome decides what a run exit means for the agent. A submission is
// recognized from the store, not from process output.
func (c *Controller) exitOutcome(session *model.Session, modelID string, task model.TaskType, res agent.Result) (model.AgentStatus, string) {
	switch {
	case res.Cancelled:
		return model.AgentStatusFailed, "cancelled"
	case res.TimedOut:
		return model.AgentStatusFailed, "deadline exceeded"
	case res.Err != nil:
		return model.AgentStatusFailed, "exited with error: " + res.Err.Error()
	}

	switch task {
	case model.TaskReview:
		if _, err := c.store.Review().GetBySessionModelTurn(session.ID, modelID, session.Turn); err == nil {
			return model.AgentStatusSubmitted, ""
		}
		return model.AgentStatusFailed, "completed without submitting a review"
	default:
		if c.hasOpinionThisTurn(session, modelID) {
			return model.AgentStatusSubmitted, ""
		}
		return model.AgentStatusWaiting, "completed without submitting an opinion"
	}
}

func (c *Controller) hasOpinionThisTurn(session *model.Session, modelID string) bool {
	opinions, err := c.store.Issue().ListOpinionsBySession(session.ID)
	if err != nil {
		return false
	}
	for _, op := range opinions {
		if op.ModelID == modelID && op.Turn == session.Turn && op.Action != model.ActionRaise {
			return true
		}
	}
	return false
}

// ensureEmptyReview records a zero-issue review for a reviewer that never
// submitted, so the round record stays complete.
func (c *Controller) ensureEmptyReview(session *model.Session, modelID string) {
	if _, err := c.store.Review().GetBySessionModelTurn(session.ID, modelID, session.Turn); err == nil {
		return
	}
	if err := c.store.Review().Create(&model.Review{
		SessionID:   session.ID,
		ModelID:     modelID,
		Turn:        session.Turn,
		SubmittedAt: time.Now(),
	}); err != nil {
		logger.Error("Failed to record empty review",
			zap.String("session_id", session.ID),
			zap.String("model", modelID),
			zap.Error(err),
		)
	}
}

// maybeFinishReviewing runs dedup once every enabled reviewer is terminal.
func (c *Controller) maybeFinishReviewing(ctx context.Context, session *model.Session) error {
	agents, err := c.store.Session().ListEnabledAgents(session.ID)
	if err != nil {
		return errors.Wrap(errors.ErrCodeDBQuery, "failed to load agents", err)
	}
	for _, ag := range agents {
		if !ag.Status.IsTerminal() {
			return nil
		}
	}
	return c.runDedup(ctx, session)
}

// runDedup collapses duplicate raises, assigns dense display numbers in
// raise order, and opens deliberation.
func (c *Controller) runDedup(ctx context.Context, session *model.Session) error {
	if err := c.setPhase(session, model.PhaseDedup); err != nil {
		return err
	}

	issues, err := c.store.Issue().ListBySession(session.ID)
	if err != nil {
		return errors.Wrap(errors.ErrCodeDBQuery, "failed to load issues", err)
	}
	refs := make([]*model.Issue, len(issues))
	for i := range issues {
		refs[i] = &issues[i]
	}

	result := dedup.Run(refs, c.cfg.Review.ProximityWindow)
	for i, group := range result.Groups {
		canonical := group.Canonical
		canonical.DisplayNumber = i + 1

		for _, merged := range group.Merged {
			op := dedup.MergeOpinion(canonical, merged, idgen.NewOpinionID())
			op.SessionID = session.ID
			if err := c.store.Issue().AddOpinion(op); err != nil {
				return errors.Wrap(errors.ErrCodeDBQuery, "failed to relocate merged raise", err)
			}
			canonical.MergedFrom = append(canonical.MergedFrom, merged.RaisedBy)
			if err := c.store.Issue().Delete(merged.ID); err != nil {
				return errors.Wrap(errors.ErrCodeDBQuery, "failed to drop merged issue", err)
			}
		}

		if err := c.store.Issue().Save(canonical); err != nil {
			return errors.Wrap(errors.ErrCodeDBQuery, "failed to persist canonical issue", err)
		}
		c.bus.Publish(events.IssueCreated(session.ID, canonical.ID, canonical.DisplayNumber, canonical.Severity))
	}

	logger.Info("Dedup finished",
		zap.String("session_id", session.ID),
		zap.Int("raised", len(issues)),
		zap.Int("canonical", len(result.Groups)),
	)

	if err := c.setPhase(session, model.PhaseDeliberating); err != nil {
		return err
	}
	return c.startDeliberationTurn(ctx, session)
}
