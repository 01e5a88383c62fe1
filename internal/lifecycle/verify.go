package lifecycle

import (
	"context"

	"go.uber.org/zap"

	"github.com/arvlabs/arv/internal/events"
	"github.com/arvlabs/arv/internal/model"
	"github.com/arvlabs/arv/internal/prompt"
	"github.com/arvlabs/arv/pkg/errors"
	"github.com/arvlabs/arv/pkg/idgen"
	"github.com/arvlabs/arv/pkg/logger"
)

// FixComplete records an author fix commit, advances the session head, and
// sends the raisers of the targeted issues a verification run over the
// delta diff.
func (c *Controller) FixComplete(ctx context.Context, sessionID, commit string, issueIDs []string) error {
	lock := c.lockSession(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := c.store.Session().GetByID(sessionID)
	if err != nil {
		return errors.ErrNotFound("session")
	}
	if session.Phase != model.PhaseFixing {
		return errors.ErrState(string(session.Phase), string(model.PhaseFixing))
	}
	if commit == "" {
		return errors.ErrValidation("commit is required")
	}
	if _, err := c.reader.ResolveRev(ctx, session.RepoPath, commit); err != nil {
		return err
	}

	open, err := c.openFixRequired(sessionID)
	if err != nil {
		return err
	}
	byID := make(map[string]*model.Issue, len(open))
	for i := range open {
		byID[open[i].ID] = &open[i]
	}

	var targeted []*model.Issue
	if len(issueIDs) == 0 {
		for i := range open {
			targeted = append(targeted, &open[i])
		}
	} else {
		for _, id := range issueIDs {
			issue, ok := byID[id]
			if !ok {
				return errors.ErrValidation("issue is not an open fix_required issue: " + id)
			}
			targeted = append(targeted, issue)
		}
	}
	if len(targeted) == 0 {
		return errors.ErrValidation("no open fix_required issues to verify")
	}

	prevHead := session.HeadRev
	session.HeadRev = commit
	if err := c.store.Session().Save(session); err != nil {
		return errors.Wrap(errors.ErrCodeDBQuery, "failed to advance session head", err)
	}

	ids := make([]string, 0, len(targeted))
	paths := make([]string, 0, len(targeted))
	seen := make(map[string]bool)
	for _, issue := range targeted {
		ids = append(ids, issue.ID)
		if issue.FilePath != "" && !seen[issue.FilePath] {
			seen[issue.FilePath] = true
			paths = append(paths, issue.FilePath)
		}
		issue.Responses = model.JSONMap{}
		issue.Turn = session.Turn
		if err := c.store.Issue().Save(issue); err != nil {
			return errors.Wrap(errors.ErrCodeDBQuery, "failed to reset issue responses", err)
		}
	}

	if err := c.store.Review().CreateFixCommit(&model.FixCommit{
		SessionID: sessionID,
		Commit:    commit,
		Round:     session.VerificationRound,
		IssueIDs:  ids,
	}); err != nil {
		return errors.Wrap(errors.ErrCodeDBQuery, "failed to record fix commit", err)
	}

	if err := c.setPhase(session, model.PhaseVerifying); err != nil {
		return err
	}

	delta, err := c.reader.Delta(ctx, session.RepoPath, prevHead, commit, paths)
	if err != nil {
		logger.Warn("Delta diff unavailable, verifying without it",
			zap.String("session_id", sessionID), zap.Error(err))
		delta = ""
	}
	c.spawnVerification(session, targeted, delta, commit)
	return nil
}

// spawnVerification launches one run per raiser over the issues it raised.
func (c *Controller) spawnVerification(session *model.Session, targeted []*model.Issue, delta, commit string) {
	byRaiser := make(map[string][]*model.Issue)
	for _, issue := range targeted {
		byRaiser[issue.RaisedBy] = append(byRaiser[issue.RaisedBy], issue)
	}

	keys, err := c.agentTokens(session.ID)
	if err != nil {
		logger.Error("Failed to load tokens for verification",
			zap.String("session_id", session.ID), zap.Error(err))
		return
	}

	for raiser, issues := range byRaiser {
		ag, aerr := c.store.Session().GetAgent(session.ID, raiser)
		if aerr != nil || !ag.Enabled {
			continue // human raisers respond through the API directly
		}
		briefs := make([]prompt.IssueBrief, 0, len(issues))
		for _, issue := range issues {
			opinions, oerr := c.store.Issue().ListOpinions(issue.ID)
			if oerr != nil {
				continue
			}
			briefs = append(briefs, issueBrief(issue, opinions))
		}
		text, rerr := c.renderer.Verification(&prompt.VerificationSpec{
			Model:   ag.Model,
			Commit:  commit,
			Round:   session.VerificationRound + 1,
			Issues:  briefs,
			Delta:   delta,
			APIBase: c.sessionAPIBase(session.ID),
			Token:   keys[ag.Model],
		})
		if rerr != nil {
			c.setAgentStatus(session.ID, ag.Model, model.AgentStatusFailed, "prompt build failed: "+rerr.Error())
			continue
		}
		c.spawnRun(session, ag, model.TaskVerification, text)
	}
}

// Respond records a verdict on a fix. During verifying only the raiser may
// respond; during the author-response gate the operator answers each
// confirmed issue before fixing starts.
func (c *Controller) Respond(ctx context.Context, issueID, modelID string, action model.RespondAction, reasoning string) error {
	issue, err := c.store.Issue().GetByID(issueID)
	if err != nil {
		return errors.ErrNotFound("issue")
	}

	lock := c.lockSession(issue.SessionID)
	lock.Lock()
	defer lock.Unlock()

	issue, err = c.store.Issue().GetByID(issueID)
	if err != nil {
		return errors.ErrNotFound("issue")
	}
	session, err := c.store.Session().GetByID(issue.SessionID)
	if err != nil {
		return errors.ErrNotFound("session")
	}
	if !model.ValidRespondAction(action) {
		return errors.ErrValidation("invalid respond action: " + string(action))
	}

	switch session.Phase {
	case model.PhaseVerifying:
		if modelID != issue.RaisedBy {
			return errors.ErrValidation("only the raiser may respond to a fix")
		}
		return c.respondVerifying(ctx, session, issue, modelID, action, reasoning)
	case model.PhaseAgentResponse:
		return c.respondGate(ctx, session, issue, modelID, action)
	default:
		return errors.ErrState(string(session.Phase),
			string(model.PhaseVerifying), string(model.PhaseAgentResponse))
	}
}

func (c *Controller) respondVerifying(ctx context.Context, session *model.Session, issue *model.Issue, modelID string, action model.RespondAction, reasoning string) error {
	if issue.Responses == nil {
		issue.Responses = model.JSONMap{}
	}
	issue.Responses[modelID] = string(action)
	if action == model.RespondAccept {
		issue.ProgressStatus = model.ProgressCompleted
	}
	if err := c.store.Issue().Save(issue); err != nil {
		return errors.Wrap(errors.ErrCodeDBQuery, "failed to record response", err)
	}
	if reasoning != "" {
		if err := c.store.Issue().AddOpinion(&model.Opinion{
			ID:        idgen.NewOpinionID(),
			IssueID:   issue.ID,
			SessionID: session.ID,
			ModelID:   modelID,
			Action:    model.ActionComment,
			Reasoning: reasoning,
			Turn:      session.Turn,
		}); err != nil {
			return errors.Wrap(errors.ErrCodeDBQuery, "failed to record response reasoning", err)
		}
	}
	c.bus.Publish(events.IssueStatusChanged(session.ID, issue.ID, string(action)))

	return c.evaluateVerification(ctx, session)
}

// evaluateVerification checks the targeted set of the latest fix commit.
// All verdicts in and none disputed completes the session; a dispute sends
// it back to fixing until the round cap.
func (c *Controller) evaluateVerification(ctx context.Context, session *model.Session) error {
	fc, err := c.store.Review().LatestFixCommit(session.ID)
	if err != nil {
		return errors.Wrap(errors.ErrCodeDBQuery, "failed to load fix commit", err)
	}

	disputed := false
	for _, id := range fc.IssueIDs {
		issue, ierr := c.store.Issue().GetByID(id)
		if ierr != nil {
			continue
		}
		verdict, ok := issue.Responses[issue.RaisedBy]
		if !ok {
			return nil // still waiting on a raiser
		}
		if verdict == string(model.RespondDispute) {
			disputed = true
		}
	}

	if !disputed {
		// Accepted fixes are done; anything still open (a partial verdict,
		// or issues outside the targeted set) sends the author back to fixing
		open, oerr := c.openFixRequired(session.ID)
		if oerr != nil {
			return oerr
		}
		if len(open) == 0 {
			return c.complete(session)
		}
		return c.setPhase(session, model.PhaseFixing)
	}

	round := session.VerificationRound + 1
	session.VerificationRound = round
	if err := c.store.Session().UpdateVerificationRound(session.ID, round); err != nil {
		return errors.Wrap(errors.ErrCodeDBQuery, "failed to advance verification round", err)
	}

	if round >= c.cfg.Review.MaxVerificationRounds {
		// Round cap: complete, leaving the disputed issues undecided
		for _, id := range fc.IssueIDs {
			issue, ierr := c.store.Issue().GetByID(id)
			if ierr != nil || issue.Responses[issue.RaisedBy] != string(model.RespondDispute) {
				continue
			}
			c.freezeUndecided(session, issue)
		}
		return c.complete(session)
	}

	session.Turn++
	if err := c.store.Session().UpdateTurn(session.ID, session.Turn); err != nil {
		return errors.Wrap(errors.ErrCodeDBQuery, "failed to advance turn", err)
	}
	logger.Info("Fix disputed, returning to fixing",
		zap.String("session_id", session.ID),
		zap.Int("round", round),
	)
	return c.setPhase(session, model.PhaseFixing)
}

// respondGate records the author's answer to one confirmed issue during the
// agent_response gate. Accept or partial across the whole confirmed set
// opens fixing; any dispute reopens deliberation.
func (c *Controller) respondGate(ctx context.Context, session *model.Session, issue *model.Issue, modelID string, action model.RespondAction) error {
	if issue.Responses == nil {
		issue.Responses = model.JSONMap{}
	}
	issue.Responses[modelID] = string(action)
	if err := c.store.Issue().Save(issue); err != nil {
		return errors.Wrap(errors.ErrCodeDBQuery, "failed to record response", err)
	}
	c.bus.Publish(events.IssueStatusChanged(session.ID, issue.ID, string(action)))

	confirmed, err := c.openFixRequired(session.ID)
	if err != nil {
		return err
	}
	disputed := false
	for i := range confirmed {
		verdict, ok := confirmed[i].Responses[modelID]
		if !ok {
			return nil // gate still open
		}
		if verdict == string(model.RespondDispute) {
			disputed = true
		}
	}

	// Clear the gate answers either way; a disputed issue loses its verdict
	// so the next deliberation turn picks it up again
	for i := range confirmed {
		cur := &confirmed[i]
		if cur.Responses[modelID] == string(model.RespondDispute) {
			cur.Consensus = nil
			cur.ConsensusType = ""
			cur.FinalSeverity = ""
		}
		cur.Responses = model.JSONMap{}
		if err := c.store.Issue().Save(cur); err != nil {
			return errors.Wrap(errors.ErrCodeDBQuery, "failed to clear responses", err)
		}
	}

	if disputed {
		if err := c.setPhase(session, model.PhaseDeliberating); err != nil {
			return err
		}
		return c.startDeliberationTurn(ctx, session)
	}
	return c.setPhase(session, model.PhaseFixing)
}

// SetIssueStatus records the author's progress on an issue. `completed` is
// reserved for a verification pass and rejected here.
func (c *Controller) SetIssueStatus(ctx context.Context, issueID, modelID string, status model.ProgressStatus, reasoning string) error {
	issue, err := c.store.Issue().GetByID(issueID)
	if err != nil {
		return errors.ErrNotFound("issue")
	}

	lock := c.lockSession(issue.SessionID)
	lock.Lock()
	defer lock.Unlock()

	issue, err = c.store.Issue().GetByID(issueID)
	if err != nil {
		return errors.ErrNotFound("issue")
	}
	session, err := c.store.Session().GetByID(issue.SessionID)
	if err != nil {
		return errors.ErrNotFound("session")
	}

	if status != model.ProgressFixed && status != model.ProgressWontFix {
		return errors.ErrValidation("status must be fixed or wont_fix")
	}
	if issue.Closed() {
		return errors.New(errors.ErrCodeIssueClosed, "issue is closed")
	}
	if session.Phase != model.PhaseFixing && session.Phase != model.PhaseVerifying {
		return errors.ErrState(string(session.Phase),
			string(model.PhaseFixing), string(model.PhaseVerifying))
	}

	prev := issue.ProgressStatus
	issue.ProgressStatus = status
	if err := c.store.Issue().Save(issue); err != nil {
		return errors.Wrap(errors.ErrCodeDBQuery, "failed to persist status", err)
	}
	if err := c.store.Issue().AddOpinion(&model.Opinion{
		ID:             idgen.NewOpinionID(),
		IssueID:        issue.ID,
		SessionID:      session.ID,
		ModelID:        modelID,
		Action:         model.ActionStatusChange,
		Reasoning:      reasoning,
		Turn:           session.Turn,
		PreviousStatus: string(prev),
		StatusValue:    string(status),
	}); err != nil {
		return errors.Wrap(errors.ErrCodeDBQuery, "failed to record status change", err)
	}
	c.bus.Publish(events.IssueStatusChanged(session.ID, issue.ID, string(status)))
	return nil
}

// Dismiss lets the operator drop a confirmed fix_required issue during
// fixing. Dismissing twice is a conflict.
func (c *Controller) Dismiss(ctx context.Context, issueID, modelID, reasoning string) error {
	issue, err := c.store.Issue().GetByID(issueID)
	if err != nil {
		return errors.ErrNotFound("issue")
	}

	lock := c.lockSession(issue.SessionID)
	lock.Lock()
	defer lock.Unlock()

	issue, err = c.store.Issue().GetByID(issueID)
	if err != nil {
		return errors.ErrNotFound("issue")
	}
	session, err := c.store.Session().GetByID(issue.SessionID)
	if err != nil {
		return errors.ErrNotFound("session")
	}

	if session.Phase != model.PhaseFixing {
		return errors.ErrState(string(session.Phase), string(model.PhaseFixing))
	}
	if issue.ConsensusType == model.ConsensusDismissed {
		return errors.New(errors.ErrCodeConflict, "issue is already dismissed")
	}
	if issue.ConsensusType != model.ConsensusFixRequired {
		return errors.ErrValidation("only fix_required issues can be dismissed")
	}

	prev := issue.ProgressStatus
	issue.ConsensusType = model.ConsensusDismissed
	issue.FinalSeverity = model.SeverityDismissed
	issue.ProgressStatus = model.ProgressWontFix
	if err := c.store.Issue().Save(issue); err != nil {
		return errors.Wrap(errors.ErrCodeDBQuery, "failed to persist dismissal", err)
	}
	if err := c.store.Issue().AddOpinion(&model.Opinion{
		ID:             idgen.NewOpinionID(),
		IssueID:        issue.ID,
		SessionID:      session.ID,
		ModelID:        modelID,
		Action:         model.ActionStatusChange,
		Reasoning:      reasoning,
		Turn:           session.Turn,
		PreviousStatus: string(prev),
		StatusValue:    string(model.ProgressWontFix),
	}); err != nil {
		return errors.Wrap(errors.ErrCodeDBQuery, "failed to record dismissal", err)
	}
	c.bus.Publish(events.IssueStatusChanged(session.ID, issue.ID, string(model.ConsensusDismissed)))
	return nil
}
