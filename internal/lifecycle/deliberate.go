package lifecycle

import (
	"context"

	"go.uber.org/zap"

	"github.com/arvlabs/arv/internal/consensus"
	"github.com/arvlabs/arv/internal/events"
	"github.com/arvlabs/arv/internal/model"
	"github.com/arvlabs/arv/internal/prompt"
	"github.com/arvlabs/arv/pkg/errors"
	"github.com/arvlabs/arv/pkg/idgen"
	"github.com/arvlabs/arv/pkg/logger"
	"github.com/arvlabs/arv/pkg/telemetry"
)

// startDeliberationTurn opens the next turn and launches a deliberation run
// per enabled agent over the undecided issues. At the turn cap the remaining
// undecided issues are frozen for operator action instead.
func (c *Controller) startDeliberationTurn(ctx context.Context, session *model.Session) error {
	undecided, err := c.store.Issue().ListUndecided(session.ID)
	if err != nil {
		return errors.Wrap(errors.ErrCodeDBQuery, "failed to load undecided issues", err)
	}
	if len(undecided) == 0 {
		return c.advanceAfterDeliberation(ctx, session)
	}

	if session.Turn >= c.maxTurns(session) {
		for i := range undecided {
			c.freezeUndecided(session, &undecided[i])
		}
		return c.advanceAfterDeliberation(ctx, session)
	}

	session.Turn++
	if err := c.store.Session().UpdateTurn(session.ID, session.Turn); err != nil {
		return errors.Wrap(errors.ErrCodeDBQuery, "failed to advance turn", err)
	}
	logger.Info("Deliberation turn opened",
		zap.String("session_id", session.ID),
		zap.Int("turn", session.Turn),
		zap.Int("undecided", len(undecided)),
	)

	briefs := make([]prompt.IssueBrief, 0, len(undecided))
	for i := range undecided {
		opinions, oerr := c.store.Issue().ListOpinions(undecided[i].ID)
		if oerr != nil {
			return errors.Wrap(errors.ErrCodeDBQuery, "failed to load thread", oerr)
		}
		briefs = append(briefs, issueBrief(&undecided[i], opinions))
	}

	keys, err := c.agentTokens(session.ID)
	if err != nil {
		return err
	}
	agents, err := c.store.Session().ListEnabledAgents(session.ID)
	if err != nil {
		return errors.Wrap(errors.ErrCodeDBQuery, "failed to load agents", err)
	}
	for i := range agents {
		ag := &agents[i]
		text, rerr := c.renderer.Deliberation(&prompt.DeliberationSpec{
			Model:        ag.Model,
			SystemPrompt: ag.SystemPrompt,
			Turn:         session.Turn,
			Issues:       briefs,
			APIBase:      c.sessionAPIBase(session.ID),
			Token:        keys[ag.Model],
		})
		if rerr != nil {
			c.setAgentStatus(session.ID, ag.Model, model.AgentStatusFailed, "prompt build failed: "+rerr.Error())
			continue
		}
		c.spawnRun(session, ag, model.TaskDeliberation, text)
	}
	return nil
}

// freezeUndecided marks an issue undecided at the turn cap.
func (c *Controller) freezeUndecided(session *model.Session, issue *model.Issue) {
	decided := false
	issue.Consensus = &decided
	issue.ConsensusType = model.ConsensusUndecided
	if err := c.store.Issue().Save(issue); err != nil {
		logger.Error("Failed to freeze undecided issue",
			zap.String("issue_id", issue.ID), zap.Error(err))
		return
	}
	telemetry.GetMetrics().RecordIssueStatus(context.Background(), string(model.ConsensusUndecided))
	c.bus.Publish(events.IssueStatusChanged(session.ID, issue.ID, string(model.ConsensusUndecided)))
}

// maybeAdvanceTurn moves deliberation forward once every enabled agent has
// finished its run for the turn.
func (c *Controller) maybeAdvanceTurn(ctx context.Context, session *model.Session) error {
	agents, err := c.store.Session().ListEnabledAgents(session.ID)
	if err != nil {
		return errors.Wrap(errors.ErrCodeDBQuery, "failed to load agents", err)
	}
	for _, ag := range agents {
		if !ag.Status.IsTerminal() {
			return nil
		}
	}
	return c.startDeliberationTurn(ctx, session)
}

// ProcessTurn is the operator's manual turn advance.
func (c *Controller) ProcessTurn(ctx context.Context, sessionID string) error {
	lock := c.lockSession(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := c.store.Session().GetByID(sessionID)
	if err != nil {
		return errors.ErrNotFound("session")
	}
	if session.Phase != model.PhaseDeliberating {
		return errors.ErrState(string(session.Phase), string(model.PhaseDeliberating))
	}
	return c.startDeliberationTurn(ctx, session)
}

// OpinionInput is one deliberation entry from a reviewer, the human
// operator, or the assist engine.
type OpinionInput struct {
	Action            model.OpinionAction `json:"action"`
	Reasoning         string              `json:"reasoning"`
	SuggestedSeverity model.Severity      `json:"suggested_severity,omitempty"`
	Confidence        *float64            `json:"confidence,omitempty"`
	Mentions          []string            `json:"mentions,omitempty"`
}

// SubmitOpinion appends an opinion to an issue's thread and recomputes
// consensus. Opinions are accepted from reviewing through verifying, so a
// raiser can still withdraw after a verdict; a human opinion on a completed
// session reopens deliberation.
func (c *Controller) SubmitOpinion(ctx context.Context, issueID, modelID string, in OpinionInput) (*model.Opinion, error) {
	issue, err := c.store.Issue().GetByID(issueID)
	if err != nil {
		return nil, errors.ErrNotFound("issue")
	}

	lock := c.lockSession(issue.SessionID)
	lock.Lock()
	defer lock.Unlock()

	// Reload under the lock
	issue, err = c.store.Issue().GetByID(issueID)
	if err != nil {
		return nil, errors.ErrNotFound("issue")
	}
	session, err := c.store.Session().GetByID(issue.SessionID)
	if err != nil {
		return nil, errors.ErrNotFound("session")
	}

	if issue.Closed() {
		return nil, errors.New(errors.ErrCodeIssueClosed, "issue is closed")
	}
	switch in.Action {
	case model.ActionFixRequired, model.ActionNoFix, model.ActionFalsePositive,
		model.ActionWithdraw, model.ActionComment:
	default:
		return nil, errors.ErrValidation("invalid opinion action: " + string(in.Action))
	}
	if in.Action == model.ActionFalsePositive && modelID == issue.RaisedBy {
		return nil, errors.ErrValidation("false_positive is not allowed from the raiser")
	}
	if in.Action == model.ActionWithdraw && modelID != issue.RaisedBy {
		return nil, errors.ErrValidation("withdraw is only allowed from the raiser")
	}
	if in.SuggestedSeverity != "" && !model.ValidSeverity(in.SuggestedSeverity) {
		return nil, errors.ErrValidation("unknown severity: " + string(in.SuggestedSeverity))
	}

	switch session.Phase {
	case model.PhaseReviewing, model.PhaseDeliberating, model.PhaseAgentResponse,
		model.PhaseFixing, model.PhaseVerifying:
	case model.PhaseComplete:
		if modelID != model.HumanModelID && modelID != model.HumanAssistModelID {
			return nil, errors.ErrState(string(session.Phase), string(model.PhaseDeliberating))
		}
		// Human feedback reopens a finished session; the touched issue loses
		// its verdict so deliberation picks it up again
		if err := c.setPhase(session, model.PhaseDeliberating); err != nil {
			return nil, err
		}
		session.Turn++
		if err := c.store.Session().UpdateTurn(session.ID, session.Turn); err != nil {
			return nil, errors.Wrap(errors.ErrCodeDBQuery, "failed to advance turn", err)
		}
		issue.Consensus = nil
		issue.ConsensusType = ""
		issue.FinalSeverity = ""
		if err := c.store.Issue().Save(issue); err != nil {
			return nil, errors.Wrap(errors.ErrCodeDBQuery, "failed to reopen issue", err)
		}
	default:
		return nil, errors.ErrState(string(session.Phase), string(model.PhaseDeliberating))
	}

	if in.Confidence != nil {
		clamped := *in.Confidence
		if clamped < 0 {
			clamped = 0
		}
		if clamped > 1 {
			clamped = 1
		}
		in.Confidence = &clamped
	}

	opinion := &model.Opinion{
		ID:                idgen.NewOpinionID(),
		IssueID:           issue.ID,
		SessionID:         session.ID,
		ModelID:           modelID,
		Action:            in.Action,
		Reasoning:         in.Reasoning,
		SuggestedSeverity: in.SuggestedSeverity,
		Confidence:        in.Confidence,
		Turn:              session.Turn,
		Mentions:          in.Mentions,
	}
	if err := c.store.Issue().AddOpinion(opinion); err != nil {
		return nil, errors.Wrap(errors.ErrCodeDBQuery, "failed to persist opinion", err)
	}
	c.bus.Publish(events.OpinionSubmitted(session.ID, issue.ID, modelID, in.Action))

	if err := c.evaluateIssue(session, issue); err != nil {
		return nil, err
	}

	// When the last open issue just got decided, move on without waiting
	// for the remaining runs
	switch session.Phase {
	case model.PhaseDeliberating:
		undecided, uerr := c.store.Issue().ListUndecided(session.ID)
		if uerr == nil && len(undecided) == 0 {
			if err := c.advanceAfterDeliberation(ctx, session); err != nil {
				return nil, err
			}
		}
	case model.PhaseAgentResponse, model.PhaseFixing:
		// A late withdraw can empty the author's queue
		confirmed, cerr := c.openFixRequired(session.ID)
		if cerr == nil && len(confirmed) == 0 {
			if err := c.complete(session); err != nil {
				return nil, err
			}
		}
	}
	return opinion, nil
}

// evaluateIssue recomputes consensus for one issue and applies the decision.
func (c *Controller) evaluateIssue(session *model.Session, issue *model.Issue) error {
	opinions, err := c.store.Issue().ListOpinions(issue.ID)
	if err != nil {
		return errors.Wrap(errors.ErrCodeDBQuery, "failed to load thread", err)
	}
	agents, err := c.store.Session().ListAgents(session.ID)
	if err != nil {
		return errors.Wrap(errors.ErrCodeDBQuery, "failed to load agents", err)
	}

	dec := consensus.Evaluate(issue, opinions, agents, c.threshold(session))
	if !dec.Decided {
		return nil
	}

	decided := true
	issue.Consensus = &decided
	issue.ConsensusType = dec.Type
	issue.FinalSeverity = dec.FinalSeverity
	if dec.Type == model.ConsensusDismissed || dec.Type == model.ConsensusClosed {
		issue.FinalSeverity = model.SeverityDismissed
	}
	issue.Turn = session.Turn
	if err := c.store.Issue().Save(issue); err != nil {
		return errors.Wrap(errors.ErrCodeDBQuery, "failed to persist consensus", err)
	}

	logger.Info("Issue decided",
		zap.String("session_id", session.ID),
		zap.String("issue_id", issue.ID),
		zap.String("consensus_type", string(dec.Type)),
		zap.Float64("fix_weight", dec.FixWeight),
		zap.Float64("no_fix_weight", dec.NoFixWeight),
	)
	m := telemetry.GetMetrics()
	m.RecordConsensusDecision(context.Background(), string(dec.Type), int64(session.Turn))
	m.RecordIssueStatus(context.Background(), string(dec.Type))
	c.bus.Publish(events.IssueStatusChanged(session.ID, issue.ID, string(dec.Type)))
	return nil
}

// advanceAfterDeliberation leaves deliberation once nothing is undecided:
// confirmed issues go to the author (optionally through the response gate),
// a clean slate completes the session.
func (c *Controller) advanceAfterDeliberation(ctx context.Context, session *model.Session) error {
	confirmed, err := c.openFixRequired(session.ID)
	if err != nil {
		return err
	}
	if len(confirmed) == 0 {
		return c.complete(session)
	}
	if session.AgentResponseGate && session.Phase == model.PhaseDeliberating {
		return c.setPhase(session, model.PhaseAgentResponse)
	}
	return c.setPhase(session, model.PhaseFixing)
}

// openFixRequired lists confirmed fix_required issues still awaiting the
// author.
func (c *Controller) openFixRequired(sessionID string) ([]model.Issue, error) {
	issues, err := c.store.Issue().ListByConsensusType(sessionID, model.ConsensusFixRequired)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDBQuery, "failed to load issues", err)
	}
	open := issues[:0]
	for _, issue := range issues {
		if issue.ProgressStatus == model.ProgressReported || issue.ProgressStatus == model.ProgressFixed {
			open = append(open, issue)
		}
	}
	return open, nil
}
