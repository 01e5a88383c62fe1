package lifecycle

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/arvlabs/arv/internal/events"
	"github.com/arvlabs/arv/internal/model"
	"github.com/arvlabs/arv/internal/store"
	"github.com/arvlabs/arv/pkg/errors"
	"github.com/arvlabs/arv/pkg/idgen"
	"github.com/arvlabs/arv/pkg/logger"
	"github.com/arvlabs/arv/pkg/telemetry"
)

// ContextInput is the author-supplied implementation context.
type ContextInput struct {
	Summary   string   `json:"summary"`
	Decisions []string `json:"decisions,omitempty"`
	Tradeoffs []string `json:"tradeoffs,omitempty"`
	Submitter string   `json:"submitter,omitempty"`
}

// CreateInput describes a new review session.
type CreateInput struct {
	RepoPath  string        `json:"repo_path"`
	BaseRev   string        `json:"base"`
	HeadRev   string        `json:"head"`
	PresetIDs []uint        `json:"preset_ids,omitempty"`
	Context   *ContextInput `json:"implementation_context,omitempty"`
}

// Create validates the working tree and revisions, then persists a new idle
// session with its reviewer roster instantiated from presets.
func (c *Controller) Create(ctx context.Context, in CreateInput) (*model.Session, error) {
	if in.RepoPath == "" {
		return nil, errors.ErrValidation("repo_path is required")
	}
	if in.BaseRev == "" || in.HeadRev == "" {
		return nil, errors.ErrValidation("base and head revisions are required")
	}

	info, err := c.reader.Validate(ctx, in.RepoPath)
	if err != nil {
		return nil, err
	}
	if _, err := c.reader.ResolveRev(ctx, info.Root, in.BaseRev); err != nil {
		return nil, err
	}
	if _, err := c.reader.ResolveRev(ctx, info.Root, in.HeadRev); err != nil {
		return nil, err
	}

	session := &model.Session{
		ID:                 idgen.NewSessionID(),
		RepoPath:           info.Root,
		BaseRev:            in.BaseRev,
		HeadRev:            in.HeadRev,
		Phase:              model.PhaseIdle,
		MaxTurns:           c.cfg.Review.MaxTurns,
		ConsensusThreshold: c.cfg.Review.ConsensusThreshold,
		AgentResponseGate:  c.cfg.Review.AgentResponseGate,
	}
	if in.Context != nil {
		now := time.Now()
		session.ContextSummary = in.Context.Summary
		session.ContextDecisions = in.Context.Decisions
		session.ContextTradeoffs = in.Context.Tradeoffs
		session.ContextSubmitter = in.Context.Submitter
		session.ContextSubmittedAt = &now
	}

	err = c.store.Transaction(func(tx store.Store) error {
		if err := tx.Session().Create(session); err != nil {
			return err
		}
		for _, presetID := range in.PresetIDs {
			preset, err := tx.Preset().GetByID(presetID)
			if err != nil {
				return errors.ErrNotFound("preset")
			}
			if err := tx.Session().CreateAgent(preset.Instantiate(session.ID)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if appErr, ok := errors.AsAppError(err); ok {
			return nil, appErr
		}
		return nil, errors.Wrap(errors.ErrCodeDBQuery, "failed to create session", err)
	}

	logger.Info("Session created",
		zap.String("session_id", session.ID),
		zap.String("repo", session.RepoPath),
		zap.String("base", session.BaseRev),
		zap.String("head", session.HeadRev),
	)
	return session, nil
}

// Start moves an idle session into collecting, mints reviewer tokens, and
// launches one review run per enabled agent. The session reaches reviewing
// before Start returns; the runs proceed detached.
func (c *Controller) Start(ctx context.Context, sessionID string) error {
	lock := c.lockSession(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := c.store.Session().GetByID(sessionID)
	if err != nil {
		return errors.ErrNotFound("session")
	}
	if session.Phase != model.PhaseIdle {
		return errors.ErrState(string(session.Phase), string(model.PhaseIdle))
	}
	agents, err := c.store.Session().ListEnabledAgents(sessionID)
	if err != nil {
		return errors.Wrap(errors.ErrCodeDBQuery, "failed to load agents", err)
	}
	if len(agents) == 0 {
		return errors.ErrValidation("session has no enabled agents")
	}

	if err := c.setPhase(session, model.PhaseCollecting); err != nil {
		return err
	}
	now := time.Now()
	session.StartedAt = &now
	if err := c.store.Session().Save(session); err != nil {
		return errors.Wrap(errors.ErrCodeDBQuery, "failed to persist session start", err)
	}

	// One opaque token per enabled reviewer
	keys := make(map[string]string, len(agents))
	for _, ag := range agents {
		key := idgen.NewAgentKey()
		if err := c.store.Token().Create(&model.AgentToken{
			Key:       key,
			SessionID: sessionID,
			ModelID:   ag.Model,
			Kind:      model.TokenKindAgent,
		}); err != nil {
			return errors.Wrap(errors.ErrCodeDBQuery, "failed to mint token", err)
		}
		keys[ag.Model] = key
	}

	changedFiles, diffSummary, err := c.collectDiff(ctx, session)
	if err != nil {
		return err
	}

	for i := range agents {
		ag := &agents[i]
		text, rerr := c.renderer.Review(c.reviewSpec(session, ag, keys[ag.Model], changedFiles, diffSummary))
		if rerr != nil {
			c.setAgentStatus(sessionID, ag.Model, model.AgentStatusFailed, "prompt build failed: "+rerr.Error())
			continue
		}
		c.spawnRun(session, ag, model.TaskReview, text)
	}

	if err := c.setPhase(session, model.PhaseReviewing); err != nil {
		return err
	}
	telemetry.GetMetrics().RecordSessionStarted(ctx, len(agents))
	return nil
}

// Finish completes a session. Without force it is a gate: confirmed
// fix_required issues that are still unhandled produce a conflict carrying
// the unresolved list. With force it stops every runner and completes.
func (c *Controller) Finish(ctx context.Context, sessionID string, force bool) error {
	lock := c.lockSession(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := c.store.Session().GetByID(sessionID)
	if err != nil {
		return errors.ErrNotFound("session")
	}
	if session.Phase == model.PhaseComplete {
		return nil
	}

	if !force {
		switch session.Phase {
		case model.PhaseCollecting, model.PhaseReviewing, model.PhaseDedup:
			return errors.ErrState(string(session.Phase),
				string(model.PhaseDeliberating), string(model.PhaseFixing), string(model.PhaseVerifying))
		}
		unresolved, err := c.unresolvedIssues(sessionID)
		if err != nil {
			return err
		}
		if len(unresolved) > 0 {
			return errors.New(errors.ErrCodeUnresolved, "session has unresolved issues").
				WithDetails(map[string]any{"unresolved_issues": unresolved})
		}
	}

	c.runner.StopSession(sessionID)
	return c.complete(session)
}

// unresolvedIssues lists confirmed fix_required issues the author has not
// handled yet.
func (c *Controller) unresolvedIssues(sessionID string) ([]map[string]any, error) {
	issues, err := c.store.Issue().ListByConsensusType(sessionID, model.ConsensusFixRequired)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDBQuery, "failed to load issues", err)
	}
	var unresolved []map[string]any
	for _, issue := range issues {
		if issue.ProgressStatus == model.ProgressReported || issue.ProgressStatus == model.ProgressFixed {
			unresolved = append(unresolved, map[string]any{
				"id":             issue.ID,
				"display_number": issue.DisplayNumber,
				"title":          issue.Title,
				"severity":       string(issue.Severity),
			})
		}
	}
	return unresolved, nil
}

// complete is the single path into the terminal phase.
func (c *Controller) complete(session *model.Session) error {
	from := session.Phase
	if err := c.setPhase(session, model.PhaseComplete); err != nil {
		return err
	}
	now := time.Now()
	session.FinishedAt = &now
	if err := c.store.Session().Save(session); err != nil {
		return errors.Wrap(errors.ErrCodeDBQuery, "failed to persist completion", err)
	}

	duration := 0.0
	if session.StartedAt != nil {
		duration = now.Sub(*session.StartedAt).Seconds()
	}
	telemetry.GetMetrics().RecordSessionFinished(context.Background(), string(from), duration)

	logger.Info("Session complete", zap.String("session_id", session.ID))
	return nil
}

// Delete stops every runner of the session and removes it with everything
// it owns.
func (c *Controller) Delete(ctx context.Context, sessionID string) error {
	lock := c.lockSession(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := c.store.Session().GetByID(sessionID); err != nil {
		return errors.ErrNotFound("session")
	}
	c.runner.StopSession(sessionID)
	if err := c.store.Session().Delete(sessionID); err != nil {
		return errors.Wrap(errors.ErrCodeDBQuery, "failed to delete session", err)
	}
	c.forgetSession(sessionID)
	logger.Info("Session deleted", zap.String("session_id", sessionID))
	return nil
}

// Recover resets sessions interrupted by a process restart. Runs detached
// at boot, before the HTTP surface accepts traffic.
//
// In-flight review phases are rolled back to reviewing (no reviews yet) or
// forward to deliberating; verifying rolls back to fixing so the author can
// re-issue fix-complete. Agents stuck reviewing are failed with a reason;
// late submissions with valid tokens are still accepted.
func (c *Controller) Recover() error {
	sessions, err := c.store.Session().ListActive()
	if err != nil {
		return errors.Wrap(errors.ErrCodeDBQuery, "failed to list sessions", err)
	}

	for i := range sessions {
		session := &sessions[i]
		lock := c.lockSession(session.ID)
		lock.Lock()

		agents, err := c.store.Session().ListAgents(session.ID)
		if err == nil {
			for _, ag := range agents {
				if ag.Status == model.AgentStatusReviewing {
					c.setAgentStatus(session.ID, ag.Model, model.AgentStatusFailed, "interrupted: server restarted")
				}
			}
		}

		var target model.Phase
		switch session.Phase {
		case model.PhaseCollecting, model.PhaseReviewing, model.PhaseDedup, model.PhaseDeliberating:
			reviews, rerr := c.store.Review().ListBySession(session.ID)
			if rerr == nil && len(reviews) > 0 {
				target = model.PhaseDeliberating
			} else {
				target = model.PhaseReviewing
			}
		case model.PhaseVerifying:
			target = model.PhaseFixing
		default:
			// idle, agent_response and fixing resume without runners
			lock.Unlock()
			continue
		}

		if target != session.Phase {
			from := session.Phase
			if err := c.store.Session().UpdatePhase(session.ID, target); err != nil {
				logger.Error("Recovery failed to reset phase",
					zap.String("session_id", session.ID), zap.Error(err))
			} else {
				session.Phase = target
				logger.Warn("Session recovered after restart",
					zap.String("session_id", session.ID),
					zap.String("from", string(from)),
					zap.String("to", string(target)),
				)
				c.bus.Publish(events.PhaseChange(session.ID, from, target))
			}
		}
		lock.Unlock()
	}
	return nil
}
