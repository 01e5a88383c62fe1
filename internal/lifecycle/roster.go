package lifecycle

import (
	"context"

	"go.uber.org/zap"

	"github.com/arvlabs/arv/internal/agent"
	"github.com/arvlabs/arv/internal/events"
	"github.com/arvlabs/arv/internal/model"
	"github.com/arvlabs/arv/pkg/errors"
	"github.com/arvlabs/arv/pkg/idgen"
	"github.com/arvlabs/arv/pkg/logger"
)

// AgentInput describes a reviewer to add to a session's roster.
type AgentInput struct {
	Model        string   `json:"model"`
	ClientKind   string   `json:"client_kind"`
	Provider     string   `json:"provider,omitempty"`
	Strictness   string   `json:"strictness,omitempty"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	Focus        []string `json:"focus,omitempty"`
	Color        string   `json:"color,omitempty"`
}

// AgentUpdate is a partial roster edit. Nil fields are left untouched.
type AgentUpdate struct {
	Strictness   *string  `json:"strictness,omitempty"`
	SystemPrompt *string  `json:"system_prompt,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	Focus        []string `json:"focus,omitempty"`
	Color        *string  `json:"color,omitempty"`
	Enabled      *bool    `json:"enabled,omitempty"`
}

// validStrictness is the closed set accepted on roster writes.
func validStrictness(s string) bool {
	return s == "strict" || s == "balanced" || s == "lenient"
}

// AddAgent joins a reviewer to the session mid-flight. The new reviewer gets
// a token immediately when the session is already running; it participates
// from the next turn it is prompted for.
func (c *Controller) AddAgent(ctx context.Context, sessionID string, in AgentInput) (*model.Agent, error) {
	lock := c.lockSession(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := c.store.Session().GetByID(sessionID)
	if err != nil {
		return nil, errors.ErrNotFound("session")
	}
	if session.Phase.IsTerminal() {
		return nil, errors.ErrState(string(session.Phase))
	}
	if in.Model == "" {
		return nil, errors.ErrValidation("model is required")
	}
	if _, err := agent.TriggerFor(in.ClientKind); err != nil {
		return nil, err
	}
	if in.Strictness == "" {
		in.Strictness = "balanced"
	}
	if !validStrictness(in.Strictness) {
		return nil, errors.ErrValidation("unknown strictness: " + in.Strictness)
	}
	if existing, err := c.store.Session().GetAgent(sessionID, in.Model); err == nil && existing != nil {
		return nil, errors.New(errors.ErrCodeConflict, "agent already on the roster: "+in.Model)
	}

	ag := &model.Agent{
		SessionID:    sessionID,
		Model:        in.Model,
		ClientKind:   in.ClientKind,
		Provider:     in.Provider,
		Strictness:   in.Strictness,
		SystemPrompt: in.SystemPrompt,
		Temperature:  in.Temperature,
		Focus:        in.Focus,
		Color:        in.Color,
		Enabled:      true,
		Status:       model.AgentStatusIdle,
	}
	if err := c.store.Session().CreateAgent(ag); err != nil {
		return nil, errors.Wrap(errors.ErrCodeDBQuery, "failed to add agent", err)
	}

	// Sessions past idle already handed out tokens at start; late joiners
	// get theirs here so they can report as soon as they are prompted.
	if session.Phase != model.PhaseIdle {
		if err := c.store.Token().Create(&model.AgentToken{
			Key:       idgen.NewAgentKey(),
			SessionID: sessionID,
			ModelID:   ag.Model,
			Kind:      model.TokenKindAgent,
		}); err != nil {
			return nil, errors.Wrap(errors.ErrCodeDBQuery, "failed to mint token", err)
		}
	}

	logger.Info("Agent added to roster",
		zap.String("session_id", sessionID),
		zap.String("model", ag.Model),
		zap.String("client_kind", ag.ClientKind),
	)
	c.bus.Publish(events.AgentConfigChanged(sessionID, ag.Model))
	return ag, nil
}

// UpdateAgent applies a partial edit to one reviewer's configuration.
func (c *Controller) UpdateAgent(ctx context.Context, sessionID, modelID string, in AgentUpdate) (*model.Agent, error) {
	lock := c.lockSession(sessionID)
	lock.Lock()
	defer lock.Unlock()

	ag, err := c.store.Session().GetAgent(sessionID, modelID)
	if err != nil {
		return nil, errors.ErrNotFound("agent")
	}

	if in.Strictness != nil {
		if !validStrictness(*in.Strictness) {
			return nil, errors.ErrValidation("unknown strictness: " + *in.Strictness)
		}
		ag.Strictness = *in.Strictness
	}
	if in.SystemPrompt != nil {
		ag.SystemPrompt = *in.SystemPrompt
	}
	if in.Temperature != nil {
		ag.Temperature = in.Temperature
	}
	if in.Focus != nil {
		ag.Focus = in.Focus
	}
	if in.Color != nil {
		ag.Color = *in.Color
	}
	if in.Enabled != nil {
		ag.Enabled = *in.Enabled
		// Disabling a mid-run reviewer also stops its subprocess
		if !ag.Enabled && c.runner.Stop(sessionID, modelID) {
			ag.Status = model.AgentStatusIdle
			ag.StatusReason = "disabled by operator"
		}
	}

	if err := c.store.Session().UpdateAgent(ag); err != nil {
		return nil, errors.Wrap(errors.ErrCodeDBQuery, "failed to update agent", err)
	}
	c.bus.Publish(events.AgentConfigChanged(sessionID, modelID))
	return ag, nil
}

// RemoveAgent drops a reviewer from the roster, stopping its run and
// revoking its token. Issues it raised stay on record.
func (c *Controller) RemoveAgent(ctx context.Context, sessionID, modelID string) error {
	lock := c.lockSession(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := c.store.Session().GetAgent(sessionID, modelID); err != nil {
		return errors.ErrNotFound("agent")
	}

	c.runner.Stop(sessionID, modelID)
	if err := c.store.Session().DeleteAgent(sessionID, modelID); err != nil {
		return errors.Wrap(errors.ErrCodeDBQuery, "failed to remove agent", err)
	}

	tokens, err := c.store.Token().ListBySession(sessionID)
	if err == nil {
		for _, t := range tokens {
			if t.ModelID == modelID {
				if derr := c.store.Token().Delete(t.ID); derr != nil {
					logger.Warn("Failed to revoke token of removed agent",
						zap.String("session_id", sessionID),
						zap.String("model", modelID),
						zap.Error(derr),
					)
				}
			}
		}
	}

	logger.Info("Agent removed from roster",
		zap.String("session_id", sessionID),
		zap.String("model", modelID),
	)
	c.bus.Publish(events.AgentConfigChanged(sessionID, modelID))
	return nil
}
