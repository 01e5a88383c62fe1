// Package lifecycle implements the session state machine. It is the only
// component that mutates session state: the HTTP layer parses and
// authenticates, then calls in here; the controller reads the working tree
// through the repo facade, launches reviewers through the runner, and routes
// their submissions through dedup and consensus.
package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arvlabs/arv/internal/agent"
	"github.com/arvlabs/arv/internal/config"
	"github.com/arvlabs/arv/internal/events"
	"github.com/arvlabs/arv/internal/model"
	"github.com/arvlabs/arv/internal/prompt"
	"github.com/arvlabs/arv/internal/repo"
	"github.com/arvlabs/arv/internal/store"
	"github.com/arvlabs/arv/pkg/errors"
	"github.com/arvlabs/arv/pkg/logger"
)

// promptPreviewChars bounds the prompt excerpt kept on the agent record.
const promptPreviewChars = 500

// ProcessRunner launches and supervises reviewer subprocesses.
// *agent.Runner is the production implementation.
type ProcessRunner interface {
	Start(ctx context.Context, spec agent.RunSpec, onExit func(agent.Result)) error
	Stop(sessionID, model string) bool
	StopSession(sessionID string)
	Runtime(sessionID, model string) *agent.RuntimeInfo
	RunningCount(sessionID string) int
}

// RepoReader is the read-only working-tree facade the controller needs.
// *repo.Reader is the production implementation.
type RepoReader interface {
	Validate(ctx context.Context, path string) (*repo.Info, error)
	ResolveRev(ctx context.Context, root, rev string) (string, error)
	Files(ctx context.Context, root, base, head string) ([]repo.FileChange, error)
	Diff(ctx context.Context, root, base, head, path string) (string, error)
	Delta(ctx context.Context, root, prevHead, newHead string, paths []string) (string, error)
}

// Controller owns every session mutation. One mutex per session serializes
// transitions; the mutex is never held across a subprocess wait.
type Controller struct {
	cfg      *config.Config
	store    store.Store
	runner   ProcessRunner
	reader   RepoReader
	bus      *events.Bus
	renderer *prompt.Renderer
	baseURL  string

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	current string // "current" session alias
}

// New wires a Controller. baseURL is the externally reachable server root
// embedded in reviewer prompts, e.g. http://127.0.0.1:8420.
func New(cfg *config.Config, st store.Store, runner ProcessRunner, reader RepoReader, bus *events.Bus, baseURL string) *Controller {
	return &Controller{
		cfg:      cfg,
		store:    st,
		runner:   runner,
		reader:   reader,
		bus:      bus,
		renderer: prompt.NewRenderer(),
		baseURL:  strings.TrimRight(baseURL, "/"),
		locks:    make(map[string]*sync.Mutex),
	}
}

// lockSession returns the per-session mutex, creating it on first use.
func (c *Controller) lockSession(sessionID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[sessionID] = l
	}
	return l
}

func (c *Controller) forgetSession(sessionID string) {
	c.mu.Lock()
	delete(c.locks, sessionID)
	if c.current == sessionID {
		c.current = ""
	}
	c.mu.Unlock()
}

// Activate binds the "current" session alias.
func (c *Controller) Activate(sessionID string) error {
	if _, err := c.store.Session().GetByID(sessionID); err != nil {
		return errors.ErrNotFound("session")
	}
	c.mu.Lock()
	c.current = sessionID
	c.mu.Unlock()
	return nil
}

// Current returns the activated session ID, empty when none is bound.
func (c *Controller) Current() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Runtime exposes a reviewer's retained output streams.
func (c *Controller) Runtime(sessionID, modelID string) *agent.RuntimeInfo {
	return c.runner.Runtime(sessionID, modelID)
}

// setPhase commits a transition and broadcasts it. The event fires only
// after the store write succeeded.
func (c *Controller) setPhase(session *model.Session, to model.Phase) error {
	from := session.Phase
	if !from.CanTransition(to) {
		return errors.ErrState(string(from), string(to))
	}
	if err := c.store.Session().UpdatePhase(session.ID, to); err != nil {
		return errors.Wrap(errors.ErrCodeDBQuery, "failed to persist phase", err)
	}
	session.Phase = to
	logger.Info("Session phase changed",
		zap.String("session_id", session.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	c.bus.Publish(events.PhaseChange(session.ID, from, to))
	return nil
}

// setAgentStatus persists and broadcasts one reviewer's status.
func (c *Controller) setAgentStatus(sessionID, modelID string, status model.AgentStatus, reason string) {
	if err := c.store.Session().UpdateAgentStatus(sessionID, modelID, status, reason); err != nil {
		logger.Error("Failed to update agent status",
			zap.String("session_id", sessionID),
			zap.String("model", modelID),
			zap.Error(err),
		)
		return
	}
	c.bus.Publish(events.AgentStatus(sessionID, modelID, status, reason))
}

// maxTurns returns the deliberation turn cap for a session.
func (c *Controller) maxTurns(session *model.Session) int {
	if session.MaxTurns > 0 {
		return session.MaxTurns
	}
	return c.cfg.Review.MaxTurns
}

// threshold returns the consensus threshold for a session.
func (c *Controller) threshold(session *model.Session) float64 {
	if session.ConsensusThreshold > 0 {
		return session.ConsensusThreshold
	}
	return c.cfg.Review.ConsensusThreshold
}

// sessionAPIBase is the session-scoped URL reviewers report through.
func (c *Controller) sessionAPIBase(sessionID string) string {
	return fmt.Sprintf("%s/api/sessions/%s", c.baseURL, sessionID)
}

// agentTokens maps model IDs to their reviewer access keys.
func (c *Controller) agentTokens(sessionID string) (map[string]string, error) {
	tokens, err := c.store.Token().ListBySession(sessionID)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDBQuery, "failed to load tokens", err)
	}
	keys := make(map[string]string, len(tokens))
	for _, t := range tokens {
		if t.Kind == model.TokenKindAgent {
			keys[t.ModelID] = t.Key
		}
	}
	return keys, nil
}

// spawnRun marks the agent reviewing and hands the subprocess to the runner.
// Launch failures land on the agent record, never on the caller.
func (c *Controller) spawnRun(session *model.Session, ag *model.Agent, task model.TaskType, promptText string) {
	detail := c.cfg.GetAgent(ag.ClientKind)
	cliPath := ""
	if detail != nil {
		cliPath = detail.CLIPath
	}

	now := time.Now()
	ag.Status = model.AgentStatusReviewing
	ag.StatusReason = ""
	ag.TaskType = task
	ag.LastReviewingAt = &now
	ag.PromptPreview = prompt.ClipText(promptText, promptPreviewChars)
	if err := c.store.Session().UpdateAgent(ag); err != nil {
		logger.Error("Failed to persist agent launch state",
			zap.String("session_id", session.ID),
			zap.String("model", ag.Model),
			zap.Error(err),
		)
	}
	c.bus.Publish(events.AgentStatus(session.ID, ag.Model, model.AgentStatusReviewing, ""))

	sessionID, modelID := session.ID, ag.Model
	err := c.runner.Start(context.Background(), agent.RunSpec{
		SessionID:  sessionID,
		Model:      modelID,
		ClientKind: ag.ClientKind,
		CLIPath:    cliPath,
		Prompt:     promptText,
		WorkDir:    session.RepoPath,
		Deadline:   detail.RunDeadline(),
	}, func(res agent.Result) {
		c.handleRunExit(sessionID, modelID, task, res)
	})
	if err != nil {
		c.setAgentStatus(sessionID, modelID, model.AgentStatusFailed, "launch failed: "+err.Error())
	}
}

// issueBrief converts an issue and its thread into prompt context.
func issueBrief(issue *model.Issue, opinions []model.Opinion) prompt.IssueBrief {
	brief := prompt.IssueBrief{
		DisplayNumber: issue.DisplayNumber,
		IssueID:       issue.ID,
		Title:         issue.Title,
		Severity:      string(issue.Severity),
		FilePath:      issue.FilePath,
		RaisedBy:      issue.RaisedBy,
		Description:   issue.Description,
	}
	if issue.LineStart != nil {
		brief.LineStart = *issue.LineStart
	}
	if issue.LineEnd != nil {
		brief.LineEnd = *issue.LineEnd
	}
	for _, op := range opinions {
		if op.Action == model.ActionRaise {
			continue
		}
		brief.Thread = append(brief.Thread,
			fmt.Sprintf("%s (%s): %s", op.ModelID, op.Action, op.Reasoning))
	}
	return brief
}

// contextFor converts the session's stored implementation context for
// prompt rendering; nil when the author supplied none.
func contextFor(session *model.Session) *prompt.SessionContext {
	if session.ContextSummary == "" && len(session.ContextDecisions) == 0 && len(session.ContextTradeoffs) == 0 {
		return nil
	}
	return &prompt.SessionContext{
		Summary:   session.ContextSummary,
		Decisions: strings.Join(session.ContextDecisions, "\n"),
		Tradeoffs: strings.Join(session.ContextTradeoffs, "\n"),
	}
}
