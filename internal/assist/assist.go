// Package assist runs per-issue helper conversations. An exchange is
// synchronous: the operator's question and the helper's reply are persisted
// on the issue's transcript, and the reply can later be converted into an
// opinion from the human-assist pseudo-reviewer. Transcripts never feed
// consensus directly.
package assist

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arvlabs/arv/consts"
	"github.com/arvlabs/arv/internal/agent"
	"github.com/arvlabs/arv/internal/config"
	"github.com/arvlabs/arv/internal/model"
	"github.com/arvlabs/arv/internal/prompt"
	"github.com/arvlabs/arv/internal/store"
	"github.com/arvlabs/arv/pkg/errors"
	"github.com/arvlabs/arv/pkg/logger"
)

// maxOutputChars bounds the reply persisted on the transcript.
const maxOutputChars = 32 * 1024

// runFunc executes one subprocess plan and returns its stdout.
type runFunc func(ctx context.Context, plan *agent.CommandPlan, workDir string) (string, error)

// Engine answers per-issue questions by invoking a helper client once per
// exchange. Runs are synchronous and bounded by a timeout; a run that does
// not finish in time yields a fallback message with the equivalent CLI
// command so the operator can continue by hand.
type Engine struct {
	cfg      *config.Config
	store    store.Store
	renderer *prompt.Renderer
	timeout  time.Duration
	run      runFunc
}

// New wires an assist engine against the shared store.
func New(cfg *config.Config, st store.Store) *Engine {
	return &Engine{
		cfg:      cfg,
		store:    st,
		renderer: prompt.NewRenderer(),
		timeout:  consts.DefaultAssistTimeout,
		run:      runPlan,
	}
}

// Ask records the operator's question, runs the helper client over the
// issue's report, thread and prior transcript, and records the reply. The
// returned message is the assistant's.
func (e *Engine) Ask(ctx context.Context, issueID, clientKind, modelName, question string) (*model.AssistMessage, error) {
	if strings.TrimSpace(question) == "" {
		return nil, errors.ErrValidation("question is required")
	}

	issue, err := e.store.Issue().GetByID(issueID)
	if err != nil {
		return nil, errors.ErrNotFound("issue")
	}
	opinions, err := e.store.Issue().ListOpinions(issueID)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDBQuery, "failed to load thread", err)
	}
	transcript, err := e.store.Issue().ListAssistMessages(issueID)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDBQuery, "failed to load transcript", err)
	}

	trigger, err := agent.TriggerFor(clientKind)
	if err != nil {
		return nil, err
	}

	text, err := e.renderer.Assist(e.assistSpec(issue, opinions, transcript, question))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, "failed to build assist prompt", err)
	}

	if err := e.store.Issue().AddAssistMessage(&model.AssistMessage{
		IssueID: issueID,
		Role:    "user",
		Content: question,
	}); err != nil {
		return nil, errors.Wrap(errors.ErrCodeDBQuery, "failed to record question", err)
	}

	detail := e.cfg.GetAgent(clientKind)
	cliPath := ""
	if detail != nil {
		cliPath = detail.CLIPath
	}
	plan := trigger.Build(&agent.TriggerSpec{Model: modelName, CLIPath: cliPath, Prompt: text})

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	started := time.Now()
	output, runErr := e.run(runCtx, plan, "")
	if runErr != nil {
		logger.Warn("Assist run failed, answering with a CLI fallback",
			zap.String("issue_id", issueID),
			zap.String("client_kind", clientKind),
			zap.Duration("elapsed", time.Since(started)),
			zap.Error(runErr),
		)
		output = fallbackMessage(plan, runCtx.Err() == context.DeadlineExceeded)
	}
	output = prompt.ClipText(strings.TrimSpace(output), maxOutputChars)
	if output == "" {
		output = fallbackMessage(plan, false)
	}

	reply := &model.AssistMessage{
		IssueID: issueID,
		Role:    "assistant",
		Content: output,
	}
	if err := e.store.Issue().AddAssistMessage(reply); err != nil {
		return nil, errors.Wrap(errors.ErrCodeDBQuery, "failed to record reply", err)
	}
	return reply, nil
}

// Transcript returns the conversation for an issue in insertion order.
func (e *Engine) Transcript(issueID string) ([]model.AssistMessage, error) {
	if _, err := e.store.Issue().GetByID(issueID); err != nil {
		return nil, errors.ErrNotFound("issue")
	}
	msgs, err := e.store.Issue().ListAssistMessages(issueID)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDBQuery, "failed to load transcript", err)
	}
	return msgs, nil
}

// LatestReply returns the newest assistant message, used to convert a
// conversation into an opinion.
func (e *Engine) LatestReply(issueID string) (*model.AssistMessage, error) {
	msgs, err := e.Transcript(issueID)
	if err != nil {
		return nil, err
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "assistant" {
			return &msgs[i], nil
		}
	}
	return nil, errors.New(errors.ErrCodeNotFound, "no assistant reply on record")
}

func (e *Engine) assistSpec(issue *model.Issue, opinions []model.Opinion, transcript []model.AssistMessage, question string) *prompt.AssistSpec {
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

	turns := make([]prompt.AssistTurn, 0, len(transcript))
	for _, msg := range transcript {
		turns = append(turns, prompt.AssistTurn{Role: msg.Role, Content: msg.Content})
	}
	return &prompt.AssistSpec{Issue: brief, Transcript: turns, Question: question}
}

// Defaults fills missing client kind and model from configuration.
func (e *Engine) Defaults(clientKind, modelName string) (string, string) {
	if clientKind == "" {
		clientKind = e.cfg.Assist.ClientKind
	}
	if modelName == "" {
		if detail := e.cfg.GetAgent(clientKind); detail != nil {
			modelName = detail.Model
		}
	}
	return clientKind, modelName
}

// CommandHint returns the shell invocation an operator can run to continue
// a conversation by hand.
func (e *Engine) CommandHint(clientKind, modelName string) (string, error) {
	trigger, err := agent.TriggerFor(clientKind)
	if err != nil {
		return "", err
	}
	detail := e.cfg.GetAgent(clientKind)
	cliPath := ""
	if detail != nil {
		cliPath = detail.CLIPath
	}
	plan := trigger.Build(&agent.TriggerSpec{Model: modelName, CLIPath: cliPath, Prompt: ""})
	// The prompt slot is left for the operator to fill
	return commandLine(plan), nil
}

// Chat runs one free-form exchange with a session reviewer's client. Nothing
// is persisted; the reply (or a CLI fallback) goes straight back.
func (e *Engine) Chat(ctx context.Context, clientKind, modelName, workDir, question string) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", errors.ErrValidation("message is required")
	}
	trigger, err := agent.TriggerFor(clientKind)
	if err != nil {
		return "", err
	}
	detail := e.cfg.GetAgent(clientKind)
	cliPath := ""
	if detail != nil {
		cliPath = detail.CLIPath
	}
	plan := trigger.Build(&agent.TriggerSpec{Model: modelName, CLIPath: cliPath, Prompt: question})

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	output, runErr := e.run(runCtx, plan, workDir)
	if runErr != nil {
		logger.Warn("Chat run failed, answering with a CLI fallback",
			zap.String("client_kind", clientKind),
			zap.Error(runErr),
		)
		return fallbackMessage(plan, runCtx.Err() == context.DeadlineExceeded), nil
	}
	return prompt.ClipText(strings.TrimSpace(output), maxOutputChars), nil
}

// commandLine renders a plan as a copy-pasteable shell command.
func commandLine(plan *agent.CommandPlan) string {
	cmd := plan.Path
	for _, arg := range plan.Args {
		if strings.ContainsAny(arg, " \t\n\"'") {
			arg = fmt.Sprintf("%q", arg)
		}
		cmd += " " + arg
	}
	return prompt.ClipText(cmd, 2000)
}

// fallbackMessage gives the operator the equivalent shell invocation when
// the helper could not answer.
func fallbackMessage(plan *agent.CommandPlan, timedOut bool) string {
	cause := "The helper client did not produce an answer."
	if timedOut {
		cause = "The helper client did not answer within the time limit."
	}
	hint := fmt.Sprintf("  %s", commandLine(plan))
	if plan.Stdin != "" {
		hint += "   (pipe the prompt on stdin)"
	}
	return cause + " You can run it manually:\n\n" + hint
}

// runPlan is the production run function: one subprocess, stdout captured,
// stderr kept for the error message.
func runPlan(ctx context.Context, plan *agent.CommandPlan, workDir string) (string, error) {
	cmd := exec.CommandContext(ctx, plan.Path, plan.Args...)
	if workDir != "" {
		cmd.Dir = workDir
	}
	if plan.Stdin != "" {
		cmd.Stdin = strings.NewReader(plan.Stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("%w: %s", err, prompt.ClipText(msg, 500))
		}
		return "", err
	}
	return stdout.String(), nil
}
