// Package conntest probes that a reviewer client can be launched and can
// reach the server. A probe mints a single-use token, instructs the client
// to call back with it, and reports progress as a stream of typed events.
package conntest

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arvlabs/arv/consts"
	"github.com/arvlabs/arv/internal/agent"
	"github.com/arvlabs/arv/internal/config"
	"github.com/arvlabs/arv/internal/model"
	"github.com/arvlabs/arv/internal/prompt"
	"github.com/arvlabs/arv/internal/store"
	"github.com/arvlabs/arv/pkg/errors"
	"github.com/arvlabs/arv/pkg/idgen"
	"github.com/arvlabs/arv/pkg/logger"
)

// Event is one NDJSON line of a probe stream.
type Event struct {
	Type      string `json:"type"` // started | trigger_done | result
	OK        bool   `json:"ok"`
	Message   string `json:"message,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms,omitempty"`
}

// runFunc executes one subprocess plan and returns its combined output.
type runFunc func(ctx context.Context, plan *agent.CommandPlan) (string, error)

// Tester runs connection probes. Confirm is called by the HTTP callback
// handler when the probed client phones home.
type Tester struct {
	cfg      *config.Config
	store    store.Store
	renderer *prompt.Renderer
	timeout  time.Duration
	run      runFunc

	mu      sync.Mutex
	pending map[string]chan struct{} // token key -> callback signal
}

// New wires a connection tester against the shared store.
func New(cfg *config.Config, st store.Store) *Tester {
	return &Tester{
		cfg:      cfg,
		store:    st,
		renderer: prompt.NewRenderer(),
		timeout:  consts.DefaultConnTestTimeout,
		run:      runPlan,
		pending:  make(map[string]chan struct{}),
	}
}

// Run executes one probe and emits started, trigger_done and result events
// in order. The callback URL handed to the client is callbackURL; the token
// it must present travels in the prompt. Run blocks until the result event.
func (t *Tester) Run(ctx context.Context, clientKind, modelName, callbackURL string, emit func(Event)) {
	started := time.Now()
	result := func(ok bool, message string) {
		emit(Event{Type: "result", OK: ok, Message: message, ElapsedMS: time.Since(started).Milliseconds()})
	}

	trigger, err := agent.TriggerFor(clientKind)
	if err != nil {
		emit(Event{Type: "started", OK: false, Message: err.Error()})
		result(false, "unknown client kind: "+clientKind)
		return
	}

	detail := t.cfg.GetAgent(clientKind)
	cliPath := ""
	if detail != nil {
		cliPath = detail.CLIPath
	}
	if !trigger.Available(cliPath) {
		emit(Event{Type: "started", OK: false, Message: "client binary not found"})
		result(false, "client binary not found for kind "+clientKind)
		return
	}

	key := idgen.NewAgentKey()
	expires := time.Now().Add(t.timeout)
	if err := t.store.Token().Create(&model.AgentToken{
		Key:       key,
		ModelID:   modelName,
		Kind:      model.TokenKindConnTest,
		ExpiresAt: &expires,
	}); err != nil {
		emit(Event{Type: "started", OK: false, Message: "failed to mint probe token"})
		result(false, "failed to mint probe token")
		return
	}
	defer t.forget(key)

	text, err := t.renderer.ConnTest(&prompt.ConnTestSpec{CallbackURL: callbackURL, Token: key})
	if err != nil {
		result(false, "failed to build probe prompt")
		return
	}

	signal := make(chan struct{}, 1)
	t.mu.Lock()
	t.pending[key] = signal
	t.mu.Unlock()

	emit(Event{Type: "started", OK: true, Message: fmt.Sprintf("launching %s client", clientKind)})

	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		plan := trigger.Build(&agent.TriggerSpec{Model: modelName, CLIPath: cliPath, Prompt: text})
		_, runErr := t.run(runCtx, plan)
		done <- runErr
	}()

	// The callback can land before or after the client exits; both orders
	// are a pass as long as the token was presented in time
	confirmed := false
	exited := false
	for !confirmed {
		select {
		case <-signal:
			confirmed = true
		case runErr := <-done:
			if exited {
				continue
			}
			exited = true
			if runErr != nil {
				emit(Event{Type: "trigger_done", OK: false, Message: runErr.Error()})
			} else {
				emit(Event{Type: "trigger_done", OK: true})
			}
			// Give a late callback a moment after a clean exit
			select {
			case <-signal:
				confirmed = true
			case <-time.After(2 * time.Second):
				result(false, "client exited without calling back")
				return
			case <-runCtx.Done():
				result(false, "probe timed out before the callback arrived")
				return
			}
		case <-runCtx.Done():
			result(false, "probe timed out before the callback arrived")
			return
		}
	}

	if !exited {
		emit(Event{Type: "trigger_done", OK: true})
	}
	logger.Info("Connection probe succeeded",
		zap.String("client_kind", clientKind),
		zap.String("model", modelName),
	)
	result(true, "client reached the server")
}

// Confirm consumes a probe token presented on the callback endpoint. A
// token is single use; a second presentation or an expired token fails.
func (t *Tester) Confirm(key string) error {
	token, err := t.store.Token().GetByKey(key)
	if err != nil {
		return errors.ErrForbidden("unknown probe token")
	}
	if token.Kind != model.TokenKindConnTest {
		return errors.ErrForbidden("not a probe token")
	}
	now := time.Now()
	if token.Expired(now) {
		return errors.ErrForbidden("probe token expired")
	}
	if token.UsedAt != nil {
		return errors.ErrForbidden("probe token already used")
	}
	if err := t.store.Token().MarkUsed(token.ID, now); err != nil {
		return errors.Wrap(errors.ErrCodeDBQuery, "failed to consume probe token", err)
	}

	t.mu.Lock()
	signal, ok := t.pending[key]
	t.mu.Unlock()
	if !ok {
		return errors.ErrForbidden("no probe waiting for this token")
	}
	select {
	case signal <- struct{}{}:
	default:
	}
	return nil
}

func (t *Tester) forget(key string) {
	t.mu.Lock()
	delete(t.pending, key)
	t.mu.Unlock()
	if token, err := t.store.Token().GetByKey(key); err == nil {
		if derr := t.store.Token().Delete(token.ID); derr != nil {
			logger.Warn("Failed to delete probe token", zap.Error(derr))
		}
	}
}

func runPlan(ctx context.Context, plan *agent.CommandPlan) (string, error) {
	cmd := exec.CommandContext(ctx, plan.Path, plan.Args...)
	if plan.Stdin != "" {
		cmd.Stdin = strings.NewReader(plan.Stdin)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg != "" {
			return "", fmt.Errorf("%w: %s", err, prompt.ClipText(msg, 500))
		}
		return "", err
	}
	return string(out), nil
}
