package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/arvlabs/arv/internal/agent"
	"github.com/arvlabs/arv/internal/api/middleware"
	"github.com/arvlabs/arv/internal/assist"
	"github.com/arvlabs/arv/internal/config"
	"github.com/arvlabs/arv/internal/events"
	"github.com/arvlabs/arv/internal/lifecycle"
	"github.com/arvlabs/arv/internal/model"
	"github.com/arvlabs/arv/internal/repo"
	"github.com/arvlabs/arv/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ====================
// Fakes
// ====================

// stubRunner records launches without spawning anything.
type stubRunner struct {
	mu     sync.Mutex
	active map[string]bool
}

func newStubRunner() *stubRunner {
	return &stubRunner{active: make(map[string]bool)}
}

func (r *stubRunner) Start(ctx context.Context, spec agent.RunSpec, onExit func(agent.Result)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[spec.SessionID+"/"+spec.Model] = true
	return nil
}

func (r *stubRunner) Stop(sessionID, model string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := sessionID + "/" + model
	if !r.active[key] {
		return false
	}
	delete(r.active, key)
	return true
}

func (r *stubRunner) StopSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.active {
		if strings.HasPrefix(key, sessionID+"/") {
			delete(r.active, key)
		}
	}
}

func (r *stubRunner) Runtime(sessionID, model string) *agent.RuntimeInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active[sessionID+"/"+model] {
		return nil
	}
	return &agent.RuntimeInfo{Running: true, Stdout: "checking diff"}
}

func (r *stubRunner) RunningCount(sessionID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for key := range r.active {
		if strings.HasPrefix(key, sessionID+"/") {
			count++
		}
	}
	return count
}

// stubReader satisfies the controller's git surface with canned data.
type stubReader struct{}

func (stubReader) Validate(ctx context.Context, path string) (*repo.Info, error) {
	return &repo.Info{Valid: true, Root: path, CurrentBranch: "main"}, nil
}

func (stubReader) ResolveRev(ctx context.Context, root, rev string) (string, error) {
	return rev, nil
}

func (stubReader) Files(ctx context.Context, root, base, head string) ([]repo.FileChange, error) {
	return []repo.FileChange{{Path: "internal/parser/parser.go", Status: repo.StatusModified, Additions: 12, Deletions: 3}}, nil
}

func (stubReader) Diff(ctx context.Context, root, base, head, path string) (string, error) {
	return "diff --git a/" + path + " b/" + path + "\n", nil
}

func (stubReader) Delta(ctx context.Context, root, prevHead, newHead string, paths []string) (string, error) {
	return "delta " + prevHead + ".." + newHead + "\n", nil
}

// stubTree satisfies the repo handler's read-only tree surface.
type stubTree struct{ stubReader }

func (stubTree) Read(ctx context.Context, root, rev, path string, start, end int) ([]repo.Line, error) {
	return []repo.Line{{Number: 1, Content: "package parser"}}, nil
}

func (stubTree) Tree(ctx context.Context, root, rev string) ([]string, error) {
	return []string{"go.mod", "internal/parser/parser.go"}, nil
}

func (stubTree) Search(ctx context.Context, root, rev, pattern string) ([]repo.SearchHit, error) {
	return []repo.SearchHit{{Path: "internal/parser/parser.go", Line: 7, Content: "func Parse() {"}}, nil
}

// ====================
// Environment
// ====================

// env wires the handlers onto a router the way the server does, backed by a
// throwaway database and stub process and git layers.
type env struct {
	st     store.Store
	ctrl   *lifecycle.Controller
	bus    *events.Bus
	runner *stubRunner
	router *gin.Engine
}

func newEnv(t *testing.T) (*env, func()) {
	t.Helper()
	st, cleanup := store.SetupTestDB(t)
	cfg := config.Default()
	bus := events.NewBus()
	runner := newStubRunner()
	ctrl := lifecycle.New(cfg, st, runner, stubReader{}, bus, "http://127.0.0.1:8420")

	validator := middleware.NewKeyValidator(st)
	requireKey := middleware.AgentAuth(validator)
	optionalKey := middleware.OptionalAgentAuth(validator)

	sessionHandler := NewSessionHandler(ctrl, st)
	reviewHandler := NewReviewHandler(ctrl, st)
	issueHandler := NewIssueHandler(ctrl, st, assist.New(cfg, st))
	repoHandler := NewRepoHandler(st, stubTree{})
	presetHandler := NewPresetHandler(st)
	eventsHandler := NewEventsHandler(st, bus)

	r := gin.New()
	api := r.Group("/api")

	sessions := api.Group("/sessions")
	sessions.GET("", sessionHandler.List)
	sessions.POST("", sessionHandler.Create)
	sessions.POST("/:sid/start", sessionHandler.Start)
	sessions.POST("/:sid/finish", sessionHandler.Finish)
	sessions.GET("/:sid/status", sessionHandler.Status)
	sessions.GET("/:sid/issues", sessionHandler.Issues)
	sessions.GET("/:sid/pending", sessionHandler.Pending)
	sessions.GET("/:sid/runtime", sessionHandler.Runtime)
	sessions.GET("/:sid/report", sessionHandler.Report)
	sessions.GET("/:sid/stream", eventsHandler.Stream)
	sessions.GET("/:sid/changes", repoHandler.Changes)
	sessions.GET("/:sid/diff/*path", repoHandler.Diff)
	sessions.GET("/:sid/files/*path", repoHandler.File)
	sessions.GET("/:sid/tree", repoHandler.Tree)
	sessions.GET("/:sid/search", repoHandler.Search)
	sessions.POST("/:sid/reviews", requireKey, reviewHandler.SubmitReview)
	sessions.POST("/:sid/issues", optionalKey, reviewHandler.ReportIssue)

	issues := api.Group("/issues")
	issues.POST("/:iid/opinions", optionalKey, issueHandler.SubmitOpinion)
	issues.POST("/:iid/dismiss", issueHandler.Dismiss)
	issues.GET("/:iid/thread", issueHandler.Thread)
	issues.POST("/:iid/assist/opinion", requireKey, issueHandler.AssistOpinion)

	presets := api.Group("/presets")
	presets.GET("", presetHandler.List)
	presets.POST("", presetHandler.Create)
	presets.GET("/:id", presetHandler.Get)
	presets.PUT("/:id", presetHandler.Update)
	presets.DELETE("/:id", presetHandler.Delete)

	e := &env{st: st, ctrl: ctrl, bus: bus, runner: runner, router: r}
	return e, func() {
		bus.Close()
		cleanup()
	}
}

// do performs a request with an optional JSON body and headers.
func (e *env) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// decode unmarshals a JSON response body.
func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

// seedSession creates a session with one enabled reviewer per model.
func (e *env) seedSession(t *testing.T, models ...string) *model.Session {
	t.Helper()
	session, err := e.ctrl.Create(context.Background(), lifecycle.CreateInput{
		RepoPath: "/work/demo",
		BaseRev:  "main",
		HeadRev:  "feature",
	})
	require.NoError(t, err)
	for _, m := range models {
		require.NoError(t, e.st.Session().CreateAgent(&model.Agent{
			SessionID:  session.ID,
			Model:      m,
			ClientKind: "mock",
			Strictness: "balanced",
			Enabled:    true,
			Status:     model.AgentStatusIdle,
		}))
	}
	return session
}

// seedReviewing puts a seeded session directly into the reviewing phase.
func (e *env) seedReviewing(t *testing.T, models ...string) *model.Session {
	t.Helper()
	session := e.seedSession(t, models...)
	require.NoError(t, e.st.Session().UpdatePhase(session.ID, model.PhaseReviewing))
	session.Phase = model.PhaseReviewing
	return session
}

// issueInput builds a minimal valid issue report.
func issueInput(title string) lifecycle.IssueInput {
	return lifecycle.IssueInput{Title: title, Severity: model.SeverityHigh}
}

// mintKey issues an agent key bound to a session and model.
func (e *env) mintKey(t *testing.T, sessionID, modelID string) string {
	t.Helper()
	key := "key-" + modelID + "-" + sessionID
	require.NoError(t, e.st.Token().Create(&model.AgentToken{
		Key:       key,
		SessionID: sessionID,
		ModelID:   modelID,
		Kind:      model.TokenKindAgent,
	}))
	return key
}
