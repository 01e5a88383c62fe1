package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arvlabs/arv/internal/lifecycle"
	"github.com/arvlabs/arv/internal/model"
	"github.com/arvlabs/arv/internal/report"
	"github.com/arvlabs/arv/internal/store"
	"github.com/arvlabs/arv/pkg/errors"
)

// SessionHandler handles session lifecycle requests.
type SessionHandler struct {
	ctrl  *lifecycle.Controller
	store store.Store
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(ctrl *lifecycle.Controller, st store.Store) *SessionHandler {
	return &SessionHandler{ctrl: ctrl, store: st}
}

// List handles GET /api/sessions
func (h *SessionHandler) List(c *gin.Context) {
	sessions, err := h.store.Session().List()
	if err != nil {
		fail(c, errors.Wrap(errors.ErrCodeDBQuery, "failed to list sessions", err))
		return
	}
	current := h.ctrl.Current()
	items := make([]gin.H, 0, len(sessions))
	for _, s := range sessions {
		count, _ := h.store.Issue().CountBySession(s.ID)
		items = append(items, gin.H{
			"id":          s.ID,
			"repo_path":   s.RepoPath,
			"base":        s.BaseRev,
			"head":        s.HeadRev,
			"phase":       s.Phase,
			"turn":        s.Turn,
			"issue_count": count,
			"created_at":  s.CreatedAt,
			"current":     s.ID == current,
		})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": items})
}

// Create handles POST /api/sessions
func (h *SessionHandler) Create(c *gin.Context) {
	var in lifecycle.CreateInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	session, err := h.ctrl.Create(c.Request.Context(), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"session_id": session.ID,
		"session":    session,
	})
}

// Start handles POST /api/sessions/:sid/start
func (h *SessionHandler) Start(c *gin.Context) {
	if err := h.ctrl.Start(c.Request.Context(), c.Param("sid")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

// Activate handles POST /api/sessions/:sid/activate
func (h *SessionHandler) Activate(c *gin.Context) {
	if err := h.ctrl.Activate(c.Param("sid")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "activated"})
}

// Finish handles POST /api/sessions/:sid/finish[?force]
func (h *SessionHandler) Finish(c *gin.Context) {
	forceRaw, present := c.GetQuery("force")
	force := present && forceRaw != "false"
	if err := h.ctrl.Finish(c.Request.Context(), c.Param("sid"), force); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "complete"})
}

// Process handles POST /api/sessions/:sid/process
func (h *SessionHandler) Process(c *gin.Context) {
	if err := h.ctrl.ProcessTurn(c.Request.Context(), c.Param("sid")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "processing"})
}

// FixCompleteRequest is the body of POST /api/sessions/:sid/fix-complete
type FixCompleteRequest struct {
	Commit   string   `json:"commit"`
	IssueIDs []string `json:"issue_ids,omitempty"`
}

// FixComplete handles POST /api/sessions/:sid/fix-complete
func (h *SessionHandler) FixComplete(c *gin.Context) {
	var req FixCompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	if err := h.ctrl.FixComplete(c.Request.Context(), c.Param("sid"), req.Commit, req.IssueIDs); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "verifying"})
}

// Delete handles DELETE /api/sessions/:sid
func (h *SessionHandler) Delete(c *gin.Context) {
	if err := h.ctrl.Delete(c.Request.Context(), c.Param("sid")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// Status handles GET /api/sessions/:sid/status
func (h *SessionHandler) Status(c *gin.Context) {
	sid := c.Param("sid")
	session, err := h.store.Session().GetByID(sid)
	if err != nil {
		fail(c, errors.ErrNotFound("session"))
		return
	}
	agents, err := h.store.Session().ListAgents(sid)
	if err != nil {
		fail(c, errors.Wrap(errors.ErrCodeDBQuery, "failed to load agents", err))
		return
	}
	issues, err := h.store.Issue().ListBySession(sid)
	if err != nil {
		fail(c, errors.Wrap(errors.ErrCodeDBQuery, "failed to load issues", err))
		return
	}
	reviews, err := h.store.Review().ListBySession(sid)
	if err != nil {
		fail(c, errors.Wrap(errors.ErrCodeDBQuery, "failed to load reviews", err))
		return
	}

	counts := gin.H{
		"total":        len(issues),
		"fix_required": 0,
		"dismissed":    0,
		"undecided":    0,
		"closed":       0,
	}
	for _, issue := range issues {
		switch issue.ConsensusType {
		case model.ConsensusFixRequired:
			counts["fix_required"] = counts["fix_required"].(int) + 1
		case model.ConsensusDismissed:
			counts["dismissed"] = counts["dismissed"].(int) + 1
		case model.ConsensusClosed:
			counts["closed"] = counts["closed"].(int) + 1
		default:
			counts["undecided"] = counts["undecided"].(int) + 1
		}
	}

	response := gin.H{
		"session":      session,
		"agents":       agents,
		"issue_counts": counts,
		"reviews":      reviews,
	}
	if session.ContextSummary != "" || len(session.ContextDecisions) > 0 {
		response["implementation_context"] = gin.H{
			"summary":      session.ContextSummary,
			"decisions":    session.ContextDecisions,
			"tradeoffs":    session.ContextTradeoffs,
			"submitter":    session.ContextSubmitter,
			"submitted_at": session.ContextSubmittedAt,
		}
	}
	c.JSON(http.StatusOK, response)
}

// Issues handles GET /api/sessions/:sid/issues
func (h *SessionHandler) Issues(c *gin.Context) {
	sid := c.Param("sid")
	if _, err := h.store.Session().GetByID(sid); err != nil {
		fail(c, errors.ErrNotFound("session"))
		return
	}
	issues, err := h.store.Issue().ListBySession(sid)
	if err != nil {
		fail(c, errors.Wrap(errors.ErrCodeDBQuery, "failed to load issues", err))
		return
	}
	opinions, err := h.store.Issue().ListOpinionsBySession(sid)
	if err != nil {
		fail(c, errors.Wrap(errors.ErrCodeDBQuery, "failed to load opinions", err))
		return
	}
	threads := make(map[string][]model.Opinion, len(issues))
	for _, op := range opinions {
		threads[op.IssueID] = append(threads[op.IssueID], op)
	}
	for i := range issues {
		issues[i].Opinions = threads[issues[i].ID]
	}
	c.JSON(http.StatusOK, gin.H{"issues": issues})
}

// Reviews handles GET /api/sessions/:sid/reviews
func (h *SessionHandler) Reviews(c *gin.Context) {
	sid := c.Param("sid")
	if _, err := h.store.Session().GetByID(sid); err != nil {
		fail(c, errors.ErrNotFound("session"))
		return
	}
	reviews, err := h.store.Review().ListBySession(sid)
	if err != nil {
		fail(c, errors.Wrap(errors.ErrCodeDBQuery, "failed to load reviews", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"reviews": reviews})
}

// Pending handles GET /api/sessions/:sid/pending?model_id=
func (h *SessionHandler) Pending(c *gin.Context) {
	modelID := c.Query("model_id")
	if modelID == "" {
		badRequest(c, "model_id query parameter is required")
		return
	}
	issues, err := h.ctrl.PendingIssues(c.Param("sid"), modelID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"issues": issues})
}

// Runtime handles GET /api/sessions/:sid/runtime
func (h *SessionHandler) Runtime(c *gin.Context) {
	sid := c.Param("sid")
	agents, err := h.store.Session().ListAgents(sid)
	if err != nil {
		fail(c, errors.Wrap(errors.ErrCodeDBQuery, "failed to load agents", err))
		return
	}
	runtimes := make(gin.H, len(agents))
	for _, ag := range agents {
		entry := gin.H{
			"status":        ag.Status,
			"status_reason": ag.StatusReason,
			"task_type":     ag.TaskType,
		}
		if info := h.ctrl.Runtime(sid, ag.Model); info != nil {
			entry["running"] = info.Running
			entry["stdout"] = info.Stdout
			entry["stderr"] = info.Stderr
		}
		runtimes[ag.Model] = entry
	}
	c.JSON(http.StatusOK, gin.H{"agents": runtimes})
}

// Activity handles GET /api/sessions/:sid/activity
func (h *SessionHandler) Activity(c *gin.Context) {
	sid := c.Param("sid")
	agents, err := h.store.Session().ListAgents(sid)
	if err != nil {
		fail(c, errors.Wrap(errors.ErrCodeDBQuery, "failed to load agents", err))
		return
	}
	activity := make(gin.H, len(agents))
	for _, ag := range agents {
		if info := h.ctrl.Runtime(sid, ag.Model); info != nil {
			activity[ag.Model] = info.Activities
		}
	}
	c.JSON(http.StatusOK, gin.H{"activity": activity})
}

// Report handles GET /api/sessions/:sid/report
func (h *SessionHandler) Report(c *gin.Context) {
	sid := c.Param("sid")
	session, err := h.store.Session().GetByID(sid)
	if err != nil {
		fail(c, errors.ErrNotFound("session"))
		return
	}
	agents, _ := h.store.Session().ListAgents(sid)
	issues, err := h.store.Issue().ListBySession(sid)
	if err != nil {
		fail(c, errors.Wrap(errors.ErrCodeDBQuery, "failed to load issues", err))
		return
	}
	opinions, err := h.store.Issue().ListOpinionsBySession(sid)
	if err != nil {
		fail(c, errors.Wrap(errors.ErrCodeDBQuery, "failed to load opinions", err))
		return
	}
	threads := make(map[string][]model.Opinion, len(issues))
	for _, op := range opinions {
		threads[op.IssueID] = append(threads[op.IssueID], op)
	}
	reviews, _ := h.store.Review().ListBySession(sid)
	fixCommits, _ := h.store.Review().ListFixCommits(sid)

	rep := report.Build(&report.Input{
		Session:    session,
		Agents:     agents,
		Issues:     issues,
		Opinions:   threads,
		Reviews:    reviews,
		FixCommits: fixCommits,
	})
	c.JSON(http.StatusOK, rep)
}
