package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arvlabs/arv/internal/assist"
	"github.com/arvlabs/arv/internal/conntest"
	"github.com/arvlabs/arv/internal/lifecycle"
	"github.com/arvlabs/arv/internal/store"
	"github.com/arvlabs/arv/pkg/errors"
)

// AgentHandler handles roster management, reviewer chat and connection
// probes.
type AgentHandler struct {
	ctrl    *lifecycle.Controller
	store   store.Store
	assist  *assist.Engine
	tester  *conntest.Tester
	baseURL string
}

// NewAgentHandler creates an agent handler. baseURL is the externally
// reachable server root used for probe callbacks.
func NewAgentHandler(ctrl *lifecycle.Controller, st store.Store, engine *assist.Engine, tester *conntest.Tester, baseURL string) *AgentHandler {
	return &AgentHandler{ctrl: ctrl, store: st, assist: engine, tester: tester, baseURL: baseURL}
}

// List handles GET /api/sessions/:sid/agents
func (h *AgentHandler) List(c *gin.Context) {
	sid := c.Param("sid")
	if _, err := h.store.Session().GetByID(sid); err != nil {
		fail(c, errors.ErrNotFound("session"))
		return
	}
	agents, err := h.store.Session().ListAgents(sid)
	if err != nil {
		fail(c, errors.Wrap(errors.ErrCodeDBQuery, "failed to load agents", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": agents})
}

// Create handles POST /api/sessions/:sid/agents
func (h *AgentHandler) Create(c *gin.Context) {
	var in lifecycle.AgentInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	ag, err := h.ctrl.AddAgent(c.Request.Context(), c.Param("sid"), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"agent": ag})
}

// Update handles PATCH /api/sessions/:sid/agents/:model_id
func (h *AgentHandler) Update(c *gin.Context) {
	var in lifecycle.AgentUpdate
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	ag, err := h.ctrl.UpdateAgent(c.Request.Context(), c.Param("sid"), c.Param("model_id"), in)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent": ag})
}

// Delete handles DELETE /api/sessions/:sid/agents/:model_id
func (h *AgentHandler) Delete(c *gin.Context) {
	if err := h.ctrl.RemoveAgent(c.Request.Context(), c.Param("sid"), c.Param("model_id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}

// ChatRequest is the body of POST /api/sessions/:sid/agents/:model_id/chat
type ChatRequest struct {
	Message string `json:"message"`
}

// Chat handles POST /api/sessions/:sid/agents/:model_id/chat. The exchange
// is synchronous and leaves no trace on the session.
func (h *AgentHandler) Chat(c *gin.Context) {
	sid := c.Param("sid")
	session, err := h.store.Session().GetByID(sid)
	if err != nil {
		fail(c, errors.ErrNotFound("session"))
		return
	}
	ag, err := h.store.Session().GetAgent(sid, c.Param("model_id"))
	if err != nil {
		fail(c, errors.ErrNotFound("agent"))
		return
	}
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	reply, err := h.assist.Chat(c.Request.Context(), ag.ClientKind, ag.Model, session.RepoPath, req.Message)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reply": reply})
}

// ConnectionTestRequest is the body of POST /api/agents/connection-test
type ConnectionTestRequest struct {
	ClientKind string `json:"client_kind"`
	Model      string `json:"model"`
}

// ConnectionTest handles POST /api/agents/connection-test, streaming probe
// progress as NDJSON until the result event.
func (h *AgentHandler) ConnectionTest(c *gin.Context) {
	var req ConnectionTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}

	c.Header("Content-Type", "application/x-ndjson")
	c.Header("Cache-Control", "no-cache")
	c.Writer.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(c.Writer)
	emit := func(ev conntest.Event) {
		if err := enc.Encode(ev); err != nil {
			return
		}
		c.Writer.Flush()
	}
	callbackURL := h.baseURL + "/api/connection-test/callback"
	h.tester.Run(c.Request.Context(), req.ClientKind, req.Model, callbackURL, emit)
}

// ConnectionTestCallback handles POST /api/connection-test/callback. The
// probed client presents its single-use token here.
func (h *AgentHandler) ConnectionTestCallback(c *gin.Context) {
	key := c.GetHeader("X-Agent-Key")
	if key == "" {
		fail(c, errors.ErrForbidden("X-Agent-Key header required"))
		return
	}
	if err := h.tester.Confirm(key); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
