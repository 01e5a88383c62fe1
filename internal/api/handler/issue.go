package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arvlabs/arv/internal/api/middleware"
	"github.com/arvlabs/arv/internal/assist"
	"github.com/arvlabs/arv/internal/lifecycle"
	"github.com/arvlabs/arv/internal/model"
	"github.com/arvlabs/arv/internal/store"
	"github.com/arvlabs/arv/pkg/errors"
	"github.com/arvlabs/arv/pkg/idgen"
)

// IssueHandler handles per-issue requests: the opinion thread, verification
// responses, progress updates and the assist conversation.
type IssueHandler struct {
	ctrl   *lifecycle.Controller
	store  store.Store
	assist *assist.Engine
}

// NewIssueHandler creates an issue handler.
func NewIssueHandler(ctrl *lifecycle.Controller, st store.Store, engine *assist.Engine) *IssueHandler {
	return &IssueHandler{ctrl: ctrl, store: st, assist: engine}
}

// loadIssue resolves the issue of a request.
func (h *IssueHandler) loadIssue(c *gin.Context) (*model.Issue, bool) {
	issue, err := h.store.Issue().GetByID(c.Param("iid"))
	if err != nil {
		fail(c, errors.ErrNotFound("issue"))
		return nil, false
	}
	return issue, true
}

// OpinionRequest is the body of POST /api/issues/:iid/opinions
type OpinionRequest struct {
	ModelID string `json:"model_id,omitempty"`
	lifecycle.OpinionInput
}

// SubmitOpinion handles POST /api/issues/:iid/opinions
func (h *IssueHandler) SubmitOpinion(c *gin.Context) {
	issue, ok := h.loadIssue(c)
	if !ok {
		return
	}
	var req OpinionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	modelID, err := callerModel(c, req.ModelID, issue.SessionID)
	if err != nil {
		fail(c, err)
		return
	}
	opinion, err := h.ctrl.SubmitOpinion(c.Request.Context(), issue.ID, modelID, req.OpinionInput)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"opinion": opinion})
}

// RespondRequest is the body of POST /api/issues/:iid/respond
type RespondRequest struct {
	ModelID   string              `json:"model_id,omitempty"`
	Action    model.RespondAction `json:"action"`
	Reasoning string              `json:"reasoning,omitempty"`
}

// Respond handles POST /api/issues/:iid/respond
func (h *IssueHandler) Respond(c *gin.Context) {
	issue, ok := h.loadIssue(c)
	if !ok {
		return
	}
	var req RespondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	modelID, err := callerModel(c, req.ModelID, issue.SessionID)
	if err != nil {
		fail(c, err)
		return
	}
	if err := h.ctrl.Respond(c.Request.Context(), issue.ID, modelID, req.Action, req.Reasoning); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}

// StatusRequest is the body of POST /api/issues/:iid/status
type StatusRequest struct {
	ModelID   string               `json:"model_id,omitempty"`
	Status    model.ProgressStatus `json:"status"`
	Reasoning string               `json:"reasoning,omitempty"`
}

// SetStatus handles POST /api/issues/:iid/status
func (h *IssueHandler) SetStatus(c *gin.Context) {
	issue, ok := h.loadIssue(c)
	if !ok {
		return
	}
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	modelID, err := callerModel(c, req.ModelID, issue.SessionID)
	if err != nil {
		fail(c, err)
		return
	}
	if err := h.ctrl.SetIssueStatus(c.Request.Context(), issue.ID, modelID, req.Status, req.Reasoning); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

// DismissRequest is the body of POST /api/issues/:iid/dismiss
type DismissRequest struct {
	Reasoning string `json:"reasoning,omitempty"`
}

// Dismiss handles POST /api/issues/:iid/dismiss
func (h *IssueHandler) Dismiss(c *gin.Context) {
	issue, ok := h.loadIssue(c)
	if !ok {
		return
	}
	var req DismissRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	if err := h.ctrl.Dismiss(c.Request.Context(), issue.ID, model.HumanModelID, req.Reasoning); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "dismissed"})
}

// Thread handles GET /api/issues/:iid/thread
func (h *IssueHandler) Thread(c *gin.Context) {
	issue, ok := h.loadIssue(c)
	if !ok {
		return
	}
	opinions, err := h.store.Issue().ListOpinions(issue.ID)
	if err != nil {
		fail(c, errors.Wrap(errors.ErrCodeDBQuery, "failed to load thread", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"issue":    issue,
		"opinions": opinions,
	})
}

// AssistRequest is the body of POST /api/issues/:iid/assist
type AssistRequest struct {
	Message    string `json:"message"`
	ClientKind string `json:"client_kind,omitempty"`
	Model      string `json:"model,omitempty"`
}

// Assist handles POST /api/issues/:iid/assist. The reply includes the full
// transcript, the equivalent CLI invocation and the assist key accepted by
// the opinion conversion endpoint.
func (h *IssueHandler) Assist(c *gin.Context) {
	issue, ok := h.loadIssue(c)
	if !ok {
		return
	}
	var req AssistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	clientKind, modelName := h.assist.Defaults(req.ClientKind, req.Model)

	if _, err := h.assist.Ask(c.Request.Context(), issue.ID, clientKind, modelName, req.Message); err != nil {
		fail(c, err)
		return
	}
	messages, err := h.assist.Transcript(issue.ID)
	if err != nil {
		fail(c, err)
		return
	}
	key, err := h.assistKey(issue.SessionID)
	if err != nil {
		fail(c, err)
		return
	}
	hint, _ := h.assist.CommandHint(clientKind, modelName)
	c.JSON(http.StatusOK, gin.H{
		"messages":    messages,
		"cli_command": hint,
		"assist_key":  key,
	})
}

// AssistTranscript handles GET /api/issues/:iid/assist
func (h *IssueHandler) AssistTranscript(c *gin.Context) {
	issue, ok := h.loadIssue(c)
	if !ok {
		return
	}
	messages, err := h.assist.Transcript(issue.ID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// AssistOpinion handles POST /api/issues/:iid/assist/opinion. Requires an
// assist key; parses the latest helper reply into an opinion submitted as
// the human-assist pseudo-reviewer.
func (h *IssueHandler) AssistOpinion(c *gin.Context) {
	issue, ok := h.loadIssue(c)
	if !ok {
		return
	}
	token := middleware.TokenFrom(c)
	if token == nil || token.Kind != model.TokenKindAssist {
		fail(c, errors.ErrForbidden("an assist key is required"))
		return
	}
	if token.SessionID != issue.SessionID {
		fail(c, errors.ErrForbidden("assist key belongs to another session"))
		return
	}

	reply, err := h.assist.LatestReply(issue.ID)
	if err != nil {
		fail(c, err)
		return
	}
	parsed, err := assist.ParseOpinion(reply.Content)
	if err != nil {
		fail(c, err)
		return
	}
	opinion, err := h.ctrl.SubmitOpinion(c.Request.Context(), issue.ID, model.HumanAssistModelID, lifecycle.OpinionInput{
		Action:            model.OpinionAction(parsed.Action),
		Reasoning:         parsed.Reasoning,
		SuggestedSeverity: model.Severity(parsed.SuggestedSeverity),
		Confidence:        parsed.Confidence,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"opinion": opinion})
}

// assistKey returns the session's assist token, minting it on first use.
func (h *IssueHandler) assistKey(sessionID string) (string, error) {
	tokens, err := h.store.Token().ListBySession(sessionID)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeDBQuery, "failed to load tokens", err)
	}
	for _, t := range tokens {
		if t.Kind == model.TokenKindAssist {
			return t.Key, nil
		}
	}
	key := idgen.NewAgentKey()
	if err := h.store.Token().Create(&model.AgentToken{
		Key:       key,
		SessionID: sessionID,
		ModelID:   model.HumanAssistModelID,
		Kind:      model.TokenKindAssist,
	}); err != nil {
		return "", errors.Wrap(errors.ErrCodeDBQuery, "failed to mint assist token", err)
	}
	return key, nil
}
