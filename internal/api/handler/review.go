package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arvlabs/arv/internal/lifecycle"
	"github.com/arvlabs/arv/internal/store"
)

// ReviewHandler handles reviewer submissions: issue reports and the review
// record that closes a reviewer's pass for the turn.
type ReviewHandler struct {
	ctrl  *lifecycle.Controller
	store store.Store
}

// NewReviewHandler creates a review handler.
func NewReviewHandler(ctrl *lifecycle.Controller, st store.Store) *ReviewHandler {
	return &ReviewHandler{ctrl: ctrl, store: st}
}

// ReportIssueRequest is the body of POST /api/sessions/:sid/issues.
// model_id is only honored when it matches the caller's key; the human
// operator reports without a key.
type ReportIssueRequest struct {
	ModelID string `json:"model_id,omitempty"`
	lifecycle.IssueInput
}

// ReportIssue handles POST /api/sessions/:sid/issues
func (h *ReviewHandler) ReportIssue(c *gin.Context) {
	sid := c.Param("sid")
	var req ReportIssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	modelID, err := callerModel(c, req.ModelID, sid)
	if err != nil {
		fail(c, err)
		return
	}
	issue, err := h.ctrl.ReportIssue(c.Request.Context(), sid, modelID, req.IssueInput)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"issue": issue})
}

// SubmitReviewRequest is the body of POST /api/sessions/:sid/reviews
type SubmitReviewRequest struct {
	Summary string `json:"summary"`
}

// SubmitReview handles POST /api/sessions/:sid/reviews. The route requires
// an agent key; the reviewer identity comes from the key, never the body.
func (h *ReviewHandler) SubmitReview(c *gin.Context) {
	sid := c.Param("sid")
	var req SubmitReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	modelID, err := callerModel(c, "", sid)
	if err != nil {
		fail(c, err)
		return
	}
	review, err := h.ctrl.SubmitReview(c.Request.Context(), sid, modelID, req.Summary)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"review": review})
}
