package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/arvlabs/arv/internal/agent"
	"github.com/arvlabs/arv/internal/model"
	"github.com/arvlabs/arv/internal/store"
	"github.com/arvlabs/arv/pkg/errors"
)

// PresetHandler handles the process-wide reviewer template CRUD.
type PresetHandler struct {
	store store.Store
}

// NewPresetHandler creates a preset handler.
func NewPresetHandler(st store.Store) *PresetHandler {
	return &PresetHandler{store: st}
}

// PresetRequest is the body of preset create and update requests.
type PresetRequest struct {
	Name         string   `json:"name"`
	Model        string   `json:"model"`
	ClientKind   string   `json:"client_kind"`
	Provider     string   `json:"provider,omitempty"`
	Strictness   string   `json:"strictness,omitempty"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	Focus        []string `json:"focus,omitempty"`
	Color        string   `json:"color,omitempty"`
	Enabled      *bool    `json:"enabled,omitempty"`
}

func (r *PresetRequest) validate() error {
	if r.Name == "" {
		return errors.ErrValidation("name is required")
	}
	if r.Model == "" {
		return errors.ErrValidation("model is required")
	}
	if _, err := agent.TriggerFor(r.ClientKind); err != nil {
		return err
	}
	if r.Strictness != "" && r.Strictness != "strict" && r.Strictness != "balanced" && r.Strictness != "lenient" {
		return errors.ErrValidation("unknown strictness: " + r.Strictness)
	}
	return nil
}

func (r *PresetRequest) apply(preset *model.Preset) {
	preset.Name = r.Name
	preset.Model = r.Model
	preset.ClientKind = r.ClientKind
	preset.Provider = r.Provider
	if r.Strictness != "" {
		preset.Strictness = r.Strictness
	} else if preset.Strictness == "" {
		preset.Strictness = "balanced"
	}
	preset.SystemPrompt = r.SystemPrompt
	preset.Temperature = r.Temperature
	preset.Focus = r.Focus
	preset.Color = r.Color
	if r.Enabled != nil {
		preset.Enabled = *r.Enabled
	}
}

// presetID parses the :id route parameter.
func presetID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		badRequest(c, "invalid preset id")
		return 0, false
	}
	return uint(id), true
}

// List handles GET /api/presets
func (h *PresetHandler) List(c *gin.Context) {
	presets, err := h.store.Preset().List()
	if err != nil {
		fail(c, errors.Wrap(errors.ErrCodeDBQuery, "failed to list presets", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"presets": presets})
}

// Get handles GET /api/presets/:id
func (h *PresetHandler) Get(c *gin.Context) {
	id, ok := presetID(c)
	if !ok {
		return
	}
	preset, err := h.store.Preset().GetByID(id)
	if err != nil {
		fail(c, errors.ErrNotFound("preset"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"preset": preset})
}

// Create handles POST /api/presets
func (h *PresetHandler) Create(c *gin.Context) {
	var req PresetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	if err := req.validate(); err != nil {
		fail(c, err)
		return
	}
	if existing, err := h.store.Preset().GetByName(req.Name); err == nil && existing != nil {
		fail(c, errors.New(errors.ErrCodeConflict, "preset name already in use: "+req.Name))
		return
	}

	preset := &model.Preset{Enabled: true}
	req.apply(preset)
	if err := h.store.Preset().Create(preset); err != nil {
		fail(c, errors.Wrap(errors.ErrCodeDBQuery, "failed to create preset", err))
		return
	}
	c.JSON(http.StatusCreated, gin.H{"preset": preset})
}

// Update handles PUT /api/presets/:id
func (h *PresetHandler) Update(c *gin.Context) {
	id, ok := presetID(c)
	if !ok {
		return
	}
	preset, err := h.store.Preset().GetByID(id)
	if err != nil {
		fail(c, errors.ErrNotFound("preset"))
		return
	}
	var req PresetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body: "+err.Error())
		return
	}
	if err := req.validate(); err != nil {
		fail(c, err)
		return
	}
	req.apply(preset)
	if err := h.store.Preset().Update(preset); err != nil {
		fail(c, errors.Wrap(errors.ErrCodeDBQuery, "failed to update preset", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"preset": preset})
}

// Delete handles DELETE /api/presets/:id
func (h *PresetHandler) Delete(c *gin.Context) {
	id, ok := presetID(c)
	if !ok {
		return
	}
	if _, err := h.store.Preset().GetByID(id); err != nil {
		fail(c, errors.ErrNotFound("preset"))
		return
	}
	if err := h.store.Preset().Delete(id); err != nil {
		fail(c, errors.Wrap(errors.ErrCodeDBQuery, "failed to delete preset", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
