package handler

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createPreset(t *testing.T, e *env, name string) uint {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/presets", map[string]any{
		"name":        name,
		"model":       "claude-sonnet",
		"client_kind": "mock",
		"strictness":  "strict",
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	body := decode(t, w)
	preset := body["preset"].(map[string]any)
	return uint(preset["id"].(float64))
}

func TestPresetCreateAndGet(t *testing.T) {
	e, cleanup := newEnv(t)
	defer cleanup()

	id := createPreset(t, e, "nitpicker")
	w := e.do(t, http.MethodGet, fmt.Sprintf("/api/presets/%d", id), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "nitpicker")
	assert.Contains(t, w.Body.String(), "strict")
}

func TestPresetDuplicateName(t *testing.T) {
	e, cleanup := newEnv(t)
	defer cleanup()

	createPreset(t, e, "nitpicker")
	w := e.do(t, http.MethodPost, "/api/presets", map[string]any{
		"name":        "nitpicker",
		"model":       "gpt-5",
		"client_kind": "mock",
	}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestPresetValidation(t *testing.T) {
	e, cleanup := newEnv(t)
	defer cleanup()

	w := e.do(t, http.MethodPost, "/api/presets", map[string]any{
		"model":       "gpt-5",
		"client_kind": "mock",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "name is required")

	w = e.do(t, http.MethodPost, "/api/presets", map[string]any{
		"name":        "lenient-sweep",
		"model":       "gpt-5",
		"client_kind": "mock",
		"strictness":  "merciless",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPresetUpdate(t *testing.T) {
	e, cleanup := newEnv(t)
	defer cleanup()

	id := createPreset(t, e, "nitpicker")
	w := e.do(t, http.MethodPut, fmt.Sprintf("/api/presets/%d", id), map[string]any{
		"name":        "nitpicker",
		"model":       "claude-sonnet",
		"client_kind": "mock",
		"strictness":  "lenient",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "lenient")
}

func TestPresetDelete(t *testing.T) {
	e, cleanup := newEnv(t)
	defer cleanup()

	id := createPreset(t, e, "nitpicker")
	w := e.do(t, http.MethodDelete, fmt.Sprintf("/api/presets/%d", id), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(t, http.MethodGet, fmt.Sprintf("/api/presets/%d", id), nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPresetInvalidID(t *testing.T) {
	e, cleanup := newEnv(t)
	defer cleanup()

	w := e.do(t, http.MethodGet, "/api/presets/not-a-number", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
