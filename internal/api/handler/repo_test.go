package handler

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arvlabs/arv/internal/store"
)

func TestChanges(t *testing.T) {
	e, cleanup := newEnv(t)
	defer cleanup()

	session := store.CreateTestSession(t, e.st)
	w := e.do(t, http.MethodGet, "/api/sessions/"+session.ID+"/changes", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "internal/parser/parser.go")
}

func TestChangesUnknownSession(t *testing.T) {
	e, cleanup := newEnv(t)
	defer cleanup()

	w := e.do(t, http.MethodGet, "/api/sessions/ses_missing/changes", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDiffRequiresPath(t *testing.T) {
	e, cleanup := newEnv(t)
	defer cleanup()

	session := store.CreateTestSession(t, e.st)
	w := e.do(t, http.MethodGet, "/api/sessions/"+session.ID+"/diff/", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDiff(t *testing.T) {
	e, cleanup := newEnv(t)
	defer cleanup()

	session := store.CreateTestSession(t, e.st)
	w := e.do(t, http.MethodGet, "/api/sessions/"+session.ID+"/diff/internal/parser/parser.go", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "internal/parser/parser.go", body["path"])
	assert.Contains(t, body["diff"], "diff --git")
}

func TestFileRead(t *testing.T) {
	e, cleanup := newEnv(t)
	defer cleanup()

	session := store.CreateTestSession(t, e.st)
	w := e.do(t, http.MethodGet, "/api/sessions/"+session.ID+"/files/internal/parser/parser.go?start=1&end=5", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "package parser")
}

func TestTree(t *testing.T) {
	e, cleanup := newEnv(t)
	defer cleanup()

	session := store.CreateTestSession(t, e.st)
	w := e.do(t, http.MethodGet, "/api/sessions/"+session.ID+"/tree", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go.mod")
}

func TestSearch(t *testing.T) {
	e, cleanup := newEnv(t)
	defer cleanup()

	session := store.CreateTestSession(t, e.st)

	w := e.do(t, http.MethodGet, "/api/sessions/"+session.ID+"/search", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodGet, "/api/sessions/"+session.ID+"/search?q=Parse", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "func Parse()")
}
