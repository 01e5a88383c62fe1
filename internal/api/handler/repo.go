package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arvlabs/arv/internal/model"
	"github.com/arvlabs/arv/internal/repo"
	"github.com/arvlabs/arv/internal/store"
	"github.com/arvlabs/arv/pkg/errors"
)

// TreeReader is the read-only git surface the repo handler needs.
// *repo.Reader is the production implementation.
type TreeReader interface {
	Files(ctx context.Context, root, base, head string) ([]repo.FileChange, error)
	Diff(ctx context.Context, root, base, head, path string) (string, error)
	Read(ctx context.Context, root, rev, path string, start, end int) ([]repo.Line, error)
	Tree(ctx context.Context, root, rev string) ([]string, error)
	Search(ctx context.Context, root, rev, pattern string) ([]repo.SearchHit, error)
}

// RepoHandler serves read-only views of a session's working tree.
type RepoHandler struct {
	store  store.Store
	reader TreeReader
}

// NewRepoHandler creates a repo handler.
func NewRepoHandler(st store.Store, reader TreeReader) *RepoHandler {
	return &RepoHandler{store: st, reader: reader}
}

func (h *RepoHandler) session(c *gin.Context) (*model.Session, bool) {
	session, err := h.store.Session().GetByID(c.Param("sid"))
	if err != nil {
		fail(c, errors.ErrNotFound("session"))
		return nil, false
	}
	return session, true
}

// wildcardPath extracts the *path route parameter without its leading slash.
func wildcardPath(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("path"), "/")
}

// Changes handles GET /api/sessions/:sid/changes
func (h *RepoHandler) Changes(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	files, err := h.reader.Files(c.Request.Context(), session.RepoPath, session.BaseRev, session.HeadRev)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

// Diff handles GET /api/sessions/:sid/diff/*path
func (h *RepoHandler) Diff(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	path := wildcardPath(c)
	if path == "" {
		badRequest(c, "file path is required")
		return
	}
	diff, err := h.reader.Diff(c.Request.Context(), session.RepoPath, session.BaseRev, session.HeadRev, path)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path, "diff": diff})
}

// File handles GET /api/sessions/:sid/files/*path?start=&end=
func (h *RepoHandler) File(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	path := wildcardPath(c)
	if path == "" {
		badRequest(c, "file path is required")
		return
	}
	start := intQuery(c, "start", 0)
	end := intQuery(c, "end", 0)
	lines, err := h.reader.Read(c.Request.Context(), session.RepoPath, session.HeadRev, path, start, end)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": path, "lines": lines})
}

// Tree handles GET /api/sessions/:sid/tree
func (h *RepoHandler) Tree(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	files, err := h.reader.Tree(c.Request.Context(), session.RepoPath, session.HeadRev)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

// Search handles GET /api/sessions/:sid/search?q=
func (h *RepoHandler) Search(c *gin.Context) {
	session, ok := h.session(c)
	if !ok {
		return
	}
	pattern := c.Query("q")
	if pattern == "" {
		badRequest(c, "q query parameter is required")
		return
	}
	hits, err := h.reader.Search(c.Request.Context(), session.RepoPath, session.HeadRev, pattern)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hits": hits})
}
