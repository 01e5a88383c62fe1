// Package repo provides a read-only facade over a local git working tree.
// It shells out to the git binary; all operations are stateless and safe to
// call concurrently.
package repo

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arvlabs/arv/pkg/errors"
	"github.com/arvlabs/arv/pkg/logger"
)

// GitOperationTimeout bounds every git invocation. A diff over a large tree
// finishes well within this; anything longer means a wedged repository.
const GitOperationTimeout = 2 * time.Minute

// FileStatus classifies a changed file in a diff.
type FileStatus string

const (
	StatusAdded    FileStatus = "added"
	StatusModified FileStatus = "modified"
	StatusDeleted  FileStatus = "deleted"
	StatusRenamed  FileStatus = "renamed"
)

// FileChange is one entry of a base..head file listing.
type FileChange struct {
	Path      string     `json:"path"`
	OldPath   string     `json:"old_path,omitempty"`
	Status    FileStatus `json:"status"`
	Additions int        `json:"additions"`
	Deletions int        `json:"deletions"`
	Binary    bool       `json:"binary"`
}

// Branch is a local or remote branch name.
type Branch struct {
	Name string `json:"name"`
	Type string `json:"type"` // local or remote
}

// Line is a single numbered source line.
type Line struct {
	Number  int    `json:"number"`
	Content string `json:"content"`
}

// Info is the result of validating a repository path.
type Info struct {
	Valid         bool   `json:"valid"`
	Root          string `json:"root"`
	CurrentBranch string `json:"current_branch"`
}

// Reader executes read-only git operations against a working tree.
type Reader struct {
	timeout time.Duration
}

// NewReader creates a Reader with the default operation timeout.
func NewReader() *Reader {
	return &Reader{timeout: GitOperationTimeout}
}

// run executes a git command rooted at dir and returns its stdout.
func (r *Reader) run(ctx context.Context, dir string, args ...string) (string, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	full := append([]string{"-C", dir}, args...)
	cmd := exec.CommandContext(timeoutCtx, "git", full...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = append(cmd.Environ(), "GIT_TERMINAL_PROMPT=0")

	if err := cmd.Run(); err != nil {
		if timeoutCtx.Err() == context.DeadlineExceeded {
			return "", errors.Wrap(errors.ErrCodeInternal,
				fmt.Sprintf("git %s timed out after %v", args[0], r.timeout), err)
		}
		return "", classifyGitError(args[0], stderr.String(), err)
	}
	return stdout.String(), nil
}

// classifyGitError maps git stderr output to the structured failure set.
func classifyGitError(op, stderr string, err error) *errors.AppError {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "not a git repository"):
		return errors.Wrap(errors.ErrCodeNotARepo, "path is not a git repository", err)
	case strings.Contains(lower, "unknown revision"),
		strings.Contains(lower, "bad revision"),
		strings.Contains(lower, "ambiguous argument"),
		strings.Contains(lower, "invalid object name"):
		return errors.Wrap(errors.ErrCodeNoSuchRef, "revision not found", err)
	case strings.Contains(lower, "does not exist"),
		strings.Contains(lower, "exists on disk, but not in"),
		strings.Contains(lower, "path not in the working tree"):
		return errors.Wrap(errors.ErrCodeNoSuchPath, "path not found at revision", err)
	}
	logger.Warn("Unclassified git failure",
		zap.String("op", op),
		zap.String("stderr", strings.TrimSpace(stderr)),
		zap.Error(err),
	)
	return errors.Wrap(errors.ErrCodeInternal,
		fmt.Sprintf("git %s failed: %s", op, strings.TrimSpace(stderr)), err)
}

// containedPath rejects escapes from the repository root and returns the
// cleaned relative path. Containment is checked on the normalized path, not
// on the filesystem, so it also holds for paths of deleted files.
func containedPath(path string) (string, *errors.AppError) {
	if path == "" {
		return "", errors.New(errors.ErrCodeNoSuchPath, "empty path")
	}
	cleaned := filepath.ToSlash(filepath.Clean(path))
	if filepath.IsAbs(path) || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New(errors.ErrCodeNoSuchPath,
			fmt.Sprintf("path %q escapes the repository root", path))
	}
	return cleaned, nil
}

// Validate checks that path points into a git working tree and reports its
// root and currently checked-out branch.
func (r *Reader) Validate(ctx context.Context, path string) (*Info, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeNotARepo, "invalid path", err)
	}

	root, err := r.run(ctx, abs, "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, err
	}

	branch, err := r.run(ctx, abs, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return nil, err
	}

	return &Info{
		Valid:         true,
		Root:          strings.TrimSpace(root),
		CurrentBranch: strings.TrimSpace(branch),
	}, nil
}

// Branches lists local and remote branches of the repository.
func (r *Reader) Branches(ctx context.Context, root string) ([]Branch, error) {
	out, err := r.run(ctx, root, "for-each-ref",
		"--format=%(refname)", "refs/heads", "refs/remotes")
	if err != nil {
		return nil, err
	}
	return parseBranchRefs(out), nil
}

// ResolveRev resolves a revision expression to its full commit hash.
func (r *Reader) ResolveRev(ctx context.Context, root, rev string) (string, error) {
	out, err := r.run(ctx, root, "rev-parse", "--verify", rev+"^{commit}")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Files lists the files changed between base and head with per-file
// addition/deletion counts. Order follows git's name-status output.
func (r *Reader) Files(ctx context.Context, root, base, head string) ([]FileChange, error) {
	rangeSpec := base + ".." + head

	statusOut, err := r.run(ctx, root, "diff", "--name-status", "-M", rangeSpec)
	if err != nil {
		return nil, err
	}
	numstatOut, err := r.run(ctx, root, "diff", "--numstat", "-M", rangeSpec)
	if err != nil {
		return nil, err
	}

	changes := parseNameStatus(statusOut)
	counts := parseNumstat(numstatOut)
	for i := range changes {
		if c, ok := counts[changes[i].Path]; ok {
			changes[i].Additions = c.additions
			changes[i].Deletions = c.deletions
			changes[i].Binary = c.binary
		}
	}
	return changes, nil
}

// Diff returns the unified diff of one file between base and head. The
// result is empty when the file did not change.
func (r *Reader) Diff(ctx context.Context, root, base, head, path string) (string, error) {
	rel, appErr := containedPath(path)
	if appErr != nil {
		return "", appErr
	}
	return r.run(ctx, root, "diff", base+".."+head, "--", rel)
}

// Read returns the inclusive line range [start, end] of a file at a
// revision. end past the last line is clamped; a start past the last line
// is a range error.
func (r *Reader) Read(ctx context.Context, root, rev, path string, start, end int) ([]Line, error) {
	rel, appErr := containedPath(path)
	if appErr != nil {
		return nil, appErr
	}
	if start < 1 || end < start {
		return nil, errors.New(errors.ErrCodeRangeInvalid,
			fmt.Sprintf("invalid line range %d..%d", start, end))
	}

	out, err := r.run(ctx, root, "show", rev+":"+rel)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(out, "\n")
	// git show output ends with a newline, drop the trailing empty element
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if start > len(lines) {
		return nil, errors.New(errors.ErrCodeRangeInvalid,
			fmt.Sprintf("start line %d past end of file (%d lines)", start, len(lines)))
	}
	if end > len(lines) {
		end = len(lines)
	}

	result := make([]Line, 0, end-start+1)
	for i := start; i <= end; i++ {
		result = append(result, Line{Number: i, Content: lines[i-1]})
	}
	return result, nil
}

// Delta returns the diff between two head revisions restricted to the given
// paths. Verification uses it to show raisers only what the fix touched.
// Empty paths means the whole tree.
func (r *Reader) Delta(ctx context.Context, root, prevHead, newHead string, paths []string) (string, error) {
	args := []string{"diff", prevHead + ".." + newHead}
	if len(paths) > 0 {
		args = append(args, "--")
		for _, p := range paths {
			rel, appErr := containedPath(p)
			if appErr != nil {
				return "", appErr
			}
			args = append(args, rel)
		}
	}
	return r.run(ctx, root, args...)
}

// Tree lists every tracked file at a revision.
func (r *Reader) Tree(ctx context.Context, root, rev string) ([]string, error) {
	out, err := r.run(ctx, root, "ls-tree", "-r", "--name-only", rev)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		if line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// SearchHit is one git grep match.
type SearchHit struct {
	Path    string `json:"path"`
	Line    int    `json:"line"`
	Content string `json:"content"`
}

// Search runs a fixed-string grep over the tree at a revision.
func (r *Reader) Search(ctx context.Context, root, rev, pattern string) ([]SearchHit, error) {
	out, err := r.run(ctx, root, "grep", "-n", "-F", "--", pattern, rev)
	if err != nil {
		// git grep exits 1 on no matches, which classifyGitError maps to
		// internal; treat empty stderr failures as no hits
		if appErr, ok := errors.AsAppError(err); ok && appErr.Code == errors.ErrCodeInternal {
			return nil, nil
		}
		return nil, err
	}
	return parseGrepHits(out), nil
}
