package repo

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arvlabs/arv/pkg/errors"
)

// ====================
// Tests for path containment
// ====================

func TestContainedPath(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "simple relative", input: "src/main.go", want: "src/main.go"},
		{name: "dot segments collapse", input: "src/./pkg/../main.go", want: "src/main.go"},
		{name: "absolute rejected", input: "/etc/passwd", wantErr: true},
		{name: "parent escape rejected", input: "../outside.go", wantErr: true},
		{name: "nested escape rejected", input: "src/../../outside.go", wantErr: true},
		{name: "empty rejected", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := containedPath(tt.input)
			if tt.wantErr {
				require.NotNil(t, err)
				assert.Equal(t, errors.ErrCodeNoSuchPath, err.Code)
				return
			}
			require.Nil(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// ====================
// Tests for output parsers
// ====================

func TestParseNumstat(t *testing.T) {
	out := "12\t3\tsrc/main.go\n" +
		"0\t45\told/gone.go\n" +
		"-\t-\tassets/logo.png\n" +
		"5\t5\tpkg/{before => after}/file.go\n"

	counts := parseNumstat(out)
	require.Len(t, counts, 4)

	assert.Equal(t, changeCount{additions: 12, deletions: 3}, counts["src/main.go"])
	assert.Equal(t, changeCount{deletions: 45}, counts["old/gone.go"])
	assert.True(t, counts["assets/logo.png"].binary)
	assert.Contains(t, counts, "pkg/after/file.go")
}

func TestParseNumstatWholeFileRename(t *testing.T) {
	counts := parseNumstat("2\t2\told_name.go => new_name.go\n")
	require.Contains(t, counts, "new_name.go")
	assert.Equal(t, 2, counts["new_name.go"].additions)
}

func TestParseNameStatus(t *testing.T) {
	out := "A\tnew/file.go\n" +
		"M\tsrc/main.go\n" +
		"D\tremoved.go\n" +
		"R087\told/path.go\tnew/path.go\n"

	changes := parseNameStatus(out)
	require.Len(t, changes, 4)

	assert.Equal(t, StatusAdded, changes[0].Status)
	assert.Equal(t, "new/file.go", changes[0].Path)
	assert.Equal(t, StatusModified, changes[1].Status)
	assert.Equal(t, StatusDeleted, changes[2].Status)
	assert.Equal(t, StatusRenamed, changes[3].Status)
	assert.Equal(t, "old/path.go", changes[3].OldPath)
	assert.Equal(t, "new/path.go", changes[3].Path)
}

func TestParseBranchRefs(t *testing.T) {
	out := "refs/heads/main\n" +
		"refs/heads/feature/change\n" +
		"refs/remotes/origin/HEAD\n" +
		"refs/remotes/origin/main\n"

	branches := parseBranchRefs(out)
	require.Len(t, branches, 3)
	assert.Equal(t, Branch{Name: "main", Type: "local"}, branches[0])
	assert.Equal(t, Branch{Name: "feature/change", Type: "local"}, branches[1])
	assert.Equal(t, Branch{Name: "origin/main", Type: "remote"}, branches[2])
}

func TestParseGrepHits(t *testing.T) {
	out := "abc123:src/main.go:10:\tfmt.Println(x)\n" +
		"abc123:src/util.go:3:func helper() {\n"

	hits := parseGrepHits(out)
	require.Len(t, hits, 2)
	assert.Equal(t, "src/main.go", hits[0].Path)
	assert.Equal(t, 10, hits[0].Line)
	assert.Equal(t, "\tfmt.Println(x)", hits[0].Content)
}

// ====================
// Integration tests against a scratch repository
// ====================

// initTestRepo builds a repository with two commits on main and returns its
// path plus the two commit hashes.
func initTestRepo(t *testing.T) (string, string, string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}

	dir := t.TempDir()
	run := func(args ...string) string {
		t.Helper()
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
		)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
		return strings.TrimSpace(string(out))
	}

	run("init", "-b", "main")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one\ntwo\nthree\n"), 0644))
	run("add", ".")
	run("commit", "-m", "first")
	base := run("rev-parse", "HEAD")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("one\nTWO\nthree\nfour\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("new file\n"), 0644))
	run("add", ".")
	run("commit", "-m", "second")
	head := run("rev-parse", "HEAD")

	return dir, base, head
}

func TestValidate(t *testing.T) {
	dir, _, _ := initTestRepo(t)
	reader := NewReader()

	info, err := reader.Validate(context.Background(), dir)
	require.NoError(t, err)
	assert.True(t, info.Valid)
	assert.Equal(t, "main", info.CurrentBranch)

	// git resolves symlinks in the root, compare resolved paths
	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Equal(t, resolved, info.Root)
}

func TestValidateNotARepo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
	reader := NewReader()

	_, err := reader.Validate(context.Background(), t.TempDir())
	require.Error(t, err)
	appErr, ok := errors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodeNotARepo, appErr.Code)
}

func TestFilesAndDiff(t *testing.T) {
	dir, base, head := initTestRepo(t)
	reader := NewReader()
	ctx := context.Background()

	files, err := reader.Files(ctx, dir, base, head)
	require.NoError(t, err)
	require.Len(t, files, 2)

	byPath := make(map[string]FileChange)
	for _, f := range files {
		byPath[f.Path] = f
	}
	assert.Equal(t, StatusModified, byPath["a.txt"].Status)
	assert.Equal(t, 2, byPath["a.txt"].Additions)
	assert.Equal(t, 1, byPath["a.txt"].Deletions)
	assert.Equal(t, StatusAdded, byPath["b.txt"].Status)

	diff, err := reader.Diff(ctx, dir, base, head, "a.txt")
	require.NoError(t, err)
	assert.Contains(t, diff, "+TWO")
	assert.Contains(t, diff, "-two")

	// Unchanged file yields an empty diff
	unchanged, err := reader.Diff(ctx, dir, head, head, "a.txt")
	require.NoError(t, err)
	assert.Empty(t, unchanged)
}

func TestReadLineRange(t *testing.T) {
	dir, _, head := initTestRepo(t)
	reader := NewReader()
	ctx := context.Background()

	lines, err := reader.Read(ctx, dir, head, "a.txt", 2, 3)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, Line{Number: 2, Content: "TWO"}, lines[0])
	assert.Equal(t, Line{Number: 3, Content: "three"}, lines[1])

	// End past EOF clamps
	clamped, err := reader.Read(ctx, dir, head, "a.txt", 3, 99)
	require.NoError(t, err)
	assert.Equal(t, 4, clamped[len(clamped)-1].Number)

	// Start past EOF is a range error
	_, err = reader.Read(ctx, dir, head, "a.txt", 50, 60)
	appErr, ok := errors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodeRangeInvalid, appErr.Code)

	// Reversed range is a range error
	_, err = reader.Read(ctx, dir, head, "a.txt", 3, 1)
	appErr, ok = errors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodeRangeInvalid, appErr.Code)
}

func TestReadNoSuchRef(t *testing.T) {
	dir, _, _ := initTestRepo(t)
	reader := NewReader()

	_, err := reader.Read(context.Background(), dir, "deadbeef000", "a.txt", 1, 1)
	require.Error(t, err)
	appErr, ok := errors.AsAppError(err)
	require.True(t, ok)
	assert.Contains(t,
		[]errors.ErrorCode{errors.ErrCodeNoSuchRef, errors.ErrCodeNoSuchPath},
		appErr.Code)
}

func TestDelta(t *testing.T) {
	dir, base, head := initTestRepo(t)
	reader := NewReader()
	ctx := context.Background()

	delta, err := reader.Delta(ctx, dir, base, head, []string{"b.txt"})
	require.NoError(t, err)
	assert.Contains(t, delta, "new file")
	assert.NotContains(t, delta, "TWO", "delta must be scoped to the requested paths")

	full, err := reader.Delta(ctx, dir, base, head, nil)
	require.NoError(t, err)
	assert.Contains(t, full, "TWO")
}

func TestTree(t *testing.T) {
	dir, _, head := initTestRepo(t)
	reader := NewReader()

	files, err := reader.Tree(context.Background(), dir, head)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt"}, files)
}

func TestBranches(t *testing.T) {
	dir, _, _ := initTestRepo(t)
	reader := NewReader()

	branches, err := reader.Branches(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, branches, 1)
	assert.Equal(t, Branch{Name: "main", Type: "local"}, branches[0])
}
