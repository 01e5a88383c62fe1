package repo

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	// numstat lines: "<added>\t<deleted>\t<path>", dashes for binary files
	numstatRe = regexp.MustCompile(`^(\d+|-)\t(\d+|-)\t(.+)$`)

	// grep -n hits prefixed with the revision: "<rev>:<path>:<line>:<content>"
	grepHitRe = regexp.MustCompile(`^[^:]+:([^:]+):(\d+):(.*)$`)
)

type changeCount struct {
	additions int
	deletions int
	binary    bool
}

// parseNumstat parses `git diff --numstat` output into per-path counts.
// Renames are reported as "old => new" or "{a => b}/rest"; the key is the
// new path.
func parseNumstat(out string) map[string]changeCount {
	counts := make(map[string]changeCount)
	for _, line := range strings.Split(out, "\n") {
		m := numstatRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		var c changeCount
		if m[1] == "-" || m[2] == "-" {
			c.binary = true
		} else {
			c.additions, _ = strconv.Atoi(m[1])
			c.deletions, _ = strconv.Atoi(m[2])
		}
		counts[renameNewPath(m[3])] = c
	}
	return counts
}

// renameNewPath resolves numstat rename notation to the post-rename path.
func renameNewPath(path string) string {
	if i := strings.Index(path, "{"); i >= 0 {
		if j := strings.Index(path, " => "); j > i {
			if k := strings.Index(path[j:], "}"); k >= 0 {
				// "prefix/{old => new}/suffix"
				resolved := path[:i] + path[j+4:j+k] + path[j+k+1:]
				return strings.ReplaceAll(resolved, "//", "/")
			}
		}
	}
	if j := strings.Index(path, " => "); j >= 0 {
		return path[j+4:]
	}
	return path
}

// parseNameStatus parses `git diff --name-status -M` output. Rename lines
// carry both paths: "R<score>\told\tnew".
func parseNameStatus(out string) []FileChange {
	var changes []FileChange
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) < 2 {
			continue
		}

		var fc FileChange
		switch parts[0][0] {
		case 'A':
			fc.Status = StatusAdded
			fc.Path = parts[1]
		case 'M':
			fc.Status = StatusModified
			fc.Path = parts[1]
		case 'D':
			fc.Status = StatusDeleted
			fc.Path = parts[1]
		case 'R':
			if len(parts) < 3 {
				continue
			}
			fc.Status = StatusRenamed
			fc.OldPath = parts[1]
			fc.Path = parts[2]
		case 'C':
			if len(parts) < 3 {
				continue
			}
			fc.Status = StatusAdded
			fc.Path = parts[2]
		default:
			fc.Status = StatusModified
			fc.Path = parts[len(parts)-1]
		}
		changes = append(changes, fc)
	}
	return changes
}

// parseBranchRefs classifies `git for-each-ref` refnames into local and
// remote branches. Symbolic HEAD entries of remotes are skipped.
func parseBranchRefs(out string) []Branch {
	var branches []Branch
	for _, line := range strings.Split(out, "\n") {
		ref := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(ref, "refs/heads/"):
			branches = append(branches, Branch{
				Name: strings.TrimPrefix(ref, "refs/heads/"),
				Type: "local",
			})
		case strings.HasPrefix(ref, "refs/remotes/"):
			name := strings.TrimPrefix(ref, "refs/remotes/")
			if strings.HasSuffix(name, "/HEAD") {
				continue
			}
			branches = append(branches, Branch{Name: name, Type: "remote"})
		}
	}
	return branches
}

// parseGrepHits parses `git grep -n <pattern> <rev>` output lines.
func parseGrepHits(out string) []SearchHit {
	var hits []SearchHit
	for _, line := range strings.Split(out, "\n") {
		m := grepHitRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		num, _ := strconv.Atoi(m[2])
		hits = append(hits, SearchHit{Path: m[1], Line: num, Content: m[3]})
	}
	return hits
}
