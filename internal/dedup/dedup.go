// Package dedup collapses near-duplicate issue reports from different
// reviewers into canonical issues. It runs once, after the first review
// turn, and is deterministic: identical inputs yield identical canonical
// assignments and numbering.
package dedup

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/arvlabs/arv/internal/model"
)

// DefaultProximityWindow is the line distance within which two reports on
// the same file are considered the same finding.
const DefaultProximityWindow = 5

// groupKeyTokens caps how many title tokens participate in the key.
const groupKeyTokens = 4

// Group is one canonical issue together with the duplicates folded into it.
type Group struct {
	Canonical *model.Issue
	Merged    []*model.Issue
}

// Result is the full dedup outcome. Groups appear in original raise order
// of their earliest member, which is also display-number order.
type Result struct {
	Groups []Group
}

// NormalizeTitle lowercases a title, folds unicode compatibility forms, and
// strips punctuation to spaces.
func NormalizeTitle(title string) string {
	folded := norm.NFKC.String(title)
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// GroupKey derives the duplicate-candidate key of a title: normalize, drop
// single-rune words, sort the first four remaining tokens alphabetically,
// and join them.
func GroupKey(title string) string {
	var tokens []string
	for _, tok := range strings.Fields(NormalizeTitle(title)) {
		if len([]rune(tok)) <= 1 {
			continue
		}
		tokens = append(tokens, tok)
		if len(tokens) == groupKeyTokens {
			break
		}
	}
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// Run groups the raised issues of a session. proximity <= 0 uses the
// default window. Input order does not matter; raise order is recovered
// from issue IDs, which sort by insertion time.
func Run(issues []*model.Issue, proximity int) *Result {
	if proximity <= 0 {
		proximity = DefaultProximityWindow
	}

	ordered := make([]*model.Issue, len(issues))
	copy(ordered, issues)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].ID < ordered[j].ID
	})

	var groups []*groupState
	for _, issue := range ordered {
		key := GroupKey(issue.Title)
		placed := false
		for _, g := range groups {
			if g.filePath == issue.FilePath && g.key == key && g.matches(issue, proximity) {
				g.members = append(g.members, issue)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, &groupState{
				filePath: issue.FilePath,
				key:      key,
				members:  []*model.Issue{issue},
			})
		}
	}

	result := &Result{Groups: make([]Group, 0, len(groups))}
	for _, g := range groups {
		canonical := selectCanonical(g.members)
		group := Group{Canonical: canonical}
		for _, member := range g.members {
			if member != canonical {
				group.Merged = append(group.Merged, member)
			}
		}
		result.Groups = append(result.Groups, group)
	}
	return result
}

type groupState struct {
	filePath string
	key      string
	members  []*model.Issue
}

// matches reports whether an issue belongs in the group: line ranges of any
// member overlap or sit within the proximity window, or the normalized
// titles are byte-identical.
func (g *groupState) matches(issue *model.Issue, proximity int) bool {
	issueNorm := NormalizeTitle(issue.Title)
	for _, member := range g.members {
		if rangesNear(member, issue, proximity) {
			return true
		}
		if issueNorm == NormalizeTitle(member.Title) {
			return true
		}
	}
	return false
}

// rangesNear checks line-range overlap extended by the proximity window.
// Issues without line information never match on proximity.
func rangesNear(a, b *model.Issue, proximity int) bool {
	if a.LineStart == nil || b.LineStart == nil {
		return false
	}
	aStart, aEnd := lineRange(a)
	bStart, bEnd := lineRange(b)
	return aStart-proximity <= bEnd && bStart-proximity <= aEnd
}

func lineRange(issue *model.Issue) (int, int) {
	start := *issue.LineStart
	end := start
	if issue.LineEnd != nil {
		end = *issue.LineEnd
	}
	if end < start {
		start, end = end, start
	}
	return start, end
}

// selectCanonical picks the group's surviving issue: highest severity,
// tie-break on earliest submission, then lexicographic model ID.
func selectCanonical(members []*model.Issue) *model.Issue {
	canonical := members[0]
	for _, candidate := range members[1:] {
		if outranks(candidate, canonical) {
			canonical = candidate
		}
	}
	return canonical
}

func outranks(a, b *model.Issue) bool {
	if ar, br := a.Severity.Rank(), b.Severity.Rank(); ar != br {
		return ar > br
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.RaisedBy < b.RaisedBy
}

// MergeOpinion converts a folded duplicate into a synthetic raise-class
// opinion on the canonical issue, preserving the reporter's original text.
func MergeOpinion(canonical, merged *model.Issue, opinionID string) *model.Opinion {
	reasoning := merged.Title
	if merged.Description != "" {
		reasoning += "\n\n" + merged.Description
	}
	return &model.Opinion{
		ID:                opinionID,
		IssueID:           canonical.ID,
		SessionID:         canonical.SessionID,
		ModelID:           merged.RaisedBy,
		Action:            model.ActionRaise,
		Reasoning:         reasoning,
		SuggestedSeverity: merged.Severity,
		Turn:              0,
	}
}
