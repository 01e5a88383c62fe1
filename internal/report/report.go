// Package report renders a finished (or in-flight) session into markdown:
// a full review report for the record and a compact comment suitable for
// pasting onto a pull request.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/arvlabs/arv/internal/model"
)

// Input is everything the renderer needs, loaded by the caller.
type Input struct {
	Session    *model.Session
	Agents     []model.Agent
	Issues     []model.Issue
	Opinions   map[string][]model.Opinion // issue ID -> thread
	Reviews    []model.Review
	FixCommits []model.FixCommit
}

// Stats is the verdict rollup of a session.
type Stats struct {
	Total       int `json:"total"`
	FixRequired int `json:"fix_required"`
	Dismissed   int `json:"dismissed"`
	Undecided   int `json:"undecided"`
	Closed      int `json:"closed"`
	Fixed       int `json:"fixed"`
	WontFix     int `json:"wont_fix"`
}

// Report is the rendered result.
type Report struct {
	SessionID   string    `json:"session_id"`
	Phase       string    `json:"phase"`
	GeneratedAt time.Time `json:"generated_at"`
	Stats       Stats     `json:"stats"`
	Markdown    string    `json:"markdown"`
	PRComment   string    `json:"pr_comment"`
}

// severityOrder sorts issues most urgent first, then by display number.
func severityOrder(issues []model.Issue) []model.Issue {
	sorted := make([]model.Issue, len(issues))
	copy(sorted, issues)
	sort.SliceStable(sorted, func(i, j int) bool {
		si, sj := sorted[i].Severity.Rank(), sorted[j].Severity.Rank()
		if si != sj {
			return si > sj
		}
		return sorted[i].DisplayNumber < sorted[j].DisplayNumber
	})
	return sorted
}

// Build renders both markdown documents and the rollup.
func Build(in *Input) *Report {
	stats := computeStats(in.Issues)
	return &Report{
		SessionID:   in.Session.ID,
		Phase:       string(in.Session.Phase),
		GeneratedAt: time.Now(),
		Stats:       stats,
		Markdown:    renderMarkdown(in, stats),
		PRComment:   renderPRComment(in, stats),
	}
}

func computeStats(issues []model.Issue) Stats {
	var s Stats
	s.Total = len(issues)
	for _, issue := range issues {
		switch issue.ConsensusType {
		case model.ConsensusFixRequired:
			s.FixRequired++
		case model.ConsensusDismissed:
			s.Dismissed++
		case model.ConsensusClosed:
			s.Closed++
		default:
			s.Undecided++
		}
		switch issue.ProgressStatus {
		case model.ProgressFixed, model.ProgressCompleted:
			s.Fixed++
		case model.ProgressWontFix:
			s.WontFix++
		}
	}
	return s
}

func renderMarkdown(in *Input, stats Stats) string {
	var b strings.Builder
	session := in.Session

	fmt.Fprintf(&b, "# Review Report: %s\n\n", session.ID)
	fmt.Fprintf(&b, "- **Repository:** `%s`\n", session.RepoPath)
	fmt.Fprintf(&b, "- **Range:** `%s..%s`\n", session.BaseRev, session.HeadRev)
	fmt.Fprintf(&b, "- **Phase:** %s\n", session.Phase)
	fmt.Fprintf(&b, "- **Deliberation turns:** %d\n", session.Turn)
	if session.VerificationRound > 0 {
		fmt.Fprintf(&b, "- **Verification rounds:** %d\n", session.VerificationRound)
	}
	if session.StartedAt != nil {
		fmt.Fprintf(&b, "- **Started:** %s\n", session.StartedAt.Format(time.RFC3339))
	}
	if session.FinishedAt != nil {
		fmt.Fprintf(&b, "- **Finished:** %s\n", session.FinishedAt.Format(time.RFC3339))
	}
	b.WriteString("\n")

	if session.ContextSummary != "" {
		b.WriteString("## Implementation Context\n\n")
		b.WriteString(session.ContextSummary)
		b.WriteString("\n\n")
		writeContextList(&b, "Decisions", session.ContextDecisions)
		writeContextList(&b, "Tradeoffs", session.ContextTradeoffs)
	}

	if len(in.Agents) > 0 {
		b.WriteString("## Reviewers\n\n")
		b.WriteString("| Model | Client | Strictness | Status |\n")
		b.WriteString("|-------|--------|------------|--------|\n")
		for _, ag := range in.Agents {
			enabled := ""
			if !ag.Enabled {
				enabled = " (disabled)"
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %s%s |\n",
				ag.Model, ag.ClientKind, ag.Strictness, ag.Status, enabled)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "%d issue(s): %d fix required, %d dismissed, %d undecided, %d closed.\n\n",
		stats.Total, stats.FixRequired, stats.Dismissed, stats.Undecided, stats.Closed)

	if len(in.Issues) > 0 {
		b.WriteString("## Issues\n\n")
		for _, issue := range severityOrder(in.Issues) {
			writeIssue(&b, &issue, in.Opinions[issue.ID])
		}
	}

	if len(in.FixCommits) > 0 {
		b.WriteString("## Fix Commits\n\n")
		for _, fc := range in.FixCommits {
			fmt.Fprintf(&b, "- `%s` (round %d, %d issue(s))\n", fc.Commit, fc.Round, len(fc.IssueIDs))
		}
		b.WriteString("\n")
	}

	return b.String()
}

func writeContextList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "**%s**\n\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
	b.WriteString("\n")
}

func writeIssue(b *strings.Builder, issue *model.Issue, thread []model.Opinion) {
	fmt.Fprintf(b, "### #%d %s\n\n", issue.DisplayNumber, issue.Title)
	fmt.Fprintf(b, "- **Severity:** %s", issue.Severity)
	if issue.FinalSeverity != "" && issue.FinalSeverity != issue.Severity {
		fmt.Fprintf(b, " (final: %s)", issue.FinalSeverity)
	}
	b.WriteString("\n")
	if issue.FilePath != "" {
		fmt.Fprintf(b, "- **Location:** `%s`%s\n", issue.FilePath, lineRange(issue))
	}
	fmt.Fprintf(b, "- **Raised by:** %s", issue.RaisedBy)
	if len(issue.MergedFrom) > 0 {
		fmt.Fprintf(b, " (also: %s)", strings.Join(issue.MergedFrom, ", "))
	}
	b.WriteString("\n")
	fmt.Fprintf(b, "- **Verdict:** %s\n", verdict(issue))
	fmt.Fprintf(b, "- **Progress:** %s\n", issue.ProgressStatus)
	b.WriteString("\n")

	if issue.Description != "" {
		b.WriteString(issue.Description)
		b.WriteString("\n\n")
	}
	if issue.Suggestion != "" {
		fmt.Fprintf(b, "**Suggestion:** %s\n\n", issue.Suggestion)
	}

	var voices []string
	for _, op := range thread {
		if op.Action == model.ActionRaise || op.Action == model.ActionStatusChange {
			continue
		}
		voices = append(voices, fmt.Sprintf("- **%s** (%s): %s", op.ModelID, op.Action, op.Reasoning))
	}
	if len(voices) > 0 {
		b.WriteString("<details><summary>Deliberation</summary>\n\n")
		b.WriteString(strings.Join(voices, "\n"))
		b.WriteString("\n\n</details>\n\n")
	}
}

func lineRange(issue *model.Issue) string {
	if issue.LineStart == nil {
		return ""
	}
	if issue.LineEnd != nil && *issue.LineEnd != *issue.LineStart {
		return fmt.Sprintf(":%d-%d", *issue.LineStart, *issue.LineEnd)
	}
	return fmt.Sprintf(":%d", *issue.LineStart)
}

func verdict(issue *model.Issue) string {
	if issue.ConsensusType == "" {
		return "pending"
	}
	return string(issue.ConsensusType)
}

// renderPRComment is the short form: a verdict table of confirmed issues
// and a one-line rollup, small enough for a pull-request comment.
func renderPRComment(in *Input, stats Stats) string {
	var b strings.Builder
	session := in.Session

	fmt.Fprintf(&b, "## Multi-agent review of `%s..%s`\n\n", session.BaseRev, session.HeadRev)
	fmt.Fprintf(&b, "%d issue(s) raised by %d reviewer(s): **%d fix required**, %d dismissed, %d undecided.\n\n",
		stats.Total, len(in.Agents), stats.FixRequired, stats.Dismissed, stats.Undecided)

	confirmed := make([]model.Issue, 0, len(in.Issues))
	for _, issue := range in.Issues {
		if issue.ConsensusType == model.ConsensusFixRequired {
			confirmed = append(confirmed, issue)
		}
	}
	if len(confirmed) > 0 {
		b.WriteString("| # | Severity | Issue | Location | Progress |\n")
		b.WriteString("|---|----------|-------|----------|----------|\n")
		for _, issue := range severityOrder(confirmed) {
			location := ""
			if issue.FilePath != "" {
				location = fmt.Sprintf("`%s%s`", issue.FilePath, lineRange(&issue))
			}
			sev := issue.Severity
			if issue.FinalSeverity != "" {
				sev = issue.FinalSeverity
			}
			fmt.Fprintf(&b, "| %d | %s | %s | %s | %s |\n",
				issue.DisplayNumber, sev, issue.Title, location, issue.ProgressStatus)
		}
		b.WriteString("\n")
	}

	if session.Phase == model.PhaseComplete {
		b.WriteString("Review complete.\n")
	} else {
		fmt.Fprintf(&b, "Review in progress (phase: %s).\n", session.Phase)
	}
	return b.String()
}
