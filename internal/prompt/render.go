package prompt

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// Renderer renders prompt specs into the text passed to reviewer clients.
type Renderer struct {
	tmpl *template.Template
}

// NewRenderer creates a renderer with all templates parsed.
func NewRenderer() *Renderer {
	funcMap := template.FuncMap{
		"join":   strings.Join,
		"bullet": bullet,
		"quote":  quote,
		"clip":   ClipText,
		"add":    func(a, b int) int { return a + b },
	}

	r := &Renderer{tmpl: template.New("prompt").Funcs(funcMap)}
	template.Must(r.tmpl.New("review").Parse(reviewTemplate))
	template.Must(r.tmpl.New("deliberation").Parse(deliberationTemplate))
	template.Must(r.tmpl.New("verification").Parse(verificationTemplate))
	template.Must(r.tmpl.New("assist").Parse(assistTemplate))
	template.Must(r.tmpl.New("conntest").Parse(connTestTemplate))
	template.Must(r.tmpl.New("issue_brief").Parse(issueBriefTemplate))
	return r
}

func (r *Renderer) render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("failed to render %s prompt: %w", name, err)
	}
	return buf.String(), nil
}

// Review renders the first-pass review prompt.
func (r *Renderer) Review(spec *ReviewSpec) (string, error) {
	clipped := *spec
	clipped.DiffSummary = ClipText(spec.DiffSummary, MaxDiffChars)
	return r.render("review", &clipped)
}

// Deliberation renders a deliberation-turn prompt.
func (r *Renderer) Deliberation(spec *DeliberationSpec) (string, error) {
	return r.render("deliberation", spec)
}

// Verification renders the fix-verification prompt.
func (r *Renderer) Verification(spec *VerificationSpec) (string, error) {
	clipped := *spec
	clipped.Delta = ClipText(spec.Delta, MaxDiffChars)
	return r.render("verification", &clipped)
}

// Assist renders a per-issue helper prompt.
func (r *Renderer) Assist(spec *AssistSpec) (string, error) {
	return r.render("assist", spec)
}

// ConnTest renders the liveness-probe prompt.
func (r *Renderer) ConnTest(spec *ConnTestSpec) (string, error) {
	return r.render("conntest", spec)
}

func bullet(items []string) string {
	if len(items) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, item := range items {
		sb.WriteString("- ")
		sb.WriteString(item)
		sb.WriteString("\n")
	}
	return sb.String()
}

func quote(s string) string {
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	var sb strings.Builder
	for i, line := range lines {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("> ")
		sb.WriteString(line)
	}
	return sb.String()
}

const reviewTemplate = `## Role

You are {{.Model}}, a code reviewer with {{.Strictness}} strictness.
{{- if .SystemPrompt}}

{{.SystemPrompt}}
{{- end}}

## Task

Review the changes between {{.BaseRev}} and {{.HeadRev}} in the repository at {{.RepoPath}}.
{{- if .Focus}}

Focus areas, in priority order:
{{bullet .Focus}}
{{- end}}
{{- if .Context}}
{{- if .Context.Summary}}

## Implementation Context

The author describes the change as follows:

{{quote .Context.Summary}}
{{- end}}
{{- if .Context.Decisions}}

Key decisions:

{{quote .Context.Decisions}}
{{- end}}
{{- if .Context.Tradeoffs}}

Accepted tradeoffs:

{{quote .Context.Tradeoffs}}
{{- end}}
{{- end}}
{{- if .ChangedFiles}}

## Changed Files
{{bullet .ChangedFiles}}
{{- end}}
{{- if .DiffSummary}}

## Diff

` + "```diff\n{{.DiffSummary}}\n```" + `
{{- end}}

## Reporting

Report every issue you find through the session API. Authenticate each call with the header "X-Agent-Key: {{.Token}}".

To raise an issue:

  curl -s -X POST {{.APIBase}}/issues -H "X-Agent-Key: {{.Token}}" -H "Content-Type: application/json" -d '{"title": "...", "severity": "critical|high|medium|low", "file_path": "...", "line_start": N, "line_end": N, "description": "...", "suggestion": "..."}'

To read more of a file:

  curl -s "{{.APIBase}}/files/PATH?start=N&end=N" -H "X-Agent-Key: {{.Token}}"

When you are done, submit your summary (this ends your review):

  curl -s -X POST {{.APIBase}}/reviews -H "X-Agent-Key: {{.Token}}" -H "Content-Type: application/json" -d '{"summary": "..."}'

Rules:
- Report only genuine issues in the changed code. Do not praise the changes or describe their intent.
- Severity must reflect actual impact. Do not inflate it.
- Output plain text only. Do NOT create or modify any files.
- Submit the summary exactly once, after all issues are raised.`

const issueBriefTemplate = `### Issue #{{.DisplayNumber}}: {{.Title}}

- Severity: {{.Severity}}
- File: {{.FilePath}}{{if gt .LineStart 0}} lines {{.LineStart}}-{{.LineEnd}}{{end}}
- Raised by: {{.RaisedBy}}
- ID: {{.IssueID}}
{{- if .Description}}

{{quote .Description}}
{{- end}}
{{- if .Thread}}

Discussion so far:
{{bullet .Thread}}
{{- end}}`

const deliberationTemplate = `## Role

You are {{.Model}}, participating in deliberation turn {{.Turn}} of a code review.
{{- if .SystemPrompt}}

{{.SystemPrompt}}
{{- end}}

## Undecided Issues
{{range .Issues}}
{{template "issue_brief" .}}
{{end}}
## Voting

For each issue above, submit exactly one opinion through the session API. Authenticate with the header "X-Agent-Key: {{.Token}}".

  curl -s -X POST {{.APIBase}}/issues/ISSUE_ID/opinions -H "X-Agent-Key: {{.Token}}" -H "Content-Type: application/json" -d '{"action": "fix_required|no_fix|false_positive|comment", "reasoning": "...", "confidence": 0.0-1.0, "suggested_severity": "critical|high|medium|low"}'

Rules:
- "fix_required" means the issue must be fixed before merge.
- "no_fix" means the issue is real but acceptable as-is.
- "false_positive" means the report is wrong; the raiser will be asked to re-check.
- "withdraw" is only valid on issues you raised yourself.
- Vote on every issue listed. Use "comment" only when you genuinely cannot take a position yet.`

const verificationTemplate = `## Role

You are {{.Model}}. Fix commit {{.Commit}} (verification round {{.Round}}) claims to address issues you raised.

## Your Issues
{{range .Issues}}
{{template "issue_brief" .}}
{{end}}
{{- if .Delta}}
## Fix Delta

` + "```diff\n{{.Delta}}\n```" + `
{{- end}}

## Responding

Inspect the delta and respond per issue through the session API. Authenticate with the header "X-Agent-Key: {{.Token}}".

  curl -s -X POST {{.APIBase}}/issues/ISSUE_ID/respond -H "X-Agent-Key: {{.Token}}" -H "Content-Type: application/json" -d '{"action": "accept|dispute|partial", "reasoning": "..."}'

Rules:
- "accept" when the fix fully resolves your issue.
- "dispute" when the issue remains; say exactly what is still wrong.
- "partial" when the fix helps but is incomplete.`

const assistTemplate = `You are helping a human operator evaluate a code review issue.

{{template "issue_brief" .Issue}}
{{- if .Transcript}}

## Conversation
{{range .Transcript}}
{{.Role}}: {{.Content}}
{{end}}
{{- end}}

## Question

{{.Question}}

Answer the question, then finish your reply with a single JSON object of the form {"action": "comment|fix_required|no_fix", "reasoning": "...", "confidence": 0.0-1.0} summarizing your position on the issue.`

const connTestTemplate = `This is a connectivity probe. Confirm you can reach the review service by running exactly this command, then stop:

  curl -s -X POST {{.CallbackURL}} -H "X-Agent-Key: {{.Token}}"

Do not do anything else.`
