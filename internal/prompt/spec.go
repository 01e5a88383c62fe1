// Package prompt builds the instruction text handed to reviewer
// subprocesses. Specs are plain data; rendering happens through templates
// so the wording lives in one place.
package prompt

// MaxDiffChars caps the diff text embedded in a prompt. Reviewers read the
// full files through the API when the diff is clipped.
const MaxDiffChars = 12000

// SessionContext is the optional author-supplied implementation context.
type SessionContext struct {
	Summary   string
	Decisions string
	Tradeoffs string
}

// ReviewSpec describes the first-pass review prompt for one agent.
type ReviewSpec struct {
	Model        string
	SystemPrompt string
	Strictness   string
	Focus        []string

	RepoPath string
	BaseRev  string
	HeadRev  string

	ChangedFiles []string
	DiffSummary  string
	Context      *SessionContext

	// APIBase is the session-scoped URL the reviewer reports through, and
	// Token authenticates its calls.
	APIBase string
	Token   string
}

// IssueBrief is the per-issue context shown during deliberation and
// verification.
type IssueBrief struct {
	DisplayNumber int
	IssueID       string
	Title         string
	Severity      string
	FilePath      string
	LineStart     int
	LineEnd       int
	RaisedBy      string
	Description   string
	Thread        []string // rendered prior opinions, oldest first
}

// DeliberationSpec describes a deliberation-turn prompt.
type DeliberationSpec struct {
	Model        string
	SystemPrompt string
	Turn         int
	Issues       []IssueBrief

	APIBase string
	Token   string
}

// VerificationSpec describes the fix-verification prompt sent to an issue
// raiser after a fix commit lands.
type VerificationSpec struct {
	Model  string
	Commit string
	Round  int
	Issues []IssueBrief
	Delta  string

	APIBase string
	Token   string
}

// AssistSpec describes a per-issue helper conversation prompt. The reply is
// expected to be a single JSON object so it can be converted to an opinion.
type AssistSpec struct {
	Issue      IssueBrief
	Transcript []AssistTurn
	Question   string
}

// AssistTurn is one prior exchange in an assist conversation.
type AssistTurn struct {
	Role    string
	Content string
}

// ConnTestSpec describes the liveness-probe prompt used by the connection
// tester.
type ConnTestSpec struct {
	CallbackURL string
	Token       string
}

// ClipText truncates s to at most limit characters, appending a marker when
// content was dropped.
func ClipText(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[:limit] + "\n... (truncated)"
}
