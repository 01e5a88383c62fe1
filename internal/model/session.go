package model

import (
	"time"

	"gorm.io/gorm"
)

// Phase represents the lifecycle phase of a review session
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhaseCollecting    Phase = "collecting"
	PhaseReviewing     Phase = "reviewing"
	PhaseDedup         Phase = "dedup"
	PhaseDeliberating  Phase = "deliberating"
	PhaseAgentResponse Phase = "agent_response"
	PhaseFixing        Phase = "fixing"
	PhaseVerifying     Phase = "verifying"
	PhaseComplete      Phase = "complete"
)

// IsTerminal reports whether the phase accepts no further transitions
func (p Phase) IsTerminal() bool {
	return p == PhaseComplete
}

// phaseTransitions is the allowed transition table for the session state machine
var phaseTransitions = map[Phase][]Phase{
	PhaseIdle:          {PhaseCollecting, PhaseComplete},
	PhaseCollecting:    {PhaseReviewing, PhaseComplete},
	PhaseReviewing:     {PhaseDedup, PhaseComplete},
	PhaseDedup:         {PhaseDeliberating, PhaseComplete},
	PhaseDeliberating:  {PhaseDeliberating, PhaseAgentResponse, PhaseFixing, PhaseComplete},
	PhaseAgentResponse: {PhaseDeliberating, PhaseFixing, PhaseComplete},
	PhaseFixing:        {PhaseVerifying, PhaseComplete},
	PhaseVerifying:     {PhaseFixing, PhaseComplete},
	PhaseComplete:      {PhaseDeliberating}, // human reopen
}

// CanTransition reports whether the state machine permits moving from p to next
func (p Phase) CanTransition(next Phase) bool {
	for _, allowed := range phaseTransitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}

// AgentStatus represents the per-stage status of a reviewer
type AgentStatus string

const (
	AgentStatusIdle      AgentStatus = "idle"
	AgentStatusReviewing AgentStatus = "reviewing"
	AgentStatusSubmitted AgentStatus = "submitted"
	AgentStatusFailed    AgentStatus = "failed"
	AgentStatusWaiting   AgentStatus = "waiting" // run ended without a submission outside the review phase
)

// IsTerminal reports whether the agent has finished its current stage
func (s AgentStatus) IsTerminal() bool {
	return s == AgentStatusSubmitted || s == AgentStatusFailed || s == AgentStatusWaiting
}

// TaskType identifies what kind of run an agent is currently assigned
type TaskType string

const (
	TaskReview       TaskType = "review"
	TaskDeliberation TaskType = "deliberation"
	TaskVerification TaskType = "verification"
)

// Session represents one code-review job over a (base, head) revision pair
type Session struct {
	ID        string         `gorm:"primarykey;size:12" json:"id"` // 12 hex chars
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// Working tree identification
	RepoPath string `gorm:"size:1024;not null" json:"repo_path"`
	BaseRev  string `gorm:"size:255;not null" json:"base"`
	HeadRev  string `gorm:"size:255;not null" json:"head"`

	// Lifecycle
	Phase             Phase `gorm:"size:32;not null;default:idle;index" json:"phase"`
	Turn              int   `gorm:"default:0" json:"turn"`               // current deliberation turn, zero-based
	VerificationRound int   `gorm:"default:0" json:"verification_round"` // fix/verify cycles completed

	// Per-session overrides of lifecycle defaults (0 means use configured default)
	MaxTurns           int     `gorm:"default:0" json:"max_turns,omitempty"`
	ConsensusThreshold float64 `gorm:"default:0" json:"consensus_threshold,omitempty"`
	AgentResponseGate  bool    `gorm:"default:false" json:"agent_response_gate"`

	// Implementation context supplied by the author
	ContextSummary     string      `gorm:"type:text" json:"context_summary,omitempty"`
	ContextDecisions   StringArray `gorm:"type:json" json:"context_decisions,omitempty"`
	ContextTradeoffs   StringArray `gorm:"type:json" json:"context_tradeoffs,omitempty"`
	ContextSubmitter   string      `gorm:"size:255" json:"context_submitter,omitempty"`
	ContextSubmittedAt *time.Time  `json:"context_submitted_at,omitempty"`

	// Timing
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Error handling
	ErrorMessage string `gorm:"type:text" json:"error_message,omitempty"`

	// Relations
	Agents     []Agent     `gorm:"foreignKey:SessionID" json:"agents,omitempty"`
	Issues     []Issue     `gorm:"foreignKey:SessionID" json:"issues,omitempty"`
	Reviews    []Review    `gorm:"foreignKey:SessionID" json:"reviews,omitempty"`
	FixCommits []FixCommit `gorm:"foreignKey:SessionID" json:"fix_commits,omitempty"`
}

// Agent represents a configured reviewer bound to a session
type Agent struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// Association
	SessionID string `gorm:"size:12;not null;index;uniqueIndex:idx_session_model,priority:1" json:"session_id"`

	// Identity
	Model      string `gorm:"size:255;not null;uniqueIndex:idx_session_model,priority:2" json:"model"`
	ClientKind string `gorm:"size:50;not null" json:"client_kind"` // claude, codex, gemini, opencode, mock
	Provider   string `gorm:"size:100" json:"provider,omitempty"`

	// Review behavior
	Strictness   string      `gorm:"size:20;not null;default:balanced" json:"strictness"` // strict, balanced, lenient
	SystemPrompt string      `gorm:"type:text" json:"system_prompt,omitempty"`
	Temperature  *float64    `json:"temperature,omitempty"`
	Focus        StringArray `gorm:"type:json" json:"focus,omitempty"` // review focus keywords
	Color        string      `gorm:"size:20" json:"color,omitempty"`
	Enabled      bool        `gorm:"default:true" json:"enabled"`

	// Runtime state
	Status          AgentStatus `gorm:"size:32;not null;default:idle;index" json:"status"`
	StatusReason    string      `gorm:"type:text" json:"status_reason,omitempty"`
	TaskType        TaskType    `gorm:"size:20" json:"task_type,omitempty"`
	LastReviewingAt *time.Time  `json:"last_reviewing_at,omitempty"` // basis for elapsed seconds
	PromptPreview   string      `gorm:"type:text" json:"prompt_preview,omitempty"`
}

// VoteWeight returns the consensus weight derived from the agent's strictness
func (a *Agent) VoteWeight() float64 {
	return StrictnessWeight(a.Strictness)
}

// StrictnessWeight maps a strictness level to its default vote weight
func StrictnessWeight(strictness string) float64 {
	switch strictness {
	case "strict":
		return 1.0
	case "lenient":
		return 0.4
	default:
		return 0.7 // balanced
	}
}

// Preset is a session-independent template for an Agent
type Preset struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Name         string      `gorm:"size:255;not null;uniqueIndex" json:"name"`
	Model        string      `gorm:"size:255;not null" json:"model"`
	ClientKind   string      `gorm:"size:50;not null" json:"client_kind"`
	Provider     string      `gorm:"size:100" json:"provider,omitempty"`
	Strictness   string      `gorm:"size:20;not null;default:balanced" json:"strictness"`
	SystemPrompt string      `gorm:"type:text" json:"system_prompt,omitempty"`
	Temperature  *float64    `json:"temperature,omitempty"`
	Focus        StringArray `gorm:"type:json" json:"focus,omitempty"`
	Color        string      `gorm:"size:20" json:"color,omitempty"`
	Enabled      bool        `gorm:"default:true" json:"enabled"`
}

// Instantiate creates an Agent from the preset for the given session
func (p *Preset) Instantiate(sessionID string) *Agent {
	return &Agent{
		SessionID:    sessionID,
		Model:        p.Model,
		ClientKind:   p.ClientKind,
		Provider:     p.Provider,
		Strictness:   p.Strictness,
		SystemPrompt: p.SystemPrompt,
		Temperature:  p.Temperature,
		Focus:        p.Focus,
		Color:        p.Color,
		Enabled:      p.Enabled,
		Status:       AgentStatusIdle,
	}
}

// Review is one reviewer's round-level record
type Review struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	SessionID string `gorm:"size:12;not null;index;uniqueIndex:idx_session_model_turn,priority:1" json:"session_id"`
	ModelID   string `gorm:"size:255;not null;uniqueIndex:idx_session_model_turn,priority:2" json:"model_id"`
	Turn      int    `gorm:"not null;uniqueIndex:idx_session_model_turn,priority:3" json:"turn"`

	SubmittedAt  time.Time `json:"submitted_at"`
	Summary      string    `gorm:"type:text" json:"summary"`
	IssuesRaised int       `gorm:"default:0" json:"issues_raised"`
}

// FixCommit records one author fix-up commit and the issues it targets
type FixCommit struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	SessionID string      `gorm:"size:12;not null;index" json:"session_id"`
	Commit    string      `gorm:"size:64;not null" json:"commit"`
	Round     int         `gorm:"default:0" json:"round"` // verification round this commit belongs to
	IssueIDs  StringArray `gorm:"type:json" json:"issue_ids,omitempty"`
}

// TokenKind distinguishes the purposes an access token can serve
type TokenKind string

const (
	TokenKindAgent    TokenKind = "agent"    // per-(session, agent) reviewer token
	TokenKindAssist   TokenKind = "assist"   // human-assist token minted on demand
	TokenKindConnTest TokenKind = "conntest" // short-lived single-use probe token
)

// AgentToken binds an opaque access key to a (session, model) identity
type AgentToken struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Key       string    `gorm:"size:64;not null;uniqueIndex" json:"-"` // never serialized
	SessionID string    `gorm:"size:12;not null;index" json:"session_id"`
	ModelID   string    `gorm:"size:255;not null" json:"model_id"`
	Kind      TokenKind `gorm:"size:20;not null;default:agent" json:"kind"`

	ExpiresAt *time.Time `json:"expires_at,omitempty"` // nil means session-lifetime
	UsedAt    *time.Time `json:"used_at,omitempty"`    // set when a single-use token is consumed
}

// Expired reports whether the token is past its expiry at the given time
func (t *AgentToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && now.After(*t.ExpiresAt)
}
