package model

import (
	"time"

	"gorm.io/gorm"
)

// Severity levels in decreasing order of urgency
type Severity string

const (
	SeverityCritical  Severity = "critical"
	SeverityHigh      Severity = "high"
	SeverityMedium    Severity = "medium"
	SeverityLow       Severity = "low"
	SeverityDismissed Severity = "dismissed"
)

// severityRank orders severities for canonical selection and weighted medians.
// Higher rank means more urgent.
var severityRank = map[Severity]int{
	SeverityCritical:  4,
	SeverityHigh:      3,
	SeverityMedium:    2,
	SeverityLow:       1,
	SeverityDismissed: 0,
}

// Rank returns the numeric urgency of the severity; unknown values rank lowest
func (s Severity) Rank() int {
	return severityRank[s]
}

// ValidSeverity reports whether s is a known severity level
func ValidSeverity(s Severity) bool {
	_, ok := severityRank[s]
	return ok
}

// ConsensusType is the engine's verdict for an issue
type ConsensusType string

const (
	ConsensusFixRequired ConsensusType = "fix_required"
	ConsensusDismissed   ConsensusType = "dismissed"
	ConsensusUndecided   ConsensusType = "undecided"
	ConsensusClosed      ConsensusType = "closed"
)

// ProgressStatus tracks the author-side handling of an issue
type ProgressStatus string

const (
	ProgressReported  ProgressStatus = "reported"
	ProgressWontFix   ProgressStatus = "wont_fix"
	ProgressFixed     ProgressStatus = "fixed"
	ProgressCompleted ProgressStatus = "completed"
)

// ValidProgressStatus reports whether s is a known progress status
func ValidProgressStatus(s ProgressStatus) bool {
	switch s {
	case ProgressReported, ProgressWontFix, ProgressFixed, ProgressCompleted:
		return true
	}
	return false
}

// OpinionAction is the closed set of opinion kinds
type OpinionAction string

const (
	ActionRaise         OpinionAction = "raise"
	ActionFixRequired   OpinionAction = "fix_required"
	ActionNoFix         OpinionAction = "no_fix"
	ActionFalsePositive OpinionAction = "false_positive"
	ActionWithdraw      OpinionAction = "withdraw"
	ActionComment       OpinionAction = "comment"
	ActionStatusChange  OpinionAction = "status_change"
)

// ValidOpinionAction reports whether a is in the closed action set
func ValidOpinionAction(a OpinionAction) bool {
	switch a {
	case ActionRaise, ActionFixRequired, ActionNoFix, ActionFalsePositive,
		ActionWithdraw, ActionComment, ActionStatusChange:
		return true
	}
	return false
}

// VoteBearing reports whether the action counts toward consensus
func (a OpinionAction) VoteBearing() bool {
	return a == ActionFixRequired || a == ActionNoFix || a == ActionFalsePositive
}

// RespondAction is a raiser's verdict on a fix during verification
type RespondAction string

const (
	RespondAccept  RespondAction = "accept"
	RespondDispute RespondAction = "dispute"
	RespondPartial RespondAction = "partial"
)

// ValidRespondAction reports whether a is a known verification response
func ValidRespondAction(a RespondAction) bool {
	return a == RespondAccept || a == RespondDispute || a == RespondPartial
}

// HumanModelID is the pseudo-reviewer identity used for operator actions
const HumanModelID = "human"

// HumanAssistModelID is the pseudo-reviewer identity for opinions converted
// out of an assist conversation
const HumanAssistModelID = "human-assist"

// Issue is a problem report with a stable ID and an opinion thread
type Issue struct {
	ID        string         `gorm:"primarykey;size:20" json:"id"` // xid
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// Association
	SessionID string `gorm:"size:12;not null;index" json:"session_id"`

	// Identity within the session. Assigned once, never renumbered.
	DisplayNumber int `gorm:"not null" json:"display_number"`

	// Report content
	Title       string   `gorm:"size:512;not null" json:"title"`
	Severity    Severity `gorm:"size:20;not null" json:"severity"`
	FilePath    string   `gorm:"size:1024" json:"file_path,omitempty"`
	LineStart   *int     `json:"line_start,omitempty"` // normalized so start <= end
	LineEnd     *int     `json:"line_end,omitempty"`
	Description string   `gorm:"type:text" json:"description,omitempty"`
	Suggestion  string   `gorm:"type:text" json:"suggestion,omitempty"`

	// Provenance
	RaisedBy   string `gorm:"size:255;not null" json:"raised_by"`
	RaisedTurn int    `gorm:"default:0" json:"raised_turn"`

	// Consensus state
	Consensus     *bool         `json:"consensus"` // nil until decided
	ConsensusType ConsensusType `gorm:"size:20" json:"consensus_type,omitempty"`
	FinalSeverity Severity      `gorm:"size:20" json:"final_severity,omitempty"`
	Turn          int           `gorm:"default:0" json:"turn"` // last deliberation turn that touched the issue

	// Author-side progress
	ProgressStatus ProgressStatus `gorm:"size:20;not null;default:reported" json:"progress_status"`

	// Verification responses for the current round, model ID -> accept|dispute|partial.
	// Cleared when a dispute sends the session back to fixing.
	Responses JSONMap `gorm:"type:json" json:"responses,omitempty"`

	// Dedup identity
	GroupKey   string      `gorm:"size:512;index" json:"group_key,omitempty"`
	MergedFrom StringArray `gorm:"type:json" json:"merged_from,omitempty"` // model IDs whose raises were folded in

	// Relations
	Opinions       []Opinion       `gorm:"foreignKey:IssueID" json:"opinions,omitempty"`
	AssistMessages []AssistMessage `gorm:"foreignKey:IssueID" json:"assist_messages,omitempty"`
}

// Closed reports whether the issue accepts no further opinions
func (i *Issue) Closed() bool {
	return i.ConsensusType == ConsensusClosed
}

// Decided reports whether consensus has been reached (including closed)
func (i *Issue) Decided() bool {
	return i.Consensus != nil && *i.Consensus
}

// NormalizeLines swaps the line range endpoints when start > end
func (i *Issue) NormalizeLines() {
	if i.LineStart != nil && i.LineEnd != nil && *i.LineStart > *i.LineEnd {
		i.LineStart, i.LineEnd = i.LineEnd, i.LineStart
	}
	if i.LineStart != nil && i.LineEnd == nil {
		end := *i.LineStart
		i.LineEnd = &end
	}
}

// Opinion is one entry in an Issue's thread.
// Thread order is the lexicographic order of IDs: xids are time-sortable
// with a per-process counter, so insertion order is preserved.
type Opinion struct {
	ID        string    `gorm:"primarykey;size:20" json:"id"` // xid
	CreatedAt time.Time `json:"created_at"`

	// Association
	IssueID   string `gorm:"size:20;not null;index" json:"issue_id"`
	SessionID string `gorm:"size:12;not null;index" json:"session_id"`

	ModelID   string        `gorm:"size:255;not null" json:"model_id"`
	Action    OpinionAction `gorm:"size:20;not null" json:"action"`
	Reasoning string        `gorm:"type:text" json:"reasoning,omitempty"`

	SuggestedSeverity Severity    `gorm:"size:20" json:"suggested_severity,omitempty"`
	Confidence        *float64    `json:"confidence,omitempty"` // in [0,1] when present
	Turn              int         `gorm:"default:0" json:"turn"`
	Mentions          StringArray `gorm:"type:json" json:"mentions,omitempty"`

	// Populated for status_change entries only
	PreviousStatus string `gorm:"size:20" json:"previous_status,omitempty"`
	StatusValue    string `gorm:"size:20" json:"status_value,omitempty"`
}

// Weight returns the consensus weight of this opinion given the voter's strictness
func (o *Opinion) Weight(strictness string) float64 {
	if o.Confidence != nil {
		c := *o.Confidence
		if c < 0.1 {
			c = 0.1
		}
		return c
	}
	return StrictnessWeight(strictness)
}

// AssistMessage is one turn of a per-issue helper conversation
type AssistMessage struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	IssueID string `gorm:"size:20;not null;index" json:"issue_id"`
	Role    string `gorm:"size:20;not null" json:"role"` // user or assistant
	Content string `gorm:"type:text;not null" json:"content"`
}
