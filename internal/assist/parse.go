package assist

import (
	"encoding/json"
	"strings"

	"github.com/arvlabs/arv/internal/model"
	"github.com/arvlabs/arv/pkg/errors"
)

// Opinion is the structured position extracted from a helper reply.
type Opinion struct {
	Action            string   `json:"action"`
	Reasoning         string   `json:"reasoning"`
	Confidence        *float64 `json:"confidence,omitempty"`
	SuggestedSeverity string   `json:"suggested_severity,omitempty"`
}

// ParseOpinion extracts an opinion object from a helper reply. Clients wrap
// the JSON in prose more often than not, so after a whole-string parse fails
// every top-level brace pair is tried, last one first: the instructed format
// puts the object at the end of the reply.
func ParseOpinion(output string) (*Opinion, error) {
	output = strings.TrimSpace(output)
	if output == "" {
		return nil, errors.ErrValidation("empty assist reply")
	}

	if op, ok := tryDecode(output); ok {
		return op, nil
	}
	candidates := scanObjects(output)
	for i := len(candidates) - 1; i >= 0; i-- {
		if op, ok := tryDecode(candidates[i]); ok {
			return op, nil
		}
	}
	return nil, errors.ErrValidation("no opinion object found in assist reply")
}

func tryDecode(s string) (*Opinion, bool) {
	var op Opinion
	if err := json.Unmarshal([]byte(s), &op); err != nil {
		return nil, false
	}
	switch model.OpinionAction(op.Action) {
	case model.ActionFixRequired, model.ActionNoFix, model.ActionFalsePositive, model.ActionComment:
	default:
		return nil, false
	}
	return &op, true
}

// scanObjects returns every balanced top-level {...} span in the text.
// Braces inside JSON strings are skipped.
func scanObjects(s string) []string {
	var spans []string
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					spans = append(spans, s[start:i+1])
					start = -1
				}
			}
		}
	}
	return spans
}
