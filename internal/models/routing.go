package models

import "strings"

// Mode is the enrichment mode attached to a routing rule.
type Mode string

const (
	ModeForward       Mode = "forward"
	ModeResultConcall Mode = "result_concall"
)

// ParseMode parses a mode name. An empty name means forward.
func ParseMode(s string) (Mode, bool) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeForward:
		return ModeForward, true
	case ModeResultConcall:
		return ModeResultConcall, true
	default:
		return "", false
	}
}

// RoutingRule maps a keyword set to a destination.
type RoutingRule struct {
	DestinationID string   `json:"destination_id"`
	Keywords      []string `json:"keywords"`
	Mode          Mode     `json:"mode"`
}

// Matches reports whether any keyword is a case-insensitive substring of
// any field value of the announcement. Keywords need not be pre-lowered.
func (r RoutingRule) Matches(a Announcement) bool {
	keywords := make([]string, 0, len(r.Keywords))
	for _, kw := range r.Keywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			keywords = append(keywords, kw)
		}
	}
	if len(keywords) == 0 {
		return false
	}

	for _, f := range a.Fields {
		value := strings.ToLower(f.Value)
		if value == "" {
			continue
		}
		for _, kw := range keywords {
			if strings.Contains(value, kw) {
				return true
			}
		}
	}
	return false
}

// NeedsAnalysis reports whether any rule requests document understanding.
func NeedsAnalysis(rules []RoutingRule) bool {
	for _, r := range rules {
		if r.Mode == ModeResultConcall {
			return true
		}
	}
	return false
}
