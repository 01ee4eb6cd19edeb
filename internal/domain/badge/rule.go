package badge

import "time"

// Rule attaches a compiled rule tree to a badge: when the rule matches an
// event, the badge is granted. EventType narrows which inbound events are
// even candidates for evaluation, so the pipeline never runs a rule tree
// against an event kind it can't possibly match.
type Rule struct {
	ID              string
	BadgeID         string
	RuleID          string // foreign key into the rule engine store
	EventType       string
	WindowStart     *time.Time
	WindowEnd       *time.Time
	MaxCountPerUser *int // nil means no per-user cap from this rule
	Enabled         bool
}

// Effective reports whether the rule currently applies: enabled and now
// falls within [WindowStart, WindowEnd], either bound optional.
func (r Rule) Effective(now time.Time) bool {
	if !r.Enabled {
		return false
	}
	if r.WindowStart != nil && now.Before(*r.WindowStart) {
		return false
	}
	if r.WindowEnd != nil && now.After(*r.WindowEnd) {
		return false
	}
	return true
}
