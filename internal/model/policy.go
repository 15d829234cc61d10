package model

import "time"

// Ordering rules for slice members.
const (
	OrderingChronological = "chronological"
	OrderingSalience      = "salience"
)

// ValidOrderings are the allowed policy ordering rules.
var ValidOrderings = map[string]bool{
	OrderingChronological: true,
	OrderingSalience:      true,
}

// PolicySpec is the registration payload for a new policy version.
// MaxWindow is a duration string ("90s", "15m", "2h"); empty or "0"
// means unbounded.
type PolicySpec struct {
	ID          string  `json:"id" yaml:"id"`
	MaxWidth    int     `json:"max_width" yaml:"max_width"`
	MaxWindow   string  `json:"max_window,omitempty" yaml:"max_window,omitempty"`
	MinSalience float64 `json:"min_salience" yaml:"min_salience"`
	Ordering    string  `json:"ordering,omitempty" yaml:"ordering,omitempty"`
	Predicate   string  `json:"predicate,omitempty" yaml:"predicate,omitempty"`
	FollowLinks bool    `json:"follow_links,omitempty" yaml:"follow_links,omitempty"`
}

// Policy is a registered, immutable slicing rule set. A policy id is
// stable across versions; edits register a new version and never touch
// committed ones.
type Policy struct {
	ID          string        `json:"id"`
	Version     int           `json:"version"`
	MaxWidth    int           `json:"max_width"`
	MaxWindow   time.Duration `json:"max_window"`
	MinSalience float64       `json:"min_salience"`
	Ordering    string        `json:"ordering"`
	Predicate   string        `json:"predicate,omitempty"`
	FollowLinks bool          `json:"follow_links,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}
