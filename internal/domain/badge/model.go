// Package badge defines the taxonomy and rule entities of the badge catalog.
package badge

import (
	"strings"
	"time"
)

// Type enumerates the kinds of badge the catalog can hold.
type Type string

const (
	TypeNormal      Type = "normal"
	TypeLimited     Type = "limited"
	TypeAchievement Type = "achievement"
	TypeEvent       Type = "event"
)

// Status is the badge lifecycle state. Only active badges may be granted
// through rules.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusOffline  Status = "offline"
	StatusArchived Status = "archived"
)

// NormalizeStatus lower-cases and validates a status value read from a
// boundary (API payload, legacy row). Unknown values are rejected rather
// than silently accepted, per the canonical-casing decision in DESIGN.md.
func NormalizeStatus(raw string) (Status, bool) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case StatusDraft, StatusActive, StatusOffline, StatusArchived:
		return s, true
	default:
		return "", false
	}
}

// ValidityKind selects how a granted badge's expiry is computed.
type ValidityKind string

const (
	ValidityPermanent ValidityKind = "permanent"
	ValidityFixedDate ValidityKind = "fixed_date"
	ValidityRelative  ValidityKind = "relative_days"
)

// Validity describes how long a granted unit of this badge remains valid.
type Validity struct {
	Kind         ValidityKind
	FixedAt      time.Time // used when Kind == ValidityFixedDate
	RelativeDays int       // used when Kind == ValidityRelative
}

// ExpiresAt computes the expiry timestamp for a unit granted at acquiredAt.
// A zero time.Time (ok=false) means the grant never expires.
func (v Validity) ExpiresAt(acquiredAt time.Time) (expiresAt time.Time, ok bool) {
	switch v.Kind {
	case ValidityFixedDate:
		return v.FixedAt, true
	case ValidityRelative:
		if v.RelativeDays <= 0 {
			return time.Time{}, false
		}
		return acquiredAt.AddDate(0, 0, v.RelativeDays), true
	default:
		return time.Time{}, false
	}
}

// Badge is a catalog entry: a unit of achievement a user may hold in some
// quantity.
type Badge struct {
	ID          string
	CategoryID  string
	SeriesID    string
	Name        string
	Type        Type
	Status      Status
	AssetsBlob  string
	Validity    Validity
	MaxSupply   *int64 // nil means unlimited
	IssuedCount int64
}

// IsActive reports whether the badge may currently be granted via rules.
func (b Badge) IsActive() bool { return b.Status == StatusActive }

// RemainingSupply returns remaining units and whether supply is finite.
func (b Badge) RemainingSupply() (remaining int64, finite bool) {
	if b.MaxSupply == nil {
		return 0, false
	}
	r := *b.MaxSupply - b.IssuedCount
	if r < 0 {
		r = 0
	}
	return r, true
}

// Category is the top taxonomy level.
type Category struct {
	ID   string
	Name string
}

// Series is the middle taxonomy level, scoped to a Category.
type Series struct {
	ID         string
	CategoryID string
	Name       string
}

// DependencyType enumerates the edge kinds in the badge dependency graph.
type DependencyType string

const (
	DependencyPrerequisite DependencyType = "prerequisite"
	DependencyConsume      DependencyType = "consume"
	DependencyExclusive    DependencyType = "exclusive"
)

// DependencyEdge is one directed edge in the badge dependency graph.
type DependencyEdge struct {
	ID                string
	FromBadgeID       string
	ToBadgeID         string
	Type              DependencyType
	RequiredQuantity  int
	ExclusiveGroupID  string // only meaningful when Type == DependencyExclusive-participant
	DependencyGroupID string
	AutoTrigger       bool
	Priority          int
	Enabled           bool
}
