// Package benefit defines benefits, redemption rules, redemption orders, and
// benefit grants.
package benefit

import "time"

// Status is the lifecycle state of a benefit catalog entry.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Benefit is an externally-fulfilled reward issued on redemption.
type Benefit struct {
	ID             string
	Code           string
	Name           string
	Type           string // dispatch key, e.g. "points", "coupon", "physical"
	ExternalRefs   map[string]string
	TotalStock     *int64 // nil means unlimited
	RemainingStock *int64
	RedeemedCount  int64
	Status         Status
	Config         map[string]interface{}
}

// IsActive reports whether the benefit may currently be issued.
func (b Benefit) IsActive() bool { return b.Status == StatusActive }

// HasStock reports whether at least one unit remains, treating unlimited
// stock as always available.
func (b Benefit) HasStock() bool {
	if b.RemainingStock == nil {
		return true
	}
	return *b.RemainingStock > 0
}

// RequiredBadge is one basket line of a redemption rule.
type RequiredBadge struct {
	BadgeID  string `json:"badge_id"`
	Quantity int    `json:"quantity"`
}

// FrequencyConfig bounds how often a user may successfully redeem a rule.
// Each non-nil field is an independent ceiling checked against a rolling
// UTC calendar window; zero value means unbounded for that scope.
type FrequencyConfig struct {
	PerUser  *int `json:"per_user,omitempty"`
	PerDay   *int `json:"per_day,omitempty"`
	PerWeek  *int `json:"per_week,omitempty"`
	PerMonth *int `json:"per_month,omitempty"`
	PerYear  *int `json:"per_year,omitempty"`
}

// IssuedValidityKind selects how a benefit grant's expiry is computed.
type IssuedValidityKind string

const (
	IssuedValidityFixed    IssuedValidityKind = "fixed"
	IssuedValidityRelative IssuedValidityKind = "relative_days"
)

// IssuedValidity mirrors badge.Validity for benefit grants.
type IssuedValidity struct {
	Kind         IssuedValidityKind `json:"kind"`
	FixedAt      time.Time          `json:"fixed_at,omitempty"`
	RelativeDays int                `json:"relative_days,omitempty"`
}

// ExpiresAt computes the expiry of a grant issued at issuedAt.
func (v IssuedValidity) ExpiresAt(issuedAt time.Time) (time.Time, bool) {
	switch v.Kind {
	case IssuedValidityFixed:
		return v.FixedAt, true
	case IssuedValidityRelative:
		if v.RelativeDays <= 0 {
			return time.Time{}, false
		}
		return issuedAt.AddDate(0, 0, v.RelativeDays), true
	default:
		return time.Time{}, false
	}
}

// RedemptionRule describes a basket of badges exchangeable for a benefit.
type RedemptionRule struct {
	ID              string
	Name            string
	BenefitID       string
	RequiredBadges  []RequiredBadge
	FrequencyConfig FrequencyConfig
	WindowStart     *time.Time
	WindowEnd       *time.Time
	IssuedValidity  IssuedValidity
	AutoRedeem      bool
	Enabled         bool
}

// Effective reports whether the rule currently applies.
func (r RedemptionRule) Effective(now time.Time) bool {
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

// OrderStatus is the lifecycle state of a redemption order.
type OrderStatus string

const (
	OrderPending OrderStatus = "pending"
	OrderSuccess OrderStatus = "success"
	OrderFailed  OrderStatus = "failed"
	OrderRevoked OrderStatus = "revoked"
)

// Order is one redemption attempt.
type Order struct {
	ID             string
	OrderNo        string
	UserID         string
	RuleID         string
	BenefitID      string
	Status         OrderStatus
	FailureReason  string
	IdempotencyKey string
	CreatedAt      time.Time
}

// OrderDetail mirrors one basket line consumed by an order.
type OrderDetail struct {
	ID       string
	OrderID  string
	BadgeID  string
	Quantity int
}

// GrantStatus is the lifecycle state of a benefit grant. Transitions are
// monotone: pending -> processing -> success|failed; success -> revoked is
// allowed only for revocable benefit types.
type GrantStatus string

const (
	GrantPending    GrantStatus = "pending"
	GrantProcessing GrantStatus = "processing"
	GrantSuccess    GrantStatus = "success"
	GrantFailed     GrantStatus = "failed"
	GrantRevoked    GrantStatus = "revoked"
)

// Grant is one issuance record of a benefit to a user.
type Grant struct {
	ID              string
	GrantNo         string
	UserID          string
	BenefitID       string
	Status          GrantStatus
	ExternalRef     string
	GrantedAt       *time.Time
	ExpiresAt       *time.Time
	Payload         map[string]interface{}
	Error           string
	RedemptionOrder string
}
