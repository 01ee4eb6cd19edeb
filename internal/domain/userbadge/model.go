// Package userbadge defines a user's holdings of badges and the append-only
// ledger that backs them.
package userbadge

import "time"

// Status is the lifecycle state of a user's holding of one badge.
type Status string

const (
	StatusActive   Status = "active"
	StatusExpired  Status = "expired"
	StatusRevoked  Status = "revoked"
	StatusRedeemed Status = "redeemed"
)

// SourceType records the provenance of a grant, used for auditing and to
// gate cascade/prerequisite checks (grants with SourceCascade skip the
// prerequisite/exclusivity re-check the cascade evaluator already did).
type SourceType string

const (
	SourceEvent      SourceType = "event"
	SourceScheduled  SourceType = "scheduled"
	SourceManual     SourceType = "manual"
	SourceCascade    SourceType = "cascade"
	SourceRedemption SourceType = "redemption"
)

// UserBadge is a user's current holding of one badge. Unique per
// (UserID, BadgeID).
type UserBadge struct {
	ID         string
	UserID     string
	BadgeID    string
	Quantity   int64
	Status     Status
	AcquiredAt time.Time
	ExpiresAt  *time.Time
	SourceType SourceType
}

// Valid reports whether the invariants `quantity=0 => status in
// {revoked,redeemed,expired}` and `status=active => quantity>=1` hold.
func (u UserBadge) Valid() bool {
	if u.Quantity == 0 {
		return u.Status == StatusRevoked || u.Status == StatusRedeemed || u.Status == StatusExpired
	}
	if u.Status == StatusActive {
		return u.Quantity >= 1
	}
	return true
}

// ChangeType enumerates the kinds of ledger entry.
type ChangeType string

const (
	ChangeAcquire   ChangeType = "acquire"
	ChangeRevoke    ChangeType = "revoke"
	ChangeRedeemOut ChangeType = "redeem_out"
	ChangeCancel    ChangeType = "cancel"
	ChangeExpire    ChangeType = "expire"
)

// LedgerEntry is one append-only row in a user's badge ledger. The
// double-entry invariant: for a given (UserID, BadgeID), the sum of
// SignedQuantity across all entries equals the current UserBadge.Quantity,
// and the last entry's BalanceAfter equals that same value.
type LedgerEntry struct {
	ID             string
	UserID         string
	BadgeID        string
	ChangeType     ChangeType
	SignedQuantity int64
	BalanceAfter   int64
	RefID          string
	RefType        string
	CreatedAt      time.Time
}

// Log is one audit row mirroring a grant/revoke/redeem action, independent
// of the ledger, for human-facing history views.
type Log struct {
	ID        string
	UserID    string
	BadgeID   string
	Action    string
	Quantity  int64
	Operator  string
	Reason    string
	CreatedAt time.Time
}
