package benefitdispatch

import (
	"context"
	"time"

	"github.com/badgeforge/entitlement/internal/domain/benefit"
)

// GrantRecord is the persisted row backing one benefit grant attempt.
type GrantRecord struct {
	GrantNo         string
	UserID          string
	BenefitID       string
	BenefitType     string
	Status          benefit.GrantStatus
	ExternalRef     string
	GrantedAt       *time.Time
	ExpiresAt       *time.Time
	Payload         map[string]interface{}
	Error           string
	RedemptionOrder string
}

// Store opens the transaction a standalone (non-redemption-triggered)
// grant runs in.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the mutation surface GrantInTx needs. Redemption's own Tx type
// embeds the same method set so a redemption transaction can be passed
// directly where a benefitdispatch.Tx is expected, letting the benefit
// grant commit inside the same transaction as the redemption.
type Tx interface {
	FindGrantByNo(ctx context.Context, grantNo string) (*GrantRecord, error)
	SaveGrant(ctx context.Context, record GrantRecord) error
	// DecrementBenefitStock enforces remaining_stock >= 0 as the
	// authoritative post-check; returns entitlementerr.BenefitOutOfStock
	// when the decrement would go negative.
	DecrementBenefitStock(ctx context.Context, benefitID string, delta int64) error
}
