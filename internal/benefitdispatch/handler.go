// Package benefitdispatch implements the typed benefit-handler registry
// one handler per benefit_type, responsible for validating its own
// config and fulfilling/revoking/querying a grant.
package benefitdispatch

import (
	"context"
	"time"

	"github.com/badgeforge/entitlement/internal/domain/benefit"
)

// GrantRequest is the input to a handler's Grant call.
type GrantRequest struct {
	GrantNo         string
	UserID          string
	BenefitID       string
	BenefitConfig   map[string]interface{}
	RedemptionOrder string
	Metadata        map[string]string
}

// GrantResult is the outcome of a handler's Grant call.
type GrantResult struct {
	GrantNo     string
	Status      benefit.GrantStatus
	ExternalRef string
	GrantedAt   *time.Time
	ExpiresAt   *time.Time
	Payload     map[string]interface{}
	Message     string
	Duplicate   bool
}

// Handler is the per-benefit-type fulfillment contract. Registered once per
// benefit_type key in a Registry.
type Handler interface {
	ValidateConfig(config map[string]interface{}) error
	Grant(ctx context.Context, req GrantRequest) (GrantResult, error)
	Revoke(ctx context.Context, grantNo string) error
	QueryStatus(ctx context.Context, grantNo string) (GrantResult, error)
	// IsRevocable reports whether Revoke is ever valid for this handler's
	// benefit type (e.g. false for already-shipped physical goods).
	IsRevocable() bool
}
