package benefitdispatch

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/badgeforge/entitlement/internal/domain/benefit"
	"github.com/badgeforge/entitlement/internal/entitlementerr"
)

const grantNoAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateGrantNo builds a BG{YYMMDD}{8 upper-case random} grant number.
func GenerateGrantNo(now time.Time) (string, error) {
	suffix, err := randomAlphanumeric(8)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("BG%s%s", now.Format("060102"), suffix), nil
}

func randomAlphanumeric(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = grantNoAlphabet[int(b)%len(grantNoAlphabet)]
	}
	return string(out), nil
}

// Service dispatches benefit grants to their registered type handler.
type Service struct {
	store    Store
	registry *Registry
}

func New(store Store, registry *Registry) *Service {
	return &Service{store: store, registry: registry}
}

// Grant runs a standalone benefit grant in its own transaction.
func (s *Service) Grant(ctx context.Context, benefitType string, req GrantRequest) (GrantResult, error) {
	var result GrantResult
	err := s.store.WithTx(ctx, func(tx Tx) error {
		r, err := s.GrantInTx(ctx, tx, benefitType, req)
		result = r
		return err
	})
	return result, err
}

// GrantInTx runs the dispatch logic against an already-open transaction,
// used directly by the redemption service so the benefit grant commits
// atomically with the basket consumption.
func (s *Service) GrantInTx(ctx context.Context, tx Tx, benefitType string, req GrantRequest) (GrantResult, error) {
	if req.GrantNo == "" {
		grantNo, err := GenerateGrantNo(time.Now().UTC())
		if err != nil {
			return GrantResult{}, entitlementerr.Internal("failed to generate grant number", err)
		}
		req.GrantNo = grantNo
	}

	if existing, err := tx.FindGrantByNo(ctx, req.GrantNo); err != nil {
		return GrantResult{}, entitlementerr.Internal("grant idempotency lookup failed", err)
	} else if existing != nil {
		return GrantResult{
			GrantNo: existing.GrantNo, Status: existing.Status, ExternalRef: existing.ExternalRef,
			GrantedAt: existing.GrantedAt, ExpiresAt: existing.ExpiresAt, Payload: existing.Payload,
			Duplicate: true, Message: "duplicate grant_no",
		}, nil
	}

	handler, ok := s.registry.Lookup(benefitType)
	if !ok {
		return GrantResult{}, entitlementerr.Internal(fmt.Sprintf("no handler registered for benefit type %q", benefitType), nil)
	}

	result, err := handler.Grant(ctx, req)
	if err != nil {
		return GrantResult{}, err
	}
	result.GrantNo = req.GrantNo

	if err := tx.DecrementBenefitStock(ctx, req.BenefitID, 1); err != nil {
		return GrantResult{}, err
	}
	if err := tx.SaveGrant(ctx, GrantRecord{
		GrantNo: result.GrantNo, UserID: req.UserID, BenefitID: req.BenefitID, BenefitType: benefitType,
		Status: result.Status, ExternalRef: result.ExternalRef, GrantedAt: result.GrantedAt,
		ExpiresAt: result.ExpiresAt, Payload: result.Payload, RedemptionOrder: req.RedemptionOrder,
	}); err != nil {
		return GrantResult{}, entitlementerr.Internal("failed to persist benefit grant", err)
	}
	return result, nil
}

// Revoke fails with a validation error for non-revocable benefit types,
// otherwise delegates to the handler and marks the grant revoked.
func (s *Service) Revoke(ctx context.Context, benefitType, grantNo string) error {
	handler, ok := s.registry.Lookup(benefitType)
	if !ok {
		return entitlementerr.Internal(fmt.Sprintf("no handler registered for benefit type %q", benefitType), nil)
	}
	if !handler.IsRevocable() {
		return entitlementerr.Validation("benefit_type", "benefit type is not revocable")
	}
	if err := handler.Revoke(ctx, grantNo); err != nil {
		return err
	}
	return s.store.WithTx(ctx, func(tx Tx) error {
		record, err := tx.FindGrantByNo(ctx, grantNo)
		if err != nil {
			return entitlementerr.Internal("grant lookup failed", err)
		}
		if record == nil {
			return nil
		}
		record.Status = benefit.GrantRevoked
		return tx.SaveGrant(ctx, *record)
	})
}

// QueryStatus delegates a status lookup to the benefit type's handler.
func (s *Service) QueryStatus(ctx context.Context, benefitType, grantNo string) (GrantResult, error) {
	handler, ok := s.registry.Lookup(benefitType)
	if !ok {
		return GrantResult{}, entitlementerr.Internal(fmt.Sprintf("no handler registered for benefit type %q", benefitType), nil)
	}
	return handler.QueryStatus(ctx, grantNo)
}
