package postgres

import (
	"context"

	"github.com/badgeforge/entitlement/internal/benefitdispatch"
	"github.com/badgeforge/entitlement/internal/grant"
	"github.com/badgeforge/entitlement/internal/maintenance"
	"github.com/badgeforge/entitlement/internal/redemption"
	"github.com/badgeforge/entitlement/internal/revoke"
)

// GrantStore, RevokeStore, RedemptionStore, and BenefitDispatchStore each
// wrap the same *Store to satisfy one service package's Store interface.
// Every package's WithTx has a differently-typed callback, so each needs its
// own method; every read-only query is promoted straight through from the
// embedded *Store.

type GrantStore struct{ *Store }

func NewGrantStore(s *Store) GrantStore { return GrantStore{s} }

func (s GrantStore) WithTx(ctx context.Context, fn func(tx grant.Tx) error) error {
	return s.Store.runInTx(ctx, func(t *tx) error { return fn(t) })
}

type RevokeStore struct{ *Store }

func NewRevokeStore(s *Store) RevokeStore { return RevokeStore{s} }

func (s RevokeStore) WithTx(ctx context.Context, fn func(tx revoke.Tx) error) error {
	return s.Store.runInTx(ctx, func(t *tx) error { return fn(t) })
}

type RedemptionStore struct{ *Store }

func NewRedemptionStore(s *Store) RedemptionStore { return RedemptionStore{s} }

func (s RedemptionStore) WithTx(ctx context.Context, fn func(tx redemption.Tx) error) error {
	return s.Store.runInTx(ctx, func(t *tx) error { return fn(t) })
}

type BenefitDispatchStore struct{ *Store }

func NewBenefitDispatchStore(s *Store) BenefitDispatchStore { return BenefitDispatchStore{s} }

func (s BenefitDispatchStore) WithTx(ctx context.Context, fn func(tx benefitdispatch.Tx) error) error {
	return s.Store.runInTx(ctx, func(t *tx) error { return fn(t) })
}

type MaintenanceStore struct{ *Store }

func NewMaintenanceStore(s *Store) MaintenanceStore { return MaintenanceStore{s} }

func (s MaintenanceStore) WithTx(ctx context.Context, fn func(tx maintenance.Tx) error) error {
	return s.Store.runInTx(ctx, func(t *tx) error { return fn(t) })
}
