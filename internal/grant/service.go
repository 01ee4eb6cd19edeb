package grant

import (
	"context"
	"fmt"
	"time"

	"github.com/badgeforge/entitlement/internal/depgraph"
	"github.com/badgeforge/entitlement/internal/domain/badge"
	"github.com/badgeforge/entitlement/internal/domain/userbadge"
	"github.com/badgeforge/entitlement/internal/entitlementerr"
	"github.com/badgeforge/entitlement/internal/obs/metrics"
	"github.com/badgeforge/entitlement/pkg/logger"
)

// HoldingsStore reports a user's active holdings, used for the
// prerequisite/exclusivity re-check on non-cascade grants.
type HoldingsStore interface {
	ActiveHoldings(ctx context.Context, userID string, badgeIDs []string) (map[string]int64, error)
}

// Config bounds the cascade evaluation a successful non-cascade grant
// kicks off.
type Config struct {
	CascadeMaxDepth  int
	CascadeTimeout   time.Duration
	AutoBenefitAsync bool
}

// Service implements the grant pipeline.
type Service struct {
	store    Store
	graph    *depgraph.Holder
	holdings HoldingsStore
	cache    CacheInvalidator
	cascade  CascadeTrigger
	autoBen  AutoBenefitTrigger
	notifier Notifier
	metrics  *metrics.Metrics
	log      *logger.Logger
	cfg      Config
}

// New constructs a grant Service. Cascade and auto-benefit triggers may be
// wired in after construction via SetCascadeTrigger/SetAutoBenefitTrigger
// when those components themselves depend on this Service (as the cascade
// evaluator's Granter does).
func New(store Store, graph *depgraph.Holder, holdings HoldingsStore, cache CacheInvalidator, notifier Notifier, m *metrics.Metrics, log *logger.Logger, cfg Config) *Service {
	return &Service{store: store, graph: graph, holdings: holdings, cache: cache, notifier: notifier, metrics: m, log: log, cfg: cfg}
}

// SetCascadeTrigger wires the cascade evaluator in post-construction.
func (s *Service) SetCascadeTrigger(t CascadeTrigger) { s.cascade = t }

// SetAutoBenefitTrigger wires the auto-benefit evaluator in post-construction.
func (s *Service) SetAutoBenefitTrigger(t AutoBenefitTrigger) { s.autoBen = t }

// GrantBadge executes one grant request in order: idempotency, badge
// validation, prerequisite/exclusivity (skipped for cascade sources), supply
// cap, per-user cap, transactional mutation, then post-commit side effects.
func (s *Service) GrantBadge(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := s.grantBadge(ctx, req)
	if s.metrics != nil {
		result := "success"
		if err != nil {
			result = "error"
		} else if resp != nil && resp.Duplicate {
			result = "duplicate"
		}
		s.metrics.RecordGrant(string(req.Source), result, time.Since(start))
	}
	return resp, err
}

func (s *Service) grantBadge(ctx context.Context, req Request) (*Response, error) {
	if req.Quantity <= 0 {
		return nil, entitlementerr.Validation("quantity", "must be positive")
	}

	// 1. Idempotency. The ledger lookup is scoped to (user, badge, ref):
	// a source ref like an event id is shared by every badge the event
	// grants, so the ref alone must never collapse distinct badges into
	// one grant.
	refID := req.IdempotencyKey
	if refID == "" {
		refID = req.SourceRef
	}
	if refID != "" {
		if existing, err := s.store.FindAcquireLedgerByRef(ctx, req.UserID, req.BadgeID, refID); err != nil {
			return nil, entitlementerr.Internal("idempotency lookup failed", err)
		} else if existing != nil {
			ub, err := s.store.GetUserBadge(ctx, req.UserID, req.BadgeID)
			if err != nil {
				return nil, entitlementerr.Internal("failed to load existing user badge", err)
			}
			if ub == nil {
				return nil, entitlementerr.Internal("idempotent ledger entry without a user badge row", nil)
			}
			return &Response{UserBadgeID: ub.ID, NewQuantity: ub.Quantity, Message: "duplicate request", Duplicate: true}, nil
		}
	}

	// 2. Badge validation.
	b, err := s.store.GetBadge(ctx, req.BadgeID)
	if err != nil {
		return nil, entitlementerr.Internal("failed to load badge", err)
	}
	if b == nil {
		return nil, entitlementerr.BadgeNotFound(req.BadgeID)
	}
	if !b.IsActive() {
		return nil, entitlementerr.BadgeInactive(req.BadgeID)
	}

	// 3. Prerequisite & exclusivity, skipped for cascade sources (the cascade evaluator has
	// already checked these against the same authoritative store).
	if req.Source != userbadge.SourceCascade {
		if err := s.checkPrerequisitesAndExclusivity(ctx, req.UserID, req.BadgeID); err != nil {
			return nil, err
		}
	}

	// 4. Supply cap.
	if remaining, finite := b.RemainingSupply(); finite && req.Quantity > remaining {
		return nil, entitlementerr.BadgeOutOfStock(req.BadgeID)
	}

	// 5. Per-user cap: the minimum across currently-effective rules.
	rules, err := s.store.GetEffectiveBadgeRules(ctx, req.BadgeID, time.Now().UTC())
	if err != nil {
		return nil, entitlementerr.Internal("failed to load badge rules", err)
	}
	limit, hasLimit := minUserCap(rules)
	if hasLimit {
		existing, err := s.store.GetUserBadge(ctx, req.UserID, req.BadgeID)
		if err != nil {
			return nil, entitlementerr.Internal("failed to load user badge", err)
		}
		current := int64(0)
		if existing != nil {
			current = existing.Quantity
		}
		if current+req.Quantity > int64(limit) {
			return nil, entitlementerr.AcquisitionLimitReached(req.BadgeID, limit)
		}
	}

	// 6. Transactional mutation.
	var result Response
	now := time.Now().UTC()
	txErr := s.store.WithTx(ctx, func(tx Tx) error {
		ub, err := tx.LockOrCreateUserBadge(ctx, req.UserID, req.BadgeID)
		if err != nil {
			return fmt.Errorf("lock user badge: %w", err)
		}
		ub.Quantity += req.Quantity
		ub.Status = userbadge.StatusActive
		ub.SourceType = req.Source
		if ub.AcquiredAt.IsZero() {
			ub.AcquiredAt = now
		}
		if expiresAt, ok := b.Validity.ExpiresAt(ub.AcquiredAt); ok {
			ub.ExpiresAt = &expiresAt
		}
		if err := tx.SaveUserBadge(ctx, ub); err != nil {
			return fmt.Errorf("save user badge: %w", err)
		}

		entryRefType := string(req.Source)
		if err := tx.AppendLedgerEntry(ctx, userbadge.LedgerEntry{
			UserID:         req.UserID,
			BadgeID:        req.BadgeID,
			ChangeType:     userbadge.ChangeAcquire,
			SignedQuantity: req.Quantity,
			BalanceAfter:   ub.Quantity,
			RefID:          refID,
			RefType:        entryRefType,
			CreatedAt:      now,
		}); err != nil {
			return fmt.Errorf("append ledger entry: %w", err)
		}

		if err := tx.IncrementIssuedCount(ctx, req.BadgeID, req.Quantity); err != nil {
			return fmt.Errorf("increment issued count: %w", err)
		}

		if err := tx.AppendUserBadgeLog(ctx, userbadge.Log{
			UserID: req.UserID, BadgeID: req.BadgeID, Action: "grant",
			Quantity: req.Quantity, Operator: req.Operator, Reason: req.Reason, CreatedAt: now,
		}); err != nil {
			return fmt.Errorf("append user badge log: %w", err)
		}

		result = Response{UserBadgeID: ub.ID, NewQuantity: ub.Quantity, Message: "granted"}
		return nil
	})
	if txErr != nil {
		return nil, entitlementerr.Internal("grant transaction failed", txErr)
	}

	// 7. Post-commit side effects: never unwind the committed grant.
	if s.cache != nil {
		s.cache.InvalidateUserBadge(req.UserID)
	}
	if req.Source != userbadge.SourceCascade && s.cascade != nil {
		if _, err := s.cascade.Evaluate(ctx, req.UserID, req.BadgeID, s.cfg.CascadeMaxDepth, s.cfg.CascadeTimeout); err != nil && s.log != nil {
			s.log.WithField("user_id", req.UserID).WithField("badge_id", req.BadgeID).
				Warnf("post-grant cascade evaluation failed: %v", err)
		}
	}
	if req.Source != userbadge.SourceCascade && s.autoBen != nil {
		runAutoBenefit := func() {
			if err := s.autoBen.EvaluateAutoBenefit(ctx, req.UserID, req.BadgeID, refID); err != nil && s.log != nil {
				s.log.WithField("user_id", req.UserID).Warnf("auto-benefit evaluation failed: %v", err)
			}
		}
		if s.cfg.AutoBenefitAsync {
			go runAutoBenefit()
		} else {
			runAutoBenefit()
		}
	}
	if req.Source != userbadge.SourceCascade && s.notifier != nil {
		s.notifier.NotifyBadgeGranted(ctx, req.UserID, req.BadgeID, req.Quantity)
	}

	return &result, nil
}

// GrantCascade implements cascade.Granter: it runs the grant's internal
// path only, with source=cascade, so prerequisite/exclusivity re-checks,
// cascade re-entry, auto-benefit evaluation, and notification fan-out are
// all skipped — the cascade
// evaluator already performed the equivalent checks for this candidate.
func (s *Service) GrantCascade(ctx context.Context, userID, badgeID, triggeredByBadge string) error {
	_, err := s.grantBadge(ctx, Request{
		UserID:           userID,
		BadgeID:          badgeID,
		Quantity:         1,
		Source:           userbadge.SourceCascade,
		TriggeredByBadge: triggeredByBadge,
	})
	return err
}

// BatchGrantBadges runs each request independently; a failure in one never
// taints a sibling.
func (s *Service) BatchGrantBadges(ctx context.Context, requests []Request) BatchResult {
	result := BatchResult{Total: len(requests), Results: make([]BatchItemResult, 0, len(requests))}
	for _, req := range requests {
		resp, err := s.GrantBadge(ctx, req)
		if err != nil {
			result.FailedCount++
		} else {
			result.SuccessCount++
		}
		result.Results = append(result.Results, BatchItemResult{Request: req, Response: resp, Err: err})
	}
	return result
}

func (s *Service) checkPrerequisitesAndExclusivity(ctx context.Context, userID, badgeID string) error {
	graph := s.graph.Graph()

	prereqIDs := depgraph.PrerequisiteBadgeIDs(graph, badgeID)
	exclusiveIDs := depgraph.ExclusiveGroupBadgeIDs(graph, badgeID)
	if len(prereqIDs) == 0 && len(exclusiveIDs) == 0 {
		return nil
	}

	combined := append(append([]string{}, prereqIDs...), exclusiveIDs...)
	holdings, err := s.holdings.ActiveHoldings(ctx, userID, combined)
	if err != nil {
		return entitlementerr.Internal("failed to load holdings for prerequisite check", err)
	}

	if len(prereqIDs) > 0 {
		if satisfied, missing := depgraph.CheckPrerequisites(graph, holdings, badgeID); !satisfied {
			return entitlementerr.PrerequisiteNotMet(missing)
		}
	}
	if len(exclusiveIDs) > 0 {
		if conflict, other := depgraph.CheckExclusiveConflict(graph, holdings, badgeID); conflict {
			return entitlementerr.ExclusiveConflict(other)
		}
	}
	return nil
}

// minUserCap returns the minimum max_count_per_user across every currently
// effective rule for the badge, and whether any rule declares a cap at
// all.
func minUserCap(rules []badge.Rule) (int, bool) {
	limit := -1
	now := time.Now().UTC()
	for _, r := range rules {
		if !r.Effective(now) || r.MaxCountPerUser == nil {
			continue
		}
		if limit == -1 || *r.MaxCountPerUser < limit {
			limit = *r.MaxCountPerUser
		}
	}
	return limit, limit != -1
}
