// Package autobenefit implements the post-grant auto-redeem evaluator
// after a badge grant commits, check which auto_redeem redemption
// rules are now satisfied and redeem them automatically.
package autobenefit

import (
	"context"
	"fmt"

	"github.com/badgeforge/entitlement/internal/domain/benefit"
	"github.com/badgeforge/entitlement/internal/redemption"
	"github.com/badgeforge/entitlement/pkg/logger"
)

// RuleStore reports which auto-redeem rules require a given badge, so the
// evaluator only re-checks rules the new grant could plausibly satisfy.
type RuleStore interface {
	AutoRedeemRulesForBadge(ctx context.Context, badgeID string) ([]benefit.RedemptionRule, error)
}

// HoldingsStore reports a user's current active holdings for basket checks.
type HoldingsStore interface {
	ActiveHoldings(ctx context.Context, userID string, badgeIDs []string) (map[string]int64, error)
}

// Redeemer is the capability the evaluator needs from the redemption service, narrowed to the
// one method this package calls.
type Redeemer interface {
	Redeem(ctx context.Context, req redemption.Request) (*redemption.Response, error)
}

// Config selects sync vs async execution of post-grant auto-benefit checks.
type Config struct {
	Async bool
}

// Evaluator implements EvaluateAutoBenefit, satisfying the grant package's
// AutoBenefitTrigger interface.
type Evaluator struct {
	rules    RuleStore
	holdings HoldingsStore
	redeemer Redeemer
	log      *logger.Logger
	cfg      Config
}

func New(rules RuleStore, holdings HoldingsStore, redeemer Redeemer, log *logger.Logger, cfg Config) *Evaluator {
	return &Evaluator{rules: rules, holdings: holdings, redeemer: redeemer, log: log, cfg: cfg}
}

// EvaluateAutoBenefit checks every auto-redeem rule referencing badgeID and
// redeems the ones whose basket is now fully satisfied. The idempotency key
// is derived deterministically from (user, rule, triggeringEventID) so
// repeated grants from the same source event never double-issue.
func (e *Evaluator) EvaluateAutoBenefit(ctx context.Context, userID, badgeID, triggeringEventID string) error {
	run := func() {
		if err := e.evaluate(ctx, userID, badgeID, triggeringEventID); err != nil && e.log != nil {
			e.log.WithField("user_id", userID).WithField("badge_id", badgeID).
				Warnf("auto-benefit evaluation failed: %v", err)
		}
	}
	if e.cfg.Async {
		go run()
		return nil
	}
	run()
	return nil
}

func (e *Evaluator) evaluate(ctx context.Context, userID, badgeID, triggeringEventID string) error {
	rules, err := e.rules.AutoRedeemRulesForBadge(ctx, badgeID)
	if err != nil {
		return fmt.Errorf("load auto-redeem rules: %w", err)
	}
	for _, rule := range rules {
		if !rule.AutoRedeem || !rule.Enabled {
			continue
		}
		satisfied, err := e.satisfied(ctx, userID, rule)
		if err != nil {
			if e.log != nil {
				e.log.WithField("rule_id", rule.ID).Warnf("failed to check auto-redeem basket: %v", err)
			}
			continue
		}
		if !satisfied {
			continue
		}
		key := DeriveIdempotencyKey(userID, rule.ID, triggeringEventID)
		if _, err := e.redeemer.Redeem(ctx, redemption.Request{UserID: userID, RuleID: rule.ID, IdempotencyKey: key}); err != nil && e.log != nil {
			e.log.WithField("rule_id", rule.ID).Warnf("auto-redeem failed: %v", err)
		}
	}
	return nil
}

func (e *Evaluator) satisfied(ctx context.Context, userID string, rule benefit.RedemptionRule) (bool, error) {
	badgeIDs := make([]string, len(rule.RequiredBadges))
	for i, rb := range rule.RequiredBadges {
		badgeIDs[i] = rb.BadgeID
	}
	holdings, err := e.holdings.ActiveHoldings(ctx, userID, badgeIDs)
	if err != nil {
		return false, err
	}
	for _, rb := range rule.RequiredBadges {
		if holdings[rb.BadgeID] < int64(rb.Quantity) {
			return false, nil
		}
	}
	return true, nil
}

// DeriveIdempotencyKey builds the deterministic auto-redeem idempotency key
// from (user, rule, triggering event), so replays of the same originating
// event never duplicate issuance.
func DeriveIdempotencyKey(userID, ruleID, triggeringEventID string) string {
	return fmt.Sprintf("auto:%s:%s:%s", userID, ruleID, triggeringEventID)
}
