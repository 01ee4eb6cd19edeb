// Package postgres is the database/sql + lib/pq backed implementation of
// every service package's Store interface, all sharing one connection pool.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/badgeforge/entitlement/internal/domain/badge"
	"github.com/badgeforge/entitlement/internal/domain/benefit"
	"github.com/badgeforge/entitlement/internal/domain/cascadelog"
	"github.com/badgeforge/entitlement/internal/domain/userbadge"
)

// Store holds the shared connection pool. Each service package gets its own
// thin wrapper type (GrantStore, RevokeStore, ...) so every package's
// differently-typed WithTx method can live on its own type while sharing
// every read-only query below through embedding.
type Store struct {
	db *sql.DB
}

// New wraps an already-opened *sql.DB. Callers own the pool's lifecycle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- badge catalog reads (grant, depgraph) ---

func (s *Store) GetBadge(ctx context.Context, badgeID string) (*badge.Badge, error) {
	const q = `
		SELECT id, category_id, series_id, name, type, status, assets_blob,
		       validity_kind, validity_fixed_at, validity_relative_days,
		       max_supply, issued_count
		FROM badges WHERE id = $1`
	row := s.db.QueryRowContext(ctx, q, badgeID)
	var b badge.Badge
	var validityFixedAt sql.NullTime
	var maxSupply sql.NullInt64
	if err := row.Scan(&b.ID, &b.CategoryID, &b.SeriesID, &b.Name, &b.Type, &b.Status, &b.AssetsBlob,
		&b.Validity.Kind, &validityFixedAt, &b.Validity.RelativeDays, &maxSupply, &b.IssuedCount); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get badge: %w", err)
	}
	if validityFixedAt.Valid {
		b.Validity.FixedAt = validityFixedAt.Time
	}
	if maxSupply.Valid {
		b.MaxSupply = &maxSupply.Int64
	}
	return &b, nil
}

func (s *Store) GetEffectiveBadgeRules(ctx context.Context, badgeID string, now time.Time) ([]badge.Rule, error) {
	const q = `
		SELECT id, badge_id, rule_id, event_type, window_start, window_end, max_count_per_user, enabled
		FROM badge_rules
		WHERE badge_id = $1 AND enabled = true
		  AND (window_start IS NULL OR window_start <= $2)
		  AND (window_end IS NULL OR window_end >= $2)`
	rows, err := s.db.QueryContext(ctx, q, badgeID, now)
	if err != nil {
		return nil, fmt.Errorf("get effective badge rules: %w", err)
	}
	defer rows.Close()
	return scanBadgeRules(rows)
}

// ListRulesForEventType returns every enabled rule registered against
// eventType, regardless of badge. Window effectiveness is left to the
// caller (badge.Rule.Effective), since the pipeline evaluates against the
// event's own timestamp rather than the query time.
func (s *Store) ListRulesForEventType(ctx context.Context, eventType string) ([]badge.Rule, error) {
	const q = `
		SELECT id, badge_id, rule_id, event_type, window_start, window_end, max_count_per_user, enabled
		FROM badge_rules
		WHERE event_type = $1 AND enabled = true`
	rows, err := s.db.QueryContext(ctx, q, eventType)
	if err != nil {
		return nil, fmt.Errorf("list rules for event type: %w", err)
	}
	defer rows.Close()
	return scanBadgeRules(rows)
}

func scanBadgeRules(rows *sql.Rows) ([]badge.Rule, error) {
	var out []badge.Rule
	for rows.Next() {
		var r badge.Rule
		var windowStart, windowEnd sql.NullTime
		var maxCount sql.NullInt64
		if err := rows.Scan(&r.ID, &r.BadgeID, &r.RuleID, &r.EventType, &windowStart, &windowEnd, &maxCount, &r.Enabled); err != nil {
			return nil, fmt.Errorf("scan badge rule: %w", err)
		}
		if windowStart.Valid {
			r.WindowStart = &windowStart.Time
		}
		if windowEnd.Valid {
			r.WindowEnd = &windowEnd.Time
		}
		if maxCount.Valid {
			v := int(maxCount.Int64)
			r.MaxCountPerUser = &v
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FindAcquireLedgerByRef is scoped to (user, badge, ref): one event id may
// grant several distinct badges, and each of those grants must dedupe
// independently.
func (s *Store) FindAcquireLedgerByRef(ctx context.Context, userID, badgeID, refID string) (*userbadge.LedgerEntry, error) {
	const q = `
		SELECT id, user_id, badge_id, change_type, signed_quantity, balance_after, ref_id, ref_type, created_at
		FROM ledger_entries
		WHERE user_id = $1 AND badge_id = $2 AND ref_id = $3 AND change_type = 'acquire'
		LIMIT 1`
	return scanLedgerEntry(s.db.QueryRowContext(ctx, q, userID, badgeID, refID))
}

func scanLedgerEntry(row *sql.Row) (*userbadge.LedgerEntry, error) {
	var e userbadge.LedgerEntry
	if err := row.Scan(&e.ID, &e.UserID, &e.BadgeID, &e.ChangeType, &e.SignedQuantity, &e.BalanceAfter, &e.RefID, &e.RefType, &e.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan ledger entry: %w", err)
	}
	return &e, nil
}

// --- user badge holdings (grant, revoke, redemption, cascade, autobenefit) ---

func (s *Store) GetUserBadge(ctx context.Context, userID, badgeID string) (*userbadge.UserBadge, error) {
	const q = `
		SELECT id, user_id, badge_id, quantity, status, acquired_at, expires_at, source_type
		FROM user_badges WHERE user_id = $1 AND badge_id = $2`
	row := s.db.QueryRowContext(ctx, q, userID, badgeID)
	return scanUserBadge(row)
}

func scanUserBadge(row *sql.Row) (*userbadge.UserBadge, error) {
	var ub userbadge.UserBadge
	var expiresAt sql.NullTime
	if err := row.Scan(&ub.ID, &ub.UserID, &ub.BadgeID, &ub.Quantity, &ub.Status, &ub.AcquiredAt, &expiresAt, &ub.SourceType); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user badge: %w", err)
	}
	if expiresAt.Valid {
		ub.ExpiresAt = &expiresAt.Time
	}
	return &ub, nil
}

// ActiveHoldings reports active quantity per requested badge, zero for any
// badge the user holds nothing of.
func (s *Store) ActiveHoldings(ctx context.Context, userID string, badgeIDs []string) (map[string]int64, error) {
	out := make(map[string]int64, len(badgeIDs))
	for _, id := range badgeIDs {
		out[id] = 0
	}
	if len(badgeIDs) == 0 {
		return out, nil
	}
	const q = `
		SELECT badge_id, quantity FROM user_badges
		WHERE user_id = $1 AND status = 'active' AND badge_id = ANY($2)`
	rows, err := s.db.QueryContext(ctx, q, userID, pq.Array(badgeIDs))
	if err != nil {
		return nil, fmt.Errorf("active holdings: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var badgeID string
		var qty int64
		if err := rows.Scan(&badgeID, &qty); err != nil {
			return nil, fmt.Errorf("scan holding: %w", err)
		}
		out[badgeID] = qty
	}
	return out, rows.Err()
}

// --- dependency graph (depgraph.EdgeStore) ---

func (s *Store) ListDependencyEdges(ctx context.Context) ([]badge.DependencyEdge, error) {
	const q = `
		SELECT id, from_badge_id, to_badge_id, type, required_quantity, exclusive_group_id,
		       dependency_group_id, auto_trigger, priority, enabled
		FROM dependency_edges`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list dependency edges: %w", err)
	}
	defer rows.Close()

	var out []badge.DependencyEdge
	for rows.Next() {
		var e badge.DependencyEdge
		if err := rows.Scan(&e.ID, &e.FromBadgeID, &e.ToBadgeID, &e.Type, &e.RequiredQuantity, &e.ExclusiveGroupID,
			&e.DependencyGroupID, &e.AutoTrigger, &e.Priority, &e.Enabled); err != nil {
			return nil, fmt.Errorf("scan dependency edge: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- cascade log (cascade.LogStore) ---

func (s *Store) SaveCascadeLog(ctx context.Context, entry cascadelog.Entry) error {
	granted, err := json.Marshal(entry.Granted)
	if err != nil {
		return fmt.Errorf("marshal granted: %w", err)
	}
	blocked, err := json.Marshal(entry.Blocked)
	if err != nil {
		return fmt.Errorf("marshal blocked: %w", err)
	}
	path, err := json.Marshal(entry.Path)
	if err != nil {
		return fmt.Errorf("marshal path: %w", err)
	}
	const q = `
		INSERT INTO cascade_logs
			(id, user_id, trigger_badge, granted, blocked, path, visited_count, duration_ms, result_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())`
	_, err = s.db.ExecContext(ctx, q, uuid.NewString(), entry.UserID, entry.TriggerBadge,
		granted, blocked, path, entry.VisitedCount, entry.Duration.Milliseconds(), entry.ResultStatus)
	if err != nil {
		return fmt.Errorf("save cascade log: %w", err)
	}
	return nil
}

// --- benefits & redemption rules (redemption, autobenefit, benefitdispatch) ---

func (s *Store) GetRule(ctx context.Context, ruleID string) (*benefit.RedemptionRule, error) {
	const q = `
		SELECT id, name, benefit_id, required_badges, frequency_config, window_start, window_end,
		       issued_validity, auto_redeem, enabled
		FROM redemption_rules WHERE id = $1`
	return scanRedemptionRule(s.db.QueryRowContext(ctx, q, ruleID))
}

func (s *Store) AutoRedeemRulesForBadge(ctx context.Context, badgeID string) ([]benefit.RedemptionRule, error) {
	const q = `
		SELECT id, name, benefit_id, required_badges, frequency_config, window_start, window_end,
		       issued_validity, auto_redeem, enabled
		FROM redemption_rules
		WHERE auto_redeem = true AND enabled = true
		  AND EXISTS (
		       SELECT 1 FROM jsonb_array_elements(required_badges) elem
		       WHERE elem->>'badge_id' = $1
		  )`
	rows, err := s.db.QueryContext(ctx, q, badgeID)
	if err != nil {
		return nil, fmt.Errorf("auto redeem rules for badge: %w", err)
	}
	defer rows.Close()

	var out []benefit.RedemptionRule
	for rows.Next() {
		r, err := scanRedemptionRuleRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanRedemptionRule(row *sql.Row) (*benefit.RedemptionRule, error) {
	var r benefit.RedemptionRule
	var requiredBadges, frequencyConfig, issuedValidity []byte
	var windowStart, windowEnd sql.NullTime
	if err := row.Scan(&r.ID, &r.Name, &r.BenefitID, &requiredBadges, &frequencyConfig, &windowStart, &windowEnd,
		&issuedValidity, &r.AutoRedeem, &r.Enabled); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan redemption rule: %w", err)
	}
	if err := unmarshalRuleColumns(&r, requiredBadges, frequencyConfig, issuedValidity); err != nil {
		return nil, err
	}
	if windowStart.Valid {
		r.WindowStart = &windowStart.Time
	}
	if windowEnd.Valid {
		r.WindowEnd = &windowEnd.Time
	}
	return &r, nil
}

func scanRedemptionRuleRow(rows *sql.Rows) (*benefit.RedemptionRule, error) {
	var r benefit.RedemptionRule
	var requiredBadges, frequencyConfig, issuedValidity []byte
	var windowStart, windowEnd sql.NullTime
	if err := rows.Scan(&r.ID, &r.Name, &r.BenefitID, &requiredBadges, &frequencyConfig, &windowStart, &windowEnd,
		&issuedValidity, &r.AutoRedeem, &r.Enabled); err != nil {
		return nil, fmt.Errorf("scan redemption rule: %w", err)
	}
	if err := unmarshalRuleColumns(&r, requiredBadges, frequencyConfig, issuedValidity); err != nil {
		return nil, err
	}
	if windowStart.Valid {
		r.WindowStart = &windowStart.Time
	}
	if windowEnd.Valid {
		r.WindowEnd = &windowEnd.Time
	}
	return &r, nil
}

func unmarshalRuleColumns(r *benefit.RedemptionRule, requiredBadges, frequencyConfig, issuedValidity []byte) error {
	if len(requiredBadges) > 0 {
		if err := json.Unmarshal(requiredBadges, &r.RequiredBadges); err != nil {
			return fmt.Errorf("unmarshal required badges: %w", err)
		}
	}
	if len(frequencyConfig) > 0 {
		if err := json.Unmarshal(frequencyConfig, &r.FrequencyConfig); err != nil {
			return fmt.Errorf("unmarshal frequency config: %w", err)
		}
	}
	if len(issuedValidity) > 0 {
		if err := json.Unmarshal(issuedValidity, &r.IssuedValidity); err != nil {
			return fmt.Errorf("unmarshal issued validity: %w", err)
		}
	}
	return nil
}

func (s *Store) GetBenefit(ctx context.Context, benefitID string) (*benefit.Benefit, error) {
	const q = `
		SELECT id, code, name, type, external_refs, total_stock, remaining_stock, redeemed_count, status, config
		FROM benefits WHERE id = $1`
	row := s.db.QueryRowContext(ctx, q, benefitID)
	var b benefit.Benefit
	var externalRefs, config []byte
	var totalStock, remainingStock sql.NullInt64
	if err := row.Scan(&b.ID, &b.Code, &b.Name, &b.Type, &externalRefs, &totalStock, &remainingStock, &b.RedeemedCount, &b.Status, &config); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get benefit: %w", err)
	}
	if totalStock.Valid {
		b.TotalStock = &totalStock.Int64
	}
	if remainingStock.Valid {
		b.RemainingStock = &remainingStock.Int64
	}
	if len(externalRefs) > 0 {
		if err := json.Unmarshal(externalRefs, &b.ExternalRefs); err != nil {
			return nil, fmt.Errorf("unmarshal external refs: %w", err)
		}
	}
	if len(config) > 0 {
		if err := json.Unmarshal(config, &b.Config); err != nil {
			return nil, fmt.Errorf("unmarshal benefit config: %w", err)
		}
	}
	return &b, nil
}

func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*benefit.Order, error) {
	const q = `
		SELECT id, order_no, user_id, rule_id, benefit_id, status, failure_reason, idempotency_key, created_at
		FROM orders WHERE idempotency_key = $1`
	row := s.db.QueryRowContext(ctx, q, key)
	return scanOrder(row)
}

func scanOrder(row *sql.Row) (*benefit.Order, error) {
	var o benefit.Order
	if err := row.Scan(&o.ID, &o.OrderNo, &o.UserID, &o.RuleID, &o.BenefitID, &o.Status, &o.FailureReason, &o.IdempotencyKey, &o.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	return &o, nil
}

// --- expiry sweep (maintenance.Store) ---

// ListDueExpirations returns every active user badge whose expires_at has
// passed as of asOf. The maintenance sweeper re-locks each row individually
// before mutating it, so this read needs no transaction of its own.
func (s *Store) ListDueExpirations(ctx context.Context, asOf time.Time) ([]userbadge.UserBadge, error) {
	const q = `
		SELECT id, user_id, badge_id, quantity, status, acquired_at, expires_at, source_type
		FROM user_badges
		WHERE status = 'active' AND expires_at IS NOT NULL AND expires_at <= $1`
	rows, err := s.db.QueryContext(ctx, q, asOf)
	if err != nil {
		return nil, fmt.Errorf("list due expirations: %w", err)
	}
	defer rows.Close()

	var out []userbadge.UserBadge
	for rows.Next() {
		var ub userbadge.UserBadge
		var expiresAt sql.NullTime
		if err := rows.Scan(&ub.ID, &ub.UserID, &ub.BadgeID, &ub.Quantity, &ub.Status, &ub.AcquiredAt, &expiresAt, &ub.SourceType); err != nil {
			return nil, fmt.Errorf("scan due expiration: %w", err)
		}
		if expiresAt.Valid {
			ub.ExpiresAt = &expiresAt.Time
		}
		out = append(out, ub)
	}
	return out, rows.Err()
}

func (s *Store) CountSuccessfulOrders(ctx context.Context, userID, ruleID string, since *time.Time) (int, error) {
	var count int
	var err error
	if since == nil {
		const q = `SELECT COUNT(*) FROM orders WHERE user_id = $1 AND rule_id = $2 AND status = 'success'`
		err = s.db.QueryRowContext(ctx, q, userID, ruleID).Scan(&count)
	} else {
		const q = `SELECT COUNT(*) FROM orders WHERE user_id = $1 AND rule_id = $2 AND status = 'success' AND created_at >= $3`
		err = s.db.QueryRowContext(ctx, q, userID, ruleID, *since).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("count successful orders: %w", err)
	}
	return count, nil
}
