package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/badgeforge/entitlement/internal/benefitdispatch"
	"github.com/badgeforge/entitlement/internal/domain/benefit"
	"github.com/badgeforge/entitlement/internal/domain/userbadge"
	"github.com/badgeforge/entitlement/internal/entitlementerr"
)

// tx wraps one *sql.Tx and implements every service package's Tx interface:
// grant.Tx, revoke.Tx, redemption.Tx (which embeds benefitdispatch.Tx), and
// benefitdispatch.Tx standalone. Their method sets never collide, so one
// concrete type serves all four without adapters.
type tx struct {
	t *sql.Tx
}

func (s *Store) runInTx(ctx context.Context, fn func(t *tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&tx{t: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	return sqlTx.Commit()
}

// --- grant.Tx ---

func (x *tx) LockOrCreateUserBadge(ctx context.Context, userID, badgeID string) (*userbadge.UserBadge, error) {
	const selectQ = `
		SELECT id, user_id, badge_id, quantity, status, acquired_at, expires_at, source_type
		FROM user_badges WHERE user_id = $1 AND badge_id = $2 FOR UPDATE`
	ub, err := scanUserBadgeTx(x.t.QueryRowContext(ctx, selectQ, userID, badgeID))
	if err != nil {
		return nil, err
	}
	if ub != nil {
		return ub, nil
	}

	const insertQ = `
		INSERT INTO user_badges (id, user_id, badge_id, quantity, status, acquired_at, expires_at, source_type)
		VALUES ($1, $2, $3, 0, 'active', now(), NULL, '')
		RETURNING id, user_id, badge_id, quantity, status, acquired_at, expires_at, source_type`
	return scanUserBadgeTx(x.t.QueryRowContext(ctx, insertQ, uuid.NewString(), userID, badgeID))
}

func (x *tx) IncrementIssuedCount(ctx context.Context, badgeID string, delta int64) error {
	const q = `UPDATE badges SET issued_count = issued_count + $1 WHERE id = $2`
	_, err := x.t.ExecContext(ctx, q, delta, badgeID)
	if err != nil {
		return fmt.Errorf("increment issued count: %w", err)
	}
	return nil
}

// --- revoke.Tx ---

func (x *tx) LockUserBadge(ctx context.Context, userID, badgeID string) (*userbadge.UserBadge, error) {
	const q = `
		SELECT id, user_id, badge_id, quantity, status, acquired_at, expires_at, source_type
		FROM user_badges WHERE user_id = $1 AND badge_id = $2 FOR UPDATE`
	return scanUserBadgeTx(x.t.QueryRowContext(ctx, q, userID, badgeID))
}

func (x *tx) DecrementIssuedCount(ctx context.Context, badgeID string, delta int64) error {
	const q = `UPDATE badges SET issued_count = issued_count - $1 WHERE id = $2`
	_, err := x.t.ExecContext(ctx, q, delta, badgeID)
	if err != nil {
		return fmt.Errorf("decrement issued count: %w", err)
	}
	return nil
}

// --- shared between grant/revoke/redemption Tx ---

func (x *tx) SaveUserBadge(ctx context.Context, ub *userbadge.UserBadge) error {
	const q = `
		UPDATE user_badges
		SET quantity = $1, status = $2, acquired_at = $3, expires_at = $4, source_type = $5
		WHERE id = $6`
	_, err := x.t.ExecContext(ctx, q, ub.Quantity, ub.Status, ub.AcquiredAt, ub.ExpiresAt, ub.SourceType, ub.ID)
	if err != nil {
		return fmt.Errorf("save user badge: %w", err)
	}
	return nil
}

func (x *tx) AppendLedgerEntry(ctx context.Context, entry userbadge.LedgerEntry) error {
	const q = `
		INSERT INTO ledger_entries (id, user_id, badge_id, change_type, signed_quantity, balance_after, ref_id, ref_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := x.t.ExecContext(ctx, q, uuid.NewString(), entry.UserID, entry.BadgeID, entry.ChangeType,
		entry.SignedQuantity, entry.BalanceAfter, entry.RefID, entry.RefType, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

func (x *tx) AppendUserBadgeLog(ctx context.Context, log userbadge.Log) error {
	const q = `
		INSERT INTO user_badge_logs (id, user_id, badge_id, action, quantity, operator, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := x.t.ExecContext(ctx, q, uuid.NewString(), log.UserID, log.BadgeID, log.Action, log.Quantity, log.Operator, log.Reason, log.CreatedAt)
	if err != nil {
		return fmt.Errorf("append user badge log: %w", err)
	}
	return nil
}

func scanUserBadgeTx(row *sql.Row) (*userbadge.UserBadge, error) {
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

// --- benefitdispatch.Tx (also embedded into redemption.Tx) ---

func (x *tx) FindGrantByNo(ctx context.Context, grantNo string) (*benefitdispatch.GrantRecord, error) {
	const q = `
		SELECT grant_no, user_id, benefit_id, benefit_type, status, external_ref, granted_at, expires_at, payload, error, redemption_order
		FROM benefit_grants WHERE grant_no = $1`
	row := x.t.QueryRowContext(ctx, q, grantNo)
	var r benefitdispatch.GrantRecord
	var externalRef, grantErr, redemptionOrder sql.NullString
	var grantedAt, expiresAt sql.NullTime
	var payload []byte
	if err := row.Scan(&r.GrantNo, &r.UserID, &r.BenefitID, &r.BenefitType, &r.Status, &externalRef, &grantedAt, &expiresAt, &payload, &grantErr, &redemptionOrder); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find grant by no: %w", err)
	}
	r.ExternalRef = externalRef.String
	r.Error = grantErr.String
	r.RedemptionOrder = redemptionOrder.String
	if grantedAt.Valid {
		r.GrantedAt = &grantedAt.Time
	}
	if expiresAt.Valid {
		r.ExpiresAt = &expiresAt.Time
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &r.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal grant payload: %w", err)
		}
	}
	return &r, nil
}

func (x *tx) SaveGrant(ctx context.Context, record benefitdispatch.GrantRecord) error {
	payload, err := json.Marshal(record.Payload)
	if err != nil {
		return fmt.Errorf("marshal grant payload: %w", err)
	}
	const q = `
		INSERT INTO benefit_grants
			(grant_no, user_id, benefit_id, benefit_type, status, external_ref, granted_at, expires_at, payload, error, redemption_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (grant_no) DO UPDATE SET
			status = EXCLUDED.status, external_ref = EXCLUDED.external_ref, granted_at = EXCLUDED.granted_at,
			expires_at = EXCLUDED.expires_at, payload = EXCLUDED.payload, error = EXCLUDED.error`
	_, err = x.t.ExecContext(ctx, q, record.GrantNo, record.UserID, record.BenefitID, record.BenefitType,
		record.Status, record.ExternalRef, record.GrantedAt, record.ExpiresAt, payload, record.Error, record.RedemptionOrder)
	if err != nil {
		return fmt.Errorf("save grant: %w", err)
	}
	return nil
}

func (x *tx) DecrementBenefitStock(ctx context.Context, benefitID string, delta int64) error {
	var remaining sql.NullInt64
	const lockQ = `SELECT remaining_stock FROM benefits WHERE id = $1 FOR UPDATE`
	if err := x.t.QueryRowContext(ctx, lockQ, benefitID).Scan(&remaining); err != nil {
		if err == sql.ErrNoRows {
			return entitlementerr.BenefitNotFound(benefitID)
		}
		return fmt.Errorf("lock benefit stock: %w", err)
	}
	if remaining.Valid && remaining.Int64 < delta {
		return entitlementerr.BenefitOutOfStock(benefitID)
	}
	const updateQ = `UPDATE benefits SET remaining_stock = remaining_stock - $1, redeemed_count = redeemed_count + $1 WHERE id = $2 AND remaining_stock IS NOT NULL`
	if remaining.Valid {
		if _, err := x.t.ExecContext(ctx, updateQ, delta, benefitID); err != nil {
			return fmt.Errorf("decrement benefit stock: %w", err)
		}
		return nil
	}
	const updateUnlimitedQ = `UPDATE benefits SET redeemed_count = redeemed_count + $1 WHERE id = $2`
	if _, err := x.t.ExecContext(ctx, updateUnlimitedQ, delta, benefitID); err != nil {
		return fmt.Errorf("increment redeemed count: %w", err)
	}
	return nil
}

// --- redemption.Tx-only mutations ---

func (x *tx) CreateOrder(ctx context.Context, order benefit.Order) error {
	const q = `
		INSERT INTO orders (id, order_no, user_id, rule_id, benefit_id, status, failure_reason, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	var idempotencyKey interface{}
	if order.IdempotencyKey != "" {
		idempotencyKey = order.IdempotencyKey
	}
	_, err := x.t.ExecContext(ctx, q, order.ID, order.OrderNo, order.UserID, order.RuleID, order.BenefitID,
		order.Status, order.FailureReason, idempotencyKey, order.CreatedAt)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

func (x *tx) AppendOrderDetail(ctx context.Context, detail benefit.OrderDetail) error {
	const q = `INSERT INTO order_details (id, order_id, badge_id, quantity) VALUES ($1, $2, $3, $4)`
	_, err := x.t.ExecContext(ctx, q, uuid.NewString(), detail.OrderID, detail.BadgeID, detail.Quantity)
	if err != nil {
		return fmt.Errorf("append order detail: %w", err)
	}
	return nil
}

func (x *tx) SetOrderStatus(ctx context.Context, orderID string, status benefit.OrderStatus, failureReason string) error {
	const q = `UPDATE orders SET status = $1, failure_reason = $2 WHERE id = $3`
	_, err := x.t.ExecContext(ctx, q, status, failureReason, orderID)
	if err != nil {
		return fmt.Errorf("set order status: %w", err)
	}
	return nil
}
