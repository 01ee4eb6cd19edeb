package postgres

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func TestGetBadge_Found(t *testing.T) {
	store, mock := newMockStore(t)
	rows := sqlmock.NewRows([]string{
		"id", "category_id", "series_id", "name", "type", "status", "assets_blob",
		"validity_kind", "validity_fixed_at", "validity_relative_days", "max_supply", "issued_count",
	}).AddRow("gold", "cat1", "series1", "Gold Badge", "normal", "active", "", "permanent", nil, 0, nil, 5)
	mock.ExpectQuery(`SELECT id, category_id, series_id, name, type, status, assets_blob`).
		WithArgs("gold").WillReturnRows(rows)

	b, err := store.GetBadge(context.Background(), "gold")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, "Gold Badge", b.Name)
	assert.Nil(t, b.MaxSupply)
	assert.Equal(t, int64(5), b.IssuedCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBadge_NotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT id, category_id, series_id, name, type, status, assets_blob`).
		WithArgs("missing").WillReturnRows(sqlmock.NewRows(nil))

	b, err := store.GetBadge(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, b)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestActiveHoldings_ZerosUnqueriedBadges(t *testing.T) {
	store, mock := newMockStore(t)
	rows := sqlmock.NewRows([]string{"badge_id", "quantity"}).AddRow("gold", 3)
	mock.ExpectQuery(`SELECT badge_id, quantity FROM user_badges`).
		WithArgs("u1", sqlmock.AnyArg()).WillReturnRows(rows)

	holdings, err := store.ActiveHoldings(context.Background(), "u1", []string{"gold", "silver"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), holdings["gold"])
	assert.Equal(t, int64(0), holdings["silver"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserBadge_NotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT id, user_id, badge_id, quantity, status, acquired_at, expires_at, source_type`).
		WithArgs("u1", "gold").WillReturnRows(sqlmock.NewRows(nil))

	ub, err := store.GetUserBadge(context.Background(), "u1", "gold")
	require.NoError(t, err)
	assert.Nil(t, ub)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTx_CommitsOnSuccess(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE badges SET issued_count`).WithArgs(int64(1), "gold").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.runInTx(context.Background(), func(t *tx) error {
		return t.IncrementIssuedCount(context.Background(), "gold", 1)
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTx_RollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	err := store.runInTx(context.Background(), func(t *tx) error {
		return assert.AnError
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
