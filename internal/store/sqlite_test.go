package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"mabot/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tc = models.TradeContext{Env: "backtest", Market: "us", Account: "main"}

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return &DB{conn: sqlDB, queries: queries{q: sqlDB}}, mock
}

func TestAtomic_CommitsAllWrites(t *testing.T) {
	db, mock := newMockDB(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO accounts").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO holdings").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := db.Atomic(ctx, func(tx Repository) error {
		if err := tx.SaveAccount(ctx, models.Account{Env: tc.Env, Market: tc.Market, Name: tc.Account, Balance: decimal.NewFromInt(1000)}); err != nil {
			return err
		}
		return tx.SaveHolding(ctx, models.Holding{Env: tc.Env, Market: tc.Market, Account: tc.Account, Instrument: "AAPL", HoldingID: "h1", Status: models.HoldingBuying, Quantity: 100})
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAtomic_RollsBackOnError(t *testing.T) {
	db, mock := newMockDB(t)
	ctx := context.Background()
	boom := errors.New("holding write failed")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO accounts").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO holdings").WillReturnError(boom)
	mock.ExpectRollback()

	err := db.Atomic(ctx, func(tx Repository) error {
		if err := tx.SaveAccount(ctx, models.Account{Env: tc.Env, Market: tc.Market, Name: tc.Account, Balance: decimal.NewFromInt(1000)}); err != nil {
			return err
		}
		return tx.SaveHolding(ctx, models.Holding{Env: tc.Env, Market: tc.Market, Account: tc.Account, Instrument: "AAPL", HoldingID: "h1"})
	})
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAtomic_ReturnsErrorIfBeginFails(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectBegin().WillReturnError(errors.New("begin failed"))

	err := db.Atomic(context.Background(), func(tx Repository) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to begin transaction")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAtomic_NestedCallJoinsOuterTransaction(t *testing.T) {
	db, mock := newMockDB(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO orders").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := db.Atomic(ctx, func(tx Repository) error {
		return tx.Atomic(ctx, func(inner Repository) error {
			return inner.SaveOrder(ctx, models.Order{Env: tc.Env, Market: tc.Market, Account: tc.Account, OrderID: "o1", Side: models.SideBuy})
		})
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAccount_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT env, market, name, balance").
		WithArgs(tc.Env, tc.Market, tc.Account).
		WillReturnRows(sqlmock.NewRows([]string{"env", "market", "name", "balance", "created_at", "updated_at"}))

	_, err := db.GetAccount(context.Background(), tc)
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAccount_ScansRow(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery("SELECT env, market, name, balance").
		WillReturnRows(sqlmock.NewRows([]string{"env", "market", "name", "balance", "created_at", "updated_at"}).
			AddRow(tc.Env, tc.Market, tc.Account, "99785.5100", "2024-03-04T10:00:00Z", "2024-03-05T10:00:00Z"))

	a, err := db.GetAccount(context.Background(), tc)
	require.NoError(t, err)
	assert.Equal(t, tc, a.Context())
	assert.True(t, a.Balance.Equal(decimal.RequireFromString("99785.51")))
	assert.Equal(t, time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC), a.UpdatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveOrder_RequiresOrderID(t *testing.T) {
	db, mock := newMockDB(t)
	err := db.SaveOrder(context.Background(), models.Order{HoldingID: "h1"})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("opens a real database file")
	}
	ctx := context.Background()
	db, err := New(filepath.Join(t.TempDir(), "mabot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())
	require.NoError(t, db.Migrate(), "second run is a no-op")

	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	account := models.Account{Env: tc.Env, Market: tc.Market, Name: tc.Account, Balance: decimal.RequireFromString("100000"), CreatedAt: now, UpdatedAt: now}
	holding := models.Holding{
		Env: tc.Env, Market: tc.Market, Account: tc.Account, Instrument: "AAPL", HoldingID: "h1",
		Status: models.HoldingBuying, Quantity: 200, BuyPrice: decimal.NewFromInt(100),
		BuyNotional: decimal.NewFromInt(20000), BuyFee: decimal.RequireFromString("44.70"), BuyOrderID: "o1",
		CreatedAt: now, UpdatedAt: now,
	}
	order := models.Order{
		Env: tc.Env, Market: tc.Market, Account: tc.Account, OrderID: "o1", Side: models.SideBuy, Status: models.OrderSubmitted,
		Instrument: "AAPL", HoldingID: "h1", Quantity: 200, Price: decimal.NewFromInt(100), Notional: decimal.NewFromInt(20000),
		Fee: decimal.RequireFromString("44.70"), FeeDetail: map[string]decimal.Decimal{"platform_fee": decimal.NewFromInt(15)},
		SubmitTime: now, ValidUntil: now.Add(6 * time.Hour), Note: "buy-h1:100",
	}
	require.NoError(t, db.Atomic(ctx, func(tx Repository) error {
		if err := tx.SaveAccount(ctx, account); err != nil {
			return err
		}
		if err := tx.SaveHolding(ctx, holding); err != nil {
			return err
		}
		return tx.SaveOrder(ctx, order)
	}))

	gotAccount, err := db.GetAccount(ctx, tc)
	require.NoError(t, err)
	assert.True(t, gotAccount.Balance.Equal(account.Balance))

	gotHolding, err := db.GetHolding(ctx, holding.Key())
	require.NoError(t, err)
	assert.Equal(t, models.HoldingBuying, gotHolding.Status)
	assert.True(t, gotHolding.BuyFee.Equal(holding.BuyFee))
	assert.True(t, gotHolding.SellTime.IsZero())

	gotOrder, err := db.GetOrder(ctx, order.Key())
	require.NoError(t, err)
	assert.Equal(t, order.Note, gotOrder.Note)
	assert.True(t, gotOrder.FeeDetail["platform_fee"].Equal(decimal.NewFromInt(15)))
	assert.True(t, gotOrder.ValidUntil.Equal(order.ValidUntil))

	// a failed unit leaves the stored rows untouched
	boom := errors.New("boom")
	err = db.Atomic(ctx, func(tx Repository) error {
		account.Balance = decimal.Zero
		if err := tx.SaveAccount(ctx, account); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	gotAccount, err = db.GetAccount(ctx, tc)
	require.NoError(t, err)
	assert.True(t, gotAccount.Balance.Equal(decimal.NewFromInt(100000)))

	open, err := db.ListHoldings(ctx, tc, "AAPL", models.HoldingBuying, models.HoldingHolding)
	require.NoError(t, err)
	assert.Len(t, open, 1)
	sold, err := db.ListHoldings(ctx, tc, "AAPL", models.HoldingSold)
	require.NoError(t, err)
	assert.Empty(t, sold)

	_, err = db.GetOrder(ctx, models.OrderKey{TradeContext: tc, OrderID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)
}
