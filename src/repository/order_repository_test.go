package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"marketrouter/src/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func TestOrderRepositorySearch(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := &OrderRepository{db: mockDB}

	createdAt := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	orders := []model.Order{
		{ID: 1, AccountID: 1, MarketID: 1, Currency: "BTC", CreatedAt: createdAt, UpdatedAt: createdAt},
		{ID: 2, AccountID: 1, MarketID: 2, Currency: "ETH", CreatedAt: createdAt.Add(24 * time.Hour), UpdatedAt: createdAt.Add(24 * time.Hour)},
		{ID: 3, AccountID: 2, MarketID: 1, Currency: "SOL", CreatedAt: createdAt.Add(48 * time.Hour), UpdatedAt: createdAt.Add(48 * time.Hour)},
	}

	orderRows := func(returned ...model.Order) *sqlmock.Rows {
		rows := sqlmock.NewRows([]string{"id", "account_id", "market_id", "currency", "created_at", "updated_at"})
		for _, order := range returned {
			rows.AddRow(order.ID, order.AccountID, order.MarketID, order.Currency, order.CreatedAt, order.UpdatedAt)
		}
		return rows
	}

	t.Run("filters by account", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders" WHERE account_id = $1 ORDER BY created_at DESC, id DESC`)).
			WithArgs(uint(1)).
			WillReturnRows(orderRows(orders[1], orders[0]))

		results, err := repo.Search(context.Background(), OrderSearchOptions{AccountID: 1})
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, "ETH", results[0].Currency)
		assert.Equal(t, "BTC", results[1].Currency)
	})

	t.Run("filters by account and market", func(t *testing.T) {
		marketID := uint(1)
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders" WHERE account_id = $1 AND market_id = $2 ORDER BY created_at DESC, id DESC`)).
			WithArgs(uint(1), marketID).
			WillReturnRows(orderRows(orders[0]))

		results, err := repo.Search(context.Background(), OrderSearchOptions{AccountID: 1, MarketID: &marketID})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "BTC", results[0].Currency)
	})

	t.Run("filters by currency and created window", func(t *testing.T) {
		filters := OrderSearchOptions{
			AccountID:     1,
			Currency:      ptrString("ETH"),
			CreatedAfter:  ptrTime(createdAt.Add(-time.Hour)),
			CreatedBefore: ptrTime(createdAt.Add(36 * time.Hour)),
		}

		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders" WHERE account_id = $1 AND currency = $2 AND created_at >= $3 AND created_at <= $4 ORDER BY created_at DESC, id DESC`)).
			WithArgs(uint(1), *filters.Currency, *filters.CreatedAfter, *filters.CreatedBefore).
			WillReturnRows(orderRows(orders[1]))

		results, err := repo.Search(context.Background(), filters)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "ETH", results[0].Currency)
	})

	t.Run("applies pagination", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders" WHERE account_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`)).
			WithArgs(uint(1), 1, 1).
			WillReturnRows(orderRows(orders[0]))

		results, err := repo.Search(context.Background(), OrderSearchOptions{AccountID: 1, Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "BTC", results[0].Currency)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepositoryNonTerminal(t *testing.T) {
	db := newSQLiteDB(t)
	ctx := context.Background()
	_, market := seedMarket(t, db)

	repo := (&OrderRepository{}).WithDB(db)

	open := &model.Order{
		AccountID:     7,
		MarketID:      market.ID,
		ClientOrderID: "c-1",
		Currency:      "BTC",
		Side:          model.OrderSideBuy,
		Type:          model.OrderTypeMarket,
		Amount:        decimal.RequireFromString("0.01"),
		Status:        model.OrderStatusOpen,
	}
	require.NoError(t, repo.Create(ctx, open))

	blocked, err := repo.HasNonTerminal(ctx, 7, "ETH", "BTC")
	require.NoError(t, err)
	assert.True(t, blocked)

	blocked, err = repo.HasNonTerminal(ctx, 8, "BTC")
	require.NoError(t, err)
	assert.False(t, blocked, "other accounts are not blocked")

	blocked, err = repo.HasNonTerminal(ctx, 7)
	require.NoError(t, err)
	assert.False(t, blocked)

	pending, err := repo.ListNonTerminal(ctx, 7)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NotNil(t, pending[0].Market)
	assert.Equal(t, "BTC/USDT", pending[0].Market.Symbol)

	open.Status = model.OrderStatusFilled
	open.Filled = open.Amount
	require.NoError(t, repo.Update(ctx, open))

	blocked, err = repo.HasNonTerminal(ctx, 7, "BTC")
	require.NoError(t, err)
	assert.False(t, blocked)

	stored, err := repo.FindByID(ctx, open.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, model.OrderStatusFilled, stored.Status)
	assert.True(t, stored.Filled.Equal(open.Amount))

	missing, err := repo.FindByID(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	dialector := postgres.New(postgres.Config{
		DSN:                  "sqlmock_db_0",
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	})

	gdb, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		sqlDB.Close()
		t.Fatalf("failed to open gorm DB with sqlmock: %v", err)
	}

	return gdb, mock
}

func ptrString(val string) *string {
	return &val
}

func ptrTime(val time.Time) *time.Time {
	return &val
}
