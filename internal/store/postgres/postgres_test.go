package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nordflow/ingest/internal/domain"
)

func newMockRepo(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewFromDB(sqlx.NewDb(db, "postgres"), time.Second), mock
}

func sampleTrade(id string) domain.Trade {
	return domain.Trade{
		TradeID:       id,
		DeliveryArea:  "SE1",
		TradeSide:     domain.SideBuy,
		ContractID:    "C1",
		ContractName:  "PH 10-11",
		DeliveryStart: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		DeliveryEnd:   time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC),
		DurationMin:   60,
		ContractType:  domain.ContractPH,
		Price:         decimal.NewFromFloat(50.5),
		Volume:        decimal.NewFromInt(3),
		TradeTime:     time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestUpsertTradesExecutesOnePreparedUpsertPerRow(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO trades")
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.UpsertTrades(context.Background(), []domain.Trade{sampleTrade("T1"), sampleTrade("T2")})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertTradesEmptyBatchSkipsTransaction(t *testing.T) {
	repo, mock := newMockRepo(t)

	require.NoError(t, repo.UpsertTrades(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertTicksIgnoreConflictCountsOnlyNewRows(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO order_flow_ticks")
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 0)) // conflict: do nothing
	mock.ExpectCommit()

	ticks := []domain.OrderFlowTick{
		{TickID: "a", ContractID: "C1", Price: decimal.NewFromInt(1), Volume: decimal.NewFromInt(1), DeltaVolume: decimal.NewFromInt(1)},
		{TickID: "b", ContractID: "C1", Price: decimal.NewFromInt(1), Volume: decimal.NewFromInt(1), DeltaVolume: decimal.NewFromInt(1)},
	}
	inserted, err := repo.InsertTicksIgnoreConflict(context.Background(), ticks)
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTradeFetchStateMissingRowIsNotAnError(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("FROM trade_fetch_state").WithArgs("SE1").WillReturnError(sql.ErrNoRows)

	_, ok, err := repo.GetTradeFetchState(context.Background(), "SE1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveTradeFetchStateUpserts(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("INSERT INTO trade_fetch_state").
		WithArgs("SE1", sqlmock.AnyArg(), domain.StatusOK, "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.SaveTradeFetchState(context.Background(), domain.TradeFetchState{
		Area:            "SE1",
		LastFetchedTime: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Status:          domain.StatusOK,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCandlesForContractScansDecimals(t *testing.T) {
	repo, mock := newMockRepo(t)

	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"contract_id", "ts", "area", "open", "high", "low", "close", "volume", "vwap", "trade_count", "contract_type"}).
		AddRow("C1", ts, "SE1", "50", "52", "49", "51", "3", "50.6666666667", 2, "PH")
	mock.ExpectQuery("FROM market_candles").WithArgs("SE1", "C1").WillReturnRows(rows)

	candles, err := repo.CandlesForContract(context.Background(), "SE1", "C1")
	require.NoError(t, err)
	require.Len(t, candles, 1)
	c := candles[0]
	assert.True(t, c.Open.Equal(decimal.NewFromInt(50)))
	assert.True(t, c.Volume.Equal(decimal.NewFromInt(3)))
	assert.Equal(t, domain.ContractPH, c.ContractType)
	assert.Equal(t, int64(2), c.TradeCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkContractArchived(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("UPDATE order_contracts SET is_archived = true").
		WithArgs("SE1", "C1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkContractArchived(context.Background(), "SE1", "C1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
