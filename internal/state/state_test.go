// ./internal/state/state_test.go
package state

import (
	"database/sql"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/hedgevault/dnv/internal/types"
)

// withMockDB swaps the package connection for a sqlmock and restores it after.
func withMockDB(t *testing.T) sqlmock.Sqlmock {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	prev := DB
	DB = db
	t.Cleanup(func() {
		DB = prev
		db.Close()
	})
	return mock
}

func sampleParameters() types.PoolParameters {
	return types.PoolParameters{
		ToleranceMin:    sdkmath.LegacyMustNewDecFromStr("0.99"),
		ToleranceMax:    sdkmath.LegacyMustNewDecFromStr("1.01"),
		RebalanceTarget: sdkmath.LegacyOneDec(),
		DepositFeeRate:  sdkmath.LegacyMustNewDecFromStr("0.001"),
		FeeReceiver:     "treasury",
	}
}

func TestSavePoolParameters(t *testing.T) {
	mock := withMockDB(t)
	params := sampleParameters()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE pool_parameters").
		WithArgs("default").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO pool_parameters").
		WithArgs(3, "default", true, sqlmock.AnyArg(),
			params.ToleranceMin.String(), params.ToleranceMax.String(),
			params.RebalanceTarget.String(), params.DepositFeeRate.String(),
			params.FeeReceiver).
		WillReturnRows(sqlmock.NewRows([]string{"params_id"}).AddRow(int64(7)))
	mock.ExpectCommit()

	id, err := SavePoolParameters(params, "default", 3, true)
	require.NoError(t, err)
	require.Equal(t, int64(7), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSavePoolParametersRejectsInvalid(t *testing.T) {
	withMockDB(t)
	params := sampleParameters()
	params.ToleranceMin = sdkmath.LegacyMustNewDecFromStr("1.5") // min above max

	_, err := SavePoolParameters(params, "default", 1, false)
	require.Error(t, err)
}

func TestLoadActivePoolParameters(t *testing.T) {
	mock := withMockDB(t)

	rows := sqlmock.NewRows([]string{
		"params_id", "version", "tolerance_min", "tolerance_max",
		"rebalance_target", "deposit_fee_rate", "fee_receiver",
	}).AddRow(int64(7), 3, "0.990000000000000000", "1.010000000000000000",
		"1.000000000000000000", "0.001000000000000000", "treasury")
	mock.ExpectQuery("SELECT (.+) FROM pool_parameters").
		WithArgs("default").
		WillReturnRows(rows)

	params, err := LoadActivePoolParameters("default")
	require.NoError(t, err)
	require.True(t, params.ToleranceMin.Equal(sdkmath.LegacyMustNewDecFromStr("0.99")))
	require.True(t, params.ToleranceMax.Equal(sdkmath.LegacyMustNewDecFromStr("1.01")))
	require.Equal(t, "treasury", params.FeeReceiver)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadActivePoolParametersNoRows(t *testing.T) {
	mock := withMockDB(t)
	mock.ExpectQuery("SELECT (.+) FROM pool_parameters").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := LoadActivePoolParameters("missing")
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func sampleReceipt() types.RebalanceReceipt {
	return types.RebalanceReceipt{
		Pair:      "usdc-weth",
		TraceID:   "trace-1",
		Direction: types.RebalanceRedeemAndRepay,
		Before: types.DebtSnapshot{
			Owned: sdkmath.NewInt(1_000_000),
			Debt:  sdkmath.NewInt(1_050_000),
			Bps:   sdkmath.LegacyMustNewDecFromStr("1.05"),
		},
		After: types.DebtSnapshot{
			Owned: sdkmath.NewInt(1_000_000),
			Debt:  sdkmath.NewInt(1_000_000),
			Bps:   sdkmath.LegacyOneDec(),
		},
		AmountTraded: sdkmath.NewInt(50_000),
		FeeExtracted: true,
		Timestamp:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSaveRebalanceReceipt(t *testing.T) {
	mock := withMockDB(t)
	r := sampleReceipt()

	mock.ExpectQuery("INSERT INTO rebalance_receipts").
		WithArgs(r.Pair, r.TraceID, string(r.Direction),
			r.Before.Owned.String(), r.Before.Debt.String(), r.Before.Bps.String(),
			r.After.Owned.String(), r.After.Debt.String(), r.After.Bps.String(),
			r.AmountTraded.String(), r.FeeExtracted, r.Timestamp).
		WillReturnRows(sqlmock.NewRows([]string{"receipt_id"}).AddRow(int64(42)))

	id, err := SaveRebalanceReceipt(r)
	require.NoError(t, err)
	require.Equal(t, int64(42), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRecentRebalanceReceipts(t *testing.T) {
	mock := withMockDB(t)
	r := sampleReceipt()

	rows := sqlmock.NewRows([]string{
		"receipt_id", "pair", "trace_id", "direction",
		"owned_before", "debt_before", "bps_before",
		"owned_after", "debt_after", "bps_after",
		"amount_traded", "fee_extracted", "created_at",
	}).AddRow(int64(42), r.Pair, r.TraceID, string(r.Direction),
		r.Before.Owned.String(), r.Before.Debt.String(), r.Before.Bps.String(),
		r.After.Owned.String(), r.After.Debt.String(), r.After.Bps.String(),
		r.AmountTraded.String(), r.FeeExtracted, r.Timestamp)
	mock.ExpectQuery("SELECT (.+) FROM rebalance_receipts").
		WithArgs("usdc-weth", 5).
		WillReturnRows(rows)

	receipts, err := GetRecentRebalanceReceipts("usdc-weth", 5)
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	got := receipts[0]
	require.Equal(t, int64(42), got.ReceiptID)
	require.Equal(t, types.RebalanceRedeemAndRepay, got.Direction)
	require.True(t, got.Before.Debt.Equal(r.Before.Debt))
	require.True(t, got.After.Bps.Equal(r.After.Bps))
	require.True(t, got.AmountTraded.Equal(r.AmountTraded))
	require.True(t, got.FeeExtracted)
}

func TestSaveShareSnapshot(t *testing.T) {
	mock := withMockDB(t)
	snap := types.ShareSnapshot{
		Pair:        "usdc-weth",
		ShareSupply: sdkmath.NewInt(123_456_789),
		Holders:     4,
		Timestamp:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	mock.ExpectQuery("INSERT INTO share_snapshots").
		WithArgs(snap.Pair, snap.ShareSupply.String(), snap.Holders, snap.Timestamp).
		WillReturnRows(sqlmock.NewRows([]string{"snapshot_id"}).AddRow(int64(9)))

	id, err := SaveShareSnapshot(snap)
	require.NoError(t, err)
	require.Equal(t, int64(9), id)

	latest := sqlmock.NewRows([]string{"snapshot_id", "pair", "share_supply", "holders", "created_at"}).
		AddRow(int64(9), snap.Pair, snap.ShareSupply.String(), snap.Holders, snap.Timestamp)
	mock.ExpectQuery("SELECT (.+) FROM share_snapshots").
		WithArgs("usdc-weth").
		WillReturnRows(latest)

	got, err := GetLatestShareSnapshot("usdc-weth")
	require.NoError(t, err)
	require.True(t, got.ShareSupply.Equal(snap.ShareSupply))
	require.Equal(t, 4, got.Holders)
}

func TestStoresRequireInitializedDB(t *testing.T) {
	prev := DB
	DB = nil
	t.Cleanup(func() { DB = prev })

	_, err := SaveRebalanceReceipt(sampleReceipt())
	require.Error(t, err)
	_, err = GetRecentRebalanceReceipts("usdc-weth", 5)
	require.Error(t, err)
	_, err = SaveShareSnapshot(types.ShareSnapshot{Pair: "usdc-weth", ShareSupply: sdkmath.OneInt()})
	require.Error(t, err)
}
