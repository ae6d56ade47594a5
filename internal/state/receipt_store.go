// ./internal/state/receipt_store.go
package state

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog/log"

	"github.com/hedgevault/dnv/internal/types"
)

// SaveRebalanceReceipt persists one executed correction and returns its id.
func SaveRebalanceReceipt(receipt types.RebalanceReceipt) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	stmt := `
        INSERT INTO rebalance_receipts (
            pair, trace_id, direction,
            owned_before, debt_before, bps_before,
            owned_after, debt_after, bps_after,
            amount_traded, fee_extracted, created_at
        ) VALUES (
            $1, $2, $3,
            $4, $5, $6,
            $7, $8, $9,
            $10, $11, $12
        ) RETURNING receipt_id;`

	var receiptID int64
	err := DB.QueryRow(stmt,
		receipt.Pair, receipt.TraceID, string(receipt.Direction),
		receipt.Before.Owned.String(), receipt.Before.Debt.String(), receipt.Before.Bps.String(),
		receipt.After.Owned.String(), receipt.After.Debt.String(), receipt.After.Bps.String(),
		receipt.AmountTraded.String(), receipt.FeeExtracted, receipt.Timestamp,
	).Scan(&receiptID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert rebalance receipt: %w", err)
	}

	log.Debug().
		Int64("receiptID", receiptID).
		Str("pair", receipt.Pair).
		Str("direction", string(receipt.Direction)).
		Msg("Rebalance receipt saved")
	return receiptID, nil
}

// GetRecentRebalanceReceipts returns the newest receipts for a pair.
func GetRecentRebalanceReceipts(pair string, limit int) ([]types.RebalanceReceipt, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 20
	}

	stmt := `
        SELECT receipt_id, pair, trace_id, direction,
               owned_before, debt_before, bps_before,
               owned_after, debt_after, bps_after,
               amount_traded, fee_extracted, created_at
        FROM rebalance_receipts
        WHERE pair = $1
        ORDER BY created_at DESC
        LIMIT $2;`

	rows, err := DB.Query(stmt, pair, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query rebalance receipts for %s: %w", pair, err)
	}
	defer rows.Close()

	receipts := make([]types.RebalanceReceipt, 0, limit)
	for rows.Next() {
		var r types.RebalanceReceipt
		var direction string
		var ownedBefore, debtBefore, bpsBefore string
		var ownedAfter, debtAfter, bpsAfter string
		var traded string

		err = rows.Scan(&r.ReceiptID, &r.Pair, &r.TraceID, &direction,
			&ownedBefore, &debtBefore, &bpsBefore,
			&ownedAfter, &debtAfter, &bpsAfter,
			&traded, &r.FeeExtracted, &r.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rebalance receipt: %w", err)
		}
		r.Direction = types.RebalanceDirection(direction)

		if r.Before, err = scanSnapshot(ownedBefore, debtBefore, bpsBefore); err != nil {
			return nil, err
		}
		if r.After, err = scanSnapshot(ownedAfter, debtAfter, bpsAfter); err != nil {
			return nil, err
		}
		amountTraded, ok := sdkmath.NewIntFromString(traded)
		if !ok {
			return nil, fmt.Errorf("stored amount_traded %q is not an integer", traded)
		}
		r.AmountTraded = amountTraded

		receipts = append(receipts, r)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rebalance receipts: %w", err)
	}
	return receipts, nil
}

func scanSnapshot(owned, debt, bps string) (types.DebtSnapshot, error) {
	var snap types.DebtSnapshot
	ownedInt, ok := sdkmath.NewIntFromString(owned)
	if !ok {
		return snap, fmt.Errorf("stored owned %q is not an integer", owned)
	}
	debtInt, ok := sdkmath.NewIntFromString(debt)
	if !ok {
		return snap, fmt.Errorf("stored debt %q is not an integer", debt)
	}
	bpsDec, err := sdkmath.LegacyNewDecFromStr(bps)
	if err != nil {
		return snap, fmt.Errorf("stored bps %q is not a decimal: %w", bps, err)
	}
	snap.Owned, snap.Debt, snap.Bps = ownedInt, debtInt, bpsDec
	return snap, nil
}

// Sink adapts the package-level store to the keeper's persistence interface.
type Sink struct{}

// SaveRebalanceReceipt implements the keeper's ReceiptSink.
func (Sink) SaveRebalanceReceipt(receipt types.RebalanceReceipt) (int64, error) {
	return SaveRebalanceReceipt(receipt)
}
