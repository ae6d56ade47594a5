// ./internal/state/snapshot_store.go
package state

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog/log"

	"github.com/hedgevault/dnv/internal/types"
)

// SaveShareSnapshot persists the share ledger totals for a pool.
func SaveShareSnapshot(snapshot types.ShareSnapshot) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}
	if snapshot.Pair == "" {
		return 0, fmt.Errorf("share snapshot pair cannot be empty")
	}

	stmt := `
        INSERT INTO share_snapshots (pair, share_supply, holders, created_at)
        VALUES ($1, $2, $3, $4)
        RETURNING snapshot_id;`

	var snapshotID int64
	err := DB.QueryRow(stmt,
		snapshot.Pair, snapshot.ShareSupply.String(), snapshot.Holders, snapshot.Timestamp,
	).Scan(&snapshotID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert share snapshot: %w", err)
	}

	log.Debug().
		Int64("snapshotID", snapshotID).
		Str("pair", snapshot.Pair).
		Str("shareSupply", snapshot.ShareSupply.String()).
		Msg("Share snapshot saved")
	return snapshotID, nil
}

// GetLatestShareSnapshot returns the most recent snapshot for a pair.
// Returns sql.ErrNoRows unchanged when none has been recorded.
func GetLatestShareSnapshot(pair string) (types.ShareSnapshot, error) {
	var snapshot types.ShareSnapshot
	if DB == nil {
		return snapshot, fmt.Errorf("database not initialized")
	}

	stmt := `
        SELECT snapshot_id, pair, share_supply, holders, created_at
        FROM share_snapshots
        WHERE pair = $1
        ORDER BY created_at DESC
        LIMIT 1;`

	var supply string
	err := DB.QueryRow(stmt, pair).Scan(
		&snapshot.SnapshotID, &snapshot.Pair, &supply, &snapshot.Holders, &snapshot.Timestamp)
	if err != nil {
		return snapshot, err
	}

	shareSupply, ok := sdkmath.NewIntFromString(supply)
	if !ok {
		return snapshot, fmt.Errorf("stored share_supply %q is not an integer", supply)
	}
	snapshot.ShareSupply = shareSupply
	return snapshot, nil
}
