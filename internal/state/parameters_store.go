// ./internal/state/parameters_store.go
package state

import (
	"database/sql"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog/log"

	"github.com/hedgevault/dnv/internal/types"
)

// SavePoolParameters saves a new version of pool parameters.
func SavePoolParameters(params types.PoolParameters, configName string, version int, makeActive bool) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}
	if err := params.Validate(); err != nil {
		return 0, fmt.Errorf("refusing to save invalid parameters: %w", err)
	}

	tx, err := DB.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p) // Re-panic after rollback
		} else if err != nil {
			tx.Rollback() // Rollback if error occurred
		}
	}()

	if makeActive {
		stmtDeactivate := `UPDATE pool_parameters SET is_active = FALSE WHERE config_name = $1 AND is_active = TRUE;`
		_, err = tx.Exec(stmtDeactivate, configName)
		if err != nil {
			return 0, fmt.Errorf("failed to deactivate existing active parameters for %s: %w", configName, err)
		}
	}

	stmt := `
        INSERT INTO pool_parameters (
            version, config_name, is_active, activated_at,
            tolerance_min, tolerance_max, rebalance_target,
            deposit_fee_rate, fee_receiver
        ) VALUES (
            $1, $2, $3, $4,
            $5, $6, $7,
            $8, $9
        ) RETURNING params_id;`

	var paramsID int64
	err = tx.QueryRow(stmt,
		version, configName, makeActive, time.Now(),
		params.ToleranceMin.String(), params.ToleranceMax.String(), params.RebalanceTarget.String(),
		params.DepositFeeRate.String(), params.FeeReceiver,
	).Scan(&paramsID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert pool parameters: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit pool parameters: %w", err)
	}

	log.Info().
		Int64("paramsID", paramsID).
		Str("configName", configName).
		Int("version", version).
		Bool("active", makeActive).
		Msg("Pool parameters saved")
	return paramsID, nil
}

// LoadActivePoolParameters returns the active parameter set for configName,
// or sql.ErrNoRows when none is active.
func LoadActivePoolParameters(configName string) (types.PoolParameters, error) {
	var params types.PoolParameters
	if DB == nil {
		return params, fmt.Errorf("database not initialized")
	}

	stmt := `
        SELECT params_id, version, tolerance_min, tolerance_max, rebalance_target, deposit_fee_rate, fee_receiver
        FROM pool_parameters
        WHERE config_name = $1 AND is_active = TRUE
        ORDER BY activated_at DESC
        LIMIT 1;`

	var toleranceMin, toleranceMax, rebalanceTarget, depositFeeRate string
	err := DB.QueryRow(stmt, configName).Scan(
		&params.ParamsID, &params.Version,
		&toleranceMin, &toleranceMax, &rebalanceTarget, &depositFeeRate,
		&params.FeeReceiver,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return params, err
		}
		return params, fmt.Errorf("failed to load active pool parameters for %s: %w", configName, err)
	}

	if params.ToleranceMin, err = sdkmath.LegacyNewDecFromStr(toleranceMin); err != nil {
		return params, fmt.Errorf("stored tolerance_min is not a decimal: %w", err)
	}
	if params.ToleranceMax, err = sdkmath.LegacyNewDecFromStr(toleranceMax); err != nil {
		return params, fmt.Errorf("stored tolerance_max is not a decimal: %w", err)
	}
	if params.RebalanceTarget, err = sdkmath.LegacyNewDecFromStr(rebalanceTarget); err != nil {
		return params, fmt.Errorf("stored rebalance_target is not a decimal: %w", err)
	}
	if params.DepositFeeRate, err = sdkmath.LegacyNewDecFromStr(depositFeeRate); err != nil {
		return params, fmt.Errorf("stored deposit_fee_rate is not a decimal: %w", err)
	}

	if err = params.Validate(); err != nil {
		return params, fmt.Errorf("stored parameters failed validation: %w", err)
	}
	return params, nil
}
