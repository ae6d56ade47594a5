package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"github.com/hedgevault/dnv/internal/config"
	"github.com/hedgevault/dnv/internal/pool"
	"github.com/hedgevault/dnv/internal/simulations"
	"github.com/hedgevault/dnv/internal/types"
)

func newTestServer(t *testing.T) (*WebServer, *pool.Pool) {
	t.Helper()
	env, tokens, err := simulations.NewEnv(simulations.EnvConfig{
		Stable:       "usdc",
		Volatile:     "weth",
		ReserveS:     sdkmath.NewInt(1_000_000_000),
		ReserveV:     sdkmath.NewInt(1_000_000_000),
		LendingS:     sdkmath.NewInt(1_000_000_000),
		LendingV:     sdkmath.NewInt(1_000_000_000),
		SecondaryS:   sdkmath.NewInt(1_000_000_000),
		FlashS:       sdkmath.NewInt(1_000_000_000),
		FlashFeeRate: sdkmath.LegacyMustNewDecFromStr("0.0009"),
	})
	require.NoError(t, err)

	p, err := pool.New("pool:usdc-weth", tokens, config.DefaultPoolParameters, env.Ledger, env.AMM, env.Lending, env)
	require.NoError(t, err)

	require.NoError(t, env.Ledger.Mint("alice", tokens.Stable, sdkmath.NewInt(10_000_000)))
	_, err = p.Deposit("alice", sdkmath.NewInt(10_000_000), sdkmath.ZeroInt(), types.SwapConfig{
		Path:     []string{tokens.Stable, tokens.Volatile},
		Deadline: simulations.FutureDeadline(),
	}, "alice", "")
	require.NoError(t, err)

	return NewWebServer("0", []*pool.Pool{p}), p
}

func doJSON(t *testing.T, ws *WebServer, path string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, req)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestHealthEndpoint(t *testing.T) {
	ws, _ := newTestServer(t)

	code, body := doJSON(t, ws, "/health")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "OK", body["status"])

	status, ok := body["dnv_status"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, false, status["database_wired"])

	pools, ok := status["pools"].([]interface{})
	require.True(t, ok)
	require.Len(t, pools, 1)
}

func TestGetPools(t *testing.T) {
	ws, p := newTestServer(t)

	code, body := doJSON(t, ws, "/api/pools")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, float64(1), body["count"])

	pools := body["pools"].([]interface{})
	entry := pools[0].(map[string]interface{})
	require.Equal(t, "usdc-weth", entry["pair"])
	require.Equal(t, p.Account(), entry["account"])
	require.Equal(t, p.TotalShares().String(), entry["share_supply"])
}

func TestGetPoolDebt(t *testing.T) {
	ws, _ := newTestServer(t)

	code, body := doJSON(t, ws, "/api/pools/usdc-weth/debt")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "usdc-weth", body["pair"])

	snap, ok := body["snapshot"].(map[string]interface{})
	require.True(t, ok)
	require.NotEmpty(t, snap["bps"])
}

func TestUnknownPoolReturns404(t *testing.T) {
	ws, _ := newTestServer(t)

	code, body := doJSON(t, ws, "/api/pools/atom-osmo/debt")
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, true, body["error"])
}

func TestReceiptsWithoutStore(t *testing.T) {
	ws, _ := newTestServer(t)

	code, _ := doJSON(t, ws, "/api/pools/usdc-weth/receipts")
	require.Equal(t, http.StatusServiceUnavailable, code)
}

func TestGetParameters(t *testing.T) {
	ws, _ := newTestServer(t)

	code, body := doJSON(t, ws, "/api/parameters")
	require.Equal(t, http.StatusOK, code)

	params, ok := body["parameters"].(map[string]interface{})
	require.True(t, ok)
	require.Contains(t, params, "usdc-weth")
}

func TestMetricsEndpoint(t *testing.T) {
	ws, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Body.String())
}

func TestCORSPreflights(t *testing.T) {
	ws, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/pools", nil)
	rec := httptest.NewRecorder()
	ws.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
