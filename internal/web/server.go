package web

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hedgevault/dnv/internal/logger"
	"github.com/hedgevault/dnv/internal/pool"
	"github.com/hedgevault/dnv/internal/state"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer exposes pool and keeper data over HTTP
type WebServer struct {
	router *mux.Router
	port   string
	pools  map[string]*pool.Pool
	order  []string
}

// NewWebServer creates a new web server instance
func NewWebServer(port string, pools []*pool.Pool) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router: mux.NewRouter(),
		port:   port,
		pools:  make(map[string]*pool.Pool, len(pools)),
	}
	for _, p := range pools {
		pair := p.Tokens().Pair()
		server.pools[pair] = p
		server.order = append(server.order, pair)
	}

	server.setupRoutes()
	return server
}

// Handler returns the configured router, mainly for tests.
func (ws *WebServer) Handler() http.Handler {
	return ws.router
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	// Health endpoint (direct route)
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET", "OPTIONS")

	// Prometheus scrape endpoint
	ws.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// API endpoints. OPTIONS is matched so preflights reach the CORS
	// middleware instead of 404ing.
	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET", "OPTIONS")
	api.HandleFunc("/pools", ws.handleGetPools).Methods("GET", "OPTIONS")
	api.HandleFunc("/pools/{pair}", ws.handleGetPool).Methods("GET", "OPTIONS")
	api.HandleFunc("/pools/{pair}/debt", ws.handleGetPoolDebt).Methods("GET", "OPTIONS")
	api.HandleFunc("/pools/{pair}/receipts", ws.handleGetReceipts).Methods("GET", "OPTIONS")
	api.HandleFunc("/parameters", ws.handleGetParameters).Methods("GET", "OPTIONS")

	// Add CORS middleware
	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// handleHealth returns server health status
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	hasErrors := false

	// Database is optional in simulation mode; only ping it when wired.
	dbHealthy := state.DB != nil
	if dbHealthy {
		if err := state.TestDBConnection(); err != nil {
			dbHealthy = false
			hasErrors = true
		}
	}

	poolInfo := make([]map[string]interface{}, 0, len(ws.order))
	for _, pair := range ws.order {
		p := ws.pools[pair]
		entry := map[string]interface{}{
			"pair":         pair,
			"share_supply": p.TotalShares().String(),
			"holders":      p.Holders(),
		}
		if snap, err := p.DebtSnapshot(); err == nil {
			entry["debt_bps"] = snap.Bps.String()
		}
		poolInfo = append(poolInfo, entry)
	}

	overallStatus := "OK"
	if hasErrors {
		overallStatus = "DEGRADED"
	}

	response := map[string]interface{}{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":          runtime.Version(),
			"goroutines_count": runtime.NumGoroutine(),
			"alloc_bytes":      memStats.Alloc,
			"sys_bytes":        memStats.Sys,
			"gc_cycles":        memStats.NumGC,
		},
		"component": map[string]interface{}{
			"name":    "dnv-position-manager",
			"version": "1.0.0",
		},
		"dnv_status": map[string]interface{}{
			"database_wired":   state.DB != nil,
			"database_healthy": dbHealthy,
			"pools":            poolInfo,
		},
	}

	statusCode := http.StatusOK
	if hasErrors {
		statusCode = http.StatusServiceUnavailable
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// handleGetPools lists the managed pools
func (ws *WebServer) handleGetPools(w http.ResponseWriter, r *http.Request) {
	pools := make([]map[string]interface{}, 0, len(ws.order))
	for _, pair := range ws.order {
		p := ws.pools[pair]
		pools = append(pools, map[string]interface{}{
			"pair":         pair,
			"account":      p.Account(),
			"share_denom":  p.Denom(),
			"share_supply": p.TotalShares().String(),
			"holders":      p.Holders(),
		})
	}

	response := map[string]interface{}{
		"pools": pools,
		"count": len(pools),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetPool returns one pool with its parameters
func (ws *WebServer) handleGetPool(w http.ResponseWriter, r *http.Request) {
	p, ok := ws.pools[mux.Vars(r)["pair"]]
	if !ok {
		ws.writeErrorResponse(w, http.StatusNotFound, "Pool not found")
		return
	}

	response := map[string]interface{}{
		"pair":         p.Tokens().Pair(),
		"account":      p.Account(),
		"share_denom":  p.Denom(),
		"share_supply": p.TotalShares().String(),
		"holders":      p.Holders(),
		"parameters":   p.Params(),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetPoolDebt returns the live debt snapshot for a pool
func (ws *WebServer) handleGetPoolDebt(w http.ResponseWriter, r *http.Request) {
	p, ok := ws.pools[mux.Vars(r)["pair"]]
	if !ok {
		ws.writeErrorResponse(w, http.StatusNotFound, "Pool not found")
		return
	}

	snap, err := p.GetDebtBps()
	if err != nil {
		webLogger.Error().Err(err).Str("pair", p.Tokens().Pair()).Msg("Failed to read debt snapshot")
		ws.writeErrorResponse(w, http.StatusConflict, "No open position")
		return
	}

	response := map[string]interface{}{
		"pair":      p.Tokens().Pair(),
		"snapshot":  snap,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetReceipts returns recent rebalance receipts from the store
func (ws *WebServer) handleGetReceipts(w http.ResponseWriter, r *http.Request) {
	pair := mux.Vars(r)["pair"]
	if _, ok := ws.pools[pair]; !ok {
		ws.writeErrorResponse(w, http.StatusNotFound, "Pool not found")
		return
	}
	if state.DB == nil {
		ws.writeErrorResponse(w, http.StatusServiceUnavailable, "Receipt store not wired")
		return
	}

	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 100 {
			limit = parsedLimit
		}
	}

	receipts, err := state.GetRecentRebalanceReceipts(pair, limit)
	if err != nil {
		webLogger.Error().Err(err).Str("pair", pair).Msg("Failed to get rebalance receipts")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve receipts")
		return
	}

	response := map[string]interface{}{
		"receipts": receipts,
		"count":    len(receipts),
		"limit":    limit,
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// handleGetParameters returns the parameters of every managed pool
func (ws *WebServer) handleGetParameters(w http.ResponseWriter, r *http.Request) {
	params := make(map[string]interface{}, len(ws.order))
	for _, pair := range ws.order {
		params[pair] = ws.pools[pair].Params()
	}

	response := map[string]interface{}{
		"parameters": params,
		"timestamp":  time.Now().UTC(),
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		duration := time.Since(start)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", duration).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
