// Package gateway is the optional HTTP surface in front of the relay:
// health and metrics endpoints, the account API, and a websocket
// entrance that feeds connections into the same handshake path as TCP.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/relay"
)

// Config holds the gateway's HTTP settings.
type Config struct {
	// Addr is the address the HTTP server listens on.
	Addr string

	// ReadBufferSize and WriteBufferSize size the websocket buffers.
	ReadBufferSize  int
	WriteBufferSize int

	// CheckOrigin overrides the websocket origin check. Nil keeps the
	// same-origin default.
	CheckOrigin func(r *http.Request) bool
}

// DefaultConfig returns a gateway configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
}

// GatewayOptions carries the gateway's optional collaborators.
type GatewayOptions struct {
	// Accounts backs /api/register and /api/login. Nil disables the
	// account endpoints.
	Accounts *auth.Store

	// Tokens issues handshake tokens on login. Required when Accounts
	// is set.
	Tokens *auth.TokenIssuer

	// Gatherer backs /metrics. Nil uses the default Prometheus
	// gatherer.
	Gatherer prometheus.Gatherer

	// Registry receives the gateway's own HTTP metric families. Nil
	// uses the default Prometheus registerer.
	Registry prometheus.Registerer

	// Logger is the base logger. Nil uses slog.Default().
	Logger *slog.Logger
}

// Gateway serves the HTTP endpoints and bridges websockets into the
// relay.
type Gateway struct {
	relay    *relay.Server
	accounts *auth.Store
	tokens   *auth.TokenIssuer
	gatherer prometheus.Gatherer
	metrics  *httpMetrics
	logger   *slog.Logger
	upgrader websocket.Upgrader
	server   *http.Server
}

// NewGateway creates a gateway in front of relaySrv with no account
// layer and default metrics.
func NewGateway(relaySrv *relay.Server, config Config) *Gateway {
	return NewGatewayWithOptions(relaySrv, config, nil)
}

// NewGatewayWithOptions creates a gateway with explicit collaborators.
func NewGatewayWithOptions(relaySrv *relay.Server, config Config, opts *GatewayOptions) *Gateway {
	if config.Addr == "" {
		config.Addr = DefaultConfig().Addr
	}
	if config.ReadBufferSize <= 0 {
		config.ReadBufferSize = DefaultConfig().ReadBufferSize
	}
	if config.WriteBufferSize <= 0 {
		config.WriteBufferSize = DefaultConfig().WriteBufferSize
	}
	if opts == nil {
		opts = &GatewayOptions{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	registry := opts.Registry
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	g := &Gateway{
		relay:    relaySrv,
		accounts: opts.Accounts,
		tokens:   opts.Tokens,
		gatherer: gatherer,
		metrics:  gatewayHTTPMetrics(registry),
		logger:   logger.With("component", "gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
	}
	g.server = &http.Server{
		Addr:              config.Addr,
		Handler:           g.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return g
}

// Handler returns the gateway's router, for mounting in tests or an
// outer server.
func (g *Gateway) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(g.metrics.middleware)
	r.Use(tracingMiddleware)

	r.Get("/healthz", g.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(g.gatherer, promhttp.HandlerOpts{}))
	r.Post("/api/register", g.handleRegister)
	r.Post("/api/login", g.handleLogin)
	r.Get("/api/clients", g.handleClients)
	r.Get("/ws", g.handleWebSocket)
	return r
}

// ListenAndServe serves HTTP until Shutdown is called or the listener
// fails. It returns http.ErrServerClosed after a clean shutdown.
func (g *Gateway) ListenAndServe() error {
	g.logger.Info("gateway listening", "addr", g.server.Addr)
	return g.server.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (g *Gateway) Shutdown(ctx context.Context) error {
	return g.server.Shutdown(ctx)
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"clients": g.relay.Registry().Len(),
	})
}

func (g *Gateway) handleRegister(w http.ResponseWriter, r *http.Request) {
	if g.accounts == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "account layer is disabled"})
		return
	}
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed JSON body"})
		return
	}
	if err := g.accounts.Register(creds.Username, creds.Password); err != nil {
		writeJSON(w, registerStatus(err), errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"username": creds.Username})
}

func registerStatus(err error) int {
	switch {
	case errors.Is(err, auth.ErrUserExists):
		return http.StatusConflict
	case errors.Is(err, auth.ErrInvalidUsername), errors.Is(err, auth.ErrWeakPassword):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	if g.accounts == nil || g.tokens == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "account layer is disabled"})
		return
	}
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed JSON body"})
		return
	}
	if err := g.accounts.Authenticate(creds.Username, creds.Password); err != nil {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid credentials"})
		return
	}
	token, err := g.tokens.Issue(creds.Username)
	if err != nil {
		g.logger.Error("token issue failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "token issue failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"username": creds.Username,
		"token":    token,
	})
}

func (g *Gateway) handleClients(w http.ResponseWriter, _ *http.Request) {
	names := g.relay.Registry().Names()
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(names),
		"clients": names,
	})
}

// handleWebSocket upgrades the request and runs the connection through
// the relay's regular handshake and receive path. The handler blocks
// for the lifetime of the session; gorilla hijacks the connection, so
// that is this goroutine's only job.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	g.logger.Debug("websocket connected", "remote", r.RemoteAddr)
	g.relay.HandleConn(newWSConn(ws))
}
