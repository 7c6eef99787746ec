// Package gateway provides the HTTP control API the host back-office uses
// to drive the messaging session: status polling, sends, reconnect and
// session management.
package gateway

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jholhewres/zapgate/pkg/zapgate/config"
	"github.com/jholhewres/zapgate/pkg/zapgate/relay"
	"github.com/jholhewres/zapgate/pkg/zapgate/session"
)

// Controller is the connection manager surface the gateway drives. All
// mutating calls are accepted-not-completed: callers re-poll Status.
type Controller interface {
	Status() session.Snapshot
	SendText(ctx context.Context, phone, text string) (string, error)
	SendMedia(ctx context.Context, phone string, media session.Media) (string, error)
	Reconnect() error
	Disconnect() error
	DeleteSession(ctx context.Context) error
}

// StatsFunc supplies relay delivery counters for the status endpoint.
type StatsFunc func() relay.Stats

// Gateway is the HTTP control API server.
type Gateway struct {
	controller Controller
	stats      StatsFunc
	cfg        config.GatewayConfig
	server     *http.Server
	logger     *slog.Logger
	startedAt  time.Time
}

// New creates a Gateway. stats may be nil.
func New(controller Controller, stats StatsFunc, cfg config.GatewayConfig, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = ":8077"
	}
	return &Gateway{
		controller: controller,
		stats:      stats,
		cfg:        cfg,
		logger:     logger.With("component", "gateway"),
	}
}

// handler builds the route table wrapped in the middleware chain.
func (g *Gateway) handler() http.Handler {
	mux := http.NewServeMux()

	// Status (always public, like a health endpoint).
	mux.HandleFunc("/status", g.handleStatus)
	mux.HandleFunc("/status/qr.png", g.handleQRImage)

	mux.HandleFunc("/send-message", g.handleSendMessage)
	mux.HandleFunc("/send-media", g.handleSendMedia)
	mux.HandleFunc("/reconnect", g.handleReconnect)
	mux.HandleFunc("/disconnect", g.handleDisconnect)
	mux.HandleFunc("/delete-session", g.handleDeleteSession)

	return g.securityHeadersMiddleware(g.corsMiddleware(g.authMiddleware(mux)))
}

// Start starts the HTTP server.
func (g *Gateway) Start(ctx context.Context) error {
	g.startedAt = time.Now()
	g.server = &http.Server{
		Addr:    g.cfg.Address,
		Handler: g.handler(),
	}

	// Warn when the gateway has no auth token and is bound to a non-loopback
	// address: anyone on the network could send messages as this account.
	if g.cfg.AuthToken == "" {
		host, _, _ := net.SplitHostPort(g.cfg.Address)
		if host == "" {
			host = "0.0.0.0"
		}
		ip := net.ParseIP(host)
		isLoopback := ip != nil && ip.IsLoopback()
		if !isLoopback && host != "localhost" {
			g.logger.Warn("SECURITY: control API has no auth token and is bound to a non-loopback address",
				"address", g.cfg.Address)
		}
	}

	go func() {
		if err := g.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			g.logger.Error("gateway server error", "error", err)
		}
	}()
	g.logger.Info("gateway started", "address", g.cfg.Address)
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("gateway stopping...")
	return g.server.Shutdown(ctx)
}
