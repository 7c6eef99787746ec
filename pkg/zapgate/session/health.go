// Package session – health.go implements proactive health monitoring to
// detect and recover from silent disconnects.
package session

import (
	"context"
	"time"

	"go.mau.fi/whatsmeow/types"
)

// StartHealthMonitor starts the health check and keepalive pinger
// goroutines. They run until the context is cancelled.
func (m *Manager) StartHealthMonitor(ctx context.Context) {
	cfg := m.cfg.HealthMonitor
	if !cfg.Enabled {
		return
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 2 * time.Minute
	}

	go func() {
		ticker := time.NewTicker(cfg.CheckInterval)
		defer ticker.Stop()

		m.logger.Info("session: health monitor started",
			"check_interval", cfg.CheckInterval)

		for {
			select {
			case <-ctx.Done():
				m.logger.Info("session: health monitor stopped")
				return
			case <-ticker.C:
				m.performHealthCheck()
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(cfg.PingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sendKeepAlivePresence(ctx)
			}
		}
	}()
}

// performHealthCheck detects the "half-open" case: the manager believes it
// is connected but the client reports otherwise. The usual disconnect path
// then takes over with the standard backoff.
func (m *Manager) performHealthCheck() {
	if m.getState() != StateConnected {
		return
	}

	cl := m.clientRef()
	if cl == nil || !cl.IsConnected() {
		m.logger.Error("session: socket dead while state is connected, forcing reconnect",
			"last_activity", m.lastActivityTime())
		m.setState(StateDisconnected)
		m.connected.Store(false)
		m.scheduleReconnect()
	}
}

// sendKeepAlivePresence sends a presence update to keep the connection
// alive during idle periods.
func (m *Manager) sendKeepAlivePresence(ctx context.Context) {
	if m.getState() != StateConnected {
		return
	}
	cl := m.clientRef()
	if cl == nil {
		return
	}
	if err := cl.SendPresence(ctx, types.PresenceAvailable); err != nil {
		m.logger.Warn("session: keepalive presence failed", "error", err)
		return
	}
	m.touchActivity()
}
