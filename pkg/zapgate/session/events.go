// Package session – events.go processes whatsmeow events and drives the
// connection state machine. Every handler classifies the event, updates the
// singleton state and decides whether an automatic reconnect is scheduled.
package session

import (
	"time"

	"go.mau.fi/whatsmeow/types/events"
)

// State is the connection manager state. Exactly one of these four values
// holds at any time.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateAwaitingQR   State = "awaiting_qr"
	StateConnected    State = "connected"
)

// Direction classifies a relayed message.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// MessageEvent is a message observed on the socket, normalized for the
// relay. Phone is the digits-only address of the conversation partner.
type MessageEvent struct {
	Phone     string    `json:"phone"`
	Text      string    `json:"message"`
	Direction Direction `json:"direction"`
	Timestamp time.Time `json:"timestamp"`
}

// handleEvent is the main whatsmeow event dispatcher. Events from a
// discarded socket handle (stale generation) are dropped: a reconnect
// command invalidates the previous handle, and its late-arriving events
// must not touch the state machine.
func (m *Manager) handleEvent(gen uint64, rawEvt interface{}) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("session: panic in event handler", "panic", r)
		}
	}()

	if gen != m.generation.Load() {
		m.logger.Debug("session: dropping event from stale handle", "gen", gen)
		return
	}

	switch evt := rawEvt.(type) {
	case *events.Message:
		m.handleMessage(evt)

	case *events.Connected:
		m.handleConnected()

	case *events.Disconnected:
		m.handleDisconnected()

	case *events.LoggedOut:
		m.handleLoggedOut(evt)

	case *events.StreamReplaced:
		m.handleStreamReplaced()

	case *events.StreamError:
		m.handleStreamError(evt)

	case *events.ConnectFailure:
		m.handleConnectFailure(evt)

	case *events.TemporaryBan:
		m.handleTemporaryBan(evt)

	case *events.KeepAliveTimeout:
		m.handleKeepAliveTimeout(evt)

	case *events.KeepAliveRestored:
		m.errorCount.Store(0)

	case *events.PairSuccess:
		m.logger.Info("session: device paired",
			"jid", evt.ID, "platform", evt.Platform)
	}
}

// handleConnected handles a confirmed session: connecting|awaiting_qr → connected.
func (m *Manager) handleConnected() {
	m.setState(StateConnected)
	m.connected.Store(true)
	m.clearQR()
	m.errorCount.Store(0)
	m.touchActivity()

	m.logger.Info("session: connected", "jid", m.pairedJID())
}

// handleDisconnected handles a transport close that is not a logout.
// Non-terminal: state goes to disconnected and a reconnect is scheduled
// after the fixed backoff.
func (m *Manager) handleDisconnected() {
	m.setState(StateDisconnected)
	m.connected.Store(false)
	m.clearQR()

	m.logger.Warn("session: disconnected, scheduling reconnect",
		"backoff", m.cfg.ReconnectBackoff)

	if m.ctx.Err() == nil {
		m.scheduleReconnect()
	}
}

// handleLoggedOut handles explicit session revocation. Terminal for the
// current credentials: the store is wiped and no reconnect is scheduled —
// the operator must re-pair via QR.
func (m *Manager) handleLoggedOut(evt *events.LoggedOut) {
	reason := "unknown"
	if evt.Reason != 0 {
		reason = evt.Reason.String()
	}
	m.logger.Error("session: logged out by network, wiping credentials",
		"reason", reason, "on_connect", evt.OnConnect)

	// Drop the dead handle too, so Status stops reporting the revoked JID.
	m.teardownClient()
	m.setState(StateDisconnected)

	if err := m.wipeCredentials(m.ctx); err != nil {
		m.logger.Warn("session: failed to wipe credentials", "error", err)
	}
}

// handleStreamReplaced handles another device taking over the stream.
// Treated as a transient close: reconnecting reclaims the stream.
func (m *Manager) handleStreamReplaced() {
	m.setState(StateDisconnected)
	m.connected.Store(false)
	m.clearQR()

	m.logger.Warn("session: stream replaced by another connection")

	if m.ctx.Err() == nil {
		m.scheduleReconnect()
	}
}

// handleStreamError handles stream-level errors, which close the socket.
func (m *Manager) handleStreamError(evt *events.StreamError) {
	m.setState(StateDisconnected)
	m.connected.Store(false)
	m.clearQR()

	m.logger.Error("session: stream error", "code", evt.Code)

	if m.ctx.Err() == nil {
		m.scheduleReconnect()
	}
}

// handleConnectFailure handles a rejected connection attempt. Failures the
// server marks permanent are not retried; anything else gets the standard
// scheduled reconnect.
func (m *Manager) handleConnectFailure(evt *events.ConnectFailure) {
	m.setState(StateDisconnected)
	m.connected.Store(false)
	m.clearQR()

	permanent := evt.PermanentDisconnectDescription()
	m.logger.Error("session: connect failure",
		"reason", evt.Reason.String(), "message", evt.Message, "permanent", permanent)

	if permanent == "" && m.ctx.Err() == nil {
		m.scheduleReconnect()
	}
}

// handleTemporaryBan stops reconnecting until the ban expires. Hammering a
// banned account makes the ban worse.
func (m *Manager) handleTemporaryBan(evt *events.TemporaryBan) {
	m.setState(StateDisconnected)
	m.connected.Store(false)
	m.clearQR()

	m.logger.Error("session: temporary ban",
		"code", evt.Code.String(), "expire", evt.Expire.String())
}

// handleKeepAliveTimeout tracks keepalive failures and forces a reconnect
// when the connection is half-open (socket looks alive but is dead).
func (m *Manager) handleKeepAliveTimeout(evt *events.KeepAliveTimeout) {
	count := m.errorCount.Add(1)
	m.logger.Warn("session: keepalive timeout",
		"error_count", evt.ErrorCount, "last_success", evt.LastSuccess)

	if count >= 3 && m.getState() == StateConnected {
		m.setState(StateDisconnected)
		m.connected.Store(false)
		m.scheduleReconnect()
	}
}

// handleMessage converts a message upsert into a MessageEvent for the
// relay. Both directions are forwarded: fromMe messages (sent from another
// client of the same account) keep the host transcript unified.
func (m *Manager) handleMessage(evt *events.Message) {
	m.touchActivity()

	// Status broadcasts are not client conversations.
	if evt.Info.Chat.Server == "broadcast" {
		return
	}
	if evt.Info.IsGroup && !m.cfg.RelayGroups {
		return
	}

	direction := DirectionIncoming
	if evt.Info.IsFromMe {
		direction = DirectionOutgoing
	}

	text := extractText(evt.Message)
	if text == "" {
		return
	}

	// The conversation partner identifies the transcript on the host side.
	// LID chats are resolved back to phone-number form when possible.
	chat := evt.Info.Chat
	if chat.Server == "lid" {
		if cl := m.clientRef(); cl != nil && cl.Store != nil {
			if alt, err := cl.Store.GetAltJID(m.ctx, chat); err == nil && !alt.IsEmpty() {
				chat = alt
			}
		}
	}

	m.emit(MessageEvent{
		Phone:     NormalizePhone(chat.User),
		Text:      text,
		Direction: direction,
		Timestamp: evt.Info.Timestamp,
	})
}
