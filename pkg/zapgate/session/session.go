// Package session implements the WhatsApp connection manager for zapgate
// using whatsmeow — a native Go WhatsApp Web API library.
//
// The manager owns the single socket and session credentials for one paired
// account and exposes command methods for the control API:
//   - QR code pairing with a persistent session (SQLite)
//   - send text and media messages
//   - soft disconnect (credentials kept) and hard session delete
//   - automatic reconnection with a fixed backoff
//
// Connection lifecycle events and observed messages are published on an
// internal channel consumed by the relay.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jholhewres/zapgate/pkg/zapgate/config"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for the session store.
)

// ErrNotConnected is returned by send operations while the session is not
// in the connected state. The socket is never touched in that case.
var ErrNotConnected = errors.New("session not connected")

// ErrInvalidTarget is returned when the target address cannot be parsed
// into a network address. No dispatch is attempted.
var ErrInvalidTarget = errors.New("invalid target address")

// Snapshot is a point-in-time view of the connection state for /status.
// QR is non-empty iff State is awaiting_qr.
type Snapshot struct {
	State     State
	QR        string
	Connected bool
	JID       string
}

// Manager owns the single whatsmeow client and the session store. All
// state mutation happens inside the manager; other components read through
// Status or request mutation through the command methods.
type Manager struct {
	cfg    config.SessionConfig
	logger *slog.Logger

	// mu guards container/client swaps during reconnect and teardown.
	mu        sync.Mutex
	container *sqlstore.Container
	client    *whatsmeow.Client

	// state tracks the connection state machine.
	state atomic.Value // State

	// connected mirrors state == StateConnected for cheap checks.
	connected atomic.Bool

	// generation identifies the current socket handle. Incremented on
	// every (re)connect and teardown; events carrying an older generation
	// belong to a discarded handle and are ignored.
	generation atomic.Uint64

	// qr is the current pairing challenge, valid only until the next
	// state transition.
	qrMu sync.Mutex
	qr   string

	// events carries observed messages to the relay.
	events       chan MessageEvent
	eventsClosed atomic.Bool

	// errorCount tracks consecutive keepalive/send errors.
	errorCount atomic.Int64

	// lastActivity is the last socket activity, for the health monitor.
	lastActivity atomic.Value // time.Time

	// reconnectGuard prevents concurrent reconnect loops.
	reconnectGuard atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a connection manager. Connect must be called to start it.
func New(cfg config.SessionConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReconnectBackoff == 0 {
		cfg.ReconnectBackoff = 5 * time.Second
	}
	if cfg.DeviceName == "" {
		cfg.DeviceName = "Zapgate"
	}

	m := &Manager{
		cfg:    cfg,
		logger: logger.With("component", "session"),
		events: make(chan MessageEvent, 256),
	}
	m.setState(StateDisconnected)
	return m
}

// Events returns the channel of observed messages for the relay.
func (m *Manager) Events() <-chan MessageEvent {
	return m.events
}

// IsConnected reports whether the session is connected.
func (m *Manager) IsConnected() bool {
	return m.connected.Load()
}

// Status returns the current connection snapshot. No side effects.
func (m *Manager) Status() Snapshot {
	s := Snapshot{
		State:     m.getState(),
		Connected: m.connected.Load(),
		JID:       m.pairedJID(),
	}
	if s.State == StateAwaitingQR {
		s.QR = m.currentQR()
	}
	return s
}

// Connect opens the session store and starts the connect sequence. When no
// credentials exist the QR pairing flow runs in the background and the
// state moves to awaiting_qr once the first challenge arrives; callers poll
// Status for the code.
func (m *Manager) Connect(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.setState(StateConnecting)
	m.logger.Info("session: initializing connection", "store", m.cfg.StorePath)

	if err := m.openContainer(); err != nil {
		m.setState(StateDisconnected)
		return err
	}

	if err := m.startClient(); err != nil {
		m.setState(StateDisconnected)
		return err
	}
	return nil
}

// Reconnect tears down any live handle and restarts the connect sequence.
// Idempotent: safe to call while disconnected, mid-connection or connected.
// Runs on the manager's own lifecycle context; returns once the new attempt
// has started, completion is observed through Status.
func (m *Manager) Reconnect() error {
	if m.ctx == nil || m.ctx.Err() != nil {
		return fmt.Errorf("session manager not running")
	}

	m.logger.Info("session: reconnect requested")
	m.teardownClient()
	m.setState(StateConnecting)

	if err := m.startClient(); err != nil {
		m.setState(StateDisconnected)
		return err
	}
	return nil
}

// Disconnect closes the socket and clears the in-memory handle but keeps
// the stored credentials (soft stop). No reconnect is scheduled.
func (m *Manager) Disconnect() error {
	m.logger.Info("session: disconnect requested")
	m.teardownClient()
	m.setState(StateDisconnected)
	return nil
}

// DeleteSession logs out if connected, clears the in-memory handle and
// wipes the persisted credentials, enabling a fresh pairing on the next
// connect (hard reset).
func (m *Manager) DeleteSession(ctx context.Context) error {
	m.logger.Info("session: delete-session requested")

	// Invalidate the handle first so logout-triggered events from the old
	// socket cannot re-enter the state machine.
	m.generation.Add(1)

	m.mu.Lock()
	client := m.client
	m.client = nil
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if client != nil {
		// Logout unlinks the device and deletes the store. On failure,
		// force-close and delete the store directly.
		if err := client.Logout(ctx); err != nil {
			m.logger.Warn("session: logout failed, forcing cleanup", "error", err)
			client.Disconnect()
			if client.Store != nil {
				if delErr := client.Store.Delete(ctx); delErr != nil {
					m.setState(StateDisconnected)
					m.connected.Store(false)
					m.clearQR()
					return fmt.Errorf("deleting session store: %w", delErr)
				}
			}
		}
	} else if err := m.wipeCredentials(ctx); err != nil {
		m.setState(StateDisconnected)
		m.clearQR()
		return err
	}

	m.connected.Store(false)
	m.setState(StateDisconnected)
	m.clearQR()
	m.logger.Info("session: credentials wiped, re-pairing required")
	return nil
}

// SendText dispatches a text message. Returns the normalized target
// address. Transport errors surface synchronously to the caller; the
// manager never retries a send.
func (m *Manager) SendText(ctx context.Context, phone, text string) (string, error) {
	if !m.connected.Load() {
		return "", ErrNotConnected
	}

	jid, err := ParseJID(phone)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}

	cl := m.clientRef()
	if cl == nil {
		return "", ErrNotConnected
	}

	if _, err := cl.SendMessage(ctx, jid, buildTextMessage(text)); err != nil {
		m.errorCount.Add(1)
		return "", fmt.Errorf("sending message: %w", err)
	}
	return jid.String(), nil
}

// SendMedia fetches the referenced media, uploads it to the network and
// dispatches it. Returns the normalized target address.
func (m *Manager) SendMedia(ctx context.Context, phone string, media Media) (string, error) {
	if !m.connected.Load() {
		return "", ErrNotConnected
	}

	jid, err := ParseJID(phone)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}

	cl := m.clientRef()
	if cl == nil {
		return "", ErrNotConnected
	}

	msg, err := m.buildMediaMessage(ctx, cl, media)
	if err != nil {
		return "", fmt.Errorf("building media message: %w", err)
	}

	if _, err := cl.SendMessage(ctx, jid, msg); err != nil {
		m.errorCount.Add(1)
		return "", fmt.Errorf("sending media: %w", err)
	}
	return jid.String(), nil
}

// Close stops the manager: cancels the lifecycle context, drops the socket
// and closes the events channel. Stored credentials are untouched.
func (m *Manager) Close() error {
	if m.cancel != nil {
		m.cancel()
	}
	m.teardownClient()
	m.setState(StateDisconnected)

	if m.eventsClosed.CompareAndSwap(false, true) {
		close(m.events)
	}

	m.logger.Info("session: closed")
	return nil
}

// ---------- State helpers ----------

func (m *Manager) getState() State {
	if v := m.state.Load(); v != nil {
		return v.(State)
	}
	return StateDisconnected
}

func (m *Manager) setState(s State) {
	m.state.Store(s)
}

// setQR installs a new pairing challenge; holding a QR implies awaiting_qr.
func (m *Manager) setQR(code string) {
	m.qrMu.Lock()
	m.qr = code
	m.qrMu.Unlock()
	m.setState(StateAwaitingQR)
}

// clearQR drops the challenge; called on every transition away from
// awaiting_qr so a stale code is never served.
func (m *Manager) clearQR() {
	m.qrMu.Lock()
	m.qr = ""
	m.qrMu.Unlock()
}

// pairingConfirmed marks the QR scan accepted. The session leaves
// awaiting_qr immediately and sits in connecting until the Connected
// event lands, so Status never shows awaiting_qr without a code.
func (m *Manager) pairingConfirmed() {
	m.clearQR()
	m.setState(StateConnecting)
}

func (m *Manager) currentQR() string {
	m.qrMu.Lock()
	defer m.qrMu.Unlock()
	return m.qr
}

func (m *Manager) clientRef() *whatsmeow.Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client
}

func (m *Manager) pairedJID() string {
	cl := m.clientRef()
	if cl != nil && cl.Store != nil && cl.Store.ID != nil {
		return cl.Store.ID.String()
	}
	return ""
}

func (m *Manager) touchActivity() {
	m.lastActivity.Store(time.Now())
}

func (m *Manager) lastActivityTime() time.Time {
	if v := m.lastActivity.Load(); v != nil {
		return v.(time.Time)
	}
	return time.Time{}
}

// emit publishes a message event without ever blocking the socket loop.
func (m *Manager) emit(evt MessageEvent) {
	if m.eventsClosed.Load() {
		return
	}
	select {
	case m.events <- evt:
	default:
		m.logger.Warn("session: event channel full, dropping message",
			"phone", evt.Phone, "direction", evt.Direction)
	}
}

// ---------- Connect internals ----------

// openContainer initializes the SQLite session store. Credential rotations
// are persisted by the sqlstore inside the event handling path, before the
// next update is processed.
func (m *Manager) openContainer() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.container != nil {
		return nil
	}

	if dir := filepath.Dir(m.cfg.StorePath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating session directory: %w", err)
		}
	}

	container, err := sqlstore.New(m.ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL", m.cfg.StorePath),
		waLog.Noop)
	if err != nil {
		return fmt.Errorf("creating session store: %w", err)
	}
	m.container = container
	return nil
}

// startClient builds a fresh client for the current credentials and starts
// the connect sequence: the QR pairing flow when unpaired, a plain dial
// otherwise. The Connected event confirms the session.
func (m *Manager) startClient() error {
	m.mu.Lock()
	container := m.container
	m.mu.Unlock()
	if container == nil {
		return fmt.Errorf("session store not open")
	}

	device, err := m.getDevice(m.ctx, container)
	if err != nil {
		return fmt.Errorf("getting device: %w", err)
	}

	// Device name shown in the WhatsApp linked-devices list.
	store.SetOSInfo(m.cfg.DeviceName, [3]uint32{1, 0, 0})

	client := whatsmeow.NewClient(device, waLog.Noop)

	// Retry policy lives in this manager (fixed backoff, close-reason
	// classification), not in whatsmeow's built-in auto reconnect.
	client.EnableAutoReconnect = false

	gen := m.generation.Add(1)
	client.AddEventHandler(func(evt interface{}) {
		m.handleEvent(gen, evt)
	})

	m.mu.Lock()
	m.client = client
	m.mu.Unlock()

	if client.Store.ID == nil {
		// First login — run the QR pairing flow in the background so the
		// control API stays responsive.
		m.logger.Info("session: no credentials, QR pairing required")
		go func() {
			if err := m.loginWithQR(gen, client); err != nil {
				m.logger.Warn("session: QR pairing not completed", "error", err)
			}
		}()
		return nil
	}

	if err := client.Connect(); err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	m.logger.Info("session: dialing with existing credentials")
	return nil
}

// teardownClient discards the current socket handle. The generation bump
// makes any late events from the old handle no-ops.
func (m *Manager) teardownClient() {
	m.generation.Add(1)

	m.mu.Lock()
	client := m.client
	m.client = nil
	m.mu.Unlock()

	if client != nil {
		client.RemoveEventHandlers()
		client.Disconnect()
	}

	m.connected.Store(false)
	m.clearQR()
}

// getDevice retrieves the stored device or creates a new one.
func (m *Manager) getDevice(ctx context.Context, container *sqlstore.Container) (*store.Device, error) {
	devices, err := container.GetAllDevices(ctx)
	if err != nil {
		return nil, err
	}
	if len(devices) > 0 {
		return devices[0], nil
	}
	return container.NewDevice(), nil
}

// loginWithQR drives the QR pairing flow. Each fresh challenge moves the
// state to awaiting_qr; the code is served through Status until it is
// scanned, expires, or the handle is torn down.
func (m *Manager) loginWithQR(gen uint64, client *whatsmeow.Client) error {
	qrChan, err := client.GetQRChannel(m.ctx)
	if err != nil {
		return fmt.Errorf("getting QR channel: %w", err)
	}

	if err := client.Connect(); err != nil {
		return fmt.Errorf("connecting for QR: %w", err)
	}

	for {
		select {
		case <-m.ctx.Done():
			return m.ctx.Err()
		case evt, ok := <-qrChan:
			if !ok {
				return fmt.Errorf("QR channel closed")
			}
			if gen != m.generation.Load() {
				// Handle was discarded while waiting; stop quietly.
				return nil
			}

			switch evt.Event {
			case "code":
				m.setQR(evt.Code)
				m.logger.Info("session: QR challenge ready, scan to pair")

			case "success":
				m.pairingConfirmed()
				m.logger.Info("session: QR scanned, pairing confirmed")
				return nil

			case "timeout":
				m.clearQR()
				m.setState(StateDisconnected)
				m.logger.Warn("session: QR challenge expired, reconnect for a new one")
				return fmt.Errorf("QR timeout")

			default:
				if evt.Error != nil {
					m.clearQR()
					m.setState(StateDisconnected)
					m.logger.Error("session: QR pairing error", "error", evt.Error)
					return fmt.Errorf("QR pairing: %w", evt.Error)
				}
			}
		}
	}
}

// wipeCredentials deletes every stored device without a live client.
func (m *Manager) wipeCredentials(ctx context.Context) error {
	m.mu.Lock()
	container := m.container
	m.mu.Unlock()
	if container == nil {
		return nil
	}

	devices, err := container.GetAllDevices(ctx)
	if err != nil {
		return fmt.Errorf("listing devices: %w", err)
	}
	for _, dev := range devices {
		if err := container.DeleteDevice(ctx, dev); err != nil {
			return fmt.Errorf("deleting device: %w", err)
		}
	}
	return nil
}

// scheduleReconnect starts the backoff loop bound to the current socket
// generation. An explicit disconnect or delete-session bumps the
// generation, which cancels the pending loop before it dials.
func (m *Manager) scheduleReconnect() {
	gen := m.generation.Load()
	go m.runReconnect(gen)
}

// runReconnect waits the fixed backoff and restarts the connect sequence.
// The CAS guard keeps a single loop alive; a failed attempt waits the same
// backoff and tries again until the context ends, the handle the loop was
// scheduled for is discarded, or the dial starts.
func (m *Manager) runReconnect(gen uint64) {
	if !m.reconnectGuard.CompareAndSwap(false, true) {
		m.logger.Debug("session: reconnect already in progress")
		return
	}
	defer m.reconnectGuard.Store(false)

	for {
		select {
		case <-time.After(m.cfg.ReconnectBackoff):
		case <-m.ctx.Done():
			return
		}

		if gen != m.generation.Load() {
			m.logger.Debug("session: scheduled reconnect cancelled, handle discarded")
			return
		}

		if err := m.Reconnect(); err != nil {
			m.logger.Warn("session: reconnect attempt failed, will retry",
				"backoff", m.cfg.ReconnectBackoff, "error", err)
			// The attempt swapped the handle; follow the new generation.
			gen = m.generation.Load()
			continue
		}

		// Dial started; the Connected event confirms, and any further
		// drop schedules a new loop.
		return
	}
}
