package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/jholhewres/zapgate/pkg/zapgate/relay"
	"github.com/jholhewres/zapgate/pkg/zapgate/session"
)

// maxBodyBytes bounds request bodies; control API payloads are tiny.
const maxBodyBytes = 1 << 20

// errorResponse is the consistent error format.
type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// statusResponse is the GET /status body. QR is null except while the
// session is awaiting a scan.
type statusResponse struct {
	Status    string       `json:"status"`
	QR        *string      `json:"qr"`
	Connected bool         `json:"connected"`
	JID       string       `json:"jid,omitempty"`
	Relay     *relay.Stats `json:"relay,omitempty"`
}

// sendMessageRequest is the POST /send-message body.
type sendMessageRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// sendMediaRequest is the POST /send-media body. Type defaults to "image";
// documents get an adjustable filename.
type sendMediaRequest struct {
	Phone    string `json:"phone"`
	URL      string `json:"url"`
	Caption  string `json:"caption,omitempty"`
	Type     string `json:"type,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// sendResponse acknowledges a dispatched message with the normalized
// target address.
type sendResponse struct {
	Success bool   `json:"success"`
	To      string `json:"to"`
}

func (g *Gateway) writeError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	var resp errorResponse
	resp.Error.Message = msg
	resp.Error.Code = code
	_ = json.NewEncoder(w).Encode(resp)
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeSendError maps a dispatch error to the control API contract:
// invalid target → 400, not connected → 503, rejected by network → 500.
func (g *Gateway) writeSendError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrInvalidTarget):
		g.writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, session.ErrNotConnected):
		g.writeError(w, "session not connected", http.StatusServiceUnavailable)
	default:
		g.writeError(w, err.Error(), http.StatusInternalServerError)
	}
}

func (g *Gateway) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		g.writeError(w, "failed to read body", http.StatusBadRequest)
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		g.writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// handleStatus implements GET /status. No side effects.
func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := g.controller.Status()
	resp := statusResponse{
		Status:    string(snap.State),
		Connected: snap.Connected,
		JID:       snap.JID,
	}
	if snap.QR != "" {
		resp.QR = &snap.QR
	}
	if g.stats != nil {
		stats := g.stats()
		resp.Relay = &stats
	}
	g.writeJSON(w, http.StatusOK, resp)
}

// handleQRImage implements GET /status/qr.png: the current pairing
// challenge rendered as a PNG, for scanning straight from a browser.
func (g *Gateway) handleQRImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap := g.controller.Status()
	if snap.QR == "" {
		g.writeError(w, "no pairing challenge pending", http.StatusNotFound)
		return
	}

	png, err := qrcode.Encode(snap.QR, qrcode.Medium, 256)
	if err != nil {
		g.writeError(w, "rendering QR code", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

// handleSendMessage implements POST /send-message.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		g.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req sendMessageRequest
	if !g.decodeBody(w, r, &req) {
		return
	}
	if req.Phone == "" || req.Message == "" {
		g.writeError(w, "phone and message are required", http.StatusBadRequest)
		return
	}

	to, err := g.controller.SendText(r.Context(), req.Phone, req.Message)
	if err != nil {
		g.writeSendError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, sendResponse{Success: true, To: to})
}

// handleSendMedia implements POST /send-media.
func (g *Gateway) handleSendMedia(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		g.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req sendMediaRequest
	if !g.decodeBody(w, r, &req) {
		return
	}
	if req.Phone == "" || req.URL == "" {
		g.writeError(w, "phone and url are required", http.StatusBadRequest)
		return
	}

	kind := session.MediaKind(req.Type)
	if kind == "" {
		kind = session.MediaImage
	}
	if kind != session.MediaImage && kind != session.MediaDocument {
		g.writeError(w, "type must be image or document", http.StatusBadRequest)
		return
	}

	to, err := g.controller.SendMedia(r.Context(), req.Phone, session.Media{
		URL:      req.URL,
		Caption:  req.Caption,
		Kind:     kind,
		Filename: req.Filename,
	})
	if err != nil {
		g.writeSendError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, sendResponse{Success: true, To: to})
}

// handleReconnect implements POST /reconnect. Responds immediately; the
// reconnection completes asynchronously and callers poll /status.
func (g *Gateway) handleReconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		g.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// The goroutine outlives the request; reconnection is bound to the
	// manager's own lifecycle, not this call.
	go func() {
		if err := g.controller.Reconnect(); err != nil {
			g.logger.Warn("reconnect failed", "error", err)
		}
	}()
	g.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleDisconnect implements POST /disconnect (soft stop, credentials
// preserved).
func (g *Gateway) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		g.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := g.controller.Disconnect(); err != nil {
		g.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleDeleteSession implements POST /delete-session (hard reset,
// credentials wiped, re-pairing required).
func (g *Gateway) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		g.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := g.controller.DeleteSession(r.Context()); err != nil {
		g.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
