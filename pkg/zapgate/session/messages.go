// Package session – messages.go builds outbound protocol messages and
// normalizes addresses and inbound content.
package session

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"
)

// MediaKind selects the outbound media container.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaDocument MediaKind = "document"
)

// Media is an outbound media reference. The payload is fetched from URL and
// uploaded to the network before dispatch. Filename applies to documents
// only and defaults to a generic name.
type Media struct {
	URL      string
	Caption  string
	Kind     MediaKind
	Filename string
}

// mediaHTTP fetches media payloads referenced by URL. Bounded timeout so a
// slow origin cannot stall a send indefinitely.
var mediaHTTP = &http.Client{Timeout: 30 * time.Second}

// NormalizePhone strips everything but digits from a phone number.
func NormalizePhone(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

// ParseJID converts a target address to a types.JID.
// Accepts formats: "5511999999999" or "5511999999999@s.whatsapp.net"
// or group IDs like "123456789-1234@g.us".
func ParseJID(s string) (types.JID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.JID{}, fmt.Errorf("empty address")
	}

	// Already a full JID with server.
	if strings.Contains(s, "@") {
		return types.ParseJID(s)
	}

	digits := NormalizePhone(s)
	if len(digits) < 8 {
		return types.JID{}, fmt.Errorf("phone number too short: %s", s)
	}

	return types.NewJID(digits, types.DefaultUserServer), nil
}

// buildTextMessage wraps plain text in a protocol message.
func buildTextMessage(text string) *waE2E.Message {
	return &waE2E.Message{
		Conversation: proto.String(text),
	}
}

// buildMediaMessage fetches, uploads and wraps a media payload.
func (m *Manager) buildMediaMessage(ctx context.Context, cl *whatsmeow.Client, media Media) (*waE2E.Message, error) {
	data, mimeType, err := m.fetchMedia(ctx, media.URL)
	if err != nil {
		return nil, err
	}

	switch media.Kind {
	case MediaImage:
		up, err := cl.Upload(ctx, data, whatsmeow.MediaImage)
		if err != nil {
			return nil, fmt.Errorf("uploading image: %w", err)
		}
		return &waE2E.Message{
			ImageMessage: &waE2E.ImageMessage{
				Caption:       proto.String(media.Caption),
				Mimetype:      proto.String(mimeType),
				URL:           proto.String(up.URL),
				DirectPath:    proto.String(up.DirectPath),
				MediaKey:      up.MediaKey,
				FileEncSHA256: up.FileEncSHA256,
				FileSHA256:    up.FileSHA256,
				FileLength:    proto.Uint64(up.FileLength),
			},
		}, nil

	case MediaDocument:
		up, err := cl.Upload(ctx, data, whatsmeow.MediaDocument)
		if err != nil {
			return nil, fmt.Errorf("uploading document: %w", err)
		}
		filename := media.Filename
		if filename == "" {
			filename = "document"
		}
		return &waE2E.Message{
			DocumentMessage: &waE2E.DocumentMessage{
				FileName:      proto.String(filename),
				Caption:       proto.String(media.Caption),
				Mimetype:      proto.String(mimeType),
				URL:           proto.String(up.URL),
				DirectPath:    proto.String(up.DirectPath),
				MediaKey:      up.MediaKey,
				FileEncSHA256: up.FileEncSHA256,
				FileSHA256:    up.FileSHA256,
				FileLength:    proto.Uint64(up.FileLength),
			},
		}, nil

	default:
		return nil, fmt.Errorf("unsupported media kind %q", media.Kind)
	}
}

// fetchMedia downloads the referenced payload, capped at the configured
// maximum size.
func (m *Manager) fetchMedia(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("building media request: %w", err)
	}

	resp, err := mediaHTTP.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetching media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("fetching media: unexpected status %d", resp.StatusCode)
	}

	maxBytes := int64(m.cfg.MaxMediaSizeMB) * 1024 * 1024
	if maxBytes <= 0 {
		maxBytes = 16 * 1024 * 1024
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("reading media: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, "", fmt.Errorf("media exceeds %dMB limit", m.cfg.MaxMediaSizeMB)
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, nil
}

// extractText pulls relayable text out of an inbound protocol message.
// Media messages relay their caption, or a short placeholder so the host
// transcript still shows that something arrived.
func extractText(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}

	if msg.Conversation != nil {
		return msg.GetConversation()
	}
	if ext := msg.ExtendedTextMessage; ext != nil {
		return ext.GetText()
	}
	if img := msg.ImageMessage; img != nil {
		if c := img.GetCaption(); c != "" {
			return c
		}
		return "[image]"
	}
	if vid := msg.VideoMessage; vid != nil {
		if c := vid.GetCaption(); c != "" {
			return c
		}
		return "[video]"
	}
	if doc := msg.DocumentMessage; doc != nil {
		if c := doc.GetCaption(); c != "" {
			return c
		}
		return fmt.Sprintf("[document: %s]", doc.GetFileName())
	}
	if audio := msg.AudioMessage; audio != nil {
		if audio.GetPTT() {
			return "[voice note]"
		}
		return "[audio]"
	}
	if msg.StickerMessage != nil {
		return "[sticker]"
	}
	if loc := msg.LocationMessage; loc != nil {
		return fmt.Sprintf("[location: %.6f, %.6f]",
			loc.GetDegreesLatitude(), loc.GetDegreesLongitude())
	}
	if contact := msg.ContactMessage; contact != nil {
		return fmt.Sprintf("[contact: %s]", contact.GetDisplayName())
	}

	return ""
}
