package session

import (
	"testing"

	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"digits only", "15551234567", "15551234567"},
		{"international prefix", "+1 (555) 123-4567", "15551234567"},
		{"dots and spaces", "55 11 99999.9999", "5511999999999"},
		{"empty", "", ""},
		{"no digits", "abc", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizePhone(tt.input); got != tt.want {
				t.Errorf("NormalizePhone(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseJID(t *testing.T) {
	t.Run("bare phone number", func(t *testing.T) {
		jid, err := ParseJID("15551234567")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if jid.String() != "15551234567@s.whatsapp.net" {
			t.Errorf("expected '15551234567@s.whatsapp.net', got %s", jid)
		}
	})

	t.Run("formatted phone number", func(t *testing.T) {
		jid, err := ParseJID("+55 (11) 99999-9999")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if jid.String() != "5511999999999@s.whatsapp.net" {
			t.Errorf("expected normalized JID, got %s", jid)
		}
	})

	t.Run("full JID passthrough", func(t *testing.T) {
		jid, err := ParseJID("15551234567@s.whatsapp.net")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if jid.User != "15551234567" {
			t.Errorf("expected user '15551234567', got %s", jid.User)
		}
	})

	t.Run("group JID passthrough", func(t *testing.T) {
		jid, err := ParseJID("123456789-1234@g.us")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if jid.Server != "g.us" {
			t.Errorf("expected group server, got %s", jid.Server)
		}
	})

	t.Run("too short", func(t *testing.T) {
		if _, err := ParseJID("12345"); err == nil {
			t.Error("expected error for a short number")
		}
	})

	t.Run("empty", func(t *testing.T) {
		if _, err := ParseJID("   "); err == nil {
			t.Error("expected error for an empty address")
		}
	})
}

func TestExtractText(t *testing.T) {
	t.Run("nil message", func(t *testing.T) {
		if got := extractText(nil); got != "" {
			t.Errorf("expected empty, got %q", got)
		}
	})

	t.Run("conversation", func(t *testing.T) {
		msg := &waE2E.Message{Conversation: proto.String("Hello")}
		if got := extractText(msg); got != "Hello" {
			t.Errorf("expected 'Hello', got %q", got)
		}
	})

	t.Run("extended text", func(t *testing.T) {
		msg := &waE2E.Message{
			ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("quoted reply")},
		}
		if got := extractText(msg); got != "quoted reply" {
			t.Errorf("expected 'quoted reply', got %q", got)
		}
	})

	t.Run("image caption", func(t *testing.T) {
		msg := &waE2E.Message{
			ImageMessage: &waE2E.ImageMessage{Caption: proto.String("look at this")},
		}
		if got := extractText(msg); got != "look at this" {
			t.Errorf("expected caption, got %q", got)
		}
	})

	t.Run("image without caption", func(t *testing.T) {
		msg := &waE2E.Message{ImageMessage: &waE2E.ImageMessage{}}
		if got := extractText(msg); got != "[image]" {
			t.Errorf("expected '[image]', got %q", got)
		}
	})

	t.Run("voice note", func(t *testing.T) {
		msg := &waE2E.Message{
			AudioMessage: &waE2E.AudioMessage{PTT: proto.Bool(true)},
		}
		if got := extractText(msg); got != "[voice note]" {
			t.Errorf("expected '[voice note]', got %q", got)
		}
	})

	t.Run("document with filename", func(t *testing.T) {
		msg := &waE2E.Message{
			DocumentMessage: &waE2E.DocumentMessage{FileName: proto.String("report.pdf")},
		}
		if got := extractText(msg); got != "[document: report.pdf]" {
			t.Errorf("expected document placeholder, got %q", got)
		}
	})

	t.Run("unsupported content", func(t *testing.T) {
		if got := extractText(&waE2E.Message{}); got != "" {
			t.Errorf("expected empty for unsupported content, got %q", got)
		}
	})
}
