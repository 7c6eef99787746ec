package relay

import (
	"fmt"
	"testing"
	"time"
)

func TestDeduper(t *testing.T) {
	t.Run("first occurrence passes", func(t *testing.T) {
		d := NewDeduper(5 * time.Second)

		if d.Duplicate("15551234567", "Hello") {
			t.Error("expected first occurrence to pass")
		}
	})

	t.Run("second occurrence inside window is suppressed", func(t *testing.T) {
		d := NewDeduper(5 * time.Second)

		d.Duplicate("15551234567", "Hello")
		if !d.Duplicate("15551234567", "Hello") {
			t.Error("expected duplicate inside window to be suppressed")
		}
	})

	t.Run("same text from different phones passes", func(t *testing.T) {
		d := NewDeduper(5 * time.Second)

		d.Duplicate("15551234567", "Hello")
		if d.Duplicate("15559876543", "Hello") {
			t.Error("expected same text from a different phone to pass")
		}
	})

	t.Run("different text from same phone passes", func(t *testing.T) {
		d := NewDeduper(5 * time.Second)

		d.Duplicate("15551234567", "Hello")
		if d.Duplicate("15551234567", "Hello again") {
			t.Error("expected different text to pass")
		}
	})

	t.Run("occurrence after the window passes", func(t *testing.T) {
		d := NewDeduper(5 * time.Second)
		base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		d.now = func() time.Time { return base }

		d.Duplicate("15551234567", "Hello")

		d.now = func() time.Time { return base.Add(5 * time.Second) }
		if d.Duplicate("15551234567", "Hello") {
			t.Error("expected occurrence at window edge to pass")
		}
	})

	t.Run("duplicate refreshes nothing, original timestamp rules", func(t *testing.T) {
		d := NewDeduper(5 * time.Second)
		base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		d.now = func() time.Time { return base }

		d.Duplicate("15551234567", "Hello")

		d.now = func() time.Time { return base.Add(3 * time.Second) }
		if !d.Duplicate("15551234567", "Hello") {
			t.Fatal("expected suppression at 3s")
		}

		// The first sighting anchors the window.
		d.now = func() time.Time { return base.Add(6 * time.Second) }
		if d.Duplicate("15551234567", "Hello") {
			t.Error("expected pass once the original window expired")
		}
	})

	t.Run("zero window falls back to default", func(t *testing.T) {
		d := NewDeduper(0)

		d.Duplicate("15551234567", "Hello")
		if !d.Duplicate("15551234567", "Hello") {
			t.Error("expected default window to suppress the duplicate")
		}
	})
}

func TestDeduperPurge(t *testing.T) {
	d := NewDeduper(5 * time.Second)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return base }

	for i := 0; i < 10; i++ {
		d.Duplicate(fmt.Sprintf("1555000%04d", i), "Hello")
	}
	if d.Len() != 10 {
		t.Fatalf("expected 10 tracked entries, got %d", d.Len())
	}

	// Nothing expired yet.
	d.Purge()
	if d.Len() != 10 {
		t.Errorf("expected purge to keep fresh entries, got %d", d.Len())
	}

	d.now = func() time.Time { return base.Add(10 * time.Second) }
	d.Purge()
	if d.Len() != 0 {
		t.Errorf("expected purge to clear expired entries, got %d", d.Len())
	}
}
