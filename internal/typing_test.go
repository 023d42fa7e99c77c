package internal

import (
	"encoding/json"
	"testing"
	"time"
)

func typingFlags(t *testing.T, tr *fakeTransport, roomID string) []bool {
	t.Helper()
	var flags []bool
	for _, frame := range tr.sentTo(typingSendTopic(roomID)) {
		msg := decodeFrame[TypingIndicatorMessage](t, frame)
		flags = append(flags, msg.IsTyping)
	}
	return flags
}

func TestKeystrokeBroadcastsTransitionOnly(t *testing.T) {
	tr := newFakeTransport()
	b := NewTypingBroadcaster(tr, "ROOM", "me", 50*time.Millisecond)

	b.Keystroke()
	b.Keystroke()
	b.Keystroke()

	if flags := typingFlags(t, tr, "ROOM"); len(flags) != 1 || !flags[0] {
		t.Fatalf("flags = %v, want a single true on the off-to-on transition", flags)
	}
}

func TestTypingExpiresAfterQuietPeriod(t *testing.T) {
	tr := newFakeTransport()
	b := NewTypingBroadcaster(tr, "ROOM", "me", 30*time.Millisecond)

	b.Keystroke()
	time.Sleep(80 * time.Millisecond)

	flags := typingFlags(t, tr, "ROOM")
	if len(flags) != 2 || !flags[0] || flags[1] {
		t.Fatalf("flags = %v, want [true false]", flags)
	}

	// The next keystroke is a fresh transition.
	b.Keystroke()
	if flags := typingFlags(t, tr, "ROOM"); len(flags) != 3 || !flags[2] {
		t.Fatalf("flags = %v, want a new true after expiry", flags)
	}
}

func TestKeystrokeExtendsQuietPeriod(t *testing.T) {
	tr := newFakeTransport()
	b := NewTypingBroadcaster(tr, "ROOM", "me", 50*time.Millisecond)

	b.Keystroke()
	time.Sleep(30 * time.Millisecond)
	b.Keystroke()
	time.Sleep(30 * time.Millisecond)

	// 60ms after the first keystroke but only 30ms after the last; the
	// flag must still be on.
	if flags := typingFlags(t, tr, "ROOM"); len(flags) != 1 {
		t.Fatalf("flags = %v, want the timer re-armed by the second keystroke", flags)
	}
}

func TestStopClearsActiveFlag(t *testing.T) {
	tr := newFakeTransport()
	b := NewTypingBroadcaster(tr, "ROOM", "me", time.Hour)

	b.Keystroke()
	b.Stop()

	flags := typingFlags(t, tr, "ROOM")
	if len(flags) != 2 || flags[1] {
		t.Fatalf("flags = %v, want Stop to send the clear", flags)
	}

	// Stop while idle stays silent.
	b.Stop()
	if flags := typingFlags(t, tr, "ROOM"); len(flags) != 2 {
		t.Fatalf("flags = %v, want no frame from an idle Stop", flags)
	}
}

func TestTypingViewFiltersSelf(t *testing.T) {
	var seen [][]TypingUser
	v := NewTypingView("me", func(users []TypingUser) {
		seen = append(seen, users)
	})

	raw, _ := json.Marshal(TypingStatusMessage{TypingUsers: []TypingUser{
		{UserID: "me", Username: "ada"},
		{UserID: "u-2", Username: "grace"},
	}})
	v.handle(raw)

	users := v.Users()
	if len(users) != 1 || users[0].UserID != "u-2" {
		t.Fatalf("users = %v, want self filtered out", users)
	}
	if len(seen) != 1 || len(seen[0]) != 1 {
		t.Fatalf("onChange = %v, want one call with the filtered list", seen)
	}

	// An empty aggregate clears the view.
	raw, _ = json.Marshal(TypingStatusMessage{})
	v.handle(raw)
	if users := v.Users(); len(users) != 0 {
		t.Fatalf("users = %v, want empty after clear", users)
	}
}
