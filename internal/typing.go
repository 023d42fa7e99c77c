package internal

import (
	"encoding/json"
	"log"
	"sync"
	"time"
)

const typingQuietPeriod = 1 * time.Second

// TypingBroadcaster sends the ephemeral "is typing" flag. A significant
// keystroke turns it on; a local timer turns it off again after the quiet
// period. No acknowledgement is expected and none is waited for.
type TypingBroadcaster struct {
	mu        sync.Mutex
	transport Transport
	roomID    string
	userID    string
	quiet     time.Duration
	timer     *time.Timer
	active    bool
}

func NewTypingBroadcaster(transport Transport, roomID, userID string, quiet time.Duration) *TypingBroadcaster {
	if quiet <= 0 {
		quiet = typingQuietPeriod
	}
	return &TypingBroadcaster{
		transport: transport,
		roomID:    roomID,
		userID:    userID,
		quiet:     quiet,
	}
}

// Keystroke marks the local user as typing and re-arms the auto-clear timer.
// The broadcast only goes out on the off-to-on transition; re-arming the
// timer is local.
func (t *TypingBroadcaster) Keystroke() {
	t.mu.Lock()
	wasActive := t.active
	t.active = true
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.quiet, t.expire)
	t.mu.Unlock()

	if !wasActive {
		t.send(true)
	}
}

func (t *TypingBroadcaster) expire() {
	t.mu.Lock()
	t.timer = nil
	wasActive := t.active
	t.active = false
	t.mu.Unlock()
	if wasActive {
		t.send(false)
	}
}

// Stop cancels the timer and clears the flag remotely if it was set. Called
// on leave so the room does not keep a ghost typing indicator.
func (t *TypingBroadcaster) Stop() {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	wasActive := t.active
	t.active = false
	t.mu.Unlock()
	if wasActive {
		t.send(false)
	}
}

func (t *TypingBroadcaster) send(isTyping bool) {
	msg := TypingIndicatorMessage{UserID: t.userID, IsTyping: isTyping}
	if err := t.transport.Publish(typingSendTopic(t.roomID), msg); err != nil {
		log.Printf("typing: publish failed: %v", err)
	}
}

// TypingView is the receive side: it keeps the set of remote users currently
// typing, with the local user filtered out.
type TypingView struct {
	mu          sync.Mutex
	localUserID string
	users       []TypingUser
	onChange    func([]TypingUser)
}

func NewTypingView(localUserID string, onChange func([]TypingUser)) *TypingView {
	return &TypingView{localUserID: localUserID, onChange: onChange}
}

func (v *TypingView) handle(payload []byte) {
	var msg TypingStatusMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("typing: malformed status: %v", err)
		return
	}
	filtered := make([]TypingUser, 0, len(msg.TypingUsers))
	for _, user := range msg.TypingUsers {
		if user.UserID == v.localUserID {
			continue
		}
		filtered = append(filtered, user)
	}
	v.mu.Lock()
	v.users = filtered
	onChange := v.onChange
	v.mu.Unlock()
	if onChange != nil {
		onChange(filtered)
	}
}

// Users returns the remote users currently typing.
func (v *TypingView) Users() []TypingUser {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]TypingUser(nil), v.users...)
}
