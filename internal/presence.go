package internal

import (
	"sync"
	"time"
)

const presenceDebounceWindow = 2 * time.Second

// PresenceReconciler turns raw presence broadcasts into a UI-stable
// participant list. Bursts are debounced with replace-not-merge queuing: a
// newer snapshot overwrites the queued one and the pending timer keeps its
// remaining delay. The very first broadcast after a (re)join bypasses the
// window so a joining user sees the room without delay.
type PresenceReconciler struct {
	mu          sync.Mutex
	window      time.Duration
	localUserID string

	applied     bool
	lastApplied time.Time
	pending     *PresenceMessage
	timer       *time.Timer
	users       []Participant
	title       string
	seen        map[string]bool

	onUpdate     func(users []Participant, msg PresenceMessage)
	onUserJoined func(Participant)
}

func NewPresenceReconciler(localUserID string, window time.Duration, onUpdate func([]Participant, PresenceMessage), onUserJoined func(Participant)) *PresenceReconciler {
	if window <= 0 {
		window = presenceDebounceWindow
	}
	return &PresenceReconciler{
		window:       window,
		localUserID:  localUserID,
		seen:         make(map[string]bool),
		onUpdate:     onUpdate,
		onUserJoined: onUserJoined,
	}
}

// Handle consumes one presence broadcast. Called from the transport's message
// handler.
func (r *PresenceReconciler) Handle(msg PresenceMessage) {
	r.mu.Lock()
	elapsed := time.Since(r.lastApplied)
	if !r.applied || elapsed >= r.window {
		r.applyLocked(msg)
		r.mu.Unlock()
		return
	}
	// Queue it. Last one wins; the timer, if already armed, keeps running
	// with its original remaining delay.
	r.pending = &msg
	if r.timer == nil {
		remaining := r.window - elapsed
		r.timer = time.AfterFunc(remaining, r.firePending)
	}
	r.mu.Unlock()
}

func (r *PresenceReconciler) firePending() {
	r.mu.Lock()
	r.timer = nil
	msg := r.pending
	r.pending = nil
	if msg == nil {
		r.mu.Unlock()
		return
	}
	r.applyLocked(*msg)
	r.mu.Unlock()
}

// applyLocked replaces the local view wholesale with the snapshot and emits
// one-shot join notifications for participants never seen this session.
// Self-joins never notify. r.mu must be held; it is released around the
// callbacks so they can read back into the reconciler.
func (r *PresenceReconciler) applyLocked(msg PresenceMessage) {
	r.users = append([]Participant(nil), msg.ActiveUsers...)
	if msg.SnippetTitle != "" {
		r.title = msg.SnippetTitle
	}
	r.applied = true
	r.lastApplied = time.Now()

	var joined []Participant
	for _, user := range msg.ActiveUsers {
		if r.seen[user.UserID] {
			continue
		}
		r.seen[user.UserID] = true
		if user.UserID != r.localUserID {
			joined = append(joined, user)
		}
	}

	onUpdate := r.onUpdate
	onUserJoined := r.onUserJoined
	users := r.users

	r.mu.Unlock()
	if onUpdate != nil {
		onUpdate(users, msg)
	}
	if onUserJoined != nil {
		for _, user := range joined {
			onUserJoined(user)
		}
	}
	r.mu.Lock()
}

// Reset prepares the reconciler for a rejoin: the next broadcast applies
// immediately again. The seen-set is session-lifetime and survives resets so
// a rejoin does not re-announce users already known.
func (r *PresenceReconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applied = false
	r.pending = nil
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.users = nil
}

// Stop cancels any queued update. Used on room teardown.
func (r *PresenceReconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = nil
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// Users returns the current reconciled participant list.
func (r *PresenceReconciler) Users() []Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Participant(nil), r.users...)
}

// Owner returns the participant flagged as owner, if any broadcast carried
// one. Broadcasts with no owner flag are tolerated; callers fall back to the
// other arbitration signals.
func (r *PresenceReconciler) Owner() (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Owner {
			return user, true
		}
	}
	return Participant{}, false
}

// Title returns the last snippet title seen on a presence broadcast.
func (r *PresenceReconciler) Title() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.title
}
