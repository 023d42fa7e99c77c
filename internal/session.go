package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"
)

// RoomInfo describes the room a session is about to join: its identifier
// plus everything the owner arbitration needs.
type RoomInfo struct {
	RoomID         string
	SnippetID      string
	ShareCode      string
	SnippetOwnerID string

	// IsNew marks a room created in this client, before any server state
	// exists for it.
	IsNew bool
	// OwnerFlow marks that the user arrived through the create flow. It
	// wins arbitration outright.
	OwnerFlow bool
	// Persisted enables autosave; only rooms whose snippet already exists
	// in the store may save.
	Persisted bool

	InitialCode CodeState
	InitialMeta Metadata
}

// SessionHooks are the UI-facing callbacks. Any of them may be nil. They are
// invoked from transport goroutines, so receivers must hand off to their own
// loop (the terminal client bridges them through a channel).
type SessionHooks struct {
	OnPresence   func(users []Participant, msg PresenceMessage)
	OnUserJoined func(Participant)
	OnCode       func(CodeChangeMessage)
	OnTyping     func([]TypingUser)
	OnMetadata   func(Metadata)
	OnSynced     func(CodeState, Metadata)
}

// SessionConfig carries the tunable windows; zero values fall back to the
// production defaults.
type SessionConfig struct {
	PresenceWindow time.Duration
	CodeWindow     time.Duration
	TypingQuiet    time.Duration
	Saver          SnippetSaver
}

// CollabSession ties the transport, presence, code, metadata and typing
// components together for at most one room at a time. Joining a second room
// implicitly leaves the first; joining the current room again is a no-op.
type CollabSession struct {
	mu        sync.Mutex
	transport Transport
	identity  SessionContext
	hooks     SessionHooks
	cfg       SessionConfig

	room    RoomInfo
	joined  bool
	cancels []func()

	presence  *PresenceReconciler
	meta      *MetadataSync
	code      *CodeSync
	typingOut *TypingBroadcaster
	typingIn  *TypingView
}

func NewCollabSession(transport Transport, identity SessionContext, cfg SessionConfig, hooks SessionHooks) *CollabSession {
	return &CollabSession{
		transport: transport,
		identity:  identity,
		hooks:     hooks,
		cfg:       cfg,
		presence:  NewPresenceReconciler(identity.UserID, cfg.PresenceWindow, hooks.OnPresence, hooks.OnUserJoined),
	}
}

// Join connects if needed, subscribes the room's five inbound topics and
// announces the user. Already in this room: returns immediately without any
// duplicate subscription or join announcement. In a different room: leaves it
// first. On any failure the partial subscriptions are torn down so a retry
// starts clean.
func (s *CollabSession) Join(ctx context.Context, info RoomInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.joined && s.room.RoomID == info.RoomID {
		return nil
	}
	if s.joined {
		s.leaveLocked()
	}

	if err := s.transport.Connect(ctx, s.identity); err != nil {
		return fmt.Errorf("join %s: %w", info.RoomID, err)
	}

	s.room = info
	s.buildComponentsLocked(info)

	subs := []struct {
		topic   string
		handler MessageHandler
	}{
		{presenceTopic(info.RoomID), s.handlePresence},
		{codeTopic(info.RoomID), s.code.handleCode},
		{typingTopic(info.RoomID), s.typingIn.handle},
		{metadataTopic(info.RoomID), s.meta.handleRemote},
		{syncTopic(info.RoomID), s.code.handleSync},
	}
	for _, sub := range subs {
		cancel, err := s.transport.Subscribe(sub.topic, sub.handler)
		if err != nil {
			s.teardownLocked()
			return fmt.Errorf("join %s: subscribe %s: %w", info.RoomID, sub.topic, err)
		}
		s.cancels = append(s.cancels, cancel)
	}

	join := JoinRequest{UserID: s.identity.UserID, Username: s.identity.Username}
	if err := s.transport.Publish(joinTopic(info.RoomID), join); err != nil {
		s.teardownLocked()
		return fmt.Errorf("join %s: announce: %w", info.RoomID, err)
	}
	s.joined = true

	if info.IsNew {
		s.code.SetCode(info.InitialCode)
		s.meta.setAll(info.InitialMeta)
	} else {
		s.code.markJoining()
		if err := s.code.RequestSync(); err != nil {
			// Not fatal; the session stays in joining until someone
			// edits or a later request succeeds.
			log.Printf("session: sync request failed: %v", err)
		}
	}
	return nil
}

func (s *CollabSession) buildComponentsLocked(info RoomInfo) {
	// The reconciler survives room switches: its seen-set is what keeps
	// join notifications one-shot for the whole session. Reset clears the
	// roster and debounce state but not the seen-set.
	s.presence.Reset()
	s.meta = NewMetadataSync(s.transport, info.RoomID, s.identity, s.IsOwner, s.hooks.OnMetadata)
	s.code = NewCodeSync(s.transport, info.RoomID, s.identity, s.meta, s.IsOwner, CodeSyncConfig{
		Window:    s.cfg.CodeWindow,
		Persisted: info.Persisted,
		Saver:     s.cfg.Saver,
	}, s.hooks.OnCode, s.hooks.OnSynced)
	s.typingOut = NewTypingBroadcaster(s.transport, info.RoomID, s.identity.UserID, s.cfg.TypingQuiet)
	s.typingIn = NewTypingView(s.identity.UserID, s.hooks.OnTyping)
}

func (s *CollabSession) handlePresence(payload []byte) {
	var msg PresenceMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("session: malformed presence message: %v", err)
		return
	}
	s.mu.Lock()
	presence := s.presence
	s.mu.Unlock()
	if presence != nil {
		presence.Handle(msg)
	}
}

// Leave announces the departure, drops the room subscriptions and stops the
// timers. Safe to call when not in a room.
func (s *CollabSession) Leave() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaveLocked()
}

func (s *CollabSession) leaveLocked() {
	if !s.joined {
		return
	}
	leave := LeaveRequest{UserID: s.identity.UserID}
	if err := s.transport.Publish(leaveTopic(s.room.RoomID), leave); err != nil {
		log.Printf("session: leave announce failed: %v", err)
	}
	s.teardownLocked()
}

func (s *CollabSession) teardownLocked() {
	for _, cancel := range s.cancels {
		cancel()
	}
	s.cancels = nil
	if s.code != nil {
		s.code.Leave()
	}
	if s.typingOut != nil {
		s.typingOut.Stop()
	}
	if s.presence != nil {
		s.presence.Stop()
	}
	s.joined = false
	s.room = RoomInfo{}
}

// Close leaves the current room and drops the connection.
func (s *CollabSession) Close() {
	s.Leave()
	s.transport.Disconnect()
}

// IsOwner runs the arbitration chain in priority order. It is re-evaluated on
// every call because presence broadcasts can change the answer mid-session.
//
// The chain: the create flow wins outright; an owner flag in presence decides
// either way; a matching snippet author decides true only; a brand-new room
// with nothing to compare against belongs to whoever made it.
func (s *CollabSession) IsOwner() bool {
	s.mu.Lock()
	room := s.room
	presence := s.presence
	me := s.identity.UserID
	s.mu.Unlock()

	if room.OwnerFlow {
		return true
	}
	if presence != nil {
		if owner, ok := presence.Owner(); ok {
			return owner.UserID == me
		}
	}
	if room.SnippetOwnerID != "" && room.SnippetOwnerID == me {
		return true
	}
	if room.IsNew && room.ShareCode == "" && room.SnippetID == "" {
		return true
	}
	return false
}

// EditCode applies a local keystroke: it queues the debounced code broadcast
// and refreshes the typing indicator.
func (s *CollabSession) EditCode(code, language string) {
	s.mu.Lock()
	cs, typing := s.code, s.typingOut
	s.mu.Unlock()
	if cs == nil {
		return
	}
	cs.LocalEdit(code, language)
	typing.Keystroke()
}

// EditMetadata pushes a sparse metadata patch; only the owner may call it.
func (s *CollabSession) EditMetadata(patch MetadataPatch) error {
	s.mu.Lock()
	meta := s.meta
	s.mu.Unlock()
	if meta == nil {
		return ErrNotJoined
	}
	return meta.Publish(patch)
}

// ErrNotJoined is returned by operations that need an active room.
var ErrNotJoined = fmt.Errorf("not joined to a room")

func (s *CollabSession) Joined() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joined
}

func (s *CollabSession) Room() RoomInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

func (s *CollabSession) Participants() []Participant {
	s.mu.Lock()
	presence := s.presence
	s.mu.Unlock()
	if presence == nil {
		return nil
	}
	return presence.Users()
}

func (s *CollabSession) CodeState() CodeState {
	s.mu.Lock()
	code := s.code
	s.mu.Unlock()
	if code == nil {
		return CodeState{}
	}
	return code.Code()
}

func (s *CollabSession) SyncState() SyncState {
	s.mu.Lock()
	code := s.code
	s.mu.Unlock()
	if code == nil {
		return SyncIdle
	}
	return code.State()
}

func (s *CollabSession) Metadata() Metadata {
	s.mu.Lock()
	meta := s.meta
	s.mu.Unlock()
	if meta == nil {
		return Metadata{}
	}
	return meta.Current()
}

func (s *CollabSession) TypingUsers() []TypingUser {
	s.mu.Lock()
	typing := s.typingIn
	s.mu.Unlock()
	if typing == nil {
		return nil
	}
	return typing.Users()
}
