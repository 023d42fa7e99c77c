package internal

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"
)

const codeDebounceWindow = 1 * time.Second

// SyncState is the per-room lifecycle of the code engine.
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncJoining
	SyncSynced
	SyncEditing
	SyncLeft
)

func (s SyncState) String() string {
	switch s {
	case SyncIdle:
		return "idle"
	case SyncJoining:
		return "joining"
	case SyncSynced:
		return "synced"
	case SyncEditing:
		return "editing"
	case SyncLeft:
		return "left"
	}
	return "unknown"
}

// CodeState is the code channel's payload: full text plus language, owned by
// whoever wrote it last.
type CodeState struct {
	Code     string
	Language string
}

// SnippetSaver is the autosave hook into the snippet store. It piggybacks on
// the code debounce window for rooms that already exist in the store.
type SnippetSaver interface {
	SaveSnippet(ctx context.Context, snippetID string, code CodeState, meta Metadata) error
}

// CodeSyncConfig tunes the engine. Persisted marks rooms whose snippet
// already lives in the store; brand-new rooms skip autosave until explicitly
// created.
type CodeSyncConfig struct {
	Window    time.Duration
	Persisted bool
	Saver     SnippetSaver
}

// CodeSync propagates code edits for one room. Local edits broadcast the
// full code after a trailing debounce; remote edits apply last-writer-wins
// with the sender's own echo dropped; a late joiner bootstraps through the
// sync-request/sync-response handshake.
type CodeSync struct {
	mu        sync.Mutex
	transport Transport
	roomID    string
	identity  SessionContext
	meta      *MetadataSync
	isOwner   func() bool
	debounce  *Debouncer
	saver     SnippetSaver

	state     SyncState
	code      CodeState
	persisted bool

	onRemote func(CodeChangeMessage)
	onSynced func(CodeState, Metadata)
}

func NewCodeSync(transport Transport, roomID string, identity SessionContext, meta *MetadataSync, isOwner func() bool, cfg CodeSyncConfig, onRemote func(CodeChangeMessage), onSynced func(CodeState, Metadata)) *CodeSync {
	window := cfg.Window
	if window <= 0 {
		window = codeDebounceWindow
	}
	return &CodeSync{
		transport: transport,
		roomID:    roomID,
		identity:  identity,
		meta:      meta,
		isOwner:   isOwner,
		debounce:  NewDebouncer(window),
		saver:     cfg.Saver,
		persisted: cfg.Persisted,
		onRemote:  onRemote,
		onSynced:  onSynced,
	}
}

// markJoining notes that the join handshake is underway; the next sync
// response is the bootstrap.
func (c *CodeSync) markJoining() {
	c.mu.Lock()
	c.state = SyncJoining
	c.mu.Unlock()
}

// RequestSync asks the room's current editor to rebroadcast its live state.
// Presence broadcasts alone do not carry code, so a participant who joins
// after the last edit needs this explicit pull.
func (c *CodeSync) RequestSync() error {
	msg := SyncMessage{
		Type:      syncRequest,
		UserID:    c.identity.UserID,
		Username:  c.identity.Username,
		Timestamp: time.Now().UnixMilli(),
	}
	return c.transport.Publish(syncSendTopic(c.roomID), msg)
}

// LocalEdit records a keystroke's result and queues a debounced broadcast of
// the full code. N rapid edits inside the window collapse into one outbound
// message carrying the final value.
func (c *CodeSync) LocalEdit(code, language string) {
	c.mu.Lock()
	if c.state == SyncLeft {
		c.mu.Unlock()
		return
	}
	c.code = CodeState{Code: code, Language: language}
	c.state = SyncEditing
	c.mu.Unlock()

	c.debounce.Call(c.flushEdit)
}

func (c *CodeSync) flushEdit() {
	c.mu.Lock()
	if c.state == SyncLeft {
		c.mu.Unlock()
		return
	}
	code := c.code
	persisted := c.persisted
	c.state = SyncSynced
	c.mu.Unlock()

	msg := CodeChangeMessage{
		UserID:    c.identity.UserID,
		Username:  c.identity.Username,
		Code:      code.Code,
		Language:  code.Language,
		Timestamp: time.Now().UnixMilli(),
	}
	// No retry queue: a failed broadcast is dropped and the next keystroke
	// sends a fresh full snapshot anyway.
	if err := c.transport.Publish(codeSendTopic(c.roomID), msg); err != nil {
		log.Printf("codesync: broadcast failed: %v", err)
	}

	if persisted && c.saver != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.saver.SaveSnippet(ctx, c.roomID, code, c.meta.Current()); err != nil {
			log.Printf("codesync: autosave failed: %v", err)
		}
	}
}

// handleCode consumes one remote code-change broadcast. The transport loops
// our own publishes back, so the identity check here is mandatory.
func (c *CodeSync) handleCode(payload []byte) {
	var msg CodeChangeMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("codesync: malformed code message: %v", err)
		return
	}
	if msg.UserID == c.identity.UserID {
		return
	}
	c.mu.Lock()
	if c.state == SyncLeft {
		c.mu.Unlock()
		return
	}
	c.code = CodeState{Code: msg.Code, Language: msg.Language}
	if c.state != SyncEditing {
		c.state = SyncSynced
	}
	onRemote := c.onRemote
	c.mu.Unlock()
	if onRemote != nil {
		onRemote(msg)
	}
}

// handleSync consumes messages on the shared sync topic: requests from late
// joiners (answered when we are the current editor) and responses (applied
// unconditionally as truth by the requester).
func (c *CodeSync) handleSync(payload []byte) {
	var msg SyncMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("codesync: malformed sync message: %v", err)
		return
	}
	if msg.UserID == c.identity.UserID {
		return
	}
	switch msg.Type {
	case syncRequest:
		if c.isOwner == nil || !c.isOwner() {
			return
		}
		c.respondToSync()
	case syncResponse:
		c.applySync(msg)
	}
}

func (c *CodeSync) respondToSync() {
	c.mu.Lock()
	code := c.code
	c.mu.Unlock()
	meta := c.meta.Current()

	msg := SyncMessage{
		Type:        syncResponse,
		UserID:      c.identity.UserID,
		Username:    c.identity.Username,
		Code:        code.Code,
		Language:    code.Language,
		Title:       &meta.Title,
		Description: &meta.Description,
		Tags:        meta.Tags,
		Timestamp:   time.Now().UnixMilli(),
	}
	if err := c.transport.Publish(syncSendTopic(c.roomID), msg); err != nil {
		log.Printf("codesync: sync response failed: %v", err)
	}
}

func (c *CodeSync) applySync(msg SyncMessage) {
	c.mu.Lock()
	if c.state == SyncLeft {
		// Stale handler after leave; discard.
		c.mu.Unlock()
		return
	}
	c.code = CodeState{Code: msg.Code, Language: msg.Language}
	c.state = SyncSynced
	code := c.code
	onSynced := c.onSynced
	c.mu.Unlock()

	meta := Metadata{Language: msg.Language, Tags: msg.Tags}
	if msg.Title != nil {
		meta.Title = *msg.Title
	}
	if msg.Description != nil {
		meta.Description = *msg.Description
	}
	c.meta.setAll(meta)
	if onSynced != nil {
		onSynced(code, meta)
	}
}

// Leave cancels the in-flight debounce so no stale timer mutates state for a
// room the client already left.
func (c *CodeSync) Leave() {
	c.debounce.Stop()
	c.mu.Lock()
	c.state = SyncLeft
	c.mu.Unlock()
}

// SetPersisted toggles autosave once the snippet has been created in the
// store.
func (c *CodeSync) SetPersisted(persisted bool) {
	c.mu.Lock()
	c.persisted = persisted
	c.mu.Unlock()
}

// SetCode seeds the local buffer without broadcasting, e.g. when the owner
// loads an existing snippet before anyone else joins.
func (c *CodeSync) SetCode(code CodeState) {
	c.mu.Lock()
	c.code = code
	if c.state == SyncIdle || c.state == SyncJoining {
		c.state = SyncSynced
	}
	c.mu.Unlock()
}

func (c *CodeSync) Code() CodeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code
}

func (c *CodeSync) State() SyncState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
