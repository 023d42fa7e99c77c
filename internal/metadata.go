package internal

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"
)

// Metadata is the non-code state of a snippet. The authoritative copy lives
// with the owner; joinees hold a read-only projection fed by the metadata
// channel and the sync handshake.
type Metadata struct {
	Title       string
	Description string
	Language    string
	Tags        []string
}

// MetadataPatch is a sparse update: nil pointers mean "leave the field
// alone", non-nil pointers apply, including pointers to empty values.
type MetadataPatch struct {
	Title       *string
	Description *string
	Language    *string
	Tags        *[]string
}

// ErrNotOwner is returned when a joinee tries to author metadata.
var ErrNotOwner = errors.New("only the owner can edit metadata")

// Apply merges the patch into the metadata by key presence, not truthiness:
// an explicit empty string clears the field, an absent key leaves it alone.
func (m *Metadata) Apply(patch MetadataPatch) {
	if patch.Title != nil {
		m.Title = *patch.Title
	}
	if patch.Description != nil {
		m.Description = *patch.Description
	}
	if patch.Language != nil {
		m.Language = *patch.Language
	}
	if patch.Tags != nil {
		m.Tags = append([]string(nil), (*patch.Tags)...)
	}
}

// MetadataSync propagates metadata between the owner and joinees. Outbound
// changes go out immediately as field-level patches, never debounced, unlike
// the code channel which is a debounced full snapshot.
type MetadataSync struct {
	mu        sync.Mutex
	transport Transport
	roomID    string
	identity  SessionContext
	isOwner   func() bool
	current   Metadata
	onChange  func(Metadata)
}

func NewMetadataSync(transport Transport, roomID string, identity SessionContext, isOwner func() bool, onChange func(Metadata)) *MetadataSync {
	return &MetadataSync{
		transport: transport,
		roomID:    roomID,
		identity:  identity,
		isOwner:   isOwner,
		onChange:  onChange,
	}
}

// Publish applies the patch locally and broadcasts it. Joinees render
// metadata read-only, so authoring is refused for them.
func (m *MetadataSync) Publish(patch MetadataPatch) error {
	if m.isOwner != nil && !m.isOwner() {
		return ErrNotOwner
	}
	m.mu.Lock()
	m.current.Apply(patch)
	m.mu.Unlock()

	msg := MetadataUpdateMessage{
		UserID:      m.identity.UserID,
		Title:       patch.Title,
		Description: patch.Description,
		Language:    patch.Language,
		Tags:        patch.Tags,
		Timestamp:   time.Now().UnixMilli(),
	}
	return m.transport.Publish(metadataSendTopic(m.roomID), msg)
}

// handleRemote consumes one inbound metadata message. Self-originated
// messages are ignored; the rest merge with sparse-patch semantics.
func (m *MetadataSync) handleRemote(payload []byte) {
	var msg MetadataUpdateMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("metadata: malformed message: %v", err)
		return
	}
	if msg.UserID == m.identity.UserID {
		return
	}
	m.mu.Lock()
	m.current.Apply(MetadataPatch{
		Title:       msg.Title,
		Description: msg.Description,
		Language:    msg.Language,
		Tags:        msg.Tags,
	})
	current := m.current
	onChange := m.onChange
	m.mu.Unlock()
	if onChange != nil {
		onChange(current)
	}
}

// setAll replaces the whole metadata view. Used when a sync response arrives,
// which is applied unconditionally as truth.
func (m *MetadataSync) setAll(meta Metadata) {
	m.mu.Lock()
	m.current = meta
	onChange := m.onChange
	m.mu.Unlock()
	if onChange != nil {
		onChange(meta)
	}
}

// Current returns a copy of the local metadata view.
func (m *MetadataSync) Current() Metadata {
	m.mu.Lock()
	defer m.mu.Unlock()
	meta := m.current
	meta.Tags = append([]string(nil), m.current.Tags...)
	return meta
}
