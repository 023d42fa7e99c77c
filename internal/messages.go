package internal

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Participant is one member of a collaboration room as seen in presence
// snapshots. UserID is a presence handle generated per client session, not a
// verified identity.
type Participant struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	JoinedAt int64  `json:"joinedAt"`
	Owner    bool   `json:"owner"`
	IsTyping bool   `json:"isTyping"`
}

// PresenceMessage is a full-snapshot broadcast of everyone currently in the
// room. It is never a diff; receivers replace their local view wholesale.
// The owner* fields carry the owner's current metadata so a joinee can render
// title and language before the first sync response arrives.
type PresenceMessage struct {
	Type             string        `json:"type"`
	UserID           string        `json:"userId"`
	Username         string        `json:"username"`
	ActiveUsers      []Participant `json:"activeUsers"`
	SnippetTitle     string        `json:"snippetTitle,omitempty"`
	OwnerTitle       *string       `json:"ownerTitle,omitempty"`
	OwnerDescription *string       `json:"ownerDescription,omitempty"`
	OwnerLanguage    *string       `json:"ownerLanguage,omitempty"`
	OwnerTags        []string      `json:"ownerTags,omitempty"`
}

const (
	presenceJoined = "user_joined"
	presenceLeft   = "user_left"
)

type JoinRequest struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

type LeaveRequest struct {
	UserID string `json:"userId"`
}

// CodeChangeMessage always carries the full code, not a delta. Receivers
// apply it last-writer-wins and must drop their own echo by UserID.
type CodeChangeMessage struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Code      string `json:"code"`
	Language  string `json:"language"`
	Timestamp int64  `json:"timestamp"`
}

type TypingIndicatorMessage struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

type TypingUser struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// TypingStatusMessage is the aggregated view the broker sends back: every
// participant currently flagged as typing, with display names resolved.
type TypingStatusMessage struct {
	TypingUsers []TypingUser `json:"typingUsers"`
}

// MetadataUpdateMessage is a sparse field-level patch. A nil pointer means
// "field absent, leave it alone"; a pointer to the empty string is an explicit
// clear and must be applied.
type MetadataUpdateMessage struct {
	UserID      string    `json:"userId"`
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Language    *string   `json:"language,omitempty"`
	Tags        *[]string `json:"tags,omitempty"`
	Timestamp   int64     `json:"timestamp"`
}

const (
	syncRequest  = "sync_request"
	syncResponse = "sync_response"
)

// SyncMessage travels on the shared sync topic in both directions: a joinee
// publishes a sync_request, the current editor answers with a sync_response
// carrying its live code and metadata.
type SyncMessage struct {
	Type        string   `json:"type"`
	UserID      string   `json:"userId"`
	Username    string   `json:"username"`
	Code        string   `json:"code,omitempty"`
	Language    string   `json:"language,omitempty"`
	Title       *string  `json:"title,omitempty"`
	Description *string  `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Timestamp   int64    `json:"timestamp"`
}

type ActiveUsersMessage struct {
	Users []Participant `json:"users"`
	Count int           `json:"count"`
}

// SnippetDTO is the JSON shape of a snippet on the REST surface, shared by
// the server handlers and the client API.
type SnippetDTO struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Language    string   `json:"language"`
	Code        string   `json:"code"`
	Tags        []string `json:"tags"`
	AuthorID    string   `json:"authorId"`
	ShareCode   string   `json:"shareCode,omitempty"`
	CreatedAt   int64    `json:"createdAt"`
	UpdatedAt   int64    `json:"updatedAt"`
}

// frame is the envelope the channel transport and the broker exchange on the
// websocket. Publishes to /app/... destinations are routed to room handlers;
// subscribe/unsubscribe manage the per-connection topic table.
type frame struct {
	Action  string          `json:"action"`
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const (
	actionSubscribe   = "subscribe"
	actionUnsubscribe = "unsubscribe"
	actionPublish     = "publish"
)

// Destination helpers. /app/... is the publish side, /topic/... the
// subscribe side, both keyed by the room identifier.

func joinTopic(roomID string) string        { return "/app/snippet/" + roomID + "/join" }
func leaveTopic(roomID string) string       { return "/app/snippet/" + roomID + "/leave" }
func codeSendTopic(roomID string) string    { return "/app/snippet/" + roomID + "/code" }
func typingSendTopic(roomID string) string  { return "/app/snippet/" + roomID + "/typing" }
func metadataSendTopic(roomID string) string { return "/app/snippet/" + roomID + "/metadata" }
func syncSendTopic(roomID string) string    { return "/app/snippet/" + roomID + "/sync-state" }
func usersSendTopic(roomID string) string   { return "/app/snippet/" + roomID + "/users" }

func presenceTopic(roomID string) string { return "/topic/snippet/" + roomID + "/presence" }
func codeTopic(roomID string) string     { return "/topic/snippet/" + roomID + "/code" }
func typingTopic(roomID string) string   { return "/topic/snippet/" + roomID + "/typing" }
func metadataTopic(roomID string) string { return "/topic/snippet/" + roomID + "/metadata" }
func syncTopic(roomID string) string     { return "/topic/snippet/" + roomID + "/sync" }
func usersTopic(roomID string) string    { return "/topic/snippet/" + roomID + "/users" }

// parseTopic splits a destination into its room id and trailing operation
// name, e.g. /app/snippet/ABC123/code -> ("ABC123", "code").
func parseTopic(topic string) (roomID, op string, err error) {
	parts := strings.Split(strings.TrimPrefix(topic, "/"), "/")
	if len(parts) != 4 || parts[1] != "snippet" {
		return "", "", fmt.Errorf("malformed destination %q", topic)
	}
	if parts[0] != "app" && parts[0] != "topic" {
		return "", "", fmt.Errorf("malformed destination %q", topic)
	}
	return parts[2], parts[3], nil
}
