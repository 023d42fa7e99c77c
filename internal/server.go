package internal

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"codeshare/internal/storage"
)

// Server routes websocket frames between collaborators and owns the REST
// surface for snippets. Room state lives in the hub; durable snippets in the
// store.
type Server struct {
	hub        *Hub
	store      *storage.Store
	metrics    *Metrics
	apiLimiter *RateLimiter
}

func NewServer(store *storage.Store) *Server {
	return &Server{
		hub:        NewHub(),
		store:      store,
		metrics:    NewMetrics(),
		apiLimiter: NewRateLimiter(30, time.Minute),
	}
}

func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) Metrics() *Metrics { return s.metrics }

// handleFrame dispatches one inbound frame from a connection.
func (s *Server) handleFrame(client *wsClient, f frame) {
	switch f.Action {
	case actionSubscribe:
		s.handleSubscribe(client, f.Topic)
	case actionUnsubscribe:
		s.handleUnsubscribe(client, f.Topic)
	case actionPublish:
		s.handlePublish(client, f.Topic, f.Payload)
	default:
		log.Printf("server: unknown action %q from %s", f.Action, client.userID)
	}
}

func (s *Server) handleSubscribe(client *wsClient, topic string) {
	if !strings.HasPrefix(topic, "/topic/") {
		log.Printf("server: refusing subscribe to %q", topic)
		return
	}
	roomID, _, err := parseTopic(topic)
	if err != nil {
		log.Printf("server: %v", err)
		return
	}
	room, created := s.hub.getOrCreateRoom(roomID)
	if created {
		s.seedRoom(room, roomID)
	}
	client.mu.Lock()
	client.topics[topic] = true
	_, inRoom := client.rooms[roomID]
	if !inRoom {
		client.rooms[roomID] = room
	}
	client.mu.Unlock()
	if !inRoom {
		room.register <- client
	}
}

func (s *Server) handleUnsubscribe(client *wsClient, topic string) {
	roomID, _, err := parseTopic(topic)
	if err != nil {
		return
	}
	client.mu.Lock()
	delete(client.topics, topic)
	remaining := 0
	for t := range client.topics {
		if id, _, err := parseTopic(t); err == nil && id == roomID {
			remaining++
		}
	}
	room := client.rooms[roomID]
	if remaining == 0 {
		delete(client.rooms, roomID)
	}
	client.mu.Unlock()
	if remaining == 0 && room != nil {
		room.unregister <- client
		s.hub.deleteRoomIfEmpty(roomID)
	}
}

func (s *Server) handlePublish(client *wsClient, topic string, payload json.RawMessage) {
	if !strings.HasPrefix(topic, "/app/") {
		log.Printf("server: refusing publish to %q", topic)
		return
	}
	roomID, op, err := parseTopic(topic)
	if err != nil {
		log.Printf("server: %v", err)
		return
	}
	if !client.allowMessage(time.Now()) {
		log.Printf("server: rate limited %s in room %s", client.userID, roomID)
		return
	}
	room, created := s.hub.getOrCreateRoom(roomID)
	if created {
		s.seedRoom(room, roomID)
	}

	switch op {
	case "join":
		s.handleJoin(client, room, payload)
	case "leave":
		s.handleLeave(room, payload)
	case "code":
		s.metrics.IncCodeChange()
		s.relay(room, codeTopic(room.key), payload)
	case "typing":
		s.handleTyping(room, payload)
	case "metadata":
		s.handleMetadata(room, payload)
	case "sync-state":
		// Requests and responses share one topic; clients discriminate on
		// the type field.
		s.relay(room, syncTopic(room.key), payload)
	case "users":
		users := room.snapshotParticipants()
		s.publish(room, usersTopic(room.key), ActiveUsersMessage{Users: users, Count: len(users)})
	default:
		log.Printf("server: unknown operation %q", op)
	}
}

// seedRoom loads the owning snippet for rooms that map to a stored one, so
// presence can carry the author and metadata from the first broadcast.
func (s *Server) seedRoom(room *Room, roomID string) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	snippet, err := s.store.GetSnippet(ctx, roomID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Printf("server: seed room %s: %v", roomID, err)
		}
		return
	}
	room.seedOwner(snippet.AuthorID, Metadata{
		Title:       snippet.Title,
		Description: snippet.Description,
		Language:    snippet.Language,
		Tags:        snippet.Tags,
	})
}

func (s *Server) handleJoin(client *wsClient, room *Room, payload json.RawMessage) {
	var req JoinRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		log.Printf("server: malformed join: %v", err)
		return
	}
	if req.UserID == "" {
		req.UserID = client.userID
	}
	if req.Username == "" {
		req.Username = client.username
	}
	room.addMember(req.UserID, req.Username)
	s.metrics.IncJoin()
	s.broadcastPresence(room, presenceJoined, req.UserID, req.Username)
}

func (s *Server) handleLeave(room *Room, payload json.RawMessage) {
	var req LeaveRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		log.Printf("server: malformed leave: %v", err)
		return
	}
	if !room.removeMember(req.UserID) {
		return
	}
	s.broadcastPresence(room, presenceLeft, req.UserID, "")
}

func (s *Server) handleTyping(room *Room, payload json.RawMessage) {
	var msg TypingIndicatorMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("server: malformed typing: %v", err)
		return
	}
	room.setTyping(msg.UserID, msg.IsTyping)
	s.publish(room, typingTopic(room.key), TypingStatusMessage{TypingUsers: room.typingUsers()})
}

func (s *Server) handleMetadata(room *Room, payload json.RawMessage) {
	var msg MetadataUpdateMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("server: malformed metadata: %v", err)
		return
	}
	room.applyMetadata(msg)
	// The patch goes out as received so absent keys stay absent for every
	// receiver.
	s.relay(room, metadataTopic(room.key), payload)
}

// broadcastPresence sends the full roster snapshot for one membership event.
// Owner metadata rides along only when the room has any; receivers tolerate
// its absence.
func (s *Server) broadcastPresence(room *Room, eventType, userID, username string) {
	msg := PresenceMessage{
		Type:        eventType,
		UserID:      userID,
		Username:    username,
		ActiveUsers: room.snapshotParticipants(),
	}
	if meta, known := room.metadata(); known {
		msg.SnippetTitle = meta.Title
		msg.OwnerTitle = &meta.Title
		msg.OwnerDescription = &meta.Description
		msg.OwnerLanguage = &meta.Language
		msg.OwnerTags = meta.Tags
	}
	s.publish(room, presenceTopic(room.key), msg)
}

func (s *Server) publish(room *Room, topic string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("server: marshal for %s: %v", topic, err)
		return
	}
	s.relay(room, topic, raw)
}

func (s *Server) relay(room *Room, topic string, payload json.RawMessage) {
	data, err := json.Marshal(frame{Topic: topic, Payload: payload})
	if err != nil {
		return
	}
	select {
	case room.broadcast <- roomFrame{topic: topic, data: data}:
	default:
		log.Printf("server: room %s broadcast queue full, dropping %s", room.key, topic)
	}
}

// handleDisconnect runs the implicit leave for a dead connection: the user
// leaves every room it was subscribed in, with a presence broadcast each.
func (s *Server) handleDisconnect(client *wsClient) {
	client.mu.Lock()
	rooms := make(map[string]*Room, len(client.rooms))
	for id, room := range client.rooms {
		rooms[id] = room
	}
	client.rooms = make(map[string]*Room)
	client.topics = make(map[string]bool)
	client.mu.Unlock()

	for id, room := range rooms {
		if room.removeMember(client.userID) {
			s.broadcastPresence(room, presenceLeft, client.userID, client.username)
		}
		room.unregister <- client
		s.hub.deleteRoomIfEmpty(id)
	}
	client.closeSend()
	s.metrics.DecConn()
}
