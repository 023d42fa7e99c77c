package internal

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Member is one participant in a room's roster, in join order.
type Member struct {
	UserID   string
	Username string
	JoinedAt time.Time
}

// roomFrame is one outbound message addressed to a /topic destination.
type roomFrame struct {
	topic string
	data  []byte
}

// Room fans messages out to the connections subscribed in it and holds the
// collaboration state the broker owns: the roster, the owner, who is typing
// and the last metadata seen.
type Room struct {
	key        string
	clients    map[*wsClient]bool
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan roomFrame
	mutex      sync.RWMutex

	stateMu   sync.RWMutex
	members   []Member
	ownerID   string
	typing    map[string]string
	meta      Metadata
	metaKnown bool
}

func newRoom(key string) *Room {
	return &Room{
		key:        key,
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan roomFrame, 256),
		typing:     make(map[string]string),
	}
}

func (room *Room) size() int {
	room.mutex.RLock()
	defer room.mutex.RUnlock()
	return len(room.clients)
}

func (room *Room) run() {
	for {
		select {
		case client := <-room.register:
			room.mutex.Lock()
			room.clients[client] = true
			room.mutex.Unlock()
		case client := <-room.unregister:
			room.mutex.Lock()
			delete(room.clients, client)
			room.mutex.Unlock()
		case message := <-room.broadcast:
			// Fan out to every subscribed connection. A client whose send
			// buffer is full is dropped; its pumps handle the cleanup.
			room.mutex.Lock()
			for client := range room.clients {
				if !client.subscribedTo(message.topic) {
					continue
				}
				select {
				case client.send <- message.data:
				default:
					client.closeSend()
					delete(room.clients, client)
				}
			}
			room.mutex.Unlock()
		}
	}
}

// addMember appends to the roster unless the user is already present.
// Rejoins keep the original join order.
func (room *Room) addMember(userID, username string) bool {
	room.stateMu.Lock()
	defer room.stateMu.Unlock()
	for _, m := range room.members {
		if m.UserID == userID {
			return false
		}
	}
	room.members = append(room.members, Member{UserID: userID, Username: username, JoinedAt: time.Now()})
	if room.ownerID == "" {
		// First joiner owns a room nobody has claimed through the store.
		room.ownerID = userID
	}
	return true
}

func (room *Room) removeMember(userID string) bool {
	room.stateMu.Lock()
	defer room.stateMu.Unlock()
	for i, m := range room.members {
		if m.UserID == userID {
			room.members = append(room.members[:i], room.members[i+1:]...)
			delete(room.typing, userID)
			return true
		}
	}
	return false
}

func (room *Room) hasMember(userID string) bool {
	room.stateMu.RLock()
	defer room.stateMu.RUnlock()
	for _, m := range room.members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// seedOwner records the snippet author as the room owner and its stored
// metadata as the initial truth. Called once when a persisted room spins up.
func (room *Room) seedOwner(ownerID string, meta Metadata) {
	room.stateMu.Lock()
	defer room.stateMu.Unlock()
	room.ownerID = ownerID
	room.meta = meta
	room.metaKnown = true
}

// snapshotParticipants renders the roster in join order with the owner flag
// and live typing bit folded in.
func (room *Room) snapshotParticipants() []Participant {
	room.stateMu.RLock()
	defer room.stateMu.RUnlock()
	users := make([]Participant, 0, len(room.members))
	for _, m := range room.members {
		_, isTyping := room.typing[m.UserID]
		users = append(users, Participant{
			UserID:   m.UserID,
			Username: m.Username,
			JoinedAt: m.JoinedAt.UnixMilli(),
			Owner:    m.UserID == room.ownerID,
			IsTyping: isTyping,
		})
	}
	return users
}

// setTyping flips a member's typing bit. Usernames come from the roster so
// the indicator payload stays a bare userId plus flag on the wire.
func (room *Room) setTyping(userID string, typing bool) {
	room.stateMu.Lock()
	defer room.stateMu.Unlock()
	if !typing {
		delete(room.typing, userID)
		return
	}
	for _, m := range room.members {
		if m.UserID == userID {
			room.typing[userID] = m.Username
			return
		}
	}
}

func (room *Room) typingUsers() []TypingUser {
	room.stateMu.RLock()
	defer room.stateMu.RUnlock()
	users := make([]TypingUser, 0, len(room.typing))
	// Roster order keeps the aggregate stable across broadcasts.
	for _, m := range room.members {
		if username, ok := room.typing[m.UserID]; ok {
			users = append(users, TypingUser{UserID: m.UserID, Username: username})
		}
	}
	return users
}

// applyMetadata folds a sparse patch into the room's cached metadata. Only
// keys present in the patch change.
func (room *Room) applyMetadata(msg MetadataUpdateMessage) {
	room.stateMu.Lock()
	defer room.stateMu.Unlock()
	if msg.Title != nil {
		room.meta.Title = *msg.Title
	}
	if msg.Description != nil {
		room.meta.Description = *msg.Description
	}
	if msg.Language != nil {
		room.meta.Language = *msg.Language
	}
	if msg.Tags != nil {
		room.meta.Tags = append([]string(nil), (*msg.Tags)...)
	}
	room.metaKnown = true
}

func (room *Room) metadata() (Metadata, bool) {
	room.stateMu.RLock()
	defer room.stateMu.RUnlock()
	meta := room.meta
	meta.Tags = append([]string(nil), room.meta.Tags...)
	return meta, room.metaKnown
}

type wsClient struct {
	server *Server
	conn   *websocket.Conn
	send   chan []byte

	userID   string
	username string

	mu       sync.Mutex
	topics   map[string]bool
	rooms    map[string]*Room
	sendDone bool

	messageTimes []time.Time
	rateMu       sync.Mutex
}

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	maxMsgSize      = 65536
	rateLimitWindow = 1 * time.Second
	rateLimitBurst  = 20
)

func newWSClient(server *Server, conn *websocket.Conn, userID, username string) *wsClient {
	return &wsClient{
		server:   server,
		conn:     conn,
		send:     make(chan []byte, 256),
		userID:   userID,
		username: username,
		topics:   make(map[string]bool),
		rooms:    make(map[string]*Room),
	}
}

func (client *wsClient) subscribedTo(topic string) bool {
	client.mu.Lock()
	defer client.mu.Unlock()
	return client.topics[topic]
}

// closeSend closes the send channel exactly once. Both the room fanout and
// the disconnect path can race to drop a client.
func (client *wsClient) closeSend() {
	client.mu.Lock()
	defer client.mu.Unlock()
	if !client.sendDone {
		client.sendDone = true
		close(client.send)
	}
}

func (client *wsClient) readPump() {
	defer func() {
		client.server.handleDisconnect(client)
		client.conn.Close()
	}()
	client.conn.SetReadLimit(maxMsgSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := client.conn.ReadMessage()
		if err != nil {
			// Normal close or read error; deferred cleanup runs the
			// implicit leave.
			break
		}
		var f frame
		if err := json.Unmarshal(payload, &f); err != nil {
			continue
		}
		client.server.handleFrame(client, f)
	}
}

func (client *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()
	for {
		select {
		case message, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// allowMessage is a per-connection sliding-window limiter for publish frames.
func (client *wsClient) allowMessage(now time.Time) bool {
	client.rateMu.Lock()
	defer client.rateMu.Unlock()
	cutoff := now.Add(-rateLimitWindow)
	idx := 0
	for _, ts := range client.messageTimes {
		if ts.After(cutoff) {
			client.messageTimes[idx] = ts
			idx++
		}
	}
	client.messageTimes = client.messageTimes[:idx]
	if len(client.messageTimes) >= rateLimitBurst {
		return false
	}
	client.messageTimes = append(client.messageTimes, now)
	return true
}
