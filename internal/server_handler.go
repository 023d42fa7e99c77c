package internal

import (
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWS upgrades the request and starts the read and write pumps. Identity
// rides in as query parameters; room membership happens later through
// subscribe and join frames on the socket.
func (s *Server) ServeWS(writer http.ResponseWriter, request *http.Request) {
	userID := strings.TrimSpace(request.URL.Query().Get("userId"))
	username := strings.TrimSpace(request.URL.Query().Get("username"))
	if userID == "" {
		http.Error(writer, "missing userId query param", http.StatusBadRequest)
		return
	}
	if username == "" {
		username = "anonymous"
	}
	websocketConn, err := upgrader.Upgrade(writer, request, nil)
	if err != nil {
		log.Printf("upgrade error: %v", err)
		return
	}

	client := newWSClient(s, websocketConn, userID, username)
	s.metrics.IncConn()

	go client.writePump()
	go client.readPump()
}
