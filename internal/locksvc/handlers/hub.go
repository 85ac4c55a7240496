package handlers

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const writeWait = 5 * time.Second

// Hub fans access events out to every open websocket.
type Hub struct {
	connMap sync.Map // socketId -> *websocket.Conn
	writeMu sync.Mutex
}

func NewHub() *Hub {
	return &Hub{}
}

func (h *Hub) StoreConnection(socketId string, conn *websocket.Conn) {
	h.connMap.Store(socketId, conn)
}

func (h *Hub) HandleDisconnect(socketId string) {
	h.connMap.Delete(socketId)
}

func (h *Hub) Count() int {
	n := 0
	h.connMap.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Broadcast sends v to every client; a client that cannot be written to is dropped.
func (h *Hub) Broadcast(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Errorf("hub: marshal: %s", err)
		return
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	h.connMap.Range(func(key, value any) bool {
		conn := value.(*websocket.Conn)
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Warnf("hub: dropping socket %s: %s", key, err)
			conn.Close()
			h.connMap.Delete(key)
		}
		return true
	})
}
