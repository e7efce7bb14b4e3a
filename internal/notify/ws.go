// README: Registry of live WebSocket sessions keyed by user id.
package notify

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"

	"hail/internal/types"
)

var ErrNoSession = errors.New("no live session for user")

type wsSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSession) send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[types.ID]*wsSession
}

func NewWSRegistry() *WSRegistry {
	return &WSRegistry{sessions: make(map[types.ID]*wsSession)}
}

func (r *WSRegistry) Add(userID types.ID, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[userID] = &wsSession{conn: conn}
}

func (r *WSRegistry) Remove(userID types.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, userID)
}

func (r *WSRegistry) Send(userID types.ID, msg Message) error {
	r.mu.RLock()
	s, ok := r.sessions[userID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	return s.send(msg)
}
