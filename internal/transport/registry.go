package transport

import (
	"sync"

	"go.uber.org/zap"
)

// Conn is the slice of Connection the registry needs. Tests substitute
// in-memory fakes.
type Conn interface {
	ID() string
	WriteJSON(v interface{}) error
	Close() error
}

// envelope is the outbound wire frame.
type envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
	AckID string      `json:"ackId,omitempty"`
}

// Registry tracks live connections and room membership and implements
// interfaces.Sender on top of them. Delivery is best effort: a failed or
// missing connection is logged and skipped, never surfaced to handlers.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]Conn            // connID -> connection
	rooms       map[string]map[string]Conn // roomID -> connID -> connection
	memberships map[string]map[string]bool // connID -> roomID set, for cleanup
	logger      *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		connections: make(map[string]Conn),
		rooms:       make(map[string]map[string]Conn),
		memberships: make(map[string]map[string]bool),
		logger:      logger,
	}
}

// Register tracks a connection. An existing connection under the same id is
// closed asynchronously and replaced.
func (r *Registry) Register(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.connections[conn.ID()]; ok {
		go func() { _ = existing.Close() }()
	}
	r.connections[conn.ID()] = conn
}

// Unregister drops a connection and clears its room memberships. Idempotent.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for roomID := range r.memberships[connID] {
		r.removeFromRoom(roomID, connID)
	}
	delete(r.memberships, connID)
	delete(r.connections, connID)
}

// JoinRoom adds a connection to a room. Unknown connections are ignored.
func (r *Registry) JoinRoom(connID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connections[connID]
	if !ok {
		r.logger.Debug("join room for unknown connection",
			zap.String("room", roomID), zap.String("conn", connID))
		return
	}

	if r.rooms[roomID] == nil {
		r.rooms[roomID] = make(map[string]Conn)
	}
	r.rooms[roomID][connID] = conn

	if r.memberships[connID] == nil {
		r.memberships[connID] = make(map[string]bool)
	}
	r.memberships[connID][roomID] = true
}

// LeaveRoom removes a connection from a room. Idempotent.
func (r *Registry) LeaveRoom(connID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeFromRoom(roomID, connID)
	if members := r.memberships[connID]; members != nil {
		delete(members, roomID)
		if len(members) == 0 {
			delete(r.memberships, connID)
		}
	}
}

// removeFromRoom requires r.mu held.
func (r *Registry) removeFromRoom(roomID, connID string) {
	if room, ok := r.rooms[roomID]; ok {
		delete(room, connID)
		if len(room) == 0 {
			delete(r.rooms, roomID)
		}
	}
}

// ToConnection sends an event to a single connection.
func (r *Registry) ToConnection(connID, event string, payload interface{}) {
	r.mu.RLock()
	conn, ok := r.connections[connID]
	r.mu.RUnlock()

	if !ok {
		r.logger.Debug("send to unknown connection",
			zap.String("event", event), zap.String("conn", connID))
		return
	}
	r.send(conn, envelope{Event: event, Data: payload})
}

// ToRoom sends an event to every member of a room.
func (r *Registry) ToRoom(roomID, event string, payload interface{}) {
	r.ToRoomExcept(roomID, "", event, payload)
}

// ToRoomExcept sends an event to every room member except one connection.
func (r *Registry) ToRoomExcept(roomID, exceptConnID, event string, payload interface{}) {
	r.mu.RLock()
	var targets []Conn
	for connID, conn := range r.rooms[roomID] {
		if connID == exceptConnID {
			continue
		}
		targets = append(targets, conn)
	}
	r.mu.RUnlock()

	for _, conn := range targets {
		r.send(conn, envelope{Event: event, Data: payload})
	}
}

// Ack sends an acknowledgment frame for an inbound request.
func (r *Registry) Ack(connID, ackID string, payload interface{}) {
	r.mu.RLock()
	conn, ok := r.connections[connID]
	r.mu.RUnlock()

	if !ok {
		return
	}
	r.send(conn, envelope{Event: "ack", AckID: ackID, Data: payload})
}

func (r *Registry) send(conn Conn, env envelope) {
	if err := conn.WriteJSON(env); err != nil {
		r.logger.Debug("write failed",
			zap.String("event", env.Event), zap.String("conn", conn.ID()), zap.Error(err))
	}
}

// Stats reports registry size for the health endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"connections": len(r.connections),
		"rooms":       len(r.rooms),
	}
}
