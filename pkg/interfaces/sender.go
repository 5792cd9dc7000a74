package interfaces

// Sender delivers outbound events to connections and named rooms. It is the
// boundary to the real-time transport: delivery is best effort and ordered
// per connection, and implementations must be safe for concurrent use.
// Domain records only ever hold connection ids; the Sender owns the mapping
// from id to a live, send-capable handle.
type Sender interface {
	// ToConnection emits an event to a single connection. Unknown ids are
	// ignored: the recipient may have disconnected already.
	ToConnection(connID, event string, payload interface{})

	// ToRoom emits an event to every member of a room.
	ToRoom(roomID, event string, payload interface{})

	// ToRoomExcept emits an event to every room member except one,
	// typically the sender of the message being relayed.
	ToRoomExcept(roomID, exceptConnID, event string, payload interface{})

	// JoinRoom adds a connection to a room, creating the room as needed.
	JoinRoom(connID, roomID string)

	// LeaveRoom removes a connection from a room.
	LeaveRoom(connID, roomID string)
}
