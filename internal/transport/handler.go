package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"classrelay/internal/dispatch"
	"classrelay/internal/lifecycle"
	"classrelay/internal/membership"
	"classrelay/internal/pairing"
	"classrelay/internal/relay"
	"classrelay/internal/solo"
	"classrelay/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is delegated to the deployment's reverse proxy.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Envelope is the inbound wire frame. AckID, when set, requests an
// acknowledgment frame carrying the operation's result.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	AckID string          `json:"ackId"`
}

// Handler upgrades websocket requests, assigns connection ids, and feeds
// decoded events into the dispatch loop. It owns no classroom state itself.
type Handler struct {
	registry   *Registry
	dispatcher *dispatch.Dispatcher
	lifecycle  *lifecycle.Manager
	membership *membership.Manager
	pairing    *pairing.Engine
	relay      *relay.Relay
	solo       *solo.Engine
	logger     *zap.Logger
}

// NewHandler creates a websocket handler wired to the domain managers.
func NewHandler(
	registry *Registry,
	dispatcher *dispatch.Dispatcher,
	lifecycleMgr *lifecycle.Manager,
	membershipMgr *membership.Manager,
	pairingEngine *pairing.Engine,
	messageRelay *relay.Relay,
	soloEngine *solo.Engine,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		registry:   registry,
		dispatcher: dispatcher,
		lifecycle:  lifecycleMgr,
		membership: membershipMgr,
		pairing:    pairingEngine,
		relay:      messageRelay,
		solo:       soloEngine,
		logger:     logger,
	}
}

// HandleWebSocket upgrades the request and starts the connection's read pump.
// The broker-assigned connection id is announced to the client immediately;
// every later payload references users by this id.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	connID := uuid.NewString()
	wsConn := NewConnection(connID, conn)
	h.registry.Register(wsConn)

	h.registry.ToConnection(connID, "connected", map[string]interface{}{
		"socketId": connID,
	})

	go h.readPump(wsConn)
}

func (h *Handler) readPump(conn *Connection) {
	defer func() {
		h.registry.Unregister(conn.ID())
		_ = conn.Close()
		h.submitDisconnect(conn.ID())
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read error", zap.String("conn", conn.ID()), zap.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.logger.Warn("malformed frame", zap.String("conn", conn.ID()), zap.Error(err))
			continue
		}

		h.dispatchEvent(conn.ID(), env)
	}
}

// submitDisconnect runs the departure cascade. The connection may have been
// a teacher, a student, or neither; both guards are no-ops when the record
// is absent.
func (h *Handler) submitDisconnect(connID string) {
	err := h.dispatcher.Submit("user disconnected", func(ctx context.Context) error {
		if err := h.lifecycle.Deactivate(ctx, connID); err != nil {
			return err
		}
		if err := h.membership.Leave(connID); err != nil && !errors.Is(err, membership.ErrStudentNotFound) {
			return err
		}
		return nil
	})
	if err != nil {
		h.logger.Error("failed to submit disconnect", zap.String("conn", connID), zap.Error(err))
	}
}

func (h *Handler) dispatchEvent(connID string, env Envelope) {
	var fn func(ctx context.Context) error

	switch env.Event {

	case "activate classroom":
		var p struct {
			ClassroomName string `json:"classroomName"`
		}
		if !h.decode(connID, env, &p) {
			return
		}
		fn = func(ctx context.Context) error {
			return h.lifecycle.Activate(p.ClassroomName, connID)
		}

	case "deactivate classroom":
		fn = func(ctx context.Context) error {
			return h.lifecycle.Deactivate(ctx, connID)
		}

	case "user disconnected":
		h.submitDisconnect(connID)
		return

	case "new student entered":
		var p struct {
			RealName      string `json:"student"`
			ClassroomName string `json:"classroom"`
		}
		if !h.decode(connID, env, &p) {
			return
		}
		fn = func(ctx context.Context) error {
			return h.membership.Join(p.RealName, p.ClassroomName, connID)
		}

	case "pair students":
		var p struct {
			StudentPairs []pairing.Pair `json:"studentPairs"`
		}
		if !h.decode(connID, env, &p) {
			return
		}
		fn = func(ctx context.Context) error {
			return h.pairing.PairStudents(p.StudentPairs, connID)
		}

	case "remove student from classroom":
		var p struct {
			SocketID string `json:"socketId"`
		}
		if !h.decode(connID, env, &p) {
			return
		}
		fn = func(ctx context.Context) error {
			err := h.membership.Remove(p.SocketID)
			if errors.Is(err, membership.ErrStudentNotFound) {
				return nil
			}
			return err
		}

	case "unpair student chat":
		var p struct {
			ChatID   string             `json:"chatId"`
			Student1 pairing.StudentRef `json:"student1"`
			Student2 pairing.StudentRef `json:"student2"`
		}
		if !h.decode(connID, env, &p) {
			return
		}
		fn = func(ctx context.Context) error {
			return h.pairing.UnpairChat(p.ChatID, p.Student1, p.Student2, connID)
		}

	case "student sent message":
		var p struct {
			Message string `json:"message"`
		}
		if !h.decode(connID, env, &p) {
			return
		}
		fn = func(ctx context.Context) error {
			err := h.relay.StudentMessage(p.Message, connID)
			if errors.Is(err, relay.ErrNotInPairedChat) {
				h.registry.Ack(connID, env.AckID, map[string]interface{}{
					"studentNotInPairedChat": true,
				})
				return nil
			}
			return err
		}

	case "teacher sent message":
		var p struct {
			Message string `json:"message"`
			ChatID  string `json:"chatId"`
		}
		if !h.decode(connID, env, &p) {
			return
		}
		fn = func(ctx context.Context) error {
			return h.relay.TeacherMessage(p.Message, connID, p.ChatID)
		}

	case "student typing":
		fn = func(ctx context.Context) error {
			h.relay.Typing(connID)
			return nil
		}

	case "solo mode: start chat":
		var p struct {
			StudentSocketID string `json:"studentSocketId"`
			CharacterName   string `json:"characterName"`
		}
		if !h.decode(connID, env, &p) {
			return
		}
		fn = func(ctx context.Context) error {
			result, err := h.solo.Start(p.StudentSocketID, p.CharacterName, connID)
			if err != nil {
				return err
			}
			h.registry.Ack(connID, env.AckID, result)
			return nil
		}

	case "solo mode: student sent message":
		var p struct {
			Message string `json:"message"`
		}
		if !h.decode(connID, env, &p) {
			return
		}
		ackID := env.AckID
		fn = func(ctx context.Context) error {
			err := h.solo.StudentMessage(p.Message, connID, func(replies []types.ChatMessage) {
				h.registry.Ack(connID, ackID, map[string]interface{}{
					"chatbotReplyMessages": replies,
				})
			})
			if errors.Is(err, solo.ErrNotInSoloChat) || errors.Is(err, solo.ErrSoloChatNotFound) {
				h.registry.Ack(connID, ackID, map[string]interface{}{
					"studentNotInSoloChat": true,
				})
				return nil
			}
			return err
		}

	case "solo mode: teacher sent message":
		var p struct {
			Message string `json:"message"`
			ChatID  string `json:"chatId"`
		}
		if !h.decode(connID, env, &p) {
			return
		}
		fn = func(ctx context.Context) error {
			return h.solo.TeacherMessage(p.Message, connID, p.ChatID)
		}

	case "solo mode: end chat":
		var p struct {
			ChatID string `json:"chatId"`
		}
		if !h.decode(connID, env, &p) {
			return
		}
		fn = func(ctx context.Context) error {
			return h.solo.End(connID, p.ChatID)
		}

	default:
		h.logger.Debug("unknown event", zap.String("event", env.Event), zap.String("conn", connID))
		return
	}

	if err := h.dispatcher.Submit(env.Event, fn); err != nil {
		h.logger.Error("failed to submit event",
			zap.String("event", env.Event), zap.String("conn", connID), zap.Error(err))
	}
}

// decode unmarshals the frame payload, logging and dropping the frame on
// failure.
func (h *Handler) decode(connID string, env Envelope, v interface{}) bool {
	if len(env.Data) == 0 {
		return true
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		h.logger.Warn("malformed payload",
			zap.String("event", env.Event), zap.String("conn", connID), zap.Error(err))
		return false
	}
	return true
}
